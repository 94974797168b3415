package cloudapi

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/BTreeMap/TicketPipe/internal/models"
)

// SignatureHeader carries the HMAC-SHA256 of the webhook body.
const SignatureHeader = "X-Hub-Signature-256"

var (
	ErrMissingSignature   = errors.New("missing or malformed webhook signature")
	ErrInvalidSignature   = errors.New("invalid webhook signature")
	ErrVerificationFailed = errors.New("webhook verification failed")
)

// VerifySignature checks header ("sha256=<hex>") against the HMAC of body.
func VerifySignature(secret string, body []byte, header string) error {
	sig, ok := strings.CutPrefix(header, "sha256=")
	if !ok || sig == "" {
		return ErrMissingSignature
	}
	got, err := hex.DecodeString(sig)
	if err != nil {
		return ErrInvalidSignature
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	if !hmac.Equal(mac.Sum(nil), got) {
		return ErrInvalidSignature
	}
	return nil
}

// Sign returns the header value Meta would send for body. Useful for tests
// and local tooling.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

// VerifyChallenge answers the GET subscription handshake and returns the
// challenge to echo.
func VerifyChallenge(query url.Values, verifyToken string) (string, error) {
	mode := query.Get("hub.mode")
	token := query.Get("hub.verify_token")
	if mode != "subscribe" || verifyToken == "" || token != verifyToken {
		return "", ErrVerificationFailed
	}
	return query.Get("hub.challenge"), nil
}

// Status is a delivery status callback for an outbound message.
type Status struct {
	ID          string `json:"id"`
	Status      string `json:"status"`
	RecipientID string `json:"recipient_id"`
}

// Event is everything a single webhook delivery carried.
type Event struct {
	Messages []models.InboundMessage
	Statuses []Status
	// Skipped counts messages dropped for an invalid sender id.
	Skipped int
}

type payload struct {
	Object string `json:"object"`
	Entry  []struct {
		Changes []struct {
			Value struct {
				Contacts []struct {
					WaID    string `json:"wa_id"`
					Profile struct {
						Name string `json:"name"`
					} `json:"profile"`
				} `json:"contacts"`
				Messages []rawMessage `json:"messages"`
				Statuses []Status     `json:"statuses"`
			} `json:"value"`
		} `json:"changes"`
	} `json:"entry"`
}

type reply struct {
	ID    string `json:"id"`
	Title string `json:"title"`
}

type rawMessage struct {
	ID        string `json:"id"`
	From      string `json:"from"`
	Timestamp string `json:"timestamp"`
	Type      string `json:"type"`
	Text      struct {
		Body string `json:"body"`
	} `json:"text"`
	Interactive struct {
		Type        string `json:"type"`
		ListReply   reply  `json:"list_reply"`
		ButtonReply reply  `json:"button_reply"`
	} `json:"interactive"`
}

// ParseWebhook decodes a webhook body into normalized inbound messages and
// status callbacks. Messages whose sender id is not numeric are skipped.
func ParseWebhook(body []byte) (Event, error) {
	var p payload
	if err := json.Unmarshal(body, &p); err != nil {
		return Event{}, fmt.Errorf("invalid webhook payload: %w", err)
	}

	var ev Event
	for _, entry := range p.Entry {
		for _, change := range entry.Changes {
			v := change.Value
			names := make(map[string]string, len(v.Contacts))
			fallbackID := ""
			for _, c := range v.Contacts {
				names[c.WaID] = c.Profile.Name
				if fallbackID == "" {
					fallbackID = c.WaID
				}
			}
			for _, raw := range v.Messages {
				from := raw.From
				if from == "" {
					from = fallbackID
				}
				if err := models.ValidateUserID(from); err != nil {
					slog.Warn("cloudapi.ParseWebhook: skipping message with invalid sender", "error", err)
					ev.Skipped++
					continue
				}
				msg := toInbound(raw)
				msg.From = from
				msg.Name = names[from]
				msg.Normalize()
				ev.Messages = append(ev.Messages, msg)
			}
			ev.Statuses = append(ev.Statuses, v.Statuses...)
		}
	}
	return ev, nil
}

func toInbound(raw rawMessage) models.InboundMessage {
	msg := models.InboundMessage{ID: raw.ID}
	if secs, err := strconv.ParseInt(raw.Timestamp, 10, 64); err == nil {
		msg.Timestamp = time.Unix(secs, 0)
	}
	switch raw.Type {
	case "text":
		msg.Type = models.MessageTypeText
		msg.Body = raw.Text.Body
	case "interactive":
		switch raw.Interactive.Type {
		case "list_reply":
			msg.Type = models.MessageTypeInteractiveList
			msg.Body = raw.Interactive.ListReply.Title
			msg.SelectionID = raw.Interactive.ListReply.ID
		case "button_reply":
			msg.Type = models.MessageTypeInteractiveButton
			msg.Body = raw.Interactive.ButtonReply.Title
			msg.SelectionID = raw.Interactive.ButtonReply.ID
		default:
			msg.Type = models.MessageTypeUnknown
		}
	case "image", "audio", "document", "video", "location":
		msg.Type = models.MessageType(raw.Type)
	default:
		msg.Type = models.MessageTypeUnknown
	}
	return msg
}
