// Package models defines the core data structures for TicketPipe.
//
// It includes inbound message events, interactive list payloads and the
// ticket and lead requests handed to the CRM, which are shared across modules.
package models

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// MessageType identifies the kind of inbound message received from a transport.
type MessageType string

const (
	// MessageTypeText is a plain text message.
	MessageTypeText MessageType = "text"
	// MessageTypeInteractiveList is a reply to an interactive list.
	MessageTypeInteractiveList MessageType = "interactive_list"
	// MessageTypeInteractiveButton is a reply to a quick-reply button.
	MessageTypeInteractiveButton MessageType = "interactive_button"
	// MessageTypeImage is an image attachment.
	MessageTypeImage MessageType = "image"
	// MessageTypeAudio is a voice note or audio attachment.
	MessageTypeAudio MessageType = "audio"
	// MessageTypeDocument is a document attachment.
	MessageTypeDocument MessageType = "document"
	// MessageTypeVideo is a video attachment.
	MessageTypeVideo MessageType = "video"
	// MessageTypeLocation is a shared location.
	MessageTypeLocation MessageType = "location"
	// MessageTypeUnknown is anything the transport could not classify.
	MessageTypeUnknown MessageType = "unknown"
)

// Validation constants for inbound events.
const (
	// MaxInboundTextLength caps the text accepted from a single inbound message.
	MaxInboundTextLength = 1000
	// DefaultDisplayName is used when the transport does not report a profile name.
	DefaultDisplayName = "Usuario"
)

// Error variables for better error handling and testability
var (
	ErrEmptyRecipient    = errors.New("recipient cannot be empty")
	ErrInvalidUserID     = errors.New("user id must be numeric")
	ErrEmptyContactName  = errors.New("contact name is required")
	ErrEmptyContactPhone = errors.New("contact phone is required")
	ErrEmptyContactEmail = errors.New("contact email is required")
	ErrNegativeSize      = errors.New("size estimate cannot be negative")
)

// IsInteractive reports whether the message carries a structured selection.
func (t MessageType) IsInteractive() bool {
	return t == MessageTypeInteractiveList || t == MessageTypeInteractiveButton
}

// IsSupported reports whether the conversation router can interpret the message.
func (t MessageType) IsSupported() bool {
	return t == MessageTypeText || t.IsInteractive()
}

// InboundMessage is a single normalized message event received from any transport.
type InboundMessage struct {
	ID          string      `json:"id"`                     // platform message id, used for dedup
	From        string      `json:"from"`                   // stable user id (WhatsApp wa_id)
	Name        string      `json:"name"`                   // profile display name
	Type        MessageType `json:"type"`                   // message kind
	Body        string      `json:"body"`                   // text, or the selected row/button title
	SelectionID string      `json:"selection_id,omitempty"` // selected row/button id for interactive replies
	Timestamp   time.Time   `json:"timestamp"`              // platform timestamp
}

// Normalize applies the inbound limits: default display name and truncated text.
func (m *InboundMessage) Normalize() {
	m.Name = strings.TrimSpace(m.Name)
	if m.Name == "" {
		m.Name = DefaultDisplayName
	}
	if runes := []rune(m.Body); len(runes) > MaxInboundTextLength {
		m.Body = string(runes[:MaxInboundTextLength])
	}
	if m.Type == "" {
		m.Type = MessageTypeUnknown
	}
	if m.Timestamp.IsZero() {
		m.Timestamp = time.Now()
	}
}

// ValidateUserID checks that a WhatsApp user id is a non-empty string of digits.
func ValidateUserID(id string) error {
	if id == "" {
		return ErrEmptyRecipient
	}
	for _, r := range id {
		if r < '0' || r > '9' {
			return ErrInvalidUserID
		}
	}
	return nil
}

// ListRow is one selectable row of an interactive list.
type ListRow struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
}

// ListSection groups rows under a title.
type ListSection struct {
	Title string    `json:"title"`
	Rows  []ListRow `json:"rows"`
}

// ListMessage is an interactive list prompt.
type ListMessage struct {
	Header   string        `json:"header"`
	Body     string        `json:"body"`
	Footer   string        `json:"footer,omitempty"`
	Button   string        `json:"button"`
	Sections []ListSection `json:"sections"`
}

// PlainText renders the list as numbered text for transports without list support.
func (l ListMessage) PlainText() string {
	var b strings.Builder
	if l.Header != "" {
		b.WriteString("*" + l.Header + "*\n")
	}
	b.WriteString(l.Body)
	n := 1
	for _, section := range l.Sections {
		b.WriteString("\n")
		for _, row := range section.Rows {
			fmt.Fprintf(&b, "\n%d. %s", n, row.Title)
			n++
		}
	}
	if l.Footer != "" {
		b.WriteString("\n\n_" + l.Footer + "_")
	}
	return b.String()
}

// TicketRequest carries the fields collected by the ticket wizard.
type TicketRequest struct {
	CustomerName  string `json:"customer_name"`
	CustomerPhone string `json:"customer_phone"`
	CustomerEmail string `json:"customer_email"`
	Subject       string `json:"subject"`
	Description   string `json:"description"`
	CountryID     int    `json:"country_id,omitempty"`
	SerialNo      string `json:"serial_no,omitempty"`
	SegmentID     int    `json:"segment_id,omitempty"`
}

// LeadRequest carries a sales lead for the CRM.
type LeadRequest struct {
	ContactName string  `json:"contact_name"`
	Phone       string  `json:"phone"`
	Email       string  `json:"email"`
	CountryID   int     `json:"country_id,omitempty"`
	CountryName string  `json:"country_name,omitempty"`
	SegmentID   int     `json:"segment_id,omitempty"`
	SizeMW      float64 `json:"size_mw,omitempty"`
}

// Validate checks the fields the CRM requires for a lead.
func (l LeadRequest) Validate() error {
	if strings.TrimSpace(l.ContactName) == "" {
		return ErrEmptyContactName
	}
	if strings.TrimSpace(l.Phone) == "" {
		return ErrEmptyContactPhone
	}
	if strings.TrimSpace(l.Email) == "" {
		return ErrEmptyContactEmail
	}
	if l.SizeMW < 0 {
		return ErrNegativeSize
	}
	return nil
}

// MessageStatus represents the delivery status of an outbound message.
type MessageStatus string

const (
	// MessageStatusSent indicates the transport accepted the message.
	MessageStatusSent MessageStatus = "sent"
	// MessageStatusFailed indicates the message failed to send.
	MessageStatusFailed MessageStatus = "failed"
	// MessageStatusQueued indicates the message was queued for retry.
	MessageStatusQueued MessageStatus = "queued"
)

// APIStatus represents the status of an API response.
type APIStatus string

const (
	// APIStatusOK indicates an API request completed successfully.
	APIStatusOK APIStatus = "ok"
	// APIStatusError indicates an API request failed with an error.
	APIStatusError APIStatus = "error"
)

// APIResponse represents a standard API response with a status and optional data.
type APIResponse struct {
	Status  string      `json:"status"`            // status of the API response
	Message string      `json:"message,omitempty"` // optional message for error responses or additional info
	Result  interface{} `json:"result,omitempty"`  // optional result data for successful responses
}

// Success creates a successful API response with optional result data.
func Success(result interface{}) APIResponse {
	return APIResponse{Status: string(APIStatusOK), Result: result}
}

// SuccessWithMessage creates a successful API response with a message and optional result data.
func SuccessWithMessage(message string, result interface{}) APIResponse {
	return APIResponse{Status: string(APIStatusOK), Message: message, Result: result}
}

// Error creates an error API response with a message.
func Error(message string) APIResponse {
	return APIResponse{Status: string(APIStatusError), Message: message}
}
