package cloudapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/BTreeMap/TicketPipe/internal/models"
)

func newTestClient(t *testing.T, status int, got *map[string]interface{}) *Client {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v18.0/123/messages" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if auth := r.Header.Get("Authorization"); auth != "Bearer tok" {
			t.Errorf("unexpected authorization %q", auth)
		}
		if got != nil {
			_ = json.NewDecoder(r.Body).Decode(got)
		}
		w.WriteHeader(status)
	}))
	t.Cleanup(srv.Close)
	c, err := NewClient(WithAccessToken("tok"), WithPhoneNumberID("123"), WithBaseURL(srv.URL))
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	return c
}

func TestNewClient_RequiresCredentials(t *testing.T) {
	if _, err := NewClient(WithAccessToken("tok")); !errors.Is(err, ErrNotConfigured) {
		t.Errorf("expected ErrNotConfigured, got %v", err)
	}
}

func TestSendText(t *testing.T) {
	var body map[string]interface{}
	c := newTestClient(t, http.StatusOK, &body)
	if err := c.SendText(context.Background(), "50688887777", "hola"); err != nil {
		t.Fatalf("SendText: %v", err)
	}
	if body["messaging_product"] != "whatsapp" || body["type"] != "text" || body["to"] != "50688887777" {
		t.Errorf("unexpected payload %v", body)
	}
	text, _ := body["text"].(map[string]interface{})
	if text["body"] != "hola" || text["preview_url"] != false {
		t.Errorf("unexpected text %v", text)
	}
}

func TestSendList(t *testing.T) {
	var body map[string]interface{}
	c := newTestClient(t, http.StatusOK, &body)
	list := models.ListMessage{
		Header: "Selección de país",
		Body:   "Elige",
		Footer: "Soporte",
		Button: "Ver países",
		Sections: []models.ListSection{{Title: "Países", Rows: []models.ListRow{
			{ID: "country_50", Title: "Costa Rica"},
		}}},
	}
	if err := c.SendList(context.Background(), "50688887777", list); err != nil {
		t.Fatalf("SendList: %v", err)
	}
	in, _ := body["interactive"].(map[string]interface{})
	if in["type"] != "list" {
		t.Fatalf("unexpected interactive %v", in)
	}
	header, _ := in["header"].(map[string]interface{})
	if header["type"] != "text" || header["text"] != "Selección de país" {
		t.Errorf("unexpected header %v", header)
	}
	action, _ := in["action"].(map[string]interface{})
	sections, _ := action["sections"].([]interface{})
	if action["button"] != "Ver países" || len(sections) != 1 {
		t.Errorf("unexpected action %v", action)
	}
}

func TestSend_ErrorStatus(t *testing.T) {
	c := newTestClient(t, http.StatusBadRequest, nil)
	if err := c.SendText(context.Background(), "1", "x"); !errors.Is(err, ErrSendFailed) {
		t.Errorf("expected ErrSendFailed, got %v", err)
	}
	if err := c.SendText(context.Background(), "", "x"); !errors.Is(err, models.ErrEmptyRecipient) {
		t.Errorf("expected ErrEmptyRecipient, got %v", err)
	}
}

func TestVerifySignature(t *testing.T) {
	body := []byte(`{"object":"whatsapp_business_account"}`)
	good := Sign("secret", body)
	if err := VerifySignature("secret", body, good); err != nil {
		t.Errorf("valid signature rejected: %v", err)
	}
	if err := VerifySignature("other", body, good); !errors.Is(err, ErrInvalidSignature) {
		t.Errorf("expected ErrInvalidSignature, got %v", err)
	}
	if err := VerifySignature("secret", body, "abc"); !errors.Is(err, ErrMissingSignature) {
		t.Errorf("expected ErrMissingSignature, got %v", err)
	}
	if err := VerifySignature("secret", body, "sha256=zz"); !errors.Is(err, ErrInvalidSignature) {
		t.Errorf("expected ErrInvalidSignature for bad hex, got %v", err)
	}
}

func TestVerifyChallenge(t *testing.T) {
	q := url.Values{"hub.mode": {"subscribe"}, "hub.verify_token": {"vt"}, "hub.challenge": {"42"}}
	got, err := VerifyChallenge(q, "vt")
	if err != nil || got != "42" {
		t.Errorf("expected challenge 42, got %q (%v)", got, err)
	}
	if _, err := VerifyChallenge(q, "other"); !errors.Is(err, ErrVerificationFailed) {
		t.Errorf("expected ErrVerificationFailed, got %v", err)
	}
	if _, err := VerifyChallenge(q, ""); !errors.Is(err, ErrVerificationFailed) {
		t.Error("empty verify token must never match")
	}
}

const samplePayload = `{
  "object": "whatsapp_business_account",
  "entry": [{"changes": [{"value": {
    "contacts": [{"wa_id": "50688887777", "profile": {"name": "Ana"}}],
    "messages": [
      {"id": "m1", "from": "50688887777", "timestamp": "1700000000", "type": "text", "text": {"body": "hola"}},
      {"id": "m2", "from": "50688887777", "type": "interactive", "interactive": {"type": "list_reply", "list_reply": {"id": "country_50", "title": "Costa Rica"}}},
      {"id": "m3", "from": "50688887777", "type": "interactive", "interactive": {"type": "button_reply", "button_reply": {"id": "b1", "title": "Sí"}}},
      {"id": "m4", "from": "50688887777", "type": "image"},
      {"id": "m5", "from": "50688887777", "type": "sticker"},
      {"id": "m6", "from": "+506-bad", "type": "text", "text": {"body": "x"}}
    ],
    "statuses": [{"id": "s1", "status": "delivered", "recipient_id": "50688887777"}]
  }}]}]
}`

func TestParseWebhook(t *testing.T) {
	ev, err := ParseWebhook([]byte(samplePayload))
	if err != nil {
		t.Fatalf("ParseWebhook: %v", err)
	}
	if len(ev.Messages) != 5 || ev.Skipped != 1 || len(ev.Statuses) != 1 {
		t.Fatalf("unexpected event: %d messages, %d skipped, %d statuses", len(ev.Messages), ev.Skipped, len(ev.Statuses))
	}
	text := ev.Messages[0]
	if text.Type != models.MessageTypeText || text.Body != "hola" || text.Name != "Ana" || text.Timestamp.Unix() != 1700000000 {
		t.Errorf("unexpected text message %+v", text)
	}
	list := ev.Messages[1]
	if list.Type != models.MessageTypeInteractiveList || list.SelectionID != "country_50" || list.Body != "Costa Rica" {
		t.Errorf("unexpected list reply %+v", list)
	}
	if ev.Messages[2].Type != models.MessageTypeInteractiveButton || ev.Messages[2].Body != "Sí" {
		t.Errorf("unexpected button reply %+v", ev.Messages[2])
	}
	if ev.Messages[3].Type != models.MessageTypeImage || ev.Messages[4].Type != models.MessageTypeUnknown {
		t.Errorf("unexpected media types %s %s", ev.Messages[3].Type, ev.Messages[4].Type)
	}
}

func TestParseWebhook_Defaults(t *testing.T) {
	long := make([]byte, 1500)
	for i := range long {
		long[i] = 'a'
	}
	payload := `{"entry":[{"changes":[{"value":{"contacts":[{"wa_id":"502"}],` +
		`"messages":[{"id":"m","type":"text","text":{"body":"` + string(long) + `"}}]}}]}]}`
	ev, err := ParseWebhook([]byte(payload))
	if err != nil {
		t.Fatal(err)
	}
	if len(ev.Messages) != 1 {
		t.Fatalf("expected one message, got %d", len(ev.Messages))
	}
	msg := ev.Messages[0]
	if msg.From != "502" || msg.Name != models.DefaultDisplayName {
		t.Errorf("expected fallback sender and default name, got %+v", msg)
	}
	if len(msg.Body) != models.MaxInboundTextLength {
		t.Errorf("expected body truncated to %d, got %d", models.MaxInboundTextLength, len(msg.Body))
	}
}

func TestParseWebhook_Invalid(t *testing.T) {
	if _, err := ParseWebhook([]byte("{")); err == nil {
		t.Error("expected error for malformed JSON")
	}
}
