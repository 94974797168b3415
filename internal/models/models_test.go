package models

import (
	"strings"
	"testing"
)

func TestInboundMessageNormalize(t *testing.T) {
	m := InboundMessage{From: "50212345678", Body: strings.Repeat("a", MaxInboundTextLength+50)}
	m.Normalize()

	if m.Name != DefaultDisplayName {
		t.Errorf("expected default name %q, got %q", DefaultDisplayName, m.Name)
	}
	if len([]rune(m.Body)) != MaxInboundTextLength {
		t.Errorf("expected body truncated to %d runes, got %d", MaxInboundTextLength, len([]rune(m.Body)))
	}
	if m.Type != MessageTypeUnknown {
		t.Errorf("expected unknown type, got %q", m.Type)
	}
	if m.Timestamp.IsZero() {
		t.Error("expected timestamp to be set")
	}
}

func TestValidateUserID(t *testing.T) {
	tests := []struct {
		id      string
		wantErr error
	}{
		{"50212345678", nil},
		{"", ErrEmptyRecipient},
		{"+50212345678", ErrInvalidUserID},
		{"abc", ErrInvalidUserID},
	}
	for _, tt := range tests {
		if err := ValidateUserID(tt.id); err != tt.wantErr {
			t.Errorf("ValidateUserID(%q) = %v, want %v", tt.id, err, tt.wantErr)
		}
	}
}

func TestMessageTypeSupport(t *testing.T) {
	if !MessageTypeText.IsSupported() || !MessageTypeInteractiveList.IsSupported() {
		t.Error("text and list replies must be supported")
	}
	if MessageTypeImage.IsSupported() || MessageTypeLocation.IsSupported() {
		t.Error("media types must not be supported")
	}
	if MessageTypeText.IsInteractive() {
		t.Error("text is not interactive")
	}
}

func TestListMessagePlainText(t *testing.T) {
	l := ListMessage{
		Header: "Selección de país",
		Body:   "Elige una opción",
		Footer: "Soporte",
		Sections: []ListSection{{Title: "Países", Rows: []ListRow{
			{ID: "country_90", Title: "Guatemala"},
			{ID: "country_50", Title: "Costa Rica"},
		}}},
	}
	text := l.PlainText()
	for _, want := range []string{"*Selección de país*", "1. Guatemala", "2. Costa Rica", "_Soporte_"} {
		if !strings.Contains(text, want) {
			t.Errorf("plain text missing %q:\n%s", want, text)
		}
	}
}

func TestLeadRequestValidate(t *testing.T) {
	valid := LeadRequest{ContactName: "Ana", Phone: "50212345678", Email: "ana@example.com", SizeMW: 1.5}
	if err := valid.Validate(); err != nil {
		t.Fatalf("expected valid lead, got %v", err)
	}

	missingEmail := valid
	missingEmail.Email = " "
	if err := missingEmail.Validate(); err != ErrEmptyContactEmail {
		t.Errorf("expected ErrEmptyContactEmail, got %v", err)
	}

	negative := valid
	negative.SizeMW = -1
	if err := negative.Validate(); err != ErrNegativeSize {
		t.Errorf("expected ErrNegativeSize, got %v", err)
	}
}

func TestAPIResponseBuilders(t *testing.T) {
	if r := Success(nil); r.Status != "ok" {
		t.Errorf("expected ok status, got %q", r.Status)
	}
	if r := Error("boom"); r.Status != "error" || r.Message != "boom" {
		t.Errorf("unexpected error response %+v", r)
	}
}
