// Package testutil provides common test utilities and helpers for TicketPipe tests.
package testutil

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"sync"

	"github.com/BTreeMap/TicketPipe/internal/models"
)

// TestingT is the subset of testing.TB used by the assertions.
type TestingT interface {
	Helper()
	Errorf(format string, args ...interface{})
	Fatalf(format string, args ...interface{})
}

// AssertHTTPStatus checks the HTTP status code and fails the test if it doesn't match.
func AssertHTTPStatus(t TestingT, expected, actual int, context string) {
	t.Helper()
	if actual != expected {
		t.Errorf("%s: expected status %d, got %d", context, expected, actual)
	}
}

// AssertJSONResponse decodes a models.APIResponse envelope and validates its status field.
func AssertJSONResponse(t TestingT, rr *httptest.ResponseRecorder, expectedStatus string) map[string]interface{} {
	t.Helper()
	var response map[string]interface{}
	if err := json.NewDecoder(rr.Body).Decode(&response); err != nil {
		t.Fatalf("failed to decode JSON response: %v", err)
		return nil
	}

	if status, ok := response["status"].(string); ok {
		if status != expectedStatus {
			t.Errorf("expected status '%s', got '%s'", expectedStatus, status)
		}
	} else {
		t.Errorf("response missing or invalid 'status' field")
	}
	return response
}

// MustMarshalJSON marshals an object to JSON and fails test on error.
func MustMarshalJSON(t TestingT, v interface{}) []byte {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("failed to marshal JSON: %v", err)
	}
	return data
}

// SentMessage is one message captured by a RecordingSender.
type SentMessage struct {
	To   string
	Body string
	List *models.ListMessage
}

// RecordingSender captures outbound messages. Set TextErr or ListErr to make
// the corresponding sends fail (the message is still recorded).
type RecordingSender struct {
	mu      sync.Mutex
	sent    []SentMessage
	TextErr error
	ListErr error
}

// SendText records a text message.
func (r *RecordingSender) SendText(_ context.Context, to, body string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, SentMessage{To: to, Body: body})
	return r.TextErr
}

// SendList records an interactive list.
func (r *RecordingSender) SendList(_ context.Context, to string, list models.ListMessage) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, SentMessage{To: to, Body: list.Body, List: &list})
	return r.ListErr
}

// Sent returns a copy of everything recorded so far.
func (r *RecordingSender) Sent() []SentMessage {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]SentMessage(nil), r.sent...)
}

// Texts returns the bodies of recorded text messages, in order.
func (r *RecordingSender) Texts() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, m := range r.sent {
		if m.List == nil {
			out = append(out, m.Body)
		}
	}
	return out
}

// Last returns the most recent message, or the zero value.
func (r *RecordingSender) Last() SentMessage {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.sent) == 0 {
		return SentMessage{}
	}
	return r.sent[len(r.sent)-1]
}

// Reset forgets recorded messages.
func (r *RecordingSender) Reset() {
	r.mu.Lock()
	r.sent = nil
	r.mu.Unlock()
}
