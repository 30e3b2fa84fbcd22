package handler

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/hitoshi/stravaexport/internal/model"
	"github.com/hitoshi/stravaexport/internal/webhook"
)

type mockWebhookProcessor struct {
	validateFn func(mode, token, challenge string) (string, error)
	ingestFn   func(body []byte) bool
	events     []model.LoggedEvent
}

func (m *mockWebhookProcessor) Validate(mode, token, challenge string) (string, error) {
	return m.validateFn(mode, token, challenge)
}

func (m *mockWebhookProcessor) Ingest(body []byte) bool {
	return m.ingestFn(body)
}

func (m *mockWebhookProcessor) Events() []model.LoggedEvent {
	return m.events
}

func TestWebhookHandler_Verify_EchoesChallenge(t *testing.T) {
	var buf bytes.Buffer
	var gotMode, gotToken, gotChallenge string
	p := &mockWebhookProcessor{validateFn: func(mode, token, challenge string) (string, error) {
		gotMode, gotToken, gotChallenge = mode, token, challenge
		return challenge, nil
	}}
	h := NewWebhookHandler(p, newTestLogger(&buf))

	w := httptest.NewRecorder()
	h.Verify(w, httptest.NewRequest(http.MethodGet, "/api/webhook?hub.mode=subscribe&hub.verify_token=tok&hub.challenge=15f7d1a91c1f40f8a748fd134752feb3", nil))

	if gotMode != "subscribe" || gotToken != "tok" || gotChallenge != "15f7d1a91c1f40f8a748fd134752feb3" {
		t.Errorf("params = %q %q %q", gotMode, gotToken, gotChallenge)
	}
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	var body map[string]string
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["hub.challenge"] != "15f7d1a91c1f40f8a748fd134752feb3" {
		t.Errorf("body = %v", body)
	}
}

func TestWebhookHandler_Verify_Rejections(t *testing.T) {
	for _, vErr := range []*webhook.ValidationError{webhook.ErrInvalidMode, webhook.ErrVerifyTokenMismatch, webhook.ErrMissingChallenge} {
		t.Run(vErr.Code, func(t *testing.T) {
			var buf bytes.Buffer
			p := &mockWebhookProcessor{validateFn: func(mode, token, challenge string) (string, error) {
				return "", vErr
			}}
			h := NewWebhookHandler(p, newTestLogger(&buf))

			w := httptest.NewRecorder()
			h.Verify(w, httptest.NewRequest(http.MethodGet, "/api/webhook", nil))

			if w.Code != vErr.Status {
				t.Errorf("status = %d, want %d", w.Code, vErr.Status)
			}
			var body map[string]string
			if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if body["error"] != vErr.Code {
				t.Errorf("error = %q, want %q", body["error"], vErr.Code)
			}
		})
	}
}

func TestWebhookHandler_Receive_AlwaysOK(t *testing.T) {
	for _, received := range []bool{true, false} {
		var buf bytes.Buffer
		var gotBody string
		p := &mockWebhookProcessor{ingestFn: func(body []byte) bool {
			gotBody = string(body)
			return received
		}}
		h := NewWebhookHandler(p, newTestLogger(&buf))

		payload := `{"object_type":"activity","aspect_type":"create","object_id":1,"owner_id":2}`
		w := httptest.NewRecorder()
		h.Receive(w, httptest.NewRequest(http.MethodPost, "/api/webhook", strings.NewReader(payload)))

		if gotBody != payload {
			t.Errorf("processor got %q", gotBody)
		}
		if w.Code != http.StatusOK {
			t.Errorf("status = %d, want 200", w.Code)
		}
		var body map[string]bool
		if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if body["received"] != received {
			t.Errorf("received = %v, want %v", body["received"], received)
		}
	}
}

func TestWebhookHandler_Receive_OversizedBodyNotReceived(t *testing.T) {
	var buf bytes.Buffer
	p := &mockWebhookProcessor{ingestFn: func(body []byte) bool {
		t.Fatal("processor must not be called for an unreadable body")
		return true
	}}
	h := NewWebhookHandler(p, newTestLogger(&buf))

	big := strings.Repeat("x", maxWebhookBodyBytes+1)
	w := httptest.NewRecorder()
	h.Receive(w, httptest.NewRequest(http.MethodPost, "/api/webhook", strings.NewReader(big)))

	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", w.Code)
	}
	if !strings.Contains(w.Body.String(), `"received":false`) {
		t.Errorf("body = %s", w.Body.String())
	}
}

func TestWebhookHandler_Events_EmptyIsArray(t *testing.T) {
	var buf bytes.Buffer
	h := NewWebhookHandler(&mockWebhookProcessor{}, newTestLogger(&buf))

	w := httptest.NewRecorder()
	h.Events(w, httptest.NewRequest(http.MethodGet, "/api/webhook/events", nil))

	if strings.TrimSpace(w.Body.String()) != `{"events":[]}` {
		t.Errorf("body = %s", w.Body.String())
	}
}
