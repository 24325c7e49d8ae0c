package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/productdevbook/unemail/internal/email"
)

func testMessage() *email.Options {
	return &email.Options{
		From:    "sender@example.com",
		To:      []string{"to@example.com"},
		Cc:      []string{"cc@example.com"},
		Subject: "api test",
		Text:    "body",
		HTML:    "<p>body</p>",
		Attachments: []email.Attachment{{
			Filename:    "data.bin",
			Content:     []byte{0x01, 0x02},
			ContentType: "application/octet-stream",
		}},
	}
}

func TestSendEmail_Success(t *testing.T) {
	t.Parallel()

	var gotReq sendRequest
	var gotAuth, gotContentType string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotContentType = r.Header.Get("Content-Type")
		if err := json.NewDecoder(r.Body).Decode(&gotReq); err != nil {
			t.Errorf("decoding request: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"id": "api-msg-1"})
	}))
	t.Cleanup(srv.Close)

	p := New(Config{Endpoint: srv.URL, APIKey: "key-123"})
	res, err := p.SendEmail(context.Background(), testMessage())
	if err != nil {
		t.Fatalf("SendEmail: %v", err)
	}

	if res.MessageID != "api-msg-1" {
		t.Errorf("MessageID = %q", res.MessageID)
	}
	if res.Provider != "api" {
		t.Errorf("Provider = %q", res.Provider)
	}
	if gotAuth != "Bearer key-123" {
		t.Errorf("Authorization = %q", gotAuth)
	}
	if gotContentType != "application/json" {
		t.Errorf("Content-Type = %q", gotContentType)
	}

	if gotReq.From != "sender@example.com" {
		t.Errorf("from = %q", gotReq.From)
	}
	if len(gotReq.To) != 1 || gotReq.To[0] != "to@example.com" {
		t.Errorf("to = %v", gotReq.To)
	}
	if len(gotReq.Cc) != 1 || gotReq.Cc[0] != "cc@example.com" {
		t.Errorf("cc = %v", gotReq.Cc)
	}
	if gotReq.Subject != "api test" || gotReq.Text != "body" || gotReq.HTML != "<p>body</p>" {
		t.Errorf("content = %+v", gotReq)
	}
	if len(gotReq.Attachments) != 1 || gotReq.Attachments[0].Content != "AQI=" {
		t.Errorf("attachments = %+v", gotReq.Attachments)
	}
}

func TestSendEmail_EmptyResponseBody(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	}))
	t.Cleanup(srv.Close)

	p := New(Config{Endpoint: srv.URL})
	res, err := p.SendEmail(context.Background(), testMessage())
	if err != nil {
		t.Fatalf("SendEmail: %v", err)
	}
	// No id from the service means a locally generated one.
	if res.MessageID == "" {
		t.Error("missing message id")
	}
}

func TestSendEmail_ClientErrorIsTerminal(t *testing.T) {
	t.Parallel()

	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		http.Error(w, `{"error":"invalid recipient"}`, http.StatusBadRequest)
	}))
	t.Cleanup(srv.Close)

	p := New(Config{Endpoint: srv.URL})
	_, err := p.SendEmail(context.Background(), testMessage())
	if err == nil {
		t.Fatal("expected an error")
	}
	if !email.IsKind(err, email.KindProvider) {
		t.Fatalf("expected a provider error, got %v", err)
	}
	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Errorf("server saw %d requests, want 1 (4xx must not be retried)", got)
	}
}

func TestSendEmail_ServerErrorIsRetried(t *testing.T) {
	t.Parallel()

	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			http.Error(w, "temporarily unavailable", http.StatusServiceUnavailable)
			return
		}
		json.NewEncoder(w).Encode(map[string]string{"id": "after-retry"})
	}))
	t.Cleanup(srv.Close)

	p := New(Config{Endpoint: srv.URL})
	res, err := p.SendEmail(context.Background(), testMessage())
	if err != nil {
		t.Fatalf("SendEmail: %v", err)
	}
	if res.MessageID != "after-retry" {
		t.Errorf("MessageID = %q", res.MessageID)
	}
	if got := atomic.LoadInt32(&calls); got != 2 {
		t.Errorf("server saw %d requests, want 2", got)
	}
}

func TestSendEmail_InvalidMessage(t *testing.T) {
	t.Parallel()

	p := New(Config{Endpoint: "http://unused.example.com"})
	_, err := p.SendEmail(context.Background(), &email.Options{})
	if !email.IsKind(err, email.KindValidation) {
		t.Fatalf("expected a validation error, got %v", err)
	}
}

func TestInitialize(t *testing.T) {
	t.Parallel()

	p := New(Config{Endpoint: "http://api.example.com/send"})
	if err := p.Initialize(context.Background()); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if !p.IsAvailable(context.Background()) {
		t.Error("a configured provider must be available")
	}

	unconfigured := New(Config{})
	if err := unconfigured.Initialize(context.Background()); !email.IsKind(err, email.KindProvider) {
		t.Errorf("expected a provider error, got %v", err)
	}
	if unconfigured.IsAvailable(context.Background()) {
		t.Error("an unconfigured provider must not be available")
	}
}
