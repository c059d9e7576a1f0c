package sms

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestTwilioSender_Send(t *testing.T) {
	var gotForm map[string]string
	var gotAuthUser string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/Accounts/AC123/Messages.json" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		user, _, ok := r.BasicAuth()
		if !ok {
			t.Errorf("missing basic auth")
		}
		gotAuthUser = user
		if err := r.ParseForm(); err != nil {
			t.Errorf("parse form: %v", err)
		}
		gotForm = map[string]string{
			"To":   r.PostFormValue("To"),
			"From": r.PostFormValue("From"),
			"Body": r.PostFormValue("Body"),
		}
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(map[string]string{"sid": "SM42"})
	}))
	defer srv.Close()

	s := NewTwilioSender("AC123", "token", "+15550100000", srv.URL)
	d, err := s.Send(context.Background(), "+15551234567", "see you soon")
	if err != nil {
		t.Fatalf("send failed: %v", err)
	}
	if !d.Delivered || d.ProviderMessageID != "SM42" {
		t.Fatalf("unexpected delivery: %+v", d)
	}
	if gotAuthUser != "AC123" {
		t.Fatalf("expected account sid as auth user, got %q", gotAuthUser)
	}
	if gotForm["To"] != "+15551234567" || gotForm["From"] != "+15550100000" || gotForm["Body"] != "see you soon" {
		t.Fatalf("unexpected form: %v", gotForm)
	}
}

func TestTwilioSender_ProviderRejectionIsNotAnError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, `{"message":"invalid number"}`, http.StatusBadRequest)
	}))
	defer srv.Close()

	d, err := NewTwilioSender("AC123", "token", "+15550100000", srv.URL).
		Send(context.Background(), "bogus", "hi")
	if err != nil {
		t.Fatalf("rejection must not surface as error: %v", err)
	}
	if d.Delivered {
		t.Fatalf("expected failed delivery")
	}
}

func TestTwilioSender_UnreachableProviderIsNotAnError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	srv.Close()

	d, err := NewTwilioSender("AC123", "token", "+15550100000", srv.URL).
		Send(context.Background(), "+15551234567", "hi")
	if err != nil {
		t.Fatalf("network failure must not surface as error: %v", err)
	}
	if d.Delivered {
		t.Fatalf("expected failed delivery")
	}
}

func TestTwilioSender_MissingCredentials(t *testing.T) {
	_, err := NewTwilioSender("", "", "", "").Send(context.Background(), "+15551234567", "hi")
	if !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("expected ErrNotConfigured, got %v", err)
	}
}

func TestWebhookSender_Send(t *testing.T) {
	var gotAuth string
	var gotPayload map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		_ = json.NewDecoder(r.Body).Decode(&gotPayload)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	d, err := NewWebhookSender(srv.URL, "hook-token").Send(context.Background(), "+15551234567", "hello")
	if err != nil {
		t.Fatalf("send failed: %v", err)
	}
	if !d.Delivered || d.ProviderMessageID == "" {
		t.Fatalf("unexpected delivery: %+v", d)
	}
	if gotAuth != "Bearer hook-token" {
		t.Fatalf("unexpected auth header %q", gotAuth)
	}
	if gotPayload["to"] != "+15551234567" || gotPayload["body"] != "hello" {
		t.Fatalf("unexpected payload: %v", gotPayload)
	}
}

func TestWebhookSender_MissingURL(t *testing.T) {
	_, err := NewWebhookSender("", "").Send(context.Background(), "+15551234567", "hi")
	if !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("expected ErrNotConfigured, got %v", err)
	}
}

func TestNoopSender(t *testing.T) {
	d, err := NewNoopSender().Send(context.Background(), "+15551234567", "hi")
	if err != nil {
		t.Fatalf("noop send failed: %v", err)
	}
	if !d.Delivered || d.ProviderMessageID == "" {
		t.Fatalf("unexpected delivery: %+v", d)
	}
}
