package sms

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ErrNotConfigured means the provider credentials are missing. It is the only
// error a Sender returns: a refused or dropped message is a Delivery with
// Delivered=false, not an error.
var ErrNotConfigured = errors.New("sms provider not configured")

type Delivery struct {
	Delivered         bool
	ProviderMessageID string
}

type Sender interface {
	Send(ctx context.Context, to string, body string) (Delivery, error)
	ProviderID() string
}

// TwilioSender posts to a Twilio-compatible Messages endpoint with basic auth.
type TwilioSender struct {
	accountSID string
	authToken  string
	fromNumber string
	baseURL    string
	http       *http.Client
}

func NewTwilioSender(accountSID, authToken, fromNumber, baseURL string) *TwilioSender {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		baseURL = "https://api.twilio.com/2010-04-01"
	}
	return &TwilioSender{
		accountSID: strings.TrimSpace(accountSID),
		authToken:  strings.TrimSpace(authToken),
		fromNumber: strings.TrimSpace(fromNumber),
		baseURL:    baseURL,
		http: &http.Client{
			Timeout: 5 * time.Second,
		},
	}
}

func (s *TwilioSender) ProviderID() string {
	return "twilio"
}

func (s *TwilioSender) Send(ctx context.Context, to string, body string) (Delivery, error) {
	if s.accountSID == "" || s.authToken == "" || s.fromNumber == "" {
		return Delivery{}, ErrNotConfigured
	}

	form := url.Values{}
	form.Set("To", to)
	form.Set("From", s.fromNumber)
	form.Set("Body", body)

	endpoint := s.baseURL + "/Accounts/" + s.accountSID + "/Messages.json"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return Delivery{}, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.SetBasicAuth(s.accountSID, s.authToken)

	resp, err := s.http.Do(req)
	if err != nil {
		// Unreachable provider is a delivery failure, not a caller error.
		return Delivery{Delivered: false}, nil
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return Delivery{Delivered: false}, nil
	}

	var payload struct {
		SID string `json:"sid"`
	}
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	_ = json.Unmarshal(raw, &payload)
	return Delivery{Delivered: true, ProviderMessageID: payload.SID}, nil
}

// WebhookSender relays through a generic JSON webhook, used by the local
// docker stack in place of a paid provider account.
type WebhookSender struct {
	url   string
	token string
	http  *http.Client
}

func NewWebhookSender(url string, token string) *WebhookSender {
	return &WebhookSender{
		url:   strings.TrimSpace(url),
		token: strings.TrimSpace(token),
		http: &http.Client{
			Timeout: 5 * time.Second,
		},
	}
}

func (s *WebhookSender) ProviderID() string {
	return "sms-webhook"
}

func (s *WebhookSender) Send(ctx context.Context, to string, body string) (Delivery, error) {
	if s.url == "" {
		return Delivery{}, ErrNotConfigured
	}
	payload, err := json.Marshal(map[string]string{
		"to":   to,
		"body": body,
	})
	if err != nil {
		return Delivery{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, strings.NewReader(string(payload)))
	if err != nil {
		return Delivery{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	if s.token != "" {
		req.Header.Set("Authorization", "Bearer "+s.token)
	}
	resp, err := s.http.Do(req)
	if err != nil {
		return Delivery{Delivered: false}, nil
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return Delivery{Delivered: false}, nil
	}
	return Delivery{Delivered: true, ProviderMessageID: uuid.NewString()}, nil
}

// NoopSender accepts everything without sending. Default in development.
type NoopSender struct{}

func NewNoopSender() *NoopSender {
	return &NoopSender{}
}

func (s *NoopSender) ProviderID() string {
	return "sms-noop"
}

func (s *NoopSender) Send(_ context.Context, _ string, _ string) (Delivery, error) {
	return Delivery{Delivered: true, ProviderMessageID: uuid.NewString()}, nil
}
