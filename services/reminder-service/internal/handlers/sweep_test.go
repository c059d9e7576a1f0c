package handlers

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/groomery/salonremind/services/reminder-service/internal/messages"
	"github.com/groomery/salonremind/services/reminder-service/internal/model"
	"github.com/groomery/salonremind/services/reminder-service/internal/sweep"
)

type sweepSource struct {
	appts []model.Appointment
}

func (s sweepSource) FindInWindow(context.Context, time.Time, time.Time, []model.Status) ([]model.Appointment, error) {
	return s.appts, nil
}

type sweepCustomers struct{}

func (sweepCustomers) GetByID(_ context.Context, id string) (model.Customer, error) {
	return model.Customer{ID: id, Phone: "+15551234567", SMSConsent: true}, nil
}

func (sweepCustomers) GetDog(context.Context, string) (model.Dog, error) {
	return model.Dog{}, model.ErrNotFound
}

type sweepReminders struct {
	claimed map[string]bool
}

func (s *sweepReminders) Claim(_ context.Context, id string, _ model.ReminderKind) (bool, error) {
	if s.claimed == nil {
		s.claimed = map[string]bool{}
	}
	if s.claimed[id] {
		return false, nil
	}
	s.claimed[id] = true
	return true, nil
}

func (s *sweepReminders) Release(_ context.Context, id string, _ model.ReminderKind) error {
	delete(s.claimed, id)
	return nil
}

func (s *sweepReminders) RecordOutcome(context.Context, string, model.ReminderKind, bool, string) error {
	return nil
}

func newTestSweepHandler(secret string) *SweepHandler {
	logger := slog.New(slog.DiscardHandler)
	msgs := messages.NewBuilder("Test Salon", "+15550100000", time.UTC)
	now := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	src := sweepSource{appts: []model.Appointment{
		{ID: "a1", CustomerID: "c1", ScheduledAt: now.Add(time.Hour), Status: model.StatusConfirmed},
	}}
	sw := sweep.NewSweeper(src, sweepCustomers{}, &sweepReminders{}, &stubSender{}, msgs, nil, logger, nil, sweep.Config{})
	return NewSweepHandler(sw, secret, logger).WithClock(func() time.Time { return now })
}

func TestSweepTrigger(t *testing.T) {
	h := newTestSweepHandler("cron-secret")

	req := httptest.NewRequest(http.MethodPost, "/api/v1/reminders/sweep", nil)
	req.Header.Set("Authorization", "Bearer cron-secret")
	rec := httptest.NewRecorder()
	h.Trigger(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var res sweep.Result
	if err := json.Unmarshal(rec.Body.Bytes(), &res); err != nil {
		t.Fatalf("bad json: %v", err)
	}
	if res.Sent != 1 || res.Checked != 1 {
		t.Fatalf("unexpected result: %+v", res)
	}
}

func TestSweepTrigger_Auth(t *testing.T) {
	h := newTestSweepHandler("cron-secret")

	req := httptest.NewRequest(http.MethodPost, "/api/v1/reminders/sweep", nil)
	rec := httptest.NewRecorder()
	h.Trigger(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("missing token: expected 401, got %d", rec.Code)
	}

	req = httptest.NewRequest(http.MethodPost, "/api/v1/reminders/sweep", nil)
	req.Header.Set("Authorization", "Bearer wrong")
	rec = httptest.NewRecorder()
	h.Trigger(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("wrong token: expected 401, got %d", rec.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/v1/reminders/sweep", nil)
	req.Header.Set("Authorization", "Bearer cron-secret")
	rec = httptest.NewRecorder()
	h.Trigger(rec, req)
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("GET: expected 405, got %d", rec.Code)
	}
}

func TestSweepTrigger_EmptySecretDisablesAuth(t *testing.T) {
	h := newTestSweepHandler("")
	req := httptest.NewRequest(http.MethodPost, "/api/v1/reminders/sweep", nil)
	rec := httptest.NewRecorder()
	h.Trigger(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 without auth in dev mode, got %d", rec.Code)
	}
}
