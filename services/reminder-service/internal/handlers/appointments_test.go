package handlers

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/groomery/salonremind/services/reminder-service/internal/model"
	"github.com/groomery/salonremind/services/reminder-service/internal/sms"
)

type fakeAppointmentStore struct {
	appts   map[string]*model.Appointment
	created int
}

func (f *fakeAppointmentStore) Create(_ context.Context, appt *model.Appointment) (string, error) {
	f.created++
	id := "appt-1"
	cp := *appt
	cp.ID = id
	cp.Status = model.StatusPendingConfirmation
	if f.appts == nil {
		f.appts = map[string]*model.Appointment{}
	}
	f.appts[id] = &cp
	return id, nil
}

func (f *fakeAppointmentStore) GetByID(_ context.Context, id string) (model.Appointment, error) {
	a, ok := f.appts[id]
	if !ok {
		return model.Appointment{}, model.ErrNotFound
	}
	return *a, nil
}

func (f *fakeAppointmentStore) Transition(_ context.Context, id string, target model.Status, expected *model.Status) (model.Appointment, error) {
	a, ok := f.appts[id]
	if !ok {
		return model.Appointment{}, model.ErrNotFound
	}
	if expected != nil && a.Status != *expected {
		return model.Appointment{}, model.ErrConflict
	}
	a.Status = target
	return *a, nil
}

func (f *fakeAppointmentStore) Reschedule(_ context.Context, id string, newTime time.Time) (model.Appointment, error) {
	a, ok := f.appts[id]
	if !ok {
		return model.Appointment{}, model.ErrNotFound
	}
	if a.Status == model.StatusCompleted || a.Status == model.StatusCancelled {
		return model.Appointment{}, model.ErrConflict
	}
	a.ScheduledAt = newTime
	a.Status = model.StatusPendingConfirmation
	a.ConfirmedAt = nil
	return *a, nil
}

type fakeCustomerStore struct {
	customers map[string]model.Customer
}

func (f *fakeCustomerStore) GetByID(_ context.Context, id string) (model.Customer, error) {
	c, ok := f.customers[id]
	if !ok {
		return model.Customer{}, model.ErrNotFound
	}
	return c, nil
}

func (f *fakeCustomerStore) GetDog(_ context.Context, _ string) (model.Dog, error) {
	return model.Dog{}, model.ErrNotFound
}

type fakeReminderStore struct {
	claims   int
	outcomes int
}

func (f *fakeReminderStore) Claim(_ context.Context, _ string, _ model.ReminderKind) (bool, error) {
	f.claims++
	return f.claims == 1, nil
}

func (f *fakeReminderStore) RecordOutcome(_ context.Context, _ string, _ model.ReminderKind, _ bool, _ string) error {
	f.outcomes++
	return nil
}

type stubSender struct {
	err error
}

func (s *stubSender) Send(_ context.Context, _ string, _ string) (sms.Delivery, error) {
	if s.err != nil {
		return sms.Delivery{}, s.err
	}
	return sms.Delivery{Delivered: true, ProviderMessageID: "SM1"}, nil
}

func (s *stubSender) ProviderID() string { return "stub" }

var handlerClock = func() time.Time {
	return time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
}

func newTestHandler(store *fakeAppointmentStore, customers *fakeCustomerStore, reminders *fakeReminderStore, sender sms.Sender) *AppointmentHandler {
	if sender == nil {
		sender = &stubSender{}
	}
	body := func(string, time.Time) string { return "reminder body" }
	return NewAppointmentHandler(store, customers, reminders, sender, body, slog.New(slog.DiscardHandler)).
		WithClock(handlerClock)
}

func postJSON(t *testing.T, h http.HandlerFunc, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h(rec, req)
	return rec
}

func TestCreateAppointment(t *testing.T) {
	store := &fakeAppointmentStore{}
	customers := &fakeCustomerStore{customers: map[string]model.Customer{
		"c1": {ID: "c1", Phone: "+15551234567", SMSConsent: true},
	}}
	h := newTestHandler(store, customers, &fakeReminderStore{}, nil)

	rec := postJSON(t, h.Appointments, `{
		"customer_id": "c1",
		"dog_id": "d1",
		"scheduled_at": "2026-03-03T14:30:00Z",
		"services": ["bath", "nail trim"]
	}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp struct {
		AppointmentID string `json:"appointment_id"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("bad response json: %v", err)
	}
	if resp.AppointmentID == "" {
		t.Fatalf("missing appointment_id")
	}
	if store.appts[resp.AppointmentID].Status != model.StatusPendingConfirmation {
		t.Fatalf("new appointment must start pending_confirmation")
	}
}

func TestCreateAppointment_Validation(t *testing.T) {
	customers := &fakeCustomerStore{customers: map[string]model.Customer{
		"c1": {ID: "c1", Phone: "+15551234567", SMSConsent: true},
	}}

	cases := []struct {
		name string
		body string
		want int
	}{
		{"bad json", `{`, http.StatusBadRequest},
		{"missing services", `{"customer_id":"c1","dog_id":"d1","scheduled_at":"2026-03-03T14:30:00Z"}`, http.StatusBadRequest},
		{"bad date", `{"customer_id":"c1","dog_id":"d1","scheduled_at":"tomorrow","services":["bath"]}`, http.StatusBadRequest},
		{"past date", `{"customer_id":"c1","dog_id":"d1","scheduled_at":"2026-03-01T14:30:00Z","services":["bath"]}`, http.StatusUnprocessableEntity},
		{"unknown customer", `{"customer_id":"ghost","dog_id":"d1","scheduled_at":"2026-03-03T14:30:00Z","services":["bath"]}`, http.StatusUnprocessableEntity},
	}
	for _, tc := range cases {
		store := &fakeAppointmentStore{}
		h := newTestHandler(store, customers, &fakeReminderStore{}, nil)
		rec := postJSON(t, h.Appointments, tc.body)
		if rec.Code != tc.want {
			t.Fatalf("%s: expected %d, got %d: %s", tc.name, tc.want, rec.Code, rec.Body.String())
		}
		if store.created != 0 {
			t.Fatalf("%s: invalid request must not create", tc.name)
		}
	}
}

func TestStaffTransitions(t *testing.T) {
	store := &fakeAppointmentStore{appts: map[string]*model.Appointment{
		"a1": {ID: "a1", CustomerID: "c1", Status: model.StatusConfirmed, ScheduledAt: handlerClock()},
	}}
	h := newTestHandler(store, &fakeCustomerStore{}, &fakeReminderStore{}, nil)

	rec := postJSON(t, h.Start, `{"appointment_id":"a1"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("start: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if store.appts["a1"].Status != model.StatusInProgress {
		t.Fatalf("expected in_progress, got %s", store.appts["a1"].Status)
	}

	rec = postJSON(t, h.Complete, `{"appointment_id":"a1"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("complete: expected 200, got %d", rec.Code)
	}
	if store.appts["a1"].Status != model.StatusCompleted {
		t.Fatalf("expected completed, got %s", store.appts["a1"].Status)
	}

	// Completed is terminal for staff actions too.
	rec = postJSON(t, h.Start, `{"appointment_id":"a1"}`)
	if rec.Code != http.StatusConflict {
		t.Fatalf("start on completed: expected 409, got %d", rec.Code)
	}
}

func TestReschedule_ResetsToPending(t *testing.T) {
	confirmedAt := handlerClock().Add(-time.Hour)
	store := &fakeAppointmentStore{appts: map[string]*model.Appointment{
		"a1": {
			ID: "a1", CustomerID: "c1",
			Status:      model.StatusConfirmed,
			ScheduledAt: handlerClock().Add(2 * time.Hour),
			ConfirmedAt: &confirmedAt,
		},
	}}
	h := newTestHandler(store, &fakeCustomerStore{}, &fakeReminderStore{}, nil)

	rec := postJSON(t, h.Reschedule, `{"appointment_id":"a1","scheduled_at":"2026-03-05T09:00:00Z"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if store.appts["a1"].Status != model.StatusPendingConfirmation {
		t.Fatalf("reschedule must reset to pending_confirmation, got %s", store.appts["a1"].Status)
	}

	rec = postJSON(t, h.Reschedule, `{"appointment_id":"a1","scheduled_at":"2026-03-01T09:00:00Z"}`)
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("past reschedule: expected 422, got %d", rec.Code)
	}
}

func TestResendReminder(t *testing.T) {
	store := &fakeAppointmentStore{appts: map[string]*model.Appointment{
		"a1": {ID: "a1", CustomerID: "c1", Status: model.StatusConfirmed, ScheduledAt: handlerClock().Add(time.Hour)},
	}}
	customers := &fakeCustomerStore{customers: map[string]model.Customer{
		"c1": {ID: "c1", Phone: "+15551234567", SMSConsent: true},
	}}
	reminders := &fakeReminderStore{}
	h := newTestHandler(store, customers, reminders, nil)

	rec := postJSON(t, h.ResendReminder, `{"appointment_id":"a1"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if reminders.outcomes != 1 {
		t.Fatalf("expected outcome recorded")
	}

	// Resend works even when a reminder row already exists.
	rec = postJSON(t, h.ResendReminder, `{"appointment_id":"a1"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("second resend: expected 200, got %d", rec.Code)
	}
	if reminders.outcomes != 2 {
		t.Fatalf("expected second outcome recorded")
	}
}

func TestResendReminder_Refusals(t *testing.T) {
	store := &fakeAppointmentStore{appts: map[string]*model.Appointment{
		"done":  {ID: "done", CustomerID: "c1", Status: model.StatusCompleted},
		"deaf":  {ID: "deaf", CustomerID: "no-consent", Status: model.StatusConfirmed},
		"alive": {ID: "alive", CustomerID: "c1", Status: model.StatusConfirmed},
	}}
	customers := &fakeCustomerStore{customers: map[string]model.Customer{
		"c1":         {ID: "c1", Phone: "+15551234567", SMSConsent: true},
		"no-consent": {ID: "no-consent", Phone: "+15551234567", SMSConsent: false},
	}}

	h := newTestHandler(store, customers, &fakeReminderStore{}, nil)
	if rec := postJSON(t, h.ResendReminder, `{"appointment_id":"done"}`); rec.Code != http.StatusConflict {
		t.Fatalf("completed appointment: expected 409, got %d", rec.Code)
	}
	if rec := postJSON(t, h.ResendReminder, `{"appointment_id":"deaf"}`); rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("unreachable customer: expected 422, got %d", rec.Code)
	}

	broken := newTestHandler(store, customers, &fakeReminderStore{}, &stubSender{err: sms.ErrNotConfigured})
	if rec := postJSON(t, broken.ResendReminder, `{"appointment_id":"alive"}`); rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("unconfigured provider: expected 503, got %d", rec.Code)
	}
}

func TestGetAppointment(t *testing.T) {
	at := handlerClock().Add(time.Hour)
	store := &fakeAppointmentStore{appts: map[string]*model.Appointment{
		"a1": {ID: "a1", CustomerID: "c1", DogID: "d1", Status: model.StatusConfirmed, ScheduledAt: at, Services: []string{"bath"}},
	}}
	h := newTestHandler(store, &fakeCustomerStore{}, &fakeReminderStore{}, nil)

	req := httptest.NewRequest(http.MethodGet, "/?id=a1", nil)
	rec := httptest.NewRecorder()
	h.Appointments(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var resp appointmentResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("bad json: %v", err)
	}
	if resp.Status != "confirmed" || resp.ScheduledAt != at.Format(time.RFC3339) {
		t.Fatalf("unexpected response: %+v", resp)
	}

	req = httptest.NewRequest(http.MethodGet, "/?id=ghost", nil)
	rec = httptest.NewRecorder()
	h.Appointments(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}
