package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/groomery/salonremind/services/reminder-service/internal/model"
	"github.com/groomery/salonremind/services/reminder-service/internal/sms"
)

type AppointmentStore interface {
	Create(ctx context.Context, appt *model.Appointment) (string, error)
	GetByID(ctx context.Context, id string) (model.Appointment, error)
	Transition(ctx context.Context, id string, target model.Status, expected *model.Status) (model.Appointment, error)
	Reschedule(ctx context.Context, id string, newTime time.Time) (model.Appointment, error)
}

type CustomerStore interface {
	GetByID(ctx context.Context, id string) (model.Customer, error)
	GetDog(ctx context.Context, id string) (model.Dog, error)
}

type ReminderStore interface {
	Claim(ctx context.Context, appointmentID string, kind model.ReminderKind) (bool, error)
	RecordOutcome(ctx context.Context, appointmentID string, kind model.ReminderKind, delivered bool, providerMessageID string) error
}

type ReminderBodyFunc func(dogName string, scheduledAt time.Time) string

type AppointmentHandler struct {
	appts        AppointmentStore
	customers    CustomerStore
	reminders    ReminderStore
	sender       sms.Sender
	reminderBody ReminderBodyFunc
	logger       *slog.Logger
	now          func() time.Time
}

func NewAppointmentHandler(
	appts AppointmentStore,
	customers CustomerStore,
	reminders ReminderStore,
	sender sms.Sender,
	reminderBody ReminderBodyFunc,
	logger *slog.Logger,
) *AppointmentHandler {
	return &AppointmentHandler{
		appts:        appts,
		customers:    customers,
		reminders:    reminders,
		sender:       sender,
		reminderBody: reminderBody,
		logger:       logger,
		now:          func() time.Time { return time.Now().UTC() },
	}
}

// WithClock overrides the time source, for tests.
func (h *AppointmentHandler) WithClock(now func() time.Time) *AppointmentHandler {
	h.now = now
	return h
}

type createAppointmentRequest struct {
	CustomerID  string   `json:"customer_id"`
	DogID       string   `json:"dog_id"`
	ScheduledAt string   `json:"scheduled_at"`
	Services    []string `json:"services"`
}

type appointmentResponse struct {
	AppointmentID string   `json:"appointment_id"`
	CustomerID    string   `json:"customer_id,omitempty"`
	DogID         string   `json:"dog_id,omitempty"`
	ScheduledAt   string   `json:"scheduled_at,omitempty"`
	Status        string   `json:"status,omitempty"`
	Services      []string `json:"services,omitempty"`
	ConfirmedAt   string   `json:"confirmed_at,omitempty"`
	CancelledAt   string   `json:"cancelled_at,omitempty"`
}

func toResponse(appt model.Appointment) appointmentResponse {
	resp := appointmentResponse{
		AppointmentID: appt.ID,
		CustomerID:    appt.CustomerID,
		DogID:         appt.DogID,
		ScheduledAt:   appt.ScheduledAt.UTC().Format(time.RFC3339),
		Status:        string(appt.Status),
		Services:      appt.Services,
	}
	if appt.ConfirmedAt != nil {
		resp.ConfirmedAt = appt.ConfirmedAt.UTC().Format(time.RFC3339)
	}
	if appt.CancelledAt != nil {
		resp.CancelledAt = appt.CancelledAt.UTC().Format(time.RFC3339)
	}
	return resp
}

// Appointments serves POST (create) and GET (?id=) on the collection path.
func (h *AppointmentHandler) Appointments(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		h.create(w, r)
	case http.MethodGet:
		h.get(w, r)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (h *AppointmentHandler) create(w http.ResponseWriter, r *http.Request) {
	var req createAppointmentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}

	req.CustomerID = strings.TrimSpace(req.CustomerID)
	req.DogID = strings.TrimSpace(req.DogID)
	if req.CustomerID == "" || req.DogID == "" || len(req.Services) == 0 {
		http.Error(w, "missing required fields", http.StatusBadRequest)
		return
	}

	scheduledAt, err := time.Parse(time.RFC3339, req.ScheduledAt)
	if err != nil {
		http.Error(w, "invalid scheduled_at", http.StatusBadRequest)
		return
	}
	if scheduledAt.Before(h.now()) {
		http.Error(w, "scheduled_at is in the past", http.StatusUnprocessableEntity)
		return
	}

	ctx := r.Context()
	if _, err := h.customers.GetByID(ctx, req.CustomerID); err != nil {
		if errors.Is(err, model.ErrNotFound) {
			http.Error(w, "unknown customer", http.StatusUnprocessableEntity)
			return
		}
		http.Error(w, "customer lookup failed", http.StatusInternalServerError)
		return
	}

	id, err := h.appts.Create(ctx, &model.Appointment{
		CustomerID:  req.CustomerID,
		DogID:       req.DogID,
		ScheduledAt: scheduledAt.UTC(),
		Services:    req.Services,
	})
	if err != nil {
		h.logger.Error("appointment create failed", "err", err)
		http.Error(w, "failed to create appointment", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusCreated, appointmentResponse{AppointmentID: id})
}

func (h *AppointmentHandler) get(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(r.URL.Query().Get("id"))
	if id == "" {
		http.Error(w, "missing id", http.StatusBadRequest)
		return
	}
	appt, err := h.appts.GetByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, model.ErrNotFound) {
			http.Error(w, "appointment not found", http.StatusNotFound)
			return
		}
		http.Error(w, "lookup failed", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, toResponse(appt))
}

type transitionRequest struct {
	AppointmentID string `json:"appointment_id"`
}

// Start and Complete are staff actions; they use the CAS transition so a
// simultaneous customer cancellation is surfaced as a conflict, not lost.
func (h *AppointmentHandler) Start(w http.ResponseWriter, r *http.Request) {
	h.staffTransition(w, r, model.StatusInProgress)
}

func (h *AppointmentHandler) Complete(w http.ResponseWriter, r *http.Request) {
	h.staffTransition(w, r, model.StatusCompleted)
}

func (h *AppointmentHandler) staffTransition(w http.ResponseWriter, r *http.Request, target model.Status) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req transitionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	req.AppointmentID = strings.TrimSpace(req.AppointmentID)
	if req.AppointmentID == "" {
		http.Error(w, "missing appointment_id", http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	appt, err := h.appts.GetByID(ctx, req.AppointmentID)
	if err != nil {
		if errors.Is(err, model.ErrNotFound) {
			http.Error(w, "appointment not found", http.StatusNotFound)
			return
		}
		http.Error(w, "lookup failed", http.StatusInternalServerError)
		return
	}
	if !model.CanTransition(appt.Status, target) {
		http.Error(w, "invalid transition from "+string(appt.Status), http.StatusConflict)
		return
	}

	expected := appt.Status
	updated, err := h.appts.Transition(ctx, req.AppointmentID, target, &expected)
	if err != nil {
		if errors.Is(err, model.ErrConflict) {
			http.Error(w, "appointment changed concurrently, retry", http.StatusConflict)
			return
		}
		if errors.Is(err, model.ErrNotFound) {
			http.Error(w, "appointment not found", http.StatusNotFound)
			return
		}
		h.logger.Error("staff transition failed", "appointment_id", req.AppointmentID, "err", err)
		http.Error(w, "transition failed", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, toResponse(updated))
}

type rescheduleRequest struct {
	AppointmentID string `json:"appointment_id"`
	ScheduledAt   string `json:"scheduled_at"`
}

func (h *AppointmentHandler) Reschedule(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req rescheduleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	req.AppointmentID = strings.TrimSpace(req.AppointmentID)
	if req.AppointmentID == "" {
		http.Error(w, "missing appointment_id", http.StatusBadRequest)
		return
	}
	scheduledAt, err := time.Parse(time.RFC3339, req.ScheduledAt)
	if err != nil {
		http.Error(w, "invalid scheduled_at", http.StatusBadRequest)
		return
	}
	if scheduledAt.Before(h.now()) {
		http.Error(w, "scheduled_at is in the past", http.StatusUnprocessableEntity)
		return
	}

	updated, err := h.appts.Reschedule(r.Context(), req.AppointmentID, scheduledAt.UTC())
	if err != nil {
		if errors.Is(err, model.ErrNotFound) {
			http.Error(w, "appointment not found", http.StatusNotFound)
			return
		}
		if errors.Is(err, model.ErrConflict) {
			http.Error(w, "appointment already closed", http.StatusConflict)
			return
		}
		h.logger.Error("reschedule failed", "appointment_id", req.AppointmentID, "err", err)
		http.Error(w, "reschedule failed", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, toResponse(updated))
}

type resendResponse struct {
	AppointmentID     string `json:"appointment_id"`
	Delivered         bool   `json:"delivered"`
	ProviderMessageID string `json:"provider_message_id,omitempty"`
}

// ResendReminder is the operator override: it sends even when the automatic
// reminder was already attempted, updating the existing ledger row rather
// than inserting a second one.
func (h *AppointmentHandler) ResendReminder(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req transitionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	req.AppointmentID = strings.TrimSpace(req.AppointmentID)
	if req.AppointmentID == "" {
		http.Error(w, "missing appointment_id", http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	appt, err := h.appts.GetByID(ctx, req.AppointmentID)
	if err != nil {
		if errors.Is(err, model.ErrNotFound) {
			http.Error(w, "appointment not found", http.StatusNotFound)
			return
		}
		http.Error(w, "lookup failed", http.StatusInternalServerError)
		return
	}
	if appt.Status != model.StatusPendingConfirmation && appt.Status != model.StatusConfirmed {
		http.Error(w, "appointment is not awaiting a visit", http.StatusConflict)
		return
	}

	customer, err := h.customers.GetByID(ctx, appt.CustomerID)
	if err != nil {
		http.Error(w, "customer lookup failed", http.StatusInternalServerError)
		return
	}
	if !customer.Reachable() {
		http.Error(w, "customer has no phone or no sms consent", http.StatusUnprocessableEntity)
		return
	}

	dogName := ""
	if dog, err := h.customers.GetDog(ctx, appt.DogID); err == nil {
		dogName = dog.Name
	}

	// Claim keeps the at-most-one-row contract; an existing row just means
	// this resend overwrites its outcome.
	if _, err := h.reminders.Claim(ctx, appt.ID, model.KindReminder); err != nil {
		h.logger.Error("reminder claim failed", "appointment_id", appt.ID, "err", err)
		http.Error(w, "reminder ledger unavailable", http.StatusInternalServerError)
		return
	}

	delivery, err := h.sender.Send(ctx, customer.Phone, h.reminderBody(dogName, appt.ScheduledAt))
	if err != nil {
		h.logger.Error("manual reminder send failed", "appointment_id", appt.ID, "err", err)
		http.Error(w, "sms provider not configured", http.StatusServiceUnavailable)
		return
	}
	if err := h.reminders.RecordOutcome(ctx, appt.ID, model.KindReminder, delivery.Delivered, delivery.ProviderMessageID); err != nil {
		h.logger.Error("reminder outcome record failed", "appointment_id", appt.ID, "err", err)
	}

	writeJSON(w, http.StatusOK, resendResponse{
		AppointmentID:     appt.ID,
		Delivered:         delivery.Delivered,
		ProviderMessageID: delivery.ProviderMessageID,
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
