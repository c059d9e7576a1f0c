package reply

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/groomery/salonremind/libs/metrics"
	"github.com/groomery/salonremind/services/reminder-service/internal/messages"
	"github.com/groomery/salonremind/services/reminder-service/internal/model"
	"github.com/groomery/salonremind/services/reminder-service/internal/outbox"
)

type CustomerSource interface {
	GetByPhone(ctx context.Context, phone string) (model.Customer, error)
}

type AppointmentStore interface {
	FindSoonestPending(ctx context.Context, customerID string) (model.Appointment, bool, error)
	FindSoonestConfirmed(ctx context.Context, customerID string) (model.Appointment, bool, error)
	Transition(ctx context.Context, id string, target model.Status, expected *model.Status) (model.Appointment, error)
}

type ResponseLog interface {
	RecordResponse(ctx context.Context, appointmentID string, response string, respondedAt time.Time) error
}

type EventRecorder interface {
	Record(ctx context.Context, evt outbox.Event) error
}

// Outcome labels, used for metrics and the webhook log line.
const (
	OutcomeConfirmed       = "confirmed"
	OutcomeCancelled       = "cancelled"
	OutcomeRepeatConfirmed = "repeat_confirmed"
	OutcomeTimePassed      = "time_passed"
	OutcomeUnknownSender   = "unknown_sender"
	OutcomeNoPending       = "no_pending"
	OutcomeHelp            = "help"
	OutcomeInternalError   = "internal_error"
)

type Reply struct {
	Body    string
	Outcome string
}

type token int

const (
	tokenUnknown token = iota
	tokenYes
	tokenNo
)

func classify(body string) (token, string) {
	norm := strings.ToUpper(strings.TrimSpace(body))
	switch norm {
	case "YES", "Y", "CONFIRM":
		return tokenYes, norm
	case "NO", "N", "CANCEL":
		return tokenNo, norm
	}
	return tokenUnknown, norm
}

type Interpreter struct {
	customers CustomerSource
	appts     AppointmentStore
	responses ResponseLog
	events    EventRecorder
	msgs      messages.Builder
	logger    *slog.Logger
	metrics   *metrics.Reminder
	now       func() time.Time
}

func NewInterpreter(
	customers CustomerSource,
	appts AppointmentStore,
	responses ResponseLog,
	events EventRecorder,
	msgs messages.Builder,
	logger *slog.Logger,
	m *metrics.Reminder,
) *Interpreter {
	return &Interpreter{
		customers: customers,
		appts:     appts,
		responses: responses,
		events:    events,
		msgs:      msgs,
		logger:    logger,
		metrics:   m,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// WithClock overrides the time source, for tests.
func (i *Interpreter) WithClock(now func() time.Time) *Interpreter {
	i.now = now
	return i
}

// Handle maps one inbound SMS to a state transition and a reply body.
// It always produces a reply; silence would be indistinguishable from a lost
// message on the customer's side.
func (i *Interpreter) Handle(ctx context.Context, from, body string) Reply {
	tok, norm := classify(body)

	customer, err := i.customers.GetByPhone(ctx, from)
	if errors.Is(err, model.ErrNotFound) {
		return i.done(OutcomeUnknownSender, i.msgs.UnknownSender())
	}
	if err != nil {
		i.logger.Error("customer lookup failed", "err", err)
		return i.done(OutcomeInternalError, i.msgs.Help())
	}

	// Conflicts mean a sweep or staff action mutated the row between our read
	// and our write; re-resolve once and re-evaluate rather than overwrite.
	for attempt := 0; attempt < 2; attempt++ {
		reply, retry := i.evaluate(ctx, customer, tok, norm)
		if !retry {
			return reply
		}
	}
	i.logger.Warn("reply evaluation still conflicting after retry", "customer_id", customer.ID)
	return i.done(OutcomeInternalError, i.msgs.Help())
}

func (i *Interpreter) evaluate(ctx context.Context, customer model.Customer, tok token, norm string) (Reply, bool) {
	pending, havePending, err := i.appts.FindSoonestPending(ctx, customer.ID)
	if err != nil {
		i.logger.Error("pending lookup failed", "customer_id", customer.ID, "err", err)
		return i.done(OutcomeInternalError, i.msgs.Help()), false
	}

	if havePending {
		switch tok {
		case tokenYes:
			return i.confirm(ctx, customer, pending, norm)
		case tokenNo:
			return i.cancel(ctx, customer, pending, norm)
		default:
			return i.done(OutcomeHelp, i.msgs.Help()), false
		}
	}

	confirmed, haveConfirmed, err := i.appts.FindSoonestConfirmed(ctx, customer.ID)
	if err != nil {
		i.logger.Error("confirmed lookup failed", "customer_id", customer.ID, "err", err)
		return i.done(OutcomeInternalError, i.msgs.Help()), false
	}

	if haveConfirmed {
		switch tok {
		case tokenYes:
			// Already confirmed: idempotent acknowledgment, no transition.
			return i.done(OutcomeRepeatConfirmed, i.msgs.AlreadyConfirmed(confirmed.ScheduledAt)), false
		case tokenNo:
			return i.cancel(ctx, customer, confirmed, norm)
		default:
			return i.done(OutcomeHelp, i.msgs.Help()), false
		}
	}

	if tok == tokenUnknown {
		return i.done(OutcomeHelp, i.msgs.Help()), false
	}
	return i.done(OutcomeNoPending, i.msgs.NoPending()), false
}

func (i *Interpreter) confirm(ctx context.Context, customer model.Customer, appt model.Appointment, norm string) (Reply, bool) {
	if appt.ScheduledAt.Before(i.now()) {
		// A confirmation for a slot that already started must not silently
		// confirm a missed appointment.
		return i.done(OutcomeTimePassed, i.msgs.TimePassed()), false
	}

	expected := appt.Status
	updated, err := i.appts.Transition(ctx, appt.ID, model.StatusConfirmed, &expected)
	if errors.Is(err, model.ErrConflict) {
		return Reply{}, true
	}
	if errors.Is(err, model.ErrNotFound) {
		return i.done(OutcomeNoPending, i.msgs.NoPending()), false
	}
	if err != nil {
		i.logger.Error("confirm transition failed", "appointment_id", appt.ID, "err", err)
		return i.done(OutcomeInternalError, i.msgs.Help()), false
	}

	i.logResponse(ctx, updated.ID, norm)
	i.emit(ctx, outbox.TopicAppointmentConfirmed, customer, updated, norm)
	return i.done(OutcomeConfirmed, i.msgs.ConfirmationAck(updated.ScheduledAt)), false
}

func (i *Interpreter) cancel(ctx context.Context, customer model.Customer, appt model.Appointment, norm string) (Reply, bool) {
	expected := appt.Status
	updated, err := i.appts.Transition(ctx, appt.ID, model.StatusCancelled, &expected)
	if errors.Is(err, model.ErrConflict) {
		return Reply{}, true
	}
	if errors.Is(err, model.ErrNotFound) {
		return i.done(OutcomeNoPending, i.msgs.NoPending()), false
	}
	if err != nil {
		i.logger.Error("cancel transition failed", "appointment_id", appt.ID, "err", err)
		return i.done(OutcomeInternalError, i.msgs.Help()), false
	}

	i.logResponse(ctx, updated.ID, norm)
	i.emit(ctx, outbox.TopicAppointmentCancelled, customer, updated, norm)
	return i.done(OutcomeCancelled, i.msgs.CancellationAck()), false
}

func (i *Interpreter) logResponse(ctx context.Context, appointmentID, norm string) {
	if err := i.responses.RecordResponse(ctx, appointmentID, norm, i.now()); err != nil {
		i.logger.Error("customer response record failed", "appointment_id", appointmentID, "err", err)
	}
}

func (i *Interpreter) emit(ctx context.Context, eventType string, customer model.Customer, appt model.Appointment, norm string) {
	if i.events == nil {
		return
	}
	payload, err := json.Marshal(map[string]any{
		"appointment_id": appt.ID,
		"customer_id":    customer.ID,
		"scheduled_at":   appt.ScheduledAt.UTC().Format(time.RFC3339),
		"response":       norm,
		"responded_at":   i.now().Format(time.RFC3339),
	})
	if err != nil {
		return
	}
	if err := i.events.Record(ctx, outbox.Event{
		AggregateType: "appointment",
		AggregateID:   appt.ID,
		EventType:     eventType,
		Payload:       payload,
	}); err != nil {
		i.logger.Error("appointment event record failed", "appointment_id", appt.ID, "err", err)
	}
}

func (i *Interpreter) done(outcome, body string) Reply {
	if i.metrics != nil {
		i.metrics.RepliesHandled.WithLabelValues(outcome).Inc()
	}
	return Reply{Body: body, Outcome: outcome}
}
