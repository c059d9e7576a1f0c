package sweep

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/groomery/salonremind/libs/metrics"
	"github.com/groomery/salonremind/services/reminder-service/internal/messages"
	"github.com/groomery/salonremind/services/reminder-service/internal/model"
	"github.com/groomery/salonremind/services/reminder-service/internal/outbox"
	"github.com/groomery/salonremind/services/reminder-service/internal/sms"
)

// AppointmentSource is the slice of the store the sweeper reads.
type AppointmentSource interface {
	FindInWindow(ctx context.Context, start, end time.Time, statuses []model.Status) ([]model.Appointment, error)
}

type CustomerSource interface {
	GetByID(ctx context.Context, id string) (model.Customer, error)
	GetDog(ctx context.Context, id string) (model.Dog, error)
}

// ReminderLog is the dedup ledger. Claim must be atomic across concurrent
// sweeps: exactly one caller per (appointment, kind) gets true.
type ReminderLog interface {
	Claim(ctx context.Context, appointmentID string, kind model.ReminderKind) (bool, error)
	Release(ctx context.Context, appointmentID string, kind model.ReminderKind) error
	RecordOutcome(ctx context.Context, appointmentID string, kind model.ReminderKind, delivered bool, providerMessageID string) error
}

type EventRecorder interface {
	Record(ctx context.Context, evt outbox.Event) error
}

// Candidate outcome labels returned in the sweep report.
const (
	OutcomeSent             = "sent"
	OutcomeFailed           = "failed"
	OutcomeAlreadySent      = "already_sent"
	OutcomeSkippedNoContact = "skipped_no_contact"
	OutcomeSkippedNoConfig  = "skipped_not_configured"
	OutcomeError            = "error"
)

type CandidateResult struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

type Result struct {
	Sent    int               `json:"sent"`
	Skipped int               `json:"skipped"`
	Checked int               `json:"checked"`
	Results []CandidateResult `json:"results"`
}

type Config struct {
	// Reminders go out when an appointment starts within [LeadMin, LeadMax)
	// from now. The window is wider than the sweep period so every
	// appointment is seen by at least two sweeps.
	LeadMin time.Duration
	LeadMax time.Duration
}

type Sweeper struct {
	appts     AppointmentSource
	customers CustomerSource
	reminders ReminderLog
	sender    sms.Sender
	msgs      messages.Builder
	events    EventRecorder
	logger    *slog.Logger
	metrics   *metrics.Reminder
	cfg       Config
}

func NewSweeper(
	appts AppointmentSource,
	customers CustomerSource,
	reminders ReminderLog,
	sender sms.Sender,
	msgs messages.Builder,
	events EventRecorder,
	logger *slog.Logger,
	m *metrics.Reminder,
	cfg Config,
) *Sweeper {
	if cfg.LeadMin <= 0 {
		cfg.LeadMin = 45 * time.Minute
	}
	if cfg.LeadMax <= cfg.LeadMin {
		cfg.LeadMax = cfg.LeadMin + 30*time.Minute
	}
	return &Sweeper{
		appts:     appts,
		customers: customers,
		reminders: reminders,
		sender:    sender,
		msgs:      msgs,
		events:    events,
		logger:    logger,
		metrics:   m,
		cfg:       cfg,
	}
}

// Sweep processes every appointment starting inside the lookahead window and
// sends at most one reminder each. One candidate failing never stops the rest.
func (s *Sweeper) Sweep(ctx context.Context, now time.Time) (Result, error) {
	start := time.Now()
	windowStart := now.Add(s.cfg.LeadMin)
	windowEnd := now.Add(s.cfg.LeadMax)

	candidates, err := s.appts.FindInWindow(ctx, windowStart, windowEnd, []model.Status{
		model.StatusPendingConfirmation,
		model.StatusConfirmed,
	})
	if err != nil {
		return Result{}, err
	}

	var res Result
	res.Checked = len(candidates)
	res.Results = make([]CandidateResult, 0, len(candidates))

	for _, appt := range candidates {
		outcome := s.process(ctx, appt)
		res.Results = append(res.Results, CandidateResult{ID: appt.ID, Status: outcome})
		switch outcome {
		case OutcomeSent:
			res.Sent++
		case OutcomeAlreadySent, OutcomeSkippedNoContact, OutcomeSkippedNoConfig, OutcomeError:
			res.Skipped++
		}
	}

	if s.metrics != nil {
		s.metrics.SweepDuration.Observe(time.Since(start).Seconds())
	}
	s.logger.Info("sweep finished",
		"window_start", windowStart.UTC().Format(time.RFC3339),
		"window_end", windowEnd.UTC().Format(time.RFC3339),
		"checked", res.Checked,
		"sent", res.Sent,
		"skipped", res.Skipped,
	)
	return res, nil
}

func (s *Sweeper) process(ctx context.Context, appt model.Appointment) string {
	customer, err := s.customers.GetByID(ctx, appt.CustomerID)
	if err != nil {
		s.logger.Error("customer lookup failed", "appointment_id", appt.ID, "err", err)
		return OutcomeError
	}
	if !customer.Reachable() {
		s.skip(OutcomeSkippedNoContact)
		return OutcomeSkippedNoContact
	}

	// Claim before sending: the unique (appointment, kind) row decides which
	// of two overlapping sweeps owns this reminder.
	claimed, err := s.reminders.Claim(ctx, appt.ID, model.KindReminder)
	if err != nil {
		s.logger.Error("reminder claim failed", "appointment_id", appt.ID, "err", err)
		return OutcomeError
	}
	if !claimed {
		s.skip(OutcomeAlreadySent)
		return OutcomeAlreadySent
	}

	dogName := ""
	if dog, err := s.customers.GetDog(ctx, appt.DogID); err == nil {
		dogName = dog.Name
	}

	delivery, err := s.sender.Send(ctx, customer.Phone, s.msgs.Reminder(dogName, appt.ScheduledAt))
	if err != nil {
		if errors.Is(err, sms.ErrNotConfigured) {
			// Give the claim back so the appointment is retried once the
			// provider credentials exist.
			s.logger.Error("sms provider not configured, reminder skipped", "appointment_id", appt.ID)
			if relErr := s.reminders.Release(ctx, appt.ID, model.KindReminder); relErr != nil {
				s.logger.Error("reminder claim release failed", "appointment_id", appt.ID, "err", relErr)
			}
			s.skip(OutcomeSkippedNoConfig)
			return OutcomeSkippedNoConfig
		}
		s.logger.Error("sms send failed", "appointment_id", appt.ID, "err", err)
		return OutcomeError
	}

	if err := s.reminders.RecordOutcome(ctx, appt.ID, model.KindReminder, delivery.Delivered, delivery.ProviderMessageID); err != nil {
		s.logger.Error("reminder outcome record failed", "appointment_id", appt.ID, "err", err)
	}
	s.emitOutcome(ctx, appt, delivery)

	if !delivery.Delivered {
		// Attempted counts for dedup; no automatic retry, the operator
		// resend endpoint is the escape hatch.
		if s.metrics != nil {
			s.metrics.RemindersFailed.Inc()
		}
		s.logger.Warn("reminder delivery failed", "appointment_id", appt.ID, "provider", s.sender.ProviderID())
		return OutcomeFailed
	}

	if s.metrics != nil {
		s.metrics.RemindersSent.Inc()
	}
	return OutcomeSent
}

func (s *Sweeper) skip(reason string) {
	if s.metrics != nil {
		s.metrics.RemindersSkipped.WithLabelValues(reason).Inc()
	}
}

func (s *Sweeper) emitOutcome(ctx context.Context, appt model.Appointment, delivery sms.Delivery) {
	if s.events == nil {
		return
	}
	eventType := outbox.TopicReminderSent
	if !delivery.Delivered {
		eventType = outbox.TopicReminderFailed
	}
	payload, err := json.Marshal(map[string]any{
		"appointment_id": appt.ID,
		"customer_id":    appt.CustomerID,
		"scheduled_at":   appt.ScheduledAt.UTC().Format(time.RFC3339),
		"provider":       s.sender.ProviderID(),
		"sent_at":        time.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		return
	}
	if err := s.events.Record(ctx, outbox.Event{
		AggregateType: "reminder",
		AggregateID:   appt.ID,
		EventType:     eventType,
		Payload:       payload,
	}); err != nil {
		s.logger.Error("reminder event record failed", "appointment_id", appt.ID, "err", err)
	}
}
