package model

import "time"

// Status is the closed set of appointment states. Anything else is a bug,
// not a new state.
type Status string

const (
	StatusPendingConfirmation Status = "pending_confirmation"
	StatusConfirmed           Status = "confirmed"
	StatusInProgress          Status = "in_progress"
	StatusCompleted           Status = "completed"
	StatusCancelled           Status = "cancelled"
)

func (s Status) Valid() bool {
	switch s {
	case StatusPendingConfirmation, StatusConfirmed, StatusInProgress, StatusCompleted, StatusCancelled:
		return true
	}
	return false
}

// allowedTransitions is the single source of truth for status changes.
// Self-transitions are deliberately absent: a no-op is handled by callers
// acknowledging without mutating.
var allowedTransitions = map[Status][]Status{
	StatusPendingConfirmation: {StatusConfirmed, StatusCancelled, StatusInProgress},
	StatusConfirmed:           {StatusCancelled, StatusInProgress, StatusCompleted},
	StatusInProgress:          {StatusCompleted, StatusCancelled},
}

func CanTransition(from, to Status) bool {
	for _, next := range allowedTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

type Appointment struct {
	ID          string
	CustomerID  string
	DogID       string
	ScheduledAt time.Time
	Status      Status
	Services    []string
	ConfirmedAt *time.Time
	CancelledAt *time.Time
	CreatedAt   time.Time
}

// ReminderKind distinguishes the one-off booking confirmation request from
// the pre-appointment reminder. At most one row per (appointment, kind).
type ReminderKind string

const (
	KindConfirmationRequest ReminderKind = "confirmation_request"
	KindReminder            ReminderKind = "reminder"
)

type ReminderMessage struct {
	AppointmentID     string
	Kind              ReminderKind
	SentAt            time.Time
	DeliverySucceeded bool
	ProviderMessageID string
	CustomerResponse  string
	RespondedAt       *time.Time
}

// Customer is read-only here; profile management lives elsewhere.
type Customer struct {
	ID         string
	Name       string
	Phone      string
	SMSConsent bool
}

type Dog struct {
	ID   string
	Name string
}

// Reachable reports whether the customer can receive automated SMS at all.
func (c Customer) Reachable() bool {
	return c.SMSConsent && c.Phone != ""
}
