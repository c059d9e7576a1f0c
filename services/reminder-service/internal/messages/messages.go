package messages

import (
	"fmt"
	"strings"
	"time"
)

// maxLen keeps every outbound body inside two SMS segments.
const maxLen = 300

// Builder renders the fixed set of outbound SMS bodies. ScheduledAt values
// are stored in UTC; Location is only for display.
type Builder struct {
	SalonName     string
	CallbackPhone string
	Location      *time.Location
}

func NewBuilder(salonName, callbackPhone string, loc *time.Location) Builder {
	if loc == nil {
		loc = time.UTC
	}
	if salonName == "" {
		salonName = "the salon"
	}
	return Builder{SalonName: salonName, CallbackPhone: callbackPhone, Location: loc}
}

func (b Builder) when(t time.Time) string {
	return t.In(b.Location).Format("Mon Jan 2 at 3:04 PM")
}

func (b Builder) Reminder(dogName string, scheduledAt time.Time) string {
	who := "your dog"
	if dogName != "" {
		who = dogName
	}
	return b.clamp(fmt.Sprintf(
		"%s: grooming for %s on %s. Reply YES to confirm or NO to cancel.",
		b.SalonName, who, b.when(scheduledAt),
	))
}

func (b Builder) ConfirmationAck(scheduledAt time.Time) string {
	return b.clamp(fmt.Sprintf(
		"You're confirmed for %s. See you then! - %s",
		b.when(scheduledAt), b.SalonName,
	))
}

func (b Builder) CancellationAck() string {
	return b.clamp(fmt.Sprintf(
		"Your appointment has been cancelled. Call %s to rebook. - %s",
		b.CallbackPhone, b.SalonName,
	))
}

func (b Builder) TimePassed() string {
	return b.clamp(fmt.Sprintf(
		"That appointment time has already passed. Please call %s to reschedule. - %s",
		b.CallbackPhone, b.SalonName,
	))
}

func (b Builder) AlreadyConfirmed(scheduledAt time.Time) string {
	return b.clamp(fmt.Sprintf(
		"You're already confirmed for %s. Reply NO to cancel. - %s",
		b.when(scheduledAt), b.SalonName,
	))
}

func (b Builder) AlreadyCancelled() string {
	return b.clamp(fmt.Sprintf(
		"That appointment is cancelled. Call %s to book a new one. - %s",
		b.CallbackPhone, b.SalonName,
	))
}

func (b Builder) Help() string {
	return b.clamp(fmt.Sprintf(
		"Sorry, we didn't understand that. Reply YES to confirm your appointment or NO to cancel. Questions? Call %s.",
		b.CallbackPhone,
	))
}

func (b Builder) UnknownSender() string {
	return b.clamp(fmt.Sprintf(
		"We couldn't find an account for this number. Please call %s. - %s",
		b.CallbackPhone, b.SalonName,
	))
}

func (b Builder) NoPending() string {
	return b.clamp(fmt.Sprintf(
		"You have no appointment awaiting confirmation. Call %s if you'd like to book. - %s",
		b.CallbackPhone, b.SalonName,
	))
}

func (b Builder) clamp(s string) string {
	if len(s) <= maxLen {
		return s
	}
	return strings.TrimSpace(s[:maxLen-3]) + "..."
}
