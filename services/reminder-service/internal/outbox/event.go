package outbox

// Event is the domain event envelope written to the outbox table.
// The Kafka topic name equals EventType (event per topic).
type Event struct {
	AggregateType string
	AggregateID   string
	EventType     string
	Payload       []byte
}

// Topics produced by the reminder service and consumed by analytics.
const (
	TopicAppointmentConfirmed = "appointment.confirmed.v1"
	TopicAppointmentCancelled = "appointment.cancelled.v1"
	TopicReminderSent         = "reminder.sent.v1"
	TopicReminderFailed       = "reminder.failed.v1"
)
