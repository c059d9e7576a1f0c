package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/groomery/salonremind/libs/db"
	"github.com/groomery/salonremind/services/reminder-service/internal/model"
)

type ReminderRepository struct {
	pool *db.Pool
}

func NewReminderRepository(pool *db.Pool) *ReminderRepository {
	return &ReminderRepository{pool: pool}
}

// Claim inserts the dedup row for (appointment, kind) before anything is sent.
// The UNIQUE constraint makes this the arbiter between overlapping sweeps:
// exactly one caller gets true, everyone else sees an existing claim.
func (r *ReminderRepository) Claim(ctx context.Context, appointmentID string, kind model.ReminderKind) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		INSERT INTO reminder_messages (appointment_id, kind, sent_at, delivery_succeeded)
		VALUES ($1, $2, now(), false)
		ON CONFLICT (appointment_id, kind) DO NOTHING
	`, appointmentID, string(kind))
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// Release undoes a claim that never reached the provider (missing
// credentials). The appointment becomes eligible again once config is fixed.
func (r *ReminderRepository) Release(ctx context.Context, appointmentID string, kind model.ReminderKind) error {
	_, err := r.pool.Exec(ctx, `
		DELETE FROM reminder_messages
		WHERE appointment_id = $1 AND kind = $2 AND customer_response IS NULL
	`, appointmentID, string(kind))
	return err
}

func (r *ReminderRepository) RecordOutcome(ctx context.Context, appointmentID string, kind model.ReminderKind, delivered bool, providerMessageID string) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE reminder_messages
		SET sent_at = now(),
			delivery_succeeded = $3,
			provider_message_id = NULLIF($4, '')
		WHERE appointment_id = $1 AND kind = $2
	`, appointmentID, string(kind), delivered, providerMessageID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("reminder row for appointment %s: %w", appointmentID, model.ErrNotFound)
	}
	return nil
}

// RecordResponse stores the customer's raw reply once. A second reply leaves
// the first value in place; acknowledgments are still sent by the caller.
func (r *ReminderRepository) RecordResponse(ctx context.Context, appointmentID string, response string, respondedAt time.Time) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE reminder_messages
		SET customer_response = $2,
			responded_at = $3
		WHERE appointment_id = $1
			AND kind = 'reminder'
			AND customer_response IS NULL
	`, appointmentID, response, respondedAt.UTC())
	return err
}

func (r *ReminderRepository) Get(ctx context.Context, appointmentID string, kind model.ReminderKind) (model.ReminderMessage, error) {
	var msg model.ReminderMessage
	var kindStr string
	var providerID, response *string
	err := r.pool.QueryRow(ctx, `
		SELECT appointment_id, kind, sent_at, delivery_succeeded, provider_message_id, customer_response, responded_at
		FROM reminder_messages
		WHERE appointment_id = $1 AND kind = $2
	`, appointmentID, string(kind)).Scan(
		&msg.AppointmentID,
		&kindStr,
		&msg.SentAt,
		&msg.DeliverySucceeded,
		&providerID,
		&response,
		&msg.RespondedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.ReminderMessage{}, fmt.Errorf("reminder row for appointment %s: %w", appointmentID, model.ErrNotFound)
	}
	if err != nil {
		return model.ReminderMessage{}, err
	}
	msg.Kind = model.ReminderKind(kindStr)
	if providerID != nil {
		msg.ProviderMessageID = *providerID
	}
	if response != nil {
		msg.CustomerResponse = *response
	}
	return msg, nil
}
