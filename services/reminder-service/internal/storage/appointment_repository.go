package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/groomery/salonremind/libs/db"
	"github.com/groomery/salonremind/services/reminder-service/internal/model"
)

type AppointmentRepository struct {
	pool *db.Pool
}

func NewAppointmentRepository(pool *db.Pool) *AppointmentRepository {
	return &AppointmentRepository{pool: pool}
}

const appointmentColumns = `id, customer_id, dog_id, scheduled_at, status, services, confirmed_at, cancelled_at, created_at`

func scanAppointment(row pgx.Row) (model.Appointment, error) {
	var appt model.Appointment
	var status string
	if err := row.Scan(
		&appt.ID,
		&appt.CustomerID,
		&appt.DogID,
		&appt.ScheduledAt,
		&status,
		&appt.Services,
		&appt.ConfirmedAt,
		&appt.CancelledAt,
		&appt.CreatedAt,
	); err != nil {
		return model.Appointment{}, err
	}
	appt.Status = model.Status(status)
	return appt, nil
}

func (r *AppointmentRepository) Create(ctx context.Context, appt *model.Appointment) (string, error) {
	var id string
	err := r.pool.QueryRow(ctx, `
		INSERT INTO appointments (customer_id, dog_id, scheduled_at, status, services)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id
	`, appt.CustomerID, appt.DogID, appt.ScheduledAt.UTC(), string(model.StatusPendingConfirmation), appt.Services).Scan(&id)
	if err != nil {
		return "", err
	}
	return id, nil
}

func (r *AppointmentRepository) GetByID(ctx context.Context, id string) (model.Appointment, error) {
	appt, err := scanAppointment(r.pool.QueryRow(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE id = $1
	`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Appointment{}, fmt.Errorf("appointment %s: %w", id, model.ErrNotFound)
	}
	return appt, err
}

// Transition is the compare-and-swap primitive. With expected set, the update
// applies only if the row still carries that status; a concurrent writer that
// got there first surfaces as ErrConflict, not a silent overwrite.
// confirmed_at / cancelled_at are written at most once (COALESCE keeps the
// first value on repeat transitions).
func (r *AppointmentRepository) Transition(ctx context.Context, id string, target model.Status, expected *model.Status) (model.Appointment, error) {
	if !target.Valid() {
		return model.Appointment{}, fmt.Errorf("unknown status %q: %w", target, model.ErrValidation)
	}

	var expectedStr *string
	if expected != nil {
		s := string(*expected)
		expectedStr = &s
	}

	appt, err := scanAppointment(r.pool.QueryRow(ctx, `
		UPDATE appointments
		SET status = $2,
			confirmed_at = CASE WHEN $2 = 'confirmed' THEN COALESCE(confirmed_at, now()) ELSE confirmed_at END,
			cancelled_at = CASE WHEN $2 = 'cancelled' THEN COALESCE(cancelled_at, now()) ELSE cancelled_at END,
			updated_at = now()
		WHERE id = $1
			AND ($3::text IS NULL OR status = $3)
		RETURNING `+appointmentColumns+`
	`, id, string(target), expectedStr))
	if err == nil {
		return appt, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return model.Appointment{}, err
	}

	// Zero rows: either the row is gone or the precondition failed.
	var exists bool
	if probeErr := r.pool.QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM appointments WHERE id = $1)
	`, id).Scan(&exists); probeErr != nil {
		return model.Appointment{}, probeErr
	}
	if !exists {
		return model.Appointment{}, fmt.Errorf("appointment %s: %w", id, model.ErrNotFound)
	}
	return model.Appointment{}, fmt.Errorf("appointment %s: %w", id, model.ErrConflict)
}

func (r *AppointmentRepository) FindInWindow(ctx context.Context, start, end time.Time, statuses []model.Status) ([]model.Appointment, error) {
	wanted := make([]string, 0, len(statuses))
	for _, s := range statuses {
		wanted = append(wanted, string(s))
	}

	rows, err := r.pool.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE scheduled_at >= $1
			AND scheduled_at < $2
			AND status = ANY($3)
		ORDER BY scheduled_at ASC
	`, start.UTC(), end.UTC(), wanted)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var appts []model.Appointment
	for rows.Next() {
		appt, err := scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		appts = append(appts, appt)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return appts, nil
}

func (r *AppointmentRepository) FindSoonestPending(ctx context.Context, customerID string) (model.Appointment, bool, error) {
	return r.findSoonestInStatus(ctx, customerID, model.StatusPendingConfirmation)
}

func (r *AppointmentRepository) FindSoonestConfirmed(ctx context.Context, customerID string) (model.Appointment, bool, error) {
	return r.findSoonestInStatus(ctx, customerID, model.StatusConfirmed)
}

func (r *AppointmentRepository) findSoonestInStatus(ctx context.Context, customerID string, status model.Status) (model.Appointment, bool, error) {
	appt, err := scanAppointment(r.pool.QueryRow(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE customer_id = $1 AND status = $2
		ORDER BY scheduled_at ASC
		LIMIT 1
	`, customerID, string(status)))
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Appointment{}, false, nil
	}
	if err != nil {
		return model.Appointment{}, false, err
	}
	return appt, true, nil
}

// Reschedule moves the slot and puts the appointment back in front of the
// confirmation flow. The stale reminder claim is removed in the same
// transaction so the new slot becomes eligible for exactly one fresh reminder.
func (r *AppointmentRepository) Reschedule(ctx context.Context, id string, newTime time.Time) (model.Appointment, error) {
	var appt model.Appointment
	err := r.pool.WithTx(ctx, func(tx pgx.Tx) error {
		var err error
		appt, err = scanAppointment(tx.QueryRow(ctx, `
			UPDATE appointments
			SET scheduled_at = $2,
				status = 'pending_confirmation',
				updated_at = now()
			WHERE id = $1
				AND status NOT IN ('completed', 'cancelled')
			RETURNING `+appointmentColumns+`
		`, id, newTime.UTC()))
		if errors.Is(err, pgx.ErrNoRows) {
			var exists bool
			if probeErr := tx.QueryRow(ctx, `
				SELECT EXISTS (SELECT 1 FROM appointments WHERE id = $1)
			`, id).Scan(&exists); probeErr != nil {
				return probeErr
			}
			if !exists {
				return fmt.Errorf("appointment %s: %w", id, model.ErrNotFound)
			}
			return fmt.Errorf("appointment %s already closed: %w", id, model.ErrConflict)
		}
		if err != nil {
			return err
		}

		_, err = tx.Exec(ctx, `
			DELETE FROM reminder_messages
			WHERE appointment_id = $1 AND kind = 'reminder'
		`, id)
		return err
	})
	if err != nil {
		return model.Appointment{}, err
	}
	return appt, nil
}

func IsUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func IsNotFound(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}
