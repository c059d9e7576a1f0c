package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/groomery/salonremind/libs/db"
	"github.com/groomery/salonremind/services/reminder-service/internal/model"
)

type CustomerRepository struct {
	pool *db.Pool
}

func NewCustomerRepository(pool *db.Pool) *CustomerRepository {
	return &CustomerRepository{pool: pool}
}

func (r *CustomerRepository) GetByID(ctx context.Context, id string) (model.Customer, error) {
	return r.get(ctx, `
		SELECT id, name, COALESCE(phone, ''), sms_consent
		FROM customers
		WHERE id = $1
	`, id)
}

// GetByPhone matches the sender of an inbound SMS. Phones are stored
// normalized (E.164), so a trimmed exact match is enough.
func (r *CustomerRepository) GetByPhone(ctx context.Context, phone string) (model.Customer, error) {
	return r.get(ctx, `
		SELECT id, name, COALESCE(phone, ''), sms_consent
		FROM customers
		WHERE phone = $1
	`, strings.TrimSpace(phone))
}

func (r *CustomerRepository) get(ctx context.Context, query string, arg any) (model.Customer, error) {
	var c model.Customer
	err := r.pool.QueryRow(ctx, query, arg).Scan(&c.ID, &c.Name, &c.Phone, &c.SMSConsent)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Customer{}, fmt.Errorf("customer: %w", model.ErrNotFound)
	}
	if err != nil {
		return model.Customer{}, err
	}
	return c, nil
}

func (r *CustomerRepository) GetDog(ctx context.Context, id string) (model.Dog, error) {
	var d model.Dog
	err := r.pool.QueryRow(ctx, `
		SELECT id, name
		FROM dogs
		WHERE id = $1
	`, id).Scan(&d.ID, &d.Name)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Dog{}, fmt.Errorf("dog %s: %w", id, model.ErrNotFound)
	}
	if err != nil {
		return model.Dog{}, err
	}
	return d, nil
}
