package storage

import (
	"context"

	"github.com/groomery/salonremind/libs/db"
)

// InboundRepository deduplicates webhook deliveries by provider message sid.
// Transports retry non-200 responses, so the same inbound SMS can arrive twice.
type InboundRepository struct {
	pool *db.Pool
}

func NewInboundRepository(pool *db.Pool) *InboundRepository {
	return &InboundRepository{pool: pool}
}

// Record returns false when this sid was already seen.
func (r *InboundRepository) Record(ctx context.Context, providerSID, fromPhone, body string) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		INSERT INTO inbound_messages (provider_sid, from_phone, body)
		VALUES ($1, $2, $3)
		ON CONFLICT (provider_sid) DO NOTHING
	`, providerSID, fromPhone, body)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}
