package postgres

import (
	"context"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xenking/promo-engine/internal/domain/redemption"
)

const recordOrderEventSQL = `INSERT INTO order_events (id, order_id, action, note)
	VALUES ($1, $2, $3, $4)`

var _ redemption.EventRecorder = (*EventRecorder)(nil)

// EventRecorder appends order-event rows. Failures are logged and swallowed:
// the event log is an audit trail, not part of the lifecycle contract.
type EventRecorder struct {
	db  *DB
	log *zap.Logger
}

// NewEventRecorder returns an EventRecorder using the given DB.
func NewEventRecorder(db *DB, log *zap.Logger) *EventRecorder {
	return &EventRecorder{db: db, log: log}
}

// Record writes one event row for the order.
func (r *EventRecorder) Record(ctx context.Context, orderID, action, note string) {
	_, err := r.db.conn(ctx).Exec(ctx, recordOrderEventSQL, uuid.New().String(), orderID, action, note)
	if err != nil {
		r.log.Warn("recording order event",
			zap.String("order_id", orderID),
			zap.String("action", action),
			zap.Error(err),
		)
	}
}
