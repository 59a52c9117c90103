package store

import (
	"context"
	"time"

	"expertmarket/internal/models"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// OrderRef is a batch-job candidate: an order id together with the
// session it is billed for (resolved through the parent order when the
// candidate is a sub-order).
type OrderRef struct {
	OrderID   uuid.UUID
	SessionID uuid.UUID
}

type SessionRef struct {
	SessionID uuid.UUID
}

func scanOrderRef(rows pgx.Rows) (OrderRef, error) {
	var ref OrderRef
	err := rows.Scan(&ref.OrderID, &ref.SessionID)
	return ref, err
}

func scanSessionRef(rows pgx.Rows) (SessionRef, error) {
	var ref SessionRef
	err := rows.Scan(&ref.SessionID)
	return ref, err
}

// AuthorizationCandidatesQuery selects completed, not-yet-held orders
// whose session starts before horizon and is not cancelled.
func AuthorizationCandidatesQuery(horizon time.Time) AggregateQuery {
	return AggregateQuery{
		Select: "o.id, s.id",
		From:   "orders o",
		Stages: []Stage{
			{Join: "JOIN sessions s ON s.order_id = COALESCE(o.parent_order_id, o.id)"},
			{Where: "o.status = ?", Args: []any{models.OrderComplete}},
			{Where: "o.payment_status = ?", Args: []any{models.PaymentNotStarted}},
			{Where: "s.status <> ?", Args: []any{models.SessionCancelled}},
			{Where: "s.starts_at <= ?", Args: []any{horizon}},
		},
	}
}

func (s *Store) AuthorizationCandidates(ctx context.Context, req PageRequest, horizon time.Time) (*Page[OrderRef], error) {
	return Aggregate(ctx, s.Pool, AuthorizationCandidatesQuery(horizon), req, scanOrderRef)
}

// CaptureCandidatesQuery selects top-level held orders whose session
// had full attendance.
func CaptureCandidatesQuery() AggregateQuery {
	return AggregateQuery{
		Select: "o.id, s.id",
		From:   "orders o",
		Stages: []Stage{
			{Join: "JOIN sessions s ON s.order_id = o.id"},
			{Where: "o.parent_order_id IS NULL"},
			{Where: "o.payment_status = ?", Args: []any{models.PaymentAuthorized}},
			{Where: "s.attendance_result = ?", Args: []any{models.AllPresent}},
		},
	}
}

func (s *Store) CaptureCandidates(ctx context.Context, req PageRequest) (*Page[OrderRef], error) {
	return Aggregate(ctx, s.Pool, CaptureCandidatesQuery(), req, scanOrderRef)
}

// AutoCancelCandidatesQuery selects orders whose authorization failed
// before cutoff and was never recovered.
func AutoCancelCandidatesQuery(cutoff time.Time) AggregateQuery {
	return AggregateQuery{
		Select: "o.id, s.id",
		From:   "orders o",
		Stages: []Stage{
			{Join: "JOIN sessions s ON s.order_id = COALESCE(o.parent_order_id, o.id)"},
			{Where: "o.payment_status = ?", Args: []any{models.PaymentFailedAuthorization}},
			{Where: "o.payment_failure_date < ?", Args: []any{cutoff}},
			{Where: "o.status <> ?", Args: []any{models.OrderCancelled}},
		},
	}
}

func (s *Store) AutoCancelCandidates(ctx context.Context, req PageRequest, cutoff time.Time) (*Page[OrderRef], error) {
	return Aggregate(ctx, s.Pool, AutoCancelCandidatesQuery(cutoff), req, scanOrderRef)
}

// AttendanceCandidatesQuery selects sessions that have finished (hit
// their scheduled end or were explicitly ended) with no attendance
// outcome recorded yet.
func AttendanceCandidatesQuery(now time.Time) AggregateQuery {
	return AggregateQuery{
		Select: "s.id",
		From:   "sessions s",
		Stages: []Stage{
			{Where: "s.attendance_result IS NULL"},
			{Where: "s.status <> ?", Args: []any{models.SessionCancelled}},
			{Where: "(s.ended_at IS NOT NULL OR s.ends_at < ?)", Args: []any{now}},
		},
	}
}

func (s *Store) AttendanceCandidates(ctx context.Context, req PageRequest, now time.Time) (*Page[SessionRef], error) {
	return Aggregate(ctx, s.Pool, AttendanceCandidatesQuery(now), req, scanSessionRef)
}
