package store

import (
	"context"
	"database/sql"
	"time"

	"expertmarket/internal/models"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type Store struct {
	Pool *pgxpool.Pool
}

func New(pool *pgxpool.Pool) *Store {
	return &Store{Pool: pool}
}

const orderColumns = `
	o.id, o.order_number, o.consumer_id, o.expert_id, o.status,
	o.payment_status, o.refund_status, o.payment_method_id,
	o.gateway_order_id, o.gateway_client_secret, o.parent_order_id,
	o.payment_failure_date, o.created_at, o.updated_at`

func (s *Store) CreateOrder(ctx context.Context, order *models.Order) error {
	return pgx.BeginFunc(ctx, s.Pool, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			INSERT INTO orders (
				id, order_number, consumer_id, expert_id, status,
				payment_status, refund_status, payment_method_id,
				gateway_order_id, gateway_client_secret, parent_order_id,
				payment_failure_date
			) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
		`,
			order.ID,
			order.OrderNumber,
			order.ConsumerID,
			order.ExpertID,
			order.Status,
			order.PaymentStatus,
			order.RefundStatus,
			order.PaymentMethodID,
			order.GatewayOrderID,
			order.GatewayClientSecret,
			order.ParentOrderID,
			order.PaymentFailureDate,
		)
		if err != nil {
			return err
		}
		return insertItems(ctx, tx, order.ID, order.Items)
	})
}

func insertItems(ctx context.Context, tx pgx.Tx, orderID uuid.UUID, items []models.OrderItem) error {
	for _, item := range items {
		data, err := models.EncodeItemData(item.Type, item.Data)
		if err != nil {
			return err
		}
		_, err = tx.Exec(ctx, `
			INSERT INTO order_items (id, order_id, item_type, status, amount, currency_code, data)
			VALUES ($1,$2,$3,$4,$5,$6,$7)
		`,
			item.ID,
			orderID,
			item.Type,
			item.Status,
			item.TotalPrice.Amount,
			item.TotalPrice.CurrencyCode,
			data,
		)
		if err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) GetOrder(ctx context.Context, id uuid.UUID) (*models.Order, error) {
	row := s.Pool.QueryRow(ctx, `SELECT`+orderColumns+` FROM orders o WHERE o.id=$1`, id)
	order, err := scanOrder(row)
	if err != nil {
		return nil, err
	}
	if err := s.loadItems(ctx, order); err != nil {
		return nil, err
	}
	return order, nil
}

// ListSubOrders resolves an order's children; sub-orders are derived
// by this lookup, never stored on the parent.
func (s *Store) ListSubOrders(ctx context.Context, parentID uuid.UUID) ([]*models.Order, error) {
	rows, err := s.Pool.Query(ctx, `SELECT`+orderColumns+` FROM orders o WHERE o.parent_order_id=$1 ORDER BY o.order_number`, parentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var orders []*models.Order
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, order)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for _, order := range orders {
		if err := s.loadItems(ctx, order); err != nil {
			return nil, err
		}
	}
	return orders, nil
}

func (s *Store) loadItems(ctx context.Context, order *models.Order) error {
	rows, err := s.Pool.Query(ctx, `
		SELECT id, order_id, item_type, status, amount, currency_code, data
		FROM order_items WHERE order_id=$1 ORDER BY id
	`, order.ID)
	if err != nil {
		return err
	}
	defer rows.Close()

	order.Items = nil
	for rows.Next() {
		var item models.OrderItem
		var raw []byte
		if err := rows.Scan(
			&item.ID,
			&item.OrderID,
			&item.Type,
			&item.Status,
			&item.TotalPrice.Amount,
			&item.TotalPrice.CurrencyCode,
			&raw,
		); err != nil {
			return err
		}
		data, err := models.DecodeItemData(item.Type, raw)
		if err != nil {
			return err
		}
		item.Data = data
		order.Items = append(order.Items, item)
	}
	return rows.Err()
}

// ReplaceOrderItems swaps an order's line items in one transaction.
// Used by the late-cancellation re-pricing path.
func (s *Store) ReplaceOrderItems(ctx context.Context, orderID uuid.UUID, items []models.OrderItem) error {
	return pgx.BeginFunc(ctx, s.Pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM order_items WHERE order_id=$1`, orderID); err != nil {
			return err
		}
		return insertItems(ctx, tx, orderID, items)
	})
}

func (s *Store) SetGatewayRef(ctx context.Context, orderID uuid.UUID, gatewayOrderID, clientSecret string) error {
	_, err := s.Pool.Exec(ctx, `
		UPDATE orders
		SET gateway_order_id=$2, gateway_client_secret=$3, updated_at=now()
		WHERE id=$1
	`, orderID, gatewayOrderID, clientSecret)
	return err
}

// ClearGatewayRef drops the mirrored gateway reference and resets the
// payment state, the local half of releasing a hold.
func (s *Store) ClearGatewayRef(ctx context.Context, orderID uuid.UUID) error {
	_, err := s.Pool.Exec(ctx, `
		UPDATE orders
		SET gateway_order_id=NULL, gateway_client_secret=NULL,
			payment_status=$2, updated_at=now()
		WHERE id=$1
	`, orderID, models.PaymentNotStarted)
	return err
}

func (s *Store) SetPaymentStatus(ctx context.Context, orderID uuid.UUID, status models.PaymentStatus) error {
	_, err := s.Pool.Exec(ctx, `
		UPDATE orders SET payment_status=$2, updated_at=now() WHERE id=$1
	`, orderID, status)
	return err
}

func (s *Store) MarkAuthorizationFailed(ctx context.Context, orderID uuid.UUID, at time.Time) error {
	_, err := s.Pool.Exec(ctx, `
		UPDATE orders
		SET payment_status=$2, payment_failure_date=$3, updated_at=now()
		WHERE id=$1
	`, orderID, models.PaymentFailedAuthorization, at)
	return err
}

func (s *Store) SetRefundStatus(ctx context.Context, orderID uuid.UUID, status models.RefundStatus) error {
	_, err := s.Pool.Exec(ctx, `
		UPDATE orders SET refund_status=$2, updated_at=now() WHERE id=$1
	`, orderID, status)
	return err
}

func (s *Store) CancelOrder(ctx context.Context, orderID uuid.UUID) error {
	_, err := s.Pool.Exec(ctx, `
		UPDATE orders SET status=$2, updated_at=now() WHERE id=$1
	`, orderID, models.OrderCancelled)
	return err
}

func (s *Store) CreateSession(ctx context.Context, sess *models.Session) error {
	_, err := s.Pool.Exec(ctx, `
		INSERT INTO sessions (id, order_id, consumer_id, expert_id, status, starts_at, ends_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
	`,
		sess.ID,
		sess.OrderID,
		sess.ConsumerID,
		sess.ExpertID,
		sess.Status,
		sess.StartsAt,
		sess.EndsAt,
	)
	return err
}

const sessionColumns = `
	s.id, s.order_id, s.consumer_id, s.expert_id, s.status,
	s.attendance_result, s.starts_at, s.ends_at, s.ended_at,
	s.created_at, s.updated_at`

func (s *Store) GetSession(ctx context.Context, id uuid.UUID) (*models.Session, error) {
	row := s.Pool.QueryRow(ctx, `SELECT`+sessionColumns+` FROM sessions s WHERE s.id=$1`, id)
	return scanSession(row)
}

func (s *Store) GetSessionByOrder(ctx context.Context, orderID uuid.UUID) (*models.Session, error) {
	row := s.Pool.QueryRow(ctx, `SELECT`+sessionColumns+` FROM sessions s WHERE s.order_id=$1`, orderID)
	return scanSession(row)
}

func (s *Store) CancelSession(ctx context.Context, sessionID uuid.UUID) error {
	_, err := s.Pool.Exec(ctx, `
		UPDATE sessions SET status=$2, updated_at=now() WHERE id=$1
	`, sessionID, models.SessionCancelled)
	return err
}

// SetAttendanceResult writes the outcome once; a session that already
// has a result is never recomputed.
func (s *Store) SetAttendanceResult(ctx context.Context, sessionID uuid.UUID, result models.AttendanceResult) error {
	_, err := s.Pool.Exec(ctx, `
		UPDATE sessions
		SET attendance_result=$2, updated_at=now()
		WHERE id=$1 AND attendance_result IS NULL
	`, sessionID, result)
	return err
}

func (s *Store) RecordCheckIn(ctx context.Context, rec *models.AttendanceRecord) error {
	_, err := s.Pool.Exec(ctx, `
		INSERT INTO attendance_records (session_id, user_id, role, joined_at)
		VALUES ($1,$2,$3,$4)
		ON CONFLICT (session_id, user_id) DO NOTHING
	`, rec.SessionID, rec.UserID, rec.Role, rec.JoinedAt)
	return err
}

func (s *Store) ListCheckIns(ctx context.Context, sessionID uuid.UUID) ([]models.AttendanceRecord, error) {
	rows, err := s.Pool.Query(ctx, `
		SELECT session_id, user_id, role, joined_at
		FROM attendance_records WHERE session_id=$1
	`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var recs []models.AttendanceRecord
	for rows.Next() {
		var rec models.AttendanceRecord
		if err := rows.Scan(&rec.SessionID, &rec.UserID, &rec.Role, &rec.JoinedAt); err != nil {
			return nil, err
		}
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}

func scanOrder(row pgx.Row) (*models.Order, error) {
	var order models.Order
	var refundStatus sql.NullString
	var paymentMethodID sql.NullString
	var gatewayOrderID sql.NullString
	var gatewayClientSecret sql.NullString
	var parentOrderID *uuid.UUID
	var paymentFailureDate sql.NullTime

	err := row.Scan(
		&order.ID,
		&order.OrderNumber,
		&order.ConsumerID,
		&order.ExpertID,
		&order.Status,
		&order.PaymentStatus,
		&refundStatus,
		&paymentMethodID,
		&gatewayOrderID,
		&gatewayClientSecret,
		&parentOrderID,
		&paymentFailureDate,
		&order.CreatedAt,
		&order.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if refundStatus.Valid {
		st := models.RefundStatus(refundStatus.String)
		order.RefundStatus = &st
	}
	if paymentMethodID.Valid {
		order.PaymentMethodID = &paymentMethodID.String
	}
	if gatewayOrderID.Valid {
		order.GatewayOrderID = &gatewayOrderID.String
	}
	if gatewayClientSecret.Valid {
		order.GatewayClientSecret = &gatewayClientSecret.String
	}
	order.ParentOrderID = parentOrderID
	if paymentFailureDate.Valid {
		order.PaymentFailureDate = &paymentFailureDate.Time
	}
	return &order, nil
}

func scanSession(row pgx.Row) (*models.Session, error) {
	var sess models.Session
	var attendance sql.NullString
	var endedAt sql.NullTime

	err := row.Scan(
		&sess.ID,
		&sess.OrderID,
		&sess.ConsumerID,
		&sess.ExpertID,
		&sess.Status,
		&attendance,
		&sess.StartsAt,
		&sess.EndsAt,
		&endedAt,
		&sess.CreatedAt,
		&sess.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if attendance.Valid {
		r := models.AttendanceResult(attendance.String)
		sess.AttendanceResult = &r
	}
	if endedAt.Valid {
		sess.EndedAt = &endedAt.Time
	}
	return &sess, nil
}
