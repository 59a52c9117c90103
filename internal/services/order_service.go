package services

import (
	"context"
	"errors"
	"time"

	"expertmarket/internal/models"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

var (
	ErrMissingConsumer         = errors.New("missing consumer id")
	ErrMissingExpert           = errors.New("missing expert id")
	ErrMissingPaymentMethod    = errors.New("missing payment method")
	ErrInvalidPrice            = errors.New("price must be positive")
	ErrInvalidDuration         = errors.New("duration must be positive")
	ErrSessionAlreadyCancelled = errors.New("session is already cancelled")
)

const orderSequenceKey = "order"

// Store is the persistence surface the request path needs.
type Store interface {
	NextInSequence(ctx context.Context, key string) (int64, error)
	CreateOrder(ctx context.Context, order *models.Order) error
	GetOrder(ctx context.Context, id uuid.UUID) (*models.Order, error)
	ListSubOrders(ctx context.Context, parentID uuid.UUID) ([]*models.Order, error)
	CreateSession(ctx context.Context, sess *models.Session) error
	GetSession(ctx context.Context, id uuid.UUID) (*models.Session, error)
	GetSessionByOrder(ctx context.Context, orderID uuid.UUID) (*models.Session, error)
	CancelSession(ctx context.Context, sessionID uuid.UUID) error
}

// Canceller is the settlement surface the cancellation path calls
// synchronously.
type Canceller interface {
	CancelSessionWithFullRefund(ctx context.Context, sess *models.Session) error
	CancelSessionWithPartialRefund(ctx context.Context, sess *models.Session) error
}

type OrderService struct {
	Store      Store
	Settlement Canceller
	Currency   string
	// LateCancellationCutoff is how close to the session start a
	// cancellation stops being free.
	LateCancellationCutoff time.Duration

	Now func() time.Time
}

func (s *OrderService) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now().UTC()
}

type CreateSessionOrderInput struct {
	ConsumerID      uuid.UUID
	ExpertID        uuid.UUID
	StartsAt        time.Time
	DurationMinutes int
	Price           decimal.Decimal
	PaymentMethodID string
}

// CreateSessionOrder mints an order number from the sequence ledger
// and persists the order together with its session.
func (s *OrderService) CreateSessionOrder(ctx context.Context, in CreateSessionOrderInput) (*models.Order, *models.Session, error) {
	if in.ConsumerID == uuid.Nil {
		return nil, nil, ErrMissingConsumer
	}
	if in.ExpertID == uuid.Nil {
		return nil, nil, ErrMissingExpert
	}
	if in.PaymentMethodID == "" {
		return nil, nil, ErrMissingPaymentMethod
	}
	if !in.Price.IsPositive() {
		return nil, nil, ErrInvalidPrice
	}
	if in.DurationMinutes <= 0 {
		return nil, nil, ErrInvalidDuration
	}

	number, err := s.Store.NextInSequence(ctx, orderSequenceKey)
	if err != nil {
		return nil, nil, err
	}

	orderID := uuid.New()
	sessionID := uuid.New()
	order := &models.Order{
		ID:              orderID,
		OrderNumber:     number,
		ConsumerID:      in.ConsumerID,
		ExpertID:        in.ExpertID,
		Status:          models.OrderComplete,
		PaymentStatus:   models.PaymentNotStarted,
		PaymentMethodID: &in.PaymentMethodID,
		Items: []models.OrderItem{
			{
				ID:      uuid.New(),
				OrderID: orderID,
				Type:    models.ItemSession,
				Status:  models.ItemFulfilled,
				TotalPrice: models.Price{
					Amount:       in.Price,
					CurrencyCode: s.Currency,
				},
				Data: models.SessionItemData{
					SessionID:       sessionID,
					StartsAt:        in.StartsAt,
					DurationMinutes: in.DurationMinutes,
				},
			},
		},
	}

	sess := &models.Session{
		ID:         sessionID,
		OrderID:    orderID,
		ConsumerID: in.ConsumerID,
		ExpertID:   in.ExpertID,
		Status:     models.SessionNotStarted,
		StartsAt:   in.StartsAt,
		EndsAt:     in.StartsAt.Add(time.Duration(in.DurationMinutes) * time.Minute),
	}

	if err := s.Store.CreateOrder(ctx, order); err != nil {
		return nil, nil, err
	}
	if err := s.Store.CreateSession(ctx, sess); err != nil {
		return nil, nil, err
	}
	return order, sess, nil
}

// CreateExtensionOrder bills extra session time as a sub-order of the
// original session order.
func (s *OrderService) CreateExtensionOrder(ctx context.Context, parentOrderID uuid.UUID, addedMinutes int, price decimal.Decimal) (*models.Order, error) {
	if !price.IsPositive() {
		return nil, ErrInvalidPrice
	}
	if addedMinutes <= 0 {
		return nil, ErrInvalidDuration
	}

	parent, err := s.Store.GetOrder(ctx, parentOrderID)
	if err != nil {
		return nil, err
	}
	sess, err := s.Store.GetSessionByOrder(ctx, parent.ID)
	if err != nil {
		return nil, err
	}

	number, err := s.Store.NextInSequence(ctx, orderSequenceKey)
	if err != nil {
		return nil, err
	}

	orderID := uuid.New()
	order := &models.Order{
		ID:              orderID,
		OrderNumber:     number,
		ConsumerID:      parent.ConsumerID,
		ExpertID:        parent.ExpertID,
		Status:          models.OrderComplete,
		PaymentStatus:   models.PaymentNotStarted,
		PaymentMethodID: parent.PaymentMethodID,
		ParentOrderID:   &parent.ID,
		Items: []models.OrderItem{
			{
				ID:      uuid.New(),
				OrderID: orderID,
				Type:    models.ItemSessionExtension,
				Status:  models.ItemFulfilled,
				TotalPrice: models.Price{
					Amount:       price,
					CurrencyCode: s.Currency,
				},
				Data: models.SessionExtensionData{
					SessionID:    sess.ID,
					AddedMinutes: addedMinutes,
				},
			},
		},
	}

	if err := s.Store.CreateOrder(ctx, order); err != nil {
		return nil, err
	}
	return order, nil
}

// GetOrder loads an order together with its sub-orders, so callers can
// derive the grand total.
func (s *OrderService) GetOrder(ctx context.Context, id uuid.UUID) (*models.Order, []*models.Order, error) {
	order, err := s.Store.GetOrder(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	subOrders, err := s.Store.ListSubOrders(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	return order, subOrders, nil
}

// CancelSession is the synchronous cancellation entrypoint. Inside the
// late-cancellation cutoff the fee applies and the partial-refund path
// runs; before it the cancellation is free.
func (s *OrderService) CancelSession(ctx context.Context, sessionID uuid.UUID) error {
	sess, err := s.Store.GetSession(ctx, sessionID)
	if err != nil {
		return err
	}
	if sess.Status == models.SessionCancelled {
		return ErrSessionAlreadyCancelled
	}

	late := s.now().After(sess.StartsAt.Add(-s.LateCancellationCutoff))
	if late {
		err = s.Settlement.CancelSessionWithPartialRefund(ctx, sess)
	} else {
		err = s.Settlement.CancelSessionWithFullRefund(ctx, sess)
	}
	if err != nil {
		return err
	}
	return s.Store.CancelSession(ctx, sessionID)
}
