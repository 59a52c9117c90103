package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"expertmarket/internal/models"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeStore struct {
	sequence int64
	orders   map[uuid.UUID]*models.Order
	sessions map[uuid.UUID]*models.Session

	cancelledSessions []uuid.UUID
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		sequence: 1000,
		orders:   make(map[uuid.UUID]*models.Order),
		sessions: make(map[uuid.UUID]*models.Session),
	}
}

func (f *fakeStore) NextInSequence(_ context.Context, _ string) (int64, error) {
	f.sequence++
	return f.sequence, nil
}

func (f *fakeStore) CreateOrder(_ context.Context, order *models.Order) error {
	f.orders[order.ID] = order
	return nil
}

func (f *fakeStore) GetOrder(_ context.Context, id uuid.UUID) (*models.Order, error) {
	o, ok := f.orders[id]
	if !ok {
		return nil, errors.New("order not found")
	}
	return o, nil
}

func (f *fakeStore) ListSubOrders(_ context.Context, parentID uuid.UUID) ([]*models.Order, error) {
	var out []*models.Order
	for _, o := range f.orders {
		if o.ParentOrderID != nil && *o.ParentOrderID == parentID {
			out = append(out, o)
		}
	}
	return out, nil
}

func (f *fakeStore) CreateSession(_ context.Context, sess *models.Session) error {
	f.sessions[sess.ID] = sess
	return nil
}

func (f *fakeStore) GetSession(_ context.Context, id uuid.UUID) (*models.Session, error) {
	s, ok := f.sessions[id]
	if !ok {
		return nil, errors.New("session not found")
	}
	return s, nil
}

func (f *fakeStore) GetSessionByOrder(_ context.Context, orderID uuid.UUID) (*models.Session, error) {
	for _, s := range f.sessions {
		if s.OrderID == orderID {
			return s, nil
		}
	}
	return nil, errors.New("session not found")
}

func (f *fakeStore) CancelSession(_ context.Context, sessionID uuid.UUID) error {
	f.cancelledSessions = append(f.cancelledSessions, sessionID)
	f.sessions[sessionID].Status = models.SessionCancelled
	return nil
}

type fakeCanceller struct {
	fullCalls    int
	partialCalls int
	err          error
}

func (f *fakeCanceller) CancelSessionWithFullRefund(_ context.Context, _ *models.Session) error {
	f.fullCalls++
	return f.err
}

func (f *fakeCanceller) CancelSessionWithPartialRefund(_ context.Context, _ *models.Session) error {
	f.partialCalls++
	return f.err
}

var fixedNow = time.Date(2026, 8, 28, 12, 0, 0, 0, time.UTC)

func newTestService(st *fakeStore, canceller *fakeCanceller) *OrderService {
	return &OrderService{
		Store:                  st,
		Settlement:             canceller,
		Currency:               "usd",
		LateCancellationCutoff: 24 * time.Hour,
		Now:                    func() time.Time { return fixedNow },
	}
}

func validInput() CreateSessionOrderInput {
	return CreateSessionOrderInput{
		ConsumerID:      uuid.New(),
		ExpertID:        uuid.New(),
		StartsAt:        fixedNow.Add(72 * time.Hour),
		DurationMinutes: 60,
		Price:           decimal.RequireFromString("59.99"),
		PaymentMethodID: "pm_123",
	}
}

func TestCreateSessionOrderMintsSequentialNumbers(t *testing.T) {
	st := newFakeStore()
	svc := newTestService(st, &fakeCanceller{})

	first, _, err := svc.CreateSessionOrder(context.Background(), validInput())
	require.NoError(t, err)
	second, _, err := svc.CreateSessionOrder(context.Background(), validInput())
	require.NoError(t, err)

	assert.Equal(t, first.OrderNumber+1, second.OrderNumber)
}

func TestCreateSessionOrderPersistsOrderAndSession(t *testing.T) {
	st := newFakeStore()
	svc := newTestService(st, &fakeCanceller{})
	in := validInput()

	order, sess, err := svc.CreateSessionOrder(context.Background(), in)

	require.NoError(t, err)
	assert.Equal(t, models.OrderComplete, order.Status)
	assert.Equal(t, models.PaymentNotStarted, order.PaymentStatus)
	require.NotNil(t, order.PaymentMethodID)
	assert.Equal(t, "pm_123", *order.PaymentMethodID)

	require.Len(t, order.Items, 1)
	item := order.Items[0]
	assert.Equal(t, models.ItemSession, item.Type)
	assert.Equal(t, models.ItemFulfilled, item.Status)
	assert.True(t, item.TotalPrice.Amount.Equal(in.Price))

	data, ok := item.Data.(models.SessionItemData)
	require.True(t, ok)
	assert.Equal(t, sess.ID, data.SessionID)

	assert.Equal(t, order.ID, sess.OrderID)
	assert.Equal(t, in.StartsAt.Add(time.Hour), sess.EndsAt)
	assert.Contains(t, st.orders, order.ID)
	assert.Contains(t, st.sessions, sess.ID)
}

func TestCreateSessionOrderValidation(t *testing.T) {
	cases := []struct {
		name    string
		mutate  func(*CreateSessionOrderInput)
		wantErr error
	}{
		{"missing consumer", func(in *CreateSessionOrderInput) { in.ConsumerID = uuid.Nil }, ErrMissingConsumer},
		{"missing expert", func(in *CreateSessionOrderInput) { in.ExpertID = uuid.Nil }, ErrMissingExpert},
		{"missing payment method", func(in *CreateSessionOrderInput) { in.PaymentMethodID = "" }, ErrMissingPaymentMethod},
		{"zero price", func(in *CreateSessionOrderInput) { in.Price = decimal.Zero }, ErrInvalidPrice},
		{"negative price", func(in *CreateSessionOrderInput) { in.Price = decimal.RequireFromString("-1") }, ErrInvalidPrice},
		{"zero duration", func(in *CreateSessionOrderInput) { in.DurationMinutes = 0 }, ErrInvalidDuration},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			st := newFakeStore()
			svc := newTestService(st, &fakeCanceller{})
			in := validInput()
			tc.mutate(&in)

			_, _, err := svc.CreateSessionOrder(context.Background(), in)

			require.ErrorIs(t, err, tc.wantErr)
			assert.Empty(t, st.orders, "nothing persisted on validation failure")
		})
	}
}

func TestCreateExtensionOrderInheritsFromParent(t *testing.T) {
	st := newFakeStore()
	svc := newTestService(st, &fakeCanceller{})
	parent, sess, err := svc.CreateSessionOrder(context.Background(), validInput())
	require.NoError(t, err)

	sub, err := svc.CreateExtensionOrder(context.Background(), parent.ID, 30, decimal.RequireFromString("25.00"))

	require.NoError(t, err)
	require.NotNil(t, sub.ParentOrderID)
	assert.Equal(t, parent.ID, *sub.ParentOrderID)
	assert.Equal(t, parent.ConsumerID, sub.ConsumerID)
	assert.Equal(t, parent.PaymentMethodID, sub.PaymentMethodID)
	assert.Equal(t, parent.OrderNumber+1, sub.OrderNumber)

	require.Len(t, sub.Items, 1)
	data, ok := sub.Items[0].Data.(models.SessionExtensionData)
	require.True(t, ok)
	assert.Equal(t, sess.ID, data.SessionID)
	assert.Equal(t, 30, data.AddedMinutes)

	subOrders, err := st.ListSubOrders(context.Background(), parent.ID)
	require.NoError(t, err)
	require.Len(t, subOrders, 1)
	grand := parent.GrandTotalPrice(subOrders)
	assert.True(t, grand.Amount.Equal(decimal.RequireFromString("84.99")))
}

func TestCancelSessionBeforeCutoffIsFree(t *testing.T) {
	st := newFakeStore()
	canceller := &fakeCanceller{}
	svc := newTestService(st, canceller)
	in := validInput()
	in.StartsAt = fixedNow.Add(48 * time.Hour)
	_, sess, err := svc.CreateSessionOrder(context.Background(), in)
	require.NoError(t, err)

	require.NoError(t, svc.CancelSession(context.Background(), sess.ID))

	assert.Equal(t, 1, canceller.fullCalls)
	assert.Zero(t, canceller.partialCalls)
	assert.Equal(t, models.SessionCancelled, sess.Status)
}

func TestCancelSessionInsideCutoffChargesFee(t *testing.T) {
	st := newFakeStore()
	canceller := &fakeCanceller{}
	svc := newTestService(st, canceller)
	in := validInput()
	in.StartsAt = fixedNow.Add(12 * time.Hour)
	_, sess, err := svc.CreateSessionOrder(context.Background(), in)
	require.NoError(t, err)

	require.NoError(t, svc.CancelSession(context.Background(), sess.ID))

	assert.Equal(t, 1, canceller.partialCalls)
	assert.Zero(t, canceller.fullCalls)
}

func TestCancelSessionAlreadyCancelled(t *testing.T) {
	st := newFakeStore()
	canceller := &fakeCanceller{}
	svc := newTestService(st, canceller)
	_, sess, err := svc.CreateSessionOrder(context.Background(), validInput())
	require.NoError(t, err)
	require.NoError(t, svc.CancelSession(context.Background(), sess.ID))

	err = svc.CancelSession(context.Background(), sess.ID)

	require.ErrorIs(t, err, ErrSessionAlreadyCancelled)
	assert.Equal(t, 1, canceller.fullCalls+canceller.partialCalls)
}

func TestCancelSessionSettlementFailureKeepsSessionAlive(t *testing.T) {
	st := newFakeStore()
	canceller := &fakeCanceller{err: errors.New("gateway unavailable")}
	svc := newTestService(st, canceller)
	_, sess, err := svc.CreateSessionOrder(context.Background(), validInput())
	require.NoError(t, err)

	err = svc.CancelSession(context.Background(), sess.ID)

	require.Error(t, err)
	assert.NotEqual(t, models.SessionCancelled, sess.Status)
	assert.Empty(t, st.cancelledSessions)
}
