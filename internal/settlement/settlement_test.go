package settlement

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"expertmarket/internal/gateway"
	"expertmarket/internal/models"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeOrderStore struct {
	orders       map[uuid.UUID]*models.Order
	replaceCalls int
}

func newFakeOrderStore(orders ...*models.Order) *fakeOrderStore {
	s := &fakeOrderStore{orders: make(map[uuid.UUID]*models.Order)}
	for _, o := range orders {
		s.orders[o.ID] = o
	}
	return s
}

func (s *fakeOrderStore) GetOrder(_ context.Context, id uuid.UUID) (*models.Order, error) {
	o, ok := s.orders[id]
	if !ok {
		return nil, errors.New("order not found")
	}
	return o, nil
}

func (s *fakeOrderStore) SetGatewayRef(_ context.Context, orderID uuid.UUID, gatewayOrderID, clientSecret string) error {
	o := s.orders[orderID]
	o.GatewayOrderID = &gatewayOrderID
	o.GatewayClientSecret = &clientSecret
	return nil
}

func (s *fakeOrderStore) ClearGatewayRef(_ context.Context, orderID uuid.UUID) error {
	o := s.orders[orderID]
	o.GatewayOrderID = nil
	o.GatewayClientSecret = nil
	o.PaymentStatus = models.PaymentNotStarted
	return nil
}

func (s *fakeOrderStore) SetPaymentStatus(_ context.Context, orderID uuid.UUID, status models.PaymentStatus) error {
	s.orders[orderID].PaymentStatus = status
	return nil
}

func (s *fakeOrderStore) SetRefundStatus(_ context.Context, orderID uuid.UUID, status models.RefundStatus) error {
	st := status
	s.orders[orderID].RefundStatus = &st
	return nil
}

func (s *fakeOrderStore) ReplaceOrderItems(_ context.Context, orderID uuid.UUID, items []models.OrderItem) error {
	s.replaceCalls++
	s.orders[orderID].Items = items
	return nil
}

type fakeGateway struct {
	orders  map[string]*gateway.Order
	intents map[string]*gateway.PaymentIntent

	createCalls  int
	submitCalls  int
	reopenCalls  int
	cancelCalls  int
	updateCalls  int
	confirmCalls int
	captureCalls int

	lastSubmitTotal decimal.Decimal
	lastConfirmAuto bool
	confirmErr      error
	nextID          int
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{
		orders:  make(map[string]*gateway.Order),
		intents: make(map[string]*gateway.PaymentIntent),
	}
}

// seedOrder pre-populates a mirrored order in a given status.
func (g *fakeGateway) seedOrder(status gateway.OrderStatus, intentStatus gateway.IntentStatus) *gateway.Order {
	g.nextID++
	id := fmt.Sprintf("gw_%d", g.nextID)
	intentID := fmt.Sprintf("pi_%d", g.nextID)
	g.orders[id] = &gateway.Order{ID: id, Status: status, PaymentIntentID: intentID, ClientSecret: "cs_" + id}
	g.intents[intentID] = &gateway.PaymentIntent{ID: intentID, Status: intentStatus}
	return g.orders[id]
}

func (g *fakeGateway) CreateOrder(_ context.Context, req gateway.CreateOrderRequest) (*gateway.Order, error) {
	g.createCalls++
	gw := g.seedOrder(gateway.OrderOpen, gateway.IntentRequiresPaymentMethod)
	for _, item := range req.Items {
		gw.Total = gw.Total.Add(item.Amount)
	}
	gw.Currency = req.Currency
	cp := *gw
	return &cp, nil
}

func (g *fakeGateway) GetOrder(_ context.Context, id string) (*gateway.Order, error) {
	gw, ok := g.orders[id]
	if !ok {
		return nil, errors.New("gateway order not found")
	}
	cp := *gw
	return &cp, nil
}

func (g *fakeGateway) SubmitOrder(_ context.Context, id string, expectedTotal decimal.Decimal) (*gateway.Order, error) {
	g.submitCalls++
	g.lastSubmitTotal = expectedTotal
	gw := g.orders[id]
	gw.Status = gateway.OrderSubmitted
	gw.Total = expectedTotal
	cp := *gw
	return &cp, nil
}

func (g *fakeGateway) ReopenOrder(_ context.Context, id string) (*gateway.Order, error) {
	g.reopenCalls++
	gw := g.orders[id]
	gw.Status = gateway.OrderOpen
	cp := *gw
	return &cp, nil
}

func (g *fakeGateway) CancelOrder(_ context.Context, id string) error {
	g.cancelCalls++
	g.orders[id].Status = gateway.OrderCanceled
	return nil
}

func (g *fakeGateway) UpdateOrderItems(_ context.Context, id string, items []gateway.LineItem) (*gateway.Order, error) {
	g.updateCalls++
	gw := g.orders[id]
	gw.Total = decimal.Zero
	for _, item := range items {
		gw.Total = gw.Total.Add(item.Amount)
	}
	cp := *gw
	return &cp, nil
}

func (g *fakeGateway) GetPaymentIntent(_ context.Context, id string) (*gateway.PaymentIntent, error) {
	intent, ok := g.intents[id]
	if !ok {
		return nil, errors.New("payment intent not found")
	}
	cp := *intent
	return &cp, nil
}

func (g *fakeGateway) ConfirmPaymentIntent(_ context.Context, id, paymentMethodID string, autoCapture bool) (*gateway.PaymentIntent, error) {
	g.confirmCalls++
	g.lastConfirmAuto = autoCapture
	if g.confirmErr != nil {
		return nil, g.confirmErr
	}
	intent := g.intents[id]
	if autoCapture {
		intent.Status = gateway.IntentSucceeded
	} else {
		intent.Status = gateway.IntentRequiresCapture
	}
	cp := *intent
	return &cp, nil
}

func (g *fakeGateway) CapturePaymentIntent(_ context.Context, id string) (*gateway.PaymentIntent, error) {
	g.captureCalls++
	intent := g.intents[id]
	intent.Status = gateway.IntentSucceeded
	cp := *intent
	return &cp, nil
}

func paymentMethod() *string {
	pm := "pm_123"
	return &pm
}

func sessionOrder(amount string) (*models.Order, *models.Session) {
	orderID := uuid.New()
	sessionID := uuid.New()
	order := &models.Order{
		ID:              orderID,
		OrderNumber:     1001,
		ConsumerID:      uuid.New(),
		ExpertID:        uuid.New(),
		Status:          models.OrderComplete,
		PaymentStatus:   models.PaymentNotStarted,
		PaymentMethodID: paymentMethod(),
		Items: []models.OrderItem{
			{
				ID:      uuid.New(),
				OrderID: orderID,
				Type:    models.ItemSession,
				Status:  models.ItemFulfilled,
				TotalPrice: models.Price{
					Amount:       decimal.RequireFromString(amount),
					CurrencyCode: "usd",
				},
				Data: models.SessionItemData{SessionID: sessionID, DurationMinutes: 60},
			},
		},
	}
	sess := &models.Session{
		ID:         sessionID,
		OrderID:    orderID,
		ConsumerID: order.ConsumerID,
		ExpertID:   order.ExpertID,
		Status:     models.SessionNotStarted,
	}
	return order, sess
}

func newService(st *fakeOrderStore, gw *fakeGateway, lateRefundPercent int64) *Service {
	return &Service{Store: st, Gateway: gw, Currency: "usd", LateRefundPercent: lateRefundPercent}
}

func TestHoldOrderFundsRequiresPaymentMethod(t *testing.T) {
	order, _ := sessionOrder("59.99")
	order.PaymentMethodID = nil
	gw := newFakeGateway()
	svc := newService(newFakeOrderStore(order), gw, 50)

	err := svc.HoldOrderFunds(context.Background(), order)

	require.ErrorIs(t, err, ErrNoPaymentMethod)
	assert.Zero(t, gw.createCalls, "gateway must not be contacted")
	assert.Equal(t, models.PaymentNotStarted, order.PaymentStatus)
}

func TestHoldOrderFundsCreatesGatewayOrder(t *testing.T) {
	order, _ := sessionOrder("59.99")
	st := newFakeOrderStore(order)
	gw := newFakeGateway()
	svc := newService(st, gw, 50)

	err := svc.HoldOrderFunds(context.Background(), order)

	require.NoError(t, err)
	assert.Equal(t, models.PaymentAuthorized, order.PaymentStatus)
	require.NotNil(t, order.GatewayOrderID)
	assert.Equal(t, 1, gw.createCalls)
	assert.Equal(t, 1, gw.confirmCalls)
	assert.False(t, gw.lastConfirmAuto, "hold confirms without capturing")
	assert.True(t, gw.lastSubmitTotal.Equal(decimal.RequireFromString("59.99")))
}

func TestHoldOrderFundsFailsFastOnGatewayConflict(t *testing.T) {
	order, _ := sessionOrder("59.99")
	gw := newFakeGateway()
	mirrored := gw.seedOrder(gateway.OrderProcessing, gateway.IntentRequiresCapture)
	order.GatewayOrderID = &mirrored.ID
	svc := newService(newFakeOrderStore(order), gw, 50)

	err := svc.HoldOrderFunds(context.Background(), order)

	require.ErrorIs(t, err, ErrGatewayOrderConflict)
	assert.Zero(t, gw.confirmCalls)
	assert.Equal(t, models.PaymentNotStarted, order.PaymentStatus)
}

func TestHoldOrderFundsSubmitsOpenGatewayOrder(t *testing.T) {
	order, _ := sessionOrder("25.00")
	gw := newFakeGateway()
	mirrored := gw.seedOrder(gateway.OrderOpen, gateway.IntentRequiresPaymentMethod)
	order.GatewayOrderID = &mirrored.ID
	svc := newService(newFakeOrderStore(order), gw, 50)

	err := svc.HoldOrderFunds(context.Background(), order)

	require.NoError(t, err)
	assert.Equal(t, 1, gw.submitCalls)
	assert.Zero(t, gw.createCalls)
	assert.Equal(t, models.PaymentAuthorized, order.PaymentStatus)
}

func TestCaptureOrderFundsCapturesConfirmedIntent(t *testing.T) {
	order, _ := sessionOrder("80.00")
	order.PaymentStatus = models.PaymentAuthorized
	gw := newFakeGateway()
	mirrored := gw.seedOrder(gateway.OrderSubmitted, gateway.IntentRequiresCapture)
	order.GatewayOrderID = &mirrored.ID
	svc := newService(newFakeOrderStore(order), gw, 50)

	err := svc.CaptureOrderFunds(context.Background(), order)

	require.NoError(t, err)
	assert.Equal(t, 1, gw.captureCalls)
	assert.Zero(t, gw.confirmCalls)
	assert.Equal(t, models.PaymentCaptured, order.PaymentStatus)
}

func TestCaptureOrderFundsConfirmsUnsettledIntent(t *testing.T) {
	order, _ := sessionOrder("80.00")
	order.PaymentStatus = models.PaymentAuthorized
	gw := newFakeGateway()
	mirrored := gw.seedOrder(gateway.OrderSubmitted, gateway.IntentRequiresAction)
	order.GatewayOrderID = &mirrored.ID
	svc := newService(newFakeOrderStore(order), gw, 50)

	err := svc.CaptureOrderFunds(context.Background(), order)

	require.NoError(t, err)
	assert.Equal(t, 1, gw.confirmCalls)
	assert.True(t, gw.lastConfirmAuto, "single round trip confirm+capture")
	assert.Zero(t, gw.captureCalls)
	assert.Equal(t, models.PaymentCaptured, order.PaymentStatus)
}

func TestReleaseOrderFundsNoGatewayOrderIsNoop(t *testing.T) {
	order, _ := sessionOrder("59.99")
	order.PaymentStatus = models.PaymentAuthorized
	gw := newFakeGateway()
	svc := newService(newFakeOrderStore(order), gw, 50)

	err := svc.ReleaseOrderFunds(context.Background(), order)

	require.NoError(t, err)
	assert.Equal(t, models.PaymentAuthorized, order.PaymentStatus)
	assert.Zero(t, gw.cancelCalls)
}

func TestReleaseOrderFundsRequiresAuthorized(t *testing.T) {
	order, _ := sessionOrder("59.99")
	gw := newFakeGateway()
	mirrored := gw.seedOrder(gateway.OrderSubmitted, gateway.IntentRequiresCapture)
	order.GatewayOrderID = &mirrored.ID
	svc := newService(newFakeOrderStore(order), gw, 50)

	err := svc.ReleaseOrderFunds(context.Background(), order)

	require.ErrorIs(t, err, ErrNotAuthorized)
}

func TestReleaseOrderFundsFailsFastOnSettlingOrder(t *testing.T) {
	order, _ := sessionOrder("59.99")
	order.PaymentStatus = models.PaymentAuthorized
	gw := newFakeGateway()
	mirrored := gw.seedOrder(gateway.OrderProcessing, gateway.IntentRequiresCapture)
	order.GatewayOrderID = &mirrored.ID
	svc := newService(newFakeOrderStore(order), gw, 50)

	err := svc.ReleaseOrderFunds(context.Background(), order)

	require.ErrorIs(t, err, ErrGatewayOrderConflict)
	assert.Zero(t, gw.cancelCalls)
}

func TestReleaseOrderFundsNoopOnOpenGatewayOrder(t *testing.T) {
	order, _ := sessionOrder("59.99")
	order.PaymentStatus = models.PaymentAuthorized
	gw := newFakeGateway()
	mirrored := gw.seedOrder(gateway.OrderOpen, gateway.IntentRequiresPaymentMethod)
	order.GatewayOrderID = &mirrored.ID
	svc := newService(newFakeOrderStore(order), gw, 50)

	err := svc.ReleaseOrderFunds(context.Background(), order)

	require.NoError(t, err)
	assert.Zero(t, gw.cancelCalls)
	assert.NotNil(t, order.GatewayOrderID)
}

func TestReleaseOrderFundsCancelsAndResets(t *testing.T) {
	order, _ := sessionOrder("59.99")
	order.PaymentStatus = models.PaymentAuthorized
	gw := newFakeGateway()
	mirrored := gw.seedOrder(gateway.OrderSubmitted, gateway.IntentRequiresCapture)
	order.GatewayOrderID = &mirrored.ID
	svc := newService(newFakeOrderStore(order), gw, 50)

	err := svc.ReleaseOrderFunds(context.Background(), order)

	require.NoError(t, err)
	assert.Equal(t, 1, gw.cancelCalls)
	assert.Nil(t, order.GatewayOrderID)
	assert.Equal(t, models.PaymentNotStarted, order.PaymentStatus)
}

func TestCancelSessionWithFullRefundReleasesHold(t *testing.T) {
	order, sess := sessionOrder("59.99")
	order.PaymentStatus = models.PaymentAuthorized
	gw := newFakeGateway()
	mirrored := gw.seedOrder(gateway.OrderSubmitted, gateway.IntentRequiresCapture)
	order.GatewayOrderID = &mirrored.ID
	st := newFakeOrderStore(order)
	svc := newService(st, gw, 50)

	err := svc.CancelSessionWithFullRefund(context.Background(), sess)

	require.NoError(t, err)
	assert.Equal(t, 1, gw.cancelCalls)
	require.NotNil(t, order.RefundStatus)
	assert.Equal(t, models.FullRefundCompleted, *order.RefundStatus)
	assert.Equal(t, models.PaymentNotStarted, order.PaymentStatus)
}

func TestCancelSessionWithPartialRefundZeroFeeDegradesToFull(t *testing.T) {
	order, sess := sessionOrder("100.00")
	order.PaymentStatus = models.PaymentAuthorized
	gw := newFakeGateway()
	mirrored := gw.seedOrder(gateway.OrderSubmitted, gateway.IntentRequiresCapture)
	order.GatewayOrderID = &mirrored.ID
	st := newFakeOrderStore(order)
	svc := newService(st, gw, 100)

	err := svc.CancelSessionWithPartialRefund(context.Background(), sess)

	require.NoError(t, err)
	assert.Zero(t, st.replaceCalls, "no synthetic fee item when the fee is zero")
	require.NotNil(t, order.RefundStatus)
	assert.Equal(t, models.FullRefundCompleted, *order.RefundStatus)
	assert.Len(t, order.Items, 1)
	assert.Equal(t, models.ItemSession, order.Items[0].Type)
}

func TestCancelSessionWithPartialRefundCapturesExactFee(t *testing.T) {
	order, sess := sessionOrder("100.00")
	order.PaymentStatus = models.PaymentAuthorized
	gw := newFakeGateway()
	mirrored := gw.seedOrder(gateway.OrderSubmitted, gateway.IntentRequiresPaymentMethod)
	order.GatewayOrderID = &mirrored.ID
	originalItemID := order.Items[0].ID
	st := newFakeOrderStore(order)
	svc := newService(st, gw, 50)

	err := svc.CancelSessionWithPartialRefund(context.Background(), sess)

	require.NoError(t, err)
	assert.True(t, gw.lastSubmitTotal.Equal(decimal.RequireFromString("50.00")),
		"captured amount must equal exactly the fee, got %s", gw.lastSubmitTotal)
	assert.Equal(t, 1, gw.reopenCalls)
	assert.Equal(t, 1, gw.updateCalls)
	assert.Equal(t, models.PaymentCaptured, order.PaymentStatus)
	require.NotNil(t, order.RefundStatus)
	assert.Equal(t, models.PartialRefundCompleted, *order.RefundStatus)

	require.Len(t, order.Items, 1)
	feeItem := order.Items[0]
	assert.Equal(t, models.ItemLateSessionCancellation, feeItem.Type)
	assert.True(t, feeItem.TotalPrice.Amount.Equal(decimal.RequireFromString("50.00")))

	data, ok := feeItem.Data.(models.LateCancellationData)
	require.True(t, ok)
	assert.Equal(t, originalItemID, data.OriginalItemID)
	assert.True(t, data.RefundAmount.Amount.Equal(decimal.RequireFromString("50.00")))
	require.Len(t, data.ReplacedItems, 1)
	assert.Equal(t, originalItemID, data.ReplacedItems[0].ItemID)
}

func TestCancelSessionWithPartialRefundRequiresPaymentMethod(t *testing.T) {
	order, sess := sessionOrder("100.00")
	order.PaymentMethodID = nil
	svc := newService(newFakeOrderStore(order), newFakeGateway(), 50)

	err := svc.CancelSessionWithPartialRefund(context.Background(), sess)

	require.ErrorIs(t, err, ErrNoPaymentMethod)
}
