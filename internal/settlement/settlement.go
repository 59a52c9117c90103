// Package settlement implements the order payment transitions: hold,
// capture, release, and the two refund-flavoured cancellations. Every
// operation starts by reconciling the local order against its mirrored
// gateway order, so a duplicate invocation either no-ops or fails a
// precondition instead of moving money twice.
package settlement

import (
	"context"
	"errors"
	"fmt"

	"expertmarket/internal/gateway"
	"expertmarket/internal/models"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

var (
	ErrNoPaymentMethod      = errors.New("order has no payment method")
	ErrNotAuthorized        = errors.New("order funds are not authorized")
	ErrGatewayOrderConflict = errors.New("gateway order status does not allow this operation")
	ErrNoSessionOrder       = errors.New("session has no order")
)

// OrderStore is the slice of the store the settlement operations need.
type OrderStore interface {
	GetOrder(ctx context.Context, id uuid.UUID) (*models.Order, error)
	SetGatewayRef(ctx context.Context, orderID uuid.UUID, gatewayOrderID, clientSecret string) error
	ClearGatewayRef(ctx context.Context, orderID uuid.UUID) error
	SetPaymentStatus(ctx context.Context, orderID uuid.UUID, status models.PaymentStatus) error
	SetRefundStatus(ctx context.Context, orderID uuid.UUID, status models.RefundStatus) error
	ReplaceOrderItems(ctx context.Context, orderID uuid.UUID, items []models.OrderItem) error
}

type Service struct {
	Store             OrderStore
	Gateway           gateway.Client
	Currency          string
	LateRefundPercent int64
}

// reconcile brings the mirrored gateway order in line with the local
// order before any money movement: create it if it does not exist yet,
// fail fast if its status rules the operation out, and submit it for
// the current total if it is still open.
func (s *Service) reconcile(ctx context.Context, order *models.Order) (*gateway.Order, error) {
	if order.GatewayOrderID == nil {
		gw, err := s.Gateway.CreateOrder(ctx, gateway.CreateOrderRequest{
			CustomerID: order.ConsumerID.String(),
			Currency:   s.Currency,
			Items:      lineItems(order.Items),
		})
		if err != nil {
			return nil, err
		}
		if err := s.Store.SetGatewayRef(ctx, order.ID, gw.ID, gw.ClientSecret); err != nil {
			return nil, err
		}
		order.GatewayOrderID = &gw.ID
		order.GatewayClientSecret = &gw.ClientSecret
		return s.Gateway.SubmitOrder(ctx, gw.ID, order.TotalPrice().Amount)
	}

	gw, err := s.Gateway.GetOrder(ctx, *order.GatewayOrderID)
	if err != nil {
		return nil, err
	}
	switch gw.Status {
	case gateway.OrderCanceled, gateway.OrderComplete, gateway.OrderProcessing:
		return nil, fmt.Errorf("order %d: gateway order %s is %s: %w",
			order.OrderNumber, gw.ID, gw.Status, ErrGatewayOrderConflict)
	case gateway.OrderOpen:
		return s.Gateway.SubmitOrder(ctx, gw.ID, order.TotalPrice().Amount)
	default:
		return gw, nil
	}
}

// HoldOrderFunds authorizes the order's total against the stored
// payment method without capturing. The only path that sets
// PaymentAuthorized.
func (s *Service) HoldOrderFunds(ctx context.Context, order *models.Order) error {
	if order.PaymentMethodID == nil {
		return fmt.Errorf("order %d: %w", order.OrderNumber, ErrNoPaymentMethod)
	}

	gw, err := s.reconcile(ctx, order)
	if err != nil {
		return err
	}
	if _, err := s.Gateway.ConfirmPaymentIntent(ctx, gw.PaymentIntentID, *order.PaymentMethodID, false); err != nil {
		return err
	}

	order.PaymentStatus = models.PaymentAuthorized
	return s.Store.SetPaymentStatus(ctx, order.ID, models.PaymentAuthorized)
}

// CaptureOrderFunds collects previously held funds. An intent still
// waiting on action or a payment method is confirmed with automatic
// capture in one round trip; an already-confirmed intent is captured
// directly.
func (s *Service) CaptureOrderFunds(ctx context.Context, order *models.Order) error {
	if order.PaymentMethodID == nil {
		return fmt.Errorf("order %d: %w", order.OrderNumber, ErrNoPaymentMethod)
	}

	gw, err := s.reconcile(ctx, order)
	if err != nil {
		return err
	}
	if err := s.confirmAndCapture(ctx, gw, *order.PaymentMethodID); err != nil {
		return err
	}

	order.PaymentStatus = models.PaymentCaptured
	return s.Store.SetPaymentStatus(ctx, order.ID, models.PaymentCaptured)
}

func (s *Service) confirmAndCapture(ctx context.Context, gw *gateway.Order, paymentMethodID string) error {
	intent, err := s.Gateway.GetPaymentIntent(ctx, gw.PaymentIntentID)
	if err != nil {
		return err
	}
	switch intent.Status {
	case gateway.IntentRequiresAction, gateway.IntentRequiresPaymentMethod:
		_, err = s.Gateway.ConfirmPaymentIntent(ctx, intent.ID, paymentMethodID, true)
	default:
		_, err = s.Gateway.CapturePaymentIntent(ctx, intent.ID)
	}
	return err
}

// ReleaseOrderFunds cancels a hold without capturing. Calling it on an
// order that never reached the gateway is the idempotent already-
// released case and returns immediately.
func (s *Service) ReleaseOrderFunds(ctx context.Context, order *models.Order) error {
	if order.GatewayOrderID == nil {
		return nil
	}
	if order.PaymentStatus != models.PaymentAuthorized {
		return fmt.Errorf("order %d has payment status %s: %w",
			order.OrderNumber, order.PaymentStatus, ErrNotAuthorized)
	}

	gw, err := s.Gateway.GetOrder(ctx, *order.GatewayOrderID)
	if err != nil {
		return err
	}
	switch gw.Status {
	case gateway.OrderComplete, gateway.OrderProcessing:
		// Funds are already irreversibly moving.
		return fmt.Errorf("order %d: gateway order %s is %s: %w",
			order.OrderNumber, gw.ID, gw.Status, ErrGatewayOrderConflict)
	case gateway.OrderOpen, gateway.OrderCanceled:
		// Nothing was ever actually authorized at the gateway.
		return nil
	}

	if err := s.Gateway.CancelOrder(ctx, gw.ID); err != nil {
		return err
	}
	order.GatewayOrderID = nil
	order.GatewayClientSecret = nil
	order.PaymentStatus = models.PaymentNotStarted
	return s.Store.ClearGatewayRef(ctx, order.ID)
}

// CancelSessionWithFullRefund releases the hold, if any, and marks the
// order fully refunded. Nothing was captured yet, so the refund is
// really "never collect".
func (s *Service) CancelSessionWithFullRefund(ctx context.Context, sess *models.Session) error {
	if sess.OrderID == uuid.Nil {
		return ErrNoSessionOrder
	}
	order, err := s.Store.GetOrder(ctx, sess.OrderID)
	if err != nil {
		return err
	}

	if order.PaymentStatus == models.PaymentAuthorized {
		if err := s.ReleaseOrderFunds(ctx, order); err != nil {
			return err
		}
	}

	st := models.FullRefundCompleted
	order.RefundStatus = &st
	return s.Store.SetRefundStatus(ctx, order.ID, st)
}

// CancelSessionWithPartialRefund re-prices the order down to the late
// cancellation fee and captures exactly that, instead of authorizing
// the full amount and refunding the difference. When the fee works out
// to zero it degrades to the full-refund path.
func (s *Service) CancelSessionWithPartialRefund(ctx context.Context, sess *models.Session) error {
	if sess.OrderID == uuid.Nil {
		return ErrNoSessionOrder
	}
	order, err := s.Store.GetOrder(ctx, sess.OrderID)
	if err != nil {
		return err
	}
	if order.PaymentMethodID == nil {
		return fmt.Errorf("order %d: %w", order.OrderNumber, ErrNoPaymentMethod)
	}

	total := order.TotalPrice()
	refundAmount := total.Amount.
		Mul(decimal.NewFromInt(s.LateRefundPercent)).
		Div(decimal.NewFromInt(100)).
		Round(2)
	fee := total.Amount.Sub(refundAmount)

	if refundAmount.Equal(total.Amount) {
		return s.CancelSessionWithFullRefund(ctx, sess)
	}

	feeItem := buildFeeItem(order, sess, fee, refundAmount, total.CurrencyCode)
	if err := s.Store.ReplaceOrderItems(ctx, order.ID, []models.OrderItem{feeItem}); err != nil {
		return err
	}
	order.Items = []models.OrderItem{feeItem}

	gw, err := s.resubmitForTotal(ctx, order, fee)
	if err != nil {
		return err
	}
	if err := s.confirmAndCapture(ctx, gw, *order.PaymentMethodID); err != nil {
		return err
	}

	order.PaymentStatus = models.PaymentCaptured
	if err := s.Store.SetPaymentStatus(ctx, order.ID, models.PaymentCaptured); err != nil {
		return err
	}
	st := models.PartialRefundCompleted
	order.RefundStatus = &st
	return s.Store.SetRefundStatus(ctx, order.ID, st)
}

// resubmitForTotal pushes the re-priced line items to the mirrored
// order and finalizes it at the new, smaller total.
func (s *Service) resubmitForTotal(ctx context.Context, order *models.Order, total decimal.Decimal) (*gateway.Order, error) {
	if order.GatewayOrderID == nil {
		gw, err := s.Gateway.CreateOrder(ctx, gateway.CreateOrderRequest{
			CustomerID: order.ConsumerID.String(),
			Currency:   s.Currency,
			Items:      lineItems(order.Items),
		})
		if err != nil {
			return nil, err
		}
		if err := s.Store.SetGatewayRef(ctx, order.ID, gw.ID, gw.ClientSecret); err != nil {
			return nil, err
		}
		order.GatewayOrderID = &gw.ID
		order.GatewayClientSecret = &gw.ClientSecret
		return s.Gateway.SubmitOrder(ctx, gw.ID, total)
	}

	gw, err := s.Gateway.GetOrder(ctx, *order.GatewayOrderID)
	if err != nil {
		return nil, err
	}
	switch gw.Status {
	case gateway.OrderCanceled, gateway.OrderComplete, gateway.OrderProcessing:
		return nil, fmt.Errorf("order %d: gateway order %s is %s: %w",
			order.OrderNumber, gw.ID, gw.Status, ErrGatewayOrderConflict)
	case gateway.OrderSubmitted:
		if gw, err = s.Gateway.ReopenOrder(ctx, gw.ID); err != nil {
			return nil, err
		}
	}
	if _, err := s.Gateway.UpdateOrderItems(ctx, gw.ID, lineItems(order.Items)); err != nil {
		return nil, err
	}
	return s.Gateway.SubmitOrder(ctx, gw.ID, total)
}

func buildFeeItem(order *models.Order, sess *models.Session, fee, refundAmount decimal.Decimal, currency string) models.OrderItem {
	var originalItemID uuid.UUID
	snapshots := make([]models.ItemSnapshot, 0, len(order.Items))
	for _, item := range order.Items {
		if item.Type == models.ItemSession && originalItemID == uuid.Nil {
			originalItemID = item.ID
		}
		snapshots = append(snapshots, models.ItemSnapshot{
			ItemID:     item.ID,
			Type:       item.Type,
			TotalPrice: item.TotalPrice,
		})
	}
	if originalItemID == uuid.Nil && len(order.Items) > 0 {
		originalItemID = order.Items[0].ID
	}

	return models.OrderItem{
		ID:      uuid.New(),
		OrderID: order.ID,
		Type:    models.ItemLateSessionCancellation,
		Status:  models.ItemFulfilled,
		TotalPrice: models.Price{
			Amount:       fee,
			CurrencyCode: currency,
		},
		Data: models.LateCancellationData{
			SessionID:      sess.ID,
			OriginalItemID: originalItemID,
			RefundAmount: models.Price{
				Amount:       refundAmount,
				CurrencyCode: currency,
			},
			ReplacedItems: snapshots,
		},
	}
}

func lineItems(items []models.OrderItem) []gateway.LineItem {
	out := make([]gateway.LineItem, 0, len(items))
	for _, item := range items {
		out = append(out, gateway.LineItem{
			Description: string(item.Type),
			Amount:      item.TotalPrice.Amount,
		})
	}
	return out
}
