// Package gateway talks to the external payment gateway that mirrors
// our orders. It is the only package allowed to read or mutate the
// mirrored state.
package gateway

import (
	"context"

	"github.com/shopspring/decimal"
)

type OrderStatus string

const (
	OrderOpen       OrderStatus = "open"
	OrderSubmitted  OrderStatus = "submitted"
	OrderComplete   OrderStatus = "complete"
	OrderCanceled   OrderStatus = "canceled"
	OrderProcessing OrderStatus = "processing"
)

type IntentStatus string

const (
	IntentRequiresAction        IntentStatus = "requires_action"
	IntentRequiresPaymentMethod IntentStatus = "requires_payment_method"
	IntentRequiresCapture       IntentStatus = "requires_capture"
	IntentSucceeded             IntentStatus = "succeeded"
)

type LineItem struct {
	Description string          `json:"description"`
	Amount      decimal.Decimal `json:"amount"`
}

// Order is the gateway's mirror of a local order, correlated by ID.
type Order struct {
	ID              string          `json:"id"`
	Status          OrderStatus     `json:"status"`
	ClientSecret    string          `json:"clientSecret"`
	PaymentIntentID string          `json:"paymentIntentId"`
	Total           decimal.Decimal `json:"total"`
	Currency        string          `json:"currency"`
}

type PaymentIntent struct {
	ID     string       `json:"id"`
	Status IntentStatus `json:"status"`
}

type CreateOrderRequest struct {
	CustomerID string     `json:"customerId"`
	Currency   string     `json:"currency"`
	Items      []LineItem `json:"items"`
}

type Client interface {
	CreateOrder(ctx context.Context, req CreateOrderRequest) (*Order, error)
	GetOrder(ctx context.Context, id string) (*Order, error)
	// SubmitOrder finalizes an open order for payment at the expected total.
	SubmitOrder(ctx context.Context, id string, expectedTotal decimal.Decimal) (*Order, error)
	// ReopenOrder moves a submitted order back to open so its items can change.
	ReopenOrder(ctx context.Context, id string) (*Order, error)
	CancelOrder(ctx context.Context, id string) error
	UpdateOrderItems(ctx context.Context, id string, items []LineItem) (*Order, error)
	GetPaymentIntent(ctx context.Context, id string) (*PaymentIntent, error)
	// ConfirmPaymentIntent confirms with a stored payment method;
	// autoCapture collapses confirm+capture into one round trip.
	ConfirmPaymentIntent(ctx context.Context, id, paymentMethodID string, autoCapture bool) (*PaymentIntent, error)
	CapturePaymentIntent(ctx context.Context, id string) (*PaymentIntent, error)
}
