package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type OrderStatus string

const (
	OrderOpen      OrderStatus = "open"
	OrderPaid      OrderStatus = "paid"
	OrderComplete  OrderStatus = "complete"
	OrderCancelled OrderStatus = "cancelled"
)

type PaymentStatus string

const (
	PaymentNotStarted          PaymentStatus = "not_started"
	PaymentAuthorized          PaymentStatus = "authorized"
	PaymentCaptured            PaymentStatus = "captured"
	PaymentFailedAuthorization PaymentStatus = "failed_authorization"
)

type RefundStatus string

const (
	RefundRequested        RefundStatus = "refund_requested"
	FullRefundCompleted    RefundStatus = "full_refund_completed"
	PartialRefundCompleted RefundStatus = "partial_refund_completed"
)

type SessionStatus string

const (
	SessionNotStarted SessionStatus = "not_started"
	SessionActive     SessionStatus = "active"
	SessionEnded      SessionStatus = "ended"
	SessionCancelled  SessionStatus = "cancelled"
)

type AttendanceResult string

const (
	NoneShowed     AttendanceResult = "none_showed"
	NoShowExpert   AttendanceResult = "no_show_expert"
	NoShowConsumer AttendanceResult = "no_show_consumer"
	AllPresent     AttendanceResult = "all_present"
)

type AttendeeRole string

const (
	RoleExpert   AttendeeRole = "expert"
	RoleConsumer AttendeeRole = "consumer"
)

// Price is an amount in a currency. Amounts are decimal so refund
// splits stay exact.
type Price struct {
	Amount       decimal.Decimal `json:"amount"`
	CurrencyCode string          `json:"currencyCode"`
}

type Order struct {
	ID                  uuid.UUID
	OrderNumber         int64
	ConsumerID          uuid.UUID
	ExpertID            uuid.UUID
	Status              OrderStatus
	PaymentStatus       PaymentStatus
	RefundStatus        *RefundStatus
	PaymentMethodID     *string
	GatewayOrderID      *string
	GatewayClientSecret *string
	ParentOrderID       *uuid.UUID
	PaymentFailureDate  *time.Time
	Items               []OrderItem
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// TotalPrice is derived from the items on every call, never stored.
func (o *Order) TotalPrice() Price {
	total := decimal.Zero
	currency := ""
	for _, item := range o.Items {
		total = total.Add(item.TotalPrice.Amount)
		if currency == "" {
			currency = item.TotalPrice.CurrencyCode
		}
	}
	return Price{Amount: total, CurrencyCode: currency}
}

// GrandTotalPrice is the order's own total plus the totals of its
// sub-orders. Sub-orders are resolved by the caller, never stored on
// the order itself.
func (o *Order) GrandTotalPrice(subOrders []*Order) Price {
	total := o.TotalPrice()
	for _, sub := range subOrders {
		subTotal := sub.TotalPrice()
		total.Amount = total.Amount.Add(subTotal.Amount)
		if total.CurrencyCode == "" {
			total.CurrencyCode = subTotal.CurrencyCode
		}
	}
	return total
}

type Session struct {
	ID               uuid.UUID
	OrderID          uuid.UUID
	ConsumerID       uuid.UUID
	ExpertID         uuid.UUID
	Status           SessionStatus
	AttendanceResult *AttendanceResult
	StartsAt         time.Time
	EndsAt           time.Time
	EndedAt          *time.Time
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// AttendanceRecord is one party's check-in to a session, written by
// the presence feed and read by the attendance analyzer.
type AttendanceRecord struct {
	SessionID uuid.UUID
	UserID    uuid.UUID
	Role      AttendeeRole
	JoinedAt  time.Time
}
