package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"expertmarket/internal/models"
	"expertmarket/internal/services"
	"expertmarket/internal/settlement"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

type Handler struct {
	Orders *services.OrderService
}

func NewHandler(orders *services.OrderService) *Handler {
	return &Handler{Orders: orders}
}

type createOrderRequest struct {
	ExpertID        string          `json:"expertId"`
	StartsAt        time.Time       `json:"startsAt"`
	DurationMinutes int             `json:"durationMinutes"`
	Price           decimal.Decimal `json:"price"`
	PaymentMethodID string          `json:"paymentMethodId"`
}

type createExtensionRequest struct {
	AddedMinutes int             `json:"addedMinutes"`
	Price        decimal.Decimal `json:"price"`
}

type orderResponse struct {
	OrderID         string        `json:"orderId"`
	OrderNumber     int64         `json:"orderNumber"`
	Status          string        `json:"status"`
	PaymentStatus   string        `json:"paymentStatus"`
	RefundStatus    string        `json:"refundStatus,omitempty"`
	TotalPrice      models.Price  `json:"totalPrice"`
	GrandTotalPrice *models.Price `json:"grandTotalPrice,omitempty"`
	SessionID       string        `json:"sessionId,omitempty"`
}

func (h *Handler) CreateOrder(w http.ResponseWriter, r *http.Request) {
	var req createOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}

	consumerID, err := uuid.Parse(r.Header.Get("X-User-Id"))
	if err != nil {
		writeError(w, http.StatusUnauthorized, "missing user id")
		return
	}
	expertID, err := uuid.Parse(req.ExpertID)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid expert id")
		return
	}

	order, sess, err := h.Orders.CreateSessionOrder(r.Context(), services.CreateSessionOrderInput{
		ConsumerID:      consumerID,
		ExpertID:        expertID,
		StartsAt:        req.StartsAt,
		DurationMinutes: req.DurationMinutes,
		Price:           req.Price,
		PaymentMethodID: req.PaymentMethodID,
	})
	if err != nil {
		switch {
		case errors.Is(err, services.ErrInvalidPrice),
			errors.Is(err, services.ErrInvalidDuration),
			errors.Is(err, services.ErrMissingPaymentMethod),
			errors.Is(err, services.ErrMissingExpert):
			writeError(w, http.StatusBadRequest, err.Error())
		default:
			writeError(w, http.StatusInternalServerError, "create order failed")
		}
		return
	}

	resp := toOrderResponse(order, nil)
	resp.SessionID = sess.ID.String()
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) GetOrder(w http.ResponseWriter, r *http.Request) {
	orderID, err := uuid.Parse(chi.URLParam(r, "orderId"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid order id")
		return
	}

	order, subOrders, err := h.Orders.GetOrder(r.Context(), orderID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			writeError(w, http.StatusNotFound, "order not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "get order failed")
		return
	}

	writeJSON(w, http.StatusOK, toOrderResponse(order, subOrders))
}

func (h *Handler) CreateExtension(w http.ResponseWriter, r *http.Request) {
	orderID, err := uuid.Parse(chi.URLParam(r, "orderId"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid order id")
		return
	}

	var req createExtensionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}

	order, err := h.Orders.CreateExtensionOrder(r.Context(), orderID, req.AddedMinutes, req.Price)
	if err != nil {
		switch {
		case errors.Is(err, pgx.ErrNoRows):
			writeError(w, http.StatusNotFound, "order not found")
		case errors.Is(err, services.ErrInvalidPrice), errors.Is(err, services.ErrInvalidDuration):
			writeError(w, http.StatusBadRequest, err.Error())
		default:
			writeError(w, http.StatusInternalServerError, "create extension failed")
		}
		return
	}

	writeJSON(w, http.StatusOK, toOrderResponse(order, nil))
}

func (h *Handler) CancelSession(w http.ResponseWriter, r *http.Request) {
	sessionID, err := uuid.Parse(chi.URLParam(r, "sessionId"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid session id")
		return
	}

	if err := h.Orders.CancelSession(r.Context(), sessionID); err != nil {
		switch {
		case errors.Is(err, pgx.ErrNoRows):
			writeError(w, http.StatusNotFound, "session not found")
		case errors.Is(err, services.ErrSessionAlreadyCancelled):
			writeError(w, http.StatusConflict, err.Error())
		case errors.Is(err, settlement.ErrGatewayOrderConflict):
			writeError(w, http.StatusConflict, "payment is settling and cannot be cancelled right now")
		default:
			writeError(w, http.StatusInternalServerError, "cancel session failed")
		}
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "cancelled"})
}

func toOrderResponse(order *models.Order, subOrders []*models.Order) orderResponse {
	resp := orderResponse{
		OrderID:       order.ID.String(),
		OrderNumber:   order.OrderNumber,
		Status:        string(order.Status),
		PaymentStatus: string(order.PaymentStatus),
		TotalPrice:    order.TotalPrice(),
	}
	if order.RefundStatus != nil {
		resp.RefundStatus = string(*order.RefundStatus)
	}
	if subOrders != nil {
		grand := order.GrandTotalPrice(subOrders)
		resp.GrandTotalPrice = &grand
	}
	return resp
}
