package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/skalov/mealmart/internal/models"
	"github.com/skalov/mealmart/internal/service"
)

type OrderService interface {
	CreateOrderWithPayment(ctx context.Context, cart *models.CartData, method models.PaymentMethod, userID uuid.UUID) (*models.Order, *models.Transaction, error)
	CancelOrder(ctx context.Context, orderID uuid.UUID, reason string, userID uuid.UUID) (*models.Order, *service.RefundOutcome, error)
	GetOrder(ctx context.Context, orderID, userID uuid.UUID) (*models.Order, error)
	ListUserOrders(ctx context.Context, userID uuid.UUID, status string, page, limit int) ([]models.Order, error)
	ListOrderTransactions(ctx context.Context, orderID, userID uuid.UUID) ([]models.Transaction, error)
}

// OrderHandler represents HTTP handler for order-related requests
type OrderHandler struct {
	svc OrderService
}

// NewOrderHandler creates new OrderHandler instance
func NewOrderHandler(svc OrderService) *OrderHandler {
	return &OrderHandler{svc: svc}
}

type cartItemRequest struct {
	MenuItemID          uuid.UUID       `json:"menuItemId"`
	Name                string          `json:"name"`
	Quantity            int             `json:"quantity"`
	UnitPrice           decimal.Decimal `json:"unitPrice"`
	Customizations      map[string]any  `json:"customizations"`
	SpecialInstructions string          `json:"specialInstructions"`
}

type cartDataRequest struct {
	MerchantID      uuid.UUID         `json:"merchantId"`
	CartID          uuid.UUID         `json:"cartId"`
	Items           []cartItemRequest `json:"items"`
	Subtotal        decimal.Decimal   `json:"subtotal"`
	TaxAmount       decimal.Decimal   `json:"taxAmount"`
	DeliveryFee     decimal.Decimal   `json:"deliveryFee"`
	DiscountAmount  decimal.Decimal   `json:"discountAmount"`
	DeliveryAddress models.Address    `json:"deliveryAddress"`
	CustomerName    string            `json:"customerName"`
	CustomerEmail   string            `json:"customerEmail"`
	MerchantName    string            `json:"merchantName"`
	CountryCode     string            `json:"countryCode"`
	CurrencyCode    string            `json:"currencyCode"`
}

type paymentMethodRequest struct {
	Type     string `json:"type"`
	Token    string `json:"token"`
	LastFour string `json:"lastFour"`
	Brand    string `json:"brand"`
}

type createOrderRequest struct {
	CartData      *cartDataRequest      `json:"cartData"`
	PaymentMethod *paymentMethodRequest `json:"paymentMethod"`
}

type createOrderResponse struct {
	Order   orderResponse       `json:"order"`
	Payment transactionResponse `json:"payment"`
}

// CreateOrder creates order with payment
// 201 — order created and payment processed;
// 400 — malformed request, validation or payment failure;
// 401 — user is not authenticated;
// 402 — payment declined;
// 503 — payment gateway unavailable.
func (oh *OrderHandler) CreateOrder() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		payload, ok := getAuthPayload(r.Context())
		if !ok {
			writeError(w, http.StatusUnauthorized, "unauthorized", "authentication required")
			return
		}

		var req createOrderRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, codeValidationError, "malformed request body")
			return
		}
		defer r.Body.Close()

		if req.CartData == nil || req.PaymentMethod == nil {
			writeError(w, http.StatusBadRequest, codeValidationError, "cartData and paymentMethod are required")
			return
		}

		cart := &models.CartData{
			MerchantID:      req.CartData.MerchantID,
			CartID:          req.CartData.CartID,
			Subtotal:        req.CartData.Subtotal,
			TaxAmount:       req.CartData.TaxAmount,
			DeliveryFee:     req.CartData.DeliveryFee,
			DiscountAmount:  req.CartData.DiscountAmount,
			DeliveryAddress: req.CartData.DeliveryAddress,
			CustomerName:    req.CartData.CustomerName,
			CustomerEmail:   req.CartData.CustomerEmail,
			MerchantName:    req.CartData.MerchantName,
			CountryCode:     req.CartData.CountryCode,
			CurrencyCode:    req.CartData.CurrencyCode,
		}
		for _, item := range req.CartData.Items {
			cart.Items = append(cart.Items, models.CartItem{
				MenuItemID:          item.MenuItemID,
				Name:                item.Name,
				Quantity:            item.Quantity,
				UnitPrice:           item.UnitPrice,
				Customizations:      item.Customizations,
				SpecialInstructions: item.SpecialInstructions,
			})
		}

		method := models.PaymentMethod{
			Type:     req.PaymentMethod.Type,
			Token:    req.PaymentMethod.Token,
			LastFour: req.PaymentMethod.LastFour,
			Brand:    req.PaymentMethod.Brand,
		}

		order, payment, err := oh.svc.CreateOrderWithPayment(r.Context(), cart, method, payload.UserID)
		if err != nil {
			writeServiceError(w, err)
			return
		}

		writeJSON(w, http.StatusCreated, createOrderResponse{
			Order:   toOrderResponse(order),
			Payment: toTransactionResponse(payment),
		})
	}
}

type cancelOrderRequest struct {
	Reason string `json:"reason"`
}

type refundOutcomeResponse struct {
	Attempted bool                 `json:"attempted"`
	Succeeded bool                 `json:"succeeded"`
	Refund    *transactionResponse `json:"refund,omitempty"`
	Error     *errorResponse       `json:"error,omitempty"`
}

type cancelOrderResponse struct {
	Order  orderResponse          `json:"order"`
	Refund *refundOutcomeResponse `json:"refund,omitempty"`
}

// CancelOrder cancels user order and refunds its payment
// 200 — order cancelled, refund outcome reported in the body;
// 401 — user is not authenticated;
// 403 — order belongs to another user;
// 404 — order not found;
// 409 — order status does not allow cancellation.
func (oh *OrderHandler) CancelOrder() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		payload, ok := getAuthPayload(r.Context())
		if !ok {
			writeError(w, http.StatusUnauthorized, "unauthorized", "authentication required")
			return
		}

		orderID, err := uuid.Parse(chi.URLParam(r, "orderID"))
		if err != nil {
			writeError(w, http.StatusBadRequest, codeValidationError, "invalid order id")
			return
		}

		var req cancelOrderRequest
		if r.Body != nil {
			// body is optional
			_ = json.NewDecoder(r.Body).Decode(&req)
			defer r.Body.Close()
		}

		order, outcome, err := oh.svc.CancelOrder(r.Context(), orderID, req.Reason, payload.UserID)
		if err != nil {
			writeServiceError(w, err)
			return
		}

		resp := cancelOrderResponse{Order: toOrderResponse(order)}
		if outcome != nil && outcome.Attempted {
			outcomeResp := refundOutcomeResponse{
				Attempted: outcome.Attempted,
				Succeeded: outcome.Succeeded,
			}
			if outcome.Refund != nil {
				txnResp := toTransactionResponse(outcome.Refund)
				outcomeResp.Refund = &txnResp
			}
			if outcome.Failure != nil {
				outcomeResp.Error = &errorResponse{Code: codeInternalError, Message: "refund failed, manual follow-up required"}
				var gwErr models.GatewayError
				if errors.As(outcome.Failure, &gwErr) {
					outcomeResp.Error.Code = gwErr.Code
				}
			}
			resp.Refund = &outcomeResp
		}

		writeJSON(w, http.StatusOK, resp)
	}
}

// GetOrder returns user order with items and tracking
// 200 — success;
// 401 — user is not authenticated;
// 403 — order belongs to another user;
// 404 — order not found.
func (oh *OrderHandler) GetOrder() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		payload, ok := getAuthPayload(r.Context())
		if !ok {
			writeError(w, http.StatusUnauthorized, "unauthorized", "authentication required")
			return
		}

		orderID, err := uuid.Parse(chi.URLParam(r, "orderID"))
		if err != nil {
			writeError(w, http.StatusBadRequest, codeValidationError, "invalid order id")
			return
		}

		order, err := oh.svc.GetOrder(r.Context(), orderID, payload.UserID)
		if err != nil {
			writeServiceError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, toOrderResponse(order))
	}
}

// ListUserOrders returns page of requesting user's orders
// 200 — success;
// 401 — user is not authenticated.
func (oh *OrderHandler) ListUserOrders() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		payload, ok := getAuthPayload(r.Context())
		if !ok {
			writeError(w, http.StatusUnauthorized, "unauthorized", "authentication required")
			return
		}

		page, _ := strconv.Atoi(r.URL.Query().Get("page"))
		limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
		status := r.URL.Query().Get("status")

		orders, err := oh.svc.ListUserOrders(r.Context(), payload.UserID, status, page, limit)
		if err != nil {
			writeServiceError(w, err)
			return
		}

		resp := make([]orderResponse, 0, len(orders))
		for i := range orders {
			resp = append(resp, toOrderResponse(&orders[i]))
		}

		writeJSON(w, http.StatusOK, resp)
	}
}

// ListOrderTransactions returns payment audit trail of user order
// 200 — success;
// 401 — user is not authenticated;
// 403 — order belongs to another user;
// 404 — order not found.
func (oh *OrderHandler) ListOrderTransactions() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		payload, ok := getAuthPayload(r.Context())
		if !ok {
			writeError(w, http.StatusUnauthorized, "unauthorized", "authentication required")
			return
		}

		orderID, err := uuid.Parse(chi.URLParam(r, "orderID"))
		if err != nil {
			writeError(w, http.StatusBadRequest, codeValidationError, "invalid order id")
			return
		}

		txns, err := oh.svc.ListOrderTransactions(r.Context(), orderID, payload.UserID)
		if err != nil {
			writeServiceError(w, err)
			return
		}

		resp := make([]transactionResponse, 0, len(txns))
		for i := range txns {
			resp = append(resp, toTransactionResponse(&txns[i]))
		}

		writeJSON(w, http.StatusOK, resp)
	}
}
