package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/skalov/mealmart/internal/models"
)

// error codes returned to clients
const (
	codeValidationError     = "validation_error"
	codeInvalidTransition   = "invalid_transition"
	codeInvalidState        = "invalid_state"
	codeNotFound            = "not_found"
	codeForbidden           = "forbidden"
	codeConflict            = "conflict"
	codeRefundExceeds       = "refund_exceeds_original"
	codeOrderCreationFailed = "order_creation_failed"
	codeInternalError       = "internal_error"
)

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		return
	}
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorResponse{Code: code, Message: message})
}

// writeServiceError maps service errors to the stable error taxonomy.
// Gateway credentials and card data never reach the response.
func writeServiceError(w http.ResponseWriter, err error) {
	var gwErr models.GatewayError
	if errors.As(err, &gwErr) {
		switch gwErr.Code {
		case models.GatewayCodeCardDeclined, models.GatewayCodeInsufficientFunds, models.GatewayCodeFraudDetected:
			writeError(w, http.StatusPaymentRequired, gwErr.Code, gwErr.Message)
		case models.GatewayCodeInvalidAmount, models.GatewayCodeAmountTooHigh:
			writeError(w, http.StatusBadRequest, gwErr.Code, gwErr.Message)
		default:
			// timeouts and unreachable providers, safe to retry at caller discretion
			writeError(w, http.StatusServiceUnavailable, models.GatewayCodeUnavailable, gwErr.Message)
		}
		return
	}

	switch {
	case errors.Is(err, models.ErrDataNotFound):
		writeError(w, http.StatusNotFound, codeNotFound, "order not found")
	case errors.Is(err, models.ErrForbidden):
		writeError(w, http.StatusForbidden, codeForbidden, "you can only access your own orders")
	case errors.Is(err, models.ErrInvalidTransition):
		writeError(w, http.StatusConflict, codeInvalidTransition, "order status does not allow this operation")
	case errors.Is(err, models.ErrConflictData):
		writeError(w, http.StatusConflict, codeConflict, "a refund for this payment is already in progress")
	case errors.Is(err, models.ErrRefundExceedsOriginal):
		writeError(w, http.StatusBadRequest, codeRefundExceeds, "refund amount exceeds original payment")
	case errors.Is(err, models.ErrNoCompletedPayment):
		writeError(w, http.StatusBadRequest, codeInvalidState, "order has no completed payment")
	case errors.Is(err, models.ErrEmptyCart),
		errors.Is(err, models.ErrInvalidAmount),
		errors.Is(err, models.ErrInvalidPaymentMethod):
		writeError(w, http.StatusBadRequest, codeValidationError, err.Error())
	case errors.Is(err, models.ErrOrderCreationFailed):
		writeError(w, http.StatusInternalServerError, codeOrderCreationFailed, "order creation failed")
	default:
		writeError(w, http.StatusInternalServerError, codeInternalError, "internal error")
	}
}

type addressResponse struct {
	Line1       string `json:"line1"`
	Line2       string `json:"line2,omitempty"`
	City        string `json:"city"`
	State       string `json:"state,omitempty"`
	PostalCode  string `json:"postal_code"`
	CountryCode string `json:"country_code"`
}

type orderItemResponse struct {
	ID                  string         `json:"id"`
	MenuItemID          string         `json:"menu_item_id"`
	Name                string         `json:"name"`
	Quantity            int            `json:"quantity"`
	UnitPrice           string         `json:"unit_price"`
	TotalPrice          string         `json:"total_price"`
	Customizations      map[string]any `json:"customizations,omitempty"`
	SpecialInstructions string         `json:"special_instructions,omitempty"`
}

type trackingResponse struct {
	Status    string `json:"status"`
	Notes     string `json:"notes,omitempty"`
	CreatedAt string `json:"created_at"`
}

type orderResponse struct {
	ID              string              `json:"id"`
	Number          string              `json:"number"`
	MerchantID      string              `json:"merchant_id"`
	MerchantName    string              `json:"merchant_name,omitempty"`
	Status          string              `json:"status"`
	PaymentID       string              `json:"payment_id,omitempty"`
	PaymentStatus   string              `json:"payment_status"`
	Subtotal        string              `json:"subtotal"`
	TaxAmount       string              `json:"tax_amount"`
	DeliveryFee     string              `json:"delivery_fee"`
	ProcessingFee   string              `json:"processing_fee"`
	DiscountAmount  string              `json:"discount_amount"`
	TotalAmount     string              `json:"total_amount"`
	CurrencyCode    string              `json:"currency_code"`
	CountryCode     string              `json:"country_code"`
	DeliveryAddress addressResponse     `json:"delivery_address"`
	Items           []orderItemResponse `json:"items,omitempty"`
	Tracking        []trackingResponse  `json:"tracking,omitempty"`
	CreatedAt       string              `json:"created_at"`
}

type transactionResponse struct {
	ID           string `json:"id"`
	OrderID      string `json:"order_id"`
	Type         string `json:"type"`
	ProviderTxID string `json:"provider_transaction_id,omitempty"`
	Status       string `json:"status"`
	Amount       string `json:"amount"`
	Currency     string `json:"currency"`
	Fees         string `json:"fees"`
	CreatedAt    string `json:"created_at"`
}

func toOrderResponse(order *models.Order) orderResponse {
	resp := orderResponse{
		ID:             order.ID.String(),
		Number:         order.Number,
		MerchantID:     order.MerchantID.String(),
		MerchantName:   order.MerchantName,
		Status:         order.Status,
		PaymentID:      order.PaymentID,
		PaymentStatus:  order.PaymentStatus,
		Subtotal:       order.Subtotal.StringFixed(2),
		TaxAmount:      order.TaxAmount.StringFixed(2),
		DeliveryFee:    order.DeliveryFee.StringFixed(2),
		ProcessingFee:  order.ProcessingFee.StringFixed(2),
		DiscountAmount: order.DiscountAmount.StringFixed(2),
		TotalAmount:    order.TotalAmount.StringFixed(2),
		CurrencyCode:   order.CurrencyCode,
		CountryCode:    order.CountryCode,
		DeliveryAddress: addressResponse{
			Line1:       order.DeliveryAddress.Line1,
			Line2:       order.DeliveryAddress.Line2,
			City:        order.DeliveryAddress.City,
			State:       order.DeliveryAddress.State,
			PostalCode:  order.DeliveryAddress.PostalCode,
			CountryCode: order.DeliveryAddress.CountryCode,
		},
		CreatedAt: order.CreatedAt.Format(time.RFC3339),
	}

	for _, item := range order.Items {
		resp.Items = append(resp.Items, orderItemResponse{
			ID:                  item.ID.String(),
			MenuItemID:          item.MenuItemID.String(),
			Name:                item.Name,
			Quantity:            item.Quantity,
			UnitPrice:           item.UnitPrice.StringFixed(2),
			TotalPrice:          item.TotalPrice.StringFixed(2),
			Customizations:      item.Customizations,
			SpecialInstructions: item.SpecialInstructions,
		})
	}

	for _, ev := range order.Tracking {
		resp.Tracking = append(resp.Tracking, trackingResponse{
			Status:    ev.Status,
			Notes:     ev.Notes,
			CreatedAt: ev.CreatedAt.Format(time.RFC3339),
		})
	}

	return resp
}

func toTransactionResponse(txn *models.Transaction) transactionResponse {
	return transactionResponse{
		ID:           txn.ID.String(),
		OrderID:      txn.OrderID.String(),
		Type:         txn.Type,
		ProviderTxID: txn.ProviderTxID,
		Status:       txn.Status,
		Amount:       txn.Amount.StringFixed(2),
		Currency:     txn.Currency,
		Fees:         txn.Fees.StringFixed(2),
		CreatedAt:    txn.CreatedAt.Format(time.RFC3339),
	}
}
