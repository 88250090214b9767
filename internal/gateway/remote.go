package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"time"

	"github.com/shopspring/decimal"
	"github.com/skalov/mealmart/internal/models"
)

// Remote is HTTP client for an external payment provider. Used in production
// for real providers (stripe, razorpay, ...), all speaking the same internal
// provider protocol.
type Remote struct {
	name    string
	client  *http.Client
	baseURL string
}

// NewRemote creates new Remote gateway instance
func NewRemote(name, baseURL string) *Remote {
	return &Remote{
		name: name,
		client: &http.Client{
			Timeout: 5 * time.Second,
		},
		baseURL: baseURL,
	}
}

func (g *Remote) Name() string { return g.name }

type chargeRequestBody struct {
	OrderID  string `json:"order_id"`
	Amount   string `json:"amount"`
	Currency string `json:"currency"`
	Method   struct {
		Type     string `json:"type"`
		Token    string `json:"token"`
		LastFour string `json:"last_four,omitempty"`
		Brand    string `json:"brand,omitempty"`
	} `json:"method"`
}

type chargeResponseBody struct {
	Success      bool   `json:"success"`
	ProviderTxID string `json:"provider_transaction_id"`
	Amount       string `json:"amount"`
	Currency     string `json:"currency"`
	Fees         string `json:"fees"`
	Message      string `json:"message"`
	ErrorCode    string `json:"error_code,omitempty"`
}

// Charge performs charge against the provider
// 200 — charge attempted, body carries outcome
// 429/5xx or transport error — provider unavailable
func (g *Remote) Charge(ctx context.Context, req ChargeRequest) (*ChargeResult, error) {
	body := chargeRequestBody{
		OrderID:  req.OrderID,
		Amount:   req.Amount.StringFixed(2),
		Currency: req.Currency,
	}
	body.Method.Type = req.PaymentMethod.Type
	body.Method.Token = req.PaymentMethod.Token
	body.Method.LastFour = req.PaymentMethod.LastFour
	body.Method.Brand = req.PaymentMethod.Brand

	var resp chargeResponseBody
	if err := g.post(ctx, "charges", body, &resp); err != nil {
		return nil, err
	}

	result := &ChargeResult{
		Success:      resp.Success,
		ProviderTxID: resp.ProviderTxID,
		Currency:     resp.Currency,
		Message:      resp.Message,
		ProcessedAt:  time.Now().UTC(),
	}

	if amount, err := decimal.NewFromString(resp.Amount); err == nil {
		result.Amount = amount
	}
	if fees, err := decimal.NewFromString(resp.Fees); err == nil {
		result.Fees = fees
	}
	if !resp.Success {
		result.Failure = &models.GatewayError{Code: resp.ErrorCode, Message: resp.Message}
	}

	return result, nil
}

type refundRequestBody struct {
	ProviderTxID string `json:"provider_transaction_id"`
	Amount       string `json:"amount"`
	Reason       string `json:"reason,omitempty"`
}

type refundResponseBody struct {
	Success   bool   `json:"success"`
	RefundID  string `json:"refund_id"`
	Amount    string `json:"amount"`
	Message   string `json:"message"`
	ErrorCode string `json:"error_code,omitempty"`
}

// Refund performs refund against the provider
func (g *Remote) Refund(ctx context.Context, providerTxID string, amount decimal.Decimal, reason string) (*RefundResult, error) {
	body := refundRequestBody{
		ProviderTxID: providerTxID,
		Amount:       amount.StringFixed(2),
		Reason:       reason,
	}

	var resp refundResponseBody
	if err := g.post(ctx, "refunds", body, &resp); err != nil {
		return nil, err
	}

	result := &RefundResult{
		Success:     resp.Success,
		RefundID:    resp.RefundID,
		ProcessedAt: time.Now().UTC(),
	}
	if a, err := decimal.NewFromString(resp.Amount); err == nil {
		result.Amount = a
	}
	if !resp.Success {
		result.Failure = &models.GatewayError{Code: resp.ErrorCode, Message: resp.Message}
	}

	return result, nil
}

type validateResponseBody struct {
	Valid bool   `json:"valid"`
	Token string `json:"token"`
}

// ValidateMethod tokenizes and validates the payment method with the provider
func (g *Remote) ValidateMethod(ctx context.Context, method models.PaymentMethod) (*ValidationResult, error) {
	body := struct {
		Type     string `json:"type"`
		Token    string `json:"token"`
		LastFour string `json:"last_four,omitempty"`
	}{Type: method.Type, Token: method.Token, LastFour: method.LastFour}

	var resp validateResponseBody
	if err := g.post(ctx, "methods/validate", body, &resp); err != nil {
		return nil, err
	}

	return &ValidationResult{Valid: resp.Valid, Token: resp.Token}, nil
}

func (g *Remote) post(ctx context.Context, path string, in, out any) error {
	u, err := url.JoinPath(g.baseURL, "api", path)
	if err != nil {
		return err
	}

	payload, err := json.Marshal(in)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.client.Do(req)
	if resp != nil {
		defer resp.Body.Close()
	}
	if err != nil {
		return models.NewGatewayError(models.GatewayCodeUnavailable, "payment provider is unreachable")
	}

	switch {
	case resp.StatusCode == http.StatusOK:
		return json.NewDecoder(resp.Body).Decode(out)
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= http.StatusInternalServerError:
		return models.NewGatewayError(models.GatewayCodeUnavailable, "payment provider is unavailable")
	default:
		return models.NewGatewayError(models.GatewayCodeUnavailable, resp.Status)
	}
}
