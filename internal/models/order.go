package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// order status
const (
	OrderStatusPending   = "pending"
	OrderStatusConfirmed = "confirmed"
	OrderStatusPreparing = "preparing"
	OrderStatusCompleted = "completed"
	OrderStatusCancelled = "cancelled"
	OrderStatusRefunded  = "refunded"
)

// order payment status
const (
	PaymentStatusPending  = "pending"
	PaymentStatusPaid     = "paid"
	PaymentStatusRefunded = "refunded"
)

// Address is structured delivery address
type Address struct {
	Line1      string `json:"line1"`
	Line2      string `json:"line2,omitempty"`
	City       string `json:"city"`
	State      string `json:"state,omitempty"`
	PostalCode string `json:"postal_code"`
	// ISO 3166-1 alpha-2
	CountryCode string `json:"country_code"`
}

// Order is order entity
type Order struct {
	ID              uuid.UUID
	Number          string
	UserID          uuid.UUID
	MerchantID      uuid.UUID
	CartID          uuid.UUID
	Status          string
	PaymentID       string
	PaymentStatus   string
	Subtotal        decimal.Decimal
	TaxAmount       decimal.Decimal
	DeliveryFee     decimal.Decimal
	ProcessingFee   decimal.Decimal
	DiscountAmount  decimal.Decimal
	TotalAmount     decimal.Decimal
	CurrencyCode    string
	CountryCode     string
	DeliveryAddress Address
	CustomerName    string
	CustomerEmail   string
	MerchantName    string
	Items           []OrderItem
	Tracking        []TrackingEvent
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// OrderItem is order line item entity. Name and unit price are snapshots
// taken at order creation, immune to later menu edits.
type OrderItem struct {
	ID                  uuid.UUID
	OrderID             uuid.UUID
	MenuItemID          uuid.UUID
	Name                string
	Quantity            int
	UnitPrice           decimal.Decimal
	TotalPrice          decimal.Decimal
	Customizations      map[string]any
	SpecialInstructions string
}

// TrackingEvent is order status history entry
type TrackingEvent struct {
	ID        uint64
	OrderID   uuid.UUID
	Status    string
	Notes     string
	CreatedAt time.Time
}

// CartData is resolved cart contents supplied by the cart collaborator.
// The coordinator reads it, never mutates it.
type CartData struct {
	MerchantID      uuid.UUID
	CartID          uuid.UUID
	Items           []CartItem
	Subtotal        decimal.Decimal
	TaxAmount       decimal.Decimal
	DeliveryFee     decimal.Decimal
	DiscountAmount  decimal.Decimal
	DeliveryAddress Address
	CustomerName    string
	CustomerEmail   string
	MerchantName    string
	CountryCode     string
	CurrencyCode    string
}

// CartItem is single cart position
type CartItem struct {
	MenuItemID          uuid.UUID
	Name                string
	Quantity            int
	UnitPrice           decimal.Decimal
	Customizations      map[string]any
	SpecialInstructions string
}
