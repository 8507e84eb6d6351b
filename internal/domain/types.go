package domain

import (
	"time"
)

// OrderItem is a line of an order. Name, image, and unit price are snapshots
// taken from the catalog when the order is created; later catalog edits never
// alter a stored order.
type OrderItem struct {
	ProductRef string
	Name       string
	Quantity   int
	UnitPrice  float64
	Image      string
}

// ShippingAddress is the destination captured at order creation. Immutable
// once the order is stored.
type ShippingAddress struct {
	Address    string
	City       string
	PostalCode string
	Country    string
}

// PaymentResult records the external processor confirmation attached to an
// order by the pay transition. Set exactly once.
type PaymentResult struct {
	TransactionID string
	Status        string
	UpdateTime    string
	PayerEmail    string
}

// Order is the central entity of the order lifecycle subsystem.
type Order struct {
	ID              string
	UserID          string
	Items           []OrderItem
	ShippingAddress ShippingAddress
	PaymentMethod   string
	PaymentResult   *PaymentResult

	ItemsPrice    float64
	TaxPrice      float64
	ShippingPrice float64
	TotalPrice    float64

	IsPaid      bool
	PaidAt      *time.Time
	IsDelivered bool
	DeliveredAt *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Product is the catalog projection the order subsystem reads. The catalog
// itself is maintained elsewhere; orders only consume it for repricing and
// snapshots.
type Product struct {
	ID           string
	Name         string
	Image        string
	Brand        string
	Category     string
	Description  string
	Price        float64
	Rating       float64
	NumReviews   int
	CountInStock int
	CreatedAt    time.Time
	UpdatedAt    time.Time
}
