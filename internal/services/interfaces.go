package services

import (
	"context"
	"time"

	domain "github.com/maplecart/api/internal/domain"
)

// Type aliases expose domain models to the services package without reversing dependency direction.
type (
	Order           = domain.Order
	OrderItem       = domain.OrderItem
	ShippingAddress = domain.ShippingAddress
	PaymentResult   = domain.PaymentResult
	Product         = domain.Product
)

// Order lifecycle event types emitted to downstream consumers.
const (
	OrderEventCreated   = "order.created"
	OrderEventPaid      = "order.paid"
	OrderEventDelivered = "order.delivered"
)

// OrderEventMessage is the payload published for order lifecycle events.
type OrderEventMessage struct {
	EventType     string    `json:"eventType"`
	OrderID       string    `json:"orderId"`
	UserID        string    `json:"userId"`
	TotalPrice    string    `json:"totalPrice"`
	TransactionID string    `json:"transactionId,omitempty"`
	OccurredAt    time.Time `json:"occurredAt"`
}

// OrderEventPublisher publishes order lifecycle events for downstream consumers.
// It returns the broker-assigned message ID.
type OrderEventPublisher interface {
	PublishOrderEvent(ctx context.Context, message OrderEventMessage) (string, error)
}

// OrderService encapsulates the order lifecycle: creation with server-side
// repricing, payment confirmation, delivery stamping, and reads.
type OrderService interface {
	CreateOrder(ctx context.Context, cmd CreateOrderCommand) (Order, error)
	GetOrder(ctx context.Context, orderID string) (Order, error)
	ListMine(ctx context.Context, userID string) ([]Order, error)
	ListOrders(ctx context.Context) ([]Order, error)
	PayOrder(ctx context.Context, cmd PayOrderCommand) (Order, error)
	DeliverOrder(ctx context.Context, cmd DeliverOrderCommand) (Order, error)
}

// CatalogService exposes read access to the product catalog.
type CatalogService interface {
	GetProduct(ctx context.Context, productID string) (Product, error)
	ListProducts(ctx context.Context) ([]Product, error)
}

// CreateOrderLine is a requested order line. Only the product reference and
// quantity are trusted; name and price are re-read from the catalog.
type CreateOrderLine struct {
	ProductID string
	Quantity  int
}

// CreateOrderCommand carries everything needed to place a new order.
type CreateOrderCommand struct {
	UserID          string
	Items           []CreateOrderLine
	ShippingAddress ShippingAddress
	PaymentMethod   string
}

// PayOrderCommand confirms an external payment against an order.
type PayOrderCommand struct {
	OrderID       string
	UserID        string
	TransactionID string
}

// DeliverOrderCommand stamps an order as delivered.
type DeliverOrderCommand struct {
	OrderID string
	ActorID string
}
