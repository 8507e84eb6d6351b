package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	domain "github.com/maplecart/api/internal/domain"
	"github.com/maplecart/api/internal/payments"
	"github.com/maplecart/api/internal/repositories"
)

const orderIDPrefix = "ord_"

var (
	// ErrOrderInvalidInput signals the caller provided invalid data.
	ErrOrderInvalidInput = errors.New("order: invalid input")
	// ErrOrderNotFound indicates the order could not be located.
	ErrOrderNotFound = errors.New("order: not found")
	// ErrProductNotFound indicates a referenced catalog product does not exist.
	ErrProductNotFound = errors.New("order: product not found")
	// ErrPaymentNotVerified indicates the processor did not confirm the transaction as completed.
	ErrPaymentNotVerified = errors.New("order: payment not verified")
	// ErrPaymentAmountMismatch indicates the processor-reported amount differs from the order total.
	ErrPaymentAmountMismatch = errors.New("order: payment amount does not match order total")
	// ErrTransactionUsed indicates the external transaction ID has already paid an order.
	ErrTransactionUsed = errors.New("order: transaction has been used before")
	// ErrOrderAlreadyPaid indicates the order carries a payment confirmation and
	// cannot be paid again, regardless of transaction ID.
	ErrOrderAlreadyPaid = errors.New("order: already paid")
)

// OrderServiceDeps bundles collaborators required to construct the order service.
type OrderServiceDeps struct {
	Orders      repositories.OrderRepository
	Products    repositories.ProductRepository
	Verifier    payments.Verifier
	Events      OrderEventPublisher
	Clock       func() time.Time
	IDGenerator func() string
	Logger      func(ctx context.Context, event string, fields map[string]any)
}

type orderService struct {
	orders   repositories.OrderRepository
	products repositories.ProductRepository
	verifier payments.Verifier
	events   OrderEventPublisher
	clock    func() time.Time
	newID    func() string
	logger   func(context.Context, string, map[string]any)
}

// NewOrderService wires dependencies into a concrete OrderService implementation.
func NewOrderService(deps OrderServiceDeps) (OrderService, error) {
	switch {
	case deps.Orders == nil:
		return nil, errors.New("order service: order repository is required")
	case deps.Products == nil:
		return nil, errors.New("order service: product repository is required")
	case deps.Verifier == nil:
		return nil, errors.New("order service: payment verifier is required")
	}

	s := &orderService{
		orders:   deps.Orders,
		products: deps.Products,
		verifier: deps.Verifier,
		events:   deps.Events,
		newID:    deps.IDGenerator,
		logger:   deps.Logger,
	}
	base := deps.Clock
	if base == nil {
		base = time.Now
	}
	// Timestamps are stored in UTC no matter what clock the caller injects.
	s.clock = func() time.Time { return base().UTC() }
	if s.newID == nil {
		s.newID = func() string { return ulid.Make().String() }
	}
	if s.logger == nil {
		s.logger = func(context.Context, string, map[string]any) {}
	}
	return s, nil
}

func (s *orderService) CreateOrder(ctx context.Context, cmd CreateOrderCommand) (Order, error) {
	userID := strings.TrimSpace(cmd.UserID)
	if userID == "" {
		return Order{}, fmt.Errorf("%w: user id is required", ErrOrderInvalidInput)
	}
	if len(cmd.Items) == 0 {
		return Order{}, fmt.Errorf("%w: no order items", ErrOrderInvalidInput)
	}

	productIDs := make([]string, 0, len(cmd.Items))
	for i, line := range cmd.Items {
		productID := strings.TrimSpace(line.ProductID)
		if productID == "" {
			return Order{}, fmt.Errorf("%w: item %d: product id is required", ErrOrderInvalidInput, i)
		}
		if line.Quantity < 1 {
			return Order{}, fmt.Errorf("%w: item %d: quantity must be at least 1", ErrOrderInvalidInput, i)
		}
		productIDs = append(productIDs, productID)
	}
	if err := validateShippingAddress(cmd.ShippingAddress); err != nil {
		return Order{}, err
	}
	paymentMethod := strings.TrimSpace(cmd.PaymentMethod)
	if paymentMethod == "" {
		return Order{}, fmt.Errorf("%w: payment method is required", ErrOrderInvalidInput)
	}

	catalog, err := s.products.FindByIDs(ctx, productIDs)
	if err != nil {
		return Order{}, s.mapRepositoryError(err)
	}

	// Name, image, and unit price are snapshots of the catalog at this
	// moment; client-submitted prices are never trusted.
	items := make([]OrderItem, 0, len(cmd.Items))
	lines := make([]domain.PriceLine, 0, len(cmd.Items))
	for _, line := range cmd.Items {
		productID := strings.TrimSpace(line.ProductID)
		product, ok := catalog[productID]
		if !ok {
			return Order{}, fmt.Errorf("%w: %s", ErrProductNotFound, productID)
		}
		items = append(items, OrderItem{
			ProductRef: productID,
			Name:       product.Name,
			Quantity:   line.Quantity,
			UnitPrice:  product.Price,
			Image:      product.Image,
		})
		lines = append(lines, domain.PriceLine{UnitPrice: product.Price, Quantity: line.Quantity})
	}

	breakdown, err := domain.CalcPrices(lines)
	if err != nil {
		return Order{}, fmt.Errorf("%w: %v", ErrOrderInvalidInput, err)
	}

	now := s.now()
	order := Order{
		ID:              orderIDPrefix + s.newID(),
		UserID:          userID,
		Items:           items,
		ShippingAddress: cmd.ShippingAddress,
		PaymentMethod:   paymentMethod,
		ItemsPrice:      breakdown.ItemsPrice,
		TaxPrice:        breakdown.TaxPrice,
		ShippingPrice:   breakdown.ShippingPrice,
		TotalPrice:      breakdown.TotalPrice,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	if err := s.orders.Insert(ctx, order); err != nil {
		return Order{}, s.mapRepositoryError(err)
	}

	s.publishEvent(ctx, OrderEventMessage{
		EventType:  OrderEventCreated,
		OrderID:    order.ID,
		UserID:     order.UserID,
		TotalPrice: domain.FormatAmount(order.TotalPrice),
		OccurredAt: now,
	})

	return order, nil
}

func (s *orderService) GetOrder(ctx context.Context, orderID string) (Order, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}

	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return Order{}, s.mapRepositoryError(err)
	}
	return order, nil
}

func (s *orderService) ListMine(ctx context.Context, userID string) ([]Order, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, fmt.Errorf("%w: user id is required", ErrOrderInvalidInput)
	}

	orders, err := s.orders.ListByUser(ctx, userID)
	if err != nil {
		return nil, s.mapRepositoryError(err)
	}
	return orders, nil
}

func (s *orderService) ListOrders(ctx context.Context) ([]Order, error) {
	orders, err := s.orders.ListAll(ctx)
	if err != nil {
		return nil, s.mapRepositoryError(err)
	}
	return orders, nil
}

func (s *orderService) PayOrder(ctx context.Context, cmd PayOrderCommand) (Order, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}
	transactionID := strings.TrimSpace(cmd.TransactionID)
	if transactionID == "" {
		return Order{}, fmt.Errorf("%w: transaction id is required", ErrOrderInvalidInput)
	}

	result, err := s.verifier.VerifyTransaction(ctx, transactionID)
	if err != nil {
		return Order{}, err
	}
	if !result.Verified {
		return Order{}, fmt.Errorf("%w: transaction status %q", ErrPaymentNotVerified, result.Status)
	}

	fresh, err := s.orders.IsTransactionNew(ctx, transactionID)
	if err != nil {
		return Order{}, s.mapRepositoryError(err)
	}
	if !fresh {
		return Order{}, fmt.Errorf("%w: %s", ErrTransactionUsed, transactionID)
	}

	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return Order{}, s.mapRepositoryError(err)
	}
	if order.IsPaid {
		return Order{}, fmt.Errorf("%w: %s", ErrOrderAlreadyPaid, orderID)
	}

	paid, err := domain.ParseAmount(result.Amount)
	if err != nil || !domain.AmountsEqual(paid, order.TotalPrice) {
		return Order{}, fmt.Errorf("%w: paid %q, expected %s",
			ErrPaymentAmountMismatch, result.Amount, domain.FormatAmount(order.TotalPrice))
	}

	now := s.now()
	updated, err := s.orders.MarkPaid(ctx, orderID, PaymentResult{
		TransactionID: transactionID,
		Status:        result.Status,
		UpdateTime:    result.UpdateTime,
		PayerEmail:    result.PayerEmail,
	}, now)
	if err != nil {
		// Between the read checks and the transactional write a concurrent
		// payment can claim the transaction ID, or pay the order outright.
		if errors.Is(err, repositories.ErrAlreadyPaid) {
			return Order{}, fmt.Errorf("%w: %s", ErrOrderAlreadyPaid, orderID)
		}
		mapped := s.mapRepositoryError(err)
		if errors.Is(mapped, errOrderConflict) {
			return Order{}, fmt.Errorf("%w: %s", ErrTransactionUsed, transactionID)
		}
		return Order{}, mapped
	}

	s.publishEvent(ctx, OrderEventMessage{
		EventType:     OrderEventPaid,
		OrderID:       updated.ID,
		UserID:        updated.UserID,
		TotalPrice:    domain.FormatAmount(updated.TotalPrice),
		TransactionID: transactionID,
		OccurredAt:    now,
	})

	return updated, nil
}

func (s *orderService) DeliverOrder(ctx context.Context, cmd DeliverOrderCommand) (Order, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}

	if _, err := s.orders.FindByID(ctx, orderID); err != nil {
		return Order{}, s.mapRepositoryError(err)
	}

	now := s.now()
	updated, err := s.orders.MarkDelivered(ctx, orderID, now)
	if err != nil {
		return Order{}, s.mapRepositoryError(err)
	}

	s.publishEvent(ctx, OrderEventMessage{
		EventType:  OrderEventDelivered,
		OrderID:    updated.ID,
		UserID:     updated.UserID,
		TotalPrice: domain.FormatAmount(updated.TotalPrice),
		OccurredAt: now,
	})

	return updated, nil
}

// errOrderConflict is internal; callers see ErrTransactionUsed since the only
// conflicting write on an order is a ledger claim.
var errOrderConflict = errors.New("order: conflict")

func (s *orderService) mapRepositoryError(err error) error {
	var repoErr repositories.RepositoryError
	if err == nil || !errors.As(err, &repoErr) {
		return err
	}
	switch {
	case repoErr.IsNotFound():
		return fmt.Errorf("%w: %v", ErrOrderNotFound, err)
	case repoErr.IsConflict():
		return fmt.Errorf("%w: %v", errOrderConflict, err)
	case repoErr.IsUnavailable():
		return fmt.Errorf("order: repository unavailable: %w", err)
	default:
		return err
	}
}

func validateShippingAddress(addr ShippingAddress) error {
	if strings.TrimSpace(addr.Address) == "" {
		return fmt.Errorf("%w: shipping address is required", ErrOrderInvalidInput)
	}
	if strings.TrimSpace(addr.City) == "" {
		return fmt.Errorf("%w: shipping city is required", ErrOrderInvalidInput)
	}
	if strings.TrimSpace(addr.PostalCode) == "" {
		return fmt.Errorf("%w: shipping postal code is required", ErrOrderInvalidInput)
	}
	if strings.TrimSpace(addr.Country) == "" {
		return fmt.Errorf("%w: shipping country is required", ErrOrderInvalidInput)
	}
	return nil
}

func (s *orderService) now() time.Time {
	return s.clock()
}

func (s *orderService) publishEvent(ctx context.Context, message OrderEventMessage) {
	if s.events == nil {
		return
	}
	if _, err := s.events.PublishOrderEvent(ctx, message); err != nil {
		s.logger(ctx, "order.event.publish.failed", map[string]any{
			"type":  message.EventType,
			"order": message.OrderID,
			"error": err.Error(),
		})
	}
}
