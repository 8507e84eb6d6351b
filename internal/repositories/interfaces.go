package repositories

import (
	"context"
	"errors"
	"time"

	domain "github.com/maplecart/api/internal/domain"
)

// ErrAlreadyPaid is returned by MarkPaid when the order already carries a
// payment confirmation. An order moves to paid at most once; a later attempt,
// even with a fresh transaction ID, must not re-stamp it.
var ErrAlreadyPaid = errors.New("order is already paid")

// Registry exposes the persistence contracts wired into the service layer. Implementations
// own the underlying client and release it via Close.
type Registry interface {
	Orders() OrderRepository
	Products() ProductRepository
	Close(ctx context.Context) error
}

// RepositoryError wraps low-level persistence failures with categorisation used by services.
type RepositoryError interface {
	error
	IsNotFound() bool
	IsConflict() bool
	IsUnavailable() bool
}

// OrderRepository persists orders and the payment transaction ledger.
type OrderRepository interface {
	// Insert creates the order document. Fails with a conflict when the ID is already taken.
	Insert(ctx context.Context, order domain.Order) error
	FindByID(ctx context.Context, orderID string) (domain.Order, error)
	ListByUser(ctx context.Context, userID string) ([]domain.Order, error)
	ListAll(ctx context.Context) ([]domain.Order, error)

	// IsTransactionNew reports whether the external transaction ID has never been
	// recorded against any order.
	IsTransactionNew(ctx context.Context, transactionID string) (bool, error)

	// MarkPaid records the payment result and claims the external transaction ID in
	// one atomic step. A conflict error is returned when the transaction ID was
	// already claimed by another order; ErrAlreadyPaid when the order itself is
	// already paid.
	MarkPaid(ctx context.Context, orderID string, result domain.PaymentResult, paidAt time.Time) (domain.Order, error)

	MarkDelivered(ctx context.Context, orderID string, deliveredAt time.Time) (domain.Order, error)
}

// ProductRepository reads the product catalog.
type ProductRepository interface {
	FindByID(ctx context.Context, productID string) (domain.Product, error)
	// FindByIDs resolves the requested products keyed by ID. Missing products are
	// simply absent from the result map.
	FindByIDs(ctx context.Context, productIDs []string) (map[string]domain.Product, error)
	List(ctx context.Context) ([]domain.Product, error)
}
