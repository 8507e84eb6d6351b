package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	domain "github.com/maplecart/api/internal/domain"
	pfirestore "github.com/maplecart/api/internal/platform/firestore"
	"github.com/maplecart/api/internal/repositories"
)

const (
	orderCollection  = "orders"
	ledgerCollection = "paymentTransactions"
)

// OrderRepository persists order documents and the payment transaction ledger within Firestore.
type OrderRepository struct {
	base     *pfirestore.BaseRepository[orderDocument]
	provider *pfirestore.Provider
}

// NewOrderRepository constructs a Firestore-backed order repository.
func NewOrderRepository(provider *pfirestore.Provider) (*OrderRepository, error) {
	if provider == nil {
		return nil, errors.New("order repository requires firestore provider")
	}
	base := pfirestore.NewBaseRepository[orderDocument](provider, orderCollection)
	return &OrderRepository{
		base:     base,
		provider: provider,
	}, nil
}

// Insert creates the order document, failing when the ID is already taken.
func (r *OrderRepository) Insert(ctx context.Context, order domain.Order) error {
	if r == nil || r.base == nil {
		return errors.New("order repository not initialised")
	}
	orderID := strings.TrimSpace(order.ID)
	if orderID == "" {
		return errors.New("order repository: order id is required")
	}

	return r.base.Create(ctx, orderID, encodeOrder(order))
}

// FindByID loads a single order by its document ID.
func (r *OrderRepository) FindByID(ctx context.Context, orderID string) (domain.Order, error) {
	if r == nil || r.base == nil {
		return domain.Order{}, errors.New("order repository not initialised")
	}

	doc, err := r.base.Get(ctx, strings.TrimSpace(orderID))
	if err != nil {
		return domain.Order{}, err
	}
	return decodeOrder(doc.ID, doc.Data), nil
}

// ListByUser returns the orders belonging to the given user, newest first.
func (r *OrderRepository) ListByUser(ctx context.Context, userID string) ([]domain.Order, error) {
	if r == nil || r.base == nil {
		return nil, errors.New("order repository not initialised")
	}
	uid := strings.TrimSpace(userID)
	if uid == "" {
		return nil, errors.New("order repository: user id is required")
	}

	docs, err := r.base.Query(ctx, func(query firestore.Query) firestore.Query {
		return query.Where("user", "==", uid).OrderBy("createdAt", firestore.Desc)
	})
	if err != nil {
		return nil, err
	}
	return decodeOrders(docs), nil
}

// ListAll returns every order, newest first.
func (r *OrderRepository) ListAll(ctx context.Context) ([]domain.Order, error) {
	if r == nil || r.base == nil {
		return nil, errors.New("order repository not initialised")
	}

	docs, err := r.base.Query(ctx, func(query firestore.Query) firestore.Query {
		return query.OrderBy("createdAt", firestore.Desc)
	})
	if err != nil {
		return nil, err
	}
	return decodeOrders(docs), nil
}

// IsTransactionNew reports whether the external transaction ID is absent from the ledger.
func (r *OrderRepository) IsTransactionNew(ctx context.Context, transactionID string) (bool, error) {
	if r == nil || r.provider == nil {
		return false, errors.New("order repository not initialised")
	}
	txnID := strings.TrimSpace(transactionID)
	if txnID == "" {
		return false, errors.New("order repository: transaction id is required")
	}

	client, err := r.provider.Client(ctx)
	if err != nil {
		return false, err
	}

	snap, err := client.Collection(ledgerCollection).Doc(txnID).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return true, nil
		}
		return false, pfirestore.WrapError("paymentTransactions.get", err)
	}
	return !snap.Exists(), nil
}

// MarkPaid records the payment result on the order and claims the transaction ID in the
// ledger within a single transaction. The ledger write uses Create so a second order
// presenting the same external transaction ID fails with a conflict.
func (r *OrderRepository) MarkPaid(ctx context.Context, orderID string, result domain.PaymentResult, paidAt time.Time) (domain.Order, error) {
	if r == nil || r.provider == nil {
		return domain.Order{}, errors.New("order repository not initialised")
	}
	id := strings.TrimSpace(orderID)
	if id == "" {
		return domain.Order{}, errors.New("order repository: order id is required")
	}
	txnID := strings.TrimSpace(result.TransactionID)
	if txnID == "" {
		return domain.Order{}, errors.New("order repository: transaction id is required")
	}

	client, err := r.provider.Client(ctx)
	if err != nil {
		return domain.Order{}, err
	}

	orderRef := client.Collection(orderCollection).Doc(id)
	ledgerRef := client.Collection(ledgerCollection).Doc(txnID)
	paidAt = paidAt.UTC()

	var updated domain.Order
	err = pfirestore.RunTransaction(ctx, client, func(ctx context.Context, tx *firestore.Transaction) error {
		snap, err := tx.Get(orderRef)
		if err != nil {
			return err
		}

		var doc orderDocument
		if err := snap.DataTo(&doc); err != nil {
			return err
		}
		if doc.IsPaid {
			return fmt.Errorf("%w: %s", repositories.ErrAlreadyPaid, id)
		}

		ledger := ledgerDocument{
			OrderID:    id,
			UserID:     doc.UserID,
			Status:     result.Status,
			PayerEmail: result.PayerEmail,
			CreatedAt:  paidAt,
		}
		if err := tx.Create(ledgerRef, ledger); err != nil {
			return err
		}

		payment := paymentResultDocument{
			ID:           txnID,
			Status:       result.Status,
			UpdateTime:   result.UpdateTime,
			EmailAddress: result.PayerEmail,
		}
		if err := tx.Update(orderRef, []firestore.Update{
			{Path: "isPaid", Value: true},
			{Path: "paidAt", Value: paidAt},
			{Path: "paymentResult", Value: payment},
			{Path: "updatedAt", Value: paidAt},
		}); err != nil {
			return err
		}

		doc.IsPaid = true
		doc.PaidAt = &paidAt
		doc.PaymentResult = &payment
		doc.UpdatedAt = paidAt
		updated = decodeOrder(id, doc)
		return nil
	})
	if err != nil {
		return domain.Order{}, err
	}
	return updated, nil
}

// MarkDelivered stamps the order as delivered.
func (r *OrderRepository) MarkDelivered(ctx context.Context, orderID string, deliveredAt time.Time) (domain.Order, error) {
	if r == nil || r.base == nil {
		return domain.Order{}, errors.New("order repository not initialised")
	}
	id := strings.TrimSpace(orderID)
	if id == "" {
		return domain.Order{}, errors.New("order repository: order id is required")
	}

	deliveredAt = deliveredAt.UTC()
	if err := r.base.Update(ctx, id, []firestore.Update{
		{Path: "isDelivered", Value: true},
		{Path: "deliveredAt", Value: deliveredAt},
		{Path: "updatedAt", Value: deliveredAt},
	}); err != nil {
		return domain.Order{}, err
	}

	return r.FindByID(ctx, id)
}

func encodeOrder(order domain.Order) orderDocument {
	doc := orderDocument{
		UserID:        strings.TrimSpace(order.UserID),
		PaymentMethod: strings.TrimSpace(order.PaymentMethod),
		ItemsPrice:    order.ItemsPrice,
		TaxPrice:      order.TaxPrice,
		ShippingPrice: order.ShippingPrice,
		TotalPrice:    order.TotalPrice,
		IsPaid:        order.IsPaid,
		IsDelivered:   order.IsDelivered,
		CreatedAt:     order.CreatedAt.UTC(),
		UpdatedAt:     order.UpdatedAt.UTC(),
		ShippingAddress: shippingAddressDocument{
			Address:    strings.TrimSpace(order.ShippingAddress.Address),
			City:       strings.TrimSpace(order.ShippingAddress.City),
			PostalCode: strings.TrimSpace(order.ShippingAddress.PostalCode),
			Country:    strings.TrimSpace(order.ShippingAddress.Country),
		},
	}

	doc.Items = make([]orderItemDocument, 0, len(order.Items))
	for _, item := range order.Items {
		doc.Items = append(doc.Items, orderItemDocument{
			Product: strings.TrimSpace(item.ProductRef),
			Name:    item.Name,
			Qty:     item.Quantity,
			Price:   item.UnitPrice,
			Image:   item.Image,
		})
	}

	if order.PaymentResult != nil {
		doc.PaymentResult = &paymentResultDocument{
			ID:           order.PaymentResult.TransactionID,
			Status:       order.PaymentResult.Status,
			UpdateTime:   order.PaymentResult.UpdateTime,
			EmailAddress: order.PaymentResult.PayerEmail,
		}
	}
	if order.PaidAt != nil {
		paidAt := order.PaidAt.UTC()
		doc.PaidAt = &paidAt
	}
	if order.DeliveredAt != nil {
		deliveredAt := order.DeliveredAt.UTC()
		doc.DeliveredAt = &deliveredAt
	}

	return doc
}

func decodeOrder(id string, doc orderDocument) domain.Order {
	order := domain.Order{
		ID:            id,
		UserID:        doc.UserID,
		PaymentMethod: doc.PaymentMethod,
		ItemsPrice:    doc.ItemsPrice,
		TaxPrice:      doc.TaxPrice,
		ShippingPrice: doc.ShippingPrice,
		TotalPrice:    doc.TotalPrice,
		IsPaid:        doc.IsPaid,
		IsDelivered:   doc.IsDelivered,
		CreatedAt:     doc.CreatedAt,
		UpdatedAt:     doc.UpdatedAt,
		ShippingAddress: domain.ShippingAddress{
			Address:    doc.ShippingAddress.Address,
			City:       doc.ShippingAddress.City,
			PostalCode: doc.ShippingAddress.PostalCode,
			Country:    doc.ShippingAddress.Country,
		},
	}

	order.Items = make([]domain.OrderItem, 0, len(doc.Items))
	for _, item := range doc.Items {
		order.Items = append(order.Items, domain.OrderItem{
			ProductRef: item.Product,
			Name:       item.Name,
			Quantity:   item.Qty,
			UnitPrice:  item.Price,
			Image:      item.Image,
		})
	}

	if doc.PaymentResult != nil {
		order.PaymentResult = &domain.PaymentResult{
			TransactionID: doc.PaymentResult.ID,
			Status:        doc.PaymentResult.Status,
			UpdateTime:    doc.PaymentResult.UpdateTime,
			PayerEmail:    doc.PaymentResult.EmailAddress,
		}
	}
	if doc.PaidAt != nil {
		paidAt := *doc.PaidAt
		order.PaidAt = &paidAt
	}
	if doc.DeliveredAt != nil {
		deliveredAt := *doc.DeliveredAt
		order.DeliveredAt = &deliveredAt
	}

	return order
}

func decodeOrders(docs []pfirestore.Document[orderDocument]) []domain.Order {
	out := make([]domain.Order, 0, len(docs))
	for _, doc := range docs {
		out = append(out, decodeOrder(doc.ID, doc.Data))
	}
	return out
}

type orderDocument struct {
	UserID          string                  `firestore:"user"`
	Items           []orderItemDocument     `firestore:"orderItems"`
	ShippingAddress shippingAddressDocument `firestore:"shippingAddress"`
	PaymentMethod   string                  `firestore:"paymentMethod"`
	PaymentResult   *paymentResultDocument  `firestore:"paymentResult,omitempty"`
	ItemsPrice      float64                 `firestore:"itemsPrice"`
	TaxPrice        float64                 `firestore:"taxPrice"`
	ShippingPrice   float64                 `firestore:"shippingPrice"`
	TotalPrice      float64                 `firestore:"totalPrice"`
	IsPaid          bool                    `firestore:"isPaid"`
	PaidAt          *time.Time              `firestore:"paidAt,omitempty"`
	IsDelivered     bool                    `firestore:"isDelivered"`
	DeliveredAt     *time.Time              `firestore:"deliveredAt,omitempty"`
	CreatedAt       time.Time               `firestore:"createdAt"`
	UpdatedAt       time.Time               `firestore:"updatedAt"`
}

type orderItemDocument struct {
	Product string  `firestore:"product"`
	Name    string  `firestore:"name"`
	Qty     int     `firestore:"qty"`
	Price   float64 `firestore:"price"`
	Image   string  `firestore:"image,omitempty"`
}

type shippingAddressDocument struct {
	Address    string `firestore:"address"`
	City       string `firestore:"city"`
	PostalCode string `firestore:"postalCode"`
	Country    string `firestore:"country"`
}

type paymentResultDocument struct {
	ID           string `firestore:"id"`
	Status       string `firestore:"status"`
	UpdateTime   string `firestore:"update_time,omitempty"`
	EmailAddress string `firestore:"email_address,omitempty"`
}

type ledgerDocument struct {
	OrderID    string    `firestore:"orderId"`
	UserID     string    `firestore:"userId"`
	Status     string    `firestore:"status"`
	PayerEmail string    `firestore:"payerEmail,omitempty"`
	CreatedAt  time.Time `firestore:"createdAt"`
}

var _ repositories.OrderRepository = (*OrderRepository)(nil)
