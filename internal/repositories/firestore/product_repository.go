package firestore

import (
	"context"
	"errors"
	"strings"
	"time"

	"cloud.google.com/go/firestore"

	domain "github.com/maplecart/api/internal/domain"
	pfirestore "github.com/maplecart/api/internal/platform/firestore"
	"github.com/maplecart/api/internal/repositories"
)

const productCollection = "products"

// ProductRepository reads product catalog documents from Firestore.
type ProductRepository struct {
	base     *pfirestore.BaseRepository[productDocument]
	provider *pfirestore.Provider
}

// NewProductRepository constructs a Firestore-backed product repository.
func NewProductRepository(provider *pfirestore.Provider) (*ProductRepository, error) {
	if provider == nil {
		return nil, errors.New("product repository requires firestore provider")
	}
	base := pfirestore.NewBaseRepository[productDocument](provider, productCollection)
	return &ProductRepository{
		base:     base,
		provider: provider,
	}, nil
}

// FindByID loads a single product by its document ID.
func (r *ProductRepository) FindByID(ctx context.Context, productID string) (domain.Product, error) {
	if r == nil || r.base == nil {
		return domain.Product{}, errors.New("product repository not initialised")
	}

	doc, err := r.base.Get(ctx, strings.TrimSpace(productID))
	if err != nil {
		return domain.Product{}, err
	}
	return decodeProduct(doc.ID, doc.Data), nil
}

// FindByIDs resolves the requested products keyed by ID in a single batched read.
// Missing products are absent from the result map.
func (r *ProductRepository) FindByIDs(ctx context.Context, productIDs []string) (map[string]domain.Product, error) {
	if r == nil || r.provider == nil {
		return nil, errors.New("product repository not initialised")
	}

	refs := make([]*firestore.DocumentRef, 0, len(productIDs))
	seen := make(map[string]struct{}, len(productIDs))
	client, err := r.provider.Client(ctx)
	if err != nil {
		return nil, err
	}
	for _, id := range productIDs {
		trimmed := strings.TrimSpace(id)
		if trimmed == "" {
			continue
		}
		if _, ok := seen[trimmed]; ok {
			continue
		}
		seen[trimmed] = struct{}{}
		refs = append(refs, client.Collection(productCollection).Doc(trimmed))
	}

	if len(refs) == 0 {
		return map[string]domain.Product{}, nil
	}

	snapshots, err := client.GetAll(ctx, refs)
	if err != nil {
		return nil, pfirestore.WrapError("products.getall", err)
	}

	out := make(map[string]domain.Product, len(snapshots))
	for _, snap := range snapshots {
		if snap == nil || !snap.Exists() {
			continue
		}
		var doc productDocument
		if err := snap.DataTo(&doc); err != nil {
			return nil, pfirestore.WrapError("products.decode", err)
		}
		out[snap.Ref.ID] = decodeProduct(snap.Ref.ID, doc)
	}
	return out, nil
}

// List returns the full catalog, newest first.
func (r *ProductRepository) List(ctx context.Context) ([]domain.Product, error) {
	if r == nil || r.base == nil {
		return nil, errors.New("product repository not initialised")
	}

	docs, err := r.base.Query(ctx, func(query firestore.Query) firestore.Query {
		return query.OrderBy("createdAt", firestore.Desc)
	})
	if err != nil {
		return nil, err
	}

	out := make([]domain.Product, 0, len(docs))
	for _, doc := range docs {
		out = append(out, decodeProduct(doc.ID, doc.Data))
	}
	return out, nil
}

func decodeProduct(id string, doc productDocument) domain.Product {
	return domain.Product{
		ID:           id,
		Name:         doc.Name,
		Image:        doc.Image,
		Brand:        doc.Brand,
		Category:     doc.Category,
		Description:  doc.Description,
		Price:        doc.Price,
		Rating:       doc.Rating,
		NumReviews:   doc.NumReviews,
		CountInStock: doc.CountInStock,
		CreatedAt:    doc.CreatedAt,
		UpdatedAt:    doc.UpdatedAt,
	}
}

type productDocument struct {
	Name         string    `firestore:"name"`
	Image        string    `firestore:"image,omitempty"`
	Brand        string    `firestore:"brand,omitempty"`
	Category     string    `firestore:"category,omitempty"`
	Description  string    `firestore:"description,omitempty"`
	Price        float64   `firestore:"price"`
	Rating       float64   `firestore:"rating"`
	NumReviews   int       `firestore:"numReviews"`
	CountInStock int       `firestore:"countInStock"`
	CreatedAt    time.Time `firestore:"createdAt"`
	UpdatedAt    time.Time `firestore:"updatedAt"`
}

var _ repositories.ProductRepository = (*ProductRepository)(nil)
