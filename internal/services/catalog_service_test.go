package services

import (
	"context"
	"errors"
	"testing"

	domain "github.com/maplecart/api/internal/domain"
)

func TestCatalogServiceGetProduct(t *testing.T) {
	ctx := context.Background()

	products := &stubProductRepo{
		findFn: func(_ context.Context, productID string) (domain.Product, error) {
			if productID != "prod-1" {
				t.Fatalf("unexpected product id %s", productID)
			}
			return domain.Product{ID: "prod-1", Name: "Walnut Desk Clock", Price: 45.00}, nil
		},
	}

	svc, err := NewCatalogService(CatalogServiceDeps{Products: products})
	if err != nil {
		t.Fatalf("new catalog service: %v", err)
	}

	product, err := svc.GetProduct(ctx, " prod-1 ")
	if err != nil {
		t.Fatalf("get product: %v", err)
	}
	if product.Name != "Walnut Desk Clock" {
		t.Fatalf("unexpected product: %+v", product)
	}
}

func TestCatalogServiceGetProductNotFound(t *testing.T) {
	ctx := context.Background()

	products := &stubProductRepo{
		findFn: func(context.Context, string) (domain.Product, error) {
			return domain.Product{}, &repoError{notFound: true}
		},
	}

	svc, err := NewCatalogService(CatalogServiceDeps{Products: products})
	if err != nil {
		t.Fatalf("new catalog service: %v", err)
	}

	_, err = svc.GetProduct(ctx, "prod-missing")
	if !errors.Is(err, ErrCatalogProductNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestCatalogServiceListProducts(t *testing.T) {
	ctx := context.Background()

	products := &stubProductRepo{
		listFn: func(context.Context) ([]domain.Product, error) {
			return []domain.Product{{ID: "prod-1"}, {ID: "prod-2"}}, nil
		},
	}

	svc, err := NewCatalogService(CatalogServiceDeps{Products: products})
	if err != nil {
		t.Fatalf("new catalog service: %v", err)
	}

	list, err := svc.ListProducts(ctx)
	if err != nil {
		t.Fatalf("list products: %v", err)
	}
	if len(list) != 2 {
		t.Fatalf("expected 2 products, got %d", len(list))
	}
}

func TestCatalogServiceGetProductRequiresID(t *testing.T) {
	svc, err := NewCatalogService(CatalogServiceDeps{Products: &stubProductRepo{}})
	if err != nil {
		t.Fatalf("new catalog service: %v", err)
	}

	_, err = svc.GetProduct(context.Background(), "")
	if !errors.Is(err, ErrCatalogInvalidInput) {
		t.Fatalf("expected invalid input, got %v", err)
	}
}
