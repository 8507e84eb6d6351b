package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/maplecart/api/internal/services"
)

type stubCatalogService struct {
	getFn  func(context.Context, string) (services.Product, error)
	listFn func(context.Context) ([]services.Product, error)
}

func (s *stubCatalogService) GetProduct(ctx context.Context, productID string) (services.Product, error) {
	if s.getFn != nil {
		return s.getFn(ctx, productID)
	}
	return services.Product{}, errors.New("not implemented")
}

func (s *stubCatalogService) ListProducts(ctx context.Context) ([]services.Product, error) {
	if s.listFn != nil {
		return s.listFn(ctx)
	}
	return nil, nil
}

var _ services.CatalogService = (*stubCatalogService)(nil)

func newProductTestRouter(service services.CatalogService) chi.Router {
	handler := NewProductHandlers(service)
	router := chi.NewRouter()
	router.Route("/products", handler.Routes)
	return router
}

func TestProductHandlersListProducts(t *testing.T) {
	now := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	service := &stubCatalogService{
		listFn: func(context.Context) ([]services.Product, error) {
			return []services.Product{
				{ID: "prod-1", Name: "Walnut Desk Clock", Price: 45.00, CountInStock: 7, CreatedAt: now},
				{ID: "prod-2", Name: "Brass Bookend", Price: 30.00},
			}, nil
		},
	}

	router := newProductTestRouter(service)

	req := httptest.NewRequest(http.MethodGet, "/products/", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}

	var payload productListResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &payload); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if len(payload.Products) != 2 {
		t.Fatalf("expected 2 products, got %d", len(payload.Products))
	}
	if payload.Products[0].Name != "Walnut Desk Clock" || payload.Products[0].Price != 45.00 {
		t.Fatalf("unexpected product: %+v", payload.Products[0])
	}
}

func TestProductHandlersGetProduct(t *testing.T) {
	service := &stubCatalogService{
		getFn: func(_ context.Context, productID string) (services.Product, error) {
			if productID != "prod-1" {
				t.Fatalf("unexpected product id %s", productID)
			}
			return services.Product{ID: "prod-1", Name: "Walnut Desk Clock", Price: 45.00}, nil
		},
	}

	router := newProductTestRouter(service)

	req := httptest.NewRequest(http.MethodGet, "/products/prod-1", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}

	var payload productPayload
	if err := json.Unmarshal(rr.Body.Bytes(), &payload); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if payload.ID != "prod-1" {
		t.Fatalf("unexpected payload: %+v", payload)
	}
}

func TestProductHandlersGetProductNotFound(t *testing.T) {
	service := &stubCatalogService{
		getFn: func(context.Context, string) (services.Product, error) {
			return services.Product{}, fmt.Errorf("%w: gone", services.ErrCatalogProductNotFound)
		},
	}

	router := newProductTestRouter(service)

	req := httptest.NewRequest(http.MethodGet, "/products/prod-missing", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected status 404, got %d", rr.Code)
	}
	var payload map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &payload); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if payload["error"] != "product_not_found" {
		t.Fatalf("expected product_not_found, got %v", payload["error"])
	}
}
