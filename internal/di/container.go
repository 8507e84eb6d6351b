package di

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/maplecart/api/internal/payments"
	"github.com/maplecart/api/internal/platform/config"
	"github.com/maplecart/api/internal/repositories"
	"github.com/maplecart/api/internal/services"
)

// Services groups the service-layer contracts the HTTP handlers consume.
type Services struct {
	Orders  services.OrderService
	Catalog services.CatalogService
}

// Dependencies carries infrastructure collaborators that live outside the repository registry.
type Dependencies struct {
	// Verifier checks external payment transactions. Built from config when nil.
	Verifier payments.Verifier
	// Events publishes order lifecycle events. Optional; events are skipped when nil.
	Events services.OrderEventPublisher
	// Logger backs service-level diagnostic output.
	Logger *zap.Logger
}

// Container holds the assembled application graph for the lifetime of the
// process.
type Container struct {
	Config       config.Config
	Repositories repositories.Registry
	Services     Services
}

// NewContainer assembles the service graph on top of the supplied repository
// registry. Production wiring passes the Firestore registry; tests can supply
// in-memory registries and stub collaborators.
func NewContainer(ctx context.Context, cfg config.Config, reg repositories.Registry, deps Dependencies) (*Container, error) {
	if reg == nil {
		return nil, errors.New("repositories registry is required")
	}
	svc, err := buildServices(ctx, reg, cfg, deps)
	if err != nil {
		return nil, err
	}
	return &Container{Config: cfg, Repositories: reg, Services: svc}, nil
}

// Close releases resources such as repository clients.
func (c *Container) Close(ctx context.Context) error {
	if c == nil || c.Repositories == nil {
		return nil
	}
	return c.Repositories.Close(ctx)
}

func buildServices(_ context.Context, reg repositories.Registry, cfg config.Config, deps Dependencies) (Services, error) {
	var svc Services

	verifier := deps.Verifier
	if verifier == nil {
		built, err := payments.NewPayPalVerifier(cfg.PayPal, payments.WithLogger(deps.Logger))
		if err != nil {
			return Services{}, fmt.Errorf("build payment verifier: %w", err)
		}
		verifier = built
	}

	ordersRepo := reg.Orders()
	productsRepo := reg.Products()
	if ordersRepo == nil || productsRepo == nil {
		return Services{}, errors.New("registry must provide order and product repositories")
	}

	orderSvc, err := services.NewOrderService(services.OrderServiceDeps{
		Orders:   ordersRepo,
		Products: productsRepo,
		Verifier: verifier,
		Events:   deps.Events,
		Clock:    time.Now,
		Logger:   serviceLogger(deps.Logger),
	})
	if err != nil {
		return Services{}, fmt.Errorf("build order service: %w", err)
	}
	svc.Orders = orderSvc

	catalogSvc, err := services.NewCatalogService(services.CatalogServiceDeps{
		Products: productsRepo,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build catalog service: %w", err)
	}
	svc.Catalog = catalogSvc

	return svc, nil
}

func serviceLogger(logger *zap.Logger) func(context.Context, string, map[string]any) {
	if logger == nil {
		return nil
	}
	return func(_ context.Context, event string, fields map[string]any) {
		zapFields := make([]zap.Field, 0, len(fields))
		for key, value := range fields {
			zapFields = append(zapFields, zap.Any(key, value))
		}
		logger.Debug(event, zapFields...)
	}
}
