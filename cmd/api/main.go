package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"time"

	"cloud.google.com/go/firestore"
	"cloud.google.com/go/pubsub"
	"go.uber.org/zap"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"

	"github.com/maplecart/api/internal/di"
	"github.com/maplecart/api/internal/handlers"
	"github.com/maplecart/api/internal/payments"
	"github.com/maplecart/api/internal/platform/auth"
	"github.com/maplecart/api/internal/platform/config"
	pfirestore "github.com/maplecart/api/internal/platform/firestore"
	"github.com/maplecart/api/internal/platform/jobs"
	"github.com/maplecart/api/internal/platform/observability"
	"github.com/maplecart/api/internal/platform/secrets"
	firestoreRepo "github.com/maplecart/api/internal/repositories/firestore"
	"github.com/maplecart/api/internal/services"
)

func main() {
	baseLogger, err := observability.NewLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = baseLogger.Sync() }()

	logger := baseLogger.Named("api")
	if err := run(observability.WithLogger(context.Background(), logger), logger); err != nil {
		logger.Fatal("startup failed", zap.Error(err))
	}
}

func run(ctx context.Context, logger *zap.Logger) error {
	envValues, err := config.EnvironmentValues()
	if err != nil {
		return fmt.Errorf("read environment: %w", err)
	}

	fetcher, err := newSecretFetcher(ctx, logger, envValues)
	if err != nil {
		return fmt.Errorf("init secret fetcher: %w", err)
	}
	defer func() {
		if err := fetcher.Close(); err != nil {
			logger.Warn("secret fetcher close error", zap.Error(err))
		}
	}()

	cfg, err := config.Load(ctx,
		config.WithSecretResolver(config.SecretResolverFunc(fetcher.Resolve)),
		config.WithRequiredSecrets(requiredSecretNames(envValues)...),
	)
	if err != nil {
		var missing *config.MissingSecretsError
		if errors.As(err, &missing) {
			logger.Error("missing required secrets", zap.Strings("secrets", missing.RedactedNames()))
		}
		return fmt.Errorf("load configuration: %w", err)
	}

	firestoreProvider := pfirestore.NewProvider(cfg.Firestore)
	firestoreClient, err := firestoreProvider.Client(ctx)
	if err != nil {
		return fmt.Errorf("init firestore client: %w", err)
	}

	registry, err := firestoreRepo.NewRegistry(firestoreProvider)
	if err != nil {
		return fmt.Errorf("init repositories: %w", err)
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := registry.Close(closeCtx); err != nil {
			logger.Warn("firestore close error", zap.Error(err))
		}
	}()

	firebaseVerifier, err := auth.NewFirebaseVerifier(ctx, cfg.Firebase)
	if err != nil {
		return fmt.Errorf("init firebase verifier: %w", err)
	}
	authenticator := auth.NewAuthenticator(firebaseVerifier, auth.WithUserGetter(firebaseVerifier))

	paymentVerifier, err := payments.NewPayPalVerifier(cfg.PayPal, payments.WithLogger(logger.Named("payments")))
	if err != nil {
		return fmt.Errorf("init payment verifier: %w", err)
	}

	// Order events are best-effort: a missing Pub/Sub project or an
	// unreachable broker must not keep the API from serving.
	var orderEvents services.OrderEventPublisher
	var orderEventsTopic *pubsub.Topic
	if projectID := strings.TrimSpace(cfg.PubSub.ProjectID); projectID != "" {
		pubsubClient, err := pubsub.NewClient(ctx, projectID)
		if err != nil {
			logger.Warn("pubsub client unavailable; order events disabled", zap.Error(err))
		} else {
			defer func() {
				if err := pubsubClient.Close(); err != nil {
					logger.Warn("pubsub close error", zap.Error(err))
				}
			}()
			orderEventsTopic = pubsubClient.Topic(cfg.PubSub.OrderEventsTopic)
			publisher, err := jobs.NewPubSubOrderEventPublisher(orderEventsTopic)
			if err != nil {
				return fmt.Errorf("init order event publisher: %w", err)
			}
			orderEvents = publisher
		}
	}

	container, err := di.NewContainer(ctx, cfg, registry, di.Dependencies{
		Verifier: paymentVerifier,
		Events:   orderEvents,
		Logger:   logger.Named("orders"),
	})
	if err != nil {
		return fmt.Errorf("assemble services: %w", err)
	}

	router := buildRouter(logger, cfg, container, authenticator, envValues, firestoreClient, orderEventsTopic)
	return serve(logger, cfg.Server, router)
}

func buildRouter(
	logger *zap.Logger,
	cfg config.Config,
	container *di.Container,
	authenticator *auth.Authenticator,
	env map[string]string,
	firestoreClient *firestore.Client,
	orderEventsTopic *pubsub.Topic,
) http.Handler {
	orderHandlers := handlers.NewOrderHandlers(authenticator, container.Services.Orders)
	productHandlers := handlers.NewProductHandlers(container.Services.Catalog)

	healthOpts := []handlers.HealthOption{
		handlers.WithHealthVersion(envString(env, "API_BUILD_VERSION", "dev")),
		handlers.WithReadinessCheck("firestore", firestoreReadinessCheck(firestoreClient)),
	}
	if orderEventsTopic != nil {
		healthOpts = append(healthOpts, handlers.WithReadinessCheck("pubsub", pubsubReadinessCheck(orderEventsTopic)))
	}

	projectID := traceProjectID(cfg)
	httpLogger := logger.Named("http")
	return handlers.NewRouter(
		handlers.WithMiddlewares(
			observability.InjectLoggerMiddleware(httpLogger),
			observability.TraceMiddleware(projectID),
			observability.RecoveryMiddleware(httpLogger),
			observability.RequestLoggerMiddleware(projectID),
		),
		handlers.WithHealthHandlers(handlers.NewHealthHandlers(healthOpts...)),
		handlers.WithOrderRoutes(orderHandlers.Routes),
		handlers.WithProductRoutes(productHandlers.Routes),
	)
}

func serve(logger *zap.Logger, cfg config.ServerConfig, handler http.Handler) error {
	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      handler,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("maplecart api listening", zap.String("addr", server.Addr))
		errCh <- server.ListenAndServe()
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case <-shutdown:
	}

	logger.Info("shutdown signal received; draining requests")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown: %w", err)
	}
	return nil
}

func firestoreReadinessCheck(client *firestore.Client) handlers.ReadinessCheck {
	return func(ctx context.Context) error {
		_, err := client.Collections(ctx).Next()
		if errors.Is(err, iterator.Done) {
			return nil
		}
		return err
	}
}

func pubsubReadinessCheck(topic *pubsub.Topic) handlers.ReadinessCheck {
	return func(ctx context.Context) error {
		exists, err := topic.Exists(ctx)
		if err != nil {
			return err
		}
		if !exists {
			return fmt.Errorf("topic %s does not exist", topic.ID())
		}
		return nil
	}
}

func traceProjectID(cfg config.Config) string {
	for _, id := range []string{cfg.Firebase.ProjectID, cfg.Firestore.ProjectID} {
		if id = strings.TrimSpace(id); id != "" {
			return id
		}
	}
	return ""
}

func newSecretFetcher(ctx context.Context, logger *zap.Logger, env map[string]string) (*secrets.Fetcher, error) {
	defaultProject := envString(env, "API_SECRET_DEFAULT_PROJECT_ID", envString(env, "API_FIREBASE_PROJECT_ID", ""))

	opts := []secrets.Option{
		secrets.WithEnvironment(strings.ToLower(envString(env, "API_SECURITY_ENVIRONMENT", "local"))),
		secrets.WithLogger(logger.Named("secrets")),
		secrets.WithFallbackFile(envString(env, "API_SECRET_FALLBACK_FILE", ".secrets.local")),
	}
	if projectMap := secretProjectMapFromEnv(env); len(projectMap) > 0 {
		opts = append(opts, secrets.WithProjectMap(projectMap))
	}
	if defaultProject != "" {
		opts = append(opts, secrets.WithDefaultProject(defaultProject))
	}
	if credentialsFile := envString(env, "API_FIREBASE_CREDENTIALS_FILE", ""); credentialsFile != "" {
		opts = append(opts, secrets.WithClientOptions(option.WithCredentialsFile(credentialsFile)))
	}

	return secrets.NewFetcher(ctx, opts...)
}

func envString(env map[string]string, key, fallback string) string {
	if value := strings.TrimSpace(env[key]); value != "" {
		return value
	}
	return fallback
}

// requiredSecretNames marks PayPal credentials as mandatory only when the
// environment points them at a secret reference; plain values and absent
// credentials are handled at verification time.
func requiredSecretNames(env map[string]string) []string {
	var required []string
	if isSecretReference(env["API_PAYPAL_CLIENT_ID"]) {
		required = append(required, "PayPal.ClientID")
	}
	if isSecretReference(env["API_PAYPAL_SECRET"]) {
		required = append(required, "PayPal.Secret")
	}
	sort.Strings(required)
	return required
}

func isSecretReference(value string) bool {
	trimmed := strings.TrimSpace(value)
	return strings.HasPrefix(trimmed, "secret://") || strings.HasPrefix(trimmed, "sm://")
}

// secretProjectMapFromEnv parses API_SECRET_PROJECT_IDS, a comma-separated
// list of env=projectID pairs (e.g. "prod=acme-prod,staging=acme-stg").
func secretProjectMapFromEnv(env map[string]string) map[string]string {
	projects := make(map[string]string)
	for _, entry := range strings.Split(env["API_SECRET_PROJECT_IDS"], ",") {
		label, project, ok := strings.Cut(strings.TrimSpace(entry), "=")
		if !ok {
			continue
		}
		label = strings.ToLower(strings.TrimSpace(label))
		project = strings.TrimSpace(project)
		if label != "" && project != "" {
			projects[label] = project
		}
	}
	return projects
}
