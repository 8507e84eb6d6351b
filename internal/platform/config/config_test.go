package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func mustLoad(t *testing.T, opts ...Option) Config {
	t.Helper()
	cfg, err := Load(context.Background(), opts...)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	return cfg
}

func staticResolver(secrets map[string]string) SecretResolver {
	return SecretResolverFunc(func(_ context.Context, ref string) (string, error) {
		if v, ok := secrets[ref]; ok {
			return v, nil
		}
		return "", errors.New("secret not found: " + ref)
	})
}

func TestLoadWithDefaults(t *testing.T) {
	cfg := mustLoad(t,
		WithEnvMap(map[string]string{"API_FIREBASE_PROJECT_ID": "maplecart-dev"}),
		WithoutSystemEnv(),
		WithEnvFile(""),
	)

	if cfg.Server.Port != "8080" {
		t.Errorf("Server.Port = %s, want 8080", cfg.Server.Port)
	}
	if cfg.Server.ReadTimeout != 15*time.Second {
		t.Errorf("Server.ReadTimeout = %s, want 15s", cfg.Server.ReadTimeout)
	}
	if cfg.Firestore.ProjectID != "maplecart-dev" {
		t.Errorf("Firestore.ProjectID = %s, want firebase project", cfg.Firestore.ProjectID)
	}
	if cfg.PubSub.ProjectID != "maplecart-dev" {
		t.Errorf("PubSub.ProjectID = %s, want firebase project", cfg.PubSub.ProjectID)
	}
	if cfg.PubSub.OrderEventsTopic != defaultOrderEventTopic {
		t.Errorf("PubSub.OrderEventsTopic = %s, want default", cfg.PubSub.OrderEventsTopic)
	}
	if cfg.PayPal.APIBaseURL != defaultPayPalAPIBase {
		t.Errorf("PayPal.APIBaseURL = %s, want sandbox default", cfg.PayPal.APIBaseURL)
	}
	if cfg.PayPal.Timeout != defaultPayPalTimeout {
		t.Errorf("PayPal.Timeout = %s, want default", cfg.PayPal.Timeout)
	}
}

func TestLoadWithOverridesAndSecrets(t *testing.T) {
	env := map[string]string{
		"API_SERVER_PORT":               "9090",
		"API_SERVER_READ_TIMEOUT":       "20s",
		"API_SERVER_WRITE_TIMEOUT":      "25s",
		"API_SERVER_IDLE_TIMEOUT":       "2m",
		"API_FIREBASE_PROJECT_ID":       "maplecart-prod",
		"API_FIRESTORE_PROJECT_ID":      "maplecart-fire",
		"API_PAYPAL_CLIENT_ID":          "paypal-client",
		"API_PAYPAL_SECRET":             "secret://paypal/secret",
		"API_PAYPAL_API_BASE_URL":       "https://api-m.paypal.com",
		"API_PAYPAL_TIMEOUT":            "5s",
		"API_PUBSUB_PROJECT_ID":         "maplecart-events",
		"API_PUBSUB_ORDER_EVENTS_TOPIC": "orders-prod",
	}

	cfg := mustLoad(t,
		WithEnvMap(env),
		WithoutSystemEnv(),
		WithEnvFile(""),
		WithSecretResolver(staticResolver(map[string]string{"secret://paypal/secret": "paypal-secret"})),
	)

	checks := []struct {
		name string
		got  any
		want any
	}{
		{"Server.Port", cfg.Server.Port, "9090"},
		{"Server.IdleTimeout", cfg.Server.IdleTimeout, 2 * time.Minute},
		{"Firestore.ProjectID", cfg.Firestore.ProjectID, "maplecart-fire"},
		{"PayPal.ClientID", cfg.PayPal.ClientID, "paypal-client"},
		{"PayPal.Secret", cfg.PayPal.Secret, "paypal-secret"},
		{"PayPal.APIBaseURL", cfg.PayPal.APIBaseURL, "https://api-m.paypal.com"},
		{"PayPal.Timeout", cfg.PayPal.Timeout, 5 * time.Second},
		{"PubSub.ProjectID", cfg.PubSub.ProjectID, "maplecart-events"},
		{"PubSub.OrderEventsTopic", cfg.PubSub.OrderEventsTopic, "orders-prod"},
	}
	for _, c := range checks {
		if c.got != c.want {
			t.Errorf("%s = %v, want %v", c.name, c.got, c.want)
		}
	}
}

func TestLoadReadsDotEnvFile(t *testing.T) {
	envPath := filepath.Join(t.TempDir(), ".env.test")
	contents := "API_SERVER_PORT=7070\nAPI_FIREBASE_PROJECT_ID=maplecart-dot\n"
	if err := os.WriteFile(envPath, []byte(contents), 0o644); err != nil {
		t.Fatalf("writing dotenv file: %v", err)
	}

	cfg := mustLoad(t, WithEnvFile(envPath), WithoutSystemEnv())

	if cfg.Server.Port != "7070" {
		t.Errorf("Server.Port = %s, want 7070 from dotenv", cfg.Server.Port)
	}
	if cfg.Firebase.ProjectID != "maplecart-dot" {
		t.Errorf("Firebase.ProjectID = %s, want maplecart-dot from dotenv", cfg.Firebase.ProjectID)
	}
}

func TestLoadFailsValidationWithoutProject(t *testing.T) {
	_, err := Load(context.Background(), WithEnvMap(map[string]string{}), WithoutSystemEnv(), WithEnvFile(""))
	if err == nil {
		t.Fatal("expected validation error, got nil")
	}
	var validation *ValidationError
	if !errors.As(err, &validation) {
		t.Fatalf("expected ValidationError, got %T", err)
	}
	fields := validation.Fields()
	if len(fields) == 0 {
		t.Fatal("expected missing fields to be reported")
	}
}

func TestLoadSurfacesSecretResolverError(t *testing.T) {
	env := map[string]string{
		"API_FIREBASE_PROJECT_ID": "maplecart-dev",
		"API_PAYPAL_SECRET":       "secret://missing",
	}

	_, err := Load(context.Background(), WithEnvMap(env), WithoutSystemEnv(), WithEnvFile(""))
	if err == nil {
		t.Fatal("expected secret resolution error, got nil")
	}
	var secretErr *SecretError
	if !errors.As(err, &secretErr) {
		t.Fatalf("expected SecretError, got %T", err)
	}
	if secretErr.Ref != "secret://missing" {
		t.Errorf("SecretError.Ref = %s, want secret://missing", secretErr.Ref)
	}
}

func TestEnvironmentValuesMergesSources(t *testing.T) {
	envPath := filepath.Join(t.TempDir(), ".env.test")
	contents := "API_FIREBASE_PROJECT_ID=dot-project\nAPI_SECRET_FALLBACK_FILE=.dot.local\n"
	if err := os.WriteFile(envPath, []byte(contents), 0o600); err != nil {
		t.Fatalf("writing env file: %v", err)
	}

	t.Setenv("API_FIREBASE_PROJECT_ID", "os-project")
	t.Setenv("API_SECRET_PROJECT_IDS", "prod=project-prod")

	values, err := EnvironmentValues(WithEnvFile(envPath), WithEnvMap(map[string]string{
		"API_FIREBASE_PROJECT_ID": "override-project",
		"API_SECRET_VERSION_PINS": "secret://paypal/secret=5",
	}))
	if err != nil {
		t.Fatalf("EnvironmentValues: %v", err)
	}

	// Explicit map beats OS env, which beats the dotenv file.
	want := map[string]string{
		"API_FIREBASE_PROJECT_ID": "override-project",
		"API_SECRET_FALLBACK_FILE": ".dot.local",
		"API_SECRET_PROJECT_IDS":   "prod=project-prod",
		"API_SECRET_VERSION_PINS":  "secret://paypal/secret=5",
	}
	for key, expected := range want {
		if got := values[key]; got != expected {
			t.Errorf("values[%s] = %s, want %s", key, got, expected)
		}
	}
}

func TestLoadReportsMissingRequiredSecrets(t *testing.T) {
	_, err := Load(context.Background(),
		WithEnvMap(map[string]string{"API_FIREBASE_PROJECT_ID": "maplecart-dev"}),
		WithoutSystemEnv(),
		WithEnvFile(""),
		WithRequiredSecrets("PayPal.Secret"),
	)
	if err == nil {
		t.Fatal("expected missing secrets error, got nil")
	}
	var missing *MissingSecretsError
	if !errors.As(err, &missing) {
		t.Fatalf("expected MissingSecretsError, got %T", err)
	}
	want := redactSecretName("PayPal.Secret")
	if got := missing.RedactedNames(); len(got) != 1 || got[0] != want {
		t.Fatalf("RedactedNames() = %v, want [%s]", got, want)
	}
}

func TestLoadSupportsLegacySecretScheme(t *testing.T) {
	env := map[string]string{
		"API_FIREBASE_PROJECT_ID": "maplecart-dev",
		"API_PAYPAL_SECRET":       "sm://paypal/secret",
	}

	cfg := mustLoad(t,
		WithEnvMap(env),
		WithoutSystemEnv(),
		WithEnvFile(""),
		WithSecretResolver(staticResolver(map[string]string{"secret://paypal/secret": "legacy-secret"})),
	)
	if cfg.PayPal.Secret != "legacy-secret" {
		t.Fatalf("PayPal.Secret = %s, want legacy-secret", cfg.PayPal.Secret)
	}
}
