package config

import (
	"bufio"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"
)

const (
	defaultEnvFile         = ".env"
	defaultPort            = "8080"
	defaultReadTimeout     = 15 * time.Second
	defaultWriteTimeout    = 30 * time.Second
	defaultIdleTimeout     = 120 * time.Second
	defaultPayPalAPIBase   = "https://api-m.sandbox.paypal.com"
	defaultPayPalTimeout   = 10 * time.Second
	defaultOrderEventTopic = "order-events"
)

// Config captures all runtime configuration organised by concern.
type Config struct {
	Server    ServerConfig
	Firebase  FirebaseConfig
	Firestore FirestoreConfig
	PayPal    PayPalConfig
	PubSub    PubSubConfig
}

// ServerConfig holds the HTTP listener settings.
type ServerConfig struct {
	Port         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// FirebaseConfig identifies the Firebase project used for authentication.
type FirebaseConfig struct {
	ProjectID       string
	CredentialsFile string
}

// FirestoreConfig selects the Firestore project, or an emulator, backing
// persistence.
type FirestoreConfig struct {
	ProjectID    string
	EmulatorHost string
}

// PayPalConfig collects credentials and endpoints for payment verification.
type PayPalConfig struct {
	ClientID   string
	Secret     string
	APIBaseURL string
	Timeout    time.Duration
}

// PubSubConfig names the topics used for order event publication.
type PubSubConfig struct {
	ProjectID        string
	OrderEventsTopic string
}

// SecretResolver turns a secret reference such as a Secret Manager URI into
// its plain value.
type SecretResolver interface {
	ResolveSecret(ctx context.Context, ref string) (string, error)
}

// SecretResolverFunc adapts a plain function to the SecretResolver interface.
type SecretResolverFunc func(context.Context, string) (string, error)

// ResolveSecret calls f.
func (f SecretResolverFunc) ResolveSecret(ctx context.Context, ref string) (string, error) {
	return f(ctx, ref)
}

// ValidationError reports configuration fields that are missing or invalid
// after loading completes.
type ValidationError struct {
	fields []string
}

func (e *ValidationError) Error() string {
	return "config: missing or invalid fields [" + strings.Join(e.fields, ", ") + "]"
}

// Fields lists the offending field names.
func (e *ValidationError) Fields() []string {
	out := make([]string, len(e.fields))
	copy(out, e.fields)
	return out
}

// SecretError wraps a failure to resolve one secret reference.
type SecretError struct {
	Ref string
	Err error
}

func (e *SecretError) Error() string {
	return fmt.Sprintf("secret resolution failed for ref %q: %v", e.Ref, e.Err)
}

func (e *SecretError) Unwrap() error { return e.Err }

// MissingSecretsError indicates that one or more required secrets failed to
// resolve. Secret names are only exposed redacted so the error can be logged.
type MissingSecretsError struct {
	redacted []string
}

func (e *MissingSecretsError) Error() string {
	if e == nil || len(e.redacted) == 0 {
		return "missing required secrets"
	}
	return fmt.Sprintf("missing required secrets [%s]", strings.Join(e.redacted, ", "))
}

// RedactedNames returns hashed identifiers for the missing secrets.
func (e *MissingSecretsError) RedactedNames() []string {
	if e == nil {
		return nil
	}
	out := make([]string, len(e.redacted))
	copy(out, e.redacted)
	return out
}

var errSecretResolverNotConfigured = errors.New("secret resolver not configured")

type loader struct {
	envFile         string
	envMap          map[string]string
	useSystemEnv    bool
	secrets         SecretResolver
	requiredSecrets []string

	dotenv map[string]string
}

// Option customises Load behaviour.
type Option func(*loader)

// WithEnvFile overrides the .env file path used for local overrides.
func WithEnvFile(path string) Option {
	return func(l *loader) { l.envFile = path }
}

// WithEnvMap injects an explicit key/value map for environment lookups. Values
// in the map take precedence over system environment variables.
func WithEnvMap(values map[string]string) Option {
	return func(l *loader) { l.envMap = values }
}

// WithoutSystemEnv disables reading from os.Getenv, relying only on provided maps and .env files.
func WithoutSystemEnv() Option {
	return func(l *loader) { l.useSystemEnv = false }
}

// WithSecretResolver sets a custom secret resolver used for secret:// references.
func WithSecretResolver(resolver SecretResolver) Option {
	return func(l *loader) { l.secrets = resolver }
}

// WithRequiredSecrets marks the provided secret identifiers as mandatory.
// Identifiers match the config field names recorded by the loader
// (e.g. "PayPal.Secret").
func WithRequiredSecrets(names ...string) Option {
	return func(l *loader) { l.requiredSecrets = append(l.requiredSecrets, names...) }
}

func newLoader(opts []Option) (*loader, error) {
	l := &loader{
		envFile:      defaultEnvFile,
		useSystemEnv: true,
	}
	for _, opt := range opts {
		opt(l)
	}

	dotenv, err := readDotEnv(l.envFile)
	if err != nil {
		return nil, err
	}
	l.dotenv = dotenv
	return l, nil
}

// lookup applies the precedence explicit map > system env > dotenv.
func (l *loader) lookup(key string) (string, bool) {
	if value, ok := l.envMap[key]; ok {
		return value, true
	}
	if l.useSystemEnv {
		if value, ok := os.LookupEnv(key); ok {
			return value, true
		}
	}
	value, ok := l.dotenv[key]
	return value, ok
}

func (l *loader) str(key, fallback string) string {
	if value, ok := l.lookup(key); ok && value != "" {
		return value
	}
	return fallback
}

func (l *loader) duration(key string, fallback time.Duration) time.Duration {
	if value, ok := l.lookup(key); ok && value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return fallback
}

// EnvironmentValues returns the effective key/value environment map after
// applying the same precedence rules as Load (dotenv < OS env < explicit map).
// Callers use the result to initialise dependencies before invoking Load.
func EnvironmentValues(opts ...Option) (map[string]string, error) {
	l, err := newLoader(opts)
	if err != nil {
		return nil, err
	}

	values := make(map[string]string, len(l.dotenv))
	for key, value := range l.dotenv {
		values[key] = value
	}
	if l.useSystemEnv {
		for _, entry := range os.Environ() {
			if key, value, ok := strings.Cut(entry, "="); ok && strings.TrimSpace(key) != "" {
				values[strings.TrimSpace(key)] = value
			}
		}
	}
	for key, value := range l.envMap {
		values[key] = value
	}
	return values, nil
}

// Load assembles the application configuration by combining defaults, .env
// overrides, environment variables, and optional secret manager lookups.
func Load(ctx context.Context, opts ...Option) (Config, error) {
	l, err := newLoader(opts)
	if err != nil {
		return Config{}, err
	}

	cfg := Config{
		Server: ServerConfig{
			Port:         l.str("API_SERVER_PORT", defaultPort),
			ReadTimeout:  l.duration("API_SERVER_READ_TIMEOUT", defaultReadTimeout),
			WriteTimeout: l.duration("API_SERVER_WRITE_TIMEOUT", defaultWriteTimeout),
			IdleTimeout:  l.duration("API_SERVER_IDLE_TIMEOUT", defaultIdleTimeout),
		},
		Firebase: FirebaseConfig{
			ProjectID:       l.str("API_FIREBASE_PROJECT_ID", ""),
			CredentialsFile: l.str("API_FIREBASE_CREDENTIALS_FILE", ""),
		},
		Firestore: FirestoreConfig{
			ProjectID:    l.str("API_FIRESTORE_PROJECT_ID", ""),
			EmulatorHost: l.str("API_FIRESTORE_EMULATOR_HOST", ""),
		},
		PayPal: PayPalConfig{
			ClientID:   l.str("API_PAYPAL_CLIENT_ID", ""),
			Secret:     l.str("API_PAYPAL_SECRET", ""),
			APIBaseURL: l.str("API_PAYPAL_API_BASE_URL", defaultPayPalAPIBase),
			Timeout:    l.duration("API_PAYPAL_TIMEOUT", defaultPayPalTimeout),
		},
		PubSub: PubSubConfig{
			ProjectID:        l.str("API_PUBSUB_PROJECT_ID", ""),
			OrderEventsTopic: l.str("API_PUBSUB_ORDER_EVENTS_TOPIC", defaultOrderEventTopic),
		},
	}

	// Firestore and Pub/Sub projects default to the Firebase project when unspecified.
	if cfg.Firestore.ProjectID == "" {
		cfg.Firestore.ProjectID = cfg.Firebase.ProjectID
	}
	if cfg.PubSub.ProjectID == "" {
		cfg.PubSub.ProjectID = cfg.Firebase.ProjectID
	}

	resolved := map[string]string{}
	for _, target := range []struct {
		name  string
		field *string
	}{
		{"PayPal.ClientID", &cfg.PayPal.ClientID},
		{"PayPal.Secret", &cfg.PayPal.Secret},
	} {
		value, err := l.resolveSecret(ctx, *target.field)
		if err != nil {
			return Config{}, err
		}
		*target.field = value
		resolved[target.name] = strings.TrimSpace(value)
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	if err := l.checkRequiredSecrets(resolved); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// resolveSecret passes plain values through and resolves secret:// and sm://
// references through the configured resolver.
func (l *loader) resolveSecret(ctx context.Context, value string) (string, error) {
	trimmed := strings.TrimSpace(value)
	switch {
	case strings.HasPrefix(trimmed, "sm://"):
		trimmed = "secret://" + strings.TrimPrefix(trimmed, "sm://")
	case strings.HasPrefix(trimmed, "secret://"):
	default:
		return value, nil
	}

	if l.secrets == nil {
		return "", &SecretError{Ref: trimmed, Err: errSecretResolverNotConfigured}
	}
	secret, err := l.secrets.ResolveSecret(ctx, trimmed)
	if err != nil {
		return "", &SecretError{Ref: trimmed, Err: err}
	}
	return secret, nil
}

func (cfg Config) validate() error {
	required := []struct {
		field string
		value string
	}{
		{"Server.Port", cfg.Server.Port},
		{"Firebase.ProjectID", cfg.Firebase.ProjectID},
		{"Firestore.ProjectID", cfg.Firestore.ProjectID},
		{"PayPal.APIBaseURL", strings.TrimSpace(cfg.PayPal.APIBaseURL)},
	}
	var missing []string
	for _, req := range required {
		if req.value == "" {
			missing = append(missing, req.field)
		}
	}
	if len(missing) > 0 {
		return &ValidationError{fields: missing}
	}
	return nil
}

func (l *loader) checkRequiredSecrets(resolved map[string]string) error {
	seen := map[string]struct{}{}
	var redacted []string
	for _, name := range l.requiredSecrets {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		if _, dup := seen[name]; dup {
			continue
		}
		seen[name] = struct{}{}
		if resolved[name] == "" {
			redacted = append(redacted, redactSecretName(name))
		}
	}
	if len(redacted) == 0 {
		return nil
	}
	sort.Strings(redacted)
	return &MissingSecretsError{redacted: redacted}
}

func redactSecretName(name string) string {
	sum := sha256.Sum256([]byte(name))
	return hex.EncodeToString(sum[:8])
}

func readDotEnv(path string) (map[string]string, error) {
	if path == "" {
		return nil, nil
	}

	file, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("config: unable to read %s: %w", path, err)
	}
	defer file.Close()

	values, err := parseDotEnv(file)
	if err != nil {
		return nil, fmt.Errorf("config: failed parsing %s: %w", path, err)
	}
	return values, nil
}

// parseDotEnv reads KEY=value lines, skipping blanks and comments. An
// optional "export " prefix and surrounding quotes are stripped.
func parseDotEnv(r io.Reader) (map[string]string, error) {
	values := make(map[string]string)
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		line = strings.TrimSpace(strings.TrimPrefix(line, "export "))
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		if key == "" {
			continue
		}
		values[key] = strings.Trim(strings.TrimSpace(value), "\"'")
	}
	return values, scanner.Err()
}
