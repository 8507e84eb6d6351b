package secrets

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	secretmanager "cloud.google.com/go/secretmanager/apiv1"
	"cloud.google.com/go/secretmanager/apiv1/secretmanagerpb"
	"github.com/googleapis/gax-go/v2"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

type stubSecretStore struct {
	mu    sync.Mutex
	data  map[string]string
	fail  map[string]error
	calls map[string]int
}

func newStubSecretStore() *stubSecretStore {
	return &stubSecretStore{
		data:  map[string]string{},
		fail:  map[string]error{},
		calls: map[string]int{},
	}
}

func (s *stubSecretStore) AccessSecretVersion(_ context.Context, req *secretmanagerpb.AccessSecretVersionRequest, _ ...gax.CallOption) (*secretmanagerpb.AccessSecretVersionResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	name := req.GetName()
	s.calls[name]++
	if err := s.fail[name]; err != nil {
		return nil, err
	}
	if value, ok := s.data[name]; ok {
		return &secretmanagerpb.AccessSecretVersionResponse{
			Payload: &secretmanagerpb.SecretPayload{Data: []byte(value)},
		}, nil
	}
	return nil, status.Error(codes.NotFound, "not found")
}

func (s *stubSecretStore) Close() error { return nil }

func (s *stubSecretStore) callCount(name string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[name]
}

func writeFallbackFile(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), ".secrets.local")
	if err := os.WriteFile(path, []byte(contents), 0o600); err != nil {
		t.Fatalf("writing fallback file: %v", err)
	}
	return path
}

func mustFetcher(t *testing.T, opts ...Option) *Fetcher {
	t.Helper()
	f, err := NewFetcher(context.Background(), opts...)
	if err != nil {
		t.Fatalf("NewFetcher: %v", err)
	}
	t.Cleanup(func() { f.Close() })
	return f
}

func TestResolveCachesRemoteSecret(t *testing.T) {
	store := newStubSecretStore()
	resource := "projects/test/secrets/paypal_secret/versions/latest"
	store.data[resource] = "remote-secret"

	f := mustFetcher(t, WithSecretManagerClient(store), WithDefaultProject("test"))

	for i := 0; i < 2; i++ {
		got, err := f.Resolve(context.Background(), "secret://paypal_secret")
		if err != nil {
			t.Fatalf("Resolve call %d: %v", i+1, err)
		}
		if got != "remote-secret" {
			t.Fatalf("Resolve call %d = %q, want remote-secret", i+1, got)
		}
	}

	if calls := store.callCount(resource); calls != 1 {
		t.Fatalf("expected a single remote fetch, got %d", calls)
	}
}

func TestResolveFallsBackWhenAccessDenied(t *testing.T) {
	store := newStubSecretStore()
	store.fail["projects/test/secrets/paypal_secret/versions/latest"] = status.Error(codes.PermissionDenied, "denied")

	f := mustFetcher(t,
		WithSecretManagerClient(store),
		WithDefaultProject("test"),
		WithFallbackFile(writeFallbackFile(t, "secret://paypal_secret=local-secret\n")),
	)

	got, err := f.Resolve(context.Background(), "secret://paypal_secret")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if got != "local-secret" {
		t.Fatalf("Resolve = %q, want local-secret", got)
	}
}

func TestResolveSurfacesNotFoundWithoutFallback(t *testing.T) {
	store := newStubSecretStore()
	store.fail["projects/test/secrets/paypal_secret/versions/latest"] = status.Error(codes.NotFound, "missing")

	f := mustFetcher(t,
		WithSecretManagerClient(store),
		WithDefaultProject("test"),
		WithFallbackFile(writeFallbackFile(t, "secret://paypal_secret=local-secret\n")),
	)

	if _, err := f.Resolve(context.Background(), "secret://paypal_secret"); err == nil {
		t.Fatal("expected error for missing secret, got nil")
	}
}

func TestResolveUsesVersionPins(t *testing.T) {
	store := newStubSecretStore()
	pinned := "projects/test/secrets/paypal_secret/versions/5"
	store.data[pinned] = "version-5"

	f := mustFetcher(t,
		WithSecretManagerClient(store),
		WithDefaultProject("test"),
		WithVersionPins(map[string]string{"secret://paypal_secret": "5"}),
	)

	got, err := f.Resolve(context.Background(), "secret://paypal_secret")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if got != "version-5" {
		t.Fatalf("Resolve = %q, want version-5", got)
	}
	if calls := store.callCount(pinned); calls != 1 {
		t.Fatalf("expected one fetch of version 5, got %d", calls)
	}
}

func TestInvalidateNotifiesSubscribers(t *testing.T) {
	store := newStubSecretStore()
	store.data["projects/test/secrets/paypal_secret/versions/latest"] = "remote-secret"

	f := mustFetcher(t, WithSecretManagerClient(store), WithDefaultProject("test"))

	if _, err := f.Resolve(context.Background(), "secret://paypal_secret"); err != nil {
		t.Fatalf("Resolve: %v", err)
	}

	ch, cancel := f.Subscribe("secret://paypal_secret")
	defer cancel()

	f.Invalidate("secret://paypal_secret")

	select {
	case <-ch:
	case <-time.After(time.Second):
		t.Fatal("expected invalidation notification")
	}
}

func TestNewFetcherDegradesToFallbackOnly(t *testing.T) {
	original := secretManagerClientFactory
	secretManagerClientFactory = func(context.Context, ...option.ClientOption) (*secretmanager.Client, error) {
		return nil, errors.New("no credentials")
	}
	t.Cleanup(func() { secretManagerClientFactory = original })

	f := mustFetcher(t, WithFallbackFile(writeFallbackFile(t, "secret://paypal_secret=local-secret\n")))

	got, err := f.Resolve(context.Background(), "secret://paypal_secret")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if got != "local-secret" {
		t.Fatalf("Resolve = %q, want local-secret", got)
	}
}

func TestParseFallbackAcceptsAliasesAndComments(t *testing.T) {
	f := mustFetcher(t,
		WithSecretManagerClient(newStubSecretStore()),
		WithFallbackFile(writeFallbackFile(t,
			"# local development secrets\n\nsm://paypal_client_id=cid-123\nplain_key=value\n")))

	got, err := f.Resolve(context.Background(), "secret://paypal_client_id")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if got != "cid-123" {
		t.Fatalf("Resolve = %q, want cid-123", got)
	}
}
