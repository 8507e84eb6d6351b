//go:build integration

package firestore

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os/exec"
	"strings"
	"testing"
	"time"

	domain "github.com/maplecart/api/internal/domain"
	pconfig "github.com/maplecart/api/internal/platform/config"
	pfirestore "github.com/maplecart/api/internal/platform/firestore"
	"github.com/maplecart/api/internal/repositories"
)

func TestOrderRepositoryIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("integration test skipped in short mode")
	}

	if _, err := exec.LookPath("docker"); err != nil {
		t.Skip("docker not available: " + err.Error())
	}

	ensureDockerDaemon(t)

	port := freePort(t)
	endpoint := fmt.Sprintf("127.0.0.1:%d", port)
	containerID := startFirestoreEmulator(t, port)
	t.Cleanup(func() { stopContainer(containerID) })

	waitForEndpoint(t, endpoint, 30*time.Second)

	cfg := pconfig.FirestoreConfig{
		ProjectID:    "orders-test",
		EmulatorHost: endpoint,
	}

	provider := pfirestore.NewProvider(cfg)
	t.Cleanup(func() {
		_ = provider.Close(context.Background())
	})

	repo, err := NewOrderRepository(provider)
	if err != nil {
		t.Fatalf("new order repository: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	now := time.Now().UTC().Truncate(time.Second)
	order := domain.Order{
		ID:     "ord_itest_1",
		UserID: "uid-alice",
		Items: []domain.OrderItem{
			{ProductRef: "prod_001", Name: "Walnut Desk Clock", Quantity: 2, UnitPrice: 45.00},
			{ProductRef: "prod_002", Name: "Brass Bookend", Quantity: 1, UnitPrice: 30.00},
		},
		ShippingAddress: domain.ShippingAddress{
			Address:    "1 Somewhere St",
			City:       "Portland",
			PostalCode: "97201",
			Country:    "US",
		},
		PaymentMethod: "PayPal",
		ItemsPrice:    120.00,
		TaxPrice:      18.00,
		ShippingPrice: 0,
		TotalPrice:    138.00,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	if err := repo.Insert(ctx, order); err != nil {
		t.Fatalf("insert: %v", err)
	}

	var repoErr repositories.RepositoryError
	if err := repo.Insert(ctx, order); err == nil {
		t.Fatalf("expected conflict on duplicate insert")
	} else if !errors.As(err, &repoErr) || !repoErr.IsConflict() {
		t.Fatalf("expected conflict error, got %T %v", err, err)
	}

	loaded, err := repo.FindByID(ctx, order.ID)
	if err != nil {
		t.Fatalf("find by id: %v", err)
	}
	if loaded.UserID != order.UserID || loaded.TotalPrice != order.TotalPrice || len(loaded.Items) != 2 {
		t.Fatalf("unexpected loaded order: %+v", loaded)
	}
	if loaded.IsPaid || loaded.PaymentResult != nil {
		t.Fatalf("expected unpaid order after insert, got %+v", loaded)
	}

	mine, err := repo.ListByUser(ctx, "uid-alice")
	if err != nil {
		t.Fatalf("list by user: %v", err)
	}
	if len(mine) != 1 || mine[0].ID != order.ID {
		t.Fatalf("unexpected user orders: %+v", mine)
	}

	fresh, err := repo.IsTransactionNew(ctx, "TXN-123")
	if err != nil {
		t.Fatalf("is transaction new: %v", err)
	}
	if !fresh {
		t.Fatalf("expected unused transaction to be new")
	}

	paidAt := now.Add(time.Minute)
	paid, err := repo.MarkPaid(ctx, order.ID, domain.PaymentResult{
		TransactionID: "TXN-123",
		Status:        "COMPLETED",
		UpdateTime:    paidAt.Format(time.RFC3339),
		PayerEmail:    "alice@example.com",
	}, paidAt)
	if err != nil {
		t.Fatalf("mark paid: %v", err)
	}
	if !paid.IsPaid || paid.PaidAt == nil || paid.PaymentResult == nil {
		t.Fatalf("expected paid order, got %+v", paid)
	}
	if paid.PaymentResult.TransactionID != "TXN-123" {
		t.Fatalf("unexpected payment result: %+v", paid.PaymentResult)
	}

	fresh, err = repo.IsTransactionNew(ctx, "TXN-123")
	if err != nil {
		t.Fatalf("is transaction new after pay: %v", err)
	}
	if fresh {
		t.Fatalf("expected claimed transaction to be reported as used")
	}

	// Re-paying the order with a fresh transaction ID must not re-stamp it.
	_, err = repo.MarkPaid(ctx, order.ID, domain.PaymentResult{
		TransactionID: "TXN-456",
		Status:        "COMPLETED",
	}, paidAt.Add(time.Minute))
	if !errors.Is(err, repositories.ErrAlreadyPaid) {
		t.Fatalf("expected already paid error, got %T %v", err, err)
	}
	repaid, err := repo.FindByID(ctx, order.ID)
	if err != nil {
		t.Fatalf("find after repay attempt: %v", err)
	}
	if repaid.PaymentResult == nil || repaid.PaymentResult.TransactionID != "TXN-123" {
		t.Fatalf("payment result must keep the first transaction: %+v", repaid.PaymentResult)
	}
	if fresh, err := repo.IsTransactionNew(ctx, "TXN-456"); err != nil || !fresh {
		t.Fatalf("rejected transaction must not be claimed: fresh=%v err=%v", fresh, err)
	}

	// Paying a second order with the same transaction ID must lose to the ledger.
	second := order
	second.ID = "ord_itest_2"
	second.UserID = "uid-bob"
	if err := repo.Insert(ctx, second); err != nil {
		t.Fatalf("insert second: %v", err)
	}

	repoErr = nil
	_, err = repo.MarkPaid(ctx, second.ID, domain.PaymentResult{
		TransactionID: "TXN-123",
		Status:        "COMPLETED",
	}, paidAt.Add(time.Minute))
	if err == nil {
		t.Fatalf("expected conflict replaying transaction id")
	}
	if !errors.As(err, &repoErr) || !repoErr.IsConflict() {
		t.Fatalf("expected conflict error, got %T %v", err, err)
	}

	replayed, err := repo.FindByID(ctx, second.ID)
	if err != nil {
		t.Fatalf("find second order: %v", err)
	}
	if replayed.IsPaid || replayed.PaymentResult != nil {
		t.Fatalf("expected second order untouched after replay, got %+v", replayed)
	}

	deliveredAt := paidAt.Add(2 * time.Hour)
	delivered, err := repo.MarkDelivered(ctx, order.ID, deliveredAt)
	if err != nil {
		t.Fatalf("mark delivered: %v", err)
	}
	if !delivered.IsDelivered || delivered.DeliveredAt == nil {
		t.Fatalf("expected delivered order, got %+v", delivered)
	}
	if !delivered.IsPaid {
		t.Fatalf("delivery must not clear the paid flag: %+v", delivered)
	}

	all, err := repo.ListAll(ctx)
	if err != nil {
		t.Fatalf("list all: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("expected 2 orders, got %d", len(all))
	}

	repoErr = nil
	_, err = repo.FindByID(ctx, "ord_missing")
	if err == nil {
		t.Fatalf("expected not found for missing order")
	}
	if !errors.As(err, &repoErr) || !repoErr.IsNotFound() {
		t.Fatalf("expected not found error, got %T %v", err, err)
	}
}

func freePort(t *testing.T) int {
	t.Helper()
	addr, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("unable to allocate port: %v", err)
	}
	defer addr.Close()
	return addr.Addr().(*net.TCPAddr).Port
}

func startFirestoreEmulator(t *testing.T, port int) string {
	t.Helper()
	args := []string{
		"run", "-d", "--rm",
		"-p", fmt.Sprintf("%d:8080", port),
		firestoreEmulatorImage,
		"gcloud", "beta", "emulators", "firestore", "start",
		"--host-port=0.0.0.0:8080",
		"--quiet",
	}

	cmd := exec.Command("docker", args...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		t.Fatalf("failed to start firestore emulator: %v - %s", err, string(out))
	}
	id := strings.TrimSpace(string(out))
	if id == "" {
		t.Fatalf("docker returned empty container id")
	}
	if len(id) > 12 {
		id = id[:12]
	}
	return id
}

func ensureDockerDaemon(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	cmd := exec.CommandContext(ctx, "docker", "info")
	if err := cmd.Run(); err != nil {
		t.Fatalf("docker daemon not available: %v", err)
	}
}

func stopContainer(id string) {
	if id == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	cmd := exec.CommandContext(ctx, "docker", "stop", id)
	_ = cmd.Run()
}

func waitForEndpoint(t *testing.T, endpoint string, timeout time.Duration) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		conn, err := net.DialTimeout("tcp", endpoint, 500*time.Millisecond)
		if err == nil {
			conn.Close()
			return
		}
		time.Sleep(200 * time.Millisecond)
	}
	t.Fatalf("firestore emulator at %s did not become ready within %s", endpoint, timeout)
}

const firestoreEmulatorImage = "gcr.io/google.com/cloudsdktool/cloud-sdk:emulators"
