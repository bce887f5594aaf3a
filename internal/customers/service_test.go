package customers_test

import (
	"context"
	"errors"
	"testing"

	"github.com/septivank/energy-bypass-monitor/internal/customers"
	"github.com/septivank/energy-bypass-monitor/internal/repository"
	"github.com/septivank/energy-bypass-monitor/internal/validator"
	"go.uber.org/zap"
)

type memoryDirectory struct {
	byKey      map[string]repository.Customer
	storedPair map[string]string
}

func newMemoryDirectory() *memoryDirectory {
	return &memoryDirectory{
		byKey:      make(map[string]repository.Customer),
		storedPair: make(map[string]string),
	}
}

func (m *memoryDirectory) GetCustomer(ctx context.Context, email string) (*repository.Customer, error) {
	c, ok := m.byKey[repository.EmailKey(email)]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &c, nil
}

func (m *memoryDirectory) RegisterCustomer(ctx context.Context, c repository.Customer) error {
	m.byKey[repository.EmailKey(c.Email)] = c
	return nil
}

func (m *memoryDirectory) ListCustomers(ctx context.Context) ([]repository.Customer, error) {
	out := make([]repository.Customer, 0, len(m.byKey))
	for _, c := range m.byKey {
		out = append(out, c)
	}
	return out, nil
}

func (m *memoryDirectory) FindPairByMeter(ctx context.Context, meterID string) (string, bool, error) {
	pairID, ok := m.storedPair[meterID]
	return pairID, ok, nil
}

type livePairs map[string]string

func (l livePairs) FindPairByMeter(meterID string) (string, bool) {
	pairID, ok := l[meterID]
	return pairID, ok
}

func newService(dir *memoryDirectory, live livePairs) *customers.Service {
	return customers.NewService(dir, live, validator.NewValidator(10080), zap.NewNop())
}

func TestRegister_ResolvesPair(t *testing.T) {
	dir := newMemoryDirectory()
	dir.storedPair["M2"] = "P2"
	svc := newService(dir, livePairs{"M1": "P1"})
	ctx := context.Background()

	c, err := svc.Register(ctx, validator.Registration{Name: " Ana ", Location: "Block A", MeterID: "M1", Email: "ana.b@example.com"})
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if c.PairID != "P1" || c.Name != "Ana" {
		t.Errorf("Expected live pair and trimmed name, got %+v", c)
	}
	if _, ok := dir.byKey["ana,b@example,com"]; !ok {
		t.Error("Expected registration stored under the comma key")
	}

	c, err = svc.Register(ctx, validator.Registration{Name: "Ben", Location: "Block B", MeterID: "M2", Email: "ben@example.com"})
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if c.PairID != "P2" {
		t.Errorf("Expected stored snapshot pair P2, got %q", c.PairID)
	}

	c, err = svc.Register(ctx, validator.Registration{Name: "Cy", Location: "Block C", MeterID: "M9", Email: "cy@example.com"})
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if c.PairID != "" {
		t.Errorf("Expected unresolved pair, got %q", c.PairID)
	}
}

func TestRegister_RejectsIncompleteRegistration(t *testing.T) {
	svc := newService(newMemoryDirectory(), nil)

	_, err := svc.Register(context.Background(), validator.Registration{Name: "Ana", MeterID: "M1", Email: "ana@example.com"})
	var verr *customers.ValidationError
	if !errors.As(err, &verr) {
		t.Errorf("Expected validation error, got %v", err)
	}
}

func TestVerify(t *testing.T) {
	dir := newMemoryDirectory()
	svc := newService(dir, livePairs{"M1": "P1"})
	ctx := context.Background()

	if _, err := svc.Register(ctx, validator.Registration{Name: "Ana", Location: "A", MeterID: "M1", Email: "ana@example.com"}); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	c, err := svc.Verify(ctx, validator.Signup{Email: "ana@example.com", MeterID: "M1"})
	if err != nil {
		t.Fatalf("Expected signup verified, got %v", err)
	}
	if c.PairID != "P1" {
		t.Errorf("Expected pair P1, got %q", c.PairID)
	}

	if _, err := svc.Verify(ctx, validator.Signup{Email: "ana@example.com", MeterID: "M2"}); !errors.Is(err, customers.ErrMeterMismatch) {
		t.Errorf("Expected meter mismatch, got %v", err)
	}
	if _, err := svc.Verify(ctx, validator.Signup{Email: "nobody@example.com", MeterID: "M1"}); !errors.Is(err, customers.ErrNotRegistered) {
		t.Errorf("Expected not registered, got %v", err)
	}
	if _, err := svc.Lookup(ctx, "nobody@example.com"); !errors.Is(err, customers.ErrNotRegistered) {
		t.Errorf("Expected not registered on lookup, got %v", err)
	}
}
