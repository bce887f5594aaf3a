package customers

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/septivank/energy-bypass-monitor/internal/repository"
	"github.com/septivank/energy-bypass-monitor/internal/validator"
	"go.uber.org/zap"
)

var (
	// ErrNotRegistered is returned when no registration exists for an email
	ErrNotRegistered = errors.New("no registration found for this email")
	// ErrMeterMismatch is returned when a signup names another meter
	ErrMeterMismatch = errors.New("meter id does not match the registration")
)

// ValidationError reports a rejected registration or signup
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return e.Reason
}

// Directory stores customer registrations
type Directory interface {
	GetCustomer(ctx context.Context, email string) (*repository.Customer, error)
	RegisterCustomer(ctx context.Context, c repository.Customer) error
	ListCustomers(ctx context.Context) ([]repository.Customer, error)
	FindPairByMeter(ctx context.Context, meterID string) (string, bool, error)
}

// PairResolver finds the live pair of a client meter
type PairResolver interface {
	FindPairByMeter(meterID string) (string, bool)
}

// Service registers customers against pairs and verifies signups
type Service struct {
	dir       Directory
	pairs     PairResolver
	validator *validator.Validator
	logger    *zap.Logger
	now       func() time.Time
}

// NewService creates a customer service. pairs may be nil.
func NewService(dir Directory, pairs PairResolver, v *validator.Validator, logger *zap.Logger) *Service {
	return &Service{
		dir:       dir,
		pairs:     pairs,
		validator: v,
		logger:    logger,
		now:       time.Now,
	}
}

// Register stores a registration. The pair is resolved from the live
// registry first, then from the stored client snapshots; an unresolved pair
// is stored empty and the customer sees no live data until it resolves.
func (s *Service) Register(ctx context.Context, reg validator.Registration) (repository.Customer, error) {
	if result := s.validator.ValidateRegistration(reg); !result.IsValid {
		return repository.Customer{}, &ValidationError{Reason: result.Reason}
	}
	reg = validator.NormalizeRegistration(reg)

	pairID, err := s.resolvePair(ctx, reg.MeterID)
	if err != nil {
		return repository.Customer{}, err
	}

	c := repository.Customer{
		Email:     reg.Email,
		Name:      reg.Name,
		Location:  reg.Location,
		MeterID:   reg.MeterID,
		PairID:    pairID,
		CreatedAt: s.now().UTC(),
	}
	if err := s.dir.RegisterCustomer(ctx, c); err != nil {
		return repository.Customer{}, err
	}

	s.logger.Info("customer registered",
		zap.String("meter_id", c.MeterID),
		zap.String("pair_id", c.PairID),
	)
	return c, nil
}

func (s *Service) resolvePair(ctx context.Context, meterID string) (string, error) {
	if s.pairs != nil {
		if pairID, ok := s.pairs.FindPairByMeter(meterID); ok {
			return pairID, nil
		}
	}
	pairID, ok, err := s.dir.FindPairByMeter(ctx, meterID)
	if err != nil {
		return "", fmt.Errorf("failed to resolve pair for meter %s: %w", meterID, err)
	}
	if !ok {
		s.logger.Warn("no pair reports meter", zap.String("meter_id", meterID))
		return "", nil
	}
	return pairID, nil
}

// Verify checks a customer signup against the registration of its email
func (s *Service) Verify(ctx context.Context, signup validator.Signup) (repository.Customer, error) {
	if result := s.validator.ValidateSignup(signup); !result.IsValid {
		return repository.Customer{}, &ValidationError{Reason: result.Reason}
	}

	c, err := s.dir.GetCustomer(ctx, signup.Email)
	if errors.Is(err, repository.ErrNotFound) {
		return repository.Customer{}, ErrNotRegistered
	}
	if err != nil {
		return repository.Customer{}, err
	}
	if c.MeterID != strings.TrimSpace(signup.MeterID) {
		return repository.Customer{}, ErrMeterMismatch
	}
	return *c, nil
}

// Lookup returns the registration of email
func (s *Service) Lookup(ctx context.Context, email string) (repository.Customer, error) {
	c, err := s.dir.GetCustomer(ctx, email)
	if errors.Is(err, repository.ErrNotFound) {
		return repository.Customer{}, ErrNotRegistered
	}
	if err != nil {
		return repository.Customer{}, err
	}
	return *c, nil
}

// List returns every registration
func (s *Service) List(ctx context.Context) ([]repository.Customer, error) {
	return s.dir.ListCustomers(ctx)
}
