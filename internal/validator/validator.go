package validator

import (
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/septivank/energy-bypass-monitor/internal/meter"
	"github.com/septivank/energy-bypass-monitor/tools/timeparser"
)

// ValidationResult holds validation outcome
type ValidationResult struct {
	IsValid bool
	Reason  string
}

func invalid(format string, args ...interface{}) ValidationResult {
	return ValidationResult{IsValid: false, Reason: fmt.Sprintf(format, args...)}
}

// Registration is a customer registration submitted by the provider
type Registration struct {
	Name     string `json:"name"`
	Location string `json:"location"`
	MeterID  string `json:"meterId"`
	Email    string `json:"email"`
}

// Signup is a customer's own signup check against the registration
type Signup struct {
	Email   string `json:"email"`
	MeterID string `json:"meterId"`
}

// Validator checks inbound registrations and feed readings
type Validator struct {
	timestampToleranceMinutes int
}

// NewValidator creates a new validator with the specified tolerance
func NewValidator(timestampToleranceMinutes int) *Validator {
	return &Validator{
		timestampToleranceMinutes: timestampToleranceMinutes,
	}
}

// NormalizeRegistration trims every field
func NormalizeRegistration(r Registration) Registration {
	return Registration{
		Name:     strings.TrimSpace(r.Name),
		Location: strings.TrimSpace(r.Location),
		MeterID:  strings.TrimSpace(r.MeterID),
		Email:    strings.TrimSpace(r.Email),
	}
}

// ValidateRegistration requires all fields and a parseable email address
func (v *Validator) ValidateRegistration(r Registration) ValidationResult {
	r = NormalizeRegistration(r)
	if r.Name == "" || r.Location == "" || r.MeterID == "" || r.Email == "" {
		return invalid("name, location, meterId and email are required")
	}
	if _, err := mail.ParseAddress(r.Email); err != nil {
		return invalid("invalid email: %v", err)
	}
	return ValidationResult{IsValid: true}
}

// ValidateSignup requires an email and meter id
func (v *Validator) ValidateSignup(s Signup) ValidationResult {
	if strings.TrimSpace(s.Email) == "" || strings.TrimSpace(s.MeterID) == "" {
		return invalid("email and meterId are required")
	}
	return ValidationResult{IsValid: true}
}

// ValidateReading checks a feed reading can be attributed to a pair side.
// Measurements are not checked; bad values were already defaulted to 0.
func (v *Validator) ValidateReading(r meter.Reading) ValidationResult {
	if strings.TrimSpace(r.PairID) == "" {
		return invalid("empty pair id")
	}
	if !r.Role.Valid() {
		return invalid("unknown role %q", r.Role)
	}
	return ValidationResult{IsValid: true}
}

// IsClockSkewed reports whether a reading timestamp is outside the tolerance
// window around receivedAt. A missing timestamp is not skewed.
func (v *Validator) IsClockSkewed(r meter.Reading, receivedAt time.Time) bool {
	if r.Timestamp <= 0 {
		return false
	}
	return !timeparser.IsWithinTolerance(time.Unix(r.Timestamp, 0), receivedAt, v.timestampToleranceMinutes)
}
