package validator_test

import (
	"testing"
	"time"

	"github.com/septivank/energy-bypass-monitor/internal/meter"
	"github.com/septivank/energy-bypass-monitor/internal/validator"
)

const testTimestampToleranceMinutes = 5

func TestValidateRegistration_Valid(t *testing.T) {
	v := validator.NewValidator(testTimestampToleranceMinutes)

	result := v.ValidateRegistration(validator.Registration{
		Name:     " Jane Doe ",
		Location: "Block A",
		MeterID:  "CLIENT_001",
		Email:    "jane.doe@example.com",
	})
	if !result.IsValid {
		t.Errorf("Expected valid registration, got invalid: %s", result.Reason)
	}
}

func TestValidateRegistration_MissingField(t *testing.T) {
	v := validator.NewValidator(testTimestampToleranceMinutes)

	result := v.ValidateRegistration(validator.Registration{
		Name:    "Jane",
		MeterID: "CLIENT_001",
		Email:   "jane@example.com",
	})
	if result.IsValid {
		t.Error("Expected missing location to be invalid")
	}
}

func TestValidateRegistration_BadEmail(t *testing.T) {
	v := validator.NewValidator(testTimestampToleranceMinutes)

	result := v.ValidateRegistration(validator.Registration{
		Name:     "Jane",
		Location: "Block A",
		MeterID:  "CLIENT_001",
		Email:    "not-an-email",
	})
	if result.IsValid {
		t.Error("Expected invalid email to be rejected")
	}
}

func TestNormalizeRegistration(t *testing.T) {
	r := validator.NormalizeRegistration(validator.Registration{MeterID: " CLIENT_001\t", Email: " a@b.c "})
	if r.MeterID != "CLIENT_001" || r.Email != "a@b.c" {
		t.Errorf("Expected trimmed fields, got %+v", r)
	}
}

func TestValidateSignup(t *testing.T) {
	v := validator.NewValidator(testTimestampToleranceMinutes)

	if !v.ValidateSignup(validator.Signup{Email: "a@b.c", MeterID: "M1"}).IsValid {
		t.Error("Expected signup to be valid")
	}
	if v.ValidateSignup(validator.Signup{Email: "a@b.c"}).IsValid {
		t.Error("Expected signup without meter id to be invalid")
	}
}

func TestValidateReading(t *testing.T) {
	v := validator.NewValidator(testTimestampToleranceMinutes)

	if !v.ValidateReading(meter.Reading{PairID: "P1", Role: meter.RoleClient}).IsValid {
		t.Error("Expected client reading to be valid")
	}
	if v.ValidateReading(meter.Reading{Role: meter.RolePole}).IsValid {
		t.Error("Expected reading without pair id to be invalid")
	}
	if v.ValidateReading(meter.Reading{PairID: "P1", Role: "substation"}).IsValid {
		t.Error("Expected unknown role to be invalid")
	}
}

func TestIsClockSkewed(t *testing.T) {
	v := validator.NewValidator(testTimestampToleranceMinutes)
	receivedAt := time.Date(2025, 12, 29, 10, 32, 0, 0, time.UTC)

	fresh := meter.Reading{Timestamp: receivedAt.Add(-2 * time.Minute).Unix()}
	if v.IsClockSkewed(fresh, receivedAt) {
		t.Error("Expected reading 2 minutes old not to be skewed")
	}

	stale := meter.Reading{Timestamp: receivedAt.Add(-time.Hour).Unix()}
	if !v.IsClockSkewed(stale, receivedAt) {
		t.Error("Expected reading an hour old to be skewed")
	}

	if v.IsClockSkewed(meter.Reading{}, receivedAt) {
		t.Error("Expected missing timestamp not to be skewed")
	}
}
