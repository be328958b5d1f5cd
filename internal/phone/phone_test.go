package phone

import (
	"errors"
	"testing"
)

func TestNormalizeNationalNumberGetsCountryCode(t *testing.T) {
	got, err := Normalize("11987654321")
	if err != nil {
		t.Fatalf("Normalize failed: %v", err)
	}
	if got != "5511987654321" {
		t.Fatalf("expected 5511987654321, got %s", got)
	}
}

func TestNormalizeStripsFormatting(t *testing.T) {
	got, err := Normalize("(11) 98765-4321")
	if err != nil {
		t.Fatalf("Normalize failed: %v", err)
	}
	if got != "5511987654321" {
		t.Fatalf("expected 5511987654321, got %s", got)
	}
}

func TestNormalizeAlreadyPrefixedIsUnchanged(t *testing.T) {
	got, err := Normalize("5511987654321")
	if err != nil {
		t.Fatalf("Normalize failed: %v", err)
	}
	if got != "5511987654321" {
		t.Fatalf("expected no double prefix, got %s", got)
	}
}

func TestNormalizeTenDigitLandline(t *testing.T) {
	got, err := Normalize("1133334444")
	if err != nil {
		t.Fatalf("Normalize failed: %v", err)
	}
	if got != "551133334444" {
		t.Fatalf("expected 551133334444, got %s", got)
	}
}

func TestNormalizeRejectsTooShort(t *testing.T) {
	if _, err := Normalize("1234567"); !errors.Is(err, ErrInvalidLength) {
		t.Fatalf("expected ErrInvalidLength, got %v", err)
	}
}

func TestNormalizeRejectsMissingAreaCode(t *testing.T) {
	for _, raw := range []string{"87654321", "987654321"} {
		if _, err := Normalize(raw); !errors.Is(err, ErrMissingAreaCode) {
			t.Fatalf("%s: expected ErrMissingAreaCode, got %v", raw, err)
		}
	}
}

func TestNormalizeRejectsOversizedNumber(t *testing.T) {
	if _, err := Normalize("5511987654321999"); !errors.Is(err, ErrInvalidFormat) {
		t.Fatalf("expected ErrInvalidFormat, got %v", err)
	}
}

func TestNormalizeTwelveDigitsWithoutPrefixRejected(t *testing.T) {
	// 12 digits not starting with 55: prefixing would exceed 13 digits.
	if _, err := Normalize("441198765432"); !errors.Is(err, ErrInvalidFormat) {
		t.Fatalf("expected ErrInvalidFormat, got %v", err)
	}
}

func TestNormalizeEmptyInput(t *testing.T) {
	if _, err := Normalize(""); !errors.Is(err, ErrInvalidLength) {
		t.Fatalf("expected ErrInvalidLength, got %v", err)
	}
}
