package money

import (
	"errors"
	"math/big"
	"testing"
)

func TestParseMinor(t *testing.T) {
	cases := []struct {
		input   string
		want    int64
		wantErr error
	}{
		{"100", 10000, nil},
		{"100.5", 10050, nil},
		{"100.55", 10055, nil},
		{"-3.07", -307, nil},
		{".99", 99, nil},
		{"0.999", 0, ErrTooManyDecimals},
		{"", 0, ErrInvalidAmount},
		{"12a", 0, ErrInvalidAmount},
		{"-", 0, ErrInvalidAmount},
		{"+", 0, ErrInvalidAmount},
		{".", 0, ErrInvalidAmount},
	}
	for _, tc := range cases {
		got, err := ParseMinor(tc.input)
		if tc.wantErr != nil {
			if !errors.Is(err, tc.wantErr) {
				t.Fatalf("ParseMinor(%q): expected %v, got %v", tc.input, tc.wantErr, err)
			}
			continue
		}
		if err != nil {
			t.Fatalf("ParseMinor(%q): unexpected error: %v", tc.input, err)
		}
		if got != tc.want {
			t.Fatalf("ParseMinor(%q): expected %d, got %d", tc.input, tc.want, got)
		}
	}
}

func TestFormatMinor(t *testing.T) {
	if got := FormatMinor(10055); got != "100.55" {
		t.Fatalf("unexpected format: %s", got)
	}
	if got := FormatMinor(-307); got != "-3.07" {
		t.Fatalf("unexpected format: %s", got)
	}
	if got := FormatMinor(5); got != "0.05" {
		t.Fatalf("unexpected format: %s", got)
	}
}

func TestTokenToMinor(t *testing.T) {
	// 1.5 tokens at 18 decimals -> 150 minor units.
	amount, _ := new(big.Int).SetString("1500000000000000000", 10)
	minor, err := TokenToMinor(amount, 18)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if minor != 150 {
		t.Fatalf("expected 150, got %d", minor)
	}
}

func TestTokenToMinorRoundsDustDeterministically(t *testing.T) {
	// 1.005 tokens: the half cent rounds bank-style to the even cent, and a
	// redelivered event must convert to the same value.
	amount, _ := new(big.Int).SetString("1005000000000000000", 10)
	first, err := TokenToMinor(amount, 18)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	second, err := TokenToMinor(new(big.Int).Set(amount), 18)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if first != second {
		t.Fatalf("conversion not deterministic: %d vs %d", first, second)
	}
	if first != 100 {
		t.Fatalf("expected bank rounding to 100, got %d", first)
	}
}

func TestTokenToMinorNil(t *testing.T) {
	if _, err := TokenToMinor(nil, 18); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("expected ErrInvalidAmount, got %v", err)
	}
}
