package validate

import (
	"errors"
	"testing"
)

func TestPhone_Canonical(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want string
	}{
		{"bare ten digits", "5551234567", "+15551234567"},
		{"formatted", "(555) 123-4567", "+15551234567"},
		{"dotted", "555.123.4567", "+15551234567"},
		{"eleven with country code", "15551234567", "+15551234567"},
		{"plus prefixed", "+1 555 123 4567", "+15551234567"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := Phone(tc.in)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tc.want {
				t.Errorf("got %q, want %q", got, tc.want)
			}
		})
	}
}

func TestPhone_Errors(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want error
	}{
		{"empty", "", ErrPhoneEmpty},
		{"no digits", "abc-def", ErrPhoneEmpty},
		{"too short", "555123456", ErrPhoneTooShort},
		{"too long", "155512345678", ErrPhoneTooLong},
		{"eleven without country code", "25551234567", ErrPhoneFormat},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Phone(tc.in)
			if !errors.Is(err, tc.want) {
				t.Errorf("got %v, want %v", err, tc.want)
			}
		})
	}
}
