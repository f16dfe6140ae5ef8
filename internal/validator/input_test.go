package validator

import (
	"errors"
	"strings"
	"testing"
)

func TestInputValidator_Validate(t *testing.T) {
	v := NewInputValidator()

	tests := []struct {
		name    string
		query   string
		wantErr bool
	}{
		{"short query", "hi", false},
		{"normal", "why is port 443 closed on db1?", false},
		{"empty", "", true},
		{"whitespace", "  \n\t", true},
		{"too long", strings.Repeat("a", 2001), true},
		{"invalid utf8", "bad \xff byte", true},
		{"multibyte at limit", strings.Repeat("é", 2000), false},
	}

	for _, tt := range tests {
		err := v.Validate(tt.query)
		if (err != nil) != tt.wantErr {
			t.Errorf("%s: Validate() error = %v, wantErr %v", tt.name, err, tt.wantErr)
		}
	}

	if err := v.Validate(" "); !errors.Is(err, ErrEmptyQuery) {
		t.Errorf("expected ErrEmptyQuery, got %v", err)
	}
}

func TestInputValidator_WithLimits(t *testing.T) {
	v := NewInputValidator().WithLimits(5, 10)

	if err := v.Validate("abc"); err == nil {
		t.Error("expected error below minimum")
	}
	if err := v.Validate("abcdefghijk"); err == nil {
		t.Error("expected error above maximum")
	}
	if err := v.Validate("hello"); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if err := NewInputValidator().Validate("hi"); err != nil {
		t.Error("WithLimits must not modify the receiver")
	}
}

func TestInputValidator_Sanitize(t *testing.T) {
	v := NewInputValidator()

	got := v.Sanitize("  check \x00dns\x07   for\n\nexample.com \t")
	if got != "check dns for example.com" {
		t.Errorf("Sanitize() = %q", got)
	}
}
