package apperror

import (
	"errors"
	"io"
	"testing"
)

func TestErrorsIs(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		target    error
		wantMatch bool
	}{
		{
			name:      "NotFound wraps ErrNotFound",
			err:       NotFound("account", "42"),
			target:    ErrNotFound,
			wantMatch: true,
		},
		{
			name:      "ValidationFailed wraps ErrValidation",
			err:       ValidationFailed("id", "bad id"),
			target:    ErrValidation,
			wantMatch: true,
		},
		{
			name:      "Conflict wraps ErrConflict",
			err:       Conflict("account", "42"),
			target:    ErrConflict,
			wantMatch: true,
		},
		{
			name:      "Exhausted wraps ErrExhausted",
			err:       Exhausted("no users found"),
			target:    ErrExhausted,
			wantMatch: true,
		},
		{
			name:      "RateLimited wraps ErrRateLimited",
			err:       RateLimited("slow down"),
			target:    ErrRateLimited,
			wantMatch: true,
		},
		{
			name:      "Exhausted is not an upstream failure",
			err:       Exhausted("no users found"),
			target:    ErrUpstream,
			wantMatch: false,
		},
		{
			name:      "Upstream wraps ErrUpstream",
			err:       Upstream("discord unavailable", io.ErrUnexpectedEOF),
			target:    ErrUpstream,
			wantMatch: true,
		},
		{
			name:      "Upstream keeps its cause in the chain",
			err:       Upstream("discord unavailable", io.ErrUnexpectedEOF),
			target:    io.ErrUnexpectedEOF,
			wantMatch: true,
		},
		{
			name:      "Upstream without a cause",
			err:       Upstream("discord unavailable", nil),
			target:    ErrUpstream,
			wantMatch: true,
		},
		{
			name:      "InsufficientBalance wraps ErrInsufficientBalance",
			err:       InsufficientBalance(0, -1),
			target:    ErrInsufficientBalance,
			wantMatch: true,
		},
		{
			name:      "Unauthorized does NOT match ErrForbidden",
			err:       Unauthorized("login required"),
			target:    ErrForbidden,
			wantMatch: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := errors.Is(tt.err, tt.target)
			if got != tt.wantMatch {
				t.Errorf("errors.Is(%v, %v) = %v, want %v", tt.err, tt.target, got, tt.wantMatch)
			}
		})
	}
}

func TestErrorMessages(t *testing.T) {
	tests := []struct {
		name        string
		err         *AppError
		wantMessage string
	}{
		{
			name:        "NotFound message includes resource and id",
			err:         NotFound("discord user", "80351110224678912"),
			wantMessage: "discord user not found with id 80351110224678912",
		},
		{
			name:        "Exhausted uses the given message",
			err:         Exhausted("No users found for this year"),
			wantMessage: "No users found for this year",
		},
		{
			name:        "Upstream hides the cause",
			err:         Upstream("discord unavailable", errors.New("dial tcp: refused")),
			wantMessage: "discord unavailable",
		},
		{
			name:        "InsufficientBalance reports balance and delta",
			err:         InsufficientBalance(3, -5),
			wantMessage: "insufficient balance: have 3, change of -5 would go below zero",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.wantMessage {
				t.Errorf("Error() = %q, want %q", got, tt.wantMessage)
			}
		})
	}
}

func TestUnwrap(t *testing.T) {
	err := Exhausted("nothing left")
	if err.Unwrap() != ErrExhausted {
		t.Errorf("Unwrap() = %v, want %v", err.Unwrap(), ErrExhausted)
	}
}

func TestFieldIsSet(t *testing.T) {
	if f := ValidationFailed("year", "year out of range").Field; f != "year" {
		t.Errorf("Field = %q, want %q", f, "year")
	}
	if f := InsufficientBalance(0, -1).Field; f != "amount" {
		t.Errorf("Field = %q, want %q", f, "amount")
	}
}
