package core

import (
	"errors"
	"fmt"
	"testing"
)

func TestMapError(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantCode string
	}{
		{name: "nil error returns empty", err: nil, wantCode: ""},
		{name: "job not found sentinel", err: fmt.Errorf("get job: %w", ErrJobNotFound), wantCode: "IMP001"},
		{name: "invalid transition", err: fmt.Errorf("%w: COMPLETED -> PAUSED", ErrInvalidTransition), wantCode: "IMP002"},
		{name: "source changed", err: ErrSourceChanged, wantCode: "IMP004"},
		{name: "busy", err: ErrTooManyImports, wantCode: "IMP006"},
		{name: "file too large", err: fmt.Errorf("%w: 200MB", ErrFileTooLarge), wantCode: "FILE001"},
		{name: "duplicate key text", err: errors.New("ERROR: duplicate key value violates unique constraint"), wantCode: "DB001"},
		{name: "foreign key text", err: errors.New("violates foreign key constraint products_category_id_fkey"), wantCode: "DB002"},
		{name: "connection refused", err: errors.New("dial tcp: connection refused"), wantCode: "DB003"},
		{name: "header error", err: &HeaderError{Missing: []string{"sku"}}, wantCode: "VAL001"},
		{name: "decode error", err: &DecodeError{Line: 4, Err: errors.New(`bare " in non-quoted-field`)}, wantCode: "FILE003"},
		{name: "case insensitive", err: errors.New("DUPLICATE KEY"), wantCode: "DB001"},
		{name: "rate limit", err: errors.New("rate limit exceeded"), wantCode: "RATE001"},
		{name: "unknown error returns default", err: errors.New("some random internal error"), wantCode: "ERR000"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := MapError(tt.err)
			if got.Code != tt.wantCode {
				t.Errorf("MapError() code = %q, want %q", got.Code, tt.wantCode)
			}
		})
	}
}

func TestFormatUserError(t *testing.T) {
	result := FormatUserError(ErrNoFile)

	expected := "No file was selected (Code: FILE004). Please select a file to upload"
	if result != expected {
		t.Errorf("FormatUserError() = %q, want %q", result, expected)
	}
}

func TestIsUserFacing(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{name: "nil error is not user facing", err: nil, want: false},
		{name: "known error is user facing", err: ErrEmptyFile, want: true},
		{name: "unknown error is not user facing", err: errors.New("random internal error xyz"), want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsUserFacing(tt.err); got != tt.want {
				t.Errorf("IsUserFacing() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestNewUserError(t *testing.T) {
	t.Run("nil error returns nil", func(t *testing.T) {
		if got := NewUserError(nil); got != nil {
			t.Errorf("NewUserError(nil) = %v, want nil", got)
		}
	})

	t.Run("wraps technical error with user message", func(t *testing.T) {
		techErr := errors.New("pq: duplicate key value")
		userErr := NewUserError(techErr)

		if userErr.Error() != "A record with this value already exists" {
			t.Errorf("Error() = %q, want user message", userErr.Error())
		}
		if !errors.Is(userErr, techErr) {
			t.Error("Unwrap() should return original error")
		}
		if got := MapError(fmt.Errorf("wrapped: %w", userErr)); got.Code != "DB001" {
			t.Errorf("MapError(wrapped UserError) code = %q, want DB001", got.Code)
		}
	})
}
