package media

import (
	"errors"
	"fmt"
	"testing"
)

// TestAuthError_Error verifies error message formatting
func TestAuthError_Error(t *testing.T) {
	tests := []struct {
		name       string
		err        *AuthError
		wantFormat string
	}{
		{
			name:       "without cause",
			err:        &AuthError{Operation: "request_token", Reason: "checkForm missing"},
			wantFormat: "authentication failed during request_token: checkForm missing",
		},
		{
			name:       "with cause",
			err:        &AuthError{Operation: "license_token", Reason: "gateway call failed", Err: errors.New("boom")},
			wantFormat: "authentication failed during license_token: gateway call failed: boom",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.wantFormat {
				t.Errorf("Error() = %q, want %q", got, tt.wantFormat)
			}
		})
	}
}

// TestTransportError_Error verifies error message formatting
func TestTransportError_Error(t *testing.T) {
	tests := []struct {
		name       string
		err        *TransportError
		wantFormat string
	}{
		{
			name:       "with HTTP status code",
			err:        &TransportError{Operation: "fetch", StatusCode: 503},
			wantFormat: "transport error during fetch (HTTP 503)",
		},
		{
			name:       "without HTTP status code",
			err:        &TransportError{Operation: "fetch", Err: errors.New("connection reset")},
			wantFormat: "transport error during fetch: connection reset",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.wantFormat {
				t.Errorf("Error() = %q, want %q", got, tt.wantFormat)
			}
		})
	}
}

func TestAPIError_Error(t *testing.T) {
	err := &APIError{Code: CodeNotAvailable, Details: "DATA_ERROR: track not found"}

	expected := "catalog api error (not_available): DATA_ERROR: track not found"
	if err.Error() != expected {
		t.Errorf("Error() = %q, want %q", err.Error(), expected)
	}
}

func TestIsInvalidToken(t *testing.T) {
	wrapped := fmt.Errorf("failed to resolve: %w", &APIError{Code: CodeInvalidToken})
	if !IsInvalidToken(wrapped) {
		t.Error("IsInvalidToken() should find invalid token through the wrap chain")
	}

	if IsInvalidToken(&APIError{Code: CodeNotAvailable}) {
		t.Error("IsInvalidToken() should be false for other codes")
	}

	if IsInvalidToken(errors.New("plain")) {
		t.Error("IsInvalidToken() should be false for non api errors")
	}
}

// TestCryptoError_Unwrap verifies error chain traversal
func TestCryptoError_Unwrap(t *testing.T) {
	err := &CryptoError{ContentID: 42, Chunk: 3, Reason: "short stripe", Err: ErrMalformedBlock}

	wrapped := fmt.Errorf("context: %w", err)
	if !errors.Is(wrapped, ErrMalformedBlock) {
		t.Error("errors.Is() should find ErrMalformedBlock in wrapped chain")
	}

	var cryptoErr *CryptoError
	if !errors.As(wrapped, &cryptoErr) {
		t.Fatal("errors.As() should find CryptoError in wrapped chain")
	}

	if cryptoErr.Chunk != 3 {
		t.Errorf("Chunk = %d, want 3", cryptoErr.Chunk)
	}
}

// TestTransportError_Unwrap verifies error chain traversal
func TestTransportError_Unwrap(t *testing.T) {
	cause := errors.New("connection reset")
	err := &TransportError{Operation: "fetch", Err: cause}

	if errors.Unwrap(err) != cause {
		t.Errorf("Unwrap() = %v, want %v", errors.Unwrap(err), cause)
	}
}
