package media

import (
	"errors"
	"fmt"
)

// ErrMalformedBlock is wrapped by CryptoError when a selected stripe is not
// aligned to the cipher block size.
var ErrMalformedBlock = errors.New("stripe is not a multiple of the block size")

// AuthError represents a failed or malformed handshake. Nothing can proceed
// without a session, so it is fatal to a whole batch.
type AuthError struct {
	Operation string // Handshake step that failed (e.g., "request_token", "license_token")
	Reason    string // Human-readable explanation
	Err       error  // Underlying error, if any
}

func (e *AuthError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("authentication failed during %s: %s: %v", e.Operation, e.Reason, e.Err)
	}

	return fmt.Sprintf("authentication failed during %s: %s", e.Operation, e.Reason)
}

func (e *AuthError) Unwrap() error {
	return e.Err
}

// APICode classifies an error reported by the catalog service.
type APICode int

const (
	// CodeOther carries a service error the client does not recognise.
	CodeOther APICode = iota
	// CodeInvalidToken means the request token was rejected; refresh the session and retry once.
	CodeInvalidToken
	// CodeNotAvailable means the item cannot be streamed.
	CodeNotAvailable
	// CodeUnsupportedCipher means the service answered with a cipher scheme the decryptor cannot handle.
	CodeUnsupportedCipher
)

func (c APICode) String() string {
	switch c {
	case CodeInvalidToken:
		return "invalid_token"
	case CodeNotAvailable:
		return "not_available"
	case CodeUnsupportedCipher:
		return "unsupported_cipher"
	default:
		return "other"
	}
}

// APIError is a service-reported error parsed into a closed set of codes.
type APIError struct {
	Code    APICode
	Details string
}

func (e *APIError) Error() string {
	if e.Details == "" {
		return fmt.Sprintf("catalog api error (%s)", e.Code)
	}

	return fmt.Sprintf("catalog api error (%s): %s", e.Code, e.Details)
}

// IsInvalidToken reports whether err carries a token-validity complaint.
func IsInvalidToken(err error) bool {
	var apiErr *APIError

	return errors.As(err, &apiErr) && apiErr.Code == CodeInvalidToken
}

// TransportError represents a network fault or an unexpected HTTP status.
type TransportError struct {
	Operation  string // The operation that failed (e.g., "fetch", "gateway_call")
	StatusCode int    // HTTP status code, if applicable (0 for non-HTTP errors)
	Err        error  // Underlying error, if any
}

func (e *TransportError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("transport error during %s (HTTP %d)", e.Operation, e.StatusCode)
	}

	return fmt.Sprintf("transport error during %s: %v", e.Operation, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// CryptoError represents a stripe that could not be decrypted.
type CryptoError struct {
	ContentID ContentID
	Chunk     int
	Reason    string
	Err       error
}

func (e *CryptoError) Error() string {
	return fmt.Sprintf("failed to decrypt chunk %d of %s: %s", e.Chunk, e.ContentID, e.Reason)
}

func (e *CryptoError) Unwrap() error {
	return e.Err
}
