package auth

import (
	"errors"
	"fmt"
)

// Reason is a machine readable cause of an authentication failure.
type Reason string

const (
	ReasonMissingToken    Reason = "missing_token"
	ReasonMalformedHeader Reason = "malformed_header"
	ReasonInvalidToken    Reason = "invalid_token"
	ReasonExpiredToken    Reason = "expired_token"
	ReasonUnknownKey      Reason = "unknown_key"
	ReasonInvalidIssuer   Reason = "invalid_issuer"
	ReasonInvalidAudience Reason = "invalid_audience"
	ReasonMissingRole     Reason = "missing_role"
)

var (
	// ErrMissingToken occurs when the request carries no Authorization header.
	ErrMissingToken = errors.New("authentication token is required")

	// ErrMalformedHeader occurs when the Authorization header is not "Bearer <token>".
	ErrMalformedHeader = errors.New("invalid Authorization header format")

	// ErrKeyNotFound occurs when no usable signing key with the token's kid is published.
	ErrKeyNotFound = errors.New("signing key not found")

	// ErrMissingKeyID occurs when the token header has no kid.
	ErrMissingKeyID = errors.New("token header has no kid")

	// ErrUnexpectedIssuer occurs when the issuer is none of the accepted ones.
	ErrUnexpectedIssuer = errors.New("unexpected issuer")

	// ErrUnexpectedAudience occurs when the audience does not belong to the issuer.
	ErrUnexpectedAudience = errors.New("unexpected audience")
)

// Error is an authentication failure.
type Error struct {
	Reason Reason
	Err    error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %v", e.Reason, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func newError(reason Reason, err error) *Error {
	return &Error{Reason: reason, Err: err}
}

// ReasonOf returns the Reason carried by err, or ReasonInvalidToken.
func ReasonOf(err error) Reason {
	var e *Error
	if errors.As(err, &e) {
		return e.Reason
	}
	return ReasonInvalidToken
}
