package nws

import "errors"

var (
	// ErrUnexpectedStatus occurs when the API answers with a non-2xx status.
	ErrUnexpectedStatus = errors.New("unexpected HTTP status")

	// ErrEmptyBody occurs when the API answers with a JSON null.
	ErrEmptyBody = errors.New("empty response body")
)
