package transport

import "errors"

var (
	// ErrSessionNotFound occurs when a session is not found.
	ErrSessionNotFound = errors.New("session not found")

	// ErrMissingSessionID occurs when a session ID is missing in the request.
	ErrMissingSessionID = errors.New("missing session id")

	// ErrSessionClosed occurs when a message is written to or delivered to a closed session.
	ErrSessionClosed = errors.New("session closed")

	// ErrDuplicateSession occurs when a minted session id is already registered.
	ErrDuplicateSession = errors.New("duplicate session id")
)
