package awx

import "errors"

// Sentinel errors classifying AWX API failures. All errors returned by Client
// wrap exactly one of these, so callers can switch on errors.Is without
// parsing message text.
var (
	// ErrAuth covers 401 responses and 403 permission denials.
	ErrAuth = errors.New("awx: authentication failed")
	// ErrConnection covers transport failures: refused, DNS, timeout.
	ErrConnection = errors.New("awx: connection failed")
	// ErrNotFound covers 404 responses.
	ErrNotFound = errors.New("awx: not found")
	// ErrValidation covers 400-level responses rejecting the request payload.
	ErrValidation = errors.New("awx: request rejected")
)
