package domain

import (
	"context"
	"errors"
)

// Sentinel errors for the sync taxonomy. Adapters and the repository wrap
// these with fmt.Errorf("%w: ...") so callers can branch with errors.Is.
var (
	// ErrNetwork is transient: unreachable server, timeout, 5xx, open breaker
	ErrNetwork = errors.New("media server is unreachable")

	// ErrAuthRequired means the stored credential was rejected
	ErrAuthRequired = errors.New("authentication required")

	// ErrParse indicates a malformed or unexpected remote payload
	ErrParse = errors.New("malformed server response")

	// ErrStorage indicates a local transaction failure
	ErrStorage = errors.New("local storage failure")

	// ErrSourceNotFound indicates the requested source is not configured
	ErrSourceNotFound = errors.New("source not found")

	// ErrSourceExists indicates a source with the same ID is already configured
	ErrSourceExists = errors.New("source already configured")

	// ErrItemNotFound indicates the requested media item does not exist
	ErrItemNotFound = errors.New("media item not found")

	// ErrCredentialNotFound is returned when a reference has no stored secret
	ErrCredentialNotFound = errors.New("credential not found")
)

// ErrorKind is the recovery class of an error
type ErrorKind int

const (
	KindUnknown ErrorKind = iota
	KindNetwork
	KindAuthRequired
	KindParse
	KindStorage
)

func (k ErrorKind) String() string {
	switch k {
	case KindNetwork:
		return "network"
	case KindAuthRequired:
		return "auth_required"
	case KindParse:
		return "parse"
	case KindStorage:
		return "storage"
	default:
		return "unknown"
	}
}

// Classify maps an error onto the taxonomy. Deadline errors count as network.
func Classify(err error) ErrorKind {
	switch {
	case err == nil:
		return KindUnknown
	case errors.Is(err, ErrAuthRequired):
		return KindAuthRequired
	case errors.Is(err, ErrNetwork), errors.Is(err, context.DeadlineExceeded):
		return KindNetwork
	case errors.Is(err, ErrParse):
		return KindParse
	case errors.Is(err, ErrStorage):
		return KindStorage
	default:
		return KindUnknown
	}
}
