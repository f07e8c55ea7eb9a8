package domain

import "context"

// Backend is the capability set every media server family implements.
// Implementations normalize server responses into domain types and classify
// every failure as ErrNetwork, ErrAuthRequired or ErrParse. No call blocks
// past the adapter's own timeout.
type Backend interface {
	// Kind returns the server family
	Kind() BackendKind

	// Authenticate validates credentials. An expired or rejected credential
	// returns ErrAuthRequired; a transport failure returns ErrNetwork.
	Authenticate(ctx context.Context, creds Credentials) (User, error)

	// ListLibraries returns every library in server order
	ListLibraries(ctx context.Context) ([]Library, error)

	// ListItems returns one window of a library. The caller drives windowing.
	ListItems(ctx context.Context, lib Library, windowStart, windowSize int) (ItemPage, error)

	// ListHomeSections returns the server's native landing hubs in order
	ListHomeSections(ctx context.Context) ([]HomeSectionContent, error)

	// CheckHealth is a cheap reachability probe; nil means reachable
	CheckHealth(ctx context.Context) error

	// ActiveEndpoint returns the endpoint that last answered
	ActiveEndpoint() Endpoint

	// ImageURL resolves a remote image reference into a fetchable URL
	ImageURL(ref string) (string, error)
}

// BackendFactory builds a backend for a source using its stored credentials
type BackendFactory interface {
	Backend(ctx context.Context, src Source) (Backend, error)
}
