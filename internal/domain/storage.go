package domain

import "context"

// CredentialStore keeps secret material by reference.
// Sources only ever hold the reference.
type CredentialStore interface {
	Put(ctx context.Context, ref string, creds Credentials) error
	Get(ctx context.Context, ref string) (Credentials, error)
	Delete(ctx context.Context, ref string) error
}
