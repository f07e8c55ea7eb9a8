package broker

import "github.com/mmcdole/reel/internal/domain"

// Kind names an event type
type Kind string

const (
	KindSyncCompleted      Kind = "sync_completed"
	KindSyncFailed         Kind = "sync_failed"
	KindConnectionChanged  Kind = "connection_changed"
	KindAuthStatusChanged  Kind = "auth_status_changed"
	KindConnectionRestored Kind = "connection_restored"
)

// Event is anything published on the broker
type Event interface {
	Kind() Kind
	Source() string
}

// SyncCompleted is published after a pass commits every step
type SyncCompleted struct {
	SourceID string
	Mode     domain.SyncMode
	Result   domain.SyncResult
}

func (SyncCompleted) Kind() Kind       { return KindSyncCompleted }
func (e SyncCompleted) Source() string { return e.SourceID }

// SyncFailed is published when a pass stops early
type SyncFailed struct {
	SourceID string
	Reason   string
	ErrKind  domain.ErrorKind
}

func (SyncFailed) Kind() Kind       { return KindSyncFailed }
func (e SyncFailed) Source() string { return e.SourceID }

// ConnectionChanged is published on every monitor state transition
type ConnectionChanged struct {
	SourceID string
	From     domain.ConnectionState
	To       domain.ConnectionState
}

func (ConnectionChanged) Kind() Kind       { return KindConnectionChanged }
func (e ConnectionChanged) Source() string { return e.SourceID }

// AuthStatusChanged is published when a credential is accepted or rejected
type AuthStatusChanged struct {
	SourceID string
	Status   domain.AuthStatus
}

func (AuthStatusChanged) Kind() Kind       { return KindAuthStatusChanged }
func (e AuthStatusChanged) Source() string { return e.SourceID }

// ConnectionRestored is published when a disconnected source answers again
type ConnectionRestored struct {
	SourceID string
}

func (ConnectionRestored) Kind() Kind       { return KindConnectionRestored }
func (e ConnectionRestored) Source() string { return e.SourceID }
