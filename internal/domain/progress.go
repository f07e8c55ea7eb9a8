package domain

// SyncProgress reports one committed page during a sync pass
type SyncProgress struct {
	SourceID  string
	LibraryID string
	Loaded    int // Items committed so far for this library
	Done      bool
}

// ProgressFunc receives page-level progress. Called from the sync goroutine.
type ProgressFunc func(SyncProgress)
