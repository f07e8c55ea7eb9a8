package metrics

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/mmcdole/reel/internal/domain"
)

func TestRecordSyncPass(t *testing.T) {
	before := testutil.ToFloat64(SyncPasses.WithLabelValues("full", "ok"))
	added := testutil.ToFloat64(SyncItems.WithLabelValues("added"))

	RecordSyncPass(domain.SyncFull, domain.SyncResult{ItemsAdded: 3}, time.Second, nil)

	if got := testutil.ToFloat64(SyncPasses.WithLabelValues("full", "ok")); got != before+1 {
		t.Errorf("expected %v passes, got %v", before+1, got)
	}
	if got := testutil.ToFloat64(SyncItems.WithLabelValues("added")); got != added+3 {
		t.Errorf("expected %v added, got %v", added+3, got)
	}
}

func TestRecordSyncPassClassifiesErrors(t *testing.T) {
	before := testutil.ToFloat64(SyncPasses.WithLabelValues("incremental", "network"))

	RecordSyncPass(domain.SyncIncremental, domain.SyncResult{}, time.Millisecond,
		fmt.Errorf("%w: timeout", domain.ErrNetwork))

	if got := testutil.ToFloat64(SyncPasses.WithLabelValues("incremental", "network")); got != before+1 {
		t.Errorf("expected %v network failures, got %v", before+1, got)
	}

	unknown := testutil.ToFloat64(SyncPasses.WithLabelValues("incremental", "unknown"))
	RecordSyncPass(domain.SyncIncremental, domain.SyncResult{}, time.Millisecond, errors.New("boom"))
	if got := testutil.ToFloat64(SyncPasses.WithLabelValues("incremental", "unknown")); got != unknown+1 {
		t.Errorf("expected %v unknown failures, got %v", unknown+1, got)
	}
}

func TestSetConnectionState(t *testing.T) {
	SetConnectionState("src-metrics", domain.StateDisconnected)

	if got := testutil.ToFloat64(ConnectionState.WithLabelValues("src-metrics", "disconnected")); got != 1 {
		t.Errorf("expected disconnected gauge 1, got %v", got)
	}
	if got := testutil.ToFloat64(ConnectionState.WithLabelValues("src-metrics", "connected")); got != 0 {
		t.Errorf("expected connected gauge 0, got %v", got)
	}

	SetConnectionState("src-metrics", domain.StateConnected)
	if got := testutil.ToFloat64(ConnectionState.WithLabelValues("src-metrics", "connected")); got != 1 {
		t.Errorf("expected connected gauge 1, got %v", got)
	}

	ForgetSource("src-metrics")
}
