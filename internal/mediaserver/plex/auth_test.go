package plex

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/goccy/go-json"

	"github.com/mmcdole/reel/internal/mediaserver/transport"
)

func newPINServer(t *testing.T, claimAfter int32) *httptest.Server {
	t.Helper()
	var checks atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v2/pins", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-Plex-Client-Identifier") == "" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(PINResponse{ID: 42, Code: "ABCD"})
	})
	mux.HandleFunc("GET /api/v2/pins/42", func(w http.ResponseWriter, r *http.Request) {
		resp := PINResponse{ID: 42, Code: "ABCD"}
		if checks.Add(1) >= claimAfter {
			resp.AuthToken = "issued-token"
		}
		json.NewEncoder(w).Encode(resp)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func fastPINAuth(url string) *PINAuth {
	a := NewPINAuth(url, transport.Options{Timeout: time.Second, BreakerFailures: 100}, nil)
	a.PollInterval = time.Millisecond
	a.MaxPollInterval = 4 * time.Millisecond
	return a
}

func TestPINFlow(t *testing.T) {
	srv := newPINServer(t, 3)
	a := fastPINAuth(srv.URL)

	pin, err := a.RequestPIN(context.Background())
	if err != nil {
		t.Fatalf("RequestPIN failed: %v", err)
	}
	if pin.ID != 42 || pin.Code != "ABCD" {
		t.Fatalf("unexpected pin %+v", pin)
	}

	token, err := a.WaitForPIN(context.Background(), pin.ID, time.Second)
	if err != nil {
		t.Fatalf("WaitForPIN failed: %v", err)
	}
	if token != "issued-token" {
		t.Fatalf("unexpected token %q", token)
	}
}

func TestUnknownPINIsExpired(t *testing.T) {
	srv := newPINServer(t, 1)
	a := fastPINAuth(srv.URL)

	if _, _, err := a.CheckPIN(context.Background(), 7); !errors.Is(err, ErrPINExpired) {
		t.Fatalf("expected ErrPINExpired, got %v", err)
	}
	if _, err := a.WaitForPIN(context.Background(), 7, time.Second); !errors.Is(err, ErrPINExpired) {
		t.Fatalf("expected ErrPINExpired, got %v", err)
	}
}

func TestWaitForPINTimesOut(t *testing.T) {
	srv := newPINServer(t, 1_000_000)
	a := fastPINAuth(srv.URL)

	if _, err := a.WaitForPIN(context.Background(), 42, 30*time.Millisecond); !errors.Is(err, ErrPINExpired) {
		t.Fatalf("expected ErrPINExpired after the timeout, got %v", err)
	}
}
