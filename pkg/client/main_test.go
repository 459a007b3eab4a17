package client

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"strings"
	"sync"
	"testing"

	"github.com/rs/zerolog"
)

func TestMain(m *testing.M) {
	zerolog.SetGlobalLevel(zerolog.Disabled)
	os.Exit(m.Run())
}

// chatHandler answers one request with a reply script
type chatHandler func(op string, query url.Values) string

// newChatServer starts a fake chat server. Requests are recorded as
// "<op>?<query>".
func newChatServer(t *testing.T, handler chatHandler) (*httptest.Server, *requestLog) {
	t.Helper()
	log := &requestLog{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		op := strings.TrimPrefix(r.URL.Path, "/hawthorn/")
		log.add(op + "?" + r.URL.RawQuery)
		w.Header().Set("Content-Type", "text/javascript")
		fmt.Fprint(w, handler(op, r.URL.Query()))
	}))
	t.Cleanup(srv.Close)
	return srv, log
}

// newFailingServer starts a server that always answers 500
func newFailingServer(t *testing.T) (*httptest.Server, *requestLog) {
	t.Helper()
	log := &requestLog{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		log.add(r.URL.RawQuery)
		http.Error(w, "down", http.StatusInternalServerError)
	}))
	t.Cleanup(srv.Close)
	return srv, log
}

type requestLog struct {
	mu       sync.Mutex
	requests []string
}

func (l *requestLog) add(r string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.requests = append(l.requests, r)
}

func (l *requestLog) all() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]string, len(l.requests))
	copy(out, l.requests)
	return out
}

func (l *requestLog) count() int {
	return len(l.all())
}

// fetcherFunc adapts a function to Fetcher
type fetcherFunc func(ctx context.Context, url string) (string, error)

func (f fetcherFunc) Fetch(ctx context.Context, url string) (string, error) {
	return f(ctx, url)
}

// newTestTransport builds a transport over servers, starting at the first
func newTestTransport(t *testing.T, cfg TransportConfig) (*Transport, *MockState) {
	t.Helper()
	tr, err := NewTransport(cfg)
	if err != nil {
		t.Fatalf("NewTransport failed: %v", err)
	}
	state := NewMockState()
	state.SetCurrentServer(tr.Servers()[0])
	tr.SetState(state)
	t.Cleanup(tr.Close)
	return tr, state
}
