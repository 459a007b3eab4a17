package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/aeolun/hawthorn/pkg/protocol"
	"github.com/rs/zerolog"
)

const (
	// DefaultAttemptTimeout bounds a single attempt against one server
	DefaultAttemptTimeout = 20 * time.Second

	// maxReplySize caps how much of a reply body is read
	maxReplySize = 1 << 20
)

// TransportConfig configures a Transport
type TransportConfig struct {
	Servers        []string      // base URLs, each ending in "/"
	AttemptTimeout time.Duration // per attempt, not per request
	ScriptTimeout  time.Duration // time limit for evaluating one reply
}

// DefaultTransportConfig returns the default timeouts and no servers
func DefaultTransportConfig() TransportConfig {
	return TransportConfig{
		AttemptTimeout: DefaultAttemptTimeout,
		ScriptTimeout:  protocol.DefaultScriptTimeout,
	}
}

// Fetcher loads a reply script. The real implementation is an HTTP GET;
// tests substitute their own.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (string, error)
}

// HTTPFetcher fetches reply scripts over HTTP
type HTTPFetcher struct {
	client *http.Client
}

// NewHTTPFetcher wraps client. A nil client uses http.DefaultClient.
func NewHTTPFetcher(client *http.Client) *HTTPFetcher {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPFetcher{client: client}
}

// Fetch performs a GET and returns the body. Non-2xx responses are errors,
// just as a script tag's onerror fires for them.
func (f *HTTPFetcher) Fetch(ctx context.Context, url string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("Accept", "text/javascript, application/javascript, */*")

	resp, err := f.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("unexpected status %s", resp.Status)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxReplySize))
	if err != nil {
		return "", fmt.Errorf("failed to read reply: %w", err)
	}
	return string(body), nil
}

// Transport issues requests against a list of chat servers, failing over
// from one to the next until one answers.
type Transport struct {
	servers []string

	mu      sync.Mutex
	current int

	nextID    atomic.Int64
	registry  *Registry
	fetcher   Fetcher
	evaluator *protocol.Evaluator
	timeout   time.Duration

	state   StateInterface
	metrics *Metrics
	logger  zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewTransport creates a transport for the configured servers. The starting
// server is chosen at random so that load spreads across the list.
func NewTransport(cfg TransportConfig) (*Transport, error) {
	servers := make([]string, 0, len(cfg.Servers))
	for _, s := range cfg.Servers {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		if !strings.HasSuffix(s, "/") {
			s += "/"
		}
		servers = append(servers, s)
	}
	if len(servers) == 0 {
		return nil, ErrNoServers
	}

	timeout := cfg.AttemptTimeout
	if timeout <= 0 {
		timeout = DefaultAttemptTimeout
	}
	evaluator := protocol.NewEvaluator()
	if cfg.ScriptTimeout > 0 {
		evaluator.SetTimeout(cfg.ScriptTimeout)
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Transport{
		servers:   servers,
		current:   rand.IntN(len(servers)),
		registry:  NewRegistry(),
		fetcher:   NewHTTPFetcher(nil),
		evaluator: evaluator,
		timeout:   timeout,
		logger:    zerolog.Nop(),
		ctx:       ctx,
		cancel:    cancel,
	}, nil
}

// SetLogger sets a logger for attempt failures and failover events
func (t *Transport) SetLogger(logger zerolog.Logger) {
	t.logger = logger
	t.registry.SetLogger(logger)
}

// SetFetcher replaces the HTTP fetcher
func (t *Transport) SetFetcher(f Fetcher) {
	t.fetcher = f
}

// SetMetrics attaches transport metrics
func (t *Transport) SetMetrics(m *Metrics) {
	t.metrics = m
}

// SetState attaches persistent state. If the state remembers a server from
// this list that worked last time, it becomes the current server.
func (t *Transport) SetState(s StateInterface) {
	t.state = s
	if s == nil {
		return
	}
	last := s.GetCurrentServer()
	for i, server := range t.servers {
		if server == last {
			t.mu.Lock()
			t.current = i
			t.mu.Unlock()
			t.logger.Debug().Str("server", server).Msg("resuming with last working server")
			return
		}
	}
}

// Registry returns the registry correlating request ids
func (t *Transport) Registry() *Registry {
	return t.registry
}

// Servers returns the normalized server list
func (t *Transport) Servers() []string {
	out := make([]string, len(t.servers))
	copy(out, t.servers)
	return out
}

// Current returns the index of the current server
func (t *Transport) Current() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.current
}

// CurrentServer returns the base URL of the current server
func (t *Transport) CurrentServer() string {
	return t.servers[t.Current()]
}

// Request loads path from the current server, failing over to each other
// server in turn. Exactly one of onSuccess or onFailure is eventually called
// from a transport goroutine. The request id is returned immediately.
func (t *Transport) Request(path string, onSuccess SuccessFunc, onFailure FailureFunc) int64 {
	id := t.nextID.Add(1)
	t.registry.Register(id, onSuccess, onFailure)

	t.mu.Lock()
	start := t.current
	t.mu.Unlock()

	candidates := make([]string, len(t.servers))
	for i := range t.servers {
		server := t.servers[(start+i)%len(t.servers)]
		candidates[i] = protocol.AppendQuery(server+path, protocol.Param{Name: "id", Value: strconv.FormatInt(id, 10)})
	}

	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		t.deliver(id, opLabel(path), candidates, start, true)
	}()
	return id
}

// RequestSpecificServer loads a single fixed URL with no failover. The
// current server is left alone.
func (t *Transport) RequestSpecificServer(url string, onSuccess SuccessFunc, onFailure FailureFunc) int64 {
	id := t.nextID.Add(1)
	t.registry.Register(id, onSuccess, onFailure)

	target := protocol.AppendQuery(url, protocol.Param{Name: "id", Value: strconv.FormatInt(id, 10)})

	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		t.deliver(id, string(protocol.OpReAcquire), []string{target}, 0, false)
	}()
	return id
}

// Close abandons in-flight attempts and waits for their deliveries to finish.
// Pending requests fail with ErrTransportExhausted.
func (t *Transport) Close() {
	t.cancel()
	t.wg.Wait()
}

// Wait blocks until every in-flight delivery has finished
func (t *Transport) Wait() {
	t.wg.Wait()
}

func (t *Transport) deliver(id int64, op string, candidates []string, start int, failover bool) {
	for i, url := range candidates {
		err := t.attempt(id, url)
		if err == nil {
			if failover {
				t.recordWorking(start, i)
			}
			if t.metrics != nil {
				t.metrics.RecordRequest(op, "success")
			}
			return
		}

		t.logger.Warn().Err(err).Int64("id", id).Msg("chat server attempt failed")
		if failover && t.state != nil {
			server := t.servers[(start+i)%len(t.servers)]
			if serr := t.state.RecordServerResult(server, false); serr != nil {
				t.logger.Debug().Err(serr).Msg("failed to record server failure")
			}
		}
		if i < len(candidates)-1 && t.metrics != nil {
			t.metrics.RecordFailover()
		}
	}

	if t.metrics != nil {
		t.metrics.RecordRequest(op, "exhausted")
	}
	t.registry.Fail(id, ErrTransportExhausted)
}

// attempt makes one load. A nil return means the reply loaded and ran; the
// request was settled one way or another.
func (t *Transport) attempt(id int64, url string) error {
	ctx, cancel := context.WithTimeout(t.ctx, t.timeout)
	defer cancel()

	started := time.Now()
	body, err := t.fetcher.Fetch(ctx, url)
	if t.metrics != nil {
		t.metrics.RecordAttemptDuration(time.Since(started).Seconds())
	}
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			err = ErrTransportTimeout
		}
		return attemptError(url, err)
	}

	if err := t.evaluator.Evaluate(body, registrySink{registry: t.registry}); err != nil {
		if !t.registry.Pending(id) {
			// the script settled our request before failing
			return nil
		}
		return attemptError(url, err)
	}

	if t.registry.Fail(id, ErrNoCompletion) {
		t.logger.Warn().Int64("id", id).Str("url", url).Msg("reply did not complete request")
	}
	return nil
}

// recordWorking counts a success for the server that answered and, after a
// failover, makes it the current server
func (t *Transport) recordWorking(start, offset int) {
	index := (start + offset) % len(t.servers)
	server := t.servers[index]

	if offset > 0 {
		t.mu.Lock()
		t.current = index
		t.mu.Unlock()
		t.logger.Info().Str("server", server).Msg("switched chat server")
	}
	if t.state == nil {
		return
	}
	if offset > 0 {
		if err := t.state.SetCurrentServer(server); err != nil {
			t.logger.Debug().Err(err).Msg("failed to persist current server")
		}
	}
	if err := t.state.RecordServerResult(server, true); err != nil {
		t.logger.Debug().Err(err).Msg("failed to record server success")
	}
}

// registrySink routes reply script calls into the registry
type registrySink struct {
	registry *Registry
}

func (s registrySink) Complete(op protocol.Op, id int64, args []any) {
	s.registry.Resolve(id, args)
}

func (s registrySink) Fail(op protocol.Op, id int64, message string) {
	s.registry.Fail(id, &ServerError{Op: string(op), Message: message})
}

// opLabel extracts the operation name from a request path for metrics
func opLabel(path string) string {
	op := strings.TrimPrefix(path, "hawthorn/")
	if i := strings.IndexAny(op, "?/"); i >= 0 {
		op = op[:i]
	}
	if op == "" {
		return "other"
	}
	return op
}
