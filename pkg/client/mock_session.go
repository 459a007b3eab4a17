package client

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/aeolun/hawthorn/pkg/protocol"
)

// ErrMockExhausted is returned when a MockSession has no scripted reply left
var ErrMockExhausted = errors.New("mock session: no reply queued")

// MockCall records one operation made on a MockSession
type MockCall struct {
	Op       protocol.Op
	LastTime int64
	Text     string
	Target   BanTarget
	Until    int64
}

type mockReply[T any] struct {
	result T
	err    error
}

// MockSession is a test implementation of SessionInterface with scripted
// replies
type MockSession struct {
	mu sync.Mutex

	identity Identity
	key      string
	keyTime  int64

	recent    []mockReply[protocol.RecentResult]
	polls     []mockReply[protocol.PollResult]
	waits     []mockReply[protocol.WaitResult]
	reacquire []mockReply[protocol.ReAcquireResult]

	sayErr   error
	leaveErr error
	banErr   error

	calls []MockCall
}

// NewMockSession creates a mock session for identity with a key expiring at
// keyTime
func NewMockSession(identity Identity, keyTime int64) *MockSession {
	return &MockSession{identity: identity, keyTime: keyTime}
}

// Identity returns the configured identity
func (m *MockSession) Identity() Identity {
	return m.identity
}

// KeyTime returns the current key expiry
func (m *MockSession) KeyTime() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.keyTime
}

// Key returns the current key
func (m *MockSession) Key() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.key
}

// FetchRecent returns the next queued recent reply
func (m *MockSession) FetchRecent(ctx context.Context, maxAge time.Duration, maxCount, maxNames int, opts ...RecentOption) (protocol.RecentResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, MockCall{Op: protocol.OpRecent})
	return next(&m.recent)
}

// Poll returns the next queued poll reply
func (m *MockSession) Poll(ctx context.Context, lastTime int64) (protocol.PollResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, MockCall{Op: protocol.OpPoll, LastTime: lastTime})
	return next(&m.polls)
}

// Wait returns the next queued wait reply
func (m *MockSession) Wait(ctx context.Context, lastTime int64) (protocol.WaitResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, MockCall{Op: protocol.OpWait, LastTime: lastTime})
	return next(&m.waits)
}

// Say records text
func (m *MockSession) Say(ctx context.Context, text string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, MockCall{Op: protocol.OpSay, Text: text})
	return m.sayErr
}

// Leave records the leave
func (m *MockSession) Leave(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, MockCall{Op: protocol.OpLeave})
	return m.leaveErr
}

// Ban records the ban
func (m *MockSession) Ban(ctx context.Context, target BanTarget, untilMillis int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, MockCall{Op: protocol.OpBan, Target: target, Until: untilMillis})
	return m.banErr
}

// ReAcquire returns the next queued key and, on success, adopts it
func (m *MockSession) ReAcquire(ctx context.Context) (protocol.ReAcquireResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, MockCall{Op: protocol.OpReAcquire})
	result, err := next(&m.reacquire)
	if err == nil {
		m.key = result.Key
		m.keyTime = result.KeyTime
	}
	return result, err
}

// Test helpers

// QueueRecent scripts the next FetchRecent reply
func (m *MockSession) QueueRecent(result protocol.RecentResult, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.recent = append(m.recent, mockReply[protocol.RecentResult]{result, err})
}

// QueuePoll scripts the next Poll reply
func (m *MockSession) QueuePoll(result protocol.PollResult, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.polls = append(m.polls, mockReply[protocol.PollResult]{result, err})
}

// QueueWait scripts the next Wait reply
func (m *MockSession) QueueWait(result protocol.WaitResult, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.waits = append(m.waits, mockReply[protocol.WaitResult]{result, err})
}

// QueueReAcquire scripts the next ReAcquire reply
func (m *MockSession) QueueReAcquire(result protocol.ReAcquireResult, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reacquire = append(m.reacquire, mockReply[protocol.ReAcquireResult]{result, err})
}

// SetSayError sets an error to return from Say()
func (m *MockSession) SetSayError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sayErr = err
}

// SetLeaveError sets an error to return from Leave()
func (m *MockSession) SetLeaveError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.leaveErr = err
}

// SetBanError sets an error to return from Ban()
func (m *MockSession) SetBanError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.banErr = err
}

// Calls returns every recorded call in order
func (m *MockSession) Calls() []MockCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]MockCall, len(m.calls))
	copy(out, m.calls)
	return out
}

// CallsFor returns the recorded calls for one operation
func (m *MockSession) CallsFor(op protocol.Op) []MockCall {
	var out []MockCall
	for _, c := range m.Calls() {
		if c.Op == op {
			out = append(out, c)
		}
	}
	return out
}

func next[T any](queue *[]mockReply[T]) (T, error) {
	if len(*queue) == 0 {
		var zero T
		return zero, ErrMockExhausted
	}
	r := (*queue)[0]
	*queue = (*queue)[1:]
	return r.result, r.err
}

// Verify that MockSession implements SessionInterface
var _ SessionInterface = (*MockSession)(nil)
