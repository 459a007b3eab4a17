package client

import (
	"context"
	"time"

	"github.com/aeolun/hawthorn/pkg/protocol"
)

// SessionInterface defines the chat operations a UI drives
// This allows for mocking in tests while the real Session implements all these methods
type SessionInterface interface {
	Identity() Identity
	KeyTime() int64

	FetchRecent(ctx context.Context, maxAge time.Duration, maxCount, maxNames int, opts ...RecentOption) (protocol.RecentResult, error)
	Poll(ctx context.Context, lastTime int64) (protocol.PollResult, error)
	Wait(ctx context.Context, lastTime int64) (protocol.WaitResult, error)
	Say(ctx context.Context, text string) error
	Leave(ctx context.Context) error
	Ban(ctx context.Context, target BanTarget, untilMillis int64) error
	ReAcquire(ctx context.Context) (protocol.ReAcquireResult, error)
}

// StateInterface defines the interface for client state persistence
// This allows for mocking in tests while the real State implements all these methods
type StateInterface interface {
	// Configuration
	GetConfig(key string) (string, error)
	SetConfig(key, value string) error

	// Server failover history
	GetCurrentServer() string
	SetCurrentServer(server string) error
	RecordServerResult(server string, ok bool) error
	ServerHistory() ([]ServerRecord, error)

	// State directory
	GetStateDir() string

	// Close the state
	Close() error
}

var (
	_ SessionInterface = (*Session)(nil)
	_ StateInterface   = (*State)(nil)
)
