package client

import (
	"context"
	"encoding/binary"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/aeolun/hawthorn/pkg/protocol"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Identity is who a session speaks as
type Identity struct {
	Channel     string
	User        string
	DisplayName string
	Extra       string
	Permissions string
}

// SessionConfig binds a session to one channel and key
type SessionConfig struct {
	Identity
	Key          string
	KeyTime      int64  // key expiry, ms since epoch
	ReAcquireURL string // host endpoint that grants a fresh key
}

// BanTarget identifies the user being banned
type BanTarget struct {
	User        string
	DisplayName string
	Extra       string
}

// RecentOption adjusts a recent request
type RecentOption func(params []protocol.Param) []protocol.Param

// WithFilterSay asks the server to return only SAY messages
func WithFilterSay() RecentOption {
	return func(params []protocol.Param) []protocol.Param {
		return append(params, protocol.P("filter", "say"))
	}
}

// Session performs chat operations on one channel. Every call blocks until
// the reply arrives or ctx is done; a cancelled call leaves the transport
// delivery running and its late completion is dropped.
type Session struct {
	transport *Transport

	mu           sync.RWMutex
	creds        protocol.Credentials
	reacquireURL string

	logger zerolog.Logger
}

// NewSession creates a session on transport
func NewSession(transport *Transport, cfg SessionConfig) *Session {
	return &Session{
		transport: transport,
		creds: protocol.Credentials{
			Channel:     cfg.Channel,
			User:        cfg.User,
			DisplayName: cfg.DisplayName,
			Extra:       cfg.Extra,
			Permissions: cfg.Permissions,
			KeyTime:     cfg.KeyTime,
			Key:         cfg.Key,
		},
		reacquireURL: cfg.ReAcquireURL,
		logger:       zerolog.Nop(),
	}
}

// SetLogger sets the session logger
func (s *Session) SetLogger(logger zerolog.Logger) {
	s.logger = logger
}

// Credentials returns the current credentials
func (s *Session) Credentials() protocol.Credentials {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.creds
}

// Identity returns who the session speaks as
func (s *Session) Identity() Identity {
	c := s.Credentials()
	return Identity{
		Channel:     c.Channel,
		User:        c.User,
		DisplayName: c.DisplayName,
		Extra:       c.Extra,
		Permissions: c.Permissions,
	}
}

// KeyTime returns the expiry of the current key
func (s *Session) KeyTime() int64 {
	return s.Credentials().KeyTime
}

// SetKey replaces the session key
func (s *Session) SetKey(key string, keyTime int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.creds.Key = key
	s.creds.KeyTime = keyTime
}

// FetchRecent returns messages from the last maxAge (at most maxCount of
// them) and up to maxNames present users. A negative maxNames leaves the
// limit to the server.
func (s *Session) FetchRecent(ctx context.Context, maxAge time.Duration, maxCount, maxNames int, opts ...RecentOption) (protocol.RecentResult, error) {
	params := []protocol.Param{
		protocol.Int("maxage", maxAge.Milliseconds()),
		protocol.Int("maxnumber", int64(maxCount)),
	}
	if maxNames >= 0 {
		params = append(params, protocol.Int("maxnames", int64(maxNames)))
	}
	for _, opt := range opts {
		params = opt(params)
	}

	var result protocol.RecentResult
	args, err := s.call(ctx, protocol.OpRecent, params...)
	if err != nil {
		return result, err
	}
	err = result.Decode(args)
	return result, err
}

// Poll returns messages after lastTime and the server's suggested delay
// before the next poll
func (s *Session) Poll(ctx context.Context, lastTime int64) (protocol.PollResult, error) {
	var result protocol.PollResult
	args, err := s.call(ctx, protocol.OpPoll, protocol.Int("lasttime", lastTime))
	if err != nil {
		return result, err
	}
	err = result.Decode(args)
	return result, err
}

// Wait blocks on the server until messages after lastTime arrive or the
// server's wait period ends
func (s *Session) Wait(ctx context.Context, lastTime int64) (protocol.WaitResult, error) {
	var result protocol.WaitResult
	args, err := s.call(ctx, protocol.OpWait, protocol.Int("lasttime", lastTime))
	if err != nil {
		return result, err
	}
	err = result.Decode(args)
	return result, err
}

// Say posts text to the channel. Blank text is rejected without a request.
func (s *Session) Say(ctx context.Context, text string) error {
	if strings.TrimSpace(text) == "" {
		return ErrEmptyMessage
	}
	_, err := s.call(ctx, protocol.OpSay, protocol.P("message", text), protocol.P("unique", uniqueID()))
	return err
}

// Leave tells the server the user has left the channel
func (s *Session) Leave(ctx context.Context) error {
	_, err := s.call(ctx, protocol.OpLeave)
	return err
}

// Ban bans target from the channel until untilMillis
func (s *Session) Ban(ctx context.Context, target BanTarget, untilMillis int64) error {
	_, err := s.call(ctx, protocol.OpBan,
		protocol.P("ban", target.User),
		protocol.P("bandisplayname", target.DisplayName),
		protocol.P("banextra", target.Extra),
		protocol.Int("until", untilMillis),
		protocol.P("unique", uniqueID()),
	)
	return err
}

// Log returns the channel log lines for date (YYYY-MM-DD)
func (s *Session) Log(ctx context.Context, date string) ([]string, error) {
	args, err := s.call(ctx, protocol.OpLog, protocol.P("date", date))
	if err != nil {
		return nil, err
	}
	var result protocol.LogResult
	if err := result.Decode(args); err != nil {
		return nil, err
	}
	return result.Lines, nil
}

// ReAcquire asks the host for a fresh key. On success the session uses the
// new key for every later request.
func (s *Session) ReAcquire(ctx context.Context) (protocol.ReAcquireResult, error) {
	var result protocol.ReAcquireResult

	s.mu.RLock()
	base := s.reacquireURL
	identity := s.creds.IdentityParams()
	s.mu.RUnlock()
	if base == "" {
		return result, ErrNoReAcquire
	}

	url := protocol.AppendQuery(base, identity...)
	args, err := s.await(ctx, func(onSuccess SuccessFunc, onFailure FailureFunc) {
		s.transport.RequestSpecificServer(url, onSuccess, onFailure)
	})
	if err != nil {
		return result, err
	}
	if err := result.Decode(args); err != nil {
		return result, err
	}

	s.SetKey(result.Key, result.KeyTime)
	s.logger.Info().Int64("keyTime", result.KeyTime).Msg("re-acquired key")
	return result, nil
}

func (s *Session) call(ctx context.Context, op protocol.Op, params ...protocol.Param) ([]any, error) {
	path := protocol.BuildPath(op, s.Credentials(), params...)
	return s.await(ctx, func(onSuccess SuccessFunc, onFailure FailureFunc) {
		s.transport.Request(path, onSuccess, onFailure)
	})
}

// uniqueID returns a random decimal id of at most 18 digits, the form the
// server accepts for unique=
func uniqueID() string {
	u := uuid.New()
	return strconv.FormatUint(binary.BigEndian.Uint64(u[8:])%1_000_000_000_000_000_000, 10)
}

type outcome struct {
	args []any
	err  error
}

// await issues a request and blocks for its outcome
func (s *Session) await(ctx context.Context, issue func(SuccessFunc, FailureFunc)) ([]any, error) {
	done := make(chan outcome, 1)
	issue(
		func(args []any) { done <- outcome{args: args} },
		func(err error) { done <- outcome{err: err} },
	)

	select {
	case o := <-done:
		return o.args, o.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
