package client

import (
	"fmt"
	"sync"

	"github.com/rs/zerolog"
)

// SuccessFunc receives the arguments a reply script passed after the id
type SuccessFunc func(args []any)

// FailureFunc receives the reason a request failed
type FailureFunc func(err error)

type pendingRequest struct {
	onSuccess SuccessFunc
	onFailure FailureFunc
}

// Registry correlates request ids with their callbacks. Each registered
// request is resolved or failed at most once; later calls for the same id are
// ignored.
type Registry struct {
	mu      sync.Mutex
	pending map[int64]pendingRequest
	logger  zerolog.Logger
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{
		pending: make(map[int64]pendingRequest),
		logger:  zerolog.Nop(),
	}
}

// SetLogger sets the logger used for ignored completions
func (r *Registry) SetLogger(logger zerolog.Logger) {
	r.logger = logger
}

// Register records callbacks for id. Registering an id twice is a
// programming error.
func (r *Registry) Register(id int64, onSuccess SuccessFunc, onFailure FailureFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.pending[id]; exists {
		panic(fmt.Sprintf("request id %d registered twice", id))
	}
	r.pending[id] = pendingRequest{onSuccess: onSuccess, onFailure: onFailure}
}

// Resolve removes id and invokes its success callback. It returns false when
// id is not pending.
func (r *Registry) Resolve(id int64, args []any) bool {
	req, ok := r.take(id)
	if !ok {
		r.logger.Debug().Int64("id", id).Msg("ignoring completion for unknown request")
		return false
	}
	if req.onSuccess != nil {
		req.onSuccess(args)
	}
	return true
}

// Fail removes id and invokes its failure callback. It returns false when id
// is not pending.
func (r *Registry) Fail(id int64, err error) bool {
	req, ok := r.take(id)
	if !ok {
		r.logger.Debug().Int64("id", id).Err(err).Msg("ignoring failure for unknown request")
		return false
	}
	if req.onFailure != nil {
		req.onFailure(err)
	}
	return true
}

// Pending reports whether id is still awaiting completion
func (r *Registry) Pending(id int64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.pending[id]
	return ok
}

// Len returns the number of pending requests
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pending)
}

func (r *Registry) take(id int64) (pendingRequest, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	req, ok := r.pending[id]
	if ok {
		delete(r.pending, id)
	}
	return req, ok
}
