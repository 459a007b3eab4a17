package protocol

import (
	"fmt"
)

// RecentResult is the reply to a recent request
type RecentResult struct {
	Messages []Message
	Names    []Name
	LastTime int64
}

// Decode reads (messages, names, lastTime)
func (r *RecentResult) Decode(args []any) error {
	if err := wantArgs(OpRecent, args, 3); err != nil {
		return err
	}
	var err error
	if r.Messages, err = DecodeMessages(args[0]); err != nil {
		return err
	}
	if r.Names, err = DecodeNames(args[1]); err != nil {
		return err
	}
	r.LastTime, err = ToInt64(args[2])
	return err
}

// Args returns the completion arguments in wire order
func (r *RecentResult) Args() []any {
	return []any{nonNilMessages(r.Messages), nonNilNames(r.Names), r.LastTime}
}

// PollResult is the reply to a poll request. Delay is the server's suggested
// wait in milliseconds before the next poll.
type PollResult struct {
	Messages []Message
	LastTime int64
	Delay    int64
}

// Decode reads (messages, lastTime, delay)
func (r *PollResult) Decode(args []any) error {
	if err := wantArgs(OpPoll, args, 3); err != nil {
		return err
	}
	var err error
	if r.Messages, err = DecodeMessages(args[0]); err != nil {
		return err
	}
	if r.LastTime, err = ToInt64(args[1]); err != nil {
		return err
	}
	r.Delay, err = ToInt64(args[2])
	return err
}

// Args returns the completion arguments in wire order
func (r *PollResult) Args() []any {
	return []any{nonNilMessages(r.Messages), r.LastTime, r.Delay}
}

// WaitResult is the reply to a long-wait request. Names are only sent by
// servers that report presence on wait.
type WaitResult struct {
	LastTime int64
	Messages []Message
	Names    []Name
}

// Decode reads (lastTime, messages[, names])
func (r *WaitResult) Decode(args []any) error {
	if err := wantArgs(OpWait, args, 2); err != nil {
		return err
	}
	var err error
	if r.LastTime, err = ToInt64(args[0]); err != nil {
		return err
	}
	if r.Messages, err = DecodeMessages(args[1]); err != nil {
		return err
	}
	if len(args) > 2 {
		r.Names, err = DecodeNames(args[2])
	}
	return err
}

// Args returns the completion arguments in wire order
func (r *WaitResult) Args() []any {
	args := []any{r.LastTime, nonNilMessages(r.Messages)}
	if r.Names != nil {
		args = append(args, r.Names)
	}
	return args
}

// ReAcquireResult is a freshly granted key
type ReAcquireResult struct {
	Key     string
	KeyTime int64
}

// Decode reads (key, keyTime). Both may arrive as strings.
func (r *ReAcquireResult) Decode(args []any) error {
	if err := wantArgs(OpReAcquire, args, 2); err != nil {
		return err
	}
	var err error
	if r.Key, err = ToString(args[0]); err != nil {
		return err
	}
	if r.Key == "" {
		return fmt.Errorf("%w: empty key", ErrMalformedResponse)
	}
	r.KeyTime, err = ToInt64(args[1])
	return err
}

// LogResult holds the lines of a channel log
type LogResult struct {
	Lines []string
}

// Decode reads (lines)
func (r *LogResult) Decode(args []any) error {
	if err := wantArgs(OpLog, args, 1); err != nil {
		return err
	}
	switch v := args[0].(type) {
	case nil:
		r.Lines = nil
	case string:
		r.Lines = []string{v}
	case []any:
		r.Lines = make([]string, 0, len(v))
		for _, item := range v {
			line, err := ToString(item)
			if err != nil {
				return err
			}
			r.Lines = append(r.Lines, line)
		}
	default:
		return fmt.Errorf("%w: log lines is %T", ErrMalformedResponse, v)
	}
	return nil
}

func wantArgs(op Op, args []any, n int) error {
	if len(args) < n {
		return fmt.Errorf("%w: %s expects %d arguments, got %d", ErrMalformedResponse, op.CompleteFunc(), n, len(args))
	}
	return nil
}

func nonNilMessages(m []Message) []Message {
	if m == nil {
		return []Message{}
	}
	return m
}

func nonNilNames(n []Name) []Name {
	if n == nil {
		return []Name{}
	}
	return n
}
