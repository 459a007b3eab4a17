package protocol

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

type call struct {
	op      Op
	id      int64
	args    []any
	message string
	failed  bool
}

type recordingSink struct {
	mu    sync.Mutex
	calls []call
}

func (s *recordingSink) Complete(op Op, id int64, args []any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, call{op: op, id: id, args: args})
}

func (s *recordingSink) Fail(op Op, id int64, message string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, call{op: op, id: id, message: message, failed: true})
}

func TestEvaluateRecentComplete(t *testing.T) {
	script := `hawthorn.recentComplete(3,[` +
		`{type:'JOIN',time:100,user:'bob',displayName:'Bob',extra:''},` +
		`{type:'SAY',time:101,user:'bob',displayName:'Bob',extra:'',text:'hi \'there\''}` +
		`],[{user:'bob',displayName:'Bob',extra:''}],101);`

	sink := &recordingSink{}
	require.NoError(t, NewEvaluator().Evaluate(script, sink))
	require.Len(t, sink.calls, 1)

	c := sink.calls[0]
	assert.Equal(t, OpRecent, c.op)
	assert.Equal(t, int64(3), c.id)

	var result RecentResult
	require.NoError(t, result.Decode(c.args))
	require.Len(t, result.Messages, 2)
	assert.Equal(t, TypeJoin, result.Messages[0].Type)
	assert.Equal(t, "hi 'there'", result.Messages[1].Text)
	assert.Equal(t, []Name{{User: "bob", DisplayName: "Bob", Extra: ""}}, result.Names)
	assert.Equal(t, int64(101), result.LastTime)
}

func TestEvaluateReAcquireStringArguments(t *testing.T) {
	sink := &recordingSink{}
	require.NoError(t, NewEvaluator().Evaluate(`hawthorn.reAcquireComplete('12','abc123','1700000000000');`, sink))
	require.Len(t, sink.calls, 1)
	assert.Equal(t, int64(12), sink.calls[0].id)

	var result ReAcquireResult
	require.NoError(t, result.Decode(sink.calls[0].args))
	assert.Equal(t, "abc123", result.Key)
	assert.Equal(t, int64(1700000000000), result.KeyTime)
}

func TestEvaluateErrorScript(t *testing.T) {
	sink := &recordingSink{}
	require.NoError(t, NewEvaluator().Evaluate(ErrorScript(OpSay, "9", `You can't say that \o/`), sink))
	require.Len(t, sink.calls, 1)
	assert.True(t, sink.calls[0].failed)
	assert.Equal(t, OpSay, sink.calls[0].op)
	assert.Equal(t, int64(9), sink.calls[0].id)
	assert.Equal(t, `You can't say that \o/`, sink.calls[0].message)
}

func TestEvaluateReAcquireScript(t *testing.T) {
	sink := &recordingSink{}
	require.NoError(t, NewEvaluator().Evaluate(ReAcquireScript("4", "k'ey", 1700000000000), sink))
	require.Len(t, sink.calls, 1)

	var result ReAcquireResult
	require.NoError(t, result.Decode(sink.calls[0].args))
	assert.Equal(t, "k'ey", result.Key)
}

func TestEvaluateRejectsBadScripts(t *testing.T) {
	tests := []struct {
		name   string
		script string
	}{
		{"syntax error", `hawthorn.sayComplete(1`},
		{"unknown entrypoint", `hawthorn.explode(1);`},
		{"missing id", `hawthorn.sayComplete();`},
		{"negative id", `hawthorn.sayComplete(-1);`},
		{"non-numeric id", `hawthorn.sayComplete('abc');`},
		{"host access", `require('fs');`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sink := &recordingSink{}
			err := NewEvaluator().Evaluate(tt.script, sink)
			assert.ErrorIs(t, err, ErrScriptFailed)
			assert.Empty(t, sink.calls)
		})
	}
}

func TestEvaluateTimeout(t *testing.T) {
	e := NewEvaluator()
	e.SetTimeout(50 * time.Millisecond)

	start := time.Now()
	err := e.Evaluate(`for(;;){}`, &recordingSink{})
	assert.ErrorIs(t, err, ErrScriptTimeout)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestEvaluateEmptyScript(t *testing.T) {
	sink := &recordingSink{}
	assert.NoError(t, NewEvaluator().Evaluate("", sink))
	assert.Empty(t, sink.calls)
}

// TestPollScriptRoundTrip checks that rendered poll replies decode to the
// same result after passing through the script engine
func TestPollScriptRoundTrip(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		n := rapid.IntRange(0, 5).Draw(t, "count")
		original := PollResult{
			LastTime: rapid.Int64Range(0, 1<<52).Draw(t, "lastTime"),
			Delay:    rapid.Int64Range(0, 60000).Draw(t, "delay"),
		}
		for i := 0; i < n; i++ {
			original.Messages = append(original.Messages, Message{
				Type:        TypeSay,
				Time:        rapid.Int64Range(0, 1<<52).Draw(t, "time"),
				User:        rapid.StringMatching(`[A-Za-z0-9_]{1,8}`).Draw(t, "user"),
				DisplayName: rapid.String().Draw(t, "displayName"),
				Extra:       rapid.String().Draw(t, "extra"),
				Text:        rapid.String().Draw(t, "text"),
			})
		}

		script, err := CompleteScript(OpPoll, 7, original.Args()...)
		if err != nil {
			t.Fatalf("render failed: %v", err)
		}
		sink := &recordingSink{}
		if err := NewEvaluator().Evaluate(script, sink); err != nil {
			t.Fatalf("evaluate failed: %v\n%s", err, script)
		}
		if len(sink.calls) != 1 {
			t.Fatalf("expected 1 completion, got %d", len(sink.calls))
		}

		var decoded PollResult
		if err := decoded.Decode(sink.calls[0].args); err != nil {
			t.Fatalf("decode failed: %v", err)
		}
		if decoded.LastTime != original.LastTime || decoded.Delay != original.Delay {
			t.Fatalf("cursor mismatch: got %d/%d, want %d/%d", decoded.LastTime, decoded.Delay, original.LastTime, original.Delay)
		}
		if len(decoded.Messages) != len(original.Messages) {
			t.Fatalf("message count mismatch: got %d, want %d", len(decoded.Messages), len(original.Messages))
		}
		for i := range original.Messages {
			if decoded.Messages[i] != original.Messages[i] {
				t.Fatalf("message %d mismatch: got %+v, want %+v", i, decoded.Messages[i], original.Messages[i])
			}
		}
	})
}
