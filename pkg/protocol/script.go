package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/aeolun/hawthorn/pkg/auth"
	"github.com/dop251/goja"
)

// DefaultScriptTimeout bounds how long a single reply script may run
const DefaultScriptTimeout = 2 * time.Second

var (
	ErrScriptFailed  = errors.New("reply script failed")
	ErrScriptTimeout = errors.New("reply script timed out")
	ErrInvalidID     = errors.New("invalid request id")
)

// Sink receives the completion calls made by a reply script
type Sink interface {
	Complete(op Op, id int64, args []any)
	Fail(op Op, id int64, message string)
}

// Evaluator runs reply scripts against a sandboxed hawthorn object. The
// runtime has no access to the host beyond the completion entrypoints.
type Evaluator struct {
	timeout time.Duration
}

// NewEvaluator creates an evaluator with the default script timeout
func NewEvaluator() *Evaluator {
	return &Evaluator{timeout: DefaultScriptTimeout}
}

// SetTimeout changes the per-script time limit
func (e *Evaluator) SetTimeout(d time.Duration) {
	e.timeout = d
}

// Evaluate runs script, routing every hawthorn.<op>Complete and
// hawthorn.<op>Error call to sink. Calls with an unparseable id raise a
// script error and reach the sink no further.
func (e *Evaluator) Evaluate(script string, sink Sink) error {
	vm := goja.New()
	entry := vm.NewObject()

	for _, op := range Ops {
		op := op
		if err := entry.Set(op.CompleteFunc(), func(call goja.FunctionCall) goja.Value {
			id, args := e.splitCall(vm, call)
			sink.Complete(op, id, args)
			return goja.Undefined()
		}); err != nil {
			return err
		}
		if err := entry.Set(op.ErrorFunc(), func(call goja.FunctionCall) goja.Value {
			id, args := e.splitCall(vm, call)
			var msg string
			if len(args) > 0 {
				msg, _ = ToString(args[0])
			}
			sink.Fail(op, id, msg)
			return goja.Undefined()
		}); err != nil {
			return err
		}
	}
	if err := vm.Set("hawthorn", entry); err != nil {
		return err
	}

	if e.timeout > 0 {
		timer := time.AfterFunc(e.timeout, func() {
			vm.Interrupt(ErrScriptTimeout)
		})
		defer timer.Stop()
	}

	if _, err := vm.RunString(script); err != nil {
		var interrupted *goja.InterruptedError
		if errors.As(err, &interrupted) {
			return ErrScriptTimeout
		}
		return fmt.Errorf("%w: %v", ErrScriptFailed, err)
	}
	return nil
}

// splitCall separates the request id from the remaining arguments
func (e *Evaluator) splitCall(vm *goja.Runtime, call goja.FunctionCall) (int64, []any) {
	if len(call.Arguments) == 0 {
		panic(vm.NewTypeError(ErrInvalidID.Error()))
	}
	id, err := ParseID(call.Arguments[0].Export())
	if err != nil {
		panic(vm.NewTypeError(err.Error()))
	}
	args := make([]any, 0, len(call.Arguments)-1)
	for _, a := range call.Arguments[1:] {
		args = append(args, a.Export())
	}
	return id, args
}

// ParseID reads a request id, which servers send as a number or as a quoted
// string of digits
func ParseID(v any) (int64, error) {
	id, err := ToInt64(v)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("%w: %v", ErrInvalidID, v)
	}
	return id, nil
}

// CompleteScript renders a success reply for op. Arguments are written as
// JSON literals.
func CompleteScript(op Op, id int64, args ...any) (string, error) {
	var b strings.Builder
	b.WriteString("hawthorn.")
	b.WriteString(op.CompleteFunc())
	b.WriteByte('(')
	b.WriteString(strconv.FormatInt(id, 10))
	for _, a := range args {
		data, err := json.Marshal(a)
		if err != nil {
			return "", fmt.Errorf("failed to encode %s argument: %w", op, err)
		}
		b.WriteByte(',')
		b.Write(data)
	}
	b.WriteString(");")
	return b.String(), nil
}

// ErrorScript renders a failure reply for op. The id is written as given so
// that hosts can echo back whatever the client sent.
func ErrorScript(op Op, id, message string) string {
	return fmt.Sprintf("hawthorn.%s(%s,'%s');", op.ErrorFunc(), quoteID(id), auth.EscapeScriptLiteral(message))
}

// ReAcquireScript renders a successful re-acquire reply
func ReAcquireScript(id, key string, keyTime int64) string {
	return fmt.Sprintf("hawthorn.%s(%s,'%s',%d);", OpReAcquire.CompleteFunc(), quoteID(id), auth.EscapeScriptLiteral(key), keyTime)
}

func quoteID(id string) string {
	if _, err := strconv.ParseInt(id, 10, 64); err == nil {
		return id
	}
	return "'" + auth.EscapeScriptLiteral(id) + "'"
}
