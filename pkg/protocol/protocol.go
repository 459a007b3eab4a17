// Package protocol defines the Hawthorn wire protocol: operation names, the
// canonical query schema, chat message types, and evaluation of the script
// bodies that chat servers answer with.
package protocol

import (
	"net/url"
	"strconv"
	"strings"
)

// Op names a chat server operation. The server's reply script calls
// hawthorn.<op>Complete or hawthorn.<op>Error.
type Op string

const (
	OpRecent    Op = "recent"
	OpPoll      Op = "poll"
	OpWait      Op = "wait"
	OpSay       Op = "say"
	OpLeave     Op = "leave"
	OpBan       Op = "ban"
	OpLog       Op = "log"
	OpReAcquire Op = "reAcquire" // answered by the host, not the chat server
)

// Ops lists every operation a reply script may complete
var Ops = []Op{OpRecent, OpPoll, OpWait, OpSay, OpLeave, OpBan, OpLog, OpReAcquire}

// StatisticsPath is the server page showing usage statistics
const StatisticsPath = "hawthorn/html/statistics"

// CompleteFunc returns the name of the success entrypoint for the operation
func (o Op) CompleteFunc() string {
	return string(o) + "Complete"
}

// ErrorFunc returns the name of the failure entrypoint for the operation
func (o Op) ErrorFunc() string {
	return string(o) + "Error"
}

// Path returns the server-relative path for the operation
func (o Op) Path() string {
	return "hawthorn/" + string(o)
}

// Param is a single query parameter. Order matters: parameters are always
// written in the order they are given.
type Param struct {
	Name  string
	Value string
}

// P is shorthand for constructing a Param
func P(name, value string) Param {
	return Param{Name: name, Value: value}
}

// Int is shorthand for an integer-valued Param
func Int(name string, value int64) Param {
	return Param{Name: name, Value: strconv.FormatInt(value, 10)}
}

// Credentials identify the caller to the chat server
type Credentials struct {
	Channel     string
	User        string
	DisplayName string
	Extra       string
	Permissions string
	KeyTime     int64
	Key         string
}

// IdentityParams returns the identity part of the query, without the key
func (c Credentials) IdentityParams() []Param {
	return []Param{
		P("channel", c.Channel),
		P("user", c.User),
		P("displayname", c.DisplayName),
		P("extra", c.Extra),
		P("permissions", c.Permissions),
	}
}

// Params returns the full credential prefix every request starts with
func (c Credentials) Params() []Param {
	return append(c.IdentityParams(), Int("keytime", c.KeyTime), P("key", c.Key))
}

// EncodeValue percent-encodes a single query value. Spaces become %20.
func EncodeValue(v string) string {
	return strings.ReplaceAll(url.QueryEscape(v), "+", "%20")
}

// EncodeQuery joins params into a query string, preserving order
func EncodeQuery(params []Param) string {
	var b strings.Builder
	for i, p := range params {
		if i > 0 {
			b.WriteByte('&')
		}
		b.WriteString(p.Name)
		b.WriteByte('=')
		b.WriteString(EncodeValue(p.Value))
	}
	return b.String()
}

// BuildPath returns the server-relative request path for op: the credential
// prefix followed by the operation's own parameters. The transport appends
// the request id.
func BuildPath(op Op, c Credentials, params ...Param) string {
	return op.Path() + "?" + EncodeQuery(append(c.Params(), params...))
}

// AppendQuery adds params to a URL that may already carry a query string
func AppendQuery(base string, params ...Param) string {
	sep := "?"
	if strings.Contains(base, "?") {
		sep = "&"
	}
	return base + sep + EncodeQuery(params)
}
