package popup

import (
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/aeolun/hawthorn/pkg/client"
	"github.com/aeolun/hawthorn/pkg/protocol"
)

var (
	ErrMissingParam      = errors.New("popup requires parameter")
	ErrRelativeReAcquire = errors.New("relative reacquire URL needs an absolute popup URL")
)

// Params are the values a host passes to the popup in its URL
type Params struct {
	ReAcquireURL string
	Channel      string
	User         string
	DisplayName  string
	Extra        string
	Permissions  string
	KeyTime      int64
	Key          string
	Title        string
	Servers      []string
}

// ParseParams reads popup parameters from a full URL or a bare query string.
// Every parameter must be present; extra may be empty. A relative reacquire
// URL is resolved against the popup URL the way a browser would.
func ParseParams(raw string) (Params, error) {
	base, query := "", raw
	if i := strings.IndexByte(raw, '?'); i >= 0 {
		base, query = raw[:i], raw[i+1:]
	}
	if i := strings.IndexByte(query, '#'); i >= 0 {
		query = query[:i]
	}
	values, err := url.ParseQuery(query)
	if err != nil {
		return Params{}, fmt.Errorf("invalid popup query: %w", err)
	}

	get := func(name string, allowEmpty bool) (string, error) {
		v, ok := values[name]
		if !ok || (!allowEmpty && v[0] == "") {
			return "", fmt.Errorf("%w '%s'", ErrMissingParam, name)
		}
		return v[0], nil
	}

	var p Params
	fields := []struct {
		name       string
		dst        *string
		allowEmpty bool
	}{
		{"reacquire", &p.ReAcquireURL, false},
		{"channel", &p.Channel, false},
		{"user", &p.User, false},
		{"displayname", &p.DisplayName, false},
		{"extra", &p.Extra, true},
		{"permissions", &p.Permissions, true},
		{"key", &p.Key, false},
		{"title", &p.Title, true},
	}
	for _, f := range fields {
		if *f.dst, err = get(f.name, f.allowEmpty); err != nil {
			return Params{}, err
		}
	}

	keyTime, err := get("keyTime", false)
	if err != nil {
		return Params{}, err
	}
	if p.KeyTime, err = strconv.ParseInt(keyTime, 10, 64); err != nil {
		return Params{}, fmt.Errorf("invalid keyTime %q: %w", keyTime, err)
	}

	servers, err := get("servers", false)
	if err != nil {
		return Params{}, err
	}
	for _, s := range strings.Split(servers, ",") {
		if s = strings.TrimSpace(s); s != "" {
			p.Servers = append(p.Servers, s)
		}
	}
	if len(p.Servers) == 0 {
		return Params{}, fmt.Errorf("%w 'servers'", ErrMissingParam)
	}

	if p.ReAcquireURL, err = resolveReAcquire(base, p.ReAcquireURL); err != nil {
		return Params{}, err
	}
	return p, nil
}

func resolveReAcquire(base, ref string) (string, error) {
	refURL, err := url.Parse(ref)
	if err != nil {
		return "", fmt.Errorf("invalid reacquire URL %q: %w", ref, err)
	}
	if refURL.IsAbs() {
		return ref, nil
	}
	baseURL, err := url.Parse(base)
	if err != nil || !baseURL.IsAbs() {
		return "", fmt.Errorf("%w: %q", ErrRelativeReAcquire, ref)
	}
	return baseURL.ResolveReference(refURL).String(), nil
}

// Encode renders the parameters as a query string in canonical order
func (p Params) Encode() string {
	return protocol.EncodeQuery([]protocol.Param{
		protocol.P("reacquire", p.ReAcquireURL),
		protocol.P("channel", p.Channel),
		protocol.P("user", p.User),
		protocol.P("displayname", p.DisplayName),
		protocol.P("extra", p.Extra),
		protocol.P("permissions", p.Permissions),
		protocol.Int("keyTime", p.KeyTime),
		protocol.P("key", p.Key),
		protocol.P("title", p.Title),
		protocol.P("servers", strings.Join(p.Servers, ",")),
	})
}

// SessionConfig returns the session settings these parameters describe
func (p Params) SessionConfig() client.SessionConfig {
	return client.SessionConfig{
		Identity: client.Identity{
			Channel:     p.Channel,
			User:        p.User,
			DisplayName: p.DisplayName,
			Extra:       p.Extra,
			Permissions: p.Permissions,
		},
		Key:          p.Key,
		KeyTime:      p.KeyTime,
		ReAcquireURL: p.ReAcquireURL,
	}
}
