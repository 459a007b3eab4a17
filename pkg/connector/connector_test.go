package connector

import (
	"errors"
	"net/url"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/aeolun/hawthorn/pkg/auth"
	"github.com/aeolun/hawthorn/pkg/popup"
	"github.com/aeolun/hawthorn/pkg/protocol"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMain(m *testing.M) {
	zerolog.SetGlobalLevel(zerolog.Disabled)
	os.Exit(m.Run())
}

var testNow = time.UnixMilli(1_700_000_000_000)

const testMagic = "23d70acbe28943b3548e500e297afb16"

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.MagicNumber = testMagic
	cfg.Servers = []string{"https://a.example", "https://b.example/"}
	cfg.PopupURL = "https://host.example/popup"
	cfg.ReAcquireURL = "https://host.example/reacquire"
	cfg.ScriptURL = "https://host.example/hawthorn.js"
	return cfg
}

func newTestConnector(t *testing.T, identity Identity) *Connector {
	t.Helper()
	c, err := New(testConfig(), identity)
	require.NoError(t, err)
	c.now = func() time.Time { return testNow }
	return c
}

var alice = Identity{User: "alice", DisplayName: "Alice O'Brien", Extra: "", Permissions: "rw"}

type call struct {
	op      protocol.Op
	id      int64
	args    []any
	message string
	failed  bool
}

type recordingSink struct {
	calls []call
}

func (s *recordingSink) Complete(op protocol.Op, id int64, args []any) {
	s.calls = append(s.calls, call{op: op, id: id, args: args})
}

func (s *recordingSink) Fail(op protocol.Op, id int64, message string) {
	s.calls = append(s.calls, call{op: op, id: id, message: message, failed: true})
}

func evaluate(t *testing.T, script string) call {
	t.Helper()
	sink := &recordingSink{}
	require.NoError(t, protocol.NewEvaluator().Evaluate(script, sink))
	require.Len(t, sink.calls, 1)
	return sink.calls[0]
}

func TestNewValidates(t *testing.T) {
	tests := []struct {
		name     string
		cfg      func(*Config)
		identity Identity
		want     error
	}{
		{"bad user", nil, Identity{User: "al ice", DisplayName: "A"}, auth.ErrInvalidUser},
		{"bad permissions", nil, Identity{User: "alice", DisplayName: "A", Permissions: "rx"}, auth.ErrInvalidPermissions},
		{"no magic", func(c *Config) { c.MagicNumber = "" }, alice, ErrNoMagicNumber},
		{"no servers", func(c *Config) { c.Servers = nil }, alice, ErrNoServers},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig()
			if tt.cfg != nil {
				tt.cfg(&cfg)
			}
			_, err := New(cfg, tt.identity)
			assert.True(t, errors.Is(err, tt.want), "got %v", err)
		})
	}
}

func TestAuthKey(t *testing.T) {
	c := newTestConnector(t, alice)

	key, err := c.AuthKey("c101")
	require.NoError(t, err)
	assert.Equal(t, testNow.Add(time.Hour).UnixMilli(), key.KeyTime)
	assert.NoError(t, auth.ValidateKey(key, testMagic, testNow))

	_, err = c.AuthKey("bad channel")
	assert.True(t, errors.Is(err, auth.ErrInvalidChannel))

	_, err = c.AuthKey(auth.SystemChannel)
	assert.True(t, errors.Is(err, auth.ErrInvalidChannel))
}

func TestAuthKeyCappedBySession(t *testing.T) {
	cfg := testConfig()
	cfg.SessionTimeout = 20 * time.Minute
	c, err := New(cfg, alice)
	require.NoError(t, err)
	c.now = func() time.Time { return testNow }

	key, err := c.AuthKey("c101")
	require.NoError(t, err)
	assert.Equal(t, testNow.Add(20*time.Minute).UnixMilli(), key.KeyTime)

	c.cfg.SessionTimeout = time.Minute
	_, err = c.AuthKey("c101")
	assert.True(t, errors.Is(err, auth.ErrSessionTooShort))
}

func TestPopupURL(t *testing.T) {
	c := newTestConnector(t, alice)

	u, err := c.PopupURL("c101", "Course chat")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(u, "https://host.example/popup?reacquire="))

	params, err := popup.ParseParams(u)
	require.NoError(t, err)
	assert.Equal(t, "c101", params.Channel)
	assert.Equal(t, "Alice O'Brien", params.DisplayName)
	assert.Equal(t, "Course chat", params.Title)
	assert.Equal(t, []string{"https://a.example/", "https://b.example/"}, params.Servers)

	assert.Equal(t, "https://host.example/reacquire", params.ReAcquireURL)

	key, err := c.AuthKey("c101")
	require.NoError(t, err)
	assert.Equal(t, key.Digest, params.Key)
	assert.Equal(t, key.KeyTime, params.KeyTime)
}

func TestPopupURLForKeyCarriesThatKey(t *testing.T) {
	c := newTestConnector(t, alice)
	key, err := c.AuthKey("c101")
	require.NoError(t, err)

	// a later boundary must not change the key written into the URL
	c.now = func() time.Time { return testNow.Add(3 * time.Hour) }
	params, err := popup.ParseParams(c.PopupURLForKey(key, "Course chat"))
	require.NoError(t, err)
	assert.Equal(t, key.Digest, params.Key)
	assert.Equal(t, key.KeyTime, params.KeyTime)
	assert.NoError(t, auth.ValidateKey(auth.AuthKey{
		Channel:     params.Channel,
		User:        params.User,
		DisplayName: params.DisplayName,
		Extra:       params.Extra,
		Permissions: auth.Permissions(params.Permissions),
		KeyTime:     params.KeyTime,
		Digest:      params.Key,
	}, testMagic, testNow))
}

func TestPopupURLResolvesDefaultReAcquire(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MagicNumber = testMagic
	cfg.Servers = []string{"https://a.example/"}
	cfg.PopupURL = "https://host.example/chat/popup.html"
	c, err := New(cfg, alice)
	require.NoError(t, err)

	u, err := c.PopupURL("c101", "")
	require.NoError(t, err)
	params, err := popup.ParseParams(u)
	require.NoError(t, err)
	assert.Equal(t, "https://host.example/chat/reacquire", params.ReAcquireURL)
}

func TestStatisticsURLs(t *testing.T) {
	_, err := newTestConnector(t, alice).StatisticsURLs()
	assert.ErrorIs(t, err, ErrNotAdmin)
	_, err = newTestConnector(t, alice).StatisticsLinks()
	assert.ErrorIs(t, err, ErrNotAdmin)

	admin := newTestConnector(t, Identity{User: "root", DisplayName: "Root", Permissions: "rwma"})
	urls, err := admin.StatisticsURLs()
	require.NoError(t, err)
	require.Len(t, urls, 2)
	assert.True(t, strings.HasPrefix(urls[1], "https://b.example/hawthorn/html/statistics?channel=%21system&user=_admin&displayname=_&"))

	parsed, err := url.Parse(urls[0])
	require.NoError(t, err)
	q := parsed.Query()
	keyTime, err := protocol.ToInt64(q.Get("keytime"))
	require.NoError(t, err)
	assert.NoError(t, auth.ValidateKey(auth.AuthKey{
		Channel:     q.Get("channel"),
		User:        q.Get("user"),
		DisplayName: q.Get("displayname"),
		Extra:       q.Get("extra"),
		Permissions: auth.Permissions(q.Get("permissions")),
		KeyTime:     keyTime,
		Digest:      q.Get("key"),
	}, testMagic, testNow))

	links, err := admin.StatisticsLinks()
	require.NoError(t, err)
	assert.Contains(t, links.HTML, "<ul class='hawthorn_statslinks'>")
	assert.Contains(t, links.HTML, "&amp;user=_admin")
	assert.Empty(t, links.Script)
}

func TestReAcquireScripts(t *testing.T) {
	c := newTestConnector(t, alice)

	script, err := c.ReAcquireAllow("17", "c101")
	require.NoError(t, err)
	got := evaluate(t, script)
	assert.Equal(t, protocol.OpReAcquire, got.op)
	assert.Equal(t, int64(17), got.id)

	var result protocol.ReAcquireResult
	require.NoError(t, result.Decode(got.args))
	key, err := c.AuthKey("c101")
	require.NoError(t, err)
	assert.Equal(t, key.Digest, result.Key)
	assert.Equal(t, key.KeyTime, result.KeyTime)

	denied := evaluate(t, ReAcquireDeny("17", "You're not enrolled"))
	assert.True(t, denied.failed)
	assert.Equal(t, "You're not enrolled", denied.message)
}

func TestRecentBundle(t *testing.T) {
	c := newTestConnector(t, alice)

	first, err := c.Recent("c101", DefaultRecentOptions())
	require.NoError(t, err)
	second, err := c.Recent("c102", RecentOptions{MaxMessages: 1, LoadingText: "<wait>"})
	require.NoError(t, err)

	assert.Contains(t, first.HTML, "id='hawthorn_recent0'")
	assert.Contains(t, first.HTML, defaultLoadingText)
	assert.Contains(t, first.Script, "displayName:'Alice O\\'Brien'")
	assert.Contains(t, first.Script, "maxAge:900000")
	assert.Contains(t, first.Script, "id:'hawthorn_recent0'")

	assert.Contains(t, second.HTML, "id='hawthorn_recent1'")
	assert.Contains(t, second.HTML, "&lt;wait&gt;")
	assert.Contains(t, second.Script, "channel:'c102'")
}

func TestLinkToChatSanitizes(t *testing.T) {
	c := newTestConnector(t, alice)

	b, err := c.LinkToChat("c101", "Chat", `<b>Chat</b><script>alert(1)</script>`, "icon.png", "")
	require.NoError(t, err)

	assert.Contains(t, b.HTML, "<b>Chat</b>")
	assert.NotContains(t, b.HTML, "<script>")
	assert.Contains(t, b.HTML, "alt='Opens in new window'")
	assert.Contains(t, b.HTML, "hawthorn.openPopup(&#39;https://host.example/popup&#39;")
	assert.Contains(t, b.Script, "hawthorn_linktochat0")
}

func TestPageRendersIncludeOnce(t *testing.T) {
	c := newTestConnector(t, alice)
	page := c.NewPage()

	recent, err := c.Recent("c101", DefaultRecentOptions())
	require.NoError(t, err)
	link, err := c.LinkToChat("c101", "Chat", "Chat", "", "")
	require.NoError(t, err)
	page.Add(recent)
	page.Add(link)
	assert.Equal(t, 2, page.Len())

	out := page.Render()
	assert.Equal(t, 1, strings.Count(out, "src='https://host.example/hawthorn.js'"))
	assert.Contains(t, out, "hawthorn.init(['https://a.example/','https://b.example/']);")
	assert.Less(t, strings.Index(out, "hawthorn_linktochat0'>"), strings.Index(out, "hawthorn.init"))
	assert.Less(t, strings.Index(out, "hawthorn.init"), strings.Index(out, "hawthorn.handleRecent"))

	empty := c.NewPage()
	empty.Add(Bundle{HTML: "<p>x</p>"})
	assert.Equal(t, "<p>x</p>", empty.Render())
}
