package protocol

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func testCredentials() Credentials {
	return Credentials{
		Channel:     "c101",
		User:        "alice",
		DisplayName: "Alice Smith",
		Extra:       "http://example.com/a.png",
		Permissions: "rw",
		KeyTime:     1700000000000,
		Key:         "0e8f1cdb08b344729b7bf11f2822d485247a129c",
	}
}

func TestBuildPathCanonicalOrder(t *testing.T) {
	path := BuildPath(OpRecent, testCredentials(), Int("maxage", 600000), Int("maxnumber", 10))

	want := "hawthorn/recent?channel=c101&user=alice&displayname=Alice%20Smith" +
		"&extra=http%3A%2F%2Fexample.com%2Fa.png&permissions=rw&keytime=1700000000000" +
		"&key=0e8f1cdb08b344729b7bf11f2822d485247a129c&maxage=600000&maxnumber=10"
	assert.Equal(t, want, path)
}

func TestBuildPathEscapesReservedCharacters(t *testing.T) {
	path := BuildPath(OpSay, testCredentials(), P("message", "a+b & c=d?"), P("unique", "u1"))
	assert.Contains(t, path, "&message=a%2Bb%20%26%20c%3Dd%3F&unique=u1")
}

func TestAppendQuery(t *testing.T) {
	assert.Equal(t, "http://host/re?id=1", AppendQuery("http://host/re", Int("id", 1)))
	assert.Equal(t, "http://host/re?x=y&id=1", AppendQuery("http://host/re?x=y", Int("id", 1)))
}

func TestOpNames(t *testing.T) {
	assert.Equal(t, "reAcquireComplete", OpReAcquire.CompleteFunc())
	assert.Equal(t, "waitError", OpWait.ErrorFunc())
	assert.Equal(t, "hawthorn/poll", OpPoll.Path())
}

func TestDecodeMessageTypes(t *testing.T) {
	ban, err := DecodeMessage(map[string]any{
		"type": "BAN", "time": int64(5), "user": "mod", "displayName": "Mod", "extra": "",
		"ban": "bob", "banDisplayName": "Bob", "banExtra": "", "until": float64(14400005),
	})
	assert.NoError(t, err)
	assert.Equal(t, "bob", ban.Ban)
	assert.Equal(t, int64(14400005), ban.Until)

	leave, err := DecodeMessage(map[string]any{
		"type": "LEAVE", "time": int64(6), "user": "bob", "displayName": "Bob", "extra": "", "timeout": true,
	})
	assert.NoError(t, err)
	assert.True(t, leave.Timeout)

	notice, err := DecodeMessage(map[string]any{
		"type": "NOTICE", "time": int64(7), "user": "_system", "displayName": "", "extra": "", "text": "maintenance",
	})
	assert.NoError(t, err)
	assert.Equal(t, "maintenance", notice.Text)

	_, err = DecodeMessage(map[string]any{"type": "SHOUT", "time": int64(1)})
	assert.ErrorIs(t, err, ErrUnknownMessage)

	_, err = DecodeMessage(map[string]any{"type": "SAY"})
	assert.ErrorIs(t, err, ErrMalformedResponse)

	_, err = DecodeMessage("SAY")
	assert.ErrorIs(t, err, ErrMalformedResponse)
}

func TestToInt64(t *testing.T) {
	n, err := ToInt64("1700000000000")
	assert.NoError(t, err)
	assert.Equal(t, int64(1700000000000), n)

	_, err = ToInt64(1.5)
	assert.ErrorIs(t, err, ErrMalformedResponse)

	_, err = ToInt64(nil)
	assert.ErrorIs(t, err, ErrMalformedResponse)
}

func TestResultDecodeArity(t *testing.T) {
	var recent RecentResult
	assert.ErrorIs(t, recent.Decode([]any{[]any{}}), ErrMalformedResponse)

	var wait WaitResult
	assert.NoError(t, wait.Decode([]any{int64(10), []any{}}))
	assert.Nil(t, wait.Names)

	var re ReAcquireResult
	assert.ErrorIs(t, re.Decode([]any{"", "1"}), ErrMalformedResponse)
}
