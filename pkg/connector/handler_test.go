package connector

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/aeolun/hawthorn/pkg/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T, provider IdentityProvider, pattern string) *httptest.Server {
	t.Helper()
	srv, err := NewServer(testConfig(), provider, pattern)
	require.NoError(t, err)
	srv.now = func() time.Time { return testNow }

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts
}

func get(t *testing.T, url string) (*http.Response, string) {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, string(body)
}

func TestReAcquireAllowed(t *testing.T) {
	var gotChannel string
	provider := IdentityProviderFunc(func(r *http.Request, channel string) (Identity, error) {
		gotChannel = channel
		return alice, nil
	})
	ts := newTestServer(t, provider, DefaultChannelPattern)

	resp, body := get(t, ts.URL+"/reacquire?channel=c101&user=alice&displayname=x&extra=&permissions=rwma&id=42")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/javascript; charset=UTF-8", resp.Header.Get("Content-Type"))
	assert.Equal(t, "c101", gotChannel)

	got := evaluate(t, body)
	assert.Equal(t, protocol.OpReAcquire, got.op)
	assert.Equal(t, int64(42), got.id)

	// the key is issued for the provider's identity, not the query's
	c := newTestConnector(t, alice)
	key, err := c.AuthKey("c101")
	require.NoError(t, err)
	var result protocol.ReAcquireResult
	require.NoError(t, result.Decode(got.args))
	assert.Equal(t, key.Digest, result.Key)
}

func TestReAcquireDenied(t *testing.T) {
	provider := IdentityProviderFunc(func(r *http.Request, channel string) (Identity, error) {
		return Identity{}, errors.New("You are not a member of this group")
	})
	ts := newTestServer(t, provider, DefaultChannelPattern)

	resp, body := get(t, ts.URL+"/reacquire?channel=g7&id=5")
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	got := evaluate(t, body)
	assert.True(t, got.failed)
	assert.Equal(t, int64(5), got.id)
	assert.Equal(t, "You are not a member of this group", got.message)
}

func TestReAcquireBadIdentity(t *testing.T) {
	provider := IdentityProviderFunc(func(r *http.Request, channel string) (Identity, error) {
		return Identity{User: "not valid", DisplayName: "X"}, nil
	})
	ts := newTestServer(t, provider, "")

	_, body := get(t, ts.URL+"/reacquire?channel=lobby&id=5")
	assert.True(t, evaluate(t, body).failed)
}

func TestReAcquireRejectsInvalidRequests(t *testing.T) {
	called := false
	provider := IdentityProviderFunc(func(r *http.Request, channel string) (Identity, error) {
		called = true
		return alice, nil
	})
	ts := newTestServer(t, provider, DefaultChannelPattern)

	for _, query := range []string{
		"channel=c101",
		"channel=c101&id=abc",
		"channel=c101&id=1234567890123456789",
		"channel=lobby&id=1",
		"channel=c&id=1",
		"id=1",
	} {
		resp, _ := get(t, ts.URL+"/reacquire?"+query)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode, query)
	}
	assert.False(t, called)
}

func TestHealthAndMetrics(t *testing.T) {
	provider := IdentityProviderFunc(func(r *http.Request, channel string) (Identity, error) {
		return alice, nil
	})
	ts := newTestServer(t, provider, "")

	resp, body := get(t, ts.URL+"/health")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok\n", body)

	get(t, ts.URL+"/reacquire?channel=lobby&id=1")
	_, metrics := get(t, ts.URL+"/metrics")
	assert.Contains(t, metrics, `hawthorn_connector_reacquires_total{outcome="allowed"} 1`)
}

func TestNewServerRejectsBadPattern(t *testing.T) {
	_, err := NewServer(testConfig(), nil, "[")
	assert.Error(t, err)
}
