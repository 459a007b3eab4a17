package client

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestState(t *testing.T) (*State, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "nested", "state.db")
	s, err := OpenState(path)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s, path
}

func TestStateConfig(t *testing.T) {
	s, path := openTestState(t)

	value, err := s.GetConfig("missing")
	require.NoError(t, err)
	assert.Equal(t, "", value)

	require.NoError(t, s.SetConfig("theme", "dark"))
	require.NoError(t, s.SetConfig("theme", "light"))
	value, err = s.GetConfig("theme")
	require.NoError(t, err)
	assert.Equal(t, "light", value)

	assert.Equal(t, filepath.Dir(path), s.GetStateDir())
}

func TestStateCurrentServerSurvivesReopen(t *testing.T) {
	s, path := openTestState(t)
	assert.Equal(t, "", s.GetCurrentServer())
	require.NoError(t, s.SetCurrentServer("http://b.example/"))
	require.NoError(t, s.Close())

	reopened, err := OpenState(path)
	require.NoError(t, err)
	defer reopened.Close()
	assert.Equal(t, "http://b.example/", reopened.GetCurrentServer())

	// The transport resumes with the remembered server
	tr, err := NewTransport(TransportConfig{Servers: []string{"http://a.example", "http://b.example", "http://c.example"}})
	require.NoError(t, err)
	defer tr.Close()
	tr.SetState(reopened)
	assert.Equal(t, 1, tr.Current())
}

func TestStateUnknownServerKeepsRandomStart(t *testing.T) {
	state := NewMockState()
	state.SetCurrentServer("http://gone.example/")

	tr, err := NewTransport(TransportConfig{Servers: []string{"http://a.example"}})
	require.NoError(t, err)
	defer tr.Close()
	tr.SetState(state)
	assert.Equal(t, 0, tr.Current())
}

func TestStateServerHistory(t *testing.T) {
	s, _ := openTestState(t)

	require.NoError(t, s.RecordServerResult("http://a.example/", false))
	require.NoError(t, s.RecordServerResult("http://a.example/", false))
	require.NoError(t, s.RecordServerResult("http://b.example/", true))
	require.NoError(t, s.RecordServerResult("http://a.example/", true))

	records, err := s.ServerHistory()
	require.NoError(t, err)
	require.Len(t, records, 2)

	byServer := map[string]ServerRecord{}
	for _, r := range records {
		byServer[r.Server] = r
	}
	a := byServer["http://a.example/"]
	assert.Equal(t, int64(1), a.Successes)
	assert.Equal(t, int64(2), a.Failures)
	assert.False(t, a.LastSuccessAt.IsZero())
	assert.False(t, a.LastFailureAt.IsZero())

	b := byServer["http://b.example/"]
	assert.Equal(t, int64(1), b.Successes)
	assert.True(t, b.LastFailureAt.IsZero())
}

func TestStateMigrationsIdempotent(t *testing.T) {
	s, path := openTestState(t)
	require.NoError(t, s.SetConfig("k", "v"))
	require.NoError(t, s.Close())

	for i := 0; i < 2; i++ {
		reopened, err := OpenState(path)
		require.NoError(t, err)
		value, err := reopened.GetConfig("k")
		require.NoError(t, err)
		assert.Equal(t, "v", value)
		require.NoError(t, reopened.Close())
	}
}
