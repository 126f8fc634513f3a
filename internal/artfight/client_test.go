package artfight

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"artfightwatch/internal/config"
	"artfightwatch/internal/politeness"
	"artfightwatch/internal/store"
)

func testClientWithAuth(t *testing.T, cfg *config.Config) *Client {
	t.Helper()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	require.NoError(t, st.Migrate(context.Background()))

	c, err := New(cfg, st, politeness.NewScheduler(time.Minute, time.Millisecond, 0))
	require.NoError(t, err)
	return c
}

func TestValidateAuth_NoCredentialsSkipsProbe(t *testing.T) {
	t.Parallel()

	var requests atomic.Int64
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
	}))
	t.Cleanup(ts.Close)

	c := testClientWithAuth(t, testConfig(ts.URL))
	require.NoError(t, c.ValidateAuth(context.Background(), "alice"))
	assert.Equal(t, int64(0), requests.Load())

	auth := c.Auth()
	assert.False(t, auth.Configured)
	assert.Nil(t, auth.Valid)
}

func TestValidateAuth_AcceptedSessionIsCached(t *testing.T) {
	t.Parallel()

	var requests atomic.Int64
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		assert.Equal(t, "/~alice/defenses", r.URL.Path)
		cookie, err := r.Cookie("laravel_session")
		require.NoError(t, err)
		assert.Equal(t, "good-session", cookie.Value)
		fmt.Fprint(w, `<html><body><a href="/~alice">Profile</a></body></html>`)
	}))
	t.Cleanup(ts.Close)

	cfg := testConfig(ts.URL)
	cfg.Auth.LaravelSession = "good-session"
	c := testClientWithAuth(t, cfg)
	ctx := context.Background()

	require.NoError(t, c.ValidateAuth(ctx, "alice"))
	require.NoError(t, c.ValidateAuth(ctx, "alice"))
	assert.Equal(t, int64(1), requests.Load())

	auth := c.Auth()
	assert.True(t, auth.Configured)
	require.NotNil(t, auth.Valid)
	assert.True(t, *auth.Valid)
	assert.NotNil(t, auth.CheckedAt)
}

func TestValidateAuth_LoginLinkMeansRejected(t *testing.T) {
	t.Parallel()

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<html><body><a href="/login">Log In</a></body></html>`)
	}))
	t.Cleanup(ts.Close)

	cfg := testConfig(ts.URL)
	cfg.Auth.LaravelSession = "stale-session"
	c := testClientWithAuth(t, cfg)

	err := c.ValidateAuth(context.Background(), "alice")
	require.Error(t, err)
	assert.True(t, IsAuth(err))

	// The negative result is cached too.
	err = c.ValidateAuth(context.Background(), "alice")
	require.Error(t, err)
	assert.True(t, IsAuth(err))
}

func TestAbsoluteURL(t *testing.T) {
	t.Parallel()

	c := testClientWithAuth(t, testConfig("https://artfight.example"))

	assert.Equal(t, "https://artfight.example/attack/5", c.absoluteURL("/attack/5"))
	assert.Equal(t, "https://cdn.example/x.jpg", c.absoluteURL("https://cdn.example/x.jpg"))
	assert.Equal(t, "", c.absoluteURL(""))
}
