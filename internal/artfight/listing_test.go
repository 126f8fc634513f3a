package artfight

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"artfightwatch/internal/config"
	"artfightwatch/internal/model"
	"artfightwatch/internal/politeness"
	"artfightwatch/internal/store"
)

func testConfig(baseURL string) *config.Config {
	return &config.Config{
		Origin: config.OriginConfig{BaseURL: baseURL},
		Poll: config.PollConfig{
			RequestIntervalSecs: 1,
			PageDelaySecs:       0.001,
			MaxPages:            10,
		},
		Teams: config.TeamsConfig{
			Team1:          config.TeamConfig{Name: "Crimson", Color: "#ce3f3f"},
			Team2:          config.TeamConfig{Name: "Cobalt", Color: "#3f69ce"},
			ColorTolerance: 30,
		},
	}
}

func testClient(t *testing.T, baseURL string) (*Client, *store.SQLiteStore) {
	t.Helper()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	require.NoError(t, st.Migrate(context.Background()))

	sched := politeness.NewScheduler(time.Minute, time.Millisecond, 0)
	c, err := New(testConfig(baseURL), st, sched)
	require.NoError(t, err)
	return c, st
}

func thumb(id, title string) string {
	return fmt.Sprintf(
		`<a class="attack-thumb" data-id="%s" href="/attack/%s"><img src="/img/%s.jpg" title="%s"></a>`,
		id, id, id, title,
	)
}

func listingPage(thumbs string, next bool) string {
	pagination := `<ul class="pagination"><li class="disabled"><a class="page-link" aria-label="Next &raquo;" aria-disabled="true">»</a></li></ul>`
	if next {
		pagination = `<ul class="pagination"><li><a class="page-link" aria-label="Next &raquo;" href="?page=2">»</a></li></ul>`
	}
	return `<html><body><div class="profile-attacks">` + thumbs + `</div>` + pagination + `</body></html>`
}

// listingServer serves per-page listing fixtures and counts requests.
func listingServer(t *testing.T, pages map[string]string) (*httptest.Server, *atomic.Int64) {
	t.Helper()
	var requests atomic.Int64
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		page := r.URL.Query().Get("page")
		if page == "" {
			page = "1"
		}
		body, ok := pages[page]
		if !ok {
			body = listingPage("", false)
		}
		fmt.Fprint(w, body)
	}))
	t.Cleanup(ts.Close)
	return ts, &requests
}

func TestFetchNewItems_FirstWalkRecordsEverything(t *testing.T) {
	t.Parallel()

	ts, requests := listingServer(t, map[string]string{
		"1": listingPage(thumb("101", "First Strike by bob")+thumb("102", "Doodle by carol"), true),
		"2": listingPage(thumb("103", "Old One by dave"), false),
	})
	c, st := testClient(t, ts.URL)

	items, err := c.FetchNewItems(context.Background(), "alice", model.KindAttack)
	require.NoError(t, err)
	require.Len(t, items, 3)
	assert.Equal(t, int64(2), requests.Load())

	seen, err := st.HasSeen(context.Background(), model.KindAttack, "103")
	require.NoError(t, err)
	assert.True(t, seen)

	assert.Equal(t, "First Strike", items[0].Title)
	assert.Equal(t, "bob", items[0].OtherUser)
	assert.Equal(t, "alice", items[0].Subject)
	assert.Equal(t, ts.URL+"/attack/101", items[0].URL)
	assert.Equal(t, ts.URL+"/img/101.jpg", items[0].ImageURL)
}

func TestFetchNewItems_SteadyStateMakesOneRequest(t *testing.T) {
	t.Parallel()

	ts, requests := listingServer(t, map[string]string{
		"1": listingPage(thumb("101", "First Strike by bob")+thumb("102", "Doodle by carol"), true),
		"2": listingPage(thumb("103", "Old One by dave"), false),
	})
	c, _ := testClient(t, ts.URL)
	ctx := context.Background()

	_, err := c.FetchNewItems(ctx, "alice", model.KindAttack)
	require.NoError(t, err)
	requests.Store(0)

	// Nothing changed: page 1 contributes nothing unseen, walk ends there.
	items, err := c.FetchNewItems(ctx, "alice", model.KindAttack)
	require.NoError(t, err)
	assert.Empty(t, items)
	assert.Equal(t, int64(1), requests.Load())
}

func TestFetchNewItems_StopsAtFirstFullySeenPage(t *testing.T) {
	t.Parallel()

	ts, requests := listingServer(t, map[string]string{
		"1": listingPage(thumb("201", "Fresh by bob"), true),
		"2": listingPage(thumb("202", "Stale by carol"), true),
		"3": listingPage(thumb("203", "Deep by dave"), false),
	})
	c, st := testClient(t, ts.URL)
	ctx := context.Background()

	// Page 2's item is already known; page 3 must never be requested.
	_, err := st.RecordItem(ctx, model.Item{
		ID: "202", Kind: model.KindAttack, Subject: "alice",
		Title: "Stale", URL: ts.URL + "/attack/202", OtherUser: "carol",
		FetchedAt: time.Now().UTC(), FirstSeen: time.Now().UTC(),
	})
	require.NoError(t, err)

	items, err := c.FetchNewItems(ctx, "alice", model.KindAttack)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "201", items[0].ID)
	assert.Equal(t, int64(2), requests.Load())
}

func TestFetchNewItems_WalksWhilePagesContributeNew(t *testing.T) {
	t.Parallel()

	ts, requests := listingServer(t, map[string]string{
		"1": listingPage(thumb("501", "Page One by bob"), true),
		"2": listingPage(thumb("502", "Page Two by carol"), true),
		"3": listingPage(thumb("503", "Page Three by dave"), true),
	})
	c, st := testClient(t, ts.URL)
	ctx := context.Background()

	// Page 3 is entirely known, so the walk ends there: exactly 3 requests,
	// with pages 1 and 2 contributing the delta.
	_, err := st.RecordItem(ctx, model.Item{
		ID: "503", Kind: model.KindAttack, Subject: "alice",
		Title: "Page Three", URL: ts.URL + "/attack/503", OtherUser: "dave",
		FetchedAt: time.Now().UTC(), FirstSeen: time.Now().UTC(),
	})
	require.NoError(t, err)

	items, err := c.FetchNewItems(ctx, "alice", model.KindAttack)
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, "501", items[0].ID)
	assert.Equal(t, "502", items[1].ID)
	assert.Equal(t, int64(3), requests.Load())
}

func TestFetchNewItems_OneNewAmongKnown(t *testing.T) {
	t.Parallel()

	thumbs := thumb("601", "Fresh One by bob") +
		thumb("602", "Known A by carol") +
		thumb("603", "Known B by dave") +
		thumb("604", "Known C by eve")
	ts, requests := listingServer(t, map[string]string{
		"1": listingPage(thumbs, false),
	})
	c, st := testClient(t, ts.URL)
	ctx := context.Background()

	now := time.Now().UTC()
	for _, id := range []string{"602", "603", "604"} {
		_, err := st.RecordItem(ctx, model.Item{
			ID: id, Kind: model.KindAttack, Subject: "alice",
			Title: "Known", URL: ts.URL + "/attack/" + id, OtherUser: "x",
			FetchedAt: now, FirstSeen: now,
		})
		require.NoError(t, err)
	}

	items, err := c.FetchNewItems(ctx, "alice", model.KindAttack)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "601", items[0].ID)
	assert.Equal(t, int64(1), requests.Load())

	// Second poll: the delta is empty and costs one request.
	requests.Store(0)
	items, err = c.FetchNewItems(ctx, "alice", model.KindAttack)
	require.NoError(t, err)
	assert.Empty(t, items)
	assert.Equal(t, int64(1), requests.Load())
}

func TestFetchNewItems_EmptyListing(t *testing.T) {
	t.Parallel()

	ts, requests := listingServer(t, map[string]string{})
	c, _ := testClient(t, ts.URL)

	items, err := c.FetchNewItems(context.Background(), "alice", model.KindDefense)
	require.NoError(t, err)
	assert.Empty(t, items)
	assert.Equal(t, int64(1), requests.Load())
}

func TestFetchNewItems_MidWalkErrorKeepsPartialDelta(t *testing.T) {
	t.Parallel()

	var requests atomic.Int64
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		if r.URL.Query().Get("page") == "2" {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		fmt.Fprint(w, listingPage(thumb("301", "Keeper by bob"), true))
	}))
	t.Cleanup(ts.Close)
	c, st := testClient(t, ts.URL)

	items, err := c.FetchNewItems(context.Background(), "alice", model.KindAttack)
	require.Error(t, err)
	assert.True(t, IsNetwork(err))
	require.Len(t, items, 1)

	// The partial delta was durably recorded before the failure.
	seen, err := st.HasSeen(context.Background(), model.KindAttack, "301")
	require.NoError(t, err)
	assert.True(t, seen)
}

func TestFetchNewItems_AuthRedirect(t *testing.T) {
	t.Parallel()

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/login" {
			fmt.Fprint(w, `<html><body><form action="/login"></form></body></html>`)
			return
		}
		http.Redirect(w, r, "/login", http.StatusFound)
	}))
	t.Cleanup(ts.Close)

	cfg := testConfig(ts.URL)
	cfg.Auth.LaravelSession = "expired-session"
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	require.NoError(t, st.Migrate(context.Background()))
	c, err := New(cfg, st, politeness.NewScheduler(time.Minute, time.Millisecond, 0))
	require.NoError(t, err)

	_, err = c.FetchNewItems(context.Background(), "alice", model.KindAttack)
	require.Error(t, err)
	assert.True(t, IsAuth(err))

	auth := c.Auth()
	assert.True(t, auth.Configured)
	require.NotNil(t, auth.Valid)
	assert.False(t, *auth.Valid)
}

func TestFetchNewItems_NotFoundIsParseFailure(t *testing.T) {
	t.Parallel()

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	t.Cleanup(ts.Close)
	c, _ := testClient(t, ts.URL)

	_, err := c.FetchNewItems(context.Background(), "nobody", model.KindAttack)
	require.Error(t, err)
	assert.True(t, IsParse(err))
}

func TestParseListing_ThumbVariants(t *testing.T) {
	t.Parallel()

	c, _ := testClient(t, "https://artfight.example")

	page := `<html><body>
		<a class="attack-thumb" href="/attack/401"><img src="/img/401.jpg" title="Linked Only by eve"></a>
		<a class="attack-thumb" data-id="402" href="/attack/402"><img src="/img/402.jpg" alt="Alt Title by mallory"></a>
		<a class="attack-thumb" data-id="403" href="/attack/403"><img src="/img/403.jpg"></a>
		<a class="attack-thumb" data-id="404" href="/attack/404"><img src="/img/404.jpg" title="Fish &amp; Chips by trent"></a>
		<a class="attack-thumb" href="/profile/nope"><img src="/img/x.jpg" title="No Id by nobody"></a>
	</body></html>`
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(page))
	require.NoError(t, err)

	items := c.parseListing(doc, "alice", model.KindAttack)
	require.Len(t, items, 4)

	// id falls back to the href when data-id is absent.
	assert.Equal(t, "401", items[0].ID)
	assert.Equal(t, "Linked Only", items[0].Title)

	// alt is used when title is missing.
	assert.Equal(t, "Alt Title", items[1].Title)
	assert.Equal(t, "mallory", items[1].OtherUser)

	// No usable text at all.
	assert.Equal(t, "Untitled Attack", items[2].Title)
	assert.Equal(t, "Unknown", items[2].OtherUser)

	// Entities are decoded before the counterparty split.
	assert.Equal(t, "Fish & Chips", items[3].Title)
	assert.Equal(t, "trent", items[3].OtherUser)
}

func TestParseListing_UntitledDefense(t *testing.T) {
	t.Parallel()

	c, _ := testClient(t, "https://artfight.example")
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(
		`<a class="attack-thumb" data-id="9" href="/attack/9"><img src="/img/9.jpg"></a>`,
	))
	require.NoError(t, err)

	items := c.parseListing(doc, "alice", model.KindDefense)
	require.Len(t, items, 1)
	assert.Equal(t, "Untitled Defense", items[0].Title)
	assert.Equal(t, model.KindDefense, items[0].Kind)
}

func TestHasNextPage(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		html string
		want bool
	}{
		{"enabled", `<ul><li><a class="page-link" aria-label="Next »" href="?page=2">»</a></li></ul>`, true},
		{"disabled li", `<ul><li class="disabled"><a class="page-link" aria-label="Next »">»</a></li></ul>`, false},
		{"aria disabled", `<ul><li><a class="page-link" aria-label="Next »" aria-disabled="true">»</a></li></ul>`, false},
		{"absent", `<ul><li><a class="page-link" aria-label="Previous">«</a></li></ul>`, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			doc, err := goquery.NewDocumentFromReader(strings.NewReader(tt.html))
			require.NoError(t, err)
			assert.Equal(t, tt.want, hasNextPage(doc))
		})
	}
}
