package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"artfightwatch/internal/config"
	"artfightwatch/internal/model"
)

type webhookRecorder struct {
	mu       sync.Mutex
	payloads []webhookPayload
}

func (r *webhookRecorder) handler() http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		var p webhookPayload
		if err := json.NewDecoder(req.Body).Decode(&p); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		r.mu.Lock()
		r.payloads = append(r.payloads, p)
		r.mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	}
}

func (r *webhookRecorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.payloads)
}

func testNotifier(t *testing.T, webhookURL string) *Discord {
	t.Helper()
	return NewDiscord(&config.Config{
		Discord: config.DiscordConfig{WebhookURL: webhookURL},
		Teams: config.TeamsConfig{
			Team1: config.TeamConfig{Name: "Crimson"},
			Team2: config.TeamConfig{Name: "Cobalt"},
		},
	})
}

func testNotifyItem() model.Item {
	now := time.Now().UTC()
	return model.Item{
		ID:        "555",
		Kind:      model.KindAttack,
		Subject:   "alice",
		Title:     "Sneak Attack",
		ImageURL:  "https://images.example/555.jpg",
		URL:       "https://artfight.example/attack/555",
		OtherUser: "bob",
		FetchedAt: now,
		FirstSeen: now,
	}
}

func TestNewItem_SendsEmbed(t *testing.T) {
	t.Parallel()

	rec := &webhookRecorder{}
	ts := httptest.NewServer(rec.handler())
	t.Cleanup(ts.Close)

	d := testNotifier(t, ts.URL)
	d.NewItem(context.Background(), testNotifyItem())

	require.Equal(t, 1, rec.count())
	e := rec.payloads[0].Embeds[0]
	assert.Equal(t, "Sneak Attack", e.Title)
	assert.Equal(t, "https://artfight.example/attack/555", e.URL)
	require.NotNil(t, e.Image)
	assert.Equal(t, "https://images.example/555.jpg", e.Image.URL)
}

func TestNewItem_DeduplicatesByIdentity(t *testing.T) {
	t.Parallel()

	rec := &webhookRecorder{}
	ts := httptest.NewServer(rec.handler())
	t.Cleanup(ts.Close)

	d := testNotifier(t, ts.URL)
	ctx := context.Background()

	// At-least-once delivery from the monitor can replay an event.
	d.NewItem(ctx, testNotifyItem())
	d.NewItem(ctx, testNotifyItem())
	assert.Equal(t, 1, rec.count())

	// A different kind with the same id is a different identity.
	other := testNotifyItem()
	other.Kind = model.KindDefense
	d.NewItem(ctx, other)
	assert.Equal(t, 2, rec.count())
}

func TestNewStanding_LeaderChange(t *testing.T) {
	t.Parallel()

	rec := &webhookRecorder{}
	ts := httptest.NewServer(rec.handler())
	t.Cleanup(ts.Close)

	d := testNotifier(t, ts.URL)
	d.NewStanding(context.Background(), model.Standing{
		Team1Percentage: 52.5,
		FetchedAt:       time.Now().UTC(),
		LeaderChange:    true,
	})

	require.Equal(t, 1, rec.count())
	e := rec.payloads[0].Embeds[0]
	assert.Equal(t, "Leader Change: Crimson takes the lead!", e.Title)
	assert.Contains(t, e.Description, "Crimson: 52.50%")
	assert.Contains(t, e.Description, "Cobalt: 47.50%")
}

func TestNewStanding_OneDailySummaryPerDay(t *testing.T) {
	t.Parallel()

	rec := &webhookRecorder{}
	ts := httptest.NewServer(rec.handler())
	t.Cleanup(ts.Close)

	d := testNotifier(t, ts.URL)
	ctx := context.Background()
	now := time.Date(2026, 7, 10, 8, 0, 0, 0, time.UTC)

	d.NewStanding(ctx, model.Standing{Team1Percentage: 51, FetchedAt: now})
	d.NewStanding(ctx, model.Standing{Team1Percentage: 52, FetchedAt: now.Add(time.Hour)})
	assert.Equal(t, 1, rec.count())

	// A leader change still goes out on the same day.
	d.NewStanding(ctx, model.Standing{Team1Percentage: 49, FetchedAt: now.Add(2 * time.Hour), LeaderChange: true})
	assert.Equal(t, 2, rec.count())
}

func TestDisabledNotifierIsNoop(t *testing.T) {
	t.Parallel()

	d := testNotifier(t, "")
	assert.False(t, d.Enabled())

	// Must not panic or attempt delivery.
	d.NewItem(context.Background(), testNotifyItem())
	d.NewStanding(context.Background(), model.Standing{Team1Percentage: 51, FetchedAt: time.Now().UTC()})
}

func TestDeliver_RetriesTransientFailure(t *testing.T) {
	t.Parallel()

	var attempts int
	var mu sync.Mutex
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		attempts++
		n := attempts
		mu.Unlock()
		if n == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	t.Cleanup(ts.Close)

	d := testNotifier(t, ts.URL)
	require.NotNil(t, d.retry.OnRetry) // retries are logged
	d.retry.InitialBackoff = time.Millisecond
	d.NewItem(context.Background(), testNotifyItem())

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 2, attempts)
}
