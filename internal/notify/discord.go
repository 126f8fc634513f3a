// Package notify delivers discovered items and standings events to a
// Discord webhook. Delivery from the monitor is at-least-once, so the
// notifier deduplicates by event identity before sending.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"artfightwatch/internal/config"
	"artfightwatch/internal/model"
	"artfightwatch/internal/resilience"
)

// sentCap bounds the dedup set; when exceeded the set resets, trading a
// possible duplicate message for bounded memory.
const sentCap = 4096

const (
	colorAttack       = 0xcc3333
	colorDefense      = 0x3366cc
	colorLeaderChange = 0xf1c40f
	colorStandings    = 0x95a5a6
)

// embed is a Discord webhook embed object.
type embed struct {
	Title       string      `json:"title,omitempty"`
	Description string      `json:"description,omitempty"`
	URL         string      `json:"url,omitempty"`
	Color       int         `json:"color,omitempty"`
	Timestamp   string      `json:"timestamp,omitempty"`
	Image       *embedImage `json:"image,omitempty"`
	Footer      *embedText  `json:"footer,omitempty"`
}

type embedImage struct {
	URL string `json:"url"`
}

type embedText struct {
	Text string `json:"text"`
}

type webhookPayload struct {
	Embeds []embed `json:"embeds"`
}

// Discord posts events to a webhook URL. An empty URL yields a disabled
// notifier whose methods are no-ops.
type Discord struct {
	teams      config.TeamsConfig
	webhookURL string
	client     *http.Client
	retry      resilience.RetryConfig

	mu      sync.Mutex
	sent    map[string]bool
	lastDay string
}

// NewDiscord creates a webhook notifier.
func NewDiscord(cfg *config.Config) *Discord {
	retry := resilience.DefaultRetryConfig()
	retry.OnRetry = resilience.RetryLogger("discord", "webhook")
	return &Discord{
		teams:      cfg.Teams,
		webhookURL: cfg.Discord.WebhookURL,
		client:     &http.Client{Timeout: 10 * time.Second},
		retry:      retry,
		sent:       make(map[string]bool),
	}
}

// Enabled reports whether a webhook URL is configured.
func (d *Discord) Enabled() bool {
	return d.webhookURL != ""
}

// NewItem announces a newly-discovered attack or defense.
func (d *Discord) NewItem(ctx context.Context, item model.Item) {
	if !d.Enabled() {
		return
	}
	key := fmt.Sprintf("item:%s:%s", item.Kind, item.ID)
	if !d.markSent(key) {
		return
	}

	color := colorAttack
	if item.Kind == model.KindDefense {
		color = colorDefense
	}
	e := embed{
		Title:       item.FeedTitle(),
		Description: item.FeedDescription(),
		URL:         item.URL,
		Color:       color,
		Timestamp:   item.FirstSeen.UTC().Format(time.RFC3339),
		Footer:      &embedText{Text: fmt.Sprintf("%s • %s", item.Kind, item.Subject)},
	}
	if item.ImageURL != "" {
		e.Image = &embedImage{URL: item.ImageURL}
	}
	d.deliver(ctx, key, e)
}

// NewStanding announces a standings sample. Leader changes are always sent;
// ordinary samples produce at most one daily summary per UTC day.
func (d *Discord) NewStanding(ctx context.Context, s model.Standing) {
	if !d.Enabled() {
		return
	}

	if s.LeaderChange {
		key := "standing:" + s.FetchedAt.UTC().Format(time.RFC3339)
		if !d.markSent(key) {
			return
		}
		d.deliver(ctx, key, embed{
			Title:       fmt.Sprintf("Leader Change: %s takes the lead!", d.teams.DisplayName(s.Leader())),
			Description: d.standingLine(s),
			Color:       colorLeaderChange,
			Timestamp:   s.FetchedAt.UTC().Format(time.RFC3339),
		})
		return
	}

	day := s.FetchedAt.UTC().Format("2006-01-02")
	d.mu.Lock()
	dup := d.lastDay == day
	if !dup {
		d.lastDay = day
	}
	d.mu.Unlock()
	if dup {
		return
	}
	d.deliver(ctx, "daily:"+day, embed{
		Title:       "Daily Standings: " + day,
		Description: d.standingLine(s),
		Color:       colorStandings,
		Timestamp:   s.FetchedAt.UTC().Format(time.RFC3339),
	})
}

func (d *Discord) standingLine(s model.Standing) string {
	return fmt.Sprintf("%s: %.2f%%\n%s: %.2f%%",
		d.teams.DisplayName(model.Team1), s.Team1Percentage,
		d.teams.DisplayName(model.Team2), s.Team2Percentage())
}

// markSent records the key and reports whether it was new.
func (d *Discord) markSent(key string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.sent[key] {
		return false
	}
	if len(d.sent) >= sentCap {
		d.sent = make(map[string]bool)
	}
	d.sent[key] = true
	return true
}

func (d *Discord) deliver(ctx context.Context, key string, e embed) {
	err := resilience.Do(ctx, d.retry, func(ctx context.Context) error {
		return d.post(ctx, e)
	})
	if err != nil {
		zap.L().Error("notify: webhook delivery failed",
			zap.String("event", key),
			zap.Error(err),
		)
		return
	}
	zap.L().Debug("notify: webhook delivered", zap.String("event", key))
}

func (d *Discord) post(ctx context.Context, e embed) error {
	payload, err := json.Marshal(webhookPayload{Embeds: []embed{e}})
	if err != nil {
		return eris.Wrap(err, "notify: marshal payload")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.webhookURL, bytes.NewReader(payload))
	if err != nil {
		return eris.Wrap(err, "notify: create webhook request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return eris.Wrap(err, "notify: webhook request")
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode >= 400 {
		return eris.Errorf("notify: webhook returned status %d", resp.StatusCode)
	}
	return nil
}
