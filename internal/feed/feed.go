// Package feed renders stored items and standings history as Atom feeds.
// Feeds are a pure read-side view over the store; building one never
// triggers an origin fetch.
package feed

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/gorilla/feeds"
	"github.com/rotisserie/eris"

	"artfightwatch/internal/config"
	"artfightwatch/internal/model"
	"artfightwatch/internal/store"
)

// standingsWindow bounds how far back the standings feed reaches.
const standingsWindow = 30 * 24 * time.Hour

// Builder assembles Atom feeds from the store.
type Builder struct {
	store store.Store
	cfg   *config.Config
}

// NewBuilder returns a feed builder over the given store.
func NewBuilder(st store.Store, cfg *config.Config) *Builder {
	return &Builder{store: st, cfg: cfg}
}

// UserAttacks builds the attack feed for one or more subjects. A limit of
// zero, or above the configured maximum, falls back to the configured
// maximum.
func (b *Builder) UserAttacks(ctx context.Context, usernames []string, limit int) (*feeds.Feed, error) {
	names := strings.Join(usernames, ", ")
	return b.userFeed(ctx, usernames, model.KindAttack, b.itemLimit(limit),
		fmt.Sprintf("Attacks by %s", names),
		fmt.Sprintf("New attacks posted by %s", names))
}

// UserDefenses builds the defense feed for one or more subjects.
func (b *Builder) UserDefenses(ctx context.Context, usernames []string, limit int) (*feeds.Feed, error) {
	names := strings.Join(usernames, ", ")
	return b.userFeed(ctx, usernames, model.KindDefense, b.itemLimit(limit),
		fmt.Sprintf("Defenses of %s", names),
		fmt.Sprintf("New attacks received by %s", names))
}

// MultiUser builds a combined attack+defense feed across several subjects,
// merged newest-first.
func (b *Builder) MultiUser(ctx context.Context, usernames []string, limit int) (*feeds.Feed, error) {
	limit = b.itemLimit(limit)
	attacks, err := b.store.RecentItems(ctx, model.KindAttack, usernames, limit)
	if err != nil {
		return nil, eris.Wrap(err, "feed: loading attacks")
	}
	defenses, err := b.store.RecentItems(ctx, model.KindDefense, usernames, limit)
	if err != nil {
		return nil, eris.Wrap(err, "feed: loading defenses")
	}

	items := append(attacks, defenses...)
	sort.Slice(items, func(i, j int) bool {
		return items[i].FirstSeen.After(items[j].FirstSeen)
	})
	if len(items) > limit {
		items = items[:limit]
	}

	f := b.newFeed(
		fmt.Sprintf("Activity for %s", strings.Join(usernames, ", ")),
		"Combined attacks and defenses",
		b.cfg.Origin.URL(),
	)
	for _, item := range items {
		f.Items = append(f.Items, b.entryFor(item))
	}
	return f, nil
}

func (b *Builder) userFeed(ctx context.Context, usernames []string, kind model.Kind, limit int, title, description string) (*feeds.Feed, error) {
	items, err := b.store.RecentItems(ctx, kind, usernames, limit)
	if err != nil {
		return nil, eris.Wrapf(err, "feed: loading %s items", kind)
	}
	link := b.cfg.Origin.URL()
	if len(usernames) == 1 {
		link = b.profileURL(usernames[0], kind)
	}
	f := b.newFeed(title, description, link)
	for _, item := range items {
		f.Items = append(f.Items, b.entryFor(item))
	}
	return f, nil
}

// itemLimit clamps a per-request limit to the configured maximum; zero or
// negative means no override.
func (b *Builder) itemLimit(limit int) int {
	if limit <= 0 || limit > b.cfg.Feed.MaxItems {
		return b.cfg.Feed.MaxItems
	}
	return limit
}

// Standings builds the team standings feed. It carries every leader-change
// sample in the window plus the first sample of each UTC day, so a reader
// sees flips immediately and still gets a daily heartbeat between them.
func (b *Builder) Standings(ctx context.Context, limit int) (*feeds.Feed, error) {
	limit = b.itemLimit(limit)
	samples, err := b.store.StandingsSince(ctx, time.Now().UTC().Add(-standingsWindow))
	if err != nil {
		return nil, eris.Wrap(err, "feed: loading standings")
	}

	seenDay := make(map[string]bool)
	var selected []model.Standing
	for _, s := range samples {
		day := s.FetchedAt.UTC().Format("2006-01-02")
		if s.LeaderChange || !seenDay[day] {
			selected = append(selected, s)
		}
		seenDay[day] = true
	}
	sort.Slice(selected, func(i, j int) bool {
		return selected[i].FetchedAt.After(selected[j].FetchedAt)
	})
	if len(selected) > limit {
		selected = selected[:limit]
	}

	f := b.newFeed("Team Standings", "Leader changes and daily standings", b.cfg.Origin.URL()+"/event")
	for _, s := range selected {
		f.Items = append(f.Items, b.standingEntry(s))
	}
	return f, nil
}

func (b *Builder) newFeed(title, description, link string) *feeds.Feed {
	return &feeds.Feed{
		Title:       title,
		Description: description,
		Link:        &feeds.Link{Href: link},
		Updated:     time.Now().UTC(),
	}
}

func (b *Builder) entryFor(item model.Item) *feeds.Item {
	entry := &feeds.Item{
		Id:          fmt.Sprintf("%s:%s", item.Kind, item.ID),
		Title:       item.FeedTitle(),
		Description: item.FeedDescription(),
		Link:        &feeds.Link{Href: item.URL},
		Author:      &feeds.Author{Name: item.Attacker()},
		Created:     item.FirstSeen,
		Updated:     item.FirstSeen,
	}
	if item.ImageURL != "" {
		entry.Enclosure = &feeds.Enclosure{Url: item.ImageURL, Type: "image/jpeg", Length: "0"}
	}
	return entry
}

func (b *Builder) standingEntry(s model.Standing) *feeds.Item {
	title := fmt.Sprintf("Daily Standings: %s", s.FetchedAt.UTC().Format("2006-01-02"))
	if s.LeaderChange {
		title = fmt.Sprintf("Leader Change: %s takes the lead!", b.TeamName(s.Leader()))
	}
	return &feeds.Item{
		Id:          fmt.Sprintf("standing:%s", s.FetchedAt.UTC().Format(time.RFC3339)),
		Title:       title,
		Description: b.standingBody(s),
		Link:        &feeds.Link{Href: b.cfg.Origin.URL() + "/event"},
		Created:     s.FetchedAt,
		Updated:     s.FetchedAt,
	}
}

func (b *Builder) standingBody(s model.Standing) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s: %.2f%% — %s: %.2f%%",
		b.TeamName(model.Team1), s.Team1Percentage,
		b.TeamName(model.Team2), s.Team2Percentage())
	appendMetrics(&sb, b.TeamName(model.Team1), s.Team1)
	appendMetrics(&sb, b.TeamName(model.Team2), s.Team2)
	return sb.String()
}

func appendMetrics(sb *strings.Builder, name string, m model.TeamMetrics) {
	var parts []string
	if m.Users != nil {
		parts = append(parts, fmt.Sprintf("%d users", *m.Users))
	}
	if m.Attacks != nil {
		parts = append(parts, fmt.Sprintf("%d attacks", *m.Attacks))
	}
	if m.AvgPoints != nil {
		parts = append(parts, fmt.Sprintf("%.2f avg points", *m.AvgPoints))
	}
	if m.BattleRatio != nil {
		parts = append(parts, fmt.Sprintf("%.2f battle ratio", *m.BattleRatio))
	}
	if len(parts) > 0 {
		fmt.Fprintf(sb, "\n%s: %s", name, strings.Join(parts, ", "))
	}
}

// TeamName resolves a side to its configured display name.
func (b *Builder) TeamName(team model.Team) string {
	return b.cfg.Teams.DisplayName(team)
}

func (b *Builder) profileURL(username string, kind model.Kind) string {
	return fmt.Sprintf("%s/~%s/%s", b.cfg.Origin.URL(), username, kind.ListingPath())
}
