// Package monitor drives the poll cycles: one loop per monitored subject
// and kind, one for team standings, and a cache-cleanup sweep, all
// coordinated only through the shared store and politeness scheduler.
package monitor

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"artfightwatch/internal/artfight"
	"artfightwatch/internal/config"
	"artfightwatch/internal/leader"
	"artfightwatch/internal/model"
	"artfightwatch/internal/store"
)

// Fetcher is the origin-client surface the monitor drives.
type Fetcher interface {
	FetchNewItems(ctx context.Context, subject string, kind model.Kind) ([]model.Item, error)
	FetchStandings(ctx context.Context) (*model.Standing, error)
	ValidateAuth(ctx context.Context, probeUser string) error
	Auth() artfight.AuthStatus
}

// Sink receives newly-discovered items and snapshots. Delivery is
// at-least-once: a crash between the store write and the notify step can
// replay an event on restart, so sinks must dedup by identity.
type Sink interface {
	NewItem(ctx context.Context, item model.Item)
	NewStanding(ctx context.Context, s model.Standing)
}

// Stats is the monitor's operator-facing snapshot.
type Stats struct {
	Running           bool                `json:"running"`
	TrackedSubjects   int                 `json:"tracked_subjects"`
	LastSubjectPoll   *time.Time          `json:"last_subject_poll,omitempty"`
	LastStandingsPoll *time.Time          `json:"last_standings_poll,omitempty"`
	ItemsDiscovered   int64               `json:"items_discovered"`
	StandingsRecorded int64               `json:"standings_recorded"`
	CycleErrors       int64               `json:"cycle_errors"`
	Auth              artfight.AuthStatus `json:"auth"`
}

// Monitor owns the poll loops.
type Monitor struct {
	cfg      *config.Config
	store    store.Store
	sched    Acquirer
	client   Fetcher
	detector *leader.Detector
	sinks    []Sink

	// one guard per subject so a slow walk is never started twice, while
	// different subjects poll fully independently
	guards map[string]*sync.Mutex

	cancel  context.CancelFunc
	done    chan struct{}
	running atomic.Bool

	itemsDiscovered   atomic.Int64
	standingsRecorded atomic.Int64
	cycleErrors       atomic.Int64

	mu                sync.Mutex
	lastSubjectPoll   time.Time
	lastStandingsPoll time.Time
}

// Acquirer is the politeness surface the monitor needs.
type Acquirer interface {
	Acquire(ctx context.Context, bucket string) error
}

// New wires a Monitor. The detector should be freshly constructed; Start
// restores it from the latest persisted standing.
func New(cfg *config.Config, st store.Store, sched Acquirer, client Fetcher, det *leader.Detector, sinks ...Sink) *Monitor {
	guards := make(map[string]*sync.Mutex)
	for _, name := range cfg.EnabledSubjects() {
		guards[name] = &sync.Mutex{}
	}
	return &Monitor{
		cfg:      cfg,
		store:    st,
		sched:    sched,
		client:   client,
		detector: det,
		sinks:    sinks,
		guards:   guards,
		done:     make(chan struct{}),
	}
}

// Start restores leader state and launches the poll loops. It returns
// immediately; Stop tears everything down.
func (m *Monitor) Start(ctx context.Context) error {
	latest, err := m.store.LatestStanding(ctx)
	if err != nil {
		return err
	}
	m.detector.Restore(latest)

	ctx, m.cancel = context.WithCancel(ctx)
	g, gctx := errgroup.WithContext(ctx)

	subjects := m.cfg.EnabledSubjects()
	for _, subject := range subjects {
		for _, kind := range []model.Kind{model.KindAttack, model.KindDefense} {
			g.Go(func() error {
				m.loop(gctx, m.cfg.Poll.RequestInterval(), func(ctx context.Context) {
					m.pollSubject(ctx, subject, kind)
				})
				return nil
			})
		}
	}
	g.Go(func() error {
		m.loop(gctx, m.cfg.Poll.TeamInterval(), func(ctx context.Context) {
			_ = m.pollStandings(ctx)
		})
		return nil
	})
	g.Go(func() error {
		m.loop(gctx, m.cfg.Poll.CacheCleanupInterval(), m.cleanupCache)
		return nil
	})

	go func() {
		_ = g.Wait()
		close(m.done)
	}()

	m.running.Store(true)
	zap.L().Info("monitor started",
		zap.Int("subjects", len(subjects)),
		zap.Duration("request_interval", m.cfg.Poll.RequestInterval()),
		zap.Duration("team_interval", m.cfg.Poll.TeamInterval()),
	)
	return nil
}

// Stop cancels all loops and waits for them to drain. Blocking fetches and
// scheduler waits honor cancellation, so shutdown completes well inside a
// few seconds; partial pagination progress already in the store stays valid.
func (m *Monitor) Stop() {
	if !m.running.CompareAndSwap(true, false) {
		return
	}
	m.cancel()
	select {
	case <-m.done:
		zap.L().Info("monitor stopped")
	case <-time.After(5 * time.Second):
		zap.L().Warn("monitor loops did not drain within timeout")
	}
}

// loop runs fn once immediately and then on every tick until ctx ends.
func (m *Monitor) loop(ctx context.Context, interval time.Duration, fn func(context.Context)) {
	fn(ctx)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			fn(ctx)
		}
	}
}

// pollSubject runs one listing cycle for a subject and kind. Failures are
// caught here at the cycle boundary: the cycle ends early and the next
// scheduled tick is the retry.
func (m *Monitor) pollSubject(ctx context.Context, subject string, kind model.Kind) {
	guard := m.guards[subject]
	if !guard.TryLock() {
		zap.L().Debug("skipping poll, previous cycle still running",
			zap.String("subject", subject), zap.String("kind", string(kind)))
		return
	}
	defer guard.Unlock()

	if err := m.sched.Acquire(ctx, "user:"+subject); err != nil {
		return
	}
	if err := m.client.ValidateAuth(ctx, subject); err != nil {
		m.cycleErrors.Add(1)
		zap.L().Warn("poll suppressed: authentication invalid",
			zap.String("subject", subject), zap.Error(err))
		return
	}

	items, err := m.client.FetchNewItems(ctx, subject, kind)

	// Everything returned was durably recorded before it was returned, so
	// forwarding is safe even when the walk itself errored part-way.
	for _, item := range items {
		m.itemsDiscovered.Add(1)
		for _, sink := range m.sinks {
			sink.NewItem(ctx, item)
		}
	}

	m.mu.Lock()
	m.lastSubjectPoll = time.Now().UTC()
	m.mu.Unlock()

	if err != nil && ctx.Err() == nil {
		m.cycleErrors.Add(1)
		zap.L().Error("subject poll cycle failed",
			zap.String("subject", subject),
			zap.String("kind", string(kind)),
			zap.Bool("network", artfight.IsNetwork(err)),
			zap.Bool("parse", artfight.IsParse(err)),
			zap.Bool("auth", artfight.IsAuth(err)),
			zap.Int("partial_items", len(items)),
			zap.Error(err),
		)
		return
	}
	if len(items) > 0 {
		zap.L().Info("new items discovered",
			zap.String("subject", subject),
			zap.String("kind", string(kind)),
			zap.Int("count", len(items)),
		)
	}
}

// CheckStandings runs one standings cycle immediately, outside the ticker.
// It still goes through the politeness scheduler, so a manual trigger cannot
// bypass origin spacing.
func (m *Monitor) CheckStandings(ctx context.Context) error {
	return m.pollStandings(ctx)
}

// pollStandings runs one standings cycle: fetch, classify against the
// leader state, persist, then notify. The append happens strictly before
// the notify step so a snapshot that failed to persist is never announced.
func (m *Monitor) pollStandings(ctx context.Context) error {
	if err := m.sched.Acquire(ctx, "teams"); err != nil {
		return err
	}
	if probe := m.cfg.EnabledSubjects(); len(probe) > 0 {
		if err := m.client.ValidateAuth(ctx, probe[0]); err != nil {
			m.cycleErrors.Add(1)
			zap.L().Warn("standings poll suppressed: authentication invalid", zap.Error(err))
			return err
		}
	}

	standing, err := m.client.FetchStandings(ctx)
	if err != nil {
		if ctx.Err() == nil {
			m.cycleErrors.Add(1)
			zap.L().Error("standings poll cycle failed", zap.Error(err))
		}
		return err
	}

	changed, state := m.detector.Observe(standing.Team1Percentage)
	standing.LeaderChange = changed

	if err := m.store.AppendStanding(ctx, *standing); err != nil {
		m.cycleErrors.Add(1)
		zap.L().Error("standings snapshot not persisted, suppressing notification", zap.Error(err))
		return err
	}
	m.standingsRecorded.Add(1)

	m.mu.Lock()
	m.lastStandingsPoll = time.Now().UTC()
	m.mu.Unlock()

	if changed {
		zap.L().Info("leader change detected",
			zap.String("leader", string(state)),
			zap.Float64("team1_percentage", standing.Team1Percentage),
		)
	}
	for _, sink := range m.sinks {
		sink.NewStanding(ctx, *standing)
	}
	return nil
}

// cleanupCache purges expired ephemeral cache rows.
func (m *Monitor) cleanupCache(ctx context.Context) {
	n, err := m.store.CachePurgeExpired(ctx)
	if err != nil {
		if ctx.Err() == nil {
			zap.L().Error("cache cleanup failed", zap.Error(err))
		}
		return
	}
	if n > 0 {
		zap.L().Debug("purged expired cache entries", zap.Int("count", n))
	}
}

// Stats returns the monitor's current counters.
func (m *Monitor) Stats() Stats {
	st := Stats{
		Running:           m.running.Load(),
		TrackedSubjects:   len(m.guards),
		ItemsDiscovered:   m.itemsDiscovered.Load(),
		StandingsRecorded: m.standingsRecorded.Load(),
		CycleErrors:       m.cycleErrors.Load(),
		Auth:              m.client.Auth(),
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.lastSubjectPoll.IsZero() {
		t := m.lastSubjectPoll
		st.LastSubjectPoll = &t
	}
	if !m.lastStandingsPoll.IsZero() {
		t := m.lastStandingsPoll
		st.LastStandingsPoll = &t
	}
	return st
}
