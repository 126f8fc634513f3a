package main

import (
	"context"

	"github.com/rotisserie/eris"

	"artfightwatch/internal/artfight"
	"artfightwatch/internal/feed"
	"artfightwatch/internal/leader"
	"artfightwatch/internal/monitor"
	"artfightwatch/internal/notify"
	"artfightwatch/internal/politeness"
	"artfightwatch/internal/store"
)

// env holds the wired application components shared by the commands.
type env struct {
	Store    store.Store
	Sched    *politeness.Scheduler
	Client   *artfight.Client
	Detector *leader.Detector
	Monitor  *monitor.Monitor
	Feeds    *feed.Builder
	Notifier *notify.Discord
}

// initEnv opens the store, runs migrations, and wires the poll machinery.
func initEnv(ctx context.Context) (*env, error) {
	st, err := store.NewSQLite(cfg.Store.Path)
	if err != nil {
		return nil, eris.Wrap(err, "cmd: open store")
	}
	if err := st.Migrate(ctx); err != nil {
		st.Close() //nolint:errcheck
		return nil, eris.Wrap(err, "cmd: migrate store")
	}

	sched := politeness.NewScheduler(cfg.Poll.RequestInterval(), cfg.Poll.PageDelay(), cfg.Poll.PageDelayWobble)

	client, err := artfight.New(cfg, st, sched)
	if err != nil {
		st.Close() //nolint:errcheck
		return nil, eris.Wrap(err, "cmd: build client")
	}

	detector := leader.NewDetector()
	notifier := notify.NewDiscord(cfg)

	var sinks []monitor.Sink
	if notifier.Enabled() {
		sinks = append(sinks, notifier)
	}
	mon := monitor.New(cfg, st, sched, client, detector, sinks...)

	return &env{
		Store:    st,
		Sched:    sched,
		Client:   client,
		Detector: detector,
		Monitor:  mon,
		Feeds:    feed.NewBuilder(st, cfg),
		Notifier: notifier,
	}, nil
}

// Close releases the store.
func (e *env) Close() {
	_ = e.Store.Close()
}
