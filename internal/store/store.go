package store

import (
	"context"
	"time"

	"artfightwatch/internal/model"
)

// Stats summarizes store contents for the operator.
type Stats struct {
	TotalAttacks       int              `json:"total_attacks"`
	TotalDefenses      int              `json:"total_defenses"`
	TotalStandings     int              `json:"total_standings"`
	TotalLeaderChanges int              `json:"total_leader_changes"`
	LatestStanding     *model.Standing  `json:"latest_standing,omitempty"`
	RecordCalls        int64            `json:"record_calls"`
	CacheEntries       int              `json:"cache_entries"`
	DatabasePath       string           `json:"database_path"`
	DatabaseSizeBytes  int64            `json:"database_size_bytes"`
}

// Store is the durable fingerprint record of everything the poller has seen:
// items keyed by (kind, origin id), standings keyed by fetch timestamp, plus
// an ephemeral TTL cache. Dedup state survives restarts, so an interrupted
// pagination walk never causes already-seen pages to be re-reported.
type Store interface {
	// Items
	HasSeen(ctx context.Context, kind model.Kind, id string) (bool, error)
	RecordItem(ctx context.Context, item model.Item) (bool, error)
	RecentItems(ctx context.Context, kind model.Kind, subjects []string, limit int) ([]model.Item, error)

	// Standings history (append-only)
	AppendStanding(ctx context.Context, s model.Standing) error
	LatestStanding(ctx context.Context) (*model.Standing, error)
	StandingsSince(ctx context.Context, since time.Time) ([]model.Standing, error)

	// Ephemeral cache
	CacheGet(ctx context.Context, key string) ([]byte, error)
	CacheSet(ctx context.Context, key string, data []byte, ttl time.Duration) error
	CachePurgeExpired(ctx context.Context) (int, error)
	CacheClear(ctx context.Context) error

	// Operator visibility
	Stats(ctx context.Context) (*Stats, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}
