package store

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"artfightwatch/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db          *sql.DB
	path        string
	recordCalls atomic.Int64
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(path string) (*SQLiteStore, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, eris.Wrap(err, "sqlite: create data dir")
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db, path: path}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS items (
	kind        TEXT NOT NULL,
	id          TEXT NOT NULL,
	subject     TEXT NOT NULL,
	title       TEXT NOT NULL,
	description TEXT,
	image_url   TEXT,
	url         TEXT NOT NULL,
	other_user  TEXT NOT NULL,
	fetched_at  DATETIME NOT NULL,
	first_seen  DATETIME NOT NULL,
	PRIMARY KEY (kind, id)
);

CREATE TABLE IF NOT EXISTS standings (
	fetched_at      DATETIME PRIMARY KEY,
	team1_percentage REAL NOT NULL,
	leader_change   INTEGER NOT NULL DEFAULT 0,
	color_fallback  INTEGER NOT NULL DEFAULT 0,
	team1_users     INTEGER,
	team1_attacks   INTEGER,
	team1_friendly_fire INTEGER,
	team1_battle_ratio  REAL,
	team1_avg_points    REAL,
	team1_avg_attacks   REAL,
	team2_users     INTEGER,
	team2_attacks   INTEGER,
	team2_friendly_fire INTEGER,
	team2_battle_ratio  REAL,
	team2_avg_points    REAL,
	team2_avg_attacks   REAL
);

CREATE TABLE IF NOT EXISTS cache_entries (
	key       TEXT PRIMARY KEY,
	data      BLOB NOT NULL,
	stored_at DATETIME NOT NULL,
	ttl_secs  INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_items_subject ON items(kind, subject);
CREATE INDEX IF NOT EXISTS idx_items_fetched_at ON items(fetched_at);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) HasSeen(ctx context.Context, kind model.Kind, id string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx,
		`SELECT 1 FROM items WHERE kind = ? AND id = ?`,
		string(kind), id,
	).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, eris.Wrap(err, "sqlite: has seen")
	}
	return true, nil
}

// RecordItem inserts the item if its (kind, id) fingerprint is unknown.
// It returns whether a row was actually written; recording an already-known
// identity is a no-op, which makes retries after a mid-walk failure safe.
func (s *SQLiteStore) RecordItem(ctx context.Context, item model.Item) (bool, error) {
	s.recordCalls.Add(1)

	firstSeen := item.FirstSeen
	if firstSeen.IsZero() {
		firstSeen = time.Now().UTC()
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO items
		 (kind, id, subject, title, description, image_url, url, other_user, fetched_at, first_seen)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		string(item.Kind), item.ID, item.Subject, item.Title,
		nullable(item.Description), nullable(item.ImageURL), item.URL,
		item.OtherUser, item.FetchedAt.UTC(), firstSeen.UTC(),
	)
	if err != nil {
		return false, eris.Wrapf(err, "sqlite: record %s %s", item.Kind, item.ID)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, eris.Wrap(err, "sqlite: rows affected")
	}
	return n > 0, nil
}

func (s *SQLiteStore) RecentItems(ctx context.Context, kind model.Kind, subjects []string, limit int) ([]model.Item, error) {
	if len(subjects) == 0 {
		return nil, nil
	}
	if limit <= 0 {
		limit = 50
	}

	placeholders := strings.Repeat("?,", len(subjects))
	placeholders = placeholders[:len(placeholders)-1]
	args := []any{string(kind)}
	for _, u := range subjects {
		args = append(args, u)
	}
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx,
		`SELECT kind, id, subject, title, description, image_url, url, other_user, fetched_at, first_seen
		 FROM items
		 WHERE kind = ? AND subject IN (`+placeholders+`)
		 ORDER BY fetched_at DESC
		 LIMIT ?`,
		args...,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: recent items")
	}
	defer rows.Close()

	var items []model.Item
	for rows.Next() {
		var it model.Item
		var kindStr string
		var description, imageURL sql.NullString
		err := rows.Scan(&kindStr, &it.ID, &it.Subject, &it.Title,
			&description, &imageURL, &it.URL, &it.OtherUser,
			&it.FetchedAt, &it.FirstSeen)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan item")
		}
		it.Kind = model.Kind(kindStr)
		it.Description = description.String
		it.ImageURL = imageURL.String
		items = append(items, it)
	}
	return items, eris.Wrap(rows.Err(), "sqlite: recent items iterate")
}

func (s *SQLiteStore) AppendStanding(ctx context.Context, st model.Standing) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO standings
		 (fetched_at, team1_percentage, leader_change, color_fallback,
		  team1_users, team1_attacks, team1_friendly_fire, team1_battle_ratio, team1_avg_points, team1_avg_attacks,
		  team2_users, team2_attacks, team2_friendly_fire, team2_battle_ratio, team2_avg_points, team2_avg_attacks)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		st.FetchedAt.UTC(), st.Team1Percentage, boolInt(st.LeaderChange), boolInt(st.ColorFallback),
		st.Team1.Users, st.Team1.Attacks, st.Team1.FriendlyFire, st.Team1.BattleRatio, st.Team1.AvgPoints, st.Team1.AvgAttacks,
		st.Team2.Users, st.Team2.Attacks, st.Team2.FriendlyFire, st.Team2.BattleRatio, st.Team2.AvgPoints, st.Team2.AvgAttacks,
	)
	return eris.Wrap(err, "sqlite: append standing")
}

const standingColumns = `fetched_at, team1_percentage, leader_change, color_fallback,
	team1_users, team1_attacks, team1_friendly_fire, team1_battle_ratio, team1_avg_points, team1_avg_attacks,
	team2_users, team2_attacks, team2_friendly_fire, team2_battle_ratio, team2_avg_points, team2_avg_attacks`

func (s *SQLiteStore) LatestStanding(ctx context.Context) (*model.Standing, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+standingColumns+` FROM standings ORDER BY fetched_at DESC LIMIT 1`,
	)
	st, err := scanStanding(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: latest standing")
	}
	return st, nil
}

func (s *SQLiteStore) StandingsSince(ctx context.Context, since time.Time) ([]model.Standing, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+standingColumns+` FROM standings WHERE fetched_at >= ? ORDER BY fetched_at ASC`,
		since.UTC(),
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: standings since")
	}
	defer rows.Close()

	var standings []model.Standing
	for rows.Next() {
		st, err := scanStanding(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan standing")
		}
		standings = append(standings, *st)
	}
	return standings, eris.Wrap(rows.Err(), "sqlite: standings iterate")
}

func (s *SQLiteStore) CacheGet(ctx context.Context, key string) ([]byte, error) {
	var data []byte
	var storedAt time.Time
	var ttlSecs int64
	err := s.db.QueryRowContext(ctx,
		`SELECT data, stored_at, ttl_secs FROM cache_entries WHERE key = ?`,
		key,
	).Scan(&data, &storedAt, &ttlSecs)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: cache get")
	}

	if time.Now().UTC().After(storedAt.Add(time.Duration(ttlSecs) * time.Second)) {
		_, err := s.db.ExecContext(ctx, `DELETE FROM cache_entries WHERE key = ?`, key)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: cache expire")
		}
		return nil, nil
	}
	return data, nil
}

func (s *SQLiteStore) CacheSet(ctx context.Context, key string, data []byte, ttl time.Duration) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO cache_entries (key, data, stored_at, ttl_secs) VALUES (?, ?, ?, ?)`,
		key, data, time.Now().UTC(), int64(ttl.Seconds()),
	)
	return eris.Wrap(err, "sqlite: cache set")
}

func (s *SQLiteStore) CachePurgeExpired(ctx context.Context) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM cache_entries
		 WHERE datetime(stored_at, '+' || ttl_secs || ' seconds') <= datetime('now')`,
	)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: purge expired cache")
	}
	n, err := res.RowsAffected()
	return int(n), eris.Wrap(err, "sqlite: rows affected")
}

func (s *SQLiteStore) CacheClear(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM cache_entries`)
	return eris.Wrap(err, "sqlite: clear cache")
}

func (s *SQLiteStore) Stats(ctx context.Context) (*Stats, error) {
	stats := &Stats{
		DatabasePath: s.path,
		RecordCalls:  s.recordCalls.Load(),
	}

	counts := []struct {
		query string
		dest  *int
	}{
		{`SELECT COUNT(*) FROM items WHERE kind = 'attack'`, &stats.TotalAttacks},
		{`SELECT COUNT(*) FROM items WHERE kind = 'defense'`, &stats.TotalDefenses},
		{`SELECT COUNT(*) FROM standings`, &stats.TotalStandings},
		{`SELECT COUNT(*) FROM standings WHERE leader_change = 1`, &stats.TotalLeaderChanges},
		{`SELECT COUNT(*) FROM cache_entries`, &stats.CacheEntries},
	}
	for _, c := range counts {
		if err := s.db.QueryRowContext(ctx, c.query).Scan(c.dest); err != nil {
			return nil, eris.Wrap(err, "sqlite: stats count")
		}
	}

	latest, err := s.LatestStanding(ctx)
	if err != nil {
		return nil, err
	}
	stats.LatestStanding = latest

	if fi, err := os.Stat(s.path); err == nil {
		stats.DatabaseSizeBytes = fi.Size()
	}
	return stats, nil
}

// helpers

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

type scannable interface {
	Scan(dest ...any) error
}

func scanStanding(row scannable) (*model.Standing, error) {
	var st model.Standing
	var leaderChange, colorFallback int
	err := row.Scan(
		&st.FetchedAt, &st.Team1Percentage, &leaderChange, &colorFallback,
		&st.Team1.Users, &st.Team1.Attacks, &st.Team1.FriendlyFire,
		&st.Team1.BattleRatio, &st.Team1.AvgPoints, &st.Team1.AvgAttacks,
		&st.Team2.Users, &st.Team2.Attacks, &st.Team2.FriendlyFire,
		&st.Team2.BattleRatio, &st.Team2.AvgPoints, &st.Team2.AvgAttacks,
	)
	if err != nil {
		return nil, err
	}
	st.LeaderChange = leaderChange == 1
	st.ColorFallback = colorFallback == 1
	return &st, nil
}
