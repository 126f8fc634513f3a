package model

import "time"

// Team identifies which side is leading in a standings sample.
type Team string

const (
	TeamUnknown Team = "unknown"
	Team1       Team = "team1"
	Team2       Team = "team2"
	TeamTied    Team = "tied"
)

// ClassifyLeader maps a team1 percentage onto a leading side.
func ClassifyLeader(team1Percentage float64) Team {
	switch {
	case team1Percentage > 50:
		return Team1
	case team1Percentage < 50:
		return Team2
	default:
		return TeamTied
	}
}

// TeamMetrics holds the supplementary per-team numbers parsed from the
// event page. Every field is optional; a metric the page no longer renders
// degrades to nil rather than failing the standings parse.
type TeamMetrics struct {
	Users        *int     `json:"users,omitempty"`
	Attacks      *int     `json:"attacks,omitempty"`
	FriendlyFire *int     `json:"friendly_fire,omitempty"`
	BattleRatio  *float64 `json:"battle_ratio,omitempty"`
	AvgPoints    *float64 `json:"avg_points,omitempty"`
	AvgAttacks   *float64 `json:"avg_attacks,omitempty"`
}

// Standing is one timestamped sample of the team standings. Standings are
// append-only history; identity is FetchedAt.
type Standing struct {
	Team1Percentage float64     `json:"team1_percentage"`
	FetchedAt       time.Time   `json:"fetched_at"`
	LeaderChange    bool        `json:"leader_change"`
	ColorFallback   bool        `json:"color_fallback"`
	Team1           TeamMetrics `json:"team1_metrics"`
	Team2           TeamMetrics `json:"team2_metrics"`
}

// Team2Percentage derives the second team's share; the two always sum to 100.
func (s Standing) Team2Percentage() float64 {
	return 100 - s.Team1Percentage
}

// Leader returns the side this sample says is ahead.
func (s Standing) Leader() Team {
	return ClassifyLeader(s.Team1Percentage)
}
