// Package leader tracks which team is ahead across standings samples and
// decides when a sample represents a genuine leadership flip.
package leader

import "artfightwatch/internal/model"

// Detector is a small state machine over the standings time series. It
// remembers the last definitive leader (team1 or team2); a tied sample is
// recorded but never counts as a flip, and never erases the remembered
// leader, so 45% -> 50% -> 52% still reports exactly one change, at 52%.
//
// The detector is derived state: it is reconstructed from the latest
// persisted standing on startup rather than being its own source of truth.
// It is not safe for concurrent use; the poll orchestrator is its single
// writer.
type Detector struct {
	state  model.Team // last classification, including tied
	leader model.Team // last definitive leader, team1/team2 only
}

// NewDetector returns a Detector with no prior sample.
func NewDetector() *Detector {
	return &Detector{state: model.TeamUnknown, leader: model.TeamUnknown}
}

// Restore primes the detector from the most recent persisted standing.
// A nil standing leaves the detector in the unknown state.
func (d *Detector) Restore(latest *model.Standing) {
	if latest == nil {
		return
	}
	d.state = latest.Leader()
	if d.state == model.Team1 || d.state == model.Team2 {
		d.leader = d.state
	}
}

// Observe classifies a new team1 percentage and reports whether it
// constitutes a leader change. The first sample after startup is never a
// change (no prior leader to change from), and transitions into or out of
// a tie are not changes either; only an actual flip between the two leading
// states is.
func (d *Detector) Observe(team1Percentage float64) (bool, model.Team) {
	next := model.ClassifyLeader(team1Percentage)
	d.state = next

	if next != model.Team1 && next != model.Team2 {
		return false, next
	}

	changed := d.leader != model.TeamUnknown && d.leader != next
	d.leader = next
	return changed, next
}

// State returns the classification of the most recent sample, tied included.
func (d *Detector) State() model.Team {
	return d.state
}

// Leader returns the last definitive leading team, or unknown before the
// first decisive sample.
func (d *Detector) Leader() model.Team {
	return d.leader
}
