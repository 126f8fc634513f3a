package leader

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"artfightwatch/internal/model"
)

func TestObserve_FirstSampleNeverFlags(t *testing.T) {
	t.Parallel()

	d := NewDetector()
	changed, state := d.Observe(60)
	assert.False(t, changed)
	assert.Equal(t, model.Team1, state)
}

func TestObserve_FlagsOnFlip(t *testing.T) {
	t.Parallel()

	d := NewDetector()
	d.Observe(60)
	changed, state := d.Observe(45)
	assert.True(t, changed)
	assert.Equal(t, model.Team2, state)
}

func TestObserve_TieNeverFlagsAndKeepsLeader(t *testing.T) {
	t.Parallel()

	// A tie is not a leader; the last definitive leader survives it, so the
	// flip is only flagged once the other side actually pulls ahead.
	d := NewDetector()

	sequence := []struct {
		pct        float64
		wantChange bool
		wantState  model.Team
	}{
		{60, false, model.Team1},
		{55, false, model.Team1},
		{45, true, model.Team2},
		{50, false, model.TeamTied},
		{52, true, model.Team1},
	}
	for _, step := range sequence {
		changed, state := d.Observe(step.pct)
		assert.Equal(t, step.wantChange, changed, "pct=%g", step.pct)
		assert.Equal(t, step.wantState, state, "pct=%g", step.pct)
	}
}

func TestObserve_TieThenSameLeaderDoesNotFlag(t *testing.T) {
	t.Parallel()

	d := NewDetector()
	d.Observe(60)
	d.Observe(50)
	changed, _ := d.Observe(58)
	assert.False(t, changed)
}

func TestObserve_TieAsFirstSample(t *testing.T) {
	t.Parallel()

	d := NewDetector()
	changed, state := d.Observe(50)
	assert.False(t, changed)
	assert.Equal(t, model.TeamTied, state)

	// First definitive sample after an opening tie is still not a change.
	changed, state = d.Observe(40)
	assert.False(t, changed)
	assert.Equal(t, model.Team2, state)
}

func TestRestore_SeedsLeaderFromHistory(t *testing.T) {
	t.Parallel()

	d := NewDetector()
	d.Restore(&model.Standing{Team1Percentage: 58, FetchedAt: time.Now().UTC()})

	changed, state := d.Observe(42)
	assert.True(t, changed)
	assert.Equal(t, model.Team2, state)
}

func TestRestore_NilIsNoop(t *testing.T) {
	t.Parallel()

	d := NewDetector()
	d.Restore(nil)

	changed, _ := d.Observe(42)
	require.False(t, changed)
	assert.Equal(t, model.Team2, d.Leader())
}

func TestClassifyLeader(t *testing.T) {
	t.Parallel()

	assert.Equal(t, model.Team1, model.ClassifyLeader(50.01))
	assert.Equal(t, model.Team2, model.ClassifyLeader(49.99))
	assert.Equal(t, model.TeamTied, model.ClassifyLeader(50))
}
