// internal/models/lobby_test.go
package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSettingsMerge(t *testing.T) {
	s := DefaultSettings()

	changed := s.Merge(map[string]any{
		"timer_seconds": float64(90), // JSON numbers arrive as float64
		"score_goal":    3,
		"theme":         "dark",
	})
	assert.True(t, changed)
	assert.Equal(t, 90, s.TimerSeconds)
	assert.Equal(t, 3, s.ScoreGoal)
	assert.Equal(t, "dark", s.Extra["theme"])

	// Same values again: nothing changes except Extra, which always rewrites.
	changed = s.Merge(map[string]any{"timer_seconds": 90})
	assert.False(t, changed)

	// Non-numeric values for recognized keys are ignored.
	changed = s.Merge(map[string]any{"score_goal": "lots"})
	assert.False(t, changed)
	assert.Equal(t, 3, s.ScoreGoal)
}

func TestSettingsMapRoundTrip(t *testing.T) {
	s := DefaultSettings()
	s.Merge(map[string]any{"score_goal": 7, "theme": "dark"})

	m := s.Map()
	assert.Equal(t, 7, m["score_goal"])
	assert.Equal(t, 60, m["timer_seconds"])
	assert.Equal(t, "dark", m["theme"])

	back := SettingsFromMap(m)
	assert.Equal(t, s.TimerSeconds, back.TimerSeconds)
	assert.Equal(t, s.ScoreGoal, back.ScoreGoal)
	assert.Equal(t, "dark", back.Extra["theme"])
}
