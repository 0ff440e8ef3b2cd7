// internal/models/lobby.go
package models

import (
	"time"

	"github.com/google/uuid"
)

// Lobby represents a row in the lobbies table. The password hash is never
// serialized; joining clients prove it once over HTTP and get a JWT back.
type Lobby struct {
	ID           uuid.UUID `json:"id"`
	Name         string    `json:"name"`
	PasswordHash string    `json:"-"`
	Public       bool      `json:"is_public"`
	Settings     Settings  `json:"settings"`
	CreatedAt    time.Time `json:"created_at"`
}

// Settings holds the per-lobby game configuration. Unrecognized keys sent by
// clients are retained in Extra so a settings_update round-trips them, but
// they have no effect on play.
type Settings struct {
	TimerSeconds int            `json:"timer_seconds"`
	ScoreGoal    int            `json:"score_goal"`
	Extra        map[string]any `json:"-"`
}

// DefaultSettings mirrors the defaults a freshly created lobby starts with.
func DefaultSettings() Settings {
	return Settings{
		TimerSeconds: 60,
		ScoreGoal:    5,
	}
}

// Merge applies a partial settings payload. Recognized keys are coerced from
// their JSON number form; everything else lands in Extra. Returns true if any
// value actually changed.
func (s *Settings) Merge(patch map[string]any) bool {
	changed := false
	for key, val := range patch {
		switch key {
		case "timer_seconds":
			if secs, ok := asInt(val); ok && s.TimerSeconds != secs {
				s.TimerSeconds = secs
				changed = true
			}
		case "score_goal":
			if goal, ok := asInt(val); ok && s.ScoreGoal != goal {
				s.ScoreGoal = goal
				changed = true
			}
		default:
			if s.Extra == nil {
				s.Extra = make(map[string]any)
			}
			s.Extra[key] = val
			changed = true
		}
	}
	return changed
}

// Map flattens the settings into the wire/persistence shape.
func (s Settings) Map() map[string]any {
	out := make(map[string]any, len(s.Extra)+2)
	for k, v := range s.Extra {
		out[k] = v
	}
	out["timer_seconds"] = s.TimerSeconds
	out["score_goal"] = s.ScoreGoal
	return out
}

// SettingsFromMap rebuilds Settings from the stored jsonb form.
func SettingsFromMap(m map[string]any) Settings {
	s := DefaultSettings()
	s.Merge(m)
	return s
}

func asInt(v any) (int, bool) {
	switch n := v.(type) {
	case float64:
		return int(n), true
	case int:
		return n, true
	case int64:
		return int(n), true
	}
	return 0, false
}
