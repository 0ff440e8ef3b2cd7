// internal/game/history.go
package game

import (
	"context"
	"time"

	"github.com/wisher-game/wisher/internal/cache"
)

// publishRoundHistory pushes a finished round onto the Redis history queue
// for downstream consumers (stats, replays). Asynchronous and best effort:
// no Redis, no problem.
func (s *Session) publishRoundHistory(out *roundOutcome) {
	if out == nil {
		return
	}
	record := cache.RoundEventRecord{
		LobbyID:   s.LobbyID,
		RoundID:   out.finished.ID,
		Number:    out.finished.Number,
		WisherID:  out.finished.WisherID,
		Wish:      out.finished.Wish,
		Winner:    out.winner,
		Tally:     out.tally,
		GameOver:  out.gameOver,
		Timestamp: time.Now().UnixMilli(),
	}
	go func(rec cache.RoundEventRecord) {
		if cache.Rdb == nil {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := cache.PublishRoundEvent(ctx, rec); err != nil {
			s.log.WithError(err).Warn("failed to publish round history event")
		}
	}(record)
}
