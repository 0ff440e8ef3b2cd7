// internal/game/errors.go
package game

import "errors"

// Validation errors returned by the round engine. Their messages double as
// the wire "detail" codes sent back to the offending client; none of them is
// fatal to the connection.
var (
	ErrNotWisher         = errors.New("not_wisher")
	ErrNotConnected      = errors.New("not_connected")
	ErrRoundClosed       = errors.New("round_closed")
	ErrNoActiveRound     = errors.New("no_active_round")
	ErrNoEligiblePlayers = errors.New("no_eligible_players")
	ErrUnknownAction     = errors.New("unknown_action")

	ErrGameInProgress     = errors.New("game_in_progress")
	ErrWishAlreadySet     = errors.New("wish_already_set")
	ErrWishNotSet         = errors.New("wish_not_set")
	ErrWisherCannotAnswer = errors.New("wisher_cannot_answer")
	ErrSpectator          = errors.New("spectators_cannot_play")
	ErrUnknownTarget      = errors.New("unknown_target")
	ErrUnknownPlayer      = errors.New("player_not_found")
)

// Detail maps an engine error to its wire code for the outbound error message.
func Detail(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
