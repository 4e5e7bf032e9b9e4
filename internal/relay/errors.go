package relay

import "errors"

// Client-correctable failures. They are reported to the originating
// connection only.
var (
	ErrNotFound        = errors.New("game not found")
	ErrAlreadyFull     = errors.New("game is full")
	ErrAlreadyStarted  = errors.New("game already started")
	ErrNotActive       = errors.New("game not active")
	ErrNotAParticipant = errors.New("not a player in this game")
	ErrNotYourTurn     = errors.New("not your turn")
	ErrValidation      = errors.New("invalid request")
)

// ErrIDExhausted is returned when no free session id could be drawn.
var ErrIDExhausted = errors.New("failed to allocate game id")

// IsClientError reports whether err is one of the client-correctable sentinels.
func IsClientError(err error) bool {
	for _, target := range []error{ErrNotFound, ErrAlreadyFull, ErrAlreadyStarted, ErrNotActive, ErrNotAParticipant, ErrNotYourTurn, ErrValidation} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
