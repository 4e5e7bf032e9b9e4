package gateway

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/park285/chess-relay/internal/relay"
)

// Inbound event names.
const (
	InCreateGame  = "create-game"
	InListWaiting = "get-waiting-games"
	InJoinGame    = "join-game"
	InMove        = "move"
	InResign      = "resign"
	InOfferDraw   = "offer-draw"
	InAcceptDraw  = "accept-draw"
	InChat        = "chat-message"
	InRejoin      = "rejoin-game"
)

var ErrMalformed = errors.New("malformed message")

// UnknownEventError is returned by Decode for an event name it does not know.
type UnknownEventError struct {
	Event string
}

func (e *UnknownEventError) Error() string { return fmt.Sprintf("unknown event %q", e.Event) }

// Envelope is the frame shape in both directions.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

type outEnvelope struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

// Inbound is one decoded client request.
type Inbound interface {
	EventName() string
}

type CreateGame struct {
	PlayerName string `json:"playerName"`
}

type ListWaiting struct{}

type JoinGame struct {
	GameID     string `json:"gameId"`
	PlayerName string `json:"playerName"`
}

type Move struct {
	GameID   string         `json:"gameId"`
	MoveData relay.MoveData `json:"moveData"`
}

type Resign struct {
	GameID string `json:"gameId"`
}

type OfferDraw struct {
	GameID string `json:"gameId"`
}

type AcceptDraw struct {
	GameID string `json:"gameId"`
}

type Chat struct {
	GameID  string `json:"gameId"`
	Message string `json:"message"`
}

type Rejoin struct {
	GameID      string `json:"gameId"`
	PlayerToken string `json:"playerToken"`
}

func (CreateGame) EventName() string  { return InCreateGame }
func (ListWaiting) EventName() string { return InListWaiting }
func (JoinGame) EventName() string    { return InJoinGame }
func (Move) EventName() string        { return InMove }
func (Resign) EventName() string      { return InResign }
func (OfferDraw) EventName() string   { return InOfferDraw }
func (AcceptDraw) EventName() string  { return InAcceptDraw }
func (Chat) EventName() string        { return InChat }
func (Rejoin) EventName() string      { return InRejoin }

// Decode parses one frame. The returned event name is set whenever the
// envelope itself parsed, so callers can attribute payload errors.
func Decode(raw []byte) (Inbound, string, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, "", fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	name := strings.TrimSpace(env.Event)
	if name == "" {
		return nil, "", fmt.Errorf("%w: missing event", ErrMalformed)
	}

	var in Inbound
	var err error
	switch name {
	case InCreateGame:
		in, err = decodeAs[CreateGame](env.Data)
	case InListWaiting:
		in = ListWaiting{}
	case InJoinGame:
		in, err = decodeAs[JoinGame](env.Data)
	case InMove:
		in, err = decodeAs[Move](env.Data)
	case InResign:
		in, err = decodeAs[Resign](env.Data)
	case InOfferDraw:
		in, err = decodeAs[OfferDraw](env.Data)
	case InAcceptDraw:
		in, err = decodeAs[AcceptDraw](env.Data)
	case InChat:
		in, err = decodeAs[Chat](env.Data)
	case InRejoin:
		in, err = decodeAs[Rejoin](env.Data)
	default:
		return nil, name, &UnknownEventError{Event: name}
	}
	if err != nil {
		return nil, name, err
	}
	return in, name, nil
}

func decodeAs[T any](data json.RawMessage) (T, error) {
	var v T
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return v, nil
	}
	if err := json.Unmarshal(trimmed, &v); err != nil {
		return v, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return v, nil
}

// Encode renders an outbound event as a frame.
func Encode(ev relay.Event) ([]byte, error) {
	data := ev.Data
	if data == nil {
		data = struct{}{}
	}
	return json.Marshal(outEnvelope{Event: ev.Name, Data: data})
}
