package relay

// Outbound event names.
const (
	EventGameCreated          = "game-created"
	EventWaitingGames         = "waiting-games"
	EventGameJoined           = "game-joined"
	EventJoinError            = "join-error"
	EventGameStarted          = "game-started"
	EventGameRejoined         = "game-rejoined"
	EventMoveMade             = "move-made"
	EventMoveError            = "move-error"
	EventDrawOffered          = "draw-offered"
	EventGameEnded            = "game-ended"
	EventOpponentDisconnected = "opponent-disconnected"
	EventOpponentReconnected  = "opponent-reconnected"
	EventChatMessage          = "chat-message"
	EventError                = "error"
)

// Event is one outbound message. Data is marshalled to JSON by the transport.
type Event struct {
	Name string
	Data any
}

type SeatPayload struct {
	GameID      string   `json:"gameId"`
	Color       string   `json:"color"`
	PlayerToken string   `json:"playerToken,omitempty"`
	Game        GameView `json:"game"`
}

type GameStartedPayload struct {
	Game  GameView    `json:"game"`
	White *PlayerView `json:"white"`
	Black *PlayerView `json:"black"`
}

type MoveMadePayload struct {
	FEN  string   `json:"fen"`
	Move MoveData `json:"move"`
	Game GameView `json:"game"`
}

type GameEndedPayload struct {
	Winner Winner `json:"winner"`
	Reason Reason `json:"reason"`
}

type ChatPayload struct {
	PlayerName string `json:"playerName"`
	Message    string `json:"message"`
	Timestamp  int64  `json:"timestamp"`
}

// ErrorPayload is used by join-error, move-error and error events.
type ErrorPayload struct {
	Event string `json:"event,omitempty"`
	Error string `json:"error"`
}

type empty struct{}

func gameEnded(o Outcome) Event {
	return Event{Name: EventGameEnded, Data: GameEndedPayload{Winner: o.Winner, Reason: o.Reason}}
}
