package gateway

import (
	"errors"
	"strings"

	"github.com/park285/chess-relay/internal/msgcat"
	"github.com/park285/chess-relay/internal/relay"
	"go.uber.org/zap"
)

// Services bundles the relay operations the gateway drives.
type Services struct {
	Lobby *relay.Lobby
	Moves *relay.MoveRelay
	Life  *relay.Lifecycle
}

// Dispatcher routes decoded requests to the relay and reports failures to
// the originating connection only.
type Dispatcher struct {
	svc    Services
	out    relay.Outbox
	cat    *msgcat.Catalog
	logger *zap.Logger
}

func NewDispatcher(svc Services, out relay.Outbox, cat *msgcat.Catalog, logger *zap.Logger) *Dispatcher {
	if cat == nil {
		cat = msgcat.MustDefault()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{svc: svc, out: out, cat: cat, logger: logger}
}

// Dispatch handles one request. It never panics.
func (d *Dispatcher) Dispatch(connID string, in Inbound) {
	name := in.EventName()
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("gateway_dispatch_panic",
				zap.String("conn_id", connID),
				zap.String("event", name),
				zap.Any("panic", r),
				zap.Stack("stack"),
			)
			d.fail(connID, name, errPanic)
		}
	}()

	var err error
	switch m := in.(type) {
	case CreateGame:
		_, err = d.svc.Lobby.Create(connID, m.PlayerName)
	case ListWaiting:
		d.out.Send(connID, relay.Event{Name: relay.EventWaitingGames, Data: d.svc.Lobby.ListOpen()})
	case JoinGame:
		_, err = d.svc.Lobby.Join(m.GameID, connID, m.PlayerName)
	case Move:
		_, err = d.svc.Moves.Submit(m.GameID, connID, m.MoveData)
	case Resign:
		_, err = d.svc.Life.Resign(m.GameID, connID)
	case OfferDraw:
		err = d.svc.Life.OfferDraw(m.GameID, connID)
	case AcceptDraw:
		_, err = d.svc.Life.AcceptDraw(m.GameID, connID)
	case Chat:
		err = d.svc.Life.Chat(m.GameID, connID, m.Message)
	case Rejoin:
		_, err = d.svc.Lobby.Rejoin(m.GameID, m.PlayerToken, connID)
	default:
		err = &UnknownEventError{Event: name}
	}
	if err != nil {
		d.fail(connID, name, err)
	}
}

// Reject reports a frame that could not be decoded.
func (d *Dispatcher) Reject(connID, event string, err error) {
	d.fail(connID, event, err)
}

var errPanic = errors.New("handler panic")

func (d *Dispatcher) fail(connID, event string, err error) {
	text := d.errorText(err)
	if !relay.IsClientError(err) && !errors.Is(err, ErrMalformed) && !isUnknown(err) {
		d.logger.Error("gateway_request_failed",
			zap.String("conn_id", connID),
			zap.String("event", event),
			zap.Error(err),
		)
	} else {
		d.logger.Debug("gateway_request_rejected",
			zap.String("conn_id", connID),
			zap.String("event", event),
			zap.Error(err),
		)
	}

	switch event {
	case InJoinGame, InRejoin:
		d.out.Send(connID, relay.Event{Name: relay.EventJoinError, Data: relay.ErrorPayload{Error: text}})
	case InMove:
		d.out.Send(connID, relay.Event{Name: relay.EventMoveError, Data: relay.ErrorPayload{Error: text}})
	default:
		d.out.Send(connID, relay.Event{Name: relay.EventError, Data: relay.ErrorPayload{Event: event, Error: text}})
	}
}

var errorKeys = []struct {
	err error
	key string
}{
	{relay.ErrNotFound, "errors.not_found"},
	{relay.ErrAlreadyFull, "errors.already_full"},
	{relay.ErrAlreadyStarted, "errors.already_started"},
	{relay.ErrNotActive, "errors.not_active"},
	{relay.ErrNotAParticipant, "errors.not_a_participant"},
	{relay.ErrNotYourTurn, "errors.not_your_turn"},
	{ErrMalformed, "errors.malformed"},
}

func (d *Dispatcher) errorText(err error) string {
	var unknown *UnknownEventError
	if errors.As(err, &unknown) {
		return d.cat.Text("errors.unknown_event", map[string]any{"Event": unknown.Event}, "Unknown event")
	}
	if errors.Is(err, relay.ErrValidation) {
		detail := strings.TrimPrefix(err.Error(), relay.ErrValidation.Error()+": ")
		if detail == err.Error() || detail == "" {
			return d.cat.Text("errors.invalid_request", nil, "Invalid request")
		}
		return d.cat.Text("errors.invalid_detail", map[string]any{"Detail": detail}, "Invalid request")
	}
	for _, ek := range errorKeys {
		if errors.Is(err, ek.err) {
			return d.cat.Text(ek.key, nil, ek.err.Error())
		}
	}
	return d.cat.Text("errors.internal", nil, "internal error")
}

func isUnknown(err error) bool {
	var unknown *UnknownEventError
	return errors.As(err, &unknown)
}
