package relayclient

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/park285/chess-relay/internal/relay"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

type envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// ProbeResult reports one websocket round trip.
type ProbeResult struct {
	Waiting []relay.OpenGame
	RTT     time.Duration
}

// Probe dials wsURL, asks for the lobby and waits for the answer.
// origin is sent as the Origin header when set.
func Probe(ctx context.Context, wsURL, origin string) (*ProbeResult, error) {
	var hdr http.Header
	if origin != "" {
		hdr = http.Header{}
		hdr.Set("Origin", origin)
	}
	conn, _, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{HTTPHeader: hdr})
	if err != nil {
		return nil, fmt.Errorf("dial: %w", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "probe done")

	start := time.Now()
	if err := wsjson.Write(ctx, conn, envelope{Event: "get-waiting-games", Data: json.RawMessage(`{}`)}); err != nil {
		return nil, fmt.Errorf("write: %w", err)
	}
	for {
		var env envelope
		if err := wsjson.Read(ctx, conn, &env); err != nil {
			return nil, fmt.Errorf("read: %w", err)
		}
		if env.Event != "waiting-games" {
			continue
		}
		var games []relay.OpenGame
		if err := json.Unmarshal(env.Data, &games); err != nil {
			return nil, fmt.Errorf("decode waiting-games: %w", err)
		}
		return &ProbeResult{Waiting: games, RTT: time.Since(start)}, nil
	}
}
