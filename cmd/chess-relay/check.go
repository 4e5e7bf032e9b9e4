package main

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/park285/chess-relay/internal/relayclient"
	"github.com/spf13/cobra"
)

func newCheckCmd() *cobra.Command {
	var (
		baseURL string
		origin  string
		skipWS  bool
		timeout time.Duration
	)
	cmd := &cobra.Command{
		Use:   "check",
		Short: "Check a running relay",
		Long:  "Calls /health and /api/games, then probes /ws with get-waiting-games.",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()
			return runCheck(ctx, cmd, baseURL, origin, skipWS)
		},
	}
	cmd.Flags().StringVar(&baseURL, "url", "http://localhost:3001", "relay base URL")
	cmd.Flags().StringVar(&origin, "origin", "", "Origin header for the websocket probe")
	cmd.Flags().BoolVar(&skipWS, "skip-ws", false, "skip the websocket probe")
	cmd.Flags().DurationVar(&timeout, "timeout", 10*time.Second, "overall timeout")
	return cmd
}

func runCheck(ctx context.Context, cmd *cobra.Command, baseURL, origin string, skipWS bool) error {
	out := cmd.OutOrStdout()
	client := relayclient.NewClient(baseURL, relayclient.WithTimeout(5*time.Second))

	h, err := client.Health(ctx)
	if err != nil {
		return fmt.Errorf("/health: %w", err)
	}
	fmt.Fprintf(out, "/health ok: status=%s timestamp=%d\n", h.Status, h.Timestamp)

	l, err := client.ListGames(ctx)
	if err != nil {
		return fmt.Errorf("/api/games: %w", err)
	}
	fmt.Fprintf(out, "/api/games ok: total=%d waiting=%d active=%d finished=%d\n",
		l.TotalGames, l.WaitingGames, l.ActiveGames, l.FinishedGames)

	if skipWS {
		return nil
	}
	wsURL, err := websocketURL(baseURL)
	if err != nil {
		return err
	}
	res, err := relayclient.Probe(ctx, wsURL, origin)
	if err != nil {
		return fmt.Errorf("/ws: %w", err)
	}
	fmt.Fprintf(out, "/ws ok: waiting=%d rtt=%s\n", len(res.Waiting), res.RTT.Round(time.Millisecond))
	return nil
}

func websocketURL(base string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(base))
	if err != nil {
		return "", fmt.Errorf("parse url: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/ws"
	return u.String(), nil
}
