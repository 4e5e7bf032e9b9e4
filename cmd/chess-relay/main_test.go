package main

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/park285/chess-relay/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRootHasSubcommands(t *testing.T) {
	root := newRootCmd()
	names := map[string]bool{}
	for _, c := range root.Commands() {
		names[c.Name()] = true
	}
	for _, want := range []string{"serve", "check", "version"} {
		assert.True(t, names[want], "missing %s", want)
	}
}

func TestVersionCmd(t *testing.T) {
	root := newRootCmd()
	var buf bytes.Buffer
	root.SetOut(&buf)
	root.SetArgs([]string{"version"})
	require.Equal(t, 0, execute(root))
	assert.Contains(t, buf.String(), "chess-relay dev")
}

func TestServeFailsOnBadConfig(t *testing.T) {
	t.Setenv("RELAY_GRACE_PERIOD", "-1s")
	root := newRootCmd()
	var errBuf bytes.Buffer
	root.SetErr(&errBuf)
	root.SetArgs([]string{"serve"})
	assert.Equal(t, 1, execute(root))
	assert.Contains(t, errBuf.String(), "error:")
}

func TestWebsocketURL(t *testing.T) {
	cases := map[string]string{
		"http://localhost:3001":       "ws://localhost:3001/ws",
		"https://relay.example/base/": "wss://relay.example/base/ws",
		"ws://127.0.0.1:9":            "ws://127.0.0.1:9/ws",
	}
	for in, want := range cases {
		got, err := websocketURL(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got)
	}
	_, err := websocketURL("ftp://x")
	assert.Error(t, err)
}

func TestServeAndCheck(t *testing.T) {
	cfg, err := config.Load("")
	require.NoError(t, err)
	cfg.HTTP.Addr = "127.0.0.1:0"
	cfg.HTTP.ShutdownTimeout = 2 * time.Second
	cfg.Log.Level = "error"

	ctx, cancel := context.WithCancel(context.Background())
	ready := make(chan string, 1)
	done := make(chan error, 1)
	go func() { done <- runServe(ctx, cfg, ready) }()

	var addr string
	select {
	case addr = <-ready:
	case err := <-done:
		t.Fatalf("serve exited early: %v", err)
	case <-time.After(5 * time.Second):
		t.Fatal("serve did not start")
	}

	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs([]string{"check", "--url", "http://" + addr, "--timeout", "5s"})
	require.Equal(t, 0, execute(root), out.String())
	assert.Contains(t, out.String(), "/health ok")
	assert.Contains(t, out.String(), "/api/games ok: total=0")
	assert.True(t, strings.Contains(out.String(), "/ws ok: waiting=0"), out.String())

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("serve did not stop")
	}
}
