//go:build integration

package remote

import (
	"context"
	"os"
	"strconv"
	"testing"
	"time"

	"github.com/nholik/ssh-sentinel/internal/config"
	"github.com/nholik/ssh-sentinel/internal/logging"
)

// TestIntegrationRealHost runs a read-only command against a real SSH server.
//
// Prerequisites:
//   - SS_TEST_HOST, SS_TEST_USER and SS_TEST_KEY point at a reachable host
//   - optional SS_TEST_PORT (default 22)
//
// Run with: go test -tags=integration -v ./internal/remote/...
func TestIntegrationRealHost(t *testing.T) {
	host := os.Getenv("SS_TEST_HOST")
	user := os.Getenv("SS_TEST_USER")
	key := os.Getenv("SS_TEST_KEY")
	if host == "" || user == "" || key == "" {
		t.Skip("SS_TEST_HOST, SS_TEST_USER and SS_TEST_KEY are required")
	}
	port := 22
	if value := os.Getenv("SS_TEST_PORT"); value != "" {
		parsed, err := strconv.Atoi(value)
		if err != nil {
			t.Fatalf("invalid SS_TEST_PORT: %v", err)
		}
		port = parsed
	}

	m := NewManager(
		WithConnectTimeout(10*time.Second),
		WithExecTimeout(10*time.Second),
		WithLogger(logging.NewWithLevel("debug")),
	)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	conn, err := m.Connect(ctx, Endpoint{Host: host, Port: port, User: user, KeyPath: config.ExpandTilde(key)})
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer conn.Close()

	t.Run("Uptime", func(t *testing.T) {
		result, err := conn.Execute(ctx, "uptime")
		if err != nil {
			t.Fatalf("execute: %v", err)
		}
		if result.ExitCode != 0 {
			t.Fatalf("unexpected exit code %d: %s", result.ExitCode, result.Stderr)
		}
		if result.Stdout == "" {
			t.Fatal("expected uptime output")
		}
	})

	t.Run("ExecTimeout", func(t *testing.T) {
		short := NewManager(WithExecTimeout(500 * time.Millisecond))
		conn, err := short.Connect(ctx, Endpoint{Host: host, Port: port, User: user, KeyPath: config.ExpandTilde(key)})
		if err != nil {
			t.Fatalf("connect: %v", err)
		}
		defer conn.Close()

		_, err = conn.Execute(ctx, "tail -f /dev/null")
		if err == nil {
			t.Fatal("expected timeout")
		}
	})
}
