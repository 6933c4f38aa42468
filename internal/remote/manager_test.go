package remote

import (
	"context"
	"errors"
	"io"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/ssh/knownhosts"

	"github.com/nholik/ssh-sentinel/internal/remote/sshtest"
)

func endpointFor(srv *sshtest.Server) Endpoint {
	return Endpoint{Host: srv.Host, Port: srv.Port, User: srv.User, KeyPath: srv.KeyPath}
}

func statusHandler(ctx context.Context, command string, stdout, stderr io.Writer) int {
	switch {
	case strings.HasPrefix(command, "docker inspect"):
		_, _ = io.WriteString(stdout, "running\n")
		return 0
	case command == "false":
		_, _ = io.WriteString(stderr, "container not found\n")
		return 3
	default:
		return 127
	}
}

func TestConnectExecute_Success(t *testing.T) {
	srv := sshtest.NewServer(t, statusHandler)
	m := NewManager(WithConnectTimeout(2*time.Second), WithExecTimeout(2*time.Second))

	conn, err := m.Connect(context.Background(), endpointFor(srv))
	require.NoError(t, err)
	defer conn.Close()

	result, err := conn.Execute(context.Background(), "docker inspect --format {{.State.Status}} api")
	require.NoError(t, err)
	assert.Equal(t, 0, result.ExitCode)
	assert.Equal(t, "running\n", result.Stdout)
	assert.Empty(t, result.Stderr)
	assert.Greater(t, result.Duration, time.Duration(0))
}

func TestExecute_NonZeroExit(t *testing.T) {
	srv := sshtest.NewServer(t, statusHandler)
	m := NewManager()

	conn, err := m.Connect(context.Background(), endpointFor(srv))
	require.NoError(t, err)
	defer conn.Close()

	result, err := conn.Execute(context.Background(), "false")
	require.NoError(t, err)
	assert.Equal(t, 3, result.ExitCode)
	assert.Equal(t, "container not found\n", result.Stderr)
}

func TestExecute_SeveralCommandsOnOneConn(t *testing.T) {
	srv := sshtest.NewServer(t, statusHandler)
	m := NewManager()

	conn, err := m.Connect(context.Background(), endpointFor(srv))
	require.NoError(t, err)
	defer conn.Close()

	for i := 0; i < 3; i++ {
		result, err := conn.Execute(context.Background(), "docker inspect api")
		require.NoError(t, err)
		assert.Equal(t, 0, result.ExitCode)
	}
}

func TestConnect_AuthFailed(t *testing.T) {
	srv := sshtest.NewServer(t, statusHandler)
	_, otherKey := sshtest.WriteKey(t)
	m := NewManager()

	endpoint := endpointFor(srv)
	endpoint.KeyPath = otherKey
	_, err := m.Connect(context.Background(), endpoint)

	var connErr *ConnectionError
	require.ErrorAs(t, err, &connErr)
	assert.Equal(t, ConnectionAuthFailed, connErr.Kind)
}

func TestConnect_MissingKeyFile(t *testing.T) {
	srv := sshtest.NewServer(t, statusHandler)
	m := NewManager()

	endpoint := endpointFor(srv)
	endpoint.KeyPath = filepath.Join(t.TempDir(), "absent")
	_, err := m.Connect(context.Background(), endpoint)

	var connErr *ConnectionError
	require.ErrorAs(t, err, &connErr)
	assert.Equal(t, ConnectionAuthFailed, connErr.Kind)
	assert.True(t, errors.Is(err, os.ErrNotExist))
}

func TestConnect_Unreachable(t *testing.T) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := listener.Addr().(*net.TCPAddr)
	require.NoError(t, listener.Close())

	_, keyPath := sshtest.WriteKey(t)
	m := NewManager(WithConnectTimeout(2 * time.Second))
	_, err = m.Connect(context.Background(), Endpoint{Host: "127.0.0.1", Port: addr.Port, User: "ops", KeyPath: keyPath})

	var connErr *ConnectionError
	require.ErrorAs(t, err, &connErr)
	assert.Equal(t, ConnectionUnreachable, connErr.Kind)
}

func TestConnect_HandshakeTimeout(t *testing.T) {
	var peers []net.Conn
	t.Cleanup(func() {
		for _, peer := range peers {
			_ = peer.Close()
		}
	})
	silent := func(ctx context.Context, network, address string) (net.Conn, error) {
		client, server := net.Pipe()
		peers = append(peers, server)
		return client, nil
	}

	_, keyPath := sshtest.WriteKey(t)
	m := NewManager(WithConnectTimeout(100*time.Millisecond), WithDialer(silent))

	start := time.Now()
	_, err := m.Connect(context.Background(), Endpoint{Host: "silent.example.com", User: "ops", KeyPath: keyPath})

	var connErr *ConnectionError
	require.ErrorAs(t, err, &connErr)
	assert.Equal(t, ConnectionTimeout, connErr.Kind)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestExecute_TimeoutKillsRemoteProcess(t *testing.T) {
	srv := sshtest.NewServer(t, func(ctx context.Context, command string, stdout, stderr io.Writer) int {
		_, _ = io.WriteString(stdout, "partial")
		<-ctx.Done()
		return -1
	})
	m := NewManager(WithExecTimeout(100 * time.Millisecond))

	conn, err := m.Connect(context.Background(), endpointFor(srv))
	require.NoError(t, err)
	defer conn.Close()

	start := time.Now()
	result, err := conn.Execute(context.Background(), "tail -f /var/log/app.log")

	var execErr *ExecutionError
	require.ErrorAs(t, err, &execErr)
	assert.Equal(t, ExecutionTimeout, execErr.Kind)
	assert.Equal(t, -1, result.ExitCode)
	assert.Less(t, time.Since(start), 2*time.Second)
	assert.Eventually(t, func() bool {
		for _, sig := range srv.Signals() {
			if sig == "KILL" {
				return true
			}
		}
		return false
	}, 2*time.Second, 10*time.Millisecond)
}

func TestExecute_MissingExitStatus(t *testing.T) {
	srv := sshtest.NewServer(t, func(ctx context.Context, command string, stdout, stderr io.Writer) int {
		return -1
	})
	m := NewManager()

	conn, err := m.Connect(context.Background(), endpointFor(srv))
	require.NoError(t, err)
	defer conn.Close()

	_, err = conn.Execute(context.Background(), "uptime")

	var execErr *ExecutionError
	require.ErrorAs(t, err, &execErr)
	assert.Equal(t, ExecutionChannelClosed, execErr.Kind)
}

func TestExecute_OutputCapped(t *testing.T) {
	srv := sshtest.NewServer(t, func(ctx context.Context, command string, stdout, stderr io.Writer) int {
		_, _ = io.WriteString(stdout, strings.Repeat("x", 100<<10))
		return 0
	})
	m := NewManager()

	conn, err := m.Connect(context.Background(), endpointFor(srv))
	require.NoError(t, err)
	defer conn.Close()

	result, err := conn.Execute(context.Background(), "cat /var/log/big.log")
	require.NoError(t, err)
	assert.Len(t, result.Stdout, maxOutputBytes)
}

func TestConnect_KnownHosts(t *testing.T) {
	srv := sshtest.NewServer(t, statusHandler)
	dir := t.TempDir()

	good := filepath.Join(dir, "known_hosts")
	require.NoError(t, os.WriteFile(good, []byte(knownhosts.Line([]string{srv.Addr()}, srv.HostKey)+"\n"), 0o600))
	callback, err := KnownHostsCallback(good)
	require.NoError(t, err)

	conn, err := NewManager(WithHostKeyCallback(callback)).Connect(context.Background(), endpointFor(srv))
	require.NoError(t, err)
	require.NoError(t, conn.Close())

	otherKey, _ := sshtest.WriteKey(t)
	bad := filepath.Join(dir, "known_hosts_bad")
	require.NoError(t, os.WriteFile(bad, []byte(knownhosts.Line([]string{srv.Addr()}, otherKey)+"\n"), 0o600))
	callback, err = KnownHostsCallback(bad)
	require.NoError(t, err)

	_, err = NewManager(WithHostKeyCallback(callback)).Connect(context.Background(), endpointFor(srv))
	var connErr *ConnectionError
	require.ErrorAs(t, err, &connErr)
	assert.Equal(t, ConnectionAuthFailed, connErr.Kind)
}

func TestEndpoint_AddressDefaultsPort(t *testing.T) {
	assert.Equal(t, "ec2.example.com:22", Endpoint{Host: "ec2.example.com"}.Address())
	assert.Equal(t, "[::1]:2222", Endpoint{Host: "::1", Port: 2222}.Address())
}

func TestCappedBuffer(t *testing.T) {
	b := &cappedBuffer{limit: 4}
	n, err := b.Write([]byte("abcdef"))
	require.NoError(t, err)
	assert.Equal(t, 6, n)
	_, _ = b.Write([]byte("gh"))
	assert.Equal(t, "abcd", b.String())
}
