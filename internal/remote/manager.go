package remote

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
	"golang.org/x/time/rate"
)

const (
	defaultConnectTimeout = 10 * time.Second
	defaultExecTimeout    = 15 * time.Second
	defaultPort           = 22

	// sshd's default MaxStartups begins dropping at 10 unauthenticated connections.
	defaultDialRate  = rate.Limit(5)
	defaultDialBurst = 5
)

// Endpoint addresses one SSH server and the identity used to reach it.
type Endpoint struct {
	Host    string
	Port    int
	User    string
	KeyPath string
}

// Address returns host:port, defaulting the port to 22.
func (e Endpoint) Address() string {
	port := e.Port
	if port == 0 {
		port = defaultPort
	}
	return net.JoinHostPort(e.Host, strconv.Itoa(port))
}

// Result is the observed outcome of a command that reported an exit status.
type Result struct {
	ExitCode int
	Stdout   string
	Stderr   string
	Duration time.Duration
}

// Conn is an open session to one host. The caller owns it and must Close it.
type Conn interface {
	Execute(ctx context.Context, command string) (Result, error)
	Close() error
}

// DialFunc opens the transport connection for a session.
type DialFunc func(ctx context.Context, network, address string) (net.Conn, error)

// Manager opens SSH sessions. It never retries.
type Manager struct {
	connectTimeout  time.Duration
	execTimeout     time.Duration
	dial            DialFunc
	hostKeyCallback ssh.HostKeyCallback
	readFile        func(string) ([]byte, error)
	dialRate        rate.Limit
	dialBurst       int
	logger          zerolog.Logger

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// Option configures a Manager.
type Option func(*Manager)

// WithConnectTimeout bounds dialing plus the SSH handshake.
func WithConnectTimeout(timeout time.Duration) Option {
	return func(m *Manager) {
		if timeout > 0 {
			m.connectTimeout = timeout
		}
	}
}

// WithExecTimeout bounds each command, independent of the connect timeout.
func WithExecTimeout(timeout time.Duration) Option {
	return func(m *Manager) {
		if timeout > 0 {
			m.execTimeout = timeout
		}
	}
}

// WithDialer replaces the TCP dialer.
func WithDialer(dial DialFunc) Option {
	return func(m *Manager) {
		if dial != nil {
			m.dial = dial
		}
	}
}

// WithHostKeyCallback sets host key verification.
func WithHostKeyCallback(callback ssh.HostKeyCallback) Option {
	return func(m *Manager) {
		if callback != nil {
			m.hostKeyCallback = callback
		}
	}
}

// WithDialRate throttles new connections per host.
func WithDialRate(limit rate.Limit, burst int) Option {
	return func(m *Manager) {
		if limit > 0 && burst > 0 {
			m.dialRate = limit
			m.dialBurst = burst
		}
	}
}

// WithLogger sets the logger used for session diagnostics.
func WithLogger(logger zerolog.Logger) Option {
	return func(m *Manager) {
		m.logger = logger
	}
}

// KnownHostsCallback verifies host keys against the given known_hosts files.
func KnownHostsCallback(files ...string) (ssh.HostKeyCallback, error) {
	callback, err := knownhosts.New(files...)
	if err != nil {
		return nil, fmt.Errorf("load known hosts: %w", err)
	}
	return callback, nil
}

// NewManager creates a Manager. Host keys are accepted unless a callback is set.
func NewManager(opts ...Option) *Manager {
	dialer := &net.Dialer{}
	m := &Manager{
		connectTimeout:  defaultConnectTimeout,
		execTimeout:     defaultExecTimeout,
		dial:            dialer.DialContext,
		hostKeyCallback: ssh.InsecureIgnoreHostKey(),
		readFile:        os.ReadFile,
		dialRate:        defaultDialRate,
		dialBurst:       defaultDialBurst,
		logger:          zerolog.Nop(),
		limiters:        make(map[string]*rate.Limiter),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Connect opens an authenticated session within the connect timeout.
func (m *Manager) Connect(ctx context.Context, endpoint Endpoint) (Conn, error) {
	ctx, cancel := context.WithTimeout(ctx, m.connectTimeout)
	defer cancel()

	host := endpoint.Host
	signer, err := m.loadSigner(endpoint.KeyPath)
	if err != nil {
		return nil, &ConnectionError{Kind: ConnectionAuthFailed, Host: host, Err: err}
	}

	if err := m.limiter(host).Wait(ctx); err != nil {
		return nil, &ConnectionError{Kind: ConnectionTimeout, Host: host, Err: err}
	}

	address := endpoint.Address()
	raw, err := m.dial(ctx, "tcp", address)
	if err != nil {
		return nil, &ConnectionError{Kind: dialFailureKind(ctx, err), Host: host, Err: err}
	}

	stop := context.AfterFunc(ctx, func() {
		_ = raw.Close()
	})

	config := &ssh.ClientConfig{
		User:            endpoint.User,
		Auth:            []ssh.AuthMethod{ssh.PublicKeys(signer)},
		HostKeyCallback: m.hostKeyCallback,
		Timeout:         m.connectTimeout,
	}
	sshConn, chans, reqs, err := ssh.NewClientConn(raw, address, config)
	if !stop() {
		if err == nil {
			_ = sshConn.Close()
		}
		return nil, &ConnectionError{Kind: ConnectionTimeout, Host: host, Err: ctx.Err()}
	}
	if err != nil {
		_ = raw.Close()
		return nil, &ConnectionError{Kind: handshakeFailureKind(err), Host: host, Err: err}
	}

	m.logger.Debug().Str("host", host).Str("user", endpoint.User).Msg("ssh session opened")
	return &session{
		client:      ssh.NewClient(sshConn, chans, reqs),
		execTimeout: m.execTimeout,
	}, nil
}

func (m *Manager) loadSigner(path string) (ssh.Signer, error) {
	if path == "" {
		return nil, errors.New("no private key configured")
	}
	pemBytes, err := m.readFile(path)
	if err != nil {
		return nil, fmt.Errorf("read private key: %w", err)
	}
	signer, err := ssh.ParsePrivateKey(pemBytes)
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}
	return signer, nil
}

func (m *Manager) limiter(host string) *rate.Limiter {
	m.mu.Lock()
	defer m.mu.Unlock()
	limiter, ok := m.limiters[host]
	if !ok {
		limiter = rate.NewLimiter(m.dialRate, m.dialBurst)
		m.limiters[host] = limiter
	}
	return limiter
}

func dialFailureKind(ctx context.Context, err error) ConnectionErrorKind {
	if ctx.Err() != nil || errors.Is(err, context.DeadlineExceeded) {
		return ConnectionTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return ConnectionTimeout
	}
	return ConnectionUnreachable
}

func handshakeFailureKind(err error) ConnectionErrorKind {
	var keyErr *knownhosts.KeyError
	var revokedErr *knownhosts.RevokedError
	switch {
	case errors.As(err, &keyErr), errors.As(err, &revokedErr):
		return ConnectionAuthFailed
	case strings.Contains(err.Error(), "unable to authenticate"),
		strings.Contains(err.Error(), "knownhosts:"):
		return ConnectionAuthFailed
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return ConnectionTimeout
	}
	return ConnectionUnreachable
}
