// Package sshtest runs an in-process SSH server for tests.
package sshtest

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/pem"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"testing"

	"golang.org/x/crypto/ssh"
)

// Handler runs a command. ctx is cancelled when the client signals the
// process or drops the channel. A negative return sends no exit status.
type Handler func(ctx context.Context, command string, stdout, stderr io.Writer) int

// Server accepts sessions authenticated with the key at KeyPath.
type Server struct {
	Host    string
	Port    int
	User    string
	KeyPath string
	HostKey ssh.PublicKey

	handler  Handler
	config   *ssh.ServerConfig
	listener net.Listener

	mu      sync.Mutex
	conns   map[net.Conn]struct{}
	signals []string
	wg      sync.WaitGroup
}

// NewServer starts a server on a loopback port. It shuts down when the test ends.
func NewServer(t testing.TB, handler Handler) *Server {
	t.Helper()

	hostSigner := newSigner(t)
	clientPub, keyPath := WriteKey(t)

	s := &Server{
		User:    "tester",
		KeyPath: keyPath,
		HostKey: hostSigner.PublicKey(),
		handler: handler,
		conns:   make(map[net.Conn]struct{}),
	}
	s.config = &ssh.ServerConfig{
		PublicKeyCallback: func(meta ssh.ConnMetadata, key ssh.PublicKey) (*ssh.Permissions, error) {
			if meta.User() == s.User && bytes.Equal(key.Marshal(), clientPub.Marshal()) {
				return &ssh.Permissions{}, nil
			}
			return nil, fmt.Errorf("unknown key for %s", meta.User())
		},
	}
	s.config.AddHostKey(hostSigner)

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	s.listener = listener
	addr := listener.Addr().(*net.TCPAddr)
	s.Host = addr.IP.String()
	s.Port = addr.Port

	s.wg.Add(1)
	go s.serve()
	t.Cleanup(s.Close)
	return s
}

// Addr returns host:port.
func (s *Server) Addr() string {
	return net.JoinHostPort(s.Host, strconv.Itoa(s.Port))
}

// Signals returns the signal names clients have sent.
func (s *Server) Signals() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.signals...)
}

// Close stops accepting and drops every open connection.
func (s *Server) Close() {
	_ = s.listener.Close()
	s.mu.Lock()
	for conn := range s.conns {
		_ = conn.Close()
	}
	s.mu.Unlock()
	s.wg.Wait()
}

// WriteKey generates an ed25519 client key, writes it in OpenSSH format and
// returns its public half and path.
func WriteKey(t testing.TB) (ssh.PublicKey, string) {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	block, err := ssh.MarshalPrivateKey(priv, "")
	if err != nil {
		t.Fatalf("marshal key: %v", err)
	}
	path := filepath.Join(t.TempDir(), "id_ed25519")
	if err := os.WriteFile(path, pem.EncodeToMemory(block), 0o600); err != nil {
		t.Fatalf("write key: %v", err)
	}
	sshPub, err := ssh.NewPublicKey(pub)
	if err != nil {
		t.Fatalf("public key: %v", err)
	}
	return sshPub, path
}

func newSigner(t testing.TB) ssh.Signer {
	t.Helper()
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate host key: %v", err)
	}
	signer, err := ssh.NewSignerFromKey(priv)
	if err != nil {
		t.Fatalf("host signer: %v", err)
	}
	return signer
}

func (s *Server) serve() {
	defer s.wg.Done()
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			return
		}
		s.mu.Lock()
		s.conns[conn] = struct{}{}
		s.mu.Unlock()

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handleConn(conn)
			s.mu.Lock()
			delete(s.conns, conn)
			s.mu.Unlock()
		}()
	}
}

func (s *Server) handleConn(conn net.Conn) {
	defer conn.Close()
	sshConn, chans, reqs, err := ssh.NewServerConn(conn, s.config)
	if err != nil {
		return
	}
	defer sshConn.Close()
	go ssh.DiscardRequests(reqs)

	var sessions sync.WaitGroup
	for newChannel := range chans {
		if newChannel.ChannelType() != "session" {
			_ = newChannel.Reject(ssh.UnknownChannelType, "unsupported channel type")
			continue
		}
		channel, requests, err := newChannel.Accept()
		if err != nil {
			continue
		}
		sessions.Add(1)
		go func() {
			defer sessions.Done()
			s.handleSession(channel, requests)
		}()
	}
	sessions.Wait()
}

type execPayload struct {
	Command string
}

type signalPayload struct {
	Signal string
}

type exitStatus struct {
	Status uint32
}

func (s *Server) handleSession(channel ssh.Channel, requests <-chan *ssh.Request) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	finished := make(chan struct{})
	started := false
	for req := range requests {
		switch req.Type {
		case "exec":
			var payload execPayload
			if err := ssh.Unmarshal(req.Payload, &payload); err != nil || started {
				_ = req.Reply(false, nil)
				continue
			}
			started = true
			_ = req.Reply(true, nil)
			go func() {
				defer close(finished)
				code := s.handler(ctx, payload.Command, channel, channel.Stderr())
				if code >= 0 {
					_, _ = channel.SendRequest("exit-status", false, ssh.Marshal(&exitStatus{Status: uint32(code)}))
				}
				_ = channel.Close()
			}()
		case "signal":
			var payload signalPayload
			if err := ssh.Unmarshal(req.Payload, &payload); err == nil {
				s.mu.Lock()
				s.signals = append(s.signals, payload.Signal)
				s.mu.Unlock()
			}
			cancel()
			if req.WantReply {
				_ = req.Reply(true, nil)
			}
		default:
			if req.WantReply {
				_ = req.Reply(false, nil)
			}
		}
	}
	cancel()
	if started {
		<-finished
	}
	_ = channel.Close()
}
