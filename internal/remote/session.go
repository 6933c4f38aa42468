package remote

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"time"

	"golang.org/x/crypto/ssh"
)

// maxOutputBytes caps each captured stream.
const maxOutputBytes = 64 << 10

type session struct {
	client      *ssh.Client
	execTimeout time.Duration
}

// Execute runs command and waits for its exit status within the exec timeout.
// On timeout the remote process is sent KILL and the channel is closed.
func (s *session) Execute(ctx context.Context, command string) (Result, error) {
	ctx, cancel := context.WithTimeout(ctx, s.execTimeout)
	defer cancel()

	start := time.Now()
	sess, err := s.client.NewSession()
	if err != nil {
		return Result{ExitCode: -1}, &ExecutionError{Kind: ExecutionChannelClosed, Command: command, Err: err}
	}
	defer sess.Close()

	stdout := &cappedBuffer{limit: maxOutputBytes}
	stderr := &cappedBuffer{limit: maxOutputBytes}
	sess.Stdout = stdout
	sess.Stderr = stderr

	if err := sess.Start(command); err != nil {
		return Result{ExitCode: -1, Duration: time.Since(start)},
			&ExecutionError{Kind: ExecutionChannelClosed, Command: command, Err: err}
	}

	done := make(chan error, 1)
	go func() {
		done <- sess.Wait()
	}()

	select {
	case err := <-done:
		result := Result{
			Stdout:   stdout.String(),
			Stderr:   stderr.String(),
			Duration: time.Since(start),
		}
		if err == nil {
			return result, nil
		}
		var exitErr *ssh.ExitError
		if errors.As(err, &exitErr) {
			result.ExitCode = exitErr.ExitStatus()
			return result, nil
		}
		result.ExitCode = -1
		return result, &ExecutionError{Kind: ExecutionChannelClosed, Command: command, Err: err}
	case <-ctx.Done():
		_ = sess.Signal(ssh.SIGKILL)
		_ = sess.Close()
		return Result{
				ExitCode: -1,
				Stdout:   stdout.String(),
				Stderr:   stderr.String(),
				Duration: time.Since(start),
			},
			&ExecutionError{Kind: ExecutionTimeout, Command: command, Err: ctx.Err()}
	}
}

func (s *session) Close() error {
	return s.client.Close()
}

// cappedBuffer keeps the first limit bytes written and discards the rest.
type cappedBuffer struct {
	mu    sync.Mutex
	buf   bytes.Buffer
	limit int
}

func (b *cappedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if room := b.limit - b.buf.Len(); room > 0 {
		if len(p) > room {
			b.buf.Write(p[:room])
		} else {
			b.buf.Write(p)
		}
	}
	return len(p), nil
}

func (b *cappedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}
