package remote

import "fmt"

// ConnectionErrorKind classifies why a session could not be opened.
type ConnectionErrorKind string

const (
	ConnectionUnreachable ConnectionErrorKind = "unreachable"
	ConnectionAuthFailed  ConnectionErrorKind = "auth_failed"
	ConnectionTimeout     ConnectionErrorKind = "timeout"
)

// ConnectionError is returned by Manager.Connect.
type ConnectionError struct {
	Kind ConnectionErrorKind
	Host string
	Err  error
}

func (e *ConnectionError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("connect %s: %s", e.Host, e.Kind)
	}
	return fmt.Sprintf("connect %s: %s: %v", e.Host, e.Kind, e.Err)
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}

// ExecutionErrorKind classifies why a command did not complete.
type ExecutionErrorKind string

const (
	ExecutionTimeout       ExecutionErrorKind = "timeout"
	ExecutionChannelClosed ExecutionErrorKind = "channel_closed"
)

// ExecutionError is returned by Conn.Execute when no exit status was observed.
type ExecutionError struct {
	Kind    ExecutionErrorKind
	Command string
	Err     error
}

func (e *ExecutionError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("execute %q: %s", e.Command, e.Kind)
	}
	return fmt.Sprintf("execute %q: %s: %v", e.Command, e.Kind, e.Err)
}

func (e *ExecutionError) Unwrap() error {
	return e.Err
}
