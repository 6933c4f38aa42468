package config

import "fmt"

// ErrorKind classifies configuration failures.
type ErrorKind string

const (
	KindMissingEnvironment  ErrorKind = "missing_environment"
	KindIncompleteTarget    ErrorKind = "incomplete_target"
	KindInvalidRegion       ErrorKind = "invalid_region"
	KindNoActiveEnvironment ErrorKind = "no_active_environment"
	KindUnsafeCommand       ErrorKind = "unsafe_command"
	KindInvalidFile         ErrorKind = "invalid_file"
	KindInvalidSetting      ErrorKind = "invalid_setting"
)

// Sentinels for errors.Is checks against a kind.
var (
	ErrMissingEnvironment  = &Error{Kind: KindMissingEnvironment}
	ErrIncompleteTarget    = &Error{Kind: KindIncompleteTarget}
	ErrInvalidRegion       = &Error{Kind: KindInvalidRegion}
	ErrNoActiveEnvironment = &Error{Kind: KindNoActiveEnvironment}
	ErrUnsafeCommand       = &Error{Kind: KindUnsafeCommand}
	ErrInvalidFile         = &Error{Kind: KindInvalidFile}
	ErrInvalidSetting      = &Error{Kind: KindInvalidSetting}
)

// Error is a fatal, pre-flight configuration problem.
type Error struct {
	Kind        ErrorKind
	Environment string
	Target      string
	Message     string
	Err         error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = string(e.Kind)
	}
	switch {
	case e.Environment != "" && e.Target != "":
		msg = fmt.Sprintf("environment %q, service %q: %s", e.Environment, e.Target, msg)
	case e.Environment != "":
		msg = fmt.Sprintf("environment %q: %s", e.Environment, msg)
	}
	if e.Err != nil {
		return fmt.Sprintf("config: %s: %v", msg, e.Err)
	}
	return "config: " + msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches any *Error of the same kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}
