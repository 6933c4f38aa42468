package health

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// MaxMessageBytes caps diagnostic text kept on an outcome.
const MaxMessageBytes = 256

// MessageConnectionFailed is the message attached to Unreachable outcomes.
const MessageConnectionFailed = "connection failed"

// Failure is the transport-level failure observed while probing, if any.
type Failure string

const (
	FailureNone           Failure = ""
	FailureAuth           Failure = "auth"
	FailureUnreachable    Failure = "unreachable"
	FailureConnectTimeout Failure = "connect_timeout"
	FailureExecTimeout    Failure = "exec_timeout"
	FailureChannelClosed  Failure = "channel_closed"
)

// Evidence is everything a probe observed. Classify is a pure function of it.
type Evidence struct {
	Failure  Failure
	ExitCode int
	Stdout   string
	Stderr   string
}

// Classify maps probe evidence to a status and a short diagnostic message.
// expect is the health token; an empty token accepts any zero exit.
func Classify(ev Evidence, expect string) (Status, string) {
	switch ev.Failure {
	case FailureAuth:
		return StatusAuthFailed, "authentication failed"
	case FailureUnreachable:
		return StatusUnreachable, MessageConnectionFailed
	case FailureConnectTimeout:
		return StatusTimedOut, "connect timed out"
	case FailureExecTimeout:
		return StatusTimedOut, "command timed out"
	case FailureNone:
	default:
		return StatusUnknown, fmt.Sprintf("session failed: %s", ev.Failure)
	}

	if ev.ExitCode < 0 {
		return StatusUnknown, "unparseable command result"
	}

	stdout := strings.TrimSpace(ev.Stdout)
	if ev.ExitCode != 0 {
		detail := strings.TrimSpace(ev.Stderr)
		if detail == "" && utf8.ValidString(stdout) {
			detail = stdout
		}
		if detail == "" {
			return StatusDown, fmt.Sprintf("exit status %d", ev.ExitCode)
		}
		return StatusDown, Truncate(fmt.Sprintf("exit status %d: %s", ev.ExitCode, strings.ToValidUTF8(detail, "?")))
	}
	if !utf8.ValidString(ev.Stdout) {
		return StatusUnknown, "unparseable command result"
	}

	if MatchToken(stdout, expect) {
		return StatusUp, Truncate(stdout)
	}
	return StatusDegraded, Truncate(fmt.Sprintf("expected %q, got %q", expect, stdout))
}

// MatchToken reports whether output contains the token, ignoring case.
func MatchToken(output, token string) bool {
	token = strings.TrimSpace(token)
	if token == "" {
		return true
	}
	return strings.Contains(strings.ToLower(output), strings.ToLower(token))
}

// Truncate shortens s to MaxMessageBytes without splitting a rune.
func Truncate(s string) string {
	if len(s) <= MaxMessageBytes {
		return s
	}
	cut := MaxMessageBytes
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "…"
}
