// Package probe runs one health cycle against every target of an environment.
package probe

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"

	"github.com/nholik/ssh-sentinel/internal/config"
	"github.com/nholik/ssh-sentinel/internal/health"
	"github.com/nholik/ssh-sentinel/internal/remote"
)

const (
	defaultConnectTimeout = 10 * time.Second
	defaultExecTimeout    = 15 * time.Second
	defaultRetryBackoff   = time.Second
	defaultBarrierSlack   = time.Second
)

// Connector opens sessions. *remote.Manager satisfies it.
type Connector interface {
	Connect(ctx context.Context, endpoint remote.Endpoint) (remote.Conn, error)
}

// Executor probes targets concurrently and assembles an ordered report.
type Executor struct {
	connector      Connector
	connectTimeout time.Duration
	execTimeout    time.Duration
	retries        int
	retryBackoff   time.Duration
	barrierSlack   time.Duration
	logger         zerolog.Logger
}

// Option configures an Executor.
type Option func(*Executor)

// WithTimeouts tells the executor the connector's budgets so it can size the barrier.
func WithTimeouts(connect, exec time.Duration) Option {
	return func(e *Executor) {
		if connect > 0 {
			e.connectTimeout = connect
		}
		if exec > 0 {
			e.execTimeout = exec
		}
	}
}

// WithRetries sets the retry count, clamped to 0..5.
func WithRetries(retries int) Option {
	return func(e *Executor) {
		switch {
		case retries < 0:
			e.retries = 0
		case retries > config.MaxProbeRetries:
			e.retries = config.MaxProbeRetries
		default:
			e.retries = retries
		}
	}
}

// WithRetryBackoff sets the linear backoff step.
func WithRetryBackoff(step time.Duration) Option {
	return func(e *Executor) {
		if step > 0 {
			e.retryBackoff = step
		}
	}
}

// WithBarrierSlack sets how long past the target budget Run waits.
func WithBarrierSlack(slack time.Duration) Option {
	return func(e *Executor) {
		if slack >= 0 {
			e.barrierSlack = slack
		}
	}
}

// WithLogger sets the executor logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(e *Executor) {
		e.logger = logger
	}
}

// New creates an Executor.
func New(connector Connector, opts ...Option) *Executor {
	e := &Executor{
		connector:      connector,
		connectTimeout: defaultConnectTimeout,
		execTimeout:    defaultExecTimeout,
		retryBackoff:   defaultRetryBackoff,
		barrierSlack:   defaultBarrierSlack,
		logger:         zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// TargetBudget is the longest a single target may take across all attempts.
func (e *Executor) TargetBudget() time.Duration {
	attempt := e.connectTimeout + e.execTimeout
	return time.Duration(e.retries+1)*attempt + backoffTotal(e.retryBackoff, e.retries)
}

type indexedOutcome struct {
	index   int
	outcome health.Outcome
}

// Run probes every target of env and returns one outcome per target in
// configured order. Targets that have not finished when the join barrier
// fires are recorded as timed out. The error is non-nil when ctx ends before
// the cycle completes, or when the assembled report breaks its own
// invariants. A canceled run yields no report.
func (e *Executor) Run(ctx context.Context, env config.Environment) (health.Report, error) {
	started := time.Now()
	budget := e.TargetBudget()

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	results := make(chan indexedOutcome, len(env.Targets))
	for i, target := range env.Targets {
		go func(i int, target config.ServiceTarget) {
			results <- indexedOutcome{index: i, outcome: e.probe(runCtx, target, budget)}
		}(i, target)
	}

	outcomes := make([]health.Outcome, len(env.Targets))
	done := make([]bool, len(env.Targets))

	barrier := time.NewTimer(budget + e.barrierSlack)
	defer barrier.Stop()

	pending := len(env.Targets)
wait:
	for pending > 0 {
		select {
		case result := <-results:
			outcomes[result.index] = result.outcome
			done[result.index] = true
			pending--
		case <-barrier.C:
			break wait
		case <-ctx.Done():
			break wait
		}
	}

	if err := ctx.Err(); err != nil {
		e.logger.Debug().
			Str("environment", env.Name).
			Int("pending", pending).
			Msg("probe cycle canceled")
		return health.Report{}, fmt.Errorf("probe %s: %w", env.Name, err)
	}

	for i, target := range env.Targets {
		if done[i] {
			continue
		}
		e.logger.Warn().
			Str("environment", env.Name).
			Str("target", target.Name).
			Msg("probe did not finish before the join barrier")
		outcomes[i] = health.Outcome{
			Target:    target.Name,
			Host:      target.Host,
			Status:    health.StatusTimedOut,
			Latency:   time.Since(started),
			Message:   "probe did not finish in time",
			CheckedAt: time.Now().UTC(),
		}
	}

	report := health.Report{
		Environment: env.Name,
		Region:      env.Region,
		Outcomes:    outcomes,
		GeneratedAt: started.UTC(),
	}
	if err := report.Validate(env.TargetNames()); err != nil {
		e.logger.Error().Err(err).Str("environment", env.Name).Msg("probe cycle produced an invalid report")
		return report, err
	}
	if report.TotalFailure() {
		e.logger.Warn().
			Str("environment", env.Name).
			Int("targets", len(outcomes)).
			Msg("every target unreachable or timed out; check local network and VPN")
	}
	return report, nil
}

type retryableStatusError struct {
	status health.Status
}

func (e *retryableStatusError) Error() string {
	return fmt.Sprintf("probe ended %s", e.status)
}

func (e *Executor) probe(ctx context.Context, target config.ServiceTarget, budget time.Duration) health.Outcome {
	ctx, cancel := context.WithTimeout(ctx, budget)
	defer cancel()

	var outcome health.Outcome
	attempts := 0
	operation := func() error {
		attempts++
		outcome = e.attempt(ctx, target)
		if outcome.Status.Retryable() {
			return &retryableStatusError{status: outcome.Status}
		}
		return nil
	}
	notify := func(err error, wait time.Duration) {
		e.logger.Debug().
			Str("target", target.Name).
			Int("attempt", attempts).
			Dur("backoff", wait).
			Err(err).
			Msg("retrying probe")
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(&linearBackOff{step: e.retryBackoff}, uint64(e.retries)),
		ctx,
	)
	_ = backoff.RetryNotify(operation, policy, notify)

	outcome.Attempts = attempts
	e.logger.Debug().
		Str("environment", target.Environment).
		Str("target", target.Name).
		Str("status", string(outcome.Status)).
		Dur("latency", outcome.Latency).
		Int("attempts", attempts).
		Msg("probe finished")
	return outcome
}

// attempt connects, executes and classifies once. The connection is closed
// on every path.
func (e *Executor) attempt(ctx context.Context, target config.ServiceTarget) health.Outcome {
	start := time.Now()
	outcome := health.Outcome{
		Target: target.Name,
		Host:   target.Host,
	}
	finish := func(ev health.Evidence, err error) health.Outcome {
		outcome.Status, outcome.Message = health.Classify(ev, target.Expect)
		outcome.Latency = time.Since(start)
		outcome.CheckedAt = time.Now().UTC()
		if err != nil {
			outcome.Error = health.Truncate(err.Error())
		}
		return outcome
	}

	conn, err := e.connector.Connect(ctx, remote.Endpoint{
		Host:    target.Host,
		Port:    target.SSHPort,
		User:    target.User,
		KeyPath: target.KeyPath,
	})
	if err != nil {
		return finish(health.Evidence{Failure: connectFailure(err)}, err)
	}
	defer conn.Close()

	result, err := conn.Execute(ctx, target.Command)
	ev := health.Evidence{
		ExitCode: result.ExitCode,
		Stdout:   result.Stdout,
		Stderr:   result.Stderr,
	}
	if err != nil {
		ev.Failure = executeFailure(err)
		return finish(ev, err)
	}
	code := result.ExitCode
	outcome.ExitCode = &code
	return finish(ev, nil)
}

func connectFailure(err error) health.Failure {
	var connErr *remote.ConnectionError
	if errors.As(err, &connErr) {
		switch connErr.Kind {
		case remote.ConnectionAuthFailed:
			return health.FailureAuth
		case remote.ConnectionTimeout:
			return health.FailureConnectTimeout
		default:
			return health.FailureUnreachable
		}
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return health.FailureConnectTimeout
	}
	return health.FailureUnreachable
}

func executeFailure(err error) health.Failure {
	var execErr *remote.ExecutionError
	if errors.As(err, &execErr) {
		if execErr.Kind == remote.ExecutionTimeout {
			return health.FailureExecTimeout
		}
		return health.FailureChannelClosed
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return health.FailureExecTimeout
	}
	return health.FailureChannelClosed
}
