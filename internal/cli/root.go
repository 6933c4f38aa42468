// Package cli wires configuration, probing and the web panel behind the
// ssh-sentinel command tree.
package cli

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/nholik/ssh-sentinel/internal/config"
	"github.com/nholik/ssh-sentinel/internal/infra"
	"github.com/nholik/ssh-sentinel/internal/logging"
	"github.com/nholik/ssh-sentinel/internal/probe"
	"github.com/nholik/ssh-sentinel/internal/remote"
)

// Version information, set with -ldflags at build time.
var (
	Version = "dev"
	Commit  = "none"
)

// Inventory reads AWS resources. *infra.Client satisfies it.
type Inventory interface {
	Region() string
	Instances(ctx context.Context) ([]infra.Instance, error)
	Status(ctx context.Context) (infra.Status, error)
}

type app struct {
	stdout io.Writer
	stderr io.Writer

	envFlag    string
	configFlag string
	logLevel   string
	jsonOutput bool

	cfg    config.Config
	logger zerolog.Logger

	newConnector func(cfg config.Config, logger zerolog.Logger) (probe.Connector, error)
	newInventory func(ctx context.Context, region, profile string, logger zerolog.Logger) (Inventory, error)
}

// Option customizes the command tree, mostly for tests.
type Option func(*app)

// WithOutput redirects command output and logs.
func WithOutput(stdout, stderr io.Writer) Option {
	return func(a *app) {
		a.stdout = stdout
		a.stderr = stderr
	}
}

// WithConnector replaces the SSH session manager used for probing.
func WithConnector(connector probe.Connector) Option {
	return func(a *app) {
		a.newConnector = func(config.Config, zerolog.Logger) (probe.Connector, error) {
			return connector, nil
		}
	}
}

// WithInventory replaces the AWS client used by infra and serve.
func WithInventory(inventory Inventory) Option {
	return func(a *app) {
		a.newInventory = func(context.Context, string, string, zerolog.Logger) (Inventory, error) {
			return inventory, nil
		}
	}
}

// NewRootCommand builds the ssh-sentinel command tree.
func NewRootCommand(opts ...Option) *cobra.Command {
	a := &app{
		stdout:       os.Stdout,
		stderr:       os.Stderr,
		newConnector: defaultConnector,
		newInventory: func(ctx context.Context, region, profile string, logger zerolog.Logger) (Inventory, error) {
			client, err := infra.NewClient(ctx, region, profile, logger)
			if err != nil {
				return nil, err
			}
			return client, nil
		},
	}
	for _, opt := range opts {
		opt(a)
	}

	root := &cobra.Command{
		Use:   "ssh-sentinel",
		Short: "Read-only health checks for services behind SSH",
		Long: `ssh-sentinel probes the services of each configured environment over SSH,
classifies their health and reports it on the command line or a web panel.

It never changes anything on the remote hosts.`,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: a.setup,
	}
	root.SetOut(a.stdout)
	root.SetErr(a.stderr)
	root.CompletionOptions.DisableDefaultCmd = true

	flags := root.PersistentFlags()
	flags.StringVarP(&a.envFlag, "env", "e", "", "Environment to use (overrides SS_ENV and the config file)")
	flags.StringVar(&a.configFlag, "config", "", "Path to the config file (overrides SS_CONFIG_PATH)")
	flags.BoolVar(&a.jsonOutput, "json", false, "Print JSON instead of tables")
	flags.StringVar(&a.logLevel, "log-level", "", "Log level (overrides SS_LOG_LEVEL)")

	root.AddCommand(
		newEnvCommand(a),
		newServicesCommand(a),
		newServeCommand(a),
		newInfraCommand(a),
		newVersionCommand(a),
	)
	return root
}

// Execute runs the command tree with os.Args and returns the process exit code.
func Execute() int {
	root := NewRootCommand()
	if err := root.Execute(); err != nil {
		fmt.Fprintf(root.ErrOrStderr(), "Error: %v\n", err)
		return ExitCode(err)
	}
	return ExitSuccess
}

func (a *app) setup(*cobra.Command, []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if a.envFlag != "" {
		cfg.Overrides.Environment = a.envFlag
	}
	if a.configFlag != "" {
		cfg.ConfigPath = config.ExpandTilde(a.configFlag)
	}
	if a.logLevel != "" {
		cfg.LogLevel = a.logLevel
	}
	a.cfg = cfg
	a.logger = logging.NewWithWriter(a.stderr, cfg.LogLevel)
	if _, ok := logging.ParseLevel(cfg.LogLevel); !ok {
		a.logger.Warn().Str("log_level", cfg.LogLevel).Msg("unknown log level, using info")
	}
	return nil
}

// resolve loads and validates the config file.
func (a *app) resolve() (config.Resolved, error) {
	file, err := config.LoadFile(a.cfg.ConfigPath)
	if err != nil {
		return config.Resolved{}, err
	}
	return config.Resolve(file, a.cfg.Overrides)
}

func defaultConnector(cfg config.Config, logger zerolog.Logger) (probe.Connector, error) {
	opts := []remote.Option{
		remote.WithConnectTimeout(cfg.ConnectTimeout),
		remote.WithExecTimeout(cfg.ExecTimeout),
		remote.WithLogger(logger),
	}
	if cfg.KnownHostsPath != "" {
		callback, err := remote.KnownHostsCallback(cfg.KnownHostsPath)
		if err != nil {
			return nil, err
		}
		opts = append(opts, remote.WithHostKeyCallback(callback))
	} else {
		logger.Debug().Msg("SS_KNOWN_HOSTS not set; host keys are not verified")
	}
	return remote.NewManager(opts...), nil
}

func (a *app) newExecutor(connector probe.Connector, retries int) *probe.Executor {
	return probe.New(connector,
		probe.WithTimeouts(a.cfg.ConnectTimeout, a.cfg.ExecTimeout),
		probe.WithRetries(retries),
		probe.WithRetryBackoff(a.cfg.RetryBackoff),
		probe.WithLogger(a.logger),
	)
}
