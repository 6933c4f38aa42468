package cli

import (
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/nholik/ssh-sentinel/internal/coordinator"
	"github.com/nholik/ssh-sentinel/internal/healthcheck"
	"github.com/nholik/ssh-sentinel/internal/metrics"
	"github.com/nholik/ssh-sentinel/internal/notify"
	"github.com/nholik/ssh-sentinel/internal/server"
	"github.com/nholik/ssh-sentinel/internal/state"
)

func newServeCommand(a *app) *cobra.Command {
	var listen string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the web panel and poll environments in the background",
		Long: `Serve the web panel, JSON API, health and metrics endpoints.

Every environment is polled when SS_POLL_INTERVAL is positive; otherwise
environments are probed on demand from the panel. Status transitions are
sent to Slack and the generic webhook when configured.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if listen != "" {
				a.cfg.ListenAddr = listen
			}
			resolved, err := a.resolve()
			if err != nil {
				return err
			}
			connector, err := a.newConnector(a.cfg, a.logger)
			if err != nil {
				return err
			}
			notifier, err := a.buildNotifier()
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			metricsCollector := metrics.New()
			tracker := healthcheck.NewTracker()
			coord := coordinator.New(a.logger, a.cfg, resolved, a.newExecutor(connector, a.cfg.ProbeRetries),
				coordinator.WithStore(state.NewFileStore(a.cfg.StatePath, a.logger)),
				coordinator.WithNotifier(notifier),
				coordinator.WithMetrics(metricsCollector),
				coordinator.WithTracker(tracker),
			)
			coord.Restore(ctx)

			var serverOpts []server.Option
			if resolved.Region != "" {
				inventory, err := a.newInventory(ctx, resolved.Region, resolved.Profile, a.logger)
				if err != nil {
					a.logger.Warn().Err(err).Msg("aws inventory disabled")
				} else {
					serverOpts = append(serverOpts, server.WithInventory(inventory))
				}
			}
			srv := server.New(a.logger, coord, tracker, metricsCollector, a.cfg.PollInterval, serverOpts...)

			a.logger.Info().
				Str("active", resolved.Active).
				Strs("environments", resolved.Names()).
				Str("listen_addr", a.cfg.ListenAddr).
				Bool("dry_run", a.cfg.DryRun).
				Msg("ssh-sentinel starting")

			g, gctx := errgroup.WithContext(ctx)
			g.Go(func() error {
				return coord.Run(gctx)
			})
			g.Go(func() error {
				return srv.Start(gctx, a.cfg.ListenAddr)
			})
			return g.Wait()
		},
	}
	cmd.Flags().StringVar(&listen, "listen", "", "Listen address (overrides SS_LISTEN_ADDR)")
	return cmd
}

func (a *app) buildNotifier() (notify.Notifier, error) {
	var notifiers []notify.Notifier
	if a.cfg.SlackWebhookURL != "" {
		notifiers = append(notifiers, notify.NewSlackNotifier(a.logger, a.cfg.SlackWebhookURL))
	}
	webhook, err := notify.NewWebhookNotifier(a.logger, a.cfg.WebhookURL, a.cfg.WebhookTemplate)
	if err != nil {
		return nil, err
	}
	if webhook != nil {
		notifiers = append(notifiers, webhook)
	}

	if len(notifiers) == 0 {
		return notify.NewNoop(a.logger, "no notification targets configured; transitions are only logged"), nil
	}
	var notifier notify.Notifier = notify.NewMultiNotifier(notifiers...)
	if a.cfg.DryRun {
		notifier = notify.NewDryRunNotifier(a.logger, notifier)
	}
	return notifier, nil
}
