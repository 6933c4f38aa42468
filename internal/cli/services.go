package cli

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/nholik/ssh-sentinel/internal/config"
	"github.com/nholik/ssh-sentinel/internal/report"
	"github.com/nholik/ssh-sentinel/internal/runner"
	"github.com/nholik/ssh-sentinel/internal/server"
	"github.com/nholik/ssh-sentinel/internal/state"
)

type serviceFilter struct {
	serviceType string
	service     string
}

func (f *serviceFilter) register(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&f.serviceType, "type", "t", "all", "Filter by service type (core, mcp, all)")
	cmd.Flags().StringVarP(&f.service, "service", "s", "", "Filter by service name substring")
}

func (f *serviceFilter) apply(env config.Environment) (config.Environment, error) {
	serviceType := strings.ToLower(strings.TrimSpace(f.serviceType))
	switch serviceType {
	case "", "all":
		serviceType = ""
	case config.ServiceTypeCore, config.ServiceTypeMCP:
	default:
		return config.Environment{}, fmt.Errorf("invalid --type %q: must be core, mcp or all", f.serviceType)
	}
	return env.Filter(serviceType, strings.TrimSpace(f.service)), nil
}

func (f *serviceFilter) active() bool {
	t := strings.ToLower(strings.TrimSpace(f.serviceType))
	return (t != "" && t != "all") || strings.TrimSpace(f.service) != ""
}

func newServicesCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "services",
		Short: "List or probe the services of the active environment",
	}
	cmd.AddCommand(newServicesListCommand(a), newServicesHealthCommand(a))
	return cmd
}

type serviceRow struct {
	Name      string `json:"name"`
	Type      string `json:"type"`
	Container string `json:"container,omitempty"`
	Port      int    `json:"port,omitempty"`
	Host      string `json:"host"`
	Command   string `json:"command"`
	Expect    string `json:"expect,omitempty"`
}

func newServicesListCommand(a *app) *cobra.Command {
	var filter serviceFilter
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List configured service targets without probing",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			resolved, err := a.resolve()
			if err != nil {
				return err
			}
			env, err := filter.apply(resolved.ActiveEnvironment())
			if err != nil {
				return err
			}

			rows := make([]serviceRow, 0, len(env.Targets))
			for _, target := range env.Targets {
				rows = append(rows, serviceRow{
					Name:      target.Name,
					Type:      target.Type,
					Container: target.Container,
					Port:      target.Port,
					Host:      target.Host,
					Command:   target.Command,
					Expect:    target.Expect,
				})
			}
			if a.jsonOutput {
				return writeJSON(a.stdout, rows)
			}

			t := newTable(a.stdout, "NAME", "TYPE", "CONTAINER", "PORT", "HOST", "COMMAND")
			for _, row := range rows {
				port := ""
				if row.Port > 0 {
					port = strconv.Itoa(row.Port)
				}
				t.row(row.Name, orDash(row.Type), orDash(row.Container), orDash(port), row.Host, row.Command)
			}
			if err := t.flush(); err != nil {
				return err
			}
			fmt.Fprintf(a.stdout, "\n%d services in %s\n", len(rows), env.Name)
			return nil
		},
	}
	filter.register(cmd)
	return cmd
}

func newServicesHealthCommand(a *app) *cobra.Command {
	var (
		filter  serviceFilter
		retries int
	)
	cmd := &cobra.Command{
		Use:   "health",
		Short: "Probe every service of the active environment once",
		Long: `Probe every service of the active environment once and print the report.

When every target is unreachable the last known good report is shown and
marked stale. Unhealthy services do not change the exit code.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			resolved, err := a.resolve()
			if err != nil {
				return err
			}
			env, err := filter.apply(resolved.ActiveEnvironment())
			if err != nil {
				return err
			}
			if len(env.Targets) == 0 {
				fmt.Fprintln(a.stderr, "no services match the filters")
				return nil
			}

			if !cmd.Flags().Changed("retries") {
				retries = a.cfg.ProbeRetries
			}
			if retries < 0 || retries > config.MaxProbeRetries {
				return fmt.Errorf("--retries must be between 0 and %d", config.MaxProbeRetries)
			}

			connector, err := a.newConnector(a.cfg, a.logger)
			if err != nil {
				return err
			}

			// A filtered run must not overwrite the stored report for the
			// whole environment.
			aggOpts := []report.Option{report.WithLogger(a.logger)}
			if !filter.active() {
				aggOpts = append(aggOpts, report.WithStore(state.NewFileStore(a.cfg.StatePath, a.logger), nil))
			}
			aggregator := report.New(env.Name, aggOpts...)
			if err := aggregator.Restore(cmd.Context()); err != nil {
				a.logger.Warn().Err(err).Msg("could not restore last known good report")
			}

			r := runner.New(a.logger, 0, env, a.newExecutor(connector, retries), runner.WithAggregator(aggregator))
			snapshot, err := r.Cycle(cmd.Context())
			var runtimeErr *runner.RuntimeError
			if errors.As(err, &runtimeErr) {
				a.logger.Warn().Err(err).Msg("probe cycle completed with errors")
			} else if err != nil {
				return err
			}

			if snapshot.Stale {
				fmt.Fprintf(a.stderr, "warning: every target is unreachable or timed out; showing last known good report from %s\n",
					snapshot.Report.GeneratedAt.Local().Format(time.RFC3339))
			}
			return a.printHealth(snapshot)
		},
	}
	filter.register(cmd)
	cmd.Flags().IntVarP(&retries, "retries", "r", 0, "Retries per target for transient failures (overrides SS_PROBE_RETRIES)")
	return cmd
}

func (a *app) printHealth(snapshot report.Snapshot) error {
	view := server.NewHealthView(snapshot)
	if a.jsonOutput {
		return writeJSON(a.stdout, view)
	}

	if err := a.printOutcomes(view.Outcomes); err != nil {
		return err
	}
	if view.Latest != nil {
		fmt.Fprintf(a.stdout, "\nLatest cycle at %s (not recorded):\n", view.Latest.GeneratedAt.Local().Format(time.RFC3339))
		if err := a.printOutcomes(view.Latest.Outcomes); err != nil {
			return err
		}
	}

	fmt.Fprintln(a.stdout)
	switch {
	case view.Total > 0 && view.Healthy == view.Total:
		fmt.Fprintf(a.stdout, "All %d services healthy in %s\n", view.Total, view.Environment)
	default:
		fmt.Fprintf(a.stdout, "%d/%d services healthy in %s\n", view.Healthy, view.Total, view.Environment)
	}
	return nil
}

func (a *app) printOutcomes(outcomes []server.OutcomeView) error {
	t := newTable(a.stdout, "SERVICE", "HOST", "STATUS", "LATENCY", "ATTEMPTS", "DETAIL")
	for _, outcome := range outcomes {
		detail := outcome.Message
		if outcome.Error != "" {
			detail = strings.TrimSpace(detail + " (" + outcome.Error + ")")
		}
		t.row(
			outcome.Target,
			outcome.Host,
			outcome.Status,
			fmt.Sprintf("%dms", outcome.LatencyMS),
			strconv.Itoa(outcome.Attempts),
			orDash(oneLine(detail)),
		)
	}
	return t.flush()
}
