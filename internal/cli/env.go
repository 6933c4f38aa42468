package cli

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/nholik/ssh-sentinel/internal/config"
)

type environmentSummary struct {
	Name    string `json:"name"`
	Region  string `json:"region"`
	Host    string `json:"host"`
	Targets int    `json:"targets"`
	Core    int    `json:"core"`
	MCP     int    `json:"mcp"`
	Active  bool   `json:"active"`
}

type envOutput struct {
	Active       string               `json:"active"`
	Region       string               `json:"region"`
	Profile      string               `json:"profile,omitempty"`
	Environments []environmentSummary `json:"environments"`
}

func newEnvCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "env",
		Short: "Show the active environment and its targets",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			resolved, err := a.resolve()
			if err != nil {
				return err
			}

			out := envOutput{Active: resolved.Active, Region: resolved.Region, Profile: resolved.Profile}
			for _, env := range resolved.Environments {
				summary := environmentSummary{
					Name:    env.Name,
					Region:  env.Region,
					Host:    env.Host,
					Targets: len(env.Targets),
					Active:  env.Name == resolved.Active,
				}
				for _, target := range env.Targets {
					switch target.Type {
					case config.ServiceTypeCore:
						summary.Core++
					case config.ServiceTypeMCP:
						summary.MCP++
					}
				}
				out.Environments = append(out.Environments, summary)
			}

			if a.jsonOutput {
				return writeJSON(a.stdout, out)
			}

			fmt.Fprintf(a.stdout, "Environment: %s\n", out.Active)
			fmt.Fprintf(a.stdout, "Region: %s\n", out.Region)
			if out.Profile != "" {
				fmt.Fprintf(a.stdout, "AWS profile: %s\n", out.Profile)
			}
			fmt.Fprintln(a.stdout)

			t := newTable(a.stdout, "", "NAME", "HOST", "TARGETS", "CORE", "MCP")
			for _, env := range out.Environments {
				marker := ""
				if env.Active {
					marker = "*"
				}
				t.row(marker, env.Name, env.Host, strconv.Itoa(env.Targets), strconv.Itoa(env.Core), strconv.Itoa(env.MCP))
			}
			return t.flush()
		},
	}
}
