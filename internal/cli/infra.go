package cli

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/nholik/ssh-sentinel/internal/config"
	"github.com/nholik/ssh-sentinel/internal/infra"
)

type instanceRow struct {
	infra.Instance
	Environments []string `json:"environments,omitempty"`
}

type infraOutput struct {
	infra.Status
	Instances []instanceRow `json:"ec2_instances"`
}

func newInfraCommand(a *app) *cobra.Command {
	var all bool
	cmd := &cobra.Command{
		Use:   "infra",
		Short: "List AWS resources in the configured region",
		Long: `List EC2 instances in the configured region and mark the ones that back a
configured environment, matched by DNS name or IP address.

With --all, ECS clusters and services, RDS instances and load balancer target
health are listed too. A section the credentials cannot read is reported and
skipped.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			resolved, err := a.resolve()
			if err != nil {
				return err
			}
			if resolved.Region == "" {
				return errors.New("no aws region configured")
			}
			inventory, err := a.newInventory(cmd.Context(), resolved.Region, resolved.Profile, a.logger)
			if err != nil {
				return err
			}

			if !all {
				instances, err := inventory.Instances(cmd.Context())
				if err != nil {
					return err
				}
				rows := markEnvironments(instances, resolved)
				if a.jsonOutput {
					return writeJSON(a.stdout, rows)
				}
				if err := a.printInstances(rows); err != nil {
					return err
				}
				fmt.Fprintf(a.stdout, "\n%d instances in %s\n", len(rows), inventory.Region())
				return nil
			}

			status, err := inventory.Status(cmd.Context())
			if err != nil {
				return err
			}
			out := infraOutput{Status: status, Instances: markEnvironments(status.Instances, resolved)}
			if a.jsonOutput {
				return writeJSON(a.stdout, out)
			}
			return a.printInfra(out)
		},
	}
	cmd.Flags().BoolVarP(&all, "all", "a", false, "Include ECS, RDS and load balancers")
	return cmd
}

func markEnvironments(instances []infra.Instance, resolved config.Resolved) []instanceRow {
	rows := make([]instanceRow, 0, len(instances))
	index := make(map[string]int, len(instances))
	for i, instance := range instances {
		rows = append(rows, instanceRow{Instance: instance})
		index[instance.ID] = i
	}
	for _, env := range resolved.Environments {
		if match, ok := infra.MatchHost(instances, env.Host); ok {
			i := index[match.ID]
			rows[i].Environments = append(rows[i].Environments, env.Name)
		}
	}
	return rows
}

func (a *app) printInstances(rows []instanceRow) error {
	t := newTable(a.stdout, "INSTANCE", "NAME", "STATE", "TYPE", "PUBLIC IP", "PRIVATE IP", "ENVIRONMENT")
	for _, row := range rows {
		t.row(row.ID, orDash(row.Name), orDash(row.State), orDash(row.Type), orDash(row.PublicIP), orDash(row.PrivateIP), orDash(strings.Join(row.Environments, ",")))
	}
	return t.flush()
}

func (a *app) printInfra(out infraOutput) error {
	fmt.Fprintf(a.stdout, "EC2 instances (%d)\n", len(out.Instances))
	if err := a.printInstances(out.Instances); err != nil {
		return err
	}

	fmt.Fprintf(a.stdout, "\nECS services (%d)\n", len(out.ECSServices))
	t := newTable(a.stdout, "CLUSTER", "SERVICE", "STATUS", "RUNNING", "PENDING", "DESIRED")
	for _, svc := range out.ECSServices {
		t.row(svc.Cluster, svc.Name, orDash(svc.Status), itoa(svc.Running), itoa(svc.Pending), itoa(svc.Desired))
	}
	if err := t.flush(); err != nil {
		return err
	}

	fmt.Fprintf(a.stdout, "\nRDS instances (%d)\n", len(out.Databases))
	t = newTable(a.stdout, "IDENTIFIER", "ENGINE", "STATUS", "CLASS", "ENDPOINT")
	for _, db := range out.Databases {
		t.row(db.Identifier, orDash(strings.TrimSpace(db.Engine+" "+db.EngineVersion)), orDash(db.Status), orDash(db.Class), orDash(db.Endpoint))
	}
	if err := t.flush(); err != nil {
		return err
	}

	fmt.Fprintf(a.stdout, "\nLoad balancers (%d)\n", len(out.LoadBalancers))
	t = newTable(a.stdout, "NAME", "STATE", "TARGET GROUP", "HEALTHY", "UNHEALTHY")
	for _, lb := range out.LoadBalancers {
		if len(lb.TargetGroups) == 0 {
			t.row(lb.Name, orDash(lb.State), "-", "-", "-")
		}
		for _, group := range lb.TargetGroups {
			t.row(lb.Name, orDash(lb.State), group.Name, strconv.Itoa(group.Healthy), strconv.Itoa(group.Unhealthy))
		}
	}
	if err := t.flush(); err != nil {
		return err
	}

	if len(out.Errors) > 0 {
		sections := make([]string, 0, len(out.Errors))
		for section := range out.Errors {
			sections = append(sections, section)
		}
		sort.Strings(sections)
		fmt.Fprintln(a.stdout)
		for _, section := range sections {
			fmt.Fprintf(a.stdout, "warning: %s: %s\n", section, oneLine(out.Errors[section]))
		}
	}
	fmt.Fprintf(a.stdout, "\nRegion %s, updated %s\n", out.Region, out.UpdatedAt.Local().Format("2006-01-02 15:04:05"))
	return nil
}

func itoa(n int32) string {
	return strconv.FormatInt(int64(n), 10)
}
