package config

import (
	"bytes"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"text/template"

	"github.com/kballard/go-shellquote"
)

const (
	defaultSSHPort      = 22
	defaultExpectToken  = "running"
	hostFallbackCommand = "uptime"
)

var regionPattern = regexp.MustCompile(`^[a-z]{2}(-[a-z]+)+-\d+$`)

var environmentAliases = map[string]string{
	"prod":    "production",
	"staging": "stage",
	"dev":     "development",
}

// Resolved is the validated configuration.
type Resolved struct {
	Active       string
	Region       string
	Profile      string
	Environments []Environment
}

// Environment is a named deployment and its probe targets.
type Environment struct {
	Name    string
	Region  string
	Host    string
	Targets []ServiceTarget
}

// ServiceTarget is one service to probe within an environment.
type ServiceTarget struct {
	Name        string
	Environment string
	Type        string
	Container   string
	Host        string
	SSHPort     int
	Port        int
	User        string
	KeyPath     string
	Command     string
	Expect      string
}

// Lookup returns the environment with the given name.
func (r Resolved) Lookup(name string) (Environment, bool) {
	for _, env := range r.Environments {
		if env.Name == name {
			return env, true
		}
	}
	return Environment{}, false
}

// ActiveEnvironment returns the environment selected during resolution.
func (r Resolved) ActiveEnvironment() Environment {
	env, _ := r.Lookup(r.Active)
	return env
}

// Names lists environment names in sorted order.
func (r Resolved) Names() []string {
	names := make([]string, 0, len(r.Environments))
	for _, env := range r.Environments {
		names = append(names, env.Name)
	}
	return names
}

// TargetNames lists target names in configured order.
func (e Environment) TargetNames() []string {
	names := make([]string, 0, len(e.Targets))
	for _, target := range e.Targets {
		names = append(names, target.Name)
	}
	return names
}

// Filter returns a copy holding only targets of the given type whose name
// contains substr. Empty arguments match everything.
func (e Environment) Filter(serviceType, substr string) Environment {
	out := e
	out.Targets = make([]ServiceTarget, 0, len(e.Targets))
	substr = strings.ToLower(substr)
	for _, target := range e.Targets {
		if serviceType != "" && target.Type != serviceType {
			continue
		}
		if substr != "" && !strings.Contains(strings.ToLower(target.Name), substr) {
			continue
		}
		out.Targets = append(out.Targets, target)
	}
	return out
}

// Resolve validates the file against the overrides and produces immutable
// environments. It never touches the network.
func Resolve(f File, overrides Overrides) (Resolved, error) {
	region := strings.TrimSpace(f.AWS.Region)
	if !regionPattern.MatchString(region) {
		return Resolved{}, &Error{
			Kind:    KindInvalidRegion,
			Message: fmt.Sprintf("region %q is not a valid AWS region", region),
		}
	}

	active := strings.TrimSpace(overrides.Environment)
	if active == "" {
		active = strings.TrimSpace(f.Environment)
	}
	if active == "" {
		return Resolved{}, &Error{Kind: KindNoActiveEnvironment, Message: "no active environment selected"}
	}
	active = canonicalName(active, f.EC2)
	if _, ok := f.EC2[active]; !ok {
		return Resolved{}, &Error{
			Kind:        KindMissingEnvironment,
			Environment: active,
			Message:     "environment is not defined",
		}
	}

	names := make([]string, 0, len(f.EC2))
	for name := range f.EC2 {
		names = append(names, name)
	}
	sort.Strings(names)

	resolved := Resolved{
		Active:       active,
		Region:       region,
		Profile:      strings.TrimSpace(f.AWS.Profile),
		Environments: make([]Environment, 0, len(names)),
	}
	for _, name := range names {
		env, err := resolveEnvironment(name, f, region, overrides.KeyPath)
		if err != nil {
			return Resolved{}, err
		}
		resolved.Environments = append(resolved.Environments, env)
	}
	return resolved, nil
}

func canonicalName(name string, environments map[string]EC2Config) string {
	if _, ok := environments[name]; ok {
		return name
	}
	if alias, ok := environmentAliases[strings.ToLower(name)]; ok {
		if _, exists := environments[alias]; exists {
			return alias
		}
	}
	return name
}

func resolveEnvironment(name string, f File, region, keyOverride string) (Environment, error) {
	ec2 := f.EC2[name]
	env := Environment{
		Name:   name,
		Region: region,
		Host:   strings.TrimSpace(ec2.Host),
	}

	port := ec2.Port
	if port == 0 {
		port = defaultSSHPort
	}

	if len(f.Services) == 0 {
		target := ServiceTarget{
			Name:        env.Host,
			Environment: name,
			Type:        ServiceTypeCore,
			Host:        env.Host,
			SSHPort:     port,
			User:        strings.TrimSpace(ec2.User),
			KeyPath:     pickKey(keyOverride, "", ec2.KeyPath),
			Command:     hostFallbackCommand,
		}
		if target.Name == "" {
			target.Name = name
		}
		if err := checkTarget(target); err != nil {
			return Environment{}, err
		}
		env.Targets = []ServiceTarget{target}
		return env, nil
	}

	for _, svc := range f.Services {
		if !appliesTo(svc, name) {
			continue
		}
		target := ServiceTarget{
			Name:        strings.TrimSpace(svc.Name),
			Environment: name,
			Type:        svc.Type,
			Container:   strings.TrimSpace(svc.Container),
			Host:        firstNonEmpty(svc.Host, ec2.Host),
			SSHPort:     port,
			Port:        svc.Port,
			User:        firstNonEmpty(svc.User, ec2.User),
			KeyPath:     pickKey(keyOverride, svc.KeyPath, ec2.KeyPath),
		}
		if target.Type == "" {
			target.Type = ServiceTypeCore
		}
		if err := checkTarget(target); err != nil {
			return Environment{}, err
		}

		command, expect, err := renderCommand(svc, target)
		if err != nil {
			return Environment{}, &Error{
				Kind:        KindInvalidFile,
				Environment: name,
				Target:      target.Name,
				Message:     "render command",
				Err:         err,
			}
		}
		if err := ValidateCommand(command); err != nil {
			return Environment{}, &Error{
				Kind:        KindUnsafeCommand,
				Environment: name,
				Target:      target.Name,
				Message:     fmt.Sprintf("command %q is not read-only", command),
				Err:         err,
			}
		}
		target.Command = command
		target.Expect = expect
		env.Targets = append(env.Targets, target)
	}
	return env, nil
}

func checkTarget(target ServiceTarget) error {
	var missing []string
	if target.Host == "" {
		missing = append(missing, "host")
	}
	if target.User == "" {
		missing = append(missing, "user")
	}
	if target.KeyPath == "" {
		missing = append(missing, "key path")
	}
	if len(missing) == 0 {
		return nil
	}
	return &Error{
		Kind:        KindIncompleteTarget,
		Environment: target.Environment,
		Target:      target.Name,
		Message:     "missing " + strings.Join(missing, ", "),
	}
}

func appliesTo(svc ServiceConfig, environment string) bool {
	if len(svc.Environments) == 0 {
		return true
	}
	for _, name := range svc.Environments {
		if strings.TrimSpace(name) == environment {
			return true
		}
	}
	return false
}

// pickKey applies key precedence: override, then service, then environment.
func pickKey(override, service, environment string) string {
	return ExpandTilde(firstNonEmpty(override, service, environment))
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if v := strings.TrimSpace(value); v != "" {
			return v
		}
	}
	return ""
}

type commandData struct {
	Name        string
	Container   string
	Port        int
	Host        string
	Environment string
}

var commandFuncs = template.FuncMap{
	"quote": func(value any) string {
		return shellquote.Join(fmt.Sprint(value))
	},
}

func renderCommand(svc ServiceConfig, target ServiceTarget) (string, string, error) {
	if strings.TrimSpace(svc.Command) == "" {
		container := target.Container
		if container == "" {
			container = target.Name
		}
		expect := defaultExpectToken
		if svc.Expect != nil {
			expect = strings.TrimSpace(*svc.Expect)
		}
		return shellquote.Join("docker", "inspect", "--format", "{{.State.Status}}", container), expect, nil
	}

	tmpl, err := template.New(target.Name).Funcs(commandFuncs).Option("missingkey=error").Parse(svc.Command)
	if err != nil {
		return "", "", err
	}
	var buf bytes.Buffer
	data := commandData{
		Name:        target.Name,
		Container:   target.Container,
		Port:        target.Port,
		Host:        target.Host,
		Environment: target.Environment,
	}
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", "", err
	}

	expect := ""
	if svc.Expect != nil {
		expect = strings.TrimSpace(*svc.Expect)
	}
	return strings.TrimSpace(buf.String()), expect, nil
}
