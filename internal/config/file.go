package config

import (
	"context"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Service types understood by the filters.
const (
	ServiceTypeCore = "core"
	ServiceTypeMCP  = "mcp"
)

// File is the parsed YAML configuration file.
type File struct {
	Environment string               `yaml:"environment"`
	EC2         map[string]EC2Config `yaml:"ec2"`
	AWS         AWSConfig            `yaml:"aws"`
	Services    []ServiceConfig      `yaml:"services"`
}

// EC2Config is the SSH endpoint that backs one environment.
type EC2Config struct {
	Host    string `yaml:"host"`
	User    string `yaml:"user"`
	KeyPath string `yaml:"keyPath"`
	Port    int    `yaml:"port,omitempty"`
}

// AWSConfig selects the region and optional shared-config profile.
type AWSConfig struct {
	Region  string `yaml:"region"`
	Profile string `yaml:"profile,omitempty"`
}

// ServiceConfig describes one service to probe. Host, user and key path
// override the environment's values when set.
type ServiceConfig struct {
	Name         string   `yaml:"name"`
	Type         string   `yaml:"type,omitempty"`
	Container    string   `yaml:"container,omitempty"`
	Port         int      `yaml:"port,omitempty"`
	Command      string   `yaml:"command,omitempty"`
	Expect       *string  `yaml:"expect,omitempty"`
	Environments []string `yaml:"environments,omitempty"`
	Host         string   `yaml:"host,omitempty"`
	User         string   `yaml:"user,omitempty"`
	KeyPath      string   `yaml:"keyPath,omitempty"`
}

// LoadFile reads and parses a configuration file. An http(s) URL is fetched
// instead of read from disk.
func LoadFile(path string) (File, error) {
	if isURL(path) {
		data, err := fetchFile(context.Background(), path, fetchTimeout)
		if err != nil {
			return File{}, &Error{Kind: KindInvalidFile, Message: "fetch config file", Err: err}
		}
		return ParseFile(data)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return File{}, &Error{Kind: KindInvalidFile, Message: "read config file", Err: err}
	}
	return ParseFile(data)
}

// ParseFile parses configuration from YAML (or JSON) bytes.
func ParseFile(data []byte) (File, error) {
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return File{}, &Error{Kind: KindInvalidFile, Message: "parse config file", Err: err}
	}
	if err := validateServices(f.Services); err != nil {
		return File{}, err
	}
	return f, nil
}

func validateServices(services []ServiceConfig) error {
	seen := make(map[string]bool, len(services))
	for i, svc := range services {
		name := strings.TrimSpace(svc.Name)
		if name == "" {
			return &Error{Kind: KindInvalidFile, Message: fmt.Sprintf("service %d: name is required", i)}
		}
		if seen[name] {
			return &Error{Kind: KindInvalidFile, Message: fmt.Sprintf("service %q: duplicate name", name)}
		}
		seen[name] = true

		switch svc.Type {
		case "", ServiceTypeCore, ServiceTypeMCP:
		default:
			return &Error{Kind: KindInvalidFile, Message: fmt.Sprintf("service %q: unknown type %q", name, svc.Type)}
		}
		if svc.Port < 0 || svc.Port > 65535 {
			return &Error{Kind: KindInvalidFile, Message: fmt.Sprintf("service %q: port out of range", name)}
		}
	}
	return nil
}
