package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	envActiveEnvironment = "SS_ENV"
	envSSHKey            = "SS_SSH_KEY"
	envLogLevel          = "SS_LOG_LEVEL"
	envListenAddr        = "SS_LISTEN_ADDR"
	envConfigPath        = "SS_CONFIG_PATH"
	envStatePath         = "SS_STATE_PATH"
	envConnectTimeout    = "SS_CONNECT_TIMEOUT"
	envExecTimeout       = "SS_EXEC_TIMEOUT"
	envProbeRetries      = "SS_PROBE_RETRIES"
	envRetryBackoff      = "SS_RETRY_BACKOFF"
	envPollInterval      = "SS_POLL_INTERVAL"
	envKnownHosts        = "SS_KNOWN_HOSTS"
	envSlackWebhookURL   = "SS_SLACK_WEBHOOK_URL"
	envWebhookURL        = "SS_WEBHOOK_URL"
	envWebhookTemplate   = "SS_WEBHOOK_TEMPLATE"
	envDryRun            = "SS_DRY_RUN"
)

const (
	defaultLogLevel       = "info"
	defaultListenAddr     = "0.0.0.0:8080"
	defaultConfigPath     = "~/.config/ssh-sentinel/config.yaml"
	defaultStatePath      = "~/.local/state/ssh-sentinel/state.json"
	defaultConnectTimeout = 10 * time.Second
	defaultExecTimeout    = 15 * time.Second
	defaultRetryBackoff   = time.Second

	// MaxProbeRetries bounds retries so one bad target cannot stall a cycle.
	MaxProbeRetries = 5
)

// Config describes runtime configuration loaded from the environment.
type Config struct {
	Overrides       Overrides
	LogLevel        string
	ListenAddr      string
	ConfigPath      string
	StatePath       string
	ConnectTimeout  time.Duration
	ExecTimeout     time.Duration
	ProbeRetries    int
	RetryBackoff    time.Duration
	PollInterval    time.Duration
	KnownHostsPath  string
	SlackWebhookURL string
	WebhookURL      string
	WebhookTemplate string
	DryRun          bool
}

// Overrides are operator-supplied values that win over the config file.
type Overrides struct {
	Environment string
	KeyPath     string
}

// Load reads configuration from environment variables and a local .env file if present.
// Existing environment variables take precedence over values in .env.
func Load() (Config, error) {
	if err := loadDotEnvIfPresent(".env"); err != nil {
		return Config{}, &Error{Kind: KindInvalidSetting, Message: "load .env", Err: err}
	}

	cfg := Config{
		LogLevel:       defaultLogLevel,
		ListenAddr:     defaultListenAddr,
		ConfigPath:     ExpandTilde(defaultConfigPath),
		StatePath:      ExpandTilde(defaultStatePath),
		ConnectTimeout: defaultConnectTimeout,
		ExecTimeout:    defaultExecTimeout,
		RetryBackoff:   defaultRetryBackoff,
	}

	if value, ok := lookupTrimmed(envActiveEnvironment); ok {
		cfg.Overrides.Environment = value
	}
	if value, ok := lookupTrimmed(envSSHKey); ok {
		cfg.Overrides.KeyPath = value
	}
	if value, ok := lookupTrimmed(envLogLevel); ok && value != "" {
		cfg.LogLevel = value
	}
	if value, ok := lookupTrimmed(envListenAddr); ok && value != "" {
		cfg.ListenAddr = value
	}
	if value, ok := lookupTrimmed(envConfigPath); ok && value != "" {
		cfg.ConfigPath = ExpandTilde(value)
	}
	if value, ok := lookupTrimmed(envStatePath); ok && value != "" {
		cfg.StatePath = ExpandTilde(value)
	}
	if value, ok := lookupTrimmed(envKnownHosts); ok && value != "" {
		cfg.KnownHostsPath = ExpandTilde(value)
	}

	var err error
	if cfg.ConnectTimeout, err = positiveDuration(envConnectTimeout, cfg.ConnectTimeout); err != nil {
		return Config{}, err
	}
	if cfg.ExecTimeout, err = positiveDuration(envExecTimeout, cfg.ExecTimeout); err != nil {
		return Config{}, err
	}
	if cfg.RetryBackoff, err = positiveDuration(envRetryBackoff, cfg.RetryBackoff); err != nil {
		return Config{}, err
	}

	if value, ok := lookupTrimmed(envPollInterval); ok && value != "" {
		interval, err := time.ParseDuration(value)
		if err != nil {
			return Config{}, invalidSetting(envPollInterval, err)
		}
		if interval < 0 {
			return Config{}, &Error{Kind: KindInvalidSetting, Message: envPollInterval + " cannot be negative"}
		}
		cfg.PollInterval = interval
	}

	if value, ok := lookupTrimmed(envProbeRetries); ok && value != "" {
		retries, err := strconv.Atoi(value)
		if err != nil {
			return Config{}, invalidSetting(envProbeRetries, err)
		}
		if retries < 0 || retries > MaxProbeRetries {
			return Config{}, &Error{Kind: KindInvalidSetting, Message: fmt.Sprintf("%s must be between 0 and %d", envProbeRetries, MaxProbeRetries)}
		}
		cfg.ProbeRetries = retries
	}

	if value, ok := lookupTrimmed(envSlackWebhookURL); ok && value != "" {
		if err := validateURL(value, envSlackWebhookURL); err != nil {
			return Config{}, err
		}
		cfg.SlackWebhookURL = value
	}
	if value, ok := lookupTrimmed(envWebhookURL); ok && value != "" {
		if err := validateURL(value, envWebhookURL); err != nil {
			return Config{}, err
		}
		cfg.WebhookURL = value
	}
	if value, ok := os.LookupEnv(envWebhookTemplate); ok {
		cfg.WebhookTemplate = value
	}
	if value, ok := lookupTrimmed(envDryRun); ok && value != "" {
		dryRun, err := strconv.ParseBool(value)
		if err != nil {
			return Config{}, invalidSetting(envDryRun, err)
		}
		cfg.DryRun = dryRun
	}

	return cfg, nil
}

// ExpandTilde replaces a leading "~/" with the user's home directory.
func ExpandTilde(path string) string {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return path
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~"))
}

func positiveDuration(key string, fallback time.Duration) (time.Duration, error) {
	value, ok := lookupTrimmed(key)
	if !ok || value == "" {
		return fallback, nil
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return 0, invalidSetting(key, err)
	}
	if parsed <= 0 {
		return 0, &Error{Kind: KindInvalidSetting, Message: key + " must be greater than zero"}
	}
	return parsed, nil
}

func lookupTrimmed(key string) (string, bool) {
	value, ok := os.LookupEnv(key)
	if !ok {
		return "", false
	}
	return strings.TrimSpace(value), true
}

func loadDotEnvIfPresent(path string) error {
	err := godotenv.Load(path)
	if err == nil {
		return nil
	}

	var pathErr *os.PathError
	if errors.As(err, &pathErr) && errors.Is(pathErr.Err, os.ErrNotExist) {
		return nil
	}

	return err
}

func validateURL(value, name string) error {
	parsed, err := url.Parse(value)
	if err != nil {
		return invalidSetting(name, err)
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return &Error{Kind: KindInvalidSetting, Message: "invalid " + name + ": must include scheme and host"}
	}
	return nil
}

func invalidSetting(key string, err error) error {
	return &Error{Kind: KindInvalidSetting, Message: "invalid " + key, Err: err}
}
