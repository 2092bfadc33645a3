package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"

	"gopkg.in/yaml.v3"
)

var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// ConfigFileName is the file looked up when a directory is given.
const ConfigFileName = "config.yaml"

// Load reads, interpolates, defaults, verifies and validates the configuration
// at configPath (a file, or a directory containing config.yaml).
func Load(configPath string) (*Config, error) {
	absPath, err := ResolvePath(configPath)
	if err != nil {
		return nil, err
	}

	cfg, err := loadConfigFile(absPath)
	if err != nil {
		return nil, err
	}

	cfg = applyConfigDefaults(cfg)

	if err := verifyConfigHash(absPath); err != nil {
		return nil, err
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// ResolvePath turns configPath into the absolute path of the config file.
func ResolvePath(configPath string) (string, error) {
	absPath, err := filepath.Abs(configPath)
	if err != nil {
		return "", fmt.Errorf("failed to resolve config path %q: %w", configPath, err)
	}

	info, err := os.Stat(absPath)
	if err != nil {
		return "", fmt.Errorf("config file not found: %s\n"+
			"Hint: Check the path or run with --config flag", absPath)
	}

	if info.IsDir() {
		absPath = filepath.Join(absPath, ConfigFileName)
		if _, err := os.Stat(absPath); err != nil {
			return "", fmt.Errorf("directory provided but %s not found: %s", ConfigFileName, absPath)
		}
	}
	return absPath, nil
}

// DiscoverConfigDir finds the config by checking standard locations.
// Priority order: $STTGW_CONFIG_DIR, ~/.config/sttgw, /etc/sttgw, ./config.yaml
func DiscoverConfigDir() (string, error) {
	if dir := os.Getenv("STTGW_CONFIG_DIR"); dir != "" {
		if _, err := os.Stat(dir); err == nil {
			return dir, nil
		}
	}

	if homeDir, err := os.UserHomeDir(); err == nil {
		userConfigDir := filepath.Join(homeDir, ".config", "sttgw")
		if _, err := os.Stat(userConfigDir); err == nil {
			return userConfigDir, nil
		}
	}

	systemConfigDir := "/etc/sttgw"
	if _, err := os.Stat(systemConfigDir); err == nil {
		return systemConfigDir, nil
	}

	localConfigPath := "./" + ConfigFileName
	if _, err := os.Stat(localConfigPath); err == nil {
		return localConfigPath, nil
	}

	return "", fmt.Errorf("no config found (checked: $STTGW_CONFIG_DIR, ~/.config/sttgw, /etc/sttgw, ./config.yaml)")
}

func loadConfigFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}

	interpolated := interpolateEnv(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(interpolated), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	return &cfg, nil
}

// verifyConfigHash checks the config file against .checksums when the
// manifest exists next to it. A missing manifest skips verification.
func verifyConfigHash(path string) error {
	dir := filepath.Dir(path)
	checksums, err := LoadChecksums(dir)
	if err != nil {
		if errors.Is(err, ErrNoChecksums) {
			return nil
		}
		return err
	}

	basename := filepath.Base(path)
	expectedHash, ok := checksums.Hashes[basename]
	if !ok {
		return fmt.Errorf("config file %s has no hash in checksums at %s\n"+
			"Run: sttgw config lock --config %s", basename, dir, path)
	}

	if err := VerifyFileHash(path, expectedHash); err != nil {
		return fmt.Errorf("config verification failed for %s: %w\n"+
			"This indicates tampering or unauthorized modification.\n"+
			"If you edited this file intentionally, run: sttgw config lock --config %s", path, err, path)
	}
	return nil
}

// applyConfigDefaults merges default values into config where not explicitly set.
func applyConfigDefaults(cfg *Config) *Config {
	defaults := Defaults()

	if cfg.Service.Name == "" {
		cfg.Service.Name = defaults.Service.Name
	}
	if cfg.Service.LogLevel == "" {
		cfg.Service.LogLevel = defaults.Service.LogLevel
	}
	if cfg.Service.LogFormat == "" {
		cfg.Service.LogFormat = defaults.Service.LogFormat
	}

	if cfg.State.Path == "" {
		cfg.State.Path = defaults.State.Path
	}
	if cfg.State.Retention == 0 {
		cfg.State.Retention = defaults.State.Retention
	}

	if !cfg.API.Enabled && cfg.API.Listen == "" {
		cfg.API.Listen = defaults.API.Listen
	}
	if cfg.API.Enabled && cfg.API.Listen == "" {
		cfg.API.Listen = defaults.API.Listen
	}

	cfg.Worker = mergeWorkerDefaults(cfg.Worker)
	return cfg
}

// mergeWorkerDefaults fills unset worker fields. Default args only apply when
// the command is defaulted too.
func mergeWorkerDefaults(w WorkerConfig) WorkerConfig {
	defaults := DefaultWorkerConf()

	if w.Command == "" {
		w.Command = defaults.Command
		if len(w.Args) == 0 {
			w.Args = defaults.Args
		}
	}
	if w.ReadyToken == "" {
		w.ReadyToken = defaults.ReadyToken
	}
	if w.Protocol == "" {
		w.Protocol = defaults.Protocol
	}
	if w.JobTimeout == 0 {
		w.JobTimeout = defaults.JobTimeout
	}
	if w.StopGrace == 0 {
		w.StopGrace = defaults.StopGrace
	}

	r := &w.Restart
	if r.Strategy == "" {
		r.Strategy = defaults.Restart.Strategy
	}
	if r.InitialDelay == 0 {
		r.InitialDelay = defaults.Restart.InitialDelay
	}
	if r.MaxDelay == 0 {
		r.MaxDelay = defaults.Restart.MaxDelay
	}
	if r.AlertAfter == 0 {
		r.AlertAfter = defaults.Restart.AlertAfter
	}
	return w
}

// interpolateEnv replaces ${VAR} with environment variable values.
// Undefined variables are left as-is (not expanded).
func interpolateEnv(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		varName := envVarPattern.FindStringSubmatch(match)[1]
		if value, exists := os.LookupEnv(varName); exists {
			return value
		}
		return match
	})
}

// validate performs basic validation on the configuration.
func validate(cfg *Config) error {
	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[cfg.Service.LogLevel] {
		return fmt.Errorf("service.log_level must be one of: debug, info, warn, error (got %q)", cfg.Service.LogLevel)
	}
	if cfg.Service.LogFormat != "json" && cfg.Service.LogFormat != "text" {
		return fmt.Errorf("service.log_format must be json or text (got %q)", cfg.Service.LogFormat)
	}

	if cfg.State.Path == "" {
		return fmt.Errorf("state.path is required")
	}
	if cfg.State.Retention < 0 {
		return fmt.Errorf("state.retention must not be negative")
	}

	if cfg.API.Enabled {
		if err := checkUnresolved("api.auth.api_key", cfg.API.Auth.APIKey); err != nil {
			return err
		}
		if cfg.API.Auth.APIKey == "" && len(cfg.API.Auth.Tokens) == 0 {
			return fmt.Errorf("api.auth: api_key or tokens required when api is enabled")
		}
		for i, tok := range cfg.API.Auth.Tokens {
			if tok.Token == "" {
				return fmt.Errorf("api.auth.tokens[%d].token is required", i)
			}
			if err := checkUnresolved(fmt.Sprintf("api.auth.tokens[%d].token", i), tok.Token); err != nil {
				return err
			}
			if len(tok.Scopes) == 0 {
				return fmt.Errorf("api.auth.tokens[%d].scopes must be non-empty", i)
			}
		}
	}

	return validateWorker(cfg.Worker)
}

func validateWorker(w WorkerConfig) error {
	if w.Command == "" {
		return fmt.Errorf("worker.command is required")
	}
	if err := checkUnresolved("worker.command", w.Command); err != nil {
		return err
	}
	for i, arg := range w.Args {
		if err := checkUnresolved(fmt.Sprintf("worker.args[%d]", i), arg); err != nil {
			return err
		}
	}
	for k, v := range w.Env {
		if err := checkUnresolved("worker.env."+k, v); err != nil {
			return err
		}
	}

	if w.Protocol != "line" && w.Protocol != "json" {
		return fmt.Errorf("worker.protocol must be line or json (got %q)", w.Protocol)
	}
	if w.JobTimeout <= 0 {
		return fmt.Errorf("worker.job_timeout must be positive")
	}
	if w.StopGrace < 0 {
		return fmt.Errorf("worker.stop_grace must not be negative")
	}

	r := w.Restart
	switch r.Strategy {
	case "constant", "exponential", "jitter":
	default:
		return fmt.Errorf("worker.restart.strategy must be one of constant, exponential, jitter (got %q)", r.Strategy)
	}
	if r.InitialDelay <= 0 {
		return fmt.Errorf("worker.restart.initial_delay must be positive")
	}
	if r.Strategy != "constant" && r.MaxDelay < r.InitialDelay {
		return fmt.Errorf("worker.restart.max_delay must be >= initial_delay")
	}
	if r.AlertAfter < 0 || r.GiveUpAfter < 0 {
		return fmt.Errorf("worker.restart thresholds must not be negative")
	}
	return nil
}

// checkUnresolved reports a ${VAR} placeholder left after interpolation.
func checkUnresolved(field, value string) error {
	if !envVarPattern.MatchString(value) {
		return nil
	}
	matches := envVarPattern.FindStringSubmatch(value)
	if len(matches) > 1 {
		return fmt.Errorf("%s: environment variable ${%s} is not set", field, matches[1])
	}
	return fmt.Errorf("%s: unresolved environment variable", field)
}
