package config

import "time"

// Config represents the complete sttgw configuration.
type Config struct {
	Service ServiceConfig `yaml:"service"`
	State   StateConfig   `yaml:"state"`
	API     APIConfig     `yaml:"api,omitempty"`
	Worker  WorkerConfig  `yaml:"worker"`
}

// ServiceConfig defines core service settings.
type ServiceConfig struct {
	Name      string `yaml:"name"`
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`
}

// StateConfig defines journal storage settings.
type StateConfig struct {
	Path      string        `yaml:"path"`
	Retention time.Duration `yaml:"retention,omitempty"`
}

// APIConfig defines HTTP API server settings.
type APIConfig struct {
	Enabled bool   `yaml:"enabled"`
	Listen  string `yaml:"listen"`
	// FallbackOnError turns failed transcriptions into 200 responses with empty text.
	FallbackOnError bool          `yaml:"fallback_on_error,omitempty"`
	Auth            APIAuthConfig `yaml:"auth"`
}

// APIAuthConfig defines API authentication settings.
type APIAuthConfig struct {
	// APIKey is the legacy single bearer token (admin/full access).
	// Prefer Tokens for scoped access.
	APIKey string     `yaml:"api_key"`
	Tokens []APIToken `yaml:"tokens,omitempty"`
}

// APIToken defines a bearer token and its scopes.
type APIToken struct {
	Token  string   `yaml:"token"`
	Scopes []string `yaml:"scopes"`
}

// WorkerConfig describes the supervised transcription process.
type WorkerConfig struct {
	Command       string            `yaml:"command"`
	Args          []string          `yaml:"args,omitempty"`
	Dir           string            `yaml:"dir,omitempty"`
	Env           map[string]string `yaml:"env,omitempty"`
	PythonPath    []string          `yaml:"python_path,omitempty"`
	ReadyToken    string            `yaml:"ready_token"`
	Protocol      string            `yaml:"protocol"` // line | json
	JobTimeout    time.Duration     `yaml:"job_timeout"`
	KillOnTimeout bool              `yaml:"kill_on_timeout"`
	StopGrace     time.Duration     `yaml:"stop_grace"`
	Restart       RestartConfig     `yaml:"restart"`
}

// RestartConfig defines how a crashed worker is brought back.
type RestartConfig struct {
	Strategy     string        `yaml:"strategy"` // constant | exponential | jitter
	InitialDelay time.Duration `yaml:"initial_delay"`
	MaxDelay     time.Duration `yaml:"max_delay"`
	// AlertAfter raises an alert once this many consecutive crashes happen.
	AlertAfter int `yaml:"alert_after"`
	// GiveUpAfter stops restarting after this many consecutive crashes. 0 never gives up.
	GiveUpAfter int `yaml:"give_up_after"`
}

// Defaults returns a Config with sensible defaults.
func Defaults() *Config {
	return &Config{
		Service: ServiceConfig{
			Name:      "sttgw",
			LogLevel:  "info",
			LogFormat: "json",
		},
		State: StateConfig{
			Path:      "./data/sttgw.db",
			Retention: 30 * 24 * time.Hour,
		},
		API: APIConfig{
			Enabled: false,
			Listen:  "127.0.0.1:8080",
		},
		Worker: DefaultWorkerConf(),
	}
}

// DefaultWorkerConf returns the worker defaults: a persistent Whisper service
// answering within 15 seconds, restarted one second after each crash.
func DefaultWorkerConf() WorkerConfig {
	return WorkerConfig{
		Command:    "python3",
		Args:       []string{"utils/stt_whisper_service.py"},
		ReadyToken: "READY",
		Protocol:   "line",
		JobTimeout: 15 * time.Second,
		StopGrace:  5 * time.Second,
		Restart: RestartConfig{
			Strategy:     "constant",
			InitialDelay: 1 * time.Second,
			MaxDelay:     30 * time.Second,
			AlertAfter:   5,
			GiveUpAfter:  0,
		},
	}
}
