package config

import (
	"github.com/mattjoyce/sttgw/internal/backoff"
	"github.com/mattjoyce/sttgw/internal/protocol"
	"github.com/mattjoyce/sttgw/internal/worker"
)

// LaunchSpec converts the worker section into a launcher spec.
func (w WorkerConfig) LaunchSpec() worker.Spec {
	return worker.Spec{
		Command:    w.Command,
		Args:       append([]string(nil), w.Args...),
		Dir:        w.Dir,
		Env:        w.Env,
		PythonPath: w.PythonPath,
	}
}

// WireMode returns the configured stdin framing.
func (w WorkerConfig) WireMode() protocol.Mode {
	if w.Protocol == "" {
		return protocol.ModeLine
	}
	return protocol.Mode(w.Protocol)
}

// Backoff builds the restart delay strategy.
func (r RestartConfig) Backoff() (backoff.Strategy, error) {
	return backoff.FromName(r.Strategy, r.InitialDelay, r.MaxDelay)
}

// Redacted returns a copy with bearer tokens masked, for display.
func (c *Config) Redacted() *Config {
	out := *c
	if out.API.Auth.APIKey != "" {
		out.API.Auth.APIKey = "***"
	}
	tokens := make([]APIToken, len(c.API.Auth.Tokens))
	for i, tok := range c.API.Auth.Tokens {
		tokens[i] = APIToken{Token: "***", Scopes: append([]string(nil), tok.Scopes...)}
	}
	out.API.Auth.Tokens = tokens
	return &out
}
