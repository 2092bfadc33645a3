// Package doctor checks a loaded sttgw configuration against the machine it
// will run on.
package doctor

import (
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/mattjoyce/sttgw/internal/auth"
	"github.com/mattjoyce/sttgw/internal/config"
	"github.com/mattjoyce/sttgw/internal/storage"
)

// Result holds the outcome of a validation run.
type Result struct {
	Valid    bool    `json:"valid"`
	Errors   []Issue `json:"errors,omitempty"`
	Warnings []Issue `json:"warnings,omitempty"`
}

// Issue describes a single validation error or warning.
type Issue struct {
	Category string `json:"category"`
	Message  string `json:"message"`
	Field    string `json:"field,omitempty"`
}

// Doctor validates configuration beyond what config.Load enforces.
type Doctor struct {
	cfg       *config.Config
	configDir string

	lookPath func(string) (string, error)
	fsCheck  func(string) error
}

// New creates a Doctor. configDir is where the checksum manifest lives; an
// empty value skips that check.
func New(cfg *config.Config, configDir string) *Doctor {
	return &Doctor{
		cfg:       cfg,
		configDir: configDir,
		lookPath:  exec.LookPath,
		fsCheck:   storage.CheckLocalFilesystem,
	}
}

// Validate runs all checks and returns a result.
func (d *Doctor) Validate() *Result {
	r := &Result{Valid: true}

	d.validateWorkerCommand(r)
	d.validateWorkerTiming(r)
	d.validateState(r)
	d.validateAPI(r)
	d.validateTokenScopes(r)
	d.warnLegacyAPIKey(r)
	d.warnMissingChecksums(r)

	r.Valid = len(r.Errors) == 0
	return r
}

func (d *Doctor) addError(r *Result, category, field, msg string) {
	r.Errors = append(r.Errors, Issue{Category: category, Field: field, Message: msg})
}

func (d *Doctor) addWarning(r *Result, category, field, msg string) {
	r.Warnings = append(r.Warnings, Issue{Category: category, Field: field, Message: msg})
}

// validateWorkerCommand checks that the worker can actually be launched.
func (d *Doctor) validateWorkerCommand(r *Result) {
	w := d.cfg.Worker

	if w.Dir != "" {
		info, err := os.Stat(w.Dir)
		if err != nil || !info.IsDir() {
			d.addError(r, "worker", "worker.dir", fmt.Sprintf("working directory %q does not exist", w.Dir))
			return
		}
	}

	cmd := w.Command
	if strings.ContainsRune(cmd, filepath.Separator) {
		if !filepath.IsAbs(cmd) && w.Dir != "" {
			cmd = filepath.Join(w.Dir, cmd)
		}
		if _, err := os.Stat(cmd); err != nil {
			d.addError(r, "worker", "worker.command", fmt.Sprintf("command %q not found", w.Command))
		}
	} else if _, err := d.lookPath(cmd); err != nil {
		d.addError(r, "worker", "worker.command", fmt.Sprintf("command %q not found in PATH", w.Command))
	}

	// Script arguments are the usual way a Whisper service is started.
	for i, arg := range w.Args {
		if strings.HasPrefix(arg, "-") || filepath.Ext(arg) == "" {
			continue
		}
		path := arg
		if !filepath.IsAbs(path) && w.Dir != "" {
			path = filepath.Join(w.Dir, path)
		}
		if _, err := os.Stat(path); err != nil {
			d.addWarning(r, "worker", fmt.Sprintf("worker.args[%d]", i),
				fmt.Sprintf("argument %q looks like a file but does not exist", arg))
		}
	}
}

// validateWorkerTiming flags timeout and restart settings that interact badly.
func (d *Doctor) validateWorkerTiming(r *Result) {
	w := d.cfg.Worker

	if w.Protocol == "line" && !w.KillOnTimeout {
		d.addWarning(r, "worker", "worker.kill_on_timeout",
			"line protocol without kill_on_timeout: a late reply to a timed-out job will be read as the next job's result")
	}
	if w.Restart.GiveUpAfter > 0 && w.Restart.AlertAfter > w.Restart.GiveUpAfter {
		d.addWarning(r, "worker", "worker.restart.alert_after",
			fmt.Sprintf("alert_after (%d) exceeds give_up_after (%d); the degraded alert never fires",
				w.Restart.AlertAfter, w.Restart.GiveUpAfter))
	}
	if w.Restart.MaxDelay > 0 && w.Restart.MaxDelay > 10*w.JobTimeout {
		d.addWarning(r, "worker", "worker.restart.max_delay",
			fmt.Sprintf("max_delay %s is far longer than job_timeout %s; jobs will fail fast while the worker is down",
				w.Restart.MaxDelay, w.JobTimeout))
	}
}

// validateState checks the journal location.
func (d *Doctor) validateState(r *Result) {
	if err := d.fsCheck(d.cfg.State.Path); err != nil {
		if errors.Is(err, storage.ErrNetworkFilesystem) {
			d.addError(r, "state", "state.path", err.Error())
			return
		}
		d.addWarning(r, "state", "state.path", fmt.Sprintf("could not verify filesystem: %v", err))
	}
}

// validateAPI checks API server settings.
func (d *Doctor) validateAPI(r *Result) {
	if !d.cfg.API.Enabled {
		return
	}
	host, _, err := net.SplitHostPort(d.cfg.API.Listen)
	if err != nil {
		d.addError(r, "api", "api.listen", fmt.Sprintf("invalid listen address %q: %v", d.cfg.API.Listen, err))
		return
	}
	if host == "" || host == "0.0.0.0" || host == "::" {
		d.addWarning(r, "api", "api.listen",
			fmt.Sprintf("API listens on all interfaces (%s)", d.cfg.API.Listen))
	}
}

// validateTokenScopes checks that token scopes are ones the API understands.
func (d *Doctor) validateTokenScopes(r *Result) {
	for i, token := range d.cfg.API.Auth.Tokens {
		for j, scope := range token.Scopes {
			if !auth.KnownScope(strings.TrimSpace(scope)) {
				d.addError(r, "token_scopes", fmt.Sprintf("api.auth.tokens[%d].scopes[%d]", i, j),
					fmt.Sprintf("unknown scope %q", scope))
			}
		}
	}
}

// warnLegacyAPIKey warns about the full-access api_key.
func (d *Doctor) warnLegacyAPIKey(r *Result) {
	if d.cfg.API.Auth.APIKey == "" {
		return
	}
	if len(d.cfg.API.Auth.Tokens) > 0 {
		d.addWarning(r, "deprecated", "api.auth",
			"both api_key and tokens configured; prefer tokens array only")
		return
	}
	d.addWarning(r, "deprecated", "api.auth.api_key",
		"legacy api_key grants full access; migrate to tokens array with scopes")
}

func (d *Doctor) warnMissingChecksums(r *Result) {
	if d.configDir == "" {
		return
	}
	if _, err := config.LoadChecksums(d.configDir); err != nil {
		if errors.Is(err, config.ErrNoChecksums) {
			d.addWarning(r, "integrity", config.ChecksumFileName,
				"no checksum manifest; run 'sttgw config lock' to pin the configuration")
			return
		}
		d.addError(r, "integrity", config.ChecksumFileName, err.Error())
	}
}

// FormatHuman returns a human-readable validation report.
func FormatHuman(r *Result) string {
	var b strings.Builder

	switch {
	case r.Valid && len(r.Warnings) == 0:
		b.WriteString("Configuration valid.\n")
		return b.String()
	case r.Valid:
		fmt.Fprintf(&b, "Configuration valid (%d warning(s))\n", len(r.Warnings))
	default:
		fmt.Fprintf(&b, "Configuration invalid (%d error(s), %d warning(s))\n", len(r.Errors), len(r.Warnings))
	}

	for _, e := range r.Errors {
		writeIssue(&b, "ERROR", e)
	}
	for _, w := range r.Warnings {
		writeIssue(&b, "WARN ", w)
	}
	return b.String()
}

func writeIssue(b *strings.Builder, label string, i Issue) {
	if i.Field != "" {
		fmt.Fprintf(b, "  %s [%s] %s: %s\n", label, i.Category, i.Field, i.Message)
		return
	}
	fmt.Fprintf(b, "  %s [%s] %s\n", label, i.Category, i.Message)
}

// FormatJSON returns the result as indented JSON.
func FormatJSON(r *Result) (string, error) {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return "", err
	}
	return string(data), nil
}
