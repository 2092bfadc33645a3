package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/mattjoyce/sttgw/internal/config"
	"github.com/mattjoyce/sttgw/internal/journal"
	"github.com/mattjoyce/sttgw/internal/storage"
)

func runJobNoun(args []string) int {
	if len(args) < 1 {
		printJobNounHelp(os.Stderr)
		return 1
	}
	if isHelpToken(args[0]) {
		printJobNounHelp(os.Stdout)
		return 0
	}

	action, actionArgs := args[0], args[1:]
	if hasHelpFlag(actionArgs) {
		printJobNounHelp(os.Stdout)
		return 0
	}
	switch action {
	case "inspect":
		return runJobInspect(actionArgs)
	case "recent":
		return runJobRecent(actionArgs)
	default:
		fmt.Fprintf(os.Stderr, "Unknown job action: %s\n", action)
		return 1
	}
}

func printJobNounHelp(w *os.File) {
	fmt.Fprint(w, `Usage: sttgw job <action> [flags]

Actions:
  inspect <id> [--config PATH] [--json]                 Show one journaled transcription
  recent [--config PATH] [--limit N] [--workers] [--json]  List recent jobs (or worker events)
`)
}

// openJournal opens the configured journal for read-only use by the CLI.
func openJournal(ctx context.Context, configFlag string) (*journal.Recorder, func(), error) {
	configPath, err := resolveConfigPath(configFlag)
	if err != nil {
		return nil, nil, err
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	if _, err := os.Stat(cfg.State.Path); err != nil {
		return nil, nil, fmt.Errorf("journal not found at %s: %w", cfg.State.Path, err)
	}
	db, err := storage.OpenSQLite(ctx, cfg.State.Path)
	if err != nil {
		return nil, nil, err
	}
	rec := journal.New(db, 1)
	return rec, func() {
		rec.Close()
		_ = db.Close()
	}, nil
}

// splitIDArg takes a leading positional id so flags may follow it.
func splitIDArg(args []string) (string, []string) {
	if len(args) > 0 && !strings.HasPrefix(args[0], "-") {
		return args[0], args[1:]
	}
	return "", args
}

func runJobInspect(args []string) int {
	id, rest := splitIDArg(args)

	fs := flag.NewFlagSet("inspect", flag.ContinueOnError)
	configFlag := fs.String("config", "", "Path to configuration file or directory")
	jsonOut := fs.Bool("json", false, "Output in structured JSON format")
	if err := fs.Parse(rest); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to parse flags: %v\n", err)
		return 1
	}
	if id == "" {
		id = fs.Arg(0)
	}
	if id == "" {
		fmt.Fprintln(os.Stderr, "Usage: sttgw job inspect <id> [--config PATH] [--json]")
		return 1
	}

	ctx := context.Background()
	rec, closeFn, err := openJournal(ctx, *configFlag)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	defer closeFn()

	r, err := rec.Get(ctx, id)
	if errors.Is(err, journal.ErrNotFound) {
		fmt.Fprintf(os.Stderr, "Job %s not found\n", id)
		return 1
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	if *jsonOut {
		data, _ := json.MarshalIndent(r, "", "  ")
		fmt.Println(string(data))
		return 0
	}

	fmt.Printf("Job:        %s\n", r.ID)
	fmt.Printf("Payload:    %s\n", r.Payload)
	fmt.Printf("Status:     %s\n", r.Status)
	fmt.Printf("Generation: %d\n", r.Generation)
	fmt.Printf("Submitted:  %s\n", r.SubmittedAt.Format(time.RFC3339Nano))
	if r.DispatchedAt != nil {
		fmt.Printf("Dispatched: %s\n", r.DispatchedAt.Format(time.RFC3339Nano))
	}
	fmt.Printf("Completed:  %s (%s)\n", r.CompletedAt.Format(time.RFC3339Nano),
		r.CompletedAt.Sub(r.SubmittedAt).Round(time.Millisecond))
	if r.Language != "" {
		fmt.Printf("Language:   %s\n", r.Language)
	}
	if r.LastError != "" {
		fmt.Printf("Error:      %s\n", r.LastError)
	}
	if r.Text != "" {
		fmt.Printf("\n%s\n", r.Text)
	}
	return 0
}

func runJobRecent(args []string) int {
	fs := flag.NewFlagSet("recent", flag.ContinueOnError)
	configFlag := fs.String("config", "", "Path to configuration file or directory")
	limit := fs.Int("limit", 20, "Maximum rows to show")
	workers := fs.Bool("workers", false, "Show worker lifecycle events instead of jobs")
	jsonOut := fs.Bool("json", false, "Output in structured JSON format")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to parse flags: %v\n", err)
		return 1
	}

	ctx := context.Background()
	rec, closeFn, err := openJournal(ctx, *configFlag)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	defer closeFn()

	if *workers {
		evs, err := rec.RecentWorkerEvents(ctx, *limit)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return 1
		}
		if *jsonOut {
			data, _ := json.MarshalIndent(evs, "", "  ")
			fmt.Println(string(data))
			return 0
		}
		tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "AT\tGEN\tSTATE\tDETAIL")
		for _, ev := range evs {
			fmt.Fprintf(tw, "%s\t%d\t%s\t%s\n", ev.At.Local().Format(time.DateTime), ev.Generation, ev.State, ev.Detail)
		}
		_ = tw.Flush()
		return 0
	}

	recs, err := rec.Recent(ctx, *limit)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	if *jsonOut {
		data, _ := json.MarshalIndent(recs, "", "  ")
		fmt.Println(string(data))
		return 0
	}
	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "COMPLETED\tID\tSTATUS\tDURATION\tPAYLOAD")
	for _, r := range recs {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
			r.CompletedAt.Local().Format(time.DateTime), r.ID, r.Status,
			r.CompletedAt.Sub(r.SubmittedAt).Round(time.Millisecond), r.Payload)
	}
	_ = tw.Flush()
	return 0
}
