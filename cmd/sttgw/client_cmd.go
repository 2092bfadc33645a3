package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/mattjoyce/sttgw/internal/client"
	"github.com/mattjoyce/sttgw/internal/tui"
)

const defaultAPIURL = "http://127.0.0.1:8080"

// clientFlags registers the connection flags shared by client commands.
func clientFlags(fs *flag.FlagSet) (apiURL, token *string) {
	defURL := os.Getenv("STTGW_URL")
	if defURL == "" {
		defURL = defaultAPIURL
	}
	apiURL = fs.String("url", defURL, "Gateway base URL (env STTGW_URL)")
	token = fs.String("token", os.Getenv("STTGW_TOKEN"), "Bearer token (env STTGW_TOKEN)")
	return apiURL, token
}

func printTranscribeHelp() {
	fmt.Println(`Usage: sttgw transcribe <path> [--url URL] [--token TOKEN] [--json]

Sends the audio file to a running gateway and prints the transcript.
Relative paths are made absolute first.`)
}

func runTranscribe(args []string) int {
	path, rest := splitIDArg(args)

	fs := flag.NewFlagSet("transcribe", flag.ContinueOnError)
	apiURL, token := clientFlags(fs)
	jsonOut := fs.Bool("json", false, "Print the full JSON response")
	if err := fs.Parse(rest); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to parse flags: %v\n", err)
		return 1
	}
	if path == "" {
		path = fs.Arg(0)
	}
	if path == "" {
		fmt.Fprintln(os.Stderr, "Usage: sttgw transcribe <path> [--url URL] [--token TOKEN] [--json]")
		return 1
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid path: %v\n", err)
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	resp, err := client.New(*apiURL, *token, nil).Transcribe(ctx, abs)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Transcription failed: %v\n", err)
		return 1
	}

	if *jsonOut {
		data, _ := json.MarshalIndent(resp, "", "  ")
		fmt.Println(string(data))
	} else {
		fmt.Println(resp.Text)
	}
	if resp.Error != "" {
		fmt.Fprintf(os.Stderr, "Gateway reported: %s\n", resp.Error)
		return 1
	}
	return 0
}

func printWatchHelp() {
	fmt.Println(`Usage: sttgw watch [--url URL] [--token TOKEN]

Live terminal monitor: worker state, recent transcriptions and the event stream.
The token needs the events:ro scope. Press q to quit.`)
}

func runWatch(args []string) int {
	fs := flag.NewFlagSet("watch", flag.ContinueOnError)
	apiURL, token := clientFlags(fs)
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to parse flags: %v\n", err)
		return 1
	}

	m := tui.NewMonitor(client.New(*apiURL, *token, nil))
	if _, err := tea.NewProgram(m).Run(); err != nil {
		fmt.Fprintf(os.Stderr, "Monitor error: %v\n", err)
		return 1
	}
	return 0
}
