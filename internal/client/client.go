// Package client talks to a running sttgw API.
package client

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/mattjoyce/sttgw/internal/api"
	"github.com/mattjoyce/sttgw/internal/events"
)

// APIError is a non-2xx answer from the gateway.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("sttgw api: HTTP %d", e.StatusCode)
	}
	return fmt.Sprintf("sttgw api: HTTP %d: %s", e.StatusCode, e.Message)
}

// Client is a small HTTP client for the gateway API.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

// New returns a client for baseURL. A nil httpClient uses one without an
// overall timeout, since transcriptions and event streams are long-lived.
func New(baseURL, token string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		http:    httpClient,
	}
}

// Health calls GET /healthz.
func (c *Client) Health(ctx context.Context) (*api.HealthzResponse, error) {
	var out api.HealthzResponse
	if err := c.do(ctx, http.MethodGet, "/healthz", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Transcribe calls POST /transcribe and blocks until the gateway answers.
func (c *Client) Transcribe(ctx context.Context, path string) (*api.TranscribeResponse, error) {
	var out api.TranscribeResponse
	if err := c.do(ctx, http.MethodPost, "/transcribe", api.TranscribeRequest{Path: path}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Job calls GET /job/{id}.
func (c *Client) Job(ctx context.Context, id string) (*api.JobStatusResponse, error) {
	var out api.JobStatusResponse
	if err := c.do(ctx, http.MethodGet, "/job/"+url.PathEscape(id), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	c.authorize(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return decodeAPIError(resp)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func (c *Client) authorize(req *http.Request) {
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
}

func decodeAPIError(resp *http.Response) error {
	apiErr := &APIError{StatusCode: resp.StatusCode}
	var body api.ErrorResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 64*1024)).Decode(&body); err == nil {
		apiErr.Message = body.Error
	}
	return apiErr
}

// Stream reads GET /events and calls fn for every event until ctx ends or the
// connection drops. lastID resumes after an earlier stream. It returns the id
// of the last event delivered.
func (c *Client) Stream(ctx context.Context, lastID int64, fn func(events.Event)) (int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/events", nil)
	if err != nil {
		return lastID, err
	}
	req.Header.Set("Accept", "text/event-stream")
	if lastID > 0 {
		req.Header.Set("Last-Event-ID", strconv.FormatInt(lastID, 10))
	}
	c.authorize(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return lastID, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return lastID, decodeAPIError(resp)
	}

	var current events.Event
	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line := scanner.Text()

		switch {
		case line == "":
			if current.Data != nil {
				if current.At.IsZero() {
					current.At = time.Now()
				}
				fn(current)
				lastID = current.ID
			}
			current = events.Event{}
		case strings.HasPrefix(line, ":"):
			// keep-alive comment
		case strings.HasPrefix(line, "id: "):
			if id, err := strconv.ParseInt(line[4:], 10, 64); err == nil {
				current.ID = id
			}
		case strings.HasPrefix(line, "event: "):
			current.Type = line[7:]
		case strings.HasPrefix(line, "data: "):
			current.Data = json.RawMessage(line[6:])
		}
	}

	if err := scanner.Err(); err != nil && !errors.Is(err, context.Canceled) && ctx.Err() == nil {
		return lastID, err
	}
	return lastID, ctx.Err()
}
