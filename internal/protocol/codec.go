package protocol

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
)

// MaxLineBytes caps a single inbound line.
const MaxLineBytes = 1 << 20

// ErrUnframeable is returned for payloads that cannot be sent as a single line.
var ErrUnframeable = errors.New("payload cannot be framed as one line")

// ValidatePayload checks that payload can be written as exactly one line.
func ValidatePayload(payload string) error {
	if strings.TrimSpace(payload) == "" {
		return fmt.Errorf("%w: empty payload", ErrUnframeable)
	}
	if strings.ContainsAny(payload, "\r\n") {
		return fmt.Errorf("%w: payload contains a line break", ErrUnframeable)
	}
	return nil
}

// EncodeRequest writes one newline-terminated request line to w.
// In ModeLine the bare path is written; in ModeJSON the Request envelope is.
func EncodeRequest(w io.Writer, mode Mode, req Request) error {
	if err := ValidatePayload(req.Path); err != nil {
		return err
	}

	var line []byte
	switch mode {
	case ModeLine, "":
		line = append([]byte(req.Path), '\n')
	case ModeJSON:
		if req.ID == "" {
			return fmt.Errorf("json mode requires a request id")
		}
		b, err := json.Marshal(req)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		line = append(b, '\n')
	default:
		return fmt.Errorf("unsupported wire mode: %q", mode)
	}

	if _, err := w.Write(line); err != nil {
		return fmt.Errorf("failed to write request: %w", err)
	}
	return nil
}

// Classify turns one raw line into a Message. Callers should skip lines for
// which ok is false (blank after trimming).
func Classify(line, readyToken string) (msg Message, ok bool) {
	trimmed := strings.TrimSpace(line)
	if trimmed == "" {
		return Message{}, false
	}
	if readyToken == "" {
		readyToken = DefaultReadyToken
	}

	if trimmed == readyToken {
		return Message{Kind: KindReady, Raw: trimmed}, true
	}

	res, err := DecodeResult([]byte(trimmed))
	if err != nil {
		return Message{Kind: KindUnrecognized, Raw: trimmed, Err: err}, true
	}
	return Message{Kind: KindResult, Result: res, Raw: trimmed}, true
}

// DecodeResult parses a result line. The line must be a JSON object carrying
// either a text string or a non-empty error string.
func DecodeResult(data []byte) (*Result, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || data[0] != '{' {
		return nil, fmt.Errorf("result is not a JSON object")
	}

	var res Result
	if err := json.Unmarshal(data, &res); err != nil {
		return nil, fmt.Errorf("failed to decode result: %w", err)
	}

	if res.Error == "" && res.Text == nil {
		return nil, fmt.Errorf("result has neither text nor error")
	}
	return &res, nil
}

// LineReader splits a worker's stdout into lines.
type LineReader struct {
	sc *bufio.Scanner
}

// NewLineReader wraps r. Lines longer than MaxLineBytes end the stream with an error.
func NewLineReader(r io.Reader) *LineReader {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), MaxLineBytes)
	return &LineReader{sc: sc}
}

// Next returns the next raw line without its terminator. It returns io.EOF
// once the stream is exhausted.
func (lr *LineReader) Next() (string, error) {
	if lr.sc.Scan() {
		return strings.TrimSuffix(lr.sc.Text(), "\r"), nil
	}
	if err := lr.sc.Err(); err != nil {
		return "", fmt.Errorf("read worker output: %w", err)
	}
	return "", io.EOF
}
