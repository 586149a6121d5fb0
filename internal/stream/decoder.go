// Package stream turns vendor streaming response bodies into a sequence of
// well-formed JSON records, independent of how the vendor frames them.
package stream

import (
	"bufio"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
)

// Framing selects how records are delimited on the wire.
type Framing int

const (
	// FramingSSE reads server-sent events: "data:" lines accumulate until a
	// blank line terminates the record.
	FramingSSE Framing = iota
	// FramingLines reads newline-delimited JSON. SSE field lines are
	// tolerated: "event:" and comment lines are ignored and a "data:" prefix
	// is stripped.
	FramingLines
)

func (f Framing) String() string {
	switch f {
	case FramingSSE:
		return "sse"
	case FramingLines:
		return "lines"
	}
	return "unknown"
}

// DoneSentinel is the terminal non-JSON record some vendors send.
const DoneSentinel = "[DONE]"

const maxLoggedPayload = 200

// Decoder yields parsed JSON records from a streaming body. It is not safe
// for concurrent use. The body is closed exactly once: at end of stream, on
// a read error, or on Close, whichever happens first.
type Decoder struct {
	body    io.ReadCloser
	reader  *bufio.Reader
	framing Framing
	source  string

	pending  []string
	deferred error
	finished bool
	skipped  int

	closeOnce sync.Once
	closeErr  error
}

// NewDecoder wraps body. source names the producer in log output.
func NewDecoder(body io.ReadCloser, framing Framing, source string) *Decoder {
	return &Decoder{
		body:    body,
		reader:  bufio.NewReader(body),
		framing: framing,
		source:  source,
	}
}

// Next returns the next well-formed record. It returns io.EOF once the body
// is exhausted or the done sentinel is seen. Malformed records are logged
// and skipped.
func (d *Decoder) Next() (json.RawMessage, error) {
	if d.finished {
		return nil, io.EOF
	}
	if d.deferred != nil {
		return nil, d.fail(d.deferred)
	}

	for {
		record, err := d.readRecord()
		if record != "" {
			if record == DoneSentinel {
				d.finish()
				return nil, io.EOF
			}
			if json.Valid([]byte(record)) {
				if err != nil {
					d.deferred = err
				}
				return json.RawMessage(record), nil
			}
			d.skipped++
			slog.Warn("skipping malformed stream record",
				"source", d.source,
				"framing", d.framing.String(),
				"payload", truncate(record, maxLoggedPayload),
			)
		}
		if err != nil {
			return nil, d.fail(err)
		}
	}
}

// Skipped reports how many malformed records were dropped so far.
func (d *Decoder) Skipped() int {
	return d.skipped
}

// Close releases the underlying body. It is safe to call more than once.
func (d *Decoder) Close() error {
	d.closeOnce.Do(func() {
		d.closeErr = d.body.Close()
	})
	return d.closeErr
}

func (d *Decoder) fail(err error) error {
	d.finish()
	if errors.Is(err, io.EOF) {
		return io.EOF
	}
	return err
}

func (d *Decoder) finish() {
	d.finished = true
	d.deferred = nil
	_ = d.Close()
}

func (d *Decoder) readRecord() (string, error) {
	if d.framing == FramingSSE {
		return d.readEvent()
	}
	return d.readLine()
}

// readEvent accumulates data lines until a blank line or end of input.
func (d *Decoder) readEvent() (string, error) {
	for {
		line, err := d.reader.ReadString('\n')
		line = strings.TrimRight(line, "\r\n")

		switch {
		case line == "":
			if len(d.pending) > 0 && err == nil {
				return d.flush(), nil
			}
		case strings.HasPrefix(line, "data:"):
			d.pending = append(d.pending, strings.TrimSpace(line[len("data:"):]))
		default:
			// event:, id:, retry: and ":" comments carry nothing we need.
		}

		if err != nil {
			return d.flush(), err
		}
	}
}

func (d *Decoder) flush() string {
	if len(d.pending) == 0 {
		return ""
	}
	payload := strings.TrimSpace(strings.Join(d.pending, "\n"))
	d.pending = d.pending[:0]
	return payload
}

func (d *Decoder) readLine() (string, error) {
	for {
		line, err := d.reader.ReadString('\n')
		line = strings.TrimSpace(line)

		switch {
		case line == "", strings.HasPrefix(line, ":"), strings.HasPrefix(line, "event:"),
			strings.HasPrefix(line, "id:"), strings.HasPrefix(line, "retry:"):
			line = ""
		case strings.HasPrefix(line, "data:"):
			line = strings.TrimSpace(line[len("data:"):])
		}

		if line != "" || err != nil {
			return line, err
		}
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
