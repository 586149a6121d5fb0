package provider

import (
	"encoding/json"
	"errors"
	"io"

	"convoforge/internal/models"
	"convoforge/internal/stream"
)

// ParseFunc maps one decoded record to a chunk. emit is false for records
// that carry nothing for the caller, such as vendor bookkeeping events.
type ParseFunc func(record json.RawMessage) (chunk models.StreamChunk, emit bool, err error)

// EventStream adapts a vendor event stream to Stream. It yields exactly one
// chunk with Done set: either the vendor's own terminal event or a synthetic
// one when the body ends without it.
type EventStream struct {
	providerID string
	decoder    *stream.Decoder
	parse      ParseFunc
	finished   bool
}

// NewEventStream decodes body with framing and maps each record via parse.
func NewEventStream(providerID string, body io.ReadCloser, framing stream.Framing, parse ParseFunc) *EventStream {
	return &EventStream{
		providerID: providerID,
		decoder:    stream.NewDecoder(body, framing, providerID),
		parse:      parse,
	}
}

func (s *EventStream) Recv() (models.StreamChunk, error) {
	if s.finished {
		return models.StreamChunk{}, io.EOF
	}

	for {
		record, err := s.decoder.Next()
		if errors.Is(err, io.EOF) {
			s.finished = true
			return models.StreamChunk{Done: true}, nil
		}
		if err != nil {
			return models.StreamChunk{}, s.fail(err)
		}

		chunk, emit, err := s.parse(record)
		if err != nil {
			return models.StreamChunk{}, s.fail(err)
		}
		if !emit {
			continue
		}
		if chunk.Done {
			s.finished = true
			_ = s.decoder.Close()
		}
		return chunk, nil
	}
}

// Close releases the response body.
func (s *EventStream) Close() error {
	s.finished = true
	return s.decoder.Close()
}

func (s *EventStream) fail(err error) error {
	s.finished = true
	_ = s.decoder.Close()
	return Wrap(s.providerID, "stream", err)
}
