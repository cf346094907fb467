/*
Package core provides the upstream stream parser for the chatrelay server.

The model provider answers a streaming chat request with newline-delimited
SSE-style records: each record is a "data: <json>" payload terminated by a
blank line, and the stream ends with the "[DONE]" sentinel. This file decodes
that byte stream into a pull-based, finite sequence of typed deltas.

Two properties matter here:
- a record split across network reads is buffered and completed on the next
  read, never misread as malformed;
- a record that fails to parse is skipped with a warning and the sequence
  continues, so one bad frame cannot kill a turn.
*/
package core

import (
	"bytes"
	"encoding/json"
	"io"

	"github.com/sirupsen/logrus"
)

// DeltaKind discriminates the two incremental fragment types a provider
// record can carry.
type DeltaKind int

const (
	DeltaReasoning DeltaKind = iota // fragment of the model's reasoning trace
	DeltaAnswer                     // fragment of the final answer
)

// UpstreamDelta is one incremental fragment of model output. Deltas are
// consumed immediately by the relay and never persisted.
type UpstreamDelta struct {
	Kind DeltaKind
	Text string
}

// Record framing used by the provider stream.
const (
	dataPrefix     = "data:"
	doneSentinel   = "[DONE]"
	recordBoundary = "\n\n"
)

// providerChunk mirrors the provider's per-record JSON payload. Only the
// first choice is consulted; a single record may carry both a reasoning
// fragment and an answer fragment.
type providerChunk struct {
	Choices []struct {
		Delta struct {
			ReasoningContent string `json:"reasoning_content"`
			Content          string `json:"content"`
		} `json:"delta"`
	} `json:"choices"`
}

// DeltaStream lazily decodes a provider byte stream into UpstreamDelta
// values. It is finite and non-restartable: once Next returns false it
// returns false forever.
type DeltaStream struct {
	r       io.Reader
	buf     []byte
	scratch []byte
	pending []UpstreamDelta
	done    bool
	logger  *logrus.Entry
}

// NewDeltaStream wraps a provider response body. The caller remains
// responsible for closing the body after the stream is exhausted.
func NewDeltaStream(r io.Reader, logger *logrus.Entry) *DeltaStream {
	return &DeltaStream{
		r:       r,
		scratch: make([]byte, 4096),
		logger:  logger,
	}
}

// Next returns the next delta in the stream. The second return value is
// false once the terminator sentinel or the end of the byte stream has been
// reached and all buffered deltas have been handed out.
func (s *DeltaStream) Next() (UpstreamDelta, bool) {
	for {
		if len(s.pending) > 0 {
			delta := s.pending[0]
			s.pending = s.pending[1:]
			return delta, true
		}
		if s.done {
			return UpstreamDelta{}, false
		}

		n, err := s.r.Read(s.scratch)
		if n > 0 {
			s.buf = append(s.buf, s.scratch[:n]...)
			s.drainRecords()
		}
		if err != nil {
			if err != io.EOF {
				s.logger.WithError(err).Warn("Upstream read failed, ending stream")
			}
			s.done = true
		}
	}
}

// drainRecords consumes every complete record currently buffered. A trailing
// partial record stays in the buffer for the next read.
func (s *DeltaStream) drainRecords() {
	for !s.done {
		idx := bytes.Index(s.buf, []byte(recordBoundary))
		if idx < 0 {
			return
		}
		record := s.buf[:idx]
		s.buf = s.buf[idx+len(recordBoundary):]
		s.processRecord(record)
	}
}

// processRecord parses one framed record and queues the deltas it yields.
// Records without the data prefix (comment frames) are ignored; malformed
// payloads are skipped with a warning and must not terminate the sequence.
func (s *DeltaStream) processRecord(record []byte) {
	trimmed := bytes.TrimSpace(record)
	if !bytes.HasPrefix(trimmed, []byte(dataPrefix)) {
		return
	}

	payload := bytes.TrimSpace(trimmed[len(dataPrefix):])
	if string(payload) == doneSentinel {
		s.done = true
		return
	}

	var chunk providerChunk
	if err := json.Unmarshal(payload, &chunk); err != nil {
		s.logger.WithError(err).WithField("payload", string(payload)).Warn("Skipping malformed upstream record")
		return
	}
	if len(chunk.Choices) == 0 {
		return
	}

	delta := chunk.Choices[0].Delta
	if delta.ReasoningContent != "" {
		s.pending = append(s.pending, UpstreamDelta{Kind: DeltaReasoning, Text: delta.ReasoningContent})
	}
	if delta.Content != "" {
		s.pending = append(s.pending, UpstreamDelta{Kind: DeltaAnswer, Text: delta.Content})
	}
}
