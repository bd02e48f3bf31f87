package engine

import (
	"time"

	"github.com/mtzanidakis/webforge/internal/parser"
)

const streamEventInterval = 500 * time.Millisecond

// streamSink feeds generated text through a parser stream. Every backend
// attempt starts from a fresh stream.
type streamSink struct {
	e            *Engine
	conversation string
	id           string

	stream *parser.Stream
	cmds   []parser.Command
	chars  int
	last   time.Time
}

func newStreamSink(e *Engine, conversation, id string) *streamSink {
	return &streamSink{e: e, conversation: conversation, id: id, stream: parser.NewStream()}
}

func (s *streamSink) Reset() {
	s.stream = parser.NewStream()
	s.cmds = nil
	s.chars = 0
}

func (s *streamSink) Write(chunk string) {
	cmds := s.stream.Feed(chunk)
	s.cmds = append(s.cmds, cmds...)
	s.chars += len(chunk)

	for _, c := range cmds {
		if c.Kind == parser.KindFile {
			s.e.publish(s.conversation, s.id, EventStream, map[string]any{"file": c.Path, "complete": c.Complete})
		}
	}
	if now := time.Now(); now.Sub(s.last) >= streamEventInterval {
		s.last = now
		s.e.publish(s.conversation, s.id, EventStream, map[string]any{"chars": s.chars})
	}
}

// Commands flushes the stream and returns everything it recognized.
func (s *streamSink) Commands() []parser.Command {
	return append(s.cmds, s.stream.Flush()...)
}
