// Package parser turns streamed model output into commands and actions.
package parser

import (
	"regexp"
	"strings"
)

type Kind int

const (
	KindFile Kind = iota + 1
	KindToolCall
)

func (k Kind) String() string {
	switch k {
	case KindFile:
		return "file"
	case KindToolCall:
		return "tool_call"
	}
	return "unknown"
}

// Command is one construct recognized in the stream.
type Command struct {
	Kind Kind

	// File commands.
	Path     string
	Content  string
	Complete bool

	// Tool calls.
	Tool string
	Args map[string]string
}

const (
	fileBeginMarker = "<<<FILE:"
	fileMarkerClose = ">>>"
	fileEndMarker   = "<<<END_FILE>>>"
	directivePrefix = "@@"
)

var (
	reDirective = regexp.MustCompile(`^@@(\w+)(?:[ \t]+(.*))?$`)
	reArg       = regexp.MustCompile(`(\w+)\s*=\s*(?:"([^"]*)"|'([^']*)')`)
)

type state int

const (
	scanning state = iota
	inFile
)

// Stream is a resumable scanner. Feeding a text in any number of chunks
// yields the same commands as feeding it whole.
type Stream struct {
	buf     string
	state   state
	path    string
	content strings.Builder
	// lineStart reports whether buf[0] begins a line.
	lineStart bool
}

func NewStream() *Stream {
	return &Stream{lineStart: true}
}

// Feed appends a chunk and returns the commands it completes.
func (s *Stream) Feed(chunk string) []Command {
	s.buf += chunk
	return s.drain(false)
}

// Flush ends the stream. A residual directive is parsed and an open file
// block is returned with Complete set to false.
func (s *Stream) Flush() []Command {
	cmds := s.drain(true)
	if s.state == inFile {
		s.content.WriteString(s.buf)
		cmds = append(cmds, Command{
			Kind:    KindFile,
			Path:    s.path,
			Content: cleanContent(s.content.String()),
		})
	}
	s.buf = ""
	s.state = scanning
	s.path = ""
	s.content.Reset()
	s.lineStart = true
	return cmds
}

func (s *Stream) drain(final bool) []Command {
	var cmds []Command
	for {
		var (
			cmd      *Command
			progress bool
		)
		if s.state == inFile {
			cmd, progress = s.scanFile(final)
		} else {
			cmd, progress = s.scanText(final)
		}
		if cmd != nil {
			cmds = append(cmds, *cmd)
		}
		if !progress {
			return cmds
		}
	}
}

func (s *Stream) consume(n int) {
	if n <= 0 {
		return
	}
	s.lineStart = s.buf[n-1] == '\n'
	s.buf = s.buf[n:]
}

func (s *Stream) atLineStart(i int) bool {
	if i == 0 {
		return s.lineStart
	}
	return s.buf[i-1] == '\n'
}

func (s *Stream) scanFile(final bool) (*Command, bool) {
	if i := strings.Index(s.buf, fileEndMarker); i >= 0 {
		s.content.WriteString(s.buf[:i])
		cmd := &Command{
			Kind:     KindFile,
			Path:     s.path,
			Content:  cleanContent(s.content.String()),
			Complete: true,
		}
		s.consume(i + len(fileEndMarker))
		s.state = scanning
		s.path = ""
		s.content.Reset()
		return cmd, true
	}

	keep := 0
	if !final {
		keep = partialSuffix(s.buf, fileEndMarker)
	}
	n := len(s.buf) - keep
	s.content.WriteString(s.buf[:n])
	s.consume(n)
	return nil, false
}

// scanText looks for the earliest directive or file-begin marker. Text that
// can no longer become part of either is dropped.
func (s *Stream) scanText(final bool) (*Command, bool) {
	for i := 0; i < len(s.buf); i++ {
		switch s.buf[i] {
		case '@':
			if !s.atLineStart(i) {
				continue
			}
			rest := s.buf[i:]
			if len(rest) < len(directivePrefix) {
				if final {
					continue
				}
				s.consume(i)
				return nil, false
			}
			if !strings.HasPrefix(rest, directivePrefix) {
				continue
			}
			end := strings.IndexByte(rest, '\n')
			if end < 0 {
				if !final {
					s.consume(i)
					return nil, false
				}
				end = len(rest)
			}
			cmd, ok := parseDirective(rest[:end])
			if !ok {
				continue
			}
			next := i + end
			if end < len(rest) {
				next++
			}
			s.consume(next)
			return cmd, true

		case '<':
			rest := s.buf[i:]
			if len(rest) < len(fileBeginMarker) {
				if !final && strings.HasPrefix(fileBeginMarker, rest) {
					s.consume(i)
					return nil, false
				}
				continue
			}
			if !strings.HasPrefix(rest, fileBeginMarker) {
				continue
			}
			after := rest[len(fileBeginMarker):]
			closeAt := strings.Index(after, fileMarkerClose)
			newline := strings.IndexByte(after, '\n')
			if closeAt < 0 || (newline >= 0 && newline < closeAt) {
				if newline < 0 && !final {
					s.consume(i)
					return nil, false
				}
				continue
			}
			path := strings.TrimSpace(after[:closeAt])
			if path == "" {
				continue
			}
			s.consume(i + len(fileBeginMarker) + closeAt + len(fileMarkerClose))
			s.state = inFile
			s.path = path
			s.content.Reset()
			return nil, true
		}
	}
	s.consume(len(s.buf))
	return nil, false
}

// partialSuffix returns the length of the longest tail of buf that is a
// proper prefix of marker.
func partialSuffix(buf, marker string) int {
	for k := min(len(marker)-1, len(buf)); k > 0; k-- {
		if strings.HasSuffix(buf, marker[:k]) {
			return k
		}
	}
	return 0
}

func parseDirective(line string) (*Command, bool) {
	line = strings.TrimRight(line, "\r")
	m := reDirective.FindStringSubmatch(line)
	if m == nil {
		return nil, false
	}
	name := strings.ToLower(m[1])
	if name == "read" {
		name = "read_files"
	}
	return &Command{
		Kind: KindToolCall,
		Tool: name,
		Args: parseArgs(m[2]),
	}, true
}

// parseArgs extracts key="value" and key='value' pairs. Malformed pairs are
// skipped.
func parseArgs(s string) map[string]string {
	args := make(map[string]string)
	for _, m := range reArg.FindAllStringSubmatchIndex(s, -1) {
		key := s[m[2]:m[3]]
		var val string
		if m[4] >= 0 {
			val = s[m[4]:m[5]]
		} else {
			val = s[m[6]:m[7]]
		}
		args[key] = val
	}
	return args
}

// cleanContent drops leading and trailing blank lines and keeps indentation.
func cleanContent(s string) string {
	lines := strings.Split(s, "\n")
	start, end := 0, len(lines)
	for start < end && strings.TrimSpace(lines[start]) == "" {
		start++
	}
	for end > start && strings.TrimSpace(lines[end-1]) == "" {
		end--
	}
	return strings.Join(lines[start:end], "\n")
}
