package system

import (
	"io"
	"strings"
	"sync"
)

// The maximum length of a single forwarded line, anything past it is dropped.
var maxLineSize = 64 * 1024

// Sink serializes writes from multiple producers onto a single writer so that
// lines coming from different log files never interleave mid-line.
type Sink struct {
	mu sync.Mutex
	w  io.Writer
}

// NewSink returns a sink writing to w.
func NewSink(w io.Writer) *Sink {
	return &Sink{w: w}
}

// WriteLine writes a single line to the underlying writer, prefixed with the
// given tag in square brackets when the tag is not empty. A trailing carriage
// return is removed and overlong lines are truncated.
func (s *Sink) WriteLine(tag string, line string) error {
	line = strings.TrimSuffix(line, "\r")
	if len(line) > maxLineSize {
		line = line[:maxLineSize]
	}

	b := make([]byte, 0, len(tag)+len(line)+4)
	if tag != "" {
		b = append(b, '[')
		b = append(b, tag...)
		b = append(b, "] "...)
	}
	b = append(b, line...)
	b = append(b, '\n')

	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.w.Write(b)
	return err
}
