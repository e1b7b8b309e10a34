// Package stream splits a Server-Sent-Events byte stream into logical frames.
package stream

import (
	"bufio"
	"io"
	"strings"
)

// doneSentinel is the literal terminal frame. It is not JSON and must never
// be handed to a JSON decoder.
const doneSentinel = "[DONE]"

// Frame is one `data: ...` block of the SSE wire format, with the optional
// event name that preceded it.
type Frame struct {
	Event string
	Data  string
}

// Done reports whether the frame is the terminal sentinel: no further
// frames will follow for this turn.
func (f Frame) Done() bool { return f.Data == doneSentinel }

// Scanner reads SSE frames from an underlying byte stream. Network reads
// may split or merge logical frames arbitrarily; the scanner buffers
// partial frames across chunk boundaries so the frame sequence is
// independent of chunking.
type Scanner struct {
	r *bufio.Reader
}

// NewScanner wraps r. The caller retains ownership of r and closes it.
func NewScanner(r io.Reader) *Scanner {
	return &Scanner{r: bufio.NewReader(r)}
}

// Next returns the next complete frame. It returns io.EOF when the stream
// is exhausted; a trailing block that never saw its blank-line terminator
// is dropped, per the SSE format. Any other error is a transport failure
// surfaced to the caller.
func (s *Scanner) Next() (Frame, error) {
	var frame Frame
	var data []string

	for {
		line, err := s.r.ReadString('\n')
		if err != nil {
			if err == io.EOF {
				return Frame{}, io.EOF
			}
			return Frame{}, err
		}
		line = strings.TrimRight(line, "\r\n")

		// Blank line dispatches the buffered frame, if any.
		if line == "" {
			if len(data) > 0 {
				frame.Data = strings.Join(data, "\n")
				return frame, nil
			}
			frame = Frame{}
			continue
		}

		// Comment lines keep the connection alive and carry nothing.
		if strings.HasPrefix(line, ":") {
			continue
		}

		field, value := splitField(line)
		switch field {
		case "event":
			frame.Event = value
		case "data":
			data = append(data, value)
		}
		// Other fields (id, retry) are not used by this protocol.
	}
}

// splitField separates "field: value", stripping the single optional space
// after the colon.
func splitField(line string) (field, value string) {
	i := strings.IndexByte(line, ':')
	if i < 0 {
		return line, ""
	}
	return line[:i], strings.TrimPrefix(line[i+1:], " ")
}
