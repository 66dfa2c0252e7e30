package feed

import (
	"bufio"
	"io"
)

// ReplayDecoder reads a recorded sequence of newline-delimited frames from
// disk and decodes them in order, for deterministic integration tests
// without a live broker connection.
type ReplayDecoder struct {
	scanner *bufio.Scanner
}

// NewReplayDecoder wraps r, treating each line as one binary frame.
func NewReplayDecoder(r io.Reader) *ReplayDecoder {
	s := bufio.NewScanner(r)
	s.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	return &ReplayDecoder{scanner: s}
}

// Next decodes the next recorded frame, or returns io.EOF when exhausted.
func (d *ReplayDecoder) Next() (FeedMessage, error) {
	if !d.scanner.Scan() {
		if err := d.scanner.Err(); err != nil {
			return FeedMessage{}, err
		}
		return FeedMessage{}, io.EOF
	}
	line := d.scanner.Bytes()
	cp := make([]byte, len(line))
	copy(cp, line)
	return Decode(cp)
}
