// Package eventstream implements the typed event-stream framing used between
// the gateway, the generation upstream and streaming clients.
//
// A frame is a block of lines terminated by a blank line. An optional
// "event:" line names the frame type (default "message"); one or more
// "data:" lines carry the payload and are joined with "\n" in order.
package eventstream

import (
	"bytes"
	"strings"
)

// Frame types with a known payload shape.
const (
	TypeMessage   = "message"
	TypeStep      = "step"
	TypeToken     = "token"
	TypeDocuments = "documents"
	TypeDone      = "done"
	TypeError     = "error"
)

// Frame is one decoded event: its type and raw data payload.
type Frame struct {
	Type string `json:"type"`
	Data string `json:"data"`
}

// Decoder reassembles frames from chunks split at arbitrary byte boundaries.
// It keeps an accumulation buffer across calls and is not safe for concurrent use.
type Decoder struct {
	buf     []byte
	scanned int
}

// NewDecoder returns an empty decoder.
func NewDecoder() *Decoder {
	return &Decoder{}
}

// Feed appends chunk to the buffer and returns every frame it completes, in order.
// Blocks without a data line are consumed but yield no frame.
func (d *Decoder) Feed(chunk []byte) []Frame {
	d.buf = append(d.buf, chunk...)

	var frames []Frame
	for {
		end, next := findBlankLine(d.buf, d.scanned)
		if end < 0 {
			// A delimiter can straddle the boundary by at most two bytes ("\n\r").
			d.scanned = max(0, len(d.buf)-2)
			break
		}
		if f, ok := parseBlock(d.buf[:end]); ok {
			frames = append(frames, f)
		}
		d.buf = d.buf[next:]
		d.scanned = 0
	}
	if len(d.buf) == 0 {
		d.buf = nil
	}
	return frames
}

// Flush parses whatever remains in the buffer as a final frame, best effort.
// It reports false when the remainder is blank or carries no data line.
// The buffer is empty afterwards.
func (d *Decoder) Flush() (Frame, bool) {
	rest := d.buf
	d.buf = nil
	d.scanned = 0
	if len(bytes.TrimSpace(rest)) == 0 {
		return Frame{}, false
	}
	return parseBlock(rest)
}

// Buffered returns the number of bytes waiting for a frame delimiter.
func (d *Decoder) Buffered() int {
	return len(d.buf)
}

// findBlankLine looks for "\n\n" or "\n\r\n" at or after from.
// It returns the end of the frame content and the start of the next frame, or -1.
func findBlankLine(buf []byte, from int) (int, int) {
	for i := from; i < len(buf); i++ {
		if buf[i] != '\n' {
			continue
		}
		if i+1 < len(buf) && buf[i+1] == '\n' {
			return i, i + 2
		}
		if i+2 < len(buf) && buf[i+1] == '\r' && buf[i+2] == '\n' {
			return i, i + 3
		}
	}
	return -1, -1
}

func parseBlock(block []byte) (Frame, bool) {
	typ := ""
	var data []string
	hasData := false

	for _, line := range strings.Split(string(block), "\n") {
		line = strings.TrimSuffix(line, "\r")
		if line == "" || strings.HasPrefix(line, ":") {
			continue
		}
		field, value, _ := strings.Cut(line, ":")
		value = strings.TrimPrefix(value, " ")
		switch field {
		case "event":
			typ = strings.TrimSpace(value)
		case "data":
			data = append(data, value)
			hasData = true
		}
	}
	if !hasData {
		return Frame{}, false
	}
	if typ == "" {
		typ = TypeMessage
	}
	return Frame{Type: typ, Data: strings.Join(data, "\n")}, true
}
