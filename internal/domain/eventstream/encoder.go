package eventstream

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
)

// lineBreaks maps CRLF and lone CR to LF. A CR inside a data line would end
// the line on the wire, so payload line breaks are always written as LF.
var lineBreaks = strings.NewReplacer("\r\n", "\n", "\r", "\n")

// AppendFrame appends the wire form of f to dst: an event line, one data
// line per payload line and the terminating blank line.
// It is the exact inverse of Decoder.Feed for payloads without CR; CR and
// CRLF line breaks in the payload decode as LF.
func AppendFrame(dst []byte, f Frame) []byte {
	typ := f.Type
	if typ == "" {
		typ = TypeMessage
	}
	dst = append(dst, "event: "...)
	dst = append(dst, typ...)
	dst = append(dst, '\n')
	for _, line := range strings.Split(lineBreaks.Replace(f.Data), "\n") {
		dst = append(dst, "data: "...)
		dst = append(dst, line...)
		dst = append(dst, '\n')
	}
	return append(dst, '\n')
}

// Encoder writes frames to an underlying writer.
type Encoder struct {
	w   io.Writer
	buf []byte
}

// NewEncoder returns an encoder writing to w.
func NewEncoder(w io.Writer) *Encoder {
	return &Encoder{w: w}
}

// Encode writes one frame in a single Write call.
func (e *Encoder) Encode(f Frame) error {
	e.buf = AppendFrame(e.buf[:0], f)
	_, err := e.w.Write(e.buf)
	return err
}

// NewFrame marshals v as the JSON payload of a frame of type typ.
func NewFrame(typ string, v any) (Frame, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return Frame{}, fmt.Errorf("encoding %s payload: %w", typ, err)
	}
	return Frame{Type: typ, Data: string(data)}, nil
}

// ErrorFrame builds an error frame carrying msg, in the upstream's shape.
func ErrorFrame(msg string) Frame {
	f, _ := NewFrame(TypeError, map[string]string{"error": msg})
	return f
}
