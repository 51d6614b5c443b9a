package eventstream

import (
	"errors"
	"io"
)

const readChunkSize = 4096

// Reader yields the frames of one transport stream lazily and in order.
// It is tied to its io.Reader and cannot be restarted.
type Reader struct {
	r       io.Reader
	dec     *Decoder
	pending []Frame
	chunk   []byte
	err     error
}

// NewReader returns a Reader decoding frames from r.
func NewReader(r io.Reader) *Reader {
	return &Reader{
		r:     r,
		dec:   NewDecoder(),
		chunk: make([]byte, readChunkSize),
	}
}

// Next returns the next frame. At the end of the stream any remaining
// buffered frame is returned before io.EOF. Transport errors are returned
// as-is once the frames already decoded have been drained; the leftover
// partial buffer is discarded in that case.
func (r *Reader) Next() (Frame, error) {
	for len(r.pending) == 0 {
		if r.err != nil {
			return Frame{}, r.err
		}
		n, err := r.r.Read(r.chunk)
		if n > 0 {
			r.pending = r.dec.Feed(r.chunk[:n])
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				if f, ok := r.dec.Flush(); ok {
					r.pending = append(r.pending, f)
				}
				r.err = io.EOF
			} else {
				r.err = err
			}
		}
	}
	f := r.pending[0]
	r.pending = r.pending[1:]
	return f, nil
}
