package eventstream

import (
	"errors"
	"io"
	"reflect"
	"strings"
	"testing"

	"github.com/0xcro3dile/ragrelay-go/internal/domain/entities"
)

const sampleStream = "event: step\ndata: {\"step\":\"Retrieving relevant documents...\"}\n\n" +
	"event: token\ndata: {\"token\":\"Hel\"}\n\n" +
	"event: token\r\ndata: {\"token\":\"lo\"}\r\n\r\n" +
	": keep-alive\n\n" +
	"data: plain message\ndata: second line\n\n" +
	"event: documents\ndata: {\"documents\":[{\"id\":\"d1\"}]}\n\n" +
	"event: done\ndata: {\"reply\":\"Hello\",\"history\":[{\"role\":\"user\",\"content\":\"hi\"},{\"role\":\"assistant\",\"content\":\"Hello\"}],\"documents\":[],\"rewritten\":null,\"fetched_new_documents\":false}\n\n"

func decodeAll(chunks ...string) []Frame {
	dec := NewDecoder()
	var out []Frame
	for _, c := range chunks {
		out = append(out, dec.Feed([]byte(c))...)
	}
	if f, ok := dec.Flush(); ok {
		out = append(out, f)
	}
	return out
}

func TestDecoder_SingleChunk(t *testing.T) {
	frames := decodeAll(sampleStream)

	wantTypes := []string{TypeStep, TypeToken, TypeToken, TypeMessage, TypeDocuments, TypeDone}
	if len(frames) != len(wantTypes) {
		t.Fatalf("expected %d frames, got %d: %+v", len(wantTypes), len(frames), frames)
	}
	for i, f := range frames {
		if f.Type != wantTypes[i] {
			t.Errorf("frame %d: expected type %s, got %s", i, wantTypes[i], f.Type)
		}
	}
	if frames[2].Data != `{"token":"lo"}` {
		t.Errorf("CRLF frame data not trimmed: %q", frames[2].Data)
	}
	if frames[3].Data != "plain message\nsecond line" {
		t.Errorf("data lines not joined: %q", frames[3].Data)
	}
}

func TestDecoder_ChunkInvariance(t *testing.T) {
	want := decodeAll(sampleStream)

	for i := 0; i <= len(sampleStream); i++ {
		got := decodeAll(sampleStream[:i], sampleStream[i:])
		if !reflect.DeepEqual(got, want) {
			t.Fatalf("split at %d: frames differ\n got: %+v\nwant: %+v", i, got, want)
		}
	}

	// Byte-at-a-time feeding is the extreme case.
	chunks := make([]string, len(sampleStream))
	for i := range sampleStream {
		chunks[i] = sampleStream[i : i+1]
	}
	if got := decodeAll(chunks...); !reflect.DeepEqual(got, want) {
		t.Fatalf("byte-wise feed differs\n got: %+v\nwant: %+v", got, want)
	}
}

func TestDecoder_FrameSplitAcrossChunks(t *testing.T) {
	dec := NewDecoder()
	if got := dec.Feed([]byte("event: tok")); len(got) != 0 {
		t.Fatalf("incomplete frame emitted: %+v", got)
	}
	if got := dec.Feed([]byte("en\ndata: {\"token\":\"a\"}\n")); len(got) != 0 {
		t.Fatalf("frame emitted before blank line: %+v", got)
	}
	got := dec.Feed([]byte("\nevent: token\ndata: {\"token\":\"b\"}\n\n"))
	if len(got) != 2 {
		t.Fatalf("expected 2 frames, got %d", len(got))
	}
	if dec.Buffered() != 0 {
		t.Errorf("buffer should be drained, %d bytes left", dec.Buffered())
	}
}

func TestDecoder_FlushRemainder(t *testing.T) {
	dec := NewDecoder()
	dec.Feed([]byte("event: done\ndata: {\"reply\":\"x\",\"history\":[]}"))
	f, ok := dec.Flush()
	if !ok {
		t.Fatal("remainder with data should parse")
	}
	if f.Type != TypeDone {
		t.Errorf("unexpected type %s", f.Type)
	}
	if _, ok := dec.Flush(); ok {
		t.Error("second flush should be empty")
	}
}

func TestDecoder_FlushDiscardsUnparseable(t *testing.T) {
	dec := NewDecoder()
	dec.Feed([]byte("event: token\nretry: 10"))
	if _, ok := dec.Flush(); ok {
		t.Error("remainder without a data line should be discarded")
	}

	dec.Feed([]byte("  \n "))
	if _, ok := dec.Flush(); ok {
		t.Error("blank remainder should be discarded")
	}
}

func TestEncoder_Inverse(t *testing.T) {
	frames := []Frame{
		{Type: TypeToken, Data: `{"token":"a"}`},
		{Type: "custom", Data: "line one\nline two"},
		{Type: TypeStep, Data: ""},
	}
	var sb strings.Builder
	enc := NewEncoder(&sb)
	for _, f := range frames {
		if err := enc.Encode(f); err != nil {
			t.Fatalf("encode: %v", err)
		}
	}
	if got := decodeAll(sb.String()); !reflect.DeepEqual(got, frames) {
		t.Errorf("decode(encode(x)) != x\n got: %+v\nwant: %+v", got, frames)
	}
}

func TestEncoder_CarriageReturnsBecomeLineBreaks(t *testing.T) {
	wire := string(AppendFrame(nil, Frame{Type: "custom", Data: "a\r\nb\rc\r"}))
	if strings.Contains(wire, "\r") {
		t.Fatalf("carriage return written to the wire: %q", wire)
	}
	got := decodeAll(wire)
	want := []Frame{{Type: "custom", Data: "a\nb\nc\n"}}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("got %+v, want %+v", got, want)
	}
}

func TestEncoder_DefaultType(t *testing.T) {
	got := string(AppendFrame(nil, Frame{Data: "x"}))
	if got != "event: message\ndata: x\n\n" {
		t.Errorf("unexpected wire form %q", got)
	}
}

// slowReader hands out its content a few bytes at a time.
type slowReader struct {
	data string
	step int
	err  error
}

func (r *slowReader) Read(p []byte) (int, error) {
	if r.data == "" {
		if r.err != nil {
			return 0, r.err
		}
		return 0, io.EOF
	}
	n := min(r.step, len(p), len(r.data))
	copy(p, r.data[:n])
	r.data = r.data[n:]
	return n, nil
}

func TestReader_LazySequence(t *testing.T) {
	rd := NewReader(&slowReader{data: sampleStream + "event: token\ndata: {\"token\":\"tail\"}", step: 7})

	var types []string
	for {
		f, err := rd.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			t.Fatalf("next: %v", err)
		}
		types = append(types, f.Type)
	}
	want := []string{TypeStep, TypeToken, TypeToken, TypeMessage, TypeDocuments, TypeDone, TypeToken}
	if !reflect.DeepEqual(types, want) {
		t.Errorf("got %v, want %v", types, want)
	}
	if _, err := rd.Next(); !errors.Is(err, io.EOF) {
		t.Errorf("reader should stay at EOF, got %v", err)
	}
}

func TestReader_TransportError(t *testing.T) {
	boom := errors.New("connection reset")
	rd := NewReader(&slowReader{data: "event: token\ndata: {\"token\":\"a\"}\n\nevent: tok", step: 64, err: boom})

	if _, err := rd.Next(); err != nil {
		t.Fatalf("first frame should decode: %v", err)
	}
	if _, err := rd.Next(); !errors.Is(err, boom) {
		t.Errorf("expected transport error, got %v", err)
	}
}

func TestDecode_KnownTypes(t *testing.T) {
	frames := decodeAll(sampleStream)

	ev, err := Decode(frames[0])
	if err != nil {
		t.Fatalf("step: %v", err)
	}
	if s, ok := ev.Payload.(Step); !ok || s.Text != "Retrieving relevant documents..." {
		t.Errorf("unexpected step payload %#v", ev.Payload)
	}

	ev, err = Decode(frames[4])
	if err != nil {
		t.Fatalf("documents: %v", err)
	}
	if d, ok := ev.Payload.(Documents); !ok || len(d.Documents) != 1 {
		t.Errorf("unexpected documents payload %#v", ev.Payload)
	}

	ev, err = Decode(frames[5])
	if err != nil {
		t.Fatalf("done: %v", err)
	}
	done, ok := ev.Payload.(Done)
	if !ok {
		t.Fatalf("unexpected done payload %#v", ev.Payload)
	}
	if done.Result.Reply != "Hello" || len(done.Result.History) != 2 || done.Result.Rewritten != nil {
		t.Errorf("unexpected terminal result %+v", done.Result)
	}
}

func TestDecode_UnknownTypePassesThrough(t *testing.T) {
	ev, err := Decode(Frame{Type: "heartbeat", Data: "not json"})
	if err != nil {
		t.Fatalf("unknown types must not fail: %v", err)
	}
	raw, ok := ev.Payload.(Raw)
	if !ok || raw.Data != "not json" || raw.Type != "heartbeat" {
		t.Errorf("unexpected payload %#v", ev.Payload)
	}
}

func TestDecode_Malformed(t *testing.T) {
	cases := []Frame{
		{Type: TypeToken, Data: "{not json"},
		{Type: TypeToken, Data: `{"text":"wrong key"}`},
		{Type: TypeStep, Data: `{"step":42}`},
		{Type: TypeDocuments, Data: `{"documents":"nope"}`},
		{Type: TypeDone, Data: `{"history":[]}`},
		{Type: TypeDone, Data: `{"reply":"x"}`},
		{Type: TypeDone, Data: `{"reply":"x","history":[{"role":"robot","content":"?"}]}`},
		{Type: TypeError, Data: `{}`},
	}
	for _, f := range cases {
		if _, err := Decode(f); !errors.Is(err, entities.ErrMalformedFrame) {
			t.Errorf("%s %s: expected ErrMalformedFrame, got %v", f.Type, f.Data, err)
		}
	}
}

func TestErrorFrame(t *testing.T) {
	ev, err := Decode(ErrorFrame("upstream exploded"))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if f, ok := ev.Payload.(Failure); !ok || f.Message != "upstream exploded" {
		t.Errorf("unexpected payload %#v", ev.Payload)
	}
}
