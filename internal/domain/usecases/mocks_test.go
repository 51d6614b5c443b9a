package usecases

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/0xcro3dile/ragrelay-go/internal/domain/entities"
	"github.com/0xcro3dile/ragrelay-go/internal/domain/eventstream"
	"github.com/0xcro3dile/ragrelay-go/internal/domain/ports"
)

// mockGenerator implements ports.Generator for testing
type mockGenerator struct {
	mu       sync.Mutex
	result   *entities.TerminalResult
	stream   string
	body     io.ReadCloser
	err      error
	calls    int
	requests []ports.GenerateRequest
}

func (m *mockGenerator) Generate(ctx context.Context, req ports.GenerateRequest) (*entities.TerminalResult, error) {
	m.record(req)
	if m.err != nil {
		return nil, m.err
	}
	res := *m.result
	return &res, nil
}

func (m *mockGenerator) GenerateStream(ctx context.Context, req ports.GenerateRequest) (io.ReadCloser, error) {
	m.record(req)
	if m.err != nil {
		return nil, m.err
	}
	if m.body != nil {
		return m.body, nil
	}
	return &trackedBody{Reader: strings.NewReader(m.stream)}, nil
}

func (m *mockGenerator) record(req ports.GenerateRequest) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	m.requests = append(m.requests, req)
}

// trackedBody records whether it was closed.
type trackedBody struct {
	io.Reader
	mu     sync.Mutex
	closed bool
}

func (b *trackedBody) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	return nil
}

func (b *trackedBody) Closed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closed
}

// blockingBody yields its prefix and then blocks until closed.
type blockingBody struct {
	pr     *io.PipeReader
	closed chan struct{}
	once   sync.Once
}

func newBlockingBody(prefix string) *blockingBody {
	pr, pw := io.Pipe()
	go pw.Write([]byte(prefix))
	return &blockingBody{pr: pr, closed: make(chan struct{})}
}

func (b *blockingBody) Read(p []byte) (int, error) { return b.pr.Read(p) }

func (b *blockingBody) Close() error {
	b.once.Do(func() { close(b.closed) })
	return b.pr.Close()
}

// recordingSubscriber collects delivered frames; failAt > 0 makes the
// failAt-th delivery fail.
type recordingSubscriber struct {
	frames  []eventstream.Frame
	failAt  int
	onFrame func(eventstream.Frame)
}

func (s *recordingSubscriber) Deliver(ctx context.Context, f eventstream.Frame) error {
	if s.failAt > 0 && len(s.frames)+1 == s.failAt {
		return errors.New("client went away")
	}
	s.frames = append(s.frames, f)
	if s.onFrame != nil {
		s.onFrame(f)
	}
	return nil
}

func (s *recordingSubscriber) types() string {
	out := make([]string, len(s.frames))
	for i, f := range s.frames {
		out[i] = f.Type
	}
	return strings.Join(out, ",")
}

// mockTitles implements ports.TitleGenerator for testing
type mockTitles struct {
	title string
	err   error
	calls int
}

func (m *mockTitles) Title(ctx context.Context, question string) (string, error) {
	m.calls++
	return m.title, m.err
}

// mockTelemetry counts telemetry calls.
type mockTelemetry struct {
	mu       sync.Mutex
	relayed  []string
	dropped  []string
	outcomes []string
	written  map[string]int
	failures int
}

func (m *mockTelemetry) FrameRelayed(t string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.relayed = append(m.relayed, t)
}

func (m *mockTelemetry) FrameDropped(t string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dropped = append(m.dropped, t)
}

func (m *mockTelemetry) RelayFinished(mode, outcome string, elapsed time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.outcomes = append(m.outcomes, mode+":"+outcome)
}

func (m *mockTelemetry) TranscriptWritten(action string, n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.written == nil {
		m.written = map[string]int{}
	}
	m.written[action] += n
}

func (m *mockTelemetry) PersistenceFailed() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures++
}

// failingStore wraps a store and fails every transcript write.
type failingStore struct {
	ports.Store
}

func (f failingStore) Append(ctx context.Context, rec entities.TranscriptRecord) (bool, error) {
	return false, errors.New("disk full")
}

func (f failingStore) Rebuild(ctx context.Context, id string, recs []entities.TranscriptRecord) error {
	return errors.New("disk full")
}

func frame(typ, data string) string {
	return string(eventstream.AppendFrame(nil, eventstream.Frame{Type: typ, Data: data}))
}

func history(pairs ...string) []entities.HistoryEntry {
	out := make([]entities.HistoryEntry, 0, len(pairs)/2)
	for i := 0; i+1 < len(pairs); i += 2 {
		out = append(out, entities.HistoryEntry{Role: entities.Role(pairs[i]), Content: pairs[i+1]})
	}
	return out
}
