// Package ports defines interfaces for external dependencies.
// Clean Architecture: These are the boundaries - usecases depend on these abstractions,
// not concrete implementations. Adapters implement these interfaces.
package ports

import (
	"context"
	"encoding/json"
	"io"
	"time"

	"github.com/0xcro3dile/ragrelay-go/internal/domain/entities"
	"github.com/0xcro3dile/ragrelay-go/internal/domain/eventstream"
)

// GenerateRequest is the payload of one upstream generation call.
type GenerateRequest struct {
	Query     string
	History   []entities.HistoryEntry
	Documents []json.RawMessage
	Datasets  []string
}

// Generator is the stateless generation upstream.
type Generator interface {
	// Generate performs a buffered call and returns the terminal result.
	Generate(ctx context.Context, req GenerateRequest) (*entities.TerminalResult, error)

	// GenerateStream opens a streamed call and returns the raw event-stream body.
	// The caller owns the body and must close it.
	GenerateStream(ctx context.Context, req GenerateRequest) (io.ReadCloser, error)
}

// TitleGenerator produces a conversation title from its first question.
type TitleGenerator interface {
	Title(ctx context.Context, question string) (string, error)
}

// Subscriber receives relayed frames in arrival order.
// An error from Deliver means the subscriber detached.
type Subscriber interface {
	Deliver(ctx context.Context, f eventstream.Frame) error
}

// ConversationStore persists conversation headers.
type ConversationStore interface {
	// CreateConversation inserts conv; an existing id is left untouched.
	CreateConversation(ctx context.Context, conv entities.Conversation) error

	// GetConversation returns entities.ErrConversationNotFound for unknown ids.
	GetConversation(ctx context.Context, id string) (*entities.Conversation, error)

	// ListConversations returns the owner's newest conversations first.
	ListConversations(ctx context.Context, ownerID string, limit int) ([]entities.Conversation, error)

	// DeleteConversation removes the conversation, its transcript and its feedback.
	DeleteConversation(ctx context.Context, id, ownerID string) error
}

// TranscriptStore is the offset-keyed, append-only transcript log.
type TranscriptStore interface {
	// Append inserts rec unless (ConversationID, Offset) already exists.
	// It reports whether a row was written.
	Append(ctx context.Context, rec entities.TranscriptRecord) (bool, error)

	// Rebuild atomically replaces the whole record set of a conversation.
	Rebuild(ctx context.Context, conversationID string, recs []entities.TranscriptRecord) error

	// Read returns the records ordered by offset.
	Read(ctx context.Context, conversationID string) ([]entities.TranscriptRecord, error)

	// CountRecords returns the number of stored records.
	CountRecords(ctx context.Context, conversationID string) (int, error)
}

// FeedbackStore persists ratings of transcript records.
type FeedbackStore interface {
	AddFeedback(ctx context.Context, fb entities.FeedbackRecord) error
	ListFeedback(ctx context.Context, conversationID string) ([]entities.FeedbackRecord, error)
	ListFeedbackByOwner(ctx context.Context, ownerID string) ([]entities.FeedbackView, error)
}

// Store groups the persistence ports behind one handle.
type Store interface {
	ConversationStore
	TranscriptStore
	FeedbackStore
	Close() error
}

// Authenticator resolves the owner identity established by the credential service.
type Authenticator interface {
	Authenticate(ctx context.Context, credential string) (ownerID string, err error)
}

// Telemetry records relay and reconciliation outcomes.
type Telemetry interface {
	FrameRelayed(frameType string)
	FrameDropped(frameType string)
	RelayFinished(mode, outcome string, elapsed time.Duration)
	TranscriptWritten(action string, records int)
	PersistenceFailed()
}

// FileWatcher monitors a directory for changes.
type FileWatcher interface {
	// Watch starts monitoring the directory and emits events.
	Watch(ctx context.Context, dir string) (<-chan FileEvent, error)

	// Stop stops the watcher.
	Stop() error
}

// FileEvent represents a file system change.
type FileEvent struct {
	Path      string
	Operation FileOperation
}

// FileOperation is the type of file change.
type FileOperation int

const (
	FileCreated FileOperation = iota
	FileModified
	FileDeleted
)
