// Package entities contains core business entities.
// These are the enterprise business rules - pure domain objects with no external dependencies.
package entities

import (
	"encoding/json"
	"fmt"
	"time"
)

// Role identifies who produced a history entry or transcript record.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleSystem, RoleUser, RoleAssistant:
		return true
	}
	return false
}

// Conversation is the header of a persisted chat.
// Created on the first successful interaction.
type Conversation struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"created_at"`
	OwnerID   string    `json:"owner_id"`
}

// HistoryEntry is one turn of the conversation history exchanged with the upstream.
// The whole array is re-sent on every call.
type HistoryEntry struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// TranscriptRecord is one immutable, offset-keyed row of a conversation transcript.
// (ConversationID, Offset) is the primary key.
type TranscriptRecord struct {
	ConversationID      string            `json:"chat_id"`
	Offset              int               `json:"message_offset"`
	Role                Role              `json:"role"`
	Text                string            `json:"text"`
	Documents           []json.RawMessage `json:"documents"`
	Rewritten           *string           `json:"rewritten"`
	FetchedNewDocuments bool              `json:"fetched_new_documents"`
	CreatedAt           time.Time         `json:"created_at"`
}

// FeedbackRecord rates a transcript record, usually an assistant answer.
type FeedbackRecord struct {
	ConversationID string `json:"chat_id"`
	Offset         int    `json:"message_offset"`
	IsPositive     bool   `json:"feedback"`
	Comment        string `json:"feedback_text"`
}

// FeedbackView is a feedback record joined with the rated question and answer.
type FeedbackView struct {
	FeedbackRecord
	ConversationTitle string            `json:"chat_title"`
	Question          string            `json:"question"`
	Answer            string            `json:"answer"`
	Documents         []json.RawMessage `json:"documents"`
}

// TerminalResult is the final structured outcome of a generation call,
// whether it arrived buffered or as the done frame of a stream.
type TerminalResult struct {
	Reply               string            `json:"reply"`
	Rewritten           *string           `json:"rewritten"`
	History             []HistoryEntry    `json:"history"`
	Documents           []json.RawMessage `json:"documents"`
	FetchedNewDocuments bool              `json:"fetched_new_documents"`
	Question            string            `json:"question,omitempty"`
}

// SendRequest is one client submission relayed to the upstream.
type SendRequest struct {
	ConversationID string
	OwnerID        string
	Query          string
	History        []HistoryEntry
	Documents      []json.RawMessage
	Datasets       []string
	NextOffset     int
}

// ConversationDetail is a conversation with its full transcript and feedback.
type ConversationDetail struct {
	Conversation Conversation       `json:"chat"`
	Messages     []TranscriptRecord `json:"messages"`
	Feedback     []FeedbackRecord   `json:"feedback"`
}

// CheckTranscript verifies the structural invariants of a record set ordered by offset:
// offsets are contiguous from zero, a system record may only sit at offset 0,
// and the remaining records alternate user/assistant starting with user.
func CheckTranscript(records []TranscriptRecord) error {
	want := RoleUser
	for i, rec := range records {
		if rec.Offset != i {
			return fmt.Errorf("offset gap: expected %d, found %d", i, rec.Offset)
		}
		if !rec.Role.Valid() {
			return fmt.Errorf("offset %d: unknown role %q", rec.Offset, rec.Role)
		}
		if rec.Role == RoleSystem {
			if i != 0 {
				return fmt.Errorf("offset %d: system record outside offset 0", rec.Offset)
			}
			continue
		}
		if rec.Role != want {
			return fmt.Errorf("offset %d: expected %s, found %s", rec.Offset, want, rec.Role)
		}
		if want == RoleUser {
			want = RoleAssistant
		} else {
			want = RoleUser
		}
	}
	return nil
}
