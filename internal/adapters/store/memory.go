// Package store provides transcript store adapters.
// Clean Architecture: Adapters implementing ports.Store.
package store

import (
	"context"
	"sort"
	"sync"

	"github.com/0xcro3dile/ragrelay-go/internal/domain/entities"
)

// MemoryStore is an in-process ports.Store for tests and throwaway runs.
// Open-Closed: Can be replaced with SQLStore without changing usecases.
type MemoryStore struct {
	mu            sync.RWMutex
	conversations map[string]entities.Conversation
	transcripts   map[string]map[int]entities.TranscriptRecord // conversationID -> offset -> record
	feedback      map[string][]entities.FeedbackRecord         // conversationID -> feedback
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		conversations: make(map[string]entities.Conversation),
		transcripts:   make(map[string]map[int]entities.TranscriptRecord),
		feedback:      make(map[string][]entities.FeedbackRecord),
	}
}

// CreateConversation inserts conv unless its id exists.
func (s *MemoryStore) CreateConversation(ctx context.Context, conv entities.Conversation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.conversations[conv.ID]; !ok {
		s.conversations[conv.ID] = conv
	}
	return nil
}

// GetConversation returns the conversation header.
func (s *MemoryStore) GetConversation(ctx context.Context, id string) (*entities.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	conv, ok := s.conversations[id]
	if !ok {
		return nil, entities.ErrConversationNotFound
	}
	return &conv, nil
}

// ListConversations returns the owner's newest conversations first.
func (s *MemoryStore) ListConversations(ctx context.Context, ownerID string, limit int) ([]entities.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []entities.Conversation
	for _, conv := range s.conversations {
		if conv.OwnerID == ownerID {
			out = append(out, conv)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// DeleteConversation removes the conversation, its transcript and feedback.
func (s *MemoryStore) DeleteConversation(ctx context.Context, id, ownerID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv, ok := s.conversations[id]
	if !ok || conv.OwnerID != ownerID {
		return entities.ErrConversationNotFound
	}
	delete(s.conversations, id)
	delete(s.transcripts, id)
	delete(s.feedback, id)
	return nil
}

// Append inserts rec unless its offset is taken.
func (s *MemoryStore) Append(ctx context.Context, rec entities.TranscriptRecord) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	recs, ok := s.transcripts[rec.ConversationID]
	if !ok {
		recs = make(map[int]entities.TranscriptRecord)
		s.transcripts[rec.ConversationID] = recs
	}
	if _, exists := recs[rec.Offset]; exists {
		return false, nil
	}
	recs[rec.Offset] = rec
	return true, nil
}

// Rebuild replaces the record set; feedback on the old records goes with them.
func (s *MemoryStore) Rebuild(ctx context.Context, conversationID string, recs []entities.TranscriptRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	fresh := make(map[int]entities.TranscriptRecord, len(recs))
	for _, rec := range recs {
		fresh[rec.Offset] = rec
	}
	s.transcripts[conversationID] = fresh
	delete(s.feedback, conversationID)
	return nil
}

// Read returns the records ordered by offset.
func (s *MemoryStore) Read(ctx context.Context, conversationID string) ([]entities.TranscriptRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.readLocked(conversationID), nil
}

func (s *MemoryStore) readLocked(conversationID string) []entities.TranscriptRecord {
	recs := s.transcripts[conversationID]
	out := make([]entities.TranscriptRecord, 0, len(recs))
	for _, rec := range recs {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Offset < out[j].Offset
	})
	return out
}

// CountRecords returns the number of stored records.
func (s *MemoryStore) CountRecords(ctx context.Context, conversationID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return len(s.transcripts[conversationID]), nil
}

// AddFeedback stores fb.
func (s *MemoryStore) AddFeedback(ctx context.Context, fb entities.FeedbackRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.feedback[fb.ConversationID] = append(s.feedback[fb.ConversationID], fb)
	return nil
}

// ListFeedback returns the feedback of one conversation by offset.
func (s *MemoryStore) ListFeedback(ctx context.Context, conversationID string) ([]entities.FeedbackRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := append([]entities.FeedbackRecord{}, s.feedback[conversationID]...)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Offset < out[j].Offset
	})
	return out, nil
}

// ListFeedbackByOwner joins feedback with the rated answer and its question.
func (s *MemoryStore) ListFeedbackByOwner(ctx context.Context, ownerID string) ([]entities.FeedbackView, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var convs []entities.Conversation
	for _, conv := range s.conversations {
		if conv.OwnerID == ownerID {
			convs = append(convs, conv)
		}
	}
	sort.Slice(convs, func(i, j int) bool {
		return convs[i].CreatedAt.After(convs[j].CreatedAt)
	})

	var views []entities.FeedbackView
	for _, conv := range convs {
		recs := s.readLocked(conv.ID)
		fbs := append([]entities.FeedbackRecord{}, s.feedback[conv.ID]...)
		sort.SliceStable(fbs, func(i, j int) bool {
			return fbs[i].Offset > fbs[j].Offset
		})
		for _, fb := range fbs {
			views = append(views, feedbackView(conv, fb, recs))
		}
	}
	return views, nil
}

// feedbackView resolves the rated record and the closest preceding user question.
func feedbackView(conv entities.Conversation, fb entities.FeedbackRecord, recs []entities.TranscriptRecord) entities.FeedbackView {
	view := entities.FeedbackView{FeedbackRecord: fb, ConversationTitle: conv.Title}
	for _, rec := range recs {
		if rec.Offset == fb.Offset {
			view.Answer = rec.Text
			view.Documents = rec.Documents
		}
		if rec.Role == entities.RoleUser && rec.Offset < fb.Offset {
			view.Question = rec.Text
		}
	}
	return view
}

// Close is a no-op.
func (s *MemoryStore) Close() error {
	return nil
}
