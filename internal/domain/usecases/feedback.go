package usecases

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/0xcro3dile/ragrelay-go/internal/domain/entities"
	"github.com/0xcro3dile/ragrelay-go/internal/domain/ports"
)

// FeedbackUseCase records and lists ratings of transcript records.
type FeedbackUseCase struct {
	store ports.Store
}

// NewFeedbackUseCase creates a FeedbackUseCase.
func NewFeedbackUseCase(store ports.Store) *FeedbackUseCase {
	return &FeedbackUseCase{store: store}
}

// Add stores fb after checking that the conversation belongs to ownerID
// and that the rated record exists.
func (uc *FeedbackUseCase) Add(ctx context.Context, ownerID string, fb entities.FeedbackRecord) error {
	if fb.ConversationID == "" || fb.Offset < 0 || strings.TrimSpace(fb.Comment) == "" {
		return fmt.Errorf("%w: conversation, offset and comment are required", entities.ErrInvalidRequest)
	}

	conv, err := uc.store.GetConversation(ctx, fb.ConversationID)
	if errors.Is(err, entities.ErrConversationNotFound) {
		return entities.ErrAccessDenied
	}
	if err != nil {
		return fmt.Errorf("looking up conversation: %w", err)
	}
	if conv.OwnerID != ownerID {
		return entities.ErrAccessDenied
	}

	count, err := uc.store.CountRecords(ctx, fb.ConversationID)
	if err != nil {
		return fmt.Errorf("counting transcript: %w", err)
	}
	if fb.Offset >= count {
		return fmt.Errorf("%w: no transcript record at offset %d", entities.ErrInvalidRequest, fb.Offset)
	}

	if err := uc.store.AddFeedback(ctx, fb); err != nil {
		return fmt.Errorf("storing feedback: %w", err)
	}
	return nil
}

// List returns all feedback on the owner's conversations with the rated Q&A.
func (uc *FeedbackUseCase) List(ctx context.Context, ownerID string) ([]entities.FeedbackView, error) {
	views, err := uc.store.ListFeedbackByOwner(ctx, ownerID)
	if err != nil {
		return nil, fmt.Errorf("listing feedback: %w", err)
	}
	return views, nil
}
