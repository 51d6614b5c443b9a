package usecases

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/0xcro3dile/ragrelay-go/internal/adapters/store"
	"github.com/0xcro3dile/ragrelay-go/internal/domain/entities"
)

func seededStore(t *testing.T) *store.MemoryStore {
	t.Helper()
	ctx := context.Background()
	s := store.NewMemoryStore()
	s.CreateConversation(ctx, entities.Conversation{ID: "c1", Title: "Capitals", CreatedAt: time.Now(), OwnerID: "u1"})
	s.Append(ctx, entities.TranscriptRecord{ConversationID: "c1", Offset: 0, Role: entities.RoleUser, Text: "capital of France?"})
	s.Append(ctx, entities.TranscriptRecord{ConversationID: "c1", Offset: 1, Role: entities.RoleAssistant, Text: "Paris"})
	return s
}

func TestFeedbackUseCase_AddAndList(t *testing.T) {
	ctx := context.Background()
	uc := NewFeedbackUseCase(seededStore(t))

	err := uc.Add(ctx, "u1", entities.FeedbackRecord{ConversationID: "c1", Offset: 1, IsPositive: true, Comment: "spot on"})
	if err != nil {
		t.Fatalf("add failed: %v", err)
	}

	views, err := uc.List(ctx, "u1")
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(views) != 1 {
		t.Fatalf("expected 1 view, got %d", len(views))
	}
	if views[0].Question != "capital of France?" || views[0].Answer != "Paris" || views[0].ConversationTitle != "Capitals" {
		t.Errorf("unexpected view: %+v", views[0])
	}
}

func TestFeedbackUseCase_Rejections(t *testing.T) {
	ctx := context.Background()
	uc := NewFeedbackUseCase(seededStore(t))

	tests := []struct {
		name  string
		owner string
		fb    entities.FeedbackRecord
		want  error
	}{
		{"missing comment", "u1", entities.FeedbackRecord{ConversationID: "c1", Offset: 1}, entities.ErrInvalidRequest},
		{"foreign conversation", "u2", entities.FeedbackRecord{ConversationID: "c1", Offset: 1, Comment: "x"}, entities.ErrAccessDenied},
		{"unknown conversation", "u1", entities.FeedbackRecord{ConversationID: "nope", Offset: 0, Comment: "x"}, entities.ErrAccessDenied},
		{"offset beyond transcript", "u1", entities.FeedbackRecord{ConversationID: "c1", Offset: 2, Comment: "x"}, entities.ErrInvalidRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := uc.Add(ctx, tt.owner, tt.fb); !errors.Is(err, tt.want) {
				t.Errorf("expected %v, got %v", tt.want, err)
			}
		})
	}
}
