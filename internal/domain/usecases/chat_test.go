package usecases

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/0xcro3dile/ragrelay-go/internal/adapters/store"
	"github.com/0xcro3dile/ragrelay-go/internal/domain/entities"
	"github.com/0xcro3dile/ragrelay-go/internal/domain/eventstream"
	"github.com/0xcro3dile/ragrelay-go/internal/domain/ports"
)

func newTestChat(gen *mockGenerator, s ports.Store, tel *mockTelemetry) *ChatUseCase {
	relay := NewRelay(gen, tel, zerolog.Nop(), time.Second)
	rc := NewReconciler(s, &mockTitles{title: "title"}, tel, zerolog.Nop())
	return NewChatUseCase(relay, rc, s, tel, zerolog.Nop(), 0)
}

func TestChatUseCase_SubmitStreamPersists(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()
	gen := &mockGenerator{stream: frame("token", `{"token":"Hello!"}`) + frame("done", doneData)}
	tel := &mockTelemetry{}
	uc := newTestChat(gen, s, tel)

	req := &entities.SendRequest{OwnerID: "u1", Query: "hi"}
	res, err := uc.Submit(ctx, req, &recordingSubscriber{})
	if err != nil {
		t.Fatalf("submit failed: %v", err)
	}
	if res.Reply != "Hello!" {
		t.Errorf("unexpected reply: %s", res.Reply)
	}
	if req.ConversationID == "" {
		t.Fatal("conversation id should be assigned")
	}

	detail, err := uc.GetConversation(ctx, req.ConversationID, "u1")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if len(detail.Messages) != 2 || detail.Conversation.Title != "title" {
		t.Errorf("unexpected detail: %+v", detail)
	}
	if tel.written[string(ActionAppend)] != 2 {
		t.Errorf("expected 2 records counted, got %v", tel.written)
	}
}

func TestChatUseCase_FailedRelayPersistsNothing(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()
	gen := &mockGenerator{stream: frame("error", `{"error":"boom"}`)}
	uc := newTestChat(gen, s, &mockTelemetry{})

	req := &entities.SendRequest{ConversationID: "c1", OwnerID: "u1", Query: "hi"}
	if _, err := uc.Submit(ctx, req, &recordingSubscriber{}); !errors.Is(err, entities.ErrUpstreamFailed) {
		t.Fatalf("expected upstream failure, got %v", err)
	}
	if _, err := s.GetConversation(ctx, "c1"); !errors.Is(err, entities.ErrConversationNotFound) {
		t.Error("nothing should be persisted")
	}
}

func TestChatUseCase_DetachPersistsNothing(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()
	gen := &mockGenerator{stream: frame("token", `{"token":"Hel"}`) + frame("done", doneData)}
	uc := newTestChat(gen, s, &mockTelemetry{})

	req := &entities.SendRequest{ConversationID: "c1", OwnerID: "u1", Query: "hi"}
	if _, err := uc.Submit(ctx, req, &recordingSubscriber{failAt: 2}); !errors.Is(err, entities.ErrCanceled) {
		t.Fatalf("expected ErrCanceled, got %v", err)
	}
	if n, _ := s.CountRecords(ctx, "c1"); n != 0 {
		t.Errorf("expected no records, got %d", n)
	}
}

func TestChatUseCase_CancelAfterDoneStillPersists(t *testing.T) {
	s := store.NewMemoryStore()
	gen := &mockGenerator{stream: frame("done", doneData)}
	uc := newTestChat(gen, s, &mockTelemetry{})

	ctx, cancel := context.WithCancel(context.Background())
	sub := &recordingSubscriber{onFrame: func(eventstream.Frame) { cancel() }}

	req := &entities.SendRequest{ConversationID: "c1", OwnerID: "u1", Query: "hi"}
	if _, err := uc.Submit(ctx, req, sub); err != nil {
		t.Fatalf("submit failed: %v", err)
	}
	if n, _ := s.CountRecords(context.Background(), "c1"); n != 2 {
		t.Errorf("expected 2 records after done, got %d", n)
	}
}

func TestChatUseCase_PersistenceFailureIsNotFatal(t *testing.T) {
	gen := &mockGenerator{result: &entities.TerminalResult{Reply: "a", History: history("user", "q", "assistant", "a")}}
	tel := &mockTelemetry{}
	uc := newTestChat(gen, failingStore{store.NewMemoryStore()}, tel)

	res, err := uc.Submit(context.Background(), &entities.SendRequest{OwnerID: "u1", Query: "q"}, nil)
	if err != nil {
		t.Fatalf("submit should succeed: %v", err)
	}
	if res.Reply != "a" {
		t.Errorf("unexpected reply: %s", res.Reply)
	}
	if tel.failures != 1 {
		t.Errorf("expected 1 persistence failure, got %d", tel.failures)
	}
}

func TestChatUseCase_RejectsInvalidRequests(t *testing.T) {
	uc := newTestChat(&mockGenerator{}, store.NewMemoryStore(), &mockTelemetry{})

	tests := []struct {
		name string
		req  *entities.SendRequest
	}{
		{"empty query", &entities.SendRequest{Query: "  "}},
		{"negative offset", &entities.SendRequest{Query: "q", NextOffset: -1}},
		{"bad role", &entities.SendRequest{Query: "q", History: history("tool", "x")}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := uc.Submit(context.Background(), tt.req, nil); !errors.Is(err, entities.ErrInvalidRequest) {
				t.Errorf("expected ErrInvalidRequest, got %v", err)
			}
		})
	}
}

func TestChatUseCase_OwnerIsolation(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()
	s.CreateConversation(ctx, entities.Conversation{ID: "c1", Title: "t", CreatedAt: time.Now(), OwnerID: "u1"})
	gen := &mockGenerator{result: &entities.TerminalResult{Reply: "a", History: history("user", "q", "assistant", "a")}}
	uc := newTestChat(gen, s, &mockTelemetry{})

	if _, err := uc.Submit(ctx, &entities.SendRequest{ConversationID: "c1", OwnerID: "u2", Query: "q"}, nil); !errors.Is(err, entities.ErrAccessDenied) {
		t.Errorf("expected ErrAccessDenied, got %v", err)
	}
	if gen.calls != 0 {
		t.Error("upstream should not be called for a foreign conversation")
	}
	if _, err := uc.GetConversation(ctx, "c1", "u2"); !errors.Is(err, entities.ErrConversationNotFound) {
		t.Errorf("expected not found for foreign owner, got %v", err)
	}
	convs, _ := uc.ListConversations(ctx, "u2")
	if len(convs) != 0 {
		t.Errorf("foreign conversations listed: %+v", convs)
	}
	if err := uc.DeleteConversation(ctx, "c1", "u1"); err != nil {
		t.Errorf("owner delete failed: %v", err)
	}
}
