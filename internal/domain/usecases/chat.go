package usecases

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/0xcro3dile/ragrelay-go/internal/domain/entities"
	"github.com/0xcro3dile/ragrelay-go/internal/domain/ports"
)

// DefaultConversationLimit is how many conversations a listing returns.
const DefaultConversationLimit = 20

// ChatUseCase handles submissions and conversation reads for one owner at a time.
// Single Responsibility: relay first, then hand the terminal result to the reconciler.
type ChatUseCase struct {
	relay      *Relay
	reconciler *Reconciler
	store      ports.Store
	telemetry  ports.Telemetry
	logger     zerolog.Logger
	listLimit  int
}

// NewChatUseCase creates a ChatUseCase with injected dependencies.
func NewChatUseCase(
	relay *Relay,
	reconciler *Reconciler,
	store ports.Store,
	telemetry ports.Telemetry,
	logger zerolog.Logger,
	listLimit int,
) *ChatUseCase {
	if listLimit <= 0 {
		listLimit = DefaultConversationLimit
	}
	if telemetry == nil {
		telemetry = nopTelemetry{}
	}
	return &ChatUseCase{
		relay:      relay,
		reconciler: reconciler,
		store:      store,
		telemetry:  telemetry,
		logger:     logger,
		listLimit:  listLimit,
	}
}

// Submit relays req to the upstream and persists the outcome.
// A missing conversation id is replaced by a fresh one, visible in req.
//
// The terminal result is returned even when persistence fails: delivery and
// durability are not transactional. A subscriber that detaches before the
// done frame causes ErrCanceled and nothing is persisted.
func (uc *ChatUseCase) Submit(ctx context.Context, req *entities.SendRequest, sub ports.Subscriber) (*entities.TerminalResult, error) {
	if err := validateSend(req); err != nil {
		return nil, err
	}
	if req.ConversationID == "" {
		req.ConversationID = uuid.NewString()
	}
	if err := uc.checkOwner(ctx, req.ConversationID, req.OwnerID); err != nil {
		return nil, err
	}

	res, err := uc.relay.Send(ctx, req, sub)
	if err != nil {
		return nil, err
	}

	// The caller leaving after done must not abort persistence.
	persistCtx := context.WithoutCancel(ctx)
	if _, err := uc.reconciler.Reconcile(persistCtx, req, res); err != nil {
		uc.telemetry.PersistenceFailed()
		uc.logger.Error().Err(err).
			Str("conversation", req.ConversationID).
			Int("next_offset", req.NextOffset).
			Msg("persisting transcript failed")
	}
	return res, nil
}

// checkOwner rejects sends into a conversation that belongs to someone else.
// Unknown conversations are allowed: they are created on success.
func (uc *ChatUseCase) checkOwner(ctx context.Context, conversationID, ownerID string) error {
	conv, err := uc.store.GetConversation(ctx, conversationID)
	switch {
	case errors.Is(err, entities.ErrConversationNotFound):
		return nil
	case err != nil:
		return fmt.Errorf("looking up conversation: %w", err)
	case conv.OwnerID != ownerID:
		return entities.ErrAccessDenied
	}
	return nil
}

// ListConversations returns the owner's most recent conversations.
func (uc *ChatUseCase) ListConversations(ctx context.Context, ownerID string) ([]entities.Conversation, error) {
	convs, err := uc.store.ListConversations(ctx, ownerID, uc.listLimit)
	if err != nil {
		return nil, fmt.Errorf("listing conversations: %w", err)
	}
	return convs, nil
}

// GetConversation returns a conversation with its transcript and feedback.
// Conversations of other owners are reported as not found.
func (uc *ChatUseCase) GetConversation(ctx context.Context, id, ownerID string) (*entities.ConversationDetail, error) {
	conv, err := uc.store.GetConversation(ctx, id)
	if err != nil {
		return nil, err
	}
	if conv.OwnerID != ownerID {
		return nil, entities.ErrConversationNotFound
	}

	messages, err := uc.store.Read(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("reading transcript: %w", err)
	}
	feedback, err := uc.store.ListFeedback(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("reading feedback: %w", err)
	}
	return &entities.ConversationDetail{
		Conversation: *conv,
		Messages:     messages,
		Feedback:     feedback,
	}, nil
}

// DeleteConversation removes a conversation with its transcript and feedback.
func (uc *ChatUseCase) DeleteConversation(ctx context.Context, id, ownerID string) error {
	return uc.store.DeleteConversation(ctx, id, ownerID)
}

func validateSend(req *entities.SendRequest) error {
	if strings.TrimSpace(req.Query) == "" {
		return fmt.Errorf("%w: query is required", entities.ErrInvalidRequest)
	}
	if req.NextOffset < 0 {
		return fmt.Errorf("%w: negative message offset", entities.ErrInvalidRequest)
	}
	for i, h := range req.History {
		if !h.Role.Valid() {
			return fmt.Errorf("%w: history[%d] has role %q", entities.ErrInvalidRequest, i, h.Role)
		}
	}
	return nil
}
