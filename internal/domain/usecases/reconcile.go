package usecases

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog"

	"github.com/0xcro3dile/ragrelay-go/internal/domain/entities"
	"github.com/0xcro3dile/ragrelay-go/internal/domain/ports"
)

// WriteAction is the kind of transcript write a reconciliation performs.
type WriteAction string

const (
	// ActionAppend inserts new records at increasing offsets, skipping existing ones.
	ActionAppend WriteAction = "append"
	// ActionRebuild replaces the whole record set.
	ActionRebuild WriteAction = "rebuild"
)

// turnGrowth is how much the history grows for one uncompacted turn:
// one user entry plus one assistant entry.
const turnGrowth = 2

const maxFallbackTitle = 60

// WriteSet is the minimal set of transcript writes for one terminal result.
type WriteSet struct {
	ConversationID string
	Action         WriteAction
	Records        []entities.TranscriptRecord
}

// PlanWrites computes the writes that persist res. It is pure: the same
// inputs always produce the same write set.
//
// When prior is non-empty and the history did not grow by exactly one turn,
// the upstream compacted it and the transcript is rebuilt from res.History.
// Otherwise the new suffix is appended starting at nextOffset.
func PlanWrites(conversationID, query string, prior []entities.HistoryEntry, nextOffset int, res *entities.TerminalResult, now time.Time) WriteSet {
	growth := len(res.History) - len(prior)
	if len(prior) > 0 && growth != turnGrowth {
		return planRebuild(conversationID, res, now)
	}
	return planAppend(conversationID, query, len(prior), nextOffset, res, now)
}

// planRebuild re-derives the full record set from offset 0. Every assistant
// record receives the metadata of res: earlier per-turn metadata is not
// recoverable from a compacted history.
func planRebuild(conversationID string, res *entities.TerminalResult, now time.Time) WriteSet {
	ws := WriteSet{ConversationID: conversationID, Action: ActionRebuild}

	offset := 0
	if sys, ok := firstSystem(res.History); ok {
		ws.Records = append(ws.Records, systemRecord(conversationID, sys, now))
		offset++
	}
	for _, h := range res.History {
		if h.Role == entities.RoleSystem {
			continue
		}
		ws.Records = append(ws.Records, turnRecord(conversationID, offset, h, res, now))
		offset++
	}
	return ws
}

// planFill lays out the full history like a rebuild but is applied as an
// append, so records already stored and their feedback stay untouched.
func planFill(conversationID, query string, res *entities.TerminalResult, now time.Time) WriteSet {
	ws := planRebuild(conversationID, res, now)
	ws.Action = ActionAppend
	for i := len(ws.Records) - 1; i >= 0; i-- {
		if ws.Records[i].Role == entities.RoleUser {
			ws.Records[i].Text = query
			break
		}
	}
	return ws
}

// planAppend takes the suffix of res.History from max(0, nextOffset-1),
// never reaching back into entries the caller already had, and lays it out
// from nextOffset. The -1 lets a system entry the upstream prepended on the
// first turn land on offset 0.
func planAppend(conversationID, query string, priorLen, nextOffset int, res *entities.TerminalResult, now time.Time) WriteSet {
	ws := WriteSet{ConversationID: conversationID, Action: ActionAppend}

	start := max(0, nextOffset-1)
	if priorLen > 0 {
		start = max(start, priorLen)
	}
	start = min(start, len(res.History))
	suffix := res.History[start:]

	lastUser := -1
	for i, h := range suffix {
		if h.Role == entities.RoleUser {
			lastUser = i
		}
	}

	offset := nextOffset
	if sys, ok := firstSystem(suffix); ok && offset == 0 {
		ws.Records = append(ws.Records, systemRecord(conversationID, sys, now))
		offset++
	}
	for i, h := range suffix {
		if h.Role == entities.RoleSystem {
			continue
		}
		rec := turnRecord(conversationID, offset, h, res, now)
		if i == lastUser {
			// Store what the caller asked, not the upstream's echo of it.
			rec.Text = query
		}
		ws.Records = append(ws.Records, rec)
		offset++
	}
	return ws
}

func firstSystem(history []entities.HistoryEntry) (entities.HistoryEntry, bool) {
	for _, h := range history {
		if h.Role == entities.RoleSystem {
			return h, true
		}
	}
	return entities.HistoryEntry{}, false
}

func systemRecord(conversationID string, h entities.HistoryEntry, now time.Time) entities.TranscriptRecord {
	return entities.TranscriptRecord{
		ConversationID: conversationID,
		Offset:         0,
		Role:           entities.RoleSystem,
		Text:           h.Content,
		Documents:      []json.RawMessage{},
		CreatedAt:      now.Add(-time.Millisecond),
	}
}

func turnRecord(conversationID string, offset int, h entities.HistoryEntry, res *entities.TerminalResult, now time.Time) entities.TranscriptRecord {
	rec := entities.TranscriptRecord{
		ConversationID: conversationID,
		Offset:         offset,
		Role:           h.Role,
		Text:           h.Content,
		Documents:      []json.RawMessage{},
		CreatedAt:      now,
	}
	if h.Role == entities.RoleAssistant {
		if res.Documents != nil {
			rec.Documents = res.Documents
		}
		rec.Rewritten = res.Rewritten
		rec.FetchedNewDocuments = res.FetchedNewDocuments
	}
	return rec
}

// Reconciler owns every write to a conversation's transcript.
type Reconciler struct {
	store     ports.Store
	titles    ports.TitleGenerator
	telemetry ports.Telemetry
	logger    zerolog.Logger
	now       func() time.Time
}

// NewReconciler creates a Reconciler with injected dependencies.
func NewReconciler(store ports.Store, titles ports.TitleGenerator, telemetry ports.Telemetry, logger zerolog.Logger) *Reconciler {
	if telemetry == nil {
		telemetry = nopTelemetry{}
	}
	return &Reconciler{
		store:     store,
		titles:    titles,
		telemetry: telemetry,
		logger:    logger,
		now:       time.Now,
	}
}

// Reconcile persists the terminal result of one successful relay call.
// It creates the conversation on first use, then applies the planned writes.
// Re-running it with identical inputs converges to the same stored state.
func (rc *Reconciler) Reconcile(ctx context.Context, req *entities.SendRequest, res *entities.TerminalResult) (WriteSet, error) {
	if err := rc.ensureConversation(ctx, req); err != nil {
		return WriteSet{}, err
	}

	now := rc.now()
	ws := PlanWrites(req.ConversationID, req.Query, req.History, req.NextOffset, res, now)

	if ws.Action == ActionAppend {
		layout, stored, err := rc.layoutOffset(ctx, req)
		if err != nil {
			return ws, err
		}
		switch {
		case stored < layout:
			// Appending would leave a gap below the layout offset.
			rc.logger.Info().
				Str("conversation", req.ConversationID).
				Int("stored", stored).
				Int("next_offset", req.NextOffset).
				Msg("transcript behind client offset, filling missing records")
			ws = planFill(req.ConversationID, req.Query, res, now)
		case layout != req.NextOffset:
			ws = PlanWrites(req.ConversationID, req.Query, req.History, layout, res, now)
		}
	}

	written, err := rc.apply(ctx, ws)
	if err != nil {
		return ws, err
	}
	rc.telemetry.TranscriptWritten(string(ws.Action), written)
	rc.logger.Debug().
		Str("conversation", req.ConversationID).
		Str("action", string(ws.Action)).
		Int("planned", len(ws.Records)).
		Int("written", written).
		Msg("transcript reconciled")
	return ws, nil
}

// layoutOffset returns the stored offset the next turn starts at, together
// with the stored record count. Clients that count only user and assistant
// messages send a nextOffset one short of the stored layout when the
// transcript opens with a system record.
func (rc *Reconciler) layoutOffset(ctx context.Context, req *entities.SendRequest) (int, int, error) {
	stored, err := rc.store.CountRecords(ctx, req.ConversationID)
	if err != nil {
		return 0, 0, fmt.Errorf("counting transcript: %w", err)
	}
	next := req.NextOffset
	if next == 0 || stored == 0 || !excludesSystem(req.History, next, stored) {
		return next, stored, nil
	}

	recs, err := rc.store.Read(ctx, req.ConversationID)
	if err != nil {
		return 0, 0, fmt.Errorf("reading transcript: %w", err)
	}
	if len(recs) > 0 && recs[0].Role == entities.RoleSystem {
		return next + 1, stored, nil
	}
	return next, stored, nil
}

// excludesSystem reports whether nextOffset leaves out a leading system
// entry. The prior history decides when present; otherwise the store being
// exactly one record ahead does.
func excludesSystem(prior []entities.HistoryEntry, next, stored int) bool {
	if len(prior) > 0 {
		_, ok := firstSystem(prior)
		return ok && next == len(prior)-1
	}
	return stored == next+1
}

func (rc *Reconciler) apply(ctx context.Context, ws WriteSet) (int, error) {
	if ws.Action == ActionRebuild {
		if err := rc.store.Rebuild(ctx, ws.ConversationID, ws.Records); err != nil {
			return 0, fmt.Errorf("rebuilding transcript: %w", err)
		}
		return len(ws.Records), nil
	}

	written := 0
	for _, rec := range ws.Records {
		inserted, err := rc.store.Append(ctx, rec)
		if err != nil {
			return written, fmt.Errorf("appending offset %d: %w", rec.Offset, err)
		}
		if inserted {
			written++
		}
	}
	return written, nil
}

// ensureConversation creates the conversation header if it does not exist.
// Creation is not joined with the transcript write: a crash in between
// leaves an empty titled conversation that the next send fills.
func (rc *Reconciler) ensureConversation(ctx context.Context, req *entities.SendRequest) error {
	_, err := rc.store.GetConversation(ctx, req.ConversationID)
	if err == nil {
		return nil
	}
	if !errors.Is(err, entities.ErrConversationNotFound) {
		return fmt.Errorf("looking up conversation: %w", err)
	}

	title, err := rc.titles.Title(ctx, req.Query)
	title = strings.TrimSpace(title)
	if err != nil || title == "" {
		rc.logger.Warn().Err(err).Str("conversation", req.ConversationID).Msg("title generation failed, using query")
		title = fallbackTitle(req.Query)
	}

	conv := entities.Conversation{
		ID:        req.ConversationID,
		Title:     title,
		CreatedAt: rc.now(),
		OwnerID:   req.OwnerID,
	}
	if err := rc.store.CreateConversation(ctx, conv); err != nil {
		return fmt.Errorf("creating conversation: %w", err)
	}
	return nil
}

func fallbackTitle(query string) string {
	query = strings.Join(strings.Fields(query), " ")
	if utf8.RuneCountInString(query) <= maxFallbackTitle {
		return query
	}
	runes := []rune(query)
	return string(runes[:maxFallbackTitle]) + "…"
}
