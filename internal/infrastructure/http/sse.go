package http

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/0xcro3dile/ragrelay-go/internal/domain/eventstream"
)

// sseSubscriber writes relayed frames to a streaming HTTP response.
// Headers are sent with the first frame so that failures before any frame
// can still be answered with a plain status code.
type sseSubscriber struct {
	w              gin.ResponseWriter
	enc            *eventstream.Encoder
	conversationID func() string
	started        bool
}

func newSSESubscriber(w gin.ResponseWriter, conversationID func() string) *sseSubscriber {
	return &sseSubscriber{
		w:              w,
		enc:            eventstream.NewEncoder(w),
		conversationID: conversationID,
	}
}

// Deliver writes f and flushes it to the client.
func (s *sseSubscriber) Deliver(ctx context.Context, f eventstream.Frame) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !s.started {
		h := s.w.Header()
		h.Set("Content-Type", "text/event-stream")
		h.Set("Cache-Control", "no-cache")
		h.Set("Connection", "keep-alive")
		h.Set("X-Accel-Buffering", "no")
		if id := s.conversationID(); id != "" {
			h.Set(headerConversationID, id)
		}
		s.w.WriteHeader(http.StatusOK)
		s.started = true
	}
	if err := s.enc.Encode(f); err != nil {
		return err
	}
	s.w.Flush()
	return nil
}

// Started reports whether the response headers were sent.
func (s *sseSubscriber) Started() bool {
	return s.started
}
