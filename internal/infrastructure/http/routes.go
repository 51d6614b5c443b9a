package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/0xcro3dile/ragrelay-go/internal/domain/entities"
	"github.com/0xcro3dile/ragrelay-go/internal/domain/eventstream"
	"github.com/0xcro3dile/ragrelay-go/internal/infrastructure/observability"
)

const (
	headerConversationID = observability.ConversationHeader
	ownerKey             = observability.OwnerKey
	ownerParam           = "owner"
)

// submitBody is the client's send request.
type submitBody struct {
	Query         string                  `json:"query"`
	History       []entities.HistoryEntry `json:"history"`
	Docs          []json.RawMessage       `json:"docs"`
	Datasets      []string                `json:"datasets"`
	MessageOffset int                     `json:"messageOffset"`
}

func (b submitBody) request(conversationID, ownerID string) *entities.SendRequest {
	return &entities.SendRequest{
		ConversationID: conversationID,
		OwnerID:        ownerID,
		Query:          b.Query,
		History:        b.History,
		Documents:      b.Docs,
		Datasets:       b.Datasets,
		NextOffset:     b.MessageOffset,
	}
}

type feedbackBody struct {
	ConversationID string `json:"chat_id"`
	Offset         *int   `json:"message_offset"`
	IsPositive     bool   `json:"feedback"`
	Comment        string `json:"feedback_text"`
}

func (s *Server) registerRoutes() {
	s.router.GET("/api/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status": "ok",
			"uptime": time.Since(s.started).String(),
		})
	})
	s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := s.router.Group("/api", s.authenticate)
	api.GET("/chats", s.handleListChats)
	api.GET("/chats/:id", s.handleGetChat)
	api.DELETE("/chats/:id", s.handleDeleteChat)
	api.POST("/messages", s.handleMessage)
	api.POST("/messages/stream", s.handleMessageStream)
	api.POST("/chats/:id/message", s.handleMessage)
	api.POST("/chats/:id/message/stream", s.handleMessageStream)
	api.GET("/chats/:id/ws", s.handleWebSocket)
	api.GET("/feedback", s.handleListFeedback)
	api.POST("/feedback", s.handleAddFeedback)
}

// authenticate resolves the owner from the configured header. Browsers
// cannot set headers on a WebSocket handshake, so upgrade requests may carry
// the credential in the owner query parameter instead.
func (s *Server) authenticate(c *gin.Context) {
	credential := c.GetHeader(s.opts.OwnerHeader)
	if credential == "" && websocket.IsWebSocketUpgrade(c.Request) {
		credential = c.Query(ownerParam)
	}
	owner, err := s.auth.Authenticate(c.Request.Context(), credential)
	if err != nil {
		s.abortWithError(c, err)
		return
	}
	c.Set(ownerKey, owner)
	c.Next()
}

func owner(c *gin.Context) string {
	return c.GetString(ownerKey)
}

func (s *Server) handleListChats(c *gin.Context) {
	convs, err := s.chat.ListConversations(c.Request.Context(), owner(c))
	if err != nil {
		s.abortWithError(c, err)
		return
	}
	if convs == nil {
		convs = []entities.Conversation{}
	}
	c.JSON(http.StatusOK, convs)
}

func (s *Server) handleGetChat(c *gin.Context) {
	detail, err := s.chat.GetConversation(c.Request.Context(), c.Param("id"), owner(c))
	if err != nil {
		s.abortWithError(c, err)
		return
	}
	if detail.Messages == nil {
		detail.Messages = []entities.TranscriptRecord{}
	}
	c.JSON(http.StatusOK, detail)
}

func (s *Server) handleDeleteChat(c *gin.Context) {
	if err := s.chat.DeleteConversation(c.Request.Context(), c.Param("id"), owner(c)); err != nil {
		s.abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// handleMessage performs a buffered send and answers with the terminal result.
func (s *Server) handleMessage(c *gin.Context) {
	var body submitBody
	if err := c.ShouldBindJSON(&body); err != nil {
		s.abortWithError(c, errors.Join(entities.ErrInvalidRequest, err))
		return
	}

	req := body.request(c.Param("id"), owner(c))
	res, err := s.chat.Submit(c.Request.Context(), req, nil)
	if err != nil {
		s.abortWithError(c, err)
		return
	}
	c.Header(headerConversationID, req.ConversationID)
	c.JSON(http.StatusOK, res)
}

// handleMessageStream relays the upstream frames to the client as they arrive.
func (s *Server) handleMessageStream(c *gin.Context) {
	var body submitBody
	if err := c.ShouldBindJSON(&body); err != nil {
		s.abortWithError(c, errors.Join(entities.ErrInvalidRequest, err))
		return
	}

	req := body.request(c.Param("id"), owner(c))
	sub := newSSESubscriber(c.Writer, func() string { return req.ConversationID })
	_, err := s.chat.Submit(c.Request.Context(), req, sub)
	if err == nil {
		return
	}

	var upstream *entities.UpstreamError
	switch {
	case errors.As(err, &upstream), errors.Is(err, entities.ErrCanceled):
		// The upstream's error frame was relayed, or nobody is listening.
	case !sub.Started() && !isRelayError(err):
		s.abortWithError(c, err)
	default:
		if werr := sub.Deliver(c.Request.Context(), eventstream.ErrorFrame(err.Error())); werr != nil {
			s.logger.Debug().Err(werr).Msg("client gone before error frame")
		}
	}
}

func (s *Server) handleListFeedback(c *gin.Context) {
	views, err := s.feedback.List(c.Request.Context(), owner(c))
	if err != nil {
		s.abortWithError(c, err)
		return
	}
	if views == nil {
		views = []entities.FeedbackView{}
	}
	c.JSON(http.StatusOK, views)
}

func (s *Server) handleAddFeedback(c *gin.Context) {
	var body feedbackBody
	if err := c.ShouldBindJSON(&body); err != nil {
		s.abortWithError(c, errors.Join(entities.ErrInvalidRequest, err))
		return
	}
	if body.Offset == nil {
		s.abortWithError(c, errors.Join(entities.ErrInvalidRequest, errors.New("message_offset is required")))
		return
	}

	fb := entities.FeedbackRecord{
		ConversationID: body.ConversationID,
		Offset:         *body.Offset,
		IsPositive:     body.IsPositive,
		Comment:        body.Comment,
	}
	if err := s.feedback.Add(c.Request.Context(), owner(c), fb); err != nil {
		s.abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// isRelayError reports errors that arise after the upstream call was opened.
func isRelayError(err error) bool {
	return errors.Is(err, entities.ErrUpstreamUnavailable) || errors.Is(err, entities.ErrMalformedFrame)
}

// statusFor maps domain errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, entities.ErrInvalidRequest):
		return http.StatusBadRequest
	case errors.Is(err, entities.ErrUnauthenticated):
		return http.StatusUnauthorized
	case errors.Is(err, entities.ErrAccessDenied):
		return http.StatusForbidden
	case errors.Is(err, entities.ErrConversationNotFound):
		return http.StatusNotFound
	case errors.Is(err, entities.ErrUpstreamFailed),
		errors.Is(err, entities.ErrUpstreamUnavailable),
		errors.Is(err, entities.ErrMalformedFrame):
		return http.StatusBadGateway
	case errors.Is(err, entities.ErrCanceled):
		return 499 // client closed request
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) abortWithError(c *gin.Context, err error) {
	status := statusFor(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		s.logger.Error().Err(err).Str("path", c.FullPath()).Msg("request failed")
		msg = "internal server error"
	}
	c.AbortWithStatusJSON(status, gin.H{"error": msg})
}
