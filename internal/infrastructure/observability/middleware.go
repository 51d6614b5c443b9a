package observability

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// OwnerKey is the gin context key the auth middleware stores the owner under.
const OwnerKey = "owner"

// ConversationHeader carries the conversation id of a submit, including
// ids the gateway assigned.
const ConversationHeader = "X-Conversation-ID"

// RequestLogger logs one http_request event per request, at warn for 4xx and
// error for 5xx, tagged with the owner and conversation when known.
func RequestLogger(logger zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}

		var event *zerolog.Event
		switch {
		case status >= 500:
			event = logger.Error()
		case status >= 400:
			event = logger.Warn()
		default:
			event = logger.Info()
		}

		if owner := c.GetString(OwnerKey); owner != "" {
			event = event.Str("owner", owner)
		}
		if conv := conversationID(c); conv != "" {
			event = event.Str("conversation", conv)
		}
		event.
			Str("method", c.Request.Method).
			Str("path", path).
			Int("status", status).
			Dur("duration", time.Since(start)).
			Str("client_ip", c.ClientIP()).
			Int("bytes", c.Writer.Size()).
			Msg("http_request")
	}
}

func conversationID(c *gin.Context) string {
	if id := c.Writer.Header().Get(ConversationHeader); id != "" {
		return id
	}
	return c.Param("id")
}

func RequestMetricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}

		RecordHTTPRequest(c.Request.Method, path, c.Writer.Status(), time.Since(start))
	}
}
