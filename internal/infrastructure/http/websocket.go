package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/0xcro3dile/ragrelay-go/internal/domain/entities"
	"github.com/0xcro3dile/ragrelay-go/internal/domain/eventstream"
)

const wsWriteWait = 10 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// Origins are enforced by the CORS policy on the HTTP routes.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// wsMessage is the JSON shape of a relayed frame on the socket.
type wsMessage struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

func newWSMessage(f eventstream.Frame) wsMessage {
	data := json.RawMessage(f.Data)
	if !json.Valid(data) {
		data, _ = json.Marshal(f.Data)
	}
	return wsMessage{Type: f.Type, Data: data}
}

// wsSubscriber forwards frames as JSON text messages.
type wsSubscriber struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (s *wsSubscriber) Deliver(ctx context.Context, f eventstream.Frame) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	return s.conn.WriteJSON(newWSMessage(f))
}

// handleWebSocket runs one submission over a WebSocket. The first client
// message is the submit body; closing the socket detaches the subscriber.
func (s *Server) handleWebSocket(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.Debug().Err(err).Msg("websocket upgrade failed")
		return
	}
	defer conn.Close()

	var body submitBody
	if err := conn.ReadJSON(&body); err != nil {
		s.closeWS(conn, websocket.CloseUnsupportedData, "invalid submit body")
		return
	}

	// Hijacked connections do not cancel the request context; the read loop does.
	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	}()

	sub := &wsSubscriber{conn: conn}
	req := body.request(c.Param("id"), owner(c))
	_, err = s.chat.Submit(ctx, req, sub)

	var upstream *entities.UpstreamError
	switch {
	case err == nil:
		s.closeWS(conn, websocket.CloseNormalClosure, "")
	case errors.Is(err, entities.ErrCanceled):
	case errors.As(err, &upstream):
		s.closeWS(conn, websocket.CloseNormalClosure, "")
	default:
		sub.Deliver(context.Background(), eventstream.ErrorFrame(err.Error()))
		s.closeWS(conn, websocket.CloseNormalClosure, "")
	}
}

func (s *Server) closeWS(conn *websocket.Conn, code int, reason string) {
	msg := websocket.FormatCloseMessage(code, reason)
	if err := conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(wsWriteWait)); err != nil {
		s.logger.Debug().Err(err).Msg("websocket close failed")
	}
}
