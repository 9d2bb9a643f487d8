package api

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/Newton-b/raphtrack-core/internal/feed"
	"github.com/Newton-b/raphtrack-core/internal/middleware"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
	maxMsgSize = 4096
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// The gateway in front of this service enforces origins.
		return true
	},
}

// streamKinds is everything a websocket client receives.
var streamKinds = []feed.EventKind{
	feed.KindNotification,
	feed.KindMetrics,
	feed.KindShipmentUpdate,
	feed.KindConnectionState,
	feed.KindNotificationUpdated,
}

// clientCommand is the only inbound frame shape.
type clientCommand struct {
	Action string `json:"action"`
	ID     string `json:"id,omitempty"`
}

// handleFeedStream upgrades the request and runs one feed session for the
// lifetime of the socket. The session revalidates the token itself, so a
// forged or expired credential fails closed even past the middleware.
func (s *Server) handleFeedStream(c *gin.Context) {
	principal := middleware.PrincipalFrom(c)
	if principal == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
		return
	}
	token := middleware.TokenFromRequest(c)

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.Printf("api: websocket upgrade failed: %v", err)
		return
	}

	session := feed.NewSession(s.feedCfg, s.source, s.jwtManager, s.logger)

	send := make(chan feed.Event, 256)
	done := make(chan struct{})
	var closeOnce sync.Once
	teardown := func() {
		closeOnce.Do(func() {
			close(done)
			session.Close()
			_ = conn.Close()
		})
	}
	defer teardown()

	for _, kind := range streamKinds {
		session.Subscribe(kind, func(ev feed.Event) {
			select {
			case send <- ev:
			default:
				// Client cannot keep up; dropping frames would break
				// per-kind ordering, so drop the connection instead.
				// Handlers run on the session loop, so tear down from a
				// separate goroutine.
				go teardown()
			}
		})
	}

	go s.writePump(conn, send, done)

	ok, err := session.Connect(c.Request.Context(), principal.ID, token)
	if err != nil {
		s.logger.Printf("api: feed connect for %s: %v", principal.ID, err)
		return
	}
	if !ok && session.State() == feed.StateDisconnected {
		// Credential denial, not a transport problem: nothing will recover
		// this socket.
		s.logger.Printf("api: feed stream denied for %s", principal.ID)
		return
	}

	s.readPump(conn, session, principal.ID)
}

// readPump consumes client commands until the socket dies.
func (s *Server) readPump(conn *websocket.Conn, session *feed.Session, principalID string) {
	conn.SetReadLimit(maxMsgSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var cmd clientCommand
		if err := conn.ReadJSON(&cmd); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Printf("api: feed stream for %s closed: %v", principalID, err)
			}
			return
		}
		switch cmd.Action {
		case "mark_read":
			session.MarkNotificationRead(cmd.ID)
		case "disconnect":
			session.Disconnect()
		default:
			s.logger.Printf("api: unknown stream command %q from %s", cmd.Action, principalID)
		}
	}
}

// writePump forwards session events and keeps the connection alive.
func (s *Server) writePump(conn *websocket.Conn, send <-chan feed.Event, done <-chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case ev := <-send:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(ev); err != nil {
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
