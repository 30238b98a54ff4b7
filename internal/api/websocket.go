package api

import (
	"log"
	"net/http"
	"strings"

	"github.com/Zerotek-trade/zerotek-app/internal/events"
	"github.com/Zerotek-trade/zerotek-app/pkg/db"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// wsFrame wraps a bus payload with its topic so the UI can demux one socket.
type wsFrame struct {
	Type    string `json:"type"`
	Payload any    `json:"payload"`
}

// wsToken pulls the JWT from the token query parameter or, failing that, the
// Authorization header. Browsers cannot set headers on websocket upgrades.
func wsToken(c *gin.Context) string {
	if tok := c.Query("token"); tok != "" {
		return tok
	}
	parts := strings.SplitN(c.GetHeader("Authorization"), " ", 2)
	if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
		return parts[1]
	}
	return ""
}

// payloadUserID reports which user a bus payload belongs to. Unknown payload
// shapes return "" and are never streamed.
func payloadUserID(payload any) string {
	switch v := payload.(type) {
	case *db.AgentEvent:
		return v.UserID
	case *db.Position:
		return v.UserID
	case *db.Balance:
		return v.UserID
	}
	return ""
}

func (s *Server) websocket(c *gin.Context) {
	userID, err := parseToken(wsToken(c), s.JWTSecret)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
			"code":  "INVALID_TOKEN",
			"error": "invalid or expired token",
		})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Printf("ws upgrade error: %v", err)
		return
	}
	defer conn.Close()

	if s.Bus == nil {
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"error":"bus not ready"}`))
		return
	}

	agentLog, unsubLog := s.Bus.Subscribe(events.EventAgentLog, 100)
	defer unsubLog()
	positions, unsubPos := s.Bus.Subscribe(events.EventPositionChange, 100)
	defer unsubPos()
	balances, unsubBal := s.Bus.Subscribe(events.EventBalanceChange, 100)
	defer unsubBal()

	// Drain reads so close frames and pings are processed; the stream is
	// otherwise write-only.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		var frame wsFrame
		select {
		case <-done:
			return
		case msg, ok := <-agentLog:
			if !ok {
				return
			}
			frame = wsFrame{Type: "agent_event", Payload: msg}
		case msg, ok := <-positions:
			if !ok {
				return
			}
			frame = wsFrame{Type: "position", Payload: msg}
		case msg, ok := <-balances:
			if !ok {
				return
			}
			frame = wsFrame{Type: "balance", Payload: msg}
		}
		// The bus carries every user's events; only the caller's go out.
		if payloadUserID(frame.Payload) != userID {
			continue
		}
		if err := conn.WriteJSON(frame); err != nil {
			log.Printf("ws write error: %v", err)
			return
		}
	}
}
