package api

import (
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/Zerotek-trade/zerotek-app/internal/events"
	"github.com/Zerotek-trade/zerotek-app/pkg/db"

	"github.com/gorilla/websocket"
)

func wsURL(rig *apiRig, token string) string {
	u := "ws" + strings.TrimPrefix(rig.srv.URL, "http") + "/ws"
	if token != "" {
		u += "?token=" + token
	}
	return u
}

func TestWebsocketRequiresToken(t *testing.T) {
	rig := newTestAPIServer(t)

	conn, resp, err := websocket.DefaultDialer.Dial(wsURL(rig, ""), nil)
	if err == nil {
		conn.Close()
		t.Fatal("dial without token succeeded")
	}
	if resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("handshake response = %+v, want 401", resp)
	}
}

func TestWebsocketStreamsOnlyOwnEvents(t *testing.T) {
	rig := newTestAPIServer(t)
	token := rig.signup(t, "walt@example.com")

	var me struct {
		ID string `json:"id"`
	}
	if code := doJSON(t, http.MethodGet, rig.srv.URL+"/api/auth/user", token, nil, &me); code != http.StatusOK {
		t.Fatalf("auth/user status = %d", code)
	}

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(rig, token), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	// Give the handler a moment to subscribe before publishing.
	time.Sleep(100 * time.Millisecond)

	rig.bus.Publish(events.EventAgentLog, &db.AgentEvent{ID: "theirs", UserID: "other-user", EventType: events.AgentScanning})
	rig.bus.Publish(events.EventAgentLog, &db.AgentEvent{ID: "mine", UserID: me.ID, EventType: events.AgentScanning})

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var frame struct {
		Type    string        `json:"type"`
		Payload db.AgentEvent `json:"payload"`
	}
	if err := conn.ReadJSON(&frame); err != nil {
		t.Fatalf("read frame: %v", err)
	}
	// The other user's event was published first; it must never arrive.
	if frame.Type != "agent_event" || frame.Payload.ID != "mine" {
		t.Fatalf("frame = %+v, want caller's own event", frame)
	}
	if frame.Payload.UserID != me.ID {
		t.Fatalf("streamed event for user %q", frame.Payload.UserID)
	}
}
