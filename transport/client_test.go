package transport

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/soopwave/soopwave/protocol"
)

var testUpgrader = websocket.Upgrader{Subprotocols: []string{"chat"}}

// chatEdge is a scripted stand-in for the SOOP chat server: it validates the
// login and join packets and then pushes the given frames.
func chatEdge(t *testing.T, wantChatRoom string, frames ...[]byte) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		defer conn.Close()

		_, login, err := conn.ReadMessage()
		if err != nil {
			t.Errorf("read login: %v", err)
			return
		}
		if !bytes.Equal(login, protocol.LoginPacket()) {
			t.Errorf("login packet = %q", login)
		}
		ack := protocol.BuildPacket(protocol.SvcLogin, protocol.FieldSep+"0"+protocol.FieldSep)
		if err := conn.WriteMessage(websocket.BinaryMessage, ack); err != nil {
			return
		}

		_, join, err := conn.ReadMessage()
		if err != nil {
			t.Errorf("read join: %v", err)
			return
		}
		if !bytes.Contains(join, []byte(wantChatRoom)) {
			t.Errorf("join packet %q does not carry chat room %q", join, wantChatRoom)
		}

		for _, f := range frames {
			if err := conn.WriteMessage(websocket.BinaryMessage, f); err != nil {
				return
			}
		}
	})
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func chatFrame(msg, userID, nickname, flags string) []byte {
	sep := protocol.FieldSep
	body := sep + msg + sep + userID + sep + sep + sep + sep + nickname + sep + flags
	return protocol.BuildPacket(protocol.SvcChat, body)
}

func donationFrame(nickname string, stars string) []byte {
	sep := protocol.FieldSep
	body := sep + "id" + sep + "uid" + sep + nickname + sep + stars
	return protocol.BuildPacket(protocol.SvcDonation, body)
}

func TestJoinBeforeLoginAckRejected(t *testing.T) {
	c := New(Config{ChatRoomID: "12345"})
	if err := c.Join(); !errors.Is(err, ErrNotReady) {
		t.Errorf("Join before connect: err = %v, want ErrNotReady", err)
	}
	if got := c.State(); got != StateDisconnected {
		t.Errorf("state after rejected join = %v, want DISCONNECTED", got)
	}
}

func TestRunBeforeJoinRejected(t *testing.T) {
	c := New(Config{})
	err := c.Run(context.Background(), func(protocol.Event) {})
	if !errors.Is(err, ErrNotReady) {
		t.Errorf("Run before join: err = %v, want ErrNotReady", err)
	}
}

func TestHandshakeAndEventDelivery(t *testing.T) {
	srv := httptest.NewServer(chatEdge(t, "98765",
		chatFrame("지창", "user1", "viewer", "257|0"),
		donationFrame("donor", "100"),
	))
	defer srv.Close()

	c := New(Config{
		URL:        wsURL(srv),
		ChatRoomID: "98765",
		EntryToken: "tok",
	})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := c.Connect(ctx); err != nil {
		t.Fatalf("connect: %v", err)
	}
	if got := c.State(); got != StateJoining {
		t.Fatalf("state after connect = %v, want JOINING", got)
	}
	if err := c.Join(); err != nil {
		t.Fatalf("join: %v", err)
	}
	if got := c.State(); got != StateStreaming {
		t.Fatalf("state after join = %v, want STREAMING", got)
	}

	var events []protocol.Event
	err := c.Run(ctx, func(ev protocol.Event) { events = append(events, ev) })
	var terr *Error
	if !errors.As(err, &terr) {
		t.Fatalf("run ended with %v, want transport error on server close", err)
	}

	if len(events) != 2 {
		t.Fatalf("got %d events, want 2", len(events))
	}
	chat, ok := events[0].(protocol.ChatEvent)
	if !ok {
		t.Fatalf("events[0] = %T, want ChatEvent", events[0])
	}
	if chat.Message != "지창" || chat.Nickname != "viewer" || chat.Flags != 257 {
		t.Errorf("chat = %+v", chat)
	}
	don, ok := events[1].(protocol.DonationEvent)
	if !ok {
		t.Fatalf("events[1] = %T, want DonationEvent", events[1])
	}
	if don.Nickname != "donor" || don.Stars != 100 {
		t.Errorf("donation = %+v", don)
	}
}

func TestSecondConnectRejectedWhileUp(t *testing.T) {
	srv := httptest.NewServer(chatEdge(t, "1"))
	defer srv.Close()

	c := New(Config{URL: wsURL(srv), ChatRoomID: "1"})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := c.Connect(ctx); err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer c.Close()

	if err := c.Connect(ctx); !errors.Is(err, ErrNotReady) {
		t.Errorf("second connect: err = %v, want ErrNotReady", err)
	}
}

func TestRunReturnsContextErrOnCancel(t *testing.T) {
	hold := make(chan struct{})
	defer close(hold)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
		ack := protocol.BuildPacket(protocol.SvcLogin, protocol.FieldSep)
		if err := conn.WriteMessage(websocket.BinaryMessage, ack); err != nil {
			return
		}
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
		<-hold
	}))
	defer srv.Close()

	c := New(Config{URL: wsURL(srv), ChatRoomID: "1"})
	ctx, cancel := context.WithCancel(context.Background())
	if err := c.Connect(ctx); err != nil {
		t.Fatalf("connect: %v", err)
	}
	if err := c.Join(); err != nil {
		t.Fatalf("join: %v", err)
	}

	time.AfterFunc(100*time.Millisecond, cancel)
	if err := c.Run(ctx, func(protocol.Event) {}); !errors.Is(err, context.Canceled) {
		t.Errorf("run after cancel: err = %v, want context.Canceled", err)
	}
	if got := c.State(); got != StateDisconnected {
		t.Errorf("state after cancel = %v, want DISCONNECTED", got)
	}
}

func TestConnectFailureLeavesClientReconnectable(t *testing.T) {
	c := New(Config{URL: "ws://127.0.0.1:1/Websocket/x"})
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	err := c.Connect(ctx)
	var terr *Error
	if !errors.As(err, &terr) || terr.Op != "dial" {
		t.Fatalf("err = %v, want dial transport error", err)
	}
	if got := c.State(); got != StateDisconnected {
		t.Errorf("state after failed dial = %v, want DISCONNECTED for retry", got)
	}
}
