package hub

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"testing"
	"time"

	"github.com/coder/websocket"
)

func startHub(t *testing.T, setup func(*Server)) *Server {
	t.Helper()
	s := NewServer(&Config{
		Addr:   "127.0.0.1:0",
		Logger: log.New(io.Discard, "", 0),
		Fallback: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = io.WriteString(w, "page:"+r.URL.Path)
		}),
	})
	if setup != nil {
		setup(s)
	}
	if err := s.Start(); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}
	t.Cleanup(func() { _ = s.Stop() })
	return s
}

func dial(t *testing.T, s *Server) *websocket.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, "ws://"+s.Addr()+"/ws", nil)
	if err != nil {
		t.Fatalf("Dial() failed: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close(websocket.StatusNormalClosure, "") })
	return conn
}

func send(t *testing.T, conn *websocket.Conn, msg Message) {
	t.Helper()
	data, _ := json.Marshal(msg)
	if err := conn.Write(context.Background(), websocket.MessageText, data); err != nil {
		t.Fatalf("Write() failed: %v", err)
	}
}

func receive(t *testing.T, conn *websocket.Conn) Message {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("Read() failed: %v", err)
	}
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		t.Fatalf("bad message %s: %v", data, err)
	}
	return msg
}

func waitCount(t *testing.T, s *Server, want int) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for s.ClientCount() != want {
		if time.Now().After(deadline) {
			t.Fatalf("ClientCount() = %d, want %d", s.ClientCount(), want)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestBroadcast(t *testing.T) {
	s := startHub(t, nil)
	a, b := dial(t, s), dial(t, s)
	waitCount(t, s, 2)

	msg, _ := NewMessage(KindBackgroundSync, "Syncing offline data...", nil)
	if err := s.Broadcast(msg); err != nil {
		t.Fatalf("Broadcast() failed: %v", err)
	}

	for _, conn := range []*websocket.Conn{a, b} {
		got := receive(t, conn)
		if got.Type != KindBackgroundSync || got.Message != "Syncing offline data..." {
			t.Errorf("received %+v", got)
		}
	}
}

func TestReplyGoesToSender(t *testing.T) {
	s := startHub(t, func(s *Server) {
		s.OnMessage(KindSyncRequest, func(ctx context.Context, msg Message, reply Reply) {
			_ = reply(Message{Type: KindSyncRegistered, Tag: msg.Tag})
		})
	})
	sender, other := dial(t, s), dial(t, s)
	waitCount(t, s, 2)

	send(t, sender, Message{Type: KindSyncRequest, Tag: "exposure-data-sync"})

	got := receive(t, sender)
	if got.Type != KindSyncRegistered || got.Tag != "exposure-data-sync" {
		t.Errorf("reply = %+v", got)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	if _, _, err := other.Read(ctx); err == nil {
		t.Error("reply leaked to another page")
	}
}

func TestUnknownAndMalformedMessages(t *testing.T) {
	called := make(chan struct{}, 1)
	s := startHub(t, func(s *Server) {
		s.OnMessage(KindSkipWaiting, func(context.Context, Message, Reply) { called <- struct{}{} })
	})
	conn := dial(t, s)

	_ = conn.Write(context.Background(), websocket.MessageText, []byte("not json"))
	send(t, conn, Message{Type: "NOPE"})
	send(t, conn, Message{Type: KindSkipWaiting})

	select {
	case <-called:
	case <-time.After(5 * time.Second):
		t.Fatal("SKIP_WAITING handler not called after bad messages")
	}
}

func TestConnectAndDisconnectHooks(t *testing.T) {
	left := make(chan int, 1)
	s := startHub(t, func(s *Server) {
		s.OnConnect(func(p *Page) {
			_ = s.Send(p, Message{Type: KindControllerChange, Message: "v1"})
		})
		s.OnDisconnect(func(remaining int) { left <- remaining })
	})

	conn := dial(t, s)
	if got := receive(t, conn); got.Type != KindControllerChange || got.Message != "v1" {
		t.Errorf("welcome = %+v", got)
	}

	_ = conn.Close(websocket.StatusNormalClosure, "")
	select {
	case n := <-left:
		if n != 0 {
			t.Errorf("remaining = %d, want 0", n)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("OnDisconnect not called")
	}
}

func TestFallbackAndHealth(t *testing.T) {
	s := startHub(t, nil)

	resp, err := http.Get("http://" + s.Addr() + "/index.html")
	if err != nil {
		t.Fatalf("GET failed: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if string(body) != "page:/index.html" {
		t.Errorf("fallback body = %q", body)
	}

	resp, err = http.Get("http://" + s.Addr() + "/health")
	if err != nil {
		t.Fatalf("GET /health failed: %v", err)
	}
	defer resp.Body.Close()
	var health map[string]any
	_ = json.NewDecoder(resp.Body).Decode(&health)
	if health["status"] != "ok" {
		t.Errorf("health = %v", health)
	}
}

func TestBroadcastAfterStop(t *testing.T) {
	s := NewServer(&Config{Addr: "127.0.0.1:0", Logger: log.New(io.Discard, "", 0)})
	if err := s.Start(); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}
	if err := s.Stop(); err != nil {
		t.Fatalf("Stop() failed: %v", err)
	}
	if err := s.Broadcast(Message{Type: KindSnapshot}); !errors.Is(err, ErrStopped) {
		t.Errorf("Broadcast() after Stop = %v, want ErrStopped", err)
	}
}
