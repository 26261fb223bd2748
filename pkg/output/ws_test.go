// ABOUTME: Tests for the WebSocket client transport
// ABOUTME: Verifies greeting delivery and rejection while closed

package output

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/snapstream/snapstream-go/pkg/snapcast"
)

func dialWS(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("websocket dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readWSMessage(t *testing.T, conn *websocket.Conn) (*snapcast.BaseHeader, []byte) {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	mt, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("websocket read: %v", err)
	}
	if mt != websocket.BinaryMessage {
		t.Fatalf("message type = %d, want binary", mt)
	}
	h, err := snapcast.ParseHeader(data)
	if err != nil {
		t.Fatalf("parse header: %v", err)
	}
	return h, data[snapcast.HeaderSize:]
}

func TestWebSocketClientGetsGreeting(t *testing.T) {
	s := newTestServer(t)
	if err := s.Open(testFormat()); err != nil {
		t.Fatalf("Open() failed: %v", err)
	}

	srv := httptest.NewServer(http.HandlerFunc(s.HandleWebSocket))
	defer srv.Close()

	conn := dialWS(t, srv)

	h, payload := readWSMessage(t, conn)
	if h.Type != snapcast.TypeCodecHeader {
		t.Fatalf("first message type = %d, want codec header", h.Type)
	}
	ch, err := snapcast.ParseCodecHeader(payload)
	if err != nil {
		t.Fatalf("parse codec header: %v", err)
	}
	if ch.Codec != "pcm" {
		t.Errorf("codec = %q, want pcm", ch.Codec)
	}

	h, _ = readWSMessage(t, conn)
	if h.Type != snapcast.TypeServerSettings {
		t.Errorf("second message type = %d, want server settings", h.Type)
	}

	waitFor(t, "websocket client to register", func() bool { return s.ClientCount() == 1 })
}

func TestWebSocketStreamsChunks(t *testing.T) {
	s := newTestServer(t)
	if err := s.Open(testFormat()); err != nil {
		t.Fatalf("Open() failed: %v", err)
	}

	srv := httptest.NewServer(http.HandlerFunc(s.HandleWebSocket))
	defer srv.Close()

	conn := dialWS(t, srv)
	readWSMessage(t, conn) // codec header
	readWSMessage(t, conn) // server settings

	waitFor(t, "websocket client to register", func() bool { return s.ClientCount() == 1 })

	chunk := make([]byte, 3840)
	if _, err := s.Play(chunk); err != nil {
		t.Fatalf("Play() failed: %v", err)
	}

	h, payload := readWSMessage(t, conn)
	if h.Type != snapcast.TypeWireChunk {
		t.Fatalf("message type = %d, want wire chunk", h.Type)
	}
	wc, err := snapcast.ParseWireChunk(payload)
	if err != nil {
		t.Fatalf("parse wire chunk: %v", err)
	}
	if len(wc.Payload) != len(chunk) {
		t.Errorf("chunk payload = %d bytes, want %d", len(wc.Payload), len(chunk))
	}
}

func TestWebSocketRejectedWhenClosed(t *testing.T) {
	s := newTestServer(t)
	if err := s.Enable(); err != nil {
		t.Fatalf("Enable() failed: %v", err)
	}

	srv := httptest.NewServer(http.HandlerFunc(s.HandleWebSocket))
	defer srv.Close()

	conn := dialWS(t, srv)

	// The upgrade succeeds but the connection is dropped immediately; the
	// first read must fail rather than deliver a greeting.
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, _, err := conn.ReadMessage(); err == nil {
		t.Fatal("expected read to fail on a closed output")
	}
	if s.ClientCount() != 0 {
		t.Errorf("ClientCount() = %d, want 0", s.ClientCount())
	}
}
