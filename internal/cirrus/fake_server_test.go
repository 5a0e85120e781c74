package cirrus

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

// fakeCirrus is an in-process Cirrus endpoint.
//
// Every text frame it receives is decoded and recorded; respond (if set)
// returns the envelopes to write back, in order.
type fakeCirrus struct {
	t       *testing.T
	srv     *httptest.Server
	respond func(req map[string]any) []any

	mu     sync.Mutex
	conn   *websocket.Conn
	header http.Header

	ready     chan struct{}
	readyOnce sync.Once

	received chan map[string]any
	binary   chan []byte
}

func newFakeCirrus(t *testing.T, respond func(req map[string]any) []any) *fakeCirrus {
	t.Helper()

	f := &fakeCirrus{
		t:        t,
		respond:  respond,
		ready:    make(chan struct{}),
		received: make(chan map[string]any, 256),
		binary:   make(chan []byte, 16),
	}

	upgrader := websocket.Upgrader{}
	f.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		f.mu.Lock()
		f.conn = conn
		f.header = r.Header.Clone()
		f.mu.Unlock()
		f.readyOnce.Do(func() { close(f.ready) })

		f.serve(conn)
	}))

	t.Cleanup(func() {
		f.mu.Lock()
		if f.conn != nil {
			f.conn.Close()
		}
		f.mu.Unlock()
		f.srv.Close()
	})
	return f
}

func (f *fakeCirrus) serve(conn *websocket.Conn) {
	for {
		messageType, data, err := conn.ReadMessage()
		if err != nil {
			return
		}

		if messageType == websocket.BinaryMessage {
			select {
			case f.binary <- data:
			default:
			}
			continue
		}

		var req map[string]any
		if err := json.Unmarshal(data, &req); err != nil {
			continue
		}
		select {
		case f.received <- req:
		default:
		}

		if f.respond == nil {
			continue
		}
		for _, reply := range f.respond(req) {
			f.push(reply)
		}
	}
}

func (f *fakeCirrus) url() string {
	return "ws" + strings.TrimPrefix(f.srv.URL, "http") + apiPath
}

// waitReady blocks until a client has connected.
func (f *fakeCirrus) waitReady() {
	f.t.Helper()
	select {
	case <-f.ready:
	case <-time.After(2 * time.Second):
		f.t.Fatal("client never connected")
	}
}

// push writes v as a JSON text frame to the connected client.
func (f *fakeCirrus) push(v any) {
	data, err := json.Marshal(v)
	if err != nil {
		return
	}
	f.pushRaw(websocket.TextMessage, data)
}

func (f *fakeCirrus) pushRaw(messageType int, data []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.conn == nil {
		return
	}
	f.conn.WriteMessage(messageType, data) //nolint:errcheck // client may have gone away
}

// closeNormally sends a normal-closure close frame.
func (f *fakeCirrus) closeNormally() {
	f.mu.Lock()
	defer f.mu.Unlock()
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye")
	f.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second)) //nolint:errcheck // test helper
}

// drop closes the TCP connection without a close frame.
func (f *fakeCirrus) drop() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.conn.UnderlyingConn().Close() //nolint:errcheck // test helper
}

// next returns the next request the server received.
func (f *fakeCirrus) next() map[string]any {
	f.t.Helper()
	select {
	case req := <-f.received:
		return req
	case <-time.After(2 * time.Second):
		f.t.Fatal("timed out waiting for a request")
		return nil
	}
}

func (f *fakeCirrus) handshakeHeader() http.Header {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.header
}

// dial connects a session to f with keep-alive disabled unless opts sets it.
func dial(t *testing.T, f *fakeCirrus, opts Options) *Session {
	t.Helper()

	opts.URL = f.url()
	if opts.PingInterval == 0 {
		opts.PingInterval = -1
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	s, err := Dial(ctx, opts)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	t.Cleanup(func() { s.Close() })

	f.waitReady()
	return s
}

// messageID extracts messageIdentifier.messageId from a decoded request.
func messageID(req map[string]any) string {
	mi, ok := req["messageIdentifier"].(map[string]any)
	if !ok {
		return ""
	}
	id, _ := mi["messageId"].(string)
	return id
}

// reply builds a response correlated with req.
func reply(req map[string]any, code string, fields map[string]any) map[string]any {
	out := map[string]any{
		"messageType":       strings.TrimSuffix(req["messageType"].(string), "Request") + "Response",
		"messageIdentifier": req["messageIdentifier"],
		"responseCode":      map[string]any{"resourceType": "ResponseCode", "name": code},
	}
	for k, v := range fields {
		out[k] = v
	}
	return out
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}
