package yanzi

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nerrad567/gray-logic-yanzi/internal/infrastructure/config"
)

// fakeCirrus is an in-process Cirrus endpoint. Every connection is served
// by respond, which returns the envelopes to write back in order.
type fakeCirrus struct {
	t       *testing.T
	srv     *httptest.Server
	respond func(req map[string]any) []any

	mu    sync.Mutex
	conns []*websocket.Conn

	received chan map[string]any
}

func newFakeCirrus(t *testing.T, respond func(req map[string]any) []any) *fakeCirrus {
	t.Helper()

	f := &fakeCirrus{
		t:        t,
		respond:  respond,
		received: make(chan map[string]any, 256),
	}

	upgrader := websocket.Upgrader{}
	f.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		f.mu.Lock()
		f.conns = append(f.conns, conn)
		f.mu.Unlock()

		f.serve(conn)
	}))

	t.Cleanup(func() {
		f.mu.Lock()
		for _, c := range f.conns {
			c.Close()
		}
		f.mu.Unlock()
		f.srv.Close()
	})
	return f
}

func (f *fakeCirrus) serve(conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}

		var req map[string]any
		if err := json.Unmarshal(data, &req); err != nil {
			continue
		}
		select {
		case f.received <- req:
		default:
		}

		for _, out := range f.respond(req) {
			payload, err := json.Marshal(out)
			if err != nil {
				continue
			}
			if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		}
	}
}

func (f *fakeCirrus) url() string {
	return "ws" + strings.TrimPrefix(f.srv.URL, "http") + "/cirrusAPI"
}

// requestsOfType drains the received requests and returns those of one type.
func (f *fakeCirrus) requestsOfType(messageType string) []map[string]any {
	var out []map[string]any
	for {
		select {
		case req := <-f.received:
			if req["messageType"] == messageType {
				out = append(out, req)
			}
		default:
			return out
		}
	}
}

// serviceConfig returns a config pointing at f with short timeouts and the
// keep-alive disabled.
func (f *fakeCirrus) serviceConfig() config.YanziConfig {
	return config.YanziConfig{
		URL:        f.url(),
		LocationID: testLocation,
		Username:   "user@example.com",
		Password:   "secret",
		Timeouts: config.YanziTimeoutConfig{
			Request:          2,
			Send:             1,
			Auth:             2,
			Ping:             -1,
			Subscription:     5,
			ReconnectBackoff: 1,
		},
	}
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

// requestedVariable returns dataSourceAddress.variableName.name of req.
func requestedVariable(req map[string]any) string {
	dsa, _ := req["dataSourceAddress"].(map[string]any)
	vn, _ := dsa["variableName"].(map[string]any)
	name, _ := vn["name"].(string)
	return name
}

// loginReply accepts any login.
func loginReply(req map[string]any) []any {
	return []any{reply(req, "success", map[string]any{"sessionId": "sess-1"})}
}

// subscribeReply accepts a subscription for an hour.
func subscribeReply(req map[string]any) map[string]any {
	return reply(req, "success", map[string]any{
		"expireTime": time.Now().Add(time.Hour).UnixMilli(),
	})
}
