package testutil

import (
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"

	"github.com/gorilla/websocket"

	"github.com/c360/espclient/config"
)

// DefaultServerInfo is returned for GET server unless a test overrides it
const DefaultServerInfo = `<server version="SAS Event Stream Processing Engine (6.2)" pubsub="5555" http="31415" ` +
	`analytics-license="true"><property name="esp.server.name">test</property></server>`

// RecordedRequest is a request received by a FakeServer
type RecordedRequest struct {
	Method string
	Path   string // relative to /SASESP/
	Query  url.Values
	Body   string
	Header http.Header
}

type cannedResponse struct {
	status int
	body   string
}

// FakeServer is an in-process ESP REST server. Routes answer canned bodies;
// socket handlers receive upgraded websocket connections. Unknown routes
// answer 404 with the server's error envelope.
type FakeServer struct {
	*httptest.Server

	mu       sync.Mutex
	routes   map[string]cannedResponse
	sockets  map[string]func(conn *websocket.Conn, r *http.Request)
	requests []RecordedRequest
	upgrader websocket.Upgrader
}

// NewFakeServer starts a server that is closed when the test ends
func NewFakeServer(t testing.TB) *FakeServer {
	t.Helper()
	s := &FakeServer{
		routes:  make(map[string]cannedResponse),
		sockets: make(map[string]func(*websocket.Conn, *http.Request)),
	}
	s.On(http.MethodGet, "server", http.StatusOK, DefaultServerInfo)
	s.Server = httptest.NewServer(http.HandlerFunc(s.serve))
	t.Cleanup(s.Close)
	return s
}

func routeKey(method, path string) string {
	return method + " " + strings.Trim(path, "/")
}

// On registers the response for method and path. The path is relative to
// /SASESP/ and matches regardless of the query string.
func (s *FakeServer) On(method, path string, status int, body string) *FakeServer {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.routes[routeKey(method, path)] = cannedResponse{status: status, body: body}
	return s
}

// OnSocket registers a websocket handler for paths starting with prefix,
// such as "subscribers/p/cq/w"
func (s *FakeServer) OnSocket(prefix string, fn func(conn *websocket.Conn, r *http.Request)) *FakeServer {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sockets[strings.Trim(prefix, "/")] = fn
	return s
}

// Config returns connection settings pointing at the server
func (s *FakeServer) Config() config.ConnectionConfig {
	return config.ConnectionConfig{Host: s.URL, Timeout: config.DefaultTimeout}
}

// Requests returns a copy of the recorded requests
func (s *FakeServer) Requests() []RecordedRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]RecordedRequest(nil), s.requests...)
}

// LastRequest returns the most recent request matching method and path
func (s *FakeServer) LastRequest(method, path string) (RecordedRequest, bool) {
	path = strings.Trim(path, "/")
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(s.requests) - 1; i >= 0; i-- {
		if r := s.requests[i]; r.Method == method && r.Path == path {
			return r, true
		}
	}
	return RecordedRequest{}, false
}

func (s *FakeServer) serve(w http.ResponseWriter, r *http.Request) {
	path := strings.Trim(strings.TrimPrefix(r.URL.Path, "/SASESP"), "/")
	body, _ := io.ReadAll(r.Body)

	s.mu.Lock()
	s.requests = append(s.requests, RecordedRequest{
		Method: r.Method,
		Path:   path,
		Query:  r.URL.Query(),
		Body:   string(body),
		Header: r.Header.Clone(),
	})
	var socket func(*websocket.Conn, *http.Request)
	if websocket.IsWebSocketUpgrade(r) {
		for prefix, fn := range s.sockets {
			if strings.HasPrefix(path, prefix) {
				socket = fn
				break
			}
		}
	}
	resp, ok := s.routes[routeKey(r.Method, path)]
	s.mu.Unlock()

	if socket != nil {
		conn, err := s.upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		socket(conn, r)
		return
	}

	w.Header().Set("Content-Type", "application/xml")
	if !ok {
		w.WriteHeader(http.StatusNotFound)
		_, _ = io.WriteString(w, ErrorEnvelope("resource not found: "+path))
		return
	}
	w.WriteHeader(resp.status)
	_, _ = io.WriteString(w, resp.body)
}

// ErrorEnvelope wraps msg in the server's error response format
func ErrorEnvelope(msg string) string {
	return "<response><message>" + msg + "</message></response>"
}

// Drain reads from conn until the client goes away and returns the text
// messages received
func Drain(conn *websocket.Conn) []string {
	var out []string
	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return out
		}
		out = append(out, string(msg))
	}
}
