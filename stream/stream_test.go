package stream

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/espclient/config"
	"github.com/c360/espclient/errors"
	"github.com/c360/espclient/events"
	"github.com/c360/espclient/rest"
)

const (
	testSchema = `<schema><fields><field name="id" type="int64" key="true"/><field name="x" type="double"/></fields></schema>`
	waitFor    = 2 * time.Second
	tick       = 10 * time.Millisecond
)

func testEvent(id, x string) string {
	return `<events><event opcode="insert" window="p/cq/w"><id>` + id + `</id><x>` + x + `</x></event></events>`
}

// socketServer upgrades every request and hands the connection to serve.
// Messages read from clients are collected in received.
type socketServer struct {
	*httptest.Server
	connections atomic.Int32

	mu       sync.Mutex
	paths    []string
	received []string
}

func newSocketServer(t *testing.T, serve func(conn *websocket.Conn)) *socketServer {
	t.Helper()
	s := &socketServer{}
	upgrader := websocket.Upgrader{}
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		s.connections.Add(1)
		s.mu.Lock()
		s.paths = append(s.paths, r.URL.RequestURI())
		s.mu.Unlock()

		if serve != nil {
			serve(conn)
		}
		for {
			_, msg, err := conn.ReadMessage()
			if err != nil {
				return
			}
			s.mu.Lock()
			s.received = append(s.received, string(msg))
			s.mu.Unlock()
		}
	}))
	t.Cleanup(s.Close)
	return s
}

func (s *socketServer) session(t *testing.T) *rest.Session {
	t.Helper()
	sess, err := rest.NewSession(config.ConnectionConfig{Host: s.URL})
	require.NoError(t, err)
	return sess
}

func (s *socketServer) messages() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.received...)
}

func (s *socketServer) requestPaths() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.paths...)
}

func send(conn *websocket.Conn, msgs ...string) {
	for _, m := range msgs {
		_ = conn.WriteMessage(websocket.TextMessage, []byte(m))
	}
}

func waitDone(t *testing.T, done <-chan struct{}) {
	t.Helper()
	require.NotNil(t, done)
	select {
	case <-done:
	case <-time.After(waitFor):
		t.Fatal("reader did not finish")
	}
}

type verifierFunc func(ctx context.Context, path string) (bool, error)

func (f verifierFunc) VerifyWindow(ctx context.Context, path string) (bool, error) {
	return f(ctx, path)
}

func TestWindowPath(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{in: "p.cq.w", want: "p/cq/w"},
		{in: "p/cq/w", want: "p/cq/w"},
		{in: "/p/cq/w/", want: "p/cq/w"},
		{in: "p.cq", wantErr: true},
		{in: "a.b.c.d", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := WindowPath(tt.in)
			if tt.wantErr {
				require.Error(t, err)
				assert.ErrorIs(t, err, errors.ErrInvalidPath)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestClient_CloseBeforeConnect(t *testing.T) {
	c := NewClient("ws://127.0.0.1:1/none")
	assert.NoError(t, c.Close())
	assert.False(t, c.Connected())

	err := c.Send([]byte("x"))
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrNotConnected)
}

func TestClient_TextAndBinaryFrames(t *testing.T) {
	srv := newSocketServer(t, func(conn *websocket.Conn) {
		send(conn, "hello")
		_ = conn.WriteMessage(websocket.BinaryMessage, []byte{1, 2, 3})
	})

	var (
		mu     sync.Mutex
		texts  []string
		blobs  [][]byte
		closed atomic.Bool
	)
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/raw"
	c := NewClient(url, WithCallbacks(Callbacks{
		OnMessage: func(msg []byte) {
			mu.Lock()
			texts = append(texts, string(msg))
			mu.Unlock()
		},
		OnData: func(data []byte) {
			mu.Lock()
			blobs = append(blobs, data)
			mu.Unlock()
		},
		OnClose: func() { closed.Store(true) },
	}))
	require.NoError(t, c.Connect(context.Background()))
	require.NoError(t, c.Connect(context.Background()), "connecting twice is a no-op")
	require.NoError(t, c.Send([]byte("ping")))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(texts) == 1 && len(blobs) == 1
	}, waitFor, tick)
	require.Eventually(t, func() bool { return len(srv.messages()) == 1 }, waitFor, tick)
	assert.Equal(t, []string{"ping"}, srv.messages())

	require.NoError(t, c.Close())
	waitDone(t, c.Done())
	assert.True(t, closed.Load())
	assert.NoError(t, c.Err(), "a local close is not an error")
	assert.Equal(t, int32(1), srv.connections.Load())

	err := c.Send([]byte("late"))
	assert.ErrorIs(t, err, errors.ErrClosed)
	assert.ErrorIs(t, c.Connect(context.Background()), errors.ErrClosed)
}

func TestClient_ServerDropRecordsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		upgrader := websocket.Upgrader{}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		conn.Close()
	}))
	defer srv.Close()

	errs := make(chan error, 1)
	c := NewClient("ws"+strings.TrimPrefix(srv.URL, "http"), WithCallbacks(Callbacks{
		OnError: func(err error) { errs <- err },
	}))
	require.NoError(t, c.Connect(context.Background()))
	waitDone(t, c.Done())

	require.Error(t, c.Err())
	assert.True(t, errors.IsTransient(c.Err()))
	select {
	case err := <-errs:
		assert.Equal(t, c.Err(), err)
	default:
		t.Fatal("OnError was not called")
	}
}

func TestClient_DialFailure(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	c := NewClient("ws" + strings.TrimPrefix(srv.URL, "http"))
	err := c.Connect(context.Background())
	require.Error(t, err)
	se, ok := errors.AsServerError(err)
	require.True(t, ok)
	assert.Equal(t, http.StatusNotFound, se.Status)
}

func TestSubscriber_URL(t *testing.T) {
	sess, err := rest.NewSession(config.ConnectionConfig{Host: "esp", Port: 8080})
	require.NoError(t, err)

	sub, err := NewSubscriber(sess, "p.cq.w")
	require.NoError(t, err)
	assert.Equal(t, "ws://esp:8080/SASESP/subscribers/p/cq/w/?format=xml&mode=updating&pagesize=50&precision=6&schema=true", sub.URL())

	sub, err = NewSubscriber(sess, "p/cq/w",
		WithMode(ModeStreaming), WithPageSize(10), WithFilter("x > 1"),
		WithInterval(100), WithSort("id:descending"))
	require.NoError(t, err)
	assert.Equal(t,
		"ws://esp:8080/SASESP/subscribers/p/cq/w/?filter=x%20>%201&format=xml&interval=100&mode=streaming&pagesize=10&precision=6&schema=true&sort=id:descending",
		sub.URL())

	_, err = NewSubscriber(sess, "p.cq.w", WithMode("sometimes"))
	assert.ErrorIs(t, err, errors.ErrInvalidValue)
	_, err = NewSubscriber(sess, "p.cq.w", WithFormat("yaml"))
	assert.ErrorIs(t, err, errors.ErrInvalidValue)

	sub, err = NewSubscriber(sess, "p.cq.w", WithSubscriberDefaults(config.SubscriberConfig{
		Mode: ModeStreaming, PageSize: 5, Format: "csv", Precision: 3,
	}))
	require.NoError(t, err)
	assert.Equal(t, "ws://esp:8080/SASESP/subscribers/p/cq/w/?format=csv&mode=streaming&pagesize=5&precision=3&schema=true", sub.URL())
}

func TestSubscriber_Events(t *testing.T) {
	srv := newSocketServer(t, func(conn *websocket.Conn) {
		send(conn, "status: 200\n", testSchema, testEvent("1", "1.5"), testEvent("2", "2.5"))
	})

	var (
		mu     sync.Mutex
		tables []*events.Table
		raw    []string
	)
	sub, err := NewSubscriber(srv.session(t), "p.cq.w",
		OnEvent(func(tbl *events.Table) {
			mu.Lock()
			tables = append(tables, tbl)
			mu.Unlock()
		}),
		OnMessage(func(msg string) {
			mu.Lock()
			raw = append(raw, msg)
			mu.Unlock()
		}))
	require.NoError(t, err)

	require.NoError(t, sub.Start(context.Background()))
	require.NoError(t, sub.Start(context.Background()))
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(tables) == 2
	}, waitFor, tick)

	mu.Lock()
	first := tables[0]
	assert.Len(t, raw, 2, "status and schema messages are not forwarded")
	mu.Unlock()

	assert.Equal(t, "p.cq.w", first.Window)
	assert.Equal(t, []string{"id", "x"}, first.Columns)
	assert.Equal(t, []string{"id"}, first.Index)
	v, ok := first.Value(0, "id")
	require.True(t, ok)
	assert.Equal(t, int64(1), v)
	v, _ = first.Value(0, "x")
	assert.Equal(t, 1.5, v)

	require.NotNil(t, sub.Schema())
	assert.Equal(t, []string{"id"}, sub.Schema().Keys())
	assert.True(t, sub.Active())

	require.NoError(t, sub.Stop())
	waitDone(t, sub.Done())
	assert.NoError(t, sub.Err())
	assert.Equal(t, int32(1), srv.connections.Load(), "Start twice opens one socket")
	assert.Equal(t, []string{"/SASESP/subscribers/p/cq/w/?format=xml&mode=updating&pagesize=50&precision=6&schema=true"},
		srv.requestPaths())
}

func TestSubscriber_StopBeforeStart(t *testing.T) {
	sess, err := rest.NewSession(config.ConnectionConfig{Host: "esp", Port: 8080})
	require.NoError(t, err)
	sub, err := NewSubscriber(sess, "p.cq.w")
	require.NoError(t, err)

	assert.NoError(t, sub.Stop())
	assert.NoError(t, sub.Close())
	assert.Nil(t, sub.Done())
	assert.False(t, sub.Active())
	assert.NoError(t, sub.SetMode(ModeStreaming), "setters on an inactive subscriber only record the value")
	assert.Contains(t, sub.URL(), "mode=streaming")
}

func TestSubscriber_Failures(t *testing.T) {
	tests := []struct {
		name  string
		msgs  []string
		check func(t *testing.T, err error)
	}{
		{
			name: "status error",
			msgs: []string{"status: 404\n"},
			check: func(t *testing.T, err error) {
				se, ok := errors.AsServerError(err)
				require.True(t, ok)
				assert.Equal(t, 404, se.Status)
				assert.Contains(t, se.Message, "status: 404")
			},
		},
		{
			name: "unrecognized schema",
			msgs: []string{"status: 200\n", "id,x\n1,2\n"},
			check: func(t *testing.T, err error) {
				assert.ErrorIs(t, err, errors.ErrInvalidData)
				assert.Contains(t, err.Error(), "Unrecognized schema definition format: id,x")
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := newSocketServer(t, func(conn *websocket.Conn) {
				send(conn, tt.msgs...)
			})
			errs := make(chan error, 4)
			sub, err := NewSubscriber(srv.session(t), "p.cq.w",
				OnError(func(err error) { errs <- err }))
			require.NoError(t, err)
			require.NoError(t, sub.Start(context.Background()))

			waitDone(t, sub.Done())
			require.Error(t, sub.Err())
			tt.check(t, sub.Err())
			assert.Equal(t, sub.Err(), <-errs)
		})
	}
}

func TestSubscriber_Verifier(t *testing.T) {
	srv := newSocketServer(t, nil)
	var checked string
	sub, err := NewSubscriber(srv.session(t), "p.cq.missing",
		WithVerifier(verifierFunc(func(_ context.Context, path string) (bool, error) {
			checked = path
			return false, nil
		})))
	require.NoError(t, err)

	err = sub.Start(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrUnknownWindow)
	assert.Equal(t, "p/cq/missing", checked)
	assert.Equal(t, int32(0), srv.connections.Load())
}

func TestSubscriber_ControlMessages(t *testing.T) {
	srv := newSocketServer(t, func(conn *websocket.Conn) {
		send(conn, "status: 200\n", testSchema)
	})
	sub, err := NewSubscriber(srv.session(t), "p.cq.w")
	require.NoError(t, err)
	require.NoError(t, sub.Start(context.Background()))
	defer sub.Stop()

	// unset values are recorded for the next Start and not sent
	require.NoError(t, sub.SetSort(""))
	require.NoError(t, sub.SetSeparator(""))
	require.NoError(t, sub.SetInterval(0))
	require.NoError(t, sub.SetFilter(""))

	require.NoError(t, sub.SetMode(ModeStreaming))
	require.NoError(t, sub.SetPageSize(25))
	require.NoError(t, sub.SetFilter("x > 1"))
	assert.ErrorIs(t, sub.SetMode("never"), errors.ErrInvalidValue)

	want := []string{
		`<properties mode="streaming"/>`,
		`<properties pagesize="25"/>`,
		`<properties><filter><![CDATA[x > 1]]></filter></properties>`,
	}
	require.Eventually(t, func() bool { return len(srv.messages()) == len(want) }, waitFor, tick)
	assert.Equal(t, want, srv.messages())
	assert.Contains(t, sub.URL(), "mode=streaming")
}

func TestSubscriber_OnOpen(t *testing.T) {
	srv := newSocketServer(t, func(conn *websocket.Conn) {
		send(conn, "status: 200\n", testSchema, testEvent("1", "1.5"))
	})

	var (
		mu    sync.Mutex
		order []string
	)
	record := func(s string) {
		mu.Lock()
		order = append(order, s)
		mu.Unlock()
	}
	sub, err := NewSubscriber(srv.session(t), "p.cq.w",
		OnOpen(func() { record("open") }),
		OnEvent(func(*events.Table) { record("event") }))
	require.NoError(t, err)
	require.NoError(t, sub.Start(context.Background()))
	defer sub.Stop()

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(order) == 2
	}, waitFor, tick)
	mu.Lock()
	assert.Equal(t, []string{"open", "event"}, order)
	mu.Unlock()
}

func TestSubscriber_StopClearsSocket(t *testing.T) {
	srv := newSocketServer(t, func(conn *websocket.Conn) {
		send(conn, "status: 200\n", testSchema, testEvent("1", "1.5"))
	})

	var received atomic.Int32
	sub, err := NewSubscriber(srv.session(t), "p.cq.w",
		OnEvent(func(*events.Table) { received.Add(1) }))
	require.NoError(t, err)

	require.NoError(t, sub.Start(context.Background()))
	require.Eventually(t, func() bool { return received.Load() == 1 }, waitFor, tick)
	first := sub.Done()

	require.NoError(t, sub.Stop())
	assert.False(t, sub.Active())
	waitDone(t, sub.Done())
	assert.NoError(t, sub.Stop(), "second stop is a no-op")

	require.NoError(t, sub.Start(context.Background()))
	defer sub.Stop()
	assert.True(t, sub.Active())
	assert.NotEqual(t, first, sub.Done(), "restart opens a new socket")
	require.Eventually(t, func() bool { return received.Load() == 2 }, waitFor, tick)
	require.NotNil(t, sub.Schema())
	assert.Equal(t, int32(2), srv.connections.Load())
}
