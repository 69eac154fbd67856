package esp

import (
	"context"
	"net/http"
	"sort"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/espclient/errors"
	"github.com/c360/espclient/events"
	"github.com/c360/espclient/model"
	"github.com/c360/espclient/stream"
	"github.com/c360/espclient/testutil"
)

func TestWindows(t *testing.T) {
	srv, conn := newTestConnection(t)
	srv.On(http.MethodGet, "windowXml", http.StatusOK, testutil.WindowsXML)

	found, err := conn.Windows(context.Background(), "cq.*", []string{"source", "filter"}, "")
	require.NoError(t, err)

	names := make([]string, 0, len(found))
	for name := range found {
		names = append(names, name)
	}
	sort.Strings(names)
	assert.Equal(t, []string{"trades.cq.big", "trades.cq.src"}, names)

	src := found["trades.cq.src"]
	assert.Equal(t, model.KindSource, src.Kind())
	assert.Equal(t, "trades/cq/src", src.Path())
	assert.Equal(t, "trades", src.Project)
	assert.NotContains(t, src.XML(false), "contquery=")

	req, ok := srv.LastRequest(http.MethodGet, "windowXml")
	require.True(t, ok)
	assert.Empty(t, req.Query.Get("project"))
	assert.Equal(t, "cq", req.Query.Get("contquery"))
	assert.Empty(t, req.Query.Get("name"))
	assert.Equal(t, "source|filter", req.Query.Get("type"))
}

func TestWindow(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		wantErr error
	}{
		{name: "single", body: `<windows><window-copy name="w" project="p" contquery="cq"/></windows>`},
		{name: "none", body: `<windows/>`, wantErr: errors.ErrNotFound},
		{name: "ambiguous", body: testutil.WindowsXML, wantErr: errors.ErrAmbiguous},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, conn := newTestConnection(t)
			srv.On(http.MethodGet, "windowXml", http.StatusOK, tt.body)

			w, err := conn.Window(context.Background(), "p.cq.w")
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, "p.cq.w", w.FullName())
			assert.Equal(t, model.KindCopy, w.Kind())
		})
	}
}

func TestWindowSchema(t *testing.T) {
	srv, conn := newTestConnection(t)
	srv.On(http.MethodGet, "windows/trades/cq/src", http.StatusOK, testutil.SourceWindowXML).
		On(http.MethodGet, "windows/trades/cq/none", http.StatusOK, `<windows/>`)
	ctx := context.Background()

	s, err := conn.WindowSchema(ctx, "trades.cq.src")
	require.NoError(t, err)
	assert.Equal(t, testutil.TradesSchemaString, s.String())

	req, _ := srv.LastRequest(http.MethodGet, "windows/trades/cq/src")
	assert.Equal(t, "true", req.Query.Get("schema"))

	_, err = conn.WindowSchema(ctx, "trades.cq.none")
	assert.ErrorIs(t, err, errors.ErrUnknownWindow)

	_, err = conn.WindowSchema(ctx, "trades.cq")
	assert.ErrorIs(t, err, errors.ErrInvalidPath)
}

func TestVerifyWindow(t *testing.T) {
	srv, conn := newTestConnection(t)
	srv.On(http.MethodGet, "windows/trades/cq/src", http.StatusOK, testutil.SourceWindowXML).
		On(http.MethodGet, "windows/trades/cq/boom", http.StatusInternalServerError, testutil.ErrorEnvelope("boom"))
	ctx := context.Background()

	ok, err := conn.VerifyWindow(ctx, "trades/cq/src")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = conn.VerifyWindow(ctx, "trades/cq/missing")
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = conn.VerifyWindow(ctx, "trades/cq/boom")
	assert.True(t, errors.IsTransient(err))
}

func TestWindowEvents(t *testing.T) {
	srv, conn := newTestConnection(t)
	srv.On(http.MethodGet, "windows/trades/cq/src", http.StatusOK, testutil.SourceWindowXML).
		On(http.MethodGet, "events/trades/cq/src", http.StatusOK, testutil.TradeEventsXML).
		On(http.MethodGet, "patternEvents/trades/cq/src", http.StatusOK, `<events/>`)
	ctx := context.Background()

	table, err := conn.WindowEvents(ctx, "trades.cq.src", EventQuery{SortBy: "price:descending", Limit: 5})
	require.NoError(t, err)
	require.Equal(t, 2, table.Len())
	assert.Equal(t, []string{"id"}, table.Index)
	assert.Equal(t, "SAS", table.Record(1)["symbol"])

	req, _ := srv.LastRequest(http.MethodGet, "events/trades/cq/src")
	assert.Equal(t, "price:descending", req.Query.Get("sortBy"))
	assert.Equal(t, "5", req.Query.Get("limit"))

	empty, err := conn.WindowPatternEvents(ctx, "trades.cq.src", "", 0)
	require.NoError(t, err)
	assert.Equal(t, 0, empty.Len())
	assert.Equal(t, []string{"id", "symbol", "price"}, empty.Columns)
}

func TestEvents_AcrossWindows(t *testing.T) {
	srv, conn := newTestConnection(t)
	srv.On(http.MethodGet, "windows/trades/cq/src", http.StatusOK, testutil.SourceWindowXML).
		On(http.MethodGet, "events", http.StatusOK, testutil.TradeEventsXML)

	tables, err := conn.Events(context.Background(), EventsQuery{WindowFilter: "eq(name,'src')", Limit: 10})
	require.NoError(t, err)
	require.Contains(t, tables, "trades.cq.src")
	assert.Equal(t, 2, tables["trades.cq.src"].Len())

	req, _ := srv.LastRequest(http.MethodGet, "events")
	assert.Equal(t, "eq(name,'src')", req.Query.Get("windowFilter"))
}

func TestTracing(t *testing.T) {
	srv, conn := newTestConnection(t)
	srv.On(http.MethodPut, "windows/trades/cq/src/state", http.StatusOK, "")

	require.NoError(t, conn.EnableTracing(context.Background(), "trades.cq.src"))
	req, ok := srv.LastRequest(http.MethodPut, "windows/trades/cq/src/state")
	require.True(t, ok)
	assert.Equal(t, "tracingOn", req.Query.Get("value"))

	require.NoError(t, conn.DisableTracing(context.Background(), "trades.cq.src"))
	req, _ = srv.LastRequest(http.MethodPut, "windows/trades/cq/src/state")
	assert.Equal(t, "tracingOff", req.Query.Get("value"))
}

func TestPublishEvents(t *testing.T) {
	srv, conn := newTestConnection(t)
	received := make(chan []string, 1)
	srv.On(http.MethodGet, "windows/trades/cq/src", http.StatusOK, testutil.SourceWindowXML).
		OnSocket("publishers/trades/cq/src", func(ws *websocket.Conn, r *http.Request) {
			assert.Equal(t, "csv", r.URL.Query().Get("format"))
			received <- testutil.Drain(ws)
		})

	data := []byte("i,n,1,IBM,101.5\ni,n,2,SAS,99.25\n")
	require.NoError(t, conn.PublishEvents(context.Background(), "trades.cq.src", data))

	select {
	case msgs := <-received:
		assert.Equal(t, []string{string(data)}, msgs)
	case <-time.After(2 * time.Second):
		t.Fatal("publisher socket saw no data")
	}
}

func TestPublishEvents_UnknownWindow(t *testing.T) {
	_, conn := newTestConnection(t)
	err := conn.PublishEvents(context.Background(), "trades.cq.missing", []byte("i,n,1"))
	assert.ErrorIs(t, err, errors.ErrUnknownWindow)
}

func TestNewSubscriber_Events(t *testing.T) {
	srv, conn := newTestConnection(t)
	srv.On(http.MethodGet, "windows/trades/cq/src", http.StatusOK, testutil.SourceWindowXML).
		OnSocket("subscribers/trades/cq/src", func(ws *websocket.Conn, r *http.Request) {
			assert.Equal(t, "updating", r.URL.Query().Get("mode"))
			_ = ws.WriteMessage(websocket.TextMessage, []byte(testutil.TradeSchemaMessage))
			_ = ws.WriteMessage(websocket.TextMessage, []byte(testutil.TradeEventMessage("insert", "7", "ACME", "12.5")))
			testutil.Drain(ws)
		})

	got := make(chan *events.Table, 1)
	sub, err := conn.NewSubscriber("trades.cq.src", stream.OnEvent(func(t *events.Table) {
		got <- t
	}))
	require.NoError(t, err)
	require.NoError(t, sub.Start(context.Background()))
	defer sub.Close()

	select {
	case table := <-got:
		require.Equal(t, 1, table.Len())
		assert.Equal(t, []any{int64(7), "ACME", 12.5}, table.Rows[0])
	case <-time.After(2 * time.Second):
		t.Fatal("no event delivered")
	}
	assert.Equal(t, testutil.TradesSchemaString, sub.Schema().String())
}

func TestCollect(t *testing.T) {
	srv, conn := newTestConnection(t)
	srv.On(http.MethodGet, "windows/trades/cq/src", http.StatusOK, testutil.SourceWindowXML).
		OnSocket("subscribers/trades/cq/src", func(ws *websocket.Conn, r *http.Request) {
			assert.Equal(t, stream.ModeStreaming, r.URL.Query().Get("mode"))
			_ = ws.WriteMessage(websocket.TextMessage, []byte(testutil.TradeSchemaMessage))
			// the fourth event finds the horizon reached and ends the subscription
			for _, id := range []string{"1", "2", "3", "4"} {
				_ = ws.WriteMessage(websocket.TextMessage, []byte(testutil.TradeEventMessage("insert", id, "X", "1.0")))
			}
			testutil.Drain(ws)
		})

	col, err := conn.Collect(context.Background(), "trades.cq.src", 2, stream.Horizon{Events: 3})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, col.Wait(ctx))

	assert.Equal(t, 3, col.Total())
	assert.Equal(t, 1, col.Dropped())
	table := col.Table()
	require.Equal(t, 2, table.Len())
	assert.Equal(t, []any{int64(2), int64(3)}, table.Column("id"))
}
