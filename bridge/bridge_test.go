package bridge

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"net/http"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/espclient/config"
	"github.com/c360/espclient/errors"
	"github.com/c360/espclient/esp"
	"github.com/c360/espclient/events"
	"github.com/c360/espclient/metric"
	"github.com/c360/espclient/schema"
	esptestutil "github.com/c360/espclient/testutil"
)

func tradesTable(t *testing.T) *events.Table {
	t.Helper()
	s, err := schema.Parse(esptestutil.TradesSchemaString)
	require.NoError(t, err)
	table := events.NewTable("trades.cq.src", s)
	table.AppendRow("insert", []any{int64(1), "IBM", 101.5})
	table.AppendRow("delete", []any{int64(2), "SAS", 99.25})
	return table
}

func bridgeConfig() config.BridgeConfig {
	cfg := config.DefaultConfig().Bridge
	cfg.Windows = []string{"trades.cq.src"}
	cfg.Redis.TTL = time.Minute
	return cfg
}

func newTestBridge(t *testing.T, opts ...Option) (*esptestutil.FakeServer, *esptestutil.MockNATSClient, *Bridge) {
	t.Helper()
	srv := esptestutil.NewFakeServer(t)
	srv.On(http.MethodGet, "windows/trades/cq/src", http.StatusOK, esptestutil.SourceWindowXML)
	conn, err := esp.NewConnection(srv.Config())
	require.NoError(t, err)

	nc := esptestutil.NewMockNATSClient()
	b, err := New(conn, nc, bridgeConfig(), opts...)
	require.NoError(t, err)
	return srv, nc, b
}

func TestNew_Validation(t *testing.T) {
	nc := esptestutil.NewMockNATSClient()
	conn, err := esp.NewConnection(config.ConnectionConfig{Host: "localhost", Port: 31415})
	require.NoError(t, err)

	tests := []struct {
		name    string
		cfg     config.BridgeConfig
		wantErr error
	}{
		{name: "nothing to do", cfg: config.BridgeConfig{}, wantErr: errors.ErrMissingConfig},
		{
			name:    "inbound without window",
			cfg:     config.BridgeConfig{Inbound: []config.InboundMap{{Subject: "in"}}},
			wantErr: errors.ErrInvalidConfig,
		},
		{name: "windows only", cfg: config.BridgeConfig{Windows: []string{"p.cq.w"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(conn, nc, tt.cfg)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			assert.NoError(t, err)
		})
	}

	_, err = New(nil, nc, bridgeConfig())
	assert.ErrorIs(t, err, errors.ErrMissingConfig)
}

func TestForward(t *testing.T) {
	snaps := esptestutil.NewMockSnapshotStore()
	m := metric.NewMetrics()
	_, nc, b := newTestBridge(t, WithSnapshots(snaps), WithMetrics(m))
	ctx := context.Background()

	// row 2 exists before its delete arrives
	require.NoError(t, snaps.PutRow(ctx, "esp:trades.cq.src:2", map[string]string{"id": "2"}, 0))

	require.NoError(t, b.Forward(ctx, tradesTable(t)))

	msgs := nc.GetMessages("esp.trades.cq.src")
	require.Len(t, msgs, 2)
	var ev Event
	require.NoError(t, json.Unmarshal(msgs[0], &ev))
	assert.Equal(t, "trades.cq.src", ev.Window)
	assert.Equal(t, "insert", ev.Opcode)
	assert.Equal(t, "1", ev.Key)
	assert.Equal(t, "IBM", ev.Fields["symbol"])
	assert.Equal(t, 101.5, ev.Fields["price"])
	assert.NotEmpty(t, ev.ID)

	row, ok := snaps.Row("esp:trades.cq.src:1")
	require.True(t, ok)
	assert.Equal(t, map[string]string{"id": "1", "symbol": "IBM", "price": "101.5"}, row)
	assert.Equal(t, time.Minute, snaps.TTL("esp:trades.cq.src:1"))
	assert.Equal(t, []string{"esp:trades.cq.src:1"}, snaps.Keys())

	assert.Equal(t, 2.0, testutil.ToFloat64(m.BridgeForwarded.WithLabelValues(SinkNATS, "ok")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.BridgeForwarded.WithLabelValues(SinkSnapshot, "ok")))

	forwarded, _ := b.Stats()
	assert.Equal(t, int64(2), forwarded)
}

type captureStream struct {
	subjects []string
	err      error
}

func (c *captureStream) PublishToStream(_ context.Context, subject string, _ []byte) error {
	c.subjects = append(c.subjects, subject)
	return c.err
}

func TestForward_StreamCapture(t *testing.T) {
	capture := &captureStream{}
	_, nc, b := newTestBridge(t, WithStreamCapture(capture))

	require.NoError(t, b.Forward(context.Background(), tradesTable(t)))
	assert.Equal(t, []string{"esp.trades.cq.src", "esp.trades.cq.src"}, capture.subjects)
	esptestutil.AssertNoMessages(t, nc, "esp.trades.cq.src")
}

func TestForward_Errors(t *testing.T) {
	capture := &captureStream{err: stderrors.New("no responders")}
	snaps := esptestutil.NewMockSnapshotStore()
	require.NoError(t, snaps.Close())
	_, _, b := newTestBridge(t, WithStreamCapture(capture), WithSnapshots(snaps))

	err := b.Forward(context.Background(), tradesTable(t))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no responders")
	assert.ErrorIs(t, err, errors.ErrClosed)
	assert.Len(t, capture.subjects, 2)

	forwarded, _ := b.Stats()
	assert.Zero(t, forwarded)
	assert.Equal(t, 1, b.Health().Metrics.ErrorCount)
}

func TestForward_Empty(t *testing.T) {
	_, nc, b := newTestBridge(t)
	s, err := schema.Parse(esptestutil.TradesSchemaString)
	require.NoError(t, err)

	require.NoError(t, b.Forward(context.Background(), events.NewTable("trades.cq.src", s)))
	assert.Empty(t, nc.Subjects())
}

func TestRun_ForwardsSubscribedEvents(t *testing.T) {
	srv, nc, b := newTestBridge(t)
	srv.OnSocket("subscribers/trades/cq/src", func(ws *websocket.Conn, _ *http.Request) {
		_ = ws.WriteMessage(websocket.TextMessage, []byte(esptestutil.TradeSchemaMessage))
		_ = ws.WriteMessage(websocket.TextMessage, []byte(esptestutil.TradeEventMessage("insert", "7", "ACME", "12.5")))
		esptestutil.Drain(ws)
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- b.Run(ctx) }()

	data := esptestutil.WaitForMessage(t, nc, "esp.trades.cq.src", 2*time.Second)
	var ev Event
	require.NoError(t, json.Unmarshal(data, &ev))
	assert.Equal(t, "7", ev.Key)
	assert.True(t, b.Health().IsHealthy())

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
	assert.False(t, b.Health().IsHealthy())
}

func TestRun_SubscriptionFailure(t *testing.T) {
	srv, _, b := newTestBridge(t)
	srv.OnSocket("subscribers/trades/cq/src", func(ws *websocket.Conn, _ *http.Request) {
		_ = ws.WriteMessage(websocket.TextMessage, []byte("not a schema"))
		esptestutil.Drain(ws)
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	err := b.Run(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrInvalidData)
	assert.True(t, b.Health().IsUnhealthy())
}

func TestRun_Inbound(t *testing.T) {
	srv := esptestutil.NewFakeServer(t)
	received := make(chan []string, 1)
	srv.On(http.MethodGet, "windows/trades/cq/src", http.StatusOK, esptestutil.SourceWindowXML).
		OnSocket("publishers/trades/cq/src", func(ws *websocket.Conn, r *http.Request) {
			assert.Equal(t, "csv", r.URL.Query().Get("format"))
			received <- esptestutil.Drain(ws)
		})
	conn, err := esp.NewConnection(srv.Config())
	require.NoError(t, err)

	nc := esptestutil.NewMockNATSClient()
	cfg := config.BridgeConfig{
		Inbound: []config.InboundMap{{Subject: "orders.in", Window: "trades.cq.src", Format: "csv"}},
	}
	b, err := New(conn, nc, cfg)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- b.Run(ctx) }()

	require.Eventually(t, func() bool { return nc.SubscriptionCount("orders.in") == 1 },
		2*time.Second, 10*time.Millisecond)
	require.NoError(t, nc.Publish(ctx, "orders.in", []byte("i,n,1,IBM,101.5\n")))
	_, injected := b.Stats()
	assert.Equal(t, int64(1), injected)

	cancel()
	require.NoError(t, <-done)
	select {
	case msgs := <-received:
		assert.Equal(t, []string{"i,n,1,IBM,101.5\n"}, msgs)
	case <-time.After(2 * time.Second):
		t.Fatal("publisher socket saw no data")
	}
}

func TestRun_Twice(t *testing.T) {
	srv, _, b := newTestBridge(t)
	srv.OnSocket("subscribers/trades/cq/src", func(ws *websocket.Conn, _ *http.Request) {
		_ = ws.WriteMessage(websocket.TextMessage, []byte(esptestutil.TradeSchemaMessage))
		esptestutil.Drain(ws)
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = b.Run(ctx) }()
	require.Eventually(t, func() bool { return b.Health().IsHealthy() }, 2*time.Second, 10*time.Millisecond)

	err := b.Run(ctx)
	assert.ErrorIs(t, err, errors.ErrInvalidValue)
}
