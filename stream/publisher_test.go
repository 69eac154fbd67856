package stream

import (
	"context"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/espclient/config"
	"github.com/c360/espclient/errors"
	"github.com/c360/espclient/events"
	"github.com/c360/espclient/rest"
	"github.com/c360/espclient/schema"
	"github.com/c360/espclient/xmltree"
)

func TestPublisher_URL(t *testing.T) {
	sess, err := rest.NewSession(config.ConnectionConfig{Host: "esp", Port: 8080})
	require.NoError(t, err)

	pub, err := NewPublisher(sess, "p.cq.w")
	require.NoError(t, err)
	assert.Equal(t,
		"ws://esp:8080/SASESP/publishers/p/cq/w/?blocksize=1&dateformat=%25Y%25m%25dT%25H%3A%25M%3A%25S.%25f&format=csv&opcode=insert&pause=0&rate=0",
		pub.URL())

	pub, err = NewPublisher(sess, "p/cq/w", WithBlockSize(10), WithOpcode("upsert"),
		WithDateFormat("%Y %m"), WithRate(5), WithPause(100))
	require.NoError(t, err)
	assert.Equal(t,
		"ws://esp:8080/SASESP/publishers/p/cq/w/?blocksize=10&dateformat=%25Y%20%25m&format=csv&opcode=upsert&pause=100&rate=5",
		pub.URL())

	_, err = NewPublisher(sess, "p.cq.w", WithOpcode("merge"))
	assert.ErrorIs(t, err, errors.ErrInvalidValue)
	_, err = NewPublisher(sess, "p.cq")
	assert.ErrorIs(t, err, errors.ErrInvalidPath)
}

func TestPublisher_Send(t *testing.T) {
	srv := newSocketServer(t, nil)
	pub, err := NewPublisher(srv.session(t), "p.cq.w")
	require.NoError(t, err)

	err = pub.Send(context.Background(), []byte("i,n,1,2"))
	assert.ErrorIs(t, err, errors.ErrNotConnected)

	require.NoError(t, pub.Connect(context.Background()))
	require.NoError(t, pub.Connect(context.Background()))
	assert.True(t, pub.Active())

	require.NoError(t, pub.Send(context.Background(), []byte("i,n,1,2")))

	tbl := events.NewTable("p.cq.w", schema.MustParse("id*:int64,x:double"))
	tbl.AppendRow("", []any{int64(2), 2.5})
	tbl.AppendRow("delete", []any{int64(1), 1.5})
	require.NoError(t, pub.SendTable(context.Background(), tbl))

	require.Eventually(t, func() bool { return len(srv.messages()) == 2 }, waitFor, tick)
	assert.Equal(t, []string{"i,n,1,2", "i,n,2,2.5\nd,n,1,1.5\n"}, srv.messages())
	assert.Equal(t, int32(1), srv.connections.Load())

	require.NoError(t, pub.Close())
	err = pub.Send(context.Background(), []byte("i,n,3,4"))
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrClosed)
	assert.ErrorIs(t, pub.Connect(context.Background()), errors.ErrClosed)
}

func TestPublisher_CloseBeforeConnect(t *testing.T) {
	sess, err := rest.NewSession(config.ConnectionConfig{Host: "esp", Port: 8080})
	require.NoError(t, err)
	pub, err := NewPublisher(sess, "p.cq.w")
	require.NoError(t, err)
	assert.NoError(t, pub.Close())
	assert.False(t, pub.Active())
}

func TestPublisher_Throttle(t *testing.T) {
	srv := newSocketServer(t, nil)
	pub, err := NewPublisher(srv.session(t), "p.cq.w", WithThrottle(20))
	require.NoError(t, err)
	require.NoError(t, pub.Connect(context.Background()))
	defer pub.Close()

	start := time.Now()
	for i := 0; i < 3; i++ {
		require.NoError(t, pub.Send(context.Background(), []byte("i,n,1,2")))
	}
	assert.GreaterOrEqual(t, time.Since(start), 90*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.Error(t, pub.Send(ctx, []byte("i,n,1,2")))
}

func TestPublisher_SendTableNeedsCSV(t *testing.T) {
	sess, err := rest.NewSession(config.ConnectionConfig{Host: "esp", Port: 8080})
	require.NoError(t, err)
	pub, err := NewPublisher(sess, "p.cq.w", WithPublishFormat("json"))
	require.NoError(t, err)
	err = pub.SendTable(context.Background(), events.NewTable("p.cq.w", schema.MustParse("id*:int64")))
	assert.ErrorIs(t, err, errors.ErrInvalidValue)
}

func TestCollector_LimitAndHorizon(t *testing.T) {
	tests := []struct {
		name      string
		limit     int
		horizon   Horizon
		sent      int
		wantIDs   []any
		wantTotal int
		stopped   bool
	}{
		{
			name:      "keeps the last rows",
			limit:     2,
			sent:      3,
			wantIDs:   []any{int64(2), int64(3)},
			wantTotal: 3,
		},
		{
			name:      "stops after the event horizon",
			horizon:   Horizon{Events: 2},
			sent:      4,
			wantIDs:   []any{int64(1), int64(2)},
			wantTotal: 2,
			stopped:   true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := newSocketServer(t, func(conn *websocket.Conn) {
				send(conn, "status: 200\n", testSchema)
				for i := 1; i <= tt.sent; i++ {
					id := string(rune('0' + i))
					send(conn, testEvent(id, id+".5"))
				}
			})
			c, err := NewCollector(srv.session(t), "p.cq.w", tt.limit, tt.horizon)
			require.NoError(t, err)
			assert.Contains(t, c.Subscriber().URL(), "mode=streaming")
			require.NoError(t, c.Start(context.Background()))

			if tt.stopped {
				ctx, cancel := context.WithTimeout(context.Background(), waitFor)
				defer cancel()
				require.NoError(t, c.Wait(ctx))
			} else {
				require.Eventually(t, func() bool { return c.Total() == tt.wantTotal }, waitFor, tick)
				require.NoError(t, c.Stop())
			}

			assert.Equal(t, tt.wantTotal, c.Total())
			tbl := c.Table()
			assert.Equal(t, []string{"id", "x"}, tbl.Columns)
			assert.Equal(t, tt.wantIDs, tbl.Column("id"))
			assert.Equal(t, []string{"insert", "insert"}, tbl.Opcodes)
		})
	}
}

func TestHorizon(t *testing.T) {
	now := time.Now()
	assert.False(t, Horizon{}.reached(100, now))
	assert.True(t, Horizon{Events: 3}.reached(3, now))
	assert.False(t, Horizon{Events: 3}.reached(2, now))
	assert.True(t, Horizon{Deadline: now.Add(-time.Second)}.reached(0, now))
	assert.False(t, After(time.Hour).reached(0, now))
}

func TestProjectStats(t *testing.T) {
	sess, err := rest.NewSession(config.ConnectionConfig{Host: "esp", Port: 8080})
	require.NoError(t, err)

	ps := NewProjectStats(sess, ForProject("trades"), WithStatsInterval(5), WithMinCPU(2), WithStatsLimit(3))
	assert.Equal(t, "ws://esp:8080/SASESP/projectStats?filter=in(name,'trades')&format=xml&interval=5&minCpu=2", ps.URL())
	assert.Equal(t, "ws://esp:8080/SASESP/projectStats?format=xml", NewProjectStats(sess).URL())

	require.NoError(t, ps.Update([]byte("status: 200")))
	assert.Equal(t, 0, ps.Len())

	require.NoError(t, ps.Update([]byte(`<project-stats>
		<project name="trades">
			<contquery name="cq">
				<window name="w_src" interval="2" cpu="1.25" count="10" state="ok"/>
				<window name="w_agg" interval="1" cpu="3.5" count="4"/>
			</contquery>
		</project>
	</project-stats>`)))
	require.NoError(t, ps.Update([]byte(`<project name="trades"><contquery name="cq">`+
		`<window name="w_join" interval="3" cpu=".5"/><window name="w_copy" interval="0" cpu="0.0"/>`+
		`</contquery></project>`)))

	rows := ps.Rows()
	require.Len(t, rows, 3)
	assert.Equal(t, []string{"w_agg", "w_src", "w_join"}, []string{rows[0].Window, rows[1].Window, rows[2].Window})
	assert.Equal(t, "trades", rows[1].Project)
	assert.Equal(t, "cq", rows[1].ContQuery)
	assert.Equal(t, int64(10), rows[1].Values["count"])
	assert.Equal(t, 1.25, rows[1].CPU())
	assert.Equal(t, "ok", rows[1].Values["state"])
	assert.Equal(t, 0.5, rows[2].CPU())
	assert.Equal(t, 3.0, rows[2].Interval())

	assert.Error(t, ps.Update([]byte("<broken")))
}

func TestProjectStats_Socket(t *testing.T) {
	srv := newSocketServer(t, func(conn *websocket.Conn) {
		send(conn, "status: 200",
			xmltree.New("project", "name", "p").Append(
				xmltree.New("contquery", "name", "cq").Append(
					xmltree.New("window", "name", "w", "interval", "1", "cpu", "2.5"))).String())
	})
	ps := NewProjectStats(srv.session(t))
	require.NoError(t, ps.Start(context.Background()))
	require.NoError(t, ps.Start(context.Background()))
	assert.True(t, ps.Active())

	require.Eventually(t, func() bool { return ps.Len() == 1 }, waitFor, tick)
	assert.Equal(t, 2.5, ps.Rows()[0].CPU())
	assert.Equal(t, []string{"/SASESP/projectStats?format=xml"}, srv.requestPaths())

	require.NoError(t, ps.Stop())
	assert.False(t, ps.Active())
	assert.NoError(t, ps.Stop())
}
