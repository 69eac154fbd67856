// Package testutil provides fakes for testing code built on the ESP client.
//
// # Fake ESP server
//
// FakeServer is an httptest server that answers canned REST bodies and hands
// websocket upgrades to per-path handlers. Every request is recorded so tests
// can check the method, path, query parameters and body the client sent:
//
//	srv := testutil.NewFakeServer(t)
//	srv.On(http.MethodGet, "projectXml", http.StatusOK, testutil.ProjectsXML)
//	conn, err := esp.NewConnection(srv.Config())
//	require.NoError(t, err)
//	projects, err := conn.Projects(ctx, nil, "")
//
// Routes that were not registered answer 404 with the server's error
// envelope, so not-found paths need no setup. GET server answers
// DefaultServerInfo unless overridden.
//
// Socket handlers run on the server goroutine of the upgraded request:
//
//	srv.OnSocket("subscribers/trades/cq/src", func(conn *websocket.Conn, _ *http.Request) {
//	    _ = conn.WriteMessage(websocket.TextMessage, []byte(testutil.TradeSchemaMessage))
//	    testutil.Drain(conn)
//	})
//
// # Bridge fakes
//
// MockNATSClient records published messages and calls subscribed handlers
// synchronously. MockSnapshotStore keeps snapshot rows in memory. Both are
// safe for concurrent use. Integration tests against a real NATS server use
// natsclient.NewTestClient instead.
//
// # Fixtures
//
// data.go holds response bodies for a "trades" project with windows
// trades/cq/src and trades/cq/big, schema TradesSchemaString.
package testutil
