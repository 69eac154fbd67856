// Package espclient is a client SDK for Event Stream Processing (ESP)
// servers. It builds project definitions, drives the server's REST API and
// streams events to and from windows over WebSocket.
//
// # Layout
//
// The SDK is split into small packages:
//   - Definitions: model (projects, queries, windows, edges, connectors),
//     algorithm, router, evtgen and mas
//   - Wire data: xmltree, schema and events (XML, CSV, JSON and properties
//     codecs)
//   - Transport: rest for request/response calls, stream for subscribers,
//     publishers, collectors and project statistics
//   - Entry point: esp.Connection, which exposes the whole REST surface
//
// Supporting packages follow the same conventions throughout: errors for
// classified errors, config for layered configuration with ESP* environment
// overrides, metric for Prometheus metrics and health for status reporting.
//
// # Getting started
//
//	cfg := config.DefaultConfig()
//	conn, err := esp.Dial(ctx, cfg.Connection, esp.WithConfig(cfg))
//	if err != nil {
//		return err
//	}
//	sub, err := conn.NewSubscriber("trades.cq.src",
//		stream.OnEvent(func(t *events.Table) { fmt.Println(t.Len(), "rows") }))
//	if err != nil {
//		return err
//	}
//	if err := sub.Start(ctx); err != nil {
//		return err
//	}
//	<-sub.Done()
//
// # Bridging
//
// The bridge package forwards window events to NATS subjects, optionally
// through a JetStream stream, and keeps the latest row per key in Redis or a
// NATS KV bucket. It also publishes messages from NATS subjects into source
// windows. cmd/espctl exposes the bridge and the common REST operations on
// the command line.
package espclient
