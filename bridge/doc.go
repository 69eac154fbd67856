// Package bridge connects ESP windows to NATS.
//
// Every row a subscribed window emits is published as a JSON Event on
// "<prefix>.<project>.<query>.<window>", or through JetStream when a capture
// stream is configured. With a SnapshotStore the latest row of every key is
// kept as well (Redis hash or NATS KV entry under "<prefix>:<window>:<key>"),
// and rows with the delete opcode remove their key. Inbound mappings
// subscribe to a NATS subject and publish each message into a source window.
//
//	conn, _ := esp.Dial(ctx, cfg.Connection)
//	nc, _ := natsclient.NewClient(natsclient.FromConfig(cfg.Bridge.NATS))
//	b, _ := bridge.New(conn, nc, cfg.Bridge, bridge.WithSnapshots(redisSnap))
//	err := b.Run(ctx)
package bridge
