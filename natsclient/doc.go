// Package natsclient provides the NATS connection used by the ESP bridge,
// with circuit breaker protection, automatic reconnection, JetStream streams
// and KV buckets.
//
// The bridge publishes subscribed window events on core subjects, optionally
// captures them in a JetStream stream, keeps the latest row of every key in a
// KV bucket and subscribes to inbound subjects whose messages are injected
// into source windows.
//
// # Basic Usage
//
//	url, opts := natsclient.FromConfig(cfg.Bridge.NATS)
//	client, err := natsclient.NewClient(url, append(opts, natsclient.WithLogger(logger))...)
//	if err != nil {
//	    return err
//	}
//	if err := client.Connect(ctx); err != nil {
//	    return err
//	}
//	defer client.Close(ctx)
//
//	err = client.Publish(ctx, "esp.trades.cq.src", payload)
//	err = client.Subscribe(ctx, "orders.in", func(msgCtx context.Context, data []byte) {
//	    // msgCtx carries a 30 second deadline
//	})
//
// # Streams and Buckets
//
//	_, err = client.EnsureStream(ctx, "ESP_EVENTS", "esp.>")
//	err = client.PublishToStream(ctx, "esp.trades.cq.src", payload)
//
//	bucket, err := client.KeyValueBucket(ctx, "esp_snapshots", time.Hour)
//	store := client.NewKVStore(bucket)
//	err = store.UpdateJSON(ctx, "trades.cq.src.1", func(row map[string]any) error {
//	    row["price"] = "101.5"
//	    return nil
//	})
//
// UpdateJSON may call its function more than once when another writer wins
// the compare-and-swap.
//
// # Circuit Breaker
//
// After the WithCircuitBreaker threshold of consecutive failures (default 5)
// the client reports StatusCircuitOpen and Connect, EnsureStream,
// PublishToStream and KeyValueBucket fail fast with ErrCircuitOpen. The
// circuit half-opens after the current backoff, which doubles on every trip
// up to the configured maximum. A success resets it.
//
// # Testing
//
// NewTestClient starts a nats container through testcontainers and connects
// a Client to it:
//
//	tc := natsclient.NewTestClient(t, natsclient.WithKVBuckets("esp_snapshots"))
//	err := tc.Client.Publish(ctx, "esp.trades.cq.src", payload)
package natsclient
