//go:build integration

package natsclient

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIntegration_PublishSubscribe(t *testing.T) {
	tc := NewTestClient(t, WithFastStartup())
	ctx := context.Background()

	assert.True(t, tc.Client.IsHealthy())
	rtt, err := tc.Client.RTT()
	require.NoError(t, err)
	assert.Greater(t, rtt, time.Duration(0))

	got := make(chan []byte, 1)
	require.NoError(t, tc.Client.Subscribe(ctx, "esp.trades.>", func(_ context.Context, data []byte) {
		got <- data
	}))
	require.NoError(t, tc.Conn().Flush())

	require.NoError(t, tc.Client.Publish(ctx, "esp.trades.cq.src", []byte(`{"id":1}`)))
	select {
	case data := <-got:
		assert.JSONEq(t, `{"id":1}`, string(data))
	case <-time.After(5 * time.Second):
		t.Fatal("message not received")
	}
}

func TestIntegration_StreamCapture(t *testing.T) {
	tc := NewTestClient(t, WithStream("ESP_EVENTS", "esp.>"))
	ctx := context.Background()

	require.NoError(t, tc.Client.PublishToStream(ctx, "esp.trades.cq.src", []byte(`{"id":1}`)))
	require.NoError(t, tc.Client.PublishToStream(ctx, "esp.trades.cq.big", []byte(`{"id":2}`)))

	stream, err := tc.Client.EnsureStream(ctx, "ESP_EVENTS", "esp.>")
	require.NoError(t, err)
	info, err := stream.Info(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), info.State.Msgs)
}

func TestIntegration_KVStore(t *testing.T) {
	tc := NewTestClient(t, WithBridgeDefaults(), WithKVBuckets("esp_snapshots"))
	ctx := context.Background()

	bucket, err := tc.KVBucket(ctx, "esp_snapshots")
	require.NoError(t, err)
	store := tc.Client.NewKVStore(bucket)

	_, err = store.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrKVKeyNotFound)

	require.NoError(t, store.UpdateJSON(ctx, "trades.cq.src.1", func(row map[string]any) error {
		row["symbol"] = "IBM"
		return nil
	}))
	require.NoError(t, store.UpdateJSON(ctx, "trades.cq.src.1", func(row map[string]any) error {
		row["price"] = "101.5"
		return nil
	}))

	entry, err := store.Get(ctx, "trades.cq.src.1")
	require.NoError(t, err)
	var row map[string]string
	require.NoError(t, json.Unmarshal(entry.Value, &row))
	assert.Equal(t, map[string]string{"symbol": "IBM", "price": "101.5"}, row)

	require.NoError(t, store.Delete(ctx, "trades.cq.src.1"))
	_, err = store.Get(ctx, "trades.cq.src.1")
	assert.ErrorIs(t, err, ErrKVKeyNotFound)
}

func TestIntegration_KVConcurrentUpdates(t *testing.T) {
	tc := NewTestClient(t, WithKVBuckets("counters"))
	ctx := context.Background()

	bucket, err := tc.KVBucket(ctx, "counters")
	require.NoError(t, err)
	store := tc.Client.NewKVStore(bucket, func(o *KVOptions) { o.MaxRetries = 50 })

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, store.UpdateJSON(ctx, "n", func(doc map[string]any) error {
				n, _ := doc["n"].(float64)
				doc["n"] = n + 1
				return nil
			}))
		}()
	}
	wg.Wait()

	entry, err := store.Get(ctx, "n")
	require.NoError(t, err)
	assert.JSONEq(t, `{"n":10}`, string(entry.Value))
}
