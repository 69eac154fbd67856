package bridge

import (
	"context"
	stderrors "errors"
	"fmt"
	"strings"
	"time"

	"github.com/c360/espclient/errors"
	"github.com/c360/espclient/natsclient"
)

// KVSnapshot keeps the latest version of every row in a NATS KV bucket as a
// JSON object. Expiry is a property of the bucket, so the ttl passed to
// PutRow is ignored.
type KVSnapshot struct {
	store *natsclient.KVStore
}

// NewKVSnapshot opens (or creates) bucket with entries expiring after ttl
func NewKVSnapshot(ctx context.Context, client *natsclient.Client, bucket string, ttl time.Duration) (*KVSnapshot, error) {
	kv, err := client.KeyValueBucket(ctx, bucket, ttl)
	if err != nil {
		return nil, err
	}
	return &KVSnapshot{store: client.NewKVStore(kv)}, nil
}

// PutRow merges fields into the object stored at key
func (s *KVSnapshot) PutRow(ctx context.Context, key string, fields map[string]string, _ time.Duration) error {
	err := s.store.UpdateJSON(ctx, kvKey(key), func(row map[string]any) error {
		for k, v := range fields {
			row[k] = v
		}
		return nil
	})
	if err != nil {
		return errors.WrapTransient(err, "KVSnapshot", "PutRow", "write "+key)
	}
	return nil
}

// DeleteRow removes key. A key that was never written is not an error.
func (s *KVSnapshot) DeleteRow(ctx context.Context, key string) error {
	err := s.store.Delete(ctx, kvKey(key))
	if err != nil && !stderrors.Is(err, natsclient.ErrKVKeyNotFound) {
		return errors.WrapTransient(err, "KVSnapshot", "DeleteRow", "delete "+key)
	}
	return nil
}

// Close is a no-op; the bucket lives as long as the NATS client
func (s *KVSnapshot) Close() error {
	return nil
}

// kvKey maps a snapshot key onto the KV key alphabet. ':' becomes '.', so
// prefix:window:rowkey is a dotted key usable with KV watch wildcards; any
// other byte outside [-/_.a-zA-Z0-9] is written as =XX.
func kvKey(key string) string {
	var b strings.Builder
	for i := 0; i < len(key); i++ {
		c := key[i]
		switch {
		case c == ':':
			b.WriteByte('.')
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9',
			c == '-', c == '/', c == '_', c == '.':
			b.WriteByte(c)
		default:
			fmt.Fprintf(&b, "=%02X", c)
		}
	}
	return b.String()
}
