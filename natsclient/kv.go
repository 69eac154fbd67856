package natsclient

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/c360/espclient/pkg/retry"
)

// KV errors
var (
	ErrKVKeyNotFound        = stderrors.New("kv: key not found")
	ErrKVKeyExists          = stderrors.New("kv: key already exists")
	ErrKVRevisionMismatch   = stderrors.New("kv: revision mismatch (concurrent update)")
	ErrKVMaxRetriesExceeded = stderrors.New("kv: max retries exceeded")
)

// KVEntry is a value with the revision it was read at
type KVEntry struct {
	Key      string
	Value    []byte
	Revision uint64
}

// KVOptions configures KV operations behavior
type KVOptions struct {
	MaxRetries    int           // CAS retries after the first attempt
	RetryDelay    time.Duration // initial delay between retries
	MaxRetryDelay time.Duration
	Timeout       time.Duration // per operation, including retries
	MaxValueSize  int
}

// DefaultKVOptions returns the defaults used for window snapshots
func DefaultKVOptions() KVOptions {
	return KVOptions{
		MaxRetries:    10,
		RetryDelay:    10 * time.Millisecond,
		MaxRetryDelay: time.Second,
		Timeout:       5 * time.Second,
		MaxValueSize:  1024 * 1024,
	}
}

// KVStore wraps a bucket with compare-and-swap updates
type KVStore struct {
	bucket  jetstream.KeyValue
	options KVOptions
	logger  *slog.Logger
}

// NewKVStore creates a store over bucket
func (m *Client) NewKVStore(bucket jetstream.KeyValue, opts ...func(*KVOptions)) *KVStore {
	options := DefaultKVOptions()
	for _, opt := range opts {
		opt(&options)
	}
	return &KVStore{
		bucket:  bucket,
		options: options,
		logger:  m.logger.With("bucket", bucket.Bucket()),
	}
}

func (kv *KVStore) applyTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if kv.options.Timeout > 0 {
		return context.WithTimeout(ctx, kv.options.Timeout)
	}
	return ctx, func() {}
}

// Get returns the value and revision stored under key
func (kv *KVStore) Get(ctx context.Context, key string) (*KVEntry, error) {
	ctx, cancel := kv.applyTimeout(ctx)
	defer cancel()

	entry, err := kv.bucket.Get(ctx, key)
	if err != nil {
		if IsKVNotFoundError(err) {
			return nil, ErrKVKeyNotFound
		}
		return nil, fmt.Errorf("kv get %s: %w", key, err)
	}
	return &KVEntry{Key: key, Value: entry.Value(), Revision: entry.Revision()}, nil
}

// Put writes key without a revision check
func (kv *KVStore) Put(ctx context.Context, key string, value []byte) (uint64, error) {
	ctx, cancel := kv.applyTimeout(ctx)
	defer cancel()

	rev, err := kv.bucket.Put(ctx, key, value)
	if err != nil {
		return 0, fmt.Errorf("kv put %s: %w", key, err)
	}
	kv.logger.Debug("KV put", "key", key, "revision", rev)
	return rev, nil
}

// Delete removes key. Deleting a missing key returns ErrKVKeyNotFound.
func (kv *KVStore) Delete(ctx context.Context, key string) error {
	ctx, cancel := kv.applyTimeout(ctx)
	defer cancel()

	if err := kv.bucket.Delete(ctx, key); err != nil {
		if IsKVNotFoundError(err) {
			return ErrKVKeyNotFound
		}
		return fmt.Errorf("kv delete %s: %w", key, err)
	}
	return nil
}

func (kv *KVStore) retryConfig(key string) retry.Config {
	return retry.Config{
		MaxAttempts:  kv.options.MaxRetries + 1,
		InitialDelay: kv.options.RetryDelay,
		MaxDelay:     kv.options.MaxRetryDelay,
		Multiplier:   2.0,
		AddJitter:    true,
		Retryable:    IsKVConflictError,
		OnRetry: func(attempt int, _ error, _ time.Duration) {
			kv.logger.Debug("KV conflict, retrying", "key", key, "attempt", attempt)
		},
	}
}

// UpdateWithRetry applies updateFn to the current value and writes the
// result with a revision check, retrying on conflicts. A missing key is
// created with updateFn(nil).
func (kv *KVStore) UpdateWithRetry(ctx context.Context, key string, updateFn func(current []byte) ([]byte, error)) error {
	ctx, cancel := kv.applyTimeout(ctx)
	defer cancel()

	err := retry.Do(ctx, kv.retryConfig(key), func() error {
		entry, err := kv.Get(ctx, key)
		if err != nil && !stderrors.Is(err, ErrKVKeyNotFound) {
			return err
		}
		var current []byte
		if entry != nil {
			current = entry.Value
		}

		next, err := updateFn(current)
		if err != nil {
			return fmt.Errorf("update %s: %w", key, err)
		}
		if kv.options.MaxValueSize > 0 && len(next) > kv.options.MaxValueSize {
			return fmt.Errorf("update %s: value size %d exceeds maximum %d", key, len(next), kv.options.MaxValueSize)
		}

		if entry == nil {
			_, err = kv.bucket.Create(ctx, key, next)
		} else {
			_, err = kv.bucket.Update(ctx, key, next, entry.Revision)
		}
		if err != nil && IsKVConflictError(err) {
			return ErrKVRevisionMismatch
		}
		return err
	})
	if stderrors.Is(err, ErrKVRevisionMismatch) {
		return ErrKVMaxRetriesExceeded
	}
	return err
}

// UpdateJSON is UpdateWithRetry over a JSON document. current is nil for a
// missing key.
func (kv *KVStore) UpdateJSON(ctx context.Context, key string, updateFn func(current map[string]any) error) error {
	return kv.UpdateWithRetry(ctx, key, func(raw []byte) ([]byte, error) {
		var doc map[string]any
		if len(raw) > 0 {
			if err := json.Unmarshal(raw, &doc); err != nil {
				return nil, fmt.Errorf("unmarshal current: %w", err)
			}
		}
		if doc == nil {
			doc = make(map[string]any)
		}
		if err := updateFn(doc); err != nil {
			return nil, err
		}
		return json.Marshal(doc)
	})
}

// IsKVNotFoundError checks if error indicates key not found
func IsKVNotFoundError(err error) bool {
	if err == nil {
		return false
	}
	if stderrors.Is(err, ErrKVKeyNotFound) || stderrors.Is(err, jetstream.ErrKeyNotFound) || stderrors.Is(err, jetstream.ErrKeyDeleted) {
		return true
	}
	return strings.Contains(err.Error(), "key not found")
}

// IsKVConflictError checks if error indicates a conflict (key exists or wrong revision)
func IsKVConflictError(err error) bool {
	if err == nil {
		return false
	}
	if stderrors.Is(err, ErrKVRevisionMismatch) || stderrors.Is(err, ErrKVKeyExists) || stderrors.Is(err, jetstream.ErrKeyExists) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "wrong last sequence") || strings.Contains(msg, "key exists")
}
