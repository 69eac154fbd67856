package natsclient

import (
	"context"
	"fmt"
	"testing"
	"time"

	gonats "github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

const natsImage = "nats:2.11.7-alpine"

// TestClient is a Client connected to a NATS container that lives as long
// as the test
type TestClient struct {
	Client *Client
	URL    string
}

type testConfig struct {
	jetstream    bool
	buckets      []string
	streams      map[string][]string
	dialTimeout  time.Duration
	startTimeout time.Duration
}

// TestOption configures the container behind a TestClient
type TestOption func(*testConfig)

// WithFastStartup shortens the dial and startup timeouts for tests that only
// need core pub/sub
func WithFastStartup() TestOption {
	return func(cfg *testConfig) {
		cfg.dialTimeout = 2 * time.Second
		cfg.startTimeout = 10 * time.Second
	}
}

// WithBridgeDefaults enables JetStream, which the capture stream and the
// snapshot bucket need
func WithBridgeDefaults() TestOption {
	return func(cfg *testConfig) { cfg.jetstream = true }
}

// WithKVBuckets creates snapshot buckets before the test runs
func WithKVBuckets(buckets ...string) TestOption {
	return func(cfg *testConfig) {
		cfg.jetstream = true
		cfg.buckets = append(cfg.buckets, buckets...)
	}
}

// WithStream creates a stream capturing subjects before the test runs
func WithStream(name string, subjects ...string) TestOption {
	return func(cfg *testConfig) {
		cfg.jetstream = true
		if cfg.streams == nil {
			cfg.streams = make(map[string][]string)
		}
		cfg.streams[name] = subjects
	}
}

// NewTestClient starts a NATS container, connects a Client and prepares the
// requested streams and buckets. Everything is torn down with the test.
func NewTestClient(t testing.TB, opts ...TestOption) *TestClient {
	t.Helper()
	cfg := &testConfig{dialTimeout: 5 * time.Second, startTimeout: 30 * time.Second}
	for _, opt := range opts {
		opt(cfg)
	}
	ctx := context.Background()

	container, url, err := startNATS(ctx, cfg)
	if err != nil {
		t.Fatalf("NATS test container: %v", err)
	}
	t.Cleanup(func() { _ = container.Terminate(context.Background()) })

	client, err := NewClient(url, WithTimeouts(cfg.dialTimeout, 0), WithReconnect(0, 0))
	if err != nil {
		t.Fatalf("NATS test client: %v", err)
	}
	dialCtx, cancel := context.WithTimeout(ctx, cfg.dialTimeout)
	defer cancel()
	if err := client.Connect(dialCtx); err != nil {
		t.Fatalf("connect to NATS test container: %v", err)
	}
	t.Cleanup(func() { _ = client.Close(context.Background()) })

	for _, bucket := range cfg.buckets {
		if _, err := client.KeyValueBucket(ctx, bucket, 0); err != nil {
			t.Fatalf("create bucket %s: %v", bucket, err)
		}
	}
	for name, subjects := range cfg.streams {
		if _, err := client.EnsureStream(ctx, name, subjects...); err != nil {
			t.Fatalf("create stream %s: %v", name, err)
		}
	}
	return &TestClient{Client: client, URL: url}
}

func startNATS(ctx context.Context, cfg *testConfig) (testcontainers.Container, string, error) {
	cmd := []string{"--port", "4222", "--http_port", "8222"}
	if cfg.jetstream {
		cmd = append(cmd, "--js")
	}
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        natsImage,
			ExposedPorts: []string{"4222/tcp", "8222/tcp"},
			Cmd:          cmd,
			WaitingFor: wait.ForAll(
				wait.ForListeningPort("4222/tcp"),
				wait.ForHTTP("/healthz").WithPort("8222/tcp").WithStartupTimeout(cfg.startTimeout),
			),
		},
		Started: true,
	})
	if err != nil {
		return nil, "", err
	}
	host, err := container.Host(ctx)
	if err != nil {
		_ = container.Terminate(ctx)
		return nil, "", err
	}
	port, err := container.MappedPort(ctx, "4222")
	if err != nil {
		_ = container.Terminate(ctx)
		return nil, "", err
	}
	return container, fmt.Sprintf("nats://%s:%s", host, port.Port()), nil
}

// Conn returns the underlying connection
func (tc *TestClient) Conn() *gonats.Conn {
	return tc.Client.connection()
}

// KVBucket returns the named bucket, creating it when missing
func (tc *TestClient) KVBucket(ctx context.Context, name string) (jetstream.KeyValue, error) {
	return tc.Client.KeyValueBucket(ctx, name, 0)
}
