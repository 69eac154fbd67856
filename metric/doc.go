// Package metric provides Prometheus metrics for espclient.
//
// MetricsRegistry owns a private prometheus.Registry with the client metrics
// already registered, plus Go runtime and process collectors. Components take
// a *Metrics and record through its nil-safe helper methods, so code that runs
// without metrics simply passes nil.
//
//	registry := metric.NewMetricsRegistry()
//	conn, _ := esp.NewConnection(cfg, esp.WithMetrics(registry.CoreMetrics()))
//
//	server := metric.NewServer(":9090", "/metrics", registry)
//	go server.Start()
//
// Extra collectors, for example a bridge's own counters, go through the
// Register* methods, which reject duplicate names per owner.
package metric
