// Package health tracks the health of the bridge's connections.
//
// The bridge reports one Status per connection ("esp", "nats", "redis") and
// a Monitor aggregates them for the /health endpoint of espctl:
//
//	monitor := health.NewMonitor()
//	monitor.Update("nats", health.FromReport("nats", health.Report{Healthy: true}))
//	http.Handle("/health", monitor.Handler("bridge"))
//
// Aggregation: any unhealthy component makes the system unhealthy; otherwise
// any degraded component makes it degraded.
package health
