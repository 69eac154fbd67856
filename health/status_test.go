package health

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromReport(t *testing.T) {
	started := time.Now().Add(-time.Minute)
	tests := []struct {
		name        string
		report      Report
		wantState   string
		wantMessage string
	}{
		{name: "running", report: Report{Healthy: true, Started: started}, wantState: StateHealthy, wantMessage: "Running"},
		{
			name:        "running with errors",
			report:      Report{Healthy: true, Degraded: true, LastError: "publish failed", ErrorCount: 2},
			wantState:   StateDegraded,
			wantMessage: "publish failed",
		},
		{
			name:        "down",
			report:      Report{LastError: "dial tcp 10.0.0.4:6379: connection refused"},
			wantState:   StateUnhealthy,
			wantMessage: "dial tcp [IP][PORT]: connection refused",
		},
		{name: "never started", report: Report{}, wantState: StateUnhealthy, wantMessage: "Not running"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := FromReport("redis", tt.report)
			assert.Equal(t, "redis", s.Component)
			assert.Equal(t, tt.wantState, s.Status)
			assert.Equal(t, tt.wantState == StateHealthy, s.Healthy)
			assert.Equal(t, tt.wantMessage, s.Message)
			require.NotNil(t, s.Metrics)
			assert.Equal(t, tt.report.ErrorCount, s.Metrics.ErrorCount)
		})
	}

	s := FromReport("nats", Report{Healthy: true, Started: started})
	assert.GreaterOrEqual(t, s.Metrics.Uptime, time.Minute)
}

func TestSanitizeErrorMessage(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{name: "empty", input: "", want: ""},
		{name: "esp url", input: "GET http://esp:31415/SASESP/server failed", want: "GET [URL] failed"},
		{name: "nats url", input: "nats://user:pw@broker:4222 unreachable", want: "[URL] unreachable"},
		{name: "redis url", input: "redis://cache:6379/0 timeout", want: "[URL] timeout"},
		{name: "path", input: "open /etc/esp/bridge.yaml", want: "open [PATH]"},
		{name: "password", input: "auth failed password=hunter2", want: "auth failed [REDACTED]"},
		{name: "plain", input: "connection refused", want: "connection refused"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, sanitizeErrorMessage(tt.input))
		})
	}
}

func TestAggregate(t *testing.T) {
	tests := []struct {
		name string
		subs []Status
		want string
	}{
		{name: "empty", subs: nil, want: StateHealthy},
		{name: "all healthy", subs: []Status{NewHealthy("a", ""), NewHealthy("b", "")}, want: StateHealthy},
		{name: "one degraded", subs: []Status{NewHealthy("a", ""), NewDegraded("b", "")}, want: StateDegraded},
		{name: "unhealthy wins", subs: []Status{NewDegraded("a", ""), NewUnhealthy("b", "")}, want: StateUnhealthy},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Aggregate("bridge", tt.subs)
			assert.Equal(t, tt.want, got.Status)
			assert.Len(t, got.SubStatuses, len(tt.subs))
		})
	}

	got := Aggregate("bridge", []Status{NewUnhealthy("nats", ""), NewDegraded("redis", ""), NewUnhealthy("esp", "")})
	assert.Equal(t, "Unhealthy: nats, esp", got.Message)
}
