package health

import (
	"regexp"
	"strings"
	"time"
)

// Status values
const (
	StateHealthy   = "healthy"
	StateDegraded  = "degraded"
	StateUnhealthy = "unhealthy"
)

var (
	urlRegex        = regexp.MustCompile(`(https?|wss?|nats|redis)://[^\s]+`)
	unixPathRegex   = regexp.MustCompile(`/[a-zA-Z0-9/_.-]+`)
	ipAddrRegex     = regexp.MustCompile(`\b\d{1,3}\.\d{1,3}\.\d{1,3}\.\d{1,3}\b`)
	portRegex       = regexp.MustCompile(`:\d{2,5}\b`)
	credentialRegex = regexp.MustCompile(`(?i)(password|token|secret|credential)[^a-zA-Z]*[:=][^,\s}]+`)
)

// Status represents the health state of a component or system
type Status struct {
	Component   string    `json:"component"`
	Healthy     bool      `json:"healthy"`
	Status      string    `json:"status"`
	Message     string    `json:"message"`
	Timestamp   time.Time `json:"timestamp"`
	SubStatuses []Status  `json:"sub_statuses,omitempty"`
	Metrics     *Metrics  `json:"metrics,omitempty"`
}

// Metrics contains health-related counters
type Metrics struct {
	Uptime            time.Duration `json:"uptime"`
	ErrorCount        int           `json:"error_count"`
	MessagesProcessed int64         `json:"messages_processed,omitempty"`
	LastActivity      time.Time     `json:"last_activity,omitempty"`
}

// IsHealthy returns true if the status is healthy
func (s Status) IsHealthy() bool {
	return s.Status == StateHealthy
}

// IsDegraded returns true if the status is degraded
func (s Status) IsDegraded() bool {
	return s.Status == StateDegraded
}

// IsUnhealthy returns true if the status is unhealthy
func (s Status) IsUnhealthy() bool {
	return s.Status == StateUnhealthy
}

// WithMetrics returns a copy of the status with metrics attached
func (s Status) WithMetrics(metrics *Metrics) Status {
	s.Metrics = metrics
	return s
}

// Report is what a running component knows about itself
type Report struct {
	Healthy      bool
	Degraded     bool
	LastError    string
	ErrorCount   int
	Processed    int64
	Started      time.Time
	LastActivity time.Time
}

// FromReport converts a component report into a Status. The error text is
// stripped of URLs, paths, addresses and credentials.
func FromReport(name string, r Report) Status {
	var s Status
	switch {
	case r.Healthy && r.Degraded:
		s = NewDegraded(name, "Running with errors")
	case r.Healthy:
		s = NewHealthy(name, "Running")
	default:
		s = NewUnhealthy(name, "Not running")
	}
	if r.LastError != "" {
		s.Message = sanitizeErrorMessage(r.LastError)
	}

	m := &Metrics{
		ErrorCount:        r.ErrorCount,
		MessagesProcessed: r.Processed,
		LastActivity:      r.LastActivity,
	}
	if !r.Started.IsZero() {
		m.Uptime = time.Since(r.Started)
	}
	return s.WithMetrics(m)
}

func sanitizeErrorMessage(err string) string {
	if err == "" {
		return ""
	}
	s := urlRegex.ReplaceAllString(err, "[URL]")
	s = unixPathRegex.ReplaceAllString(s, "[PATH]")
	s = ipAddrRegex.ReplaceAllString(s, "[IP]")
	s = portRegex.ReplaceAllString(s, "[PORT]")

	lower := strings.ToLower(s)
	for _, word := range []string{"password", "token", "secret", "credential"} {
		if strings.Contains(lower, word) {
			return credentialRegex.ReplaceAllString(s, "[REDACTED]")
		}
	}
	return s
}
