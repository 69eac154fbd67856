package health

import (
	"strings"
	"time"
)

// NewHealthy returns a healthy status
func NewHealthy(component, message string) Status {
	return newStatus(component, StateHealthy, message)
}

// NewUnhealthy returns an unhealthy status
func NewUnhealthy(component, message string) Status {
	return newStatus(component, StateUnhealthy, message)
}

// NewDegraded returns a degraded status
func NewDegraded(component, message string) Status {
	return newStatus(component, StateDegraded, message)
}

func newStatus(component, state, message string) Status {
	return Status{
		Component: component,
		Healthy:   state == StateHealthy,
		Status:    state,
		Message:   message,
		Timestamp: time.Now(),
	}
}

func severity(s Status) int {
	switch {
	case s.IsUnhealthy():
		return 2
	case s.IsDegraded():
		return 1
	}
	return 0
}

// Aggregate takes the worst state among subs. The message names the
// components in that state.
func Aggregate(component string, subs []Status) Status {
	worst := 0
	for _, s := range subs {
		worst = max(worst, severity(s))
	}

	var names []string
	for _, s := range subs {
		if worst > 0 && severity(s) == worst {
			names = append(names, s.Component)
		}
	}

	var out Status
	switch worst {
	case 2:
		out = NewUnhealthy(component, "Unhealthy: "+strings.Join(names, ", "))
	case 1:
		out = NewDegraded(component, "Degraded: "+strings.Join(names, ", "))
	default:
		out = NewHealthy(component, "OK")
	}
	out.SubStatuses = append([]Status(nil), subs...)
	return out
}
