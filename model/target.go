package model

import "sync/atomic"

var targetSeq atomic.Uint64

// Target is an edge from a window to the named window. Targets carry a
// process-wide increasing index so edges serialize in creation order.
type Target struct {
	Name string
	Role string
	Slot string

	index uint64
}

func newTarget(name, role, slot string) *Target {
	return &Target{Name: name, Role: role, Slot: slot, index: targetSeq.Add(1)}
}

// Index returns the creation order of the target
func (t *Target) Index() uint64 {
	return t.index
}

// TargetOption configures an edge
type TargetOption func(*Target)

// WithRole sets the edge role, such as "data", "model", "left" or "right"
func WithRole(role string) TargetOption {
	return func(t *Target) { t.Role = role }
}

// WithSlot sets the splitter slot feeding the edge
func WithSlot(slot string) TargetOption {
	return func(t *Target) { t.Slot = slot }
}
