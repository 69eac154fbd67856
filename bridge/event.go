package bridge

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/c360/espclient/events"
)

// Event is the JSON document published for every row a window emits
type Event struct {
	ID        string         `json:"id"`
	Window    string         `json:"window"`
	Opcode    string         `json:"opcode,omitempty"`
	Key       string         `json:"key,omitempty"`
	Fields    map[string]any `json:"fields"`
	Timestamp time.Time      `json:"timestamp"`
}

// OpcodeDelete marks rows that remove their key from the snapshot
const OpcodeDelete = "delete"

// Subject returns the NATS subject for a window: the prefix followed by the
// dotted window path. Characters NATS treats as wildcards or separators
// inside a name are replaced with "_".
func Subject(prefix, window string) string {
	parts := strings.Split(window, ".")
	for i, p := range parts {
		parts[i] = strings.Map(func(r rune) rune {
			switch r {
			case '*', '>', ' ', '\t':
				return '_'
			}
			return r
		}, p)
	}
	name := strings.Join(parts, ".")
	if prefix == "" {
		return name
	}
	return prefix + "." + name
}

// SnapshotKey returns the key a row is stored under: prefix:window:rowkey
func SnapshotKey(prefix, window, rowKey string) string {
	if prefix == "" {
		return window + ":" + rowKey
	}
	return prefix + ":" + window + ":" + rowKey
}

// NewEvents converts every row of t
func NewEvents(t *events.Table, now time.Time) []Event {
	out := make([]Event, 0, t.Len())
	for r := 0; r < t.Len(); r++ {
		out = append(out, Event{
			ID:        uuid.NewString(),
			Window:    t.Window,
			Opcode:    t.Opcode(r),
			Key:       t.Key(r),
			Fields:    t.Record(r),
			Timestamp: now,
		})
	}
	return out
}

// rowFields renders a row in wire form, one string per column
func rowFields(t *events.Table, r int) map[string]string {
	fields := make(map[string]string, len(t.Columns))
	for i, c := range t.Columns {
		v := t.Rows[r][i]
		s, err := events.Encode(v, t.Types[i])
		if err != nil {
			s = fmt.Sprint(v)
		}
		fields[c] = s
	}
	return fields
}
