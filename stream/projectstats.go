package stream

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/c360/espclient/rest"
	"github.com/c360/espclient/xmltree"
)

// DefaultStatsLimit is the number of rows a ProjectStats feed keeps
const DefaultStatsLimit = 20

var (
	statsStatusRe = regexp.MustCompile(`^\s*\w+\s*:\s*\d+\s*$`)
	intValueRe    = regexp.MustCompile(`^\s*\d+\s*$`)
	floatValueRe  = regexp.MustCompile(`^\s*\d*\.\d*\s*$`)
)

// StatsRow is the latest statistics of one window. Values holds the remaining
// window attributes with numeric strings cast to int64 or float64.
type StatsRow struct {
	Project   string
	ContQuery string
	Window    string
	Values    map[string]any
}

// Interval returns the numeric interval attribute, or 0
func (r StatsRow) Interval() float64 {
	return toFloat(r.Values["interval"])
}

// CPU returns the numeric cpu attribute, or 0
func (r StatsRow) CPU() float64 {
	return toFloat(r.Values["cpu"])
}

func toFloat(v any) float64 {
	switch x := v.(type) {
	case int64:
		return float64(x)
	case float64:
		return x
	}
	return 0
}

// ProjectStats follows the server's projectStats socket
type ProjectStats struct {
	session  *rest.Session
	logger   *slog.Logger
	filter   string
	interval int
	minCPU   int
	limit    int

	mu     sync.Mutex
	rows   []StatsRow
	client *Client
}

// StatsOption configures ProjectStats
type StatsOption func(*ProjectStats)

// WithStatsFilter sets a filter on project names
func WithStatsFilter(filter string) StatsOption {
	return func(p *ProjectStats) {
		p.filter = filter
	}
}

// ForProject limits the feed to one project
func ForProject(name string) StatsOption {
	return WithStatsFilter(fmt.Sprintf("in(name,'%s')", name))
}

// WithStatsInterval sets the reporting interval in seconds
func WithStatsInterval(seconds int) StatsOption {
	return func(p *ProjectStats) {
		p.interval = seconds
	}
}

// WithMinCPU drops windows below the CPU percentage
func WithMinCPU(pct int) StatsOption {
	return func(p *ProjectStats) {
		p.minCPU = pct
	}
}

// WithStatsLimit sets the number of rows kept
func WithStatsLimit(n int) StatsOption {
	return func(p *ProjectStats) {
		if n > 0 {
			p.limit = n
		}
	}
}

// NewProjectStats creates an unconnected statistics feed
func NewProjectStats(session *rest.Session, opts ...StatsOption) *ProjectStats {
	p := &ProjectStats{session: session, limit: DefaultStatsLimit}
	for _, opt := range opts {
		opt(p)
	}
	p.logger = session.Logger().With("component", "project_stats")
	return p
}

// URL returns the projectStats socket URL
func (p *ProjectStats) URL() string {
	params := rest.NewParams().
		SetNonEmpty("filter", p.filter).
		Set("format", "xml").
		SetIf(p.interval > 0, "interval", p.interval).
		SetIf(p.minCPU > 0, "min_cpu", p.minCPU)
	return p.session.SocketURL("projectStats", params)
}

// Start opens the socket. Starting an active feed is a no-op.
func (p *ProjectStats) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.client != nil && p.client.Connected() {
		return nil
	}

	opts := append(sessionOptions(p.session, "project_stats"), WithCallbacks(Callbacks{
		OnMessage: func(msg []byte) {
			if err := p.Update(msg); err != nil {
				p.logger.Warn("Dropping project statistics message", "error", err)
			}
		},
	}))
	client := NewClient(p.URL(), opts...)
	if err := client.Connect(ctx); err != nil {
		return err
	}
	p.client = client
	return nil
}

// Stop closes the socket
func (p *ProjectStats) Stop() error {
	p.mu.Lock()
	client := p.client
	p.client = nil
	p.mu.Unlock()
	if client == nil {
		return nil
	}
	return client.Close()
}

// Active reports whether the socket is open
func (p *ProjectStats) Active() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.client != nil && p.client.Connected()
}

// Update merges one statistics message. Status lines are ignored.
func (p *ProjectStats) Update(msg []byte) error {
	if statsStatusRe.Match(msg) {
		return nil
	}
	root, err := xmltree.Parse(msg)
	if err != nil {
		return err
	}
	incoming := ParseStatsRows(root)
	if len(incoming) == 0 {
		return nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	rows := append(append([]StatsRow(nil), p.rows...), incoming...)
	sort.SliceStable(rows, func(i, j int) bool { return rows[i].key() < rows[j].key() })
	sort.SliceStable(rows, func(i, j int) bool { return rows[i].Interval() < rows[j].Interval() })
	if len(rows) > p.limit {
		rows = rows[len(rows)-p.limit:]
	}
	p.rows = rows
	return nil
}

func (r StatsRow) key() string {
	return r.Project + "\x00" + r.ContQuery + "\x00" + r.Window
}

// ParseStatsRows reads <project><contquery><window .../> elements
func ParseStatsRows(root *xmltree.Element) []StatsRow {
	projects := []*xmltree.Element{root}
	if root.Tag != "project" {
		projects = root.FindAll(".//project")
	}

	var rows []StatsRow
	for _, proj := range projects {
		for _, cq := range proj.FindAll("./contquery") {
			for _, win := range cq.FindAll("./window") {
				row := StatsRow{
					Project:   proj.AttrOr("name", ""),
					ContQuery: cq.AttrOr("name", ""),
					Window:    win.AttrOr("name", ""),
					Values:    make(map[string]any, len(win.Attrs)),
				}
				for _, a := range win.Attrs {
					if a.Name == "name" {
						continue
					}
					row.Values[a.Name] = castStat(a.Value)
				}
				rows = append(rows, row)
			}
		}
	}
	return rows
}

func castStat(v string) any {
	switch {
	case intValueRe.MatchString(v):
		if n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64); err == nil {
			return n
		}
	case floatValueRe.MatchString(v):
		if f, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil {
			return f
		}
	}
	return v
}

// Rows returns the kept rows ordered by interval
func (p *ProjectStats) Rows() []StatsRow {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]StatsRow(nil), p.rows...)
}

// Len returns the number of kept rows
func (p *ProjectStats) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.rows)
}
