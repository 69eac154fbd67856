// Package router defines ESP routers: engines, destinations and the routes
// that subscribe to windows on those engines and forward their events.
package router

import (
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/c360/espclient/errors"
	"github.com/c360/espclient/pkg/naming"
	"github.com/c360/espclient/xmltree"
)

// DefaultDateFormat is the writer destination date format
const DefaultDateFormat = "%Y%m%dT%H:%M:%S.%f"

// Engine is an ESP server a router talks to
type Engine struct {
	Name         string
	Host         string
	Port         int
	AuthToken    string
	AuthTokenURL string
}

// Element returns the <esp-engine> definition
func (e *Engine) Element() *xmltree.Element {
	out := xmltree.New("esp-engine", "name", e.Name, "host", e.Host, "port", strconv.Itoa(e.Port))
	if e.AuthToken != "" {
		out.Append(xmltree.NewText("auth_token", e.AuthToken))
	}
	if e.AuthTokenURL != "" {
		out.Append(xmltree.NewText("auth_token_url", e.AuthTokenURL))
	}
	return out
}

// Destination is where a route delivers events
type Destination interface {
	DestinationName() string
	Element() *xmltree.Element
}

// Target is the "engine.project.contquery.window" function path of a
// publish destination. Each part is an expression evaluated per event.
type Target struct {
	Engine    string
	Project   string
	ContQuery string
	Window    string
}

// ParseTarget splits "engine.project.contquery.window"
func ParseTarget(path string) (Target, error) {
	if strings.Count(path, ".") < 3 {
		return Target{}, errors.Invalidf(errors.ErrInvalidPath, "router", "ParseTarget",
			"target %q does not contain enough levels", path)
	}
	parts := strings.Split(path, ".")
	return Target{Engine: parts[0], Project: parts[1], ContQuery: parts[2], Window: parts[3]}, nil
}

func (t Target) String() string {
	return strings.Join([]string{t.Engine, t.Project, t.ContQuery, t.Window}, ".")
}

// PublishDestination publishes routed events into a source window
type PublishDestination struct {
	Name            string
	Opcode          string
	FilterFunc      string
	Target          Target
	EventFieldsInit map[string]string
	EventFields     map[string]string
}

// NewPublishDestination creates a destination for "engine.project.contquery.window"
func NewPublishDestination(target, name string) (*PublishDestination, error) {
	t, err := ParseTarget(target)
	if err != nil {
		return nil, err
	}
	if name == "" {
		name = naming.Generate("pd_")
	}
	return &PublishDestination{
		Name:            name,
		Target:          t,
		EventFieldsInit: make(map[string]string),
		EventFields:     make(map[string]string),
	}, nil
}

// DestinationName returns the destination name
func (d *PublishDestination) DestinationName() string {
	return d.Name
}

// Element returns the <publish-destination> definition
func (d *PublishDestination) Element() *xmltree.Element {
	out := xmltree.New("publish-destination", "name", d.Name, "opcode", d.Opcode)
	if d.FilterFunc != "" {
		out.Append(xmltree.NewText("filter-func", d.FilterFunc))
	}
	tgt := out.Add("publish-target")
	for _, f := range []struct{ tag, value string }{
		{"engine-func", d.Target.Engine},
		{"project-func", d.Target.Project},
		{"contquery-func", d.Target.ContQuery},
		{"window-func", d.Target.Window},
	} {
		if f.value != "" {
			tgt.Append(xmltree.NewText(f.tag, f.value))
		}
	}
	if len(d.EventFieldsInit) > 0 || len(d.EventFields) > 0 {
		fields := out.Add("event-fields")
		if len(d.EventFieldsInit) > 0 {
			init := fields.Add("init")
			for _, k := range sortedKeys(d.EventFieldsInit) {
				init.Append(xmltree.NewText("value", d.EventFieldsInit[k]).SetAttr("name", k))
			}
		}
		if len(d.EventFields) > 0 {
			list := fields.Add("fields")
			for _, k := range sortedKeys(d.EventFields) {
				list.Append(xmltree.NewText("field", d.EventFields[k]).SetAttr("name", k))
			}
		}
	}
	return out
}

// WriterDestination writes routed events to files
type WriterDestination struct {
	Name       string
	FileFunc   string
	Format     string // xml, json or csv
	DateFormat string
}

// DestinationName returns the destination name
func (d *WriterDestination) DestinationName() string {
	return d.Name
}

// Element returns the <writer-destination> definition
func (d *WriterDestination) Element() *xmltree.Element {
	out := xmltree.New("writer-destination", "name", d.Name, "format", d.Format, "dateformat", d.DateFormat)
	out.Append(xmltree.NewText("file-func", d.FileFunc))
	return out
}

// Route subscribes to the windows matched by its expressions and sends
// their events to destinations
type Route struct {
	Name      string
	To        string // comma separated destination names
	Snapshot  bool
	Engine    string
	Project   string
	ContQuery string
	Window    string
	Type      string // optional window type expression
}

var routeExprs = []string{"engine-expr", "project-expr", "contquery-expr", "window-expr", "type-expr"}

// NewRoute creates a route for "engine.project.contquery.window[.type]"
func NewRoute(path, to, name string, snapshot bool) (*Route, error) {
	if strings.Count(path, ".") < 3 {
		return nil, errors.Invalidf(errors.ErrInvalidPath, "router", "NewRoute",
			"route %q does not contain enough levels", path)
	}
	if name == "" {
		name = naming.Generate("r_")
	}
	r := &Route{Name: name, To: to, Snapshot: snapshot}
	parts := strings.SplitN(path, ".", 5)
	r.Engine, r.Project, r.ContQuery, r.Window = parts[0], parts[1], parts[2], parts[3]
	if len(parts) == 5 {
		r.Type = parts[4]
	}
	return r, nil
}

// Path returns the route expression path; the type is omitted when unset
func (r *Route) Path() string {
	parts := []string{r.Engine, r.Project, r.ContQuery, r.Window}
	if r.Type != "" {
		parts = append(parts, r.Type)
	}
	return strings.Join(parts, ".")
}

func (r *Route) exprs() []string {
	return []string{r.Engine, r.Project, r.ContQuery, r.Window, r.Type}
}

// Element returns the <esp-route> definition
func (r *Route) Element() *xmltree.Element {
	out := xmltree.New("esp-route", "name", r.Name, "to", r.To, "snapshot", strconv.FormatBool(r.Snapshot))
	for i, v := range r.exprs() {
		if v != "" {
			out.Append(xmltree.NewText(routeExprs[i], v))
		}
	}
	return out
}

// Router is an <esp-router> definition
type Router struct {
	Name         string
	Engines      map[string]*Engine
	Destinations map[string]Destination
	Routes       map[string]*Route
}

// New creates an empty router. An empty name is generated.
func New(name string) *Router {
	if name == "" {
		name = naming.Generate("r_")
	}
	return &Router{
		Name:         name,
		Engines:      make(map[string]*Engine),
		Destinations: make(map[string]Destination),
		Routes:       make(map[string]*Route),
	}
}

// AddEngine registers an engine
func (r *Router) AddEngine(host string, port int, name string) *Engine {
	if name == "" {
		name = naming.Generate("eng_")
	}
	e := &Engine{Name: name, Host: host, Port: port}
	r.Engines[name] = e
	return e
}

// AddPublishDestination registers a publish destination
func (r *Router) AddPublishDestination(target, name string) (*PublishDestination, error) {
	d, err := NewPublishDestination(target, name)
	if err != nil {
		return nil, err
	}
	r.Destinations[d.Name] = d
	return d, nil
}

// AddWriterDestination registers a writer destination
func (r *Router) AddWriterDestination(fileFunc, format, name string) *WriterDestination {
	if name == "" {
		name = naming.Generate("wd_")
	}
	d := &WriterDestination{Name: name, FileFunc: fileFunc, Format: format, DateFormat: DefaultDateFormat}
	r.Destinations[name] = d
	return d
}

// AddRoute registers a route
func (r *Router) AddRoute(path, to, name string, snapshot bool) (*Route, error) {
	rt, err := NewRoute(path, to, name, snapshot)
	if err != nil {
		return nil, err
	}
	r.Routes[rt.Name] = rt
	return rt, nil
}

// Element returns the router definition, children sorted by name
func (r *Router) Element() *xmltree.Element {
	out := xmltree.New("esp-router", "name", r.Name)
	if len(r.Engines) > 0 {
		list := out.Add("esp-engines")
		for _, k := range sortedKeys(r.Engines) {
			list.Append(r.Engines[k].Element())
		}
	}
	if len(r.Destinations) > 0 {
		list := out.Add("esp-destinations")
		for _, k := range sortedKeys(r.Destinations) {
			list.Append(r.Destinations[k].Element())
		}
	}
	if len(r.Routes) > 0 {
		list := out.Add("esp-routes")
		for _, k := range sortedKeys(r.Routes) {
			list.Append(r.Routes[k].Element())
		}
	}
	return out
}

// XML serializes the router definition
func (r *Router) XML(pretty bool) string {
	if pretty {
		return r.Element().Indent()
	}
	return r.Element().String()
}

// FromElement reads a router from an <esp-router> element or a document
// containing one
func FromElement(e *xmltree.Element) (*Router, error) {
	e = e.FindSelfOrDescendant("esp-router")
	if e == nil {
		return nil, errors.Invalidf(errors.ErrInvalidData, "Router", "FromElement", "no router definition was found")
	}
	r := New(e.AttrOr("name", ""))

	for _, item := range e.FindAll("./esp-engines/esp-engine") {
		port, err := strconv.Atoi(item.AttrOr("port", "0"))
		if err != nil {
			return nil, errors.Invalidf(errors.ErrInvalidData, "Router", "FromElement",
				"engine %q has invalid port %q", item.AttrOr("name", ""), item.AttrOr("port", ""))
		}
		eng := r.AddEngine(item.AttrOr("host", ""), port, item.AttrOr("name", ""))
		eng.AuthToken = item.FindText("./auth_token")
		eng.AuthTokenURL = item.FindText("./auth_token_url")
	}

	for _, item := range e.FindAll("./esp-destinations/publish-destination") {
		d := &PublishDestination{
			Name:   item.AttrOr("name", ""),
			Opcode: item.AttrOr("opcode", ""),
			Target: Target{
				Engine:    item.FindText("./publish-target/engine-func"),
				Project:   item.FindText("./publish-target/project-func"),
				ContQuery: item.FindText("./publish-target/contquery-func"),
				Window:    item.FindText("./publish-target/window-func"),
			},
			FilterFunc:      item.FindText("./filter-func"),
			EventFieldsInit: make(map[string]string),
			EventFields:     make(map[string]string),
		}
		if d.Name == "" {
			d.Name = naming.Generate("pd_")
		}
		for _, v := range item.FindAll("./event-fields/init/value") {
			d.EventFieldsInit[v.AttrOr("name", naming.Generate("ei_"))] = v.Text
		}
		for _, v := range item.FindAll("./event-fields/fields/field") {
			d.EventFields[v.AttrOr("name", naming.Generate("ef_"))] = v.Text
		}
		r.Destinations[d.Name] = d
	}

	for _, item := range e.FindAll("./esp-destinations/writer-destination") {
		d := r.AddWriterDestination(item.FindText("./file-func"), item.AttrOr("format", ""), item.AttrOr("name", ""))
		d.DateFormat = item.AttrOr("dateformat", DefaultDateFormat)
	}

	for _, item := range e.FindAll("./esp-routes/esp-route") {
		rt := &Route{
			Name:      item.AttrOr("name", ""),
			To:        item.AttrOr("to", ""),
			Snapshot:  strings.HasPrefix(strings.ToLower(item.AttrOr("snapshot", "f")), "t"),
			Engine:    item.FindText("./engine-expr"),
			Project:   item.FindText("./project-expr"),
			ContQuery: item.FindText("./contquery-expr"),
			Window:    item.FindText("./window-expr"),
			Type:      item.FindText("./type-expr"),
		}
		if rt.Name == "" {
			rt.Name = naming.Generate("r_")
		}
		r.Routes[rt.Name] = rt
	}
	return r, nil
}

// Parse reads a router definition from XML
func Parse(data []byte) (*Router, error) {
	e, err := xmltree.Parse(data)
	if err != nil {
		return nil, err
	}
	return FromElement(e)
}

// ParseList reads the routers of a <routers> response, keyed by name
func ParseList(e *xmltree.Element) (map[string]*Router, error) {
	out := make(map[string]*Router)
	for _, item := range e.FindAll("./esp-router") {
		r, err := FromElement(item)
		if err != nil {
			return nil, err
		}
		out[r.Name] = r
	}
	return out, nil
}

var (
	intRe   = regexp.MustCompile(`^\d+$`)
	floatRe = regexp.MustCompile(`^[\d.]+$`)
)

// Stats maps route name to statistic name to value. Numeric-looking values
// are int64 or float64; others stay strings.
type Stats map[string]map[string]any

// ParseStats reads routerStats responses: a single <esp-router> or a list
// of them. The result is keyed by router name.
func ParseStats(e *xmltree.Element) map[string]Stats {
	routers := []*xmltree.Element{e}
	if e.Tag != "esp-router" {
		routers = e.FindAll("./esp-router")
	}
	out := make(map[string]Stats, len(routers))
	for _, r := range routers {
		stats := make(Stats)
		for _, route := range r.FindAll("./route") {
			values := make(map[string]any)
			for _, s := range route.FindAll("./stats/*") {
				values[s.Tag] = castNumeric(strings.TrimSpace(s.Text))
			}
			stats[route.AttrOr("name", "")] = values
		}
		out[r.AttrOr("name", "")] = stats
	}
	return out
}

func castNumeric(v string) any {
	switch {
	case intRe.MatchString(v):
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n
		}
	case floatRe.MatchString(v):
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return v
}

func sortedKeys[V any](m map[string]V) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
