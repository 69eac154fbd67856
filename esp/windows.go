package esp

import (
	"context"
	"sort"
	"strings"

	"github.com/c360/espclient/errors"
	"github.com/c360/espclient/events"
	"github.com/c360/espclient/model"
	"github.com/c360/espclient/rest"
	"github.com/c360/espclient/schema"
	"github.com/c360/espclient/stream"
	"github.com/c360/espclient/xmltree"
)

// RemoteWindow is a window definition read from the server together with
// the project and query it runs in
type RemoteWindow struct {
	*model.Window
	Project   string
	ContQuery string
}

// Path returns "project/query/window"
func (w RemoteWindow) Path() string {
	return model.JoinPath(w.Project, w.ContQuery, w.Name())
}

// FullName returns "project.query.window"
func (w RemoteWindow) FullName() string {
	return strings.ReplaceAll(w.Path(), "/", ".")
}

func remoteWindow(e *xmltree.Element) (RemoteWindow, error) {
	def := e.Clone()
	project := def.AttrOr("project", "")
	query := def.AttrOr("contquery", "")
	def.DelAttr("project")
	def.DelAttr("contquery")

	w, err := model.WindowFromElement(def)
	if err != nil {
		return RemoteWindow{}, err
	}
	return RemoteWindow{Window: w, Project: project, ContQuery: query}, nil
}

// EventQuery narrows the events returned for one window
type EventQuery struct {
	Filter string
	SortBy string // "field:ascending" or "field:descending"
	Limit  int
}

func (q EventQuery) params() *rest.Params {
	return rest.NewParams().
		SetNonEmpty("filter", q.Filter).
		SetNonEmpty("sortBy", q.SortBy).
		SetIf(q.Limit > 0, "limit", q.Limit)
}

// EventsQuery selects events across windows
type EventsQuery struct {
	WindowFilter string
	EventFilter  string
	SortBy       string
	Limit        int
}

func (q EventsQuery) params() *rest.Params {
	return rest.NewParams().
		SetNonEmpty("windowFilter", q.WindowFilter).
		SetNonEmpty("eventFilter", q.EventFilter).
		SetNonEmpty("sortBy", q.SortBy).
		SetIf(q.Limit > 0, "limit", q.Limit)
}

// Windows lists windows matching a dotted path, where "*" matches anything
// and "|" separates alternatives. Missing leading levels are wildcards. The
// result is keyed by "project.query.window".
func (c *Connection) Windows(ctx context.Context, path string, types []string, filter string) (map[string]RemoteWindow, error) {
	segs := model.PadPath(model.ExpandPath(path), 3)
	params := rest.NewParams()
	for i, key := range []string{"project", "contquery", "name"} {
		if !segs[i].Any() {
			params.Set(key, segs[i].String())
		}
	}
	params.SetIf(len(types) > 0, "type", types).SetNonEmpty("filter", filter)

	root, err := c.session.Get(ctx, "windowXml", params)
	if err != nil {
		return nil, errors.Wrap(err, "Connection", "Windows", "get windows")
	}

	out := make(map[string]RemoteWindow)
	for _, item := range root.FindAll("./*") {
		w, err := remoteWindow(item)
		if err != nil {
			return nil, err
		}
		out[w.FullName()] = w
	}
	return out, nil
}

// Window returns the single window matching path
func (c *Connection) Window(ctx context.Context, path string) (RemoteWindow, error) {
	found, err := c.Windows(ctx, path, nil, "")
	if err != nil {
		return RemoteWindow{}, err
	}
	switch len(found) {
	case 0:
		return RemoteWindow{}, errors.Invalidf(errors.ErrNotFound, "Connection", "Window", "no window with the path %q", path)
	case 1:
		for _, w := range found {
			return w, nil
		}
	}
	names := make([]string, 0, len(found))
	for name := range found {
		names = append(names, name)
	}
	sort.Strings(names)
	return RemoteWindow{}, errors.Invalidf(errors.ErrAmbiguous, "Connection", "Window",
		"more than one window with the path %q exists: %s", path, strings.Join(names, ", "))
}

// WindowSchema fetches the schema of a window. It implements
// events.SchemaResolver.
func (c *Connection) WindowSchema(ctx context.Context, window string) (*schema.Schema, error) {
	path, err := stream.WindowPath(window)
	if err != nil {
		return nil, err
	}
	root, err := c.session.Get(ctx, "windows/"+path, rest.NewParams().Set("schema", true))
	if err != nil {
		return nil, errors.Wrap(err, "Connection", "WindowSchema", "get schema of "+path)
	}
	for _, item := range root.FindAll("./*") {
		w, err := model.WindowFromElement(item)
		if err != nil {
			return nil, err
		}
		if s := w.Schema(); s != nil {
			return s, nil
		}
	}
	return nil, errors.Invalidf(errors.ErrUnknownWindow, "Connection", "WindowSchema", "no schema for window %s", path)
}

// VerifyWindow reports whether a window exists. It implements
// stream.WindowVerifier.
func (c *Connection) VerifyWindow(ctx context.Context, window string) (bool, error) {
	path, err := stream.WindowPath(window)
	if err != nil {
		return false, err
	}
	if _, err := c.session.Get(ctx, "windows/"+path, nil); err != nil {
		if errors.IsNotFound(err) {
			return false, nil
		}
		return false, errors.Wrap(err, "Connection", "VerifyWindow", "get window "+path)
	}
	return true, nil
}

// WindowEvents returns the current events of one window. An empty window
// yields an empty table shaped by its schema.
func (c *Connection) WindowEvents(ctx context.Context, window string, q EventQuery) (*events.Table, error) {
	return c.windowEvents(ctx, "WindowEvents", "events/", window, q.params())
}

// WindowPatternEvents returns the events held in open patterns of one window
func (c *Connection) WindowPatternEvents(ctx context.Context, window, sortBy string, limit int) (*events.Table, error) {
	params := rest.NewParams().SetNonEmpty("sortBy", sortBy).SetIf(limit > 0, "limit", limit)
	return c.windowEvents(ctx, "WindowPatternEvents", "patternEvents/", window, params)
}

func (c *Connection) windowEvents(ctx context.Context, method, prefix, window string, params *rest.Params) (*events.Table, error) {
	path, err := stream.WindowPath(window)
	if err != nil {
		return nil, err
	}
	data, err := c.session.GetRaw(ctx, prefix+path+"/", params)
	if err != nil {
		return nil, errors.Wrap(err, "Connection", method, "get events of "+path)
	}
	return events.ParseSingle(ctx, data, events.Options{
		Format:   events.FormatXML,
		Window:   strings.ReplaceAll(path, "/", "."),
		Resolver: c,
	})
}

// Events returns events across windows, keyed by "project.query.window"
func (c *Connection) Events(ctx context.Context, q EventsQuery) (map[string]*events.Table, error) {
	return c.allEvents(ctx, "Events", "events", q)
}

// PatternEvents returns the events held in open patterns across windows
func (c *Connection) PatternEvents(ctx context.Context, q EventsQuery) (map[string]*events.Table, error) {
	return c.allEvents(ctx, "PatternEvents", "patternEvents", q)
}

func (c *Connection) allEvents(ctx context.Context, method, path string, q EventsQuery) (map[string]*events.Table, error) {
	data, err := c.session.GetRaw(ctx, path, q.params())
	if err != nil {
		return nil, errors.Wrap(err, "Connection", method, "get "+path)
	}
	return events.Parse(ctx, data, events.Options{Format: events.FormatXML, Resolver: c})
}

// EnableTracing turns on console tracing for a window
func (c *Connection) EnableTracing(ctx context.Context, window string) error {
	return c.windowState(ctx, "EnableTracing", window, "tracingOn")
}

// DisableTracing turns off console tracing for a window
func (c *Connection) DisableTracing(ctx context.Context, window string) error {
	return c.windowState(ctx, "DisableTracing", window, "tracingOff")
}

func (c *Connection) windowState(ctx context.Context, method, window, value string) error {
	path, err := stream.WindowPath(window)
	if err != nil {
		return err
	}
	return c.setState(ctx, method, "windows/"+path, rest.NewParams().Set("value", value), nil)
}

// NewSubscriber creates a subscriber for a window using the connection's
// subscriber defaults. The window is verified when the subscriber starts.
func (c *Connection) NewSubscriber(window string, opts ...stream.SubscriberOption) (*stream.Subscriber, error) {
	all := append([]stream.SubscriberOption{
		stream.WithSubscriberDefaults(c.subscriber),
		stream.WithVerifier(c),
	}, opts...)
	return stream.NewSubscriber(c.session, window, all...)
}

// NewPublisher creates a publisher for a window using the connection's
// publisher defaults. The window is verified on Connect.
func (c *Connection) NewPublisher(window string, opts ...stream.PublisherOption) (*stream.Publisher, error) {
	all := append([]stream.PublisherOption{
		stream.WithPublisherDefaults(c.publisher),
		stream.WithPublisherVerifier(c),
	}, opts...)
	return stream.NewPublisher(c.session, window, all...)
}

// PublishEvents sends data to a window through a short-lived publisher. The
// format is detected from the data.
func (c *Connection) PublishEvents(ctx context.Context, window string, data []byte, opts ...stream.PublisherOption) error {
	all := append([]stream.PublisherOption{stream.WithPublishFormat(events.DetectFormat(data))}, opts...)
	pub, err := c.NewPublisher(window, all...)
	if err != nil {
		return err
	}
	if err := pub.Connect(ctx); err != nil {
		return err
	}
	sendErr := pub.Send(ctx, data)
	closeErr := pub.Close()
	if sendErr != nil {
		return sendErr
	}
	return closeErr
}

// Collect starts a collector on a window. It keeps the last limit rows and
// stops at the horizon.
func (c *Connection) Collect(ctx context.Context, window string, limit int, horizon stream.Horizon, opts ...stream.SubscriberOption) (*stream.Collector, error) {
	all := append([]stream.SubscriberOption{
		stream.WithSubscriberDefaults(c.subscriber),
		stream.WithVerifier(c),
		stream.WithMode(stream.ModeStreaming),
	}, opts...)
	col, err := stream.NewCollector(c.session, window, limit, horizon, all...)
	if err != nil {
		return nil, err
	}
	if err := col.Start(ctx); err != nil {
		return nil, err
	}
	return col, nil
}

// ProjectStats opens the project statistics feed
func (c *Connection) ProjectStats(ctx context.Context, opts ...stream.StatsOption) (*stream.ProjectStats, error) {
	ps := stream.NewProjectStats(c.session, opts...)
	if err := ps.Start(ctx); err != nil {
		return nil, err
	}
	return ps, nil
}
