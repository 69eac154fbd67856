package model

import (
	"regexp"
	"sort"
	"strings"

	"github.com/c360/espclient/errors"
	"github.com/c360/espclient/pkg/naming"
	"github.com/c360/espclient/schema"
	"github.com/c360/espclient/xmltree"
)

var mapTypeRe = regexp.MustCompile(`\s*,\s*`)

// Retention bounds the events a window keeps
type Retention struct {
	Type  string // bytime_jumping, bytime_jumping_lookback, bytime_sliding, bycount_jumping, bycount_sliding
	Value string
	Field string
	Unit  string
}

var retentionTypes = map[string]bool{
	"bytime_jumping":          true,
	"bytime_jumping_lookback": true,
	"bytime_sliding":          true,
	"bycount_jumping":         true,
	"bycount_sliding":         true,
}

// Element returns the <retention> definition
func (r *Retention) Element() *xmltree.Element {
	out := xmltree.New("retention", "type", r.Type, "field", r.Field, "unit", r.Unit)
	out.Text = r.Value
	return out
}

// Window is one node of a continuous query
type Window struct {
	kind  string
	name  string
	query *ContinuousQuery
	attrs xmltree.Attrs

	Description string
	// Extra holds child elements without a typed representation, such as
	// join conditions or compute output expressions. They are written back
	// verbatim.
	Extra []*xmltree.Element

	schema     *schema.Schema
	retention  *Retention
	expression string
	connectors []*Connector
	parameters map[string]string
	inputMap   map[string]string
	outputMap  map[string]string
	targets    []*Target
}

// NewWindow creates a window of the given kind. An empty name is generated.
func NewWindow(kind, name string) (*Window, error) {
	k, ok := windowKinds[kind]
	if !ok {
		return nil, errors.Invalidf(errors.ErrInvalidValue, "Window", "NewWindow", "unknown window kind %q", kind)
	}
	if name == "" {
		name = naming.Generate("w_")
	}
	w := &Window{kind: kind, name: name, attrs: k.attrs.New()}
	if k.features&FeatureSchema != 0 {
		w.schema = schema.New()
	}
	return w, nil
}

// MustNewWindow is NewWindow for kinds known to exist
func MustNewWindow(kind, name string) *Window {
	w, err := NewWindow(kind, name)
	if err != nil {
		panic(err)
	}
	return w
}

// Kind returns the window kind, e.g. "source"
func (w *Window) Kind() string {
	return w.kind
}

// Tag returns the XML element name
func (w *Window) Tag() string {
	return "window-" + w.kind
}

// Name returns the window name
func (w *Window) Name() string {
	return w.name
}

// Rename changes the name. Attached windows are renamed through their query
// so edges follow.
func (w *Window) Rename(name string) error {
	if w.query != nil {
		return w.query.windows.Rename(w.name, name)
	}
	if name == "" {
		return errors.Invalidf(errors.ErrInvalidValue, "Window", "Rename", "empty window name")
	}
	w.name = name
	return nil
}

// Query returns the name of the owning query, or ""
func (w *Window) Query() string {
	if w.query == nil {
		return ""
	}
	return w.query.name
}

// Project returns the name of the owning project, or ""
func (w *Window) Project() string {
	if w.query == nil {
		return ""
	}
	return w.query.Project()
}

// FullName returns "project.query.window" for attached windows
func (w *Window) FullName() string {
	return strings.ReplaceAll(w.Path(), "/", ".")
}

// Path returns "project/query/window", the form used in REST URLs
func (w *Window) Path() string {
	return JoinPath(w.Project(), w.Query(), w.name)
}

func (w *Window) attach(q *ContinuousQuery) {
	w.query = q
}

// Supports reports whether the window kind has feature f
func (w *Window) Supports(f Feature) bool {
	return windowKinds[w.kind].features&f != 0
}

func (w *Window) requireFeature(f Feature, method, what string) error {
	if !w.Supports(f) {
		return errors.Invalidf(errors.ErrInvalidValue, "Window", method, "%s windows do not support %s", w.kind, what)
	}
	return nil
}

// Set assigns an XML attribute by wire or underscore name. A nil value
// removes it.
func (w *Window) Set(attr string, v any) error {
	return w.attrs.Set(attr, v)
}

// Attr returns the user-facing value of an attribute
func (w *Window) Attr(attr string) string {
	return w.attrs.Value(attr)
}

// Schema returns the window schema, or nil when the kind has none
func (w *Window) Schema() *schema.Schema {
	return w.schema
}

// SetSchema replaces the schema
func (w *Window) SetSchema(s *schema.Schema) error {
	if err := w.requireFeature(FeatureSchema, "SetSchema", "a schema"); err != nil {
		return err
	}
	if s == nil {
		s = schema.New()
	}
	w.schema = s
	return nil
}

// SetSchemaString parses and sets a schema such as "id*:int64,value:double"
func (w *Window) SetSchemaString(s string) error {
	parsed, err := schema.Parse(s)
	if err != nil {
		return err
	}
	return w.SetSchema(parsed)
}

// Retention returns the retention policy, or nil
func (w *Window) Retention() *Retention {
	return w.retention
}

// SetRetention sets the retention policy
func (w *Window) SetRetention(typ, value string, opts ...string) error {
	if err := w.requireFeature(FeatureRetention, "SetRetention", "retention"); err != nil {
		return err
	}
	if !retentionTypes[typ] {
		return errors.Invalidf(errors.ErrInvalidValue, "Window", "SetRetention", "unknown retention type %q", typ)
	}
	r := &Retention{Type: typ, Value: value}
	if len(opts) > 0 {
		r.Field = opts[0]
	}
	if len(opts) > 1 {
		r.Unit = opts[1]
	}
	w.retention = r
	return nil
}

// Expression returns the filter expression
func (w *Window) Expression() string {
	return w.expression
}

// SetExpression sets the filter expression
func (w *Window) SetExpression(expr string) error {
	if err := w.requireFeature(FeatureExpression, "SetExpression", "expressions"); err != nil {
		return err
	}
	w.expression = expr
	return nil
}

// Connectors returns the window connectors
func (w *Window) Connectors() []*Connector {
	return w.connectors
}

// AddConnector appends a connector
func (w *Window) AddConnector(c *Connector) error {
	if err := w.requireFeature(FeatureConnectors, "AddConnector", "connectors"); err != nil {
		return err
	}
	w.connectors = append(w.connectors, c)
	return nil
}

// Parameters returns the algorithm parameters
func (w *Window) Parameters() map[string]string {
	return w.parameters
}

// SetParameter sets an algorithm parameter. An empty value removes it.
func (w *Window) SetParameter(name, value string) error {
	if err := w.requireFeature(FeatureParameters, "SetParameter", "parameters"); err != nil {
		return err
	}
	w.parameters = setMapEntry(w.parameters, strings.TrimSuffix(name, "_"), value)
	return nil
}

// InputMap returns the input map
func (w *Window) InputMap() map[string]string {
	return w.inputMap
}

// SetInput maps an algorithm input to window fields
func (w *Window) SetInput(name, value string) error {
	if err := w.requireFeature(FeatureInputMap, "SetInput", "input maps"); err != nil {
		return err
	}
	w.inputMap = setMapEntry(w.inputMap, name, value)
	return nil
}

// OutputMap returns the output map
func (w *Window) OutputMap() map[string]string {
	return w.outputMap
}

// SetOutput maps an algorithm output to window fields
func (w *Window) SetOutput(name, value string) error {
	if err := w.requireFeature(FeatureOutputMap, "SetOutput", "output maps"); err != nil {
		return err
	}
	w.outputMap = setMapEntry(w.outputMap, name, value)
	return nil
}

func setMapEntry(m map[string]string, k, v string) map[string]string {
	if v == "" {
		delete(m, k)
		return m
	}
	if m == nil {
		m = make(map[string]string)
	}
	m[k] = v
	return m
}

// AddTarget adds an edge to the named window, replacing an existing edge to
// it. Dotted names keep only the last segment.
func (w *Window) AddTarget(name string, opts ...TargetOption) *Window {
	if i := strings.LastIndexAny(name, "./"); i >= 0 {
		name = name[i+1:]
	}
	w.DeleteTargets(name)
	t := newTarget(name, "", "")
	for _, opt := range opts {
		opt(t)
	}
	w.targets = append(w.targets, t)
	return w
}

// Link adds an edge to another window
func (w *Window) Link(to *Window, opts ...TargetOption) *Window {
	return w.AddTarget(to.name, opts...)
}

// DeleteTargets removes edges to the named windows
func (w *Window) DeleteTargets(names ...string) *Window {
	drop := make(map[string]bool, len(names))
	for _, n := range names {
		drop[n] = true
	}
	kept := w.targets[:0]
	for _, t := range w.targets {
		if !drop[t.Name] {
			kept = append(kept, t)
		}
	}
	w.targets = kept
	return w
}

// Targets returns the edges leaving the window in creation order
func (w *Window) Targets() []*Target {
	out := append([]*Target(nil), w.targets...)
	sort.Slice(out, func(i, j int) bool { return out[i].index < out[j].index })
	return out
}

// Copy returns a detached deep copy
func (w *Window) Copy() *Window {
	out := &Window{
		kind:        w.kind,
		name:        w.name,
		attrs:       w.attrs.Clone(),
		Description: w.Description,
		expression:  w.expression,
		parameters:  copyMap(w.parameters),
		inputMap:    copyMap(w.inputMap),
		outputMap:   copyMap(w.outputMap),
	}
	if w.schema != nil {
		out.schema = w.schema.Copy()
	}
	if w.retention != nil {
		r := *w.retention
		out.retention = &r
	}
	for _, c := range w.connectors {
		out.connectors = append(out.connectors, c.Copy())
	}
	for _, e := range w.Extra {
		out.Extra = append(out.Extra, e.Clone())
	}
	for _, t := range w.targets {
		cp := *t
		out.targets = append(out.targets, &cp)
	}
	return out
}

func copyMap(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// stripMapTypes drops ":type" and key markers from "a:double,b*:int64"
func stripMapTypes(v string) string {
	parts := mapTypeRe.Split(strings.TrimSpace(v), -1)
	for i, p := range parts {
		name, _, _ := strings.Cut(p, ":")
		parts[i] = strings.ReplaceAll(name, "*", "")
	}
	return strings.Join(parts, ",")
}

func propertiesElement(tag string, props map[string]string, strip bool) *xmltree.Element {
	if len(props) == 0 {
		return nil
	}
	keys := make([]string, 0, len(props))
	for k := range props {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := xmltree.New(tag)
	list := out.Add("properties")
	for _, k := range keys {
		v := props[k]
		if strip {
			v = stripMapTypes(v)
		}
		list.Append(xmltree.NewText("property", v).SetAttr("name", k))
	}
	return out
}

func readProperties(e *xmltree.Element) map[string]string {
	out := make(map[string]string)
	for _, p := range e.FindAll("./properties/property") {
		if name, ok := p.Attr("name"); ok {
			out[name] = p.Text
		}
	}
	return out
}

// Element returns the window definition
func (w *Window) Element() *xmltree.Element {
	out := xmltree.New(w.Tag(), "name", w.name)
	w.attrs.Encode(out)

	if w.Description != "" {
		out.Append(xmltree.NewText("description", w.Description))
	}
	if w.schema != nil && (w.schema.Len() > 0 || w.schema.CopyWindow != "") {
		out.Append(w.schema.Element())
	}
	if w.retention != nil {
		out.Append(w.retention.Element())
	}
	if w.expression != "" {
		out.Append(xmltree.NewCDATA("expression", w.expression))
	}
	out.Append(
		propertiesElement("parameters", w.parameters, false),
		propertiesElement("input-map", w.inputMap, true),
		propertiesElement("output-map", w.outputMap, true),
	)
	for _, e := range w.Extra {
		out.Append(e.Clone())
	}
	if len(w.connectors) > 0 {
		conns := out.Add("connectors")
		for _, c := range w.connectors {
			conns.Append(c.Element())
		}
	}
	return out
}

// XML serializes the window definition
func (w *Window) XML(pretty bool) string {
	if pretty {
		return w.Element().Indent()
	}
	return w.Element().String()
}

// WindowFromElement reads a window definition. Children the kind does not
// model are kept in Extra.
func WindowFromElement(e *xmltree.Element) (*Window, error) {
	kind, ok := KindFromTag(e.Tag)
	if !ok {
		return nil, errors.Invalidf(errors.ErrInvalidData, "Window", "FromElement", "unknown window type %q", e.Tag)
	}
	w, err := NewWindow(kind, e.AttrOr("name", ""))
	if err != nil {
		return nil, err
	}
	w.attrs = windowKinds[kind].attrs.Empty()
	if err := w.attrs.Decode(e, "name"); err != nil {
		return nil, errors.Wrap(err, "Window", "FromElement", "decode attributes of "+w.name)
	}

	for _, c := range e.Children {
		switch {
		case c.Tag == "description":
			w.Description = c.TrimmedText()
		case c.Tag == "schema" && w.Supports(FeatureSchema):
			w.schema = schema.FromElement(c)
		case c.Tag == "schema-string" && w.Supports(FeatureSchema):
			s, err := schema.FromSchemaString(c)
			if err != nil {
				return nil, err
			}
			w.schema = s
		case c.Tag == "retention" && w.Supports(FeatureRetention):
			w.retention = &Retention{
				Type:  c.AttrOr("type", ""),
				Value: c.TrimmedText(),
				Field: c.AttrOr("field", ""),
				Unit:  c.AttrOr("unit", ""),
			}
		case c.Tag == "expression" && w.Supports(FeatureExpression):
			w.expression = c.TrimmedText()
		case c.Tag == "parameters" && w.Supports(FeatureParameters):
			w.parameters = readProperties(c)
		case c.Tag == "input-map" && w.Supports(FeatureInputMap):
			w.inputMap = readProperties(c)
		case c.Tag == "output-map" && w.Supports(FeatureOutputMap):
			w.outputMap = readProperties(c)
		case c.Tag == "connectors" && w.Supports(FeatureConnectors):
			for _, item := range c.FindAll("./connector") {
				conn, err := ConnectorFromElement(item)
				if err != nil {
					return nil, err
				}
				w.connectors = append(w.connectors, conn)
			}
		default:
			w.Extra = append(w.Extra, c.Clone())
		}
	}
	return w, nil
}

// ParseWindow reads a window definition from XML
func ParseWindow(data []byte) (*Window, error) {
	e, err := xmltree.Parse(data)
	if err != nil {
		return nil, err
	}
	return WindowFromElement(e)
}
