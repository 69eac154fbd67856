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

var spaceRe = regexp.MustCompile(`\s+`)

var queryAttrs = xmltree.NewTable(xmltree.MustFields(
	"trace",
	"index"+indexValues,
	"timing-threshold:int",
	"include-singletons:bool",
)...)

// Windows is the owning collection of a query's windows. Windows keep the
// order they were added in.
type Windows struct {
	owner *ContinuousQuery
	ordered[*Window]
}

// Add attaches w to the query. A window of the same name is replaced in
// place and detached.
func (ws *Windows) Add(w *Window) *Window {
	if w.name == "" {
		w.name = naming.Generate("w_")
	}
	w.attach(ws.owner)
	if old, replaced := ws.put(w.name, w); replaced && old != w {
		old.attach(nil)
	}
	return w
}

// Get returns the named window
func (ws *Windows) Get(name string) (*Window, bool) {
	return ws.get(name)
}

// Len returns the number of windows
func (ws *Windows) Len() int {
	return ws.len()
}

// Names returns the window names in insertion order
func (ws *Windows) Names() []string {
	return ws.keys()
}

// All returns the windows in insertion order
func (ws *Windows) All() []*Window {
	return ws.values()
}

// Delete removes windows and every edge pointing at them
func (ws *Windows) Delete(names ...string) {
	for _, name := range names {
		w, ok := ws.remove(name)
		if !ok {
			continue
		}
		w.attach(nil)
		for _, other := range ws.values() {
			other.DeleteTargets(name)
		}
	}
}

// Rename moves a window to a new name and rewrites edges pointing at it
func (ws *Windows) Rename(oldName, newName string) error {
	w, ok := ws.get(oldName)
	if !ok {
		return errors.Invalidf(errors.ErrUnknownWindow, "Windows", "Rename", "no window named %q", oldName)
	}
	if newName == "" {
		return errors.Invalidf(errors.ErrInvalidValue, "Windows", "Rename", "empty window name")
	}
	if oldName == newName {
		return nil
	}
	if _, taken := ws.get(newName); taken {
		return errors.Invalidf(errors.ErrInvalidValue, "Windows", "Rename", "window %q already exists", newName)
	}
	ws.rename(oldName, newName)
	w.name = newName
	for _, other := range ws.values() {
		for _, t := range other.targets {
			if t.Name == oldName {
				t.Name = newName
			}
		}
	}
	return nil
}

// ContinuousQuery groups windows and the edges between them
type ContinuousQuery struct {
	name    string
	project *Project
	attrs   xmltree.Attrs
	windows *Windows

	Description string
	Metadata    map[string]string
}

// NewContinuousQuery creates a query. An empty name is generated.
func NewContinuousQuery(name string) *ContinuousQuery {
	if name == "" {
		name = naming.Generate("cq_")
	}
	q := &ContinuousQuery{name: name, attrs: queryAttrs.New(), Metadata: make(map[string]string)}
	q.windows = &Windows{owner: q}
	return q
}

// Name returns the query name
func (q *ContinuousQuery) Name() string {
	return q.name
}

// Rename changes the name, through the owning project when attached
func (q *ContinuousQuery) Rename(name string) error {
	if q.project != nil {
		return q.project.queries.Rename(q.name, name)
	}
	if name == "" {
		return errors.Invalidf(errors.ErrInvalidValue, "ContinuousQuery", "Rename", "empty query name")
	}
	q.name = name
	return nil
}

// Project returns the owning project name, or ""
func (q *ContinuousQuery) Project() string {
	if q.project == nil {
		return ""
	}
	return q.project.name
}

// FullName returns "project.query"
func (q *ContinuousQuery) FullName() string {
	return strings.ReplaceAll(JoinPath(q.Project(), q.name), "/", ".")
}

func (q *ContinuousQuery) attach(p *Project) {
	q.project = p
}

// Set assigns an XML attribute
func (q *ContinuousQuery) Set(attr string, v any) error {
	return q.attrs.Set(attr, v)
}

// Attr returns the user-facing value of an attribute
func (q *ContinuousQuery) Attr(attr string) string {
	return q.attrs.Value(attr)
}

// Windows returns the owning window collection
func (q *ContinuousQuery) Windows() *Windows {
	return q.windows
}

// Window returns the named window
func (q *ContinuousQuery) Window(name string) (*Window, bool) {
	return q.windows.Get(name)
}

// AddWindow attaches w and returns it
func (q *ContinuousQuery) AddWindow(w *Window) *Window {
	return q.windows.Add(w)
}

// AddWindows attaches several windows
func (q *ContinuousQuery) AddWindows(ws ...*Window) {
	for _, w := range ws {
		q.windows.Add(w)
	}
}

// RenameWindow renames a window and rewrites edges
func (q *ContinuousQuery) RenameWindow(oldName, newName string) error {
	return q.windows.Rename(oldName, newName)
}

// DeleteWindows removes windows and their incoming edges
func (q *ContinuousQuery) DeleteWindows(names ...string) {
	q.windows.Delete(names...)
}

// sources maps each window to the windows with an edge into it
func (q *ContinuousQuery) sources() map[string][]string {
	out := make(map[string][]string)
	for _, w := range q.windows.All() {
		for _, t := range w.targets {
			out[t.Name] = append(out[t.Name], w.name)
		}
	}
	return out
}

// Element returns the query definition. Fields typed "inherit" are resolved
// from the windows feeding them; an edge to a window outside the query or an
// inherited field with no source fails.
func (q *ContinuousQuery) Element() (*xmltree.Element, error) {
	out := xmltree.New("contquery", "name", q.name)
	q.attrs.Encode(out)

	if q.Description != "" {
		out.Append(xmltree.NewText("description", q.Description))
	}
	out.Append(metadataElement(q.Metadata))

	windows := out.Add("windows")
	if q.windows.Len() == 0 {
		windows.Append(MustNewWindow(KindSource, "").Element())
		return out, nil
	}

	type edge struct {
		index uint64
		el    *xmltree.Element
	}
	var edges []edge
	for _, w := range q.windows.All() {
		windows.Append(w.Element())
		for _, t := range w.targets {
			if _, ok := q.windows.Get(t.Name); !ok {
				return nil, errors.Invalidf(errors.ErrUnknownWindow, "ContinuousQuery", "Element",
					"window %q targets %q which is not in query %q", w.name, t.Name, q.name)
			}
			edges = append(edges, edge{t.index, xmltree.New("edge",
				"source", w.name, "target", t.Name, "role", t.Role, "slot", t.Slot)})
		}
	}
	if len(edges) > 0 {
		sort.Slice(edges, func(i, j int) bool { return edges[i].index < edges[j].index })
		list := out.Add("edges")
		for _, e := range edges {
			list.Append(e.el)
		}
	}

	if err := resolveInherited(windows, q.sources()); err != nil {
		return nil, errors.Wrap(err, "ContinuousQuery", "Element", "resolve inherited types in "+q.name)
	}
	return out, nil
}

type inheritedField struct {
	window string
	field  *xmltree.Element
}

func findInherited(windows *xmltree.Element) []inheritedField {
	var out []inheritedField
	for _, w := range windows.Children {
		for _, f := range w.FindAll("./schema/fields/field") {
			if f.AttrOr("type", "") == schema.Inherit {
				out = append(out, inheritedField{window: w.AttrOr("name", ""), field: f})
			}
		}
	}
	return out
}

// resolveInherited replaces "inherit" field types with the type of the same
// field in a source window, repeating until chains settle.
func resolveInherited(windows *xmltree.Element, sources map[string][]string) error {
	byName := make(map[string]*xmltree.Element, len(windows.Children))
	for _, w := range windows.Children {
		byName[w.AttrOr("name", "")] = w
	}

	remaining := -1
	for {
		pending := findInherited(windows)
		if len(pending) == remaining || len(pending) == 0 {
			break
		}
		remaining = len(pending)

		for _, p := range pending {
			fname := p.field.AttrOr("name", "")
			srcs := sources[p.window]
			if len(srcs) == 0 {
				return errors.Invalidf(errors.ErrUnknownWindow, "ContinuousQuery", "Element",
					"could not determine data type of field %q on window %q: no source window", fname, p.window)
			}
			for _, src := range srcs {
				for _, f := range byName[src].FindAll("./schema/fields/field") {
					if f.AttrOr("name", "") == fname && f.AttrOr("type", schema.Inherit) != schema.Inherit {
						p.field.SetAttr("type", f.AttrOr("type", ""))
					}
				}
			}
		}
	}
	return nil
}

// XML serializes the query definition
func (q *ContinuousQuery) XML(pretty bool) (string, error) {
	e, err := q.Element()
	if err != nil {
		return "", err
	}
	if pretty {
		return e.Indent(), nil
	}
	return e.String(), nil
}

// QueryFromElement reads a <contquery> definition
func QueryFromElement(e *xmltree.Element) (*ContinuousQuery, error) {
	q := NewContinuousQuery(e.AttrOr("name", ""))
	q.attrs = queryAttrs.Empty()
	if err := q.attrs.Decode(e, "name"); err != nil {
		return nil, errors.Wrap(err, "ContinuousQuery", "FromElement", "decode attributes of "+q.name)
	}
	q.Description = e.FindText("./description")
	q.Metadata = readMetadata(e)

	for _, item := range e.FindAll("./windows/*") {
		w, err := WindowFromElement(item)
		if err != nil {
			return nil, err
		}
		q.windows.Add(w)
	}

	for _, item := range e.FindAll("./edges/edge") {
		for _, target := range spaceRe.Split(strings.TrimSpace(item.AttrOr("target", "")), -1) {
			if target == "" {
				continue
			}
			for _, source := range spaceRe.Split(strings.TrimSpace(item.AttrOr("source", "")), -1) {
				if source == "" {
					continue
				}
				w, ok := q.windows.Get(source)
				if !ok {
					return nil, errors.Invalidf(errors.ErrUnknownWindow, "ContinuousQuery", "FromElement",
						"edge source %q is not a window of %q", source, q.name)
				}
				w.AddTarget(target, WithRole(item.AttrOr("role", "")), WithSlot(item.AttrOr("slot", "")))
			}
		}
	}
	return q, nil
}

// ParseQuery reads a query definition from XML
func ParseQuery(data []byte) (*ContinuousQuery, error) {
	e, err := xmltree.Parse(data)
	if err != nil {
		return nil, err
	}
	if e.Tag != "contquery" {
		e = e.FindSelfOrDescendant("contquery")
	}
	if e == nil {
		return nil, errors.Invalidf(errors.ErrInvalidData, "ContinuousQuery", "Parse", "no contquery element found")
	}
	return QueryFromElement(e)
}

func metadataElement(meta map[string]string) *xmltree.Element {
	if len(meta) == 0 {
		return nil
	}
	keys := make([]string, 0, len(meta))
	for k := range meta {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := xmltree.New("metadata")
	for _, k := range keys {
		out.Append(xmltree.NewText("meta", meta[k]).SetAttr("id", k))
	}
	return out
}

func readMetadata(e *xmltree.Element) map[string]string {
	out := make(map[string]string)
	for _, m := range e.FindAll("./metadata/meta") {
		if id, ok := m.Attr("id"); ok {
			out[id] = m.Text
		} else if name, ok := m.Attr("name"); ok {
			out[name] = m.Text
		}
	}
	return out
}
