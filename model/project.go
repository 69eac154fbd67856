package model

import (
	"regexp"
	"sort"
	"strings"

	"github.com/c360/espclient/errors"
	"github.com/c360/espclient/mas"
	"github.com/c360/espclient/pkg/naming"
	"github.com/c360/espclient/xmltree"
)

var commaRe = regexp.MustCompile(`\s*,\s*`)

var projectAttrs = xmltree.NewTable(xmltree.MustFields(
	"threads:int=1",
	"pubsub:enum:none|auto|manual=auto",
	"port:int",
	"index"+indexValues,
	"use-tagged-token:bool",
	"retention-tracking:bool",
	"restore",
	"disk-store-path",
	"heartbeat-interval:int",
	"compress-open-patterns:bool",
)...)

// Connector states used in connector groups
const (
	StateFinished = "finished"
	StateRunning  = "running"
	StateStopped  = "stopped"
)

// ConnectorEntry names a connector and the state its group waits for
type ConnectorEntry struct {
	Connector string
	State     string
}

// ConnectorGroup orders connector start-up across a project
type ConnectorGroup struct {
	Name        string
	Description string
	Entries     []ConnectorEntry
}

// Add sets the awaited state of a connector, keeping entry order
func (g *ConnectorGroup) Add(connector, state string) {
	for i := range g.Entries {
		if g.Entries[i].Connector == connector {
			g.Entries[i].State = state
			return
		}
	}
	g.Entries = append(g.Entries, ConnectorEntry{Connector: connector, State: state})
}

// Element returns the <connector-group> definition
func (g *ConnectorGroup) Element() *xmltree.Element {
	out := xmltree.New("connector-group", "name", g.Name)
	if g.Description != "" {
		out.Append(xmltree.NewText("description", g.Description))
	}
	for _, e := range g.Entries {
		out.Add("connector-entry", "connector", e.Connector, "state", e.State)
	}
	return out
}

// Edge orders connector groups: targets start after source
type Edge struct {
	Source  string
	Targets []string
}

// Element returns the <edge> definition
func (e Edge) Element() *xmltree.Element {
	return xmltree.New("edge", "source", e.Source, "target", strings.Join(e.Targets, ","))
}

// DSInitialize configures the SAS environment of DS2 code
type DSInitialize struct {
	SASLogLocation   string
	SASConnectionKey string
	SASCommand       string
}

// Queries is the owning collection of a project's continuous queries
type Queries struct {
	owner *Project
	ordered[*ContinuousQuery]
}

// Add attaches q to the project. A query of the same name is replaced in
// place and detached.
func (qs *Queries) Add(q *ContinuousQuery) *ContinuousQuery {
	q.attach(qs.owner)
	if old, replaced := qs.put(q.name, q); replaced && old != q {
		old.attach(nil)
	}
	return q
}

// Get returns the named query
func (qs *Queries) Get(name string) (*ContinuousQuery, bool) {
	return qs.get(name)
}

// Len returns the number of queries
func (qs *Queries) Len() int {
	return qs.len()
}

// Names returns the query names in insertion order
func (qs *Queries) Names() []string {
	return qs.keys()
}

// All returns the queries in insertion order
func (qs *Queries) All() []*ContinuousQuery {
	return qs.values()
}

// Delete removes queries
func (qs *Queries) Delete(names ...string) {
	for _, name := range names {
		if q, ok := qs.remove(name); ok {
			q.attach(nil)
		}
	}
}

// Rename moves a query to a new name
func (qs *Queries) Rename(oldName, newName string) error {
	q, ok := qs.get(oldName)
	if !ok {
		return errors.Invalidf(errors.ErrNotFound, "Queries", "Rename", "no query named %q", oldName)
	}
	if newName == "" {
		return errors.Invalidf(errors.ErrInvalidValue, "Queries", "Rename", "empty query name")
	}
	if newName == oldName {
		return nil
	}
	if _, taken := qs.get(newName); taken {
		return errors.Invalidf(errors.ErrInvalidValue, "Queries", "Rename", "query %q already exists", newName)
	}
	qs.rename(oldName, newName)
	q.name = newName
	return nil
}

// Project is the unit of deployment on an ESP server
type Project struct {
	name    string
	attrs   xmltree.Attrs
	queries *Queries

	Description     string
	Metadata        map[string]string
	Properties      map[string]string
	DSInitialize    *DSInitialize
	MASModules      []*mas.Module
	ConnectorGroups map[string]*ConnectorGroup
	Edges           []Edge
}

// NewProject creates a project with one thread and automatic pubsub. An
// empty name is generated.
func NewProject(name string) *Project {
	if name == "" {
		name = naming.Generate("p_")
	}
	p := &Project{
		name:            name,
		attrs:           projectAttrs.New(),
		Metadata:        make(map[string]string),
		Properties:      make(map[string]string),
		ConnectorGroups: make(map[string]*ConnectorGroup),
	}
	p.queries = &Queries{owner: p}
	return p
}

// Name returns the project name
func (p *Project) Name() string {
	return p.name
}

// SetName renames the project
func (p *Project) SetName(name string) error {
	if name == "" {
		return errors.Invalidf(errors.ErrInvalidValue, "Project", "SetName", "empty project name")
	}
	p.name = name
	return nil
}

// Set assigns an XML attribute, e.g. Set("threads", 4) or Set("index", "hash")
func (p *Project) Set(attr string, v any) error {
	return p.attrs.Set(attr, v)
}

// Attr returns the user-facing value of an attribute
func (p *Project) Attr(attr string) string {
	return p.attrs.Value(attr)
}

// Queries returns the owning query collection
func (p *Project) Queries() *Queries {
	return p.queries
}

// Query returns the named query
func (p *Project) Query(name string) (*ContinuousQuery, bool) {
	return p.queries.Get(name)
}

// AddQuery attaches q and returns it
func (p *Project) AddQuery(q *ContinuousQuery) *ContinuousQuery {
	return p.queries.Add(q)
}

// Windows returns every window keyed by "query.window"
func (p *Project) Windows() map[string]*Window {
	out := make(map[string]*Window)
	for _, q := range p.queries.All() {
		for _, w := range q.windows.All() {
			out[q.name+"."+w.name] = w
		}
	}
	return out
}

// Window finds a window by "query.window" or by a name unique in the project
func (p *Project) Window(name string) (*Window, error) {
	if qname, wname, ok := strings.Cut(name, "."); ok {
		if q, ok := p.queries.Get(qname); ok {
			if w, ok := q.windows.Get(wname); ok {
				return w, nil
			}
		}
		return nil, errors.Invalidf(errors.ErrUnknownWindow, "Project", "Window", "no window %q in project %q", name, p.name)
	}

	var found []*Window
	for _, q := range p.queries.All() {
		if w, ok := q.windows.Get(name); ok {
			found = append(found, w)
		}
	}
	switch len(found) {
	case 0:
		return nil, errors.Invalidf(errors.ErrUnknownWindow, "Project", "Window", "no window %q in project %q", name, p.name)
	case 1:
		return found[0], nil
	default:
		return nil, errors.Invalidf(errors.ErrAmbiguous, "Project", "Window", "window %q exists in %d queries", name, len(found))
	}
}

// AddConnectors adds entries to a connector group, creating the group
func (p *Project) AddConnectors(group, description string, entries ...ConnectorEntry) *ConnectorGroup {
	g, ok := p.ConnectorGroups[group]
	if !ok {
		g = &ConnectorGroup{Name: group, Description: description}
		p.ConnectorGroups[group] = g
	}
	for _, e := range entries {
		g.Add(e.Connector, e.State)
	}
	return g
}

// AddEdge orders connector groups
func (p *Project) AddEdge(source string, targets ...string) {
	p.Edges = append(p.Edges, Edge{Source: source, Targets: targets})
}

// AddMASModule appends a MAS module
func (p *Project) AddMASModule(m *mas.Module) {
	m.Project = p.name
	p.MASModules = append(p.MASModules, m)
}

// ProjectElement returns the <project> element itself
func (p *Project) ProjectElement() (*xmltree.Element, error) {
	proj := xmltree.New("project", "name", p.name)
	p.attrs.Encode(proj)

	if p.Description != "" {
		proj.Append(xmltree.NewText("description", p.Description))
	}
	proj.Append(metadataElement(p.Metadata))

	if len(p.Properties) > 0 {
		keys := make([]string, 0, len(p.Properties))
		for k := range p.Properties {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		props := proj.Add("properties")
		for _, k := range keys {
			props.Append(xmltree.NewCDATA("property", p.Properties[k]).SetAttr("name", k))
		}
	}

	if d := p.DSInitialize; d != nil && (d.SASLogLocation != "" || d.SASConnectionKey != "" || d.SASCommand != "") {
		proj.Add("ds-initialize",
			"sas-log-location", d.SASLogLocation,
			"sas-connection-key", d.SASConnectionKey,
			"sas-command", d.SASCommand)
	}

	if len(p.MASModules) > 0 {
		mods := proj.Add("mas-modules")
		for _, m := range p.MASModules {
			mods.Append(m.Element())
		}
	}

	queries := proj.Add("contqueries")
	for _, q := range p.queries.All() {
		e, err := q.Element()
		if err != nil {
			return nil, err
		}
		queries.Append(e)
	}

	if len(p.ConnectorGroups) > 0 || len(p.Edges) > 0 {
		conns := proj.Add("project-connectors")
		if len(p.ConnectorGroups) > 0 {
			names := make([]string, 0, len(p.ConnectorGroups))
			for name := range p.ConnectorGroups {
				names = append(names, name)
			}
			sort.Strings(names)
			groups := conns.Add("connector-groups")
			for _, name := range names {
				groups.Append(p.ConnectorGroups[name].Element())
			}
		}
		if len(p.Edges) > 0 {
			edges := conns.Add("edges")
			for _, e := range p.Edges {
				edges.Append(e.Element())
			}
		}
	}
	return proj, nil
}

// Element returns the project wrapped in <engine><projects>, the form the
// server loads
func (p *Project) Element() (*xmltree.Element, error) {
	proj, err := p.ProjectElement()
	if err != nil {
		return nil, err
	}
	engine := xmltree.New("engine")
	engine.Add("projects").Append(proj)
	return engine, nil
}

// XML serializes the project definition
func (p *Project) XML(pretty bool) (string, error) {
	e, err := p.Element()
	if err != nil {
		return "", err
	}
	if pretty {
		return e.Indent(), nil
	}
	return e.String(), nil
}

// ProjectFromElement reads a project from a <project> element or any
// document containing one
func ProjectFromElement(e *xmltree.Element) (*Project, error) {
	e = e.FindSelfOrDescendant("project")
	if e == nil {
		return nil, errors.Invalidf(errors.ErrInvalidData, "Project", "FromElement", "no project found in input")
	}

	p := NewProject(e.AttrOr("name", ""))
	p.attrs = projectAttrs.Empty()
	if err := p.attrs.Decode(e, "name"); err != nil {
		return nil, errors.Wrap(err, "Project", "FromElement", "decode attributes of "+p.name)
	}
	p.Description = e.FindText("./description")
	p.Metadata = readMetadata(e)
	for _, item := range e.FindAll("./properties/property") {
		if name, ok := item.Attr("name"); ok {
			p.Properties[name] = item.Text
		}
	}

	if ds := e.Find("./ds-initialize"); ds != nil {
		p.DSInitialize = &DSInitialize{
			SASLogLocation:   ds.AttrOr("sas-log-location", ""),
			SASConnectionKey: ds.AttrOr("sas-connection-key", ""),
			SASCommand:       ds.AttrOr("sas-command", ""),
		}
	}

	for _, item := range e.FindAll("./mas-modules/mas-module") {
		m, err := mas.FromElement(item)
		if err != nil {
			return nil, err
		}
		p.AddMASModule(m)
	}

	for _, item := range e.FindAll("./project-connectors/connector-groups/connector-group") {
		g := &ConnectorGroup{Name: item.AttrOr("name", ""), Description: item.FindText("./description")}
		for _, entry := range item.FindAll("./connector-entry") {
			g.Add(entry.AttrOr("connector", ""), entry.AttrOr("state", ""))
		}
		p.ConnectorGroups[g.Name] = g
	}
	for _, item := range e.FindAll("./project-connectors/edges/edge") {
		p.AddEdge(item.AttrOr("source", ""), commaRe.Split(strings.TrimSpace(item.AttrOr("target", "")), -1)...)
	}

	for _, item := range e.FindAll(".//contquery") {
		q, err := QueryFromElement(item)
		if err != nil {
			return nil, err
		}
		p.queries.Add(q)
	}
	return p, nil
}

// ParseProject reads a project definition from XML
func ParseProject(data []byte) (*Project, error) {
	e, err := xmltree.Parse(data)
	if err != nil {
		return nil, err
	}
	return ProjectFromElement(e)
}
