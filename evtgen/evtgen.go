// Package evtgen defines server-side event generators: definitions that
// make an ESP server inject generated or canned events into a source window.
package evtgen

import (
	"fmt"
	"os"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/c360/espclient/errors"
	"github.com/c360/espclient/pkg/naming"
	"github.com/c360/espclient/xmltree"
)

// Candidate delimiters for list and map resources
const (
	Delimiters      = " ,;@&"
	InnerDelimiters = "=:%#!"
)

var urlRe = regexp.MustCompile(`^(https?|ftp|file):`)

// ResourceKind is the type of a generator resource
type ResourceKind string

// Resource kinds, named after their XML elements
const (
	ResourceList    ResourceKind = "list"
	ResourceSet     ResourceKind = "set"
	ResourceMap     ResourceKind = "map"
	ResourceListURL ResourceKind = "list-url"
	ResourceSetURL  ResourceKind = "set-url"
	ResourceMapURL  ResourceKind = "map-url"
)

// Resource is a named lookup table available to generator functions
type Resource struct {
	Kind   ResourceKind
	Values []string          // list and set
	Map    map[string]string // map
	URL    string            // *-url kinds
}

// Expr is a named generator function
type Expr struct {
	Name string
	Expr string
}

// EventGenerator is an <event-generator> definition
type EventGenerator struct {
	Name          string
	InsertOnly    bool
	AutogenKey    bool
	PublishTarget string
	ExistsOpcode  string

	// EventData holds inline CSV events; EventDataURL points to them.
	// When either is set, resources and functions are not written.
	EventData    string
	EventDataURL string

	Resources map[string]Resource
	Init      []Expr
	Fields    []Expr
}

// New creates an insert-only generator with generated keys. An empty name
// is generated.
func New(name string) *EventGenerator {
	if name == "" {
		name = naming.Generate("eg_")
	}
	return &EventGenerator{
		Name:       name,
		InsertOnly: true,
		AutogenKey: true,
		Resources:  make(map[string]Resource),
	}
}

func (g *EventGenerator) String() string {
	if g.PublishTarget != "" {
		return fmt.Sprintf("EventGenerator(name=%q, publish_target=%q)", g.Name, g.PublishTarget)
	}
	return fmt.Sprintf("EventGenerator(name=%q)", g.Name)
}

// PublishTarget returns the dfESP URL of a window, e.g.
// dfESP://esp1:31416/p/cq/w
func PublishTarget(host string, pubsubPort int, windowPath string) string {
	return fmt.Sprintf("dfESP://%s:%d/%s", host, pubsubPort, strings.Trim(windowPath, "/"))
}

// SetEventData sets the events to inject. A single-line http, https, ftp
// or file URL is used as a reference; anything else is inline CSV data.
func (g *EventGenerator) SetEventData(data string) {
	if urlRe.MatchString(data) && !strings.Contains(data, "\n") {
		g.EventDataURL, g.EventData = data, ""
		return
	}
	g.EventDataURL, g.EventData = "", data
}

// SetEventDataFile reads inline event data from a local file
func (g *EventGenerator) SetEventDataFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return errors.WrapInvalid(err, "EventGenerator", "SetEventDataFile", "read "+path)
	}
	g.EventDataURL, g.EventData = "", string(data)
	return nil
}

// AddInitializer adds or replaces an init function
func (g *EventGenerator) AddInitializer(name, expr string) {
	g.Init = setExpr(g.Init, name, expr)
}

// AddField adds or replaces a field function
func (g *EventGenerator) AddField(name, expr string) {
	g.Fields = setExpr(g.Fields, name, expr)
}

func setExpr(list []Expr, name, expr string) []Expr {
	for i := range list {
		if list[i].Name == name {
			list[i].Expr = expr
			return list
		}
	}
	return append(list, Expr{Name: name, Expr: expr})
}

// AddListResource adds an ordered list resource
func (g *EventGenerator) AddListResource(name string, values ...string) {
	g.Resources[name] = Resource{Kind: ResourceList, Values: values}
}

// AddSetResource adds a set resource; duplicates are dropped
func (g *EventGenerator) AddSetResource(name string, values ...string) {
	seen := make(map[string]bool, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		if !seen[v] {
			seen[v] = true
			out = append(out, v)
		}
	}
	sort.Strings(out)
	g.Resources[name] = Resource{Kind: ResourceSet, Values: out}
}

// AddMapResource adds a map resource
func (g *EventGenerator) AddMapResource(name string, m map[string]string) {
	g.Resources[name] = Resource{Kind: ResourceMap, Map: m}
}

// AddURLResource adds a resource loaded by the server from url. kind must
// be one of the *-url kinds.
func (g *EventGenerator) AddURLResource(name string, kind ResourceKind, url string) error {
	switch kind {
	case ResourceListURL, ResourceSetURL, ResourceMapURL:
	default:
		return errors.Invalidf(errors.ErrInvalidValue, "EventGenerator", "AddURLResource",
			"%q is not a URL resource kind", kind)
	}
	g.Resources[name] = Resource{Kind: kind, URL: url}
	return nil
}

// ListDelimiter returns the first delimiter not used in any value
func ListDelimiter(values []string) (string, error) {
	joined := strings.Join(values, "")
	for _, c := range Delimiters {
		if !strings.ContainsRune(joined, c) {
			return string(c), nil
		}
	}
	return "", errors.Invalidf(errors.ErrInvalidValue, "evtgen", "ListDelimiter",
		"could not determine a good delimiter character")
}

// MapDelimiters returns inner and outer delimiters not used in m
func MapDelimiters(m map[string]string) (inner, outer string, err error) {
	var b strings.Builder
	for k, v := range m {
		b.WriteString(k)
		b.WriteString(v)
	}
	joined := b.String()
	for _, c := range Delimiters {
		if !strings.ContainsRune(joined, c) {
			outer = string(c)
			break
		}
	}
	for _, c := range InnerDelimiters {
		if !strings.ContainsRune(joined, c) {
			inner = string(c)
			break
		}
	}
	if inner == "" || outer == "" {
		return "", "", errors.Invalidf(errors.ErrInvalidValue, "evtgen", "MapDelimiters",
			"could not determine good delimiter characters")
	}
	return inner, outer, nil
}

func (r Resource) element(name string) (*xmltree.Element, error) {
	switch r.Kind {
	case ResourceList, ResourceSet:
		delim, err := ListDelimiter(r.Values)
		if err != nil {
			return nil, err
		}
		out := xmltree.NewText(string(r.Kind), strings.Join(r.Values, delim))
		return out.SetAttr("name", name).SetAttr("delimiter", delim), nil
	case ResourceMap:
		inner, outer, err := MapDelimiters(r.Map)
		if err != nil {
			return nil, err
		}
		keys := make([]string, 0, len(r.Map))
		for k := range r.Map {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		pairs := make([]string, len(keys))
		for i, k := range keys {
			pairs[i] = k + inner + r.Map[k]
		}
		out := xmltree.NewText("map", strings.Join(pairs, outer))
		return out.SetAttr("name", name).SetAttr("outer", outer).SetAttr("inner", inner), nil
	default:
		return xmltree.NewText(string(r.Kind), r.URL).SetAttr("name", name), nil
	}
}

func dummyFields(out *xmltree.Element) {
	out.Add("fields").Append(xmltree.NewText("field", "0").SetAttr("name", "dummy-id"))
}

// Element returns the generator definition
func (g *EventGenerator) Element() (*xmltree.Element, error) {
	out := xmltree.New("event-generator",
		"name", g.Name,
		"insert-only", strconv.FormatBool(g.InsertOnly),
		"autogen-key", strconv.FormatBool(g.AutogenKey))
	if g.PublishTarget != "" {
		out.Append(xmltree.NewText("publish-target", g.PublishTarget))
	}

	if g.EventDataURL != "" {
		out.Add("event-source").Append(xmltree.NewText("event-data-url", g.EventDataURL))
		dummyFields(out)
		return out, nil
	}
	if g.EventData != "" {
		out.Add("event-source").Append(xmltree.NewText("event-data", g.EventData))
		dummyFields(out)
		return out, nil
	}

	if len(g.Resources) > 0 {
		names := make([]string, 0, len(g.Resources))
		for name := range g.Resources {
			names = append(names, name)
		}
		sort.Strings(names)
		list := out.Add("resources")
		for _, name := range names {
			e, err := g.Resources[name].element(name)
			if err != nil {
				return nil, errors.Wrap(err, "EventGenerator", "Element", "write resource "+name)
			}
			list.Append(e)
		}
	}
	if len(g.Init) > 0 {
		init := out.Add("init")
		for _, x := range g.Init {
			init.Append(xmltree.NewText("value", x.Expr).SetAttr("name", x.Name))
		}
	}
	if g.ExistsOpcode != "" {
		out.Append(xmltree.NewText("exists-opcode", g.ExistsOpcode))
	}
	if len(g.Fields) == 0 {
		dummyFields(out)
		return out, nil
	}
	fields := out.Add("fields")
	for _, x := range g.Fields {
		fields.Append(xmltree.NewText("field", x.Expr).SetAttr("name", x.Name))
	}
	return out, nil
}

// XML serializes the generator definition
func (g *EventGenerator) XML(pretty bool) (string, error) {
	e, err := g.Element()
	if err != nil {
		return "", err
	}
	if pretty {
		return e.Indent(), nil
	}
	return e.String(), nil
}

// FromElement reads an <event-generator> definition
func FromElement(e *xmltree.Element) (*EventGenerator, error) {
	e = e.FindSelfOrDescendant("event-generator")
	if e == nil {
		return nil, errors.Invalidf(errors.ErrInvalidData, "EventGenerator", "FromElement", "no event generator found")
	}
	g := New(e.AttrOr("name", ""))
	g.InsertOnly = boolAttr(e, "insert-only", true)
	g.AutogenKey = boolAttr(e, "autogen-key", true)
	g.PublishTarget = e.FindText("./publish-target")
	g.ExistsOpcode = e.FindText("./exists-opcode")

	for _, item := range e.FindAll("./resources/*") {
		name := item.AttrOr("name", "")
		switch kind := ResourceKind(item.Tag); kind {
		case ResourceListURL, ResourceSetURL, ResourceMapURL:
			g.Resources[name] = Resource{Kind: kind, URL: item.TrimmedText()}
		case ResourceList:
			g.AddListResource(name, strings.Split(item.Text, item.AttrOr("delimiter", " "))...)
		case ResourceSet:
			g.AddSetResource(name, strings.Split(item.Text, item.AttrOr("delimiter", " "))...)
		case ResourceMap:
			m := make(map[string]string)
			inner := item.AttrOr("inner", "=")
			for _, pair := range strings.Split(item.Text, item.AttrOr("outer", " ")) {
				k, v, _ := strings.Cut(pair, inner)
				m[k] = v
			}
			g.AddMapResource(name, m)
		default:
			return nil, errors.Invalidf(errors.ErrInvalidData, "EventGenerator", "FromElement",
				"unknown resource type %q", item.Tag)
		}
	}

	for _, item := range e.FindAll("./init/value") {
		g.AddInitializer(item.AttrOr("name", ""), item.Text)
	}
	for _, item := range e.FindAll("./fields/field") {
		g.AddField(item.AttrOr("name", ""), item.Text)
	}

	if url := e.Find("./event-source/event-data-url"); url != nil {
		g.EventDataURL = url.TrimmedText()
	}
	if data := e.Find("./event-source/event-data"); data != nil {
		g.EventData = data.Text
	}
	if g.EventData != "" || g.EventDataURL != "" {
		g.Fields = dropDummy(g.Fields)
	}
	return g, nil
}

func dropDummy(fields []Expr) []Expr {
	if len(fields) == 1 && fields[0].Name == "dummy-id" {
		return nil
	}
	return fields
}

func boolAttr(e *xmltree.Element, name string, def bool) bool {
	v, ok := e.Attr(name)
	if !ok {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

// Parse reads a generator definition from XML
func Parse(data []byte) (*EventGenerator, error) {
	e, err := xmltree.Parse(data)
	if err != nil {
		return nil, err
	}
	return FromElement(e)
}

// ParseList reads the generators of an <event-generators> response, keyed
// by name
func ParseList(e *xmltree.Element) (map[string]*EventGenerator, error) {
	out := make(map[string]*EventGenerator)
	for _, item := range e.FindAll("./event-generator") {
		g, err := FromElement(item)
		if err != nil {
			return nil, err
		}
		out[g.Name] = g
	}
	return out, nil
}
