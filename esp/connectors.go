package esp

import (
	"context"
	"fmt"
	"regexp"
	"strconv"

	"github.com/c360/espclient/errors"
	"github.com/c360/espclient/mas"
	"github.com/c360/espclient/rest"
	"github.com/c360/espclient/xmltree"
)

var (
	floatDefaultRe = regexp.MustCompile(`^\d*\.\d+$`)
	intDefaultRe   = regexp.MustCompile(`^\d+$`)
)

// ConnectorParameter describes one connector parameter. Default holds a
// bool, int64, float64 or string.
type ConnectorParameter struct {
	Name    string
	Default any
	Values  []string // allowed values of select parameters
}

// ConnectorInfo describes a connector type the server supports
type ConnectorInfo struct {
	Label    string
	Type     string
	PubSub   string
	Required map[string]ConnectorParameter
	Optional map[string]ConnectorParameter
}

func (ci *ConnectorInfo) String() string {
	s := fmt.Sprintf("ConnectorInfo(label=%q", ci.Label)
	if ci.Type != "" {
		s += fmt.Sprintf(", type=%q", ci.Type)
	}
	if ci.PubSub != "" {
		s += fmt.Sprintf(", pubsub=%q", ci.PubSub)
	}
	return s + ")"
}

// ConnectorInfoFromElement reads a <connector> description
func ConnectorInfoFromElement(e *xmltree.Element) *ConnectorInfo {
	ci := &ConnectorInfo{
		Label:    e.AttrOr("label", ""),
		Type:     e.AttrOr("type", ""),
		PubSub:   e.AttrOr("pubsub", ""),
		Required: connectorParameters(e.FindAll("./required-parms/parm")),
		Optional: connectorParameters(e.FindAll("./optional-parms/parm")),
	}
	return ci
}

func connectorParameters(items []*xmltree.Element) map[string]ConnectorParameter {
	out := make(map[string]ConnectorParameter, len(items))
	for _, item := range items {
		name := item.AttrOr("key", "")
		p := ConnectorParameter{Name: name, Default: ""}
		if def := item.Find("./default"); def != nil {
			p.Default = castDefault(def.Text)
			if _, isBool := p.Default.(bool); !isBool && item.Find("./allowed-values") != nil {
				p.Default = def.Text
				for _, v := range item.FindAll(".//allowed-value") {
					p.Values = append(p.Values, v.Text)
				}
			}
		}
		out[name] = p
	}
	return out
}

func castDefault(v string) any {
	switch {
	case v == "true":
		return true
	case v == "false":
		return false
	case floatDefaultRe.MatchString(v):
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	case intDefaultRe.MatchString(v):
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n
		}
	}
	return v
}

// ConnectorInfo returns the connector types known to the server, keyed by
// label
func (c *Connection) ConnectorInfo(ctx context.Context) (map[string]*ConnectorInfo, error) {
	root, err := c.session.Get(ctx, "connectorInfo", nil)
	if err != nil {
		return nil, errors.Wrap(err, "Connection", "ConnectorInfo", "get connector info")
	}
	items := root.FindAll("./connector")
	if root.Tag == "connector" {
		items = []*xmltree.Element{root}
	}
	out := make(map[string]*ConnectorInfo, len(items))
	for _, item := range items {
		ci := ConnectorInfoFromElement(item)
		out[ci.Label] = ci
	}
	return out, nil
}

// MASModules returns the MAS modules of every project, keyed by project.
// With expandCode, code-file references come back as inline code.
func (c *Connection) MASModules(ctx context.Context, expandCode bool) (map[string][]*mas.Module, error) {
	root, err := c.session.Get(ctx, "masModules", rest.NewParams().Set("expandcode", expandCode))
	if err != nil {
		return nil, errors.Wrap(err, "Connection", "MASModules", "get MAS modules")
	}
	return masByProject(root, "")
}

// ProjectMASModules returns the MAS modules of one project
func (c *Connection) ProjectMASModules(ctx context.Context, project string, expandCode bool) ([]*mas.Module, error) {
	root, err := c.session.Get(ctx, "masModules/"+project, rest.NewParams().Set("expandcode", expandCode))
	if err != nil {
		return nil, errors.Wrap(err, "Connection", "ProjectMASModules", "get MAS modules of "+project)
	}
	byProject, err := masByProject(root, project)
	if err != nil {
		return nil, err
	}
	var out []*mas.Module
	for _, mods := range byProject {
		out = append(out, mods...)
	}
	return out, nil
}

func masByProject(root *xmltree.Element, project string) (map[string][]*mas.Module, error) {
	out := make(map[string][]*mas.Module)
	for _, elem := range root.FindAll("./project") {
		name := elem.AttrOr("name", "")
		if project != "" {
			name = project
		}
		mods := out[name]
		for _, item := range elem.FindAll("./mas-module") {
			m, err := mas.FromElement(item)
			if err != nil {
				return nil, err
			}
			m.Project = name
			mods = append(mods, m)
		}
		out[name] = mods
	}
	return out, nil
}

// MASModule returns one module of a project
func (c *Connection) MASModule(ctx context.Context, project, name string, expandCode bool) (*mas.Module, error) {
	root, err := c.session.Get(ctx, "masModules/"+project+"/"+name, rest.NewParams().Set("expandcode", expandCode))
	if err != nil {
		return nil, errors.Wrap(err, "Connection", "MASModule", "get MAS module "+project+"/"+name)
	}
	item := root.FindSelfOrDescendant("mas-module")
	if item == nil {
		return nil, errors.Invalidf(errors.ErrNotFound, "Connection", "MASModule", "no MAS module %q in project %q", name, project)
	}
	m, err := mas.FromElement(item)
	if err != nil {
		return nil, err
	}
	m.Project = project
	return m, nil
}

// ReplaceMASModule swaps the code of a module in a running project
func (c *Connection) ReplaceMASModule(ctx context.Context, project, name string, m *mas.Module) error {
	if _, err := c.session.Put(ctx, "masModules/"+project+"/"+name, nil, m.Element().Bytes()); err != nil {
		return errors.Wrap(err, "Connection", "ReplaceMASModule", "replace MAS module "+project+"/"+name)
	}
	return nil
}

// SaveMASModule persists a module to path on the server
func (c *Connection) SaveMASModule(ctx context.Context, project, name, path string) error {
	return c.setState(ctx, "SaveMASModule", "masModules/"+project+"/"+name,
		rest.NewParams().Set("value", "persisted").SetNonEmpty("path", path), nil)
}
