package model

import (
	"sort"
	"strconv"

	"github.com/c360/espclient/errors"
	"github.com/c360/espclient/xmltree"
)

// Connector types
const (
	ConnectorPublish   = "publish"
	ConnectorSubscribe = "subscribe"
)

// Connector moves events between a window and an external system
type Connector struct {
	Class string // e.g. "fs", "kafka", "mqtt"
	Name  string
	Type  string // publish or subscribe
	// Active is nil when the attribute is not set
	Active     *bool
	Properties map[string]string
}

// NewConnector creates a connector of the given class and type
func NewConnector(class, name, typ string, props map[string]string) (*Connector, error) {
	if class == "" {
		return nil, errors.Invalidf(errors.ErrInvalidValue, "Connector", "NewConnector", "connector class is required")
	}
	if typ != "" && typ != ConnectorPublish && typ != ConnectorSubscribe {
		return nil, errors.Invalidf(errors.ErrInvalidValue, "Connector", "NewConnector",
			"connector type must be %s or %s, got %q", ConnectorPublish, ConnectorSubscribe, typ)
	}
	c := &Connector{Class: class, Name: name, Type: typ, Properties: make(map[string]string, len(props))}
	for k, v := range props {
		c.Properties[k] = v
	}
	return c, nil
}

// SetActive sets the active attribute
func (c *Connector) SetActive(active bool) *Connector {
	c.Active = &active
	return c
}

// Element returns the <connector> definition. Properties are written sorted,
// with configfilesection first.
func (c *Connector) Element() *xmltree.Element {
	active := ""
	if c.Active != nil {
		active = strconv.FormatBool(*c.Active)
	}
	out := xmltree.New("connector", "class", c.Class, "name", c.Name, "active", active, "type", c.Type)
	if len(c.Properties) == 0 {
		return out
	}

	keys := make([]string, 0, len(c.Properties))
	for k := range c.Properties {
		if k != "configfilesection" {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	if _, ok := c.Properties["configfilesection"]; ok {
		keys = append([]string{"configfilesection"}, keys...)
	}

	props := out.Add("properties")
	for _, k := range keys {
		props.Append(xmltree.NewText("property", c.Properties[k]).SetAttr("name", k))
	}
	return out
}

// Copy returns an independent copy
func (c *Connector) Copy() *Connector {
	out := *c
	if c.Active != nil {
		active := *c.Active
		out.Active = &active
	}
	out.Properties = make(map[string]string, len(c.Properties))
	for k, v := range c.Properties {
		out.Properties[k] = v
	}
	return &out
}

// ConnectorFromElement reads a <connector> definition
func ConnectorFromElement(e *xmltree.Element) (*Connector, error) {
	class, ok := e.Attr("class")
	if !ok {
		return nil, errors.Invalidf(errors.ErrInvalidData, "Connector", "FromElement", "connector has no class")
	}
	c := &Connector{
		Class:      class,
		Name:       e.AttrOr("name", ""),
		Type:       e.AttrOr("type", ""),
		Properties: make(map[string]string),
	}
	if v, ok := e.Attr("active"); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return nil, errors.Invalidf(errors.ErrInvalidValue, "Connector", "FromElement", "active=%q is not a boolean", v)
		}
		c.Active = &b
	}
	for _, p := range e.FindAll("./properties/property") {
		if name, ok := p.Attr("name"); ok {
			c.Properties[name] = p.Text
		}
	}
	return c, nil
}
