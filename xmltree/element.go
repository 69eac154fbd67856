// Package xmltree provides the XML element tree used to build and parse ESP
// documents, and the declarative attribute tables that map model attributes to
// XML attributes.
//
// Element keeps attribute and child order, so a parsed document serializes back
// in the same order. Paths passed to Find and FindAll follow the ElementTree
// subset used by the ESP REST API:
//
//	root.Find("./message/response/message")
//	root.FindAll(".//project")
//	root.FindAll("./*")
package xmltree

import (
	"bytes"
	"io"
	"strings"

	"github.com/beevik/etree"

	"github.com/c360/espclient/errors"
)

// Attr is one XML attribute
type Attr struct {
	Name  string
	Value string
}

// Element is an XML element with ordered attributes and children
type Element struct {
	Tag      string
	Attrs    []Attr
	Text     string
	CDATA    bool
	Children []*Element
}

// New creates an element. attrs are name/value pairs; empty values are skipped.
func New(tag string, attrs ...string) *Element {
	e := &Element{Tag: tag}
	for i := 0; i+1 < len(attrs); i += 2 {
		if attrs[i+1] != "" {
			e.SetAttr(attrs[i], attrs[i+1])
		}
	}
	return e
}

// NewText creates an element holding text
func NewText(tag, text string) *Element {
	return &Element{Tag: tag, Text: text}
}

// NewCDATA creates an element whose text is written as a CDATA section
func NewCDATA(tag, text string) *Element {
	return &Element{Tag: tag, Text: text, CDATA: true}
}

// Attr returns the value of the named attribute
func (e *Element) Attr(name string) (string, bool) {
	for _, a := range e.Attrs {
		if a.Name == name {
			return a.Value, true
		}
	}
	return "", false
}

// AttrOr returns the named attribute or def when it is absent
func (e *Element) AttrOr(name, def string) string {
	if v, ok := e.Attr(name); ok {
		return v
	}
	return def
}

// SetAttr sets an attribute, replacing an existing value in place
func (e *Element) SetAttr(name, value string) *Element {
	for i := range e.Attrs {
		if e.Attrs[i].Name == name {
			e.Attrs[i].Value = value
			return e
		}
	}
	e.Attrs = append(e.Attrs, Attr{Name: name, Value: value})
	return e
}

// DelAttr removes an attribute
func (e *Element) DelAttr(name string) {
	for i := range e.Attrs {
		if e.Attrs[i].Name == name {
			e.Attrs = append(e.Attrs[:i], e.Attrs[i+1:]...)
			return
		}
	}
}

// AttrMap returns the attributes as a map
func (e *Element) AttrMap() map[string]string {
	out := make(map[string]string, len(e.Attrs))
	for _, a := range e.Attrs {
		out[a.Name] = a.Value
	}
	return out
}

// Append adds children, skipping nil elements
func (e *Element) Append(children ...*Element) *Element {
	for _, c := range children {
		if c != nil {
			e.Children = append(e.Children, c)
		}
	}
	return e
}

// Add creates a child element, appends it and returns it
func (e *Element) Add(tag string, attrs ...string) *Element {
	child := New(tag, attrs...)
	e.Children = append(e.Children, child)
	return child
}

// TrimmedText returns the element text without surrounding whitespace
func (e *Element) TrimmedText() string {
	if e == nil {
		return ""
	}
	return strings.TrimSpace(e.Text)
}

// Clone returns a deep copy
func (e *Element) Clone() *Element {
	if e == nil {
		return nil
	}
	out := &Element{Tag: e.Tag, Text: e.Text, CDATA: e.CDATA}
	out.Attrs = append([]Attr(nil), e.Attrs...)
	for _, c := range e.Children {
		out.Children = append(out.Children, c.Clone())
	}
	return out
}

// Parse reads a single XML document
func Parse(data []byte) (*Element, error) {
	return Decode(bytes.NewReader(data))
}

// ParseString reads a single XML document from a string
func ParseString(s string) (*Element, error) {
	return Decode(strings.NewReader(s))
}

// Decode reads the root element from r. Attribute and tag names keep their
// namespace prefix, and text read from CDATA sections marks the element CDATA.
func Decode(r io.Reader) (*Element, error) {
	doc := etree.NewDocument()
	doc.ReadSettings.PreserveCData = true
	if _, err := doc.ReadFrom(r); err != nil {
		return nil, errors.Invalidf(errors.ErrParsingFailed, "xmltree", "Decode", "parse XML: %v", err)
	}
	root := doc.Root()
	if root == nil {
		return nil, errors.Invalidf(errors.ErrParsingFailed, "xmltree", "Decode", "no root element")
	}
	return fromEtree(root), nil
}

func fromEtree(src *etree.Element) *Element {
	el := &Element{Tag: src.FullTag()}
	for _, a := range src.Attr {
		el.Attrs = append(el.Attrs, Attr{Name: a.FullKey(), Value: a.Value})
	}
	var text strings.Builder
	for _, tok := range src.Child {
		switch t := tok.(type) {
		case *etree.Element:
			el.Children = append(el.Children, fromEtree(t))
		case *etree.CharData:
			if t.IsCData() {
				el.CDATA = true
			}
			text.WriteString(t.Data)
		}
	}
	el.Text = text.String()
	return el
}
