// Package schema models the ordered field list of an ESP window.
//
// A schema string lists fields as name:type pairs; a "*" after the name marks
// a key field and a field without a type inherits its type from the source
// window:
//
//	id*:int64,symbol:string,price:double,volume
package schema

import (
	"encoding/json"
	"regexp"
	"strings"

	"github.com/c360/espclient/errors"
	"github.com/c360/espclient/xmltree"
)

// Inherit is the placeholder type for fields whose type comes from a source window
const Inherit = "inherit"

var (
	whitespaceRe = regexp.MustCompile(`\s+`)
	fieldSplitRe = regexp.MustCompile(`\s*,\s*|\s+`)
)

// CleanType removes whitespace and normalizes array type names
func CleanType(t string) string {
	t = whitespaceRe.ReplaceAllString(t, "")
	t = strings.ReplaceAll(t, "array(double)", "array(dbl)")
	t = strings.ReplaceAll(t, "array(int32)", "array(i32)")
	return strings.ReplaceAll(t, "array(int64)", "array(i64)")
}

// Field is one schema field
type Field struct {
	Name string
	Type string
	Key  bool
}

// String returns the "name*:type" form
func (f Field) String() string {
	if f.Key {
		return f.Name + "*:" + f.Type
	}
	return f.Name + ":" + f.Type
}

// Element returns the <field> element
func (f Field) Element() *xmltree.Element {
	key := "false"
	if f.Key {
		key = "true"
	}
	return xmltree.New("field", "name", f.Name, "type", f.Type, "key", key)
}

// Schema is an ordered set of fields
type Schema struct {
	// CopyWindow names a window whose schema is copied by the server.
	CopyWindow string
	CopyKeys   bool

	fields []Field
}

// New creates a schema from fields
func New(fields ...Field) *Schema {
	s := &Schema{}
	for _, f := range fields {
		s.Set(f)
	}
	return s
}

// Parse builds a schema from a schema string
func Parse(s string) (*Schema, error) {
	out := &Schema{}
	if err := out.SetString(s); err != nil {
		return nil, err
	}
	return out, nil
}

// MustParse is Parse for literal schema strings
func MustParse(s string) *Schema {
	out, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return out
}

// SetString replaces all fields with the parsed schema string
func (s *Schema) SetString(value string) error {
	s.fields = nil
	value = strings.TrimSpace(value)
	if value == "" {
		return nil
	}
	for _, item := range fieldSplitRe.Split(value, -1) {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		name, dtype, hasType := strings.Cut(item, ":")
		if !hasType {
			dtype = Inherit
		} else {
			dtype = CleanType(dtype)
		}
		key := strings.Contains(name, "*")
		name = strings.TrimSpace(strings.ReplaceAll(name, "*", ""))
		if name == "" {
			return errors.Invalidf(errors.ErrInvalidValue, "Schema", "SetString", "field %q has no name", item)
		}
		s.Set(Field{Name: name, Type: strings.TrimSpace(dtype), Key: key})
	}
	return nil
}

// String returns the schema string
func (s *Schema) String() string {
	if s == nil {
		return ""
	}
	parts := make([]string, len(s.fields))
	for i, f := range s.fields {
		parts[i] = f.String()
	}
	return strings.Join(parts, ",")
}

// Fields returns a copy of the fields in order
func (s *Schema) Fields() []Field {
	if s == nil {
		return nil
	}
	return append([]Field(nil), s.fields...)
}

// Len returns the number of fields
func (s *Schema) Len() int {
	if s == nil {
		return 0
	}
	return len(s.fields)
}

// Names returns the field names in order
func (s *Schema) Names() []string {
	if s == nil {
		return nil
	}
	out := make([]string, len(s.fields))
	for i, f := range s.fields {
		out[i] = f.Name
	}
	return out
}

// Keys returns the key field names in order
func (s *Schema) Keys() []string {
	if s == nil {
		return nil
	}
	var out []string
	for _, f := range s.fields {
		if f.Key {
			out = append(out, f.Name)
		}
	}
	return out
}

// Field returns the named field
func (s *Schema) Field(name string) (Field, bool) {
	if s == nil {
		return Field{}, false
	}
	for _, f := range s.fields {
		if f.Name == name {
			return f, true
		}
	}
	return Field{}, false
}

// Set adds a field or replaces one with the same name in place
func (s *Schema) Set(f Field) {
	f.Type = CleanType(f.Type)
	for i := range s.fields {
		if s.fields[i].Name == f.Name {
			s.fields[i] = f
			return
		}
	}
	s.fields = append(s.fields, f)
}

// AddField adds or replaces a field
func (s *Schema) AddField(name, dtype string, key bool) {
	s.Set(Field{Name: name, Type: dtype, Key: key})
}

// DeleteField removes a field and reports whether it existed
func (s *Schema) DeleteField(name string) bool {
	for i := range s.fields {
		if s.fields[i].Name == name {
			s.fields = append(s.fields[:i], s.fields[i+1:]...)
			return true
		}
	}
	return false
}

// SetType changes a field's type
func (s *Schema) SetType(name, dtype string) bool {
	for i := range s.fields {
		if s.fields[i].Name == name {
			s.fields[i].Type = CleanType(dtype)
			return true
		}
	}
	return false
}

// SetKey changes a field's key flag
func (s *Schema) SetKey(name string, key bool) bool {
	for i := range s.fields {
		if s.fields[i].Name == name {
			s.fields[i].Key = key
			return true
		}
	}
	return false
}

// HasInherited reports whether any field still has the inherit type
func (s *Schema) HasInherited() bool {
	for _, f := range s.Fields() {
		if f.Type == Inherit {
			return true
		}
	}
	return false
}

// Copy returns an independent copy
func (s *Schema) Copy() *Schema {
	if s == nil {
		return nil
	}
	out := *s
	out.fields = append([]Field(nil), s.fields...)
	return &out
}

// Element returns the <schema> element; <fields> is written only when fields exist.
func (s *Schema) Element() *xmltree.Element {
	out := xmltree.New("schema", "copy", s.CopyWindow)
	if s.CopyKeys {
		out.SetAttr("copy-keys", "true")
	}
	if len(s.fields) > 0 {
		fields := out.Add("fields")
		for _, f := range s.fields {
			fields.Append(f.Element())
		}
	}
	return out
}

// FromElement reads a <schema> element, collecting every nested <field>
func FromElement(e *xmltree.Element) *Schema {
	out := &Schema{
		CopyWindow: e.AttrOr("copy", ""),
		CopyKeys:   e.AttrOr("copy-keys", "") == "true",
	}
	for _, f := range e.FindAll(".//field") {
		out.Set(Field{
			Name: f.AttrOr("name", ""),
			Type: f.AttrOr("type", "double"),
			Key:  f.AttrOr("key", "false") == "true",
		})
	}
	return out
}

// FromXML parses a <schema> document
func FromXML(data []byte) (*Schema, error) {
	root, err := xmltree.Parse(data)
	if err != nil {
		return nil, err
	}
	return FromElement(root), nil
}

// FromSchemaString reads a <schema-string> element
func FromSchemaString(e *xmltree.Element) (*Schema, error) {
	out, err := Parse(e.Text)
	if err != nil {
		return nil, err
	}
	out.CopyWindow = e.AttrOr("copy", "")
	out.CopyKeys = e.AttrOr("copy-keys", "") == "true"
	return out, nil
}

type jsonSchema struct {
	Schema []struct {
		Fields []struct {
			Field struct {
				Attributes struct {
					Name string `json:"name"`
					Type string `json:"type"`
					Key  string `json:"key"`
				} `json:"attributes"`
			} `json:"field"`
		} `json:"fields"`
	} `json:"schema"`
}

// FromJSON parses the schema message sent by JSON subscribers:
// {"schema":[{"fields":[{"field":{"attributes":{"name":..,"type":..,"key":..}}}]}]}
func FromJSON(data []byte) (*Schema, error) {
	var doc jsonSchema
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, errors.WrapInvalid(err, "Schema", "FromJSON", "decode schema")
	}
	if len(doc.Schema) == 0 {
		return nil, errors.Invalidf(errors.ErrInvalidData, "Schema", "FromJSON", "no schema entry")
	}
	out := &Schema{}
	for _, f := range doc.Schema[0].Fields {
		a := f.Field.Attributes
		out.Set(Field{Name: a.Name, Type: CleanType(a.Type), Key: a.Key == "true"})
	}
	return out, nil
}
