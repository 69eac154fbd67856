package xmltree

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/c360/espclient/errors"
)

// Kind is the value type of a declared attribute
type Kind int

const (
	KindString Kind = iota
	KindInt
	KindFloat
	KindBool
	KindEnum
)

// EnumValue maps a user-facing value to the value written on the wire
type EnumValue struct {
	Value string
	Wire  string
}

// Field declares one XML attribute
type Field struct {
	Name    string // wire attribute name, e.g. "pubsub-index"
	Kind    Kind
	Enum    []EnumValue
	Default string // wire value applied by Table.New
}

// Table is an ordered set of attribute declarations. Encoding writes
// attributes in table order.
type Table struct {
	fields []Field
	index  map[string]int
}

// NewTable builds a table from field declarations
func NewTable(fields ...Field) *Table {
	t := &Table{index: make(map[string]int, len(fields))}
	for _, f := range fields {
		t.add(f)
	}
	return t
}

func (t *Table) add(f Field) {
	if i, ok := t.index[f.Name]; ok {
		t.fields[i] = f
		return
	}
	t.index[f.Name] = len(t.fields)
	t.fields = append(t.fields, f)
}

// Extend returns a new table with extra fields appended
func (t *Table) Extend(fields ...Field) *Table {
	out := NewTable(t.fields...)
	for _, f := range fields {
		out.add(f)
	}
	return out
}

// Fields returns the declarations in order
func (t *Table) Fields() []Field {
	return append([]Field(nil), t.fields...)
}

// Lookup returns the declaration for a wire or underscore name
func (t *Table) Lookup(name string) (Field, bool) {
	if t == nil {
		return Field{}, false
	}
	i, ok := t.index[WireName(name)]
	if !ok {
		return Field{}, false
	}
	return t.fields[i], true
}

// MustFields parses compact declarations of the form "name:kind[:values][=default]".
// Enum values are separated by "|" and may map a user value to a wire value
// with "user>wire":
//
//	"threads:int=1"
//	"pubsub:enum:none|auto|manual=auto"
//	"index:enum:rbtree>pi_RBTREE|hash>pi_HASH"
func MustFields(decls ...string) []Field {
	fields := make([]Field, 0, len(decls))
	for _, d := range decls {
		f, err := parseDecl(d)
		if err != nil {
			panic(err)
		}
		fields = append(fields, f)
	}
	return fields
}

func parseDecl(decl string) (Field, error) {
	var f Field
	body, def, hasDef := strings.Cut(decl, "=")
	if hasDef {
		f.Default = def
	}
	parts := strings.SplitN(body, ":", 3)
	f.Name = parts[0]
	if f.Name == "" {
		return f, fmt.Errorf("xmltree: empty attribute name in %q", decl)
	}
	kind := "string"
	if len(parts) > 1 {
		kind = parts[1]
	}
	switch kind {
	case "string":
		f.Kind = KindString
	case "int":
		f.Kind = KindInt
	case "float":
		f.Kind = KindFloat
	case "bool":
		f.Kind = KindBool
	case "enum":
		f.Kind = KindEnum
		if len(parts) < 3 {
			return f, fmt.Errorf("xmltree: enum %q has no values", f.Name)
		}
		for _, v := range strings.Split(parts[2], "|") {
			user, wire, mapped := strings.Cut(v, ">")
			if !mapped {
				wire = user
			}
			f.Enum = append(f.Enum, EnumValue{Value: user, Wire: wire})
		}
	default:
		return f, fmt.Errorf("xmltree: unknown kind %q in %q", kind, decl)
	}
	return f, nil
}

// WireName converts an underscore name to the dashed wire form
func WireName(name string) string {
	return strings.ReplaceAll(name, "_", "-")
}

// Attrs is an attribute bag validated against a Table. Values are held in wire
// form. Attributes not declared by the table are kept so parsed documents
// serialize back unchanged.
type Attrs struct {
	table  *Table
	values map[string]string
	extra  []Attr
}

// New returns a bag with the table defaults applied
func (t *Table) New() Attrs {
	a := Attrs{table: t, values: make(map[string]string)}
	for _, f := range t.fields {
		if f.Default != "" {
			a.values[f.Name] = f.Default
		}
	}
	return a
}

// Empty returns a bag without defaults, for decoding parsed documents
func (t *Table) Empty() Attrs {
	return Attrs{table: t, values: make(map[string]string)}
}

// Table returns the declarations backing the bag
func (a *Attrs) Table() *Table {
	return a.table
}

// Set validates and stores v. A nil v removes the attribute.
func (a *Attrs) Set(name string, v any) error {
	name = WireName(name)
	if a.values == nil {
		a.values = make(map[string]string)
	}
	if v == nil {
		a.Unset(name)
		return nil
	}

	f, ok := a.table.Lookup(name)
	if !ok {
		return errors.Invalidf(errors.ErrInvalidValue, "Attrs", "Set", "unknown attribute %q", name)
	}
	wire, err := f.wireValue(v)
	if err != nil {
		return err
	}
	a.values[name] = wire
	return nil
}

// MustSet is Set for values known to be valid
func (a *Attrs) MustSet(name string, v any) {
	if err := a.Set(name, v); err != nil {
		panic(err)
	}
}

// Unset removes an attribute
func (a *Attrs) Unset(name string) {
	name = WireName(name)
	delete(a.values, name)
	for i := range a.extra {
		if a.extra[i].Name == name {
			a.extra = append(a.extra[:i], a.extra[i+1:]...)
			return
		}
	}
}

// Get returns the wire value
func (a Attrs) Get(name string) (string, bool) {
	name = WireName(name)
	if v, ok := a.values[name]; ok {
		return v, true
	}
	for _, x := range a.extra {
		if x.Name == name {
			return x.Value, true
		}
	}
	return "", false
}

// String returns the wire value or ""
func (a Attrs) String(name string) string {
	v, _ := a.Get(name)
	return v
}

// Int returns an integer attribute
func (a Attrs) Int(name string) (int, bool) {
	v, ok := a.Get(name)
	if !ok {
		return 0, false
	}
	n, err := strconv.Atoi(v)
	return n, err == nil
}

// Float returns a float attribute
func (a Attrs) Float(name string) (float64, bool) {
	v, ok := a.Get(name)
	if !ok {
		return 0, false
	}
	f, err := strconv.ParseFloat(v, 64)
	return f, err == nil
}

// Bool returns a boolean attribute
func (a Attrs) Bool(name string) (bool, bool) {
	v, ok := a.Get(name)
	if !ok {
		return false, false
	}
	b, err := parseBool(v)
	return b, err == nil
}

// Value returns the user-facing value: enum wire values are mapped back.
func (a Attrs) Value(name string) string {
	v, _ := a.Get(name)
	if f, ok := a.table.Lookup(name); ok && f.Kind == KindEnum {
		for _, e := range f.Enum {
			if e.Wire == v {
				return e.Value
			}
		}
	}
	return v
}

// Len returns the number of attributes set
func (a Attrs) Len() int {
	return len(a.values) + len(a.extra)
}

// Clone returns an independent copy
func (a Attrs) Clone() Attrs {
	out := Attrs{table: a.table, values: make(map[string]string, len(a.values))}
	for k, v := range a.values {
		out.values[k] = v
	}
	out.extra = append([]Attr(nil), a.extra...)
	return out
}

// Encode writes the attributes onto e: declared ones in table order, then extras.
func (a Attrs) Encode(e *Element) {
	if a.table == nil {
		return
	}
	for _, f := range a.table.fields {
		if v, ok := a.values[f.Name]; ok {
			e.SetAttr(f.Name, v)
		}
	}
	for _, x := range a.extra {
		e.SetAttr(x.Name, x.Value)
	}
}

// Decode reads attributes from e. Attributes listed in skip (such as "name")
// are left to the caller.
func (a *Attrs) Decode(e *Element, skip ...string) error {
	if a.values == nil {
		a.values = make(map[string]string)
	}
outer:
	for _, attr := range e.Attrs {
		for _, s := range skip {
			if attr.Name == s {
				continue outer
			}
		}
		f, ok := a.table.Lookup(attr.Name)
		if !ok {
			a.extra = append(a.extra, attr)
			continue
		}
		wire, err := f.wireValue(attr.Value)
		if err != nil {
			return err
		}
		a.values[f.Name] = wire
	}
	return nil
}

func (f Field) wireValue(v any) (string, error) {
	switch f.Kind {
	case KindInt:
		return f.intValue(v)
	case KindFloat:
		return f.floatValue(v)
	case KindBool:
		return f.boolValue(v)
	case KindEnum:
		s := fmt.Sprint(v)
		for _, e := range f.Enum {
			if s == e.Value || s == e.Wire {
				return e.Wire, nil
			}
		}
		allowed := make([]string, 0, len(f.Enum))
		for _, e := range f.Enum {
			allowed = append(allowed, e.Value)
		}
		return "", errors.Invalidf(errors.ErrInvalidValue, "Attrs", "Set",
			"%q is not a valid value for %s (allowed: %s)", s, f.Name, strings.Join(allowed, ", "))
	default:
		return fmt.Sprint(v), nil
	}
}

func (f Field) intValue(v any) (string, error) {
	switch x := v.(type) {
	case int:
		return strconv.Itoa(x), nil
	case int32:
		return strconv.FormatInt(int64(x), 10), nil
	case int64:
		return strconv.FormatInt(x, 10), nil
	case float64:
		if x == math.Trunc(x) {
			return strconv.FormatInt(int64(x), 10), nil
		}
	case string:
		s := strings.TrimSpace(x)
		if _, err := strconv.ParseInt(s, 10, 64); err == nil {
			return s, nil
		}
	}
	return "", errors.Invalidf(errors.ErrInvalidValue, "Attrs", "Set", "%v is not an integer for %s", v, f.Name)
}

func (f Field) floatValue(v any) (string, error) {
	switch x := v.(type) {
	case float64:
		return strconv.FormatFloat(x, 'g', -1, 64), nil
	case int:
		return strconv.Itoa(x), nil
	case string:
		s := strings.TrimSpace(x)
		if _, err := strconv.ParseFloat(s, 64); err == nil {
			return s, nil
		}
	}
	return "", errors.Invalidf(errors.ErrInvalidValue, "Attrs", "Set", "%v is not a number for %s", v, f.Name)
}

func (f Field) boolValue(v any) (string, error) {
	switch x := v.(type) {
	case bool:
		return strconv.FormatBool(x), nil
	case string:
		if b, err := parseBool(x); err == nil {
			return strconv.FormatBool(b), nil
		}
	case int:
		if x == 0 || x == 1 {
			return strconv.FormatBool(x == 1), nil
		}
	}
	return "", errors.Invalidf(errors.ErrInvalidValue, "Attrs", "Set", "%v is not a boolean for %s", v, f.Name)
}

func parseBool(s string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "true", "1", "yes", "on":
		return true, nil
	case "false", "0", "no", "off":
		return false, nil
	}
	return false, fmt.Errorf("invalid boolean %q", s)
}
