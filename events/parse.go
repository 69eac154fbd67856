package events

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"io"
	"regexp"
	"strings"

	"github.com/c360/espclient/errors"
	"github.com/c360/espclient/schema"
	"github.com/c360/espclient/xmltree"
)

// Wire formats
const (
	FormatXML        = "xml"
	FormatJSON       = "json"
	FormatCSV        = "csv"
	FormatProperties = "properties"
)

// DefaultPropertiesSeparator separates events in the properties format
const DefaultPropertiesSeparator = "\n\n"

// SchemaResolver looks up the schema of a window given its dotted path
type SchemaResolver interface {
	WindowSchema(ctx context.Context, window string) (*schema.Schema, error)
}

// Options controls Parse
type Options struct {
	Format string // defaults to xml

	// Schema applies to every event. When nil, XML events resolve their
	// window's schema through Resolver.
	Schema   *schema.Schema
	Resolver SchemaResolver

	// Window names the table for formats that do not carry a window name,
	// and is resolved when Schema is nil.
	Window string

	Separator string // properties format only
}

var propertiesRe = regexp.MustCompile(`^\w+=`)

// DetectFormat guesses the format of a message: xml, json, properties or csv
func DetectFormat(data []byte) string {
	trimmed := bytes.TrimLeft(data, " \t\r\n")
	switch {
	case bytes.HasPrefix(trimmed, []byte("<")):
		return FormatXML
	case bytes.HasPrefix(trimmed, []byte("{")):
		return FormatJSON
	case propertiesRe.Match(trimmed):
		return FormatProperties
	default:
		return FormatCSV
	}
}

// Parse decodes a message into one table per window. Window names use dots.
func Parse(ctx context.Context, data []byte, opts Options) (map[string]*Table, error) {
	format := strings.ToLower(opts.Format)
	if format == "" {
		format = FormatXML
	}

	if format == FormatXML {
		return parseXML(ctx, data, opts)
	}

	s, err := opts.schemaFor(ctx, opts.Window)
	if err != nil {
		return nil, err
	}
	t := NewTable(opts.Window, s)

	switch format {
	case FormatCSV:
		err = parseCSV(t, data)
	case FormatJSON:
		err = parseJSON(t, data)
	case FormatProperties:
		err = parseProperties(t, data, opts.Separator)
	default:
		err = errors.Invalidf(errors.ErrInvalidValue, "events", "Parse", "unknown format %q", opts.Format)
	}
	if err != nil {
		return nil, err
	}
	return map[string]*Table{t.Window: t}, nil
}

// ParseSingle decodes a message expected to hold at most one window. With no
// events it returns an empty table shaped by the schema.
func ParseSingle(ctx context.Context, data []byte, opts Options) (*Table, error) {
	tables, err := Parse(ctx, data, opts)
	if err != nil {
		return nil, err
	}
	switch len(tables) {
	case 0:
		s, err := opts.schemaFor(ctx, opts.Window)
		if err != nil {
			return nil, err
		}
		return NewTable(opts.Window, s), nil
	case 1:
		for _, t := range tables {
			return t, nil
		}
	}
	names := make([]string, 0, len(tables))
	for name := range tables {
		names = append(names, name)
	}
	return nil, errors.Invalidf(errors.ErrAmbiguous, "events", "ParseSingle", "output contains more than one window: %v", names)
}

func (o Options) schemaFor(ctx context.Context, window string) (*schema.Schema, error) {
	if o.Schema != nil {
		return o.Schema, nil
	}
	if window == "" || o.Resolver == nil {
		return nil, errors.Invalidf(errors.ErrUnknownWindow, "events", "Parse", "could not determine window schema")
	}
	s, err := o.Resolver.WindowSchema(ctx, window)
	if err != nil {
		return nil, errors.Wrap(err, "events", "Parse", "resolve schema of "+window)
	}
	return s, nil
}

func decodeRow(t *Table, get func(col string) (string, bool)) ([]any, error) {
	row := make([]any, len(t.Columns))
	for i, col := range t.Columns {
		raw, ok := get(col)
		if !ok {
			continue
		}
		if raw == "" && t.Types[i] != "string" && t.Types[i] != "double" {
			continue
		}
		v, err := Decode(raw, t.Types[i])
		if err != nil {
			return nil, err
		}
		row[i] = v
	}
	return row, nil
}

func parseXML(ctx context.Context, data []byte, opts Options) (map[string]*Table, error) {
	root, err := xmltree.Parse(data)
	if err != nil {
		return nil, err
	}

	events := root.FindAll("./event")
	if root.Tag == "event" {
		events = []*xmltree.Element{root}
	}

	out := make(map[string]*Table)
	for _, ev := range events {
		wname := strings.ReplaceAll(ev.AttrOr("window", ""), "/", ".")
		lookup := wname
		if lookup == "" {
			lookup = opts.Window
		}

		t, ok := out[lookup]
		if !ok {
			s, err := opts.schemaFor(ctx, lookup)
			if err != nil {
				return nil, err
			}
			t = NewTable(lookup, s)
			out[lookup] = t
		}

		values := make(map[string]string, len(ev.Children))
		for _, c := range ev.Children {
			values[c.Tag] = c.Text
		}
		row, err := decodeRow(t, func(col string) (string, bool) {
			v, ok := values[col]
			return v, ok
		})
		if err != nil {
			return nil, err
		}
		t.AppendRow(ev.AttrOr("opcode", ""), row)
	}
	return out, nil
}

func parseCSV(t *Table, data []byte) error {
	r := csv.NewReader(bytes.NewReader(bytes.TrimRight(data, " \t\r\n")))
	r.FieldsPerRecord = -1
	r.LazyQuotes = true

	for {
		record, err := r.Read()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return errors.WrapInvalid(err, "events", "parseCSV", "read record")
		}
		if len(record) == 1 && strings.TrimSpace(record[0]) == "" {
			continue
		}
		opcode := ""
		if len(record) > 0 {
			opcode = record[0]
		}
		if len(record) >= 2 {
			record = record[2:]
		} else {
			record = nil
		}
		row, err := decodeRow(t, func(col string) (string, bool) {
			i := t.ColumnIndex(col)
			if i >= len(record) {
				return "", false
			}
			return record[i], true
		})
		if err != nil {
			return err
		}
		t.AppendRow(opcode, row)
	}
}

func jsonString(v any) (string, bool) {
	switch x := v.(type) {
	case nil:
		return "", false
	case string:
		return x, true
	case json.Number:
		return x.String(), true
	case bool:
		if x {
			return "true", true
		}
		return "false", true
	default:
		b, err := json.Marshal(x)
		if err != nil {
			return "", false
		}
		return string(b), true
	}
}

func parseJSON(t *Table, data []byte) error {
	var doc struct {
		Events []struct {
			Event map[string]any `json:"event"`
		} `json:"events"`
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&doc); err != nil {
		return errors.WrapInvalid(err, "events", "parseJSON", "decode events")
	}

	for _, e := range doc.Events {
		row, err := decodeRow(t, func(col string) (string, bool) {
			return jsonString(e.Event[col])
		})
		if err != nil {
			return err
		}
		opcode, _ := jsonString(e.Event["opcode"])
		t.AppendRow(opcode, row)
	}
	return nil
}

func parseProperties(t *Table, data []byte, separator string) error {
	if separator == "" {
		separator = DefaultPropertiesSeparator
	}
	for _, block := range strings.Split(string(data), separator) {
		if strings.TrimSpace(block) == "" {
			continue
		}
		values := make(map[string]string)
		opcode := ""
		first := true
		for _, line := range strings.Split(block, "\n") {
			line = strings.TrimRight(line, "\r")
			if strings.TrimSpace(line) == "" {
				continue
			}
			if first && strings.HasPrefix(line, "opcode=") {
				opcode = strings.TrimPrefix(line, "opcode=")
				first = false
				continue
			}
			first = false
			k, v, ok := strings.Cut(line, "=")
			if !ok {
				return errors.Invalidf(errors.ErrInvalidData, "events", "parseProperties", "line %q is not key=value", line)
			}
			values[k] = v
		}
		row, err := decodeRow(t, func(col string) (string, bool) {
			v, ok := values[col]
			return v, ok
		})
		if err != nil {
			return err
		}
		t.AppendRow(opcode, row)
	}
	return nil
}
