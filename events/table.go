package events

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"strings"

	"github.com/c360/espclient/errors"
	"github.com/c360/espclient/schema"
)

// Table holds decoded events of one window. Rows follow Columns; Index names
// the key columns. Opcodes, when the wire format carries them, parallel Rows.
type Table struct {
	Window  string
	Columns []string
	Types   []string
	Index   []string
	Rows    [][]any
	Opcodes []string
}

// NewTable creates an empty table shaped by s
func NewTable(window string, s *schema.Schema) *Table {
	t := &Table{Window: window}
	for _, f := range s.Fields() {
		t.Columns = append(t.Columns, f.Name)
		t.Types = append(t.Types, f.Type)
		if f.Key {
			t.Index = append(t.Index, f.Name)
		}
	}
	return t
}

// Schema rebuilds the schema describing the table columns
func (t *Table) Schema() *schema.Schema {
	out := &schema.Schema{}
	keys := make(map[string]bool, len(t.Index))
	for _, k := range t.Index {
		keys[k] = true
	}
	for i, c := range t.Columns {
		out.Set(schema.Field{Name: c, Type: t.Types[i], Key: keys[c]})
	}
	return out
}

// Len returns the number of rows
func (t *Table) Len() int {
	if t == nil {
		return 0
	}
	return len(t.Rows)
}

// ColumnIndex returns the position of a column or -1
func (t *Table) ColumnIndex(name string) int {
	for i, c := range t.Columns {
		if c == name {
			return i
		}
	}
	return -1
}

// Value returns a cell by row number and column name
func (t *Table) Value(row int, column string) (any, bool) {
	i := t.ColumnIndex(column)
	if i < 0 || row < 0 || row >= len(t.Rows) {
		return nil, false
	}
	return t.Rows[row][i], true
}

// Column returns every value of a column
func (t *Table) Column(name string) []any {
	i := t.ColumnIndex(name)
	if i < 0 {
		return nil
	}
	out := make([]any, len(t.Rows))
	for r, row := range t.Rows {
		out[r] = row[i]
	}
	return out
}

// Record returns a row as a column->value map
func (t *Table) Record(row int) map[string]any {
	out := make(map[string]any, len(t.Columns))
	for i, c := range t.Columns {
		out[c] = t.Rows[row][i]
	}
	return out
}

// Opcode returns the opcode of a row, or ""
func (t *Table) Opcode(row int) string {
	if row < len(t.Opcodes) {
		return t.Opcodes[row]
	}
	return ""
}

// Key returns the key values of a row joined with "|"
func (t *Table) Key(row int) string {
	parts := make([]string, 0, len(t.Index))
	for _, k := range t.Index {
		v, _ := t.Value(row, k)
		s, err := Encode(v, t.Types[t.ColumnIndex(k)])
		if err != nil {
			s = fmt.Sprint(v)
		}
		parts = append(parts, s)
	}
	return strings.Join(parts, "|")
}

// Find returns the row whose key matches key
func (t *Table) Find(key string) (int, bool) {
	for r := range t.Rows {
		if t.Key(r) == key {
			return r, true
		}
	}
	return -1, false
}

// AppendRow adds a row
func (t *Table) AppendRow(opcode string, row []any) {
	if opcode != "" || len(t.Opcodes) > 0 {
		for len(t.Opcodes) < len(t.Rows) {
			t.Opcodes = append(t.Opcodes, "")
		}
		t.Opcodes = append(t.Opcodes, opcode)
	}
	t.Rows = append(t.Rows, row)
}

// Append concatenates other's rows; columns must match
func (t *Table) Append(other *Table) error {
	if other == nil {
		return nil
	}
	if len(t.Columns) == 0 && len(t.Rows) == 0 {
		t.Columns, t.Types, t.Index = other.Columns, other.Types, other.Index
	}
	if strings.Join(t.Columns, ",") != strings.Join(other.Columns, ",") {
		return errors.Invalidf(errors.ErrInvalidData, "Table", "Append", "column mismatch: %v vs %v", t.Columns, other.Columns)
	}
	for r, row := range other.Rows {
		t.AppendRow(other.Opcode(r), row)
	}
	return nil
}

// Tail returns a table holding the last n rows
func (t *Table) Tail(n int) *Table {
	out := &Table{Window: t.Window, Columns: t.Columns, Types: t.Types, Index: t.Index}
	start := 0
	if n >= 0 && len(t.Rows) > n {
		start = len(t.Rows) - n
	}
	out.Rows = append(out.Rows, t.Rows[start:]...)
	if len(t.Opcodes) > start {
		out.Opcodes = append(out.Opcodes, t.Opcodes[start:]...)
	}
	return out
}

// Opcode letters used in CSV event blocks
var csvOpcodes = map[string]string{
	"insert":     "i",
	"update":     "u",
	"upsert":     "p",
	"delete":     "d",
	"safedelete": "s",
}

// EncodeCSV writes the rows in publisher CSV form: "opcode,flags,values...".
// Rows without their own opcode use opcode.
func (t *Table) EncodeCSV(opcode string) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	for r, row := range t.Rows {
		op := t.Opcode(r)
		if op == "" {
			op = opcode
		}
		if letter, ok := csvOpcodes[strings.ToLower(op)]; ok {
			op = letter
		}
		if op == "" {
			op = "i"
		}
		record := make([]string, 0, len(row)+2)
		record = append(record, op, "n")
		for i, v := range row {
			s, err := Encode(v, t.Types[i])
			if err != nil {
				return nil, err
			}
			record = append(record, s)
		}
		if err := w.Write(record); err != nil {
			return nil, errors.Wrap(err, "Table", "EncodeCSV", "write record")
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, errors.Wrap(err, "Table", "EncodeCSV", "flush")
	}
	return buf.Bytes(), nil
}
