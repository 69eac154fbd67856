// Package algorithm describes the train, calculate and score algorithms an
// ESP server offers and builds analytic windows from those descriptions.
//
// Algorithms are plain data records read from the server's algorithms
// resource. A Catalog holds the records of one algorithm type and creates
// windows through a single factory:
//
//	cat, err := conn.AlgorithmCatalog(ctx, algorithm.TypeCalculate)
//	w, err := cat.NewWindow("Correlation", "corr", algorithm.Options{
//		Schema:     "id*:int64,x:double,y:double,corOut:double",
//		Parameters: map[string]any{"windowLength": 10},
//		Inputs:     map[string]string{"x": "x", "y": "y"},
//		Outputs:    map[string]string{"corOut": "corOut"},
//	})
package algorithm

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/c360/espclient/errors"
	"github.com/c360/espclient/xmltree"
)

// Algorithm types served under algorithms/{type}
const (
	TypeTrain     = "train"
	TypeCalculate = "calculate"
	TypeScore     = "score"
)

var listRe = regexp.MustCompile(`\s*,\s*`)

// Parameter describes one algorithm parameter
type Parameter struct {
	Name        string
	Type        string // int32, int64, double, boolean, string, varlist, ...
	VarType     string
	Description string
	// Default is typed by Type: int64, float64, bool or string. Nil when
	// the server gives no default.
	Default any
}

// MapEntry describes one input or output map entry
type MapEntry struct {
	Name        string
	Type        string
	VarType     string
	Description string
	Default     string
}

// Algorithm is the description of one server algorithm
type Algorithm struct {
	Name          string
	Reference     string
	AlgorithmType string
	Type          string
	Parameters    map[string]Parameter
	InputMap      map[string]MapEntry
	OutputMap     map[string]MapEntry
}

func (a *Algorithm) String() string {
	parts := make([]string, 0, 7)
	if a.Name != "" {
		parts = append(parts, fmt.Sprintf("name=%q", a.Name))
	}
	if a.Reference != "" {
		parts = append(parts, fmt.Sprintf("reference=%q", a.Reference))
	}
	if a.Type != "" {
		parts = append(parts, fmt.Sprintf("type=%q", a.Type))
	}
	if a.AlgorithmType != "" {
		parts = append(parts, fmt.Sprintf("algorithm_type=%q", a.AlgorithmType))
	}
	if len(a.Parameters) > 0 {
		parts = append(parts, fmt.Sprintf("parameters=%v", sortedKeys(a.Parameters)))
	}
	if len(a.InputMap) > 0 {
		parts = append(parts, fmt.Sprintf("input_map=%v", sortedKeys(a.InputMap)))
	}
	if len(a.OutputMap) > 0 {
		parts = append(parts, fmt.Sprintf("output_map=%v", sortedKeys(a.OutputMap)))
	}
	return "Algorithm(" + strings.Join(parts, ", ") + ")"
}

func sortedKeys[V any](m map[string]V) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// ParameterNames returns the parameter names, sorted
func (a *Algorithm) ParameterNames() []string {
	return sortedKeys(a.Parameters)
}

// FromElement reads an <algorithm> element
func FromElement(e *xmltree.Element) (*Algorithm, error) {
	if e == nil {
		return nil, errors.Invalidf(errors.ErrInvalidData, "Algorithm", "FromElement", "no algorithm element")
	}
	a := &Algorithm{
		Name:          e.AttrOr("name", ""),
		Reference:     e.AttrOr("reference", ""),
		AlgorithmType: e.AttrOr("algorithm-type", ""),
		Type:          e.AttrOr("type", ""),
		Parameters:    make(map[string]Parameter),
		InputMap:      make(map[string]MapEntry),
		OutputMap:     make(map[string]MapEntry),
	}

	for _, item := range e.FindAll("./parameters/parameter") {
		p := Parameter{
			Name:        item.AttrOr("name", ""),
			Type:        item.AttrOr("type", ""),
			VarType:     item.AttrOr("vartype", ""),
			Description: item.AttrOr("description", ""),
		}
		if def := strings.TrimSpace(item.AttrOr("default", "")); def != "" {
			v, err := parseDefault(p.Type, def)
			if err != nil {
				return nil, errors.Wrap(err, "Algorithm", "FromElement", "read default of "+p.Name)
			}
			p.Default = v
		}
		a.Parameters[p.Name] = p
	}
	for _, item := range e.FindAll("./input-map/input-map-entry") {
		m := readEntry(item)
		a.InputMap[m.Name] = m
	}
	for _, item := range e.FindAll("./output-map/output-map-entry") {
		m := readEntry(item)
		a.OutputMap[m.Name] = m
	}
	return a, nil
}

func readEntry(e *xmltree.Element) MapEntry {
	return MapEntry{
		Name:        e.AttrOr("name", ""),
		Type:        e.AttrOr("type", ""),
		VarType:     e.AttrOr("vartype", ""),
		Description: e.AttrOr("description", ""),
		Default:     e.AttrOr("default", ""),
	}
}

func parseDefault(dtype, def string) (any, error) {
	switch {
	case strings.HasPrefix(dtype, "int"):
		return strconv.ParseInt(def, 10, 64)
	case dtype == "double":
		return strconv.ParseFloat(def, 64)
	case dtype == "boolean":
		return def == "1" || def == "true", nil
	default:
		return def, nil
	}
}

// Parse reads an algorithms response. A response describing a single
// astore reference is keyed by reference; otherwise algorithms are keyed
// by name.
func Parse(data []byte) (map[string]*Algorithm, error) {
	root, err := xmltree.Parse(data)
	if err != nil {
		return nil, err
	}
	return FromResponse(root)
}

// FromResponse reads the algorithms listed by an already parsed response
func FromResponse(root *xmltree.Element) (map[string]*Algorithm, error) {
	out := make(map[string]*Algorithm)
	if ref, ok := root.Attr("reference"); ok && ref != "" {
		a, err := FromElement(root)
		if err != nil {
			return nil, err
		}
		out[a.Reference] = a
		return out, nil
	}
	items := root.FindAll("./algorithm")
	if root.Tag == "algorithm" {
		items = []*xmltree.Element{root}
	}
	for _, item := range items {
		a, err := FromElement(item)
		if err != nil {
			return nil, err
		}
		out[a.Name] = a
	}
	return out, nil
}

// CastParameter converts v to the wire text of parameter name. Booleans
// are written as 1 and 0, varlist values as comma separated names.
func (a *Algorithm) CastParameter(name string, v any) (string, error) {
	p, ok := a.Parameters[name]
	if !ok {
		return "", errors.Invalidf(errors.ErrInvalidValue, "Algorithm", "CastParameter",
			"%s has no parameter %q (have %s)", a.Name, name, strings.Join(a.ParameterNames(), ", "))
	}

	switch x := v.(type) {
	case bool:
		if x {
			return "1", nil
		}
		return "0", nil
	case []string:
		return strings.Join(x, ","), nil
	}

	s := strings.TrimSpace(fmt.Sprint(v))
	switch {
	case p.Type == "varlist":
		return strings.Join(listRe.Split(s, -1), ","), nil
	case strings.HasPrefix(p.Type, "int"):
		if _, err := strconv.ParseInt(s, 10, 64); err != nil {
			return "", errors.Invalidf(errors.ErrInvalidValue, "Algorithm", "CastParameter",
				"parameter %s of %s expects an integer, got %q", name, a.Name, s)
		}
	case p.Type == "double":
		if _, err := strconv.ParseFloat(s, 64); err != nil {
			return "", errors.Invalidf(errors.ErrInvalidValue, "Algorithm", "CastParameter",
				"parameter %s of %s expects a number, got %q", name, a.Name, s)
		}
	case p.Type == "boolean":
		switch strings.ToLower(s) {
		case "1", "true":
			return "1", nil
		case "0", "false":
			return "0", nil
		}
		return "", errors.Invalidf(errors.ErrInvalidValue, "Algorithm", "CastParameter",
			"parameter %s of %s expects a boolean, got %q", name, a.Name, s)
	}
	return s, nil
}
