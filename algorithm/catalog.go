package algorithm

import (
	"github.com/c360/espclient/errors"
	"github.com/c360/espclient/model"
	"github.com/c360/espclient/xmltree"
)

// Options configures a window built from an algorithm
type Options struct {
	// Schema is a schema string, e.g. "id*:int64,x:double". Train windows
	// have no schema and ignore it.
	Schema     string
	Parameters map[string]any
	Inputs     map[string]string
	Outputs    map[string]string
	// Index sets the index type of calculate windows, e.g. "empty"
	Index               string
	ProducesOnlyInserts *bool
}

// Catalog holds the algorithms of one type
type Catalog struct {
	kind       string
	algorithms map[string]*Algorithm
}

// NewCatalog creates a catalog of algorithms of the given type
func NewCatalog(kind string, algorithms map[string]*Algorithm) (*Catalog, error) {
	switch kind {
	case TypeTrain, TypeCalculate, TypeScore:
	default:
		return nil, errors.Invalidf(errors.ErrInvalidValue, "Catalog", "NewCatalog",
			"unknown algorithm type %q (want train, calculate or score)", kind)
	}
	if algorithms == nil {
		algorithms = make(map[string]*Algorithm)
	}
	return &Catalog{kind: kind, algorithms: algorithms}, nil
}

// Kind returns the algorithm type
func (c *Catalog) Kind() string {
	return c.kind
}

// Names returns the algorithm names, sorted
func (c *Catalog) Names() []string {
	return sortedKeys(c.algorithms)
}

// Get returns an algorithm by name
func (c *Catalog) Get(name string) (*Algorithm, bool) {
	a, ok := c.algorithms[name]
	return a, ok
}

// NewWindow creates a window running the named algorithm. Parameter and map
// names are checked against the algorithm description; parameter values are
// cast to their declared types. Parameters left out take the server default.
func (c *Catalog) NewWindow(algorithm, name string, opts Options) (*model.Window, error) {
	alg, ok := c.algorithms[algorithm]
	if !ok {
		return nil, errors.Invalidf(errors.ErrNotFound, "Catalog", "NewWindow",
			"no %s algorithm named %q", c.kind, algorithm)
	}

	w, err := model.NewWindow(c.kind, name)
	if err != nil {
		return nil, err
	}

	params := make(map[string]string, len(opts.Parameters))
	for k, v := range opts.Parameters {
		s, err := alg.CastParameter(k, v)
		if err != nil {
			return nil, err
		}
		params[k] = s
	}
	if err := checkEntries(alg, "input", alg.InputMap, opts.Inputs); err != nil {
		return nil, err
	}
	if err := checkEntries(alg, "output", alg.OutputMap, opts.Outputs); err != nil {
		return nil, err
	}

	if c.kind != TypeTrain && opts.Schema != "" {
		if err := w.SetSchemaString(opts.Schema); err != nil {
			return nil, err
		}
	}

	if c.kind == TypeScore {
		w.Extra = append(w.Extra, onlineModel(alg.Name, params, opts.Inputs, opts.Outputs))
		return w, nil
	}

	if err := w.Set("algorithm", alg.Name); err != nil {
		return nil, err
	}
	if c.kind == TypeCalculate {
		if opts.Index != "" {
			if err := w.Set("index", opts.Index); err != nil {
				return nil, err
			}
		}
		if opts.ProducesOnlyInserts != nil {
			if err := w.Set("produces-only-inserts", *opts.ProducesOnlyInserts); err != nil {
				return nil, err
			}
		}
	}
	for k, v := range params {
		if err := w.SetParameter(k, v); err != nil {
			return nil, err
		}
	}
	for k, v := range opts.Inputs {
		if err := w.SetInput(k, v); err != nil {
			return nil, err
		}
	}
	for k, v := range opts.Outputs {
		if err := w.SetOutput(k, v); err != nil {
			return nil, err
		}
	}
	return w, nil
}

func checkEntries(alg *Algorithm, which string, known map[string]MapEntry, given map[string]string) error {
	for k := range given {
		if _, ok := known[k]; !ok {
			return errors.Invalidf(errors.ErrInvalidValue, "Catalog", "NewWindow",
				"%s has no %s map entry %q", alg.Name, which, k)
		}
	}
	return nil
}

// onlineModel builds the <models><online> definition of a score window
func onlineModel(algorithm string, params, inputs, outputs map[string]string) *xmltree.Element {
	models := xmltree.New("models")
	online := models.Add("online", "algorithm", algorithm)
	for _, section := range []struct {
		tag   string
		props map[string]string
	}{
		{"parameters", params},
		{"input-map", inputs},
		{"output-map", outputs},
	} {
		if len(section.props) == 0 {
			continue
		}
		props := online.Add(section.tag).Add("properties")
		for _, k := range sortedKeys(section.props) {
			props.Append(xmltree.NewText("property", section.props[k]).SetAttr("name", k))
		}
	}
	return models
}
