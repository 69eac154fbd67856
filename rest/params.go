package rest

import (
	"fmt"
	"reflect"
	"regexp"
	"strings"
)

// Named is implemented by model objects; a Named parameter value is sent as its name.
type Named interface {
	Name() string
}

var (
	camelRe      = regexp.MustCompile(`_([A-Za-z])`)
	underscoreRe = regexp.MustCompile(`([A-Z])`)
	queryEscaper = strings.NewReplacer(" ", "%20", "&", "%26", "#", "%23")
)

// ToCamel converts an underscore-delimited name to camel case: "project_url" -> "projectUrl".
func ToCamel(s string) string {
	return camelRe.ReplaceAllStringFunc(s, func(m string) string {
		return strings.ToUpper(m[1:])
	})
}

// ToUnderscore converts a camel-case name to underscore-delimited: "projectUrl" -> "project_url".
func ToUnderscore(s string) string {
	out := underscoreRe.ReplaceAllStringFunc(s, func(m string) string {
		return "_" + strings.ToLower(m)
	})
	if len(s) > 0 && s[0] >= 'A' && s[0] <= 'Z' {
		return out[1:]
	}
	return out
}

type param struct {
	key   string
	value string
}

// Params is an ordered set of URL parameters. Keys are converted to camel case
// and values to the string forms the ESP server expects.
type Params struct {
	items []param
}

// NewParams creates an empty parameter set
func NewParams() *Params {
	return &Params{}
}

// Set adds key=value. A nil value is skipped; an existing key is replaced.
func (p *Params) Set(key string, value any) *Params {
	if value == nil {
		return p
	}
	s, ok := paramString(value)
	if !ok {
		return p
	}
	key = ToCamel(key)
	for i := range p.items {
		if p.items[i].key == key {
			p.items[i].value = s
			return p
		}
	}
	p.items = append(p.items, param{key: key, value: s})
	return p
}

// SetIf adds key=value only when cond is true
func (p *Params) SetIf(cond bool, key string, value any) *Params {
	if cond {
		return p.Set(key, value)
	}
	return p
}

// SetNonEmpty adds key=value when value is not the empty string
func (p *Params) SetNonEmpty(key, value string) *Params {
	return p.SetIf(value != "", key, value)
}

// Get returns the encoded value for a camel-case key
func (p *Params) Get(key string) (string, bool) {
	if p == nil {
		return "", false
	}
	for _, it := range p.items {
		if it.key == key {
			return it.value, true
		}
	}
	return "", false
}

// Len returns the number of parameters
func (p *Params) Len() int {
	if p == nil {
		return 0
	}
	return len(p.items)
}

// Encode returns "k=v&k2=v2" with spaces written as %20
func (p *Params) Encode() string {
	if p == nil {
		return ""
	}
	parts := make([]string, 0, len(p.items))
	for _, it := range p.items {
		parts = append(parts, it.key+"="+queryEscaper.Replace(it.value))
	}
	return strings.Join(parts, "&")
}

// AppendQuery adds the encoded parameters to url with "?" or "&"
func AppendQuery(url string, p *Params) string {
	q := p.Encode()
	if q == "" {
		return url
	}
	if strings.Contains(url, "?") {
		return url + "&" + q
	}
	return url + "?" + q
}

func paramString(value any) (string, bool) {
	switch v := value.(type) {
	case bool:
		if v {
			return "true", true
		}
		return "false", true
	case string:
		return v, true
	case []string:
		out := make([]string, len(v))
		for i, s := range v {
			out[i] = strings.ReplaceAll(s, " ", "%20")
		}
		return strings.Join(out, "|"), true
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := paramString(item); ok {
				out = append(out, strings.ReplaceAll(s, " ", "%20"))
			}
		}
		return strings.Join(out, "|"), true
	case Named:
		if isNilNamed(v) {
			return "", false
		}
		return v.Name(), true
	case fmt.Stringer:
		return v.String(), true
	default:
		return fmt.Sprint(v), true
	}
}

func isNilNamed(v Named) bool {
	rv := reflect.ValueOf(v)
	return rv.Kind() == reflect.Pointer && rv.IsNil()
}
