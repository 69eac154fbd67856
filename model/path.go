package model

import (
	"regexp"
	"strings"
)

var pathSepRe = regexp.MustCompile(`[./]`)

// PathSegment is one level of a window path. A nil segment matches anything;
// otherwise it lists the accepted names.
type PathSegment []string

// Any reports whether the segment is a wildcard
func (s PathSegment) Any() bool {
	return s == nil
}

// String joins the names with "|", the form the REST API accepts
func (s PathSegment) String() string {
	return strings.Join(s, "|")
}

// ExpandPath splits a dotted or slashed window path. "*" becomes a wildcard
// and "|" separates alternatives:
//
//	ExpandPath("a.b|c.foo|bar") // [a] [b c] [foo bar]
//	ExpandPath("*/*/w")          // nil nil [w]
func ExpandPath(path string) []PathSegment {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil
	}
	parts := pathSepRe.Split(path, -1)
	out := make([]PathSegment, len(parts))
	for i, p := range parts {
		if p == "*" || p == "" {
			continue
		}
		out[i] = PathSegment(strings.Split(p, "|"))
	}
	return out
}

// PadPath left-pads segments with wildcards to n levels, so a window name
// alone addresses every project and query.
func PadPath(segs []PathSegment, n int) []PathSegment {
	if len(segs) >= n {
		return segs[len(segs)-n:]
	}
	out := make([]PathSegment, n-len(segs), n)
	return append(out, segs...)
}

// JoinPath builds "a/b/c" from non-empty parts
func JoinPath(parts ...string) string {
	kept := make([]string, 0, len(parts))
	for _, p := range parts {
		if p != "" {
			kept = append(kept, p)
		}
	}
	return strings.Join(kept, "/")
}
