package xmltree

import "strings"

func splitPath(path string) []string {
	path = strings.TrimPrefix(path, ".")
	path = strings.TrimPrefix(path, "/")
	if strings.HasPrefix(path, "/") {
		// ".//tag" leaves "/tag": a descendant step followed by tag
		return append([]string{""}, strings.Split(path[1:], "/")...)
	}
	if path == "" {
		return nil
	}
	return strings.Split(path, "/")
}

func descendantsOrSelf(e *Element, out []*Element) []*Element {
	out = append(out, e)
	for _, c := range e.Children {
		out = descendantsOrSelf(c, out)
	}
	return out
}

// FindAll returns every element matching path, in document order
func (e *Element) FindAll(path string) []*Element {
	if e == nil {
		return nil
	}
	current := []*Element{e}
	for _, step := range splitPath(path) {
		var next []*Element
		switch step {
		case "":
			for _, el := range current {
				next = descendantsOrSelf(el, next)
			}
		case ".":
			next = current
		default:
			for _, el := range current {
				for _, c := range el.Children {
					if step == "*" || c.Tag == step {
						next = append(next, c)
					}
				}
			}
		}
		current = next
		if len(current) == 0 {
			return nil
		}
	}
	return current
}

// Find returns the first element matching path, or nil
func (e *Element) Find(path string) *Element {
	if all := e.FindAll(path); len(all) > 0 {
		return all[0]
	}
	return nil
}

// FindText returns the trimmed text of the first match, or ""
func (e *Element) FindText(path string) string {
	return e.Find(path).TrimmedText()
}

// FindSelfOrDescendant returns e when its tag matches, else the first descendant with tag
func (e *Element) FindSelfOrDescendant(tag string) *Element {
	if e == nil {
		return nil
	}
	if e.Tag == tag {
		return e
	}
	return e.Find(".//" + tag)
}
