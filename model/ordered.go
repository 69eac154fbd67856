package model

import "slices"

// ordered is a name-keyed collection that keeps insertion order, the order
// windows and queries appear in project XML
type ordered[T any] struct {
	names []string
	items map[string]T
}

func (o *ordered[T]) get(name string) (T, bool) {
	v, ok := o.items[name]
	return v, ok
}

// put stores v under name. A replaced value keeps its position and is returned.
func (o *ordered[T]) put(name string, v T) (T, bool) {
	if o.items == nil {
		o.items = make(map[string]T)
	}
	old, replaced := o.items[name]
	if !replaced {
		o.names = append(o.names, name)
	}
	o.items[name] = v
	return old, replaced
}

func (o *ordered[T]) remove(name string) (T, bool) {
	v, ok := o.items[name]
	if ok {
		delete(o.items, name)
		o.names = slices.DeleteFunc(o.names, func(n string) bool { return n == name })
	}
	return v, ok
}

// rename moves the value at oldName to newName in the same position. The
// caller checks that newName is free.
func (o *ordered[T]) rename(oldName, newName string) {
	v, ok := o.items[oldName]
	if !ok {
		return
	}
	delete(o.items, oldName)
	o.items[newName] = v
	if i := slices.Index(o.names, oldName); i >= 0 {
		o.names[i] = newName
	}
}

func (o *ordered[T]) len() int {
	return len(o.names)
}

func (o *ordered[T]) keys() []string {
	return append(make([]string, 0, len(o.names)), o.names...)
}

func (o *ordered[T]) values() []T {
	out := make([]T, 0, len(o.names))
	for _, name := range o.names {
		out = append(out, o.items[name])
	}
	return out
}
