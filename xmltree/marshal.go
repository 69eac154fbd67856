package xmltree

import (
	"strings"
)

var (
	attrEscaper = strings.NewReplacer(`&`, "&amp;", `<`, "&lt;", `>`, "&gt;", `"`, "&quot;", "\n", "&#10;", "\t", "&#9;")
	textEscaper = strings.NewReplacer(`&`, "&amp;", `<`, "&lt;", `>`, "&gt;")
)

// String serializes the element without indentation
func (e *Element) String() string {
	var b strings.Builder
	e.write(&b, "", -1)
	return b.String()
}

// Bytes serializes the element without indentation
func (e *Element) Bytes() []byte {
	return []byte(e.String())
}

// Indent serializes the element with two-space indentation
func (e *Element) Indent() string {
	var b strings.Builder
	e.write(&b, "  ", 0)
	return b.String()
}

func (e *Element) hasText() bool {
	if e.CDATA {
		return e.Text != ""
	}
	if len(e.Children) > 0 {
		return strings.TrimSpace(e.Text) != ""
	}
	return e.Text != ""
}

func (e *Element) write(b *strings.Builder, indent string, depth int) {
	pretty := depth >= 0
	if pretty && depth > 0 {
		b.WriteString("\n")
		b.WriteString(strings.Repeat(indent, depth))
	}

	b.WriteByte('<')
	b.WriteString(e.Tag)
	for _, a := range e.Attrs {
		b.WriteByte(' ')
		b.WriteString(a.Name)
		b.WriteString(`="`)
		b.WriteString(attrEscaper.Replace(a.Value))
		b.WriteByte('"')
	}

	text := e.hasText()
	if !text && len(e.Children) == 0 {
		b.WriteString("/>")
		return
	}
	b.WriteByte('>')

	if text {
		if e.CDATA {
			b.WriteString("<![CDATA[")
			b.WriteString(strings.ReplaceAll(e.Text, "]]>", "]]]]><![CDATA[>"))
			b.WriteString("]]>")
		} else if len(e.Children) > 0 {
			b.WriteString(textEscaper.Replace(strings.TrimSpace(e.Text)))
		} else {
			b.WriteString(textEscaper.Replace(e.Text))
		}
	}

	next := depth
	if pretty {
		next = depth + 1
	}
	for _, c := range e.Children {
		c.write(b, indent, next)
	}

	if pretty && len(e.Children) > 0 {
		b.WriteString("\n")
		b.WriteString(strings.Repeat(indent, depth))
	}
	b.WriteString("</")
	b.WriteString(e.Tag)
	b.WriteByte('>')
}
