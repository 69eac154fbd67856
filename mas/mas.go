// Package mas defines MAS (micro analytic service) modules: code modules a
// project loads so calculate windows can call their functions.
package mas

import (
	"regexp"
	"strings"

	"github.com/c360/espclient/errors"
	"github.com/c360/espclient/pkg/naming"
	"github.com/c360/espclient/xmltree"
)

var funcSplitRe = regexp.MustCompile(`\s*,\s*`)

// Member is one member of a module store entry
type Member struct {
	Member      string
	SHAKey      string
	Type        string
	Description string
	Code        string
	CodeFile    string
}

// Element returns the <module-member> definition
func (m *Member) Element() *xmltree.Element {
	out := xmltree.New("module-member", "member", m.Member, "SHAkey", m.SHAKey, "type", m.Type)
	if m.Description != "" {
		out.Append(xmltree.NewText("description", m.Description))
	}
	if m.Code != "" {
		out.Append(xmltree.NewText("code", m.Code))
	}
	if m.CodeFile != "" {
		out.Append(xmltree.NewText("code-file", m.CodeFile))
	}
	return out
}

func memberFromElement(e *xmltree.Element) *Member {
	return &Member{
		Member:      e.AttrOr("member", ""),
		SHAKey:      e.AttrOr("SHAkey", ""),
		Type:        e.AttrOr("type", ""),
		Description: e.FindText("./description"),
		Code:        e.FindText("./code"),
		CodeFile:    e.FindText("./code-file"),
	}
}

// Module is a MAS module definition
type Module struct {
	Module       string
	Language     string
	FuncNames    []string
	Store        string
	StoreVersion string
	Description  string
	Code         string
	CodeFile     string
	Members      []*Member

	// Project is set for modules read from a server
	Project string
}

// New creates a module. An empty name is generated. funcNames may be given
// as one comma-separated string.
func New(language, module string, funcNames ...string) *Module {
	if module == "" {
		module = naming.Generate("mas_")
	}
	m := &Module{Module: module, Language: language}
	for _, f := range funcNames {
		for _, name := range funcSplitRe.Split(strings.TrimSpace(f), -1) {
			if name != "" {
				m.FuncNames = append(m.FuncNames, name)
			}
		}
	}
	return m
}

// Name returns the module name
func (m *Module) Name() string {
	return m.Module
}

// Element returns the <mas-module> definition. Code wins over CodeFile.
func (m *Module) Element() *xmltree.Element {
	out := xmltree.New("mas-module",
		"module", m.Module,
		"language", m.Language,
		"func-names", strings.Join(m.FuncNames, ","),
		"mas-store", m.Store,
		"mas-store-version", m.StoreVersion)

	if m.Description != "" {
		out.Append(xmltree.NewText("description", m.Description))
	}
	switch {
	case m.Code != "":
		out.Append(xmltree.NewCDATA("code", m.Code))
	case m.CodeFile != "":
		out.Append(xmltree.NewText("code-file", m.CodeFile))
	}
	if len(m.Members) > 0 {
		members := out.Add("module-members")
		for _, mem := range m.Members {
			members.Append(mem.Element())
		}
	}
	return out
}

// FromElement reads a <mas-module> definition
func FromElement(e *xmltree.Element) (*Module, error) {
	if e.Tag != "mas-module" {
		e = e.FindSelfOrDescendant("mas-module")
	}
	if e == nil {
		return nil, errors.Invalidf(errors.ErrInvalidData, "mas", "FromElement", "no mas-module element found")
	}
	lang, ok := e.Attr("language")
	if !ok {
		return nil, errors.Invalidf(errors.ErrInvalidData, "mas", "FromElement", "mas-module has no language")
	}

	m := New(lang, e.AttrOr("module", ""), e.AttrOr("func-names", ""))
	m.Store = e.AttrOr("mas-store", "")
	m.StoreVersion = e.AttrOr("mas-store-version", "")
	m.Description = e.FindText("./description")
	if code := e.Find("./code"); code != nil {
		m.Code = code.Text
	}
	m.CodeFile = e.FindText("./code-file")
	for _, item := range e.FindAll("./module-members/module-member") {
		m.Members = append(m.Members, memberFromElement(item))
	}
	return m, nil
}

// Parse reads a module from XML
func Parse(data []byte) (*Module, error) {
	e, err := xmltree.Parse(data)
	if err != nil {
		return nil, err
	}
	return FromElement(e)
}
