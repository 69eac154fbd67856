package mas

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/espclient/errors"
)

func TestNew_SplitsFuncNames(t *testing.T) {
	m := New("python", "scorer", "score, train ,predict")
	assert.Equal(t, []string{"score", "train", "predict"}, m.FuncNames)
	assert.Equal(t, "scorer", m.Name())

	gen := New("ds2", "", "a", "b")
	assert.Regexp(t, `^mas_[0-9a-f]{8}$`, gen.Module)
	assert.Equal(t, []string{"a", "b"}, gen.FuncNames)
}

func TestModule_RoundTrip(t *testing.T) {
	m := New("python", "scorer", "score")
	m.Store = "store1"
	m.Description = "scores things"
	m.Code = "def score(x):\n    return x < 1\n"
	m.Members = []*Member{{Member: "m1", SHAKey: "abc", Type: "python", Code: "pass"}}

	xml := m.Element().String()
	assert.Contains(t, xml, `<mas-module module="scorer" language="python" func-names="score" mas-store="store1">`)
	assert.Contains(t, xml, "<![CDATA[def score(x):")

	back, err := Parse([]byte(xml))
	require.NoError(t, err)
	assert.Equal(t, m.Code, back.Code)
	assert.Equal(t, m.FuncNames, back.FuncNames)
	require.Len(t, back.Members, 1)
	assert.Equal(t, "abc", back.Members[0].SHAKey)
	assert.Equal(t, xml, back.Element().String())
}

func TestModule_CodeFileUsedWithoutCode(t *testing.T) {
	m := New("ds2", "mod", "f")
	m.CodeFile = "/tmp/mod.ds2"
	assert.Contains(t, m.Element().String(), "<code-file>/tmp/mod.ds2</code-file>")
}

func TestFromElement_Errors(t *testing.T) {
	_, err := Parse([]byte(`<mas-module module="x"/>`))
	assert.ErrorIs(t, err, errors.ErrInvalidData)

	_, err = Parse([]byte(`<project/>`))
	assert.ErrorIs(t, err, errors.ErrInvalidData)

	m, err := Parse([]byte(`<mas-modules><mas-module module="x" language="python" func-names="a,b"/></mas-modules>`))
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, m.FuncNames)
}
