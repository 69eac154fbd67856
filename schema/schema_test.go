package schema

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/espclient/errors"
	"github.com/c360/espclient/xmltree"
)

func TestCleanType(t *testing.T) {
	tests := map[string]string{
		" int64 ":        "int64",
		"array(double)":  "array(dbl)",
		"array( int32 )": "array(i32)",
		"array(int64)":   "array(i64)",
		"array(dbl)":     "array(dbl)",
		"stamp":          "stamp",
	}
	for in, want := range tests {
		assert.Equal(t, want, CleanType(in), in)
	}
}

func TestParse(t *testing.T) {
	s, err := Parse(" id*:int64, symbol:string price:double,volume ,vec:array(double)")
	require.NoError(t, err)

	want := []Field{
		{Name: "id", Type: "int64", Key: true},
		{Name: "symbol", Type: "string"},
		{Name: "price", Type: "double"},
		{Name: "volume", Type: Inherit},
		{Name: "vec", Type: "array(dbl)"},
	}
	if diff := cmp.Diff(want, s.Fields()); diff != "" {
		t.Errorf("fields mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, "id*:int64,symbol:string,price:double,volume:inherit,vec:array(dbl)", s.String())
	assert.Equal(t, []string{"id"}, s.Keys())
	assert.True(t, s.HasInherited())

	_, err = Parse("*:int64")
	assert.ErrorIs(t, err, errors.ErrInvalidValue)

	empty, err := Parse("  ")
	require.NoError(t, err)
	assert.Equal(t, 0, empty.Len())
}

func TestSchema_Mutations(t *testing.T) {
	s := MustParse("id*:int64,x:double")
	s.AddField("y", "array(int32)", false)
	s.AddField("x", "int32", false)
	assert.Equal(t, "id*:int64,x:int32,y:array(i32)", s.String())

	assert.True(t, s.SetKey("x", true))
	assert.True(t, s.SetType("y", "string"))
	assert.False(t, s.SetType("missing", "string"))
	assert.Equal(t, []string{"id", "x"}, s.Keys())

	assert.True(t, s.DeleteField("id"))
	assert.False(t, s.DeleteField("id"))
	assert.Equal(t, []string{"x", "y"}, s.Names())

	c := s.Copy()
	c.AddField("z", "string", false)
	assert.Equal(t, 2, s.Len())
	assert.Equal(t, 3, c.Len())

	f, ok := s.Field("x")
	require.True(t, ok)
	assert.Equal(t, "x*:int32", f.String())
}

func TestSchema_XML(t *testing.T) {
	s := MustParse("id*:int64,name:string")
	s.CopyWindow = "src"
	assert.Equal(t,
		`<schema copy="src"><fields><field name="id" type="int64" key="true"/><field name="name" type="string" key="false"/></fields></schema>`,
		s.Element().String())

	back, err := FromXML(s.Element().Bytes())
	require.NoError(t, err)
	assert.Equal(t, s.String(), back.String())
	assert.Equal(t, "src", back.CopyWindow)

	assert.Equal(t, `<schema copy-keys="true"/>`, (&Schema{CopyKeys: true}).Element().String())

	el := xmltree.NewText("schema-string", "a*:int32,b:money")
	el.SetAttr("copy", "w")
	fromString, err := FromSchemaString(el)
	require.NoError(t, err)
	assert.Equal(t, "a*:int32,b:money", fromString.String())
	assert.Equal(t, "w", fromString.CopyWindow)
}

func TestFromJSON(t *testing.T) {
	data := []byte(`{"schema":[{"fields":[
		{"field":{"attributes":{"name":"id","type":"int64","key":"true"}}},
		{"field":{"attributes":{"name":"v","type":"array(double)","key":"false"}}}
	]}]}`)
	s, err := FromJSON(data)
	require.NoError(t, err)
	assert.Equal(t, "id*:int64,v:array(dbl)", s.String())

	_, err = FromJSON([]byte(`{"schema":[]}`))
	assert.ErrorIs(t, err, errors.ErrInvalidData)

	_, err = FromJSON([]byte(`not json`))
	assert.Error(t, err)
}
