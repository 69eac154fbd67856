package evtgen

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/espclient/errors"
	"github.com/c360/espclient/xmltree"
)

func TestEventGenerator_Functions(t *testing.T) {
	g := New("gen")
	g.PublishTarget = PublishTarget("esp1", 31416, "p/cq/src")
	g.AddListResource("names", "ann", "bob", "cy")
	g.AddSetResource("tags", "b", "a", "b")
	g.AddMapResource("codes", map[string]string{"x": "1", "y": "2"})
	require.NoError(t, g.AddURLResource("cities", ResourceListURL, "file://cities.txt"))
	g.AddInitializer("n", "0")
	g.AddField("id", "increment(n)")
	g.AddField("name", "random(names)")
	g.AddField("id", "sequence()")
	g.ExistsOpcode = "upsert"

	xml, err := g.XML(false)
	require.NoError(t, err)
	assert.Equal(t, `<event-generator name="gen" insert-only="true" autogen-key="true">`+
		`<publish-target>dfESP://esp1:31416/p/cq/src</publish-target>`+
		`<resources>`+
		`<list-url name="cities">file://cities.txt</list-url>`+
		`<map name="codes" outer=" " inner="=">x=1 y=2</map>`+
		`<list name="names" delimiter=" ">ann bob cy</list>`+
		`<set name="tags" delimiter=" ">a b</set>`+
		`</resources>`+
		`<init><value name="n">0</value></init>`+
		`<exists-opcode>upsert</exists-opcode>`+
		`<fields><field name="id">sequence()</field><field name="name">random(names)</field></fields>`+
		`</event-generator>`, xml)

	back, err := Parse([]byte(xml))
	require.NoError(t, err)
	again, err := back.XML(false)
	require.NoError(t, err)
	assert.Equal(t, xml, again)
	assert.Equal(t, map[string]string{"x": "1", "y": "2"}, back.Resources["codes"].Map)
	assert.Equal(t, "upsert", back.ExistsOpcode)
}

func TestEventGenerator_EventData(t *testing.T) {
	g := New("")
	assert.Regexp(t, `^eg_[0-9a-f]{8}$`, g.Name)

	g.SetEventData("https://example.com/events.csv")
	assert.Equal(t, "https://example.com/events.csv", g.EventDataURL)
	assert.Empty(t, g.EventData)

	g.SetEventData("i,n,1,a\ni,n,2,b\n")
	assert.Empty(t, g.EventDataURL)
	g.AddField("ignored", "x")
	g.InsertOnly = false

	xml, err := g.XML(false)
	require.NoError(t, err)
	assert.Contains(t, xml, `insert-only="false"`)
	assert.Contains(t, xml, "<event-source><event-data>i,n,1,a\ni,n,2,b\n</event-data></event-source>")
	assert.Contains(t, xml, `<fields><field name="dummy-id">0</field></fields>`)
	assert.NotContains(t, xml, "ignored")

	back, err := Parse([]byte(xml))
	require.NoError(t, err)
	assert.Equal(t, "i,n,1,a\ni,n,2,b\n", back.EventData)
	assert.Empty(t, back.Fields)
	assert.False(t, back.InsertOnly)
}

func TestEventGenerator_EventDataFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.csv")
	require.NoError(t, os.WriteFile(path, []byte("i,n,1\n"), 0o600))

	g := New("g")
	require.NoError(t, g.SetEventDataFile(path))
	assert.Equal(t, "i,n,1\n", g.EventData)

	assert.Error(t, g.SetEventDataFile(filepath.Join(t.TempDir(), "missing.csv")))
}

func TestDelimiters(t *testing.T) {
	d, err := ListDelimiter([]string{"a b", "c,d"})
	require.NoError(t, err)
	assert.Equal(t, ";", d)

	_, err = ListDelimiter([]string{" ,;@&"})
	assert.ErrorIs(t, err, errors.ErrInvalidValue)

	inner, outer, err := MapDelimiters(map[string]string{"a=b": "c d"})
	require.NoError(t, err)
	assert.Equal(t, ":", inner)
	assert.Equal(t, ",", outer)

	assert.Error(t, New("g").AddURLResource("x", ResourceList, "http://x"))
}

func TestParse_Errors(t *testing.T) {
	_, err := Parse([]byte(`<nothing/>`))
	assert.ErrorIs(t, err, errors.ErrInvalidData)

	_, err = Parse([]byte(`<event-generator name="g"><resources><tree name="t"/></resources></event-generator>`))
	assert.ErrorIs(t, err, errors.ErrInvalidData)
}

func TestParseList(t *testing.T) {
	e, err := xmltree.ParseString(`<event-generators><event-generator name="a"/><event-generator name="b"/></event-generators>`)
	require.NoError(t, err)
	gens, err := ParseList(e)
	require.NoError(t, err)
	assert.Len(t, gens, 2)
	assert.True(t, gens["a"].AutogenKey)
}
