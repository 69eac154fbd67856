package model

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/espclient/errors"
	"github.com/c360/espclient/mas"
	"github.com/c360/espclient/schema"
)

const tradesProject = `<project name="trades" pubsub="auto" threads="4" index="pi_HASH">
  <description>Trade processing</description>
  <metadata><meta id="owner">ops</meta></metadata>
  <properties><property name="env"><![CDATA[prod]]></property></properties>
  <mas-modules>
    <mas-module module="m1" language="python" func-names="score"><code><![CDATA[def score(): pass]]></code></mas-module>
  </mas-modules>
  <contqueries>
    <contquery name="cq" trace="w_src">
      <windows>
        <window-source name="w_src" insert-only="true" index="pi_EMPTY">
          <schema>
            <fields>
              <field name="id" type="int64" key="true"/>
              <field name="price" type="double"/>
            </fields>
          </schema>
          <connectors>
            <connector class="fs" name="pub" type="publish">
              <properties><property name="type">pub</property><property name="fsname">in.csv</property></properties>
            </connector>
          </connectors>
        </window-source>
        <window-filter name="w_big">
          <expression><![CDATA[price > 100]]></expression>
        </window-filter>
        <window-join name="w_join">
          <join type="leftouter"><conditions><fields left="id" right="id"/></conditions></join>
          <output><field-selection name="price" source="l_price"/></output>
        </window-join>
        <window-copy name="w_copy"><retention type="bytime_sliding">5 minutes</retention></window-copy>
      </windows>
      <edges>
        <edge source="w_src" target="w_big w_copy"/>
        <edge source="w_big" target="w_join" role="left"/>
        <edge source="w_copy" target="w_join" role="right"/>
      </edges>
    </contquery>
  </contqueries>
  <project-connectors>
    <connector-groups>
      <connector-group name="g1"><connector-entry connector="cq/w_src/pub" state="finished"/></connector-group>
    </connector-groups>
    <edges><edge source="g1" target="g2,g3"/></edges>
  </project-connectors>
</project>`

func TestParseProject(t *testing.T) {
	p, err := ParseProject([]byte(tradesProject))
	require.NoError(t, err)

	assert.Equal(t, "trades", p.Name())
	assert.Equal(t, "4", p.Attr("threads"))
	assert.Equal(t, "hash", p.Attr("index"))
	assert.Equal(t, "Trade processing", p.Description)
	assert.Equal(t, map[string]string{"owner": "ops"}, p.Metadata)
	assert.Equal(t, map[string]string{"env": "prod"}, p.Properties)
	require.Len(t, p.MASModules, 1)
	assert.Equal(t, "trades", p.MASModules[0].Project)

	cq, ok := p.Query("cq")
	require.True(t, ok)
	assert.Equal(t, "w_src", cq.Attr("trace"))
	assert.Equal(t, []string{"w_src", "w_big", "w_join", "w_copy"}, cq.Windows().Names())

	src, err := p.Window("w_src")
	require.NoError(t, err)
	assert.Equal(t, "trades/cq/w_src", src.Path())
	assert.Equal(t, "trades.cq.w_src", src.FullName())
	assert.Equal(t, "empty", src.Attr("index"))
	assert.Equal(t, "id*:int64,price:double", src.Schema().String())
	require.Len(t, src.Connectors(), 1)
	assert.Equal(t, "in.csv", src.Connectors()[0].Properties["fsname"])

	names := make([]string, 0)
	for _, target := range src.Targets() {
		names = append(names, target.Name)
	}
	assert.Equal(t, []string{"w_big", "w_copy"}, names)

	big, err := p.Window("cq.w_big")
	require.NoError(t, err)
	assert.Equal(t, "price > 100", big.Expression())

	join, _ := cq.Window("w_join")
	assert.Len(t, join.Extra, 2)

	cp, _ := cq.Window("w_copy")
	assert.Equal(t, "5 minutes", cp.Retention().Value)
	assert.Equal(t, "right", cp.Targets()[0].Role)

	require.Contains(t, p.ConnectorGroups, "g1")
	assert.Equal(t, []ConnectorEntry{{Connector: "cq/w_src/pub", State: StateFinished}}, p.ConnectorGroups["g1"].Entries)
	assert.Equal(t, []Edge{{Source: "g1", Targets: []string{"g2", "g3"}}}, p.Edges)
}

func TestProjectXML_Idempotent(t *testing.T) {
	first, err := ParseProject([]byte(tradesProject))
	require.NoError(t, err)
	second, err := ParseProject([]byte(tradesProject))
	require.NoError(t, err)

	x1, err := first.XML(false)
	require.NoError(t, err)
	x2, err := second.XML(false)
	require.NoError(t, err)
	assert.Equal(t, x1, x2)

	reparsed, err := ParseProject([]byte(x1))
	require.NoError(t, err)
	x3, err := reparsed.XML(false)
	require.NoError(t, err)
	assert.Equal(t, x1, x3)

	assert.True(t, strings.HasPrefix(x1, `<engine><projects><project name="trades" threads="4" pubsub="auto" index="pi_HASH">`))
	assert.Contains(t, x1, `<edges><edge source="w_src" target="w_big"/><edge source="w_src" target="w_copy"/>`+
		`<edge source="w_big" target="w_join" role="left"/><edge source="w_copy" target="w_join" role="right"/></edges>`)
	assert.Contains(t, x1, `<expression><![CDATA[price > 100]]></expression>`)
	assert.Contains(t, x1, `<property name="env"><![CDATA[prod]]></property>`)
	assert.Contains(t, x1, `<edge source="g1" target="g2,g3"/>`)
}

func TestProject_Build(t *testing.T) {
	p := NewProject("")
	assert.Regexp(t, `^p_[0-9a-f]{8}$`, p.Name())
	assert.Equal(t, "1", p.Attr("threads"))
	assert.Equal(t, "auto", p.Attr("pubsub"))
	assert.ErrorIs(t, p.Set("pubsub", "sometimes"), errors.ErrInvalidValue)
	require.NoError(t, p.SetName("demo"))

	cq := p.AddQuery(NewContinuousQuery("cq"))
	src := cq.AddWindow(MustNewWindow(KindSource, "src"))
	require.NoError(t, src.SetSchemaString("id*:int64,value:double"))
	cmp := cq.AddWindow(MustNewWindow(KindCompute, "cmp"))
	require.NoError(t, cmp.SetSchema(schema.MustParse("id*,value")))
	src.Link(cmp)

	p.DSInitialize = &DSInitialize{SASCommand: "sas"}
	p.AddMASModule(mas.New("python", "m", "f"))
	p.AddConnectors("g", "first", ConnectorEntry{Connector: "cq/src/in", State: StateRunning})
	p.AddEdge("g", "h")

	assert.Equal(t, "demo/cq/cmp", cmp.Path())

	xml, err := p.XML(false)
	require.NoError(t, err)
	assert.Contains(t, xml, `<field name="id" type="int64" key="true"/><field name="value" type="double" key="false"/>`)
	assert.NotContains(t, xml, "inherit")
	assert.Contains(t, xml, `<ds-initialize sas-command="sas"/>`)
	assert.Contains(t, xml, `<connector-group name="g"><description>first</description><connector-entry connector="cq/src/in" state="running"/></connector-group>`)

	pretty, err := p.XML(true)
	require.NoError(t, err)
	assert.Contains(t, pretty, "\n        <contquery name=\"cq\">")
}

func TestProject_WindowLookup(t *testing.T) {
	p := NewProject("p")
	a := p.AddQuery(NewContinuousQuery("a"))
	b := p.AddQuery(NewContinuousQuery("b"))
	a.AddWindow(MustNewWindow(KindSource, "w"))
	b.AddWindow(MustNewWindow(KindSource, "w"))
	b.AddWindow(MustNewWindow(KindSource, "only"))

	_, err := p.Window("w")
	assert.ErrorIs(t, err, errors.ErrAmbiguous)
	_, err = p.Window("nope")
	assert.ErrorIs(t, err, errors.ErrUnknownWindow)
	_, err = p.Window("a.nope")
	assert.ErrorIs(t, err, errors.ErrUnknownWindow)

	w, err := p.Window("only")
	require.NoError(t, err)
	assert.Equal(t, "b", w.Query())
	assert.Len(t, p.Windows(), 3)

	require.NoError(t, b.Rename("c"))
	assert.Equal(t, "p/c/only", w.Path())
	assert.Equal(t, []string{"a", "c"}, p.Queries().Names())
	assert.ErrorIs(t, p.Queries().Rename("a", "c"), errors.ErrInvalidValue)

	p.Queries().Delete("a")
	assert.Equal(t, 1, p.Queries().Len())
}

func TestParseProject_Errors(t *testing.T) {
	_, err := ParseProject([]byte(`<engine/>`))
	assert.ErrorIs(t, err, errors.ErrInvalidData)

	_, err = ParseProject([]byte(`<project name="p"><contqueries><contquery name="q"><windows/>` +
		`<edges><edge source="ghost" target="x"/></edges></contquery></contqueries></project>`))
	assert.ErrorIs(t, err, errors.ErrUnknownWindow)
}
