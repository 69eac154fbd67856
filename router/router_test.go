package router

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/espclient/errors"
	"github.com/c360/espclient/xmltree"
)

func buildRouter(t *testing.T) *Router {
	t.Helper()
	r := New("rt")
	eng := r.AddEngine("esp1", 9900, "e1")
	eng.AuthToken = "secret"

	pd, err := r.AddPublishDestination("e1.p.cq.src", "pd1")
	require.NoError(t, err)
	pd.Opcode = "upsert"
	pd.FilterFunc = "gt(price,100)"
	pd.EventFields["total"] = "product(price,qty)"

	wd := r.AddWriterDestination(`string("out.csv")`, "csv", "wd1")
	assert.Equal(t, DefaultDateFormat, wd.DateFormat)

	_, err = r.AddRoute("e1.p.cq.src.source", "pd1,wd1", "route1", true)
	require.NoError(t, err)
	return r
}

func TestRouter_XML(t *testing.T) {
	r := buildRouter(t)
	xml := r.XML(false)

	assert.Equal(t, `<esp-router name="rt">`+
		`<esp-engines><esp-engine name="e1" host="esp1" port="9900"><auth_token>secret</auth_token></esp-engine></esp-engines>`+
		`<esp-destinations>`+
		`<publish-destination name="pd1" opcode="upsert"><filter-func>gt(price,100)</filter-func>`+
		`<publish-target><engine-func>e1</engine-func><project-func>p</project-func><contquery-func>cq</contquery-func><window-func>src</window-func></publish-target>`+
		`<event-fields><fields><field name="total">product(price,qty)</field></fields></event-fields></publish-destination>`+
		`<writer-destination name="wd1" format="csv" dateformat="%Y%m%dT%H:%M:%S.%f"><file-func>string("out.csv")</file-func></writer-destination>`+
		`</esp-destinations>`+
		`<esp-routes><esp-route name="route1" to="pd1,wd1" snapshot="true">`+
		`<engine-expr>e1</engine-expr><project-expr>p</project-expr><contquery-expr>cq</contquery-expr><window-expr>src</window-expr><type-expr>source</type-expr>`+
		`</esp-route></esp-routes></esp-router>`, xml)
}

func TestRouter_RoundTrip(t *testing.T) {
	r := buildRouter(t)
	xml := r.XML(true)

	back, err := Parse([]byte(xml))
	require.NoError(t, err)
	assert.Equal(t, "rt", back.Name)
	assert.Equal(t, r.XML(false), back.XML(false))

	pd := back.Destinations["pd1"].(*PublishDestination)
	assert.Equal(t, "e1.p.cq.src", pd.Target.String())
	assert.Equal(t, "product(price,qty)", pd.EventFields["total"])
	assert.Equal(t, 9900, back.Engines["e1"].Port)
	assert.True(t, back.Routes["route1"].Snapshot)
}

func TestRoutePaths(t *testing.T) {
	rt, err := NewRoute("e.p.cq.w", "d", "", false)
	require.NoError(t, err)
	assert.Regexp(t, `^r_[0-9a-f]{8}$`, rt.Name)
	assert.Equal(t, "e.p.cq.w", rt.Path())
	assert.Equal(t, "", rt.Type)

	rt, err = NewRoute("e.p.cq.w.source", "d", "x", false)
	require.NoError(t, err)
	assert.Equal(t, "source", rt.Type)
	assert.Equal(t, "e.p.cq.w.source", rt.Path())

	_, err = NewRoute("e.p.cq", "d", "", false)
	assert.ErrorIs(t, err, errors.ErrInvalidPath)
	_, err = ParseTarget("e.p")
	assert.ErrorIs(t, err, errors.ErrInvalidPath)
}

func TestParse_Errors(t *testing.T) {
	_, err := Parse([]byte(`<routers/>`))
	assert.ErrorIs(t, err, errors.ErrInvalidData)

	_, err = Parse([]byte(`<esp-router name="r"><esp-engines><esp-engine name="e" host="h" port="x"/></esp-engines></esp-router>`))
	assert.ErrorIs(t, err, errors.ErrInvalidData)
}

func TestParseList(t *testing.T) {
	e, err := xmltree.ParseString(`<routers><esp-router name="a"/><esp-router name="b"/></routers>`)
	require.NoError(t, err)
	routers, err := ParseList(e)
	require.NoError(t, err)
	assert.Len(t, routers, 2)
	assert.Contains(t, routers, "b")
}

func TestParseStats(t *testing.T) {
	e, err := xmltree.ParseString(`<routerStats>
		<esp-router name="rt">
			<route name="route1"><stats><events>120</events><rate>3.5</rate><state>running</state></stats></route>
		</esp-router>
	</routerStats>`)
	require.NoError(t, err)

	stats := ParseStats(e)
	require.Contains(t, stats, "rt")
	assert.Equal(t, map[string]any{"events": int64(120), "rate": 3.5, "state": "running"}, stats["rt"]["route1"])

	single, err := xmltree.ParseString(`<esp-router name="solo"><route name="x"><stats><n>1</n></stats></route></esp-router>`)
	require.NoError(t, err)
	assert.Equal(t, int64(1), ParseStats(single)["solo"]["x"]["n"])
}
