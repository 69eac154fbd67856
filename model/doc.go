// Package model describes ESP projects as Go values that serialize to and from
// the engine's project XML.
//
// A Project owns its continuous queries and a ContinuousQuery owns its
// windows. Both collections attach the value to its owner on Add, so a window
// added to a query reports the query and project names used to build REST and
// WebSocket paths:
//
//	p := model.NewProject("trades")
//	cq := p.AddQuery(model.NewContinuousQuery("cq"))
//	src := cq.AddWindow(model.MustNewWindow(model.KindSource, "input"))
//	src.Schema().AddField("id", "int64", true)
//	flt := cq.AddWindow(model.MustNewWindow(model.KindFilter, "big"))
//	_ = flt.SetExpression("price > 100")
//	src.Link(flt)
//	doc, err := p.XML(true)
//
// Renaming a window through its query rewrites the edges that point at it and
// deleting a window drops them.
package model
