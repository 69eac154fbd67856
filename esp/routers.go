package esp

import (
	"context"

	"github.com/c360/espclient/errors"
	"github.com/c360/espclient/rest"
	"github.com/c360/espclient/router"
)

// Routers returns every router definition keyed by name
func (c *Connection) Routers(ctx context.Context) (map[string]*router.Router, error) {
	root, err := c.session.Get(ctx, "routers", nil)
	if err != nil {
		return nil, errors.Wrap(err, "Connection", "Routers", "get routers")
	}
	return router.ParseList(root)
}

// Router returns one router definition
func (c *Connection) Router(ctx context.Context, name string) (*router.Router, error) {
	root, err := c.session.Get(ctx, "routers/"+name, nil)
	if err != nil {
		return nil, errors.Wrap(err, "Connection", "Router", "get router "+name)
	}
	item := root.FindSelfOrDescendant("esp-router")
	if item == nil {
		return nil, errors.Invalidf(errors.ErrNotFound, "Connection", "Router", "no router named %q", name)
	}
	return router.FromElement(item)
}

// SaveRouter installs a router definition
func (c *Connection) SaveRouter(ctx context.Context, r *router.Router, overwrite bool) error {
	params := rest.NewParams().Set("overwrite", overwrite)
	if _, err := c.session.Put(ctx, "routers/"+r.Name, params, r.Element().Bytes()); err != nil {
		return errors.Wrap(err, "Connection", "SaveRouter", "save router "+r.Name)
	}
	return nil
}

// DeleteRouter removes a router
func (c *Connection) DeleteRouter(ctx context.Context, name string) error {
	if _, err := c.session.Delete(ctx, "routers/"+name, nil); err != nil {
		return errors.Wrap(err, "Connection", "DeleteRouter", "delete router "+name)
	}
	return nil
}

// RouterStats returns route statistics of every router, keyed by router
// name
func (c *Connection) RouterStats(ctx context.Context) (map[string]router.Stats, error) {
	root, err := c.session.Get(ctx, "routerStats", nil)
	if err != nil {
		return nil, errors.Wrap(err, "Connection", "RouterStats", "get router stats")
	}
	return router.ParseStats(root), nil
}

// RouterStatsOf returns the route statistics of one router
func (c *Connection) RouterStatsOf(ctx context.Context, name string) (router.Stats, error) {
	root, err := c.session.Get(ctx, "routerStats/"+name, nil)
	if err != nil {
		return nil, errors.Wrap(err, "Connection", "RouterStatsOf", "get stats of router "+name)
	}
	stats, ok := router.ParseStats(root)[name]
	if !ok {
		return nil, errors.Invalidf(errors.ErrNotFound, "Connection", "RouterStatsOf", "no stats for router %q", name)
	}
	return stats, nil
}

// InitializeDestination resets a router destination
func (c *Connection) InitializeDestination(ctx context.Context, routerName, destination string) error {
	return c.setState(ctx, "InitializeDestination", "routerDestinations/"+routerName+"/"+destination,
		rest.NewParams().Set("value", "initialized"), nil)
}
