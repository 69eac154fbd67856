package esp

import (
	"context"
	"net/url"
	"strings"

	"github.com/c360/espclient/errors"
	"github.com/c360/espclient/evtgen"
	"github.com/c360/espclient/rest"
	"github.com/c360/espclient/stream"
)

// GeneratorRun sets the optional limits of a started generator. Zero values
// are left to the server.
type GeneratorRun struct {
	Events    int // number of events to inject
	BlockSize int
	Rate      int // events per second
	Pause     int // milliseconds between injections
}

// EventGenerators returns every event generator keyed by name
func (c *Connection) EventGenerators(ctx context.Context) (map[string]*evtgen.EventGenerator, error) {
	root, err := c.session.Get(ctx, "eventGenerators", nil)
	if err != nil {
		return nil, errors.Wrap(err, "Connection", "EventGenerators", "get event generators")
	}
	return evtgen.ParseList(root)
}

// EventGeneratorState returns the state reported for a generator
func (c *Connection) EventGeneratorState(ctx context.Context, name string) (string, error) {
	root, err := c.session.Get(ctx, "eventGenerators/"+name, nil)
	if err != nil {
		return "", errors.Wrap(err, "Connection", "EventGeneratorState", "get event generator "+name)
	}
	state, ok := root.Attr("state")
	if !ok {
		return "", errors.Invalidf(errors.ErrInvalidData, "Connection", "EventGeneratorState", "no state reported for %q", name)
	}
	return state, nil
}

// EventGeneratorRunning reports whether a generator is injecting events
func (c *Connection) EventGeneratorRunning(ctx context.Context, name string) (bool, error) {
	state, err := c.EventGeneratorState(ctx, name)
	if err != nil {
		return false, err
	}
	return !strings.Contains(state, "stop"), nil
}

// WindowPublishTarget returns the dfESP URL a generator publishes to for a
// window on this server
func (c *Connection) WindowPublishTarget(ctx context.Context, window string) (string, error) {
	path, err := stream.WindowPath(window)
	if err != nil {
		return "", err
	}
	info, err := c.ServerInfo(ctx)
	if err != nil {
		return "", err
	}
	port, ok := info.PubSubPort()
	if !ok {
		return "", errors.Invalidf(errors.ErrInvalidData, "Connection", "WindowPublishTarget", "server reports no pubsub port")
	}
	base, err := url.Parse(c.session.BaseURL())
	if err != nil {
		return "", errors.WrapInvalid(err, "Connection", "WindowPublishTarget", "parse base URL")
	}
	return evtgen.PublishTarget(base.Hostname(), port, path), nil
}

// SaveEventGenerator installs a generator definition
func (c *Connection) SaveEventGenerator(ctx context.Context, g *evtgen.EventGenerator, overwrite bool) error {
	data, err := g.XML(false)
	if err != nil {
		return err
	}
	params := rest.NewParams().Set("overwrite", overwrite)
	if _, err := c.session.Put(ctx, "eventGenerators/"+g.Name, params, []byte(data)); err != nil {
		return errors.Wrap(err, "Connection", "SaveEventGenerator", "save event generator "+g.Name)
	}
	return nil
}

// StartEventGenerator starts injecting events
func (c *Connection) StartEventGenerator(ctx context.Context, name string, run GeneratorRun) error {
	params := rest.NewParams().
		Set("value", "started").
		SetIf(run.Events > 0, "events", run.Events).
		SetIf(run.BlockSize > 0, "blocksize", run.BlockSize).
		SetIf(run.Rate > 0, "rate", run.Rate).
		SetIf(run.Pause > 0, "pause", run.Pause)
	return c.setState(ctx, "StartEventGenerator", "eventGenerators/"+name, params, nil)
}

// StopEventGenerator stops a generator
func (c *Connection) StopEventGenerator(ctx context.Context, name string) error {
	return c.setState(ctx, "StopEventGenerator", "eventGenerators/"+name,
		rest.NewParams().Set("value", "stopped"), nil)
}

// InitializeEventGenerator resets a generator to its initial state
func (c *Connection) InitializeEventGenerator(ctx context.Context, name string) error {
	return c.setState(ctx, "InitializeEventGenerator", "eventGenerators/"+name,
		rest.NewParams().Set("value", "initialized"), nil)
}

// DeleteEventGenerator removes a generator
func (c *Connection) DeleteEventGenerator(ctx context.Context, name string) error {
	if _, err := c.session.Delete(ctx, "eventGenerators/"+name, nil); err != nil {
		return errors.Wrap(err, "Connection", "DeleteEventGenerator", "delete event generator "+name)
	}
	return nil
}

// DeleteEventGenerators removes every generator
func (c *Connection) DeleteEventGenerators(ctx context.Context) error {
	gens, err := c.EventGenerators(ctx)
	if err != nil {
		return err
	}
	for name := range gens {
		if err := c.DeleteEventGenerator(ctx, name); err != nil {
			return err
		}
	}
	return nil
}
