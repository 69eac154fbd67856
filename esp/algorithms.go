package esp

import (
	"context"

	"github.com/c360/espclient/algorithm"
	"github.com/c360/espclient/errors"
	"github.com/c360/espclient/rest"
)

// AlgorithmQuery selects the algorithm descriptions returned
type AlgorithmQuery struct {
	Properties bool   // include parameter and map descriptions
	Type       string // "astore" for analytic store information
	Reference  string // astore reference file
}

// Algorithms returns the algorithms of a kind (train, calculate or score),
// keyed by name, or by reference when Reference is set
func (c *Connection) Algorithms(ctx context.Context, kind string, q AlgorithmQuery) (map[string]*algorithm.Algorithm, error) {
	params := rest.NewParams().
		Set("properties", q.Properties).
		SetNonEmpty("type", q.Type).
		SetNonEmpty("reference", q.Reference)
	root, err := c.session.Get(ctx, "algorithms/"+kind, params)
	if err != nil {
		return nil, errors.Wrap(err, "Connection", "Algorithms", "get "+kind+" algorithms")
	}
	return algorithm.FromResponse(root)
}

// Algorithm returns one algorithm description
func (c *Connection) Algorithm(ctx context.Context, kind, name string) (*algorithm.Algorithm, error) {
	root, err := c.session.Get(ctx, "algorithms/"+kind+"/"+name, nil)
	if err != nil {
		return nil, errors.Wrap(err, "Connection", "Algorithm", "get algorithm "+kind+"/"+name)
	}
	item := root.FindSelfOrDescendant("algorithm")
	if item == nil {
		return nil, errors.Invalidf(errors.ErrNotFound, "Connection", "Algorithm", "no %s algorithm named %q", kind, name)
	}
	return algorithm.FromElement(item)
}

// AlgorithmCatalog fetches the algorithms of a kind with their properties
// and returns a catalog that builds windows running them
func (c *Connection) AlgorithmCatalog(ctx context.Context, kind string) (*algorithm.Catalog, error) {
	algs, err := c.Algorithms(ctx, kind, AlgorithmQuery{Properties: true})
	if err != nil {
		return nil, err
	}
	return algorithm.NewCatalog(kind, algs)
}
