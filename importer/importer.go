// Package importer reads and writes the runtime's internal binary graph
// format (.igraph): the reference "model file" that a session loads. It is
// a thin, validating wrapper over graph.Serialize/graph.Deserialize — the
// wire format itself is owned by the graph package so that optimizer and
// session code can round-trip a graph without reaching into this package.
package importer

import (
	"os"

	"github.com/sbl8/infergraph/errs"
	"github.com/sbl8/infergraph/graph"
	"github.com/sbl8/infergraph/operator"
)

// LoadBytes parses an in-memory .igraph blob and validates the resulting
// graph. reg is passed through to graph.Validate, which does not check
// op-types against it; it may be nil.
func LoadBytes(data []byte, reg *operator.Registry) (*graph.Graph, error) {
	g, err := graph.Deserialize(data)
	if err != nil {
		return nil, errs.Wrap(errs.InvalidModel, err, "importer: deserialize")
	}
	if err := g.Validate(reg); err != nil {
		return nil, errs.Wrap(errs.InvalidModel, err, "importer: validate")
	}
	return g, nil
}

// LoadFile reads path and parses it as .igraph.
func LoadFile(path string, reg *operator.Registry) (*graph.Graph, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errs.Wrapf(errs.NotFound, err, "importer: reading %q", path)
	}
	return LoadBytes(data, reg)
}

// SaveFile serializes g and writes it to path, creating or truncating the
// file with owner-only permissions.
func SaveFile(g *graph.Graph, path string) error {
	data, err := g.Serialize()
	if err != nil {
		return errs.Wrap(errs.RuntimeError, err, "importer: serialize")
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return errs.Wrapf(errs.RuntimeError, err, "importer: writing %q", path)
	}
	return nil
}
