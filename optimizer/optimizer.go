// Package optimizer implements the dependency-ordered pass manager and the
// mandatory optimization passes: shape inference, constant folding,
// dead-code elimination, operator fusion, and layout optimization. There is
// no built-in subgraph-replacement pass; extra passes are added through
// Manager.Register.
package optimizer

import (
	"github.com/sbl8/infergraph/errs"
	"github.com/sbl8/infergraph/graph"
	"github.com/sbl8/infergraph/obslog"
	"github.com/sbl8/infergraph/operator"
)

const fixedPointBound = 10

// Pass is {name, dependencies, is_repeatable, run}.
type Pass interface {
	Name() string
	Dependencies() []string
	IsRepeatable() bool
	Run(g *graph.Graph) (changed bool, err error)
}

// Manager orders registered passes by dependency, stable in registration
// order on ties, and runs repeatable passes to a fixed point or bound.
type Manager struct {
	passes []Pass
	log    obslog.Logger
}

// NewManager returns an empty pass manager.
func NewManager() *Manager {
	return &Manager{log: obslog.Default()}
}

// Register appends a pass. Registration order is the tie-break for passes
// with no ordering constraint between them.
func (m *Manager) Register(p Pass) {
	m.passes = append(m.passes, p)
}

// order computes a dependency-respecting sequence over the registered
// passes, stable in registration order among passes with no edge between
// them.
func (m *Manager) order() ([]Pass, error) {
	byName := make(map[string]Pass, len(m.passes))
	for _, p := range m.passes {
		byName[p.Name()] = p
	}

	visited := make(map[string]int) // 0=unvisited, 1=in-progress, 2=done
	var ordered []Pass

	var visit func(p Pass) error
	visit = func(p Pass) error {
		switch visited[p.Name()] {
		case 2:
			return nil
		case 1:
			return errs.Newf(errs.InvalidModel, "optimizer: dependency cycle at pass %q", p.Name())
		}
		visited[p.Name()] = 1
		for _, dep := range p.Dependencies() {
			depPass, ok := byName[dep]
			if !ok {
				return errs.Newf(errs.InvalidArgument, "optimizer: pass %q depends on unregistered pass %q", p.Name(), dep)
			}
			if err := visit(depPass); err != nil {
				return err
			}
		}
		visited[p.Name()] = 2
		ordered = append(ordered, p)
		return nil
	}

	for _, p := range m.passes {
		if err := visit(p); err != nil {
			return nil, err
		}
	}
	return ordered, nil
}

// Run executes every registered pass in dependency order, re-running
// repeatable passes until they report no change or fixedPointBound
// iterations elapse.
func (m *Manager) Run(g *graph.Graph) error {
	ordered, err := m.order()
	if err != nil {
		return err
	}
	for _, p := range ordered {
		log := m.log.WithPass(p.Name())
		log.Debugf("pass start")
		iterations := 0
		for {
			changed, err := p.Run(g)
			if err != nil {
				return errs.Wrapf(errs.RuntimeError, err, "optimizer: pass %q", p.Name())
			}
			iterations++
			if !p.IsRepeatable() || !changed || iterations >= fixedPointBound {
				break
			}
		}
		log.Debugf("pass end after %d iteration(s)", iterations)
	}
	return nil
}

// Level selects which mandatory passes NewStandardManager registers.
type Level uint8

const (
	LevelNone Level = iota
	LevelBasic
	LevelExtended
	LevelAll
)

// NewStandardManager builds a Manager with the mandatory passes registered
// appropriately for level, backed by reg for shape inference and constant
// folding execution.
func NewStandardManager(level Level, reg *operator.Registry) *Manager {
	m := NewManager()
	if level == LevelNone {
		return m
	}

	m.Register(newShapeInferencePass(reg))
	if level >= LevelBasic {
		m.Register(newConstantFoldingPass(reg))
	}
	m.Register(newDeadCodePass())

	if level >= LevelExtended {
		m.Register(newFusionPass())
	}
	if level >= LevelAll {
		m.Register(newLayoutPass())
	}
	return m
}
