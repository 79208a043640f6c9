// Package session implements the facade that binds the importer,
// optimizer, memory planner, provider selector, and scheduler into the
// single Load/Run/RunAsync/Profile surface callers use.
package session

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/sbl8/infergraph/errs"
	"github.com/sbl8/infergraph/graph"
	"github.com/sbl8/infergraph/importer"
	"github.com/sbl8/infergraph/obslog"
	"github.com/sbl8/infergraph/operator"
	"github.com/sbl8/infergraph/optimizer"
	"github.com/sbl8/infergraph/planner"
	"github.com/sbl8/infergraph/provider"
	"github.com/sbl8/infergraph/scheduler"
	"github.com/sbl8/infergraph/tensor"
	"github.com/sbl8/infergraph/types"
)

// providerFactories is the set of providers this build knows how to
// construct by name; execution_providers entries naming anything else are
// skipped with a warning, matching the documented "skip unavailable
// providers" initialization step.
var providerFactories = map[string]func(deviceID int) provider.Provider{
	"cpu": func(int) provider.Provider { return provider.NewCPU(nil) },
}

// state is everything Initialize produces from a graph; LoadModel swaps it
// in atomically only once construction fully succeeds, so a failed reload
// never disturbs an already-running session.
type state struct {
	graph      *graph.Graph
	registry   *operator.Registry
	providers  []provider.Provider
	selector   *provider.Selector
	assignment map[graph.NodeID]provider.Provider
	order      []graph.NodeID
	plan       *planner.Plan
	sched      scheduler.Scheduler
}

// Session is the public facade: construct with a Config, Load a model,
// then Run/RunAsync/Profile it.
type Session struct {
	cfg Config
	log obslog.Logger

	mu    sync.RWMutex // guards st; swapped wholesale by LoadModel*
	st    *state
	runMu sync.Mutex // serializes Run/RunAsync/Profile invocations

	cancelMu sync.Mutex
	cancel   context.CancelFunc
}

// New constructs a Session with the given configuration. No model is
// loaded yet; call LoadModel before Run.
func New(cfg Config) *Session {
	return &Session{cfg: cfg, log: obslog.Default()}
}

// SetConfig replaces the session's configuration. It does not re-initialize
// an already-loaded model; call LoadModel again to apply provider or
// optimization-level changes.
func (s *Session) SetConfig(cfg Config) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cfg = cfg
}

func (s *Session) buildProviders() ([]provider.Provider, error) {
	var providers []provider.Provider
	haveCPU := false
	for _, name := range s.cfg.ExecutionProviders {
		factory, ok := providerFactories[name]
		if !ok {
			s.log.Warnf("execution provider %q not available in this build, skipping", name)
			continue
		}
		p := factory(s.cfg.DeviceID)
		if !p.IsAvailable() {
			s.log.Warnf("execution provider %q reported unavailable, skipping", name)
			continue
		}
		providers = append(providers, p)
		if p.Name() == "cpu" {
			haveCPU = true
		}
	}
	if !haveCPU {
		providers = append(providers, provider.NewCPU(nil))
	}
	return providers, nil
}

func (s *Session) effectiveLevel() optimizer.Level {
	level := s.cfg.GraphOptimizationLevel
	if s.cfg.EnableOperatorFusion && level < optimizer.LevelExtended {
		level = optimizer.LevelExtended
	}
	return level
}

func (s *Session) buildScheduler() scheduler.Scheduler {
	switch s.cfg.Scheduler {
	case SchedulerPipeline:
		stages := s.cfg.NumThreads
		if stages < 1 {
			stages = 1
		}
		return scheduler.NewPipeline(stages)
	case SchedulerParallel:
		return scheduler.NewParallel(s.cfg.NumThreads)
	default:
		return scheduler.NewTopological()
	}
}

// initialize runs the documented sequence: instantiate providers (CPU
// always succeeds), optimize, plan memory, prepare each distinct provider.
// It never mutates s; the caller swaps the result in only on full success.
func (s *Session) initialize(g *graph.Graph) (*state, error) {
	providers, err := s.buildProviders()
	if err != nil {
		return nil, err
	}

	cpuProvider := providers[len(providers)-1]
	for _, p := range providers {
		if p.Name() == "cpu" {
			cpuProvider = p
			break
		}
	}
	selector := provider.NewSelector(providers, cpuProvider)

	reg := operator.NewCPURegistry()
	mgr := optimizer.NewStandardManager(s.effectiveLevel(), reg)
	if err := mgr.Run(g); err != nil {
		return nil, errs.Wrap(errs.InvalidModel, err, "session: optimization")
	}

	for _, p := range providers {
		if err := p.OptimizeGraph(g); err != nil {
			return nil, errs.Wrapf(errs.RuntimeError, err, "session: provider %q OptimizeGraph", p.Name())
		}
	}

	assignment, err := selector.AssignAll(g)
	if err != nil {
		return nil, err
	}

	order, err := g.TopoSort()
	if err != nil {
		return nil, err
	}

	plan, err := planner.NewPlan(g, order)
	if err != nil {
		return nil, errs.Wrap(errs.RuntimeError, err, "session: memory planning")
	}
	if s.cfg.MemoryPoolSize > 0 && plan.PeakBytes() > s.cfg.MemoryPoolSize {
		return nil, errs.Newf(errs.OutOfMemory, "session: plan requires %d bytes, exceeds memory_pool_size %d", plan.PeakBytes(), s.cfg.MemoryPoolSize)
	}

	prepared := make(map[string]bool, len(providers))
	for _, p := range providers {
		if prepared[p.Name()] {
			continue
		}
		prepared[p.Name()] = true
		if err := p.Prepare(g); err != nil {
			return nil, errs.Wrapf(errs.RuntimeError, err, "session: provider %q Prepare", p.Name())
		}
	}

	return &state{
		graph:      g,
		registry:   reg,
		providers:  providers,
		selector:   selector,
		assignment: assignment,
		order:      order,
		plan:       plan,
		sched:      s.buildScheduler(),
	}, nil
}

// LoadModel reads path as the reference .igraph format, validates it, and
// initializes a session state; the previous state (if any) is left
// untouched until initialization fully succeeds.
func (s *Session) LoadModel(path string) error {
	g, err := importer.LoadFile(path, operator.NewCPURegistry())
	if err != nil {
		return err
	}
	return s.LoadGraph(g)
}

// LoadModelBytes is LoadModel over an in-memory blob.
func (s *Session) LoadModelBytes(data []byte) error {
	g, err := importer.LoadBytes(data, operator.NewCPURegistry())
	if err != nil {
		return err
	}
	return s.LoadGraph(g)
}

// LoadGraph takes ownership of an already-constructed graph, validates it,
// and initializes the session atomically.
func (s *Session) LoadGraph(g *graph.Graph) error {
	if err := g.Validate(operator.NewCPURegistry()); err != nil {
		return err
	}
	st, err := s.initialize(g)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.st = st
	s.mu.Unlock()
	return nil
}

func (s *Session) current() (*state, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.st == nil {
		return nil, errs.New(errs.InvalidArgument, "session: no model loaded")
	}
	return s.st, nil
}

// InputNames returns the loaded graph's declared input value names, in
// declaration order.
func (s *Session) InputNames() ([]string, error) {
	st, err := s.current()
	if err != nil {
		return nil, err
	}
	return valueNames(st.graph, st.graph.Inputs), nil
}

// OutputNames returns the loaded graph's declared output value names, in
// declaration order.
func (s *Session) OutputNames() ([]string, error) {
	st, err := s.current()
	if err != nil {
		return nil, err
	}
	return valueNames(st.graph, st.graph.Outputs), nil
}

func valueNames(g *graph.Graph, ids []graph.ValueID) []string {
	names := make([]string, len(ids))
	for i, id := range ids {
		names[i] = g.Values[id].Name
	}
	return names
}

// InputShapes returns the declared shape of every graph input, in order.
func (s *Session) InputShapes() ([]types.Shape, error) {
	st, err := s.current()
	if err != nil {
		return nil, err
	}
	return valueShapes(st.graph, st.graph.Inputs), nil
}

// OutputShapes returns the declared shape of every graph output, in order.
func (s *Session) OutputShapes() ([]types.Shape, error) {
	st, err := s.current()
	if err != nil {
		return nil, err
	}
	return valueShapes(st.graph, st.graph.Outputs), nil
}

func valueShapes(g *graph.Graph, ids []graph.ValueID) []types.Shape {
	shapes := make([]types.Shape, len(ids))
	for i, id := range ids {
		shapes[i] = g.Values[id].Shape
	}
	return shapes
}

// CreateInputTensor allocates a zero-filled CPU tensor matching the i'th
// graph input's declared shape and dtype.
func (s *Session) CreateInputTensor(i int) (tensor.Tensor, error) {
	st, err := s.current()
	if err != nil {
		return tensor.Tensor{}, err
	}
	if i < 0 || i >= len(st.graph.Inputs) {
		return tensor.Tensor{}, errs.Newf(errs.InvalidArgument, "session: input index %d out of range", i)
	}
	v := st.graph.Values[st.graph.Inputs[i]]
	return tensor.New(v.Shape, v.DType, types.CPUDevice)
}

// GetOutputTensor allocates a zero-filled CPU tensor matching the i'th
// graph output's declared shape and dtype, suitable for passing as Run's
// or Profile's output argument.
func (s *Session) GetOutputTensor(i int) (tensor.Tensor, error) {
	st, err := s.current()
	if err != nil {
		return tensor.Tensor{}, err
	}
	if i < 0 || i >= len(st.graph.Outputs) {
		return tensor.Tensor{}, errs.Newf(errs.InvalidArgument, "session: output index %d out of range", i)
	}
	v := st.graph.Values[st.graph.Outputs[i]]
	return tensor.New(v.Shape, v.DType, types.CPUDevice)
}

// Cancel requests that an in-flight Run/RunAsync stop at the next node
// dispatch boundary. It is a no-op if no run is in flight.
func (s *Session) Cancel() {
	s.cancelMu.Lock()
	defer s.cancelMu.Unlock()
	if s.cancel != nil {
		s.cancel()
	}
}

// Run binds inputs to the graph's declared inputs by position, executes
// the configured scheduler, and writes results into outputs (which must
// have the same length as the graph's declared outputs). Runs on the same
// session are serialized through an internal mutex.
func (s *Session) Run(inputs []tensor.Tensor, outputs []tensor.Tensor) error {
	st, err := s.current()
	if err != nil {
		return err
	}
	if len(inputs) != len(st.graph.Inputs) {
		return errs.Newf(errs.InvalidArgument, "session: expected %d input tensors, got %d", len(st.graph.Inputs), len(inputs))
	}
	if len(outputs) != len(st.graph.Outputs) {
		return errs.Newf(errs.InvalidArgument, "session: expected %d output tensors, got %d", len(st.graph.Outputs), len(outputs))
	}

	s.runMu.Lock()
	defer s.runMu.Unlock()

	runID := uuid.NewString()
	log := s.log.With(runID)

	bindings := make(scheduler.Bindings, len(st.graph.Values))
	for i, vid := range st.graph.Inputs {
		v := st.graph.Values[vid]
		if !inputs[i].Shape().Equal(v.Shape) {
			return errs.Newf(errs.InvalidArgument, "session: input %d (%s) shape %s does not match planned shape %s", i, v.Name, inputs[i].Shape(), v.Shape)
		}
		bindings[vid] = inputs[i]
	}
	for vid, v := range st.graph.Values {
		if v.IsInitializer() {
			bindings[vid] = *v.Constant
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.cancelMu.Lock()
	s.cancel = cancel
	s.cancelMu.Unlock()
	defer cancel()

	schedCtx := scheduler.Context{Bindings: bindings, Assignment: st.assignment, Cancel: ctx, Log: log}
	if err := st.sched.Schedule(st.graph, schedCtx); err != nil {
		return err
	}

	for i, vid := range st.graph.Outputs {
		t, ok := bindings[vid]
		if !ok {
			return errs.Newf(errs.RuntimeError, "session: output %d (%s) was never produced", i, st.graph.Values[vid].Name)
		}
		if err := t.CopyTo(outputs[i]); err != nil {
			return errs.Wrapf(errs.RuntimeError, err, "session: copying output %d", i)
		}
	}
	return nil
}

// Future is returned by RunAsync and completes when the background run
// finishes.
type Future struct {
	done chan struct{}
	err  error
}

// Wait blocks until the run completes and returns its error, if any.
func (f *Future) Wait() error {
	<-f.done
	return f.err
}

// RunAsync enqueues a Run onto a background goroutine and returns
// immediately with a Future.
func (s *Session) RunAsync(inputs []tensor.Tensor, outputs []tensor.Tensor) *Future {
	f := &Future{done: make(chan struct{})}
	go func() {
		f.err = s.Run(inputs, outputs)
		close(f.done)
	}()
	return f
}

// NodeTiming is one node's measured wall-clock duration within a Profile
// run.
type NodeTiming struct {
	NodeName string
	OpType   string
	Duration time.Duration
}

// ProfileResult is Profile's return value: per-node timings in execution
// order plus the run total and peak planned memory.
type ProfileResult struct {
	RunID     string
	Timings   []NodeTiming
	Total     time.Duration
	PeakBytes int64
}

// Profile runs the graph once using the topological order regardless of
// the configured scheduler, so per-node timings are attributable and
// ordered, then reports wall-clock per node and the plan's peak memory.
func (s *Session) Profile(inputs []tensor.Tensor, outputs []tensor.Tensor) (*ProfileResult, error) {
	st, err := s.current()
	if err != nil {
		return nil, err
	}
	if len(inputs) != len(st.graph.Inputs) || len(outputs) != len(st.graph.Outputs) {
		return nil, errs.New(errs.InvalidArgument, "session: profile input/output arity mismatch")
	}

	s.runMu.Lock()
	defer s.runMu.Unlock()

	runID := uuid.NewString()
	bindings := make(scheduler.Bindings, len(st.graph.Values))
	for i, vid := range st.graph.Inputs {
		bindings[vid] = inputs[i]
	}
	for vid, v := range st.graph.Values {
		if v.IsInitializer() {
			bindings[vid] = *v.Constant
		}
	}

	schedCtx := scheduler.Context{Bindings: bindings, Assignment: st.assignment, Log: s.log.With(runID)}

	result := &ProfileResult{RunID: runID, PeakBytes: st.plan.PeakBytes()}
	start := time.Now()
	for _, id := range st.order {
		n := st.graph.Nodes[id]
		nodeStart := time.Now()
		if err := scheduler.DispatchNode(st.graph, n, schedCtx); err != nil {
			return nil, err
		}
		result.Timings = append(result.Timings, NodeTiming{
			NodeName: n.Name,
			OpType:   n.OpType,
			Duration: time.Since(nodeStart),
		})
	}
	result.Total = time.Since(start)

	for i, vid := range st.graph.Outputs {
		t, ok := bindings[vid]
		if !ok {
			return nil, errs.Newf(errs.RuntimeError, "session: output %d was never produced", i)
		}
		if err := t.CopyTo(outputs[i]); err != nil {
			return nil, errs.Wrapf(errs.RuntimeError, err, "session: copying output %d", i)
		}
	}
	return result, nil
}
