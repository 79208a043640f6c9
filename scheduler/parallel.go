package scheduler

import (
	"runtime"
	"sync"

	"github.com/sbl8/infergraph/graph"
)

// Parallel maintains a per-node unsatisfied-input counter, pushes
// zero-counter nodes onto a ready queue, and drains them across a
// fixed-size worker pool. Sibling-node order is unspecified; only the
// happens-before relations induced by dataflow edges are guaranteed.
type Parallel struct {
	Workers int
}

// NewParallel returns a Parallel scheduler with the given worker count.
// workers <= 0 selects hardware parallelism.
func NewParallel(workers int) *Parallel {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	return &Parallel{Workers: workers}
}

func (s *Parallel) ExecutionOrder(g *graph.Graph) ([]graph.NodeID, error) {
	return g.TopoSort()
}

// unsatisfied returns, for every node, the number of distinct producer
// nodes feeding its inputs (mirrors TopoSort's in-degree computation so the
// two schedulers agree on what "ready" means).
func unsatisfied(g *graph.Graph) (map[graph.NodeID]int, map[graph.NodeID][]graph.NodeID) {
	inDegree := make(map[graph.NodeID]int, len(g.Nodes))
	consumers := make(map[graph.NodeID][]graph.NodeID, len(g.Nodes))
	for id := range g.Nodes {
		inDegree[id] = 0
	}
	for id, n := range g.Nodes {
		seen := make(map[graph.NodeID]bool)
		for _, vid := range n.Inputs {
			v, ok := g.Values[vid]
			if !ok || v.Producer == 0 || seen[v.Producer] {
				continue
			}
			seen[v.Producer] = true
			inDegree[id]++
			consumers[v.Producer] = append(consumers[v.Producer], id)
		}
	}
	return inDegree, consumers
}

// Schedule runs the graph across a worker pool of fixed size, dispatching
// each node once its unsatisfied-input counter reaches zero. Termination:
// all nodes complete, or any node fails, in which case the first error is
// returned and the remaining workers drain without dispatching new work.
func (s *Parallel) Schedule(g *graph.Graph, ctx Context) error {
	inDegree, consumers := unsatisfied(g)
	total := len(g.Nodes)
	if total == 0 {
		return nil
	}

	ready := make(chan graph.NodeID, total)
	var mu sync.Mutex
	var firstErr error
	var pending sync.WaitGroup

	for id, deg := range inDegree {
		if deg == 0 {
			pending.Add(1)
			ready <- id
		}
	}
	go func() {
		pending.Wait()
		close(ready)
	}()

	var wg sync.WaitGroup
	for w := 0; w < s.Workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for id := range ready {
				mu.Lock()
				failed := firstErr != nil
				mu.Unlock()
				if failed || isCancelled(ctx) {
					pending.Done()
					continue
				}

				n := g.Nodes[id]
				err := dispatchNode(g, n, ctx)

				mu.Lock()
				if err != nil && firstErr == nil {
					firstErr = err
				}
				mu.Unlock()

				if err == nil {
					for _, next := range consumers[id] {
						mu.Lock()
						inDegree[next]--
						readyNow := inDegree[next] == 0
						mu.Unlock()
						if readyNow {
							pending.Add(1)
							ready <- next
						}
					}
				}
				pending.Done()
			}
		}()
	}
	wg.Wait()

	return firstErr
}
