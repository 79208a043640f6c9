// Package planner computes tensor lifetimes from a topological order and
// assigns intermediate values to reusable storage blocks via a
// first-fit-decreasing heuristic.
package planner

import (
	"sort"

	"github.com/sbl8/infergraph/errs"
	"github.com/sbl8/infergraph/graph"
)

// minBlockAlignment is the minimum alignment guaranteed for every block
// assignment, matching the tensor foundation's CPU storage alignment floor.
const minBlockAlignment = 16

// Interval is the [birth, death] execution-order window during which a
// value's storage must remain live. birth is the position of its producer
// in the topological order; death is the max position among its consumers,
// or the last position in the order if the value is a graph output.
type Interval struct {
	Value graph.ValueID
	Birth int
	Death int
	Bytes int64
	DType uint8
}

// Block describes one reusable storage block: its size and the ordered,
// non-overlapping intervals of the values that take turns occupying it.
type Block struct {
	ID        int
	Bytes     int64
	Alignment int
	Intervals []Interval
}

// Plan is the planner's output: a value -> block assignment plus the
// block table itself, from which peak resident bytes can be read off.
type Plan struct {
	Assignment map[graph.ValueID]int
	Blocks     []Block
}

// PeakBytes returns the sum of every block's size, the resident high-water
// mark the plan guarantees.
func (p *Plan) PeakBytes() int64 {
	var total int64
	for _, b := range p.Blocks {
		total += b.Bytes
	}
	return total
}

// NewPlan computes lifetimes for every intermediate value in g (excluding
// initializers and declared graph inputs, which are never planner-owned)
// and assigns them to blocks such that intervals sharing a block never
// overlap, minimizing peak bytes via first-fit-decreasing over block size.
func NewPlan(g *graph.Graph, order []graph.NodeID) (*Plan, error) {
	pos := make(map[graph.NodeID]int, len(order))
	for i, id := range order {
		pos[id] = i
	}

	isGraphInput := make(map[graph.ValueID]bool, len(g.Inputs))
	for _, id := range g.Inputs {
		isGraphInput[id] = true
	}
	isGraphOutput := make(map[graph.ValueID]bool, len(g.Outputs))
	for _, id := range g.Outputs {
		isGraphOutput[id] = true
	}

	var intervals []Interval
	for vid, v := range g.Values {
		if v.IsInitializer() || isGraphInput[vid] || v.Producer == 0 {
			continue
		}
		birth, ok := pos[v.Producer]
		if !ok {
			return nil, errs.Newf(errs.InvalidModel, "planner: value %d producer %d not present in execution order", vid, v.Producer)
		}
		death := birth
		for _, cid := range v.Consumers {
			if p, ok := pos[cid]; ok && p > death {
				death = p
			}
		}
		if isGraphOutput[vid] && len(order) > 0 {
			death = len(order) - 1
		}
		if v.Shape.IsDynamic() {
			continue // dynamic-shape values get no static block assignment
		}
		bytes := v.Shape.ElementCount() * int64(v.DType.ByteWidth())
		intervals = append(intervals, Interval{
			Value: vid,
			Birth: birth,
			Death: death,
			Bytes: bytes,
			DType: uint8(v.DType),
		})
	}

	// First-fit-decreasing: sort candidates by size descending (ties by
	// value id for determinism), then place each into the first existing
	// block of matching dtype/size whose occupants never overlap it,
	// otherwise open a new block.
	sort.Slice(intervals, func(i, j int) bool {
		if intervals[i].Bytes != intervals[j].Bytes {
			return intervals[i].Bytes > intervals[j].Bytes
		}
		return intervals[i].Value < intervals[j].Value
	})

	plan := &Plan{Assignment: make(map[graph.ValueID]int, len(intervals))}
	for _, iv := range intervals {
		blockIdx := -1
		for i := range plan.Blocks {
			b := &plan.Blocks[i]
			if b.Bytes != iv.Bytes || b.Intervals[0].DType != iv.DType {
				continue
			}
			if !overlapsAny(b.Intervals, iv) {
				blockIdx = i
				break
			}
		}
		if blockIdx == -1 {
			plan.Blocks = append(plan.Blocks, Block{
				ID:        len(plan.Blocks),
				Bytes:     iv.Bytes,
				Alignment: minBlockAlignment,
			})
			blockIdx = len(plan.Blocks) - 1
		}
		plan.Blocks[blockIdx].Intervals = append(plan.Blocks[blockIdx].Intervals, iv)
		plan.Assignment[iv.Value] = plan.Blocks[blockIdx].ID
	}
	return plan, nil
}

func overlapsAny(existing []Interval, candidate Interval) bool {
	for _, e := range existing {
		if candidate.Birth <= e.Death && e.Birth <= candidate.Death {
			return true
		}
	}
	return false
}
