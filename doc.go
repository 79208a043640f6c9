// Package infergraph implements a deep-learning inference runtime: it loads a
// pre-trained model into an in-memory computation graph, optimizes that graph,
// plans tensor storage, and executes it against caller-supplied input tensors.
//
// # Architecture Overview
//
// The runtime is built from a small set of composable packages:
//
//   - types: element types, shapes, and device tags shared across the runtime
//   - tensor: owning and view tensors over typed, shaped, device-tagged storage
//   - graph: the node/value dataflow IR, topological sort, validation, DOT export
//   - allocator: per-device aligned allocation and allocation statistics
//   - planner: tensor lifetime analysis and block-reuse memory planning
//   - operator: the op-type registry and the built-in CPU kernel set
//   - provider: the execution-provider abstraction and device interface
//   - optimizer: the pass manager and the mandatory optimization passes
//   - scheduler: topological, pipeline, and parallel execution orders
//   - importer: a reference binary graph format reader/writer
//   - session: the facade that binds the above into Load/Run/Profile
//   - cmd: command-line front-ends (infergraphc, infergraphrun, infergraphprofile)
//
// # Basic Usage
//
//	sess := session.New(session.DefaultConfig())
//	if err := sess.LoadModel("model.igraph"); err != nil {
//		log.Fatal(err)
//	}
//	if err := sess.Run(inputs, outputs); err != nil {
//		log.Fatal(err)
//	}
package infergraph
