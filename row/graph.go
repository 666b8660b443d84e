package row

import "github.com/ibkv-project/ibkv/common"

// NodeID indexes into a Graph's node slice — the query-graph executor
// referenced by design note 9 ("cyclic graphs via arena indices"):
// InnoDB's query graphs are built from nodes linked by pointers that
// can cycle (a loop node jumping back to its own body), which Go's
// garbage collector has no trouble with with real pointers, but this
// build still prefers a flat arena + index so a graph can be built
// once per statement shape and replayed without per-call allocation.
type NodeID uint32

// graphNode is one step: a label for diagnostics, the action to run,
// and the next node to run on success (NoNext ends the graph; a node
// can point `Next` at an earlier index to loop).
type graphNode struct {
	Label string
	Run   func() error
	Next  NodeID
}

// NoNext marks the end of a Graph's execution path.
const NoNext NodeID = ^NodeID(0)

// Graph is a small, explicitly sequenced query graph: row builds one
// per DML statement (insert/update/delete) out of a handful of nodes —
// acquire lock, append undo, mutate the tree — and runs it start to
// finish, so the statement's steps are named and orderable the way the
// spec's query-graph node shape describes, without needing a general
// graph-definition language for what is, in this build, always a
// straight-line statement.
type Graph struct {
	nodes []graphNode
	start NodeID
}

// Step is one named action a Graph runs in sequence.
type Step struct {
	Label string
	Run   func() error
}

// NewGraph builds a graph that runs steps in order, each only if the
// previous one succeeded.
func NewGraph(steps ...Step) *Graph {
	g := &Graph{nodes: make([]graphNode, len(steps))}
	for i, s := range steps {
		next := NodeID(i + 1)
		if i == len(steps)-1 {
			next = NoNext
		}
		g.nodes[i] = graphNode{Label: s.Label, Run: s.Run, Next: next}
	}
	return g
}

// Run walks the graph from its start node, stopping at the first
// failing node and reporting which one failed.
func (g *Graph) Run() error {
	if len(g.nodes) == 0 {
		return nil
	}
	cur := g.start
	for cur != NoNext {
		if int(cur) >= len(g.nodes) {
			return common.NewError(common.ErrCorruption, "row: query graph node %d out of range", cur)
		}
		n := g.nodes[cur]
		if err := n.Run(); err != nil {
			return common.Wrap(common.CodeOf(err), err, "row: query graph node %q failed", n.Label)
		}
		cur = n.Next
	}
	return nil
}
