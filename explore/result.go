package explore

import (
	"fmt"

	"github.com/xlab/treeprint"

	"github.com/sarchlab/dexsim/emu"
)

// ExitKind tells how a path ended.
type ExitKind int

// Path exit kinds.
const (
	// ExitReturn is a normal return.
	ExitReturn ExitKind = iota
	// ExitThrow is an exceptional outcome: explicit throw or a modeled
	// runtime exception.
	ExitThrow
	// ExitDefect means the code or the initial state was malformed.
	ExitDefect
	// ExitMerged means the path reached a state that was already explored.
	ExitMerged
	// ExitAbandoned means a budget ran out or the exploration was canceled.
	ExitAbandoned
)

var exitNames = [...]string{"return", "throw", "defect", "merged", "abandoned"}

func (k ExitKind) String() string {
	if int(k) < len(exitNames) {
		return exitNames[k]
	}
	return fmt.Sprintf("exit(%d)", k)
}

// Path is one terminated execution path.
type Path struct {
	ID   int
	Exit ExitKind

	// PC is the address of the last instruction the path reached.
	PC int
	// State is the register state when the path ended.
	State *emu.RegisterState

	Returned *emu.Value
	Thrown   emu.Exceptional
	Err      error

	// Trace lists the executed addresses in order.
	Trace []int
}

func (p *Path) String() string {
	switch p.Exit {
	case ExitReturn:
		if p.Returned == nil {
			return fmt.Sprintf("return-void at %d", p.PC)
		}
		return fmt.Sprintf("return %s at %d", p.Returned, p.PC)
	case ExitThrow:
		return fmt.Sprintf("throw %s at %d: %v", p.Thrown.ExceptionType(), p.PC, p.Thrown)
	case ExitDefect:
		return fmt.Sprintf("defect at %d: %v", p.PC, p.Err)
	case ExitAbandoned:
		return fmt.Sprintf("abandoned at %d: %v", p.PC, p.Err)
	}
	return fmt.Sprintf("%s at %d", p.Exit, p.PC)
}

// Stats holds exploration statistics.
type Stats struct {
	Steps     uint64
	Forks     uint64
	Paths     uint64
	Merged    uint64
	Abandoned uint64
	Widened   uint64
	Cache     CacheStats
}

// node is one segment of the fork tree: a straight run of instructions that
// ends in a fork or in a path exit.
type node struct {
	start    int
	end      int
	children []*node
	path     *Path
}

// Result is the outcome of an exploration.
type Result struct {
	Paths []*Path
	Stats Stats

	// Complete is false when any path was abandoned. Facts derived from
	// an incomplete result do not cover every execution.
	Complete bool

	addresses []int
	visits    map[int]int
	states    map[int][]*emu.RegisterState
	root      *node
}

// PathsWith returns the paths that ended with the given exit kind.
func (r *Result) PathsWith(kind ExitKind) []*Path {
	var paths []*Path
	for _, p := range r.Paths {
		if p.Exit == kind {
			paths = append(paths, p)
		}
	}
	return paths
}

// Visits returns how many times paths reached pc.
func (r *Result) Visits(pc int) int {
	return r.visits[pc]
}

// StatesAt returns the recorded states entering pc. States are only
// recorded with Config.RecordStates.
func (r *Result) StatesAt(pc int) []*emu.RegisterState {
	return r.states[pc]
}

// Consensus joins every recorded state entering pc. Registers that hold
// the same value on every path keep it. It returns nil when no state was
// recorded at pc.
func (r *Result) Consensus(pc int) *emu.RegisterState {
	states := r.states[pc]
	if len(states) == 0 {
		return nil
	}
	j := states[0]
	for _, st := range states[1:] {
		j = emu.Join(j, st)
	}
	return j
}

// Unreachable returns the addresses no path reached, in order.
func (r *Result) Unreachable() []int {
	var dead []int
	for _, addr := range r.addresses {
		if r.visits[addr] == 0 {
			dead = append(dead, addr)
		}
	}
	return dead
}

// Tree renders the fork tree.
func (r *Result) Tree() treeprint.Tree {
	tree := treeprint.New()
	if r.root == nil {
		tree.SetValue("empty")
		return tree
	}
	tree.SetValue(fmt.Sprintf("%d paths, %d forks", len(r.Paths), r.Stats.Forks))
	addNode(tree, r.root)
	return tree
}

func addNode(tree treeprint.Tree, n *node) {
	label := fmt.Sprintf("[%d..%d]", n.start, n.end)
	if n.path != nil {
		tree.AddNode(fmt.Sprintf("%s #%d %s", label, n.path.ID, n.path))
		return
	}
	if len(n.children) == 0 {
		tree.AddNode(label)
		return
	}
	branch := tree.AddBranch(label + " fork")
	for _, c := range n.children {
		addNode(branch, c)
	}
}
