// Package explore drives the abstract interpreter over every feasible path
// of a method.
//
// Paths live on an explicit worklist. A step whose outcome depends on unknown
// values forks the path: every successor gets its own copy of the state and
// the paths never share mutable structure. Each path ends by returning, by
// throwing, on a defect, by merging into an already explored state, or by
// running out of budget.
package explore

import (
	"context"
	"errors"
	"fmt"

	"github.com/go-logr/logr"

	"github.com/sarchlab/dexsim/emu"
	"github.com/sarchlab/dexsim/insts"
)

// Budget errors recorded on abandoned paths.
var (
	ErrStepBudget  = errors.New("step budget exhausted")
	ErrVisitBudget = errors.New("visit budget exhausted")
	ErrPathBudget  = errors.New("path budget exhausted")
)

// Explorer explores the method of one emulator.
type Explorer struct {
	emulator *emu.Emulator
	config   *Config
	log      logr.Logger
}

// Option is a functional option for configuring the Explorer.
type Option func(*Explorer)

// WithConfig sets the budgets and the merge policy.
func WithConfig(config *Config) Option {
	return func(x *Explorer) {
		x.config = config.Clone()
	}
}

// WithLogger sets the logger. Forks, merges and abandoned paths are logged
// at V(1), every step at V(2).
func WithLogger(log logr.Logger) Option {
	return func(x *Explorer) {
		x.log = log
	}
}

// NewExplorer creates an explorer over the method loaded in e.
func NewExplorer(e *emu.Emulator, opts ...Option) *Explorer {
	x := &Explorer{
		emulator: e,
		config:   DefaultConfig(),
		log:      logr.Discard(),
	}

	for _, opt := range opts {
		opt(x)
	}

	return x
}

// Config returns the configuration in use.
func (x *Explorer) Config() *Config {
	return x.config
}

// running is a path still on the worklist.
type running struct {
	pc    int
	state *emu.RegisterState
	node  *node
	steps int
	trace []int

	// visits counts how often this path has reached each address.
	visits map[int]int
}

// exploration holds the bookkeeping of one Explore call.
type exploration struct {
	*Explorer

	result  *Result
	cache   *StateCache
	work    []*running
	last    map[int]*emu.RegisterState
	joins   map[int]bool
	created int
}

// Explore runs every path from the method entry, starting from a copy of
// initial. The returned error is non-nil only for an invalid configuration,
// an empty method or a canceled context; path failures are reported in the
// result.
func (x *Explorer) Explore(ctx context.Context, initial *emu.RegisterState) (*Result, error) {
	if err := x.config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid explore config: %w", err)
	}
	code := x.emulator.Code()
	if len(code) == 0 {
		return nil, errors.New("method has no instructions")
	}
	if initial == nil {
		initial = emu.NewRegisterState()
	}

	entry := x.emulator.Entry()
	xp := &exploration{
		Explorer: x,
		result: &Result{
			Complete: true,
			visits:   make(map[int]int),
			states:   make(map[int][]*emu.RegisterState),
			root:     &node{start: entry, end: entry},
		},
		cache:   NewStateCache(x.config.StateCacheSets, x.config.StateCacheWays),
		last:    make(map[int]*emu.RegisterState),
		joins:   joinPoints(entry, code),
		created: 1,
	}
	for _, inst := range code {
		xp.result.addresses = append(xp.result.addresses, inst.Address)
	}

	xp.work = append(xp.work, &running{
		pc:    entry,
		state:  initial.Clone(),
		node:   xp.result.root,
		visits: make(map[int]int),
	})

	for len(xp.work) > 0 {
		if err := ctx.Err(); err != nil {
			for _, p := range xp.work {
				xp.finish(p, ExitAbandoned, emu.StepResult{Err: err})
			}
			xp.work = nil
			xp.summarize()
			return xp.result, err
		}

		p := xp.work[len(xp.work)-1]
		xp.work = xp.work[:len(xp.work)-1]
		xp.advance(p)
	}

	xp.summarize()
	return xp.result, nil
}

// advance executes p until it exits or forks.
func (xp *exploration) advance(p *running) {
	for {
		if xp.enter(p) {
			return
		}

		if l := xp.log.V(2); l.Enabled() {
			if inst, ok := xp.emulator.Instruction(p.pc); ok {
				l.Info("step", "pc", p.pc, "inst", inst.String(), "state", p.state.String())
			}
		}

		result := xp.emulator.Step(p.pc, p.state)
		xp.result.Stats.Steps++
		p.steps++
		p.trace = append(p.trace, p.pc)
		p.node.end = p.pc

		switch {
		case result.Err != nil:
			xp.finish(p, ExitDefect, result)
			return
		case result.Exited && result.Thrown != nil:
			xp.finish(p, ExitThrow, result)
			return
		case result.Exited:
			xp.finish(p, ExitReturn, result)
			return
		case len(result.Next) == 1:
			p.pc = result.Next[0]
		default:
			xp.fork(p, result.Next)
			return
		}
	}
}

// enter accounts for p reaching p.pc. It returns true when the path ends
// there without executing the instruction.
func (xp *exploration) enter(p *running) bool {
	xp.result.visits[p.pc]++
	visits := xp.result.visits[p.pc]
	p.visits[p.pc]++

	if xp.joins[p.pc] && xp.cache.Seen(p.pc, p.state) {
		xp.finish(p, ExitMerged, emu.StepResult{})
		return true
	}

	if xp.joins[p.pc] && xp.config.MergePolicy == MergeWiden {
		if prev, ok := xp.last[p.pc]; ok && visits > xp.config.WidenAfter {
			joined := emu.Join(prev, p.state)
			if joined.Equal(prev) {
				xp.finish(p, ExitMerged, emu.StepResult{})
				return true
			}
			xp.log.V(1).Info("widen", "pc", p.pc, "visits", visits)
			xp.result.Stats.Widened++
			p.state = joined
		}
		xp.last[p.pc] = p.state.Clone()
	}

	if p.steps >= xp.config.MaxSteps {
		xp.finish(p, ExitAbandoned, emu.StepResult{
			Err: fmt.Errorf("%w: %d steps", ErrStepBudget, p.steps),
		})
		return true
	}
	if n := p.visits[p.pc]; n > xp.config.MaxVisits {
		xp.finish(p, ExitAbandoned, emu.StepResult{
			Err: fmt.Errorf("%w: %d visits at %d", ErrVisitBudget, n, p.pc),
		})
		return true
	}

	if xp.config.RecordStates {
		xp.result.states[p.pc] = append(xp.result.states[p.pc], p.state.Clone())
	}
	return false
}

// joinPoints returns the addresses where paths can meet again: the entry and
// every branch or switch target. Any other address has a single predecessor,
// so states are remembered only at join points. A snapshot costs the next
// array write a copy.
func joinPoints(entry int, code []*insts.Instruction) map[int]bool {
	joins := map[int]bool{entry: true}
	for _, inst := range code {
		switch inst.Family {
		case insts.FamilyGoto, insts.FamilyIf, insts.FamilyIfZ:
			joins[inst.Target()] = true
		case insts.FamilySwitch:
			if inst.Payload == nil {
				continue
			}
			for _, t := range inst.Payload.Targets {
				joins[inst.Address+int(t)] = true
			}
		}
	}
	return joins
}

// fork splits p at a step with several successors. The first successor
// keeps p's state and is explored first.
func (xp *exploration) fork(p *running, next []int) {
	extra := len(next) - 1
	if xp.created+extra > xp.config.MaxPaths {
		xp.finish(p, ExitAbandoned, emu.StepResult{
			Err: fmt.Errorf("%w: %d paths", ErrPathBudget, xp.config.MaxPaths),
		})
		return
	}
	xp.created += extra
	xp.result.Stats.Forks++
	xp.log.V(1).Info("fork", "pc", p.pc, "targets", next)

	succ := make([]*running, len(next))
	for i, target := range next {
		child := &node{start: target, end: target}
		p.node.children = append(p.node.children, child)

		succ[i] = &running{pc: target, node: child, steps: p.steps}
		if i == 0 {
			continue
		}
		succ[i].state = p.state.Clone()
		succ[i].trace = append([]int(nil), p.trace...)
		succ[i].visits = make(map[int]int, len(p.visits))
		for pc, n := range p.visits {
			succ[i].visits[pc] = n
		}
	}
	succ[0].state = p.state
	succ[0].trace = p.trace
	succ[0].visits = p.visits

	for i := len(succ) - 1; i >= 0; i-- {
		xp.work = append(xp.work, succ[i])
	}
}

// finish records the end of p.
func (xp *exploration) finish(p *running, kind ExitKind, result emu.StepResult) {
	path := &Path{
		ID:       len(xp.result.Paths),
		Exit:     kind,
		PC:       p.pc,
		State:    p.state,
		Returned: result.Returned,
		Thrown:   result.Thrown,
		Err:      result.Err,
		Trace:    p.trace,
	}
	xp.result.Paths = append(xp.result.Paths, path)
	p.node.path = path

	switch kind {
	case ExitMerged:
		xp.result.Stats.Merged++
		xp.log.V(1).Info("merged", "path", path.ID, "pc", p.pc)
	case ExitAbandoned:
		xp.result.Stats.Abandoned++
		xp.result.Complete = false
		xp.log.V(1).Info("abandoned", "path", path.ID, "pc", p.pc, "reason", result.Err.Error())
	case ExitDefect:
		xp.log.V(1).Info("defect", "path", path.ID, "pc", p.pc, "error", result.Err.Error())
	}
}

func (xp *exploration) summarize() {
	xp.result.Stats.Paths = uint64(len(xp.result.Paths))
	xp.result.Stats.Cache = xp.cache.Stats()
	xp.log.V(1).Info("explored",
		"paths", xp.result.Stats.Paths,
		"steps", xp.result.Stats.Steps,
		"forks", xp.result.Stats.Forks,
		"complete", xp.result.Complete)
}
