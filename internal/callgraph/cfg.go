package callgraph

import (
	"github.com/zboralski/lattice"

	"unflat/internal/mcode"
)

// BuildCFG constructs a lattice.CFGGraph from microcode functions.
func BuildCFG(funcs []*mcode.Func) *lattice.CFGGraph {
	cg := &lattice.CFGGraph{}
	for _, f := range funcs {
		cg.Funcs = append(cg.Funcs, BuildFuncCFG(f))
	}
	return cg
}

// BuildFuncCFG maps one function onto a lattice.FuncCFG. Block IDs are
// serials; Start and End index the function's instructions in block order.
// Conditional jumps give a T edge to the target and an F edge to the
// fallthrough.
func BuildFuncCFG(fn *mcode.Func) *lattice.FuncCFG {
	lcfg := &lattice.FuncCFG{Name: fn.Name}
	idx := 0
	for _, b := range fn.Blocks {
		lb := &lattice.BasicBlock{
			ID:    b.Serial,
			Start: idx,
			End:   idx + len(b.Insns),
		}

		tail := b.Terminator()
		switch {
		case tail == nil:
			if b.Next != mcode.NoBlock {
				lb.Succs = append(lb.Succs, lattice.Successor{BlockID: b.Next})
			}
		case tail.Op == mcode.OpRet:
			lb.Term = true
		case tail.Op == mcode.OpGoto:
			lb.Succs = append(lb.Succs, lattice.Successor{BlockID: tail.D.Block})
		default:
			lb.Succs = append(lb.Succs, lattice.Successor{BlockID: tail.D.Block, Cond: "T"})
			if b.Next != mcode.NoBlock {
				lb.Succs = append(lb.Succs, lattice.Successor{BlockID: b.Next, Cond: "F"})
			}
		}
		if len(lb.Succs) == 0 {
			lb.Term = true
		}

		for i, ins := range b.Insns {
			if ins.Op != mcode.OpCall {
				continue
			}
			callee, ok := Callee(ins)
			if !ok {
				callee = "indirect " + ins.L.String()
			}
			lb.Calls = append(lb.Calls, lattice.CallSite{
				Offset: idx + i,
				Callee: callee,
			})
		}

		idx += len(b.Insns)
		lcfg.Blocks = append(lcfg.Blocks, lb)
	}
	return lcfg
}
