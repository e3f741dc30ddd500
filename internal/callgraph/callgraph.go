// Package callgraph maps microcode functions onto lattice graphs: a call
// graph across functions and per-function block CFGs annotated with calls.
package callgraph

import (
	"fmt"

	"github.com/zboralski/lattice"

	"unflat/internal/mcode"
)

// Callee names the target of a call instruction. Calls through a register
// have no static name and report false.
func Callee(ins *mcode.Insn) (string, bool) {
	if ins.Op != mcode.OpCall || ins.L.Kind != mcode.KindGlobal {
		return "", false
	}
	if ins.L.Name != "" {
		return ins.L.Name, true
	}
	return fmt.Sprintf("0x%x", ins.L.Addr), true
}

// BuildCallGraph constructs a lattice.Graph from microcode functions.
// Each function becomes a node. Each direct call becomes an edge; indirect
// calls are skipped.
func BuildCallGraph(funcs []*mcode.Func) *lattice.Graph {
	g := &lattice.Graph{}
	for _, f := range funcs {
		g.Nodes = append(g.Nodes, f.Name)
		for _, b := range f.Blocks {
			for _, ins := range b.Insns {
				callee, ok := Callee(ins)
				if !ok {
					continue
				}
				g.Edges = append(g.Edges, lattice.Edge{
					Caller: f.Name,
					Callee: callee,
				})
			}
		}
	}
	g.Dedup()
	return g
}
