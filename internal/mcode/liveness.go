package mcode

// Liveness returns, per block serial, the variables live on entry and on exit.
func (f *Func) Liveness() (in, out []map[Var]bool) {
	n := len(f.Blocks)
	in = make([]map[Var]bool, n)
	out = make([]map[Var]bool, n)
	use := make([][]Var, n)
	def := make([]map[Var]bool, n)
	for i, b := range f.Blocks {
		in[i] = make(map[Var]bool)
		out[i] = make(map[Var]bool)
		use[i] = b.FreeVars()
		def[i] = make(map[Var]bool)
		for _, v := range b.DefVars() {
			def[i][v] = true
		}
	}
	for changed := true; changed; {
		changed = false
		for i := n - 1; i >= 0; i-- {
			b := f.Blocks[i]
			for _, s := range b.Succs {
				for v := range in[s] {
					if !out[i][v] {
						out[i][v] = true
						changed = true
					}
				}
			}
			for _, v := range use[i] {
				if !in[i][v] {
					in[i][v] = true
					changed = true
				}
			}
			for v := range out[i] {
				if !def[i][v] && !in[i][v] {
					in[i][v] = true
					changed = true
				}
			}
		}
	}
	return in, out
}

// removable reports whether an instruction only computes its destination.
func removable(op Opcode) bool {
	return (op >= OpMov && op <= OpLdx) || op == OpUnd
}

// EliminateDeadStores drops side-effect free instructions whose destination
// register or stack slot is never read afterwards, until none is left.
// Globals are always treated as live; stack slots are assumed not to have
// their address taken. Returns the number of instructions removed.
func (f *Func) EliminateDeadStores() int {
	total := 0
	for {
		_, out := f.Liveness()
		removed := 0
		for i, b := range f.Blocks {
			live := make(map[Var]bool, len(out[i]))
			for v := range out[i] {
				live[v] = true
			}
			keep := make([]*Insn, 0, len(b.Insns))
			for j := len(b.Insns) - 1; j >= 0; j-- {
				ins := b.Insns[j]
				defs := ins.Defs()
				if removable(ins.Op) && len(defs) == 1 && defs[0].Kind != KindGlobal && !live[defs[0]] {
					removed++
					continue
				}
				for _, d := range defs {
					delete(live, d)
				}
				for _, u := range ins.Uses() {
					live[u] = true
				}
				keep = append(keep, ins)
			}
			for l, r := 0, len(keep)-1; l < r; l, r = l+1, r-1 {
				keep[l], keep[r] = keep[r], keep[l]
			}
			b.Insns = keep
		}
		if removed == 0 {
			return total
		}
		total += removed
	}
}
