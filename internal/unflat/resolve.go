package unflat

import (
	mapset "github.com/deckarep/golang-set/v2"

	"unflat/internal/mcode"
)

// Resolve runs the dispatch chain from the entry with the state variable
// bound to value and returns the exit block it selects. ok is false when a
// comparison depends on something other than the state, or the chain loops.
func (d *DispatcherInfo) Resolve(value uint64) (int, bool) {
	target, _, ok := d.ResolvePath(value)
	return target, ok
}

// ResolvePath is Resolve that also returns the internal blocks visited on the
// way to the exit, in execution order.
func (d *DispatcherInfo) ResolvePath(value uint64) (int, []int, bool) {
	if d.Entry == nil || !d.hasState {
		return mcode.NoBlock, nil, false
	}
	env := mcode.Env{d.state: value}
	seen := mapset.NewThreadUnsafeSet[int]()
	var path []int
	cur := d.Entry.Serial()
	for {
		if d.exit.ContainsOne(cur) {
			return cur, path, true
		}
		if !d.internal.ContainsOne(cur) || !seen.Add(cur) {
			return mcode.NoBlock, nil, false
		}
		path = append(path, cur)
		b := d.fn.Blocks[cur]
		for _, ins := range b.Body() {
			env.Exec(ins)
		}
		next, ok := step(env, b)
		if !ok {
			return mcode.NoBlock, nil, false
		}
		cur = next
	}
}

// carried returns fresh copies of the non-control instructions of path, the
// work a father would have run inside the dispatcher.
func carried(fn *mcode.Func, path []int) []*mcode.Insn {
	var out []*mcode.Insn
	for _, s := range path {
		for _, ins := range fn.Blocks[s].Body() {
			out = append(out, ins.Clone())
		}
	}
	return out
}

// step picks the successor of b under env.
func step(env mcode.Env, b *mcode.Block) (int, bool) {
	t := b.Terminator()
	switch {
	case t == nil:
		return b.Next, b.Next != mcode.NoBlock
	case t.Op == mcode.OpGoto:
		return t.D.Block, true
	case t.Op.IsJcond():
		l, lok := env.Value(t.L)
		r, rok := env.Value(t.R)
		if !lok || !rok {
			return mcode.NoBlock, false
		}
		taken, ok := mcode.EvalCond(t.Op, l, r, max(t.L.Size, t.R.Size))
		if !ok {
			return mcode.NoBlock, false
		}
		if taken {
			return t.D.Block, true
		}
		return b.Next, true
	}
	return mcode.NoBlock, false
}

// stateAfter evaluates path in order from an empty environment and returns
// the state value left at its end.
func stateAfter(fn *mcode.Func, path []int, state mcode.Var) (uint64, bool) {
	env := mcode.Env{}
	for _, s := range path {
		for _, ins := range fn.Blocks[s].Body() {
			env.Exec(ins)
		}
	}
	v, ok := env[state]
	return v, ok
}
