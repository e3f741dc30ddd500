package mcode

import (
	"errors"
	"fmt"
)

var (
	ErrStepLimit = errors.New("mcode: step limit reached")
	ErrUnknown   = errors.New("mcode: read of undefined value")
)

// CallEvent is one observed call.
type CallEvent struct {
	Callee string
	Arg    uint64
}

// Trace is the observable behavior of one execution.
type Trace struct {
	Ret   uint64
	Calls []CallEvent
	Steps int
}

// Run interprets f starting at block 0 with the given initial variables.
// Unset variables read as zero. Memory accessed through ldx/stx is a flat
// word map keyed by address. Calls are recorded and return arg+1.
// Execution stops with ErrStepLimit after limit instructions.
func Run(f *Func, inputs Env, limit int) (*Trace, error) {
	if len(f.Blocks) == 0 {
		return nil, fmt.Errorf("%w: %s has no blocks", ErrBlockNotFound, f.Name)
	}
	env := make(Env, len(inputs))
	for k, v := range inputs {
		env[k] = v
	}
	mem := make(map[uint64]uint64)
	// Zero-fill every variable an operand reads, so Env.Value always succeeds.
	touch := func(o Operand) {
		for _, v := range o.appendUses(nil) {
			if _, ok := env[v]; !ok {
				env[v] = 0
			}
		}
	}
	val := func(o Operand) uint64 {
		touch(o)
		x, _ := env.Value(o)
		return x
	}

	tr := &Trace{}
	cur := 0
	for {
		b := f.Blocks[cur]
		next := b.Next
		for _, ins := range b.Insns {
			tr.Steps++
			if tr.Steps > limit {
				return tr, fmt.Errorf("%w (%d) in %s blk %d", ErrStepLimit, limit, f.Name, cur)
			}
			touch(ins.L)
			touch(ins.R)
			switch {
			case ins.Op == OpRet:
				if !ins.L.IsNone() {
					tr.Ret = val(ins.L)
				}
				return tr, nil
			case ins.Op == OpGoto:
				next = ins.D.Block
			case ins.Op.IsJcond():
				taken, _ := EvalCond(ins.Op, val(ins.L), val(ins.R), maxSize(ins.L, ins.R))
				if taken {
					next = ins.D.Block
				}
			case ins.Op == OpCall:
				arg := val(ins.R)
				name := ins.L.Name
				if name == "" {
					name = ins.L.String()
				}
				tr.Calls = append(tr.Calls, CallEvent{Callee: name, Arg: arg})
				if v, ok := ins.D.Var(); ok {
					env[v] = Truncate(arg+1, ins.D.Size)
				}
			case ins.Op == OpLdx:
				if v, ok := ins.D.Var(); ok {
					env[v] = Truncate(mem[val(ins.L)], ins.D.Size)
				}
			case ins.Op == OpStx:
				mem[val(ins.R)] = val(ins.L)
			case ins.Op == OpUnd:
				return tr, fmt.Errorf("%w: %s blk %d: und", ErrUnknown, f.Name, cur)
			case ins.Op == OpNop:
			default:
				env.Exec(ins)
			}
		}
		if next == NoBlock {
			return tr, fmt.Errorf("%w: %s blk %d falls off the function", ErrInconsistent, f.Name, cur)
		}
		if next < 0 || next >= len(f.Blocks) {
			return tr, fmt.Errorf("%w: %s blk %d -> %d", ErrBlockNotFound, f.Name, cur, next)
		}
		cur = next
	}
}

func maxSize(a, b Operand) int {
	if a.Size > b.Size {
		return a.Size
	}
	return b.Size
}
