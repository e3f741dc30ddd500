// Package flatten applies O-LLVM style control-flow flattening to mcode
// functions. It produces fixtures for the unflattener and lets the CLI
// obfuscate lifted code.
package flatten

import (
	"errors"
	"fmt"
	"math/bits"
	"math/rand/v2"

	"unflat/internal/mcode"
)

var (
	ErrStateInUse = errors.New("flatten: state variable already used by the function")
	ErrFallsOff   = errors.New("flatten: block falls off the function")
)

// DefaultState is the stack slot holding the dispatch state.
var DefaultState = mcode.Stack(-0x14, 4)

// Options configures Flatten.
type Options struct {
	Seed uint64

	// State is the variable the dispatcher switches on; zero means DefaultState.
	State mcode.Operand

	// LoopEnd routes every state update through one shared block that jumps
	// back to the dispatcher.
	LoopEnd bool
}

// Flatten returns a flattened copy of fn:
//
//	0:        mov #c0 -> state; goto K0
//	1..n-1:   Ki: jz state, #ci -> case i, else K(i+1)   (the last falls into case n-1)
//	n..2n-1:  case i: the original block, with every edge j replaced by
//	          mov #cj -> state; goto K0 (or the loop end)
//
// Conditional jumps keep their condition and get one jump block per edge.
// Functions with fewer than two blocks are returned unchanged.
func Flatten(fn *mcode.Func, opts Options) (*mcode.Func, error) {
	state := opts.State
	if state.IsNone() {
		state = DefaultState
	}
	sv, ok := state.Var()
	if !ok {
		return nil, fmt.Errorf("flatten: state %s is not a variable", state)
	}
	n := len(fn.Blocks)
	if n < 2 {
		return fn.Clone(), nil
	}
	for _, b := range fn.Blocks {
		if b.Defines(sv) || containsVar(b.UseVars(), sv) {
			return nil, fmt.Errorf("%w: %s blk %d uses %s", ErrStateInUse, fn.Name, b.Serial, sv)
		}
	}

	rng := rand.New(rand.NewPCG(opts.Seed, opts.Seed^0x9e3779b97f4a7c15))
	consts := stateConstants(rng, n, state.Size)

	const entry = 1
	caseSerial := func(i int) int { return n + i }
	next := 2 * n
	dispatch := entry
	if opts.LoopEnd {
		dispatch = next
		next++
	}
	transfer := func(j int) []*mcode.Insn {
		return []*mcode.Insn{
			mcode.Mov(mcode.Imm(consts[j], state.Size), state),
			mcode.Goto(dispatch),
		}
	}

	blocks := make([]*mcode.Block, 0, next+n)
	blocks = append(blocks, mcode.NewBlock(0, transfer(0)[0], mcode.Goto(entry)))
	for i := 0; i < n-1; i++ {
		k := mcode.NewBlock(entry+i, mcode.Jcc(mcode.OpJz, state, mcode.Imm(consts[i], state.Size), caseSerial(i)))
		if i < n-2 {
			k.Next = entry + i + 1
		} else {
			k.Next = caseSerial(n - 1)
		}
		blocks = append(blocks, k)
	}

	var jumps []*mcode.Block
	jumpTo := func(j int) int {
		s := next + len(jumps)
		jumps = append(jumps, mcode.NewBlock(s, transfer(j)...))
		return s
	}
	for i, b := range fn.Blocks {
		c := b.Clone()
		c.Serial = caseSerial(i)
		t := c.Terminator()
		switch {
		case t == nil:
			if b.Next == mcode.NoBlock {
				return nil, fmt.Errorf("%w: %s blk %d", ErrFallsOff, fn.Name, b.Serial)
			}
			c.Insns = append(c.Insns, transfer(b.Next)...)
			c.Next = mcode.NoBlock
		case t.Op == mcode.OpGoto:
			c.Insns = append(c.Body(), transfer(t.D.Block)...)
			c.Next = mcode.NoBlock
		case t.Op == mcode.OpRet:
		case t.Op.IsJcond() && t.D.Block == b.Next:
			c.Insns = append(c.Body(), transfer(b.Next)...)
			c.Next = mcode.NoBlock
		case t.Op.IsJcond():
			t.D.Block = jumpTo(t.D.Block)
			c.Next = jumpTo(b.Next)
		default:
			return nil, fmt.Errorf("%w: %s blk %d ends in %s", mcode.ErrInconsistent, fn.Name, b.Serial, t.Op)
		}
		blocks = append(blocks, c)
	}
	if opts.LoopEnd {
		blocks = append(blocks, mcode.NewBlock(dispatch, mcode.Goto(entry)))
	}
	blocks = append(blocks, jumps...)

	out, err := mcode.NewFunc(fn.Name, blocks...)
	if err != nil {
		return nil, err
	}
	out.Maturity = fn.Maturity
	return out, nil
}

// stateConstants draws n distinct values whose set-bit ratio stays near one
// half, like the random case labels of an O-LLVM dispatcher.
func stateConstants(rng *rand.Rand, n, size int) []uint64 {
	width := size * 8
	if width <= 0 || width > 64 {
		width = 64
	}
	lo, hi := width*3/8, width*5/8
	seen := make(map[uint64]bool, n)
	out := make([]uint64, 0, n)
	for len(out) < n {
		v := mcode.Truncate(rng.Uint64(), size)
		if c := bits.OnesCount64(v); c < lo || c > hi || seen[v] {
			continue
		}
		seen[v] = true
		out = append(out, v)
	}
	return out
}

func containsVar(vs []mcode.Var, v mcode.Var) bool {
	for _, x := range vs {
		if x == v {
			return true
		}
	}
	return false
}
