package disasm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"unflat/internal/mcode"
	"unflat/internal/unflat"
)

// stateCheck stores a 32-bit state to [sp, #0xc], reloads it and compares
// it against the same constant built in another register.
//
//	0x1000  sub  sp, sp, #0x10
//	0x1004  mov  w8, #0x1234
//	0x1008  movk w8, #0x5678, lsl #16
//	0x100c  str  w8, [sp, #0xc]
//	0x1010  ldr  w9, [sp, #0xc]
//	0x1014  mov  w10, #0x1234
//	0x1018  movk w10, #0x5678, lsl #16
//	0x101c  cmp  w9, w10
//	0x1020  b.eq 0x102c
//	0x1024  mov  w0, #1
//	0x1028  ret
//	0x102c  mov  w0, #2
//	0x1030  ret
var stateCheck = []uint32{
	0xD10043FF,
	0x52824688,
	0x72AACF08,
	0xB9000FE8,
	0xB9400FE9,
	0x5282468A,
	0x72AACF0A,
	0x6B0A013F,
	0x54000060,
	0x52800020,
	ret,
	0x52800040,
	ret,
}

func lift(t *testing.T, words []uint32, opts LiftOptions) *mcode.Func {
	t.Helper()
	fn, err := LiftBytes("f", Encode(words...), 0x1000, opts)
	require.NoError(t, err)
	require.NoError(t, fn.Verify())
	return fn
}

func TestLiftComparisonBlock(t *testing.T) {
	fn := lift(t, stateCheck, LiftOptions{})
	require.Len(t, fn.Blocks, 3)
	assert.Equal(t, mcode.MatLifted, fn.Maturity)

	b0 := fn.Blocks[0]
	assert.Equal(t, []int{1, 2}, b0.Succs)
	cmp, ok := unflat.GetComparison(b0)
	require.True(t, ok, "b.eq after cmp is a comparison block")
	assert.Equal(t, uint64(0x56781234), cmp.Value())
	assert.Equal(t, mcode.Stack(0xc, 4), cmp.Compared, "the reload is folded into the slot")
	assert.Equal(t, mcode.OpJz, b0.Tail().Op)

	// The store writes the folded constant.
	store := b0.Insns[3]
	assert.Equal(t, mcode.OpMov, store.Op)
	assert.Equal(t, mcode.Imm(0x56781234, 4), store.L)

	tr, err := mcode.Run(fn, nil, 100)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), tr.Ret)
}

func TestLiftMaskedTest(t *testing.T) {
	//	tst  w9, #0xff
	//	b.ne +8
	//	ret
	//	ret
	fn := lift(t, []uint32{0x72001D3F, 0x54000041, ret, ret}, LiftOptions{})
	cmp, ok := unflat.GetComparison(fn.Blocks[0])
	require.True(t, ok)
	assert.True(t, cmp.Compared.IsExprOf(mcode.OpAnd))
	assert.Equal(t, mcode.Imm(0xff, 4), cmp.Compared.Expr.R)
	assert.Zero(t, cmp.Value())
	assert.Equal(t, mcode.OpJnz, fn.Blocks[0].Tail().Op)
}

func TestLiftSavesClobberedCompare(t *testing.T) {
	//	cmp  w9, #5
	//	mov  w9, #1
	//	b.lo +8
	//	ret
	//	ret
	fn := lift(t, []uint32{0x7100153F, 0x52800029, 0x54000043, ret, ret}, LiftOptions{})
	b0 := fn.Blocks[0]
	tail := b0.Tail()
	assert.Equal(t, mcode.OpJb, tail.Op)
	assert.Equal(t, mcode.Register(RegFlagL, 4), tail.L)
	assert.Equal(t, mcode.Imm(5, 4), tail.R)
	assert.Equal(t, mcode.Mov(mcode.Register(9, 4), mcode.Register(RegFlagL, 4)), b0.Insns[0])

	taken := func(in uint64) bool {
		env := mcode.Env{{Kind: mcode.KindReg, Reg: 9}: in}
		for _, ins := range b0.Body() {
			env.Exec(ins)
		}
		l, _ := env.Value(tail.L)
		ok, _ := mcode.EvalCond(tail.Op, l, tail.R.Value, 4)
		return ok
	}
	assert.True(t, taken(3))
	assert.False(t, taken(7))
}

func TestLiftCallsAndBranches(t *testing.T) {
	//	0x1000  bl   0x2000
	//	0x1004  cbz  w0, 0x1010
	//	0x1008  tbnz x0, #33, 0x1010
	//	0x100c  b    0x3000
	//	0x1010  ret
	words := []uint32{0x94000400, 0x34000060, 0xB7080040, 0x140007FD, ret}
	syms := MapLookup(map[uint64]string{0x2000: "helper"})
	fn := lift(t, words, LiftOptions{Symbols: syms})
	require.Len(t, fn.Blocks, 4)

	call := fn.Blocks[0].Insns[0]
	assert.Equal(t, mcode.OpCall, call.Op)
	assert.Equal(t, "helper", call.L.Name)
	assert.Equal(t, mcode.Jcc(mcode.OpJz, mcode.Register(0, 4), mcode.Imm(0, 4), 3), fn.Blocks[0].Tail())

	tb := fn.Blocks[1].Tail()
	assert.Equal(t, mcode.OpJnz, tb.Op)
	require.True(t, tb.L.IsExprOf(mcode.OpAnd))
	assert.Equal(t, uint64(1)<<33, tb.L.Expr.R.Value)

	tail := fn.Blocks[2].Insns
	require.Len(t, tail, 2, "a branch out of the function is a tail call")
	assert.Equal(t, "sub_3000", tail[0].L.Name)
	assert.Equal(t, mcode.OpRet, tail[1].Op)
}

func TestLiftUnsupported(t *testing.T) {
	//	sdiv w0, w1, w2
	//	ret
	words := []uint32{0x1AC20C20, ret}
	_, err := LiftBytes("f", Encode(words...), 0, LiftOptions{Strict: true})
	require.ErrorIs(t, err, ErrUnsupported)

	fn := lift(t, words, LiftOptions{})
	und := fn.Blocks[0].Insns[0]
	assert.Equal(t, mcode.OpUnd, und.Op)
	assert.Equal(t, mcode.Register(0, 4), und.D)
}

func TestLiftStackFrame(t *testing.T) {
	//	stp  x29, x30, [sp, #-0x10]!
	//	mov  x29, sp
	//	stur w0, [x29, #-4]
	//	ldur w8, [x29, #-4]
	//	add  w0, w8, #1
	//	ldp  x29, x30, [sp], #0x10
	//	ret
	words := []uint32{0xA9BF7BFD, 0x910003FD, 0xB81FC3A0, 0xB85FC3A8, 0x11000500, 0xA8C17BFD, ret}
	fn := lift(t, words, LiftOptions{})
	slot := mcode.StackAt(RegFP, -4, 4)
	var sawStore, sawAdd bool
	for _, ins := range fn.Blocks[0].Insns {
		if ins.Op == mcode.OpMov && ins.D == slot {
			sawStore = true
		}
		if ins.Op == mcode.OpAdd && ins.L == slot {
			sawAdd = true
		}
	}
	assert.True(t, sawStore, "stur to the frame is a slot write")
	assert.True(t, sawAdd, "the reload is folded into the add")

	tr, err := mcode.Run(fn, mcode.Env{{Kind: mcode.KindReg, Reg: 0}: 41}, 100)
	require.NoError(t, err)
	assert.Equal(t, uint64(42), tr.Ret)
}
