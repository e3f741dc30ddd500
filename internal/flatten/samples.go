package flatten

import "unflat/internal/mcode"

var (
	x0 = mcode.Register(0, 4)
	x1 = mcode.Register(1, 4)
	x2 = mcode.Register(2, 4)
	x3 = mcode.Register(3, 4)
)

func jcc(serial int, op mcode.Opcode, l, r mcode.Operand, taken, next int) *mcode.Block {
	b := mcode.NewBlock(serial, mcode.Jcc(op, l, r, taken))
	b.Next = next
	return b
}

func fall(b *mcode.Block, next int) *mcode.Block {
	b.Next = next
	return b
}

func imm(v uint64) mcode.Operand { return mcode.Imm(v, 4) }

// Samples returns small structured functions over input register r0. They
// cover branches, a loop, a fallthrough join and calls, and serve as
// flattening inputs for tests and for `unflat flatten --samples`.
func Samples() []*mcode.Func {
	abs := must(mcode.NewFunc("abs",
		jcc(0, mcode.OpJl, x0, imm(0), 2, 1),
		mcode.NewBlock(1, mcode.Mov(x0, x1), mcode.Goto(3)),
		fall(mcode.NewBlock(2, &mcode.Insn{Op: mcode.OpNeg, L: x0, D: x1}), 3),
		mcode.NewBlock(3, mcode.Call(mcode.Global(0x1000, "puts", 8), x1, x2), mcode.Ret(x1)),
	))

	sum := must(mcode.NewFunc("sum",
		fall(mcode.NewBlock(0, mcode.Mov(imm(0), x1), mcode.Mov(imm(0), x2)), 1),
		jcc(1, mcode.OpJae, x2, x0, 3, 2),
		mcode.NewBlock(2,
			mcode.Binary(mcode.OpAdd, x1, x2, x1),
			mcode.Binary(mcode.OpAdd, x2, imm(1), x2),
			mcode.Call(mcode.Global(0x1010, "tick", 8), x2, x3),
			mcode.Goto(1)),
		mcode.NewBlock(3, mcode.Ret(x1)),
	))

	classify := must(mcode.NewFunc("classify",
		jcc(0, mcode.OpJz, x0, imm(1), 4, 1),
		jcc(1, mcode.OpJz, x0, imm(2), 5, 2),
		jcc(2, mcode.OpJb, x0, imm(10), 6, 3),
		mcode.NewBlock(3, mcode.Mov(imm(300), x1), mcode.Goto(7)),
		mcode.NewBlock(4, mcode.Mov(imm(100), x1), mcode.Goto(7)),
		mcode.NewBlock(5, mcode.Mov(imm(200), x1), mcode.Call(mcode.Global(0x1020, "log", 8), x0, x2), mcode.Goto(7)),
		fall(mcode.NewBlock(6, mcode.Binary(mcode.OpMul, x0, imm(3), x1)), 7),
		mcode.NewBlock(7, mcode.Binary(mcode.OpXor, x1, imm(0x5a), x1), mcode.Ret(x1)),
	))

	return []*mcode.Func{abs, sum, classify}
}

func must(fn *mcode.Func, err error) *mcode.Func {
	if err != nil {
		panic(err)
	}
	return fn
}
