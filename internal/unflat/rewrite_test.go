package unflat

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"unflat/internal/flatten"
	"unflat/internal/mcode"
)

var inputs = []uint64{0, 1, 2, 3, 5, 9, 12, 0xfffffffb}

func behavior(t *testing.T, fn *mcode.Func, in uint64) *mcode.Trace {
	t.Helper()
	if fn.Name == "sum" && in > 1000 {
		in = 1000
	}
	tr, err := mcode.Run(fn, mcode.Env{{Kind: mcode.KindReg, Reg: 0}: in}, 100000)
	require.NoError(t, err, "%s(%d)", fn.Name, in)
	return tr
}

func requireSameBehavior(t *testing.T, want, got *mcode.Func) {
	t.Helper()
	for _, in := range inputs {
		w, g := behavior(t, want, in), behavior(t, got, in)
		require.Equal(t, w.Ret, g.Ret, "%s(%d)", want.Name, in)
		require.Equal(t, w.Calls, g.Calls, "%s(%d)", want.Name, in)
	}
}

func atCalls(fn *mcode.Func) *mcode.Func {
	fn.Maturity = mcode.MatCalls
	return fn
}

func TestOptimizeRemovesDispatcher(t *testing.T) {
	for _, orig := range flatten.Samples() {
		t.Run(orig.Name, func(t *testing.T) {
			flat, err := flatten.Flatten(orig, flatten.Options{Seed: 3})
			require.NoError(t, err)
			fn := atCalls(flat.Clone())

			rep, err := New(DefaultConfig(), nil).Optimize(context.Background(), fn)
			require.NoError(t, err)
			require.NoError(t, fn.Verify())

			assert.Empty(t, rep.Exhausted)
			assert.Equal(t, 1, rep.Passes)
			require.Len(t, rep.Dispatchers, 1)
			assert.Equal(t, 1, rep.Dispatchers[0].Entry)
			assert.Zero(t, rep.Duplicated)
			assert.Zero(t, rep.Unresolved)
			assert.Less(t, rep.BlocksAfter, rep.BlocksBefore)

			regions, err := NewCollector(DefaultConfig(), nil).Collect(fn)
			require.NoError(t, err)
			assert.Empty(t, regions, "no dispatcher left")

			requireSameBehavior(t, orig, fn)
		})
	}
}

func TestOptimizeDuplicatesLoopEnd(t *testing.T) {
	for _, orig := range flatten.Samples() {
		t.Run(orig.Name, func(t *testing.T) {
			flat, err := flatten.Flatten(orig, flatten.Options{Seed: 5, LoopEnd: true})
			require.NoError(t, err)
			fn := atCalls(flat)
			loopEnd := len(orig.Blocks) * 2
			npred := fn.Blocks[loopEnd].NPred()

			rep, err := New(DefaultConfig(), nil).Optimize(context.Background(), fn)
			require.NoError(t, err)
			require.NoError(t, fn.Verify())
			assert.Empty(t, rep.Exhausted)
			assert.Equal(t, npred-1, rep.Duplicated, "every path but one gets its own copy")
			requireSameBehavior(t, orig, fn)
		})
	}
}

func TestOptimizeDuplicationBudget(t *testing.T) {
	orig := flatten.Samples()[2]
	flat, err := flatten.Flatten(orig, flatten.Options{Seed: 5, LoopEnd: true})
	require.NoError(t, err)
	fn := atCalls(flat)

	core, logs := observer.New(zap.InfoLevel)
	cfg := DefaultConfig()
	cfg.MaxDuplications = 2
	rep, err := New(cfg, zap.New(core)).Optimize(context.Background(), fn)
	require.NoError(t, err, "exhaustion is not an error")
	require.NoError(t, fn.Verify())

	assert.Contains(t, rep.Exhausted, "duplication budget")
	assert.Equal(t, 2, rep.Duplicated)
	assert.Equal(t, 1, logs.FilterMessage("budget exhausted").Len(), "reported once")
	requireSameBehavior(t, orig, fn)
}

// A father whose state comes from an input cannot be resolved, so the
// dispatcher survives every pass.
func unresolvable(t *testing.T) (orig, fn *mcode.Func) {
	t.Helper()
	orig = flatten.Samples()[2]
	flat, err := flatten.Flatten(orig, flatten.Options{Seed: 9})
	require.NoError(t, err)
	n := len(orig.Blocks)
	// Case 3 is `mov #300 -> r1; mov #c -> state; goto K0`.
	blk := flat.Blocks[n+3]
	setState := blk.Insns[len(blk.Insns)-2]
	require.Equal(t, mcode.OpMov, setState.Op)
	setState.L = mcode.Register(9, 4)
	return orig, atCalls(flat)
}

func TestOptimizePassBudget(t *testing.T) {
	_, fn := unresolvable(t)
	cfg := DefaultConfig()
	cfg.MaxPasses = 1
	rep, err := New(cfg, nil).Optimize(context.Background(), fn)
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Passes)
	assert.Contains(t, rep.Exhausted, "pass budget")
	assert.Equal(t, 1, rep.Unresolved)
	assert.True(t, rep.Changed(), "partial rewriting is kept")
	require.NoError(t, fn.Verify())
}

func TestOptimizeStopsWhenNothingChanges(t *testing.T) {
	_, fn := unresolvable(t)
	rep, err := New(DefaultConfig(), nil).Optimize(context.Background(), fn)
	require.NoError(t, err)
	assert.Empty(t, rep.Exhausted)
	assert.Equal(t, 2, rep.Passes, "the second pass finds the region but changes nothing")
	assert.Equal(t, 2, rep.Unresolved)
}

func TestOptimizeSkipsOtherMaturities(t *testing.T) {
	flat, err := flatten.Flatten(flatten.Samples()[0], flatten.Options{Seed: 3})
	require.NoError(t, err)
	before := len(flat.Blocks)
	rep, err := New(DefaultConfig(), nil).Optimize(context.Background(), flat) // MatLifted
	require.NoError(t, err)
	assert.Zero(t, rep.Passes)
	assert.Equal(t, before, len(flat.Blocks))
}

func TestOptimizeCanceled(t *testing.T) {
	flat, err := flatten.Flatten(flatten.Samples()[0], flatten.Options{Seed: 3})
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = New(DefaultConfig(), nil).Optimize(ctx, atCalls(flat))
	require.ErrorIs(t, err, context.Canceled)
}

func TestCollectorThresholds(t *testing.T) {
	// The masked hub has only two exits.
	fn := hub(t, hubOpts{values: spread})
	regions, err := NewCollector(DefaultConfig(), nil).Collect(fn)
	require.NoError(t, err)
	assert.Empty(t, regions)

	cfg := DefaultConfig()
	cfg.MinExitBlocks = 2
	regions, err = NewCollector(cfg, nil).Collect(fn)
	require.NoError(t, err)
	require.Len(t, regions, 1)
	assert.Equal(t, 5, regions[0].Entry.Serial())
}

func TestOptimizeFallthroughFather(t *testing.T) {
	flat, err := flatten.Flatten(flatten.Samples()[1], flatten.Options{Seed: 11})
	require.NoError(t, err)
	// Make the prologue fall into the chain instead of jumping.
	pro := flat.Blocks[0]
	pro.Insns = pro.Insns[:1]
	pro.Next = 1
	require.NoError(t, flat.RebuildEdges())
	fn := atCalls(flat)

	rep, err := New(DefaultConfig(), nil).Optimize(context.Background(), fn)
	require.NoError(t, err)
	require.True(t, rep.Changed())
	assert.Equal(t, mcode.OpGoto, fn.Blocks[0].Tail().Op, "an explicit goto replaces the fallthrough")
	requireSameBehavior(t, flatten.Samples()[1], fn)
}

func TestOptimizeKeepsDispatcherWork(t *testing.T) {
	orig := flatten.Samples()[2]
	flat, err := flatten.Flatten(orig, flatten.Options{Seed: 3})
	require.NoError(t, err)
	n := len(orig.Blocks)
	counter := mcode.Register(9, 4)

	// The chain entry counts dispatches and the final case returns the count.
	k0 := flat.Blocks[1]
	k0.Insns = append([]*mcode.Insn{mcode.Binary(mcode.OpAdd, counter, mcode.Imm(1, 4), counter)}, k0.Insns...)
	final := flat.Blocks[2*n-1]
	require.Equal(t, mcode.OpRet, final.Tail().Op)
	final.Insns[len(final.Insns)-1] = mcode.Ret(counter)
	require.NoError(t, flat.RebuildEdges())
	want := atCalls(flat.Clone())
	fn := atCalls(flat)

	rep, err := New(DefaultConfig(), nil).Optimize(context.Background(), fn)
	require.NoError(t, err)
	require.NoError(t, fn.Verify())
	require.Len(t, rep.Dispatchers, 1)
	assert.Zero(t, rep.Unresolved)

	requireSameBehavior(t, want, fn)
	tr := behavior(t, fn, 1)
	assert.Equal(t, uint64(3), tr.Ret, "three transfers reach the chain entry")
}

func TestRedirectFatherThroughNewBlock(t *testing.T) {
	counter := mcode.Register(9, 4)
	b0 := mcode.NewBlock(0, mcode.Jcc(mcode.OpJz, r0, mcode.Imm(0, 4), 2))
	b0.Next = 3
	fn, err := mcode.NewFunc("carry",
		b0,
		mcode.NewBlock(1, mcode.Goto(2)),
		mcode.NewBlock(2, mcode.Binary(mcode.OpAdd, counter, mcode.Imm(1, 4), counter), mcode.Goto(3)),
		mcode.NewBlock(3, mcode.Ret(counter)),
	)
	require.NoError(t, err)
	want := fn.Clone()

	require.NoError(t, redirectFather(fn, 0, 2, 3, carried(fn, []int{2})))
	require.NoError(t, redirectFather(fn, 1, 2, 3, carried(fn, []int{2})))
	require.NoError(t, fn.Verify())

	// A conditional father gets a new block; a goto father takes the work inline.
	require.Len(t, fn.Blocks, 5)
	tramp := fn.Blocks[4]
	assert.Equal(t, 4, fn.Blocks[0].Tail().D.Block)
	assert.Equal(t, 3, fn.Blocks[0].Next)
	assert.Equal(t, []int{3}, tramp.Succs)
	assert.NotSame(t, fn.Blocks[2].Insns[0], tramp.Insns[0], "copied, not shared")
	require.Len(t, fn.Blocks[1].Insns, 2)
	assert.Equal(t, mcode.OpAdd, fn.Blocks[1].Insns[0].Op)
	assert.Equal(t, []int{3}, fn.Blocks[1].Succs)
	assert.Empty(t, fn.Blocks[2].Preds)

	for _, in := range []uint64{0, 1} {
		w, g := behavior(t, want, in), behavior(t, fn, in)
		assert.Equal(t, w.Ret, g.Ret, "r0=%d", in)
	}
}
