package unflat

import (
	"testing"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"unflat/internal/mcode"
)

var (
	r0 = mcode.Register(0, 4)
	r1 = mcode.Register(1, 4)
	r2 = mcode.Register(2, 4)
	r8 = mcode.Register(8, 1)
)

func masked() mcode.Operand {
	return mcode.Derived(mcode.Binary(mcode.OpAnd, r8, mcode.Imm(0xff, 1), mcode.Operand{}))
}

func jmp(serial int, op mcode.Opcode, l, r mcode.Operand, taken, next int) *mcode.Block {
	b := mcode.NewBlock(serial, mcode.Jcc(op, l, r, taken))
	b.Next = next
	return b
}

type hubOpts struct {
	values         [3]uint64
	externalIntoC1 bool
	sameVarPred    bool
}

// hub builds a masked O-LLVM style dispatcher E with five predecessors:
//
//	0: B0  jz r0, #0 -> E, else 1
//	1: B1  jz r1, #0 -> E, else 2
//	2: B2  goto E
//	3: X1  mov #0xaa -> r8; goto E
//	4: X2  mov #0x5a -> r8; goto E
//	5: E   jz and(r8, 0xff), #v0 -> C1, else C2
//	6: C1  jz and(r8, 0xff), #v1 -> X1, else X2
//	7: C2  jz and(r8, 0xff), #v2 -> X2, else X1
func hub(t *testing.T, o hubOpts) *mcode.Func {
	t.Helper()
	v := o.values
	blocks := []*mcode.Block{
		jmp(0, mcode.OpJz, r0, mcode.Imm(0, 4), 5, 1),
		jmp(1, mcode.OpJz, r1, mcode.Imm(0, 4), 5, 2),
		mcode.NewBlock(2, mcode.Goto(5)),
		mcode.NewBlock(3, mcode.Mov(mcode.Imm(0xaa, 1), r8), mcode.Goto(5)),
		mcode.NewBlock(4, mcode.Mov(mcode.Imm(0x5a, 1), r8), mcode.Goto(5)),
		jmp(5, mcode.OpJz, masked(), mcode.Imm(v[0], 1), 6, 7),
		jmp(6, mcode.OpJz, masked(), mcode.Imm(v[1], 1), 3, 4),
		jmp(7, mcode.OpJz, masked(), mcode.Imm(v[2], 1), 4, 3),
	}
	if o.externalIntoC1 {
		blocks[2] = jmp(2, mcode.OpJz, r2, mcode.Imm(0, 4), 6, 5)
	}
	if o.sameVarPred {
		blocks[0] = jmp(0, mcode.OpJz, masked(), mcode.Imm(0x11, 1), 5, 1)
	}
	fn, err := mcode.NewFunc("hub", blocks...)
	require.NoError(t, err)
	return fn
}

var spread = [3]uint64{0x55, 0xaa, 0x5a}

func explore(t *testing.T, fn *mcode.Func, cfg Config, serial int) (*DispatcherInfo, bool) {
	t.Helper()
	d, err := NewDispatcherInfo(fn, cfg)
	require.NoError(t, err)
	ok, err := d.Explore(fn.Blocks[serial])
	require.NoError(t, err)
	return d, ok
}

func TestExploreAcceptsMaskedDispatcher(t *testing.T) {
	fn := hub(t, hubOpts{values: spread})
	d, ok := explore(t, fn, DefaultConfig(), 5)
	require.True(t, ok)

	assert.Equal(t, 5, d.OutmostDispatch)
	assert.Equal(t, 2, d.LastBeforeDispatch)
	assert.Equal(t, []int{5, 6, 7}, d.InternalSerials())
	assert.Equal(t, []int{3, 4}, d.ExitSerials())
	assert.Equal(t, 5, d.Entry.Serial())
	assert.Nil(t, d.Entry.Father)
	assert.ElementsMatch(t, []uint64{0x55, 0xaa, 0x5a}, d.Values)
	assert.InDelta(t, 0.5, d.Entropy, 1e-9)
	assert.Equal(t, 1, d.CmpSize)
	assert.False(t, d.ViaHub)
	assert.Equal(t, []int{0, 1, 2, 3, 4}, d.ExternalFathers())

	state, ok := d.StateVar()
	require.True(t, ok)
	assert.Equal(t, mcode.Var{Kind: mcode.KindReg, Reg: 8}, state)

	for _, info := range d.Internal[1:] {
		assert.Same(t, d.Entry, info.Father)
	}
}

func TestExploreRejectsLowEntropy(t *testing.T) {
	fn := hub(t, hubOpts{values: [3]uint64{0, 0, 0}})
	d, ok := explore(t, fn, DefaultConfig(), 5)
	assert.False(t, ok)
	assert.Zero(t, d.Entropy)
}

func TestExploreRejectsExternalFather(t *testing.T) {
	fn := hub(t, hubOpts{values: spread, externalIntoC1: true})
	require.True(t, fn.Blocks[6].HasPred(2))

	d, ok := explore(t, fn, DefaultConfig(), 5)
	assert.False(t, ok)
	assert.InDelta(t, 0.5, d.Entropy, 1e-9, "entropy alone would accept")

	cfg := DefaultConfig()
	cfg.StrictExternalFathers = false
	_, ok = explore(t, fn, cfg, 5)
	assert.True(t, ok)
}

func TestExploreHubBypass(t *testing.T) {
	fn := hub(t, hubOpts{values: spread, sameVarPred: true})
	cand, err := IsCandidateEntry(fn, fn.Blocks[5])
	require.NoError(t, err)
	require.False(t, cand, "B0 compares the same masked variable")

	d, ok := explore(t, fn, DefaultConfig(), 5)
	require.True(t, ok)
	assert.True(t, d.ViaHub)

	cfg := DefaultConfig()
	cfg.EntryPolicy = EntryCandidateOnly
	_, ok = explore(t, fn, cfg, 5)
	assert.False(t, ok)
}

func TestExploreMembershipIsIdempotent(t *testing.T) {
	fn := hub(t, hubOpts{values: spread})
	d, err := NewDispatcherInfo(fn, DefaultConfig())
	require.NoError(t, err)

	for range 2 {
		ok, err := d.Explore(fn.Blocks[5])
		require.NoError(t, err)
		require.True(t, ok)

		internal := mapset.NewThreadUnsafeSet[int]()
		for _, info := range d.Internal {
			assert.True(t, internal.Add(info.Serial()), "blk %d visited twice", info.Serial())
		}
		exits := mapset.NewThreadUnsafeSet[int]()
		for _, x := range d.Exits {
			assert.True(t, exits.Add(x.Serial()), "exit %d recorded twice", x.Serial())
		}
		assert.True(t, internal.Intersect(exits).IsEmpty())
		assert.True(t, internal.ContainsOne(d.Entry.Serial()))
		assert.Len(t, d.Values, 3)
	}
}

func TestExploreRejectsNonComparison(t *testing.T) {
	fn := hub(t, hubOpts{values: spread})
	_, ok := explore(t, fn, DefaultConfig(), 2)
	assert.False(t, ok)
}

func TestExitSelectors(t *testing.T) {
	fn := hub(t, hubOpts{values: spread})
	d, ok := explore(t, fn, DefaultConfig(), 5)
	require.True(t, ok)

	// 0x55 takes E -> C1, misses 0xaa, falls to X2.
	target, ok := d.Resolve(0x155)
	require.True(t, ok)
	assert.Equal(t, 4, target, "the mask drops the high byte")

	x, ok := d.ExitFor(0xaa)
	require.True(t, ok)
	assert.Equal(t, 3, x.Serial())
	x, ok = d.ExitFor(0x5a)
	require.True(t, ok)
	assert.Equal(t, 4, x.Serial())
	assert.ElementsMatch(t, []uint64{0x55, 0x5a}, x.Selectors)
}

func TestIsPartOfDispatcher(t *testing.T) {
	fn := hub(t, hubOpts{values: spread})
	d, ok := explore(t, fn, DefaultConfig(), 5)
	require.True(t, ok)

	// A comparison on a variable the path never defined is program logic.
	stray := mcode.NewBlock(8, mcode.Jcc(mcode.OpJz, r2, mcode.Imm(1, 4), 3))
	stray.Next = 4
	assert.False(t, d.IsPartOfDispatcher(newBlockInfo(stray, d.Entry)))

	// An empty block needs nothing and has no tail.
	assert.True(t, d.IsPartOfDispatcher(newBlockInfo(mcode.NewBlock(9), d.Entry)))

	// A plain jump is real code even when it needs nothing.
	assert.False(t, d.IsPartOfDispatcher(newBlockInfo(mcode.NewBlock(10, mcode.Goto(5)), d.Entry)))
}

// converging builds a chain where C2 falls back into C1, which the walk has
// already classified by the time it reaches C2:
//
//	0: B0  mov #0xaa -> r8; goto E
//	1: E   jz r8, #0x55 -> C2, else C1
//	2: C1  jz r8, #0xaa -> X1, else X2
//	3: C2  jz r8, #0x5a -> X3, else C1
//	4..6:  X1..X3  ret
func converging(t *testing.T) *mcode.Func {
	t.Helper()
	fn, err := mcode.NewFunc("converging",
		mcode.NewBlock(0, mcode.Mov(mcode.Imm(0xaa, 1), r8), mcode.Goto(1)),
		jmp(1, mcode.OpJz, r8, mcode.Imm(0x55, 1), 3, 2),
		jmp(2, mcode.OpJz, r8, mcode.Imm(0xaa, 1), 4, 5),
		jmp(3, mcode.OpJz, r8, mcode.Imm(0x5a, 1), 6, 2),
		mcode.NewBlock(4, mcode.Ret(r0)),
		mcode.NewBlock(5, mcode.Ret(r1)),
		mcode.NewBlock(6, mcode.Ret(r2)),
	)
	require.NoError(t, err)
	return fn
}

func TestExploreContinuesPastClassifiedSuccessor(t *testing.T) {
	fn := converging(t)
	require.Equal(t, []int{2, 6}, fn.Blocks[3].Succs, "the classified successor comes first")

	d, ok := explore(t, fn, DefaultConfig(), 1)
	require.True(t, ok)
	assert.Equal(t, []int{1, 2, 3}, d.InternalSerials())
	assert.Equal(t, []int{4, 5, 6}, d.ExitSerials(), "X3 is reached after skipping C1")

	// Three exits meet the default threshold.
	regions, err := NewCollector(DefaultConfig(), nil).Collect(fn)
	require.NoError(t, err)
	require.Len(t, regions, 1)
	assert.Equal(t, 1, regions[0].Entry.Serial())
}

func TestExploreLogsOnlyAtDebug(t *testing.T) {
	fn := hub(t, hubOpts{values: spread})

	core, logs := observer.New(zapcore.InfoLevel)
	_, err := NewCollector(DefaultConfig(), zap.New(core)).Collect(fn)
	require.NoError(t, err)
	assert.Zero(t, logs.Len())

	core, logs = observer.New(zapcore.DebugLevel)
	_, err = NewCollector(DefaultConfig(), zap.New(core)).Collect(fn)
	require.NoError(t, err)
	explored := logs.FilterMessage("explored").All()
	require.NotEmpty(t, explored)
	assert.Equal(t, "hub", explored[0].ContextMap()["func"])
	assert.Contains(t, explored[0].ContextMap(), "blk")
}
