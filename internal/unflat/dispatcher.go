package unflat

import (
	"fmt"
	"slices"

	mapset "github.com/deckarep/golang-set/v2"
	"go.uber.org/zap"

	"unflat/internal/mcode"
)

// ExitInfo is an exit block together with the comparison values that route
// the dispatcher to it.
type ExitInfo struct {
	*BlockInfo
	Selectors []uint64
}

// DispatcherInfo is the result of exploring one candidate entry block.
// Everything but the function, configuration and guessed serials is reset by
// Explore.
type DispatcherInfo struct {
	fn  *mcode.Func
	cfg Config
	log *zap.Logger

	OutmostDispatch    int // guessed hub, NoBlock if none
	LastBeforeDispatch int // last block before the hub, NoBlock if none

	Entry    *BlockInfo
	Internal []*BlockInfo // discovery order, entry first
	Exits    []*ExitInfo  // discovery order
	Values   []uint64     // comparison constants, discovery order
	Compared mcode.Operand
	CmpSize  int // bytes of the entry's constant
	Entropy  float64
	ViaHub   bool // admitted only because the seed is the guessed hub

	internal mapset.Set[int]
	exit     mapset.Set[int]
	state    mcode.Var
	hasState bool
}

// NewDispatcherInfo guesses the outermost dispatcher of fn once; the result
// seeds every Explore on this value.
func NewDispatcherInfo(fn *mcode.Func, cfg Config) (*DispatcherInfo, error) {
	outmost := GuessOutmostDispatcher(fn, cfg.MinPredecessors)
	last, err := LastBlockBeforeDispatcher(fn, outmost)
	if err != nil {
		return nil, err
	}
	return newDispatcherInfo(fn, cfg, outmost, last, zap.NewNop()), nil
}

func newDispatcherInfo(fn *mcode.Func, cfg Config, outmost, last int, log *zap.Logger) *DispatcherInfo {
	d := &DispatcherInfo{fn: fn, cfg: cfg, log: log, OutmostDispatch: outmost, LastBeforeDispatch: last}
	d.reset()
	return d
}

func (d *DispatcherInfo) reset() {
	d.Entry = nil
	d.Internal = nil
	d.Exits = nil
	d.Values = nil
	d.Compared = mcode.Operand{}
	d.CmpSize = 0
	d.Entropy = 0
	d.ViaHub = false
	d.internal = mapset.NewThreadUnsafeSet[int]()
	d.exit = mapset.NewThreadUnsafeSet[int]()
	d.state = mcode.Var{}
	d.hasState = false
}

// IsInternal reports whether serial was classified as a dispatcher block.
func (d *DispatcherInfo) IsInternal(serial int) bool { return d.internal.ContainsOne(serial) }

// IsExit reports whether serial was classified as an exit block.
func (d *DispatcherInfo) IsExit(serial int) bool { return d.exit.ContainsOne(serial) }

// InternalSerials returns the internal block serials in ascending order.
func (d *DispatcherInfo) InternalSerials() []int { return sortedInts(d.internal) }

// ExitSerials returns the exit block serials in ascending order.
func (d *DispatcherInfo) ExitSerials() []int { return sortedInts(d.exit) }

// StateVar returns the location the dispatcher switches on. ok is false when
// the compared operand does not read exactly one variable.
func (d *DispatcherInfo) StateVar() (mcode.Var, bool) { return d.state, d.hasState }

// Explore grows a dispatcher region from blk and validates it. A false result
// with a nil error means blk does not enter an injected dispatcher. Errors are
// reserved for serials that do not resolve in the function.
func (d *DispatcherInfo) Explore(blk *mcode.Block) (bool, error) {
	d.reset()

	candidate, err := IsCandidateEntry(d.fn, blk)
	if err != nil {
		return false, err
	}
	if !candidate {
		if d.cfg.EntryPolicy != EntryCandidateOrHub || blk.Serial != d.OutmostDispatch {
			return false, nil
		}
		if _, ok := GetComparison(blk); !ok {
			return false, nil
		}
		d.ViaHub = true
	}

	entry := newBlockInfo(blk, nil)
	if blk.Serial == d.OutmostDispatch && d.LastBeforeDispatch != mcode.NoBlock {
		first, err := d.fn.Block(d.LastBeforeDispatch)
		if err != nil {
			return false, err
		}
		entry.AssumeDefs.Append(first.DefVars()...)
	}
	entry.AssumeDefs.Append(entry.Uses.ToSlice()...)
	d.Entry = entry
	d.addInternal(entry)
	d.Compared = entry.Comparison.Compared
	d.CmpSize = entry.Comparison.Const.Size
	if uses := d.Compared.Uses(); len(uses) == 1 {
		d.state, d.hasState = uses[0], true
	}

	if err := d.exploreChildren(entry); err != nil {
		return false, err
	}

	d.Entropy = Entropy(d.Values, d.CmpSize)
	external := d.blocksWithExternalFather()
	debug := d.log.Core().Enabled(zap.DebugLevel)
	if debug {
		d.log.Debug("explored",
			zap.String("func", d.fn.Name),
			zap.Int("blk", blk.Serial),
			zap.Ints("internal", d.InternalSerials()),
			zap.Ints("exits", d.ExitSerials()),
			zap.Float64("entropy", d.Entropy),
			zap.Ints("external_fathers", external),
			zap.Bool("via_hub", d.ViaHub))
	}

	if d.Entropy < d.cfg.EntropyMin || d.Entropy > d.cfg.EntropyMax {
		if debug {
			d.log.Debug("rejected: entropy out of range",
				zap.String("func", d.fn.Name), zap.Int("blk", blk.Serial), zap.Float64("entropy", d.Entropy))
		}
		return false, nil
	}
	if d.cfg.StrictExternalFathers && len(external) > 0 {
		if debug {
			d.log.Debug("rejected: internal blocks reachable from outside",
				zap.String("func", d.fn.Name), zap.Int("blk", blk.Serial), zap.Ints("blocks", external))
		}
		return false, nil
	}
	d.pairExits()
	return true, nil
}

// IsPartOfDispatcher reports whether child can be chained under its father:
// every variable it inherits must already be defined along the path, and its
// last instruction, if any, must be a flattening jump.
func (d *DispatcherInfo) IsPartOfDispatcher(child *BlockInfo) bool {
	if child.Father == nil || !child.NeedsOnly(child.Father.AssumeDefs) {
		return false
	}
	if t := child.Block.Tail(); t != nil && !IsFlatteningJump(t.Op) {
		return false
	}
	return true
}

type frame struct {
	info *BlockInfo
	next int // index into info.Block.Succs
}

// exploreChildren walks successors depth first in the order a recursive
// descent would. A successor already classified in this region is skipped;
// the father's remaining successors are still visited.
func (d *DispatcherInfo) exploreChildren(root *BlockInfo) error {
	stack := []*frame{{info: root}}
	for len(stack) > 0 {
		top := stack[len(stack)-1]
		succs := top.info.Block.Succs
		if top.next >= len(succs) {
			stack = stack[:len(stack)-1]
			continue
		}
		serial := succs[top.next]
		top.next++
		if d.internal.ContainsOne(serial) || d.exit.ContainsOne(serial) {
			continue
		}
		b, err := d.fn.Block(serial)
		if err != nil {
			return fmt.Errorf("unflat: succ of blk %d: %w", top.info.Serial(), err)
		}
		child := newBlockInfo(b, top.info)
		if !d.IsPartOfDispatcher(child) {
			d.exit.Add(serial)
			d.Exits = append(d.Exits, &ExitInfo{BlockInfo: child})
			continue
		}
		d.addInternal(child)
		stack = append(stack, &frame{info: child})
	}
	return nil
}

func (d *DispatcherInfo) addInternal(info *BlockInfo) {
	d.internal.Add(info.Serial())
	d.Internal = append(d.Internal, info)
	if info.Comparison != nil {
		d.Values = append(d.Values, info.Comparison.Value())
	}
}

// blocksWithExternalFather lists internal blocks other than the entry that
// have a predecessor outside the internal set.
func (d *DispatcherInfo) blocksWithExternalFather() []int {
	var out []int
	for _, info := range d.Internal {
		if info == d.Entry {
			continue
		}
		for _, p := range info.Block.Preds {
			if !d.internal.ContainsOne(p) {
				out = append(out, info.Serial())
				break
			}
		}
	}
	return out
}

// ExternalFathers returns the predecessors of the entry that lie outside the
// region: the blocks the rewriter has to retarget.
func (d *DispatcherInfo) ExternalFathers() []int {
	if d.Entry == nil {
		return nil
	}
	var out []int
	for _, p := range d.Entry.Block.Preds {
		if !d.internal.ContainsOne(p) {
			out = append(out, p)
		}
	}
	return out
}

// ExitFor returns the exit selected by value, if it is one of the recorded selectors.
func (d *DispatcherInfo) ExitFor(value uint64) (*ExitInfo, bool) {
	for _, x := range d.Exits {
		if slices.Contains(x.Selectors, value) {
			return x, true
		}
	}
	return nil, false
}

// DistinctValues counts the distinct comparison constants.
func (d *DispatcherInfo) DistinctValues() int {
	return mapset.NewThreadUnsafeSet(d.Values...).Cardinality()
}

func (d *DispatcherInfo) pairExits() {
	byExit := make(map[int]*ExitInfo, len(d.Exits))
	for _, x := range d.Exits {
		byExit[x.Serial()] = x
	}
	for _, v := range d.Values {
		target, ok := d.Resolve(v)
		if !ok {
			continue
		}
		if x := byExit[target]; x != nil && !slices.Contains(x.Selectors, v) {
			x.Selectors = append(x.Selectors, v)
		}
	}
}

func sortedInts(s mapset.Set[int]) []int {
	out := s.ToSlice()
	slices.Sort(out)
	return out
}
