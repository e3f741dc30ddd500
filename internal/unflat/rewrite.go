package unflat

import (
	"context"
	"fmt"
	"slices"

	"go.uber.org/zap"

	"unflat/internal/mcode"
)

// Unflattener removes validated dispatchers from functions.
type Unflattener struct {
	cfg       Config
	log       *zap.Logger
	collector *Collector
}

// New returns an Unflattener; a nil logger discards output.
func New(cfg Config, log *zap.Logger) *Unflattener {
	if log == nil {
		log = zap.NewNop()
	}
	return &Unflattener{cfg: cfg, log: log, collector: NewCollector(cfg, log)}
}

// Config returns the configuration the Unflattener runs with.
func (u *Unflattener) Config() Config { return u.cfg }

// Optimize rewrites fn in place at its current maturity. Passes repeat until
// no dispatcher is found, a pass changes nothing, or a budget runs out. Budget
// exhaustion is reported in Report.Exhausted and is not an error; errors mean
// the CFG is inconsistent and fn should not be trusted.
func (u *Unflattener) Optimize(ctx context.Context, fn *mcode.Func) (*Report, error) {
	rep := &Report{Func: fn.Name, Maturity: fn.Maturity.String(), BlocksBefore: len(fn.Blocks)}
	defer func() { rep.BlocksAfter = len(fn.Blocks) }()
	if !u.cfg.UnflattensAt(fn.Maturity) {
		return rep, nil
	}
	log := u.log.With(zap.String("func", fn.Name), zap.Stringer("maturity", fn.Maturity))

	for pass := 1; ; pass++ {
		if err := ctx.Err(); err != nil {
			return rep, err
		}
		regions, err := u.collector.Collect(fn)
		if err != nil {
			return rep, fmt.Errorf("unflat: %s pass %d: %w", fn.Name, pass, err)
		}
		if len(regions) == 0 {
			break
		}
		if pass > u.cfg.MaxPasses {
			rep.Exhausted = fmt.Sprintf("pass budget (%d) exhausted with %d dispatcher(s) left", u.cfg.MaxPasses, len(regions))
			log.Info("budget exhausted", zap.String("reason", rep.Exhausted))
			break
		}
		rep.Passes = pass

		ps := &passState{pass: pass, rep: rep}
		for _, d := range regions {
			rep.Dispatchers = append(rep.Dispatchers, d.Summarize(pass))
			if err := u.rewriteRegion(fn, d, ps); err != nil {
				return rep, fmt.Errorf("unflat: %s pass %d: %w", fn.Name, pass, err)
			}
			if ps.exhausted {
				break
			}
		}
		if ps.changed {
			if _, err := fn.Compact(); err != nil {
				return rep, fmt.Errorf("unflat: %s pass %d: %w", fn.Name, pass, err)
			}
		}
		log.Debug("pass done",
			zap.Int("pass", pass),
			zap.Int("regions", len(regions)),
			zap.Int("duplicated", ps.dups),
			zap.Int("blocks", len(fn.Blocks)))
		if ps.exhausted {
			rep.Exhausted = fmt.Sprintf("duplication budget (%d) exhausted in pass %d", u.cfg.MaxDuplications, pass)
			log.Info("budget exhausted", zap.String("reason", rep.Exhausted))
			break
		}
		if !ps.changed {
			break
		}
	}
	if rep.Changed() {
		log.Info("unflattened",
			zap.Int("passes", rep.Passes),
			zap.Int("dispatchers", len(rep.Dispatchers)),
			zap.Int("redirected", rep.Redirected),
			zap.Int("duplicated", rep.Duplicated),
			zap.Int("blocks_before", rep.BlocksBefore),
			zap.Int("blocks_after", len(fn.Blocks)))
	}
	return rep, nil
}

type passState struct {
	pass      int
	rep       *Report
	dups      int
	changed   bool
	exhausted bool
}

// route is an edge from a block on a path into the dispatcher that can be
// replaced by a direct jump to target.
type route struct {
	pred   int
	target int
	path   []int
}

// rewriteRegion retargets every outside predecessor of the entry to the exit
// its state value selects.
func (u *Unflattener) rewriteRegion(fn *mcode.Func, d *DispatcherInfo, ps *passState) error {
	state, ok := d.StateVar()
	if !ok {
		u.log.Debug("no single state variable", zap.String("func", fn.Name), zap.Int("entry", d.Entry.Serial()))
		return nil
	}
	entry := d.Entry.Serial()
	for _, f := range d.ExternalFathers() {
		if !fn.Blocks[f].HasSucc(entry) {
			continue
		}
		if v, ok := u.trackState(fn, d, []int{f}, state); ok {
			target, path, ok := d.ResolvePath(v)
			if !ok {
				ps.rep.Unresolved++
				continue
			}
			if err := redirectFather(fn, f, entry, target, carried(fn, path)); err != nil {
				return err
			}
			ps.rep.Redirected++
			ps.changed = true
			continue
		}
		if err := u.splitFather(fn, d, f, state, ps); err != nil || ps.exhausted {
			return err
		}
	}
	return nil
}

// splitFather handles a father that does not set the state itself but joins
// predecessors that each do: every such predecessor gets its own copy of the
// father, which then jumps straight to the matching exit.
func (u *Unflattener) splitFather(fn *mcode.Func, d *DispatcherInfo, f int, state mcode.Var, ps *passState) error {
	entry := d.Entry.Serial()
	preds := slices.Clone(fn.Blocks[f].Preds)
	if len(preds) < 2 {
		ps.rep.Unresolved++
		return nil
	}
	var routes []route
	for _, p := range preds {
		if p == f || d.IsInternal(p) {
			continue
		}
		v, ok := u.trackState(fn, d, []int{p, f}, state)
		if !ok {
			continue
		}
		if target, path, ok := d.ResolvePath(v); ok {
			routes = append(routes, route{pred: p, target: target, path: path})
		}
	}
	if len(routes) == 0 {
		ps.rep.Unresolved++
		return nil
	}
	// When every predecessor resolves, the original block serves the last one.
	keep := len(routes) == len(preds)
	if !keep {
		ps.rep.Unresolved++
	}
	for i, r := range routes {
		dst := f
		if !keep || i < len(routes)-1 {
			if ps.dups >= u.cfg.MaxDuplications {
				ps.exhausted = true
				return nil
			}
			dup, err := fn.Duplicate(f)
			if err != nil {
				return err
			}
			ps.dups++
			ps.rep.Duplicated++
			if err := fn.Redirect(r.pred, f, dup.Serial); err != nil {
				return err
			}
			dst = dup.Serial
		}
		if err := redirectFather(fn, dst, entry, r.target, carried(fn, r.path)); err != nil {
			return err
		}
		ps.rep.Redirected++
		ps.changed = true
	}
	return nil
}

// trackState evaluates path forward and returns the state value it leaves.
// When the value is unknown and the first block of the path has a single
// predecessor outside the dispatcher, the path is extended backwards, up to
// MaxTrackDepth blocks.
func (u *Unflattener) trackState(fn *mcode.Func, d *DispatcherInfo, path []int, state mcode.Var) (uint64, bool) {
	for len(path) <= u.cfg.MaxTrackDepth {
		if v, ok := stateAfter(fn, path, state); ok {
			return v, true
		}
		top := fn.Blocks[path[0]]
		if top.NPred() != 1 {
			return 0, false
		}
		p := top.Preds[0]
		if d.IsInternal(p) || slices.Contains(path, p) {
			return 0, false
		}
		path = append([]int{p}, path...)
	}
	return 0, false
}

// redirectFather replaces the edge from -> entry with from -> target. The
// dispatcher instructions in insns still run on the new edge: they are
// appended to from when entry is its only successor, otherwise they go into a
// new block between from and target. A block that falls through into the
// entry gets an explicit goto.
func redirectFather(fn *mcode.Func, from, entry, target int, insns []*mcode.Insn) error {
	b, err := fn.Block(from)
	if err != nil {
		return err
	}
	if len(insns) > 0 {
		if t := b.Terminator(); t == nil || t.Op == mcode.OpGoto {
			b.Insns = slices.Insert(b.Insns, len(b.Body()), insns...)
		} else {
			tramp, err := fn.AppendBlock(append(insns, mcode.Goto(target))...)
			if err != nil {
				return err
			}
			target = tramp.Serial
		}
	}
	if b.Terminator() == nil && b.Next == entry {
		return fn.AppendGoto(from, target)
	}
	return fn.Redirect(from, entry, target)
}
