// Package pipeline advances functions through the maturity stages, running
// the host clean-up passes of each stage and the unflattener where the
// configuration asks for it.
package pipeline

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"unflat/internal/mcode"
	"unflat/internal/unflat"
)

// Stage records what happened to a function at one maturity.
type Stage struct {
	Maturity   string         `json:"maturity"`
	DeadStores int            `json:"dead_stores,omitempty"`
	Threaded   int            `json:"threaded,omitempty"`
	Dropped    int            `json:"dropped,omitempty"` // unreachable blocks removed
	Unflatten  *unflat.Report `json:"unflatten,omitempty"`
}

// Result is the per-function outcome of a pipeline run.
type Result struct {
	Func         string  `json:"func"`
	BlocksBefore int     `json:"blocks_before"`
	BlocksAfter  int     `json:"blocks_after"`
	Stages       []Stage `json:"stages"`
}

// Dispatchers counts the regions removed or attempted across all stages.
func (r *Result) Dispatchers() int {
	n := 0
	for _, s := range r.Stages {
		if s.Unflatten != nil {
			n += len(s.Unflatten.Dispatchers)
		}
	}
	return n
}

// Exhausted returns the first budget exhaustion reported, if any.
func (r *Result) Exhausted() string {
	for _, s := range r.Stages {
		if s.Unflatten != nil && s.Unflatten.Exhausted != "" {
			return s.Unflatten.Exhausted
		}
	}
	return ""
}

// Driver runs the stages.
type Driver struct {
	u   *unflat.Unflattener
	log *zap.Logger
}

// New returns a driver; a nil logger discards output.
func New(u *unflat.Unflattener, log *zap.Logger) *Driver {
	if log == nil {
		log = zap.NewNop()
	}
	return &Driver{u: u, log: log}
}

// Run advances fn from its current maturity to the last one, in place.
// One goroutine owns fn for the whole run.
func (d *Driver) Run(ctx context.Context, fn *mcode.Func) (*Result, error) {
	res := &Result{Func: fn.Name, BlocksBefore: len(fn.Blocks)}
	defer func() { res.BlocksAfter = len(fn.Blocks) }()

	for _, m := range mcode.Maturities() {
		if m < fn.Maturity {
			continue
		}
		fn.Maturity = m
		st := Stage{Maturity: m.String()}
		if err := hostPasses(fn, &st); err != nil {
			return res, fmt.Errorf("pipeline: %s at %s: %w", fn.Name, m, err)
		}
		if d.u.Config().UnflattensAt(m) {
			rep, err := d.u.Optimize(ctx, fn)
			st.Unflatten = rep
			if err != nil {
				res.Stages = append(res.Stages, st)
				return res, err
			}
		}
		res.Stages = append(res.Stages, st)
		d.log.Debug("stage done",
			zap.String("func", fn.Name),
			zap.Stringer("maturity", m),
			zap.Int("blocks", len(fn.Blocks)))
	}
	return res, nil
}

// hostPasses are the clean-ups a decompiler would run on its own at each
// stage. They expose nested dispatchers once an outer one is gone.
func hostPasses(fn *mcode.Func, st *Stage) error {
	if fn.Maturity >= mcode.MatGlbOpt1 {
		st.DeadStores = fn.EliminateDeadStores()
		n, err := fn.ThreadJumps()
		if err != nil {
			return err
		}
		st.Threaded = n
	}
	if fn.Maturity >= mcode.MatCalls {
		before := len(fn.Blocks)
		if _, err := fn.Compact(); err != nil {
			return err
		}
		st.Dropped = before - len(fn.Blocks)
	}
	return nil
}
