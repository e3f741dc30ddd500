package unflat

import (
	mapset "github.com/deckarep/golang-set/v2"
	"go.uber.org/zap"

	"unflat/internal/mcode"
)

// Collector finds every validated dispatcher of a function.
type Collector struct {
	cfg Config
	log *zap.Logger
}

// NewCollector returns a collector; a nil logger discards output.
func NewCollector(cfg Config, log *zap.Logger) *Collector {
	if log == nil {
		log = zap.NewNop()
	}
	return &Collector{cfg: cfg, log: log}
}

// Collect probes every block in serial order as a dispatcher entry. Blocks
// already internal to an accepted region are not probed again, and a region
// overlapping one accepted earlier is dropped, so the lowest entry wins.
func (c *Collector) Collect(fn *mcode.Func) ([]*DispatcherInfo, error) {
	outmost := GuessOutmostDispatcher(fn, c.cfg.MinPredecessors)
	last, err := LastBlockBeforeDispatcher(fn, outmost)
	if err != nil {
		return nil, err
	}
	if outmost != mcode.NoBlock {
		c.log.Debug("guessed outermost dispatcher",
			zap.String("func", fn.Name), zap.Int("blk", outmost), zap.Int("last_before", last))
	}

	claimed := mapset.NewThreadUnsafeSet[int]()
	var found []*DispatcherInfo
	for _, b := range fn.Blocks {
		if claimed.ContainsOne(b.Serial) {
			continue
		}
		d := newDispatcherInfo(fn, c.cfg, outmost, last, c.log)
		ok, err := d.Explore(b)
		if err != nil {
			return found, err
		}
		if !ok || !c.accept(d) {
			continue
		}
		if !d.internal.Intersect(claimed).IsEmpty() {
			c.log.Debug("dropped overlapping region", zap.String("func", fn.Name), zap.Int("blk", b.Serial))
			continue
		}
		claimed = claimed.Union(d.internal)
		found = append(found, d)
	}
	return found, nil
}

func (c *Collector) accept(d *DispatcherInfo) bool {
	switch {
	case len(d.Internal) < c.cfg.MinInternalBlocks,
		len(d.Exits) < c.cfg.MinExitBlocks,
		d.DistinctValues() < c.cfg.MinComparisonValues:
		c.log.Debug("region below thresholds",
			zap.String("func", d.fn.Name),
			zap.Int("blk", d.Entry.Serial()),
			zap.Int("internal", len(d.Internal)),
			zap.Int("exits", len(d.Exits)),
			zap.Int("values", d.DistinctValues()))
		return false
	}
	return true
}
