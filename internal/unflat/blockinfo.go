package unflat

import (
	mapset "github.com/deckarep/golang-set/v2"

	"unflat/internal/mcode"
)

// VarSet is a set of size-insensitive locations.
type VarSet = mapset.Set[mcode.Var]

func newVarSet(vs ...mcode.Var) VarSet { return mapset.NewThreadUnsafeSet(vs...) }

// BlockInfo wraps a block discovered while exploring one region.
type BlockInfo struct {
	Block  *mcode.Block
	Father *BlockInfo // nil for the entry

	Uses     VarSet
	Defs     VarSet
	FreeVars VarSet // read before any local definition

	// AssumeDefs accumulates every variable defined along the discovery path
	// down to and including this block.
	AssumeDefs VarSet

	Comparison *Comparison // nil when the block is not a comparison block
}

func newBlockInfo(b *mcode.Block, father *BlockInfo) *BlockInfo {
	info := &BlockInfo{
		Block:    b,
		Father:   father,
		Uses:     newVarSet(b.UseVars()...),
		Defs:     newVarSet(b.DefVars()...),
		FreeVars: newVarSet(b.FreeVars()...),
	}
	if father != nil {
		info.AssumeDefs = father.AssumeDefs.Union(info.Defs)
	} else {
		info.AssumeDefs = info.Defs.Clone()
	}
	if cmp, ok := GetComparison(b); ok {
		info.Comparison = &cmp
	}
	return info
}

// Serial is shorthand for Block.Serial.
func (bi *BlockInfo) Serial() int { return bi.Block.Serial }

// NeedsOnly reports whether every free variable of the block is supplied by defs.
func (bi *BlockInfo) NeedsOnly(defs VarSet) bool { return bi.FreeVars.IsSubset(defs) }
