package mcode

import (
	"errors"
	"fmt"
)

var (
	ErrBlockNotFound = errors.New("mcode: block not found")
	ErrInconsistent  = errors.New("mcode: inconsistent CFG")
	ErrNoEdge        = errors.New("mcode: no such edge")
)

// Maturity is the optimization stage a function has reached.
type Maturity int

const (
	MatLifted Maturity = iota
	MatCalls
	MatGlbOpt1
	MatGlbOpt2
	numMaturities
)

var maturityNames = [numMaturities]string{
	MatLifted:  "lifted",
	MatCalls:   "calls",
	MatGlbOpt1: "glbopt1",
	MatGlbOpt2: "glbopt2",
}

// Maturities lists every stage in pipeline order.
func Maturities() []Maturity {
	return []Maturity{MatLifted, MatCalls, MatGlbOpt1, MatGlbOpt2}
}

func (m Maturity) String() string {
	if m >= 0 && m < numMaturities {
		return maturityNames[m]
	}
	return fmt.Sprintf("maturity(%d)", int(m))
}

func (m Maturity) MarshalText() ([]byte, error) {
	if m < 0 || m >= numMaturities {
		return nil, fmt.Errorf("mcode: invalid maturity %d", int(m))
	}
	return []byte(maturityNames[m]), nil
}

func (m *Maturity) UnmarshalText(b []byte) error {
	for i, name := range maturityNames {
		if name == string(b) {
			*m = Maturity(i)
			return nil
		}
	}
	return fmt.Errorf("mcode: unknown maturity %q", b)
}

// Func is one function's CFG. Blocks are indexed by serial; block 0 is the entry.
type Func struct {
	Name     string   `json:"name"`
	Maturity Maturity `json:"maturity"`
	Blocks   []*Block `json:"blocks"`
}

// NewFunc builds a function from blocks whose serials match their positions
// and computes the edge sets.
func NewFunc(name string, blocks ...*Block) (*Func, error) {
	f := &Func{Name: name, Blocks: blocks}
	if err := f.RebuildEdges(); err != nil {
		return nil, err
	}
	return f, nil
}

// Block resolves a serial.
func (f *Func) Block(serial int) (*Block, error) {
	if serial < 0 || serial >= len(f.Blocks) {
		return nil, fmt.Errorf("%w: %s serial %d (have %d)", ErrBlockNotFound, f.Name, serial, len(f.Blocks))
	}
	return f.Blocks[serial], nil
}

// NumInsns returns the total instruction count.
func (f *Func) NumInsns() int {
	n := 0
	for _, b := range f.Blocks {
		n += len(b.Insns)
	}
	return n
}

// succsOf computes the successor list of a block from its terminator and fallthrough.
func (f *Func) succsOf(b *Block) ([]int, error) {
	var succs []int
	t := b.Terminator()
	switch {
	case t == nil:
		if b.Next != NoBlock {
			succs = append(succs, b.Next)
		}
	case t.Op == OpRet:
	case t.Op == OpGoto:
		if t.D.Kind != KindBlock {
			return nil, fmt.Errorf("%w: %s blk %d: goto without block target", ErrInconsistent, f.Name, b.Serial)
		}
		succs = append(succs, t.D.Block)
	case t.Op.IsJcond():
		if t.D.Kind != KindBlock {
			return nil, fmt.Errorf("%w: %s blk %d: %s without block target", ErrInconsistent, f.Name, b.Serial, t.Op)
		}
		if b.Next == NoBlock {
			return nil, fmt.Errorf("%w: %s blk %d: conditional jump without fallthrough", ErrInconsistent, f.Name, b.Serial)
		}
		succs = append(succs, b.Next)
		if t.D.Block != b.Next {
			succs = append(succs, t.D.Block)
		}
	}
	for _, s := range succs {
		if s < 0 || s >= len(f.Blocks) {
			return nil, fmt.Errorf("%w: %s blk %d -> %d", ErrBlockNotFound, f.Name, b.Serial, s)
		}
	}
	return succs, nil
}

// RebuildEdges recomputes every predecessor and successor set. Predecessors
// are listed in ascending serial order.
func (f *Func) RebuildEdges() error {
	for i, b := range f.Blocks {
		if b.Serial != i {
			return fmt.Errorf("%w: %s block at index %d has serial %d", ErrInconsistent, f.Name, i, b.Serial)
		}
		b.Preds = nil
	}
	for _, b := range f.Blocks {
		succs, err := f.succsOf(b)
		if err != nil {
			return err
		}
		b.Succs = succs
		for _, s := range succs {
			f.Blocks[s].Preds = append(f.Blocks[s].Preds, b.Serial)
		}
	}
	return nil
}

// Verify checks that edge sets agree with the instructions and with each other.
func (f *Func) Verify() error {
	for i, b := range f.Blocks {
		if b.Serial != i {
			return fmt.Errorf("%w: %s block at index %d has serial %d", ErrInconsistent, f.Name, i, b.Serial)
		}
		for j, ins := range b.Insns {
			if ins.Op.EndsBlock() && j != len(b.Insns)-1 {
				return fmt.Errorf("%w: %s blk %d: %s before end of block", ErrInconsistent, f.Name, b.Serial, ins.Op)
			}
		}
		succs, err := f.succsOf(b)
		if err != nil {
			return err
		}
		if !sameInts(succs, b.Succs) {
			return fmt.Errorf("%w: %s blk %d: succs %v, want %v", ErrInconsistent, f.Name, b.Serial, b.Succs, succs)
		}
		for _, s := range b.Succs {
			if !f.Blocks[s].HasPred(b.Serial) {
				return fmt.Errorf("%w: %s edge %d -> %d missing from preds", ErrInconsistent, f.Name, b.Serial, s)
			}
		}
		for _, p := range b.Preds {
			if p < 0 || p >= len(f.Blocks) || !f.Blocks[p].HasSucc(b.Serial) {
				return fmt.Errorf("%w: %s pred %d of blk %d has no matching succ", ErrInconsistent, f.Name, p, b.Serial)
			}
		}
	}
	return nil
}

// Clone returns a deep copy of the function.
func (f *Func) Clone() *Func {
	c := &Func{Name: f.Name, Maturity: f.Maturity, Blocks: make([]*Block, len(f.Blocks))}
	for i, b := range f.Blocks {
		nb := b.Clone()
		nb.Preds = append([]int(nil), b.Preds...)
		nb.Succs = append([]int(nil), b.Succs...)
		c.Blocks[i] = nb
	}
	return c
}

func sameInts(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
