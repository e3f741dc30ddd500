package disasm

import (
	"errors"
	"fmt"
	"slices"
	"strings"

	"golang.org/x/arch/arm64/arm64asm"

	"unflat/internal/mcode"
)

// Registers of the lifted code. X0-X30 keep their numbers, register 31 is
// SP and the rest are pseudo registers introduced by the lifter.
const (
	RegFP    = 29
	RegSP    = mcode.StackBase
	RegFlagL = 40 // left compare operand, saved before its register is overwritten
	RegFlagR = 41 // right compare operand, likewise
	RegNZCV  = 42 // flags no modeled compare accounts for
)

// ErrUnsupported marks code the lifter cannot model.
var ErrUnsupported = errors.New("disasm: unsupported")

// LiftOptions controls lifting.
type LiftOptions struct {
	Symbols SymbolLookup // names BL targets; sub_<addr> otherwise
	// Strict rejects instructions the lifter does not model. Otherwise their
	// destination register becomes undefined and lifting goes on.
	Strict bool
}

// B.cond condition codes as conditional jumps. MI, PL, VS and VC have no
// microcode counterpart.
var condOps = map[uint8]mcode.Opcode{
	ccEQ: mcode.OpJz,
	ccNE: mcode.OpJnz,
	ccHS: mcode.OpJae,
	ccLO: mcode.OpJb,
	ccHI: mcode.OpJa,
	ccLS: mcode.OpJbe,
	ccGE: mcode.OpJge,
	ccLT: mcode.OpJl,
	ccGT: mcode.OpJg,
	ccLE: mcode.OpJle,
}

// compare is the pending flag-setting comparison in a block.
type compare struct {
	l, r mcode.Operand
}

type lifter struct {
	opts  LiftOptions
	regs  *RegTracker
	flags *compare
	out   []*mcode.Insn
}

func newLifter(opts LiftOptions) *lifter {
	return &lifter{opts: opts, regs: NewRegTracker()}
}

// LiftBytes disassembles code loaded at base and lifts it as one function.
func LiftBytes(name string, code []byte, base uint64, opts LiftOptions) (*mcode.Func, error) {
	return Lift(BuildCFG(name, Disassemble(code, Options{BaseAddr: base})), opts)
}

// Lift translates a function CFG to microcode at the lifted maturity. Block
// IDs become block serials, so the entry is block 0.
func Lift(cfg FuncCFG, opts LiftOptions) (*mcode.Func, error) {
	if len(cfg.Blocks) == 0 {
		return nil, fmt.Errorf("%w: %s has no code", ErrUnsupported, cfg.Name)
	}
	l := newLifter(opts)
	blocks := make([]*mcode.Block, len(cfg.Blocks))
	for i, bb := range cfg.Blocks {
		b, err := l.block(&cfg, bb)
		if err != nil {
			return nil, fmt.Errorf("disasm: lift %s: %w", cfg.Name, err)
		}
		blocks[i] = b
	}
	fn, err := mcode.NewFunc(cfg.Name, blocks...)
	if err != nil {
		return nil, fmt.Errorf("disasm: lift %s: %w", cfg.Name, err)
	}
	return fn, nil
}

func (l *lifter) block(cfg *FuncCFG, bb BasicBlock) (*mcode.Block, error) {
	l.regs.Reset()
	l.flags = nil
	l.out = nil

	insts := cfg.BlockInsts(bb)
	br := cfg.Terminator(bb)
	body := insts
	if br != nil {
		body = insts[:len(insts)-1]
	}
	for _, in := range body {
		if err := l.inst(in); err != nil {
			return nil, fmt.Errorf("0x%x %s: %w", in.Addr, in.Text, err)
		}
	}
	b := mcode.NewBlock(bb.ID)
	b.Next = bb.Next
	if br != nil {
		last := insts[len(insts)-1]
		if err := l.branch(br, bb, b); err != nil {
			return nil, fmt.Errorf("0x%x %s: %w", last.Addr, last.Text, err)
		}
	}
	b.Insns = l.out
	return b, nil
}

func (l *lifter) branch(br *BranchInfo, bb BasicBlock, b *mcode.Block) error {
	x0 := mcode.Register(0, 8)
	switch br.Kind {
	case BrRet:
		b.Next = mcode.NoBlock
		l.out = append(l.out, mcode.Ret(x0))
		return nil
	case BrB:
		b.Next = mcode.NoBlock
		if bb.Taken >= 0 {
			l.out = append(l.out, mcode.Goto(bb.Taken))
			return nil
		}
		// Tail call.
		l.out = append(l.out, mcode.Call(l.callee(br.Target), x0, x0), mcode.Ret(x0))
		return nil
	}
	if bb.Taken < 0 || bb.Next < 0 {
		return fmt.Errorf("%w: conditional branch leaves the function", ErrUnsupported)
	}

	size := width(br.Wide)
	var ins *mcode.Insn
	switch br.Kind {
	case BrBCond:
		op, known := condOps[br.CC]
		cmp := l.flags
		if !known || cmp == nil {
			if l.opts.Strict {
				return fmt.Errorf("%w: condition %d without a modeled compare", ErrUnsupported, br.CC)
			}
			cmp = &compare{l: mcode.Register(RegNZCV, 4), r: mcode.Imm(0, 4)}
			if !known {
				op = mcode.OpJnz
			}
		}
		ins = mcode.Jcc(op, cmp.l, cmp.r, bb.Taken)
	case BrCBZ, BrCBNZ:
		op := mcode.OpJz
		if br.Kind == BrCBNZ {
			op = mcode.OpJnz
		}
		ins = mcode.Jcc(op, l.read(br.Reg, size), mcode.Imm(0, size), bb.Taken)
	case BrTBZ, BrTBNZ:
		op := mcode.OpJz
		if br.Kind == BrTBNZ {
			op = mcode.OpJnz
		}
		bit := mcode.Binary(mcode.OpAnd, l.read(br.Reg, size), mcode.Imm(1<<br.Bit, size), mcode.Operand{})
		ins = mcode.Jcc(op, mcode.Derived(bit), mcode.Imm(0, size), bb.Taken)
	}
	l.out = append(l.out, ins)
	return nil
}

// inst lifts one non-branch instruction.
func (l *lifter) inst(in Inst) error {
	raw := in.Raw
	size := width(raw>>31 == 1)
	rd := int(raw & 0x1F)
	rn := int((raw >> 5) & 0x1F)
	rm := int((raw >> 16) & 0x1F)

	if ci, ok := DecodeCall(raw, in.Addr); ok {
		x0 := mcode.Register(0, 8)
		callee := mcode.Register(ci.Reg, 8)
		if ci.Reg < 0 {
			callee = l.callee(ci.Target)
		}
		l.emit(mcode.Call(callee, x0, x0))
		l.regs.KillCallerSaved()
		l.flags = nil
		return nil
	}

	switch {
	case raw&0xFFFFF01F == 0xD503201F:
		// NOP and the other hints.
		return nil

	case raw&0x1F800000 == 0x12800000:
		// MOVN/MOVZ/MOVK: sf | opc | 100101 | hw | imm16 | Rd
		return l.moveWide(in, rd, size)

	case raw&0x1F800000 == 0x11000000:
		// ADD/SUB (immediate): sf | op | S | 100010 | sh | imm12 | Rn | Rd
		imm := uint64((raw >> 10) & 0xFFF)
		if raw&(1<<22) != 0 {
			imm <<= 12
		}
		l.addSub(raw, rd, l.readSP(rn, size), mcode.Imm(imm, size), size)
		return nil

	case raw&0x1F200000 == 0x0B000000:
		// ADD/SUB (shifted register): sf | op | S | 01011 | shift | 0 | Rm | imm6 | Rn | Rd
		b, ok := l.shifted(rm, size, (raw>>22)&3, (raw>>10)&0x3F)
		if !ok {
			return l.unknown(in)
		}
		if rd == 31 && raw&(1<<29) == 0 {
			return nil // writes XZR
		}
		l.addSub(raw, rd, l.read(rn, size), b, size)
		return nil

	case raw&0x1F800000 == 0x12000000:
		// Logical (immediate): sf | opc | 100100 | N | immr | imms | Rn | Rd
		imm, ok := logicalImm(raw)
		if !ok {
			return l.unknown(in)
		}
		l.logical(raw, rd, rn, mcode.Imm(imm, size), size)
		return nil

	case raw&0x1F000000 == 0x0A000000:
		// Logical (shifted register): sf | opc | 01010 | shift | N | Rm | imm6 | Rn | Rd
		b, ok := l.shifted(rm, size, (raw>>22)&3, (raw>>10)&0x3F)
		if !ok {
			return l.unknown(in)
		}
		if raw&(1<<21) != 0 {
			b = mcode.Derived(&mcode.Insn{Op: mcode.OpBnot, L: b})
		}
		l.logical(raw, rd, rn, b, size)
		return nil

	case raw&0x7FE00000 == 0x1B000000:
		// MADD/MSUB: sf | 00 | 11011 | 000 | Rm | o0 | Ra | Rn | Rd
		d, ok := dst(rd, size)
		if !ok {
			return nil
		}
		a, b := l.read(rn, size), l.read(rm, size)
		ra := int((raw >> 10) & 0x1F)
		prod := mcode.Derived(mcode.Binary(mcode.OpMul, a, b, mcode.Operand{}))
		switch {
		case raw&(1<<15) != 0:
			l.emit(mcode.Binary(mcode.OpSub, l.read(ra, size), prod, d))
		case ra == 31:
			l.emit(mcode.Binary(mcode.OpMul, a, b, d))
		default:
			l.emit(mcode.Binary(mcode.OpAdd, l.read(ra, size), prod, d))
		}
		return nil

	case raw&0x7F800000 == 0x53000000:
		// UBFM: sf | 10 | 100110 | N | immr | imms | Rn | Rd
		return l.ubfm(in, rd, rn, size)

	case raw&0x7FE0F000 == 0x1AC02000:
		// LSLV/LSRV/ASRV: sf | 0 | 0 | 11010110 | Rm | 0010 | op2 | Rn | Rd
		op := [...]mcode.Opcode{mcode.OpShl, mcode.OpShr}
		op2 := (raw >> 10) & 3
		d, ok := dst(rd, size)
		if op2 >= uint32(len(op)) {
			return l.unknown(in)
		}
		if !ok {
			return nil
		}
		amount := mcode.Derived(mcode.Binary(mcode.OpAnd, l.read(rm, size), mcode.Imm(uint64(size*8-1), size), mcode.Operand{}))
		l.emit(mcode.Binary(op[op2], l.read(rn, size), amount, d))
		return nil

	case raw&0x7FE00C00 == 0x1A800400 && rm == 31 && rn == 31:
		// CSET, the CSINC Rd, ZR, ZR, invcond alias.
		cond := uint8((raw>>12)&0xF) ^ 1
		d, ok := dst(rd, size)
		if l.flags == nil || (cond != ccEQ && cond != ccNE) {
			return l.unknown(in)
		}
		if !ok {
			return nil
		}
		op := mcode.OpSetz
		if cond == ccNE {
			op = mcode.OpSetnz
		}
		l.emit(mcode.Binary(op, l.flags.l, l.flags.r, d))
		return nil

	case raw&0x1F000000 == 0x10000000:
		// ADR/ADRP: op | immlo | 10000 | immhi | Rd
		off := int64(signExtend((raw>>5)&0x7FFFF<<2|(raw>>29)&3, 21))
		v := uint64(int64(in.Addr) + off)
		if raw>>31 == 1 {
			v = uint64(int64(in.Addr&^0xFFF) + off<<12)
		}
		l.move(mcode.Imm(v, 8), rd, 8)
		return nil

	case raw&0x3F000000 == 0x39000000:
		// LDR/STR (unsigned offset): size | 111 | 0 | 01 | opc | imm12 | Rn | Rt
		sz := 1 << (raw >> 30)
		off := int64((raw>>10)&0xFFF) * int64(sz)
		return l.loadStore(in, rd, rn, off, sz)

	case raw&0x3F200000 == 0x38000000:
		// LDUR/STUR and pre/post-index: size | 111 | 0 | 00 | opc | 0 | imm9 | idx | Rn | Rt
		sz := 1 << (raw >> 30)
		imm := int64(signExtend((raw>>12)&0x1FF, 9))
		switch (raw >> 10) & 3 {
		case 1: // post-index
			if err := l.loadStore(in, rd, rn, 0, sz); err != nil {
				return err
			}
			l.writeback(rn, imm)
		case 3: // pre-index
			if err := l.loadStore(in, rd, rn, imm, sz); err != nil {
				return err
			}
			l.writeback(rn, imm)
		default:
			return l.loadStore(in, rd, rn, imm, sz)
		}
		return nil

	case raw&0x3C000000 == 0x28000000:
		// LDP/STP: opc | 101 | 0 | mode | L | imm7 | Rt2 | Rn | Rt
		return l.pair(in, rd, rn)
	}
	return l.unknown(in)
}

func (l *lifter) moveWide(in Inst, rd, size int) error {
	raw := in.Raw
	shift := ((raw >> 21) & 3) * 16
	imm := uint64((raw>>5)&0xFFFF) << shift
	d, ok := dst(rd, size)
	if !ok {
		return nil
	}
	var v uint64
	switch (raw >> 29) & 3 {
	case 0: // MOVN
		v = ^imm
	case 2: // MOVZ
		v = imm
	case 3: // MOVK
		mask := uint64(0xFFFF) << shift
		if cur, ok := l.regs.Lookup(rd); ok && cur.IsImm() {
			v = cur.Value&^mask | imm
			break
		}
		l.emit(mcode.Binary(mcode.OpAnd, d, mcode.Imm(^mask, size), d))
		l.emit(mcode.Binary(mcode.OpOr, d, mcode.Imm(imm, size), d))
		return nil
	default:
		return l.unknown(in)
	}
	l.move(mcode.Imm(v, size), rd, size)
	return nil
}

// addSub emits ADD/SUB and records the comparison of the flag-setting forms.
// CMP and CMN are the forms writing XZR.
func (l *lifter) addSub(raw uint32, rd int, a, b mcode.Operand, size int) {
	sub := raw&(1<<30) != 0
	if raw&(1<<29) != 0 {
		switch {
		case sub:
			l.setFlags(a, b)
		case b.IsImm():
			l.setFlags(a, mcode.Imm(-b.Value, size))
		default:
			l.setFlags(a, mcode.Derived(&mcode.Insn{Op: mcode.OpNeg, L: b}))
		}
		if rd == 31 {
			return
		}
	}
	op := mcode.OpAdd
	if sub {
		op = mcode.OpSub
	}
	if b.IsImm() && b.Value == 0 && op == mcode.OpAdd {
		l.move(a, rd, size) // MOV to or from SP
		return
	}
	l.emit(mcode.Binary(op, a, b, mcode.Register(rd, size)))
}

// logical emits AND/ORR/EOR/ANDS. ORR from XZR is a move and ANDS into XZR
// is TST.
func (l *lifter) logical(raw uint32, rd, rn int, b mcode.Operand, size int) {
	opc := (raw >> 29) & 3
	if opc == 1 && rn == 31 {
		l.move(b, rd, size)
		return
	}
	a := l.read(rn, size)
	if opc == 3 {
		l.setFlags(mcode.Derived(mcode.Binary(mcode.OpAnd, a, b, mcode.Operand{})), mcode.Imm(0, size))
	}
	d, ok := dst(rd, size)
	if !ok {
		return
	}
	op := [...]mcode.Opcode{mcode.OpAnd, mcode.OpOr, mcode.OpXor, mcode.OpAnd}[opc]
	l.emit(mcode.Binary(op, a, b, d))
}

// shifted reads register rm shifted left or right by amount. Arithmetic
// shifts and rotations are not modeled.
func (l *lifter) shifted(rm, size int, kind, amount uint32) (mcode.Operand, bool) {
	v := l.read(rm, size)
	if amount == 0 {
		return v, true
	}
	var op mcode.Opcode
	switch kind {
	case 0:
		op = mcode.OpShl
	case 1:
		op = mcode.OpShr
	default:
		return mcode.Operand{}, false
	}
	return mcode.Derived(mcode.Binary(op, v, mcode.Imm(uint64(amount), size), mcode.Operand{})), true
}

// ubfm lifts the LSL, LSR and UBFX #0 aliases.
func (l *lifter) ubfm(in Inst, rd, rn, size int) error {
	immr, imms := (in.Raw>>16)&0x3F, (in.Raw>>10)&0x3F
	bits := uint32(size * 8)
	d, ok := dst(rd, size)
	if !ok {
		return nil
	}
	a := l.read(rn, size)
	switch {
	case imms == bits-1:
		l.emit(mcode.Binary(mcode.OpShr, a, mcode.Imm(uint64(immr), size), d))
	case imms+1 == immr:
		l.emit(mcode.Binary(mcode.OpShl, a, mcode.Imm(uint64(bits-1-imms), size), d))
	case immr == 0:
		l.emit(mcode.Binary(mcode.OpAnd, a, mcode.Imm(1<<(imms+1)-1, size), d))
	default:
		return l.unknown(in)
	}
	return nil
}

func (l *lifter) loadStore(in Inst, rt, rn int, off int64, sz int) error {
	regSize := 4
	if sz == 8 {
		regSize = 8
	}
	m := l.mem(rn, off, sz)
	switch (in.Raw >> 22) & 3 {
	case 0:
		l.store(l.read(rt, regSize), m)
	case 1:
		l.load(m, rt, regSize)
	default:
		return l.unknown(in) // sign-extending loads, PRFM
	}
	return nil
}

func (l *lifter) pair(in Inst, rt, rn int) error {
	raw := in.Raw
	var sz int
	switch raw >> 30 {
	case 0:
		sz = 4
	case 2:
		sz = 8
	default:
		return l.unknown(in)
	}
	rt2 := int((raw >> 10) & 0x1F)
	imm := int64(signExtend((raw>>15)&0x7F, 7)) * int64(sz)
	mode := (raw >> 23) & 7
	off := imm
	if mode == 1 {
		off = 0
	}
	load := raw&(1<<22) != 0
	for i, r := range []int{rt, rt2} {
		m := l.mem(rn, off+int64(i*sz), sz)
		if load {
			l.load(m, r, sz)
		} else {
			l.store(l.read(r, sz), m)
		}
	}
	if mode == 1 || mode == 3 {
		l.writeback(rn, imm)
	}
	return nil
}

// mem addresses [Xn, #off]. SP and FP relative accesses are stack slots;
// anything else is a computed address for ldx/stx.
func (l *lifter) mem(rn int, off int64, sz int) mcode.Operand {
	if rn == RegSP || rn == RegFP {
		return mcode.StackAt(rn, off, sz)
	}
	base := mcode.Register(rn, 8)
	if off == 0 {
		return base
	}
	return mcode.Derived(mcode.Binary(mcode.OpAdd, base, mcode.Imm(uint64(off), 8), mcode.Operand{}))
}

func (l *lifter) load(m mcode.Operand, rt, size int) {
	if m.Kind == mcode.KindStack {
		l.move(m, rt, size)
		return
	}
	if d, ok := dst(rt, size); ok {
		l.emit(&mcode.Insn{Op: mcode.OpLdx, L: m, D: d})
	}
}

func (l *lifter) store(v, m mcode.Operand) {
	if m.Kind == mcode.KindStack {
		l.emit(mcode.Mov(v, m))
		return
	}
	l.emit(&mcode.Insn{Op: mcode.OpStx, L: v, R: m})
}

func (l *lifter) writeback(rn int, imm int64) {
	base := mcode.Register(rn, 8)
	l.emit(mcode.Binary(mcode.OpAdd, base, mcode.Imm(uint64(imm), 8), base))
}

// move copies src to Xd and remembers constants and stack loads.
func (l *lifter) move(src mcode.Operand, rd, size int) {
	d, ok := dst(rd, size)
	if rd == RegSP && src.Kind == mcode.KindReg {
		d, ok = mcode.Register(RegSP, size), true
	}
	if !ok {
		return
	}
	l.emit(mcode.Mov(src, d))
	if src.IsImm() || src.Kind == mcode.KindStack {
		l.regs.Define(rd, src)
	}
}

// unknown models an instruction the lifter does not understand: its
// destination register, if any, becomes undefined and the flags are lost.
func (l *lifter) unknown(in Inst) error {
	if l.opts.Strict {
		return fmt.Errorf("%w: %s", ErrUnsupported, in.Mnemonic)
	}
	l.flags = nil
	if d, ok := destOf(in.Raw); ok {
		l.emit(&mcode.Insn{Op: mcode.OpUnd, D: d})
	}
	return nil
}

func (l *lifter) emit(ins *mcode.Insn) {
	for _, d := range ins.Defs() {
		l.clobber(d)
	}
	l.out = append(l.out, ins)
}

// clobber forgets what d mirrored. A pending compare reading d is first
// copied to the flag registers so the branch still sees the old values.
func (l *lifter) clobber(d mcode.Var) {
	switch d.Kind {
	case mcode.KindReg:
		l.regs.Kill(d.Reg)
	case mcode.KindStack:
		l.regs.KillSlot(d)
	}
	if l.flags == nil || !(slices.Contains(l.flags.l.Uses(), d) || slices.Contains(l.flags.r.Uses(), d)) {
		return
	}
	saved := &compare{l: mcode.Register(RegFlagL, l.flags.l.Size), r: l.flags.r}
	l.out = append(l.out, mcode.Mov(l.flags.l, saved.l))
	if !l.flags.r.IsImm() {
		saved.r = mcode.Register(RegFlagR, l.flags.r.Size)
		l.out = append(l.out, mcode.Mov(l.flags.r, saved.r))
	}
	l.flags = saved
}

func (l *lifter) setFlags(a, b mcode.Operand) {
	l.flags = &compare{l: a, r: b}
}

// read returns the value of Wn/Xn, preferring the constant or stack slot the
// register mirrors. Register 31 reads as zero.
func (l *lifter) read(n, size int) mcode.Operand {
	if n == 31 {
		return mcode.Imm(0, size)
	}
	if v, ok := l.regs.Lookup(n); ok {
		switch {
		case v.IsImm():
			return mcode.Imm(v.Value, size)
		case v.Size == size:
			return v
		}
	}
	return mcode.Register(n, size)
}

// readSP is read where register 31 encodes SP.
func (l *lifter) readSP(n, size int) mcode.Operand {
	if n == RegSP {
		return mcode.Register(RegSP, size)
	}
	return l.read(n, size)
}

func (l *lifter) callee(target uint64) mcode.Operand {
	name := fmt.Sprintf("sub_%x", target)
	if l.opts.Symbols != nil {
		if s, ok := l.opts.Symbols(target); ok {
			name = s
		}
	}
	return mcode.Global(target, name, 8)
}

func dst(rd, size int) (mcode.Operand, bool) {
	if rd == 31 {
		return mcode.Operand{}, false
	}
	return mcode.Register(rd, size), true
}

func width(wide bool) int {
	if wide {
		return 8
	}
	return 4
}

// logicalImm decodes the bitmask immediate of a logical instruction.
func logicalImm(raw uint32) (uint64, bool) {
	dec, err := arm64asm.Decode(Encode(raw))
	if err != nil {
		return 0, false
	}
	for _, a := range dec.Args {
		if imm, ok := a.(arm64asm.Imm64); ok {
			return imm.Imm, true
		}
	}
	return 0, false
}

// destOf returns the general-purpose register an unmodeled instruction
// writes, if any.
func destOf(raw uint32) (mcode.Operand, bool) {
	dec, err := arm64asm.Decode(Encode(raw))
	if err != nil || !writesFirstArg(dec.Op.String()) {
		return mcode.Operand{}, false
	}
	switch r := dec.Args[0].(type) {
	case arm64asm.Reg:
		return gpr(r)
	case arm64asm.RegSP:
		return gpr(arm64asm.Reg(r))
	}
	return mcode.Operand{}, false
}

func writesFirstArg(op string) bool {
	switch op {
	case "B", "BL", "BR", "BLR", "RET", "CBZ", "CBNZ", "TBZ", "TBNZ":
		return false
	}
	for _, p := range []string{"ST", "CMP", "CMN", "TST", "CCMP", "CCMN", "PRFM"} {
		if strings.HasPrefix(op, p) {
			return false
		}
	}
	return true
}

func gpr(r arm64asm.Reg) (mcode.Operand, bool) {
	switch {
	case r >= arm64asm.W0 && r < arm64asm.WZR:
		return mcode.Register(int(r-arm64asm.W0), 4), true
	case r >= arm64asm.X0 && r < arm64asm.XZR:
		return mcode.Register(int(r-arm64asm.X0), 8), true
	}
	return mcode.Operand{}, false
}

// MicrocodeAnnotator renders the microcode of each instruction, lifted on
// its own without block context, as a Format comment.
func MicrocodeAnnotator(symbols SymbolLookup) Annotator {
	return func(in Inst) string {
		if IsBranchTerminator(in.Raw) {
			return ""
		}
		l := newLifter(LiftOptions{Symbols: symbols})
		if err := l.inst(in); err != nil {
			return ""
		}
		parts := make([]string, 0, len(l.out)+1)
		for _, ins := range l.out {
			parts = append(parts, ins.String())
		}
		if l.flags != nil {
			parts = append(parts, "flags "+l.flags.l.String()+" ? "+l.flags.r.String())
		}
		return strings.Join(parts, "; ")
	}
}
