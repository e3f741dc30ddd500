package disasm

// BranchKind classifies a block-ending ARM64 instruction.
type BranchKind uint8

const (
	BrRet BranchKind = iota
	BrB
	BrBCond
	BrCBZ
	BrCBNZ
	BrTBZ
	BrTBNZ
)

// BranchInfo describes a decoded branch instruction.
type BranchInfo struct {
	Kind   BranchKind
	Target uint64 // absolute target address (0 for RET)
	Cond   bool   // conditional, has a fallthrough
	IsRet  bool
	CC     uint8 // B.cond condition code
	Reg    int   // tested register for CBZ/CBNZ/TBZ/TBNZ
	Wide   bool  // 64-bit register for CBZ/CBNZ/TBZ/TBNZ
	Bit    int   // tested bit for TBZ/TBNZ
}

// ARM64 condition codes.
const (
	ccEQ uint8 = iota
	ccNE
	ccHS
	ccLO
	ccMI
	ccPL
	ccVS
	ccVC
	ccHI
	ccLS
	ccGE
	ccLT
	ccGT
	ccLE
	ccAL
	ccNV
)

func pcRel(pc uint64, imm uint32, bits int) uint64 {
	return uint64(int64(pc) + int64(signExtend(imm, bits))*4)
}

// DecodeBranch decodes a block-ending instruction at pc. Returns nil if raw
// is not a branch or return; BL and BLR return to the next instruction and
// are not branches here.
func DecodeBranch(raw uint32, pc uint64) *BranchInfo {
	rt := int(raw & 0x1F)
	wide := raw>>31 == 1
	switch {
	case raw&0xFFFFFC1F == 0xD65F0000: // RET {Xn}
		return &BranchInfo{Kind: BrRet, IsRet: true}
	case raw&0xFC000000 == 0x14000000: // B imm26
		return &BranchInfo{Kind: BrB, Target: pcRel(pc, raw&0x03FFFFFF, 26)}
	case raw&0xFF000010 == 0x54000000: // B.cond imm19
		cc := uint8(raw & 0xF)
		if cc == ccAL || cc == ccNV {
			return &BranchInfo{Kind: BrB, Target: pcRel(pc, (raw>>5)&0x7FFFF, 19)}
		}
		return &BranchInfo{Kind: BrBCond, Target: pcRel(pc, (raw>>5)&0x7FFFF, 19), Cond: true, CC: cc}
	case raw&0x7E000000 == 0x34000000: // CBZ/CBNZ sf imm19 Rt
		k := BrCBZ
		if raw&0x01000000 != 0 {
			k = BrCBNZ
		}
		return &BranchInfo{Kind: k, Target: pcRel(pc, (raw>>5)&0x7FFFF, 19), Cond: true, Reg: rt, Wide: wide}
	case raw&0x7E000000 == 0x36000000: // TBZ/TBNZ b5 b40 imm14 Rt
		k := BrTBZ
		if raw&0x01000000 != 0 {
			k = BrTBNZ
		}
		bit := int((raw>>31)<<5 | (raw>>19)&0x1F)
		return &BranchInfo{Kind: k, Target: pcRel(pc, (raw>>5)&0x3FFF, 14), Cond: true, Reg: rt, Wide: wide, Bit: bit}
	}
	return nil
}

// CallInfo describes a BL or BLR call site.
type CallInfo struct {
	Target uint64 // BL target
	Reg    int    // BLR register, -1 for BL
}

// DecodeCall decodes BL imm26 and BLR Xn.
func DecodeCall(raw uint32, pc uint64) (CallInfo, bool) {
	switch {
	case raw&0xFC000000 == 0x94000000:
		return CallInfo{Target: pcRel(pc, raw&0x03FFFFFF, 26), Reg: -1}, true
	case raw&0xFFFFFC1F == 0xD63F0000:
		return CallInfo{Reg: int((raw >> 5) & 0x1F)}, true
	}
	return CallInfo{}, false
}

// signExtend sign-extends a value from the given bit width to int32.
func signExtend(val uint32, bits int) int32 {
	sign := uint32(1) << (bits - 1)
	mask := sign - 1
	if val&sign != 0 {
		return int32(val | ^mask)
	}
	return int32(val & mask)
}

// IsBranchTerminator reports whether raw ends a basic block.
func IsBranchTerminator(raw uint32) bool {
	return DecodeBranch(raw, 0) != nil
}
