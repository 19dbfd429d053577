package bytecode

import "sync"

// OperandKind identifies the operand shape of a CIL instruction, named
// after the ECMA-335 inline operand families (II.23.1.3).
type OperandKind uint8

const (
	InlineNone          OperandKind = iota // no operand
	ShortInlineI                           // int8 immediate
	InlineI                                // int32 immediate
	InlineI8                               // int64 immediate
	ShortInlineR                           // float32 immediate
	InlineR                                // float64 immediate
	ShortInlineVar                         // uint8 local/argument index
	InlineVar                              // uint16 local/argument index
	ShortInlineBrTarget                    // int8 branch displacement
	InlineBrTarget                         // int32 branch displacement
	InlineSwitch                           // uint32 count + count int32 displacements
	InlineMethod                           // method token
	InlineField                            // field token
	InlineType                             // type token
	InlineString                           // #US heap token
	InlineSig                              // standalone signature token
	InlineTok                              // arbitrary metadata token
)

// Category groups instructions by ECMA-335 partition III chapter.
type Category uint8

const (
	Base Category = iota
	ObjectModel
	Prefix
)

// OpInfo holds metadata about one CIL instruction. Total instruction length
// is never stored here: it is always opcode byte count plus the operand
// width derived from Kind.
type OpInfo struct {
	Name string
	Kind OperandKind
	Cat  Category
}

// OperandSize returns the fixed operand width in bytes for k, or ok=false
// for InlineSwitch, whose width depends on the encoded target count.
func OperandSize(k OperandKind) (n int, ok bool) {
	switch k {
	case InlineNone:
		return 0, true
	case ShortInlineI, ShortInlineVar, ShortInlineBrTarget:
		return 1, true
	case InlineVar:
		return 2, true
	case InlineI, ShortInlineR, InlineBrTarget,
		InlineMethod, InlineField, InlineType, InlineString, InlineSig, InlineTok:
		return 4, true
	case InlineI8, InlineR:
		return 8, true
	default:
		return 0, false
	}
}

// ExtendedPrefix introduces the two-byte opcode page.
const ExtendedPrefix = 0xFE

var (
	tablesOnce sync.Once

	// baseTable is indexed by the first opcode byte; extTable by the byte
	// following an 0xFE prefix. Unassigned slots keep the zero value
	// (Name == ""). Both are immutable after tablesOnce fires.
	baseTable [256]OpInfo
	extTable  [256]OpInfo
)

// Tables returns the base and 0xFE-prefixed opcode tables, building them on
// first use. The returned arrays must not be mutated.
func Tables() (base, ext *[256]OpInfo) {
	tablesOnce.Do(buildTables)
	return &baseTable, &extTable
}

func buildTables() {
	t := &baseTable

	t[0x00] = OpInfo{"nop", InlineNone, Base}
	t[0x01] = OpInfo{"break", InlineNone, Base}
	t[0x02] = OpInfo{"ldarg.0", InlineNone, Base}
	t[0x03] = OpInfo{"ldarg.1", InlineNone, Base}
	t[0x04] = OpInfo{"ldarg.2", InlineNone, Base}
	t[0x05] = OpInfo{"ldarg.3", InlineNone, Base}
	t[0x06] = OpInfo{"ldloc.0", InlineNone, Base}
	t[0x07] = OpInfo{"ldloc.1", InlineNone, Base}
	t[0x08] = OpInfo{"ldloc.2", InlineNone, Base}
	t[0x09] = OpInfo{"ldloc.3", InlineNone, Base}
	t[0x0A] = OpInfo{"stloc.0", InlineNone, Base}
	t[0x0B] = OpInfo{"stloc.1", InlineNone, Base}
	t[0x0C] = OpInfo{"stloc.2", InlineNone, Base}
	t[0x0D] = OpInfo{"stloc.3", InlineNone, Base}
	t[0x0E] = OpInfo{"ldarg.s", ShortInlineVar, Base}
	t[0x0F] = OpInfo{"ldarga.s", ShortInlineVar, Base}
	t[0x10] = OpInfo{"starg.s", ShortInlineVar, Base}
	t[0x11] = OpInfo{"ldloc.s", ShortInlineVar, Base}
	t[0x12] = OpInfo{"ldloca.s", ShortInlineVar, Base}
	t[0x13] = OpInfo{"stloc.s", ShortInlineVar, Base}
	t[0x14] = OpInfo{"ldnull", InlineNone, Base}
	t[0x15] = OpInfo{"ldc.i4.m1", InlineNone, Base}
	t[0x16] = OpInfo{"ldc.i4.0", InlineNone, Base}
	t[0x17] = OpInfo{"ldc.i4.1", InlineNone, Base}
	t[0x18] = OpInfo{"ldc.i4.2", InlineNone, Base}
	t[0x19] = OpInfo{"ldc.i4.3", InlineNone, Base}
	t[0x1A] = OpInfo{"ldc.i4.4", InlineNone, Base}
	t[0x1B] = OpInfo{"ldc.i4.5", InlineNone, Base}
	t[0x1C] = OpInfo{"ldc.i4.6", InlineNone, Base}
	t[0x1D] = OpInfo{"ldc.i4.7", InlineNone, Base}
	t[0x1E] = OpInfo{"ldc.i4.8", InlineNone, Base}
	t[0x1F] = OpInfo{"ldc.i4.s", ShortInlineI, Base}
	t[0x20] = OpInfo{"ldc.i4", InlineI, Base}
	t[0x21] = OpInfo{"ldc.i8", InlineI8, Base}
	t[0x22] = OpInfo{"ldc.r4", ShortInlineR, Base}
	t[0x23] = OpInfo{"ldc.r8", InlineR, Base}
	// 0x24 unassigned
	t[0x25] = OpInfo{"dup", InlineNone, Base}
	t[0x26] = OpInfo{"pop", InlineNone, Base}
	t[0x27] = OpInfo{"jmp", InlineMethod, Base}
	t[0x28] = OpInfo{"call", InlineMethod, Base}
	t[0x29] = OpInfo{"calli", InlineSig, Base}
	t[0x2A] = OpInfo{"ret", InlineNone, Base}
	t[0x2B] = OpInfo{"br.s", ShortInlineBrTarget, Base}
	t[0x2C] = OpInfo{"brfalse.s", ShortInlineBrTarget, Base} // alias brnull.s, brzero.s
	t[0x2D] = OpInfo{"brtrue.s", ShortInlineBrTarget, Base}  // alias brinst.s
	t[0x2E] = OpInfo{"beq.s", ShortInlineBrTarget, Base}
	t[0x2F] = OpInfo{"bge.s", ShortInlineBrTarget, Base}
	t[0x30] = OpInfo{"bgt.s", ShortInlineBrTarget, Base}
	t[0x31] = OpInfo{"ble.s", ShortInlineBrTarget, Base}
	t[0x32] = OpInfo{"blt.s", ShortInlineBrTarget, Base}
	t[0x33] = OpInfo{"bne.un.s", ShortInlineBrTarget, Base}
	t[0x34] = OpInfo{"bge.un.s", ShortInlineBrTarget, Base}
	t[0x35] = OpInfo{"bgt.un.s", ShortInlineBrTarget, Base}
	t[0x36] = OpInfo{"ble.un.s", ShortInlineBrTarget, Base}
	t[0x37] = OpInfo{"blt.un.s", ShortInlineBrTarget, Base}
	t[0x38] = OpInfo{"br", InlineBrTarget, Base}
	t[0x39] = OpInfo{"brfalse", InlineBrTarget, Base} // alias brnull, brzero
	t[0x3A] = OpInfo{"brtrue", InlineBrTarget, Base}  // alias brinst
	t[0x3B] = OpInfo{"beq", InlineBrTarget, Base}
	t[0x3C] = OpInfo{"bge", InlineBrTarget, Base}
	t[0x3D] = OpInfo{"bgt", InlineBrTarget, Base}
	t[0x3E] = OpInfo{"ble", InlineBrTarget, Base}
	t[0x3F] = OpInfo{"blt", InlineBrTarget, Base}
	t[0x40] = OpInfo{"bne.un", InlineBrTarget, Base}
	t[0x41] = OpInfo{"bge.un", InlineBrTarget, Base}
	t[0x42] = OpInfo{"bgt.un", InlineBrTarget, Base}
	t[0x43] = OpInfo{"ble.un", InlineBrTarget, Base}
	t[0x44] = OpInfo{"blt.un", InlineBrTarget, Base}
	t[0x45] = OpInfo{"switch", InlineSwitch, Base}
	t[0x46] = OpInfo{"ldind.i1", InlineNone, Base}
	t[0x47] = OpInfo{"ldind.u1", InlineNone, Base}
	t[0x48] = OpInfo{"ldind.i2", InlineNone, Base}
	t[0x49] = OpInfo{"ldind.u2", InlineNone, Base}
	t[0x4A] = OpInfo{"ldind.i4", InlineNone, Base}
	t[0x4B] = OpInfo{"ldind.u4", InlineNone, Base}
	t[0x4C] = OpInfo{"ldind.i8", InlineNone, Base} // alias ldind.u8
	t[0x4D] = OpInfo{"ldind.i", InlineNone, Base}
	t[0x4E] = OpInfo{"ldind.r4", InlineNone, Base}
	t[0x4F] = OpInfo{"ldind.r8", InlineNone, Base}
	t[0x50] = OpInfo{"ldind.ref", InlineNone, Base}
	t[0x51] = OpInfo{"stind.ref", InlineNone, Base}
	t[0x52] = OpInfo{"stind.i1", InlineNone, Base}
	t[0x53] = OpInfo{"stind.i2", InlineNone, Base}
	t[0x54] = OpInfo{"stind.i4", InlineNone, Base}
	t[0x55] = OpInfo{"stind.i8", InlineNone, Base}
	t[0x56] = OpInfo{"stind.r4", InlineNone, Base}
	t[0x57] = OpInfo{"stind.r8", InlineNone, Base}
	t[0x58] = OpInfo{"add", InlineNone, Base}
	t[0x59] = OpInfo{"sub", InlineNone, Base}
	t[0x5A] = OpInfo{"mul", InlineNone, Base}
	t[0x5B] = OpInfo{"div", InlineNone, Base}
	t[0x5C] = OpInfo{"div.un", InlineNone, Base}
	t[0x5D] = OpInfo{"rem", InlineNone, Base}
	t[0x5E] = OpInfo{"rem.un", InlineNone, Base}
	t[0x5F] = OpInfo{"and", InlineNone, Base}
	t[0x60] = OpInfo{"or", InlineNone, Base}
	t[0x61] = OpInfo{"xor", InlineNone, Base}
	t[0x62] = OpInfo{"shl", InlineNone, Base}
	t[0x63] = OpInfo{"shr", InlineNone, Base}
	t[0x64] = OpInfo{"shr.un", InlineNone, Base}
	t[0x65] = OpInfo{"neg", InlineNone, Base}
	t[0x66] = OpInfo{"not", InlineNone, Base}
	t[0x67] = OpInfo{"conv.i1", InlineNone, Base}
	t[0x68] = OpInfo{"conv.i2", InlineNone, Base}
	t[0x69] = OpInfo{"conv.i4", InlineNone, Base}
	t[0x6A] = OpInfo{"conv.i8", InlineNone, Base}
	t[0x6B] = OpInfo{"conv.r4", InlineNone, Base}
	t[0x6C] = OpInfo{"conv.r8", InlineNone, Base}
	t[0x6D] = OpInfo{"conv.u4", InlineNone, Base}
	t[0x6E] = OpInfo{"conv.u8", InlineNone, Base}
	t[0x6F] = OpInfo{"callvirt", InlineMethod, ObjectModel}
	t[0x70] = OpInfo{"cpobj", InlineType, ObjectModel}
	t[0x71] = OpInfo{"ldobj", InlineType, ObjectModel}
	t[0x72] = OpInfo{"ldstr", InlineString, ObjectModel}
	t[0x73] = OpInfo{"newobj", InlineMethod, ObjectModel}
	t[0x74] = OpInfo{"castclass", InlineType, ObjectModel}
	t[0x75] = OpInfo{"isinst", InlineType, ObjectModel}
	t[0x76] = OpInfo{"conv.r.un", InlineNone, Base}
	// 0x77, 0x78 unassigned
	t[0x79] = OpInfo{"unbox", InlineType, ObjectModel}
	t[0x7A] = OpInfo{"throw", InlineNone, ObjectModel}
	t[0x7B] = OpInfo{"ldfld", InlineField, ObjectModel}
	t[0x7C] = OpInfo{"ldflda", InlineField, ObjectModel}
	t[0x7D] = OpInfo{"stfld", InlineField, ObjectModel}
	t[0x7E] = OpInfo{"ldsfld", InlineField, ObjectModel}
	t[0x7F] = OpInfo{"ldsflda", InlineField, ObjectModel}
	t[0x80] = OpInfo{"stsfld", InlineField, ObjectModel}
	t[0x81] = OpInfo{"stobj", InlineType, ObjectModel}
	t[0x82] = OpInfo{"conv.ovf.i1.un", InlineNone, Base}
	t[0x83] = OpInfo{"conv.ovf.i2.un", InlineNone, Base}
	t[0x84] = OpInfo{"conv.ovf.i4.un", InlineNone, Base}
	t[0x85] = OpInfo{"conv.ovf.i8.un", InlineNone, Base}
	t[0x86] = OpInfo{"conv.ovf.u1.un", InlineNone, Base}
	t[0x87] = OpInfo{"conv.ovf.u2.un", InlineNone, Base}
	t[0x88] = OpInfo{"conv.ovf.u4.un", InlineNone, Base}
	t[0x89] = OpInfo{"conv.ovf.u8.un", InlineNone, Base}
	t[0x8A] = OpInfo{"conv.ovf.i.un", InlineNone, Base}
	t[0x8B] = OpInfo{"conv.ovf.u.un", InlineNone, Base}
	t[0x8C] = OpInfo{"box", InlineType, ObjectModel}
	t[0x8D] = OpInfo{"newarr", InlineType, ObjectModel}
	t[0x8E] = OpInfo{"ldlen", InlineNone, ObjectModel}
	t[0x8F] = OpInfo{"ldelema", InlineType, ObjectModel}
	t[0x90] = OpInfo{"ldelem.i1", InlineNone, ObjectModel}
	t[0x91] = OpInfo{"ldelem.u1", InlineNone, ObjectModel}
	t[0x92] = OpInfo{"ldelem.i2", InlineNone, ObjectModel}
	t[0x93] = OpInfo{"ldelem.u2", InlineNone, ObjectModel}
	t[0x94] = OpInfo{"ldelem.i4", InlineNone, ObjectModel}
	t[0x95] = OpInfo{"ldelem.u4", InlineNone, ObjectModel}
	t[0x96] = OpInfo{"ldelem.i8", InlineNone, ObjectModel} // alias ldelem.u8
	t[0x97] = OpInfo{"ldelem.i", InlineNone, ObjectModel}
	t[0x98] = OpInfo{"ldelem.r4", InlineNone, ObjectModel}
	t[0x99] = OpInfo{"ldelem.r8", InlineNone, ObjectModel}
	t[0x9A] = OpInfo{"ldelem.ref", InlineNone, ObjectModel}
	t[0x9B] = OpInfo{"stelem.i", InlineNone, ObjectModel}
	t[0x9C] = OpInfo{"stelem.i1", InlineNone, ObjectModel}
	t[0x9D] = OpInfo{"stelem.i2", InlineNone, ObjectModel}
	t[0x9E] = OpInfo{"stelem.i4", InlineNone, ObjectModel}
	t[0x9F] = OpInfo{"stelem.i8", InlineNone, ObjectModel}
	t[0xA0] = OpInfo{"stelem.r4", InlineNone, ObjectModel}
	t[0xA1] = OpInfo{"stelem.r8", InlineNone, ObjectModel}
	t[0xA2] = OpInfo{"stelem.ref", InlineNone, ObjectModel}
	t[0xA3] = OpInfo{"ldelem", InlineType, ObjectModel}
	t[0xA4] = OpInfo{"stelem", InlineType, ObjectModel}
	t[0xA5] = OpInfo{"unbox.any", InlineType, ObjectModel}
	// 0xA6..0xB2 unassigned
	t[0xB3] = OpInfo{"conv.ovf.i1", InlineNone, Base}
	t[0xB4] = OpInfo{"conv.ovf.u1", InlineNone, Base}
	t[0xB5] = OpInfo{"conv.ovf.i2", InlineNone, Base}
	t[0xB6] = OpInfo{"conv.ovf.u2", InlineNone, Base}
	t[0xB7] = OpInfo{"conv.ovf.i4", InlineNone, Base}
	t[0xB8] = OpInfo{"conv.ovf.u4", InlineNone, Base}
	t[0xB9] = OpInfo{"conv.ovf.i8", InlineNone, Base}
	t[0xBA] = OpInfo{"conv.ovf.u8", InlineNone, Base}
	// 0xBB..0xC1 unassigned
	t[0xC2] = OpInfo{"refanyval", InlineType, ObjectModel}
	t[0xC3] = OpInfo{"ckfinite", InlineNone, Base}
	// 0xC4, 0xC5 unassigned
	t[0xC6] = OpInfo{"mkrefany", InlineType, ObjectModel}
	// 0xC7..0xCF unassigned
	t[0xD0] = OpInfo{"ldtoken", InlineTok, ObjectModel}
	t[0xD1] = OpInfo{"conv.u2", InlineNone, Base}
	t[0xD2] = OpInfo{"conv.u1", InlineNone, Base}
	t[0xD3] = OpInfo{"conv.i", InlineNone, Base}
	t[0xD4] = OpInfo{"conv.ovf.i", InlineNone, Base}
	t[0xD5] = OpInfo{"conv.ovf.u", InlineNone, Base}
	t[0xD6] = OpInfo{"add.ovf", InlineNone, Base}
	t[0xD7] = OpInfo{"add.ovf.un", InlineNone, Base}
	t[0xD8] = OpInfo{"mul.ovf", InlineNone, Base}
	t[0xD9] = OpInfo{"mul.ovf.un", InlineNone, Base}
	t[0xDA] = OpInfo{"sub.ovf", InlineNone, Base}
	t[0xDB] = OpInfo{"sub.ovf.un", InlineNone, Base}
	t[0xDC] = OpInfo{"endfinally", InlineNone, Base} // alias endfault
	t[0xDD] = OpInfo{"leave", InlineBrTarget, Base}
	t[0xDE] = OpInfo{"leave.s", ShortInlineBrTarget, Base}
	t[0xDF] = OpInfo{"stind.i", InlineNone, Base}
	t[0xE0] = OpInfo{"conv.u", InlineNone, Base}
	// 0xE1..0xFD unassigned; 0xFE introduces the extended page

	e := &extTable

	e[0x00] = OpInfo{"arglist", InlineNone, Base}
	e[0x01] = OpInfo{"ceq", InlineNone, Base}
	e[0x02] = OpInfo{"cgt", InlineNone, Base}
	e[0x03] = OpInfo{"cgt.un", InlineNone, Base}
	e[0x04] = OpInfo{"clt", InlineNone, Base}
	e[0x05] = OpInfo{"clt.un", InlineNone, Base}
	e[0x06] = OpInfo{"ldftn", InlineMethod, Base}
	e[0x07] = OpInfo{"ldvirtftn", InlineMethod, ObjectModel}
	// 0x08 unassigned
	e[0x09] = OpInfo{"ldarg", InlineVar, Base}
	e[0x0A] = OpInfo{"ldarga", InlineVar, Base}
	e[0x0B] = OpInfo{"starg", InlineVar, Base}
	e[0x0C] = OpInfo{"ldloc", InlineVar, Base}
	e[0x0D] = OpInfo{"ldloca", InlineVar, Base}
	e[0x0E] = OpInfo{"stloc", InlineVar, Base}
	e[0x0F] = OpInfo{"localloc", InlineNone, Base}
	// 0x10 unassigned
	e[0x11] = OpInfo{"endfilter", InlineNone, Base}
	e[0x12] = OpInfo{"unaligned.", ShortInlineI, Prefix}
	e[0x13] = OpInfo{"volatile.", InlineNone, Prefix}
	e[0x14] = OpInfo{"tail.", InlineNone, Prefix}
	e[0x15] = OpInfo{"initobj", InlineType, ObjectModel}
	e[0x16] = OpInfo{"constrained.", InlineType, Prefix}
	e[0x17] = OpInfo{"cpblk", InlineNone, Base}
	e[0x18] = OpInfo{"initblk", InlineNone, Base}
	e[0x19] = OpInfo{"no.", ShortInlineI, Prefix}
	e[0x1A] = OpInfo{"rethrow", InlineNone, ObjectModel}
	// 0x1B unassigned
	e[0x1C] = OpInfo{"sizeof", InlineType, ObjectModel}
	e[0x1D] = OpInfo{"refanytype", InlineNone, ObjectModel}
	e[0x1E] = OpInfo{"readonly.", InlineNone, Prefix}
}

// Lookup resolves the opcode starting at bc[off], following the 0xFE prefix
// when present. It returns the descriptor and the opcode byte width (1 or 2).
func Lookup(bc []byte, off int) (*OpInfo, int, error) {
	base, ext := Tables()
	first := bc[off]
	if first != ExtendedPrefix {
		info := &base[first]
		if info.Name == "" {
			return nil, 0, &UnknownOpcodeError{Offset: off, Opcode: first}
		}
		return info, 1, nil
	}
	if off+1 >= len(bc) {
		return nil, 0, &TruncatedError{Offset: off, What: "prefix", Need: 2, Have: len(bc) - off}
	}
	second := bc[off+1]
	info := &ext[second]
	if info.Name == "" {
		return nil, 0, &UnknownOpcodeError{Offset: off, Opcode: second, Prefixed: true}
	}
	return info, 2, nil
}
