package bytecode

import (
	"encoding/binary"
	"math"
)

// MaxSwitchTargets caps the target count accepted from a switch header.
// A count larger than the remaining bytes can hold is always malformed;
// the cap additionally bounds the allocation for adversarial input.
const MaxSwitchTargets = 1 << 20

// Operand is one decoded operand. The populated fields depend on Kind:
// integer immediates, variable indices and branch displacements use Int;
// ShortInlineR/InlineR use Float; token kinds use Token; InlineSwitch
// fills Targets with the raw displacements.
type Operand struct {
	Kind    OperandKind
	Int     int64
	Float   float64
	Token   uint32
	Targets []int32
}

// ReadOperand decodes the operand of the given kind starting at bc[off]
// (positioned immediately after the opcode bytes). It returns the operand
// and the number of bytes consumed. All values are little-endian per the
// CIL wire format. On truncation nothing is consumed and no partial value
// is returned.
func ReadOperand(kind OperandKind, bc []byte, off int) (Operand, int, error) {
	op := Operand{Kind: kind}

	if n, ok := OperandSize(kind); ok {
		if off+n > len(bc) {
			return Operand{}, 0, &TruncatedError{Offset: off, What: "operand", Need: n, Have: len(bc) - off}
		}
		switch kind {
		case InlineNone:
		case ShortInlineI:
			op.Int = int64(int8(bc[off]))
		case ShortInlineVar:
			op.Int = int64(bc[off])
		case ShortInlineBrTarget:
			op.Int = int64(int8(bc[off]))
		case InlineVar:
			op.Int = int64(binary.LittleEndian.Uint16(bc[off:]))
		case InlineI:
			op.Int = int64(int32(binary.LittleEndian.Uint32(bc[off:])))
		case InlineBrTarget:
			op.Int = int64(int32(binary.LittleEndian.Uint32(bc[off:])))
		case InlineI8:
			op.Int = int64(binary.LittleEndian.Uint64(bc[off:]))
		case ShortInlineR:
			op.Float = float64(math.Float32frombits(binary.LittleEndian.Uint32(bc[off:])))
		case InlineR:
			op.Float = math.Float64frombits(binary.LittleEndian.Uint64(bc[off:]))
		case InlineMethod, InlineField, InlineType, InlineString, InlineSig, InlineTok:
			op.Token = binary.LittleEndian.Uint32(bc[off:])
		}
		return op, n, nil
	}

	// InlineSwitch: uint32 count, then count int32 displacements.
	if off+4 > len(bc) {
		return Operand{}, 0, &TruncatedError{Offset: off, What: "switch count", Need: 4, Have: len(bc) - off}
	}
	count := binary.LittleEndian.Uint32(bc[off:])
	if count > MaxSwitchTargets {
		return Operand{}, 0, &TruncatedError{Offset: off, What: "switch targets", Need: 4 + int(count)*4, Have: len(bc) - off}
	}
	total := 4 + int(count)*4
	if off+total > len(bc) {
		return Operand{}, 0, &TruncatedError{Offset: off, What: "switch targets", Need: total, Have: len(bc) - off}
	}
	targets := make([]int32, count)
	for i := range targets {
		targets[i] = int32(binary.LittleEndian.Uint32(bc[off+4+i*4:]))
	}
	op.Targets = targets
	return op, total, nil
}
