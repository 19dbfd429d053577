package bytecode

import "fmt"

// UnknownOpcodeError reports an opcode value with no table entry.
// Fatal for the current method body: advancing past an unrecognized opcode
// would desynchronize every following instruction.
type UnknownOpcodeError struct {
	Offset   int
	Opcode   byte
	Prefixed bool // true when the value followed a 0xFE prefix
}

func (e *UnknownOpcodeError) Error() string {
	if e.Prefixed {
		return fmt.Sprintf("unknown opcode 0xfe 0x%02x at offset %d", e.Opcode, e.Offset)
	}
	return fmt.Sprintf("unknown opcode 0x%02x at offset %d", e.Opcode, e.Offset)
}

// TruncatedError reports a stream that ends before an operand (or the second
// byte of a prefixed opcode) is complete.
type TruncatedError struct {
	Offset int
	What   string // "prefix", "operand", "switch targets", ...
	Need   int
	Have   int
}

func (e *TruncatedError) Error() string {
	return fmt.Sprintf("truncated %s at offset %d: need %d bytes, have %d", e.What, e.Offset, e.Need, e.Have)
}

// MisalignedError reports an instruction whose computed length would run
// past the end of the buffer, or a body whose final instruction does not
// end exactly at the buffer boundary.
type MisalignedError struct {
	Offset int
	Len    int
	Size   int // buffer size
}

func (e *MisalignedError) Error() string {
	return fmt.Sprintf("instruction at offset %d (length %d) overruns %d-byte body", e.Offset, e.Len, e.Size)
}
