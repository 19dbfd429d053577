package bytecode

import "io"

// Instr is one decoded instruction. Len is always OpLen plus the operand
// byte count; it is computed per decode, never read from a table.
type Instr struct {
	Offset  int
	Op      *OpInfo
	OpLen   int // opcode byte width, 1 or 2
	Operand Operand
	Len     int
}

// BranchTargets returns the absolute offsets this instruction can jump to,
// or nil for non-branching instructions. CIL displacements are relative to
// the first byte of the following instruction.
func (in Instr) BranchTargets() []int {
	next := in.Offset + in.Len
	switch in.Operand.Kind {
	case ShortInlineBrTarget, InlineBrTarget:
		return []int{next + int(in.Operand.Int)}
	case InlineSwitch:
		out := make([]int, len(in.Operand.Targets))
		for i, d := range in.Operand.Targets {
			out[i] = next + int(d)
		}
		return out
	}
	return nil
}

// Decoder walks a method body one instruction at a time. Decoding is
// forward-only: each step depends only on the previous instruction's end
// offset, so a Decoder never seeks backward or looks ahead.
type Decoder struct {
	bc  []byte
	off int
}

// NewDecoder returns a Decoder positioned at offset 0 of bc.
func NewDecoder(bc []byte) *Decoder {
	return &Decoder{bc: bc}
}

// Offset returns the current cursor position.
func (d *Decoder) Offset() int { return d.off }

// Next decodes the instruction at the cursor and advances past it.
// It returns io.EOF when the cursor sits exactly at the end of the body.
// Any other error is fatal for the body: the cursor does not advance and
// further calls return the same error.
func (d *Decoder) Next() (Instr, error) {
	if d.off == len(d.bc) {
		return Instr{}, io.EOF
	}
	// Invariant check: the cursor only advances by bounded instruction
	// lengths, so it can never pass the end of the body.
	if d.off > len(d.bc) {
		return Instr{}, &MisalignedError{Offset: d.off, Size: len(d.bc)}
	}

	info, opLen, err := Lookup(d.bc, d.off)
	if err != nil {
		return Instr{}, err
	}
	operand, n, err := ReadOperand(info.Kind, d.bc, d.off+opLen)
	if err != nil {
		return Instr{}, err
	}

	in := Instr{
		Offset:  d.off,
		Op:      info,
		OpLen:   opLen,
		Operand: operand,
		Len:     opLen + n,
	}
	// Invariant check on Len accounting. Lookup and ReadOperand bound
	// every read, so this cannot fire while Len stays OpLen plus the
	// operand byte count.
	if d.off+in.Len > len(d.bc) {
		return Instr{}, &MisalignedError{Offset: d.off, Len: in.Len, Size: len(d.bc)}
	}
	d.off += in.Len
	return in, nil
}

// ComputeLengths decodes an entire method body, returning one entry per
// instruction. The entries partition the body exactly: entry i+1 starts
// where entry i ends, and the final entry ends at len(bc).
func ComputeLengths(bc []byte) ([]Instr, error) {
	var out []Instr
	d := NewDecoder(bc)
	for {
		in, err := d.Next()
		if err == io.EOF {
			return out, nil
		}
		if err != nil {
			return nil, err
		}
		out = append(out, in)
	}
}

// InstrLen returns the total byte length of the instruction at bc[off].
func InstrLen(bc []byte, off int) (int, error) {
	info, opLen, err := Lookup(bc, off)
	if err != nil {
		return 0, err
	}
	_, n, err := ReadOperand(info.Kind, bc, off+opLen)
	if err != nil {
		return 0, err
	}
	return opLen + n, nil
}

// CollectLabels identifies body offsets that are branch targets. Decode
// errors end collection early; out-of-range targets are dropped.
func CollectLabels(bc []byte) map[int]struct{} {
	labels := make(map[int]struct{})
	d := NewDecoder(bc)
	for {
		in, err := d.Next()
		if err != nil {
			return labels
		}
		for _, tgt := range in.BranchTargets() {
			if tgt >= 0 && tgt <= len(bc) {
				labels[tgt] = struct{}{}
			}
		}
	}
}
