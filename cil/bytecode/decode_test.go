package bytecode

import (
	"encoding/binary"
	"errors"
	"io"
	"testing"
)

func TestNopSingleInstruction(t *testing.T) {
	entries, err := ComputeLengths([]byte{0x00})
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	e := entries[0]
	if e.Offset != 0 || e.Len != 1 || e.Op.Name != "nop" {
		t.Errorf("got offset=%d len=%d name=%q, want 0/1/nop", e.Offset, e.Len, e.Op.Name)
	}
}

func TestLdcI4S(t *testing.T) {
	entries, err := ComputeLengths([]byte{0x1F, 0x05})
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	e := entries[0]
	if e.Op.Name != "ldc.i4.s" || e.Len != 2 {
		t.Errorf("got name=%q len=%d, want ldc.i4.s/2", e.Op.Name, e.Len)
	}
	if e.Operand.Int != 5 {
		t.Errorf("operand = %d, want 5", e.Operand.Int)
	}
}

func TestLdcI4(t *testing.T) {
	bc := make([]byte, 5)
	bc[0] = 0x20
	binary.LittleEndian.PutUint32(bc[1:], 1000000)
	entries, err := ComputeLengths(bc)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 || entries[0].Len != 5 {
		t.Fatalf("expected one 5-byte entry, got %+v", entries)
	}
	if entries[0].Operand.Int != 1000000 {
		t.Errorf("operand = %d, want 1000000", entries[0].Operand.Int)
	}
}

func TestSwitchThreeTargets(t *testing.T) {
	// switch, count=3, targets +2, -4, +8
	bc := make([]byte, 17)
	bc[0] = 0x45
	binary.LittleEndian.PutUint32(bc[1:], 3)
	binary.LittleEndian.PutUint32(bc[5:], 2)
	binary.LittleEndian.PutUint32(bc[9:], uint32(0xFFFFFFFC)) // -4
	binary.LittleEndian.PutUint32(bc[13:], 8)

	entries, err := ComputeLengths(bc)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	e := entries[0]
	if e.Len != 17 {
		t.Errorf("len = %d, want 1+4+4*3 = 17", e.Len)
	}
	want := []int32{2, -4, 8}
	if len(e.Operand.Targets) != 3 {
		t.Fatalf("targets = %v, want %v", e.Operand.Targets, want)
	}
	for i, w := range want {
		if e.Operand.Targets[i] != w {
			t.Errorf("target[%d] = %d, want %d", i, e.Operand.Targets[i], w)
		}
	}
	// Displacements are relative to the end of the switch instruction.
	abs := e.BranchTargets()
	wantAbs := []int{19, 13, 25}
	for i, w := range wantAbs {
		if abs[i] != w {
			t.Errorf("abs target[%d] = %d, want %d", i, abs[i], w)
		}
	}
}

func TestTruncatedLdcI4(t *testing.T) {
	_, err := ComputeLengths([]byte{0x20})
	var te *TruncatedError
	if !errors.As(err, &te) {
		t.Fatalf("expected TruncatedError, got %v", err)
	}
	if te.Need != 4 || te.Have != 0 {
		t.Errorf("need/have = %d/%d, want 4/0", te.Need, te.Have)
	}
}

func TestUnknownOpcode(t *testing.T) {
	// 0x24 is unassigned in the base instruction set.
	_, err := ComputeLengths([]byte{0x24})
	var ue *UnknownOpcodeError
	if !errors.As(err, &ue) {
		t.Fatalf("expected UnknownOpcodeError, got %v", err)
	}
	if ue.Opcode != 0x24 || ue.Prefixed {
		t.Errorf("got opcode=0x%02x prefixed=%v", ue.Opcode, ue.Prefixed)
	}
}

func TestTwoByteCeq(t *testing.T) {
	entries, err := ComputeLengths([]byte{0xFE, 0x01})
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	e := entries[0]
	if e.Op.Name != "ceq" || e.Operand.Kind != InlineNone || e.Len != 2 || e.OpLen != 2 {
		t.Errorf("got name=%q kind=%d len=%d oplen=%d, want ceq/None/2/2", e.Op.Name, e.Operand.Kind, e.Len, e.OpLen)
	}
}

func TestTruncatedPrefix(t *testing.T) {
	// Stream ends after the extended-page prefix byte.
	_, err := ComputeLengths([]byte{0xFE})
	var te *TruncatedError
	if !errors.As(err, &te) {
		t.Fatalf("expected TruncatedError, got %v", err)
	}
}

func TestUnknownExtendedOpcode(t *testing.T) {
	_, err := ComputeLengths([]byte{0xFE, 0x1B})
	var ue *UnknownOpcodeError
	if !errors.As(err, &ue) {
		t.Fatalf("expected UnknownOpcodeError, got %v", err)
	}
	if !ue.Prefixed || ue.Opcode != 0x1B {
		t.Errorf("got opcode=0x%02x prefixed=%v, want 0x1b/true", ue.Opcode, ue.Prefixed)
	}
}

func TestContiguousPartition(t *testing.T) {
	// nop; ldc.i4.s 5; ldarg.s 2; call token; br.s -7; ret
	bc := []byte{
		0x00,
		0x1F, 0x05,
		0x0E, 0x02,
		0x28, 0x34, 0x12, 0x00, 0x06,
		0x2B, 0xF9,
		0x2A,
	}
	entries, err := ComputeLengths(bc)
	if err != nil {
		t.Fatal(err)
	}
	total := 0
	for i, e := range entries {
		if e.Offset != total {
			t.Errorf("entry %d offset = %d, want %d (no gaps or overlaps)", i, e.Offset, total)
		}
		opdLen, fixed := OperandSize(e.Operand.Kind)
		if fixed && e.Len != e.OpLen+opdLen {
			t.Errorf("entry %d len = %d, want opcode %d + operand %d", i, e.Len, e.OpLen, opdLen)
		}
		total += e.Len
	}
	if total != len(bc) {
		t.Errorf("lengths sum to %d, want %d", total, len(bc))
	}
	if entries[3].Op.Name != "call" || entries[3].Operand.Token != 0x06001234 {
		t.Errorf("call entry = %+v", entries[3])
	}
}

func TestCallLengthIsFive(t *testing.T) {
	// call carries a 4-byte method token; total length must come out as
	// 1 opcode byte + 4 operand bytes, not any per-opcode constant.
	bc := []byte{0x28, 0x00, 0x00, 0x00, 0x0A}
	n, err := InstrLen(bc, 0)
	if err != nil {
		t.Fatal(err)
	}
	if n != 5 {
		t.Errorf("InstrLen(call) = %d, want 5", n)
	}
}

func TestDecoderEOFExactlyAtEnd(t *testing.T) {
	d := NewDecoder([]byte{0x00, 0x2A})
	for i := 0; i < 2; i++ {
		if _, err := d.Next(); err != nil {
			t.Fatal(err)
		}
	}
	if _, err := d.Next(); err != io.EOF {
		t.Fatalf("expected io.EOF, got %v", err)
	}
	// Repeated calls stay at EOF.
	if _, err := d.Next(); err != io.EOF {
		t.Fatalf("expected io.EOF on repeat, got %v", err)
	}
}

func TestMisalignedErrorMessage(t *testing.T) {
	err := &MisalignedError{Offset: 4, Len: 3, Size: 5}
	got := err.Error()
	want := "instruction at offset 4 (length 3) overruns 5-byte body"
	if got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
	var me *MisalignedError
	if !errors.As(error(err), &me) {
		t.Error("errors.As failed to match *MisalignedError")
	}
}

func TestCollectLabels(t *testing.T) {
	// br.s +1 (to offset 3); ret; nop
	bc := []byte{0x2B, 0x01, 0x2A, 0x00}
	labels := CollectLabels(bc)
	if _, ok := labels[3]; !ok {
		t.Errorf("expected label at offset 3, got %v", labels)
	}
	if len(labels) != 1 {
		t.Errorf("expected exactly 1 label, got %v", labels)
	}
}

func TestCollectLabelsBackward(t *testing.T) {
	// nop; nop; br.s -4 (back to offset 0)
	bc := []byte{0x00, 0x00, 0x2B, 0xFC}
	labels := CollectLabels(bc)
	if _, ok := labels[0]; !ok {
		t.Errorf("expected label at offset 0, got %v", labels)
	}
}

func TestLeaveTargets(t *testing.T) {
	// leave +0 points at the next instruction.
	bc := []byte{0xDD, 0x00, 0x00, 0x00, 0x00, 0x00}
	entries, err := ComputeLengths(bc)
	if err != nil {
		t.Fatal(err)
	}
	tgts := entries[0].BranchTargets()
	if len(tgts) != 1 || tgts[0] != 5 {
		t.Errorf("leave targets = %v, want [5]", tgts)
	}
}

func FuzzComputeLengths(f *testing.F) {
	seeds := [][]byte{
		{0x00},                         // nop
		{0x1F, 0x05},                   // ldc.i4.s 5
		{0x20, 0x40, 0x42, 0x0F, 0x00}, // ldc.i4 1000000
		{0xFE, 0x01},                   // ceq
		{0xFE},                         // truncated prefix
		{0x24},                         // unassigned
		{0x20},                         // truncated ldc.i4
		{0x45, 0x03, 0x00, 0x00, 0x00, // switch count=3
			0x02, 0x00, 0x00, 0x00,
			0xFC, 0xFF, 0xFF, 0xFF,
			0x08, 0x00, 0x00, 0x00},
		{0x45, 0xFF, 0xFF, 0xFF, 0xFF}, // switch with absurd count
	}
	for _, s := range seeds {
		f.Add(s)
	}

	f.Fuzz(func(t *testing.T, bc []byte) {
		entries, err := ComputeLengths(bc)
		if err != nil {
			return
		}
		// On success the entries must partition the buffer exactly.
		total := 0
		for _, e := range entries {
			if e.Offset != total {
				t.Fatalf("gap: entry offset %d, expected %d", e.Offset, total)
			}
			if e.Len <= 0 {
				t.Fatalf("non-positive length %d at offset %d", e.Len, e.Offset)
			}
			total += e.Len
		}
		if total != len(bc) {
			t.Fatalf("lengths sum to %d of %d bytes", total, len(bc))
		}
	})
}
