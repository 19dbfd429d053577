package pefile

import (
	"debug/pe"
	"encoding/binary"
	"testing"

	"github.com/zboralski/cil-dumper/cil"
)

// testImage wraps raw bytes in a single section mapped at RVA 0x2000.
func testImage(raw []byte) *image {
	return &image{
		data: raw,
		secs: []*pe.Section{{
			SectionHeader: pe.SectionHeader{
				VirtualAddress: 0x2000,
				Size:           uint32(len(raw)),
				Offset:         0,
			},
		}},
	}
}

func TestParseBodyTiny(t *testing.T) {
	raw := []byte{0x0A, 0x00, 0x2A} // tiny header, size 2; nop; ret
	m := &cil.Method{RVA: 0x2000}
	if err := parseBody(testImage(raw), m, cil.MaxReadBytes); err != nil {
		t.Fatal(err)
	}
	if !m.Tiny || m.CodeSize != 2 || m.MaxStack != 8 {
		t.Errorf("tiny=%v codesize=%d maxstack=%d", m.Tiny, m.CodeSize, m.MaxStack)
	}
	if len(m.Body) != 2 || m.Body[0] != 0x00 || m.Body[1] != 0x2A {
		t.Errorf("body = %x", m.Body)
	}
}

func TestParseBodyFatWithHandlers(t *testing.T) {
	var raw []byte
	u16 := func(v uint16) { raw = binary.LittleEndian.AppendUint16(raw, v) }
	u32 := func(v uint32) { raw = binary.LittleEndian.AppendUint32(raw, v) }

	u16(0x3013 | fatFlagMoreSects) // fat, 3-dword header, more sections
	u16(4)                         // maxstack
	u32(4)                         // code size
	u32(0x11000001)                // localvarsig
	raw = append(raw, 0x00, 0x00, 0x00, 0x2A)

	// Small EH section: one finally clause.
	raw = append(raw, sectEHTable) // kind
	raw = append(raw, 16)          // data size: 4 header + 12 clause
	u16(0)                         // reserved
	u16(uint16(cil.EhFinally))     // flags
	u16(0)                         // try offset
	raw = append(raw, 3)           // try length
	u16(3)                         // handler offset
	raw = append(raw, 1)           // handler length
	u32(0)                         // token

	m := &cil.Method{RVA: 0x2000}
	if err := parseBody(testImage(raw), m, cil.MaxReadBytes); err != nil {
		t.Fatal(err)
	}
	if m.Tiny || m.MaxStack != 4 || m.CodeSize != 4 || m.LocalVarSigTok != 0x11000001 {
		t.Errorf("header fields: %+v", m)
	}
	if len(m.Handlers) != 1 {
		t.Fatalf("handlers = %+v", m.Handlers)
	}
	h := m.Handlers[0]
	if h.Kind != cil.EhFinally || h.TryLength != 3 || h.HandlerOffset != 3 || h.HandlerLength != 1 {
		t.Errorf("handler = %+v", h)
	}
}

func TestParseBodyFatEHClauses(t *testing.T) {
	var raw []byte
	u16 := func(v uint16) { raw = binary.LittleEndian.AppendUint16(raw, v) }
	u32 := func(v uint32) { raw = binary.LittleEndian.AppendUint32(raw, v) }

	u16(0x3013 | fatFlagMoreSects)
	u16(2)
	u32(4)
	u32(0)
	raw = append(raw, 0x00, 0x00, 0x00, 0x2A)

	// Fat EH section: one catch clause.
	raw = append(raw, sectEHTable|sectFatFormat)
	size := uint32(4 + 24)
	raw = append(raw, byte(size), byte(size>>8), byte(size>>16))
	u32(cil.EhCatch) // flags
	u32(0)           // try offset
	u32(2)           // try length
	u32(2)           // handler offset
	u32(2)           // handler length
	u32(0x01000005)  // class token

	m := &cil.Method{RVA: 0x2000}
	if err := parseBody(testImage(raw), m, cil.MaxReadBytes); err != nil {
		t.Fatal(err)
	}
	if len(m.Handlers) != 1 {
		t.Fatalf("handlers = %+v", m.Handlers)
	}
	if m.Handlers[0].ClassToken != 0x01000005 {
		t.Errorf("class token = 0x%08x", m.Handlers[0].ClassToken)
	}
}

func TestParseBodyTruncatedCode(t *testing.T) {
	raw := []byte{0x0A, 0x00} // tiny header claims 2 bytes, only 1 present
	m := &cil.Method{RVA: 0x2000}
	if err := parseBody(testImage(raw), m, cil.MaxReadBytes); err == nil {
		t.Fatal("expected error for truncated code")
	}
}

func TestParseBodyCodeSizeCap(t *testing.T) {
	var raw []byte
	raw = binary.LittleEndian.AppendUint16(raw, 0x3013)
	raw = binary.LittleEndian.AppendUint16(raw, 8)
	raw = binary.LittleEndian.AppendUint32(raw, 1<<30) // absurd code size
	raw = binary.LittleEndian.AppendUint32(raw, 0)
	m := &cil.Method{RVA: 0x2000}
	if err := parseBody(testImage(raw), m, 1024); err == nil {
		t.Fatal("expected error for code size over cap")
	}
}

func TestParseBodyBadTag(t *testing.T) {
	m := &cil.Method{RVA: 0x2000}
	if err := parseBody(testImage([]byte{0x00}), m, cil.MaxReadBytes); err == nil {
		t.Fatal("expected error for bad header tag")
	}
}

func TestImageOffsetOutOfRange(t *testing.T) {
	im := testImage([]byte{0x00})
	if _, err := im.offset(0x9000); err == nil {
		t.Fatal("expected error for unmapped rva")
	}
}
