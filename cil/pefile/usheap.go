package pefile

import "unicode/utf16"

// parseUserStrings decodes the #US heap into an offset-keyed map of string
// literals. Entries are a compressed byte length followed by UTF-16LE code
// units and one trailing flag byte (ECMA-335 II.24.2.4). Malformed entries
// end the walk; everything decoded so far is kept.
func parseUserStrings(heap []byte) map[uint32]string {
	out := make(map[uint32]string)
	if len(heap) == 0 {
		return out
	}
	// Offset 0 holds a single 0x00 entry.
	pos := 1
	for pos < len(heap) {
		start := pos
		n, width, ok := compressedUint(heap, pos)
		if !ok {
			break
		}
		pos += width
		if n == 0 {
			out[uint32(start)] = ""
			continue
		}
		if pos+int(n) > len(heap) {
			break
		}
		// n counts the UTF-16 bytes plus the trailing flag byte.
		chars := (int(n) - 1) / 2
		units := make([]uint16, chars)
		for i := 0; i < chars; i++ {
			units[i] = uint16(heap[pos+2*i]) | uint16(heap[pos+2*i+1])<<8
		}
		out[uint32(start)] = string(utf16.Decode(units))
		pos += int(n)
	}
	return out
}

// compressedUint reads the variable-width unsigned integer encoding used
// by metadata heaps: 1, 2 or 4 bytes selected by the top bits.
func compressedUint(b []byte, pos int) (v uint32, width int, ok bool) {
	if pos >= len(b) {
		return 0, 0, false
	}
	first := b[pos]
	switch {
	case first&0x80 == 0:
		return uint32(first), 1, true
	case first&0xC0 == 0x80:
		if pos+2 > len(b) {
			return 0, 0, false
		}
		return uint32(first&0x3F)<<8 | uint32(b[pos+1]), 2, true
	case first&0xE0 == 0xC0:
		if pos+4 > len(b) {
			return 0, 0, false
		}
		return uint32(first&0x1F)<<24 | uint32(b[pos+1])<<16 | uint32(b[pos+2])<<8 | uint32(b[pos+3]), 4, true
	default:
		return 0, 0, false
	}
}
