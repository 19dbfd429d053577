package pefile

import (
	"fmt"

	"github.com/zboralski/cil-dumper/cil"
)

// Method body header format tags (ECMA-335 II.25.4).
const (
	bodyTiny = 0x2
	bodyFat  = 0x3

	fatFlagMoreSects = 0x8

	sectEHTable   = 0x01
	sectFatFormat = 0x40
	sectMoreSects = 0x80
)

// parseBody decodes the method body header, instruction bytes and any
// exception-handler sections at m.RVA, filling m in place.
func parseBody(im *image, m *cil.Method, maxBody int) error {
	off, err := im.offset(m.RVA)
	if err != nil {
		return err
	}
	r := newReader(im.data[off:])

	first, err := r.u8()
	if err != nil {
		return err
	}

	switch first & 0x3 {
	case bodyTiny:
		m.Tiny = true
		m.CodeSize = uint32(first >> 2)
		m.MaxStack = 8 // implied by the tiny format

	case bodyFat:
		second, err := r.u8()
		if err != nil {
			return err
		}
		flagsAndSize := uint16(first) | uint16(second)<<8
		headerWords := int(flagsAndSize >> 12)
		if headerWords < 3 {
			return fmt.Errorf("fat body header claims %d dwords", headerWords)
		}
		m.MaxStack, err = r.u16()
		if err != nil {
			return err
		}
		m.CodeSize, err = r.u32()
		if err != nil {
			return err
		}
		m.LocalVarSigTok, err = r.u32()
		if err != nil {
			return err
		}
		// Skip any header extension beyond the standard 12 bytes.
		if err := r.skip(headerWords*4 - 12); err != nil {
			return err
		}

		if int64(m.CodeSize) > int64(maxBody) {
			return fmt.Errorf("code size %d exceeds cap %d", m.CodeSize, maxBody)
		}
		body, err := r.bytes(int(m.CodeSize))
		if err != nil {
			return fmt.Errorf("code: %w", err)
		}
		m.Body = body

		if flagsAndSize&fatFlagMoreSects != 0 {
			if err := r.align(4); err != nil {
				return err
			}
			if err := parseDataSections(r, m); err != nil {
				return err
			}
		}
		return nil

	default:
		return fmt.Errorf("unrecognized body header tag 0x%x", first&0x3)
	}

	// Tiny body: no extra header fields, no sections.
	if int64(m.CodeSize) > int64(maxBody) {
		return fmt.Errorf("code size %d exceeds cap %d", m.CodeSize, maxBody)
	}
	body, err := r.bytes(int(m.CodeSize))
	if err != nil {
		return fmt.Errorf("code: %w", err)
	}
	m.Body = body
	return nil
}

// parseDataSections walks the chained method data sections, decoding
// exception-handler clauses in both the small and fat layouts.
func parseDataSections(r *reader, m *cil.Method) error {
	for {
		kind, err := r.u8()
		if err != nil {
			return err
		}

		if kind&sectFatFormat != 0 {
			// Fat section: 3-byte data size follows, clauses are 24 bytes.
			b0, err := r.u8()
			if err != nil {
				return err
			}
			b1, err := r.u8()
			if err != nil {
				return err
			}
			b2, err := r.u8()
			if err != nil {
				return err
			}
			dataSize := uint32(b0) | uint32(b1)<<8 | uint32(b2)<<16
			if kind&sectEHTable != 0 {
				n := (int(dataSize) - 4) / 24
				for i := 0; i < n; i++ {
					var h cil.ExceptionHandler
					if h.Kind, err = r.u32(); err != nil {
						return err
					}
					if h.TryOffset, err = r.u32(); err != nil {
						return err
					}
					if h.TryLength, err = r.u32(); err != nil {
						return err
					}
					if h.HandlerOffset, err = r.u32(); err != nil {
						return err
					}
					if h.HandlerLength, err = r.u32(); err != nil {
						return err
					}
					tok, err := r.u32()
					if err != nil {
						return err
					}
					setHandlerExtra(&h, tok)
					m.Handlers = append(m.Handlers, h)
				}
			} else {
				if err := r.skip(int(dataSize) - 4); err != nil {
					return err
				}
			}
		} else {
			// Small section: 1-byte data size, 2 reserved bytes, 12-byte clauses.
			dataSize, err := r.u8()
			if err != nil {
				return err
			}
			if err := r.skip(2); err != nil {
				return err
			}
			if kind&sectEHTable != 0 {
				n := (int(dataSize) - 4) / 12
				for i := 0; i < n; i++ {
					var h cil.ExceptionHandler
					flags, err := r.u16()
					if err != nil {
						return err
					}
					h.Kind = uint32(flags)
					tryOff, err := r.u16()
					if err != nil {
						return err
					}
					tryLen, err := r.u8()
					if err != nil {
						return err
					}
					hOff, err := r.u16()
					if err != nil {
						return err
					}
					hLen, err := r.u8()
					if err != nil {
						return err
					}
					tok, err := r.u32()
					if err != nil {
						return err
					}
					h.TryOffset = uint32(tryOff)
					h.TryLength = uint32(tryLen)
					h.HandlerOffset = uint32(hOff)
					h.HandlerLength = uint32(hLen)
					setHandlerExtra(&h, tok)
					m.Handlers = append(m.Handlers, h)
				}
			} else {
				if err := r.skip(int(dataSize) - 4); err != nil {
					return err
				}
			}
		}

		if kind&sectMoreSects == 0 {
			return nil
		}
		if err := r.align(4); err != nil {
			return err
		}
	}
}

func setHandlerExtra(h *cil.ExceptionHandler, tok uint32) {
	switch h.Kind {
	case cil.EhCatch:
		h.ClassToken = tok
	case cil.EhFilter:
		h.FilterOffset = tok
	}
}
