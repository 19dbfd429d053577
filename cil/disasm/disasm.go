package disasm

import (
	"fmt"
	"strings"

	"github.com/zboralski/cil-dumper/cil"
	"github.com/zboralski/cil-dumper/cil/bytecode"
)

const commentCol = 60

// ListMethod produces disassembly text for one method body with mode-aware
// error handling. asm supplies token and string resolution and may be nil
// for raw bodies.
func ListMethod(m *cil.Method, asm *cil.Assembly, header bool, opt cil.Options) (cil.Result[string], error) {
	var b strings.Builder
	var diags []cil.Diagnostic
	bc := m.Body
	labels := bytecode.CollectLabels(bc)
	maxSteps := opt.EffectiveMaxSteps()

	if header {
		writeHeader(&b, m)
	}

	off := 0
	first := true
	steps := 0
	for off < len(bc) {
		steps++
		if steps > maxSteps {
			if opt.Mode == cil.Strict {
				return cil.Result[string]{Value: b.String(), Diags: diags},
					fmt.Errorf("step limit %d exceeded at offset %d", maxSteps, off)
			}
			diags = append(diags, cil.Diagnostic{
				Offset: off,
				Kind:   "overflow",
				Msg:    fmt.Sprintf("step limit %d reached, truncating", maxSteps),
			})
			break
		}

		in, err := decodeAt(bc, off)
		if err != nil {
			if opt.Mode == cil.Strict {
				return cil.Result[string]{Value: b.String(), Diags: diags}, err
			}
			// Emit placeholder and advance 1 byte.
			diags = append(diags, cil.Diagnostic{
				Offset: off,
				Kind:   diagKind(err),
				Msg:    err.Error(),
			})
			addr := fmt.Sprintf("IL_%04X:", off)
			b.WriteString(addr)
			b.WriteString("  ")
			name := fmt.Sprintf("%-16s", fmt.Sprintf("OP_0x%02X", bc[off]))
			b.WriteString(name)
			pad := commentCol - len(addr) - 2 - len(name)
			if pad < 1 {
				pad = 1
			}
			b.WriteString(strings.Repeat(" ", pad))
			fmt.Fprintf(&b, "; %s\n", diagKind(err))
			off++
			first = false
			continue
		}

		// Label line
		if _, isLabel := labels[off]; isLabel {
			if !first {
				b.WriteByte('\n')
			}
			line := fmt.Sprintf("IL_%04X:", off)
			pad := commentCol - len(line)
			if pad < 1 {
				pad = 1
			}
			b.WriteString(line)
			b.WriteString(strings.Repeat(" ", pad))
			fmt.Fprintf(&b, "; L%d\n", off)
		}

		// Instruction line
		col := 0
		addr := fmt.Sprintf("IL_%04X:", off)
		b.WriteString(addr)
		col += len(addr)

		b.WriteString("  ")
		col += 2

		name := fmt.Sprintf("%-16s", in.Op.Name)
		b.WriteString(name)
		col += len(name)

		operand, comment := renderOperand(in, asm)
		b.WriteString(operand)
		col += len(operand)

		pad := commentCol - col
		if pad < 1 {
			pad = 1
		}
		b.WriteString(strings.Repeat(" ", pad))

		if comment != "" {
			fmt.Fprintf(&b, "; %s", comment)
		}
		b.WriteByte('\n')

		first = false
		off += in.Len
	}

	return cil.Result[string]{Value: b.String(), Diags: diags}, nil
}

// decodeAt decodes the single instruction at bc[off], keeping error offsets
// absolute within the body.
func decodeAt(bc []byte, off int) (bytecode.Instr, error) {
	info, opLen, err := bytecode.Lookup(bc, off)
	if err != nil {
		return bytecode.Instr{}, err
	}
	operand, n, err := bytecode.ReadOperand(info.Kind, bc, off+opLen)
	if err != nil {
		return bytecode.Instr{}, err
	}
	return bytecode.Instr{
		Offset:  off,
		Op:      info,
		OpLen:   opLen,
		Operand: operand,
		Len:     opLen + n,
	}, nil
}

// diagKind maps a decode error to a diagnostic kind string.
func diagKind(err error) string {
	switch err.(type) {
	case *bytecode.UnknownOpcodeError:
		return "unknown_opcode"
	case *bytecode.TruncatedError:
		return "truncated"
	case *bytecode.MisalignedError:
		return "misaligned"
	default:
		return "invalid"
	}
}

// renderOperand formats the operand column and an optional comment.
func renderOperand(in bytecode.Instr, asm *cil.Assembly) (operand, comment string) {
	op := in.Operand
	switch op.Kind {
	case bytecode.InlineNone:
		return "", ""

	case bytecode.ShortInlineBrTarget, bytecode.InlineBrTarget:
		tgt := in.Offset + in.Len + int(op.Int)
		return fmt.Sprintf(" IL_%04X (%+d)", tgt, op.Int), ""

	case bytecode.InlineSwitch:
		var sb strings.Builder
		sb.WriteString(" (")
		next := in.Offset + in.Len
		for i, d := range op.Targets {
			if i > 0 {
				sb.WriteString(", ")
			}
			fmt.Fprintf(&sb, "IL_%04X", next+int(d))
		}
		sb.WriteString(")")
		return sb.String(), fmt.Sprintf("%d targets", len(op.Targets))

	case bytecode.ShortInlineVar, bytecode.InlineVar:
		return fmt.Sprintf(" %d", op.Int), varComment(in.Op.Name, op.Int)

	case bytecode.ShortInlineI, bytecode.InlineI, bytecode.InlineI8:
		return fmt.Sprintf(" %d", op.Int), ""

	case bytecode.ShortInlineR, bytecode.InlineR:
		return fmt.Sprintf(" %g", op.Float), ""

	case bytecode.InlineString:
		if asm != nil && op.Token>>24 == 0x70 {
			if s, ok := asm.UserStrings[op.Token&0x00FFFFFF]; ok {
				return fmt.Sprintf(" %q", s), ""
			}
		}
		return fmt.Sprintf(" <string 0x%08x>", op.Token), ""

	case bytecode.InlineMethod:
		if asm != nil {
			if name, ok := asm.MethodName(op.Token); ok {
				return " " + name, fmt.Sprintf("0x%08x", op.Token)
			}
		}
		return fmt.Sprintf(" <method 0x%08x>", op.Token), ""

	case bytecode.InlineField:
		return fmt.Sprintf(" <field 0x%08x>", op.Token), ""

	case bytecode.InlineType:
		return fmt.Sprintf(" <type 0x%08x>", op.Token), ""

	case bytecode.InlineSig:
		return fmt.Sprintf(" <sig 0x%08x>", op.Token), ""

	case bytecode.InlineTok:
		return fmt.Sprintf(" <token 0x%08x>", op.Token), ""
	}
	return "", ""
}

// varComment annotates variable-index operands as args or locals.
func varComment(mnemonic string, idx int64) string {
	switch {
	case strings.HasPrefix(mnemonic, "ldarg") || strings.HasPrefix(mnemonic, "starg"):
		return fmt.Sprintf("arg[%d]", idx)
	case strings.HasPrefix(mnemonic, "ldloc") || strings.HasPrefix(mnemonic, "stloc"):
		return fmt.Sprintf("loc[%d]", idx)
	}
	return ""
}

// writeHeader emits the method banner with body header facts and handlers.
func writeHeader(b *strings.Builder, m *cil.Method) {
	name := m.Display()
	fmt.Fprintf(b, ".method %s\n", name)
	if !m.Tiny {
		fmt.Fprintf(b, "; maxstack %d, code size %d", m.MaxStack, m.CodeSize)
		if m.LocalVarSigTok != 0 {
			fmt.Fprintf(b, ", locals 0x%08x", m.LocalVarSigTok)
		}
		b.WriteByte('\n')
	}
	for _, h := range m.Handlers {
		kind := handlerKind(h.Kind)
		fmt.Fprintf(b, "; .try IL_%04X..IL_%04X %s IL_%04X..IL_%04X",
			h.TryOffset, h.TryOffset+h.TryLength, kind,
			h.HandlerOffset, h.HandlerOffset+h.HandlerLength)
		switch h.Kind {
		case cil.EhCatch:
			fmt.Fprintf(b, " class 0x%08x", h.ClassToken)
		case cil.EhFilter:
			fmt.Fprintf(b, " filter IL_%04X", h.FilterOffset)
		}
		b.WriteByte('\n')
	}
}

func handlerKind(k uint32) string {
	switch k {
	case cil.EhCatch:
		return "catch"
	case cil.EhFilter:
		return "filter"
	case cil.EhFinally:
		return "finally"
	case cil.EhFault:
		return "fault"
	default:
		return fmt.Sprintf("handler(0x%x)", k)
	}
}

// tagMethod sets the Method field on diagnostics that don't already have one.
func tagMethod(diags []cil.Diagnostic, name string) {
	for i := range diags {
		if diags[i].Method == "" {
			diags[i].Method = name
		}
	}
}

// ListAssembly produces disassembly for every method body in the assembly.
// In BestEffort mode a body that fails to decode becomes a diagnostic and
// listing continues with the next method.
func ListAssembly(asm *cil.Assembly, opt cil.Options) (cil.Result[string], error) {
	var b strings.Builder
	var allDiags []cil.Diagnostic

	if asm.Module != "" {
		fmt.Fprintf(&b, "; %s\n\n", asm.Module)
	}

	for _, m := range asm.Methods {
		name := m.Display()
		res, err := ListMethod(m, asm, true, opt)
		b.WriteString(res.Value)
		tagMethod(res.Diags, name)
		allDiags = append(allDiags, res.Diags...)
		if err != nil {
			if opt.Mode == cil.Strict {
				return cil.Result[string]{Value: b.String(), Diags: allDiags},
					fmt.Errorf("method %s: %w", name, err)
			}
			allDiags = append(allDiags, cil.Diagnostic{
				Kind:   "invalid",
				Method: name,
				Msg:    fmt.Sprintf("method %s failed to decode: %v", name, err),
			})
		}
		b.WriteByte('\n')
	}

	return cil.Result[string]{Value: b.String(), Diags: allDiags}, nil
}

// LengthTable renders the offset/length map for one raw body: one line per
// instruction with its offset, total length and mnemonic.
func LengthTable(bc []byte) (string, error) {
	entries, err := bytecode.ComputeLengths(bc)
	if err != nil {
		return "", err
	}
	var b strings.Builder
	b.WriteString("offset  len  op\n")
	b.WriteString("------  ---  --\n")
	for _, e := range entries {
		fmt.Fprintf(&b, "0x%04X  %3d  %s\n", e.Offset, e.Len, e.Op.Name)
	}
	return b.String(), nil
}
