package callgraph

import (
	"fmt"

	"github.com/zboralski/cil-dumper/cil"
	"github.com/zboralski/cil-dumper/cil/bytecode"
	"github.com/zboralski/lattice"
)

// builder holds internal state for graph construction.
type builder struct {
	graph *lattice.Graph
	asm   *cil.Assembly
}

// Build constructs a callgraph from a decoded assembly. One node per
// method, one edge per distinct call target observed in its body.
func Build(asm *cil.Assembly) *lattice.Graph {
	b := &builder{
		graph: &lattice.Graph{},
		asm:   asm,
	}
	for _, m := range asm.Methods {
		b.walkMethod(m)
	}
	b.graph.Dedup()
	return b.graph
}

// callInfo pairs a callee name with observed literal arguments.
type callInfo struct {
	callee string
	args   []string
}

func (b *builder) walkMethod(m *cil.Method) {
	name := m.Display()
	b.graph.Nodes = append(b.graph.Nodes, name)

	for _, ci := range scanCalls(m.Body, b.asm) {
		b.graph.Edges = append(b.graph.Edges, lattice.Edge{Caller: name, Callee: ci.callee, Args: ci.args})
	}
}

// isCallOp reports whether the named opcode transfers control to a method
// token, or loads one as a delegate target.
func isCallOp(name string) bool {
	switch name {
	case "call", "callvirt", "newobj", "jmp", "ldftn", "ldvirtftn":
		return true
	}
	return false
}

// scanCalls finds call targets and their literal arguments by scanning a
// method body. Undecodable bytes are skipped one at a time so a single bad
// region does not hide calls later in the body.
func scanCalls(bc []byte, asm *cil.Assembly) []callInfo {
	var calls []callInfo
	seen := map[string]bool{}

	// Track recently pushed literals for arg capture.
	var litBuf []string

	off := 0
	for off < len(bc) {
		op, opLen, err := bytecode.Lookup(bc, off)
		if err != nil {
			off++
			continue
		}
		operand, n, err := bytecode.ReadOperand(op.Kind, bc, off+opLen)
		if err != nil {
			break
		}

		switch {
		case isCallOp(op.Name):
			callee := calleeName(operand.Token, asm)
			if !seen[callee] {
				seen[callee] = true
				calls = append(calls, callInfo{callee: callee, args: cloneLits(litBuf)})
			}
			litBuf = litBuf[:0]

		default:
			litBuf = scanLiteral(litBuf, op, operand, asm)
		}

		off += opLen + n
	}

	return calls
}

// scanLiteral appends a rendered literal to buf when op pushes one.
func scanLiteral(buf []string, op *bytecode.OpInfo, operand bytecode.Operand, asm *cil.Assembly) []string {
	switch op.Name {
	case "ldstr":
		if s, ok := asm.UserStrings[operand.Token&0xFFFFFF]; ok {
			if len(s) > 24 {
				s = s[:24] + "…"
			}
			return appendLit(buf, "\""+s+"\"")
		}
	case "ldc.i4.m1":
		return appendLit(buf, "-1")
	case "ldc.i4.0", "ldc.i4.1", "ldc.i4.2", "ldc.i4.3", "ldc.i4.4",
		"ldc.i4.5", "ldc.i4.6", "ldc.i4.7", "ldc.i4.8":
		return appendLit(buf, op.Name[len(op.Name)-1:])
	case "ldc.i4.s", "ldc.i4", "ldc.i8":
		return appendLit(buf, fmt.Sprintf("%d", operand.Int))
	case "ldc.r4", "ldc.r8":
		return appendLit(buf, fmt.Sprintf("%g", operand.Float))
	case "ldnull":
		return appendLit(buf, "null")
	}
	return buf
}

// calleeName resolves a method token to a display name, falling back to the
// raw token when metadata has no row for it.
func calleeName(tok uint32, asm *cil.Assembly) string {
	if name, ok := asm.MethodName(tok); ok {
		return name
	}
	return fmt.Sprintf("0x%08X", tok)
}

// appendLit adds a literal to the buffer, capped at 6.
func appendLit(buf []string, lit string) []string {
	if len(buf) >= 6 {
		return buf
	}
	return append(buf, lit)
}

// cloneLits returns a copy of the literal buffer, or nil if empty.
func cloneLits(buf []string) []string {
	if len(buf) == 0 {
		return nil
	}
	cp := make([]string, len(buf))
	copy(cp, buf)
	return cp
}
