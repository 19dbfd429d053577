package callgraph

import (
	"sort"
	"strings"

	"github.com/zboralski/cil-dumper/cil"
	"github.com/zboralski/cil-dumper/cil/bytecode"
	"github.com/zboralski/lattice"
)

// BuildCFG constructs a control flow graph covering every method in the
// assembly, one FuncCFG per method.
func BuildCFG(asm *cil.Assembly) *lattice.CFGGraph {
	g := &lattice.CFGGraph{}
	for _, m := range asm.Methods {
		g.Funcs = append(g.Funcs, BuildFuncCFG(m, asm))
	}
	return g
}

// isUncondBranch reports whether the named opcode always transfers control
// to its target.
func isUncondBranch(name string) bool {
	switch name {
	case "br", "br.s", "leave", "leave.s":
		return true
	}
	return false
}

// isExit reports whether the named opcode ends a block with no successor
// inside the method.
func isExit(name string) bool {
	switch name {
	case "ret", "throw", "rethrow", "endfinally", "endfilter", "jmp":
		return true
	}
	return false
}

// condOnTaken returns the condition label carried by the taken edge of a
// conditional branch, or "" if the opcode is not one.
func condOnTaken(name string) string {
	switch name {
	case "brtrue", "brtrue.s":
		return "T"
	case "brfalse", "brfalse.s":
		return "F"
	case "beq", "beq.s", "bge", "bge.s", "bgt", "bgt.s", "ble", "ble.s",
		"blt", "blt.s", "bne.un", "bne.un.s", "bge.un", "bge.un.s",
		"bgt.un", "bgt.un.s", "ble.un", "ble.un.s", "blt.un", "blt.un.s":
		return "T"
	}
	return ""
}

// cmpSymbol maps a comparison opcode to its operator, or "".
func cmpSymbol(name string) string {
	switch name {
	case "ceq":
		return "=="
	case "cgt", "cgt.un":
		return ">"
	case "clt", "clt.un":
		return "<"
	}
	return ""
}

// isFieldLoad reports whether the named opcode reads a field or its address.
func isFieldLoad(name string) bool {
	switch name {
	case "ldfld", "ldsfld", "ldflda", "ldsflda":
		return true
	}
	return false
}

// BuildFuncCFG splits a method body into basic blocks and annotates calls,
// field accesses and successors.
func BuildFuncCFG(m *cil.Method, asm *cil.Assembly) *lattice.FuncCFG {
	bc := m.Body
	name := m.Display()
	if len(bc) == 0 {
		return &lattice.FuncCFG{Name: name, Blocks: []*lattice.BasicBlock{{ID: 0}}}
	}

	// 1. Collect block boundary offsets
	blockStarts := map[int]bool{0: true}
	for label := range bytecode.CollectLabels(bc) {
		if label >= 0 && label < len(bc) {
			blockStarts[label] = true
		}
	}

	// Instructions after branches and exits also start blocks
	off := 0
	for off < len(bc) {
		op, opLen, err := bytecode.Lookup(bc, off)
		if err != nil {
			// Unknown byte — step over it and keep discovering blocks
			off++
			continue
		}
		_, n, err := bytecode.ReadOperand(op.Kind, bc, off+opLen)
		if err != nil {
			break
		}
		switch op.Kind {
		case bytecode.ShortInlineBrTarget, bytecode.InlineBrTarget, bytecode.InlineSwitch:
			if next := off + opLen + n; next < len(bc) {
				blockStarts[next] = true
			}
		default:
			if isExit(op.Name) {
				if next := off + opLen + n; next < len(bc) {
					blockStarts[next] = true
				}
			}
		}
		off += opLen + n
	}

	// 2. Sort starts, build blocks
	starts := make([]int, 0, len(blockStarts))
	for s := range blockStarts {
		starts = append(starts, s)
	}
	sort.Ints(starts)

	offsetToBlock := map[int]int{} // offset → block index
	blocks := make([]*lattice.BasicBlock, len(starts))
	for i, start := range starts {
		end := len(bc)
		if i+1 < len(starts) {
			end = starts[i+1]
		}
		blocks[i] = &lattice.BasicBlock{ID: i, Start: start, End: end}
		offsetToBlock[start] = i
	}

	succ := func(block *lattice.BasicBlock, target int, cond string) {
		if bid, ok := offsetToBlock[target]; ok {
			block.Succs = append(block.Succs, lattice.Successor{BlockID: bid, Cond: cond})
		}
	}

	// 3. Walk each block: find calls, field accesses, and successors
	for _, block := range blocks {
		off := block.Start
		var litBuf []string
		var fieldChain []string

		for off < block.End {
			op, opLen, err := bytecode.Lookup(bc, off)
			if err != nil {
				// Unlike block discovery, stepping a single byte here risks
				// reading mid-instruction bytes as opcodes and corrupting
				// the call and successor analysis, so stop the block.
				break
			}
			operand, n, err := bytecode.ReadOperand(op.Kind, bc, off+opLen)
			if err != nil {
				break
			}
			next := off + opLen + n

			switch {
			case isCallOp(op.Name):
				block.Calls = append(block.Calls, lattice.CallSite{
					Offset: off, Callee: calleeName(operand.Token, asm), Args: cloneLits(litBuf),
				})
				litBuf = litBuf[:0]
				fieldChain = fieldChain[:0]
				if op.Name == "jmp" {
					block.Term = true
				}

			case isFieldLoad(op.Name):
				if fname, ok := asm.MethodName(operand.Token); ok {
					fieldChain = append(fieldChain, fname)
				}

			case cmpSymbol(op.Name) != "":
				if len(fieldChain) > 0 {
					label := strings.Join(fieldChain, ".")
					if len(litBuf) > 0 {
						label += " " + cmpSymbol(op.Name) + " " + litBuf[len(litBuf)-1]
					}
					block.Props = append(block.Props, lattice.PropAccess{Name: label})
					fieldChain = fieldChain[:0]
					litBuf = litBuf[:0]
				}

			case isUncondBranch(op.Name):
				succ(block, next+int(operand.Int), "")
				block.Term = true

			case condOnTaken(op.Name) != "":
				taken := condOnTaken(op.Name)
				fall := "F"
				if taken == "F" {
					fall = "T"
				}
				succ(block, next, fall)
				succ(block, next+int(operand.Int), taken)
				block.Term = true

			case op.Kind == bytecode.InlineSwitch:
				succ(block, next, "")
				for _, d := range operand.Targets {
					succ(block, next+int(d), "")
				}
				block.Term = true

			case isExit(op.Name):
				block.Term = true

			default:
				litBuf = scanLiteral(litBuf, op, operand, asm)
			}

			off = next
		}

		// Flush a field chain not consumed by a call or comparison
		if len(fieldChain) > 0 {
			block.Props = append(block.Props, lattice.PropAccess{Name: strings.Join(fieldChain, ".")})
		}

		// Non-terminal blocks fall through to next block
		if !block.Term {
			succ(block, block.End, "")
		}
	}

	return &lattice.FuncCFG{Name: name, Blocks: blocks}
}
