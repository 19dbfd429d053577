package callgraph

import (
	"testing"

	"github.com/zboralski/cil-dumper/cil"
)

func testAssembly(body []byte) *cil.Assembly {
	asm := &cil.Assembly{
		Module: "T.dll",
		UserStrings: map[uint32]string{
			1: "hello",
		},
		MemberRefs: map[uint32]string{
			0x0A000001: "Console.WriteLine",
			0x0A000002: "Cfg.Mode",
		},
	}
	asm.Methods = []*cil.Method{{
		Name:  "Main",
		Owner: "Program",
		Token: 0x06000001,
		Body:  body,
	}}
	return asm
}

func TestBuildCallEdge(t *testing.T) {
	// ldstr "hello"; call Console.WriteLine; ret
	body := []byte{
		0x72, 0x01, 0x00, 0x00, 0x70,
		0x28, 0x01, 0x00, 0x00, 0x0A,
		0x2A,
	}
	g := Build(testAssembly(body))

	if len(g.Nodes) != 1 || g.Nodes[0] != "Program.Main" {
		t.Errorf("nodes = %v", g.Nodes)
	}
	if len(g.Edges) != 1 {
		t.Fatalf("edges = %+v", g.Edges)
	}
	e := g.Edges[0]
	if e.Caller != "Program.Main" || e.Callee != "Console.WriteLine" {
		t.Errorf("edge = %+v", e)
	}
	if len(e.Args) != 1 || e.Args[0] != "\"hello\"" {
		t.Errorf("args = %v", e.Args)
	}
}

func TestBuildUnresolvedCallee(t *testing.T) {
	// call with a token metadata has no row for
	body := []byte{0x28, 0x99, 0x00, 0x00, 0x0A, 0x2A}
	g := Build(testAssembly(body))
	if len(g.Edges) != 1 || g.Edges[0].Callee != "0x0A000099" {
		t.Errorf("edges = %+v", g.Edges)
	}
}

func TestBuildSkipsUnknownBytes(t *testing.T) {
	// Undecodable byte before the call must not hide it.
	body := []byte{
		0x24,
		0x28, 0x01, 0x00, 0x00, 0x0A,
		0x2A,
	}
	g := Build(testAssembly(body))
	if len(g.Edges) != 1 || g.Edges[0].Callee != "Console.WriteLine" {
		t.Errorf("edges = %+v", g.Edges)
	}
}

func TestBuildLiteralArgs(t *testing.T) {
	// ldc.i4.s 42; ldnull; call; ret
	body := []byte{
		0x1F, 0x2A,
		0x14,
		0x28, 0x01, 0x00, 0x00, 0x0A,
		0x2A,
	}
	g := Build(testAssembly(body))
	if len(g.Edges) != 1 {
		t.Fatalf("edges = %+v", g.Edges)
	}
	args := g.Edges[0].Args
	if len(args) != 2 || args[0] != "42" || args[1] != "null" {
		t.Errorf("args = %v", args)
	}
}

func TestFuncCFGConditional(t *testing.T) {
	// ldc.i4.0; brtrue.s +1; ret; ret
	body := []byte{
		0x16,
		0x2D, 0x01,
		0x2A,
		0x2A,
	}
	asm := testAssembly(body)
	cfg := BuildFuncCFG(asm.Methods[0], asm)

	if cfg.Name != "Program.Main" {
		t.Errorf("name = %q", cfg.Name)
	}
	if len(cfg.Blocks) != 3 {
		t.Fatalf("blocks = %+v", cfg.Blocks)
	}
	b0 := cfg.Blocks[0]
	if !b0.Term || len(b0.Succs) != 2 {
		t.Fatalf("block 0 = %+v", b0)
	}
	if b0.Succs[0].BlockID != 1 || b0.Succs[0].Cond != "F" {
		t.Errorf("fallthrough succ = %+v", b0.Succs[0])
	}
	if b0.Succs[1].BlockID != 2 || b0.Succs[1].Cond != "T" {
		t.Errorf("taken succ = %+v", b0.Succs[1])
	}
	for _, b := range cfg.Blocks[1:] {
		if !b.Term || len(b.Succs) != 0 {
			t.Errorf("ret block = %+v", b)
		}
	}
}

func TestFuncCFGSwitch(t *testing.T) {
	// switch (IL_000E, IL_000D); ret; ret
	body := []byte{
		0x45, 0x02, 0x00, 0x00, 0x00,
		0x01, 0x00, 0x00, 0x00,
		0x00, 0x00, 0x00, 0x00,
		0x2A,
		0x2A,
	}
	asm := testAssembly(body)
	cfg := BuildFuncCFG(asm.Methods[0], asm)
	if len(cfg.Blocks) != 3 {
		t.Fatalf("blocks = %+v", cfg.Blocks)
	}
	b0 := cfg.Blocks[0]
	if len(b0.Succs) != 3 {
		t.Fatalf("switch succs = %+v", b0.Succs)
	}
	// Fallthrough to block 1 (offset 13), then targets 14 and 13.
	want := []int{1, 2, 1}
	for i, s := range b0.Succs {
		if s.BlockID != want[i] {
			t.Errorf("succ %d = %+v, want block %d", i, s, want[i])
		}
	}
}

func TestFuncCFGFieldCompare(t *testing.T) {
	// ldsfld Cfg.Mode; ldc.i4.5; ceq; ret
	body := []byte{
		0x7E, 0x02, 0x00, 0x00, 0x0A,
		0x1B,
		0xFE, 0x01,
		0x2A,
	}
	asm := testAssembly(body)
	cfg := BuildFuncCFG(asm.Methods[0], asm)
	if len(cfg.Blocks) != 1 {
		t.Fatalf("blocks = %+v", cfg.Blocks)
	}
	props := cfg.Blocks[0].Props
	if len(props) != 1 || props[0].Name != "Cfg.Mode == 5" {
		t.Errorf("props = %+v", props)
	}
}

func TestFuncCFGEmptyBody(t *testing.T) {
	asm := testAssembly(nil)
	cfg := BuildFuncCFG(asm.Methods[0], asm)
	if len(cfg.Blocks) != 1 || cfg.Blocks[0].ID != 0 {
		t.Errorf("blocks = %+v", cfg.Blocks)
	}
}

func TestBuildCFGAllMethods(t *testing.T) {
	asm := testAssembly([]byte{0x2A})
	asm.Methods = append(asm.Methods, &cil.Method{
		Name: "Helper", Owner: "Program", Token: 0x06000002, Body: []byte{0x2A},
	})
	g := BuildCFG(asm)
	if len(g.Funcs) != 2 {
		t.Fatalf("funcs = %+v", g.Funcs)
	}
	if g.Funcs[1].Name != "Program.Helper" {
		t.Errorf("func 1 name = %q", g.Funcs[1].Name)
	}
}
