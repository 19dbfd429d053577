package render

import (
	"strings"
	"testing"

	"github.com/zboralski/lattice"
)

func testGraph() *lattice.Graph {
	return &lattice.Graph{
		Nodes: []string{"Program.Main", "Program.Helper", "Program.<Main>b__0_0"},
		Edges: []lattice.Edge{
			{Caller: "Program.Main", Callee: "Program.Helper"},
			{Caller: "Program.Helper", Callee: "Console.WriteLine", Args: []string{`"hi"`, "1"}},
			{Caller: "Program.Helper", Callee: "GC_COLLECT"},
		},
	}
}

func TestDOTEntryHighlight(t *testing.T) {
	out := DOT(testGraph(), "prog.dll")
	var mainLine string
	for _, line := range strings.Split(out, "\n") {
		if strings.Contains(line, `"Program.Main"`) && strings.Contains(line, "label=") {
			mainLine = line
			break
		}
	}
	if mainLine == "" {
		t.Fatalf("no node declaration for Program.Main:\n%s", out)
	}
	if !strings.Contains(mainLine, "style=filled") {
		t.Errorf("entry node not filled: %s", mainLine)
	}
}

func TestDOTGeneratedDashed(t *testing.T) {
	out := DOT(testGraph(), "")
	for _, line := range strings.Split(out, "\n") {
		if strings.Contains(line, "<Main>b__0_0") {
			if !strings.Contains(line, "style=dashed") {
				t.Errorf("compiler-generated node not dashed: %s", line)
			}
			return
		}
	}
	t.Fatalf("no node declaration for generated method:\n%s", out)
}

func TestDOTExternalCallee(t *testing.T) {
	out := DOT(testGraph(), "")
	if !strings.Contains(out, "shape=plaintext") {
		t.Errorf("external callee not declared plaintext:\n%s", out)
	}
	// Console.WriteLine is extern but not all-caps: dashed edge.
	if !strings.Contains(out, "style=dashed") {
		t.Errorf("expected dashed edge to external callee:\n%s", out)
	}
	// GC_COLLECT reads as an intrinsic: dotted edge.
	if !strings.Contains(out, "style=dotted") {
		t.Errorf("expected dotted edge to all-caps callee:\n%s", out)
	}
}

func TestDOTArgsLabel(t *testing.T) {
	out := DOT(testGraph(), "")
	if !strings.Contains(out, `(\"hi\", 1)`) {
		t.Errorf("edge label missing captured args:\n%s", out)
	}
}

func TestDOTTitle(t *testing.T) {
	out := DOT(&lattice.Graph{}, "prog.dll")
	if !strings.Contains(out, `label="prog.dll"`) {
		t.Errorf("title not rendered:\n%s", out)
	}
	if DOT(&lattice.Graph{}, "") == out {
		t.Error("title should change output")
	}
}
