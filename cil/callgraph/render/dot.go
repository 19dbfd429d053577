// Package render emits a Graphviz DOT view of an assembly callgraph.
// Control flow graphs go through lattice/render directly; the callgraph
// view is local because node styling keys on CIL naming: Main entry
// points and compiler-generated <...> members.
package render

import (
	"fmt"
	"strings"

	"github.com/zboralski/lattice"
	latrender "github.com/zboralski/lattice/render"
)

// Ink on paper, one accent per node role.
const (
	ink    = "#1F2430"
	paper  = "#FBFBF8"
	accent = "#0B5FA5" // entry methods
	extern = "#B3322E" // unresolved external callees
	muted  = "#8A8F98"
)

// isEntry reports whether a method name is an assembly entry point.
func isEntry(name string) bool {
	return name == "Main" || strings.HasSuffix(name, ".Main")
}

// isGenerated reports whether a method name was synthesized by the
// compiler: lambda bodies, closure classes, iterator state machines.
func isGenerated(name string) bool {
	return strings.Contains(name, "<")
}

// DOT renders a callgraph as a left-to-right Graphviz digraph. Methods
// defined in the assembly are boxes; callees it does not define are
// declared as plaintext nodes when first referenced.
func DOT(g *lattice.Graph, title string) string {
	var b strings.Builder
	b.WriteString("digraph callgraph {\n")
	b.WriteString("  rankdir=LR;\n  nodesep=0.4;\n  ranksep=0.7;\n")
	fmt.Fprintf(&b, "  bgcolor=%q;\n", paper)
	fmt.Fprintf(&b, "  node [shape=box, fontname=\"Helvetica\", fontsize=10, color=%q, fontcolor=%q];\n", ink, ink)
	fmt.Fprintf(&b, "  edge [fontname=\"Helvetica\", fontsize=8, color=%q, arrowsize=0.6];\n", muted)
	if title != "" {
		fmt.Fprintf(&b, "  labelloc=t;\n  label=%q;\n  fontsize=10;\n", title)
	}
	b.WriteByte('\n')

	internal := make(map[string]bool, len(g.Nodes))
	for _, n := range g.Nodes {
		internal[n] = true
	}

	for _, n := range g.Nodes {
		b.WriteString("  " + methodNode(n) + "\n")
	}
	b.WriteByte('\n')

	declared := make(map[string]bool)
	for _, e := range g.Edges {
		if !internal[e.Callee] && !declared[e.Callee] {
			declared[e.Callee] = true
			b.WriteString("  " + externNode(e.Callee) + "\n")
		}
		b.WriteString("  " + edge(e, internal[e.Callee]) + "\n")
	}

	b.WriteString("}\n")
	return b.String()
}

// methodNode declares a method the assembly defines.
func methodNode(name string) string {
	id := latrender.DotID(name)
	switch {
	case isEntry(name):
		return fmt.Sprintf("%s [label=%q, style=filled, fillcolor=%q, fontcolor=\"white\"];", id, name, accent)
	case isGenerated(name):
		return fmt.Sprintf("%s [label=%q, style=dashed, color=%q, fontcolor=%q];", id, name, muted, muted)
	}
	return fmt.Sprintf("%s [label=%q];", id, name)
}

// externNode declares a callee the assembly does not define. All-caps
// names read as platform intrinsics and stay muted; the rest carry the
// extern accent.
func externNode(name string) string {
	color := extern
	if latrender.IsAllCaps(name) {
		color = muted
	}
	return fmt.Sprintf("%s [label=%q, shape=plaintext, fontcolor=%q];", latrender.DotID(name), name, color)
}

// edge renders one call edge with its captured literal arguments.
func edge(e lattice.Edge, internalCallee bool) string {
	var attrs []string
	if len(e.Args) > 0 {
		attrs = append(attrs, fmt.Sprintf("label=%q", "("+strings.Join(e.Args, ", ")+")"))
	}
	if !internalCallee {
		if latrender.IsAllCaps(e.Callee) {
			attrs = append(attrs, "style=dotted", fmt.Sprintf("color=%q", muted))
		} else {
			attrs = append(attrs, "style=dashed", fmt.Sprintf("color=%q", extern))
		}
	}
	line := fmt.Sprintf("%s -> %s", latrender.DotID(e.Caller), latrender.DotID(e.Callee))
	if len(attrs) > 0 {
		line += " [" + strings.Join(attrs, ", ") + "]"
	}
	return line + ";"
}
