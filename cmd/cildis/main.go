package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/zboralski/cil-dumper/cil"
	"github.com/zboralski/cil-dumper/cil/callgraph"
	"github.com/zboralski/cil-dumper/cil/callgraph/render"
	"github.com/zboralski/cil-dumper/cil/decompile"
	"github.com/zboralski/cil-dumper/cil/disasm"
	"github.com/zboralski/cil-dumper/cil/pefile"
	latrender "github.com/zboralski/lattice/render"
)

func printDiag(d cil.Diagnostic) {
	if d.Method != "" {
		fmt.Fprintf(os.Stderr, "diag [%s] %s @0x%x: %s\n", d.Kind, d.Method, d.Offset, d.Msg)
	} else {
		fmt.Fprintf(os.Stderr, "diag [%s] @0x%x: %s\n", d.Kind, d.Offset, d.Msg)
	}
}

func main() {
	decompileFlag := flag.Bool("decompile", false, "decompile disassembly via LLM")
	callgraphFlag := flag.Bool("callgraph", false, "generate callgraph SVG")
	cfgFlag := flag.Bool("controlflow", false, "generate control flow graph SVG")
	backend := flag.String("backend", "claude-code", "LLM backend: claude-code, codex")
	model := flag.String("model", "", "model name (backend-specific)")
	modeName := flag.String("mode", "strict", "decode mode: strict, besteffort")
	maxMethodBytes := flag.Int("max-method-bytes", 0, "max bytes for a single method body (0 uses default)")
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "usage: cildis [flags] <assembly.dll|exe>\n\nFlags:\n")
		flag.PrintDefaults()
	}
	flag.Parse()

	if flag.NArg() < 1 {
		flag.Usage()
		os.Exit(2)
	}

	var opt cil.Options
	switch *modeName {
	case "strict":
		opt = cil.DefaultOptions()
	case "besteffort":
		opt = cil.Options{Mode: cil.BestEffort}
	default:
		fmt.Fprintf(os.Stderr, "error: unknown mode %q (use strict or besteffort)\n", *modeName)
		os.Exit(2)
	}
	opt.MaxMethodBytes = *maxMethodBytes

	path := flag.Arg(0)
	res, err := pefile.Open(path, opt)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	for _, d := range res.Diags {
		printDiag(d)
	}

	ext := filepath.Ext(path)
	base := strings.TrimSuffix(path, ext)

	// Callgraph mode
	if *callgraphFlag {
		dotPath, err := exec.LookPath("dot")
		if err != nil {
			fmt.Fprintf(os.Stderr, "error: graphviz not found (install with: brew install graphviz)\n")
			os.Exit(1)
		}

		g := callgraph.Build(res.Value)
		title := filepath.Base(path)
		if res.Value.Module != "" {
			title = res.Value.Module
		}
		dot := render.DOT(g, title)

		// Write .dot file
		dotFile := base + ".dot"
		if err := os.WriteFile(dotFile, []byte(dot), 0644); err != nil {
			fmt.Fprintf(os.Stderr, "warning: could not write %s: %v\n", dotFile, err)
		}

		// Run dot to generate SVG and PNG
		for _, ext := range []string{"svg", "png"} {
			outFile := base + "." + ext
			args := []string{"-T" + ext, "-o", outFile, dotFile}
			if ext == "png" {
				args = []string{"-T" + ext, "-Gdpi=200", "-o", outFile, dotFile}
			}
			cmd := exec.Command(dotPath, args...)
			cmd.Stderr = os.Stderr
			if err := cmd.Run(); err != nil {
				fmt.Fprintf(os.Stderr, "error: dot -T%s failed: %v\n", ext, err)
				os.Exit(1)
			}
			fmt.Fprintf(os.Stderr, "wrote %s\n", outFile)
		}
		fmt.Fprintf(os.Stderr, "wrote %s\n", dotFile)
		return
	}

	// CFG mode
	if *cfgFlag {
		dotPath, err := exec.LookPath("dot")
		if err != nil {
			fmt.Fprintf(os.Stderr, "error: graphviz not found (install with: brew install graphviz)\n")
			os.Exit(1)
		}

		g := callgraph.BuildCFG(res.Value)
		title := filepath.Base(path)
		if res.Value.Module != "" {
			title = res.Value.Module
		}
		dot := latrender.DOTCFG(g, title)

		dotFile := base + ".cfg.dot"
		if err := os.WriteFile(dotFile, []byte(dot), 0644); err != nil {
			fmt.Fprintf(os.Stderr, "warning: could not write %s: %v\n", dotFile, err)
		}

		for _, ext := range []string{"svg", "png"} {
			outFile := base + ".cfg." + ext
			args := []string{"-T" + ext, "-o", outFile, dotFile}
			if ext == "png" {
				args = []string{"-T" + ext, "-Gdpi=200", "-o", outFile, dotFile}
			}
			cmd := exec.Command(dotPath, args...)
			cmd.Stderr = os.Stderr
			if err := cmd.Run(); err != nil {
				fmt.Fprintf(os.Stderr, "error: dot -T%s failed: %v\n", ext, err)
				os.Exit(1)
			}
			fmt.Fprintf(os.Stderr, "wrote %s\n", outFile)
		}
		fmt.Fprintf(os.Stderr, "wrote %s\n", dotFile)
		return
	}

	disRes, err := disasm.ListAssembly(res.Value, opt)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	for _, d := range disRes.Diags {
		printDiag(d)
	}

	out := disRes.Value
	fmt.Print(out)

	// Write .il file alongside input
	ilPath := base + ".il"
	if err := os.WriteFile(ilPath, []byte(out), 0644); err != nil {
		fmt.Fprintf(os.Stderr, "warning: could not write %s: %v\n", ilPath, err)
	}

	// Optional LLM decompilation
	if *decompileFlag {
		cfg := decompile.DefaultConfig()
		cfg.Backend = *backend
		cfg.Model = *model

		name := filepath.Base(base)

		cs, err := decompile.Decompile(context.Background(), cfg, out, name)
		if err != nil {
			fmt.Fprintf(os.Stderr, "decompile error: %v\n", err)
			os.Exit(1)
		}

		fmt.Println(cs)

		// Write .cs file alongside input, include backend in name
		suffix := strings.ReplaceAll(cfg.Backend, "-", "")
		csPath := base + "-" + suffix + ".cs"
		if err := os.WriteFile(csPath, []byte(cs+"\n"), 0644); err != nil {
			fmt.Fprintf(os.Stderr, "warning: could not write %s: %v\n", csPath, err)
		} else {
			fmt.Fprintf(os.Stderr, "wrote %s\n", csPath)
		}
	}
}
