package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/zboralski/cil-dumper/cil"
	"github.com/zboralski/cil-dumper/cil/disasm"
)

func printDiag(d cil.Diagnostic) {
	fmt.Fprintf(os.Stderr, "diag [%s] @0x%x: %s\n", d.Kind, d.Offset, d.Msg)
}

func main() {
	lengthsFlag := flag.Bool("lengths", false, "print an offset/length table instead of a listing")
	modeName := flag.String("mode", "strict", "decode mode: strict, besteffort")
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "usage: cilbody [flags] <body.bin>\n\nDisassembles a raw CIL method body with no PE or metadata wrapper.\n\nFlags:\n")
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

	path := flag.Arg(0)
	data, err := os.ReadFile(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	if *lengthsFlag {
		out, err := disasm.LengthTable(data)
		if err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			os.Exit(1)
		}
		fmt.Print(out)
		return
	}

	name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	m := &cil.Method{Name: name, Body: data, CodeSize: uint32(len(data))}
	res, err := disasm.ListMethod(m, nil, false, opt)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	for _, d := range res.Diags {
		printDiag(d)
	}
	fmt.Print(res.Value)
}
