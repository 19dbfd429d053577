package pefile

import (
	"bytes"
	"debug/pe"
	"fmt"
	"os"
	"strings"

	"github.com/zboralski/cil-dumper/cil"
)

// Metadata root signature "BSJB".
const metadataMagic = 0x424A5342

// Data directory slot of the CLI header.
const comDescriptorIndex = 14

// image maps RVAs to file offsets using the PE section table.
type image struct {
	data []byte
	secs []*pe.Section
}

func (im *image) offset(rva uint32) (int, error) {
	for _, s := range im.secs {
		if rva >= s.VirtualAddress && rva < s.VirtualAddress+s.Size {
			return int(s.Offset + (rva - s.VirtualAddress)), nil
		}
	}
	return 0, fmt.Errorf("rva 0x%08x not covered by any section", rva)
}

// slice returns the file bytes backing [rva, rva+size).
func (im *image) slice(rva, size uint32) ([]byte, error) {
	off, err := im.offset(rva)
	if err != nil {
		return nil, err
	}
	if off+int(size) > len(im.data) {
		return nil, fmt.Errorf("rva 0x%08x size %d overruns file", rva, size)
	}
	return im.data[off : off+int(size)], nil
}

// Open reads and decodes a .NET PE image from disk.
func Open(path string, opt cil.Options) (cil.Result[*cil.Assembly], error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return cil.Result[*cil.Assembly]{}, err
	}
	res, err := Decode(data, opt)
	if err != nil {
		return res, err
	}
	res.Value.Path = path
	return res, nil
}

// Decode parses a .NET PE image and extracts every method body together
// with the naming material needed to render operands. Container-level
// corruption is always fatal; per-method body corruption is fatal only in
// Strict mode.
func Decode(data []byte, opt cil.Options) (cil.Result[*cil.Assembly], error) {
	var diags []cil.Diagnostic

	pf, err := pe.NewFile(bytes.NewReader(data))
	if err != nil {
		return cil.Result[*cil.Assembly]{}, fmt.Errorf("parse PE: %w", err)
	}
	defer pf.Close()

	im := &image{data: data, secs: pf.Sections}

	clrRVA, clrSize, err := clrDirectory(pf)
	if err != nil {
		return cil.Result[*cil.Assembly]{}, err
	}
	if clrRVA == 0 || clrSize == 0 {
		return cil.Result[*cil.Assembly]{}, fmt.Errorf("not a CLI image: empty CLR data directory")
	}

	// CLI (cor20) header.
	cor, err := im.slice(clrRVA, clrSize)
	if err != nil {
		return cil.Result[*cil.Assembly]{}, fmt.Errorf("CLI header: %w", err)
	}
	cr := newReader(cor)
	if _, err := cr.u32(); err != nil { // cb
		return cil.Result[*cil.Assembly]{}, err
	}
	if err := cr.skip(4); err != nil { // runtime version
		return cil.Result[*cil.Assembly]{}, err
	}
	mdRVA, err := cr.u32()
	if err != nil {
		return cil.Result[*cil.Assembly]{}, err
	}
	mdSize, err := cr.u32()
	if err != nil {
		return cil.Result[*cil.Assembly]{}, err
	}

	md, err := im.slice(mdRVA, mdSize)
	if err != nil {
		return cil.Result[*cil.Assembly]{}, fmt.Errorf("metadata: %w", err)
	}

	streams, err := parseStreams(md)
	if err != nil {
		return cil.Result[*cil.Assembly]{}, err
	}

	tablesData := streams["#~"]
	if tablesData == nil {
		tablesData = streams["#-"]
	}
	if tablesData == nil {
		return cil.Result[*cil.Assembly]{}, fmt.Errorf("metadata: no #~ tables stream")
	}

	t, err := parseTables(tablesData, streams["#Strings"])
	if err != nil {
		return cil.Result[*cil.Assembly]{}, fmt.Errorf("metadata tables: %w", err)
	}

	asm := &cil.Assembly{
		Module:      t.moduleName,
		UserStrings: parseUserStrings(streams["#US"]),
		MemberRefs:  make(map[uint32]string),
	}

	for i, mr := range t.memberRefs {
		token := uint32(0x0A000000) | uint32(i+1)
		owner := t.memberRefOwner(mr.class)
		if owner == "" {
			asm.MemberRefs[token] = mr.name
		} else {
			asm.MemberRefs[token] = owner + "." + mr.name
		}
	}

	maxBody := opt.EffectiveMaxMethodBytes()
	for i, def := range t.methodDefs {
		row := uint32(i + 1)
		m := &cil.Method{
			Name:  def.name,
			Owner: t.methodOwner(row),
			Token: 0x06000000 | row,
			RVA:   def.rva,
		}
		if def.rva == 0 {
			// Abstract, runtime-provided or PInvoke method: no body.
			continue
		}
		if err := parseBody(im, m, maxBody); err != nil {
			if opt.Mode == cil.Strict {
				return cil.Result[*cil.Assembly]{Value: asm, Diags: diags},
					fmt.Errorf("method %s (rva 0x%08x): %w", m.Display(), def.rva, err)
			}
			diags = append(diags, cil.Diagnostic{
				Kind:   "invalid",
				Method: m.Display(),
				Msg:    fmt.Sprintf("method body at rva 0x%08x failed to decode: %v", def.rva, err),
			})
			continue
		}
		asm.Methods = append(asm.Methods, m)
	}

	return cil.Result[*cil.Assembly]{Value: asm, Diags: diags}, nil
}

// clrDirectory returns the CLR data directory entry from either optional
// header flavor.
func clrDirectory(pf *pe.File) (rva, size uint32, err error) {
	switch oh := pf.OptionalHeader.(type) {
	case *pe.OptionalHeader32:
		if int(oh.NumberOfRvaAndSizes) <= comDescriptorIndex {
			return 0, 0, fmt.Errorf("not a CLI image: %d data directories", oh.NumberOfRvaAndSizes)
		}
		d := oh.DataDirectory[comDescriptorIndex]
		return d.VirtualAddress, d.Size, nil
	case *pe.OptionalHeader64:
		if int(oh.NumberOfRvaAndSizes) <= comDescriptorIndex {
			return 0, 0, fmt.Errorf("not a CLI image: %d data directories", oh.NumberOfRvaAndSizes)
		}
		d := oh.DataDirectory[comDescriptorIndex]
		return d.VirtualAddress, d.Size, nil
	default:
		return 0, 0, fmt.Errorf("missing PE optional header")
	}
}

// parseStreams decodes the metadata root and returns each stream's bytes
// keyed by name.
func parseStreams(md []byte) (map[string][]byte, error) {
	r := newReader(md)
	magic, err := r.u32()
	if err != nil {
		return nil, err
	}
	if magic != metadataMagic {
		return nil, fmt.Errorf("bad metadata signature 0x%08x", magic)
	}
	if err := r.skip(8); err != nil { // major, minor, reserved
		return nil, err
	}
	verLen, err := r.u32()
	if err != nil {
		return nil, err
	}
	if err := r.skip(int(verLen)); err != nil {
		return nil, fmt.Errorf("version string: %w", err)
	}
	if err := r.align(4); err != nil {
		return nil, err
	}
	if err := r.skip(2); err != nil { // flags
		return nil, err
	}
	count, err := r.u16()
	if err != nil {
		return nil, err
	}

	streams := make(map[string][]byte, count)
	for i := 0; i < int(count); i++ {
		off, err := r.u32()
		if err != nil {
			return nil, err
		}
		size, err := r.u32()
		if err != nil {
			return nil, err
		}
		name, err := streamName(r)
		if err != nil {
			return nil, err
		}
		if int64(off)+int64(size) > int64(len(md)) {
			return nil, fmt.Errorf("stream %q: offset %d size %d overruns metadata", name, off, size)
		}
		streams[name] = md[off : off+size]
	}
	return streams, nil
}

// streamName reads a NUL-terminated name padded to a 4-byte boundary.
func streamName(r *reader) (string, error) {
	var b strings.Builder
	n := 0
	for {
		c, err := r.u8()
		if err != nil {
			return "", err
		}
		n++
		if c == 0 {
			break
		}
		b.WriteByte(c)
		if n > 32 {
			return "", fmt.Errorf("stream name too long")
		}
	}
	for n%4 != 0 {
		if _, err := r.u8(); err != nil {
			return "", err
		}
		n++
	}
	return b.String(), nil
}
