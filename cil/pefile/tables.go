package pefile

import "fmt"

// Metadata table numbers (ECMA-335 II.22).
const (
	tModule                 = 0x00
	tTypeRef                = 0x01
	tTypeDef                = 0x02
	tFieldPtr               = 0x03
	tField                  = 0x04
	tMethodPtr              = 0x05
	tMethodDef              = 0x06
	tParamPtr               = 0x07
	tParam                  = 0x08
	tInterfaceImpl          = 0x09
	tMemberRef              = 0x0A
	tConstant               = 0x0B
	tCustomAttribute        = 0x0C
	tFieldMarshal           = 0x0D
	tDeclSecurity           = 0x0E
	tClassLayout            = 0x0F
	tFieldLayout            = 0x10
	tStandAloneSig          = 0x11
	tEventMap               = 0x12
	tEventPtr               = 0x13
	tEvent                  = 0x14
	tPropertyMap            = 0x15
	tPropertyPtr            = 0x16
	tProperty               = 0x17
	tMethodSemantics        = 0x18
	tMethodImpl             = 0x19
	tModuleRef              = 0x1A
	tTypeSpec               = 0x1B
	tImplMap                = 0x1C
	tFieldRVA               = 0x1D
	tENCLog                 = 0x1E
	tENCMap                 = 0x1F
	tAssembly               = 0x20
	tAssemblyProcessor      = 0x21
	tAssemblyOS             = 0x22
	tAssemblyRef            = 0x23
	tAssemblyRefProcessor   = 0x24
	tAssemblyRefOS          = 0x25
	tFile                   = 0x26
	tExportedType           = 0x27
	tManifestResource       = 0x28
	tNestedClass            = 0x29
	tGenericParam           = 0x2A
	tMethodSpec             = 0x2B
	tGenericParamConstraint = 0x2C

	numTables = 64
)

// Coded index groups (ECMA-335 II.24.2.6). Only the member tables matter
// for width computation; the tag assignments matter when decoding values.
type codedGroup uint8

const (
	cgTypeDefOrRef codedGroup = iota
	cgHasConstant
	cgHasCustomAttribute
	cgHasFieldMarshall
	cgHasDeclSecurity
	cgMemberRefParent
	cgHasSemantics
	cgMethodDefOrRef
	cgMemberForwarded
	cgImplementation
	cgCustomAttributeType
	cgResolutionScope
	cgTypeOrMethodDef

	numCodedGroups
)

var codedGroups = [numCodedGroups]struct {
	bits   uint
	tables []int
}{
	cgTypeDefOrRef:        {2, []int{tTypeDef, tTypeRef, tTypeSpec}},
	cgHasConstant:         {2, []int{tField, tParam, tProperty}},
	cgHasCustomAttribute:  {5, []int{tMethodDef, tField, tTypeRef, tTypeDef, tParam, tInterfaceImpl, tMemberRef, tModule, tDeclSecurity, tProperty, tEvent, tStandAloneSig, tModuleRef, tTypeSpec, tAssembly, tAssemblyRef, tFile, tExportedType, tManifestResource, tGenericParam, tGenericParamConstraint, tMethodSpec}},
	cgHasFieldMarshall:    {1, []int{tField, tParam}},
	cgHasDeclSecurity:     {2, []int{tTypeDef, tMethodDef, tAssembly}},
	cgMemberRefParent:     {3, []int{tTypeDef, tTypeRef, tModuleRef, tMethodDef, tTypeSpec}},
	cgHasSemantics:        {1, []int{tEvent, tProperty}},
	cgMethodDefOrRef:      {1, []int{tMethodDef, tMemberRef}},
	cgMemberForwarded:     {1, []int{tField, tMethodDef}},
	cgImplementation:      {2, []int{tFile, tAssemblyRef, tExportedType}},
	cgCustomAttributeType: {3, []int{tMethodDef, tMemberRef}},
	cgResolutionScope:     {2, []int{tModule, tModuleRef, tAssemblyRef, tTypeRef}},
	cgTypeOrMethodDef:     {1, []int{tTypeDef, tMethodDef}},
}

// Column kinds for table schemas.
type colKind uint8

const (
	colU16 colKind = iota
	colU32
	colStr   // #Strings index
	colGUID  // #GUID index
	colBlob  // #Blob index
	colIdx   // simple index into another table (arg = table number)
	colCoded // coded index (arg = codedGroup)
)

type col struct {
	kind colKind
	arg  uint8
}

func idx(table int) col      { return col{colIdx, uint8(table)} }
func coded(g codedGroup) col { return col{colCoded, uint8(g)} }

// schemas lists the column layout of every table the #~ stream can carry.
// Tables we do not materialize still need a schema so their rows can be
// skipped with the correct width.
var schemas = [numTables][]col{
	tModule:                 {{colU16, 0}, {colStr, 0}, {colGUID, 0}, {colGUID, 0}, {colGUID, 0}},
	tTypeRef:                {coded(cgResolutionScope), {colStr, 0}, {colStr, 0}},
	tTypeDef:                {{colU32, 0}, {colStr, 0}, {colStr, 0}, coded(cgTypeDefOrRef), idx(tField), idx(tMethodDef)},
	tFieldPtr:               {idx(tField)},
	tField:                  {{colU16, 0}, {colStr, 0}, {colBlob, 0}},
	tMethodPtr:              {idx(tMethodDef)},
	tMethodDef:              {{colU32, 0}, {colU16, 0}, {colU16, 0}, {colStr, 0}, {colBlob, 0}, idx(tParam)},
	tParamPtr:               {idx(tParam)},
	tParam:                  {{colU16, 0}, {colU16, 0}, {colStr, 0}},
	tInterfaceImpl:          {idx(tTypeDef), coded(cgTypeDefOrRef)},
	tMemberRef:              {coded(cgMemberRefParent), {colStr, 0}, {colBlob, 0}},
	tConstant:               {{colU16, 0}, coded(cgHasConstant), {colBlob, 0}},
	tCustomAttribute:        {coded(cgHasCustomAttribute), coded(cgCustomAttributeType), {colBlob, 0}},
	tFieldMarshal:           {coded(cgHasFieldMarshall), {colBlob, 0}},
	tDeclSecurity:           {{colU16, 0}, coded(cgHasDeclSecurity), {colBlob, 0}},
	tClassLayout:            {{colU16, 0}, {colU32, 0}, idx(tTypeDef)},
	tFieldLayout:            {{colU32, 0}, idx(tField)},
	tStandAloneSig:          {{colBlob, 0}},
	tEventMap:               {idx(tTypeDef), idx(tEvent)},
	tEventPtr:               {idx(tEvent)},
	tEvent:                  {{colU16, 0}, {colStr, 0}, coded(cgTypeDefOrRef)},
	tPropertyMap:            {idx(tTypeDef), idx(tProperty)},
	tPropertyPtr:            {idx(tProperty)},
	tProperty:               {{colU16, 0}, {colStr, 0}, {colBlob, 0}},
	tMethodSemantics:        {{colU16, 0}, idx(tMethodDef), coded(cgHasSemantics)},
	tMethodImpl:             {idx(tTypeDef), coded(cgMethodDefOrRef), coded(cgMethodDefOrRef)},
	tModuleRef:              {{colStr, 0}},
	tTypeSpec:               {{colBlob, 0}},
	tImplMap:                {{colU16, 0}, coded(cgMemberForwarded), {colStr, 0}, idx(tModuleRef)},
	tFieldRVA:               {{colU32, 0}, idx(tField)},
	tENCLog:                 {{colU32, 0}, {colU32, 0}},
	tENCMap:                 {{colU32, 0}},
	tAssembly:               {{colU32, 0}, {colU16, 0}, {colU16, 0}, {colU16, 0}, {colU16, 0}, {colU32, 0}, {colBlob, 0}, {colStr, 0}, {colStr, 0}},
	tAssemblyProcessor:      {{colU32, 0}},
	tAssemblyOS:             {{colU32, 0}, {colU32, 0}, {colU32, 0}},
	tAssemblyRef:            {{colU16, 0}, {colU16, 0}, {colU16, 0}, {colU16, 0}, {colU32, 0}, {colBlob, 0}, {colStr, 0}, {colStr, 0}, {colBlob, 0}},
	tAssemblyRefProcessor:   {{colU32, 0}, idx(tAssemblyRef)},
	tAssemblyRefOS:          {{colU32, 0}, {colU32, 0}, {colU32, 0}, idx(tAssemblyRef)},
	tFile:                   {{colU32, 0}, {colStr, 0}, {colBlob, 0}},
	tExportedType:           {{colU32, 0}, {colU32, 0}, {colStr, 0}, {colStr, 0}, coded(cgImplementation)},
	tManifestResource:       {{colU32, 0}, {colU32, 0}, {colStr, 0}, coded(cgImplementation)},
	tNestedClass:            {idx(tTypeDef), idx(tTypeDef)},
	tGenericParam:           {{colU16, 0}, {colU16, 0}, coded(cgTypeOrMethodDef), {colStr, 0}},
	tMethodSpec:             {coded(cgMethodDefOrRef), {colBlob, 0}},
	tGenericParamConstraint: {idx(tGenericParam), coded(cgTypeDefOrRef)},
}

// tables holds the decoded subset of the #~ stream plus the widths needed
// to walk it.
type tables struct {
	rowCount [numTables]uint32

	strWide, guidWide, blobWide bool
	codedWide                   [numCodedGroups]bool

	// Materialized rows.
	moduleName string
	typeRefs   []typeRefRow
	typeDefs   []typeDefRow
	methodDefs []methodDefRow
	memberRefs []memberRefRow
}

type typeRefRow struct {
	name      string
	namespace string
}

type typeDefRow struct {
	name       string
	namespace  string
	methodList uint32 // 1-based first MethodDef row owned by this type
}

type methodDefRow struct {
	rva  uint32
	name string
}

type memberRefRow struct {
	class uint32 // raw MemberRefParent coded value
	name  string
}

func (t *tables) idxWide(table int) bool {
	return t.rowCount[table] >= 1<<16
}

func (t *tables) computeCodedWidths() {
	for g, cg := range codedGroups {
		var max uint32
		for _, tb := range cg.tables {
			if t.rowCount[tb] > max {
				max = t.rowCount[tb]
			}
		}
		t.codedWide[g] = max >= 1<<(16-cg.bits)
	}
}

// rowSize returns the byte width of one row of the given table.
func (t *tables) rowSize(table int) (int, error) {
	schema := schemas[table]
	if schema == nil {
		return 0, fmt.Errorf("unknown metadata table 0x%02x", table)
	}
	size := 0
	for _, c := range schema {
		switch c.kind {
		case colU16:
			size += 2
		case colU32:
			size += 4
		case colStr:
			size += heapIdxSize(t.strWide)
		case colGUID:
			size += heapIdxSize(t.guidWide)
		case colBlob:
			size += heapIdxSize(t.blobWide)
		case colIdx:
			size += heapIdxSize(t.idxWide(int(c.arg)))
		case colCoded:
			size += heapIdxSize(t.codedWide[c.arg])
		}
	}
	return size, nil
}

func heapIdxSize(wide bool) int {
	if wide {
		return 4
	}
	return 2
}

// parseTables decodes the #~ stream, materializing Module, TypeRef,
// TypeDef, MethodDef and MemberRef rows and skipping everything else by
// computed row width. strings is the #Strings heap.
func parseTables(data, strings []byte) (*tables, error) {
	r := newReader(data)

	if _, err := r.u32(); err != nil { // reserved
		return nil, err
	}
	if _, err := r.u8(); err != nil { // major
		return nil, err
	}
	if _, err := r.u8(); err != nil { // minor
		return nil, err
	}
	heapSizes, err := r.u8()
	if err != nil {
		return nil, err
	}
	if _, err := r.u8(); err != nil { // reserved
		return nil, err
	}
	valid, err := r.u64()
	if err != nil {
		return nil, err
	}
	if _, err := r.u64(); err != nil { // sorted
		return nil, err
	}

	t := &tables{
		strWide:  heapSizes&0x01 != 0,
		guidWide: heapSizes&0x02 != 0,
		blobWide: heapSizes&0x04 != 0,
	}

	for i := 0; i < numTables; i++ {
		if valid&(1<<uint(i)) == 0 {
			continue
		}
		n, err := r.u32()
		if err != nil {
			return nil, err
		}
		t.rowCount[i] = n
	}
	t.computeCodedWidths()

	getStr := func(off uint32) string { return heapString(strings, off) }

	for table := 0; table < numTables; table++ {
		rows := t.rowCount[table]
		if rows == 0 {
			continue
		}
		switch table {
		case tModule:
			for i := uint32(0); i < rows; i++ {
				if err := r.skip(2); err != nil { // Generation
					return nil, err
				}
				name, err := r.index(t.strWide)
				if err != nil {
					return nil, err
				}
				guids := 3 * heapIdxSize(t.guidWide)
				if err := r.skip(guids); err != nil {
					return nil, err
				}
				if i == 0 {
					t.moduleName = getStr(name)
				}
			}

		case tTypeRef:
			for i := uint32(0); i < rows; i++ {
				if err := r.skip(heapIdxSize(t.codedWide[cgResolutionScope])); err != nil {
					return nil, err
				}
				name, err := r.index(t.strWide)
				if err != nil {
					return nil, err
				}
				ns, err := r.index(t.strWide)
				if err != nil {
					return nil, err
				}
				t.typeRefs = append(t.typeRefs, typeRefRow{name: getStr(name), namespace: getStr(ns)})
			}

		case tTypeDef:
			for i := uint32(0); i < rows; i++ {
				if err := r.skip(4); err != nil { // Flags
					return nil, err
				}
				name, err := r.index(t.strWide)
				if err != nil {
					return nil, err
				}
				ns, err := r.index(t.strWide)
				if err != nil {
					return nil, err
				}
				if err := r.skip(heapIdxSize(t.codedWide[cgTypeDefOrRef])); err != nil {
					return nil, err
				}
				if err := r.skip(heapIdxSize(t.idxWide(tField))); err != nil {
					return nil, err
				}
				methodList, err := r.index(t.idxWide(tMethodDef))
				if err != nil {
					return nil, err
				}
				t.typeDefs = append(t.typeDefs, typeDefRow{
					name:       getStr(name),
					namespace:  getStr(ns),
					methodList: methodList,
				})
			}

		case tMethodDef:
			for i := uint32(0); i < rows; i++ {
				rva, err := r.u32()
				if err != nil {
					return nil, err
				}
				if err := r.skip(4); err != nil { // ImplFlags, Flags
					return nil, err
				}
				name, err := r.index(t.strWide)
				if err != nil {
					return nil, err
				}
				if err := r.skip(heapIdxSize(t.blobWide)); err != nil {
					return nil, err
				}
				if err := r.skip(heapIdxSize(t.idxWide(tParam))); err != nil {
					return nil, err
				}
				t.methodDefs = append(t.methodDefs, methodDefRow{rva: rva, name: getStr(name)})
			}

		case tMemberRef:
			for i := uint32(0); i < rows; i++ {
				class, err := r.index(t.codedWide[cgMemberRefParent])
				if err != nil {
					return nil, err
				}
				name, err := r.index(t.strWide)
				if err != nil {
					return nil, err
				}
				if err := r.skip(heapIdxSize(t.blobWide)); err != nil {
					return nil, err
				}
				t.memberRefs = append(t.memberRefs, memberRefRow{class: class, name: getStr(name)})
			}

		default:
			size, err := t.rowSize(table)
			if err != nil {
				return nil, err
			}
			if err := r.skip(size * int(rows)); err != nil {
				return nil, fmt.Errorf("table 0x%02x: %w", table, err)
			}
		}
	}

	return t, nil
}

// heapString reads a NUL-terminated UTF-8 string from the #Strings heap.
func heapString(heap []byte, off uint32) string {
	if int64(off) >= int64(len(heap)) {
		return ""
	}
	end := off
	for int(end) < len(heap) && heap[end] != 0 {
		end++
	}
	return string(heap[off:end])
}

// memberRefOwner resolves the MemberRefParent coded value to a type name.
func (t *tables) memberRefOwner(class uint32) string {
	tag := class & 0x7
	row := class >> 3
	if row == 0 {
		return ""
	}
	switch tag {
	case 0: // TypeDef
		if int(row) <= len(t.typeDefs) {
			return t.typeDefs[row-1].name
		}
	case 1: // TypeRef
		if int(row) <= len(t.typeRefs) {
			return t.typeRefs[row-1].name
		}
	}
	return ""
}

// methodOwner returns the declaring TypeDef name for a 1-based MethodDef row.
func (t *tables) methodOwner(methodRow uint32) string {
	owner := ""
	for _, td := range t.typeDefs {
		if td.methodList == 0 || td.methodList > methodRow {
			break
		}
		owner = td.name
	}
	return owner
}
