package cil

// Maximum allocation count for any single parsed count.
const MaxAllocCount = 1 << 20

// MaxReadBytes caps any single method body allocation (16 MB).
const MaxReadBytes = 1 << 24

// Exception handler clause kinds (ECMA-335 II.25.4.6).
const (
	EhCatch   = 0x0000
	EhFilter  = 0x0001
	EhFinally = 0x0002
	EhFault   = 0x0004
)

// ExceptionHandler describes one protected region of a method body.
type ExceptionHandler struct {
	Kind          uint32
	TryOffset     uint32
	TryLength     uint32
	HandlerOffset uint32
	HandlerLength uint32

	// ClassToken holds the caught exception type for EhCatch clauses;
	// FilterOffset holds the filter entry point for EhFilter clauses.
	ClassToken   uint32
	FilterOffset uint32
}

// Method is one decoded method body plus its metadata-row identity.
type Method struct {
	Name  string // empty if the name could not be resolved
	Owner string // declaring type name, empty if unresolved
	Token uint32 // MethodDef token (0x06RRRRRR)
	RVA   uint32

	// Body header fields. Tiny bodies have no MaxStack/LocalVarSigTok.
	Tiny           bool
	MaxStack       uint16
	LocalVarSigTok uint32

	// Body is the raw CIL instruction stream, exactly CodeSize bytes when
	// the header was well-formed.
	Body     []byte
	CodeSize uint32

	Handlers []ExceptionHandler
}

// Assembly is a decoded .NET assembly: the method bodies plus the string
// material needed to render operands.
type Assembly struct {
	Path    string
	Module  string // module name from the Module table
	Methods []*Method

	// UserStrings maps #US heap offsets to decoded string literals (ldstr).
	UserStrings map[uint32]string

	// MemberRefs maps MemberRef tokens (0x0A...) to "Owner.Name" display
	// names for external call targets.
	MemberRefs map[uint32]string
}

// MethodName returns the display name for a method token, consulting both
// MethodDef rows and MemberRefs. Unknown tokens render as hex.
func (a *Assembly) MethodName(token uint32) (string, bool) {
	switch token >> 24 {
	case 0x06: // MethodDef
		for _, m := range a.Methods {
			if m.Token == token {
				return m.Display(), true
			}
		}
	case 0x0A: // MemberRef
		if name, ok := a.MemberRefs[token]; ok {
			return name, true
		}
	}
	return "", false
}

// Display returns "Owner.Name" or the best available fallback.
func (m *Method) Display() string {
	if m.Name == "" {
		return tokenDisplay(m.Token)
	}
	if m.Owner == "" || m.Owner == "<Module>" {
		return m.Name
	}
	return m.Owner + "." + m.Name
}

func tokenDisplay(token uint32) string {
	const hexdigits = "0123456789abcdef"
	b := []byte("method_00000000")
	for i := 0; i < 8; i++ {
		b[len(b)-1-i] = hexdigits[(token>>(4*i))&0xf]
	}
	return string(b)
}
