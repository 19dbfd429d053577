package cil

// Mode controls error handling behavior for decode and disassembly.
type Mode int

const (
	// Strict returns an error on the first structural invalidity.
	Strict Mode = iota
	// BestEffort continues with zero-values, collecting diagnostics.
	BestEffort
)

// Options configures decode and disassembly behavior.
type Options struct {
	Mode Mode

	// MaxSteps is a safety cap for loop iterations; 0 uses DefaultMaxSteps.
	MaxSteps int

	// MaxMethodBytes caps a single method body allocation during PE decode;
	// 0 uses MaxReadBytes. This is a DoS/OOM guard against corrupt headers.
	MaxMethodBytes int
}

// DefaultOptions returns Strict mode with default step limit.
func DefaultOptions() Options {
	return Options{Mode: Strict}
}

// DefaultMaxSteps is the default safety cap for iteration loops.
const DefaultMaxSteps = 1 << 20

// EffectiveMaxSteps returns the effective step limit.
func (o Options) EffectiveMaxSteps() int {
	if o.MaxSteps <= 0 {
		return DefaultMaxSteps
	}
	return o.MaxSteps
}

// EffectiveMaxMethodBytes returns the effective method body size cap.
func (o Options) EffectiveMaxMethodBytes() int {
	if o.MaxMethodBytes <= 0 {
		return MaxReadBytes
	}
	return o.MaxMethodBytes
}

// Diagnostic records one anomaly found during decode or disassembly.
type Diagnostic struct {
	Offset int    // byte offset where the issue occurred (within Method's body)
	Kind   string // "truncated", "invalid", "overflow", "unknown_opcode", "misaligned", "clamped"
	Msg    string
	Method string // method name, set when aggregating diagnostics from multiple bodies
}

// Result pairs a value with accumulated diagnostics.
type Result[T any] struct {
	Value T
	Diags []Diagnostic
}
