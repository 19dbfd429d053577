package decompile

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"text/template"
	"time"
)

// Backend names for LLM decompilation.
const (
	BackendClaude = "claude-code"
	BackendCodex  = "codex"
)

// Config holds settings for LLM decompilation.
type Config struct {
	Backend string // claude-code, codex
	Model   string // model name (backend-specific)
	Timeout time.Duration
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Backend: BackendClaude,
		Timeout: 5 * time.Minute,
	}
}

// promptTmpl is the decompilation prompt template.
var promptTmpl = template.Must(template.New("prompt").Parse(`Decompile this .NET CIL disassembly into idiomatic C#.

OUTPUT FORMAT - respond with ONLY this structure:
/*
 * {{.Name}}
 *
 * [Concise analysis: what the assembly does, its entry points,
 *  any notable patterns (event handlers, initialization, state
 *  machines, etc.)]
 */
// idiomatic C# here

RULES:
- Output ONLY the comment block + code. No prose outside the code.
- Write idiomatic C#: use var, LINQ where natural, meaningful names.
- The comment block IS the analysis. Keep it concise (3-6 lines).
- Reconstruct control flow naturally. No mechanical 1:1 opcode translation.
- Fold try/finally and using patterns back into their source form.

Disassembly:
{{.Disasm}}
`))

// buildPrompt constructs the decompilation prompt from disassembly text.
func buildPrompt(disasm string, name string) (string, error) {
	var b strings.Builder
	if err := promptTmpl.Execute(&b, struct {
		Name   string
		Disasm string
	}{name, disasm}); err != nil {
		return "", fmt.Errorf("build prompt: %w", err)
	}
	return b.String(), nil
}

// commandFor maps a backend name to the argv of its non-interactive CLI.
// Every backend reads the prompt on stdin and writes source to stdout.
func commandFor(cfg Config) ([]string, error) {
	switch cfg.Backend {
	case BackendClaude:
		argv := []string{"claude", "-p", "--no-session-persistence"}
		if cfg.Model != "" {
			argv = append(argv, "--model", cfg.Model)
		}
		return argv, nil
	case BackendCodex:
		argv := []string{"codex", "exec"}
		if cfg.Model != "" {
			argv = append(argv, "-m", cfg.Model)
		}
		return append(argv, "-"), nil
	}
	return nil, fmt.Errorf("unknown backend %q", cfg.Backend)
}

// Decompile sends disassembly to an LLM backend and returns C# source.
func Decompile(ctx context.Context, cfg Config, disasm string, name string) (string, error) {
	prompt, err := buildPrompt(disasm, name)
	if err != nil {
		return "", err
	}
	argv, err := commandFor(cfg)
	if err != nil {
		return "", err
	}

	ctx, cancel := context.WithTimeout(ctx, cfg.Timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Stdin = strings.NewReader(prompt)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("%s: %w: %s", argv[0], err, stderr.String())
	}

	return StripMarkdownFences(stdout.String()), nil
}

// StripMarkdownFences removes ```csharp ... ``` wrappers from LLM output.
func StripMarkdownFences(s string) string {
	s = strings.TrimSpace(s)

	// Remove opening fence
	for _, prefix := range []string{"```csharp", "```cs", "```c#", "```"} {
		if strings.HasPrefix(s, prefix) {
			s = strings.TrimPrefix(s, prefix)
			s = strings.TrimLeft(s, "\n")
			break
		}
	}

	// Remove closing fence
	if strings.HasSuffix(s, "```") {
		s = strings.TrimSuffix(s, "```")
		s = strings.TrimRight(s, "\n")
	}

	return s
}
