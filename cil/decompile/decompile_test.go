package decompile

import (
	"context"
	"strings"
	"testing"
)

func TestStripMarkdownFences(t *testing.T) {
	cases := []struct {
		in, want string
	}{
		{"```csharp\nvar x = 1;\n```", "var x = 1;"},
		{"```cs\nvar x = 1;\n```", "var x = 1;"},
		{"```\nvar x = 1;\n```", "var x = 1;"},
		{"var x = 1;", "var x = 1;"},
		{"  \n```csharp\nclass C {}\n```\n ", "class C {}"},
	}
	for _, c := range cases {
		if got := StripMarkdownFences(c.in); got != c.want {
			t.Errorf("StripMarkdownFences(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}

func TestBuildPrompt(t *testing.T) {
	p, err := buildPrompt("IL_0000: nop", "Prog.dll")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(p, "Prog.dll") || !strings.Contains(p, "IL_0000: nop") {
		t.Errorf("prompt missing inputs:\n%s", p)
	}
}

func TestCommandFor(t *testing.T) {
	cases := []struct {
		backend, model string
		want           string
	}{
		{BackendClaude, "", "claude -p --no-session-persistence"},
		{BackendClaude, "opus", "claude -p --no-session-persistence --model opus"},
		{BackendCodex, "", "codex exec -"},
		{BackendCodex, "o3", "codex exec -m o3 -"},
	}
	for _, c := range cases {
		argv, err := commandFor(Config{Backend: c.backend, Model: c.model})
		if err != nil {
			t.Fatalf("%s/%s: %v", c.backend, c.model, err)
		}
		if got := strings.Join(argv, " "); got != c.want {
			t.Errorf("%s/%s: argv = %q, want %q", c.backend, c.model, got, c.want)
		}
	}
	if _, err := commandFor(Config{Backend: "gpt2"}); err == nil {
		t.Error("expected error for unknown backend")
	}
}

func TestDecompileUnknownBackend(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Backend = "gpt2"
	if _, err := Decompile(context.Background(), cfg, "IL_0000: ret", "x"); err == nil {
		t.Fatal("expected error for unknown backend")
	}
}
