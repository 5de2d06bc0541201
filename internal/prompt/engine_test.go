package prompt

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestMasterPromptBasic(t *testing.T) {
	e := NewEngine("")
	got, err := e.MasterPrompt(map[string]string{
		"agent_name":      "cosmic-penguin",
		"agent_type":      "opencode",
		"project_name":    "talkto",
		"project_channel": "#project-talkto",
	})
	if err != nil {
		t.Fatalf("MasterPrompt: %v", err)
	}
	for _, want := range []string{"cosmic-penguin", "opencode", "talkto", "TalkTo", "update_profile", "Workplace Culture"} {
		if !strings.Contains(got, want) {
			t.Errorf("master prompt missing %q", want)
		}
	}
}

func TestMasterPromptWithOperator(t *testing.T) {
	e := NewEngine("")
	got, err := e.MasterPrompt(map[string]string{
		"agent_name":            "turbo-flamingo",
		"agent_type":            "claude",
		"project_name":          "myapp",
		"project_channel":       "#project-myapp",
		"operator_name":         "yash",
		"operator_display_name": "Yash",
		"operator_about":        "I build cool things.",
		"operator_instructions": "Be helpful and concise.",
	})
	if err != nil {
		t.Fatalf("MasterPrompt: %v", err)
	}
	for _, want := range []string{"Yash", "I build cool things", "Be helpful and concise"} {
		if !strings.Contains(got, want) {
			t.Errorf("master prompt missing %q", want)
		}
	}
	if strings.Contains(got, "No human has onboarded yet") {
		t.Error("operator branch leaked the no-operator text")
	}
}

func TestMasterPromptNoOperator(t *testing.T) {
	e := NewEngine("")
	got, err := e.MasterPrompt(map[string]string{
		"agent_name":      "fuzzy-walrus",
		"agent_type":      "opencode",
		"project_name":    "talkto",
		"project_channel": "#project-talkto",
		"operator_name":   "   ", // whitespace is falsy
	})
	if err != nil {
		t.Fatalf("MasterPrompt: %v", err)
	}
	if !strings.Contains(got, "No human has onboarded yet") {
		t.Error("missing no-operator fallback")
	}
}

func TestInjectPrompt(t *testing.T) {
	e := NewEngine("")
	got, err := e.InjectPrompt(map[string]string{
		"agent_name":      "grumpy-fox",
		"project_channel": "#project-myapp",
	})
	if err != nil {
		t.Fatalf("InjectPrompt: %v", err)
	}
	for _, want := range []string{"FIRST THINGS FIRST", "grumpy-fox", "#project-myapp", "AGENTS.md", "session_id", "Org-wide"} {
		if !strings.Contains(got, want) {
			t.Errorf("inject prompt missing %q", want)
		}
	}
}

func TestMentionPromptHistory(t *testing.T) {
	e := NewEngine("")
	vars := map[string]string{
		"channel":     "#general",
		"sender_name": "boss",
		"content":     "status?",
		"history":     "keen-fox: shipped the parser",
	}
	got, err := e.MentionPrompt(vars)
	if err != nil {
		t.Fatalf("MentionPrompt: %v", err)
	}
	for _, want := range []string{"keen-fox: shipped the parser", "boss mentioned you in #general", "MUST reply", "send_message"} {
		if !strings.Contains(got, want) {
			t.Errorf("mention prompt missing %q", want)
		}
	}

	vars["history"] = ""
	got, err = e.MentionPrompt(vars)
	if err != nil {
		t.Fatalf("MentionPrompt: %v", err)
	}
	if strings.Contains(got, "Recent messages") {
		t.Error("empty history still rendered the history header")
	}
}

func TestDirOverride(t *testing.T) {
	dir := t.TempDir()
	custom := "custom dm for {{ agent_name }}: {{ content }}"
	if err := os.WriteFile(filepath.Join(dir, "dm.md"), []byte(custom), 0o644); err != nil {
		t.Fatal(err)
	}

	e := NewEngine(dir)
	got, err := e.DMPrompt(map[string]string{"agent_name": "spry-otter", "content": "hello"})
	if err != nil {
		t.Fatalf("DMPrompt: %v", err)
	}
	if got != "custom dm for spry-otter: hello" {
		t.Errorf("override not used: %q", got)
	}

	// Templates absent from the override dir fall back to embedded defaults.
	if _, err := e.MasterPrompt(map[string]string{"agent_name": "x"}); err != nil {
		t.Fatalf("embedded fallback: %v", err)
	}
}

func TestNestedConditionals(t *testing.T) {
	dir := t.TempDir()
	tpl := "{% if outer %}A{% if inner %}B{% else %}C{% endif %}D{% else %}E{% endif %}"
	if err := os.WriteFile(filepath.Join(dir, "nested.md"), []byte(tpl), 0o644); err != nil {
		t.Fatal(err)
	}
	e := NewEngine(dir)

	tests := []struct {
		vars map[string]string
		want string
	}{
		{map[string]string{"outer": "y", "inner": "y"}, "ABD"},
		{map[string]string{"outer": "y"}, "ACD"},
		{map[string]string{"inner": "y"}, "E"},
		{nil, "E"},
	}
	for _, tt := range tests {
		got, err := e.Render("nested.md", tt.vars)
		if err != nil {
			t.Fatalf("Render(%v): %v", tt.vars, err)
		}
		if got != tt.want {
			t.Errorf("Render(%v) = %q, want %q", tt.vars, got, tt.want)
		}
	}
}

func TestUnmatchedEndif(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "bad.md"), []byte("a {% endif %} b"), 0o644); err != nil {
		t.Fatal(err)
	}
	e := NewEngine(dir)
	if _, err := e.Render("bad.md", nil); err == nil {
		t.Error("unmatched endif did not error")
	}
}
