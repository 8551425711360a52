package eval

import (
	"errors"
	"testing"
)

func TestScope_OverlayIsCopyOnWrite(t *testing.T) {
	parent := NewScope(map[string]any{"x": "1"})
	child := parent.Overlay()

	if v, ok := child.Get("x"); !ok || v != "1" {
		t.Fatalf("child.Get(x) = %v, %v; want 1, true", v, ok)
	}
	child.Set("x", "2")
	child.Set("y", "3")

	if v, _ := parent.Get("x"); v != "1" {
		t.Errorf("parent x = %v, want 1 (overlay must not write through)", v)
	}
	if _, ok := parent.Get("y"); ok {
		t.Error("parent sees child-local y")
	}
	if v, _ := child.Get("x"); v != "2" {
		t.Errorf("child x = %v, want 2", v)
	}

	snap := child.Snapshot()
	if snap["x"] != "2" || snap["y"] != "3" {
		t.Errorf("snapshot = %v", snap)
	}

	parent.Merge(child)
	if v, _ := parent.Get("y"); v != "3" {
		t.Errorf("after merge parent y = %v, want 3", v)
	}
}

func TestScope_NewScopeCopiesSeed(t *testing.T) {
	seed := map[string]any{"a": 1}
	s := NewScope(seed)
	s.Set("a", 2)
	if seed["a"] != 1 {
		t.Errorf("seed mutated: %v", seed)
	}
	if got := s.Keys(); len(got) != 1 || got[0] != "a" {
		t.Errorf("Keys = %v", got)
	}
}

func TestEvaluateString(t *testing.T) {
	s := NewScope(map[string]any{
		"x":    "1",
		"n":    41,
		"user": map[string]any{"name": "ada", "roles": []any{"admin", "dev"}},
	})
	tests := []struct {
		in   string
		want any
	}{
		{"plain", "plain"},
		{"${x}", "1"},
		{"${#x}", "1"},
		{"${n + 1}", 42},
		{"${#user.name}", "ada"},
		{"hello ${#user.name}, n=${n}", "hello ada, n=41"},
		{`${ x == "1" ? "yes" : "no" }`, "yes"},
		{`${ "}" + x }`, "}1"},
		{`${ jsonPath(user, "roles.1") }`, "dev"},
		{`${ 'a#b' }`, "a#b"},
		{`${ "#x is " + #x }`, "#x is 1"},
		{`${ len(filter([1, 2, 3], # > 1)) }`, 2},
		{"{{ .x }}-{{ upper .user.name }}", "1-ADA"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := EvaluateString(tt.in, s)
			if err != nil {
				t.Fatalf("EvaluateString(%q): %v", tt.in, err)
			}
			if got != tt.want {
				t.Errorf("EvaluateString(%q) = %v (%T), want %v (%T)", tt.in, got, got, tt.want, tt.want)
			}
		})
	}
}

func TestEvaluateString_Errors(t *testing.T) {
	s := NewScope(nil)
	if _, err := EvaluateString("${missing}", s); err == nil {
		t.Error("expected error for unknown variable")
	}
	_, err := EvaluateString("${ 1 + ", s)
	if !errors.Is(err, ErrUnbalanced) {
		t.Errorf("err = %v, want ErrUnbalanced", err)
	}
	if _, err := EvaluateString("${}", s); err == nil {
		t.Error("expected error for empty expression")
	}
}

func TestEvaluate_Nested(t *testing.T) {
	s := NewScope(map[string]any{"host": "srv1"})
	in := map[string]any{
		"url":     "https://${host}/health",
		"headers": []any{"x-host: ${host}", 3},
		"timeout": 5,
	}
	got, err := Evaluate(in, s)
	if err != nil {
		t.Fatal(err)
	}
	m := got.(map[string]any)
	if m["url"] != "https://srv1/health" {
		t.Errorf("url = %v", m["url"])
	}
	if h := m["headers"].([]any); h[0] != "x-host: srv1" || h[1] != 3 {
		t.Errorf("headers = %v", h)
	}
	if m["timeout"] != 5 {
		t.Errorf("timeout = %v", m["timeout"])
	}
}

func TestEvalBool(t *testing.T) {
	s := NewScope(map[string]any{"status": 200, "name": "ok"})
	tests := []struct {
		cond string
		want bool
	}{
		{"", true},
		{"status == 200", true},
		{"${status >= 400}", false},
		{`${#name == "ok"}`, true},
		{`{{ eq .name "ok" }}`, true},
		{`{{ eq .name "ko" }}`, false},
	}
	for _, tt := range tests {
		got, err := EvalBool(tt.cond, s)
		if err != nil {
			t.Errorf("EvalBool(%q): %v", tt.cond, err)
			continue
		}
		if got != tt.want {
			t.Errorf("EvalBool(%q) = %v, want %v", tt.cond, got, tt.want)
		}
	}
	if _, err := EvalBool("${status}", s); err == nil {
		t.Error("expected error for non-bool condition")
	}
}

func TestJSONPath(t *testing.T) {
	obj := map[string]any{"a": map[string]any{"b": []any{"x", "y"}}}
	if got := JSONPath(obj, "$.a.b.1"); got != "y" {
		t.Errorf("JSONPath = %v, want y", got)
	}
	if got := JSONPath(obj, "a.missing.c"); got != nil {
		t.Errorf("JSONPath missing = %v, want nil", got)
	}
}
