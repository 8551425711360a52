// Package eval resolves step input expressions against a layered scope.
//
// Two syntaxes are supported. `${ expr }` is evaluated with expr-lang; when a
// string is exactly one expression the typed result is returned, otherwise
// every expression is interpolated as text. Variables may be written with a
// leading `#` (`${#user.name}`). Strings without `${` but with `{{ }}` are
// rendered as Go templates against the flattened scope.
package eval

import (
	"bytes"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"text/template"

	"github.com/expr-lang/expr"
)

// ErrUnbalanced reports a `${` without its closing brace.
var ErrUnbalanced = errors.New("unbalanced expression")

// Evaluate resolves every string found in value, descending into maps and
// slices. Other values are returned unchanged.
func Evaluate(value any, s *Scope) (any, error) {
	switch v := value.(type) {
	case string:
		return EvaluateString(v, s)
	case map[string]any:
		out := make(map[string]any, len(v))
		for k, item := range v {
			r, err := Evaluate(item, s)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", k, err)
			}
			out[k] = r
		}
		return out, nil
	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			r, err := Evaluate(item, s)
			if err != nil {
				return nil, fmt.Errorf("[%d]: %w", i, err)
			}
			out[i] = r
		}
		return out, nil
	default:
		return value, nil
	}
}

// EvaluateString resolves a single string.
func EvaluateString(str string, s *Scope) (any, error) {
	if !strings.Contains(str, "${") {
		if strings.Contains(str, "{{") {
			return Resolve(str, s.Snapshot())
		}
		return str, nil // fast path for literals
	}

	segs, err := split(str)
	if err != nil {
		return nil, err
	}
	env := s.Snapshot()
	if len(segs) == 1 && segs[0].expr {
		return run(segs[0].text, env)
	}

	var b strings.Builder
	for _, seg := range segs {
		if !seg.expr {
			b.WriteString(seg.text)
			continue
		}
		v, err := run(seg.text, env)
		if err != nil {
			return nil, err
		}
		fmt.Fprint(&b, v)
	}
	return b.String(), nil
}

// EvalBool evaluates a condition. A bare string without `${` or `{{` is
// compiled as an expression; templates are truthy unless empty or "false".
func EvalBool(cond string, s *Scope) (bool, error) {
	cond = strings.TrimSpace(cond)
	if cond == "" {
		return true, nil // no condition = always true
	}
	var v any
	var err error
	switch {
	case strings.Contains(cond, "${"):
		v, err = EvaluateString(cond, s)
	case strings.Contains(cond, "{{"):
		var out string
		out, err = Resolve(cond, s.Snapshot())
		out = strings.TrimSpace(out)
		v = out != "" && out != "false" && out != "<no value>"
	default:
		v, err = run(cond, s.Snapshot())
	}
	if err != nil {
		return false, err
	}
	switch b := v.(type) {
	case bool:
		return b, nil
	case string:
		return b == "true", nil
	default:
		return false, fmt.Errorf("condition %q did not return bool (got %T: %v)", cond, v, v)
	}
}

func run(code string, env map[string]any) (any, error) {
	code = strings.TrimSpace(stripVarRefs(code))
	if code == "" {
		return nil, fmt.Errorf("empty expression")
	}
	opts := append([]expr.Option{expr.Env(env)}, exprFuncs()...)
	program, err := expr.Compile(code, opts...)
	if err != nil {
		return nil, fmt.Errorf("compile %q: %w", code, err)
	}
	out, err := expr.Run(program, env)
	if err != nil {
		return nil, fmt.Errorf("eval %q: %w", code, err)
	}
	return out, nil
}

// stripVarRefs turns `#name` variable references into bare names. Quoted
// literals and closure placeholders (`#`, `#.field`) are left alone.
func stripVarRefs(code string) string {
	var b strings.Builder
	b.Grow(len(code))
	var quote byte
	for i := 0; i < len(code); i++ {
		c := code[i]
		if quote != 0 {
			b.WriteByte(c)
			switch c {
			case '\\':
				if i+1 < len(code) {
					i++
					b.WriteByte(code[i])
				}
			case quote:
				quote = 0
			}
			continue
		}
		switch {
		case c == '"' || c == '\'' || c == '`':
			quote = c
		case c == '#' && i+1 < len(code) && isIdentStart(code[i+1]):
			continue
		}
		b.WriteByte(c)
	}
	return b.String()
}

func isIdentStart(c byte) bool {
	return c == '_' || ('a' <= c && c <= 'z') || ('A' <= c && c <= 'Z')
}

type segment struct {
	text string
	expr bool
}

// split cuts str into literal text and `${...}` expression bodies. Braces
// inside quoted strings do not count toward nesting.
func split(str string) ([]segment, error) {
	var segs []segment
	for {
		start := strings.Index(str, "${")
		if start < 0 {
			if str != "" {
				segs = append(segs, segment{text: str})
			}
			return segs, nil
		}
		if start > 0 {
			segs = append(segs, segment{text: str[:start]})
		}
		end := closingBrace(str, start+2)
		if end < 0 {
			return nil, fmt.Errorf("%w: %q", ErrUnbalanced, str[start:])
		}
		segs = append(segs, segment{text: str[start+2 : end], expr: true})
		str = str[end+1:]
	}
}

func closingBrace(s string, from int) int {
	depth := 0
	var quote byte
	for i := from; i < len(s); i++ {
		c := s[i]
		if quote != 0 {
			switch c {
			case '\\':
				i++
			case quote:
				quote = 0
			}
			continue
		}
		switch c {
		case '"', '\'', '`':
			quote = c
		case '{':
			depth++
		case '}':
			if depth == 0 {
				return i
			}
			depth--
		}
	}
	return -1
}

func exprFuncs() []expr.Option {
	return []expr.Option{
		expr.Function("jsonPath", func(params ...any) (any, error) {
			if len(params) != 2 {
				return nil, fmt.Errorf("jsonPath: want 2 arguments, got %d", len(params))
			}
			return JSONPath(params[0], fmt.Sprint(params[1])), nil
		}),
	}
}

// JSONPath does a simple dot-path traversal of nested maps and slices.
func JSONPath(obj any, path string) any {
	if path == "" || path == "$" {
		return obj
	}
	current := obj
	for _, part := range strings.Split(strings.TrimPrefix(path, "$."), ".") {
		switch c := current.(type) {
		case map[string]any:
			current = c[part]
		case []any:
			idx, err := strconv.Atoi(part)
			if err != nil || idx < 0 || idx >= len(c) {
				return nil
			}
			current = c[idx]
		default:
			return nil
		}
	}
	return current
}

// Resolve renders a Go template string against vars.
// Example: Resolve("https://{{ .hostname }}/healthz", {"hostname": "srv1"}) → "https://srv1/healthz"
func Resolve(tmpl string, vars map[string]any) (string, error) {
	if !strings.Contains(tmpl, "{{") {
		return tmpl, nil
	}

	t, err := template.New("").Funcs(builtinFuncs()).Parse(tmpl)
	if err != nil {
		return "", fmt.Errorf("template parse: %w", err)
	}

	var buf bytes.Buffer
	if err := t.Execute(&buf, vars); err != nil {
		return "", fmt.Errorf("template eval: %w", err)
	}
	return buf.String(), nil
}

// builtinFuncs provides template functions for expressions.
func builtinFuncs() template.FuncMap {
	return template.FuncMap{
		"eq": func(a, b any) bool {
			return fmt.Sprint(a) == fmt.Sprint(b)
		},
		"ne": func(a, b any) bool {
			return fmt.Sprint(a) != fmt.Sprint(b)
		},
		"contains": func(s, substr any) bool {
			return strings.Contains(fmt.Sprint(s), fmt.Sprint(substr))
		},
		"hasPrefix": func(s, prefix any) bool {
			return strings.HasPrefix(fmt.Sprint(s), fmt.Sprint(prefix))
		},
		"hasSuffix": func(s, suffix any) bool {
			return strings.HasSuffix(fmt.Sprint(s), fmt.Sprint(suffix))
		},
		"default": func(def, val any) any {
			if val == nil || fmt.Sprint(val) == "" {
				return def
			}
			return val
		},
		"jsonPath": JSONPath,
		"upper":    strings.ToUpper,
		"lower":    strings.ToLower,
	}
}
