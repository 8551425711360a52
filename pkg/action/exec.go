package action

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"regexp"
	"strings"

	"github.com/NathanRodet/chutney/pkg/eval"
	"github.com/NathanRodet/chutney/pkg/report"
	"github.com/NathanRodet/chutney/pkg/strategy"
)

// ExecAction runs a local process.
//
// Inputs: `argv` (list, required), `dir`, `env` (map), `timeout`,
// `allowFailure` (bool), `extract` (map of output name to
// {from: stdout|stderr|json, pattern, path}).
// Outputs: stdout, stderr, exitCode, plus one entry per extract rule.
type ExecAction struct{}

func (ExecAction) Type() string { return "exec" }

func (ExecAction) Validate(in Input) []string {
	var errs []string
	if argv, err := argvOf(in); err != nil {
		errs = append(errs, err.Error())
	} else if len(argv) == 0 {
		errs = append(errs, "argv must not be empty")
	}
	if v, ok := in.Values["timeout"]; ok {
		if _, err := strategy.ParseDuration(fmt.Sprint(v)); err != nil {
			errs = append(errs, "timeout: "+err.Error())
		}
	}
	if v, ok := in.Values["extract"]; ok {
		if _, err := extractRules(v); err != nil {
			errs = append(errs, err.Error())
		}
	}
	return errs
}

func argvOf(in Input) ([]string, error) {
	raw, ok := in.Values["argv"].([]any)
	if !ok {
		return nil, errors.New("argv must be a list")
	}
	argv := make([]string, len(raw))
	for i, a := range raw {
		argv[i] = fmt.Sprint(a)
	}
	return argv, nil
}

func (ExecAction) Execute(ctx context.Context, in Input) Result {
	argv, err := argvOf(in)
	if err != nil || len(argv) == 0 {
		return Failure("exec: argv is required")
	}
	if v, ok := in.Values["timeout"]; ok {
		d, _ := strategy.ParseDuration(fmt.Sprint(v))
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...) //#nosec G204 -- argv comes from the scenario author
	if dir, ok := in.Values["dir"].(string); ok {
		cmd.Dir = dir
	}
	if env, ok := in.Values["env"].(map[string]any); ok {
		cmd.Env = os.Environ()
		for k, v := range env {
			cmd.Env = append(cmd.Env, fmt.Sprintf("%s=%v", k, v))
		}
	}
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err = cmd.Run()
	exitCode := 0
	if err != nil {
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			return Failure("exec %q: %v", argv[0], err)
		}
		exitCode = exitErr.ExitCode()
	}

	out := &execOutput{
		ExitCode: exitCode,
		Stdout:   normalizeLineEndings(stdout.String()),
		Stderr:   normalizeLineEndings(stderr.String()),
	}
	outputs := map[string]any{
		"stdout":   out.Stdout,
		"stderr":   out.Stderr,
		"exitCode": out.ExitCode,
	}
	rules, _ := extractRules(in.Values["extract"])
	if err := applyExtract(rules, out, outputs); err != nil {
		res := Failure("extract: %v", err)
		res.Outputs = outputs
		return res
	}

	res := Success(outputs, fmt.Sprintf("%s exited with code %d", argv[0], exitCode))
	if allow, _ := in.Values["allowFailure"].(bool); exitCode != 0 && !allow {
		res.Status = report.StatusFailure
		res.Errors = append(res.Errors, fmt.Sprintf("%s exited with code %d: %s", argv[0], exitCode, strings.TrimSpace(out.Stderr)))
	}
	return res
}

type execOutput struct {
	ExitCode int
	Stdout   string
	Stderr   string
}

type extractRule struct {
	From    string
	Pattern string
	Path    string
}

func extractRules(v any) (map[string]extractRule, error) {
	if v == nil {
		return nil, nil
	}
	raw, ok := v.(map[string]any)
	if !ok {
		return nil, errors.New("extract must be a map")
	}
	rules := make(map[string]extractRule, len(raw))
	for name, r := range raw {
		m, ok := r.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("extract %q must be a map", name)
		}
		rule := extractRule{}
		rule.From, _ = m["from"].(string)
		rule.Pattern, _ = m["pattern"].(string)
		rule.Path, _ = m["path"].(string)
		if rule.Pattern != "" {
			if _, err := regexp.Compile(rule.Pattern); err != nil {
				return nil, fmt.Errorf("extract %q: invalid pattern: %w", name, err)
			}
		}
		rules[name] = rule
	}
	return rules, nil
}

// applyExtract maps process output to named outputs using extract rules.
func applyExtract(rules map[string]extractRule, out *execOutput, outputs map[string]any) error {
	for name, ext := range rules {
		var source string
		switch ext.From {
		case "stderr":
			source = out.Stderr
		case "json":
			var parsed any
			if err := json.Unmarshal([]byte(out.Stdout), &parsed); err != nil {
				return fmt.Errorf("extract %q: json parse: %w", name, err)
			}
			outputs[name] = eval.JSONPath(parsed, ext.Path)
			continue
		default:
			source = out.Stdout
		}

		if ext.Pattern != "" {
			re := regexp.MustCompile(ext.Pattern)
			match := re.FindStringSubmatch(strings.TrimSpace(source))
			if len(match) > 1 {
				outputs[name] = match[1]
			} else if len(match) == 1 {
				outputs[name] = match[0]
			}
		} else {
			outputs[name] = strings.TrimSpace(source)
		}
	}
	return nil
}

// normalizeLineEndings replaces \r\n with \n for cross-platform consistency.
func normalizeLineEndings(s string) string {
	return strings.ReplaceAll(s, "\r\n", "\n")
}
