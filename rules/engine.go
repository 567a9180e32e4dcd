// Package rules runs shop-specific JavaScript checks over a finished
// preflight report. Rules see the report under its wire field names and
// call warn(message) to flag problems, so the same vocabulary works in
// rules and in API responses.
package rules

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/dop251/goja"

	"github.com/prepress/preflight/analysis"
)

// Rule is one named JavaScript check.
type Rule struct {
	Name   string
	Source string
}

// Engine applies a fixed list of rules. A rule can only append
// warnings; it never fails an analysis and never mutates the report.
type Engine struct {
	rules []Rule
}

func NewEngine(rules ...Rule) *Engine {
	return &Engine{rules: rules}
}

// Len reports the number of loaded rules.
func (e *Engine) Len() int { return len(e.rules) }

// Apply runs every rule against rep, appending the warnings the rules
// raise. Rule errors, including interruption through ctx, are appended
// as warnings themselves.
func (e *Engine) Apply(ctx context.Context, rep *analysis.Report) {
	for _, r := range e.rules {
		if err := ctx.Err(); err != nil {
			rep.Warnings = append(rep.Warnings, fmt.Sprintf("rule %s: %v", r.Name, err))
			return
		}
		warns, err := runRule(ctx, r, rep)
		rep.Warnings = append(rep.Warnings, warns...)
		if err != nil {
			rep.Warnings = append(rep.Warnings, fmt.Sprintf("rule %s: %v", r.Name, err))
		}
	}
}

// runRule executes one rule in a fresh runtime. The report is handed in
// as a plain object built from its JSON form, so scripts read the same
// keys clients see.
func runRule(ctx context.Context, r Rule, rep *analysis.Report) ([]string, error) {
	vm := goja.New()

	data, err := json.Marshal(rep)
	if err != nil {
		return nil, err
	}
	var view map[string]interface{}
	if err := json.Unmarshal(data, &view); err != nil {
		return nil, err
	}
	if err := vm.Set("report", view); err != nil {
		return nil, err
	}

	var warns []string
	err = vm.Set("warn", func(call goja.FunctionCall) goja.Value {
		if len(call.Arguments) > 0 {
			warns = append(warns, call.Arguments[0].String())
		}
		return goja.Undefined()
	})
	if err != nil {
		return nil, err
	}

	done := make(chan struct{})
	defer close(done)
	defer vm.ClearInterrupt()

	go func() {
		select {
		case <-ctx.Done():
			vm.Interrupt(ctx.Err())
		case <-done:
		}
	}()

	if _, err := vm.RunString(r.Source); err != nil {
		if interrupted, ok := err.(*goja.InterruptedError); ok {
			if cause := interrupted.Unwrap(); cause != nil {
				return warns, cause
			}
			return warns, context.Canceled
		}
		return warns, err
	}
	return warns, nil
}

// LoadDir reads every .js file in dir as a rule named after its file.
// Rules run in file name order.
func LoadDir(dir string) ([]Rule, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("reading rules directory: %w", err)
	}
	var rules []Rule
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".js") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, e.Name()))
		if err != nil {
			return nil, fmt.Errorf("reading rule %s: %w", e.Name(), err)
		}
		rules = append(rules, Rule{Name: e.Name(), Source: string(data)})
	}
	return rules, nil
}
