// Package sandbox implements the JIT sandbox of spec §4.5: given
// source code synthesized for an ephemeral sub-agent, decide whether
// it is safe to run and, if so, execute it under strict isolation
// using the yaegi interpreter.
package sandbox

import (
	"context"
	"fmt"
	"path"
	"regexp"
	"time"

	"github.com/traefik/yaegi/interp"
	"github.com/traefik/yaegi/stdlib"
	"go.uber.org/zap"

	"crucible/internal/logging"
	"crucible/internal/sandbox/stability"
)

// Config bounds one execution (§4.5's SandboxConfig).
type Config struct {
	Timeout        time.Duration
	AllowedImports []string
	MaxOutputSize  int
	EntropyBudget  float64
	Stability      stability.Config
}

// DefaultConfig is a conservative default for ephemeral sub-agent code.
func DefaultConfig() Config {
	return Config{
		Timeout:        5 * time.Second,
		AllowedImports: stability.DefaultConfig().AllowedImports,
		MaxOutputSize:  64 * 1024,
		EntropyBudget:  0.5,
		Stability:      stability.DefaultConfig(),
	}
}

// Result is the outcome of one sandboxed invocation (§4.5). All
// failure modes are captured here; nothing propagates as a panic or
// error to the caller.
type Result struct {
	Success   bool
	Output    string
	Error     string
	Cancelled bool
	Timeout   bool
	Stability *stability.Result
}

// forbiddenPatterns is the last pre-execution gate: a regex scan for
// dynamic evaluation, dynamic import, subprocess, file-open, and
// namespace-introspection patterns, applied before compilation and
// again immediately before invocation (§4.5 "Security property").
var forbiddenPatterns = []*regexp.Regexp{
	regexp.MustCompile(`\bos/exec\b`),
	regexp.MustCompile(`\bos\.Open\b`),
	regexp.MustCompile(`\bos\.Create\b`),
	regexp.MustCompile(`\bos\.Remove`),
	regexp.MustCompile(`\bnet\.`),
	regexp.MustCompile(`\bsyscall\.`),
	regexp.MustCompile(`\bplugin\.`),
	regexp.MustCompile(`\bunsafe\.`),
	regexp.MustCompile(`\breflect\.Value`),
}

func scanForbidden(source string) string {
	for _, re := range forbiddenPatterns {
		if re.MatchString(source) {
			return re.String()
		}
	}
	return ""
}

// Executor runs stable, whitelisted Go source in a fresh yaegi
// interpreter per call; no compiled code is cached across invocations.
type Executor struct {
	log *zap.Logger
}

// NewExecutor returns an Executor.
func NewExecutor() *Executor {
	return &Executor{log: logging.Get(logging.CategorySandbox)}
}

// Run re-parses and stability-analyzes source (defense in depth: the
// caller should already have run the analyzer, but Run re-runs it with
// the sandbox's own config), then invokes the named entry point
// function with args under a hard wall-clock timeout.
func (e *Executor) Run(ctx context.Context, source string, entryPoint string, args []string, cfg Config) Result {
	if reason := scanForbidden(source); reason != "" {
		return Result{Success: false, Error: "forbidden pattern detected: " + reason}
	}

	stabilityCfg := cfg.Stability
	stabilityCfg.AllowedImports = cfg.AllowedImports
	stab, err := stability.Analyze(source, cfg.EntropyBudget, stabilityCfg)
	if err != nil {
		return Result{Success: false, Error: "stability analysis failed: " + err.Error()}
	}
	if !stab.IsStable {
		return Result{Success: false, Error: "unstable: " + joinViolations(stab.Violations), Stability: stab}
	}

	if reason := scanForbidden(source); reason != "" {
		return Result{Success: false, Error: "forbidden pattern detected at pre-execution gate: " + reason, Stability: stab}
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type outcome struct {
		output string
		err    error
	}
	done := make(chan outcome, 1)

	go func() {
		out, err := e.evalAndInvoke(source, entryPoint, args, cfg.AllowedImports)
		done <- outcome{output: out, err: err}
	}()

	select {
	case o := <-done:
		if o.err != nil {
			return Result{Success: false, Error: o.err.Error(), Stability: stab}
		}
		return Result{Success: true, Output: truncate(o.output, cfg.MaxOutputSize), Stability: stab}
	case <-runCtx.Done():
		if ctx.Err() != nil {
			return Result{Success: false, Cancelled: true, Error: "cancelled", Stability: stab}
		}
		return Result{Success: false, Timeout: true, Error: "timeout", Stability: stab}
	}
}

func (e *Executor) evalAndInvoke(source, entryPoint string, args []string, allowedImports []string) (output string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic during sandboxed execution: %v", r)
		}
	}()

	i := interp.New(interp.Options{})
	restricted := restrictedSymbols(allowedImports)
	if err := i.Use(restricted); err != nil {
		return "", fmt.Errorf("load restricted stdlib: %w", err)
	}

	if _, err := i.Eval(source); err != nil {
		return "", fmt.Errorf("evaluate source: %w", err)
	}

	fnVal, err := i.Eval("main." + entryPoint)
	if err != nil {
		return "", fmt.Errorf("entry point %s not found: %w", entryPoint, err)
	}

	fn, ok := fnVal.Interface().(func([]string) (string, error))
	if !ok {
		return "", fmt.Errorf("entry point %s must be func([]string) (string, error)", entryPoint)
	}
	return fn(args)
}

// restrictedSymbols binds only the whitelisted module handles from
// yaegi's full stdlib.Symbols set (§4.5's "restricted execution
// namespace"): dynamic import, file I/O, subprocess, and network
// packages are never exposed regardless of allowedImports.
func restrictedSymbols(allowedImports []string) interp.Exports {
	safe := map[string]bool{}
	for _, imp := range allowedImports {
		safe[imp] = true
	}

	out := make(interp.Exports, len(stdlib.Symbols))
	for key, symbols := range stdlib.Symbols {
		// Keys have the form "importPath/packageName", e.g. "strings/strings".
		pkgPath := path.Dir(key)
		if !safe[pkgPath] || forbiddenPackage(pkgPath) {
			continue
		}
		out[key] = symbols
	}
	return out
}

func forbiddenPackage(pkg string) bool {
	switch pkg {
	case "os", "os/exec", "net", "net/http", "syscall", "unsafe", "plugin", "io/ioutil":
		return true
	default:
		return false
	}
}

func truncate(s string, max int) string {
	if max <= 0 || len(s) <= max {
		return s
	}
	return s[:max]
}

func joinViolations(violations []string) string {
	out := ""
	for i, v := range violations {
		if i > 0 {
			out += "; "
		}
		out += v
	}
	return out
}
