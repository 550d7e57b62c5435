// Package stability implements the JIT sandbox's stability analyzer
// (§4.5): static checks over Go's own AST tooling that decide whether
// synthesized source is safe to run.
package stability

import (
	"fmt"
	"go/ast"
	"go/parser"
	"go/token"
	"strconv"
)

// Config mirrors the stability analyzer's tunable bounds (§4.5).
type Config struct {
	MaxCyclomaticComplexity float64
	MaxBranchingFactor      float64
	MaxImportRisk           float64
	AllowedImports          []string
	ForbiddenImports        []string
	MaxNestingDepth         int
	MaxDepth                int
}

// DefaultConfig is a conservative default suitable for ephemeral
// sub-agent code.
func DefaultConfig() Config {
	return Config{
		MaxCyclomaticComplexity: 15,
		MaxBranchingFactor:      6,
		MaxImportRisk:           1.0,
		AllowedImports:          []string{"strings", "strconv", "fmt", "math", "regexp", "encoding/json", "time", "sort", "bytes", "errors", "unicode"},
		ForbiddenImports:        []string{"os", "os/exec", "net", "net/http", "syscall", "unsafe", "plugin", "io/fs"},
		MaxNestingDepth:         6,
		MaxDepth:                64,
	}
}

// importRisk is the static per-package risk table (safe 0.0 through
// dangerous 0.9+).
var importRisk = map[string]float64{
	"strings":        0.0,
	"strconv":        0.0,
	"fmt":            0.0,
	"math":           0.0,
	"sort":           0.0,
	"errors":         0.0,
	"unicode":        0.0,
	"bytes":          0.05,
	"time":           0.05,
	"regexp":         0.1,
	"encoding/json":  0.1,
	"path":           0.15,
	"path/filepath":  0.2,
	"context":        0.2,
	"reflect":        0.4,
	"runtime":        0.6,
	"os":             0.8,
	"io":             0.5,
	"io/ioutil":      0.6,
	"net":            0.9,
	"net/http":       0.9,
	"os/exec":        0.95,
	"syscall":        0.95,
	"unsafe":         0.95,
	"plugin":         0.9,
}

func riskOf(pkg string) float64 {
	if r, ok := importRisk[pkg]; ok {
		return r
	}
	return 0.5 // unknown modules are treated as moderately risky
}

// Result is the stability analyzer's verdict (§4.5).
type Result struct {
	IsStable   bool
	Metrics    map[string]float64
	Violations []string
}

func contains(set []string, v string) bool {
	for _, s := range set {
		if s == v {
			return true
		}
	}
	return false
}

// Analyze runs the ordered stability passes over source and returns
// the combined result. Passes after a syntax error are skipped.
func Analyze(source string, entropyBudget float64, cfg Config) (*Result, error) {
	res := &Result{IsStable: true, Metrics: map[string]float64{}}
	if entropyBudget <= 0 {
		entropyBudget = 0.01
	}

	fset := token.NewFileSet()
	file, err := parser.ParseFile(fset, "sandboxed.go", source, parser.AllErrors)
	if err != nil {
		res.IsStable = false
		res.Violations = append(res.Violations, "syntax error: "+err.Error())
		return res, nil
	}

	if v := checkImports(file, entropyBudget, cfg, res.Metrics); v != "" {
		res.IsStable = false
		res.Violations = append(res.Violations, v)
		return res, nil
	}

	if v := checkCyclomaticComplexity(file, entropyBudget, cfg, res.Metrics); v != "" {
		res.IsStable = false
		res.Violations = append(res.Violations, v)
	}

	if v := checkBranchingFactor(file, entropyBudget, cfg, res.Metrics); v != "" {
		res.IsStable = false
		res.Violations = append(res.Violations, v)
	}

	for _, v := range checkUnboundedRecursion(file) {
		res.IsStable = false
		res.Violations = append(res.Violations, v)
	}

	return res, nil
}

func checkImports(file *ast.File, entropyBudget float64, cfg Config, metrics map[string]float64) string {
	var total float64
	for _, imp := range file.Imports {
		path, err := strconv.Unquote(imp.Path.Value)
		if err != nil {
			continue
		}
		if contains(cfg.ForbiddenImports, path) {
			return fmt.Sprintf("forbidden import %q", path)
		}
		risk := riskOf(path)
		if !contains(cfg.AllowedImports, path) && risk > 0.5 {
			return fmt.Sprintf("import %q outside whitelist with risk %.2f", path, risk)
		}
		total += risk
	}
	metrics["import_risk"] = total
	limit := entropyBudget * cfg.MaxImportRisk
	if total > limit {
		return fmt.Sprintf("total import risk %.2f exceeds budgeted limit %.2f", total, limit)
	}
	return ""
}

// decisionPointVisitor counts cyclomatic-complexity decision points:
// conditionals, loops, exception-handler-equivalents (deferred
// recover blocks), scoped resources (defer), and boolean operators
// counted per additional operand.
type decisionPointVisitor struct {
	count int
}

func (v *decisionPointVisitor) Visit(n ast.Node) ast.Visitor {
	switch node := n.(type) {
	case *ast.IfStmt:
		v.count++
	case *ast.ForStmt:
		v.count++
	case *ast.RangeStmt:
		v.count++
	case *ast.CaseClause:
		v.count++
	case *ast.CommClause:
		v.count++
	case *ast.DeferStmt:
		v.count++
	case *ast.BinaryExpr:
		if node.Op == token.LAND || node.Op == token.LOR {
			v.count++
		}
	}
	return v
}

func checkCyclomaticComplexity(file *ast.File, entropyBudget float64, cfg Config, metrics map[string]float64) string {
	maxComplexity := 0
	for _, decl := range file.Decls {
		fn, ok := decl.(*ast.FuncDecl)
		if !ok || fn.Body == nil {
			continue
		}
		v := &decisionPointVisitor{count: 1} // base complexity 1
		ast.Walk(v, fn.Body)
		if v.count > maxComplexity {
			maxComplexity = v.count
		}
	}
	metrics["cyclomatic_complexity"] = float64(maxComplexity)
	limit := entropyBudget * cfg.MaxCyclomaticComplexity
	if float64(maxComplexity) > limit {
		return fmt.Sprintf("cyclomatic complexity %d exceeds budgeted limit %.1f", maxComplexity, limit)
	}
	return ""
}

// branchCounter counts per-unit conditional-else branches, switch/
// type-switch arms, and return statements.
type branchCounter struct {
	count int
}

func (v *branchCounter) Visit(n ast.Node) ast.Visitor {
	switch node := n.(type) {
	case *ast.IfStmt:
		if node.Else != nil {
			v.count++
		}
	case *ast.CaseClause:
		v.count++
	case *ast.CommClause:
		v.count++
	case *ast.ReturnStmt:
		v.count++
	}
	return v
}

func checkBranchingFactor(file *ast.File, entropyBudget float64, cfg Config, metrics map[string]float64) string {
	maxBranching := 0
	for _, decl := range file.Decls {
		fn, ok := decl.(*ast.FuncDecl)
		if !ok || fn.Body == nil {
			continue
		}
		v := &branchCounter{}
		ast.Walk(v, fn.Body)
		if v.count > maxBranching {
			maxBranching = v.count
		}
	}
	metrics["branching_factor"] = float64(maxBranching)
	limit := entropyBudget * cfg.MaxBranchingFactor
	if maxBranching > 1 && float64(maxBranching) > limit {
		return fmt.Sprintf("branching factor %d exceeds budgeted limit %.1f", maxBranching, limit)
	}
	return ""
}

// checkUnboundedRecursion detects (a) `for true {}`-shaped infinite
// loops with no break, and (b) direct self-recursion with no early
// return/break guard in the function's opening statements.
func checkUnboundedRecursion(file *ast.File) []string {
	var violations []string

	for _, decl := range file.Decls {
		fn, ok := decl.(*ast.FuncDecl)
		if !ok || fn.Body == nil {
			continue
		}

		ast.Inspect(fn.Body, func(n ast.Node) bool {
			forStmt, ok := n.(*ast.ForStmt)
			if !ok {
				return true
			}
			if (forStmt.Cond == nil || isLiteralTrue(forStmt.Cond)) && !containsBreak(forStmt.Body) {
				violations = append(violations, fmt.Sprintf("function %s contains an infinite loop with no break", fn.Name.Name))
			}
			return true
		})

		if fn.Name != nil && callsSelf(fn) && !hasEarlyGuard(fn.Body) {
			violations = append(violations, fmt.Sprintf("function %s recurses without an early-return guard", fn.Name.Name))
		}
	}
	return violations
}

func isLiteralTrue(e ast.Expr) bool {
	ident, ok := e.(*ast.Ident)
	return ok && ident.Name == "true"
}

func containsBreak(body *ast.BlockStmt) bool {
	found := false
	ast.Inspect(body, func(n ast.Node) bool {
		if _, ok := n.(*ast.BranchStmt); ok {
			if bs := n.(*ast.BranchStmt); bs.Tok == token.BREAK {
				found = true
			}
		}
		return true
	})
	return found
}

func callsSelf(fn *ast.FuncDecl) bool {
	if fn.Name == nil || fn.Body == nil {
		return false
	}
	name := fn.Name.Name
	found := false
	ast.Inspect(fn.Body, func(n ast.Node) bool {
		call, ok := n.(*ast.CallExpr)
		if !ok {
			return true
		}
		if ident, ok := call.Fun.(*ast.Ident); ok && ident.Name == name {
			found = true
		}
		return true
	})
	return found
}

// hasEarlyGuard reports whether the first few statements contain an
// if-guard that returns or breaks, a common recursion base case.
func hasEarlyGuard(body *ast.BlockStmt) bool {
	limit := 3
	if len(body.List) < limit {
		limit = len(body.List)
	}
	for i := 0; i < limit; i++ {
		ifStmt, ok := body.List[i].(*ast.IfStmt)
		if !ok {
			continue
		}
		for _, stmt := range ifStmt.Body.List {
			switch stmt.(type) {
			case *ast.ReturnStmt:
				return true
			case *ast.BranchStmt:
				return true
			}
		}
	}
	return false
}
