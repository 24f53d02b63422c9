// Package autonomy implements the static self-containment check (L5 of the
// portal stack): a registered autonomous function may reference only its
// own parameters/locals, Go builtins, and an explicit allow-list of
// package-qualified selectors, nothing else, and no `go` statements.
package autonomy

import (
	"fmt"
	"go/ast"
	"go/parser"
	"go/token"
	"strings"

	"github.com/cuemby/portalforge/pkg/logging"
	"github.com/cuemby/portalforge/pkg/metrics"
	"github.com/cuemby/portalforge/pkg/portalerr"
)

// builtins are the Go predeclared identifiers always permitted.
var builtins = map[string]struct{}{
	"len": {}, "cap": {}, "append": {}, "copy": {}, "delete": {},
	"make": {}, "new": {}, "panic": {}, "recover": {}, "print": {},
	"println": {}, "close": {}, "min": {}, "max": {}, "clear": {},
	"true": {}, "false": {}, "nil": {}, "iota": {},
	"string": {}, "bool": {}, "byte": {}, "rune": {},
	"int": {}, "int8": {}, "int16": {}, "int32": {}, "int64": {},
	"uint": {}, "uint8": {}, "uint16": {}, "uint32": {}, "uint64": {}, "uintptr": {},
	"float32": {}, "float64": {}, "complex64": {}, "complex128": {},
	"error": {}, "any": {}, "comparable": {},
}

// Report is the outcome of analyzing one function for autonomy.
type Report struct {
	FunctionName      string
	Local             map[string]struct{}
	UnclassifiedNames []string
	HasGoStatement    bool
}

// Autonomous reports whether the function is self-contained: no unclassified
// names, no go statements.
func (r *Report) Autonomous() bool {
	return len(r.UnclassifiedNames) == 0 && !r.HasGoStatement
}

// Analyze parses source (a single Go function declaration) and classifies
// every referenced name against the function's own parameters/locals, Go
// builtins, and allowedSelectors (package-qualified names such as
// "fmt.Sprintf" permitted despite not being locally defined).
func Analyze(source string, allowedSelectors []string) (*Report, error) {
	fset := token.NewFileSet()
	file, err := parser.ParseFile(fset, "", "package p\n\n"+source, 0)
	if err != nil {
		return nil, fmt.Errorf("autonomy: failed to parse source: %w", err)
	}

	var fd *ast.FuncDecl
	for _, d := range file.Decls {
		if f, ok := d.(*ast.FuncDecl); ok {
			fd = f
			break
		}
	}
	if fd == nil {
		return nil, fmt.Errorf("autonomy: no function declaration found in source")
	}

	allowed := make(map[string]struct{}, len(allowedSelectors))
	for _, s := range allowedSelectors {
		allowed[s] = struct{}{}
	}

	a := &analyzer{
		local:   make(map[string]struct{}),
		allowed: allowed,
	}
	// A function may always reference its own name, which is what makes
	// direct recursion autonomous.
	a.local[fd.Name.Name] = struct{}{}
	a.collectParams(fd)

	ast.Inspect(fd.Body, a.visit)

	unclassified := make([]string, 0, len(a.unclassified))
	for name := range a.unclassified {
		unclassified = append(unclassified, name)
	}

	return &Report{
		FunctionName:      fd.Name.Name,
		Local:             a.local,
		UnclassifiedNames: unclassified,
		HasGoStatement:    a.hasGoStmt,
	}, nil
}

// AssertAutonomous is a convenience wrapper that returns
// portalerr.ErrAutonomyViolation with a descriptive message if source is
// not autonomous.
func AssertAutonomous(source string, allowedSelectors []string) error {
	report, err := Analyze(source, allowedSelectors)
	if err != nil {
		return err
	}
	log := logging.WithComponent("autonomy")
	if report.HasGoStatement {
		metrics.AutonomyViolationsTotal.Inc()
		log.Warn().Str("fn", report.FunctionName).Msg("rejected: contains a go statement")
		return fmt.Errorf("autonomy: function %s contains a go statement: %w",
			report.FunctionName, portalerr.ErrAutonomyViolation)
	}
	if len(report.UnclassifiedNames) > 0 {
		metrics.AutonomyViolationsTotal.Inc()
		log.Warn().Str("fn", report.FunctionName).Strs("names", report.UnclassifiedNames).Msg("rejected: references unclassified names")
		return fmt.Errorf("autonomy: function %s references unclassified names %v: %w",
			report.FunctionName, report.UnclassifiedNames, portalerr.ErrAutonomyViolation)
	}
	return nil
}

type analyzer struct {
	local        map[string]struct{}
	allowed      map[string]struct{}
	unclassified map[string]struct{}
	hasGoStmt    bool
}

func (a *analyzer) collectParams(fd *ast.FuncDecl) {
	collect := func(fl *ast.FieldList) {
		if fl == nil {
			return
		}
		for _, field := range fl.List {
			for _, name := range field.Names {
				a.local[name.Name] = struct{}{}
			}
		}
	}
	collect(fd.Type.Params)
	collect(fd.Type.Results)
}

func (a *analyzer) markLocal(expr ast.Expr) {
	switch e := expr.(type) {
	case *ast.Ident:
		a.local[e.Name] = struct{}{}
	}
}

func (a *analyzer) visit(n ast.Node) bool {
	switch node := n.(type) {
	case *ast.GoStmt:
		a.hasGoStmt = true
	case *ast.AssignStmt:
		if node.Tok == token.DEFINE {
			for _, lhs := range node.Lhs {
				a.markLocal(lhs)
			}
		}
	case *ast.RangeStmt:
		if node.Tok == token.DEFINE {
			if node.Key != nil {
				a.markLocal(node.Key)
			}
			if node.Value != nil {
				a.markLocal(node.Value)
			}
		}
	case *ast.ValueSpec:
		// var/const declarations: `var x, y int` or `const n = 5` bind
		// locals the same way an assignment does.
		for _, name := range node.Names {
			a.local[name.Name] = struct{}{}
		}
	case *ast.TypeSpec:
		// a local type declaration (`type point struct{...}` inside a
		// function body) binds its own name.
		a.local[node.Name.Name] = struct{}{}
	case *ast.FuncLit:
		// a closure's own parameters and named results are locals within
		// its body; this analyzer keeps one flat local set for the whole
		// analyzed tree and merges nested scopes back into it, so a
		// FuncLit's params fold into the same set.
		a.collectParams(&ast.FuncDecl{Name: &ast.Ident{Name: ""}, Type: node.Type})
	case *ast.CompositeLit:
		// a composite literal's Type (e.g. the field declarations of an
		// inline anonymous struct type, or a named type reference) is a
		// type expression, not a value reference; only its elements can
		// reference names that need classifying. A named type such as
		// `Point{...}` still needs its type identifier classified, so only
		// struct-shaped inline type literals are skipped here.
		if _, ok := node.Type.(*ast.StructType); !ok && node.Type != nil {
			ast.Inspect(node.Type, a.visit)
		}
		for _, elt := range node.Elts {
			ast.Inspect(elt, a.visit)
		}
		return false
	case *ast.KeyValueExpr:
		// struct-literal field keys (`Point{X: 1}`) are not name
		// references; only descend into the value, and into the key when
		// it is itself an expression (map literals use arbitrary key
		// expressions, which must still be classified normally).
		if _, ok := node.Key.(*ast.Ident); !ok {
			ast.Inspect(node.Key, a.visit)
		}
		ast.Inspect(node.Value, a.visit)
		return false
	case *ast.LabeledStmt:
		// a statement label (`loop:`) is a branch target, not a name
		// reference; descend into the labeled statement only.
		ast.Inspect(node.Stmt, a.visit)
		return false
	case *ast.BranchStmt:
		// break/continue/goto label operands are the same branch-target
		// namespace as LabeledStmt, never a value reference.
		return false
	case *ast.SelectorExpr:
		if pkgIdent, ok := node.X.(*ast.Ident); ok {
			selector := pkgIdent.Name + "." + node.Sel.Name
			if _, known := a.local[pkgIdent.Name]; !known {
				if _, ok := a.allowed[selector]; !ok {
					a.noteUnclassified(selector)
				}
			}
			// node.X was fully resolved above (either local, allowed, or
			// flagged as part of the selector); don't reclassify it as a
			// bare identifier, and node.Sel is a field/method name, not a
			// free-standing reference.
			return false
		}
		// node.X is itself a composite expression (a chained selector or a
		// call); keep descending normally.
	case *ast.Ident:
		a.classifyIdent(node)
	}
	return true
}

func (a *analyzer) classifyIdent(id *ast.Ident) {
	name := id.Name
	if name == "_" {
		return
	}
	if _, ok := a.local[name]; ok {
		return
	}
	if _, ok := builtins[name]; ok {
		return
	}
	a.noteUnclassified(name)
}

func (a *analyzer) noteUnclassified(name string) {
	if a.unclassified == nil {
		a.unclassified = make(map[string]struct{})
	}
	if !strings.HasPrefix(name, "_") {
		a.unclassified[name] = struct{}{}
	}
}
