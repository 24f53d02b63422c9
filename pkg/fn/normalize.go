// Package fn implements ordinary-function wrapping (L3): source
// normalization, keyword-argument packing, and the process-wide function
// registry that stands in for a runtime eval Go does not have.
package fn

import (
	"bytes"
	"fmt"
	"go/ast"
	"go/format"
	"go/parser"
	"go/token"
	"strings"

	"github.com/cuemby/portalforge/pkg/portalerr"
)

// NormalizeSource parses source as a Go function declaration, strips all
// comments (documentation never participates in a function's identity),
// rejects anything that is not exactly one ordinary, non-variadic,
// non-method function, and reformats the result with go/format.
//
// It returns the function's name and its normalized source text.
func NormalizeSource(source string) (name string, normalized string, err error) {
	fset := token.NewFileSet()
	// Wrap in a throwaway package clause: callers pass a bare func
	// declaration, not a full file.
	wrapped := "package p\n\n" + source

	file, err := parser.ParseFile(fset, "", wrapped, parser.ParseComments)
	if err != nil {
		return "", "", fmt.Errorf("fn: failed to parse function source: %w: %w", err, portalerr.ErrOrdinarityViolation)
	}

	var decls []*ast.FuncDecl
	for _, d := range file.Decls {
		if fd, ok := d.(*ast.FuncDecl); ok {
			decls = append(decls, fd)
		}
	}
	if len(decls) == 0 {
		return "", "", fmt.Errorf("fn: no function definition found in source: %w", portalerr.ErrOrdinarityViolation)
	}
	if len(decls) > 1 {
		return "", "", fmt.Errorf("fn: multiple function definitions found in source: %w", portalerr.ErrOrdinarityViolation)
	}

	fd := decls[0]
	if err := assertOrdinarity(fd); err != nil {
		return "", "", err
	}

	// Strip all comments (doc comments included) by clearing the file's
	// comment map before printing.
	file.Comments = nil
	fd.Doc = nil

	var buf bytes.Buffer
	if err := format.Node(&buf, fset, fd); err != nil {
		return "", "", fmt.Errorf("fn: failed to reformat normalized source: %w", err)
	}

	return fd.Name.Name, strings.TrimSpace(buf.String()), nil
}

// assertOrdinarity enforces the Go analogs of the ordinary-function
// checks: not a method (no receiver), not variadic (the *args analog), and
// a non-empty body. Go has no default parameter values or positional-only
// parameters, so the corresponding original-language checks are vacuously
// satisfied and simply do not apply here.
func assertOrdinarity(fd *ast.FuncDecl) error {
	name := fd.Name.Name
	if fd.Recv != nil {
		return fmt.Errorf("fn: %s is a method, not an ordinary function: %w", name, portalerr.ErrOrdinarityViolation)
	}
	if fd.Type.Params != nil {
		for _, field := range fd.Type.Params.List {
			if _, ok := field.Type.(*ast.Ellipsis); ok {
				return fmt.Errorf("fn: %s is variadic, which is not allowed for ordinary functions: %w", name, portalerr.ErrOrdinarityViolation)
			}
		}
	}
	if fd.Body == nil || len(fd.Body.List) == 0 {
		return fmt.Errorf("fn: %s must have a non-empty body: %w", name, portalerr.ErrOrdinarityViolation)
	}
	return nil
}
