// Package rewrite turns a call of the form receiver.method(args...) into a
// block that binds every argument to a fresh temporary, left to right, before
// the call itself is made.
//
// The receiver path is passed through untouched; only the argument list is
// rewritten. A rewritten block evaluates to exactly what the original call
// evaluated to.
package rewrite

import (
	"errors"
	"fmt"
	"go/ast"
	"go/parser"
	"go/token"
	"go/types"
	"strings"
)

// ErrUnsupportedSyntax is the only error the rewriter produces. Every
// *SyntaxError wraps it.
var ErrUnsupportedSyntax = errors.New("unsupported syntax")

const expectedForm = "expected a call of the form receiver.method(args...)"

// SyntaxError reports a construct outside the supported call grammar.
type SyntaxError struct {
	Pos      token.Pos
	Position token.Position // resolved by callers that own the FileSet
	Fragment string
	Detail   string
}

func (e *SyntaxError) Error() string {
	var b strings.Builder
	if e.Position.IsValid() {
		b.WriteString(e.Position.String())
		b.WriteString(": ")
	}
	b.WriteString(ErrUnsupportedSyntax.Error())
	b.WriteString(": ")
	b.WriteString(expectedForm)
	if e.Detail != "" {
		b.WriteString(": ")
		b.WriteString(e.Detail)
	}
	if e.Fragment != "" {
		fmt.Fprintf(&b, " in `%s`", e.Fragment)
	}
	return b.String()
}

func (e *SyntaxError) Unwrap() error { return ErrUnsupportedSyntax }

// Unsupported builds a SyntaxError pointing at n.
func Unsupported(n ast.Node, detail string) *SyntaxError {
	e := &SyntaxError{Detail: detail}
	if n == nil {
		return e
	}
	e.Pos = n.Pos()
	if x, ok := n.(ast.Expr); ok {
		e.Fragment = types.ExprString(x)
	}
	return e
}

// Call is a parsed call site: an identifier path and its arguments.
type Call struct {
	// Path holds the dot-separated identifiers of the callee, receiver
	// segments first and the method or function name last.
	Path     []string
	Args     []ast.Expr
	Ellipsis bool // last argument is spread with ...
	Node     *ast.CallExpr
}

// Receiver returns the path segments before the method name. It is empty
// for a plain function call.
func (c *Call) Receiver() []string { return c.Path[:len(c.Path)-1] }

// Method returns the final path segment.
func (c *Call) Method() string { return c.Path[len(c.Path)-1] }

func (c *Call) String() string { return types.ExprString(c.Node) }

// ParseCall checks that expr is a call whose callee is a plain identifier
// path and returns it as a Call.
func ParseCall(expr ast.Expr) (*Call, error) {
	node, ok := expr.(*ast.CallExpr)
	if !ok {
		return nil, Unsupported(expr, "not a call expression")
	}
	path, err := calleePath(node.Fun)
	if err != nil {
		return nil, err
	}
	return &Call{
		Path:     path,
		Args:     node.Args,
		Ellipsis: node.Ellipsis.IsValid(),
		Node:     node,
	}, nil
}

// ParseCallString parses src as a Go expression and then applies ParseCall.
func ParseCallString(src string) (*Call, error) {
	expr, err := parser.ParseExpr(src)
	if err != nil {
		return nil, &SyntaxError{Fragment: src, Detail: err.Error()}
	}
	return ParseCall(expr)
}

func calleePath(fun ast.Expr) ([]string, error) {
	var rev []string
	for {
		switch e := fun.(type) {
		case *ast.Ident:
			rev = append(rev, e.Name)
			path := make([]string, len(rev))
			for i, name := range rev {
				path[len(rev)-1-i] = name
			}
			return path, nil
		case *ast.SelectorExpr:
			rev = append(rev, e.Sel.Name)
			fun = e.X
		case *ast.CallExpr:
			return nil, Unsupported(e, "receiver path contains a call")
		case *ast.IndexExpr, *ast.IndexListExpr:
			return nil, Unsupported(e, "receiver path contains an index or type argument list")
		case *ast.ParenExpr:
			return nil, Unsupported(e, "receiver path contains parentheses")
		case *ast.FuncLit:
			return nil, Unsupported(e, "callee is a function literal")
		default:
			return nil, Unsupported(e, "receiver path contains "+describe(e))
		}
	}
}

func describe(e ast.Expr) string {
	switch e.(type) {
	case *ast.StarExpr:
		return "a dereference"
	case *ast.UnaryExpr, *ast.BinaryExpr:
		return "an operator"
	case *ast.TypeAssertExpr:
		return "a type assertion"
	case *ast.SliceExpr:
		return "a slice expression"
	case *ast.CompositeLit:
		return "a composite literal"
	case *ast.BasicLit:
		return "a literal"
	case *ast.ArrayType, *ast.MapType, *ast.ChanType, *ast.FuncType,
		*ast.InterfaceType, *ast.StructType:
		return "a type literal"
	}
	return "an unsupported expression"
}

func pathExpr(path []string) ast.Expr {
	var x ast.Expr = ast.NewIdent(path[0])
	for _, name := range path[1:] {
		x = &ast.SelectorExpr{X: x, Sel: ast.NewIdent(name)}
	}
	return x
}
