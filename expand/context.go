package expand

import (
	"go/ast"
	"go/token"
	"go/types"
	"slices"

	"golang.org/x/tools/go/ast/astutil"

	"github.com/chazu/unborrow/rewrite"
)

// classify picks the form for call from where it stands in f and returns
// the node the rewritten text replaces.
func classify(f *ast.File, call *ast.CallExpr) (rewrite.Form, ast.Node) {
	path, _ := astutil.PathEnclosingInterval(f, call.Pos(), call.End())
	var parent, grand ast.Node
	if len(path) > 1 {
		parent = path[1]
	}
	if len(path) > 2 {
		grand = path[2]
	}
	switch p := parent.(type) {
	case *ast.GoStmt:
		return rewrite.FormGo, p
	case *ast.DeferStmt:
		return rewrite.FormDefer, p
	case *ast.ExprStmt:
		if inStmtList(grand, p) {
			return rewrite.FormStmt, p
		}
	}
	return rewrite.FormExpr, call
}

// inStmtList reports whether stmt is an element of a statement list, where
// a block statement can stand in for it. Init and post statements of if,
// for and switch, and the communication of a select case, are not.
func inStmtList(parent ast.Node, stmt ast.Stmt) bool {
	switch p := parent.(type) {
	case *ast.BlockStmt, *ast.LabeledStmt:
		return true
	case *ast.CaseClause:
		return slices.Contains(p.Body, stmt)
	case *ast.CommClause:
		return slices.Contains(p.Body, stmt)
	}
	return false
}

// findRecover returns a call of the builtin recover among args, outside of
// any nested function literal.
func findRecover(info *types.Info, args []ast.Expr) ast.Node {
	var found ast.Node
	for _, arg := range args {
		ast.Inspect(arg, func(n ast.Node) bool {
			if found != nil {
				return false
			}
			switch n := n.(type) {
			case *ast.FuncLit:
				return false
			case *ast.CallExpr:
				id, ok := ast.Unparen(n.Fun).(*ast.Ident)
				if !ok || id.Name != "recover" {
					return true
				}
				if _, builtin := info.Uses[id].(*types.Builtin); builtin {
					found = n
				}
			}
			return true
		})
	}
	return found
}

// untypedArg returns the first of args that may be untyped, judged from its
// syntax alone: a literal, nil, true, false or iota, a comparison, or a shift
// or arithmetic over those. Without type information := could give such an
// argument another type than the call does.
func untypedArg(args []ast.Expr) ast.Expr {
	for _, arg := range args {
		if mayBeUntyped(arg) {
			return arg
		}
	}
	return nil
}

func mayBeUntyped(e ast.Expr) bool {
	switch x := ast.Unparen(e).(type) {
	case *ast.BasicLit:
		return true
	case *ast.Ident:
		switch x.Name {
		case "nil", "true", "false", "iota":
			return true
		}
	case *ast.UnaryExpr:
		switch x.Op {
		case token.ADD, token.SUB, token.XOR, token.NOT:
			return mayBeUntyped(x.X)
		}
	case *ast.BinaryExpr:
		switch x.Op {
		case token.EQL, token.NEQ, token.LSS, token.LEQ, token.GTR, token.GEQ:
			return true
		case token.SHL, token.SHR:
			return mayBeUntyped(x.X)
		}
		return mayBeUntyped(x.X) && mayBeUntyped(x.Y)
	}
	return false
}
