package rewrite

import (
	"bytes"
	"errors"
	"fmt"
	"go/ast"
	"go/format"
	"go/parser"
	"go/token"
	"strings"
)

// Form selects how a Block is placed back into the surrounding code.
type Form string

const (
	// FormStmt replaces an expression statement with a block statement.
	FormStmt Form = "stmt"
	// FormGo and FormDefer keep the go or defer keyword on the final call,
	// so arguments are still evaluated where the statement stood.
	FormGo    Form = "go"
	FormDefer Form = "defer"
	// FormExpr wraps the block in an immediately called function literal,
	// usable anywhere a value is.
	FormExpr Form = "expr"
)

var errUntyped = errors.New("rewrite: expression form needs result types; rewrite WithTypes")

// SourceFunc returns the text to emit for a node of the original call.
type SourceFunc func(ast.Node) string

// Text renders the block in the given form. Argument expressions and the
// callee come from src, so the caller decides whether they are reprinted or
// copied from the original file. A nil src reprints them.
func (b *Block) Text(form Form, src SourceFunc) (string, error) {
	if src == nil {
		src = printNode
	}

	var sb strings.Builder
	switch form {
	case FormExpr:
		if !b.Typed {
			return "", errUntyped
		}
		if err := b.nameable(); err != nil {
			return "", err
		}
		sb.WriteString("func() ")
		switch len(b.Results) {
		case 0:
		case 1:
			sb.WriteString(b.Results[0])
			sb.WriteByte(' ')
		default:
			sb.WriteString("(" + strings.Join(b.Results, ", ") + ") ")
		}
		sb.WriteString("{\n")
	case FormStmt, FormGo, FormDefer:
		sb.WriteString("{\n")
	default:
		return "", fmt.Errorf("rewrite: unknown form %q", form)
	}

	for _, bind := range b.Bindings {
		names := make([]string, len(bind.Names))
		for i, id := range bind.Names {
			names[i] = id.Name
		}
		if bind.Type != "" {
			fmt.Fprintf(&sb, "var %s %s = %s\n", strings.Join(names, ", "), bind.Type, src(bind.Value))
		} else {
			fmt.Fprintf(&sb, "%s := %s\n", strings.Join(names, ", "), src(bind.Value))
		}
	}

	switch form {
	case FormGo:
		sb.WriteString("go ")
	case FormDefer:
		sb.WriteString("defer ")
	case FormExpr:
		if len(b.Results) > 0 {
			sb.WriteString("return ")
		}
	}
	sb.WriteString(src(b.orig.Node.Fun))
	sb.WriteByte('(')
	sb.WriteString(strings.Join(b.Temporaries(), ", "))
	if b.orig.Ellipsis {
		sb.WriteString("...")
	}
	sb.WriteString(")\n}")
	if form == FormExpr {
		sb.WriteString("()")
	}
	return sb.String(), nil
}

// Stmt returns the statement form. tok is token.GO or token.DEFER to keep
// that keyword on the call; any other value yields a plain call statement.
func (b *Block) Stmt(tok token.Token) *ast.BlockStmt {
	var last ast.Stmt
	switch tok {
	case token.GO:
		last = &ast.GoStmt{Call: b.Call}
	case token.DEFER:
		last = &ast.DeferStmt{Call: b.Call}
	default:
		last = &ast.ExprStmt{X: b.Call}
	}
	return &ast.BlockStmt{List: append(b.bindingStmts(), last)}
}

// Expr returns the expression form, func() R { ...; return call }(). The
// block must have been rewritten WithTypes.
func (b *Block) Expr() (*ast.CallExpr, error) {
	if !b.Typed {
		return nil, errUntyped
	}
	if err := b.nameable(); err != nil {
		return nil, err
	}
	var last ast.Stmt = &ast.ExprStmt{X: b.Call}
	var results *ast.FieldList
	if len(b.Results) > 0 {
		last = &ast.ReturnStmt{Results: []ast.Expr{b.Call}}
		results = &ast.FieldList{}
		for _, r := range b.Results {
			results.List = append(results.List, &ast.Field{Type: typeExpr(r)})
		}
	}
	lit := &ast.FuncLit{
		Type: &ast.FuncType{Params: &ast.FieldList{}, Results: results},
		Body: &ast.BlockStmt{List: append(b.bindingStmts(), last)},
	}
	return &ast.CallExpr{Fun: lit}, nil
}

// nameable rejects an expression form whose function literal would have to
// name an unexported type of another package.
func (b *Block) nameable() error {
	if b.hidden == nil {
		return nil
	}
	return Unsupported(b.orig.Node, fmt.Sprintf("the result type names %s, which is not exported from %s",
		b.hidden.Name(), b.hidden.Pkg().Path()))
}

func (b *Block) bindingStmts() []ast.Stmt {
	stmts := make([]ast.Stmt, 0, len(b.Bindings)+1)
	for _, bind := range b.Bindings {
		if bind.Type != "" {
			stmts = append(stmts, &ast.DeclStmt{Decl: &ast.GenDecl{
				Tok: token.VAR,
				Specs: []ast.Spec{&ast.ValueSpec{
					Names:  bind.Names,
					Type:   typeExpr(bind.Type),
					Values: []ast.Expr{bind.Value},
				}},
			}})
			continue
		}
		lhs := make([]ast.Expr, len(bind.Names))
		for i, id := range bind.Names {
			lhs[i] = id
		}
		stmts = append(stmts, &ast.AssignStmt{
			Lhs: lhs,
			Tok: token.DEFINE,
			Rhs: []ast.Expr{bind.Value},
		})
	}
	return stmts
}

func typeExpr(s string) ast.Expr {
	x, err := parser.ParseExpr(s)
	if err != nil {
		return ast.NewIdent(s)
	}
	return x
}

func printNode(n ast.Node) string {
	var buf bytes.Buffer
	if err := format.Node(&buf, token.NewFileSet(), n); err != nil {
		return fmt.Sprintf("<%v>", err)
	}
	return buf.String()
}
