package rewrite

import (
	"fmt"
	"go/ast"
	"go/constant"
	"go/token"
	"go/types"
)

// Binding is one generated temporary and the argument it captures.
type Binding struct {
	// Names usually holds a single identifier. A lone multi-valued argument,
	// as in f(g()), binds one name per value.
	Names []*ast.Ident
	Index int
	Value ast.Expr // the original argument node, not a copy
	// Type is set when the argument is untyped on its own and its context
	// converts it to something other than its default type. Constants, nil,
	// comparisons and shifts of constants are untyped this way. The binding
	// is then declared with var instead of :=.
	Type string
}

// Block is the rewritten form of a Call: bindings in argument order, then
// the call using only the temporaries.
type Block struct {
	Bindings []Binding
	Call     *ast.CallExpr
	// Results lists the call's result types. It is only meaningful when
	// Typed is set.
	Results []string
	Typed   bool

	orig   *Call
	hidden types.Object // a result type the expression form cannot name
}

// Temporaries returns the generated names in order.
func (b *Block) Temporaries() []string {
	var names []string
	for _, bind := range b.Bindings {
		for _, id := range bind.Names {
			names = append(names, id.Name)
		}
	}
	return names
}

// Option configures Rewrite.
type Option func(*options)

type options struct {
	info    *types.Info
	qual    types.Qualifier
	resQual types.Qualifier
	pkg     *types.Package
}

// WithTypes lets Rewrite consult type information for the call. Untyped
// constant arguments get an explicit declared type, multi-valued arguments
// are split, and result types are recorded for the expression form. qual
// renders package-qualified type names; nil means fully qualified paths.
func WithTypes(info *types.Info, qual types.Qualifier) Option {
	return func(o *options) {
		o.info = info
		o.qual = qual
		if o.resQual == nil {
			o.resQual = qual
		}
	}
}

// WithResultQualifier renders result types with qual instead of the
// qualifier given to WithTypes. Statement forms never print result types.
func WithResultQualifier(qual types.Qualifier) Option {
	return func(o *options) { o.resQual = qual }
}

// InPackage names the package the rewritten code is placed in. A declared
// or result type that names an unexported type of another package cannot be
// written there, and is rejected.
func InPackage(pkg *types.Package) Option {
	return func(o *options) { o.pkg = pkg }
}

// Rewrite binds every argument of call to a fresh name from names, in
// argument order, and builds the call over those names. The original AST is
// not modified.
func Rewrite(call *Call, names *Namer, opts ...Option) (*Block, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	var sig *types.Signature
	var conv types.Type
	if o.info != nil {
		sig, conv = calleeTypes(o.info, call.Node)
	}

	b := &Block{Typed: o.info != nil, orig: call}
	args := make([]ast.Expr, 0, len(call.Args))
	for i, arg := range call.Args {
		bind := Binding{Index: i, Value: arg}
		values := 1
		if o.info != nil {
			tv := o.info.Types[arg]
			if tv.IsType() {
				return nil, Unsupported(arg, fmt.Sprintf("argument %d is a type, not a value", i))
			}
			if tuple, ok := tv.Type.(*types.Tuple); ok && len(call.Args) == 1 && tuple.Len() > 1 {
				values = tuple.Len()
			}
			if t := declaredType(o.info, arg, tv, sig, conv, i, call.Ellipsis); t != nil {
				if obj := hiddenIn(t, o.pkg); obj != nil {
					return nil, Unsupported(arg, fmt.Sprintf("argument %d needs type %s, which is not exported from %s",
						i, types.TypeString(t, o.qual), obj.Pkg().Path()))
				}
				bind.Type = types.TypeString(t, o.qual)
			}
		}
		for j := 0; j < values; j++ {
			id := names.Fresh()
			bind.Names = append(bind.Names, id)
			args = append(args, ast.NewIdent(id.Name))
		}
		b.Bindings = append(b.Bindings, bind)
	}

	b.Call = &ast.CallExpr{Fun: pathExpr(call.Path), Args: args}
	if call.Ellipsis {
		b.Call.Ellipsis = call.Node.Ellipsis
	}
	if o.info != nil {
		for _, t := range resultTypes(o.info.TypeOf(call.Node)) {
			if b.hidden == nil {
				b.hidden = hiddenIn(t, o.pkg)
			}
			b.Results = append(b.Results, types.TypeString(t, o.resQual))
		}
	}
	return b, nil
}

// calleeTypes returns the signature of the callee, or the target type when
// the call is a conversion.
func calleeTypes(info *types.Info, node *ast.CallExpr) (*types.Signature, types.Type) {
	tv, ok := info.Types[node.Fun]
	if ok && tv.IsType() {
		return nil, tv.Type
	}
	t := tv.Type
	if !ok || t == nil {
		// Qualified identifiers may only be recorded through their selector.
		if sel, isSel := node.Fun.(*ast.SelectorExpr); isSel {
			if obj := info.Uses[sel.Sel]; obj != nil {
				if _, isType := obj.(*types.TypeName); isType {
					return nil, obj.Type()
				}
				t = obj.Type()
			}
		}
	}
	if t == nil {
		return nil, nil
	}
	sig, _ := t.Underlying().(*types.Signature)
	return sig, nil
}

// declaredType returns the type an argument must be declared with so that
// binding it to a temporary does not change its type, or nil when := keeps
// it. go/types records an untyped argument under the type its context gave
// it, so a recorded type that differs from the default type of the untyped
// expression means the context converted it.
func declaredType(info *types.Info, arg ast.Expr, tv types.TypeAndValue, sig *types.Signature, conv types.Type, i int, ellipsis bool) types.Type {
	if tv.IsNil() {
		target := conv
		if target == nil && sig != nil {
			target = paramType(sig, i, ellipsis)
		}
		return target
	}
	if tv.Type == nil {
		return nil
	}
	if b, ok := tv.Type.(*types.Basic); ok && b.Info()&types.IsUntyped != 0 {
		return nil
	}
	// A type parameter is an interface to IsInterface, but it converts
	// constants like any other type.
	if _, isParam := tv.Type.(*types.TypeParam); !isParam && types.IsInterface(tv.Type) {
		return nil
	}
	u := untypedKind(info, arg)
	if u == nil || types.Identical(types.Default(u), tv.Type) {
		return nil
	}
	return tv.Type
}

// untypedKind returns the untyped type e would have standing alone, or nil
// when e is typed on its own.
func untypedKind(info *types.Info, e ast.Expr) *types.Basic {
	switch x := ast.Unparen(e).(type) {
	case *ast.BasicLit:
		switch x.Kind {
		case token.INT:
			return types.Typ[types.UntypedInt]
		case token.FLOAT:
			return types.Typ[types.UntypedFloat]
		case token.IMAG:
			return types.Typ[types.UntypedComplex]
		case token.CHAR:
			return types.Typ[types.UntypedRune]
		case token.STRING:
			return types.Typ[types.UntypedString]
		}
	case *ast.Ident:
		return untypedConst(info.Uses[x])
	case *ast.SelectorExpr:
		return untypedConst(info.Uses[x.Sel])
	case *ast.UnaryExpr:
		switch x.Op {
		case token.ADD, token.SUB, token.XOR, token.NOT:
			return untypedKind(info, x.X)
		}
	case *ast.BinaryExpr:
		switch x.Op {
		case token.EQL, token.NEQ, token.LSS, token.LEQ, token.GTR, token.GEQ:
			return types.Typ[types.UntypedBool]
		case token.SHL, token.SHR:
			l := untypedKind(info, x.X)
			if l == nil {
				return nil
			}
			// A constant shift of an untyped constant is an integer.
			if info.Types[x].Value != nil && l.Kind() != types.UntypedRune {
				return types.Typ[types.UntypedInt]
			}
			return l
		}
		l, r := untypedKind(info, x.X), untypedKind(info, x.Y)
		if l == nil || r == nil {
			return nil
		}
		// Mixed untyped operands take the later kind of int, rune, float
		// and complex.
		if r.Kind() > l.Kind() {
			return r
		}
		return l
	case *ast.CallExpr:
		// real, imag and complex of untyped constants stay untyped.
		tv := info.Types[x]
		id, ok := ast.Unparen(x.Fun).(*ast.Ident)
		if !ok || tv.Value == nil {
			return nil
		}
		if _, builtin := info.Uses[id].(*types.Builtin); !builtin {
			return nil
		}
		switch id.Name {
		case "real", "imag", "complex":
			return untypedOf(tv.Value.Kind())
		}
	}
	return nil
}

// untypedConst returns the type of obj when it is an untyped constant.
func untypedConst(obj types.Object) *types.Basic {
	c, ok := obj.(*types.Const)
	if !ok {
		return nil
	}
	if b, ok := c.Type().(*types.Basic); ok && b.Info()&types.IsUntyped != 0 {
		return b
	}
	return nil
}

func untypedOf(k constant.Kind) *types.Basic {
	switch k {
	case constant.Bool:
		return types.Typ[types.UntypedBool]
	case constant.String:
		return types.Typ[types.UntypedString]
	case constant.Int:
		return types.Typ[types.UntypedInt]
	case constant.Float:
		return types.Typ[types.UntypedFloat]
	case constant.Complex:
		return types.Typ[types.UntypedComplex]
	}
	return nil
}

// hiddenIn returns a type name or member within t that code in pkg cannot
// refer to: one that is unexported and belongs to another package. A nil
// pkg disables the check.
func hiddenIn(t types.Type, pkg *types.Package) types.Object {
	if pkg == nil {
		return nil
	}
	hidden := func(obj types.Object) bool {
		return obj.Pkg() != nil && obj.Pkg() != pkg && !obj.Exported()
	}
	switch t := t.(type) {
	case *types.Alias:
		if hidden(t.Obj()) {
			return t.Obj()
		}
	case *types.Named:
		if hidden(t.Obj()) {
			return t.Obj()
		}
		for i := 0; i < t.TypeArgs().Len(); i++ {
			if obj := hiddenIn(t.TypeArgs().At(i), pkg); obj != nil {
				return obj
			}
		}
	case *types.Pointer:
		return hiddenIn(t.Elem(), pkg)
	case *types.Slice:
		return hiddenIn(t.Elem(), pkg)
	case *types.Array:
		return hiddenIn(t.Elem(), pkg)
	case *types.Chan:
		return hiddenIn(t.Elem(), pkg)
	case *types.Map:
		if obj := hiddenIn(t.Key(), pkg); obj != nil {
			return obj
		}
		return hiddenIn(t.Elem(), pkg)
	case *types.Signature:
		if obj := hiddenIn(t.Params(), pkg); obj != nil {
			return obj
		}
		return hiddenIn(t.Results(), pkg)
	case *types.Tuple:
		for i := 0; i < t.Len(); i++ {
			if obj := hiddenIn(t.At(i).Type(), pkg); obj != nil {
				return obj
			}
		}
	case *types.Struct:
		for i := 0; i < t.NumFields(); i++ {
			f := t.Field(i)
			if hidden(f) {
				return f
			}
			if obj := hiddenIn(f.Type(), pkg); obj != nil {
				return obj
			}
		}
	case *types.Interface:
		for i := 0; i < t.NumExplicitMethods(); i++ {
			if m := t.ExplicitMethod(i); hidden(m) {
				return m
			}
		}
	}
	return nil
}

func paramType(sig *types.Signature, i int, ellipsis bool) types.Type {
	params := sig.Params()
	n := params.Len()
	if n == 0 {
		return nil
	}
	if sig.Variadic() && i >= n-1 {
		last := params.At(n - 1).Type()
		if ellipsis {
			return last
		}
		if s, ok := last.Underlying().(*types.Slice); ok {
			return s.Elem()
		}
		return nil
	}
	if i < n {
		return params.At(i).Type()
	}
	return nil
}

func resultTypes(t types.Type) []types.Type {
	switch t := t.(type) {
	case nil:
		return nil
	case *types.Tuple:
		out := make([]types.Type, t.Len())
		for i := 0; i < t.Len(); i++ {
			out[i] = types.Default(t.At(i).Type())
		}
		return out
	default:
		return []types.Type{types.Default(t)}
	}
}
