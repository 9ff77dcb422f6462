package expand

import (
	"go/ast"
	"go/importer"
	"go/token"
	"go/types"
	"strconv"
)

// sourceImporter type-checks imported packages from source. It is created on
// first use and shared by everything the Expander checks.
func (e *Expander) sourceImporter() types.Importer {
	if e.imp == nil {
		e.imp = importer.ForCompiler(token.NewFileSet(), "source", nil)
	}
	return e.imp
}

// typeCheck checks files as one package. The returned error is the first
// type error; the package and info are filled in as far as checking got.
func typeCheck(fset *token.FileSet, files []*ast.File, imp types.Importer) (*types.Package, *types.Info, error) {
	info := &types.Info{
		Types:      make(map[ast.Expr]types.TypeAndValue),
		Defs:       make(map[*ast.Ident]types.Object),
		Uses:       make(map[*ast.Ident]types.Object),
		Selections: make(map[*ast.SelectorExpr]*types.Selection),
	}
	var first error
	conf := types.Config{
		Importer: imp,
		Error: func(err error) {
			if first == nil {
				first = err
			}
		},
	}
	path := "main"
	if len(files) > 0 {
		path = files[0].Name.Name
	}
	pkg, _ := conf.Check(path, fset, files, info)
	return pkg, info, first
}

// qualifier prints package-qualified type names the way one file refers to
// them. A package the file does not import is recorded in missing.
type qualifier struct {
	pkg     *types.Package
	names   map[string]string // import path to local name
	missing string
}

func newQualifier(pkg *types.Package, f *ast.File) *qualifier {
	q := &qualifier{pkg: pkg, names: make(map[string]string)}
	declared := make(map[string]string)
	if pkg != nil {
		for _, imp := range pkg.Imports() {
			declared[imp.Path()] = imp.Name()
		}
	}
	for _, spec := range f.Imports {
		path, err := strconv.Unquote(spec.Path.Value)
		if err != nil {
			continue
		}
		name := declared[path]
		if spec.Name != nil {
			name = spec.Name.Name
		}
		switch name {
		case "", "_":
			continue
		case ".":
			name = ""
		}
		q.names[path] = name
	}
	return q
}

func (q *qualifier) qualify(p *types.Package) string {
	if p == q.pkg {
		return ""
	}
	if name, ok := q.names[p.Path()]; ok {
		return name
	}
	if q.missing == "" {
		q.missing = p.Path()
	}
	return p.Name()
}
