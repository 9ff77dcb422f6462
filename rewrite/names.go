package rewrite

import (
	"go/ast"
	"go/types"
	"strconv"
)

// DefaultPrefix is the stem of generated temporary names.
const DefaultPrefix = "arg"

// Namer hands out identifiers that collide neither with reserved names nor
// with each other. Names are prefix0, prefix1, ... from a counter that never
// goes backwards, so a Namer shared by several rewrites in one file never
// repeats itself.
type Namer struct {
	prefix string
	next   int
	taken  map[string]bool
}

// NewNamer returns a Namer for prefix. Predeclared identifiers such as int
// and float32 are always reserved.
func NewNamer(prefix string) *Namer {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	n := &Namer{prefix: prefix, taken: make(map[string]bool)}
	n.Reserve(types.Universe.Names()...)
	return n
}

// Reserve marks names as unavailable.
func (n *Namer) Reserve(names ...string) {
	for _, name := range names {
		n.taken[name] = true
	}
}

// ReserveFrom reserves every identifier that appears in node.
func (n *Namer) ReserveFrom(node ast.Node) {
	ast.Inspect(node, func(x ast.Node) bool {
		if id, ok := x.(*ast.Ident); ok {
			n.taken[id.Name] = true
		}
		return true
	})
}

// Taken reports whether name is reserved or was already issued.
func (n *Namer) Taken(name string) bool { return n.taken[name] }

// Fresh returns a new identifier and reserves it.
func (n *Namer) Fresh() *ast.Ident {
	for {
		name := n.prefix + strconv.Itoa(n.next)
		n.next++
		if !n.taken[name] {
			n.taken[name] = true
			return ast.NewIdent(name)
		}
	}
}
