// Package expand applies the call rewriter to call sites marked in Go source.
//
// A site is marked with a line comment. A trailing directive marks the
// outermost call that starts on its line:
//
//	v.Insert(v.Len()-1, v.At(0)+41) //unborrow
//
// A directive on a line of its own marks the call on the next line of code.
// Sites are replaced in the source text one at a time, innermost first, so
// argument text and comments are kept as written. The result is gofmt'd.
package expand

import (
	"bytes"
	"cmp"
	"errors"
	"fmt"
	"go/ast"
	"go/format"
	"go/parser"
	"go/token"
	"go/types"
	"slices"
	"sync"

	"github.com/tliron/commonlog"
	"golang.org/x/tools/go/ast/astutil"

	"github.com/chazu/unborrow/rewrite"
)

var log = commonlog.GetLogger("unborrow.expand")

// DefaultDirective marks a call site as //unborrow.
const DefaultDirective = "unborrow"

// Config configures an Expander.
type Config struct {
	// Prefix is the stem of generated temporaries. Empty means
	// rewrite.DefaultPrefix.
	Prefix string
	// Directive is the comment text that marks a call, without the leading
	// slashes. Empty means DefaultDirective.
	Directive string
}

// Expander rewrites marked call sites. It is safe for concurrent use; calls
// are serialized.
type Expander struct {
	prefix    string
	directive string

	mu  sync.Mutex
	imp types.Importer
}

// New returns an Expander for cfg.
func New(cfg Config) *Expander {
	e := &Expander{prefix: cfg.Prefix, directive: cfg.Directive}
	if e.prefix == "" {
		e.prefix = rewrite.DefaultPrefix
	}
	if e.directive == "" {
		e.directive = DefaultDirective
	}
	return e
}

// Directive returns the comment that marks a call site, slashes included.
func (e *Expander) Directive() string { return "//" + e.directive }

// Site describes one applied rewrite. Line, Column and Call refer to the
// original source.
type Site struct {
	Filename    string       `yaml:"-"`
	Line        int          `yaml:"line"`
	Column      int          `yaml:"column"`
	Call        string       `yaml:"call"`
	Form        rewrite.Form `yaml:"form"`
	Temporaries []string     `yaml:"temporaries,flow,omitempty"`
}

// Result is the outcome for one file. When Err is set, Output is the
// original source: a file is rewritten completely or not at all.
type Result struct {
	Filename string
	Original []byte
	Output   []byte
	Sites    []Site
	Err      error
}

// Changed reports whether expansion altered the file.
func (r *Result) Changed() bool { return !bytes.Equal(r.Original, r.Output) }

// File expands a single file, type-checked on its own.
func (e *Expander) File(filename string, src []byte) (*Result, error) {
	results, err := e.Package([]string{filename}, [][]byte{src}, nil)
	if err != nil {
		return nil, err
	}
	return results[0], nil
}

// Package expands the files of one package, type-checking them together.
// imp resolves imports; nil type-checks imported packages from source. The
// error joins the errors of every failed file; results are returned for all
// files either way.
func (e *Expander) Package(filenames []string, srcs [][]byte, imp types.Importer) ([]*Result, error) {
	if len(filenames) != len(srcs) {
		return nil, fmt.Errorf("expand: %d filenames for %d sources", len(filenames), len(srcs))
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if imp == nil {
		imp = e.sourceImporter()
	}

	marker := []byte(e.Directive())
	cur := slices.Clone(srcs)
	results := make([]*Result, len(filenames))
	var errs []error
	for i, name := range filenames {
		r := &Result{Filename: name, Original: srcs[i], Output: srcs[i]}
		results[i] = r
		if !bytes.Contains(srcs[i], marker) {
			continue
		}
		out, sites, err := e.expandFile(filenames, cur, i, imp)
		if err != nil {
			r.Err = err
			errs = append(errs, err)
			continue
		}
		cur[i] = out
		r.Output, r.Sites = out, sites
		log.Debugf("%s: %d sites rewritten", name, len(sites))
	}
	return results, errors.Join(errs...)
}

func (e *Expander) expandFile(filenames []string, srcs [][]byte, i int, imp types.Importer) ([]byte, []Site, error) {
	srcs = slices.Clone(srcs)
	names := rewrite.NewNamer(e.prefix)
	var pending, sites []Site
	// Each pass consumes one directive. The count check below fails when a
	// pass does not, so there are at most len(pending)+1 passes.
	for pass := 0; ; pass++ {
		s, err := load(filenames, srcs, i, imp)
		if err != nil {
			if pass > 0 {
				return nil, nil, fmt.Errorf("%s: rewritten source does not parse: %w", filenames[i], err)
			}
			return nil, nil, err
		}

		marks := findMarks(s, e.directive)
		if errs, _ := s.validate(marks, e.directive); len(errs) > 0 {
			return nil, nil, errs[0]
		}
		if pass == 0 {
			for _, m := range marks {
				p := s.fset.Position(m.call.Pos())
				pending = append(pending, Site{Filename: filenames[i], Line: p.Line, Column: p.Column, Call: s.text(m.call)})
			}
		}
		if len(marks) == 0 {
			break
		}
		if len(marks) != len(pending) {
			return nil, nil, fmt.Errorf("%s: %d directives left after rewriting, want %d", filenames[i], len(marks), len(pending))
		}

		k := innermost(marks)
		names.ReserveFrom(s.file)
		out, site, err := e.apply(s, marks[k], names)
		if err != nil {
			return nil, nil, err
		}
		orig := pending[k]
		site.Filename, site.Line, site.Column, site.Call = orig.Filename, orig.Line, orig.Column, orig.Call
		sites = append(sites, site)
		pending = slices.Delete(pending, k, k+1)
		srcs[i] = out
	}
	if len(sites) == 0 {
		return srcs[i], nil, nil
	}

	out, err := format.Source(srcs[i])
	if err != nil {
		return nil, nil, fmt.Errorf("%s: formatting rewritten source: %w", filenames[i], err)
	}
	slices.SortFunc(sites, func(a, b Site) int {
		return cmp.Or(cmp.Compare(a.Line, b.Line), cmp.Compare(a.Column, b.Column))
	})
	return out, sites, nil
}

func (e *Expander) apply(s *snapshot, m *mark, names *rewrite.Namer) ([]byte, Site, error) {
	call, err := rewrite.ParseCall(m.call)
	if err != nil {
		return nil, Site{}, s.located(err)
	}
	form, node := classify(s.file, m.call)
	text, temps, err := s.render(call, form, names)
	if err != nil {
		return nil, Site{}, err
	}
	out := s.splice(s.offset(node.Pos()), s.offset(node.End()), text, m)
	return out, Site{Form: form, Temporaries: temps}, nil
}

// At rewrites the innermost call around offset in src as if it had been
// marked, for editors. The file is type-checked on its own. At returns nil
// when no call there can be rewritten.
func (e *Expander) At(filename string, src []byte, offset int) (*Result, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	s, err := load([]string{filename}, [][]byte{src}, 0, e.sourceImporter())
	if err != nil {
		return nil, err
	}
	if offset < 0 || offset > s.tf.Size() {
		return nil, nil
	}
	pos := s.tf.Pos(offset)
	path, _ := astutil.PathEnclosingInterval(s.file, pos, pos)
	var call *rewrite.Call
	for _, n := range path {
		node, ok := n.(*ast.CallExpr)
		if !ok || len(node.Args) == 0 {
			continue
		}
		if c, err := rewrite.ParseCall(node); err == nil {
			call = c
			break
		}
	}
	if call == nil {
		return nil, nil
	}

	form, node := classify(s.file, call.Node)
	if form == rewrite.FormExpr && s.typeErr != nil {
		log.Debugf("%s: no types for expression-context call: %v", filename, s.typeErr)
		return nil, nil
	}
	names := rewrite.NewNamer(e.prefix)
	names.ReserveFrom(s.file)
	text, temps, err := s.render(call, form, names)
	if err != nil {
		return nil, err
	}
	out, err := format.Source(replace(src, s.offset(node.Pos()), s.offset(node.End()), text))
	if err != nil {
		return nil, fmt.Errorf("%s: formatting rewritten source: %w", filename, err)
	}
	p := s.fset.Position(call.Node.Pos())
	return &Result{
		Filename: filename,
		Original: src,
		Output:   out,
		Sites: []Site{{
			Filename:    filename,
			Line:        p.Line,
			Column:      p.Column,
			Call:        s.text(call.Node),
			Form:        form,
			Temporaries: temps,
		}},
	}, nil
}

// Diagnose reports every problem with the directives in src, rather than
// stopping at the first. The file is type-checked on its own; when that
// succeeds, each valid site is also rendered, without splicing, to catch what
// only the rewrite itself rejects. Only a parse failure is returned as the
// error.
func (e *Expander) Diagnose(filename string, src []byte) ([]*rewrite.SyntaxError, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	s, err := load([]string{filename}, [][]byte{src}, 0, e.sourceImporter())
	if err != nil {
		return nil, err
	}
	errs, valid := s.validate(findMarks(s, e.directive), e.directive)
	if s.typeErr == nil {
		for _, m := range valid {
			call, err := rewrite.ParseCall(m.call)
			if err != nil {
				errs = append(errs, s.located(err))
				continue
			}
			form, _ := classify(s.file, m.call)
			names := rewrite.NewNamer(e.prefix)
			names.ReserveFrom(s.file)
			if _, _, err := s.render(call, form, names); err != nil {
				errs = append(errs, err)
			}
		}
	} else {
		log.Debugf("%s: diagnosing without type information: %v", filename, s.typeErr)
	}

	var out []*rewrite.SyntaxError
	for _, err := range errs {
		var se *rewrite.SyntaxError
		if errors.As(err, &se) {
			out = append(out, se)
		}
	}
	slices.SortStableFunc(out, func(a, b *rewrite.SyntaxError) int {
		return cmp.Compare(a.Position.Offset, b.Position.Offset)
	})
	return out, nil
}

// A snapshot is one parse of the file being expanded, with type information
// for its package when checking succeeded.
type snapshot struct {
	fset *token.FileSet
	file *ast.File
	tf   *token.File
	src  []byte

	pkg     *types.Package
	info    *types.Info
	typeErr error
}

func newSnapshot(fset *token.FileSet, f *ast.File, src []byte) *snapshot {
	return &snapshot{fset: fset, file: f, tf: fset.File(f.Pos()), src: src}
}

// load parses the file at index i and its siblings and type-checks them
// together. Siblings that do not parse or belong to another package are
// left out of checking.
func load(filenames []string, srcs [][]byte, i int, imp types.Importer) (*snapshot, error) {
	fset := token.NewFileSet()
	parsed := make([]*ast.File, len(srcs))
	for j, name := range filenames {
		f, err := parser.ParseFile(fset, name, srcs[j], parser.ParseComments|parser.SkipObjectResolution)
		if err != nil {
			if j == i {
				return nil, err
			}
			log.Warningf("leaving %s out of type checking: %v", name, err)
			continue
		}
		parsed[j] = f
	}
	target := parsed[i]
	files := []*ast.File{target}
	for j, f := range parsed {
		if j != i && f != nil && f.Name.Name == target.Name.Name {
			files = append(files, f)
		}
	}

	s := newSnapshot(fset, target, srcs[i])
	s.pkg, s.info, s.typeErr = typeCheck(fset, files, imp)
	return s, nil
}

func (s *snapshot) offset(p token.Pos) int { return s.tf.Offset(p) }

// text returns the source text of n.
func (s *snapshot) text(n ast.Node) string {
	return string(s.src[s.offset(n.Pos()):s.offset(n.End())])
}

// located fills in the file position of a SyntaxError.
func (s *snapshot) located(err error) error {
	var se *rewrite.SyntaxError
	if errors.As(err, &se) && se.Pos.IsValid() && !se.Position.IsValid() {
		se.Position = s.fset.Position(se.Pos)
	}
	return err
}

// render rewrites call in the given form, using the package's type
// information when checking succeeded.
func (s *snapshot) render(call *rewrite.Call, form rewrite.Form, names *rewrite.Namer) (string, []string, error) {
	pos := s.fset.Position(call.Node.Pos())
	var opts []rewrite.Option
	var q *qualifier
	switch {
	case s.typeErr == nil:
		q = newQualifier(s.pkg, s.file)
		opts = append(opts, rewrite.WithTypes(s.info, q.qualify), rewrite.InPackage(s.pkg))
		if form != rewrite.FormExpr {
			opts = append(opts, rewrite.WithResultQualifier(types.RelativeTo(s.pkg)))
		}
	case form == rewrite.FormExpr:
		return "", nil, fmt.Errorf("%s: a call in expression context needs type information: %w", pos, s.typeErr)
	default:
		if arg := untypedArg(call.Args); arg != nil {
			return "", nil, fmt.Errorf("%s: argument %s needs type information to keep its type: %w",
				pos, types.ExprString(arg), s.typeErr)
		}
		log.Warningf("%s: rewriting without type information: %v", pos, s.typeErr)
	}

	if form == rewrite.FormExpr {
		if r := findRecover(s.info, call.Args); r != nil {
			return "", nil, s.located(rewrite.Unsupported(r, "recover() cannot move into a function literal"))
		}
	}
	block, err := rewrite.Rewrite(call, names, opts...)
	if err != nil {
		return "", nil, s.located(err)
	}
	text, err := block.Text(form, s.text)
	if err != nil {
		var se *rewrite.SyntaxError
		if errors.As(err, &se) {
			return "", nil, s.located(err)
		}
		return "", nil, fmt.Errorf("%s: %w", pos, err)
	}
	if q != nil && q.missing != "" {
		return "", nil, s.located(rewrite.Unsupported(call.Node,
			fmt.Sprintf("the rewrite names a type from %q, which this file does not import", q.missing)))
	}
	return text, block.Temporaries(), nil
}

// splice replaces src[start:end] with text and removes the directive of m.
// A directive inside the replaced range goes with it.
func (s *snapshot) splice(start, end int, text string, m *mark) []byte {
	src := s.src
	cs, ce := s.offset(m.comment.Pos()), s.offset(m.comment.End())
	if start <= cs && ce <= end {
		return replace(src, start, end, text)
	}
	if m.trailing {
		for cs > 0 && (src[cs-1] == ' ' || src[cs-1] == '\t') {
			cs--
		}
	} else {
		for cs > 0 && src[cs-1] != '\n' {
			cs--
		}
		if ce < len(src) && src[ce] == '\n' {
			ce++
		}
	}
	if ce <= start {
		return replace(replace(src, start, end, text), cs, ce, "")
	}
	return replace(replace(src, cs, ce, ""), start, end, text)
}

func replace(src []byte, start, end int, text string) []byte {
	out := make([]byte, 0, len(src)-(end-start)+len(text))
	out = append(out, src[:start]...)
	out = append(out, text...)
	return append(out, src[end:]...)
}
