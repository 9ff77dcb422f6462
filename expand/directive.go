package expand

import (
	"bytes"
	"fmt"
	"go/ast"
	"go/token"
	"slices"
	"strings"

	"github.com/chazu/unborrow/rewrite"
)

// A mark is one directive comment and the call it targets.
type mark struct {
	comment  *ast.Comment
	trailing bool          // the directive follows code on its line
	call     *ast.CallExpr // nil when no call follows the directive
}

// isDirective reports whether a comment is exactly //directive, allowing
// trailing blanks. Like //go: directives there is no space after the slashes.
func isDirective(text, directive string) bool {
	rest, ok := strings.CutPrefix(text, "//")
	if !ok {
		return false
	}
	return strings.TrimRight(rest, " \t\r") == directive
}

// findMarks returns the directives of s.file in source order, each paired with
// its target. A trailing directive targets the outermost call starting on its
// line; a directive on a line of its own targets the next line holding code.
func findMarks(s *snapshot, directive string) []*mark {
	var marks []*mark
	for _, cg := range s.file.Comments {
		for _, c := range cg.List {
			if !isDirective(c.Text, directive) {
				continue
			}
			m := &mark{comment: c, trailing: codeBefore(s.src, s.offset(c.Pos()))}
			line := s.tf.Line(c.Pos())
			if !m.trailing {
				line = nextCodeLine(s.src, s.offset(c.End()), line)
			}
			if line > 0 {
				m.call = callOnLine(s.file, s.tf, line)
			}
			marks = append(marks, m)
		}
	}
	return marks
}

func codeBefore(src []byte, off int) bool {
	for i := off - 1; i >= 0 && src[i] != '\n'; i-- {
		if src[i] != ' ' && src[i] != '\t' {
			return true
		}
	}
	return false
}

// nextCodeLine returns the number of the first line after the one holding
// off that is neither blank nor a line comment, or 0 at end of file.
func nextCodeLine(src []byte, off, line int) int {
	nl := bytes.IndexByte(src[off:], '\n')
	if nl < 0 {
		return 0
	}
	for _, text := range bytes.SplitAfter(src[off+nl+1:], []byte("\n")) {
		line++
		trimmed := bytes.TrimSpace(text)
		if len(trimmed) == 0 || bytes.HasPrefix(trimmed, []byte("//")) {
			continue
		}
		return line
	}
	return 0
}

// callOnLine returns the leftmost outermost call expression that starts on
// line.
func callOnLine(f *ast.File, tf *token.File, line int) *ast.CallExpr {
	var found *ast.CallExpr
	ast.Inspect(f, func(n ast.Node) bool {
		if n == nil || found != nil {
			return false
		}
		if tf.Line(n.End()) < line || tf.Line(n.Pos()) > line {
			return false
		}
		if call, ok := n.(*ast.CallExpr); ok && tf.Line(call.Pos()) == line {
			found = call
			return false
		}
		return true
	})
	return found
}

// validate checks every mark before anything is rewritten, so that errors
// point at the code as the user wrote it. It also returns the marks that
// passed.
func (s *snapshot) validate(marks []*mark, directive string) (errs []error, valid []*mark) {
	seen := make(map[*ast.CallExpr]bool)
	for _, m := range marks {
		if m.call == nil {
			errs = append(errs, s.located(&rewrite.SyntaxError{
				Pos:    m.comment.Pos(),
				Detail: fmt.Sprintf("no call expression follows //%s", directive),
			}))
			continue
		}
		if seen[m.call] {
			errs = append(errs, s.located(rewrite.Unsupported(m.call, "call is marked more than once")))
			continue
		}
		seen[m.call] = true
		if _, err := rewrite.ParseCall(m.call); err != nil {
			errs = append(errs, s.located(err))
			continue
		}
		inside := slices.IndexFunc(m.call.Args, func(arg ast.Expr) bool {
			return arg.Pos() <= m.comment.Pos() && m.comment.End() <= arg.End()
		})
		if inside >= 0 {
			errs = append(errs, s.located(rewrite.Unsupported(m.call,
				fmt.Sprintf("//%s sits inside an argument of the call it marks", directive))))
			continue
		}
		valid = append(valid, m)
	}
	return errs, valid
}

// innermost returns the index of the first mark whose call contains no other
// marked call.
func innermost(marks []*mark) int {
	for k, m := range marks {
		nested := false
		for j, o := range marks {
			if j != k && o.call != m.call && m.call.Pos() <= o.call.Pos() && o.call.End() <= m.call.End() {
				nested = true
				break
			}
		}
		if !nested {
			return k
		}
	}
	return 0
}
