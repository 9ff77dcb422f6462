package server

import (
	"strings"
	"testing"

	protocol "github.com/tliron/glsp/protocol_3_16"

	"github.com/chazu/unborrow/expand"
)

func newTestServer() *LspServer {
	return NewLSP(expand.New(expand.Config{}), "test")
}

// ---------------------------------------------------------------------------
// Position helpers
// ---------------------------------------------------------------------------

func TestOffsetOf(t *testing.T) {
	text := "ab\nx€y\n😀z"
	tests := []struct {
		name string
		pos  protocol.Position
		want int
	}{
		{"start", protocol.Position{Line: 0, Character: 0}, 0},
		{"after multibyte rune", protocol.Position{Line: 1, Character: 2}, 7},
		{"after surrogate pair", protocol.Position{Line: 2, Character: 2}, 13},
		{"past end of line", protocol.Position{Line: 0, Character: 10}, 2},
		{"line beyond document", protocol.Position{Line: 5, Character: 0}, len(text)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := offsetOf(text, tt.pos); got != tt.want {
				t.Errorf("offsetOf(%v) = %d, want %d", tt.pos, got, tt.want)
			}
		})
	}
}

func TestPositionOf(t *testing.T) {
	text := "ab\nx€y\n😀z"
	tests := []struct {
		offset int
		want   protocol.Position
	}{
		{0, protocol.Position{Line: 0, Character: 0}},
		{2, protocol.Position{Line: 0, Character: 2}},
		{7, protocol.Position{Line: 1, Character: 2}},
		{13, protocol.Position{Line: 2, Character: 2}},
		{100, protocol.Position{Line: 2, Character: 3}},
	}
	for _, tt := range tests {
		if got := positionOf(text, tt.offset); got != tt.want {
			t.Errorf("positionOf(%d) = %v, want %v", tt.offset, got, tt.want)
		}
	}
}

func TestFilenameOf(t *testing.T) {
	tests := []struct {
		uri  protocol.DocumentUri
		want string
	}{
		{"file:///tmp/a.go", "/tmp/a.go"},
		{"file:///tmp/with%20space.go", "/tmp/with space.go"},
		{"untitled:Untitled-1", "untitled:Untitled-1"},
	}
	for _, tt := range tests {
		if got := filenameOf(tt.uri); got != tt.want {
			t.Errorf("filenameOf(%q) = %q, want %q", tt.uri, got, tt.want)
		}
	}
}

// ---------------------------------------------------------------------------
// Code actions
// ---------------------------------------------------------------------------

const doc = `package p

type Vec struct{ s []int }

func (v *Vec) Len() int        { return len(v.s) }
func (v *Vec) Insert(i, x int) {}

func f(v *Vec) {
	v.Insert(v.Len(), 1)
}
`

func TestCodeActions(t *testing.T) {
	s := newTestServer()
	uri := protocol.DocumentUri("file:///proj/p.go")

	actions := s.codeActions(uri, doc, protocol.Position{Line: 8, Character: 3})
	if len(actions) != 1 {
		t.Fatalf("got %d code actions, want 1", len(actions))
	}
	a := actions[0]
	if a.Title != CodeActionTitle {
		t.Errorf("title = %q", a.Title)
	}
	if a.Kind == nil || *a.Kind != protocol.CodeActionKindRefactorRewrite {
		t.Errorf("kind = %v, want refactor.rewrite", a.Kind)
	}
	edits := a.Edit.Changes[uri]
	if len(edits) != 1 {
		t.Fatalf("got %d edits, want 1", len(edits))
	}
	if end := edits[0].Range.End; end.Line != 10 || end.Character != 0 {
		t.Errorf("edit ends at %v, want end of document", end)
	}
	for _, want := range []string{"arg0 := v.Len()", "arg1 := 1", "v.Insert(arg0, arg1)"} {
		if !strings.Contains(edits[0].NewText, want) {
			t.Errorf("edit does not contain %q:\n%s", want, edits[0].NewText)
		}
	}
}

func TestCodeActionsNoCall(t *testing.T) {
	s := newTestServer()
	if actions := s.codeActions("file:///proj/p.go", doc, protocol.Position{Line: 0, Character: 3}); actions != nil {
		t.Errorf("got %d code actions on the package clause, want none", len(actions))
	}
}

func TestCodeActionsUnparsable(t *testing.T) {
	s := newTestServer()
	if actions := s.codeActions("file:///proj/p.go", "package p\nfunc {", protocol.Position{Line: 1, Character: 2}); actions != nil {
		t.Errorf("got %d code actions for broken source, want none", len(actions))
	}
}

// ---------------------------------------------------------------------------
// Diagnostics
// ---------------------------------------------------------------------------

func TestDiagnostics(t *testing.T) {
	s := newTestServer()
	text := "package p\n\nvar x = 1 //unborrow\n"

	diags := s.diagnostics("file:///proj/p.go", text)
	if len(diags) != 1 {
		t.Fatalf("got %d diagnostics, want 1", len(diags))
	}
	d := diags[0]
	if d.Range.Start.Line != 2 || d.Range.Start.Character != 10 {
		t.Errorf("start = %v, want 2:10", d.Range.Start)
	}
	if d.Range.End.Line != 2 || d.Range.End.Character != 20 {
		t.Errorf("end = %v, want 2:20", d.Range.End)
	}
	if !strings.HasPrefix(d.Message, "unsupported syntax") {
		t.Errorf("message = %q, want it to start with the error kind", d.Message)
	}
	if !strings.Contains(d.Message, "no call expression follows //unborrow") {
		t.Errorf("message = %q", d.Message)
	}
	if d.Severity == nil || *d.Severity != protocol.DiagnosticSeverityError {
		t.Errorf("severity = %v, want error", d.Severity)
	}
}

func TestDiagnosticsClean(t *testing.T) {
	s := newTestServer()
	if diags := s.diagnostics("file:///proj/p.go", doc); len(diags) != 0 {
		t.Errorf("got %d diagnostics for a file without directives", len(diags))
	}
	if diags := s.diagnostics("file:///proj/p.go", "package"); diags == nil || len(diags) != 0 {
		t.Errorf("parse failure should publish an empty list, got %v", diags)
	}
}
