package server

import (
	"go/token"
	"net/url"
	"strings"
	"sync"
	"unicode/utf16"

	"github.com/tliron/commonlog"
	"github.com/tliron/glsp"
	protocol "github.com/tliron/glsp/protocol_3_16"
	glspserver "github.com/tliron/glsp/server"

	"github.com/chazu/unborrow/expand"

	_ "github.com/tliron/commonlog/simple"
)

const lspName = "unborrow-lsp"

// CodeActionTitle names the rewrite in the editor's code action menu.
const CodeActionTitle = "Precompute call arguments"

var log = commonlog.GetLogger("unborrow.server")

// LspServer offers the call rewrite as a code action and reports malformed
// marked sites as diagnostics.
type LspServer struct {
	expander *expand.Expander

	mu   sync.Mutex
	docs map[string]string // URI → full document content

	handler protocol.Handler
	server  *glspserver.Server
	version string
}

// NewLSP creates a new LSP server rewriting with e.
func NewLSP(e *expand.Expander, version string) *LspServer {
	s := &LspServer{
		expander: e,
		docs:     make(map[string]string),
		version:  version,
	}

	s.handler = protocol.Handler{
		Initialize:  s.initialize,
		Initialized: s.initialized,
		Shutdown:    s.shutdown,
		SetTrace:    s.setTrace,

		TextDocumentDidOpen:   s.textDocumentDidOpen,
		TextDocumentDidChange: s.textDocumentDidChange,
		TextDocumentDidClose:  s.textDocumentDidClose,

		TextDocumentCodeAction: s.textDocumentCodeAction,
	}

	s.server = glspserver.NewServer(&s.handler, lspName, false)

	return s
}

// Run starts the LSP server on stdio. Blocks until the client disconnects.
func (s *LspServer) Run() error {
	return s.server.RunStdio()
}

// --- LSP lifecycle handlers ---

func (s *LspServer) initialize(ctx *glsp.Context, params *protocol.InitializeParams) (any, error) {
	log.Info("unborrow LSP initializing")

	capabilities := s.handler.CreateServerCapabilities()

	syncKind := protocol.TextDocumentSyncKindFull
	capabilities.TextDocumentSync = &protocol.TextDocumentSyncOptions{
		OpenClose: boolPtr(true),
		Change:    &syncKind,
	}
	capabilities.CodeActionProvider = &protocol.CodeActionOptions{
		CodeActionKinds: []protocol.CodeActionKind{protocol.CodeActionKindRefactorRewrite},
	}

	return protocol.InitializeResult{
		Capabilities: capabilities,
		ServerInfo: &protocol.InitializeResultServerInfo{
			Name:    lspName,
			Version: &s.version,
		},
	}, nil
}

func (s *LspServer) initialized(ctx *glsp.Context, params *protocol.InitializedParams) error {
	return nil
}

func (s *LspServer) shutdown(ctx *glsp.Context) error {
	return nil
}

func (s *LspServer) setTrace(ctx *glsp.Context, params *protocol.SetTraceParams) error {
	return nil
}

// --- Document synchronization ---

func (s *LspServer) textDocumentDidOpen(ctx *glsp.Context, params *protocol.DidOpenTextDocumentParams) error {
	uri := params.TextDocument.URI
	text := params.TextDocument.Text

	s.mu.Lock()
	s.docs[string(uri)] = text
	s.mu.Unlock()

	s.publishDiagnostics(ctx, uri, text)
	return nil
}

func (s *LspServer) textDocumentDidChange(ctx *glsp.Context, params *protocol.DidChangeTextDocumentParams) error {
	uri := params.TextDocument.URI

	// With Full sync, the last change event contains the full text
	if len(params.ContentChanges) > 0 {
		last := params.ContentChanges[len(params.ContentChanges)-1]
		if whole, ok := last.(protocol.TextDocumentContentChangeEventWhole); ok {
			s.mu.Lock()
			s.docs[string(uri)] = whole.Text
			s.mu.Unlock()

			s.publishDiagnostics(ctx, uri, whole.Text)
		}
	}
	return nil
}

func (s *LspServer) textDocumentDidClose(ctx *glsp.Context, params *protocol.DidCloseTextDocumentParams) error {
	uri := params.TextDocument.URI

	s.mu.Lock()
	delete(s.docs, string(uri))
	s.mu.Unlock()

	// Clear diagnostics for the closed document
	go ctx.Notify(protocol.ServerTextDocumentPublishDiagnostics, protocol.PublishDiagnosticsParams{
		URI:         uri,
		Diagnostics: []protocol.Diagnostic{},
	})
	return nil
}

// --- Code actions ---

func (s *LspServer) textDocumentCodeAction(ctx *glsp.Context, params *protocol.CodeActionParams) (any, error) {
	uri := params.TextDocument.URI

	s.mu.Lock()
	text, ok := s.docs[string(uri)]
	s.mu.Unlock()

	if !ok {
		return nil, nil
	}
	return s.codeActions(uri, text, params.Range.Start), nil
}

// codeActions offers the rewrite of the innermost call at pos. The edit
// replaces the whole document with the rewritten, gofmt'd file.
func (s *LspServer) codeActions(uri protocol.DocumentUri, text string, pos protocol.Position) []protocol.CodeAction {
	res, err := s.expander.At(filenameOf(uri), []byte(text), offsetOf(text, pos))
	if err != nil {
		log.Debugf("no code action for %s: %v", uri, err)
		return nil
	}
	if res == nil || !res.Changed() {
		return nil
	}

	kind := protocol.CodeActionKindRefactorRewrite
	edit := protocol.TextEdit{
		Range: protocol.Range{
			Start: protocol.Position{Line: 0, Character: 0},
			End:   positionOf(text, len(text)),
		},
		NewText: string(res.Output),
	}
	return []protocol.CodeAction{{
		Title: CodeActionTitle,
		Kind:  &kind,
		Edit: &protocol.WorkspaceEdit{
			Changes: map[protocol.DocumentUri][]protocol.TextEdit{uri: {edit}},
		},
	}}
}

// --- Diagnostics ---

func (s *LspServer) publishDiagnostics(ctx *glsp.Context, uri protocol.DocumentUri, text string) {
	go ctx.Notify(protocol.ServerTextDocumentPublishDiagnostics, protocol.PublishDiagnosticsParams{
		URI:         uri,
		Diagnostics: s.diagnostics(uri, text),
	})
}

// diagnostics reports every marked site that cannot be rewritten. Parse
// errors are left to other tools.
func (s *LspServer) diagnostics(uri protocol.DocumentUri, text string) []protocol.Diagnostic {
	errs, err := s.expander.Diagnose(filenameOf(uri), []byte(text))
	if err != nil {
		return []protocol.Diagnostic{}
	}

	diagnostics := []protocol.Diagnostic{}
	for _, se := range errs {
		severity := protocol.DiagnosticSeverityError
		source := lspName
		start := se.Position.Offset
		end := strings.IndexByte(text[start:], '\n')
		if end < 0 {
			end = len(text)
		} else {
			end += start
		}
		// The range carries the position.
		message := *se
		message.Position = token.Position{}
		diagnostics = append(diagnostics, protocol.Diagnostic{
			Range: protocol.Range{
				Start: positionOf(text, start),
				End:   positionOf(text, end),
			},
			Severity: &severity,
			Source:   &source,
			Message:  message.Error(),
		})
	}
	return diagnostics
}

// --- Position helpers ---

func filenameOf(uri protocol.DocumentUri) string {
	u, err := url.Parse(string(uri))
	if err != nil || u.Scheme != "file" {
		return string(uri)
	}
	return u.Path
}

// offsetOf converts an LSP position, counted in UTF-16 code units, to a
// byte offset in text. Positions past the end of a line clamp to it.
func offsetOf(text string, pos protocol.Position) int {
	off := 0
	for line := 0; line < int(pos.Line); line++ {
		nl := strings.IndexByte(text[off:], '\n')
		if nl < 0 {
			return len(text)
		}
		off += nl + 1
	}
	units := 0
	for i, r := range text[off:] {
		if r == '\n' || units >= int(pos.Character) {
			return off + i
		}
		units += utf16.RuneLen(r)
	}
	return len(text)
}

// positionOf converts a byte offset in text to an LSP position.
func positionOf(text string, offset int) protocol.Position {
	if offset > len(text) {
		offset = len(text)
	}
	before := text[:offset]
	line := strings.Count(before, "\n")
	start := strings.LastIndexByte(before, '\n') + 1
	units := 0
	for _, r := range before[start:] {
		units += utf16.RuneLen(r)
	}
	return protocol.Position{Line: protocol.UInteger(line), Character: protocol.UInteger(units)}
}

func boolPtr(b bool) *bool {
	return &b
}
