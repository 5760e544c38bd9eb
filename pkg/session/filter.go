package session

import "strings"

// readOnlyAllowed is the allow-list of token-0 commands permitted from a
// read-only session. Everything else is rejected.
var readOnlyAllowed = map[string]bool{
	"userinactive": true,
	"useractive":   true,
	"saveas":       true,
	"uno":          true, // further restricted below to .uno:ExecuteSearch
}

// FilterResult reports whether a client message should be forwarded to the
// kit, and why not when it shouldn't.
type FilterResult struct {
	Allow  bool
	Reason string
}

// FilterInput applies the read-only allow-list and the WOPI-derived
// copy/print/export restrictions to a message from the client, identified
// by its whitespace-delimited tokens. Rejected messages never reach the
// kit; the caller is expected to reply with an error: message and log the
// rejection, without closing the session.
func (s *Session) FilterInput(tokens []string) FilterResult {
	if len(tokens) == 0 {
		return FilterResult{Allow: false, Reason: "empty message"}
	}
	cmd := tokens[0]

	if s.Perms.ReadOnly && !readOnlyAllowed[cmd] {
		return FilterResult{Allow: false, Reason: "readonly"}
	}
	if s.Perms.ReadOnly && cmd == "uno" {
		if len(tokens) < 2 || tokens[1] != ".uno:ExecuteSearch" {
			return FilterResult{Allow: false, Reason: "readonly"}
		}
	}

	if s.Perms.DisableCopy && (cmd == "gettextselection" || (cmd == "uno" && len(tokens) > 1 && tokens[1] == ".uno:Copy")) {
		return FilterResult{Allow: false, Reason: "copy_disabled"}
	}

	if cmd == "downloadas" && len(tokens) > 1 {
		id := tokenValue(tokens[1:], "id")
		if s.Perms.DisablePrint && id == "print" {
			return FilterResult{Allow: false, Reason: "print_disabled"}
		}
		if s.Perms.DisableExport && id == "export" {
			return FilterResult{Allow: false, Reason: "export_disabled"}
		}
	}

	return FilterResult{Allow: true}
}

func tokenValue(tokens []string, key string) string {
	prefix := key + "="
	for _, tok := range tokens {
		if strings.HasPrefix(tok, prefix) {
			return strings.TrimPrefix(tok, prefix)
		}
	}
	return ""
}

// OutputKind classifies a kit-to-client message by its recognized prefix,
// so the broker can dispatch side effects (cache invalidation, clipboard
// rewriting) alongside forwarding.
type OutputKind int

const (
	OutputUnknown OutputKind = iota
	OutputStatus
	OutputStateChanged
	OutputTile
	OutputInvalidateTiles
	OutputInvalidateCursor
	OutputRenderFont
	OutputCommandValues
	OutputUnoCommandResult
	OutputSaveAs
	OutputSetPart
	OutputError
	OutputClipboardContent
	OutputDisconnected
)

var outputPrefixes = map[string]OutputKind{
	"status:":              OutputStatus,
	"statechanged:":        OutputStateChanged,
	"tile:":                OutputTile,
	"invalidatetiles:":     OutputInvalidateTiles,
	"invalidatecursor:":    OutputInvalidateCursor,
	"renderfont:":          OutputRenderFont,
	"commandvalues:":       OutputCommandValues,
	"unocommandresult:":    OutputUnoCommandResult,
	"saveas:":              OutputSaveAs,
	"setpart:":             OutputSetPart,
	"error:":               OutputError,
	"textselectioncontent:": OutputClipboardContent,
	"clipboardcontent:":    OutputClipboardContent,
	"disconnected:":        OutputDisconnected,
}

// ClassifyOutput returns the OutputKind for a kit message's leading token,
// or OutputUnknown for anything unrecognized (which is forwarded to the
// client unchanged).
func ClassifyOutput(line string) OutputKind {
	for prefix, kind := range outputPrefixes {
		if strings.HasPrefix(line, prefix) {
			return kind
		}
	}
	return OutputUnknown
}

// RewriteClipboardOrigin injects a <meta name="origin" ...> tag pointing
// at this session's clipboard URI into a textselectioncontent:/
// clipboardcontent: payload, so a paste into another application can
// trace its source back to this broker.
func (s *Session) RewriteClipboardOrigin(html, baseURL string) string {
	meta := `<meta name="origin" content="` + s.ClipboardURI(baseURL) + `">`
	if idx := strings.Index(html, "<head>"); idx >= 0 {
		return html[:idx+len("<head>")] + meta + html[idx+len("<head>"):]
	}
	return meta + html
}
