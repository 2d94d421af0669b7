package hookscan

import (
	"encoding/json"
	"fmt"
	"html"
	"os"
	"strings"

	"github.com/wasilibs/go-re2/experimental"
)

const (
	actionKeyword = "do_action"
	filterKeyword = "apply_filters"
)

// hookPattern matches a do_action or apply_filters call. The argument list
// may contain one level of nested parentheses. Deeper nesting ends the
// match early: do_action('x', f(g(1))) is reported without its last ')'.
// Both patterns run in Latin-1 mode so every byte is one character and
// source in legacy encodings matches the same way as UTF-8.
var hookPattern = experimental.MustCompileLatin1(`(do_action|apply_filters)\s*\((?:[^()]*|\([^)]*\))*\)`)

var whitespaceRun = experimental.MustCompileLatin1(`\s+`)

// MatchKind classifies a hook invocation.
type MatchKind string

// Match kinds.
const (
	MatchAction MatchKind = "action"
	MatchFilter MatchKind = "filter"
)

// Match is a single hook invocation. Text is whitespace-normalized but not
// escaped.
type Match struct {
	Line int
	Text string
	Kind MatchKind
}

type matchJSON struct {
	Line    int    `json:"line"`
	Content string `json:"content"`
}

// MarshalJSON encodes the match as {"line", "content"} with the text
// HTML-escaped for embedding.
func (m Match) MarshalJSON() ([]byte, error) {
	return json.Marshal(matchJSON{Line: m.Line, Content: html.EscapeString(m.Text)})
}

// Extractor finds hook invocations in source text.
type Extractor struct{}

// NewExtractor creates an extractor.
func NewExtractor() *Extractor {
	return &Extractor{}
}

// Scan returns every hook invocation in content in order of appearance.
// Content without either keyword returns nil without running the pattern.
func (x *Extractor) Scan(content string) []Match {
	if !strings.Contains(content, actionKeyword) && !strings.Contains(content, filterKeyword) {
		return nil
	}

	locs := hookPattern.FindAllStringIndex(content, -1)
	if len(locs) == 0 {
		return nil
	}

	matches := make([]Match, 0, len(locs))
	line, last := 1, 0
	for _, loc := range locs {
		raw := content[loc[0]:loc[1]]

		var kind MatchKind
		switch {
		case strings.Contains(raw, actionKeyword):
			kind = MatchAction
		case strings.Contains(raw, filterKeyword):
			kind = MatchFilter
		default:
			continue
		}

		line += strings.Count(content[last:loc[0]], "\n")
		last = loc[0]

		matches = append(matches, Match{
			Line: line,
			Text: whitespaceRun.ReplaceAllString(raw, " "),
			Kind: kind,
		})
	}
	return matches
}

// ScanFile reads the file at path and scans it.
func (x *Extractor) ScanFile(path string) ([]Match, error) {
	data, err := os.ReadFile(path) //nolint:gosec // G304: path comes from a stored scan plan
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	return x.Scan(string(data)), nil
}
