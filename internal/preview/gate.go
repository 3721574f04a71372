package preview

import (
	"regexp"
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"
)

// DefaultKeywords are the diagram-type keywords a source must lead with.
var DefaultKeywords = []string{
	"graph",
	"flowchart",
	"sequenceDiagram",
	"classDiagram",
	"stateDiagram",
	"stateDiagram-v2",
	"erDiagram",
	"journey",
	"gantt",
	"pie",
	"gitGraph",
	"mindmap",
	"timeline",
	"quadrantChart",
	"requirementDiagram",
	"C4Context",
	"sankey-beta",
	"xychart-beta",
	"block-beta",
}

// Diagram types whose bodies are made of bare words.
var bareWordDiagrams = map[string]bool{
	"mindmap":    true,
	"block-beta": true,
}

// Reason explains why the gate rejected a snapshot.
type Reason int

const (
	ReasonNone Reason = iota
	ReasonEmpty
	ReasonNoKeyword
	ReasonTooShort
	ReasonDanglingArrow
	ReasonBareWord
	ReasonUnclosedBracket
)

// String returns the string representation of the Reason
func (r Reason) String() string {
	switch r {
	case ReasonNone:
		return "none"
	case ReasonEmpty:
		return "empty input"
	case ReasonNoKeyword:
		return "no diagram keyword"
	case ReasonTooShort:
		return "fewer than two lines"
	case ReasonDanglingArrow:
		return "dangling arrow"
	case ReasonBareWord:
		return "trailing bare word"
	case ReasonUnclosedBracket:
		return "unclosed bracket"
	default:
		return "unknown"
	}
}

// MarshalText encodes the reason by name.
func (r Reason) MarshalText() ([]byte, error) {
	return []byte(r.String()), nil
}

// Verdict is the result of a gate check.
type Verdict struct {
	Accepted bool   `json:"accepted"`
	Reason   Reason `json:"reason"`
	Keyword  string `json:"keyword,omitempty"`
}

var (
	bareWordPattern = regexp.MustCompile(`^\w+$`)
	// ER cardinality markers such as ||--o{ and }|..|{ contain brackets and
	// pipes that do not open anything.
	erCardinalityPattern = regexp.MustCompile(`[}|][o|](?:--|\.\.)[o|][{|]`)
	quotedPattern        = regexp.MustCompile(`"[^"]*"`)
)

const arrowChars = "-=.>~"

// Gate is a cheap syntactic pre-check that rejects mid-keystroke fragments.
// It performs no I/O and is not a parser: unusual valid input may be
// rejected and invalid input may pass.
type Gate struct {
	keywords []string
}

// NewGate creates a gate for the given keyword set, or DefaultKeywords when
// keywords is empty.
func NewGate(keywords []string) *Gate {
	if len(keywords) == 0 {
		keywords = DefaultKeywords
	}
	kw := make([]string, 0, len(keywords))
	for _, k := range keywords {
		if k = strings.TrimSpace(k); k != "" {
			kw = append(kw, k)
		}
	}
	// Longest first so stateDiagram-v2 wins over stateDiagram.
	sort.SliceStable(kw, func(i, j int) bool { return len(kw[i]) > len(kw[j]) })
	return &Gate{keywords: kw}
}

// Keywords returns the recognized keywords.
func (g *Gate) Keywords() []string {
	out := make([]string, len(g.keywords))
	copy(out, g.keywords)
	return out
}

// Check decides whether text is worth rendering.
func (g *Gate) Check(text string) Verdict {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	if strings.TrimSpace(text) == "" {
		return Verdict{Reason: ReasonEmpty}
	}

	var lines []string
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "%%") {
			continue
		}
		lines = append(lines, line)
	}

	keyword := ""
	for _, line := range lines {
		if keyword = g.leadingKeyword(line); keyword != "" {
			break
		}
	}
	if keyword == "" {
		return Verdict{Reason: ReasonNoKeyword}
	}

	reject := func(r Reason) Verdict {
		return Verdict{Reason: r, Keyword: keyword}
	}

	if len(lines) < 2 {
		return reject(ReasonTooShort)
	}

	last := lines[len(lines)-1]
	if hasDanglingArrow(last) {
		return reject(ReasonDanglingArrow)
	}
	if bareWordPattern.MatchString(last) && last != "end" && !bareWordDiagrams[keyword] {
		return reject(ReasonBareWord)
	}
	if hasUnclosedBracket(last) {
		return reject(ReasonUnclosedBracket)
	}

	return Verdict{Accepted: true, Reason: ReasonNone, Keyword: keyword}
}

func (g *Gate) leadingKeyword(line string) string {
	for _, kw := range g.keywords {
		if !strings.HasPrefix(line, kw) {
			continue
		}
		next, _ := utf8.DecodeRuneInString(line[len(kw):])
		if next == utf8.RuneError || !isIdentRune(next) {
			return kw
		}
	}
	return ""
}

func isIdentRune(r rune) bool {
	return r == '_' || unicode.IsLetter(r) || unicode.IsDigit(r)
}

// hasDanglingArrow reports whether line ends in an arrow with no target.
func hasDanglingArrow(line string) bool {
	stripped := strings.TrimRight(line, arrowChars)
	suffix := line[len(stripped):]
	return len(suffix) >= 2 && strings.ContainsAny(suffix, "-=~")
}

// hasUnclosedBracket reports whether line leaves a bracket or an edge label
// open. Quoted text and ER cardinality markers are ignored.
func hasUnclosedBracket(line string) bool {
	line = quotedPattern.ReplaceAllString(line, "_")
	if strings.ContainsRune(line, '"') {
		// An unterminated quote is as open as a bracket.
		return true
	}
	line = erCardinalityPattern.ReplaceAllString(line, " ")

	var square, round, curly, pipes int
	for _, r := range line {
		switch r {
		case '[':
			square++
		case ']':
			square--
		case '(':
			round++
		case ')':
			round--
		case '{':
			curly++
		case '}':
			curly--
		case '|':
			pipes++
		}
	}
	return square > 0 || round > 0 || curly > 0 || pipes%2 == 1
}
