package preview

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGateCheck(t *testing.T) {
	gate := NewGate(nil)

	tests := []struct {
		name    string
		text    string
		reason  Reason
		keyword string
	}{
		{"empty", "", ReasonEmpty, ""},
		{"whitespace", "  \n\t\n", ReasonEmpty, ""},
		{"single line", "graph T", ReasonTooShort, "graph"},
		{"simple flowchart", "graph TD\nA-->B", ReasonNone, "graph"},
		{"crlf", "graph TD\r\nA-->B\r\n", ReasonNone, "graph"},
		{"open square bracket", "graph TD\nA[", ReasonUnclosedBracket, "graph"},
		{"open label", "graph TD\nA[Start", ReasonUnclosedBracket, "graph"},
		{"open edge label", "graph TD\nA-->|yes", ReasonUnclosedBracket, "graph"},
		{"open quote", "graph TD\nA[\"Start", ReasonUnclosedBracket, "graph"},
		{"brackets inside quotes", "graph TD\nA[\"a [ b\"]", ReasonNone, "graph"},
		{"dangling arrow", "graph TD\nA-->", ReasonDanglingArrow, "graph"},
		{"dangling thick arrow", "flowchart LR\nA ==>", ReasonDanglingArrow, "flowchart"},
		{"dangling dotted arrow", "flowchart LR\nA-.->", ReasonDanglingArrow, "flowchart"},
		{"dangling message", "sequenceDiagram\nAlice->>", ReasonDanglingArrow, "sequenceDiagram"},
		{"ellipsis is not an arrow", "sequenceDiagram\nAlice->>Bob: wait...", ReasonNone, "sequenceDiagram"},
		{"trailing bare word", "flowchart LR\nA-->B\nC", ReasonBareWord, "flowchart"},
		{"subgraph end", "flowchart LR\nsubgraph one\nA-->B\nend", ReasonNone, "flowchart"},
		{"mindmap words", "mindmap\n  root\n    child", ReasonNone, "mindmap"},
		{"er cardinality", "erDiagram\nCUSTOMER ||--o{ ORDER : places", ReasonNone, "erDiagram"},
		{"er many to many", "erDiagram\nA }|..|{ B : links", ReasonNone, "erDiagram"},
		{"er open entity", "erDiagram\nCUSTOMER {", ReasonUnclosedBracket, "erDiagram"},
		{"closed class", "classDiagram\nclass Animal {\n+int age\n}", ReasonNone, "classDiagram"},
		{"state v2", "stateDiagram-v2\n[*] --> Still", ReasonNone, "stateDiagram-v2"},
		{"pie", "pie title Pets\n\"Dogs\" : 386", ReasonNone, "pie"},
		{"leading comment", "%% notes\ngraph TD\nA-->B", ReasonNone, "graph"},
		{"no keyword", "hello\nworld", ReasonNoKeyword, ""},
		{"keyword needs boundary", "graphTD\nA-->B", ReasonNoKeyword, ""},
		{"case sensitive", "Graph TD\nA-->B", ReasonNoKeyword, ""},
		{"keyword on later line", "---\ntitle: x\n---\nflowchart LR\nA-->B", ReasonNone, "flowchart"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			verdict := gate.Check(tt.text)
			assert.Equal(t, tt.reason, verdict.Reason)
			assert.Equal(t, tt.reason == ReasonNone, verdict.Accepted)
			assert.Equal(t, tt.keyword, verdict.Keyword)
		})
	}
}

func TestGateCustomKeywords(t *testing.T) {
	gate := NewGate([]string{"graph", " ", "sequenceDiagram"})

	assert.True(t, gate.Check("graph TD\nA-->B").Accepted)
	assert.Equal(t, ReasonNoKeyword, gate.Check("flowchart LR\nA-->B").Reason)
	assert.ElementsMatch(t, []string{"graph", "sequenceDiagram"}, gate.Keywords())
}

func TestGateDefaultKeywords(t *testing.T) {
	gate := NewGate(nil)
	assert.ElementsMatch(t, DefaultKeywords, gate.Keywords())
}

func TestReasonString(t *testing.T) {
	assert.Equal(t, "dangling arrow", ReasonDanglingArrow.String())
	assert.Equal(t, "unknown", Reason(99).String())

	text, err := ReasonBareWord.MarshalText()
	assert.NoError(t, err)
	assert.Equal(t, "trailing bare word", string(text))
}
