package errors

import (
	"regexp"
	"strconv"
	"strings"
)

// DiagramError is the location and summary of a Mermaid syntax error found
// in renderer output.
type DiagramError struct {
	Line      int    `json:"line"`
	Column    int    `json:"column,omitempty"`
	Message   string `json:"message"`
	Expecting string `json:"expecting,omitempty"`
	Excerpt   string `json:"excerpt,omitempty"`
}

type diagramPattern struct {
	regex   *regexp.Regexp
	message string
}

var (
	diagramPatterns = []diagramPattern{
		{regexp.MustCompile(`Parse error on line (\d+):?`), "Parse error"},
		{regexp.MustCompile(`Lexical error on line (\d+)\.?`), "Lexical error"},
	}
	expectingPattern = regexp.MustCompile(`^Expecting (.+?)(?:, got '([^']*)')?$`)
)

// ParseDiagramError extracts the first Mermaid syntax error from mmdc
// output. Output without a recognizable line reference yields nil.
//
// mmdc reports parse errors as
//
//	Parse error on line 2:
//	graph TD A-->
//	-------------^
//	Expecting 'AMP', 'ALPHA', got 'EOF'
func ParseDiagramError(output string) *DiagramError {
	lines := strings.Split(strings.ReplaceAll(output, "\r\n", "\n"), "\n")

	for i, line := range lines {
		for _, pattern := range diagramPatterns {
			matches := pattern.regex.FindStringSubmatch(line)
			if matches == nil {
				continue
			}
			lineNum, err := strconv.Atoi(matches[1])
			if err != nil {
				continue
			}

			result := &DiagramError{Line: lineNum, Message: pattern.message}
			parseContext(result, lines[i+1:])
			return result
		}
	}
	return nil
}

// parseContext reads the excerpt, caret and expectation lines that follow
// the error header.
func parseContext(result *DiagramError, rest []string) {
	for j, line := range rest {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			continue
		}

		if caret := strings.Index(line, "^"); caret >= 0 && strings.Trim(trimmed, "-^") == "" {
			// Excerpts of long lines are elided with a leading "...",
			// after which the caret no longer maps to a source column.
			if j > 0 && !strings.HasPrefix(rest[j-1], "...") {
				result.Excerpt = rest[j-1]
				result.Column = caret + 1
			}
			continue
		}

		if matches := expectingPattern.FindStringSubmatch(trimmed); matches != nil {
			result.Expecting = matches[1]
			if matches[2] != "" {
				result.Message += ": unexpected " + matches[2]
			}
			return
		}

		if strings.Contains(trimmed, " error ") || strings.HasPrefix(trimmed, "at ") {
			return
		}
	}
}
