package validation

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidateArgument(t *testing.T) {
	tests := []struct {
		name    string
		arg     string
		wantErr bool
	}{
		{"theme", "forest", false},
		{"color", "#ffffff", false},
		{"absolute config", "/home/user/puppeteer.json", false},
		{"semicolon", "dark; rm -rf /", true},
		{"pipe", "dark | cat", true},
		{"backtick", "dark`whoami`", true},
		{"subshell", "$(whoami)", true},
		{"traversal", "../../secret.json", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateArgument(tt.arg)
			assert.Equal(t, tt.wantErr, err != nil, "err = %v", err)
		})
	}
}

func TestValidatePath(t *testing.T) {
	tests := []struct {
		name    string
		path    string
		wantErr bool
	}{
		{"relative file", "./diagrams/flow.mmd", false},
		{"bare file", "flow.mmd", false},
		{"absolute file", "/home/user/flow.mmd", false},
		{"dots inside a name", "flow..v2.mmd", false},
		{"empty", "", true},
		{"traversal", "../../../etc/passwd", true},
		{"etc", "/etc/passwd", true},
		{"proc", "/proc/version", true},
		{"sys", "/sys/kernel", true},
		{"injection", "flow.mmd; rm -rf /", true},
		{"substitution", "flow$(whoami).mmd", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidatePath(tt.path)
			assert.Equal(t, tt.wantErr, err != nil, "err = %v", err)
		})
	}
}

func TestValidateOrigin(t *testing.T) {
	allowed := []string{"localhost:8080", "https://preview.example.com"}

	assert.NoError(t, ValidateOrigin("http://localhost:8080", allowed))
	assert.NoError(t, ValidateOrigin("https://preview.example.com", allowed))
	assert.Error(t, ValidateOrigin("", allowed))
	assert.Error(t, ValidateOrigin("http://evil.example.com", allowed))
	assert.Error(t, ValidateOrigin("file://localhost:8080", allowed))
	assert.Error(t, ValidateOrigin("://bad", allowed))
}

func TestValidateFileExtension(t *testing.T) {
	assert.NoError(t, ValidateFileExtension("flow.mmd", DiagramExtensions))
	assert.NoError(t, ValidateFileExtension("FLOW.MERMAID", DiagramExtensions))
	assert.Error(t, ValidateFileExtension("flow.md", DiagramExtensions))
	assert.Error(t, ValidateFileExtension("flow", DiagramExtensions))
	assert.Error(t, ValidateFileExtension("", DiagramExtensions))
}

func TestSanitizeInput(t *testing.T) {
	assert.Equal(t, "graph TD\n\tA-->B\r\n", SanitizeInput("graph TD\n\tA-->B\r\n"))
	assert.Equal(t, "graph TD", SanitizeInput("gr\x00aph\x07 TD"))
	assert.Equal(t, "Ünïcode ✓", SanitizeInput("Ünïcode ✓"))
}
