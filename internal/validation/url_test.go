package validation

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidateURL(t *testing.T) {
	tests := []struct {
		name      string
		url       string
		expectErr bool
	}{
		{"localhost", "http://localhost:8080", false},
		{"https", "https://example.com", false},
		{"ip and port", "http://127.0.0.1:3000", false},
		{"path", "http://localhost:8080/artifact", false},
		{"javascript scheme", "javascript:alert(1)", true},
		{"file scheme", "file:///etc/passwd", true},
		{"no host", "http://", true},
		{"semicolon", "http://localhost;rm -rf /", true},
		{"backtick", "http://localhost/`whoami`", true},
		{"space", "http://localhost/a b", true},
		{"newline", "http://localhost/\nx", true},
		{"credentials", "http://user:pw@localhost:8080", true},
		{"fragment", "http://localhost:8080/#x", true},
		{"port zero", "http://localhost:0", true},
		{"port too large", "http://localhost:70000", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateURL(tt.url)
			assert.Equal(t, tt.expectErr, err != nil, "err = %v", err)
		})
	}
}
