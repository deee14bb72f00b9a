package util

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSanitizeInput(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{name: "trims", in: "  hello  ", want: "hello"},
		{name: "keeps newlines", in: "line one\nline two", want: "line one\nline two"},
		{name: "drops control chars", in: "he\x00llo\x07", want: "hello"},
		{name: "whitespace only", in: " \t\n ", want: ""},
		{name: "unicode", in: "¿qué tal? 👋", want: "¿qué tal? 👋"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, SanitizeInput(tt.in))
		})
	}
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "héllo", Truncate("héllo", 10))
	assert.Equal(t, "hé", Truncate("héllo", 2))
	assert.Equal(t, 5, RuneLength("héllo"))
}
