package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCleanJsonBlock(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{name: "plain JSON", input: `{"key": "value"}`, expected: `{"key": "value"}`},
		{name: "json fence", input: "```json\n{\"key\": \"value\"}\n```", expected: `{"key": "value"}`},
		{name: "upper case fence", input: "```JSON\n{\"key\": \"value\"}\n```", expected: `{"key": "value"}`},
		{name: "bare fence", input: "```\n{\"key\": \"value\"}\n```", expected: `{"key": "value"}`},
		{name: "extra whitespace", input: "  ```json  \n  {\"key\": \"value\"}  \n  ```  ", expected: `{"key": "value"}`},
		{name: "text after fence is kept", input: "```json\n{\"a\": 1}\n``` end", expected: "{\"a\": 1}\n``` end"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, CleanJsonBlock(tt.input))
		})
	}
}

func TestExtractJSON(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{name: "pure", input: `{"a": 1}`, expected: `{"a": 1}`},
		{name: "text around", input: `Result: {"a": {"b": 2}} done`, expected: `{"a": {"b": 2}}`},
		{name: "brace inside string", input: `x {"a": "}"} y`, expected: `{"a": "}"}`},
		{name: "no object", input: "plain text", expected: ""},
		{name: "unterminated", input: `{"a": 1`, expected: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, ExtractJSON(tt.input))
		})
	}
}

func TestStripQuotes(t *testing.T) {
	assert.Equal(t, "a cat on a roof", StripQuotes(`"a cat on a roof"`))
	assert.Equal(t, "sunset", StripQuotes("  'sunset' "))
	assert.Equal(t, "город", StripQuotes("«город»"))
	assert.Equal(t, `he said "hi"`, StripQuotes(`he said "hi"`))
	assert.Equal(t, `"`, StripQuotes(`"`))
}

func TestTruncateText(t *testing.T) {
	assert.Equal(t, "short", TruncateText("short", 10))
	assert.Equal(t, "abc...", TruncateText("abcdef", 3))
	assert.Equal(t, "при...", TruncateText("привет", 3))
	assert.Equal(t, "unlimited", TruncateText("unlimited", 0))
}

func TestWordCount(t *testing.T) {
	assert.Equal(t, 0, WordCount("   "))
	assert.Equal(t, 4, WordCount("one two\nthree\tfour"))
}
