package fingerprint

import (
	"testing"
)

func TestHashDeterministic(t *testing.T) {
	text := "if header :contains \"from\" \"ceo@corp.example\""
	if Hash(text) != Hash(text) {
		t.Fatal("same input produced different hashes")
	}
}

func TestHashLineEndingInsensitive(t *testing.T) {
	tests := []struct {
		name string
		a    string
		b    string
	}{
		{"crlf vs lf", "line one\r\nline two", "line one\nline two"},
		{"bare cr vs lf", "line one\rline two", "line one\nline two"},
		{"trailing whitespace", "line one  \nline two\t", "line one\nline two"},
		{"missing final newline", "line one\nline two\n", "line one\nline two"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if Hash(tt.a) != Hash(tt.b) {
				t.Errorf("Hash(%q) != Hash(%q), want equal", tt.a, tt.b)
			}
		})
	}
}

func TestHashContentSensitive(t *testing.T) {
	tests := []struct {
		name string
		a    string
		b    string
	}{
		{"different text", "from CEO", "from CFO"},
		{"condition order", "cond a\ncond b", "cond b\ncond a"},
		{"leading whitespace is content", "  indented", "indented"},
		{"blank line is content", "a\n\nb", "a\nb"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if Hash(tt.a) == Hash(tt.b) {
				t.Errorf("Hash(%q) == Hash(%q), want different", tt.a, tt.b)
			}
		})
	}
}

func TestHashIsHex(t *testing.T) {
	h := Hash("anything")
	if len(h) != 64 {
		t.Fatalf("hash length = %d, want 64", len(h))
	}
	for _, c := range h {
		if !(c >= '0' && c <= '9' || c >= 'a' && c <= 'f') {
			t.Fatalf("hash contains non-hex character %q", c)
		}
	}
}

func TestNormalizeEmpty(t *testing.T) {
	if Normalize("") != "" {
		t.Error("empty input should normalize to empty")
	}
}
