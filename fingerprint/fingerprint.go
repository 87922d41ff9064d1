package fingerprint

import (
	"encoding/hex"
	"strings"

	"lukechampine.com/blake3"
)

// Normalize rewrites condition text so that line-ending and trailing
// whitespace differences do not change the fingerprint. Every line is
// trimmed on the right and terminated with a single '\n', including the
// last one. Condition order is preserved.
func Normalize(text string) string {
	if text == "" {
		return ""
	}

	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")

	lines := strings.Split(text, "\n")
	var b strings.Builder
	b.Grow(len(text) + len(lines))
	for _, line := range lines {
		b.WriteString(strings.TrimRight(line, " \t"))
		b.WriteByte('\n')
	}
	return b.String()
}

// Hash returns the hex-encoded BLAKE3 digest of the normalized condition
// text. Byte-identical normalized inputs always produce identical hashes.
func Hash(text string) string {
	sum := blake3.Sum256([]byte(Normalize(text)))
	return hex.EncodeToString(sum[:])
}
