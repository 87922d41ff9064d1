package rules

import (
	"fmt"
	"strings"
)

type tokenKind int

const (
	tokWord tokenKind = iota
	tokString
	tokNumber
	tokTag
	tokPunct
	tokComment
)

type token struct {
	kind tokenKind
	text string
}

func (t token) isPunct(s string) bool {
	return t.kind == tokPunct && t.text == s
}

// lex splits Sieve source into tokens. Hash comments are kept (a comment
// line directly above a rule names it); bracket comments are dropped.
// Multiline "text:" blocks are folded into a single string token.
func lex(src string) ([]token, error) {
	var toks []token
	i := 0
	n := len(src)

	for i < n {
		c := src[i]
		switch {
		case c == ' ' || c == '\t' || c == '\r' || c == '\n':
			i++

		case c == '#':
			end := strings.IndexByte(src[i:], '\n')
			if end < 0 {
				end = n - i
			}
			toks = append(toks, token{kind: tokComment, text: strings.TrimPrefix(src[i:i+end], "#")})
			i += end

		case c == '/' && i+1 < n && src[i+1] == '*':
			end := strings.Index(src[i+2:], "*/")
			if end < 0 {
				return nil, fmt.Errorf("unterminated bracket comment at offset %d", i)
			}
			i += end + 4

		case c == '"':
			text, next, err := lexString(src, i)
			if err != nil {
				return nil, err
			}
			toks = append(toks, token{kind: tokString, text: text})
			i = next

		case c == ':':
			start := i + 1
			i = start
			for i < n && isWordByte(src[i]) {
				i++
			}
			if i == start {
				return nil, fmt.Errorf("bare colon at offset %d", start-1)
			}
			toks = append(toks, token{kind: tokTag, text: src[start:i]})

		case c >= '0' && c <= '9':
			start := i
			for i < n && (src[i] >= '0' && src[i] <= '9' || src[i] == 'K' || src[i] == 'M' || src[i] == 'G') {
				i++
			}
			toks = append(toks, token{kind: tokNumber, text: src[start:i]})

		case isWordByte(c):
			start := i
			for i < n && isWordByte(src[i]) {
				i++
			}
			word := src[start:i]
			if word == "text" && i < n && src[i] == ':' {
				text, next, err := lexMultiline(src, i+1)
				if err != nil {
					return nil, err
				}
				toks = append(toks, token{kind: tokString, text: text})
				i = next
				continue
			}
			toks = append(toks, token{kind: tokWord, text: word})

		case c == '{' || c == '}' || c == '[' || c == ']' || c == '(' || c == ')' || c == ',' || c == ';':
			toks = append(toks, token{kind: tokPunct, text: string(c)})
			i++

		default:
			return nil, fmt.Errorf("unexpected byte %q at offset %d", c, i)
		}
	}

	return toks, nil
}

func lexString(src string, i int) (text string, next int, err error) {
	var b strings.Builder
	i++ // opening quote
	for i < len(src) {
		c := src[i]
		switch c {
		case '\\':
			if i+1 >= len(src) {
				return "", 0, fmt.Errorf("dangling escape at offset %d", i)
			}
			b.WriteByte(src[i+1])
			i += 2
		case '"':
			return b.String(), i + 1, nil
		default:
			b.WriteByte(c)
			i++
		}
	}
	return "", 0, fmt.Errorf("unterminated string at offset %d", i)
}

// lexMultiline consumes a "text:" literal terminated by a line holding a
// single dot. Dot-stuffed lines are unstuffed.
func lexMultiline(src string, i int) (text string, next int, err error) {
	end := strings.IndexByte(src[i:], '\n')
	if end < 0 {
		return "", 0, fmt.Errorf("unterminated text block at offset %d", i)
	}
	i += end + 1

	var lines []string
	for i <= len(src) {
		lineEnd := strings.IndexByte(src[i:], '\n')
		var line string
		if lineEnd < 0 {
			line = src[i:]
			i = len(src)
		} else {
			line = src[i : i+lineEnd]
			i += lineEnd + 1
		}
		trimmed := strings.TrimRight(line, "\r")
		if trimmed == "." {
			return strings.Join(lines, "\n"), i, nil
		}
		lines = append(lines, strings.TrimPrefix(trimmed, "."))
		if lineEnd < 0 {
			break
		}
	}
	return "", 0, fmt.Errorf("unterminated text block at offset %d", i)
}

func isWordByte(c byte) bool {
	return c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9' || c == '_' || c == '-' || c == '.' || c == '*' || c == '@'
}
