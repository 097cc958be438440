package asm

import (
	"strings"
)

type token struct {
	text  string
	start int // byte offset within the line
	end   int
}

// splitLine breaks one source line into tokens. Commas and whitespace
// separate tokens, "->" is always a token of its own, string literals keep
// their quotes, and ';' or '#' outside a string starts a comment.
func splitLine(line string) ([]token, bool) {
	var toks []token
	i := 0
	for i < len(line) {
		c := line[i]
		switch {
		case c == ' ' || c == '\t' || c == ',':
			i++
		case c == ';' || c == '#':
			return toks, true
		case c == '"':
			j := i + 1
			for j < len(line) && line[j] != '"' {
				if line[j] == '\\' {
					j++
				}
				j++
			}
			if j >= len(line) {
				toks = append(toks, token{text: line[i:], start: i, end: len(line)})
				return toks, false
			}
			toks = append(toks, token{text: line[i : j+1], start: i, end: j + 1})
			i = j + 1
		case strings.HasPrefix(line[i:], "->"):
			toks = append(toks, token{text: "->", start: i, end: i + 2})
			i += 2
		default:
			j := i
			for j < len(line) && !isSep(line[j]) && !strings.HasPrefix(line[j:], "->") {
				j++
			}
			toks = append(toks, token{text: line[i:j], start: i, end: j})
			i = j
		}
	}
	return toks, true
}

func isSep(c byte) bool {
	switch c {
	case ' ', '\t', ',', ';', '#', '"':
		return true
	}
	return false
}
