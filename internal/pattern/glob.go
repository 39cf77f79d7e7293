// Package pattern classifies fixture files into verification groups using
// shell-style wildcard patterns.
package pattern

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// ErrInvalidPattern indicates a wildcard pattern could not be compiled. The
// empty pattern is rejected since no file name can match it.
var ErrInvalidPattern = errors.New("invalid pattern")

// Glob is a compiled wildcard pattern matched against bare file names.
//
// Supported syntax: '*' matches any run of characters (including none), '?'
// matches exactly one character, "[abc]" matches one character from the set
// (ranges such as "[a-z]" are allowed) and "[!abc]" one character outside it.
// A reversed range such as "[z-a]" contributes no characters.
//
// A ']' right after the opening '[' (or '[!') is part of the set. A '[' with
// no closing ']' matches a literal '['. There is no escape character.
type Glob struct {
	pattern string
	re      *regexp.Regexp
}

// Compile translates a wildcard pattern into a Glob.
func Compile(pattern string) (*Glob, error) {
	if pattern == "" {
		return nil, fmt.Errorf("%w %q: empty pattern", ErrInvalidPattern, pattern)
	}
	expr := translate(pattern)
	re, err := regexp.Compile(expr)
	if err != nil {
		return nil, fmt.Errorf("%w %q: %v", ErrInvalidPattern, pattern, err)
	}
	return &Glob{pattern: pattern, re: re}, nil
}

// Match reports whether name matches the pattern in full.
func (g *Glob) Match(name string) bool {
	return g.re.MatchString(name)
}

// String returns the source pattern.
func (g *Glob) String() string {
	return g.pattern
}

// translate converts a wildcard pattern into an anchored RE2 expression.
func translate(pattern string) string {
	var sb strings.Builder
	sb.WriteString(`(?s)^`)

	runes := []rune(pattern)
	n := len(runes)
	for i := 0; i < n; i++ {
		c := runes[i]
		switch c {
		case '*':
			// Collapse runs of '*'
			for i+1 < n && runes[i+1] == '*' {
				i++
			}
			sb.WriteString(`.*`)
		case '?':
			sb.WriteString(`.`)
		case '[':
			end := classEnd(runes, i)
			if end < 0 {
				sb.WriteString(`\[`)
				continue
			}
			sb.WriteString(translateClass(runes[i+1 : end]))
			i = end
		default:
			sb.WriteString(regexp.QuoteMeta(string(c)))
		}
	}

	sb.WriteString(`$`)
	return sb.String()
}

// classEnd returns the index of the ']' closing the class opened at start,
// or -1 when the class is unterminated.
func classEnd(runes []rune, start int) int {
	j := start + 1
	if j < len(runes) && runes[j] == '!' {
		j++
	}
	if j < len(runes) && runes[j] == ']' {
		j++
	}
	for j < len(runes) && runes[j] != ']' {
		j++
	}
	if j >= len(runes) {
		return -1
	}
	return j
}

// translateClass converts the body of a wildcard class (without brackets)
// into an RE2 expression matching one character. Reversed ranges such as
// "z-a" are empty and dropped. A class left with no members matches
// nothing, or any character when negated.
func translateClass(body []rune) string {
	negate := len(body) > 0 && body[0] == '!'
	if negate {
		body = body[1:]
	}

	var members strings.Builder
	for p := 0; p < len(body); p++ {
		lo := body[p]
		if p+2 < len(body) && body[p+1] == '-' {
			hi := body[p+2]
			p += 2
			if lo > hi {
				continue
			}
			writeClassRune(&members, lo)
			members.WriteByte('-')
			writeClassRune(&members, hi)
			continue
		}
		writeClassRune(&members, lo)
	}

	switch {
	case members.Len() == 0 && negate:
		return `.`
	case members.Len() == 0:
		return `[^\x00-\x{10FFFF}]`
	case negate:
		return `[^` + members.String() + `]`
	default:
		return `[` + members.String() + `]`
	}
}

func writeClassRune(sb *strings.Builder, c rune) {
	switch c {
	case '\\', '[', ']', '^', '-':
		sb.WriteByte('\\')
	}
	sb.WriteRune(c)
}
