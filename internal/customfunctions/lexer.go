package customfunctions

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// tokenType is the kind of a scanned token.
type tokenType int

const (
	tokEOF tokenType = iota
	tokIdent
	tokNumber
	tokString
	tokPunct
	tokDoc // "/** ... */" documentation block
	tokRegex
)

type token struct {
	typ  tokenType
	text string
	line int
}

// lexer is a deliberately small script scanner. It understands just enough of
// the language to find top-level function declarations, their documentation
// blocks and their signatures: comments, string and regular expression
// literals are consumed so that braces inside them do not disturb scope
// tracking.
type lexer struct {
	src  string
	pos  int
	line int
	prev token // last token other than a documentation block
}

func newLexer(src string) *lexer {
	return &lexer{src: src, line: 1}
}

func (l *lexer) all() []token {
	var out []token
	for {
		t := l.next()
		out = append(out, t)
		if t.typ != tokDoc {
			l.prev = t
		}
		if t.typ == tokEOF {
			return out
		}
	}
}

func (l *lexer) peekByte(offset int) byte {
	if l.pos+offset < len(l.src) {
		return l.src[l.pos+offset]
	}
	return 0
}

func (l *lexer) advance(n int) {
	for i := 0; i < n && l.pos < len(l.src); i++ {
		if l.src[l.pos] == '\n' {
			l.line++
		}
		l.pos++
	}
}

func (l *lexer) next() token {
	for l.pos < len(l.src) {
		c := l.src[l.pos]
		switch {
		case c == ' ' || c == '\t' || c == '\r' || c == '\n':
			l.advance(1)
		case c == '/' && l.peekByte(1) == '/':
			for l.pos < len(l.src) && l.src[l.pos] != '\n' {
				l.pos++
			}
		case c == '/' && l.peekByte(1) == '*':
			start, line := l.pos, l.line
			end := strings.Index(l.src[l.pos+2:], "*/")
			if end < 0 {
				l.advance(len(l.src) - l.pos)
			} else {
				l.advance(end + 4)
			}
			text := l.src[start:l.pos]
			if strings.HasPrefix(text, "/**") && text != "/**/" {
				return token{typ: tokDoc, text: text, line: line}
			}
		case c == '/' && l.regexAllowed():
			return l.scanRegex()
		case c == '"' || c == '\'' || c == '`':
			return l.scanString(c)
		case isIdentStart(c):
			return l.scanIdent()
		case c >= '0' && c <= '9':
			return l.scanNumber()
		case c >= utf8.RuneSelf:
			r, size := utf8.DecodeRuneInString(l.src[l.pos:])
			if unicode.IsLetter(r) {
				return l.scanIdent()
			}
			l.advance(size)
		default:
			line := l.line
			l.advance(1)
			return token{typ: tokPunct, text: string(c), line: line}
		}
	}
	return token{typ: tokEOF, line: l.line}
}

func (l *lexer) scanString(quote byte) token {
	start, line := l.pos, l.line
	l.advance(1)
	for l.pos < len(l.src) {
		c := l.src[l.pos]
		if c == '\\' {
			l.advance(2)
			continue
		}
		l.advance(1)
		if c == quote {
			break
		}
		if c == '\n' && quote != '`' {
			break
		}
	}
	return token{typ: tokString, text: l.src[start:l.pos], line: line}
}

// regexKeywords may directly precede an expression.
var regexKeywords = map[string]bool{
	"return": true, "typeof": true, "instanceof": true, "in": true, "of": true,
	"new": true, "delete": true, "void": true, "throw": true, "case": true,
	"do": true, "else": true, "yield": true, "await": true,
}

// regexAllowed reports whether a slash at the current position starts a
// regular expression literal rather than a division.
func (l *lexer) regexAllowed() bool {
	switch l.prev.typ {
	case tokEOF:
		return true
	case tokNumber, tokString, tokRegex:
		return false
	case tokIdent:
		return regexKeywords[l.prev.text]
	}
	switch l.prev.text {
	case ")", "]":
		return false
	}
	return true
}

func (l *lexer) scanRegex() token {
	start, line := l.pos, l.line
	l.advance(1)
	inClass := false
	for l.pos < len(l.src) {
		c := l.src[l.pos]
		if c == '\n' {
			break
		}
		if c == '\\' {
			l.advance(2)
			continue
		}
		l.advance(1)
		switch {
		case c == '[':
			inClass = true
		case c == ']':
			inClass = false
		case c == '/' && !inClass:
			for l.pos < len(l.src) && isIdentStart(l.src[l.pos]) {
				l.pos++
			}
			return token{typ: tokRegex, text: l.src[start:l.pos], line: line}
		}
	}
	return token{typ: tokRegex, text: l.src[start:l.pos], line: line}
}

func (l *lexer) scanIdent() token {
	start, line := l.pos, l.line
	for l.pos < len(l.src) {
		r, size := utf8.DecodeRuneInString(l.src[l.pos:])
		if r == '_' || r == '$' || unicode.IsLetter(r) || unicode.IsDigit(r) {
			l.pos += size
			continue
		}
		break
	}
	return token{typ: tokIdent, text: l.src[start:l.pos], line: line}
}

func (l *lexer) scanNumber() token {
	start, line := l.pos, l.line
	for l.pos < len(l.src) {
		c := l.src[l.pos]
		if (c >= '0' && c <= '9') || c == '.' || c == '_' || c == 'x' || c == 'X' ||
			(c >= 'a' && c <= 'f') || (c >= 'A' && c <= 'F') {
			l.pos++
			continue
		}
		break
	}
	return token{typ: tokNumber, text: l.src[start:l.pos], line: line}
}

func isIdentStart(c byte) bool {
	return c == '_' || c == '$' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}
