package cbpl

import (
	"encoding/json"
	"strconv"
	"strings"
)

// closingQuotes lists, per opening quote, the runes that terminate a string.
// Curly openers also accept the straight quote of the same family so that
// text pasted through word processors still tokenizes.
var closingQuotes = map[rune][]rune{
	'"':      {'"'},
	'\'':     {'\''},
	'\u201C': {'\u201D', '"'},
	'\u2018': {'\u2019', '\''},
}

func isQuote(r rune) bool {
	switch r {
	case '"', '\'', '\u201C', '\u201D', '\u2018', '\u2019':
		return true
	}
	return false
}

func closesQuote(open, r rune) bool {
	closers, ok := closingQuotes[open]
	if !ok {
		return r == open
	}
	for _, c := range closers {
		if r == c {
			return true
		}
	}
	return false
}

func isDigit(r rune) bool { return r >= '0' && r <= '9' }
func isAlpha(r rune) bool { return (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') }

// Lex tokenizes src. The result always ends with exactly one EOF token.
// Lex never fails: malformed input is reported as INVALID tokens and scanning
// resumes after them.
func Lex(src string) []Token {
	l := &lexer{src: []rune(src), line: 1, col: 1}
	return l.run()
}

type lexer struct {
	src  []rune
	pos  int
	line int
	col  int
}

func (l *lexer) atEnd() bool { return l.pos >= len(l.src) }

func (l *lexer) cur() rune { return l.src[l.pos] }

func (l *lexer) peek() (rune, bool) {
	if l.pos+1 >= len(l.src) {
		return 0, false
	}
	return l.src[l.pos+1], true
}

func (l *lexer) advance() {
	if l.src[l.pos] == '\n' {
		l.line++
		l.col = 1
	} else {
		l.col++
	}
	l.pos++
}

func (l *lexer) run() []Token {
	var tokens []Token
	for !l.atEnd() {
		c := l.cur()
		switch {
		case c == ' ' || c == '\t' || c == '\r':
			l.advance()
		case c == '\n':
			tokens = append(tokens, Token{Kind: TokenNewline, Text: "\n", Raw: "\n", Line: l.line, Col: l.col})
			l.advance()
		case isQuote(c):
			tokens = append(tokens, l.readString())
		case c == '{':
			tokens = append(tokens, l.readJSONObject())
		case isDigit(c):
			tokens = append(tokens, l.readNumber())
		case isAlpha(c):
			tokens = append(tokens, l.readWord())
		default:
			tokens = append(tokens, Token{Kind: TokenInvalid, Text: string(c), Raw: string(c), Line: l.line, Col: l.col})
			l.advance()
		}
	}
	return append(tokens, Token{Kind: TokenEOF, Line: l.line, Col: l.col})
}

// readString scans a quoted literal. A literal with no matching closing quote
// runs to the end of input and is returned as INVALID.
func (l *lexer) readString() Token {
	start, line, col := l.pos, l.line, l.col
	open := l.cur()
	l.advance()

	var b strings.Builder
	for !l.atEnd() && !closesQuote(open, l.cur()) {
		c := l.cur()
		next, ok := l.peek()
		if c == '\\' && ok {
			switch {
			case isQuote(next):
				b.WriteRune(next)
			case next == 'n':
				b.WriteRune('\n')
			case next == 't':
				b.WriteRune('\t')
			case next == '\\':
				b.WriteRune('\\')
			default:
				// Unknown escape: keep the backslash, the next rune is read normally.
				b.WriteRune('\\')
				l.advance()
				continue
			}
			l.advance()
			l.advance()
			continue
		}
		b.WriteRune(c)
		l.advance()
	}
	if l.atEnd() {
		raw := string(l.src[start:l.pos])
		return Token{Kind: TokenInvalid, Text: raw, Raw: raw, Line: line, Col: col}
	}
	l.advance()

	return Token{Kind: TokenString, Text: b.String(), Raw: string(l.src[start:l.pos]), Line: line, Col: col}
}

// readJSONObject collects a brace-balanced object literal. Braces inside
// quoted strings are not structural. The collected text must parse as JSON.
func (l *lexer) readJSONObject() Token {
	start, line, col := l.pos, l.line, l.col
	depth := 0

	for !l.atEnd() {
		c := l.cur()
		if isQuote(c) {
			l.skipQuoted(c)
			continue
		}
		switch c {
		case '{':
			depth++
		case '}':
			depth--
		}
		l.advance()
		if depth == 0 {
			break
		}
	}

	text := string(l.src[start:l.pos])
	kind := TokenJSONObject
	if !json.Valid([]byte(text)) {
		kind = TokenInvalid
	}
	return Token{Kind: kind, Text: text, Raw: text, Line: line, Col: col}
}

// skipQuoted advances over a quoted run inside a JSON object, keeping escapes
// verbatim.
func (l *lexer) skipQuoted(open rune) {
	l.advance()
	for !l.atEnd() && !closesQuote(open, l.cur()) {
		if _, ok := l.peek(); l.cur() == '\\' && ok {
			l.advance()
		}
		l.advance()
	}
	if !l.atEnd() {
		l.advance()
	}
}

func (l *lexer) readNumber() Token {
	start, line, col := l.pos, l.line, l.col
	for !l.atEnd() && isDigit(l.cur()) {
		l.advance()
	}
	raw := string(l.src[start:l.pos])
	n, err := strconv.Atoi(raw)
	if err != nil {
		return Token{Kind: TokenInvalid, Text: raw, Raw: raw, Line: line, Col: col}
	}
	return Token{Kind: TokenNumber, Text: raw, Raw: raw, Num: n, Line: line, Col: col}
}

func (l *lexer) readWord() Token {
	start, line, col := l.pos, l.line, l.col
	for !l.atEnd() && (isAlpha(l.cur()) || isDigit(l.cur())) {
		l.advance()
	}
	raw := string(l.src[start:l.pos])
	upper := strings.ToUpper(raw)
	if keywords[upper] {
		return Token{Kind: TokenKeyword, Text: upper, Raw: raw, Line: line, Col: col}
	}
	return Token{Kind: TokenInvalid, Text: raw, Raw: raw, Line: line, Col: col}
}
