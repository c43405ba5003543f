package cbpl

import "fmt"

// TokenKind classifies a lexer token.
type TokenKind int

const (
	TokenInvalid TokenKind = iota
	TokenString
	TokenNumber
	TokenJSONObject
	TokenKeyword
	TokenNewline
	TokenEOF
)

var tokenKindNames = map[TokenKind]string{
	TokenInvalid:    "INVALID",
	TokenString:     "STRING",
	TokenNumber:     "NUMBER",
	TokenJSONObject: "JSON_OBJECT",
	TokenKeyword:    "KEYWORD",
	TokenNewline:    "NEWLINE",
	TokenEOF:        "EOF",
}

func (k TokenKind) String() string {
	if s, ok := tokenKindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("TokenKind(%d)", int(k))
}

// Instruction keywords.
const (
	KeywordSay          = "SAY"
	KeywordChunkSize    = "CHUNKSIZE"
	KeywordChunkLatency = "CHUNKLATENCY"
	KeywordToolCall     = "TOOLCALL"
)

var keywords = map[string]bool{
	KeywordSay:          true,
	KeywordChunkSize:    true,
	KeywordChunkLatency: true,
	KeywordToolCall:     true,
}

// Token is one lexical unit.
//
//   - Text is the decoded value: string contents with escapes applied, the
//     upper-cased keyword, the raw JSON text, or the offending text of an
//     INVALID token.
//   - Raw is the exact source slice the token was read from.
//   - Num holds the parsed value of a NUMBER token.
//   - Line and Col are 1-based and count runes.
type Token struct {
	Kind TokenKind
	Text string
	Raw  string
	Num  int
	Line int
	Col  int
}

func (t Token) String() string {
	switch t.Kind {
	case TokenNumber:
		return fmt.Sprintf("%d:%d %s %d", t.Line, t.Col, t.Kind, t.Num)
	case TokenNewline, TokenEOF:
		return fmt.Sprintf("%d:%d %s", t.Line, t.Col, t.Kind)
	}
	return fmt.Sprintf("%d:%d %s %q", t.Line, t.Col, t.Kind, t.Text)
}
