package cbpl

// ParseLine recognizes a single instruction line. It returns false when the
// line is not exactly one of the four instruction shapes; this is not an
// error, ordinary prose simply does not match.
func ParseLine(line string) (Command, bool) {
	return ParseTokens(Lex(line))
}

// ParseTokens recognizes one instruction from the tokens of a single line.
// A trailing NEWLINE/EOF is ignored; every other token must be consumed.
func ParseTokens(tokens []Token) (Command, bool) {
	tokens = trimLineEnd(tokens)
	if len(tokens) < 2 {
		return nil, false
	}

	verb := tokens[0]
	// Verbs are case-sensitive: "say" lexes as the SAY keyword but is prose here.
	if verb.Kind != TokenKeyword || verb.Raw != verb.Text {
		return nil, false
	}
	args := tokens[1:]

	switch verb.Text {
	case KeywordSay:
		if len(args) == 1 && args[0].Kind == TokenString {
			return Say{Content: args[0].Text}, true
		}
	case KeywordChunkSize:
		if len(args) == 1 && args[0].Kind == TokenNumber {
			return ChunkSize{Size: args[0].Num}, true
		}
	case KeywordChunkLatency:
		if len(args) == 1 && args[0].Kind == TokenNumber {
			return ChunkLatency{LatencyMs: args[0].Num}, true
		}
	case KeywordToolCall:
		return parseToolCall(args)
	}
	return nil, false
}

// parseToolCall matches: STRING (STRING | JSON_OBJECT) [STRING].
func parseToolCall(args []Token) (Command, bool) {
	if len(args) != 2 && len(args) != 3 {
		return nil, false
	}
	if args[0].Kind != TokenString {
		return nil, false
	}
	if args[1].Kind != TokenString && args[1].Kind != TokenJSONObject {
		return nil, false
	}
	call := ToolCall{ToolName: args[0].Text, Arguments: args[1].Text}
	if len(args) == 3 {
		if args[2].Kind != TokenString {
			return nil, false
		}
		call.Answer = args[2].Text
	}
	return call, true
}

func trimLineEnd(tokens []Token) []Token {
	for len(tokens) > 0 {
		switch tokens[len(tokens)-1].Kind {
		case TokenEOF, TokenNewline:
			tokens = tokens[:len(tokens)-1]
		default:
			return tokens
		}
	}
	return tokens
}
