package formula

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/lemonberrylabs/particlefx/pkg/types"
)

// MaxFormulaLength is the maximum allowed length of a normalised formula.
const MaxFormulaLength = 1024

// keyword is a reserved word recognised by the lexer. accept, when set, is
// consulted with the remaining input after the word and may reject the match.
type keyword struct {
	word   string
	typ    TokenType
	accept func(rest string) bool
}

// keywords is ordered longest first so that the first prefix match is the
// longest one.
var keywords = []keyword{
	{word: "round", typ: TokenRound},
	{word: "rand2", typ: TokenRand2},
	{word: "sqrt", typ: TokenSqrt},
	{word: "time", typ: TokenTime},
	{word: "rand", typ: TokenRand},
	{word: "sin", typ: TokenSin},
	{word: "sqr", typ: TokenUnit, accept: func(rest string) bool {
		return rest == "" || !isLetter(rest[0])
	}},
	{word: "cos", typ: TokenCos},
	{word: "abs", typ: TokenAbs},
	{word: "tan", typ: TokenTan},
	{word: "min", typ: TokenMin},
	{word: "max", typ: TokenMax},
	{word: "var", typ: TokenVar},
	{word: "ln", typ: TokenLn},
	{word: "r2", typ: TokenRand2},
	{word: "t", typ: TokenTime, accept: func(rest string) bool {
		return rest == "" || rest[0] != 'a'
	}},
	{word: "r", typ: TokenRand},
}

// Lexer tokenizes a formula string.
type Lexer struct {
	input  string
	pos    int
	tokens []Token
}

// NewLexer creates a new lexer for the given formula. Whitespace is removed and
// the text is folded to lower case before scanning.
func NewLexer(input string) *Lexer {
	return &Lexer{input: normalize(input)}
}

// Tokenize is a shorthand for NewLexer(text).Tokenize().
func Tokenize(text string) ([]Token, error) {
	return NewLexer(text).Tokenize()
}

// Tokenize scans the entire input, validates the token sequence and returns
// all tokens.
func (l *Lexer) Tokenize() ([]Token, error) {
	if len(l.input) > MaxFormulaLength {
		return nil, types.NewParseError(MaxFormulaLength,
			fmt.Sprintf("formula exceeds maximum length of %d characters", MaxFormulaLength))
	}
	for l.pos < len(l.input) {
		tok, err := l.next()
		if err != nil {
			return nil, err
		}
		l.tokens = append(l.tokens, tok)
	}
	if err := validate(l.tokens); err != nil {
		return nil, err
	}
	return l.tokens, nil
}

// next returns the next token from the input.
func (l *Lexer) next() (Token, error) {
	ch := l.input[l.pos]

	switch ch {
	case '+':
		return l.single(TokenAdd), nil
	case '*':
		if l.pos+1 < len(l.input) && l.input[l.pos+1] == '*' {
			l.pos += 2
			return Token{Type: TokenPow, Value: "**", Pos: l.pos - 2}, nil
		}
		return l.single(TokenMult), nil
	case '/':
		return l.single(TokenDiv), nil
	case '%':
		return l.single(TokenMod), nil
	case '(':
		return l.single(TokenOpen), nil
	case ')':
		return l.single(TokenClose), nil
	case ',':
		return l.single(TokenComma), nil
	case '-':
		// A minus directly before digits is a sign, unless it follows an
		// operand, in which case it is always subtraction.
		if l.startsNumber(l.pos+1) && !l.afterOperand() {
			return l.readNumber()
		}
		return l.single(TokenSub), nil
	}

	if isDigit(ch) || ch == '.' {
		return l.readNumber()
	}

	if isLetter(ch) {
		return l.readKeyword()
	}

	r, _ := utf8.DecodeRuneInString(l.input[l.pos:])
	return Token{}, types.NewLexError(l.pos, fmt.Sprintf("unexpected character %q", r))
}

func (l *Lexer) single(tt TokenType) Token {
	tok := Token{Type: tt, Value: l.input[l.pos : l.pos+1], Pos: l.pos}
	l.pos++
	return tok
}

// startsNumber reports whether a numeric literal begins at i.
func (l *Lexer) startsNumber(i int) bool {
	if i >= len(l.input) {
		return false
	}
	if isDigit(l.input[i]) {
		return true
	}
	return l.input[i] == '.' && i+1 < len(l.input) && isDigit(l.input[i+1])
}

// afterOperand reports whether the previous token ends an operand.
func (l *Lexer) afterOperand() bool {
	if len(l.tokens) == 0 {
		return false
	}
	prev := l.tokens[len(l.tokens)-1]
	return prev.Category() == CategoryValue || prev.Type == TokenClose
}

// readNumber reads an optionally signed decimal literal with at most one
// decimal point. A second point ends the literal.
func (l *Lexer) readNumber() (Token, error) {
	start := l.pos
	if l.input[l.pos] == '-' {
		l.pos++
	}

	digits := 0
	seenDot := false
	for l.pos < len(l.input) {
		ch := l.input[l.pos]
		if isDigit(ch) {
			digits++
			l.pos++
		} else if ch == '.' && !seenDot {
			seenDot = true
			l.pos++
		} else {
			break
		}
	}

	raw := l.input[start:l.pos]
	if digits == 0 {
		return Token{}, types.NewLexError(start, fmt.Sprintf("malformed number %q", raw))
	}
	// Literals beyond float64 range become ±Inf.
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil && !errors.Is(err, strconv.ErrRange) {
		return Token{}, types.NewLexError(start, fmt.Sprintf("invalid number %q", raw))
	}
	return Token{Type: TokenNumber, Value: raw, Literal: f, Pos: start}, nil
}

// readKeyword matches the longest keyword at the current position.
func (l *Lexer) readKeyword() (Token, error) {
	rest := l.input[l.pos:]
	for _, kw := range keywords {
		if !strings.HasPrefix(rest, kw.word) {
			continue
		}
		if kw.accept != nil && !kw.accept(rest[len(kw.word):]) {
			continue
		}
		tok := Token{Type: kw.typ, Value: kw.word, Pos: l.pos}
		l.pos += len(kw.word)
		return tok, nil
	}

	end := l.pos
	for end < len(l.input) && isLetter(l.input[end]) {
		end++
	}
	return Token{}, types.NewLexError(l.pos, fmt.Sprintf("unknown keyword %q", l.input[l.pos:end]))
}

// validate checks grouping balance and token adjacency over the flat sequence.
func validate(tokens []Token) error {
	if len(tokens) == 0 {
		return types.NewParseError(0, "empty formula")
	}

	depth := 0
	for i, tok := range tokens {
		switch tok.Type {
		case TokenOpen:
			if i+1 < len(tokens) && tokens[i+1].Type == TokenClose {
				return types.NewParseError(tok.Pos, "empty group '()'")
			}
			depth++
		case TokenClose:
			depth--
			if depth < 0 {
				return types.NewParseError(tok.Pos, "unbalanced ')'")
			}
		}

		cat := tok.Category()
		if i+1 == len(tokens) {
			if cat == CategoryFunction {
				return types.NewParseError(tok.Pos, fmt.Sprintf("function %s has no argument", tok.Value))
			}
			continue
		}

		next := tokens[i+1]
		nextCat := next.Category()
		if cat == CategoryFunction && nextCat != CategoryValue && next.Type != TokenOpen {
			return types.NewParseError(next.Pos,
				fmt.Sprintf("function %s must be followed by a value or '(', got %q", tok.Value, next.Value))
		}
		if cat == nextCat && cat != CategoryGroup {
			return types.NewParseError(next.Pos,
				fmt.Sprintf("adjacent %s tokens %q and %q", cat, tok.Value, next.Value))
		}
	}

	if depth != 0 {
		return types.NewParseError(tokens[len(tokens)-1].Pos, "unbalanced '('")
	}
	return nil
}

// normalize strips all whitespace and folds the formula to lower case.
func normalize(s string) string {
	s = strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return r
	}, s)
	return strings.ToLower(s)
}

func isDigit(ch byte) bool {
	return ch >= '0' && ch <= '9'
}

func isLetter(ch byte) bool {
	return ch >= 'a' && ch <= 'z'
}
