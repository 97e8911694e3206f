package formula

import (
	"fmt"

	"github.com/lemonberrylabs/particlefx/pkg/types"
)

// Formula is a compiled formula. It holds no per-particle state and can be
// evaluated concurrently with different contexts.
type Formula struct {
	Source string
	Root   Node
}

// Compile tokenizes and builds a formula.
func Compile(text string) (*Formula, error) {
	tokens, err := Tokenize(text)
	if err != nil {
		return nil, err
	}
	root, err := Build(tokens)
	if err != nil {
		return nil, err
	}
	return &Formula{Source: text, Root: root}, nil
}

// MustCompile is like Compile but panics on error. Intended for tests and
// package-level defaults.
func MustCompile(text string) *Formula {
	f, err := Compile(text)
	if err != nil {
		panic(fmt.Sprintf("formula: Compile(%q): %v", text, err))
	}
	return f
}

// String returns the canonical form of the compiled tree.
func (f *Formula) String() string {
	return Format(f.Root)
}

// Parser builds an expression tree from a complete token sequence.
type Parser struct {
	tokens []Token
	pos    int
}

// Build consumes the whole token sequence and returns the single tree root.
//
// Precedence, tightest first:
//
//	( ... )
//	function application (ln sin cos tan sqrt abs round min max var)
//	**            left-associative
//	*, /, %       left-associative
//	+, -          left-associative
//	,             right-leaning argument list
func Build(tokens []Token) (Node, error) {
	if len(tokens) == 0 {
		return nil, types.NewParseError(0, "empty formula")
	}
	if first := tokens[0]; first.Category() == CategoryOperator {
		return nil, types.NewParseError(first.Pos, fmt.Sprintf("formula cannot start with operator %q", first.Value))
	}
	if last := tokens[len(tokens)-1]; last.Category() == CategoryOperator {
		return nil, types.NewParseError(last.Pos, fmt.Sprintf("formula cannot end with operator %q", last.Value))
	}

	p := &Parser{tokens: tokens}
	node, err := p.parseArgList()
	if err != nil {
		return nil, err
	}
	if p.more() {
		tok := p.current()
		return nil, types.NewParseError(tok.Pos,
			fmt.Sprintf("unexpected %q: formula does not reduce to a single expression", tok.Value))
	}
	return node, nil
}

// more reports whether unconsumed tokens remain.
func (p *Parser) more() bool {
	return p.pos < len(p.tokens)
}

// current returns the current token. Callers check more first.
func (p *Parser) current() Token {
	return p.tokens[p.pos]
}

// advance consumes the current token and returns it.
func (p *Parser) advance() Token {
	tok := p.tokens[p.pos]
	p.pos++
	return tok
}

// endPos is the position reported for errors at the end of input.
func (p *Parser) endPos() int {
	last := p.tokens[len(p.tokens)-1]
	return last.Pos + len(last.Value)
}

// at reports whether the current token is one of the given types.
func (p *Parser) at(tts ...TokenType) bool {
	if !p.more() {
		return false
	}
	cur := p.current().Type
	for _, tt := range tts {
		if cur == tt {
			return true
		}
	}
	return false
}

// parseArgList handles the loosest level: expr (',' expr)*, building a
// right-leaning chain.
func (p *Parser) parseArgList() (Node, error) {
	left, err := p.parseAdditive()
	if err != nil {
		return nil, err
	}
	if !p.at(TokenComma) {
		return left, nil
	}
	p.advance()
	right, err := p.parseArgList()
	if err != nil {
		return nil, err
	}
	return &BinaryNode{Op: TokenComma, Left: left, Right: right}, nil
}

func (p *Parser) parseAdditive() (Node, error) {
	left, err := p.parseMultiplicative()
	if err != nil {
		return nil, err
	}

	for p.at(TokenAdd, TokenSub) {
		op := p.advance().Type
		right, err := p.parseMultiplicative()
		if err != nil {
			return nil, err
		}
		left = &BinaryNode{Op: op, Left: left, Right: right}
	}
	return left, nil
}

func (p *Parser) parseMultiplicative() (Node, error) {
	left, err := p.parsePower()
	if err != nil {
		return nil, err
	}

	for p.at(TokenMult, TokenDiv, TokenMod) {
		op := p.advance().Type
		right, err := p.parsePower()
		if err != nil {
			return nil, err
		}
		left = &BinaryNode{Op: op, Left: left, Right: right}
	}
	return left, nil
}

func (p *Parser) parsePower() (Node, error) {
	left, err := p.parseCall()
	if err != nil {
		return nil, err
	}

	for p.at(TokenPow) {
		p.advance()
		right, err := p.parseCall()
		if err != nil {
			return nil, err
		}
		left = &BinaryNode{Op: TokenPow, Left: left, Right: right}
	}
	return left, nil
}

// parseCall binds a function to the single atom on its right.
func (p *Parser) parseCall() (Node, error) {
	if !p.more() || p.current().Category() != CategoryFunction {
		return p.parseAtom()
	}
	fn := p.advance()
	if !p.more() {
		return nil, types.NewParseError(fn.Pos, fmt.Sprintf("function %s has no argument", fn.Value))
	}
	operand, err := p.parseAtom()
	if err != nil {
		return nil, err
	}
	return &UnaryNode{Op: fn.Type, Operand: operand}, nil
}

func (p *Parser) parseAtom() (Node, error) {
	if !p.more() {
		return nil, types.NewParseError(p.endPos(), "missing operand at end of formula")
	}
	tok := p.current()

	switch tok.Type {
	case TokenNumber:
		p.advance()
		return &NumberNode{Value: tok.Literal}, nil
	case TokenTime, TokenRand, TokenRand2, TokenUnit:
		p.advance()
		return &ConstNode{Kind: tok.Type}, nil
	case TokenOpen:
		p.advance()
		inner, err := p.parseArgList()
		if err != nil {
			return nil, err
		}
		if !p.at(TokenClose) {
			if !p.more() {
				return nil, types.NewParseError(tok.Pos, "unbalanced '('")
			}
			cur := p.current()
			return nil, types.NewParseError(cur.Pos, fmt.Sprintf("expected ')', got %q", cur.Value))
		}
		p.advance()
		return inner, nil
	default:
		return nil, types.NewParseError(tok.Pos, fmt.Sprintf("missing operand before %q", tok.Value))
	}
}
