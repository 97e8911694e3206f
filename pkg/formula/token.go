// Package formula implements the particle formula language: a lexer, a tree
// builder and an evaluator for expressions such as "sin(t)*2+r" that describe
// particle position, size and opacity over time.
//
// A formula is compiled once and evaluated many times. Compiled trees are
// immutable and may be shared between goroutines.
package formula

// TokenType represents the type of a lexical token.
type TokenType int

const (
	// Operators
	TokenAdd  TokenType = iota // +
	TokenSub                   // -
	TokenMult                  // *
	TokenDiv                   // /
	TokenMod                   // %
	TokenPow                   // **

	// Grouping and separator
	TokenOpen  // (
	TokenClose // )
	TokenComma // ,

	// Functions
	TokenLn
	TokenSin
	TokenCos
	TokenTan
	TokenSqrt
	TokenAbs
	TokenRound
	TokenMin
	TokenMax
	TokenVar

	// Values
	TokenTime   // t, time
	TokenRand   // r, rand
	TokenRand2  // r2, rand2
	TokenUnit   // sqr
	TokenNumber // numeric literal
)

// Category groups token types for adjacency validation and precedence.
type Category int

const (
	CategoryGroup Category = iota // ( and )
	CategoryOperator
	CategoryFunction
	CategoryValue
	CategorySeparator
)

// Category returns the category of the token type.
func (t TokenType) Category() Category {
	switch t {
	case TokenAdd, TokenSub, TokenMult, TokenDiv, TokenMod, TokenPow:
		return CategoryOperator
	case TokenLn, TokenSin, TokenCos, TokenTan, TokenSqrt, TokenAbs, TokenRound,
		TokenMin, TokenMax, TokenVar:
		return CategoryFunction
	case TokenTime, TokenRand, TokenRand2, TokenUnit, TokenNumber:
		return CategoryValue
	case TokenComma:
		return CategorySeparator
	default:
		return CategoryGroup
	}
}

// Token represents a single lexical token.
type Token struct {
	Type    TokenType
	Value   string  // raw text of the token
	Literal float64 // parsed value (for TokenNumber)
	Pos     int     // position in the normalised formula
}

// Category returns the token's category.
func (t Token) Category() Category { return t.Type.Category() }

// String returns a debug-friendly representation of the token type.
func (t TokenType) String() string {
	switch t {
	case TokenAdd:
		return "ADD"
	case TokenSub:
		return "SUB"
	case TokenMult:
		return "MULT"
	case TokenDiv:
		return "DIV"
	case TokenMod:
		return "MOD"
	case TokenPow:
		return "POW"
	case TokenOpen:
		return "OPEN"
	case TokenClose:
		return "CLOSE"
	case TokenComma:
		return "COMMA"
	case TokenLn:
		return "LN"
	case TokenSin:
		return "SIN"
	case TokenCos:
		return "COS"
	case TokenTan:
		return "TAN"
	case TokenSqrt:
		return "SQRT"
	case TokenAbs:
		return "ABS"
	case TokenRound:
		return "ROUND"
	case TokenMin:
		return "MIN"
	case TokenMax:
		return "MAX"
	case TokenVar:
		return "VAR"
	case TokenTime:
		return "TIME"
	case TokenRand:
		return "RAND"
	case TokenRand2:
		return "RAND2"
	case TokenUnit:
		return "UNIT"
	case TokenNumber:
		return "NUMBER"
	default:
		return "UNKNOWN"
	}
}

// String returns the category name.
func (c Category) String() string {
	switch c {
	case CategoryGroup:
		return "group"
	case CategoryOperator:
		return "operator"
	case CategoryFunction:
		return "function"
	case CategoryValue:
		return "value"
	case CategorySeparator:
		return "separator"
	default:
		return "unknown"
	}
}

// symbol returns the canonical source spelling of the token type.
func (t TokenType) symbol() string {
	switch t {
	case TokenAdd:
		return "+"
	case TokenSub:
		return "-"
	case TokenMult:
		return "*"
	case TokenDiv:
		return "/"
	case TokenMod:
		return "%"
	case TokenPow:
		return "**"
	case TokenOpen:
		return "("
	case TokenClose:
		return ")"
	case TokenComma:
		return ","
	case TokenLn:
		return "ln"
	case TokenSin:
		return "sin"
	case TokenCos:
		return "cos"
	case TokenTan:
		return "tan"
	case TokenSqrt:
		return "sqrt"
	case TokenAbs:
		return "abs"
	case TokenRound:
		return "round"
	case TokenMin:
		return "min"
	case TokenMax:
		return "max"
	case TokenVar:
		return "var"
	case TokenTime:
		return "t"
	case TokenRand:
		return "r"
	case TokenRand2:
		return "r2"
	case TokenUnit:
		return "sqr"
	default:
		return "?"
	}
}
