package formula

import (
	"math"
	"strconv"
	"strings"
)

// Node is the interface for all formula AST nodes. Nodes are never modified
// after Build returns them.
type Node interface {
	nodeType() string
}

// NumberNode represents a numeric literal.
type NumberNode struct {
	Value float64
}

func (n *NumberNode) nodeType() string { return "Number" }

// ConstNode represents a runtime constant: t, r, r2 or sqr.
type ConstNode struct {
	Kind TokenType
}

func (n *ConstNode) nodeType() string { return "Const" }

// UnaryNode represents a function applied to a single operand (e.g. sin(t),
// or min over an argument list).
type UnaryNode struct {
	Op      TokenType
	Operand Node
}

func (n *UnaryNode) nodeType() string { return "Unary" }

// BinaryNode represents an arithmetic operation or an argument list link.
// Argument lists lean right: a,b,c is comma(a, comma(b, c)).
type BinaryNode struct {
	Op    TokenType
	Left  Node
	Right Node
}

func (n *BinaryNode) nodeType() string { return "Binary" }

// infLiteral is the shortest digit string that overflows float64.
var infLiteral = "1" + strings.Repeat("0", 309)

// formatNumber writes v in plain decimal notation, which the lexer reads back.
func formatNumber(sb *strings.Builder, v float64) {
	if math.IsInf(v, 0) {
		if v < 0 {
			sb.WriteByte('-')
		}
		sb.WriteString(infLiteral)
		return
	}
	sb.WriteString(strconv.FormatFloat(v, 'f', -1, 64))
}

// Format renders a node in a canonical, fully parenthesised form that
// compiles back to an identical tree.
func Format(node Node) string {
	var sb strings.Builder
	format(&sb, node)
	return sb.String()
}

func format(sb *strings.Builder, node Node) {
	switch n := node.(type) {
	case *NumberNode:
		formatNumber(sb, n.Value)
	case *ConstNode:
		sb.WriteString(n.Kind.symbol())
	case *UnaryNode:
		sb.WriteString(n.Op.symbol())
		if b, ok := n.Operand.(*BinaryNode); ok && b.Op != TokenComma {
			format(sb, b)
			return
		}
		sb.WriteByte('(')
		formatArgs(sb, n.Operand)
		sb.WriteByte(')')
	case *BinaryNode:
		sb.WriteByte('(')
		if n.Op == TokenComma {
			formatArgs(sb, n)
		} else {
			format(sb, n.Left)
			sb.WriteByte(' ')
			sb.WriteString(n.Op.symbol())
			sb.WriteByte(' ')
			format(sb, n.Right)
		}
		sb.WriteByte(')')
	default:
		sb.WriteString("?")
	}
}

// formatArgs writes an argument list without surrounding parentheses.
func formatArgs(sb *strings.Builder, node Node) {
	for {
		b, ok := node.(*BinaryNode)
		if !ok || b.Op != TokenComma {
			format(sb, node)
			return
		}
		format(sb, b.Left)
		sb.WriteString(", ")
		node = b.Right
	}
}
