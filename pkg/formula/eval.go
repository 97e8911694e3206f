package formula

import (
	"fmt"
	"math"

	"github.com/lemonberrylabs/particlefx/pkg/types"
)

// VariableReader provides read access to the host's indexed variable store.
type VariableReader interface {
	// Variable returns the number stored at index.
	Variable(index int) (float64, error)
}

// Context holds the per-call inputs of an evaluation. The evaluator never
// modifies it.
type Context struct {
	Elapsed    float64 // particle age in seconds (t)
	Rand       float64 // first random draw, fixed at spawn (r)
	Rand2      float64 // second random draw, fixed at spawn (r2)
	EngineUnit float64 // engine unit constant (sqr)
	Variables  VariableReader
}

// Evaluate evaluates a formula node against ctx. The result is a number, or a
// list for an argument list that is not reduced by min or max.
func Evaluate(node Node, ctx *Context) (types.Value, error) {
	if ctx == nil {
		ctx = &Context{}
	}
	return eval(node, ctx)
}

// Eval evaluates the compiled formula.
func (f *Formula) Eval(ctx *Context) (types.Value, error) {
	return Evaluate(f.Root, ctx)
}

// EvalNumber evaluates the formula and requires a scalar result.
func (f *Formula) EvalNumber(ctx *Context) (float64, error) {
	v, err := Evaluate(f.Root, ctx)
	if err != nil {
		return 0, err
	}
	n, ok := v.AsNumber()
	if !ok {
		return 0, types.NewEvalError(fmt.Sprintf("formula produced a list of %d values, expected a number", v.Len()))
	}
	return n, nil
}

func eval(node Node, ctx *Context) (types.Value, error) {
	switch n := node.(type) {
	case *NumberNode:
		return types.NewNumber(n.Value), nil
	case *ConstNode:
		return evalConst(n, ctx)
	case *UnaryNode:
		return evalUnary(n, ctx)
	case *BinaryNode:
		if n.Op == TokenComma {
			return evalArgs(n, ctx)
		}
		return evalBinary(n, ctx)
	default:
		return types.Value{}, fmt.Errorf("unsupported formula node type: %T", node)
	}
}

func evalConst(n *ConstNode, ctx *Context) (types.Value, error) {
	switch n.Kind {
	case TokenTime:
		return types.NewNumber(ctx.Elapsed), nil
	case TokenRand:
		return types.NewNumber(ctx.Rand), nil
	case TokenRand2:
		return types.NewNumber(ctx.Rand2), nil
	case TokenUnit:
		return types.NewNumber(ctx.EngineUnit), nil
	default:
		return types.Value{}, fmt.Errorf("unknown constant: %s", n.Kind)
	}
}

// scalar evaluates node and requires a number.
func scalar(node Node, ctx *Context, op TokenType) (float64, error) {
	v, err := eval(node, ctx)
	if err != nil {
		return 0, err
	}
	f, ok := v.AsNumber()
	if !ok {
		return 0, types.NewEvalError(
			fmt.Sprintf("%s applied to a list of %d values", op.symbol(), v.Len()))
	}
	return f, nil
}

func evalBinary(n *BinaryNode, ctx *Context) (types.Value, error) {
	a, err := scalar(n.Left, ctx, n.Op)
	if err != nil {
		return types.Value{}, err
	}
	b, err := scalar(n.Right, ctx, n.Op)
	if err != nil {
		return types.Value{}, err
	}

	switch n.Op {
	case TokenAdd:
		return types.NewNumber(a + b), nil
	case TokenSub:
		return types.NewNumber(a - b), nil
	case TokenMult:
		return types.NewNumber(a * b), nil
	case TokenDiv:
		return types.NewNumber(a / b), nil
	case TokenMod:
		return types.NewNumber(math.Mod(a, b)), nil
	case TokenPow:
		return types.NewNumber(math.Pow(a, b)), nil
	default:
		return types.Value{}, fmt.Errorf("unsupported binary operator: %s", n.Op)
	}
}

func evalUnary(n *UnaryNode, ctx *Context) (types.Value, error) {
	if n.Op == TokenMin || n.Op == TokenMax {
		return evalReduce(n, ctx)
	}

	a, err := scalar(n.Operand, ctx, n.Op)
	if err != nil {
		return types.Value{}, err
	}

	switch n.Op {
	case TokenSqrt:
		return types.NewNumber(math.Sqrt(a)), nil
	case TokenLn:
		return types.NewNumber(math.Log(a)), nil
	case TokenSin:
		return types.NewNumber(math.Sin(a)), nil
	case TokenCos:
		return types.NewNumber(math.Cos(a)), nil
	case TokenTan:
		return types.NewNumber(math.Tan(a)), nil
	case TokenAbs:
		return types.NewNumber(math.Abs(a)), nil
	case TokenRound:
		return types.NewNumber(math.Round(a)), nil
	case TokenVar:
		return evalVar(a, ctx)
	default:
		return types.Value{}, fmt.Errorf("unsupported function: %s", n.Op)
	}
}

// evalReduce implements min and max. A single argument reduces to itself.
func evalReduce(n *UnaryNode, ctx *Context) (types.Value, error) {
	v, err := eval(n.Operand, ctx)
	if err != nil {
		return types.Value{}, err
	}
	if !v.IsList() {
		return v, nil
	}
	items := v.AsList()
	acc := items[0]
	for _, f := range items[1:] {
		if n.Op == TokenMin {
			acc = math.Min(acc, f)
		} else {
			acc = math.Max(acc, f)
		}
	}
	return types.NewNumber(acc), nil
}

func evalVar(a float64, ctx *Context) (types.Value, error) {
	if math.IsNaN(a) || math.IsInf(a, 0) {
		return types.Value{}, types.NewIndexError(fmt.Sprintf("variable index %v is not finite", a))
	}
	if ctx.Variables == nil {
		return types.Value{}, types.NewIndexError("no variable store available")
	}
	f, err := ctx.Variables.Variable(int(math.Round(a)))
	if err != nil {
		return types.Value{}, err
	}
	return types.NewNumber(f), nil
}

// evalArgs flattens a right-leaning argument chain into a single list.
func evalArgs(n *BinaryNode, ctx *Context) (types.Value, error) {
	head, err := scalar(n.Left, ctx, TokenComma)
	if err != nil {
		return types.Value{}, err
	}
	tail, err := eval(n.Right, ctx)
	if err != nil {
		return types.Value{}, err
	}
	items := make([]float64, 0, 1+tail.Len())
	items = append(items, head)
	if f, ok := tail.AsNumber(); ok {
		items = append(items, f)
	} else {
		items = append(items, tail.AsList()...)
	}
	return types.NewList(items), nil
}
