package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/lemonberrylabs/particlefx/pkg/formula"
	"github.com/lemonberrylabs/particlefx/pkg/runtime"
)

func newEvalCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:          "eval <formula>",
		Short:        "Compile and evaluate a single formula",
		Args:         cobra.ExactArgs(1),
		SilenceUsage: true,
		RunE:         runEval,
	}

	cmd.Flags().Float64("t", 0, "Elapsed particle time in seconds")
	cmd.Flags().Float64("r", 0, "First per-particle random value")
	cmd.Flags().Float64("r2", 0, "Second per-particle random value")
	cmd.Flags().Float64("unit", 1, "Engine unit (sqr)")
	cmd.Flags().StringArray("var", nil, "Host variable as index=value (repeatable)")
	cmd.Flags().Bool("tree", false, "Print the compiled tree before the value")
	return cmd
}

func runEval(cmd *cobra.Command, args []string) error {
	f, err := formula.Compile(args[0])
	if err != nil {
		return err
	}

	vars := runtime.NewVariableStore(0)
	assignments, _ := cmd.Flags().GetStringArray("var")
	for _, kv := range assignments {
		index, value, err := parseVar(kv)
		if err != nil {
			return err
		}
		if err := vars.Set(index, value); err != nil {
			return err
		}
	}

	ctx := &formula.Context{Variables: vars}
	ctx.Elapsed, _ = cmd.Flags().GetFloat64("t")
	ctx.Rand, _ = cmd.Flags().GetFloat64("r")
	ctx.Rand2, _ = cmd.Flags().GetFloat64("r2")
	ctx.EngineUnit, _ = cmd.Flags().GetFloat64("unit")

	v, err := f.Eval(ctx)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if tree, _ := cmd.Flags().GetBool("tree"); tree {
		fmt.Fprintln(out, f.String())
	}
	fmt.Fprintln(out, v.String())
	return nil
}

func parseVar(kv string) (int, float64, error) {
	idx, val, ok := strings.Cut(kv, "=")
	if !ok {
		return 0, 0, fmt.Errorf("invalid --var %q: expected index=value", kv)
	}
	index, err := strconv.Atoi(strings.TrimSpace(idx))
	if err != nil {
		return 0, 0, fmt.Errorf("invalid --var index %q: %w", idx, err)
	}
	value, err := strconv.ParseFloat(strings.TrimSpace(val), 64)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid --var value %q: %w", val, err)
	}
	return index, value, nil
}
