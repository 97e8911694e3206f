package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/lemonberrylabs/particlefx/pkg/effect"
)

func newCheckCmd() *cobra.Command {
	return &cobra.Command{
		Use:          "check <file>...",
		Short:        "Parse and compile effect definition files",
		Args:         cobra.MinimumNArgs(1),
		SilenceUsage: true,
		RunE:         runCheck,
	}
}

func runCheck(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	failed := 0

	for _, path := range args {
		data, err := os.ReadFile(path)
		if err != nil {
			fmt.Fprintf(out, "%s: %v\n", path, err)
			failed++
			continue
		}

		eff, err := effect.Load(data)
		if err != nil {
			fmt.Fprintf(out, "%s: %v\n", path, err)
			failed++
			continue
		}

		name := eff.Def.Name
		if name == "" {
			name = "unnamed"
		}
		fmt.Fprintf(out, "%s: ok (%s, %g particles/s, %gs lifespan)\n", path, name, eff.Def.Rate, eff.Def.Lifespan)
	}

	if failed > 0 {
		return fmt.Errorf("%d of %d file(s) failed", failed, len(args))
	}
	return nil
}
