package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

// StepsCmd creates the steps command.
func StepsCmd(env *Env) *cobra.Command {
	return &cobra.Command{
		Use:   "steps",
		Short: "List the registered preprocessing steps",
		Long: `List the preprocessing steps available with the current configuration.

Model steps (audio_enhancement, noise_removal) need MODEL_SERVER_URL.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			cfg, pf, logger, err := env.load(ctx, "")
			if err != nil {
				return fmt.Errorf("%w: %w", ErrConfig, err)
			}
			deps, err := env.Build(ctx, cfg, pf, logger)
			if err != nil {
				return fmt.Errorf("%w: %w", ErrConfig, err)
			}
			defer func() { _ = deps.Shutdown(context.WithoutCancel(ctx)) }()

			for _, name := range deps.Registry.Names() {
				fmt.Fprintln(env.Stdout, name)
			}
			return nil
		},
	}
}
