package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

const healthTimeout = 10 * time.Second

func newHealthCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check that the synthesis backend is reachable",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			opened, err := openSession(cmd.Context(), flags)
			if err != nil {
				return err
			}

			defer opened.close()

			ctx, cancel := context.WithTimeout(cmd.Context(), healthTimeout)
			defer cancel()

			err = opened.app.HealthCheck(ctx)
			if err != nil {
				return fmt.Errorf("%s backend is not healthy: %w", opened.cfg.Synthesis.Backend, err)
			}

			_, _ = colourSuccess.Fprintf(cmd.OutOrStdout(), "✓ %s backend is healthy\n", opened.cfg.Synthesis.Backend)

			return nil
		},
	}
}
