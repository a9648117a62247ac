package main

import (
	"github.com/spf13/cobra"

	"github.com/book-expert/narration-service/internal/cache"
	"github.com/book-expert/narration-service/internal/core"
)

func newCacheCmd(flags *globalFlags) *cobra.Command {
	cacheCmd := &cobra.Command{
		Use:   "cache",
		Short: "Manage the audio cache",
	}

	evictCmd := &cobra.Command{
		Use:   "evict <key>...",
		Short: "Remove cache entries",
		Long: `Remove cache entries by key, forcing the next request to synthesize again.
Keys are printed by "narrator key" and in batch results. Missing entries are
not an error.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			keys := make([]core.CacheKey, 0, len(args))

			for _, arg := range args {
				key := core.CacheKey(arg)

				err := cache.ValidateKey(key)
				if err != nil {
					return err
				}

				keys = append(keys, key)
			}

			opened, err := openSession(cmd.Context(), flags)
			if err != nil {
				return err
			}

			defer opened.close()

			for _, key := range keys {
				err = opened.app.Evict(cmd.Context(), key)
				if err != nil {
					return err
				}

				_, _ = colourSuccess.Fprintf(cmd.OutOrStdout(), "✓ evicted %s\n", key.Short())
			}

			return nil
		},
	}

	cacheCmd.AddCommand(evictCmd)

	return cacheCmd
}
