package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/book-expert/narration-service/internal/cache"
	"github.com/book-expert/narration-service/internal/core"
	"github.com/book-expert/narration-service/internal/markup"
)

type keyOutput struct {
	DocumentID core.DocumentID `json:"document_id"`
	VoiceID    core.VoiceID    `json:"voice_id"`
	CacheKey   core.CacheKey   `json:"cache_key"`
	Markup     core.MarkupText `json:"markup,omitempty"`
}

func newKeyCmd(flags *globalFlags) *cobra.Command {
	var (
		voice      string
		showMarkup bool
	)

	keyCmd := &cobra.Command{
		Use:   "key <document-id>",
		Short: "Print the cache key of a document and voice",
		Long: `Fetch and format a document with the configured style, then print the
cache key its audio is stored under. Nothing is synthesized.

Examples:
  narrator key --voice en-US-voice1 file:chapter-01.html
  narrator key --voice en-US-voice1 --markup https://example.com/preface`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if voice == "" {
				return ErrVoiceRequired
			}

			opened, err := openSession(cmd.Context(), flags)
			if err != nil {
				return err
			}

			defer opened.close()

			id := core.DocumentID(args[0])

			raw, err := opened.app.Ingestor.Fetch(cmd.Context(), id)
			if err != nil {
				return err
			}

			text, err := opened.app.Ingestor.Parse(raw)
			if err != nil {
				return err
			}

			ssml, err := markup.NewFormatter().Format(text, opened.cfg.Style)
			if err != nil {
				return fmt.Errorf("failed to format %s: %w", id, err)
			}

			result := keyOutput{DocumentID: id, VoiceID: core.VoiceID(voice), CacheKey: cache.Key(ssml, core.VoiceID(voice))}
			if showMarkup {
				result.Markup = ssml
			}

			out := cmd.OutOrStdout()

			if flags.jsonOutput {
				encoded, marshalErr := json.Marshal(result)
				if marshalErr != nil {
					return fmt.Errorf("failed to encode key: %w", marshalErr)
				}

				_, _ = fmt.Fprintln(out, string(encoded))

				return nil
			}

			_, _ = fmt.Fprintln(out, result.CacheKey)

			if showMarkup {
				_, _ = fmt.Fprintln(out, result.Markup)
			}

			return nil
		},
	}

	keyCmd.Flags().StringVar(&voice, "voice", "", "voice id")
	keyCmd.Flags().BoolVar(&showMarkup, "markup", false, "also print the SSML")

	return keyCmd
}
