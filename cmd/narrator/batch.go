package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/goccy/go-yaml"
	"github.com/spf13/cobra"

	"github.com/book-expert/narration-service/internal/core"
	"github.com/book-expert/narration-service/internal/worker"
)

var (
	// ErrNoWork indicates a batch command with neither a manifest nor documents.
	ErrNoWork = errors.New("nothing to narrate: pass document ids or --manifest")
	// ErrVoiceRequired indicates document arguments without --voice.
	ErrVoiceRequired = errors.New("--voice is required when documents are given as arguments")
	// ErrBatchFailed indicates at least one item of the batch failed.
	ErrBatchFailed = errors.New("batch finished with failures")
)

// Manifest lists the items of a batch. Style applies to items without their own.
type Manifest struct {
	Style *core.StyleConfig `json:"style,omitempty" yaml:"style,omitempty"`
	Items []core.WorkItem   `json:"items"           yaml:"items"`
}

type batchFlags struct {
	manifest string
	voice    string
}

func newBatchCmd(flags *globalFlags) *cobra.Command {
	local := &batchFlags{}

	batchCmd := &cobra.Command{
		Use:   "batch [document-id...]",
		Short: "Narrate a batch of documents",
		Long: `Narrate a batch of documents and report one line per item.

Items come from a manifest, from arguments (all narrated with --voice), or both.

Example manifest (book.yaml):
  style:
    emphasis_level: strong
    pause_after_ms: 500
    rate: slow
    pitch: medium
  items:
    - document_id: file:chapter-01.html
      voice_id: en-US-voice1
    - document_id: https://example.com/preface
      voice_id: en-US-voice2

Examples:
  narrator -c narration.toml batch -f book.yaml
  narrator batch --voice en-US-voice1 file:intro.txt file:outro.txt`,
		RunE: func(cmd *cobra.Command, args []string) error {
			items, err := collectItems(local, args)
			if err != nil {
				return err
			}

			opened, err := openSession(cmd.Context(), flags)
			if err != nil {
				return err
			}

			defer opened.close()

			started := time.Now()
			results := opened.app.Run(cmd.Context(), items)

			if flags.jsonOutput {
				err = writeJSON(cmd.OutOrStdout(), results)
				if err != nil {
					return err
				}
			} else {
				writeReport(cmd.OutOrStdout(), results, time.Since(started))
			}

			failed := countFailures(results)
			if failed > 0 {
				return fmt.Errorf("%w: %d of %d items", ErrBatchFailed, failed, len(results))
			}

			return nil
		},
	}

	batchCmd.Flags().StringVarP(&local.manifest, "manifest", "f", "", "YAML or JSON manifest of items")
	batchCmd.Flags().StringVar(&local.voice, "voice", "", "voice for documents given as arguments")

	return batchCmd
}

func collectItems(local *batchFlags, args []string) ([]core.WorkItem, error) {
	var items []core.WorkItem

	if local.manifest != "" {
		manifest, err := loadManifest(local.manifest)
		if err != nil {
			return nil, err
		}

		for _, item := range manifest.Items {
			if item.Style == nil && manifest.Style != nil {
				style := *manifest.Style
				item.Style = &style
			}

			items = append(items, item)
		}
	}

	if len(args) > 0 && local.voice == "" {
		return nil, ErrVoiceRequired
	}

	for _, arg := range args {
		items = append(items, core.WorkItem{DocumentID: core.DocumentID(arg), VoiceID: core.VoiceID(local.voice)})
	}

	if len(items) == 0 {
		return nil, ErrNoWork
	}

	return items, nil
}

// loadManifest reads a YAML or JSON manifest. Unknown extensions try YAML, which
// also accepts JSON.
func loadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path) // #nosec G304 -- operator supplied manifest path
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest %s: %w", path, err)
	}

	var manifest Manifest

	if strings.EqualFold(filepath.Ext(path), ".json") {
		err = json.Unmarshal(data, &manifest)
	} else {
		err = yaml.Unmarshal(data, &manifest)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to parse manifest %s: %w", path, err)
	}

	return &manifest, nil
}

func writeJSON(w io.Writer, results []core.Result) error {
	items := make([]worker.ItemResult, 0, len(results))
	for _, result := range results {
		items = append(items, worker.ToItemResult(result))
	}

	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")

	err := encoder.Encode(items)
	if err != nil {
		return fmt.Errorf("failed to encode results: %w", err)
	}

	return nil
}

func writeReport(w io.Writer, results []core.Result, elapsed time.Duration) {
	printTitle(w, "Narrated %d items in %s", len(results), elapsed.Round(time.Millisecond))

	for _, result := range results {
		label := fmt.Sprintf("%s (%s)", result.Item.DocumentID, result.Item.VoiceID)

		if !result.OK() {
			_, _ = colourError.Fprintf(w, "  ✗ %s: [%s] %v\n", label, core.ErrorKind(result.Err), result.Err)
		} else {
			_, _ = colourSuccess.Fprintf(w, "  ✓ %s → %s", label, locationOf(result))
			_, _ = colourInfo.Fprintf(w, " %s\n", provenance(result))
		}

		for _, warning := range result.Warnings {
			_, _ = colourWarning.Fprintf(w, "    ! %s\n", warning)
		}
	}
}

func locationOf(result core.Result) string {
	if result.Location == "" {
		return result.Key.Short()
	}

	return result.Location
}

func provenance(result core.Result) string {
	switch {
	case result.CacheHit:
		return "[cache hit]"
	case result.Shared:
		return "[shared synthesis]"
	default:
		return fmt.Sprintf("[synthesized, %d attempt(s)]", result.Attempts)
	}
}

func countFailures(results []core.Result) int {
	failed := 0

	for _, result := range results {
		if !result.OK() {
			failed++
		}
	}

	return failed
}
