package main

import (
	"context"
	"fmt"
	"io"

	"github.com/book-expert/logger"
	"github.com/fatih/color"
	"github.com/nats-io/nats.go"
	"github.com/spf13/cobra"

	"github.com/book-expert/narration-service/internal/app"
	"github.com/book-expert/narration-service/internal/config"
)

const cliLogFile = "narrator.log"

// Colour scheme for reports.
var (
	colourTitle   = color.New(color.FgCyan, color.Bold)
	colourSuccess = color.New(color.FgGreen)
	colourError   = color.New(color.FgRed, color.Bold)
	colourWarning = color.New(color.FgYellow)
	colourInfo    = color.New(color.FgBlue)
)

// globalFlags are shared by every subcommand.
type globalFlags struct {
	configPath string
	jsonOutput bool
}

func newRootCmd() *cobra.Command {
	flags := &globalFlags{}

	rootCmd := &cobra.Command{
		Use:   "narrator",
		Short: "Narrate documents into cached audio",
		Long: `Narrator turns documents into spoken audio.

Each document is fetched, reduced to narratable text, rendered as SSML under a
speaking style and synthesized with the configured backend. Audio is cached by
content, so narrating the same text with the same voice twice costs one
synthesis call.

Document ids select their source:
  file:<path>        a file under [ingest] file_root
  http(s)://...      a web page
  store:<key>        an object in the configured object store`,
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVarP(&flags.configPath, "config", "c", "", "path to a narration TOML config (defaults apply when empty)")
	rootCmd.PersistentFlags().BoolVar(&flags.jsonOutput, "json", false, "print results as JSON")

	rootCmd.AddCommand(
		newBatchCmd(flags),
		newKeyCmd(flags),
		newCacheCmd(flags),
		newHealthCmd(flags),
	)

	return rootCmd
}

// session is an assembled pipeline plus the resources it holds.
type session struct {
	cfg            *config.Config
	app            *app.App
	log            *logger.Logger
	natsConnection *nats.Conn
}

func openSession(ctx context.Context, flags *globalFlags) (*session, error) {
	cfg, err := config.LoadFile(flags.configPath)
	if err != nil {
		return nil, err
	}

	log, err := logger.New(cfg.Paths.BaseLogsDir, cliLogFile)
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}

	opened := &session{cfg: cfg, log: log}

	var jetstreamContext nats.JetStreamContext

	if cfg.UsesNATS() {
		opened.natsConnection, jetstreamContext, err = app.Connect(cfg, log)
		if err != nil {
			opened.close()

			return nil, err
		}
	}

	opened.app, err = app.Build(ctx, cfg, jetstreamContext, log)
	if err != nil {
		opened.close()

		return nil, err
	}

	return opened, nil
}

func (s *session) close() {
	if s.app != nil {
		closeErr := s.app.Close()
		if closeErr != nil {
			s.log.Error("Failed to close backends: %v", closeErr)
		}
	}

	if s.natsConnection != nil {
		s.natsConnection.Close()
	}

	_ = s.log.Close()
}

func printTitle(w io.Writer, format string, args ...any) {
	_, _ = colourTitle.Fprintf(w, format+"\n", args...)
}
