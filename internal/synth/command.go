package synth

import (
	"bytes"
	"context"
	"errors"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/book-expert/logger"

	"github.com/book-expert/narration-service/internal/core"
)

const (
	defaultCommandBinary = "espeak-ng"
	commandWaitDelay     = 2 * time.Second
	maxCommandOutput     = 512
)

// ErrBinaryNotFound indicates the configured synthesis binary is not installed.
var ErrBinaryNotFound = errors.New("synthesis binary not found")

// CommandOptions configures a CommandSynthesizer.
type CommandOptions struct {
	// Binary is the executable name or path. Defaults to espeak-ng.
	Binary string
	// ExtraArgs are placed before the generated arguments.
	ExtraArgs []string
	// TempDir holds intermediate WAV files. Empty uses the system default.
	TempDir string
}

// CommandSynthesizer runs a local SSML-capable binary with an espeak-ng
// compatible command line: `-m -v <voice> -w <out.wav> --stdin`. The markup is
// written to stdin.
type CommandSynthesizer struct {
	binary    string
	extraArgs []string
	tempDir   string
	log       *logger.Logger
}

// NewCommandSynthesizer returns a synthesizer running opts.Binary.
func NewCommandSynthesizer(opts CommandOptions, log *logger.Logger) *CommandSynthesizer {
	if opts.Binary == "" {
		opts.Binary = defaultCommandBinary
	}

	return &CommandSynthesizer{
		binary:    opts.Binary,
		extraArgs: opts.ExtraArgs,
		tempDir:   opts.TempDir,
		log:       log,
	}
}

// Synthesize runs the binary once. A missing binary or a non-zero exit is
// permanent; running past the context deadline is transient.
func (p *CommandSynthesizer) Synthesize(
	ctx context.Context,
	markup core.MarkupText,
	voice core.VoiceID,
) (*core.AudioArtifact, error) {
	err := validateRequest(markup, voice)
	if err != nil {
		return nil, err
	}

	tempFile, err := os.CreateTemp(p.tempDir, "narration-*.wav")
	if err != nil {
		return nil, transient("failed to create temp file for synthesis output: %w", err)
	}

	outputPath := tempFile.Name()
	_ = tempFile.Close()

	defer func() {
		removeErr := os.Remove(outputPath)
		if removeErr != nil && !errors.Is(removeErr, os.ErrNotExist) && p.log != nil {
			p.log.Warn("Failed to remove temp file '%s': %v", outputPath, removeErr)
		}
	}()

	args := append([]string{}, p.extraArgs...)
	args = append(args, "-m", "-v", string(voice), "-w", outputPath, "--stdin")

	// #nosec G204 -- binary comes from configuration, voice is passed as a single argument
	cmd := exec.CommandContext(ctx, p.binary, args...)
	cmd.Stdin = strings.NewReader(string(markup))
	cmd.WaitDelay = commandWaitDelay

	output, err := cmd.CombinedOutput()
	if err != nil {
		return nil, p.classifyRunError(ctx, err, output)
	}

	audioData, err := os.ReadFile(outputPath)
	if err != nil {
		return nil, permanent("failed to read audio data from temp file: %w", err)
	}

	if len(audioData) == 0 {
		return nil, permanent("%w", ErrEmptyAudio)
	}

	return &core.AudioArtifact{
		Data:         audioData,
		Format:       core.FormatWAV,
		SampleRateHz: wavSampleRate(audioData),
	}, nil
}

// HealthCheck verifies the binary can be found.
func (p *CommandSynthesizer) HealthCheck(context.Context) error {
	_, err := exec.LookPath(p.binary)
	if err != nil {
		return permanent("%w: %s: %w", ErrBinaryNotFound, p.binary, err)
	}

	return nil
}

func (p *CommandSynthesizer) classifyRunError(ctx context.Context, err error, output []byte) error {
	if ctx.Err() != nil {
		return contextFailure(ctx, err)
	}

	if errors.Is(err, exec.ErrNotFound) || errors.Is(err, os.ErrNotExist) {
		return permanent("%w: %s: %w", ErrBinaryNotFound, p.binary, err)
	}

	trimmed := bytes.TrimSpace(output)
	if len(trimmed) > maxCommandOutput {
		trimmed = trimmed[:maxCommandOutput]
	}

	return permanent("%s execution failed: %w - output: %s", p.binary, err, trimmed)
}

var (
	_ core.Synthesizer = (*CommandSynthesizer)(nil)
	_ HealthChecker    = (*CommandSynthesizer)(nil)
)
