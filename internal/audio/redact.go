package audio

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/callsight/callsight/internal/types"
)

// Redactor mutes PII time windows in an audio file. There is deliberately no
// fallback path: a file is only ever written to the output location after the
// mute filter ran to completion.
type Redactor struct {
	runner *Runner
}

// NewRedactor creates a redactor over the given ffmpeg runner.
func NewRedactor(runner *Runner) *Redactor {
	return &Redactor{runner: runner}
}

// BuildMuteFilter renders one volume expression per range, chained into a
// single -af argument. Each expression silences the stream while t is inside
// the range.
func BuildMuteFilter(ranges []types.PiiRange) string {
	exprs := make([]string, len(ranges))
	for i, r := range ranges {
		exprs[i] = fmt.Sprintf("volume=enable='between(t,%.3f,%.3f)':volume=0", r.Start, r.End)
	}
	return strings.Join(exprs, ",")
}

// Redact writes a redacted copy of inputPath to outputPath. With no ranges
// the output is a byte-identical copy of the input. Otherwise ffmpeg applies
// the full mute chain in one pass, re-encoding to mp3.
func (r *Redactor) Redact(ctx context.Context, inputPath, outputPath string, ranges []types.PiiRange) error {
	if len(ranges) == 0 {
		return copyFile(inputPath, outputPath)
	}

	_, err := r.runner.Run(ctx,
		"-i", inputPath,
		"-af", BuildMuteFilter(ranges),
		"-c:a", "libmp3lame",
		"-q:a", "2",
		"-y",
		outputPath,
	)
	if err != nil {
		return fmt.Errorf("audio redaction failed: %w", err)
	}
	return nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("failed to open source audio: %w", err)
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("failed to create output file: %w", err)
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return fmt.Errorf("failed to copy audio: %w", err)
	}
	return out.Sync()
}
