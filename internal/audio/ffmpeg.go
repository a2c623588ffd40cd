package audio

import (
	"context"
	"fmt"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
)

// Runner wraps the ffmpeg and ffprobe binaries. All audio transforms in the
// pipeline go through a single subprocess invocation each.
type Runner struct {
	FFmpegPath  string
	FFprobePath string
}

// NewRunner returns a runner using the binaries from PATH.
func NewRunner() *Runner {
	return &Runner{
		FFmpegPath:  "ffmpeg",
		FFprobePath: "ffprobe",
	}
}

// Check verifies both binaries are resolvable.
func (r *Runner) Check() error {
	if _, err := exec.LookPath(r.FFmpegPath); err != nil {
		return fmt.Errorf("ffmpeg not found: %w", err)
	}
	if _, err := exec.LookPath(r.FFprobePath); err != nil {
		return fmt.Errorf("ffprobe not found: %w", err)
	}
	return nil
}

// Run executes ffmpeg with the given arguments and returns the combined
// output. A non-zero exit is returned as an error carrying the tool output.
func (r *Runner) Run(ctx context.Context, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, r.FFmpegPath, args...)
	output, err := cmd.CombinedOutput()
	if err != nil {
		return output, fmt.Errorf("ffmpeg failed: %v\nOutput: %s", err, string(output))
	}
	return output, nil
}

// Duration returns the asset duration in seconds via ffprobe.
func (r *Runner) Duration(ctx context.Context, path string) (float64, error) {
	cmd := exec.CommandContext(ctx, r.FFprobePath,
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		path,
	)
	output, err := cmd.CombinedOutput()
	if err != nil {
		return 0, fmt.Errorf("ffprobe failed: %v\nOutput: %s", err, string(output))
	}
	dur, err := strconv.ParseFloat(strings.TrimSpace(string(output)), 64)
	if err != nil {
		return 0, fmt.Errorf("unparseable duration %q: %w", strings.TrimSpace(string(output)), err)
	}
	return dur, nil
}

// SupportedFormat checks the file extension against the formats ffmpeg is
// expected to handle here.
func SupportedFormat(filename string) bool {
	ext := strings.ToLower(filepath.Ext(filename))
	supported := []string{".mp3", ".wav", ".m4a", ".ogg", ".flac", ".webm", ".aac", ".wma"}

	for _, format := range supported {
		if ext == format {
			return true
		}
	}
	return false
}
