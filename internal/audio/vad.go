package audio

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"

	"github.com/sirupsen/logrus"

	"github.com/callsight/callsight/internal/types"
)

// TrimmerConfig holds the speech-activity trimming knobs. Every value can be
// overridden from the service configuration.
type TrimmerConfig struct {
	Enabled            bool
	SizeThresholdBytes int64   // assets below this are not worth analyzing
	NoiseDB            float64 // silencedetect noise floor, e.g. -30
	MinSilenceSec      float64 // minimum non-speech stretch to count
	MinSavingsPercent  float64 // trim only above this, exclusive
	MinSegmentSec      float64 // speech segments shorter than this are dropped
}

// DefaultTrimmerConfig mirrors the production defaults: 100MB threshold,
// -30dB floor, 2s minimum silence, strictly more than 10% savings required.
func DefaultTrimmerConfig() TrimmerConfig {
	return TrimmerConfig{
		Enabled:            false,
		SizeThresholdBytes: 100 * 1024 * 1024,
		NoiseDB:            -30,
		MinSilenceSec:      2.0,
		MinSavingsPercent:  10.0,
		MinSegmentSec:      1.0,
	}
}

// Trimmer removes long non-speech stretches from large assets before
// transcription. Every error it returns is absorbed by the orchestrator,
// which falls back to the untrimmed original.
type Trimmer struct {
	runner *Runner
	cfg    TrimmerConfig
	log    *logrus.Entry
}

// NewTrimmer creates a trimmer with the given config.
func NewTrimmer(runner *Runner, cfg TrimmerConfig, log *logrus.Entry) *Trimmer {
	return &Trimmer{runner: runner, cfg: cfg, log: log}
}

// ShouldRun gates trimming on the feature flag and asset size.
func (t *Trimmer) ShouldRun(sizeBytes int64) bool {
	return t.cfg.Enabled && sizeBytes > t.cfg.SizeThresholdBytes
}

// silence is one detected non-speech interval.
type silence struct {
	start float64
	end   float64
}

var (
	silenceStartRe = regexp.MustCompile(`silence_start:\s*(-?[\d.]+)`)
	silenceEndRe   = regexp.MustCompile(`silence_end:\s*(-?[\d.]+)`)
)

// parseSilences extracts paired silence_start/silence_end timestamps from
// silencedetect output. An unterminated trailing silence_start is closed at
// the asset end by the caller via buildSpeechSegments.
func parseSilences(output []byte) []silence {
	starts := silenceStartRe.FindAllSubmatch(output, -1)
	ends := silenceEndRe.FindAllSubmatch(output, -1)

	var silences []silence
	for i, s := range starts {
		start, err := strconv.ParseFloat(string(s[1]), 64)
		if err != nil {
			continue
		}
		sil := silence{start: start, end: -1}
		if i < len(ends) {
			if end, err := strconv.ParseFloat(string(ends[i][1]), 64); err == nil {
				sil.end = end
			}
		}
		silences = append(silences, sil)
	}
	return silences
}

// buildSpeechSegments converts silence intervals into the speech regions
// between them. Segments shorter than minSegment are dropped, and a trailing
// segment is added when speech continues past the last silence.
func buildSpeechSegments(silences []silence, totalDuration, minSegment float64) []types.SpeechSegment {
	var segments []types.SpeechSegment

	cursor := 0.0
	for _, sil := range silences {
		end := sil.start
		if end > totalDuration {
			end = totalDuration
		}
		appendSegment(&segments, cursor, end, minSegment)
		if sil.end < 0 {
			// silence runs to the end of the asset
			cursor = totalDuration
		} else {
			cursor = sil.end
		}
	}
	appendSegment(&segments, cursor, totalDuration, minSegment)

	return segments
}

func appendSegment(segments *[]types.SpeechSegment, start, end, minSegment float64) {
	if end-start < minSegment {
		return
	}
	*segments = append(*segments, types.SpeechSegment{
		Start:    start,
		End:      end,
		Duration: end - start,
	})
}

// savingsPercent returns the share of the asset that trimming would remove.
func savingsPercent(speechDuration, totalDuration float64) float64 {
	if totalDuration <= 0 {
		return 0
	}
	return (1 - speechDuration/totalDuration) * 100
}

// worthTrimming applies the exclusive savings floor: exactly at the floor
// does not trim.
func (t *Trimmer) worthTrimming(savings float64) bool {
	return savings > t.cfg.MinSavingsPercent
}

// Trim analyzes inputPath and, when enough silence is found, writes a
// trimmed stream into workDir and returns its path plus metadata. A returned
// path of "" with a nil error means trimming was analyzed but not worth it.
func (t *Trimmer) Trim(ctx context.Context, inputPath, workDir string) (string, types.VadMetadata, error) {
	meta := types.VadMetadata{}

	detectOut, err := t.runner.Run(ctx,
		"-i", inputPath,
		"-af", fmt.Sprintf("silencedetect=noise=%gdB:d=%g", t.cfg.NoiseDB, t.cfg.MinSilenceSec),
		"-f", "null", "-",
	)
	if err != nil {
		return "", meta, fmt.Errorf("silence detection failed: %w", err)
	}

	totalDuration, err := t.runner.Duration(ctx, inputPath)
	if err != nil {
		return "", meta, err
	}

	silences := parseSilences(detectOut)
	segments := buildSpeechSegments(silences, totalDuration, t.cfg.MinSegmentSec)
	if len(segments) == 0 {
		return "", meta, fmt.Errorf("no speech segments detected in %.1fs asset", totalDuration)
	}

	speechDuration := 0.0
	for _, seg := range segments {
		speechDuration += seg.Duration
	}
	savings := savingsPercent(speechDuration, totalDuration)

	if !t.worthTrimming(savings) {
		t.log.WithFields(logrus.Fields{
			"savings_percent": savings,
			"segments":        len(segments),
		}).Info("Savings below trim floor, using original audio")
		return "", meta, nil
	}

	trimmedPath, err := t.assemble(ctx, inputPath, workDir, segments)
	if err != nil {
		return "", meta, err
	}

	meta = types.VadMetadata{
		Used:               true,
		OriginalDuration:   totalDuration,
		TrimmedDuration:    speechDuration,
		SilenceRemoved:     totalDuration - speechDuration,
		SegmentCount:       len(segments),
		CostSavingsPercent: savings,
	}
	t.log.WithFields(logrus.Fields{
		"original_duration": totalDuration,
		"trimmed_duration":  speechDuration,
		"segments":          len(segments),
		"savings_percent":   savings,
	}).Info("Speech trimming applied")
	return trimmedPath, meta, nil
}

// assemble extracts each speech segment losslessly into its own file and
// concatenates them in order with the concat demuxer.
func (t *Trimmer) assemble(ctx context.Context, inputPath, workDir string, segments []types.SpeechSegment) (string, error) {
	ext := filepath.Ext(inputPath)
	listPath := filepath.Join(workDir, "segments.txt")
	trimmedPath := filepath.Join(workDir, "trimmed"+ext)

	var list []byte
	for i, seg := range segments {
		segPath := filepath.Join(workDir, fmt.Sprintf("segment_%03d%s", i, ext))
		_, err := t.runner.Run(ctx,
			"-ss", fmt.Sprintf("%.3f", seg.Start),
			"-to", fmt.Sprintf("%.3f", seg.End),
			"-i", inputPath,
			"-c", "copy",
			"-y",
			segPath,
		)
		if err != nil {
			return "", fmt.Errorf("segment %d extraction failed: %w", i, err)
		}
		list = append(list, []byte(fmt.Sprintf("file '%s'\n", segPath))...)
	}

	if err := os.WriteFile(listPath, list, 0644); err != nil {
		return "", fmt.Errorf("failed to write concat list: %w", err)
	}

	_, err := t.runner.Run(ctx,
		"-f", "concat",
		"-safe", "0",
		"-i", listPath,
		"-c", "copy",
		"-y",
		trimmedPath,
	)
	if err != nil {
		return "", fmt.Errorf("segment concatenation failed: %w", err)
	}
	return trimmedPath, nil
}
