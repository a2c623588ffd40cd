package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/callsight/callsight/internal/analysis"
	"github.com/callsight/callsight/internal/pii"
	"github.com/callsight/callsight/internal/segmenter"
	"github.com/callsight/callsight/internal/storage"
	"github.com/callsight/callsight/internal/transcription"
	"github.com/callsight/callsight/internal/types"
)

// Pipeline stages reported through the progress callback.
const (
	StageValidating   = "validating"
	StageDownloading  = "downloading"
	StageTrimming     = "trimming"
	StageTranscribing = "transcribing"
	StageRedacting    = "redacting"
	StageUploading    = "uploading"
	StagePersisting   = "persisting"
	StageAnalyzing    = "analyzing"
	StageDone         = "done"
)

// Transcriber runs one remote transcription job to a terminal state.
type Transcriber interface {
	Transcribe(ctx context.Context, audio []byte) (*transcription.Result, error)
}

// RecordStore persists the pipeline's output rows.
type RecordStore interface {
	SaveTranscriptRecord(rec *types.TranscriptRecord) error
	SaveConversation(transcriptID string, c *types.Conversation) error
}

// ConfigStore yields the active redaction field configuration.
type ConfigStore interface {
	ActiveRedactionConfig(ctx context.Context) (types.RedactionConfig, error)
}

// Authorizer decides whether the caller may run the pipeline right now.
// A denial must be returned as (or wrapped in) an *AuthError.
type Authorizer interface {
	Authorize(ctx context.Context, callerID string) error
}

// AudioRedactor writes a redacted copy of an audio file.
type AudioRedactor interface {
	Redact(ctx context.Context, inputPath, outputPath string, ranges []types.PiiRange) error
}

// SpeechTrimmer optionally removes silence before transcription.
type SpeechTrimmer interface {
	ShouldRun(sizeBytes int64) bool
	Trim(ctx context.Context, inputPath, workDir string) (string, types.VadMetadata, error)
}

// Request is one pipeline invocation.
type Request struct {
	StoragePath      string
	OriginalFilename string
	SalespersonID    string
	SalespersonName  string
	CallerID         string
}

// Result is the success payload. Conversations holds every segmented
// conversation, including ones that failed analysis or were filtered from
// persistence, so callers can see silent degradations; Persisted marks which
// ones were written.
type Result struct {
	TranscriptID  string               `json:"transcript_id"`
	Text          string               `json:"text"`
	WordCount     int                  `json:"word_count"`
	PiiMatchCount int                  `json:"pii_match_count"`
	VadMetadata   types.VadMetadata    `json:"vad_metadata"`
	Conversations []types.Conversation `json:"conversations"`
	Persisted     []string             `json:"persisted_conversation_ids"`
}

// Orchestrator sequences one recorded call through trimming, transcription,
// PII redaction, segmentation and analysis. Collaborators are injected as
// narrow interfaces so tests can substitute all of them.
type Orchestrator struct {
	Objects     storage.ObjectStore
	Records     RecordStore
	Configs     ConfigStore
	Auth        Authorizer
	Transcriber Transcriber
	Detector    pii.Detector
	Analyzer    analysis.Analyzer
	Redactor    AudioRedactor
	Trimmer     SpeechTrimmer
	Segmenter   *segmenter.Segmenter
	Log         *logrus.Entry

	// Progress, when set, receives stage transitions for streaming to the
	// caller. It must not block.
	Progress func(stage string)

	// HTTPClient downloads signed read URLs. Defaults to a 60s client.
	HTTPClient *http.Client
}

// ReadURLValidity is the validity requested for signed read URLs.
const ReadURLValidity = time.Hour

func (o *Orchestrator) stage(s string) {
	if o.Progress != nil {
		o.Progress(s)
	}
}

// Run executes one invocation. Everything up to and including the
// TranscriptRecord insert is all-or-nothing; per-conversation analysis
// failures after that are isolated. Temporary files live in an
// invocation-scoped directory removed on every exit path.
func (o *Orchestrator) Run(ctx context.Context, req Request) (*Result, error) {
	o.stage(StageValidating)
	if err := validate(req); err != nil {
		return nil, err
	}
	if err := o.Auth.Authorize(ctx, req.CallerID); err != nil {
		var authErr *AuthError
		if errors.As(err, &authErr) {
			return nil, err
		}
		return nil, &AuthError{Reason: err.Error()}
	}

	log := o.Log.WithFields(logrus.Fields{
		"storage_path":   req.StoragePath,
		"salesperson_id": req.SalespersonID,
	})

	readURL, err := o.Objects.SignedReadURL(ctx, req.StoragePath, ReadURLValidity)
	if err != nil {
		return nil, &UpstreamError{Op: "signed URL fetch", Err: err}
	}

	redactionCfg, err := o.Configs.ActiveRedactionConfig(ctx)
	if err != nil {
		return nil, &ConfigError{What: "redaction fields", Err: err}
	}

	o.stage(StageDownloading)
	audio, err := o.download(ctx, readURL)
	if err != nil {
		return nil, err
	}
	log.WithField("bytes", len(audio)).Info("Source asset downloaded")

	workDir, err := os.MkdirTemp("", "callsight-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create work directory: %w", err)
	}
	defer os.RemoveAll(workDir)

	originalPath := filepath.Join(workDir, "original"+filepath.Ext(req.OriginalFilename))
	if err := os.WriteFile(originalPath, audio, 0644); err != nil {
		return nil, fmt.Errorf("failed to stage source asset: %w", err)
	}

	// Speech trimming is best-effort: any failure falls back to the
	// original audio. The original always remains the redaction source.
	transcribeAudio := audio
	vadMeta := types.VadMetadata{}
	if o.Trimmer != nil && o.Trimmer.ShouldRun(int64(len(audio))) {
		o.stage(StageTrimming)
		trimmedPath, meta, trimErr := o.Trimmer.Trim(ctx, originalPath, workDir)
		switch {
		case trimErr != nil:
			log.WithError(trimErr).Warn("Speech trimming failed, using original audio")
		case trimmedPath != "":
			trimmed, readErr := os.ReadFile(trimmedPath)
			if readErr != nil {
				log.WithError(readErr).Warn("Trimmed stream unreadable, using original audio")
			} else {
				transcribeAudio = trimmed
				vadMeta = meta
			}
		}
	}

	o.stage(StageTranscribing)
	transcript, err := o.Transcriber.Transcribe(ctx, transcribeAudio)
	if err != nil {
		return nil, err
	}
	log.WithFields(logrus.Fields{
		"job_id": transcript.JobID,
		"words":  len(transcript.Words),
	}).Info("Transcription completed")

	raw := o.Detector.Detect(transcript.Words, redactionCfg)
	merged := pii.Merge(raw)
	pii.FlagRedactedWords(transcript.Words, merged)

	o.stage(StageRedacting)
	redactedPath := filepath.Join(workDir, "redacted.mp3")
	if err := o.Redactor.Redact(ctx, originalPath, redactedPath, merged); err != nil {
		return nil, err
	}
	redacted, err := os.ReadFile(redactedPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read redacted audio: %w", err)
	}

	o.stage(StageUploading)
	redactedStoragePath := redactedPathFor(req.StoragePath)
	if err := o.Objects.Upload(ctx, redactedStoragePath, redacted); err != nil {
		return nil, &UpstreamError{Op: "redacted audio upload", Err: err}
	}

	o.stage(StagePersisting)
	record := &types.TranscriptRecord{
		ID:               uuid.New().String(),
		SalespersonID:    req.SalespersonID,
		SalespersonName:  req.SalespersonName,
		OriginalFilename: req.OriginalFilename,
		FileStoragePath:  req.StoragePath,
		TranscriptRedacted: types.RedactedTranscript{
			Text:                    transcript.Text,
			Words:                   transcript.Words,
			PiiMatches:              merged,
			RedactedFileStoragePath: redactedStoragePath,
			VadMetadata:             vadMeta,
		},
		RedactionConfigUsed: strings.Join(redactionCfg.Fields, ","),
		CreatedAt:           time.Now().UTC(),
	}
	if record.RedactionConfigUsed == "" {
		record.RedactionConfigUsed = types.RedactionFieldsAll
	}
	if err := o.Records.SaveTranscriptRecord(record); err != nil {
		return nil, &UpstreamError{Op: "transcript record insert", Err: err}
	}

	o.stage(StageAnalyzing)
	conversations := o.Segmenter.Split(transcript.Words, "")
	persisted := make([]string, 0, len(conversations))
	for i := range conversations {
		conv := &conversations[i]
		o.analyzeConversation(ctx, conv, merged)

		// Drops incidental chatter and self-talk. Conversations that failed
		// analysis have neither objections nor a sale category and are not
		// persisted either, but stay visible in the result payload.
		if len(conv.Objections) == 0 && conv.Category != types.CategorySale {
			continue
		}
		if err := o.Records.SaveConversation(record.ID, conv); err != nil {
			log.WithError(err).WithField("conversation", conv.ConversationNumber).
				Error("Failed to persist conversation")
			continue
		}
		persisted = append(persisted, conv.ID)
	}

	o.stage(StageDone)
	log.WithFields(logrus.Fields{
		"transcript_id": record.ID,
		"conversations": len(conversations),
		"persisted":     len(persisted),
		"pii_ranges":    len(merged),
	}).Info("Pipeline completed")

	return &Result{
		TranscriptID:  record.ID,
		Text:          transcript.Text,
		WordCount:     len(transcript.Words),
		PiiMatchCount: len(merged),
		VadMetadata:   vadMeta,
		Conversations: conversations,
		Persisted:     persisted,
	}, nil
}

// analyzeConversation enriches one conversation in place. Failures are
// recorded on the conversation and never abort the invocation.
func (o *Orchestrator) analyzeConversation(ctx context.Context, conv *types.Conversation, merged []types.PiiRange) {
	conv.PiiRedactionCount = pii.CountOverlapping(merged, conv.StartTime, conv.EndTime)

	res, err := o.Analyzer.Analyze(ctx, conv.Text(), conv.PiiRedactionCount)
	if err != nil {
		conv.AnalysisCompleted = false
		conv.AnalysisError = err.Error()
		o.Log.WithError(err).WithField("conversation", conv.ConversationNumber).
			Warn("Conversation analysis failed")
		return
	}

	conv.Category = res.Category
	conv.Objections = res.Objections
	conv.HasPriceMention = res.HasPriceMention
	conv.AnalysisCompleted = true

	conv.ObjectionTimestamps = make([]types.ObjectionTimestamp, 0, len(res.ObjectionsWithText))
	for _, obj := range res.ObjectionsWithText {
		conv.ObjectionTimestamps = append(conv.ObjectionTimestamps, types.ObjectionTimestamp{
			Type:      obj.Type,
			Text:      obj.Text,
			Timestamp: locateExcerpt(conv, obj.Text),
		})
	}
}

// locateExcerpt finds the start time of the first occurrence of the
// excerpt's leading words inside the conversation, falling back to the
// conversation start when the excerpt cannot be located.
func locateExcerpt(conv *types.Conversation, excerpt string) float64 {
	tokens := strings.Fields(strings.ToLower(excerpt))
	if len(tokens) == 0 {
		return conv.StartTime
	}

	for i := range conv.Words {
		if i+len(tokens) > len(conv.Words) {
			break
		}
		match := true
		for j, tok := range tokens {
			if normalizeToken(conv.Words[i+j].Text) != normalizeToken(tok) {
				match = false
				break
			}
		}
		if match {
			return conv.Words[i].Start
		}
	}
	return conv.StartTime
}

func normalizeToken(s string) string {
	return strings.Trim(strings.ToLower(s), ".,!?;:'\"")
}

// download fetches the asset bytes. Signed URLs from the local object store
// are plain file paths.
func (o *Orchestrator) download(ctx context.Context, url string) ([]byte, error) {
	if !strings.HasPrefix(url, "http://") && !strings.HasPrefix(url, "https://") {
		data, err := os.ReadFile(url)
		if err != nil {
			return nil, &UpstreamError{Op: "asset download", Err: err}
		}
		return data, nil
	}

	client := o.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 60 * time.Second}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, &UpstreamError{Op: "asset download", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &UpstreamError{
			Op:     "asset download",
			Status: resp.StatusCode,
			Err:    fmt.Errorf("unexpected response"),
		}
	}
	return io.ReadAll(resp.Body)
}

func validate(req Request) error {
	switch {
	case req.StoragePath == "":
		return &ValidationError{Field: "storagePath"}
	case req.OriginalFilename == "":
		return &ValidationError{Field: "originalFilename"}
	case req.SalespersonID == "":
		return &ValidationError{Field: "salespersonId"}
	}
	return nil
}

// redactedPathFor derives the storage path of the redacted copy from the
// original's path.
func redactedPathFor(storagePath string) string {
	ext := filepath.Ext(storagePath)
	return strings.TrimSuffix(storagePath, ext) + "_redacted.mp3"
}
