package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"

	"github.com/callsight/callsight/internal/analysis"
	"github.com/callsight/callsight/internal/segmenter"
	"github.com/callsight/callsight/internal/storage"
	"github.com/callsight/callsight/internal/transcription"
	"github.com/callsight/callsight/internal/types"
)

// --- fakes ---------------------------------------------------------------

type fakeAuth struct{ deny bool }

func (f *fakeAuth) Authorize(ctx context.Context, callerID string) error {
	if f.deny {
		return &AuthError{Reason: "rate limit exceeded"}
	}
	return nil
}

type fakeConfigs struct {
	cfg types.RedactionConfig
	err error
}

func (f *fakeConfigs) ActiveRedactionConfig(ctx context.Context) (types.RedactionConfig, error) {
	return f.cfg, f.err
}

type fakeTranscriber struct {
	result *transcription.Result
	err    error
	gotLen int
}

func (f *fakeTranscriber) Transcribe(ctx context.Context, audio []byte) (*transcription.Result, error) {
	f.gotLen = len(audio)
	if f.err != nil {
		return nil, f.err
	}
	return f.result, nil
}

type fakeDetector struct{ ranges []types.PiiRange }

func (f *fakeDetector) Detect(words []types.Word, cfg types.RedactionConfig) []types.PiiRange {
	return f.ranges
}

// fakeAnalyzer keys results on the first word of the conversation text.
type fakeAnalyzer struct {
	results map[string]*analysis.Result
	errs    map[string]error
	calls   int
}

func (f *fakeAnalyzer) Analyze(ctx context.Context, text string, piiCount int) (*analysis.Result, error) {
	f.calls++
	key := strings.Fields(text)[0]
	if err, ok := f.errs[key]; ok {
		return nil, err
	}
	if r, ok := f.results[key]; ok {
		return r, nil
	}
	return &analysis.Result{Category: types.CategoryInteraction}, nil
}

type fakeRedactor struct {
	gotRanges []types.PiiRange
	fail      bool
}

func (f *fakeRedactor) Redact(ctx context.Context, inputPath, outputPath string, ranges []types.PiiRange) error {
	f.gotRanges = ranges
	if f.fail {
		return fmt.Errorf("ffmpeg exited with status 1")
	}
	data, err := os.ReadFile(inputPath)
	if err != nil {
		return err
	}
	return os.WriteFile(outputPath, data, 0644)
}

type fakeRecords struct {
	records  []*types.TranscriptRecord
	convs    map[string][]types.Conversation
	failSave bool
}

func (f *fakeRecords) SaveTranscriptRecord(rec *types.TranscriptRecord) error {
	if f.failSave {
		return fmt.Errorf("db unavailable")
	}
	f.records = append(f.records, rec)
	return nil
}

func (f *fakeRecords) SaveConversation(transcriptID string, c *types.Conversation) error {
	if f.convs == nil {
		f.convs = map[string][]types.Conversation{}
	}
	f.convs[transcriptID] = append(f.convs[transcriptID], *c)
	return nil
}

type failingUploadStore struct {
	storage.ObjectStore
}

func (f *failingUploadStore) Upload(ctx context.Context, path string, data []byte) error {
	return fmt.Errorf("bucket gone")
}

type fakeTrimmer struct {
	run     bool
	fail    bool
	content []byte
	meta    types.VadMetadata
}

func (f *fakeTrimmer) ShouldRun(sizeBytes int64) bool { return f.run }

func (f *fakeTrimmer) Trim(ctx context.Context, inputPath, workDir string) (string, types.VadMetadata, error) {
	if f.fail {
		return "", types.VadMetadata{}, fmt.Errorf("silencedetect crashed")
	}
	p := workDir + "/trimmed.mp3"
	if err := os.WriteFile(p, f.content, 0644); err != nil {
		return "", types.VadMetadata{}, err
	}
	return p, f.meta, nil
}

// --- fixture -------------------------------------------------------------

func testLogger() *logrus.Entry {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return logrus.NewEntry(l)
}

// w builds a word lasting 0.4s spoken by speaker A.
func w(text string, start float64) types.Word {
	return types.Word{Text: text, Speaker: "A", Start: start, End: start + 0.4, Confidence: 0.95}
}

type fixture struct {
	orch    *Orchestrator
	objects *storage.LocalStore
	records *fakeRecords
	redact  *fakeRedactor
	trans   *fakeTranscriber
	req     Request
}

func newFixture(t *testing.T, words []types.Word) *fixture {
	t.Helper()

	objects, err := storage.NewLocalStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	if err := objects.Upload(context.Background(), "calls/sp-1/call.mp3", []byte("original-audio")); err != nil {
		t.Fatal(err)
	}

	text := make([]string, len(words))
	for i, word := range words {
		text[i] = word.Text
	}

	f := &fixture{
		objects: objects,
		records: &fakeRecords{},
		redact:  &fakeRedactor{},
		trans: &fakeTranscriber{result: &transcription.Result{
			JobID: "job-1",
			Text:  strings.Join(text, " "),
			Words: words,
		}},
		req: Request{
			StoragePath:      "calls/sp-1/call.mp3",
			OriginalFilename: "call.mp3",
			SalespersonID:    "sp-1",
			SalespersonName:  "Alex",
			CallerID:         "user-9",
		},
	}
	f.orch = &Orchestrator{
		Objects:     objects,
		Records:     f.records,
		Configs:     &fakeConfigs{cfg: types.RedactionConfig{Fields: []string{"all"}}},
		Auth:        &fakeAuth{},
		Transcriber: f.trans,
		Detector:    &fakeDetector{},
		Analyzer:    &fakeAnalyzer{},
		Redactor:    f.redact,
		Segmenter:   segmenter.New(30),
		Log:         testLogger(),
	}
	return f
}

// --- tests ---------------------------------------------------------------

func TestRun_ValidationErrors(t *testing.T) {
	f := newFixture(t, []types.Word{w("hi", 0)})

	tests := []struct {
		name  string
		mut   func(*Request)
		field string
	}{
		{"storage path", func(r *Request) { r.StoragePath = "" }, "storagePath"},
		{"filename", func(r *Request) { r.OriginalFilename = "" }, "originalFilename"},
		{"salesperson", func(r *Request) { r.SalespersonID = "" }, "salespersonId"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := f.req
			tt.mut(&req)
			_, err := f.orch.Run(context.Background(), req)

			var verr *ValidationError
			if !errors.As(err, &verr) || verr.Field != tt.field {
				t.Errorf("expected ValidationError for %s, got %v", tt.field, err)
			}
			if len(f.records.records) != 0 {
				t.Error("validation failure must persist nothing")
			}
		})
	}
}

func TestRun_AuthDenied(t *testing.T) {
	f := newFixture(t, []types.Word{w("hi", 0)})
	f.orch.Auth = &fakeAuth{deny: true}

	_, err := f.orch.Run(context.Background(), f.req)
	var aerr *AuthError
	if !errors.As(err, &aerr) {
		t.Errorf("expected AuthError, got %v", err)
	}
}

func TestRun_HappyPathRedactsAndPersists(t *testing.T) {
	words := []types.Word{w("John", 0), {Text: "Smith", Speaker: "A", Start: 0.4, End: 0.8, Confidence: 0.95}, w("here", 0.9)}
	f := newFixture(t, words)
	f.orch.Detector = &fakeDetector{ranges: []types.PiiRange{
		{Start: 0.0, End: 0.4, Label: "name"},
		{Start: 0.4, End: 0.8, Label: "name"},
	}}
	f.orch.Analyzer = &fakeAnalyzer{results: map[string]*analysis.Result{
		"John": {Category: types.CategorySale},
	}}

	result, err := f.orch.Run(context.Background(), f.req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// touching detector ranges were merged into one
	if len(f.redact.gotRanges) != 1 {
		t.Fatalf("expected merged ranges passed to redactor, got %v", f.redact.gotRanges)
	}
	if f.redact.gotRanges[0].Start != 0 || f.redact.gotRanges[0].End != 0.8 {
		t.Errorf("expected merged [0,0.8], got %v", f.redact.gotRanges[0])
	}

	// redacted copy was uploaded next to the original
	uploaded, err := f.objects.SignedReadURL(context.Background(), "calls/sp-1/call_redacted.mp3", 0)
	if err != nil {
		t.Fatalf("redacted blob missing: %v", err)
	}
	if data, _ := os.ReadFile(uploaded); string(data) != "original-audio" {
		t.Errorf("unexpected redacted payload %q", data)
	}

	if len(f.records.records) != 1 {
		t.Fatalf("expected one transcript record, got %d", len(f.records.records))
	}
	rec := f.records.records[0]
	if rec.TranscriptRedacted.RedactedFileStoragePath != "calls/sp-1/call_redacted.mp3" {
		t.Errorf("bad redacted path %q", rec.TranscriptRedacted.RedactedFileStoragePath)
	}
	if !rec.TranscriptRedacted.Words[0].Redacted || !rec.TranscriptRedacted.Words[1].Redacted {
		t.Error("words covered by the PII range must be flagged")
	}
	if rec.TranscriptRedacted.Words[2].Redacted {
		t.Error("uncovered word must not be flagged")
	}
	if rec.RedactionConfigUsed != "all" {
		t.Errorf("expected redaction config recorded, got %q", rec.RedactionConfigUsed)
	}

	if result.PiiMatchCount != 1 || result.TranscriptID != rec.ID {
		t.Errorf("unexpected result: %+v", result)
	}
	if len(f.records.convs[rec.ID]) != 1 {
		t.Errorf("expected the sale conversation persisted, got %v", f.records.convs)
	}
}

func TestRun_TranscriptionFailurePersistsNothing(t *testing.T) {
	f := newFixture(t, []types.Word{w("hi", 0)})
	f.trans.err = &transcription.Failure{JobID: "job-1", Status: "error", Message: "Invalid audio"}

	_, err := f.orch.Run(context.Background(), f.req)
	if err == nil || !strings.Contains(err.Error(), "Invalid audio") {
		t.Errorf("expected upstream message surfaced, got %v", err)
	}
	if len(f.records.records) != 0 || len(f.records.convs) != 0 {
		t.Error("a failed transcription must persist nothing")
	}
}

func TestRun_RedactionFailureIsFatal(t *testing.T) {
	f := newFixture(t, []types.Word{w("hi", 0)})
	f.orch.Detector = &fakeDetector{ranges: []types.PiiRange{{Start: 0, End: 0.4, Label: "name"}}}
	f.redact.fail = true

	_, err := f.orch.Run(context.Background(), f.req)
	if err == nil {
		t.Fatal("expected redaction failure to abort the run")
	}
	if len(f.records.records) != 0 {
		t.Error("nothing may be persisted after a redaction failure")
	}
}

func TestRun_UploadFailureIsFatal(t *testing.T) {
	f := newFixture(t, []types.Word{w("hi", 0)})
	f.orch.Objects = &failingUploadStore{ObjectStore: f.objects}

	_, err := f.orch.Run(context.Background(), f.req)
	var uerr *UpstreamError
	if !errors.As(err, &uerr) {
		t.Fatalf("expected UpstreamError, got %v", err)
	}
	if len(f.records.records) != 0 {
		t.Error("nothing may be persisted after an upload failure")
	}
}

// threeConversations builds words forming three conversations separated by
// 40s gaps. Their first words are One, Two, Three for analyzer keying.
func threeConversations() []types.Word {
	var words []types.Word
	starts := []float64{0, 100, 200}
	names := []string{"One", "Two", "Three"}
	for i, base := range starts {
		words = append(words, w(names[i], base), w("filler", base+1), w("words", base+2))
	}
	return words
}

func TestRun_PersistenceFilter(t *testing.T) {
	f := newFixture(t, threeConversations())
	f.orch.Analyzer = &fakeAnalyzer{results: map[string]*analysis.Result{
		// no objections, interaction: dropped
		"One": {Category: types.CategoryInteraction},
		// no objections but a sale: persisted
		"Two": {Category: types.CategorySale},
		// objection without sale: persisted
		"Three": {Category: types.CategoryInteraction, Objections: []string{"price"}},
	}}

	result, err := f.orch.Run(context.Background(), f.req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	persisted := f.records.convs[result.TranscriptID]
	if len(persisted) != 2 {
		t.Fatalf("expected 2 persisted conversations, got %d", len(persisted))
	}
	if persisted[0].ConversationNumber != 2 || persisted[1].ConversationNumber != 3 {
		t.Errorf("wrong conversations persisted: %+v", persisted)
	}
	// the dropped one is still visible in the payload
	if len(result.Conversations) != 3 {
		t.Errorf("payload must include dropped conversations, got %d", len(result.Conversations))
	}
	if len(result.Persisted) != 2 {
		t.Errorf("expected 2 persisted ids, got %v", result.Persisted)
	}
}

func TestRun_AnalyzerFailureIsIsolated(t *testing.T) {
	f := newFixture(t, threeConversations())
	f.orch.Analyzer = &fakeAnalyzer{
		errs: map[string]error{"One": fmt.Errorf("gateway timeout")},
		results: map[string]*analysis.Result{
			"Two":   {Category: types.CategorySale},
			"Three": {Category: types.CategorySale},
		},
	}

	result, err := f.orch.Run(context.Background(), f.req)
	if err != nil {
		t.Fatalf("analyzer failure must not abort the run: %v", err)
	}

	if len(f.records.records) != 1 {
		t.Error("transcript record must survive analyzer failures")
	}
	if len(f.records.convs[result.TranscriptID]) != 2 {
		t.Errorf("expected the two healthy conversations persisted, got %v",
			f.records.convs[result.TranscriptID])
	}

	failed := result.Conversations[0]
	if failed.AnalysisCompleted || !strings.Contains(failed.AnalysisError, "gateway timeout") {
		t.Errorf("failed conversation must record the error: %+v", failed)
	}
}

func TestRun_ObjectionTimestamps(t *testing.T) {
	words := []types.Word{
		w("honestly", 0), w("that", 1), w("is", 2),
		w("too", 3), w("expensive", 4), w("for", 5), w("me", 6),
	}
	f := newFixture(t, words)
	f.orch.Analyzer = &fakeAnalyzer{results: map[string]*analysis.Result{
		"honestly": {
			Category:   types.CategoryInteraction,
			Objections: []string{"price", "competitor"},
			ObjectionsWithText: []analysis.ObjectionText{
				{Type: "price", Text: "too expensive"},
				{Type: "competitor", Text: "phrase not in transcript"},
			},
		},
	}}

	result, err := f.orch.Run(context.Background(), f.req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	ts := result.Conversations[0].ObjectionTimestamps
	if len(ts) != 2 {
		t.Fatalf("expected 2 objection timestamps, got %v", ts)
	}
	if ts[0].Timestamp != 3.0 {
		t.Errorf("located excerpt must use the word start, got %v", ts[0].Timestamp)
	}
	if ts[1].Timestamp != result.Conversations[0].StartTime {
		t.Errorf("unlocatable excerpt must fall back to conversation start, got %v", ts[1].Timestamp)
	}
}

func TestRun_TrimmerFailureFallsBackToOriginal(t *testing.T) {
	f := newFixture(t, []types.Word{w("hi", 0)})
	f.orch.Trimmer = &fakeTrimmer{run: true, fail: true}

	result, err := f.orch.Run(context.Background(), f.req)
	if err != nil {
		t.Fatalf("trimmer failure must be non-fatal: %v", err)
	}
	if result.VadMetadata.Used {
		t.Error("vad metadata must report used=false after a trim failure")
	}
	if f.trans.gotLen != len("original-audio") {
		t.Errorf("transcription must get the original audio, got %d bytes", f.trans.gotLen)
	}
}

func TestRun_TrimmedAudioGoesToTranscriptionOnly(t *testing.T) {
	f := newFixture(t, []types.Word{w("hi", 0)})
	f.orch.Trimmer = &fakeTrimmer{
		run:     true,
		content: []byte("short"),
		meta: types.VadMetadata{
			Used: true, OriginalDuration: 100, TrimmedDuration: 60,
			SilenceRemoved: 40, SegmentCount: 4, CostSavingsPercent: 40,
		},
	}

	result, err := f.orch.Run(context.Background(), f.req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if f.trans.gotLen != len("short") {
		t.Errorf("transcription must get the trimmed stream, got %d bytes", f.trans.gotLen)
	}
	if !result.VadMetadata.Used || result.VadMetadata.SegmentCount != 4 {
		t.Errorf("vad metadata lost: %+v", result.VadMetadata)
	}

	// the redacted upload must come from the original, not the trimmed stream
	path, err := f.objects.SignedReadURL(context.Background(), "calls/sp-1/call_redacted.mp3", 0)
	if err != nil {
		t.Fatal(err)
	}
	if data, _ := os.ReadFile(path); string(data) != "original-audio" {
		t.Errorf("redaction must use the original audio, got %q", data)
	}
}

func TestRun_RecordInsertFailureIsFatal(t *testing.T) {
	f := newFixture(t, []types.Word{w("hi", 0)})
	f.records.failSave = true

	_, err := f.orch.Run(context.Background(), f.req)
	var uerr *UpstreamError
	if !errors.As(err, &uerr) {
		t.Errorf("expected UpstreamError, got %v", err)
	}
	if len(f.records.convs) != 0 {
		t.Error("no conversations may be written when the record insert fails")
	}
}
