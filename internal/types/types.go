package types

import "time"

// Pipeline job status constants
const (
	StatusQueued     = "QUEUED"
	StatusProcessing = "PROCESSING"
	StatusCompleted  = "COMPLETED"
	StatusFailed     = "FAILED"
)

// Conversation categories
const (
	CategoryInteraction = "interaction"
	CategoryPitch       = "pitch"
	CategorySale        = "sale"
)

// Word is a single transcribed word with second-based timestamps.
// Produced once by the transcription client and never mutated afterwards,
// except for the Redacted flag set when a merged PII range covers it.
type Word struct {
	Text       string  `json:"text"`
	Start      float64 `json:"start"`
	End        float64 `json:"end"`
	Confidence float64 `json:"confidence"`
	Speaker    string  `json:"speaker,omitempty"`
	Redacted   bool    `json:"redacted,omitempty"`
}

// PiiRange is a time window of detected PII in the audio.
type PiiRange struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Label string  `json:"label"`
}

// SpeechSegment is a region judged to contain speech, in seconds.
type SpeechSegment struct {
	Start    float64 `json:"start"`
	End      float64 `json:"end"`
	Duration float64 `json:"duration"`
}

// VadMetadata records what speech-activity trimming did to the asset.
// Used=false means the original audio went to transcription untouched.
type VadMetadata struct {
	Used               bool    `json:"used"`
	OriginalDuration   float64 `json:"original_duration,omitempty"`
	TrimmedDuration    float64 `json:"trimmed_duration,omitempty"`
	SilenceRemoved     float64 `json:"silence_removed,omitempty"`
	SegmentCount       int     `json:"segment_count,omitempty"`
	CostSavingsPercent float64 `json:"cost_savings_percent,omitempty"`
}

// ObjectionTimestamp pins an objection excerpt to a moment in the call.
type ObjectionTimestamp struct {
	Type      string  `json:"type"`
	Text      string  `json:"text"`
	Timestamp float64 `json:"timestamp"`
}

// Conversation is one discrete customer interaction within a call.
type Conversation struct {
	ID                  string               `json:"id"`
	ConversationNumber  int                  `json:"conversation_number"`
	StartTime           float64              `json:"start_time"`
	EndTime             float64              `json:"end_time"`
	Speakers            []string             `json:"speakers"`
	SalesRepSpeaker     string               `json:"sales_rep_speaker"`
	Words               []Word               `json:"-"`
	WordCount           int                  `json:"word_count"`
	DurationSeconds     float64              `json:"duration_seconds"`
	Category            string               `json:"category"`
	Objections          []string             `json:"objections"`
	ObjectionTimestamps []ObjectionTimestamp `json:"objection_timestamps"`
	HasPriceMention     bool                 `json:"has_price_mention"`
	PiiRedactionCount   int                  `json:"pii_redaction_count"`
	AnalysisCompleted   bool                 `json:"analysis_completed"`
	AnalysisError       string               `json:"analysis_error,omitempty"`
}

// Text joins the conversation's words into plain text.
func (c *Conversation) Text() string {
	if len(c.Words) == 0 {
		return ""
	}
	n := 0
	for _, w := range c.Words {
		n += len(w.Text) + 1
	}
	buf := make([]byte, 0, n)
	for i, w := range c.Words {
		if i > 0 {
			buf = append(buf, ' ')
		}
		buf = append(buf, w.Text...)
	}
	return string(buf)
}

// RedactedTranscript is the redaction payload embedded in a TranscriptRecord.
type RedactedTranscript struct {
	Text                    string      `json:"text"`
	Words                   []Word      `json:"words"`
	PiiMatches              []PiiRange  `json:"pii_matches"`
	RedactedFileStoragePath string      `json:"redacted_file_storage_path"`
	VadMetadata             VadMetadata `json:"vad_metadata"`
}

// TranscriptRecord is the persisted result of one pipeline invocation.
type TranscriptRecord struct {
	ID                  string             `json:"id"`
	SalespersonID       string             `json:"salesperson_id"`
	SalespersonName     string             `json:"salesperson_name"`
	OriginalFilename    string             `json:"original_filename"`
	FileStoragePath     string             `json:"file_storage_path"`
	TranscriptRedacted  RedactedTranscript `json:"transcript_redacted"`
	RedactionConfigUsed string             `json:"redaction_config_used"`
	CreatedAt           time.Time          `json:"created_at"`
}

// RedactionFieldsAll selects every supported PII field for redaction.
const RedactionFieldsAll = "all"

// RedactionConfig is the active redaction field configuration row.
type RedactionConfig struct {
	Fields []string `json:"fields"`
}

// IsAll reports whether the config selects every supported field.
// An empty field list means "all", matching the stored default row.
func (rc RedactionConfig) IsAll() bool {
	if len(rc.Fields) == 0 {
		return true
	}
	for _, f := range rc.Fields {
		if f == RedactionFieldsAll {
			return true
		}
	}
	return false
}

// Has reports whether the named field is selected.
func (rc RedactionConfig) Has(field string) bool {
	if rc.IsAll() {
		return true
	}
	for _, f := range rc.Fields {
		if f == field {
			return true
		}
	}
	return false
}
