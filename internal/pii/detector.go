package pii

import (
	"regexp"
	"strings"

	"github.com/callsight/callsight/internal/types"
)

// Field names understood by the redaction configuration.
const (
	FieldName  = "name"
	FieldPhone = "phone"
	FieldEmail = "email"
	FieldCard  = "card"
)

// Detector finds PII time ranges in a word-level transcript, honouring the
// active redaction field selection.
type Detector interface {
	Detect(words []types.Word, cfg types.RedactionConfig) []types.PiiRange
}

// RegexDetector is the built-in detector. It works on normalized word text
// and flags phone numbers, email addresses, long digit runs (cards, SSNs)
// and likely person names (honorific or capitalized adjacent pairs).
type RegexDetector struct{}

// NewRegexDetector returns the default detector.
func NewRegexDetector() *RegexDetector {
	return &RegexDetector{}
}

var (
	phoneRe = regexp.MustCompile(`^\(?\d{3}\)?[-.]?\d{3}[-.]?\d{4}$`)
	emailRe = regexp.MustCompile(`^[\w.+-]+@[\w-]+\.[\w.]+$`)
	digitRe = regexp.MustCompile(`^\d{7,}$`)
	nameRe  = regexp.MustCompile(`^[A-Z][a-z]+$`)
)

var honorifics = map[string]bool{
	"mr": true, "mrs": true, "ms": true, "dr": true, "miss": true,
}

// Detect scans the words and emits one raw range per hit. Adjacent name
// words each get their own range; Merge folds touching ones together.
func (d *RegexDetector) Detect(words []types.Word, cfg types.RedactionConfig) []types.PiiRange {
	var out []types.PiiRange

	for i, w := range words {
		text := strings.Trim(w.Text, ".,!?;:")

		if cfg.Has(FieldPhone) && phoneRe.MatchString(text) {
			out = append(out, rangeFor(w, FieldPhone))
			continue
		}
		if cfg.Has(FieldEmail) && emailRe.MatchString(strings.ToLower(text)) {
			out = append(out, rangeFor(w, FieldEmail))
			continue
		}
		if cfg.Has(FieldCard) && digitRe.MatchString(strings.ReplaceAll(text, "-", "")) {
			out = append(out, rangeFor(w, FieldCard))
			continue
		}
		if cfg.Has(FieldName) && d.isNameAt(words, i) {
			out = append(out, rangeFor(w, FieldName))
		}
	}
	return out
}

// isNameAt treats a capitalized word as a name when it follows an honorific
// or forms a capitalized pair with a neighbour inside the same sentence.
// Over-redaction is the safe failure mode here, so "The Manager" style false
// positives are accepted.
func (d *RegexDetector) isNameAt(words []types.Word, i int) bool {
	text := strings.Trim(words[i].Text, ".,!?;:")
	if !nameRe.MatchString(text) {
		return false
	}
	if i > 0 {
		prev := strings.Trim(words[i-1].Text, ".,!?;:")
		if honorifics[strings.ToLower(prev)] {
			return true
		}
		if nameRe.MatchString(prev) && !endsSentence(words[i-1].Text) {
			return true
		}
	}
	if i+1 < len(words) && !endsSentence(words[i].Text) {
		if nameRe.MatchString(strings.Trim(words[i+1].Text, ".,!?;:")) {
			return true
		}
	}
	return false
}

func endsSentence(text string) bool {
	return strings.HasSuffix(text, ".") || strings.HasSuffix(text, "?") || strings.HasSuffix(text, "!")
}

func rangeFor(w types.Word, label string) types.PiiRange {
	return types.PiiRange{Start: w.Start, End: w.End, Label: label}
}
