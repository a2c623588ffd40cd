package config

import (
	"context"

	"github.com/callsight/callsight/internal/types"
)

// StaticRedaction serves the redaction field set from configuration. It
// satisfies the pipeline's ConfigStore without a remote settings service.
type StaticRedaction struct {
	Fields []string
}

// ActiveRedactionConfig returns the configured fields, defaulting to full
// redaction when none are set.
func (s StaticRedaction) ActiveRedactionConfig(_ context.Context) (types.RedactionConfig, error) {
	if len(s.Fields) == 0 {
		return types.RedactionConfig{Fields: []string{types.RedactionFieldsAll}}, nil
	}
	return types.RedactionConfig{Fields: s.Fields}, nil
}
