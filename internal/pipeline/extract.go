package pipeline

import (
	"context"
	"log/slog"

	"incident-orchestrator/internal/domain"
)

// ExtractStage mines structured incident facts out of the request's raw
// texts. It only exists in pipelines configured with an extractor.
type ExtractStage struct {
	extractor domain.Extractor
	logger    *slog.Logger
}

// NewExtractStage builds the extraction stage.
func NewExtractStage(extractor domain.Extractor, logger *slog.Logger) *ExtractStage {
	return &ExtractStage{extractor: extractor, logger: logger}
}

func (s *ExtractStage) Name() string { return "extract" }

func (s *ExtractStage) Run(ctx context.Context, st *State) (Outcome, error) {
	if len(st.RawTexts) == 0 {
		st.Extracted = nil
		return Continue, nil
	}

	records, err := s.extractor.BatchExtract(ctx, st.RawTexts)
	if err != nil {
		st.Extracted = []map[string]any{}
		st.fail(s.Name(), err)
		return Divert, nil
	}

	entries := make([]map[string]any, 0, len(records))
	for _, rec := range records {
		entry := make(map[string]any, len(rec.Entities)+2)
		for k, v := range rec.Entities {
			entry[k] = v
		}
		entry["confidence"] = rec.Confidence
		entry[rawKey] = rec.RawText
		entries = append(entries, entry)
	}
	st.Extracted = entries
	st.setMetric("extracted", len(entries))
	s.logger.Info("extraction_completed", slog.Int("record_count", len(entries)))
	return Continue, nil
}
