package pipeline

import (
	"context"
	"log/slog"
	"unicode/utf8"
)

// ValidateStage records advisory warnings about the final result. It is
// purely observational and never fails the pipeline; it is the terminal
// stage of the success path.
type ValidateStage struct {
	policy Policy
	logger *slog.Logger
}

// NewValidateStage builds the validation stage.
func NewValidateStage(policy Policy, logger *slog.Logger) *ValidateStage {
	return &ValidateStage{policy: policy, logger: logger}
}

func (s *ValidateStage) Name() string { return "validate" }

func (s *ValidateStage) Run(ctx context.Context, st *State) (Outcome, error) {
	var warnings []string
	if len(st.Docs) < s.policy.MinDocs {
		warnings = append(warnings, "low_docs")
	}
	if utf8.RuneCountInString(st.Answer) < s.policy.MinAnswerLen {
		warnings = append(warnings, "short_answer")
	}

	if len(warnings) > 0 {
		st.setMetric("warnings", warnings)
		st.setMetric("validation", "warn")
		s.logger.Warn("answer_validation_warnings", slog.Any("warnings", warnings))
	} else {
		st.setMetric("validation", "ok")
	}
	return Continue, nil
}
