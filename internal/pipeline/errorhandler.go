package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
)

// errorTemplates map the stage portion of a recorded error to a user-facing
// fallback message.
var errorTemplates = map[string]string{
	"extract":    "Structured extraction of the submitted texts failed; the answer was produced without them.",
	"plan":       "Query planning failed, so the question could not be expanded for retrieval.",
	"retrieve":   "Retrieval from the incident knowledge base failed; no supporting documents are available.",
	"synthesize": "Answer generation failed; a fallback summary was returned instead.",
}

// genericErrorTemplate covers error strings with no recognized stage prefix.
const genericErrorTemplate = "The request could not be completed because of an internal processing error."

// ErrorHandlerStage is the terminal stage of the error path. It turns the
// recorded stage error into a user-facing answer so the caller never sees an
// empty response.
type ErrorHandlerStage struct {
	logger *slog.Logger
}

// NewErrorHandlerStage builds the error handler.
func NewErrorHandlerStage(logger *slog.Logger) *ErrorHandlerStage {
	return &ErrorHandlerStage{logger: logger}
}

func (s *ErrorHandlerStage) Name() string { return "error_handler" }

func (s *ErrorHandlerStage) Run(ctx context.Context, st *State) (Outcome, error) {
	errType, detail := splitError(st.Err)
	stage := strings.TrimSuffix(errType, "_error")

	st.setMetric("error_handled", true)
	st.setMetric("error_type", errType)

	// The synthesize stage already leaves a usable fallback answer behind;
	// replacing it with the generic template would discard the better text.
	if stage == "synthesize" && strings.TrimSpace(st.Answer) != "" {
		st.setMetric("fallback_preserved", true)
		s.logger.Warn("pipeline_error_handled",
			slog.String("error_type", errType),
			slog.Bool("fallback_preserved", true))
		return Continue, nil
	}

	template, ok := errorTemplates[stage]
	if !ok {
		template = genericErrorTemplate
	}
	st.Answer = fmt.Sprintf("%s (%s)", template, detail)

	s.logger.Warn("pipeline_error_handled",
		slog.String("error_type", errType),
		slog.String("detail", detail))
	return Continue, nil
}

// splitError separates "<stage>_error: <detail>" into its two parts. Error
// strings without a colon are treated as all type, no detail.
func splitError(err string) (errType, detail string) {
	if idx := strings.Index(err, ":"); idx >= 0 {
		return strings.TrimSpace(err[:idx]), strings.TrimSpace(err[idx+1:])
	}
	return strings.TrimSpace(err), ""
}
