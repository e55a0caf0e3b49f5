package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"unicode/utf8"

	"incident-orchestrator/internal/domain"
)

// citationDisclaimer is appended when strict citation checking finds no
// citation trace in the answer.
const citationDisclaimer = "\n\n(note: source citations were insufficient)"

// SynthesizeStage assembles the retrieved documents into a context block and
// generates the answer. It is the one stage with graceful degradation baked
// in: it never lets a provider failure escape without leaving a usable
// fallback answer behind.
type SynthesizeStage struct {
	llm    domain.CompletionClient
	policy Policy
	logger *slog.Logger
}

// NewSynthesizeStage builds the synthesis stage.
func NewSynthesizeStage(llm domain.CompletionClient, policy Policy, logger *slog.Logger) *SynthesizeStage {
	return &SynthesizeStage{llm: llm, policy: policy, logger: logger}
}

func (s *SynthesizeStage) Name() string { return "synthesize" }

func (s *SynthesizeStage) Run(ctx context.Context, st *State) (Outcome, error) {
	st.Context = AssembleContext(st.Docs, s.policy.MaxCtxChars)
	st.setMetric("ctx_chars", len(st.Context))

	prompt := s.buildPrompt(st.Query, st.Context)
	text, err := s.llm.Complete(ctx, prompt)
	if err != nil {
		st.fail(s.Name(), err)
		st.Answer = s.policy.FallbackText
		s.logger.Warn("synthesis_failed_using_fallback", slog.String("error", err.Error()))
		return Divert, nil
	}

	answer := strings.TrimSpace(text)
	if s.policy.StrictCitation && !hasCitationTrace(answer) {
		answer += citationDisclaimer
	}
	st.Answer = answer
	st.setMetric("answer_len", utf8.RuneCountInString(answer))
	return Continue, nil
}

func (s *SynthesizeStage) buildPrompt(query, context string) string {
	return fmt.Sprintf(`You are an operations report assistant. Answer the user's question using ONLY the provided sources.
Requirements:
1) Cite only content available in the sources; 2) give a structured, bulleted answer; 3) reference each claim by source title or id in brackets.

[Question]
%s

[Sources]
%s

[Answer]`, query, context)
}

// hasCitationTrace is a crude textual check, not a citation verifier.
func hasCitationTrace(answer string) bool {
	return strings.Contains(answer, "source") ||
		strings.Contains(answer, "來源") ||
		strings.Contains(answer, "[")
}
