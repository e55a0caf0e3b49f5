package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"unicode/utf8"

	"incident-orchestrator/internal/domain"
)

// ambiguityMarkers are cause/instability indicator words whose presence
// routes a query to the deep path. Both English and Chinese forms are
// recognized since operators file queries in either.
var ambiguityMarkers = []string{
	"為什麼", "怎麼", "原因", "異常", "不穩定",
	"why", "how come", "root cause", "unstable", "flapping",
}

// shortQueryRunes routes very short queries to the deep path.
const shortQueryRunes = 8

// hydeMaxRunes caps the hypothetical passage used as a retrieval query.
const hydeMaxRunes = 400

// PlanStage decides the fast/deep route and populates the retrieval query
// list, optionally expanding it with a HyDE passage and paraphrases.
type PlanStage struct {
	llm    domain.CompletionClient
	policy Policy
	logger *slog.Logger
}

// NewPlanStage builds the planner. The completion client may be nil when
// neither HyDE nor multi-query expansion is enabled.
func NewPlanStage(llm domain.CompletionClient, policy Policy, logger *slog.Logger) *PlanStage {
	return &PlanStage{llm: llm, policy: policy, logger: logger}
}

func (s *PlanStage) Name() string { return "plan" }

func (s *PlanStage) Run(ctx context.Context, st *State) (Outcome, error) {
	q := st.Query
	st.Queries = []string{q}

	st.Route = RouteFast
	if s.policy.UseHyDE || s.policy.UseMultiQuery || isAmbiguous(q) {
		st.Route = RouteDeep
	}
	st.setMetric("route", string(st.Route))

	// Expansion failures degrade gracefully: the query list stays usable
	// with just the original query, but the error is still recorded and the
	// orchestrator diverts.
	if st.Route == RouteDeep && s.policy.UseHyDE {
		if err := s.appendHyDE(ctx, st); err != nil {
			st.Queries = []string{q}
			st.fail(s.Name(), err)
			st.setMetric("queries", len(st.Queries))
			return Divert, nil
		}
	}
	if st.Route == RouteDeep && s.policy.UseMultiQuery {
		if err := s.appendParaphrases(ctx, st); err != nil {
			st.Queries = []string{q}
			st.fail(s.Name(), err)
			st.setMetric("queries", len(st.Queries))
			return Divert, nil
		}
	}

	st.setMetric("queries", len(st.Queries))
	s.logger.Info("query_planned",
		slog.String("route", string(st.Route)),
		slog.Int("query_count", len(st.Queries)))
	return Continue, nil
}

// isAmbiguous is a cheap routing heuristic, not a classifier. False
// positives only cost extra retrieval work.
func isAmbiguous(q string) bool {
	if utf8.RuneCountInString(q) < shortQueryRunes {
		return true
	}
	lower := strings.ToLower(q)
	for _, marker := range ambiguityMarkers {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}

func (s *PlanStage) appendHyDE(ctx context.Context, st *State) error {
	prompt := fmt.Sprintf(`Write a short hypothetical passage that could plausibly answer the following operations question. It will be used as a retrieval query, so focus on concrete symptoms, components and causes. Output only the passage body.

Question: %s`, st.Query)

	text, err := s.llm.Complete(ctx, prompt)
	if err != nil {
		return fmt.Errorf("hyde generation failed: %w", err)
	}
	passage := strings.TrimSpace(text)
	if r := []rune(passage); len(r) > hydeMaxRunes {
		passage = string(r[:hydeMaxRunes])
	}
	if passage != "" {
		st.Queries = append(st.Queries, passage)
	}
	return nil
}

func (s *PlanStage) appendParaphrases(ctx context.Context, st *State) error {
	prompt := fmt.Sprintf(`Generate %d alternative phrasings of the following question for searching an incident knowledge base. Output ONLY the queries, one per line, without numbering or bullets.

Question: %s`, s.policy.MultiQueryAlts, st.Query)

	text, err := s.llm.Complete(ctx, prompt)
	if err != nil {
		return fmt.Errorf("multi-query generation failed: %w", err)
	}

	max := s.policy.maxQueries()
	for _, line := range strings.Split(text, "\n") {
		line = strings.Trim(line, " -•\t\r")
		if line == "" || containsFold(st.Queries, line) {
			continue
		}
		st.Queries = append(st.Queries, line)
		if len(st.Queries) >= max {
			break
		}
	}
	return nil
}

func containsFold(haystack []string, needle string) bool {
	for _, s := range haystack {
		if strings.EqualFold(s, needle) {
			return true
		}
	}
	return false
}
