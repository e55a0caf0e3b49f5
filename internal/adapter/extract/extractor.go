// Package extract pulls structured operational entities (hosts, services,
// error codes, resource usage) out of raw log and alert text. A regex pass
// provides a cheap baseline; an optional LLM pass refines it, with the LLM
// values winning on conflict.
package extract

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"regexp"
	"strconv"
	"strings"

	"incident-orchestrator/internal/domain"
)

var (
	timestampPattern  = regexp.MustCompile(`\d{4}-\d{2}-\d{2}[T\s]\d{2}:\d{2}:\d{2}`)
	ipPattern         = regexp.MustCompile(`\b(?:[0-9]{1,3}\.){3}[0-9]{1,3}\b`)
	errorCodePattern  = regexp.MustCompile(`(?:ERROR|ERR)[-_]?\d+|E\d{3,}`)
	percentagePattern = regexp.MustCompile(`(\d+(?:\.\d+)?)\s*%`)
	httpStatusPattern = regexp.MustCompile(`\b[1-5]\d{2}\b`)
	hostnamePattern   = regexp.MustCompile(`(?:host(?:name)?|server)[:=\s]+([a-zA-Z0-9\-\.]+)`)
	servicePattern    = regexp.MustCompile(`(?:service|app(?:lication)?)[:=\s]+([a-zA-Z0-9\-_]+)`)
)

// entityFields is the closed set of keys an extraction may produce. The
// confidence score is the filled fraction of this set plus a bonus for the
// identity-bearing fields.
var entityFields = []string{
	"timestamp", "log_level", "hostname", "service", "error_code",
	"ip_address", "http_status", "cpu_usage", "memory_usage", "disk_usage",
}

var keyFields = []string{"hostname", "service", "timestamp", "error_code"}

const llmAttempts = 2

// Extractor combines regex and LLM extraction over batches of raw texts.
// A nil llm disables the refinement pass and leaves regex results as-is.
type Extractor struct {
	llm    domain.CompletionClient
	logger *slog.Logger
}

// NewExtractor builds an extractor. llm may be nil.
func NewExtractor(llm domain.CompletionClient, logger *slog.Logger) *Extractor {
	return &Extractor{llm: llm, logger: logger}
}

// BatchExtract processes every text in order. An LLM failure that survives
// the retry budget fails the whole batch so the caller can degrade
// deliberately instead of acting on silently partial results.
func (e *Extractor) BatchExtract(ctx context.Context, texts []string) ([]domain.ExtractedRecord, error) {
	records := make([]domain.ExtractedRecord, 0, len(texts))
	for i, text := range texts {
		entities := regexExtract(text)

		if e.llm != nil {
			refined, err := e.llmExtract(ctx, text)
			if err != nil {
				return nil, fmt.Errorf("llm extraction failed for text %d: %w", i, err)
			}
			entities = mergeEntities(entities, refined)
		}

		records = append(records, domain.ExtractedRecord{
			RawText:    text,
			Entities:   entities,
			Confidence: scoreConfidence(entities),
		})
	}
	return records, nil
}

func regexExtract(text string) map[string]any {
	entities := make(map[string]any)

	if m := timestampPattern.FindString(text); m != "" {
		entities["timestamp"] = m
	}
	if m := ipPattern.FindString(text); m != "" {
		entities["ip_address"] = m
	}
	if m := errorCodePattern.FindString(text); m != "" {
		entities["error_code"] = m
	}
	if m := httpStatusPattern.FindString(text); m != "" {
		if status, err := strconv.Atoi(m); err == nil {
			entities["http_status"] = status
		}
	}
	if m := hostnamePattern.FindStringSubmatch(text); len(m) > 1 {
		entities["hostname"] = m[1]
	}
	if m := servicePattern.FindStringSubmatch(text); len(m) > 1 {
		entities["service"] = m[1]
	}

	lower := strings.ToLower(text)
	for _, m := range percentagePattern.FindAllStringSubmatch(text, -1) {
		value, err := strconv.ParseFloat(m[1], 64)
		if err != nil {
			continue
		}
		switch {
		case strings.Contains(lower, "cpu"):
			entities["cpu_usage"] = value
		case strings.Contains(lower, "memory"), strings.Contains(lower, "mem"):
			entities["memory_usage"] = value
		case strings.Contains(lower, "disk"):
			entities["disk_usage"] = value
		}
	}

	upper := strings.ToUpper(text)
	switch {
	case strings.Contains(upper, "ERROR"):
		entities["log_level"] = "ERROR"
	case strings.Contains(upper, "WARN"):
		entities["log_level"] = "WARN"
	case strings.Contains(upper, "INFO"):
		entities["log_level"] = "INFO"
	}

	return entities
}

const extractionPromptTemplate = `You are an operations log analyst. Extract structured fields from the text below.

Return ONLY a JSON object. Allowed keys: timestamp, log_level, hostname, service, error_code, ip_address, http_status, cpu_usage, memory_usage, disk_usage.
Rules:
1. Include only fields explicitly present in the text.
2. Omit anything uncertain.
3. Use ISO format for timestamps and bare numbers for percentages.

Text:
%s`

// llmExtract asks the model for a JSON object and parses it. Transient
// failures are retried once before the error propagates.
func (e *Extractor) llmExtract(ctx context.Context, text string) (map[string]any, error) {
	prompt := fmt.Sprintf(extractionPromptTemplate, text)

	var lastErr error
	for attempt := 1; attempt <= llmAttempts; attempt++ {
		raw, err := e.llm.Complete(ctx, prompt)
		if err != nil {
			lastErr = err
		} else if entities, perr := parseEntityJSON(raw); perr != nil {
			lastErr = perr
		} else {
			return entities, nil
		}

		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		e.logger.Warn("llm_extraction_attempt_failed",
			slog.Int("attempt", attempt),
			slog.String("error", lastErr.Error()))
	}
	return nil, lastErr
}

// parseEntityJSON tolerates prose around the JSON object by slicing from the
// first brace to the last.
func parseEntityJSON(raw string) (map[string]any, error) {
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start < 0 || end <= start {
		return nil, fmt.Errorf("no JSON object in extraction response")
	}

	var parsed map[string]any
	if err := json.Unmarshal([]byte(raw[start:end+1]), &parsed); err != nil {
		return nil, fmt.Errorf("failed to parse extraction response: %w", err)
	}

	entities := make(map[string]any)
	for _, field := range entityFields {
		if value, ok := parsed[field]; ok && value != nil {
			entities[field] = value
		}
	}
	return entities, nil
}

// mergeEntities overlays refined values on the regex baseline.
func mergeEntities(base, override map[string]any) map[string]any {
	merged := make(map[string]any, len(base)+len(override))
	for k, v := range base {
		merged[k] = v
	}
	for k, v := range override {
		if v != nil {
			merged[k] = v
		}
	}
	return merged
}

// scoreConfidence is the filled-field fraction plus 0.1 per identity field
// present, capped at 1.0 and rounded to two decimals.
func scoreConfidence(entities map[string]any) float64 {
	filled := 0
	for _, field := range entityFields {
		if _, ok := entities[field]; ok {
			filled++
		}
	}
	confidence := float64(filled) / float64(len(entityFields))

	for _, field := range keyFields {
		if _, ok := entities[field]; ok {
			confidence += 0.1
		}
	}
	if confidence > 1.0 {
		confidence = 1.0
	}
	return math.Round(confidence*100) / 100
}

var _ domain.Extractor = (*Extractor)(nil)
