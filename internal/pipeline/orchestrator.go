package pipeline

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"incident-orchestrator/internal/domain"
)

// Recorder receives per-stage and per-run observations. Implementations must
// be safe for concurrent use.
type Recorder interface {
	StageCompleted(stage string, duration time.Duration, diverted bool)
	RunCompleted(terminal string, duration time.Duration)
}

type noopRecorder struct{}

func (noopRecorder) StageCompleted(string, time.Duration, bool) {}
func (noopRecorder) RunCompleted(string, time.Duration)         {}

// CheckpointSaver persists state snapshots between stages so an interrupted
// run can be inspected or resumed under its thread id.
type CheckpointSaver interface {
	Save(ctx context.Context, threadID string, snapshot map[string]any) error
}

// RunOptions carries per-request identifiers. The zero value is valid: a
// request id is generated and no checkpoints are written.
type RunOptions struct {
	RequestID string
	ThreadID  string
}

// Deps are the external collaborators a pipeline may use. LLM and Vector are
// required; Lexical and Extractor are optional and their absence disables
// the corresponding behavior.
type Deps struct {
	LLM       domain.CompletionClient
	Vector    domain.VectorSearcher
	Lexical   domain.LexicalSearcher
	Extractor domain.Extractor
}

// Orchestrator executes the stage pipeline: a linear success path with an
// error-escape edge after every non-terminal stage. It is the only component
// with control-flow logic; stages never know what runs after them.
type Orchestrator struct {
	stages       []Stage
	errorHandler Stage
	recorder     Recorder
	saver        CheckpointSaver
	logger       *slog.Logger
}

// Option configures optional orchestrator behavior.
type Option func(*Orchestrator)

// WithRecorder attaches a metrics recorder.
func WithRecorder(r Recorder) Option {
	return func(o *Orchestrator) { o.recorder = r }
}

// WithCheckpointSaver persists the state snapshot after every stage for runs
// that carry a thread id.
func WithCheckpointSaver(s CheckpointSaver) Option {
	return func(o *Orchestrator) { o.saver = s }
}

// New wires the standard stage graph for the given collaborators: extract
// (only when an extractor is supplied) → plan → retrieve → synthesize →
// validate, with every conditional edge able to divert to the error handler.
func New(deps Deps, policy Policy, logger *slog.Logger, opts ...Option) *Orchestrator {
	var stages []Stage
	if deps.Extractor != nil {
		stages = append(stages, NewExtractStage(deps.Extractor, logger))
	}
	stages = append(stages,
		NewPlanStage(deps.LLM, policy, logger),
		NewRetrieveStage(deps.Vector, deps.Lexical, nil, policy, logger),
		NewSynthesizeStage(deps.LLM, policy, logger),
		NewValidateStage(policy, logger),
	)

	o := &Orchestrator{
		stages:       stages,
		errorHandler: NewErrorHandlerStage(logger),
		recorder:     noopRecorder{},
		logger:       logger,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Run executes the pipeline on the given state and returns it after the
// terminal stage. Expected provider failures end on the error-handler path
// with a templated answer; only programming errors return a non-nil error.
func (o *Orchestrator) Run(ctx context.Context, st *State, opts RunOptions) (*State, error) {
	if opts.RequestID == "" {
		opts.RequestID = uuid.NewString()
	}
	log := o.logger.With(slog.String("request_id", opts.RequestID))
	st.setMetric("request_id", opts.RequestID)

	runStart := time.Now()
	terminal := ""

	for _, stage := range o.stages {
		outcome, err := o.runStage(ctx, stage, st, opts, log)
		if err != nil {
			return nil, err
		}
		if outcome == Divert {
			if _, err := o.runStage(ctx, o.errorHandler, st, opts, log); err != nil {
				return nil, err
			}
			terminal = o.errorHandler.Name()
			break
		}
	}
	if terminal == "" {
		terminal = o.stages[len(o.stages)-1].Name()
	}

	st.setMetric("terminal_stage", terminal)
	o.recorder.RunCompleted(terminal, time.Since(runStart))
	log.Info("pipeline_completed",
		slog.String("terminal_stage", terminal),
		slog.Int64("duration_ms", time.Since(runStart).Milliseconds()))
	return st, nil
}

func (o *Orchestrator) runStage(ctx context.Context, stage Stage, st *State, opts RunOptions, log *slog.Logger) (Outcome, error) {
	start := time.Now()
	outcome, err := stage.Run(ctx, st)
	if err != nil {
		log.Error("stage_failed_unexpectedly",
			slog.String("stage", stage.Name()),
			slog.String("error", err.Error()))
		return outcome, err
	}
	// A stage that records an error without explicitly diverting still
	// leaves the success path; the two signals are kept equivalent.
	if outcome == Continue && st.Err != "" && stage.Name() != o.errorHandler.Name() {
		outcome = Divert
	}

	o.recorder.StageCompleted(stage.Name(), time.Since(start), outcome == Divert)
	log.Debug("stage_completed",
		slog.String("stage", stage.Name()),
		slog.Bool("diverted", outcome == Divert),
		slog.Int64("duration_ms", time.Since(start).Milliseconds()))

	if o.saver != nil && opts.ThreadID != "" {
		if serr := o.saver.Save(ctx, opts.ThreadID, st.Snapshot()); serr != nil {
			log.Warn("checkpoint_save_failed",
				slog.String("thread_id", opts.ThreadID),
				slog.String("error", serr.Error()))
		}
	}
	return outcome, nil
}
