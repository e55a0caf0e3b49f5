package pipeline

import "context"

// Outcome tells the orchestrator where to go after a stage has run.
type Outcome int

const (
	// Continue proceeds to the next stage on the success path.
	Continue Outcome = iota
	// Divert routes to the error handler. A diverting stage has already
	// recorded the reason in State.Err.
	Divert
)

// Stage is one named unit of the pipeline. A stage mutates the state in
// place and reports whether execution continues or diverts. Expected failure
// modes (provider errors) never surface as a Go error; the error return is
// reserved for genuinely unexpected conditions and unwinds the whole run.
type Stage interface {
	Name() string
	Run(ctx context.Context, st *State) (Outcome, error)
}
