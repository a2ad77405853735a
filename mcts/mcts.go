// Package mcts implements the move-selection search engine: a Monte-Carlo
// tree search over Flux states guided by an external position evaluator.
package mcts

import (
	"fmt"

	"github.com/kuyoku/flux/game"
	"github.com/kuyoku/flux/rules"
)

// Evaluator supplies prior move probabilities and a value estimate for a
// canonical board (white to move). Policy covers the full action space as
// probabilities; value is in [-1, 1] from the mover's perspective.
//
// The engine makes exactly one call per newly expanded state and never
// retries: a failed call aborts the whole decision.
type Evaluator interface {
	Evaluate(canonical *game.Board) (policy []float32, value float32, err error)
}

// Config holds the search parameters.
type Config struct {
	// Simulations is the playout budget per decision.
	Simulations int
	// Cpuct trades exploration against exploitation in the selection rule.
	Cpuct float32
}

// DefaultConfig returns the standard search parameters.
func DefaultConfig() Config {
	return Config{Simulations: 25, Cpuct: 1.0}
}

func (c Config) Validate() error {
	if c.Simulations <= 0 {
		return fmt.Errorf("mcts: simulations must be positive, got %d", c.Simulations)
	}
	if !(c.Cpuct > 0) {
		return fmt.Errorf("mcts: cpuct must be positive, got %v", c.Cpuct)
	}
	return nil
}

// EvaluatorError wraps a failed or malformed evaluator call. It is fatal to
// the decision that triggered it.
type EvaluatorError struct {
	Err error
}

func (e *EvaluatorError) Error() string { return "evaluator: " + e.Err.Error() }
func (e *EvaluatorError) Unwrap() error { return e.Err }

// ErrTerminalRoot is returned when a decision is requested on a finished
// game.
var ErrTerminalRoot = fmt.Errorf("mcts: root state is terminal")

// node holds per-action statistics for one canonical state.
type node struct {
	legal    [game.CellCount]bool
	priors   [game.CellCount]float32
	visits   [game.CellCount]int32
	values   [game.CellCount]float32
	total    int32
	terminal bool
	outcome  rules.Outcome
	nLegal   int
}

// Search is a reusable decision engine. Each GetActionProb call owns its own
// tree; Search itself holds only configuration and the injected evaluator,
// so it is safe to use for many decisions in sequence.
type Search struct {
	cfg  Config
	eval Evaluator
}

// New validates cfg and returns a Search using eval for leaf evaluation.
func New(cfg Config, eval Evaluator) (*Search, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if eval == nil {
		return nil, fmt.Errorf("mcts: evaluator is required")
	}
	return &Search{cfg: cfg, eval: eval}, nil
}
