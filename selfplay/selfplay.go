// Package selfplay runs complete AI-vs-AI Flux games for the arena runner.
package selfplay

import (
	"context"
	"fmt"
	"math/rand"

	"github.com/kuyoku/flux/archive"
	"github.com/kuyoku/flux/game"
	"github.com/kuyoku/flux/mcts"
	"github.com/kuyoku/flux/rules"
)

type Options struct {
	// OpeningTemperature is the sampling temperature for the first
	// TemperedPlies moves; later moves play the most visited action.
	OpeningTemperature float64
	TemperedPlies      int
	// MaxPlies caps runaway games; a capped game is scored as a draw.
	MaxPlies int
}

func DefaultOptions() Options {
	return Options{OpeningTemperature: 1.0, TemperedPlies: 10, MaxPlies: 400}
}

type Result struct {
	// Winner is 0 for a draw.
	Winner game.Player
	Plies  int
}

// PlayGame plays one full game with both sides driven by search and returns
// the archived turn rows plus the result. onMove, when non-nil, is called
// after every move.
func PlayGame(ctx context.Context, search *mcts.Search, rng *rand.Rand, opts Options, source string, onMove func()) ([]archive.TurnRow, Result, error) {
	if opts.MaxPlies <= 0 {
		opts.MaxPlies = DefaultOptions().MaxPlies
	}

	b := rules.InitialState()
	player := game.White
	rec := archive.NewRecorder(source)
	plies := 0

	for plies < opts.MaxPlies {
		if outcome, terminal := rules.Result(&b, game.White); terminal {
			rows := rec.Finish(outcome)
			return rows, Result{Winner: winnerFromOutcome(outcome), Plies: plies}, nil
		}

		temperature := 0.0
		if plies < opts.TemperedPlies {
			temperature = opts.OpeningTemperature
		}

		probs, err := search.GetActionProb(ctx, b, player, temperature)
		if err != nil {
			return nil, Result{}, fmt.Errorf("ply %d: %w", plies, err)
		}

		action := mcts.BestAction(probs)
		if temperature > 0 {
			action = sampleAction(rng, probs)
		}

		rec.Add(&b, player, action)
		b, player, err = rules.ApplyMove(b, player, action)
		if err != nil {
			return nil, Result{}, fmt.Errorf("ply %d: %w", plies, err)
		}
		plies++
		if onMove != nil {
			onMove()
		}
	}

	// Capped: score as a draw.
	rows := rec.Finish(rules.OutcomeDraw)
	return rows, Result{Winner: 0, Plies: plies}, nil
}

func sampleAction(rng *rand.Rand, probs []float64) int {
	r := rng.Float64()
	cumulative := 0.0
	last := 0
	for a, p := range probs {
		if p <= 0 {
			continue
		}
		cumulative += p
		last = a
		if r < cumulative {
			return a
		}
	}
	return last
}

func winnerFromOutcome(whiteOutcome rules.Outcome) game.Player {
	switch whiteOutcome {
	case rules.OutcomeWin:
		return game.White
	case rules.OutcomeLoss:
		return game.Black
	default:
		return 0
	}
}
