package mcts

import (
	"context"
	"errors"
	"fmt"
	"math"
	"testing"

	"github.com/kuyoku/flux/game"
	"github.com/kuyoku/flux/rules"
)

type fakeEvaluator struct {
	fn func(b *game.Board) ([]float32, float32, error)
}

func (f *fakeEvaluator) Evaluate(b *game.Board) ([]float32, float32, error) {
	return f.fn(b)
}

func uniformEvaluator() *fakeEvaluator {
	return &fakeEvaluator{fn: func(*game.Board) ([]float32, float32, error) {
		policy := make([]float32, game.CellCount)
		for i := range policy {
			policy[i] = 1 / float32(game.CellCount)
		}
		return policy, 0, nil
	}}
}

func newSearch(t *testing.T, cfg Config, eval Evaluator) *Search {
	t.Helper()
	s, err := New(cfg, eval)
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func TestGetActionProbDistribution(t *testing.T) {
	s := newSearch(t, Config{Simulations: 40, Cpuct: 1.0}, uniformEvaluator())
	b := rules.InitialState()

	probs, err := s.GetActionProb(context.Background(), b, game.White, 1.0)
	if err != nil {
		t.Fatal(err)
	}
	if len(probs) != game.CellCount {
		t.Fatalf("got %d probabilities, want %d", len(probs), game.CellCount)
	}

	mask := rules.LegalMask(&b, game.White)
	sum := 0.0
	for a, p := range probs {
		if p < 0 {
			t.Errorf("action %d: negative probability %v", a, p)
		}
		if !mask[a] && p != 0 {
			t.Errorf("illegal action %d has probability %v", a, p)
		}
		sum += p
	}
	if math.Abs(sum-1) > 1e-9 {
		t.Errorf("probabilities sum to %v, want 1", sum)
	}
}

func TestGetActionProbDeterministic(t *testing.T) {
	b := rules.InitialState()

	for _, temperature := range []float64{0, 1.0} {
		s := newSearch(t, Config{Simulations: 30, Cpuct: 1.0}, uniformEvaluator())
		first, err := s.GetActionProb(context.Background(), b, game.White, temperature)
		if err != nil {
			t.Fatal(err)
		}
		for i := 0; i < 3; i++ {
			again, err := s.GetActionProb(context.Background(), b, game.White, temperature)
			if err != nil {
				t.Fatal(err)
			}
			for a := range first {
				if first[a] != again[a] {
					t.Fatalf("temperature %v: call %d diverged at action %d: %v vs %v",
						temperature, i+2, a, first[a], again[a])
				}
			}
		}
	}
}

func TestGetActionProbTemperatureZero(t *testing.T) {
	s := newSearch(t, Config{Simulations: 50, Cpuct: 1.0}, uniformEvaluator())
	b := rules.InitialState()

	probs, err := s.GetActionProb(context.Background(), b, game.White, 0)
	if err != nil {
		t.Fatal(err)
	}
	ones := 0
	for a, p := range probs {
		switch p {
		case 0:
		case 1:
			ones++
		default:
			t.Errorf("action %d: probability %v, want 0 or 1", a, p)
		}
	}
	if ones != 1 {
		t.Errorf("got %d actions with probability 1, want exactly 1", ones)
	}
}

func TestSingleSimulation(t *testing.T) {
	// With one simulation exactly one root action is visited, so the
	// tempered distribution is one-hot on it. All scores start equal under
	// a uniform evaluator, so selection falls to the lowest legal index.
	s := newSearch(t, Config{Simulations: 1, Cpuct: 1.0}, uniformEvaluator())
	b := rules.InitialState()

	probs, err := s.GetActionProb(context.Background(), b, game.White, 1.0)
	if err != nil {
		t.Fatal(err)
	}
	if probs[0] != 1 {
		t.Errorf("probs[0] = %v, want 1", probs[0])
	}
	for a := 1; a < game.CellCount; a++ {
		if probs[a] != 0 {
			t.Errorf("probs[%d] = %v, want 0", a, probs[a])
		}
	}
}

// forcedWinBoard builds a position with two empty cells where white to move
// wins by playing cell 0 and loses by playing cell 63, each line fully
// forced. The remaining cells are locked so neighbour charging stays
// contained to the two lines.
func forcedWinBoard(t *testing.T) game.Board {
	t.Helper()

	var b game.Board
	b[1] = 2
	b[8] = 2
	b[36] = 1
	b[35] = -4

	fixed := map[int]bool{0: true, 63: true, 1: true, 8: true, 36: true, 35: true}
	whiteLocked := 0
	for i := 0; i < game.CellCount; i++ {
		if fixed[i] {
			continue
		}
		if whiteLocked < 29 {
			b[i] = game.MaxStage
			whiteLocked++
		} else {
			b[i] = -game.MaxStage
		}
	}

	// Self-check both lines before asserting anything about the search.
	win, _, err := rules.ApplyMove(b, game.White, 0)
	if err != nil {
		t.Fatal(err)
	}
	win, _, err = rules.ApplyMove(win, game.Black, 63)
	if err != nil {
		t.Fatal(err)
	}
	if outcome, terminal := rules.Result(&win, game.White); !terminal || outcome != rules.OutcomeWin {
		t.Fatalf("line 0: got (%d, %v), want (win, true)", outcome, terminal)
	}

	loss, _, err := rules.ApplyMove(b, game.White, 63)
	if err != nil {
		t.Fatal(err)
	}
	loss, _, err = rules.ApplyMove(loss, game.Black, 0)
	if err != nil {
		t.Fatal(err)
	}
	if outcome, terminal := rules.Result(&loss, game.White); !terminal || outcome != rules.OutcomeLoss {
		t.Fatalf("line 63: got (%d, %v), want (loss, true)", outcome, terminal)
	}

	return b
}

func TestSearchFindsForcedWin(t *testing.T) {
	b := forcedWinBoard(t)

	for _, sims := range []int{50, 100, 200} {
		s := newSearch(t, Config{Simulations: sims, Cpuct: 1.0}, uniformEvaluator())
		probs, err := s.GetActionProb(context.Background(), b, game.White, 0)
		if err != nil {
			t.Fatal(err)
		}
		if got := BestAction(probs); got != 0 {
			t.Errorf("sims=%d: best action = %d, want 0", sims, got)
		}
		if probs[0] != 1 {
			t.Errorf("sims=%d: probs[0] = %v, want 1", sims, probs[0])
		}
	}
}

func TestTerminalRoot(t *testing.T) {
	var b game.Board
	for i := range b {
		if i%2 == 0 {
			b[i] = 1
		} else {
			b[i] = -1
		}
	}

	s := newSearch(t, DefaultConfig(), uniformEvaluator())
	if _, err := s.GetActionProb(context.Background(), b, game.White, 1.0); !errors.Is(err, ErrTerminalRoot) {
		t.Errorf("got %v, want ErrTerminalRoot", err)
	}
}

func TestEvaluatorFailure(t *testing.T) {
	sentinel := fmt.Errorf("backend unavailable")
	s := newSearch(t, DefaultConfig(), &fakeEvaluator{fn: func(*game.Board) ([]float32, float32, error) {
		return nil, 0, sentinel
	}})

	_, err := s.GetActionProb(context.Background(), rules.InitialState(), game.White, 1.0)
	var evalErr *EvaluatorError
	if !errors.As(err, &evalErr) {
		t.Fatalf("got %T, want *EvaluatorError", err)
	}
	if !errors.Is(err, sentinel) {
		t.Errorf("EvaluatorError does not unwrap to the backend error")
	}
}

func TestMalformedEvaluatorOutput(t *testing.T) {
	cases := []struct {
		name string
		fn   func(*game.Board) ([]float32, float32, error)
	}{
		{"short policy", func(*game.Board) ([]float32, float32, error) {
			return make([]float32, 10), 0, nil
		}},
		{"negative prior", func(*game.Board) ([]float32, float32, error) {
			policy := make([]float32, game.CellCount)
			policy[0] = -0.5
			return policy, 0, nil
		}},
		{"nan prior", func(*game.Board) ([]float32, float32, error) {
			policy := make([]float32, game.CellCount)
			policy[0] = float32(math.NaN())
			return policy, 0, nil
		}},
		{"nan value", func(*game.Board) ([]float32, float32, error) {
			return make([]float32, game.CellCount), float32(math.NaN()), nil
		}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s := newSearch(t, DefaultConfig(), &fakeEvaluator{fn: tc.fn})
			_, err := s.GetActionProb(context.Background(), rules.InitialState(), game.White, 1.0)
			var evalErr *EvaluatorError
			if !errors.As(err, &evalErr) {
				t.Errorf("got %v, want *EvaluatorError", err)
			}
		})
	}
}

func TestZeroPolicyFallsBackToUniform(t *testing.T) {
	// An evaluator that puts all its mass on illegal cells still yields a
	// usable search via the uniform fallback.
	s := newSearch(t, Config{Simulations: 20, Cpuct: 1.0}, &fakeEvaluator{fn: func(*game.Board) ([]float32, float32, error) {
		return make([]float32, game.CellCount), 0, nil
	}})

	probs, err := s.GetActionProb(context.Background(), rules.InitialState(), game.White, 1.0)
	if err != nil {
		t.Fatal(err)
	}
	sum := 0.0
	for _, p := range probs {
		sum += p
	}
	if math.Abs(sum-1) > 1e-9 {
		t.Errorf("probabilities sum to %v, want 1", sum)
	}
}

func TestValueClamping(t *testing.T) {
	s := newSearch(t, Config{Simulations: 10, Cpuct: 1.0}, &fakeEvaluator{fn: func(*game.Board) ([]float32, float32, error) {
		policy := make([]float32, game.CellCount)
		for i := range policy {
			policy[i] = 1
		}
		return policy, 3.5, nil
	}})

	if _, err := s.GetActionProb(context.Background(), rules.InitialState(), game.White, 1.0); err != nil {
		t.Fatalf("out-of-range value should be clamped, not rejected: %v", err)
	}
}

func TestContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	s := newSearch(t, Config{Simulations: 1000, Cpuct: 1.0}, uniformEvaluator())
	if _, err := s.GetActionProb(ctx, rules.InitialState(), game.White, 1.0); !errors.Is(err, context.Canceled) {
		t.Errorf("got %v, want context.Canceled", err)
	}
}

func TestConfigValidate(t *testing.T) {
	if err := DefaultConfig().Validate(); err != nil {
		t.Errorf("default config invalid: %v", err)
	}
	if err := (Config{Simulations: 0, Cpuct: 1}).Validate(); err == nil {
		t.Error("zero simulations accepted")
	}
	if err := (Config{Simulations: 10, Cpuct: 0}).Validate(); err == nil {
		t.Error("zero cpuct accepted")
	}
	if err := (Config{Simulations: 10, Cpuct: float32(math.NaN())}).Validate(); err == nil {
		t.Error("NaN cpuct accepted")
	}
	if _, err := New(DefaultConfig(), nil); err == nil {
		t.Error("nil evaluator accepted")
	}
}

func TestBestAction(t *testing.T) {
	probs := make([]float64, game.CellCount)
	probs[5] = 0.4
	probs[9] = 0.4
	probs[20] = 0.2
	if got := BestAction(probs); got != 5 {
		t.Errorf("BestAction = %d, want 5 (lowest index on ties)", got)
	}
}

func BenchmarkGetActionProb(b *testing.B) {
	s, err := New(Config{Simulations: 25, Cpuct: 1.0}, uniformEvaluator())
	if err != nil {
		b.Fatal(err)
	}
	board := rules.InitialState()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := s.GetActionProb(context.Background(), board, game.White, 1.0); err != nil {
			b.Fatal(err)
		}
	}
}
