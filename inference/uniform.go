package inference

import (
	"github.com/kuyoku/flux/game"
)

// Uniform is an evaluator with no opinion: equal prior on every action and
// a neutral value. With it the search degenerates to pure visit-count
// exploration, which is handy in tests and as a last-resort backend.
type Uniform struct{}

// Evaluate implements mcts.Evaluator.
func (Uniform) Evaluate(*game.Board) ([]float32, float32, error) {
	policy := make([]float32, game.CellCount)
	for i := range policy {
		policy[i] = 1.0 / game.CellCount
	}
	return policy, 0, nil
}
