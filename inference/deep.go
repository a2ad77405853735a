package inference

import (
	"fmt"
	"math"
	"os"

	deep "github.com/patrikeh/go-deep"

	"github.com/kuyoku/flux/convert"
	"github.com/kuyoku/flux/game"
)

// DeepEvaluator is a pure-Go evaluator backed by a go-deep feedforward
// network. It needs no shared libraries or GPU, which makes it the fallback
// backend when no ONNX runtime or checkpoint is available.
//
// The network maps the encoded board to PolicySize+1 regression outputs:
// policy logits followed by a raw value, squashed to [-1,1] here.
type DeepEvaluator struct {
	network *deep.Neural
}

// NewDeepEvaluator builds a randomly initialized network. Useful for play
// without a checkpoint; the priors are noise but the search still works.
func NewDeepEvaluator(hidden []int) *DeepEvaluator {
	if len(hidden) == 0 {
		hidden = []int{128}
	}
	layout := append(append([]int{}, hidden...), PolicySize+1)

	network := deep.NewNeural(&deep.Config{
		Inputs:     convert.FloatSize,
		Layout:     layout,
		Activation: deep.ActivationReLU,
		Mode:       deep.ModeRegression,
		Weight:     deep.NewNormal(0.0, 0.1),
		Bias:       true,
	})
	return &DeepEvaluator{network: network}
}

// LoadDeepEvaluator restores a network persisted with Save.
func LoadDeepEvaluator(path string) (*DeepEvaluator, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read deep checkpoint: %w", err)
	}
	network, err := deep.Unmarshal(raw)
	if err != nil {
		return nil, fmt.Errorf("unmarshal deep checkpoint: %w", err)
	}
	if got := len(network.Layers[len(network.Layers)-1].Neurons); got != PolicySize+1 {
		return nil, fmt.Errorf("deep checkpoint has %d outputs, want %d", got, PolicySize+1)
	}
	return &DeepEvaluator{network: network}, nil
}

// Save persists the network weights to path.
func (e *DeepEvaluator) Save(path string) error {
	raw, err := e.network.Marshal()
	if err != nil {
		return fmt.Errorf("marshal deep network: %w", err)
	}
	return os.WriteFile(path, raw, 0o644)
}

// Evaluate implements mcts.Evaluator.
func (e *DeepEvaluator) Evaluate(b *game.Board) ([]float32, float32, error) {
	out := e.network.Predict(convert.BoardToFloat64(b))
	if len(out) != PolicySize+1 {
		return nil, 0, fmt.Errorf("deep network produced %d outputs, want %d", len(out), PolicySize+1)
	}

	logits := make([]float32, PolicySize)
	for i := range logits {
		logits[i] = float32(out[i])
	}
	value := float32(math.Tanh(out[PolicySize]))
	return Softmax(logits), value, nil
}
