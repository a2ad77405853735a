package inference

import (
	"github.com/kuyoku/flux/game"
)

// Backend is the common surface of the evaluator backends in this package.
// It matches the search engine's Evaluator interface.
type Backend interface {
	Evaluate(b *game.Board) ([]float32, float32, error)
}

// Open picks a backend: an ONNX checkpoint when modelPath is set, else a
// go-deep checkpoint, else a freshly initialized go-deep network. The
// returned func releases the backend's resources.
func Open(modelPath, deepPath string, onnxSessions int) (Backend, func(), error) {
	if modelPath != "" {
		pool, err := NewOnnxPool(modelPath, onnxSessions)
		if err != nil {
			return nil, nil, err
		}
		return pool, func() { _ = pool.Close() }, nil
	}
	if deepPath != "" {
		eval, err := LoadDeepEvaluator(deepPath)
		if err != nil {
			return nil, nil, err
		}
		return eval, func() {}, nil
	}
	return NewDeepEvaluator(nil), func() {}, nil
}
