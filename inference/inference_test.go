package inference

import (
	"errors"
	"math"
	"path/filepath"
	"testing"
	"time"

	"github.com/kuyoku/flux/game"
	"github.com/kuyoku/flux/rules"
)

func TestSoftmax(t *testing.T) {
	out := Softmax([]float32{1, 2, 3})
	sum := float32(0)
	for i, v := range out {
		if v <= 0 {
			t.Errorf("entry %d = %v, want positive", i, v)
		}
		sum += v
	}
	if math.Abs(float64(sum-1)) > 1e-5 {
		t.Errorf("sum = %v, want 1", sum)
	}
	if !(out[2] > out[1] && out[1] > out[0]) {
		t.Errorf("softmax not monotone: %v", out)
	}

	// Large logits must not overflow thanks to the max shift.
	out = Softmax([]float32{1000, 1000})
	if out[0] != 0.5 || out[1] != 0.5 {
		t.Errorf("large equal logits: got %v, want [0.5 0.5]", out)
	}

	if got := Softmax(nil); len(got) != 0 {
		t.Errorf("empty input: got %v", got)
	}
}

func TestUniformEvaluate(t *testing.T) {
	b := rules.InitialState()
	policy, value, err := Uniform{}.Evaluate(&b)
	if err != nil {
		t.Fatal(err)
	}
	if len(policy) != game.CellCount {
		t.Fatalf("policy length = %d, want %d", len(policy), game.CellCount)
	}
	if value != 0 {
		t.Errorf("value = %v, want 0", value)
	}
	for i, p := range policy {
		if p != 1.0/game.CellCount {
			t.Fatalf("policy[%d] = %v, want uniform", i, p)
		}
	}
}

func TestDeepEvaluator(t *testing.T) {
	eval := NewDeepEvaluator([]int{16})
	b := rules.InitialState()

	policy, value, err := eval.Evaluate(&b)
	if err != nil {
		t.Fatal(err)
	}
	if len(policy) != PolicySize {
		t.Fatalf("policy length = %d, want %d", len(policy), PolicySize)
	}
	if value < -1 || value > 1 {
		t.Errorf("value = %v, want within [-1, 1]", value)
	}
	sum := float32(0)
	for i, p := range policy {
		if p < 0 {
			t.Errorf("policy[%d] = %v, want non-negative", i, p)
		}
		sum += p
	}
	if math.Abs(float64(sum-1)) > 1e-4 {
		t.Errorf("policy sums to %v, want 1", sum)
	}
}

func TestDeepEvaluatorSaveLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "net.json")
	eval := NewDeepEvaluator([]int{8})
	if err := eval.Save(path); err != nil {
		t.Fatal(err)
	}

	loaded, err := LoadDeepEvaluator(path)
	if err != nil {
		t.Fatal(err)
	}

	b := rules.InitialState()
	p1, v1, err := eval.Evaluate(&b)
	if err != nil {
		t.Fatal(err)
	}
	p2, v2, err := loaded.Evaluate(&b)
	if err != nil {
		t.Fatal(err)
	}
	if v1 != v2 {
		t.Errorf("values diverge after reload: %v vs %v", v1, v2)
	}
	for i := range p1 {
		if p1[i] != p2[i] {
			t.Fatalf("policy diverges at %d after reload: %v vs %v", i, p1[i], p2[i])
		}
	}
}

func TestLoadDeepEvaluatorMissing(t *testing.T) {
	if _, err := LoadDeepEvaluator(filepath.Join(t.TempDir(), "absent.json")); err == nil {
		t.Error("loading a missing checkpoint should fail")
	}
}

func TestOnnxClientCloseFailsPending(t *testing.T) {
	// A huge batch and timeout keep the loop from ever running the session,
	// so the queued request stays pending until Close fails it.
	c := &OnnxClient{
		cfg:          OnnxClientConfig{BatchSize: 64, BatchTimeout: time.Hour},
		requestsChan: make(chan inferenceRequest, 8),
		quit:         make(chan struct{}),
		done:         make(chan struct{}),
	}
	go c.batchLoop()

	errc := make(chan error, 1)
	go func() {
		b := rules.InitialState()
		_, _, err := c.Evaluate(&b)
		errc <- err
	}()

	time.Sleep(20 * time.Millisecond)
	if err := c.Close(); err != nil {
		t.Fatal(err)
	}

	select {
	case err := <-errc:
		if !errors.Is(err, ErrClientClosed) {
			t.Errorf("got %v, want ErrClientClosed", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Evaluate still blocked after Close")
	}

	// Idempotent, and late callers get the same error.
	if err := c.Close(); err != nil {
		t.Fatal(err)
	}
	b := rules.InitialState()
	if _, _, err := c.Evaluate(&b); !errors.Is(err, ErrClientClosed) {
		t.Errorf("post-close Evaluate: got %v, want ErrClientClosed", err)
	}
}
