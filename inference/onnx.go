// Package inference provides evaluator backends for the search engine: an
// ONNX Runtime client for trained checkpoints, a pure-Go go-deep network,
// and a uniform evaluator for tests and model-free play.
package inference

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"time"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/kuyoku/flux/convert"
	"github.com/kuyoku/flux/game"
)

const (
	InputSize  = convert.FloatSize
	PolicySize = game.CellCount
	ValueSize  = 1
)

const (
	DefaultBatchSize    = 64
	DefaultBatchTimeout = 1 * time.Millisecond
)

type OnnxClientConfig struct {
	BatchSize    int
	BatchTimeout time.Duration
}

type inferenceRequest struct {
	input    []float32
	respChan chan inferenceResponse
}

type inferenceResponse struct {
	policy []float32
	value  float32
	err    error
}

// ErrClientClosed is returned for evaluations that race or follow Close.
var ErrClientClosed = fmt.Errorf("inference: onnx client is closed")

// OnnxClient evaluates canonical boards with an ONNX Runtime session.
// Requests are collected into batches so that many concurrent searches
// share one model execution.
type OnnxClient struct {
	session      *ort.DynamicAdvancedSession
	requestsChan chan inferenceRequest
	cfg          OnnxClientConfig

	quit      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

var ortInitOnce sync.Once
var ortInitErr error

func NewOnnxClient(modelPath string) (*OnnxClient, error) {
	return NewOnnxClientWithConfig(modelPath, OnnxClientConfig{BatchSize: DefaultBatchSize, BatchTimeout: DefaultBatchTimeout})
}

func NewOnnxClientWithConfig(modelPath string, cfg OnnxClientConfig) (*OnnxClient, error) {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.BatchTimeout <= 0 {
		cfg.BatchTimeout = DefaultBatchTimeout
	}

	if runtime.GOOS == "linux" {
		if p := os.Getenv("ORT_SHARED_LIBRARY_PATH"); p != "" {
			ort.SetSharedLibraryPath(p)
		} else {
			cwd, _ := os.Getwd()
			candidates := []string{
				"libonnxruntime.so",
				"libonnxruntime.so.1",
			}
			for _, name := range candidates {
				abs := filepath.Join(cwd, name)
				if _, err := os.Stat(abs); err == nil {
					ort.SetSharedLibraryPath(abs)
					break
				}
			}
		}
	}

	ortInitOnce.Do(func() {
		ortInitErr = ort.InitializeEnvironment()
	})
	if ortInitErr != nil {
		return nil, fmt.Errorf("failed to init ort: %w", ortInitErr)
	}

	options, err := ort.NewSessionOptions()
	if err != nil {
		return nil, err
	}
	defer options.Destroy()

	inputs := []string{"input"}
	outputs := []string{"policy", "value"}

	// Single-threaded ops: parallelism comes from many searches, not from
	// one session.
	options.SetIntraOpNumThreads(1)
	options.SetInterOpNumThreads(1)

	session, err := ort.NewDynamicAdvancedSession(modelPath, inputs, outputs, options)
	if err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	client := &OnnxClient{
		session:      session,
		cfg:          cfg,
		requestsChan: make(chan inferenceRequest, cfg.BatchSize*2),
		quit:         make(chan struct{}),
		done:         make(chan struct{}),
	}

	go client.batchLoop()

	return client, nil
}

// Close stops the batching goroutine, fails any pending requests, and only
// then destroys the session. Safe to call more than once.
func (c *OnnxClient) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.quit)
		<-c.done
		if c.session != nil {
			err = c.session.Destroy()
		}
	})
	return err
}

// Evaluate implements mcts.Evaluator. The model emits raw policy logits;
// they are softmaxed here so the engine sees probabilities.
func (c *OnnxClient) Evaluate(b *game.Board) ([]float32, float32, error) {
	inputPtr := convert.BoardToFloat32(b)
	input := make([]float32, InputSize)
	copy(input, *inputPtr)
	convert.PutFloatBuffer(inputPtr)

	respChan := make(chan inferenceResponse, 1)
	select {
	case c.requestsChan <- inferenceRequest{input: input, respChan: respChan}:
	case <-c.quit:
		return nil, 0, ErrClientClosed
	}

	var resp inferenceResponse
	select {
	case resp = <-respChan:
	case <-c.done:
		// The loop is gone; take an already-delivered response if any.
		select {
		case resp = <-respChan:
		default:
			return nil, 0, ErrClientClosed
		}
	}
	if resp.err != nil {
		return nil, 0, resp.err
	}
	return Softmax(resp.policy), resp.value, nil
}

func (c *OnnxClient) batchLoop() {
	defer close(c.done)

	batchInput := make([]float32, 0, c.cfg.BatchSize*InputSize)
	requests := make([]inferenceRequest, 0, c.cfg.BatchSize)

	ticker := time.NewTicker(c.cfg.BatchTimeout)
	defer ticker.Stop()

	for {
		select {
		case req := <-c.requestsChan:
			requests = append(requests, req)
			batchInput = append(batchInput, req.input...)

			if len(requests) >= c.cfg.BatchSize {
				c.runBatch(requests, batchInput)
				requests = requests[:0]
				batchInput = batchInput[:0]
			}
		case <-ticker.C:
			if len(requests) > 0 {
				c.runBatch(requests, batchInput)
				requests = requests[:0]
				batchInput = batchInput[:0]
			}
		case <-c.quit:
			// No caller may stay blocked: fail the partial batch and
			// whatever is still queued.
			c.failBatch(requests, ErrClientClosed)
			for {
				select {
				case req := <-c.requestsChan:
					req.respChan <- inferenceResponse{err: ErrClientClosed}
				default:
					return
				}
			}
		}
	}
}

func (c *OnnxClient) runBatch(requests []inferenceRequest, batchInput []float32) {
	currentBatchSize := int64(len(requests))

	inputShape := []int64{currentBatchSize, convert.Channels, game.Size, game.Size}
	inputTensor, err := ort.NewTensor(ort.NewShape(inputShape...), batchInput)
	if err != nil {
		c.failBatch(requests, err)
		return
	}
	defer inputTensor.Destroy()

	policyTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(currentBatchSize, PolicySize))
	if err != nil {
		c.failBatch(requests, err)
		return
	}
	defer policyTensor.Destroy()

	valueTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(currentBatchSize, ValueSize))
	if err != nil {
		c.failBatch(requests, err)
		return
	}
	defer valueTensor.Destroy()

	err = c.session.Run([]ort.Value{inputTensor}, []ort.Value{policyTensor, valueTensor})
	if err != nil {
		c.failBatch(requests, err)
		return
	}

	policyData := policyTensor.GetData()
	valueData := valueTensor.GetData()

	for i, req := range requests {
		policy := make([]float32, PolicySize)
		copy(policy, policyData[i*PolicySize:(i+1)*PolicySize])

		req.respChan <- inferenceResponse{
			policy: policy,
			value:  valueData[i*ValueSize],
		}
	}
}

func (c *OnnxClient) failBatch(requests []inferenceRequest, err error) {
	for _, req := range requests {
		req.respChan <- inferenceResponse{err: err}
	}
}

// Softmax converts policy logits into probabilities.
func Softmax(logits []float32) []float32 {
	out := make([]float32, len(logits))
	if len(logits) == 0 {
		return out
	}
	maxV := logits[0]
	for _, v := range logits[1:] {
		if v > maxV {
			maxV = v
		}
	}
	sum := float32(0)
	for i, v := range logits {
		e := float32(math.Exp(float64(v - maxV)))
		out[i] = e
		sum += e
	}
	if sum > 0 {
		inv := 1 / sum
		for i := range out {
			out[i] *= inv
		}
	}
	return out
}
