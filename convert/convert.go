// Package convert encodes canonical boards into the float32 plane layout
// consumed by the evaluator backends.
package convert

import (
	"sync"

	"github.com/kuyoku/flux/game"
)

const (
	Channels  = 3
	FloatSize = Channels * game.CellCount
)

var floatPool = sync.Pool{
	New: func() interface{} {
		b := make([]float32, FloatSize)
		return &b
	},
}

// GetFloatBuffer returns a pooled encoding buffer.
func GetFloatBuffer() *[]float32 {
	return floatPool.Get().(*[]float32)
}

// PutFloatBuffer returns a buffer to the pool.
func PutFloatBuffer(b *[]float32) {
	floatPool.Put(b)
}

// BoardToFloat32 encodes a canonical board (white to move) into a pooled
// float32 slice, shape [Channels, Size, Size]:
//
//	0: own piece stages, scaled to [0,1]
//	1: opponent piece stages, scaled to [0,1]
//	2: empty cells
//
// Caller must return the slice with PutFloatBuffer.
func BoardToFloat32(b *game.Board) *[]float32 {
	dataPtr := GetFloatBuffer()
	data := *dataPtr
	clear(data)

	for i, c := range b {
		switch {
		case c > 0:
			data[i] = float32(c) / game.MaxStage
		case c < 0:
			data[game.CellCount+i] = float32(-c) / game.MaxStage
		default:
			data[2*game.CellCount+i] = 1
		}
	}
	return dataPtr
}

// BoardToFloat64 is the float64 variant used by the go-deep backend.
func BoardToFloat64(b *game.Board) []float64 {
	ptr := BoardToFloat32(b)
	out := make([]float64, FloatSize)
	for i, v := range *ptr {
		out[i] = float64(v)
	}
	PutFloatBuffer(ptr)
	return out
}
