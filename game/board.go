// Package game defines the core board state types for Flux.
//
// A board is a flat 8x8 grid of signed cell codes. The representation is a
// small value type so MCTS can copy states freely during tree exploration.
package game

import (
	"strings"

	"github.com/zeebo/xxh3"
)

const (
	// Size is the board edge length.
	Size = 8
	// CellCount is the number of cells, and also the size of the action
	// space: an action is a flattened cell index in [0, CellCount).
	CellCount = Size * Size

	// MaxStage is the highest node stage. A cell at +MaxStage or -MaxStage
	// is locked and never changes again.
	MaxStage = 5
)

// Player is +1 (white) or -1 (black).
type Player int8

const (
	White Player = 1
	Black Player = -1
)

// Opponent returns the other player.
func (p Player) Opponent() Player { return -p }

// Board holds one cell code per grid cell, row-major.
//
// Cell codes: 0 empty, +1/-1 an ion owned by white/black, +2..+5 / -2..-5 a
// node owned by white/black at the given stage.
type Board [CellCount]int8

// Index flattens (row, col) into an action index.
func Index(row, col int) int { return row*Size + col }

// RowCol splits an action index into (row, col).
func RowCol(action int) (int, int) { return action / Size, action % Size }

// At returns the cell code at (row, col).
func (b *Board) At(row, col int) int8 { return b[Index(row, col)] }

// Owner returns the player owning the piece at action, or 0 for empty.
func (b *Board) Owner(action int) Player {
	switch {
	case b[action] > 0:
		return White
	case b[action] < 0:
		return Black
	default:
		return 0
	}
}

// Charge returns the total charge held by player: the sum of |stage| over
// the player's pieces.
func (b *Board) Charge(p Player) int {
	total := 0
	for _, c := range b {
		if (p == White && c > 0) || (p == Black && c < 0) {
			if c < 0 {
				c = -c
			}
			total += int(c)
		}
	}
	return total
}

// Full reports whether no empty cell remains.
func (b *Board) Full() bool {
	for _, c := range b {
		if c == 0 {
			return false
		}
	}
	return true
}

// Negate returns the board with every cell's sign flipped.
func (b Board) Negate() Board {
	for i := range b {
		b[i] = -b[i]
	}
	return b
}

// Fingerprint hashes the raw cells. Canonical boards use it to key
// search-tree nodes and archive lookups.
func (b *Board) Fingerprint() uint64 {
	var raw [CellCount]byte
	for i, c := range b {
		raw[i] = byte(c)
	}
	return xxh3.Hash(raw[:])
}

// Glyph maps a cell code to its display rune.
func Glyph(c int8) rune {
	switch {
	case c == 0:
		return '.'
	case c == 1:
		return '○' // white ion
	case c == -1:
		return '●' // black ion
	case c >= 2 && c <= MaxStage:
		return '◇' // white node
	case c <= -2 && c >= -MaxStage:
		return '◆' // black node
	default:
		return '?'
	}
}

// String renders the board one row per line using the Flux glyphs.
func (b *Board) String() string {
	var sb strings.Builder
	for row := 0; row < Size; row++ {
		for col := 0; col < Size; col++ {
			if col > 0 {
				sb.WriteByte(' ')
			}
			sb.WriteRune(Glyph(b.At(row, col)))
		}
		sb.WriteByte('\n')
	}
	return sb.String()
}
