// Package rules implements the Flux game model: the start position, legal
// move generation, the state transition, terminal detection, and
// canonicalization.
//
// All functions are pure: boards are passed and returned by value and never
// mutated in place. Canonicalize is the single authoritative perspective
// transform; callers must not negate boards themselves.
package rules

import (
	"fmt"

	"github.com/kuyoku/flux/game"
)

// Outcome is a terminal result relative to a player.
type Outcome int8

const (
	OutcomeLoss Outcome = -1
	OutcomeDraw Outcome = 0
	OutcomeWin  Outcome = 1
)

// InvalidMoveError reports an attempt to apply an illegal action. It always
// indicates a caller bug, never a recoverable input error.
type InvalidMoveError struct {
	Action int
	Player game.Player
	Reason string
}

func (e *InvalidMoveError) Error() string {
	return fmt.Sprintf("invalid move %d for player %d: %s", e.Action, e.Player, e.Reason)
}

// InitialState returns the fixed start position: four ions in the center,
// diagonally paired.
func InitialState() game.Board {
	var b game.Board
	mid := game.Size/2 - 1
	b[game.Index(mid, mid)] = int8(game.White)
	b[game.Index(mid+1, mid+1)] = int8(game.White)
	b[game.Index(mid, mid+1)] = int8(game.Black)
	b[game.Index(mid+1, mid)] = int8(game.Black)
	return b
}

// LegalMask returns an indicator over the full action space of the actions
// legal for player in b. In Flux both players share the same legal set: any
// empty cell, as long as the game is not over.
func LegalMask(b *game.Board, player game.Player) [game.CellCount]bool {
	var mask [game.CellCount]bool
	if _, terminal := Result(b, player); terminal {
		return mask
	}
	for i, c := range b {
		if c == 0 {
			mask[i] = true
		}
	}
	return mask
}

// LegalMoves returns the legal actions for player in b, ascending.
func LegalMoves(b *game.Board, player game.Player) []int {
	mask := LegalMask(b, player)
	moves := make([]int, 0, game.CellCount)
	for i, ok := range mask {
		if ok {
			moves = append(moves, i)
		}
	}
	return moves
}

// ApplyMove places a stage-1 ion for player on the given cell and charges
// the four orthogonal neighbours: friendly pieces advance one stage (capped
// at the lock stage), enemy pieces drain one stage toward zero. Locked
// nodes (|stage| == MaxStage) are immune to both.
//
// Returns the resulting board and the player to move next.
func ApplyMove(b game.Board, player game.Player, action int) (game.Board, game.Player, error) {
	if action < 0 || action >= game.CellCount {
		return b, player, &InvalidMoveError{Action: action, Player: player, Reason: "out of range"}
	}
	if b[action] != 0 {
		return b, player, &InvalidMoveError{Action: action, Player: player, Reason: "cell occupied"}
	}
	if _, terminal := Result(&b, player); terminal {
		return b, player, &InvalidMoveError{Action: action, Player: player, Reason: "game over"}
	}

	b[action] = int8(player)
	row, col := game.RowCol(action)
	charge := func(r, c int) {
		if r < 0 || r >= game.Size || c < 0 || c >= game.Size {
			return
		}
		i := game.Index(r, c)
		v := b[i]
		switch {
		case v == 0:
			return
		case v == int8(game.MaxStage) || v == -int8(game.MaxStage):
			return // locked
		case (player == game.White) == (v > 0):
			// Friendly: advance one stage away from zero.
			if v > 0 {
				b[i] = v + 1
			} else {
				b[i] = v - 1
			}
		default:
			// Enemy: drain one stage toward zero.
			if v > 0 {
				b[i] = v - 1
			} else {
				b[i] = v + 1
			}
		}
	}
	charge(row-1, col)
	charge(row+1, col)
	charge(row, col-1)
	charge(row, col+1)

	return b, player.Opponent(), nil
}

// Result judges b relative to player. The second return is false while the
// game is ongoing. Terminal results negate consistently:
// Result(b, p) == -Result(b, -p).
//
// The game ends when the board is full (higher total charge wins) or when
// one side still holds pieces and the other holds none (annihilation).
func Result(b *game.Board, player game.Player) (Outcome, bool) {
	white := b.Charge(game.White)
	black := b.Charge(game.Black)

	if !b.Full() {
		// A single fresh ion is not an annihilation win; otherwise the
		// opening placement of any sparse position would end the game.
		switch {
		case white == 0 && black >= 2:
			return forPlayer(game.Black, player), true
		case black == 0 && white >= 2:
			return forPlayer(game.White, player), true
		default:
			return OutcomeDraw, false
		}
	}

	switch {
	case white > black:
		return forPlayer(game.White, player), true
	case black > white:
		return forPlayer(game.Black, player), true
	default:
		return OutcomeDraw, true
	}
}

func forPlayer(winner, player game.Player) Outcome {
	if winner == player {
		return OutcomeWin
	}
	return OutcomeLoss
}

// Canonicalize returns b as seen by player to move, so that downstream
// consumers always reason from "white to move". Canonicalize(b, White) is b
// itself; Canonicalize(b, Black) is the sign-inverted board. The transform
// is idempotent once canonical.
func Canonicalize(b game.Board, player game.Player) game.Board {
	if player == game.Black {
		return b.Negate()
	}
	return b
}
