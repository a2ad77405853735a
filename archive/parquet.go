// Package archive persists finished games as parquet files, one row per
// turn. The rows are model-agnostic snapshots: any consumer (the viewer, ad
// hoc duckdb queries) can reconstruct a full game from them.
package archive

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/kuyoku/flux/game"
	"github.com/kuyoku/flux/rules"
)

// TurnRow is a single (game, turn) snapshot.
//
// Board is the raw 64 cell codes before the move, row-major, one signed byte
// per cell. Action is the move played from that position. Value is the final
// game outcome from the mover's perspective, assigned once the game ends.
type TurnRow struct {
	GameID string  `parquet:"game_id,dict"`
	Turn   int32   `parquet:"turn"`
	Player int32   `parquet:"player"`
	Board  []byte  `parquet:"board"`
	Action int32   `parquet:"action"`
	Value  float32 `parquet:"value"`
	Source string  `parquet:"source,dict"`
}

// BoardBytes flattens a board into the archived byte form.
func BoardBytes(b *game.Board) []byte {
	out := make([]byte, game.CellCount)
	for i, c := range b {
		out[i] = byte(c)
	}
	return out
}

// BoardFromBytes is the inverse of BoardBytes.
func BoardFromBytes(raw []byte) (game.Board, error) {
	var b game.Board
	if len(raw) != game.CellCount {
		return b, fmt.Errorf("board snapshot has %d bytes, want %d", len(raw), game.CellCount)
	}
	for i, v := range raw {
		b[i] = int8(v)
	}
	return b, nil
}

// Recorder accumulates the turns of one game and stamps outcomes when the
// game finishes.
type Recorder struct {
	gameID string
	source string
	rows   []TurnRow
}

func NewRecorder(source string) *Recorder {
	return &Recorder{
		gameID: uuid.NewString(),
		source: source,
		rows:   make([]TurnRow, 0, 64),
	}
}

func (r *Recorder) GameID() string { return r.gameID }

// Add records a move: player played action from board b.
func (r *Recorder) Add(b *game.Board, player game.Player, action int) {
	r.rows = append(r.rows, TurnRow{
		GameID: r.gameID,
		Turn:   int32(len(r.rows)),
		Player: int32(player),
		Board:  BoardBytes(b),
		Action: int32(action),
		Source: r.source,
	})
}

// Finish stamps every row with the final outcome (given relative to white)
// from that row's mover's perspective and returns the rows.
func (r *Recorder) Finish(whiteOutcome rules.Outcome) []TurnRow {
	for i := range r.rows {
		r.rows[i].Value = float32(whiteOutcome) * float32(r.rows[i].Player)
	}
	return r.rows
}
