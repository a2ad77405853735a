package archive

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/parquet-go/parquet-go"

	"github.com/kuyoku/flux/game"
	"github.com/kuyoku/flux/rules"
)

func TestBoardBytesRoundTrip(t *testing.T) {
	var b game.Board
	b[0] = 5
	b[1] = -5
	b[30] = -1
	b[63] = 2

	got, err := BoardFromBytes(BoardBytes(&b))
	if err != nil {
		t.Fatal(err)
	}
	if got != b {
		t.Errorf("round trip changed the board")
	}

	if _, err := BoardFromBytes(make([]byte, 10)); err == nil {
		t.Error("short snapshot accepted")
	}
}

func TestRecorderFinish(t *testing.T) {
	r := NewRecorder("test")
	if r.GameID() == "" {
		t.Fatal("empty game id")
	}

	b := rules.InitialState()
	r.Add(&b, game.White, 0)
	r.Add(&b, game.Black, 1)
	r.Add(&b, game.White, 2)

	rows := r.Finish(rules.OutcomeWin) // white won
	if len(rows) != 3 {
		t.Fatalf("got %d rows, want 3", len(rows))
	}

	// Movers' perspectives: white rows carry +1, black rows -1.
	wantValues := []float32{1, -1, 1}
	for i, row := range rows {
		if row.Turn != int32(i) {
			t.Errorf("row %d: turn = %d", i, row.Turn)
		}
		if row.GameID != r.GameID() {
			t.Errorf("row %d: game id mismatch", i)
		}
		if row.Value != wantValues[i] {
			t.Errorf("row %d: value = %v, want %v", i, row.Value, wantValues[i])
		}
		if row.Source != "test" {
			t.Errorf("row %d: source = %q", i, row.Source)
		}
	}
}

func TestRecorderFinishDraw(t *testing.T) {
	r := NewRecorder("test")
	b := rules.InitialState()
	r.Add(&b, game.White, 0)
	r.Add(&b, game.Black, 1)

	for i, row := range r.Finish(rules.OutcomeDraw) {
		if row.Value != 0 {
			t.Errorf("row %d: value = %v, want 0", i, row.Value)
		}
	}
}

func TestBatchWriterRoundTrip(t *testing.T) {
	dir := t.TempDir()
	w, err := NewBatchWriter(dir)
	if err != nil {
		t.Fatal(err)
	}

	r := NewRecorder("test")
	b := rules.InitialState()
	r.Add(&b, game.White, 3)
	r.Add(&b, game.Black, 4)
	if err := w.WriteGame(r.Finish(rules.OutcomeLoss)); err != nil {
		t.Fatal(err)
	}
	if w.BufferedGames() != 1 || w.BufferedRows() != 2 {
		t.Errorf("buffered (%d games, %d rows), want (1, 2)", w.BufferedGames(), w.BufferedRows())
	}

	outPath, rows, games, err := w.Finalize()
	if err != nil {
		t.Fatal(err)
	}
	if rows != 2 || games != 1 {
		t.Errorf("finalized (%d rows, %d games), want (2, 1)", rows, games)
	}
	if filepath.Dir(outPath) != dir {
		t.Errorf("output %q not in %q", outPath, dir)
	}

	// The finalized file must be readable and carry the written rows.
	f, err := os.Open(outPath)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	st, err := f.Stat()
	if err != nil {
		t.Fatal(err)
	}
	pf, err := parquet.OpenFile(f, st.Size())
	if err != nil {
		t.Fatal(err)
	}
	reader := parquet.NewGenericReader[TurnRow](pf)
	defer reader.Close()

	got := make([]TurnRow, 4)
	n, _ := reader.Read(got)
	if n != 2 {
		t.Fatalf("read %d rows, want 2", n)
	}
	if got[0].Action != 3 || got[1].Action != 4 {
		t.Errorf("actions = (%d, %d), want (3, 4)", got[0].Action, got[1].Action)
	}
	if got[0].Value != -1 || got[1].Value != 1 {
		t.Errorf("values = (%v, %v), want (-1, 1)", got[0].Value, got[1].Value)
	}

	// Nothing left behind under tmp/.
	entries, err := os.ReadDir(filepath.Join(dir, "tmp"))
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		t.Errorf("%d stale files under tmp/", len(entries))
	}
}

func TestBatchWriterEmptyFinalize(t *testing.T) {
	dir := t.TempDir()
	w, err := NewBatchWriter(dir)
	if err != nil {
		t.Fatal(err)
	}

	outPath, rows, games, err := w.Finalize()
	if err != nil {
		t.Fatal(err)
	}
	if outPath != "" || rows != 0 || games != 0 {
		t.Errorf("empty finalize returned (%q, %d, %d)", outPath, rows, games)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	for _, e := range entries {
		if !e.IsDir() {
			t.Errorf("unexpected file %q after empty finalize", e.Name())
		}
	}
}
