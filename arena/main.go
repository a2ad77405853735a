// Command arena plays Flux AI-vs-AI matches across many workers, shows live
// throughput in a terminal dashboard, and archives every finished game to
// parquet.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"math/rand"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/kuyoku/flux/archive"
	"github.com/kuyoku/flux/game"
	"github.com/kuyoku/flux/inference"
	"github.com/kuyoku/flux/logging"
	"github.com/kuyoku/flux/mcts"
	"github.com/kuyoku/flux/selfplay"
)

var totalMoves atomic.Int64
var totalEvaluations atomic.Int64
var totalGames atomic.Int64

type instrumentedEvaluator struct {
	mcts.Evaluator
}

func (e *instrumentedEvaluator) Evaluate(b *game.Board) ([]float32, float32, error) {
	totalEvaluations.Add(1)
	return e.Evaluator.Evaluate(b)
}

type GameUpdate struct {
	WorkerID int
	Result   selfplay.Result
	Turns    int
}

type gameWriteRequest struct {
	rows []archive.TurnRow
}

type model struct {
	gamesPlayed int
	totalTurns  int
	moves       int64
	evals       int64
	startTime   time.Time
	recentGames []string
	updates     chan GameUpdate
}

func initialModel(updates chan GameUpdate) model {
	return model{
		startTime: time.Now(),
		updates:   updates,
	}
}

type TickMsg time.Time

func tickCmd() tea.Cmd {
	return tea.Tick(time.Millisecond*100, func(t time.Time) tea.Msg {
		return TickMsg(t)
	})
}

func (m model) Init() tea.Cmd {
	return tea.Batch(waitForUpdate(m.updates), tickCmd())
}

func waitForUpdate(updates chan GameUpdate) tea.Cmd {
	return func() tea.Msg {
		return <-updates
	}
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if msg.String() == "q" || msg.String() == "ctrl+c" {
			return m, tea.Quit
		}
	case TickMsg:
		m.moves = totalMoves.Load()
		m.evals = totalEvaluations.Load()
		return m, tickCmd()
	case GameUpdate:
		m.gamesPlayed++
		m.totalTurns += msg.Turns
		logMsg := fmt.Sprintf("Worker %d: winner %s, plies %d", msg.WorkerID, winnerLabel(msg.Result), msg.Result.Plies)
		m.recentGames = append([]string{logMsg}, m.recentGames...)
		if len(m.recentGames) > 10 {
			m.recentGames = m.recentGames[:10]
		}
		return m, waitForUpdate(m.updates)
	}
	return m, nil
}

func (m model) View() string {
	duration := time.Since(m.startTime)
	gamesPerSec := float64(m.gamesPlayed) / duration.Seconds()
	movesPerSec := float64(m.moves) / duration.Seconds()
	evalsPerSec := float64(m.evals) / duration.Seconds()
	if duration.Seconds() < 1 {
		gamesPerSec = 0
		movesPerSec = 0
		evalsPerSec = 0
	}

	s := fmt.Sprintf("Games Played:  %d\n", m.gamesPlayed)
	s += fmt.Sprintf("Turns Archived: %d\n", m.totalTurns)
	s += fmt.Sprintf("Total Moves:   %d\n", m.moves)
	s += fmt.Sprintf("Evaluations:   %d\n", m.evals)
	s += fmt.Sprintf("Duration:      %s\n", duration.Round(time.Second))
	s += fmt.Sprintf("Games/Sec:     %.2f\n", gamesPerSec)
	s += fmt.Sprintf("Moves/Sec:     %.2f\n", movesPerSec)
	s += fmt.Sprintf("Evals/Sec:     %.2f\n\n", evalsPerSec)

	s += "Recent Games:\n"
	for _, g := range m.recentGames {
		s += g + "\n"
	}

	s += "\nPress q to quit.\n"
	return s
}

func winnerLabel(r selfplay.Result) string {
	switch {
	case r.Winner > 0:
		return "white"
	case r.Winner < 0:
		return "black"
	default:
		return "draw"
	}
}

func main() {
	outDir := flag.String("out-dir", "data/games", "Output directory for archived game parquet batches")
	workers := flag.Int("workers", 8, "Number of match workers")
	gamesPerFlush := flag.Int("games-per-flush", 50, "Number of games to buffer per parquet flush")
	maxGames := flag.Int64("max-games", 0, "If > 0, stop after this many games (across all workers)")
	sims := flag.Int("sims", 25, "MCTS simulations per decision")
	cpuct := flag.Float64("cpuct", 1.0, "MCTS exploration constant")
	modelPath := flag.String("model", "", "Path to ONNX checkpoint (empty: go-deep fallback)")
	deepPath := flag.String("deep-model", "", "Path to go-deep checkpoint (used when -model is empty)")
	onnxSessions := flag.Int("onnx-sessions", 1, "Number of ONNX Runtime sessions to run in parallel")
	logPath := flag.String("log", "arena.log", "Worker log file (keeps the dashboard clean)")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// The dashboard owns the terminal, so worker logs go to a file.
	logFile, err := os.OpenFile(*logPath, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0o666)
	if err != nil {
		log.Fatalf("open log file: %v", err)
	}
	defer logFile.Close()
	logger := slog.New(logging.NewPrettyJSONHandler(logFile, nil))

	evaluator, closeEval, err := inference.Open(*modelPath, *deepPath, *onnxSessions)
	if err != nil {
		log.Fatalf("evaluator init: %v", err)
	}
	defer closeEval()

	cfg := mcts.Config{Simulations: *sims, Cpuct: float32(*cpuct)}
	search, err := mcts.New(cfg, &instrumentedEvaluator{Evaluator: evaluator})
	if err != nil {
		log.Fatalf("search init: %v", err)
	}

	updates := make(chan GameUpdate, *workers)
	writeReqs := make(chan gameWriteRequest, (*workers)*4)

	writerDone := make(chan struct{})
	go func() {
		parquetWriterLoop(logger, *outDir, *gamesPerFlush, writeReqs)
		close(writerDone)
	}()

	runCtx, stopWorkers := context.WithCancel(ctx)
	defer stopWorkers()

	var workerWG sync.WaitGroup
	for i := 0; i < *workers; i++ {
		workerWG.Add(1)
		go func(workerID int) {
			defer workerWG.Done()
			logger.Info("worker started", "worker", workerID)
			rng := rand.New(rand.NewSource(time.Now().UnixNano() + int64(workerID)*1000003))

			for {
				select {
				case <-runCtx.Done():
					return
				default:
				}

				rows, result, err := selfplay.PlayGame(runCtx, search, rng, selfplay.DefaultOptions(), "arena", func() {
					totalMoves.Add(1)
				})
				if err != nil {
					if runCtx.Err() == nil {
						logger.Error("game aborted", "worker", workerID, "err", err.Error())
					}
					continue
				}

				total := totalGames.Add(1)
				if *maxGames > 0 && total >= *maxGames {
					stopWorkers()
				}

				writeReqs <- gameWriteRequest{rows: rows}
				select {
				case updates <- GameUpdate{WorkerID: workerID, Result: result, Turns: len(rows)}:
				default:
				}
			}
		}(i)
	}

	p := tea.NewProgram(initialModel(updates), tea.WithAltScreen())
	go func() {
		workerWG.Wait()
		close(writeReqs)
		<-writerDone
		p.Quit()
	}()
	if _, err := p.Run(); err != nil {
		log.Fatal(err)
	}

	// Dashboard exited first (user quit): drain the pipeline before leaving.
	stopWorkers()
	workerWG.Wait()
	<-writerDone
	logger.Info("shutdown complete", "games", totalGames.Load())
}

func parquetWriterLoop(logger *slog.Logger, outDir string, gamesPerFlush int, in <-chan gameWriteRequest) {
	if gamesPerFlush <= 0 {
		gamesPerFlush = 50
	}

	var writer *archive.BatchWriter

	flush := func() {
		if writer == nil {
			return
		}
		outPath, rows, games, err := writer.Finalize()
		if err != nil {
			logger.Error("parquet flush failed", "err", err.Error())
		} else if rows > 0 {
			logger.Info("parquet flush ok", "path", outPath, "games", games, "rows", rows)
		}
		writer = nil
	}

	for req := range in {
		if len(req.rows) == 0 {
			continue
		}
		if writer == nil {
			w, err := archive.NewBatchWriter(outDir)
			if err != nil {
				logger.Error("open batch writer", "err", err.Error())
				continue
			}
			writer = w
		}
		if err := writer.WriteGame(req.rows); err != nil {
			logger.Error("write game", "err", err.Error())
			continue
		}
		if writer.BufferedGames() >= gamesPerFlush {
			flush()
		}
	}
	flush()
}
