// Command play runs an interactive Flux game against the search agent.
// The human plays white and moves first; the agent answers with a
// temperature-0 decision. Finished games can be archived to parquet.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/kuyoku/flux/archive"
	"github.com/kuyoku/flux/game"
	"github.com/kuyoku/flux/inference"
	"github.com/kuyoku/flux/mcts"
	"github.com/kuyoku/flux/rules"
)

const humanPlayer = game.White

type phase int

const (
	phaseHuman phase = iota
	phaseThinking
	phaseOver
)

type aiMoveMsg struct {
	action int
	err    error
}

var (
	whiteStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("15")).Bold(true)
	blackStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("12")).Bold(true)
	legalStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	cursorStyle = lipgloss.NewStyle().Background(lipgloss.Color("236")).Bold(true)
	dimStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
)

type model struct {
	board  game.Board
	player game.Player
	phase  phase

	cursor  int
	status  string
	search  *mcts.Search
	rec     *archive.Recorder
	outDir  string
	aiError error
}

func newModel(search *mcts.Search, outDir string) model {
	return model{
		board:  rules.InitialState(),
		player: game.White,
		phase:  phaseHuman,
		cursor: game.Index(game.Size/2, game.Size/2),
		status: "Your move.",
		search: search,
		rec:    archive.NewRecorder("play"),
		outDir: outDir,
	}
}

func (m model) Init() tea.Cmd { return nil }

func (m model) aiMoveCmd() tea.Cmd {
	board := m.board
	player := m.player
	search := m.search
	return func() tea.Msg {
		probs, err := search.GetActionProb(context.Background(), board, player, 0)
		if err != nil {
			return aiMoveMsg{err: err}
		}
		return aiMoveMsg{action: mcts.BestAction(probs)}
	}
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKey(msg)
	case aiMoveMsg:
		return m.handleAIMove(msg)
	}
	return m, nil
}

func (m model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q", "ctrl+c":
		return m, tea.Quit
	}
	if m.phase != phaseHuman {
		return m, nil
	}

	row, col := game.RowCol(m.cursor)
	switch msg.String() {
	case "up", "k":
		if row > 0 {
			row--
		}
	case "down", "j":
		if row < game.Size-1 {
			row++
		}
	case "left", "h":
		if col > 0 {
			col--
		}
	case "right", "l":
		if col < game.Size-1 {
			col++
		}
	case "enter", " ":
		return m.playHuman(m.cursor)
	}
	m.cursor = game.Index(row, col)
	return m, nil
}

func (m model) playHuman(action int) (tea.Model, tea.Cmd) {
	mask := rules.LegalMask(&m.board, m.player)
	if !mask[action] {
		m.status = "Invalid move. Try again."
		return m, nil
	}

	board, next, err := rules.ApplyMove(m.board, m.player, action)
	if err != nil {
		// The mask approved this action; a rejection is a rules bug.
		m.status = "Internal error: " + err.Error()
		m.phase = phaseOver
		return m, nil
	}
	m.rec.Add(&m.board, m.player, action)
	m.board = board
	m.player = next

	if over, cmd := m.checkGameOver(); over {
		return m, cmd
	}
	if m.player == humanPlayer {
		m.status = "Your move."
		return m, nil
	}
	m.phase = phaseThinking
	m.status = "AI is thinking..."
	return m, m.aiMoveCmd()
}

func (m model) handleAIMove(msg aiMoveMsg) (tea.Model, tea.Cmd) {
	if msg.err != nil {
		// A failed decision is surfaced, never papered over with an
		// arbitrary move.
		m.aiError = msg.err
		m.status = "AI failed: " + msg.err.Error()
		m.phase = phaseOver
		return m, nil
	}

	board, next, err := rules.ApplyMove(m.board, m.player, msg.action)
	if err != nil {
		m.aiError = err
		m.status = "Internal error: " + err.Error()
		m.phase = phaseOver
		return m, nil
	}
	m.rec.Add(&m.board, m.player, msg.action)
	m.board = board
	m.player = next

	if over, cmd := m.checkGameOver(); over {
		return m, cmd
	}
	if m.player == humanPlayer {
		m.phase = phaseHuman
		m.status = "Your move."
		return m, nil
	}
	m.status = "AI is thinking..."
	return m, m.aiMoveCmd()
}

func (m *model) checkGameOver() (bool, tea.Cmd) {
	outcome, terminal := rules.Result(&m.board, humanPlayer)
	if !terminal {
		return false, nil
	}
	m.phase = phaseOver
	switch outcome {
	case rules.OutcomeWin:
		m.status = "White (You) win!"
	case rules.OutcomeLoss:
		m.status = "Black (AI) wins!"
	default:
		m.status = "Draw!"
	}

	if m.outDir != "" {
		whiteOutcome, _ := rules.Result(&m.board, game.White)
		if err := archiveGame(m.outDir, m.rec.Finish(whiteOutcome)); err != nil {
			m.status += "  (archive failed: " + err.Error() + ")"
		}
	}
	return true, nil
}

func (m model) View() string {
	var sb strings.Builder
	sb.WriteString("Flux\n\n")

	mask := rules.LegalMask(&m.board, m.player)
	for row := 0; row < game.Size; row++ {
		for col := 0; col < game.Size; col++ {
			action := game.Index(row, col)
			cell := m.board[action]
			glyph := string(game.Glyph(cell))

			var styled string
			switch {
			case cell > 0:
				styled = whiteStyle.Render(glyph)
			case cell < 0:
				styled = blackStyle.Render(glyph)
			case m.phase == phaseHuman && mask[action]:
				styled = legalStyle.Render(glyph)
			default:
				styled = dimStyle.Render(glyph)
			}
			if m.phase == phaseHuman && action == m.cursor {
				styled = cursorStyle.Render(glyph)
			}
			sb.WriteString(styled)
			sb.WriteByte(' ')
		}
		sb.WriteByte('\n')
	}

	sb.WriteString("\n")
	sb.WriteString(fmt.Sprintf("Charge: you %d, AI %d\n", m.board.Charge(humanPlayer), m.board.Charge(humanPlayer.Opponent())))
	sb.WriteString(m.status + "\n")
	if m.phase == phaseHuman {
		sb.WriteString(dimStyle.Render("arrows/hjkl move, enter places, q quits") + "\n")
	} else {
		sb.WriteString(dimStyle.Render("q quits") + "\n")
	}
	return sb.String()
}

func archiveGame(outDir string, rows []archive.TurnRow) error {
	w, err := archive.NewBatchWriter(outDir)
	if err != nil {
		return err
	}
	if err := w.WriteGame(rows); err != nil {
		return err
	}
	_, _, _, err = w.Finalize()
	return err
}

func main() {
	sims := flag.Int("sims", 25, "MCTS simulations per decision")
	cpuct := flag.Float64("cpuct", 1.0, "MCTS exploration constant")
	modelPath := flag.String("model", "", "Path to ONNX checkpoint (empty: go-deep fallback)")
	deepPath := flag.String("deep-model", "", "Path to go-deep checkpoint (used when -model is empty)")
	outDir := flag.String("out-dir", "", "Archive finished games to this directory (empty: no archive)")
	flag.Parse()

	evaluator, closeEval, err := inference.Open(*modelPath, *deepPath, 1)
	if err != nil {
		log.Fatalf("evaluator init: %v", err)
	}
	defer closeEval()

	search, err := mcts.New(mcts.Config{Simulations: *sims, Cpuct: float32(*cpuct)}, evaluator)
	if err != nil {
		log.Fatalf("search init: %v", err)
	}

	p := tea.NewProgram(newModel(search, *outDir))
	if _, err := p.Run(); err != nil {
		log.Fatal(err)
	}
}
