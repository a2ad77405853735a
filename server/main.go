// Command server exposes Flux over websocket: a client opens a game, sends
// its moves, and receives board states and the agent's replies as JSON
// frames.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"net/http"
	"os"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/kuyoku/flux/archive"
	"github.com/kuyoku/flux/game"
	"github.com/kuyoku/flux/inference"
	"github.com/kuyoku/flux/mcts"
	"github.com/kuyoku/flux/rules"
)

type clientFrame struct {
	Type   string `json:"type"` // "move" or "reset"
	Action int    `json:"action,omitempty"`
}

type stateFrame struct {
	Type       string  `json:"type"` // "state" or "error"
	Board      []int8  `json:"board,omitempty"`
	Player     int     `json:"player,omitempty"`
	Legal      []int   `json:"legal,omitempty"`
	LastAction int     `json:"last_action"`
	Outcome    string  `json:"outcome,omitempty"` // ongoing, white, black, draw
	Error      string  `json:"error,omitempty"`
	ThinkMs    float64 `json:"think_ms,omitempty"`
}

// session is one websocket game: the remote client plays white, the agent
// plays black.
type session struct {
	conn   *websocket.Conn
	search *mcts.Search
	outDir string
	log    zerolog.Logger

	board  game.Board
	player game.Player
	rec    *archive.Recorder
}

func (s *session) reset() {
	s.board = rules.InitialState()
	s.player = game.White
	s.rec = archive.NewRecorder("server")
}

func (s *session) sendState(lastAction int, thinkMs float64) error {
	outcome, terminal := rules.Result(&s.board, game.White)
	frame := stateFrame{
		Type:       "state",
		Board:      s.board[:],
		Player:     int(s.player),
		LastAction: lastAction,
		Outcome:    "ongoing",
		ThinkMs:    thinkMs,
	}
	if terminal {
		switch outcome {
		case rules.OutcomeWin:
			frame.Outcome = "white"
		case rules.OutcomeLoss:
			frame.Outcome = "black"
		default:
			frame.Outcome = "draw"
		}
	} else {
		frame.Legal = rules.LegalMoves(&s.board, s.player)
	}
	return s.conn.WriteJSON(frame)
}

func (s *session) sendError(msg string) error {
	return s.conn.WriteJSON(stateFrame{Type: "error", LastAction: -1, Error: msg})
}

func (s *session) finishIfOver() (bool, error) {
	outcome, terminal := rules.Result(&s.board, game.White)
	if !terminal {
		return false, nil
	}
	if s.outDir != "" {
		if err := archiveGame(s.outDir, s.rec.Finish(outcome)); err != nil {
			s.log.Error().Err(err).Msg("archive game")
		}
	}
	s.log.Info().Str("game", s.rec.GameID()).Int8("outcome", int8(outcome)).Msg("game over")
	return true, nil
}

// handleMove applies the client's move and, while it is the agent's turn,
// answers with search decisions.
func (s *session) handleMove(ctx context.Context, action int) error {
	mask := rules.LegalMask(&s.board, s.player)
	if s.player != game.White {
		return s.sendError("not your turn")
	}
	if action < 0 || action >= game.CellCount || !mask[action] {
		return s.sendError("illegal move")
	}

	s.rec.Add(&s.board, s.player, action)
	board, next, err := rules.ApplyMove(s.board, s.player, action)
	if err != nil {
		return err
	}
	s.board = board
	s.player = next

	if err := s.sendState(action, 0); err != nil {
		return err
	}
	if over, err := s.finishIfOver(); over || err != nil {
		return err
	}

	for s.player == game.Black {
		start := time.Now()
		probs, err := s.search.GetActionProb(ctx, s.board, s.player, 0)
		if err != nil {
			// A failed decision fails the session; no silent fallback move.
			s.log.Error().Err(err).Msg("search failed")
			return s.sendError("agent failed: " + err.Error())
		}
		aiAction := mcts.BestAction(probs)

		s.rec.Add(&s.board, s.player, aiAction)
		board, next, err := rules.ApplyMove(s.board, s.player, aiAction)
		if err != nil {
			return err
		}
		s.board = board
		s.player = next

		if err := s.sendState(aiAction, float64(time.Since(start).Microseconds())/1000); err != nil {
			return err
		}
		if over, err := s.finishIfOver(); over || err != nil {
			return err
		}
	}
	return nil
}

func (s *session) run(ctx context.Context) {
	defer s.conn.Close()
	s.reset()
	if err := s.sendState(-1, 0); err != nil {
		return
	}

	for {
		var frame clientFrame
		if err := s.conn.ReadJSON(&frame); err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.log.Info().Msg("client disconnected")
			} else {
				s.log.Warn().Err(err).Msg("read frame")
			}
			return
		}

		switch frame.Type {
		case "move":
			if err := s.handleMove(ctx, frame.Action); err != nil {
				s.log.Error().Err(err).Msg("handle move")
				return
			}
		case "reset":
			s.reset()
			if err := s.sendState(-1, 0); err != nil {
				return
			}
		default:
			if err := s.sendError("unknown frame type"); err != nil {
				return
			}
		}
	}
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
	listen := flag.String("listen", ":8080", "HTTP listen address")
	sims := flag.Int("sims", 25, "MCTS simulations per decision")
	cpuct := flag.Float64("cpuct", 1.0, "MCTS exploration constant")
	modelPath := flag.String("model", "", "Path to ONNX checkpoint (empty: go-deep fallback)")
	deepPath := flag.String("deep-model", "", "Path to go-deep checkpoint (used when -model is empty)")
	sessions := flag.Int("onnx-sessions", 1, "Number of ONNX sessions (for parallel games)")
	outDir := flag.String("out-dir", "", "Archive finished games to this directory (empty: no archive)")
	flag.Parse()

	logger := zerolog.New(os.Stderr).With().Timestamp().Logger()

	evaluator, closeEval, err := inference.Open(*modelPath, *deepPath, *sessions)
	if err != nil {
		logger.Fatal().Err(err).Msg("evaluator init")
	}
	defer closeEval()

	search, err := mcts.New(mcts.Config{Simulations: *sims, Cpuct: float32(*cpuct)}, evaluator)
	if err != nil {
		logger.Fatal().Err(err).Msg("search init")
	}

	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		// Board games are not CSRF targets; allow browser clients from
		// anywhere.
		CheckOrigin: func(*http.Request) bool { return true },
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
	})
	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			logger.Warn().Err(err).Msg("upgrade")
			return
		}
		sess := &session{
			conn:   conn,
			search: search,
			outDir: *outDir,
			log:    logger.With().Str("remote", r.RemoteAddr).Logger(),
		}
		sess.log.Info().Msg("session started")
		// The handler blocks for the life of the connection; gorilla owns
		// the socket after the upgrade.
		sess.run(context.Background())
	})

	srv := &http.Server{
		Addr:              *listen,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	logger.Info().Str("listen", *listen).Msg("flux server up")
	if err := srv.ListenAndServe(); err != nil {
		logger.Fatal().Err(err).Msg("serve")
	}
}
