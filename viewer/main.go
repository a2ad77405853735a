// Command viewer serves a JSON API over the parquet game archives so
// finished games can be listed and replayed turn by turn.
package main

import (
	"encoding/json"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/kuyoku/flux/archive"
	"github.com/kuyoku/flux/logging"
)

type GameSummary struct {
	GameID       string  `json:"game_id"`
	Turns        int64   `json:"turns"`
	Source       string  `json:"source"`
	WhiteOutcome float64 `json:"white_outcome"`
	File         string  `json:"file"`
}

type TurnView struct {
	Turn   int32   `json:"turn"`
	Player int32   `json:"player"`
	Board  []int8  `json:"board"`
	Action int32   `json:"action"`
	Value  float32 `json:"value"`
}

type GameView struct {
	GameID string     `json:"game_id"`
	Turns  []TurnView `json:"turns"`
}

func handleGames(cache *DBCache) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		db, err := cache.Get()
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}

		// Every row's value is the white outcome times the mover's sign, so
		// any single row recovers the game result.
		rows, err := db.QueryContext(r.Context(), `
			SELECT game_id,
			       count(*) AS turns,
			       first(source) AS source,
			       first(value * player) AS white_outcome,
			       first(filename) AS file
			FROM turns
			GROUP BY game_id
			ORDER BY file DESC, game_id`)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		defer rows.Close()

		games := make([]GameSummary, 0, 64)
		for rows.Next() {
			var g GameSummary
			if err := rows.Scan(&g.GameID, &g.Turns, &g.Source, &g.WhiteOutcome, &g.File); err != nil {
				http.Error(w, err.Error(), http.StatusInternalServerError)
				return
			}
			games = append(games, g)
		}
		if err := rows.Err(); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(games)
	}
}

func handleGame(cache *DBCache) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		gameID := r.URL.Query().Get("id")
		if gameID == "" {
			http.Error(w, "missing id", http.StatusBadRequest)
			return
		}

		db, err := cache.Get()
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}

		rows, err := db.QueryContext(r.Context(), `
			SELECT turn, player, board, action, value
			FROM turns
			WHERE game_id = ?
			ORDER BY turn`, gameID)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		defer rows.Close()

		view := GameView{GameID: gameID, Turns: make([]TurnView, 0, 64)}
		for rows.Next() {
			var t TurnView
			var raw []byte
			if err := rows.Scan(&t.Turn, &t.Player, &raw, &t.Action, &t.Value); err != nil {
				http.Error(w, err.Error(), http.StatusInternalServerError)
				return
			}
			board, err := archive.BoardFromBytes(raw)
			if err != nil {
				http.Error(w, err.Error(), http.StatusInternalServerError)
				return
			}
			t.Board = board[:]
			view.Turns = append(view.Turns, t)
		}
		if err := rows.Err(); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		if len(view.Turns) == 0 {
			http.Error(w, "game not found", http.StatusNotFound)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(view)
	}
}

func main() {
	listen := flag.String("listen", ":8090", "HTTP listen address")
	data := flag.String("data", "data/games", "Comma-separated archive directories")
	refresh := flag.Duration("refresh", 30*time.Second, "How often to rescan for new parquet batches")
	flag.Parse()

	slog.SetDefault(slog.New(logging.NewPrettyJSONHandler(os.Stderr, nil)))

	roots := strings.Split(*data, ",")
	cache := NewDBCache(roots, *refresh)
	defer cache.Close()

	mux := http.NewServeMux()
	mux.HandleFunc("/api/games", handleGames(cache))
	mux.HandleFunc("/api/game", handleGame(cache))

	srv := &http.Server{
		Addr:              *listen,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	slog.Info("viewer up", "listen", *listen, "roots", roots)
	if err := srv.ListenAndServe(); err != nil {
		slog.Error("serve", "err", err.Error())
		os.Exit(1)
	}
}
