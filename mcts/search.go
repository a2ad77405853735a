package mcts

import (
	"context"
	"fmt"
	"math"

	"github.com/kuyoku/flux/game"
	"github.com/kuyoku/flux/rules"
)

// Drained cells can re-open, so Flux positions may repeat. A descent that
// runs this deep without reaching a leaf is scored as a draw.
const maxDescentDepth = 512

// tree is the per-decision arena, keyed by canonical-state fingerprint.
type tree struct {
	s     *Search
	nodes map[uint64]*node
}

// GetActionProb runs the configured number of simulations from the given
// state and returns the visit-count distribution over the full action space.
// Illegal actions carry probability 0.
//
// The board is canonicalized internally; callers pass the real board and the
// player to move. With temperature 0 the result is one-hot on the most
// visited action (lowest index on ties); otherwise counts are raised to
// 1/temperature before normalizing.
func (s *Search) GetActionProb(ctx context.Context, b game.Board, player game.Player, temperature float64) ([]float64, error) {
	root := rules.Canonicalize(b, player)
	if _, terminal := rules.Result(&root, game.White); terminal {
		return nil, ErrTerminalRoot
	}

	t := &tree{s: s, nodes: make(map[uint64]*node, s.cfg.Simulations+1)}

	// Expand the root up front so every simulation visits at least one
	// root action.
	rootNode, _, err := t.expand(&root)
	if err != nil {
		return nil, err
	}
	t.nodes[root.Fingerprint()] = rootNode

	for i := 0; i < s.cfg.Simulations; i++ {
		if ctx != nil {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			default:
			}
		}
		if _, err := t.simulate(root, 0); err != nil {
			return nil, err
		}
	}

	return rootDistribution(rootNode, temperature), nil
}

// simulate runs one playout from the canonical board b and returns the
// backed-up value from the perspective of the player to move at b.
func (t *tree) simulate(b game.Board, depth int) (float32, error) {
	if depth >= maxDescentDepth {
		return 0, nil
	}

	key := b.Fingerprint()
	n, ok := t.nodes[key]
	if !ok {
		if outcome, terminal := rules.Result(&b, game.White); terminal {
			t.nodes[key] = &node{terminal: true, outcome: outcome}
			return float32(outcome), nil
		}
		n, value, err := t.expand(&b)
		if err != nil {
			return 0, err
		}
		t.nodes[key] = n
		return value, nil
	}
	if n.terminal {
		return float32(n.outcome), nil
	}

	action := selectAction(n, t.s.cfg.Cpuct)
	next, nextPlayer, err := rules.ApplyMove(b, game.White, action)
	if err != nil {
		// The mask said this action was legal; a transition failure here is
		// a game-model contract violation and must surface.
		return 0, fmt.Errorf("mcts: selected action rejected by game model: %w", err)
	}

	value, err := t.simulate(rules.Canonicalize(next, nextPlayer), depth+1)
	if err != nil {
		return 0, err
	}
	if nextPlayer != game.White {
		value = -value
	}

	n.visits[action]++
	n.values[action] += value
	n.total++
	return value, nil
}

// expand evaluates a non-terminal canonical board and builds its node: the
// evaluator's policy masked to legal actions and renormalized, falling back
// to uniform when the legal mass is zero.
func (t *tree) expand(b *game.Board) (*node, float32, error) {
	policy, value, err := t.s.eval.Evaluate(b)
	if err != nil {
		return nil, 0, &EvaluatorError{Err: err}
	}
	if len(policy) != game.CellCount {
		return nil, 0, &EvaluatorError{Err: fmt.Errorf("policy has %d entries, want %d", len(policy), game.CellCount)}
	}
	if v := float64(value); math.IsNaN(v) || math.IsInf(v, 0) {
		return nil, 0, &EvaluatorError{Err: fmt.Errorf("value is %v", value)}
	}
	if value > 1 {
		value = 1
	} else if value < -1 {
		value = -1
	}

	n := &node{legal: rules.LegalMask(b, game.White)}
	sum := float32(0)
	for a, ok := range n.legal {
		if !ok {
			continue
		}
		p := policy[a]
		if math.IsNaN(float64(p)) || p < 0 {
			return nil, 0, &EvaluatorError{Err: fmt.Errorf("prior for action %d is %v", a, p)}
		}
		n.priors[a] = p
		sum += p
		n.nLegal++
	}
	if sum > 0 {
		inv := 1 / sum
		for a := range n.priors {
			n.priors[a] *= inv
		}
	} else {
		// All legal priors are zero (or the policy missed every legal
		// action). Spread the mass uniformly instead of dividing by zero.
		uniform := 1 / float32(n.nLegal)
		for a, ok := range n.legal {
			if ok {
				n.priors[a] = uniform
			}
		}
	}
	return n, value, nil
}

// selectAction picks the legal action maximizing
// Q(a) + cpuct * P(a) * sqrt(sum_b N(b)) / (1 + N(a)),
// breaking ties by lowest index. Q is 0 for unvisited actions.
func selectAction(n *node, cpuct float32) int {
	sqrtTotal := float32(math.Sqrt(float64(n.total)))
	best := -1
	bestScore := float32(math.Inf(-1))
	for a := 0; a < game.CellCount; a++ {
		if !n.legal[a] {
			continue
		}
		q := float32(0)
		if n.visits[a] > 0 {
			q = n.values[a] / float32(n.visits[a])
		}
		u := q + cpuct*n.priors[a]*sqrtTotal/(1+float32(n.visits[a]))
		if u > bestScore {
			bestScore = u
			best = a
		}
	}
	return best
}

// rootDistribution converts root visit counts into the returned action
// distribution. Zero total visits falls back to uniform over legal actions.
func rootDistribution(n *node, temperature float64) []float64 {
	probs := make([]float64, game.CellCount)

	var total int64
	for a := range n.visits {
		total += int64(n.visits[a])
	}
	if total == 0 {
		uniform := 1 / float64(n.nLegal)
		for a, ok := range n.legal {
			if ok {
				probs[a] = uniform
			}
		}
		return probs
	}

	if temperature == 0 {
		best := 0
		for a := 1; a < game.CellCount; a++ {
			if n.visits[a] > n.visits[best] {
				best = a
			}
		}
		probs[best] = 1
		return probs
	}

	sum := 0.0
	for a := range n.visits {
		if n.visits[a] == 0 {
			continue
		}
		probs[a] = math.Pow(float64(n.visits[a]), 1/temperature)
		sum += probs[a]
	}
	for a := range probs {
		probs[a] /= sum
	}
	return probs
}

// BestAction returns the most probable action, lowest index on ties.
func BestAction(probs []float64) int {
	best := 0
	for a := 1; a < len(probs); a++ {
		if probs[a] > probs[best] {
			best = a
		}
	}
	return best
}
