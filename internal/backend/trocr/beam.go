package trocr

import (
	"context"
	"errors"
	"fmt"
	"math"
)

// Stepper produces next-token logits for a batch of equal-length token
// sequences, one row per sequence.
type Stepper interface {
	Step(ctx context.Context, sequences [][]int64) ([][]float32, error)
}

type SearchConfig struct {
	NumBeams  int
	MaxLength int
	// LengthPenalty is the exponent applied to the hypothesis length when
	// ranking finished sequences.
	LengthPenalty float64
	StartToken    int64
	EOSToken      int64
}

type hypothesis struct {
	tokens []int64
	score  float64
	// length excludes the trailing EOS.
	length int
}

type candidate struct {
	beam  int
	token int64
	score float64
}

// BeamSearch decodes from StartToken until NumBeams hypotheses have finished
// or MaxLength tokens (including the start token) have been produced.
func BeamSearch(ctx context.Context, s Stepper, cfg SearchConfig) ([]int64, error) {
	if cfg.NumBeams < 1 {
		cfg.NumBeams = 1
	}
	if cfg.MaxLength < 2 {
		return nil, fmt.Errorf("max length %d leaves no room to generate", cfg.MaxLength)
	}

	live := []hypothesis{{tokens: []int64{cfg.StartToken}, length: 1}}
	var finished []hypothesis

	for len(live) > 0 && len(live[0].tokens) < cfg.MaxLength {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		seqs := make([][]int64, len(live))
		for i, h := range live {
			seqs[i] = h.tokens
		}
		logits, err := s.Step(ctx, seqs)
		if err != nil {
			return nil, fmt.Errorf("decoder step: %w", err)
		}
		if len(logits) != len(live) {
			return nil, fmt.Errorf("decoder returned %d rows for %d beams", len(logits), len(live))
		}

		next := make([]hypothesis, 0, cfg.NumBeams)
		for rank, c := range topCandidates(live, logits, 2*cfg.NumBeams) {
			parent := live[c.beam]
			if c.token == cfg.EOSToken {
				// EOS only counts when it would have made the beam cut.
				if rank < cfg.NumBeams {
					finished = addFinished(finished, hypothesis{
						tokens: appendToken(parent.tokens, c.token),
						score:  c.score,
						length: len(parent.tokens),
					}, cfg)
				}
				continue
			}
			next = append(next, hypothesis{
				tokens: appendToken(parent.tokens, c.token),
				score:  c.score,
				length: len(parent.tokens) + 1,
			})
			if len(next) == cfg.NumBeams {
				break
			}
		}
		live = next
		if searchDone(finished, live, cfg) {
			live = nil
		}
	}

	for _, h := range live {
		finished = addFinished(finished, h, cfg)
	}
	if len(finished) == 0 {
		return nil, errors.New("beam search produced no hypothesis")
	}
	return finished[0].tokens, nil
}

func normalized(score float64, length int, penalty float64) float64 {
	return score / math.Pow(float64(length), penalty)
}

// addFinished keeps at most NumBeams hypotheses sorted best first.
func addFinished(finished []hypothesis, h hypothesis, cfg SearchConfig) []hypothesis {
	s := normalized(h.score, h.length, cfg.LengthPenalty)
	i := len(finished)
	for i > 0 && normalized(finished[i-1].score, finished[i-1].length, cfg.LengthPenalty) < s {
		i--
	}
	if i >= cfg.NumBeams {
		return finished
	}
	finished = append(finished, hypothesis{})
	copy(finished[i+1:], finished[i:])
	finished[i] = h
	if len(finished) > cfg.NumBeams {
		finished = finished[:cfg.NumBeams]
	}
	return finished
}

// searchDone stops as soon as NumBeams hypotheses have finished, even if a
// live beam could still outscore them after length normalization.
func searchDone(finished, live []hypothesis, cfg SearchConfig) bool {
	return len(live) == 0 || len(finished) >= cfg.NumBeams
}

// topCandidates returns the k best (beam, token) extensions by cumulative
// log-probability, best first.
func topCandidates(live []hypothesis, logits [][]float32, k int) []candidate {
	top := make([]candidate, 0, k+1)
	for b, row := range logits {
		logProbs := logSoftmax(row)
		for tok, lp := range logProbs {
			score := live[b].score + lp
			if math.IsInf(score, -1) || math.IsNaN(score) {
				continue
			}
			if len(top) == k && score <= top[k-1].score {
				continue
			}
			i := len(top)
			for i > 0 && top[i-1].score < score {
				i--
			}
			top = append(top, candidate{})
			copy(top[i+1:], top[i:])
			top[i] = candidate{beam: b, token: int64(tok), score: score}
			if len(top) > k {
				top = top[:k]
			}
		}
	}
	return top
}

func logSoftmax(row []float32) []float64 {
	out := make([]float64, len(row))
	maxV := math.Inf(-1)
	for _, v := range row {
		if float64(v) > maxV {
			maxV = float64(v)
		}
	}
	var sum float64
	for _, v := range row {
		sum += math.Exp(float64(v) - maxV)
	}
	logSum := maxV + math.Log(sum)
	for i, v := range row {
		out[i] = float64(v) - logSum
	}
	return out
}

func appendToken(tokens []int64, t int64) []int64 {
	out := make([]int64, len(tokens)+1)
	copy(out, tokens)
	out[len(tokens)] = t
	return out
}
