package loadgen

import (
	"context"
	"fmt"
	"math"
	"sort"

	"github.com/okian/openpotd/internal/domain/scoring"
	"github.com/okian/openpotd/pkg/logger"
)

// expectedRanking computes the ranking the server should report when the
// scripts are the only solves of the season: every user solves the same
// problem and splits the pool by attempt weight.
func expectedRanking(scripts []Script, pool float64) []Entry {
	if len(scripts) == 0 {
		return nil
	}
	weighted := 0.0
	for _, s := range scripts {
		weighted += scoring.Weight(s.Attempts())
	}
	base := pool / weighted

	out := make([]Entry, len(scripts))
	for i, s := range scripts {
		out[i] = Entry{UserID: s.UserID, Score: base * scoring.Weight(s.Attempts())}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].UserID < out[j].UserID
	})
	for i := range out {
		out[i].Rank = i + 1
	}
	return out
}

// verifyRanking compares the served ranking prefix with the expected one.
func verifyRanking(expected, got []Entry) error {
	if len(got) == 0 {
		return fmt.Errorf("empty ranking")
	}
	if len(got) > len(expected) {
		return fmt.Errorf("ranking has %d entries, expected at most %d", len(got), len(expected))
	}
	for i, e := range got {
		want := expected[i]
		if e.Rank != i+1 {
			return fmt.Errorf("entry %d has rank %d", i, e.Rank)
		}
		if i > 0 && e.Score > got[i-1].Score {
			return fmt.Errorf("ranking not sorted: entry %d outscores entry %d", i, i-1)
		}
		if math.Abs(e.Score-want.Score) > ScoreTolerance {
			return fmt.Errorf("rank %d: score %.6f, expected %.6f", e.Rank, e.Score, want.Score)
		}
		if e.UserID != want.UserID {
			return fmt.Errorf("rank %d: user %d, expected %d", e.Rank, e.UserID, want.UserID)
		}
	}
	return nil
}

// verifyScores spot-checks /score for the expected top users.
func verifyScores(ctx context.Context, config *Config, expected []Entry, stats *Stats) error {
	n := min(config.TopN, len(expected))
	for _, want := range expected[:n] {
		got, err := getScore(ctx, config, want.UserID)
		if err != nil {
			return fmt.Errorf("score of %d: %w", want.UserID, err)
		}
		if got.Rank != want.Rank || math.Abs(got.Score-want.Score) > ScoreTolerance {
			return fmt.Errorf("score of %d: got rank %d score %.6f, expected rank %d score %.6f",
				want.UserID, got.Rank, got.Score, want.Rank, want.Score)
		}
		stats.ScoresVerified++
	}
	logger.Get().Info(ctx, "scores verified", logger.Int("count", stats.ScoresVerified))
	return nil
}
