package loadgen

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/okian/openpotd/pkg/logger"
)

// File permission constants.
const (
	directoryPermission = 0750
	outputPermission    = 0600
)

// Run executes the complete load run against a season whose current
// problem has no solves yet.
func Run(ctx context.Context, config *Config) error {
	stats := &Stats{StartTime: time.Now()}
	log := logger.Get()

	log.Info(ctx, "starting openpotd load run",
		logger.String("baseURL", config.BaseURL),
		logger.Int64("season", config.SeasonID),
		logger.Int("users", config.Users),
		logger.Int("workers", config.Workers),
		logger.Duration("timeout", config.Timeout),
		logger.Int("topN", config.TopN))

	if err := checkServiceHealth(ctx, config); err != nil {
		return fmt.Errorf("service health check failed: %w", err)
	}

	scripts, err := generateScripts(ctx, config, stats)
	if err != nil {
		return fmt.Errorf("generation failed: %w", err)
	}

	if err := submitScripts(ctx, config, scripts, stats); err != nil {
		return fmt.Errorf("submission failed: %w", err)
	}
	if stats.Failed > 0 {
		return fmt.Errorf("%d submissions failed", stats.Failed)
	}

	if err := refreshSeason(ctx, config); err != nil {
		return err
	}

	rankings, err := getRankings(ctx, config, stats)
	if err != nil {
		return fmt.Errorf("ranking retrieval failed: %w", err)
	}

	expected := expectedRanking(scripts, config.Pool)
	if err := verifyRanking(expected, rankings); err != nil {
		return fmt.Errorf("ranking verification failed: %w", err)
	}
	if err := verifyScores(ctx, config, expected, stats); err != nil {
		return fmt.Errorf("score verification failed: %w", err)
	}

	if config.OutputFile != "" {
		if err := saveScripts(ctx, config.OutputFile, scripts); err != nil {
			log.Warn(ctx, "failed to save scripts", logger.Error(err))
		}
	}

	stats.EndTime = time.Now()
	stats.Duration = stats.EndTime.Sub(stats.StartTime)
	displayFinalStats(ctx, stats)

	log.Info(ctx, "load run completed successfully")
	return nil
}

// checkServiceHealth verifies the service is running.
func checkServiceHealth(ctx context.Context, config *Config) error {
	var stats map[string]interface{}
	if err := newHTTPClient(config.Timeout).Get(ctx, config.BaseURL+"/stats", &stats); err != nil {
		return fmt.Errorf("failed to connect to service: %w", err)
	}
	if started, _ := stats["started"].(bool); !started {
		return fmt.Errorf("service is not started")
	}
	logger.Get().Info(ctx, "service is healthy")
	return nil
}

// saveScripts writes the generated scripts as JSON.
func saveScripts(ctx context.Context, filename string, scripts []Script) error {
	if dir := filepath.Dir(filename); dir != "." {
		if err := os.MkdirAll(dir, directoryPermission); err != nil {
			return fmt.Errorf("failed to create directory: %w", err)
		}
	}
	data, err := json.MarshalIndent(scripts, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal scripts: %w", err)
	}
	if err := os.WriteFile(filename, data, outputPermission); err != nil {
		return fmt.Errorf("failed to write file: %w", err)
	}
	logger.Get().Info(ctx, "scripts saved to file", logger.String("filename", filename))
	return nil
}

// displayFinalStats logs the final run statistics.
func displayFinalStats(ctx context.Context, stats *Stats) {
	var successRate, perSecond float64
	if stats.Submitted > 0 {
		successRate = float64(stats.Submitted-stats.Failed) / float64(stats.Submitted) * PercentageMultiplier
	}
	if stats.Duration > 0 {
		perSecond = float64(stats.Submitted) / stats.Duration.Seconds()
	}

	logger.Get().Info(ctx, "final statistics",
		logger.Int("users", stats.UsersGenerated),
		logger.Int("submitted", stats.Submitted),
		logger.Int("correct", stats.Correct),
		logger.Int("incorrect", stats.Incorrect),
		logger.Int("duplicate", stats.Duplicate),
		logger.Int("failed", stats.Failed),
		logger.Int("rankingEntries", stats.RankingEntries),
		logger.Int("scoresVerified", stats.ScoresVerified),
		logger.Duration("duration", stats.Duration),
		logger.Float64("successRate", successRate),
		logger.Float64("submissionsPerSecond", perSecond))
}
