package service

import (
	"context"
	"fmt"
	"time"

	"github.com/okian/openpotd/internal/adapters/repository"
	"github.com/okian/openpotd/internal/adapters/repository/postgres"
	"github.com/okian/openpotd/internal/adapters/repository/sqlite"
	"github.com/okian/openpotd/internal/config"
	"github.com/okian/openpotd/internal/domain/model"
)

// Backend is a store that can also be provisioned.
type Backend interface {
	repository.Store
	repository.Provisioner
}

// OpenStore opens the backend selected by cfg.Store.
func OpenStore(ctx context.Context, cfg *config.Config) (Backend, error) {
	switch cfg.Store {
	case config.StoreSQLite:
		s, err := sqlite.Open(ctx, cfg.SQLitePath)
		if err != nil {
			return nil, fmt.Errorf("open sqlite store: %w", err)
		}
		return s, nil
	case config.StorePostgres:
		s, err := postgres.Open(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, fmt.Errorf("open postgres store: %w", err)
		}
		return s, nil
	case config.StoreMemory, "":
		return repository.NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("%w: unknown store %q", config.ErrInvalidConfig, cfg.Store)
	}
}

// applySeed upserts seed data. Seasons are written before their problems and
// pointed at their current problem afterwards.
func applySeed(ctx context.Context, p repository.Provisioner, seed config.Seed) error {
	for _, ss := range seed.Seasons {
		season := model.Season{ID: ss.ID, Name: ss.Name, Running: ss.Running}
		if err := p.UpsertSeason(ctx, season); err != nil {
			return fmt.Errorf("seed season %d: %w", ss.ID, err)
		}
	}
	for _, sp := range seed.Problems {
		problem := model.Problem{
			ID:         sp.ID,
			SeasonID:   sp.SeasonID,
			Answer:     sp.Answer,
			Difficulty: sp.Difficulty,
			Public:     sp.Public,
			PointPool:  sp.PointPool,
		}
		if sp.Date != "" {
			d, err := time.Parse(model.DateLayout, sp.Date)
			if err != nil {
				return fmt.Errorf("%w: problem %d date %q", ErrInvalidSeed, sp.ID, sp.Date)
			}
			problem.Date = d
		}
		if err := p.UpsertProblem(ctx, problem); err != nil {
			return fmt.Errorf("seed problem %d: %w", sp.ID, err)
		}
	}
	for _, ss := range seed.Seasons {
		if ss.CurrentProblemID == 0 {
			continue
		}
		season := model.Season{ID: ss.ID, Name: ss.Name, Running: ss.Running, CurrentProblemID: ss.CurrentProblemID}
		if err := p.UpsertSeason(ctx, season); err != nil {
			return fmt.Errorf("seed season %d: %w", ss.ID, err)
		}
	}
	return nil
}
