// Package postgres provides a PostgreSQL-backed repository.Store.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/okian/openpotd/internal/adapters/repository"
	"github.com/okian/openpotd/internal/domain/model"
)

// Store persists POTD state in PostgreSQL.
type Store struct {
	ledger
	pool *pgxpool.Pool
}

var (
	_ repository.Store       = (*Store)(nil)
	_ repository.Provisioner = (*Store)(nil)
)

// querier is implemented by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Open connects to the database at dsn and creates the schema if missing.
func Open(ctx context.Context, dsn string) (*Store, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, fmt.Errorf("postgres dsn is required")
	}
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns == 0 {
		cfg.MaxConns = 10
	}
	cfg.MaxConnLifetime = time.Hour
	cfg.MaxConnIdleTime = 30 * time.Minute
	cfg.HealthCheckPeriod = time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create postgres pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	if _, err := pool.Exec(ctx, schemaUp); err != nil {
		pool.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &Store{ledger: ledger{q: pool}, pool: pool}, nil
}

// Close closes the pool.
func (s *Store) Close() error {
	if s == nil || s.pool == nil {
		return nil
	}
	s.pool.Close()
	return nil
}

// InTx implements repository.Store with a read-committed transaction.
func (s *Store) InTx(ctx context.Context, fn func(ctx context.Context, tx repository.Ledger) error) error {
	return s.withTx(ctx, func(tx pgx.Tx) error {
		return fn(ctx, ledger{q: tx})
	})
}

func (s *Store) withTx(ctx context.Context, fn func(pgx.Tx) error) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted, AccessMode: pgx.ReadWrite})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(ctx); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
			return fmt.Errorf("tx error: %w, rollback error: %v", err, rbErr)
		}
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

// ledger implements repository.Ledger over the pool or a transaction.
type ledger struct {
	q querier
}

func (l ledger) HasSolve(ctx context.Context, userID, problemID int64) (bool, error) {
	var found bool
	err := l.q.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM solves WHERE user_id = $1 AND problem_id = $2)`,
		userID, problemID).Scan(&found)
	if err != nil {
		return false, fmt.Errorf("has solve: %w", err)
	}
	return found, nil
}

func (l ledger) CountAttempts(ctx context.Context, userID, problemID int64, official bool) (int, error) {
	var n int
	err := l.q.QueryRow(ctx,
		`SELECT COUNT(*) FROM attempts WHERE user_id = $1 AND problem_id = $2 AND official = $3`,
		userID, problemID, official).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count attempts: %w", err)
	}
	return n, nil
}

func (l ledger) InsertAttempt(ctx context.Context, a model.Attempt) error {
	var answer *int64
	if a.Answer.Valid {
		v := a.Answer.Value
		answer = &v
	}
	_, err := l.q.Exec(ctx,
		`INSERT INTO attempts (user_id, problem_id, official, answer, raw, submitted_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		a.UserID, a.ProblemID, a.Official, answer, a.Raw, a.SubmittedAt.UTC())
	if err != nil {
		return fmt.Errorf("insert attempt: %w", err)
	}
	return nil
}

func (l ledger) InsertSolve(ctx context.Context, sv model.Solve) error {
	// ON CONFLICT keeps the surrounding transaction usable after a lost race.
	tag, err := l.q.Exec(ctx,
		`INSERT INTO solves (user_id, problem_id, attempts, official, solved_at)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (user_id, problem_id) DO NOTHING`,
		sv.UserID, sv.ProblemID, sv.Attempts, sv.Official, sv.SolvedAt.UTC())
	if err != nil {
		if isUniqueViolation(err) {
			return repository.ErrAlreadySolved
		}
		return fmt.Errorf("insert solve: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrAlreadySolved
	}
	return nil
}

func scanSeason(row pgx.Row) (model.Season, error) {
	var (
		season  model.Season
		current *int64
	)
	if err := row.Scan(&season.ID, &season.Name, &season.Running, &current); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Season{}, repository.ErrNotFound
		}
		return model.Season{}, fmt.Errorf("get season: %w", err)
	}
	if current != nil {
		season.CurrentProblemID = *current
	}
	return season, nil
}

// RunningSeason implements repository.Store.
func (s *Store) RunningSeason(ctx context.Context) (model.Season, error) {
	return scanSeason(s.pool.QueryRow(ctx,
		`SELECT id, name, running, current_problem_id FROM seasons WHERE running ORDER BY id LIMIT 1`))
}

// GetSeason implements repository.Store.
func (s *Store) GetSeason(ctx context.Context, seasonID int64) (model.Season, error) {
	return scanSeason(s.pool.QueryRow(ctx,
		`SELECT id, name, running, current_problem_id FROM seasons WHERE id = $1`, seasonID))
}

// CurrentProblem implements repository.Store.
func (s *Store) CurrentProblem(ctx context.Context, seasonID int64) (int64, error) {
	season, err := s.GetSeason(ctx, seasonID)
	if err != nil {
		return 0, err
	}
	if !season.HasCurrentProblem() {
		return 0, repository.ErrNotFound
	}
	return season.CurrentProblemID, nil
}

const problemColumns = `id, season_id, answer, difficulty, date, public, point_pool, weighted_solves, base_points`

func scanProblem(row pgx.Row) (model.Problem, error) {
	var (
		p    model.Problem
		date *time.Time
	)
	err := row.Scan(&p.ID, &p.SeasonID, &p.Answer, &p.Difficulty, &date, &p.Public,
		&p.PointPool, &p.WeightedSolves, &p.BasePoints)
	if err != nil {
		return model.Problem{}, err
	}
	if date != nil {
		p.Date = date.UTC()
	}
	return p, nil
}

// GetProblem implements repository.Store.
func (s *Store) GetProblem(ctx context.Context, problemID int64) (model.Problem, error) {
	p, err := scanProblem(s.pool.QueryRow(ctx,
		`SELECT `+problemColumns+` FROM problems WHERE id = $1`, problemID))
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Problem{}, repository.ErrNotFound
	}
	if err != nil {
		return model.Problem{}, fmt.Errorf("get problem: %w", err)
	}
	return p, nil
}

// PublicProblemByDate implements repository.Store.
func (s *Store) PublicProblemByDate(ctx context.Context, date time.Time) (model.Problem, error) {
	day := model.Day(date)
	p, err := scanProblem(s.pool.QueryRow(ctx,
		`SELECT `+problemColumns+` FROM problems
		 WHERE public AND date >= $1 AND date < $2 ORDER BY id LIMIT 1`,
		day, day.AddDate(0, 0, 1)))
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Problem{}, repository.ErrNotFound
	}
	if err != nil {
		return model.Problem{}, fmt.Errorf("get problem by date: %w", err)
	}
	return p, nil
}

// ListSeasonProblems implements repository.Store.
func (s *Store) ListSeasonProblems(ctx context.Context, seasonID int64) ([]model.Problem, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+problemColumns+` FROM problems WHERE season_id = $1 ORDER BY id`, seasonID)
	if err != nil {
		return nil, fmt.Errorf("list problems: %w", err)
	}
	defer rows.Close()

	var out []model.Problem
	for rows.Next() {
		p, err := scanProblem(rows)
		if err != nil {
			return nil, fmt.Errorf("scan problem: %w", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate problems: %w", err)
	}
	return out, nil
}

// SetProblemDerivedFields implements repository.Store.
func (s *Store) SetProblemDerivedFields(ctx context.Context, problemID int64, weightedSolves, basePoints float64) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE problems SET weighted_solves = $1, base_points = $2 WHERE id = $3`,
		weightedSolves, basePoints, problemID)
	if err != nil {
		return fmt.Errorf("set derived fields: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// ListOfficialSolves implements repository.Store.
func (s *Store) ListOfficialSolves(ctx context.Context, problemID int64) ([]model.Solve, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT user_id, problem_id, attempts, solved_at FROM solves
		 WHERE problem_id = $1 AND official ORDER BY user_id`, problemID)
	if err != nil {
		return nil, fmt.Errorf("list official solves: %w", err)
	}
	defer rows.Close()

	var out []model.Solve
	for rows.Next() {
		sv := model.Solve{Official: true}
		if err := rows.Scan(&sv.UserID, &sv.ProblemID, &sv.Attempts, &sv.SolvedAt); err != nil {
			return nil, fmt.Errorf("scan solve: %w", err)
		}
		sv.SolvedAt = sv.SolvedAt.UTC()
		out = append(out, sv)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate solves: %w", err)
	}
	return out, nil
}

// CountSolves implements repository.Store.
func (s *Store) CountSolves(ctx context.Context, problemID int64, official bool) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM solves WHERE problem_id = $1 AND official = $2`,
		problemID, official).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count solves: %w", err)
	}
	return n, nil
}

// RegisterUser implements repository.Store.
func (s *Store) RegisterUser(ctx context.Context, seasonID, userID int64) error {
	if _, err := s.GetSeason(ctx, seasonID); err != nil {
		return err
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO rankings (season_id, user_id, rank, score) VALUES ($1, $2, 0, 0)
		 ON CONFLICT (season_id, user_id) DO NOTHING`, seasonID, userID)
	if err != nil {
		return fmt.Errorf("register user: %w", err)
	}
	return nil
}

// ListRegisteredUsers implements repository.Store.
func (s *Store) ListRegisteredUsers(ctx context.Context, seasonID int64) ([]int64, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT user_id FROM rankings WHERE season_id = $1 ORDER BY user_id`, seasonID)
	if err != nil {
		return nil, fmt.Errorf("list registered users: %w", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[int64])
	if err != nil {
		return nil, fmt.Errorf("collect user ids: %w", err)
	}
	if ids == nil {
		ids = []int64{}
	}
	return ids, nil
}

// SetRankings implements repository.Store. Rows of unregistered users are ignored.
func (s *Store) SetRankings(ctx context.Context, seasonID int64, rankings []model.Ranking) error {
	return s.withTx(ctx, func(tx pgx.Tx) error {
		batch := &pgx.Batch{}
		for _, r := range rankings {
			batch.Queue(`UPDATE rankings SET rank = $1, score = $2 WHERE season_id = $3 AND user_id = $4`,
				r.Rank, r.Score, seasonID, r.UserID)
		}
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("set rankings: %w", err)
		}
		return nil
	})
}

// ListRankings implements repository.Store.
func (s *Store) ListRankings(ctx context.Context, seasonID int64) ([]model.Ranking, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT season_id, user_id, rank, score FROM rankings
		 WHERE season_id = $1 ORDER BY rank = 0, rank, user_id`, seasonID)
	if err != nil {
		return nil, fmt.Errorf("list rankings: %w", err)
	}
	defer rows.Close()

	out := []model.Ranking{}
	for rows.Next() {
		var r model.Ranking
		if err := rows.Scan(&r.SeasonID, &r.UserID, &r.Rank, &r.Score); err != nil {
			return nil, fmt.Errorf("scan ranking: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rankings: %w", err)
	}
	return out, nil
}

// GetRanking implements repository.Store.
func (s *Store) GetRanking(ctx context.Context, seasonID, userID int64) (model.Ranking, error) {
	var r model.Ranking
	err := s.pool.QueryRow(ctx,
		`SELECT season_id, user_id, rank, score FROM rankings WHERE season_id = $1 AND user_id = $2`,
		seasonID, userID).Scan(&r.SeasonID, &r.UserID, &r.Rank, &r.Score)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Ranking{}, repository.ErrNotFound
	}
	if err != nil {
		return model.Ranking{}, fmt.Errorf("get ranking: %w", err)
	}
	return r, nil
}

// EnsureUser implements repository.Store.
func (s *Store) EnsureUser(ctx context.Context, u model.User) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO users (id, nickname, anonymous) VALUES ($1, $2, $3)
		 ON CONFLICT (id) DO NOTHING`, u.ID, u.Nickname, u.Anonymous)
	if err != nil {
		return fmt.Errorf("ensure user: %w", err)
	}
	return nil
}

// GetUser implements repository.Store.
func (s *Store) GetUser(ctx context.Context, userID int64) (model.User, error) {
	var u model.User
	err := s.pool.QueryRow(ctx,
		`SELECT id, nickname, anonymous FROM users WHERE id = $1`, userID).Scan(&u.ID, &u.Nickname, &u.Anonymous)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.User{}, repository.ErrNotFound
	}
	if err != nil {
		return model.User{}, fmt.Errorf("get user: %w", err)
	}
	return u, nil
}

// SetNickname implements repository.Store.
func (s *Store) SetNickname(ctx context.Context, userID int64, nickname string) error {
	tag, err := s.pool.Exec(ctx, `UPDATE users SET nickname = $1 WHERE id = $2`, nickname, userID)
	if err != nil {
		return fmt.Errorf("set nickname: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// ToggleAnonymous implements repository.Store.
func (s *Store) ToggleAnonymous(ctx context.Context, userID int64) (bool, error) {
	var anon bool
	err := s.pool.QueryRow(ctx,
		`UPDATE users SET anonymous = NOT anonymous WHERE id = $1 RETURNING anonymous`, userID).Scan(&anon)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, repository.ErrNotFound
	}
	if err != nil {
		return false, fmt.Errorf("toggle anonymous: %w", err)
	}
	return anon, nil
}

// UpsertSeason implements repository.Provisioner.
func (s *Store) UpsertSeason(ctx context.Context, season model.Season) error {
	var current *int64
	if season.HasCurrentProblem() {
		id := season.CurrentProblemID
		current = &id
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO seasons (id, name, running, current_problem_id) VALUES ($1, $2, $3, $4)
		 ON CONFLICT (id) DO UPDATE SET
		   name = EXCLUDED.name,
		   running = EXCLUDED.running,
		   current_problem_id = EXCLUDED.current_problem_id`,
		season.ID, season.Name, season.Running, current)
	if err != nil {
		return fmt.Errorf("upsert season: %w", err)
	}
	return nil
}

// UpsertProblem implements repository.Provisioner. Derived fields of an
// existing problem are preserved.
func (s *Store) UpsertProblem(ctx context.Context, p model.Problem) error {
	var date *time.Time
	if !p.Date.IsZero() {
		d := p.Date.UTC()
		date = &d
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO problems (id, season_id, answer, difficulty, date, public, point_pool)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (id) DO UPDATE SET
		   season_id = EXCLUDED.season_id,
		   answer = EXCLUDED.answer,
		   difficulty = EXCLUDED.difficulty,
		   date = EXCLUDED.date,
		   public = EXCLUDED.public,
		   point_pool = EXCLUDED.point_pool`,
		p.ID, p.SeasonID, p.Answer, p.Difficulty, date, p.Public, p.PointPool)
	if err != nil {
		return fmt.Errorf("upsert problem: %w", err)
	}
	return nil
}
