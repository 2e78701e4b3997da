// Package sqlite provides a SQLite-backed repository.Store.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/okian/openpotd/internal/adapters/repository"
	"github.com/okian/openpotd/internal/adapters/repository/sqlite/migrations"
	"github.com/okian/openpotd/internal/domain/model"
	msqlite "modernc.org/sqlite"
	sqlite3lib "modernc.org/sqlite/lib"
)

// Store persists POTD state in SQLite.
type Store struct {
	ledger
	sqlDB *sql.DB
}

var (
	_ repository.Store       = (*Store)(nil)
	_ repository.Provisioner = (*Store)(nil)
)

// queryer is satisfied by both *sql.DB and *sql.Tx.
type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func toMillis(value time.Time) int64 {
	if value.IsZero() {
		return 0
	}
	return value.UTC().UnixMilli()
}

func fromMillis(value int64) time.Time {
	if value == 0 {
		return time.Time{}
	}
	return time.UnixMilli(value).UTC()
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// Open opens a SQLite store at path and applies embedded migrations.
// Write transactions take the database lock up front.
func Open(ctx context.Context, path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	dsn := filepath.Clean(path) +
		"?_pragma=foreign_keys(ON)&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_txlock=immediate"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if err := applyMigrations(ctx, sqlDB, migrations.FS); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return &Store{ledger: ledger{q: sqlDB}, sqlDB: sqlDB}, nil
}

// Close closes the SQLite handle.
func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

// InTx implements repository.Store.
func (s *Store) InTx(ctx context.Context, fn func(ctx context.Context, tx repository.Ledger) error) error {
	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(ctx, ledger{q: tx}); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// ledger implements repository.Ledger over a DB or a transaction.
type ledger struct {
	q queryer
}

func (l ledger) HasSolve(ctx context.Context, userID, problemID int64) (bool, error) {
	var found int
	err := l.q.QueryRowContext(ctx,
		`SELECT 1 FROM solves WHERE user_id = ? AND problem_id = ?`, userID, problemID,
	).Scan(&found)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("has solve: %w", err)
	}
	return true, nil
}

func (l ledger) CountAttempts(ctx context.Context, userID, problemID int64, official bool) (int, error) {
	var n int
	err := l.q.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM attempts WHERE user_id = ? AND problem_id = ? AND official = ?`,
		userID, problemID, boolInt(official),
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count attempts: %w", err)
	}
	return n, nil
}

func (l ledger) InsertAttempt(ctx context.Context, a model.Attempt) error {
	var answer sql.NullInt64
	if a.Answer.Valid {
		answer = sql.NullInt64{Int64: a.Answer.Value, Valid: true}
	}
	_, err := l.q.ExecContext(ctx,
		`INSERT INTO attempts (user_id, problem_id, official, answer, raw, submitted_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		a.UserID, a.ProblemID, boolInt(a.Official), answer, a.Raw, toMillis(a.SubmittedAt),
	)
	if err != nil {
		return fmt.Errorf("insert attempt: %w", err)
	}
	return nil
}

func (l ledger) InsertSolve(ctx context.Context, sv model.Solve) error {
	_, err := l.q.ExecContext(ctx,
		`INSERT INTO solves (user_id, problem_id, attempts, official, solved_at)
		 VALUES (?, ?, ?, ?, ?)`,
		sv.UserID, sv.ProblemID, sv.Attempts, boolInt(sv.Official), toMillis(sv.SolvedAt),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return repository.ErrAlreadySolved
		}
		return fmt.Errorf("insert solve: %w", err)
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var sqliteErr *msqlite.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code() {
		case sqlite3lib.SQLITE_CONSTRAINT_PRIMARYKEY, sqlite3lib.SQLITE_CONSTRAINT_UNIQUE:
			return true
		}
	}
	return strings.Contains(strings.ToLower(err.Error()), "unique constraint failed")
}

// RunningSeason implements repository.Store.
func (s *Store) RunningSeason(ctx context.Context) (model.Season, error) {
	return s.scanSeason(s.sqlDB.QueryRowContext(ctx,
		`SELECT id, name, running, current_problem_id FROM seasons WHERE running = 1 ORDER BY id LIMIT 1`))
}

// GetSeason implements repository.Store.
func (s *Store) GetSeason(ctx context.Context, seasonID int64) (model.Season, error) {
	return s.scanSeason(s.sqlDB.QueryRowContext(ctx,
		`SELECT id, name, running, current_problem_id FROM seasons WHERE id = ?`, seasonID))
}

func (s *Store) scanSeason(row *sql.Row) (model.Season, error) {
	var (
		season  model.Season
		running int
		current sql.NullInt64
	)
	if err := row.Scan(&season.ID, &season.Name, &running, &current); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Season{}, repository.ErrNotFound
		}
		return model.Season{}, fmt.Errorf("get season: %w", err)
	}
	season.Running = running != 0
	season.CurrentProblemID = current.Int64
	return season, nil
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

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProblem(row rowScanner) (model.Problem, error) {
	var (
		p      model.Problem
		date   int64
		public int
	)
	err := row.Scan(&p.ID, &p.SeasonID, &p.Answer, &p.Difficulty, &date, &public,
		&p.PointPool, &p.WeightedSolves, &p.BasePoints)
	if err != nil {
		return model.Problem{}, err
	}
	p.Date = fromMillis(date)
	p.Public = public != 0
	return p, nil
}

// GetProblem implements repository.Store.
func (s *Store) GetProblem(ctx context.Context, problemID int64) (model.Problem, error) {
	p, err := scanProblem(s.sqlDB.QueryRowContext(ctx,
		`SELECT `+problemColumns+` FROM problems WHERE id = ?`, problemID))
	if errors.Is(err, sql.ErrNoRows) {
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
	p, err := scanProblem(s.sqlDB.QueryRowContext(ctx,
		`SELECT `+problemColumns+` FROM problems
		 WHERE public = 1 AND date >= ? AND date < ? ORDER BY id LIMIT 1`,
		toMillis(day), toMillis(day.AddDate(0, 0, 1))))
	if errors.Is(err, sql.ErrNoRows) {
		return model.Problem{}, repository.ErrNotFound
	}
	if err != nil {
		return model.Problem{}, fmt.Errorf("get problem by date: %w", err)
	}
	return p, nil
}

// ListSeasonProblems implements repository.Store.
func (s *Store) ListSeasonProblems(ctx context.Context, seasonID int64) ([]model.Problem, error) {
	rows, err := s.sqlDB.QueryContext(ctx,
		`SELECT `+problemColumns+` FROM problems WHERE season_id = ? ORDER BY id`, seasonID)
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
	res, err := s.sqlDB.ExecContext(ctx,
		`UPDATE problems SET weighted_solves = ?, base_points = ? WHERE id = ?`,
		weightedSolves, basePoints, problemID)
	if err != nil {
		return fmt.Errorf("set derived fields: %w", err)
	}
	return requireRow(res)
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// ListOfficialSolves implements repository.Store.
func (s *Store) ListOfficialSolves(ctx context.Context, problemID int64) ([]model.Solve, error) {
	rows, err := s.sqlDB.QueryContext(ctx,
		`SELECT user_id, problem_id, attempts, solved_at FROM solves
		 WHERE problem_id = ? AND official = 1 ORDER BY user_id`, problemID)
	if err != nil {
		return nil, fmt.Errorf("list official solves: %w", err)
	}
	defer rows.Close()

	var out []model.Solve
	for rows.Next() {
		var (
			sv       model.Solve
			solvedAt int64
		)
		if err := rows.Scan(&sv.UserID, &sv.ProblemID, &sv.Attempts, &solvedAt); err != nil {
			return nil, fmt.Errorf("scan solve: %w", err)
		}
		sv.Official = true
		sv.SolvedAt = fromMillis(solvedAt)
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
	err := s.sqlDB.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM solves WHERE problem_id = ? AND official = ?`,
		problemID, boolInt(official)).Scan(&n)
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
	_, err := s.sqlDB.ExecContext(ctx,
		`INSERT OR IGNORE INTO rankings (season_id, user_id, rank, score) VALUES (?, ?, 0, 0)`,
		seasonID, userID)
	if err != nil {
		return fmt.Errorf("register user: %w", err)
	}
	return nil
}

// ListRegisteredUsers implements repository.Store.
func (s *Store) ListRegisteredUsers(ctx context.Context, seasonID int64) ([]int64, error) {
	rows, err := s.sqlDB.QueryContext(ctx,
		`SELECT user_id FROM rankings WHERE season_id = ? ORDER BY user_id`, seasonID)
	if err != nil {
		return nil, fmt.Errorf("list registered users: %w", err)
	}
	defer rows.Close()

	out := []int64{}
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan user id: %w", err)
		}
		out = append(out, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate users: %w", err)
	}
	return out, nil
}

// SetRankings implements repository.Store. Rows of unregistered users are ignored.
func (s *Store) SetRankings(ctx context.Context, seasonID int64, rankings []model.Ranking) error {
	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	stmt, err := tx.PrepareContext(ctx,
		`UPDATE rankings SET rank = ?, score = ? WHERE season_id = ? AND user_id = ?`)
	if err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("prepare set rankings: %w", err)
	}
	defer stmt.Close()

	for _, r := range rankings {
		if _, err := stmt.ExecContext(ctx, r.Rank, r.Score, seasonID, r.UserID); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("set ranking: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit rankings: %w", err)
	}
	return nil
}

// ListRankings implements repository.Store.
func (s *Store) ListRankings(ctx context.Context, seasonID int64) ([]model.Ranking, error) {
	rows, err := s.sqlDB.QueryContext(ctx,
		`SELECT season_id, user_id, rank, score FROM rankings
		 WHERE season_id = ? ORDER BY rank = 0, rank, user_id`, seasonID)
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
	err := s.sqlDB.QueryRowContext(ctx,
		`SELECT season_id, user_id, rank, score FROM rankings WHERE season_id = ? AND user_id = ?`,
		seasonID, userID).Scan(&r.SeasonID, &r.UserID, &r.Rank, &r.Score)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Ranking{}, repository.ErrNotFound
	}
	if err != nil {
		return model.Ranking{}, fmt.Errorf("get ranking: %w", err)
	}
	return r, nil
}

// EnsureUser implements repository.Store.
func (s *Store) EnsureUser(ctx context.Context, u model.User) error {
	_, err := s.sqlDB.ExecContext(ctx,
		`INSERT OR IGNORE INTO users (id, nickname, anonymous) VALUES (?, ?, ?)`,
		u.ID, u.Nickname, boolInt(u.Anonymous))
	if err != nil {
		return fmt.Errorf("ensure user: %w", err)
	}
	return nil
}

// GetUser implements repository.Store.
func (s *Store) GetUser(ctx context.Context, userID int64) (model.User, error) {
	var (
		u    model.User
		anon int
	)
	err := s.sqlDB.QueryRowContext(ctx,
		`SELECT id, nickname, anonymous FROM users WHERE id = ?`, userID).Scan(&u.ID, &u.Nickname, &anon)
	if errors.Is(err, sql.ErrNoRows) {
		return model.User{}, repository.ErrNotFound
	}
	if err != nil {
		return model.User{}, fmt.Errorf("get user: %w", err)
	}
	u.Anonymous = anon != 0
	return u, nil
}

// SetNickname implements repository.Store.
func (s *Store) SetNickname(ctx context.Context, userID int64, nickname string) error {
	res, err := s.sqlDB.ExecContext(ctx, `UPDATE users SET nickname = ? WHERE id = ?`, nickname, userID)
	if err != nil {
		return fmt.Errorf("set nickname: %w", err)
	}
	return requireRow(res)
}

// ToggleAnonymous implements repository.Store.
func (s *Store) ToggleAnonymous(ctx context.Context, userID int64) (bool, error) {
	var anon int
	err := s.sqlDB.QueryRowContext(ctx,
		`UPDATE users SET anonymous = 1 - anonymous WHERE id = ? RETURNING anonymous`, userID).Scan(&anon)
	if errors.Is(err, sql.ErrNoRows) {
		return false, repository.ErrNotFound
	}
	if err != nil {
		return false, fmt.Errorf("toggle anonymous: %w", err)
	}
	return anon != 0, nil
}

// UpsertSeason implements repository.Provisioner.
func (s *Store) UpsertSeason(ctx context.Context, season model.Season) error {
	var current sql.NullInt64
	if season.HasCurrentProblem() {
		current = sql.NullInt64{Int64: season.CurrentProblemID, Valid: true}
	}
	_, err := s.sqlDB.ExecContext(ctx,
		`INSERT INTO seasons (id, name, running, current_problem_id) VALUES (?, ?, ?, ?)
		 ON CONFLICT (id) DO UPDATE SET
		   name = excluded.name,
		   running = excluded.running,
		   current_problem_id = excluded.current_problem_id`,
		season.ID, season.Name, boolInt(season.Running), current)
	if err != nil {
		return fmt.Errorf("upsert season: %w", err)
	}
	return nil
}

// UpsertProblem implements repository.Provisioner. Derived fields of an
// existing problem are preserved.
func (s *Store) UpsertProblem(ctx context.Context, p model.Problem) error {
	_, err := s.sqlDB.ExecContext(ctx,
		`INSERT INTO problems (id, season_id, answer, difficulty, date, public, point_pool)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (id) DO UPDATE SET
		   season_id = excluded.season_id,
		   answer = excluded.answer,
		   difficulty = excluded.difficulty,
		   date = excluded.date,
		   public = excluded.public,
		   point_pool = excluded.point_pool`,
		p.ID, p.SeasonID, p.Answer, p.Difficulty, toMillis(p.Date), boolInt(p.Public), p.PointPool)
	if err != nil {
		return fmt.Errorf("upsert problem: %w", err)
	}
	return nil
}
