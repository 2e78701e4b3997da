// Package submission validates answers and records attempts and solves.
package submission

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/okian/openpotd/internal/adapters/repository"
	"github.com/okian/openpotd/internal/domain/keylock"
	"github.com/okian/openpotd/internal/domain/model"
	"github.com/okian/openpotd/pkg/logger"
	"github.com/okian/openpotd/pkg/metrics"
)

// Outcome classifies a processed submission.
type Outcome string

const (
	OutcomeCorrect       Outcome = "correct"
	OutcomeIncorrect     Outcome = "incorrect"
	OutcomeAlreadySolved Outcome = "already_solved"
	OutcomeInvalid       Outcome = "invalid"
)

// Request is one answer submission.
type Request struct {
	UserID   int64
	Nickname string
	Channel  model.Channel
	// SeasonID selects the season for official submissions; 0 means the running season.
	SeasonID int64
	// ProblemID or Date selects the problem of an unofficial submission.
	// Both are ignored for official ones.
	ProblemID int64
	Date      time.Time
	Raw       string
	At        time.Time
}

// Result reports what a submission did.
type Result struct {
	Outcome            Outcome
	Correct            bool
	AlreadySolved      bool
	OfficialAttempts   int
	UnofficialAttempts int
	ProblemID          int64
	SeasonID           int64
}

// Solved reports whether this submission created the solve.
func (r Result) Solved() bool { return r.Outcome == OutcomeCorrect }

// Store is the persistence the processor needs.
type Store interface {
	InTx(ctx context.Context, fn func(ctx context.Context, tx repository.Ledger) error) error
	RunningSeason(ctx context.Context) (model.Season, error)
	GetSeason(ctx context.Context, seasonID int64) (model.Season, error)
	GetProblem(ctx context.Context, problemID int64) (model.Problem, error)
	PublicProblemByDate(ctx context.Context, date time.Time) (model.Problem, error)
	EnsureUser(ctx context.Context, u model.User) error
	RegisterUser(ctx context.Context, seasonID, userID int64) error
}

// Signaler is told about every accepted submission so derived values can be
// refreshed.
type Signaler interface {
	Signal(ctx context.Context, seasonID, problemID int64)
}

// SignalerFunc adapts a function to Signaler.
type SignalerFunc func(ctx context.Context, seasonID, problemID int64)

// Signal calls f.
func (f SignalerFunc) Signal(ctx context.Context, seasonID, problemID int64) { f(ctx, seasonID, problemID) }

// Processor turns submissions into ledger records. Work for the same
// (user, problem) pair is serialized.
type Processor struct {
	store    Store
	locker   *keylock.Locker
	signaler Signaler
	log      logger.Logger
	now      func() time.Time
}

// NewProcessor creates a processor over store.
func NewProcessor(store Store, opts ...Option) *Processor {
	p := &Processor{
		store:  store,
		locker: keylock.New(),
		log:    logger.Nop(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Submit validates and records one submission.
func (p *Processor) Submit(ctx context.Context, req Request) (Result, error) {
	start := time.Now()
	if !req.Channel.Valid() {
		return Result{}, fmt.Errorf("%w: %q", ErrInvalidChannel, req.Channel)
	}

	problem, err := p.resolve(ctx, req)
	if err != nil {
		return Result{}, err
	}

	official := req.Channel.Official()
	answer := ParseAnswer(req.Raw)
	at := req.At
	if at.IsZero() {
		at = p.now()
	}

	// A contended lock must leave no trace, so user rows are written only
	// once the pair is held.
	unlock, err := p.locker.Lock(ctx, keylock.UserProblemKey(req.UserID, problem.ID))
	if err != nil {
		metrics.RecordLockContended()
		return Result{}, fmt.Errorf("%w: %w", ErrRetryable, err)
	}
	defer unlock()

	if err := p.store.EnsureUser(ctx, model.User{ID: req.UserID, Nickname: req.Nickname, Anonymous: true}); err != nil {
		return Result{}, fmt.Errorf("ensure user: %w", err)
	}
	if official {
		if err := p.store.RegisterUser(ctx, problem.SeasonID, req.UserID); err != nil {
			return Result{}, fmt.Errorf("register user: %w", err)
		}
	}

	res := Result{ProblemID: problem.ID, SeasonID: problem.SeasonID}
	err = p.store.InTx(ctx, func(ctx context.Context, tx repository.Ledger) error {
		solved, err := tx.HasSolve(ctx, req.UserID, problem.ID)
		if err != nil {
			return err
		}
		err = tx.InsertAttempt(ctx, model.Attempt{
			UserID:      req.UserID,
			ProblemID:   problem.ID,
			Official:    official,
			Answer:      answer,
			Raw:         req.Raw,
			SubmittedAt: at,
		})
		if err != nil {
			return err
		}
		if res.OfficialAttempts, err = tx.CountAttempts(ctx, req.UserID, problem.ID, true); err != nil {
			return err
		}
		if res.UnofficialAttempts, err = tx.CountAttempts(ctx, req.UserID, problem.ID, false); err != nil {
			return err
		}

		res.Correct = answer.Matches(problem.Answer)
		res.AlreadySolved = solved
		switch {
		case !answer.Valid:
			res.Outcome = OutcomeInvalid
		case !res.Correct:
			res.Outcome = OutcomeIncorrect
		case solved:
			res.Outcome = OutcomeAlreadySolved
		default:
			err := tx.InsertSolve(ctx, model.Solve{
				UserID:    req.UserID,
				ProblemID: problem.ID,
				Attempts:  res.OfficialAttempts + res.UnofficialAttempts,
				Official:  official,
				SolvedAt:  at,
			})
			switch {
			case errors.Is(err, repository.ErrAlreadySolved):
				res.Outcome = OutcomeAlreadySolved
				res.AlreadySolved = true
			case err != nil:
				return err
			default:
				res.Outcome = OutcomeCorrect
			}
		}
		return nil
	})
	if err != nil {
		metrics.RecordErrorByComponent("submission", "store")
		return Result{}, fmt.Errorf("record submission: %w", err)
	}

	metrics.RecordSubmission(string(req.Channel), string(res.Outcome))
	metrics.RecordSubmissionLatency(float64(time.Since(start).Milliseconds()))
	if res.Solved() {
		metrics.RecordSolve(string(req.Channel))
		p.log.Info(ctx, "problem solved",
			logger.Int64("user_id", req.UserID),
			logger.Int64("problem_id", problem.ID),
			logger.String("channel", string(req.Channel)),
			logger.Int("attempts", res.OfficialAttempts+res.UnofficialAttempts))
	} else {
		p.log.Debug(ctx, "submission recorded",
			logger.Int64("user_id", req.UserID),
			logger.Int64("problem_id", problem.ID),
			logger.String("outcome", string(res.Outcome)))
	}

	if p.signaler != nil {
		p.signaler.Signal(ctx, problem.SeasonID, problem.ID)
	}
	return res, nil
}

// resolve finds the target problem of a request. No writes happen here.
func (p *Processor) resolve(ctx context.Context, req Request) (model.Problem, error) {
	if req.Channel.Official() {
		return p.resolveOfficial(ctx, req.SeasonID)
	}
	if req.ProblemID == 0 && !req.Date.IsZero() {
		return p.resolveByDate(ctx, req.Date)
	}
	return p.resolveUnofficial(ctx, req.ProblemID)
}

func (p *Processor) resolveByDate(ctx context.Context, date time.Time) (model.Problem, error) {
	problem, err := p.store.PublicProblemByDate(ctx, date)
	if errors.Is(err, repository.ErrNotFound) {
		return model.Problem{}, fmt.Errorf("%w: %s", ErrProblemNotFound, date.Format(model.DateLayout))
	}
	if err != nil {
		return model.Problem{}, fmt.Errorf("lookup problem by date: %w", err)
	}
	return p.resolveUnofficial(ctx, problem.ID)
}

func (p *Processor) resolveOfficial(ctx context.Context, seasonID int64) (model.Problem, error) {
	var (
		season model.Season
		err    error
	)
	if seasonID == 0 {
		season, err = p.store.RunningSeason(ctx)
		if errors.Is(err, repository.ErrNotFound) {
			return model.Problem{}, ErrNoCurrentProblem
		}
	} else {
		season, err = p.store.GetSeason(ctx, seasonID)
		if errors.Is(err, repository.ErrNotFound) {
			return model.Problem{}, fmt.Errorf("%w: %d", ErrSeasonNotFound, seasonID)
		}
	}
	if err != nil {
		return model.Problem{}, fmt.Errorf("lookup season: %w", err)
	}
	if !season.HasCurrentProblem() {
		return model.Problem{}, ErrNoCurrentProblem
	}

	problem, err := p.store.GetProblem(ctx, season.CurrentProblemID)
	if errors.Is(err, repository.ErrNotFound) {
		return model.Problem{}, ErrNoCurrentProblem
	}
	if err != nil {
		return model.Problem{}, fmt.Errorf("lookup problem: %w", err)
	}
	return problem, nil
}

func (p *Processor) resolveUnofficial(ctx context.Context, problemID int64) (model.Problem, error) {
	problem, err := p.store.GetProblem(ctx, problemID)
	if errors.Is(err, repository.ErrNotFound) {
		return model.Problem{}, fmt.Errorf("%w: %d", ErrProblemNotFound, problemID)
	}
	if err != nil {
		return model.Problem{}, fmt.Errorf("lookup problem: %w", err)
	}
	if !problem.Public {
		return model.Problem{}, fmt.Errorf("%w: %d", ErrProblemNotFound, problemID)
	}

	season, err := p.store.GetSeason(ctx, problem.SeasonID)
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		return model.Problem{}, fmt.Errorf("lookup season: %w", err)
	}
	if err == nil && season.CurrentProblemID == problem.ID {
		return model.Problem{}, ErrProblemIsCurrent
	}
	return problem, nil
}
