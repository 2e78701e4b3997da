// Package model contains domain models passed between layers.
package model

import "time"

// DateLayout is the calendar-day format of problem dates.
const DateLayout = "2006-01-02"

// Day truncates t to its UTC calendar day.
func Day(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// Channel identifies how an answer was submitted.
type Channel string

const (
	// ChannelOfficial targets the running season's current problem and feeds scoring.
	ChannelOfficial Channel = "official"
	// ChannelUnofficial targets a past problem; recorded but never weighted.
	ChannelUnofficial Channel = "unofficial"
)

// Official reports whether c is the scoring channel.
func (c Channel) Official() bool { return c == ChannelOfficial }

// Valid reports whether c is a known channel.
func (c Channel) Valid() bool { return c == ChannelOfficial || c == ChannelUnofficial }

// User is a competitor, keyed by an opaque numeric id.
type User struct {
	ID        int64
	Nickname  string
	Anonymous bool
}

// Season groups problems and owns one ranking table.
type Season struct {
	ID               int64
	Name             string
	Running          bool
	CurrentProblemID int64 // 0 when no problem is active
}

// HasCurrentProblem reports whether the season has an active problem.
func (s Season) HasCurrentProblem() bool { return s.CurrentProblemID != 0 }

// Problem is a single problem of the day.
type Problem struct {
	ID         int64
	SeasonID   int64
	Answer     int64
	Difficulty int
	Date       time.Time
	Public     bool
	// PointPool overrides the configured base point pool when non-zero.
	PointPool float64

	// Derived by the scoring engine.
	WeightedSolves float64
	BasePoints     float64
}

// Answer is a parsed submission value. Valid is false for the invalid marker.
type Answer struct {
	Value int64
	Valid bool
}

// Matches reports whether the answer equals the expected integer.
func (a Answer) Matches(expected int64) bool { return a.Valid && a.Value == expected }

// Attempt is one immutable submission record.
type Attempt struct {
	ID          int64
	UserID      int64
	ProblemID   int64
	Official    bool
	Answer      Answer
	Raw         string
	SubmittedAt time.Time
}

// Solve records the first correct answer of a user for a problem.
type Solve struct {
	UserID    int64
	ProblemID int64
	Attempts  int
	Official  bool
	SolvedAt  time.Time
}

// Ranking is one row of a season leaderboard.
type Ranking struct {
	SeasonID int64
	UserID   int64
	Rank     int
	Score    float64
}

// ProblemStats summarizes a problem for display surfaces.
type ProblemStats struct {
	ProblemID        int64
	SeasonID         int64
	Difficulty       int
	WeightedSolves   float64
	BasePoints       float64
	OfficialSolves   int
	UnofficialSolves int
}
