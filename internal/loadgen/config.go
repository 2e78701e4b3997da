// Package loadgen drives a running openpotd server with generated
// submissions and checks the resulting ranking against locally computed
// scores.
package loadgen

import "time"

// Config holds configuration for a load run.
type Config struct {
	BaseURL    string        // Base URL of the service
	SeasonID   int64         // Season to submit to; 0 means the running season
	Users      int           // Number of distinct users
	UserOffset int64         // First generated user id
	MaxWrong   int           // Upper bound of wrong attempts before the correct one
	Answer     int64         // Correct answer of the season's current problem
	Pool       float64       // Point pool configured on the server
	TopN       int           // Number of ranking entries to verify
	Workers    int           // Number of concurrent workers
	Timeout    time.Duration // HTTP request timeout
	OutputFile string        // Output file for generated submissions
	Verbose    bool          // Enable verbose logging
}

// Submission is the body posted to /submissions.
type Submission struct {
	MessageID string `json:"message_id"`
	UserID    int64  `json:"user_id"`
	Nickname  string `json:"nickname,omitempty"`
	SeasonID  int64  `json:"season_id,omitempty"`
	Answer    string `json:"answer"`
}

// Script is the ordered list of submissions of one user. Its last entry is
// the correct answer.
type Script struct {
	UserID      int64        `json:"user_id"`
	Submissions []Submission `json:"submissions"`
}

// Attempts is the official attempt count at which the user solves.
func (s Script) Attempts() int { return len(s.Submissions) }

// Reply is the response of /submissions.
type Reply struct {
	Outcome   string `json:"outcome"`
	Correct   bool   `json:"correct"`
	Duplicate bool   `json:"duplicate"`
}

// Entry represents a ranking entry.
type Entry struct {
	Rank     int     `json:"rank"`
	UserID   int64   `json:"user_id"`
	Nickname string  `json:"nickname"`
	Score    float64 `json:"score"`
}

// Stats holds run statistics.
type Stats struct {
	UsersGenerated int
	Submitted      int
	Correct        int
	Incorrect      int
	Duplicate      int
	Failed         int
	RankingEntries int
	ScoresVerified int
	StartTime      time.Time
	EndTime        time.Time
	Duration       time.Duration
}
