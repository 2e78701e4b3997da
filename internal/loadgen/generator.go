package loadgen

import (
	"context"
	"crypto/rand"
	"fmt"
	"math/big"
	"strconv"

	"github.com/google/uuid"
	"github.com/okian/openpotd/pkg/logger"
)

// randomInt returns a uniform value in [0, n) using crypto/rand.
func randomInt(n int) int {
	if n <= 0 {
		return 0
	}
	v, err := rand.Int(rand.Reader, big.NewInt(int64(n)))
	if err != nil {
		return 0
	}
	return int(v.Int64())
}

// generateScripts creates one script per user: up to MaxWrong wrong
// answers followed by the correct one.
func generateScripts(ctx context.Context, config *Config, stats *Stats) ([]Script, error) {
	logger.Get().Info(ctx, "generating submission scripts", logger.Int("users", config.Users))

	scripts := make([]Script, config.Users)
	for i := range scripts {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("context cancelled during generation: %w", err)
		}
		scripts[i] = generateScript(config, config.UserOffset+int64(i), randomInt(config.MaxWrong+1))
	}

	stats.UsersGenerated = len(scripts)
	logger.Get().Info(ctx, "generated scripts", logger.Int("count", len(scripts)))
	return scripts, nil
}

// generateScript builds the script of one user with the given number of
// wrong attempts.
func generateScript(config *Config, userID int64, wrong int) Script {
	s := Script{UserID: userID, Submissions: make([]Submission, 0, wrong+1)}
	nick := "load-" + strconv.FormatInt(userID, 10)
	for i := 0; i < wrong; i++ {
		s.Submissions = append(s.Submissions, Submission{
			MessageID: uuid.NewString(),
			UserID:    userID,
			Nickname:  nick,
			SeasonID:  config.SeasonID,
			Answer:    strconv.FormatInt(config.Answer+int64(i)+1, 10),
		})
	}
	s.Submissions = append(s.Submissions, Submission{
		MessageID: uuid.NewString(),
		UserID:    userID,
		Nickname:  nick,
		SeasonID:  config.SeasonID,
		Answer:    strconv.FormatInt(config.Answer, 10),
	})
	return s
}
