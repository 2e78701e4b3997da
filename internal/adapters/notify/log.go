// Package notify delivers refreshed ranking events to the outside world.
package notify

import (
	"context"

	"github.com/okian/openpotd/internal/domain/recompute"
	"github.com/okian/openpotd/pkg/logger"
)

// LogNotifier writes a summary line per refresh.
type LogNotifier struct {
	log logger.Logger
}

// NewLogNotifier creates a LogNotifier.
func NewLogNotifier(l logger.Logger) *LogNotifier {
	if l == nil {
		l = logger.Nop()
	}
	return &LogNotifier{log: l.Named("notify")}
}

// Refreshed implements recompute.Notifier.
func (n *LogNotifier) Refreshed(ctx context.Context, ev recompute.Event) error {
	fields := []logger.Field{
		logger.Int64("season_id", ev.SeasonID),
		logger.Int64("problem_id", ev.ProblemID),
		logger.Int("ranked", len(ev.Rankings)),
	}
	if len(ev.Rankings) > 0 {
		fields = append(fields,
			logger.Int64("leader", ev.Rankings[0].UserID),
			logger.Float64("leader_score", ev.Rankings[0].Score))
	}
	n.log.Info(ctx, "rankings refreshed", fields...)
	return nil
}
