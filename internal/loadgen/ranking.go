package loadgen

import (
	"context"
	"fmt"
	"net/url"
	"strconv"

	"github.com/okian/openpotd/pkg/logger"
)

func seasonQuery(seasonID int64) string {
	if seasonID == 0 {
		return ""
	}
	return "season=" + strconv.FormatInt(seasonID, 10)
}

// refreshSeason asks the server to recompute the season synchronously.
func refreshSeason(ctx context.Context, config *Config) error {
	u := config.BaseURL + "/refresh"
	if q := seasonQuery(config.SeasonID); q != "" {
		u += "?" + q
	}
	if err := newHTTPClient(config.Timeout).Post(ctx, u, nil, nil); err != nil {
		return fmt.Errorf("refresh: %w", err)
	}
	return nil
}

// getRankings retrieves the top N ranking entries.
func getRankings(ctx context.Context, config *Config, stats *Stats) ([]Entry, error) {
	logger.Get().Info(ctx, "getting rankings", logger.Int("top", config.TopN))

	q := url.Values{}
	q.Set("limit", strconv.Itoa(config.TopN))
	if config.SeasonID != 0 {
		q.Set("season", strconv.FormatInt(config.SeasonID, 10))
	}

	var entries []Entry
	if err := newHTTPClient(config.Timeout).Get(ctx, config.BaseURL+"/rankings?"+q.Encode(), &entries); err != nil {
		return nil, err
	}
	stats.RankingEntries = len(entries)
	return entries, nil
}

// getScore retrieves one user's ranking entry.
func getScore(ctx context.Context, config *Config, userID int64) (Entry, error) {
	u := fmt.Sprintf("%s/score/%d", config.BaseURL, userID)
	if q := seasonQuery(config.SeasonID); q != "" {
		u += "?" + q
	}
	var e Entry
	err := newHTTPClient(config.Timeout).Get(ctx, u, &e)
	return e, err
}
