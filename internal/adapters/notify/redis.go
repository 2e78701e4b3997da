package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/okian/openpotd/internal/domain/model"
	"github.com/okian/openpotd/internal/domain/recompute"
	"github.com/okian/openpotd/internal/domain/types"
	"github.com/redis/go-redis/v9"
)

// Key patterns of the ranking mirror.
const (
	keyRankingScore = "potd:ranking:score:" // sorted set user id -> score
	keyRankingInfo  = "potd:ranking:info:"  // hash user id -> entry JSON

	dialTimeout = 5 * time.Second
)

// RankingEntry is the cached form of one ranking row.
type RankingEntry struct {
	UserID int64   `json:"user_id"`
	Rank   int     `json:"rank"`
	Score  float64 `json:"score"`
}

// RefreshedMessage is the payload published on the refresh channel.
type RefreshedMessage struct {
	SeasonID  int64                `json:"season_id"`
	ProblemID int64                `json:"problem_id,omitempty"`
	Top       []RankingEntry       `json:"top"`
	Ranked    int                  `json:"ranked"`
	Problems  []types.ProblemStats `json:"problems,omitempty"`
	At        time.Time            `json:"at"`
}

// topSize bounds the rows copied into a published message.
const topSize = 10

// RedisNotifier mirrors each refreshed season into Redis and publishes a
// message so chat frontends can announce ranking changes.
type RedisNotifier struct {
	client  *redis.Client
	channel string
}

// NewRedisNotifier connects to addr and verifies the connection.
func NewRedisNotifier(ctx context.Context, addr, channel string) (*RedisNotifier, error) {
	client := redis.NewClient(&redis.Options{
		Addr:        addr,
		DialTimeout: dialTimeout,
	})

	pingCtx, cancel := context.WithTimeout(ctx, dialTimeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("%w: %v", ErrRedisConnection, err)
	}
	return &RedisNotifier{client: client, channel: channel}, nil
}

// Refreshed implements recompute.Notifier. The season's sorted set and hash
// are replaced atomically, then the message is published.
func (n *RedisNotifier) Refreshed(ctx context.Context, ev recompute.Event) error {
	season := strconv.FormatInt(ev.SeasonID, 10)
	scoreKey := keyRankingScore + season
	infoKey := keyRankingInfo + season

	pipe := n.client.TxPipeline()
	pipe.Del(ctx, scoreKey, infoKey)

	if len(ev.Rankings) > 0 {
		members := make([]redis.Z, 0, len(ev.Rankings))
		info := make(map[string]any, len(ev.Rankings))
		for _, r := range ev.Rankings {
			id := strconv.FormatInt(r.UserID, 10)
			members = append(members, redis.Z{Score: r.Score, Member: id})
			data, err := json.Marshal(entryOf(r))
			if err != nil {
				return fmt.Errorf("marshal ranking entry: %w", err)
			}
			info[id] = data
		}
		pipe.ZAdd(ctx, scoreKey, members...)
		pipe.HSet(ctx, infoKey, info)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("store rankings of season %d: %w", ev.SeasonID, err)
	}

	if n.channel == "" {
		return nil
	}
	payload, err := json.Marshal(messageOf(ev))
	if err != nil {
		return fmt.Errorf("marshal refreshed message: %w", err)
	}
	if err := n.client.Publish(ctx, n.channel, payload).Err(); err != nil {
		return fmt.Errorf("publish refreshed message: %w", err)
	}
	return nil
}

// Close closes the Redis client.
func (n *RedisNotifier) Close() error {
	return n.client.Close()
}

func entryOf(r model.Ranking) RankingEntry {
	return RankingEntry{UserID: r.UserID, Rank: r.Rank, Score: r.Score}
}

func messageOf(ev recompute.Event) RefreshedMessage {
	msg := RefreshedMessage{
		SeasonID:  ev.SeasonID,
		ProblemID: ev.ProblemID,
		Ranked:    len(ev.Rankings),
		At:        ev.At,
	}
	for _, p := range ev.Problems {
		msg.Problems = append(msg.Problems, types.NewProblemStats(p))
	}
	for i, r := range ev.Rankings {
		if i == topSize {
			break
		}
		msg.Top = append(msg.Top, entryOf(r))
	}
	return msg
}
