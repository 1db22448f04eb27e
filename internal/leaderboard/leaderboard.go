// Package leaderboard keeps every user's best session values in Redis
// sorted sets.
package leaderboard

import (
	"context"
	"fmt"
	"math"

	"github.com/redis/go-redis/v9"
)

const DefaultKeyPrefix = "leaderboard:"

// Board names a ranking
type Board string

const (
	TopSpeed  Board = "top_speed"
	MaxGForce Board = "max_gforce"
)

// Entry is a user's best score on a board
type Entry struct {
	UserID string
	Score  float64
}

// WithKeyPrefix sets the prefix of the Redis keys
func WithKeyPrefix(prefix string) func(b *RedisBoard) {
	return func(b *RedisBoard) {
		b.prefix = prefix
	}
}

// RedisBoard stores rankings as sorted sets keyed by user id. A score only
// ever increases.
type RedisBoard struct {
	client redis.UniversalClient
	prefix string
}

// NewRedisBoard creates a leaderboard on client
func NewRedisBoard(client redis.UniversalClient, options ...func(b *RedisBoard)) *RedisBoard {
	b := RedisBoard{client: client, prefix: DefaultKeyPrefix}

	for _, option := range options {
		option(&b)
	}

	return &b
}

func (b *RedisBoard) key(board Board) string {
	return b.prefix + string(board)
}

// Report records a session's values, keeping the user's previous scores
// where they are higher
func (b *RedisBoard) Report(ctx context.Context, userID string, topSpeed, maxGForce float64) error {
	if userID == "" {
		return fmt.Errorf("reporting scores: empty user id")
	}

	_, err := b.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZAddArgs(ctx, b.key(TopSpeed), redis.ZAddArgs{
			GT:      true,
			Members: []redis.Z{{Score: score(topSpeed), Member: userID}},
		})
		pipe.ZAddArgs(ctx, b.key(MaxGForce), redis.ZAddArgs{
			GT:      true,
			Members: []redis.Z{{Score: score(maxGForce), Member: userID}},
		})
		return nil
	})
	if err != nil {
		return fmt.Errorf("reporting scores for %s: %w", userID, err)
	}
	return nil
}

// Top returns the n best entries of board, best first
func (b *RedisBoard) Top(ctx context.Context, board Board, n int) ([]Entry, error) {
	if n <= 0 {
		return nil, nil
	}

	zs, err := b.client.ZRevRangeWithScores(ctx, b.key(board), 0, int64(n-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", board, err)
	}

	entries := make([]Entry, 0, len(zs))
	for _, z := range zs {
		member, ok := z.Member.(string)
		if !ok {
			member = fmt.Sprint(z.Member)
		}
		entries = append(entries, Entry{UserID: member, Score: z.Score})
	}
	return entries, nil
}

// Rank returns the user's zero-based position on board and their score.
// ok is false when the user has no score.
func (b *RedisBoard) Rank(ctx context.Context, board Board, userID string) (rank int64, score float64, ok bool, err error) {
	rank, err = b.client.ZRevRank(ctx, b.key(board), userID).Result()
	if err == redis.Nil {
		return 0, 0, false, nil
	}
	if err != nil {
		return 0, 0, false, fmt.Errorf("ranking %s on %s: %w", userID, board, err)
	}

	score, err = b.client.ZScore(ctx, b.key(board), userID).Result()
	if err != nil {
		return 0, 0, false, fmt.Errorf("scoring %s on %s: %w", userID, board, err)
	}
	return rank, score, true, nil
}

func score(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
		return 0
	}
	return v
}
