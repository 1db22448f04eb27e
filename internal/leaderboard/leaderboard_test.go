package leaderboard

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestBoard(t *testing.T) (*RedisBoard, *miniredis.Miniredis) {
	t.Helper()

	server := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: server.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	return NewRedisBoard(client), server
}

func TestReport_KeepsBest(t *testing.T) {
	board, server := newTestBoard(t)
	ctx := context.Background()

	if err := board.Report(ctx, "alice", 150, 1.1); err != nil {
		t.Fatalf("report: %v", err)
	}
	if err := board.Report(ctx, "alice", 120, 1.6); err != nil {
		t.Fatalf("report: %v", err)
	}

	speed, err := server.ZScore("leaderboard:top_speed", "alice")
	if err != nil || speed != 150 {
		t.Errorf("expected top speed to stay 150, got %f (%v)", speed, err)
	}
	g, err := server.ZScore("leaderboard:max_gforce", "alice")
	if err != nil || g != 1.6 {
		t.Errorf("expected max g-force to rise to 1.6, got %f (%v)", g, err)
	}
}

func TestReport_KeyPrefix(t *testing.T) {
	server := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: server.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	board := NewRedisBoard(client, WithKeyPrefix("track-day:"))
	ctx := context.Background()

	if err := board.Report(ctx, "alice", 150, 1.1); err != nil {
		t.Fatalf("report: %v", err)
	}

	if speed, err := server.ZScore("track-day:top_speed", "alice"); err != nil || speed != 150 {
		t.Errorf("expected score under custom prefix, got %f (%v)", speed, err)
	}
	if server.Exists(DefaultKeyPrefix + string(TopSpeed)) {
		t.Errorf("expected nothing under the default prefix")
	}

	top, err := board.Top(ctx, TopSpeed, 1)
	if err != nil || len(top) != 1 || top[0].UserID != "alice" {
		t.Errorf("expected alice on top, got %+v (%v)", top, err)
	}
}

func TestTop(t *testing.T) {
	board, _ := newTestBoard(t)
	ctx := context.Background()

	for user, speed := range map[string]float64{"alice": 150, "bob": 190, "carol": 170} {
		if err := board.Report(ctx, user, speed, 1); err != nil {
			t.Fatalf("report: %v", err)
		}
	}

	top, err := board.Top(ctx, TopSpeed, 2)
	if err != nil {
		t.Fatalf("top: %v", err)
	}

	want := []Entry{{"bob", 190}, {"carol", 170}}
	if len(top) != len(want) {
		t.Fatalf("expected %d entries, got %+v", len(want), top)
	}
	for i := range want {
		if top[i] != want[i] {
			t.Errorf("position %d: expected %+v, got %+v", i, want[i], top[i])
		}
	}

	rank, score, ok, err := board.Rank(ctx, TopSpeed, "alice")
	if err != nil || !ok || rank != 2 || score != 150 {
		t.Errorf("expected alice third with 150, got %d %f %t (%v)", rank, score, ok, err)
	}
	if _, _, ok, err = board.Rank(ctx, TopSpeed, "dave"); err != nil || ok {
		t.Errorf("expected no rank for unknown user, got %t (%v)", ok, err)
	}
}

func TestReport_Errors(t *testing.T) {
	board, _ := newTestBoard(t)

	if err := board.Report(context.Background(), "", 1, 1); err == nil {
		t.Errorf("expected error for empty user id")
	}

	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", MaxRetries: -1})
	defer client.Close()

	if err := NewRedisBoard(client).Report(context.Background(), "alice", 1, 1); err == nil {
		t.Errorf("expected error with redis down")
	}
}
