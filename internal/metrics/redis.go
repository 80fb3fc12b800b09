package metrics

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"
)

// DefaultStream is the Redis stream metrics are appended to.
const DefaultStream = "twotower:metrics"

// RedisSink publishes events to a Redis stream so dashboards can follow a
// run live.
type RedisSink struct {
	client *redis.Client
	stream string
	maxLen int64
}

// NewRedisSink creates a sink on an existing client. An empty stream name
// selects DefaultStream.
func NewRedisSink(client *redis.Client, stream string) *RedisSink {
	if stream == "" {
		stream = DefaultStream
	}
	return &RedisSink{client: client, stream: stream, maxLen: 10000}
}

// ConnectRedis dials addr and verifies the connection.
func ConnectRedis(ctx context.Context, addr, stream string) (*RedisSink, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return NewRedisSink(client, stream), nil
}

// StartRun implements Sink.
func (s *RedisSink) StartRun(ctx context.Context, run Run) error {
	cfg, err := json.Marshal(run.Config)
	if err != nil {
		return fmt.Errorf("encoding run config: %w", err)
	}
	return s.add(ctx, map[string]any{
		"kind":       "start",
		"run_id":     run.ID,
		"started_at": run.StartedAt.UnixMilli(),
		"config":     string(cfg),
	})
}

// Log implements Sink.
func (s *RedisSink) Log(ctx context.Context, e Epoch) error {
	return s.add(ctx, epochValues(e))
}

// Finish implements Sink.
func (s *RedisSink) Finish(ctx context.Context, runID, status string) error {
	return s.add(ctx, map[string]any{
		"kind":   "finish",
		"run_id": runID,
		"status": status,
	})
}

// Close closes the Redis connection.
func (s *RedisSink) Close() error {
	return s.client.Close()
}

func (s *RedisSink) add(ctx context.Context, values map[string]any) error {
	err := s.client.XAdd(ctx, &redis.XAddArgs{
		Stream: s.stream,
		MaxLen: s.maxLen,
		Approx: true,
		Values: values,
	}).Err()
	if err != nil {
		return fmt.Errorf("adding to stream %s: %w", s.stream, err)
	}
	return nil
}

// epochValues flattens an epoch into stream fields.
func epochValues(e Epoch) map[string]any {
	values := map[string]any{
		"kind":       "epoch",
		"run_id":     e.RunID,
		"epoch":      strconv.Itoa(e.Epoch),
		"train_loss": strconv.FormatFloat(e.TrainLoss, 'g', -1, 64),
		"val_loss":   strconv.FormatFloat(e.ValLoss, 'g', -1, 64),
	}
	if e.BaselineDiff != nil {
		values["baseline_diff"] = strconv.FormatFloat(*e.BaselineDiff, 'g', -1, 64)
	}
	return values
}
