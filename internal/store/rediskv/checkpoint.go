package rediskv

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const checkpointKeyPrefix = "queueing:clear_checkpoint:"

// CheckpointStore persists per-account notification clear checkpoints in
// Redis so a clear survives process restarts and is shared across replicas.
type CheckpointStore struct {
	client *redis.Client
}

func NewCheckpointStore(client *redis.Client) *CheckpointStore {
	return &CheckpointStore{client: client}
}

func (c *CheckpointStore) GetClearCheckpoint(ctx context.Context, accountID string) (time.Time, error) {
	value, err := c.client.Get(ctx, checkpointKeyPrefix+accountID).Result()
	if errors.Is(err, redis.Nil) {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("get clear checkpoint: %w", err)
	}
	ts, err := time.Parse(time.RFC3339Nano, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse clear checkpoint: %w", err)
	}
	return ts, nil
}

func (c *CheckpointStore) SetClearCheckpoint(ctx context.Context, accountID string, at time.Time) error {
	value := at.UTC().Format(time.RFC3339Nano)
	if err := c.client.Set(ctx, checkpointKeyPrefix+accountID, value, 0).Err(); err != nil {
		return fmt.Errorf("set clear checkpoint: %w", err)
	}
	return nil
}
