package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/circlehub/newsletter/internal/database"
	"github.com/circlehub/newsletter/internal/model"
)

const (
	outcomeJournalPrefix = "newsletter:dispatch:outcome:"
	outcomeJournalTTL    = 7 * 24 * time.Hour
)

// RedisCooldown implements Cooldown with SET NX keys
type RedisCooldown struct {
	rdb *database.Redis
}

// NewRedisCooldown creates a new RedisCooldown
func NewRedisCooldown(rdb *database.Redis) *RedisCooldown {
	return &RedisCooldown{rdb: rdb}
}

// Acquire sets key for ttl and reports false when it already exists
func (c *RedisCooldown) Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	return c.rdb.SetIfAbsent(ctx, key, "1", ttl)
}

// Release removes key
func (c *RedisCooldown) Release(ctx context.Context, key string) error {
	return c.rdb.Delete(ctx, key)
}

// RedisOutcomeJournal implements OutcomeJournal with one JSON value per campaign
type RedisOutcomeJournal struct {
	rdb *database.Redis
}

// NewRedisOutcomeJournal creates a new RedisOutcomeJournal
func NewRedisOutcomeJournal(rdb *database.Redis) *RedisOutcomeJournal {
	return &RedisOutcomeJournal{rdb: rdb}
}

// Record stores outcome for later repair
func (j *RedisOutcomeJournal) Record(ctx context.Context, outcome model.DispatchOutcome) error {
	data, err := json.Marshal(outcome)
	if err != nil {
		return fmt.Errorf("failed to marshal dispatch outcome: %w", err)
	}
	if err := j.rdb.SetWithTTL(ctx, outcomeJournalPrefix+outcome.CampaignID, data, outcomeJournalTTL); err != nil {
		return fmt.Errorf("failed to journal dispatch outcome: %w", err)
	}
	return nil
}

// Lookup returns the journaled outcome of a campaign, or nil when there is none
func (j *RedisOutcomeJournal) Lookup(ctx context.Context, campaignID string) (*model.DispatchOutcome, error) {
	data, err := j.rdb.GetString(ctx, outcomeJournalPrefix+campaignID)
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read dispatch outcome: %w", err)
	}

	var outcome model.DispatchOutcome
	if err := json.Unmarshal([]byte(data), &outcome); err != nil {
		return nil, fmt.Errorf("failed to unmarshal dispatch outcome: %w", err)
	}
	return &outcome, nil
}

// Clear removes the journaled outcome of a campaign
func (j *RedisOutcomeJournal) Clear(ctx context.Context, campaignID string) error {
	return j.rdb.Delete(ctx, outcomeJournalPrefix+campaignID)
}
