package redisstore

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"

	"contractWatch/internal/model"
)

const keyPrefix = "contractwatch"

// Store keeps one hash per contract event, keyed by "<txHash>:<logIndex>",
// plus one string key per watcher holding its last known block.
type Store struct {
	db *redis.Client
}

func NewStore(addr string) (*Store, error) {
	if addr == "" {
		return nil, errors.New("redis address is required")
	}
	return &Store{db: redis.NewClient(&redis.Options{Addr: addr})}, nil
}

// NewStoreWithClient wraps an existing client.
func NewStoreWithClient(client *redis.Client) *Store {
	return &Store{db: client}
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return errors.Wrap(s.db.Ping(ctx).Err(), "ping redis")
}

func recordsKey(chainID uint64, address, event string) string {
	return fmt.Sprintf("%s:logs:%d:%s:%s", keyPrefix, chainID, strings.ToLower(address), event)
}

func recordField(key model.LogKey) string {
	return fmt.Sprintf("%s:%d", key.TxHash, key.LogIndex)
}

func stateKey(name string) string {
	return keyPrefix + ":state:" + name
}

// PutLogBatch writes records in one pipeline. HSETNX keeps the first copy of
// each identity key.
func (s *Store) PutLogBatch(ctx context.Context, logs []model.LogRecord) error {
	if len(logs) == 0 {
		return nil
	}
	pipe := s.db.Pipeline()
	for _, record := range logs {
		data, err := json.Marshal(record)
		if err != nil {
			return errors.Wrapf(err, "marshal record %s:%d", record.TxHash, record.LogIndex)
		}
		pipe.HSetNX(ctx, recordsKey(record.ChainID, record.Address, record.EventName), recordField(record.Key()), data)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return errors.Wrap(err, "save records to redis")
	}
	return nil
}

// Records loads every stored record of one contract event.
func (s *Store) Records(ctx context.Context, chainID uint64, address, event string) ([]model.LogRecord, error) {
	values, err := s.db.HGetAll(ctx, recordsKey(chainID, address, event)).Result()
	if err != nil {
		return nil, errors.Wrap(err, "load records from redis")
	}
	records := make([]model.LogRecord, 0, len(values))
	for field, value := range values {
		var record model.LogRecord
		if err := json.Unmarshal([]byte(value), &record); err != nil {
			return nil, errors.Wrapf(err, "parse record %s", field)
		}
		records = append(records, record)
	}
	return records, nil
}

// LoadState returns the last known block of a watcher.
func (s *Store) LoadState(ctx context.Context, name string) (uint64, bool, error) {
	value, err := s.db.Get(ctx, stateKey(name)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, false, nil
		}
		return 0, false, errors.Wrap(err, "get last known block")
	}
	block, err := strconv.ParseUint(value, 10, 64)
	if err != nil {
		return 0, false, errors.Wrap(err, "parse last known block")
	}
	return block, true, nil
}

// SaveState sets the last known block of a watcher.
func (s *Store) SaveState(ctx context.Context, name string, block uint64) error {
	if err := s.db.Set(ctx, stateKey(name), strconv.FormatUint(block, 10), 0).Err(); err != nil {
		return errors.Wrapf(err, "set last known block %d", block)
	}
	return nil
}
