package postgres

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"contractWatch/internal/model"
)

//go:embed schema.sql
var schema string

// Store provides Postgres persistence for event records and watcher state.
type Store struct {
	pool *pgxpool.Pool
}

func NewStore(ctx context.Context, dsn string) (*Store, error) {
	if dsn == "" {
		return nil, fmt.Errorf("pg dsn is required")
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, err
	}
	return &Store{pool: pool}, nil
}

func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// Migrate creates the tables if they do not exist.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// PutLogBatch inserts records, skipping (chain, tx hash, log index) keys that
// are already stored.
func (s *Store) PutLogBatch(ctx context.Context, logs []model.LogRecord) error {
	if len(logs) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, record := range logs {
		args, err := json.Marshal(record.Args)
		if err != nil {
			return fmt.Errorf("marshal args %s:%d: %w", record.TxHash, record.LogIndex, err)
		}
		enrichment, err := json.Marshal(enrichmentColumns{
			Block:       record.Block,
			Transaction: record.Transaction,
			Receipt:     record.Receipt,
		})
		if err != nil {
			return fmt.Errorf("marshal enrichment %s:%d: %w", record.TxHash, record.LogIndex, err)
		}
		key := record.Key()
		batch.Queue(`
			INSERT INTO event_logs (
				tx_hash, log_index, chain_id, address, event_name, block_number, block_hash,
				tx_index, topics, data, args, enrichment, removed, created_at
			) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,now())
			ON CONFLICT (chain_id, tx_hash, log_index) DO NOTHING
		`,
			key.TxHash,
			int64(key.LogIndex),
			int64(record.ChainID),
			record.Address,
			record.EventName,
			int64(record.BlockNumber),
			record.BlockHash,
			int64(record.TxIndex),
			record.Topics,
			record.Data,
			args,
			enrichment,
			record.Removed,
		)
	}

	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()

	for range logs {
		if _, err := br.Exec(); err != nil {
			return err
		}
	}
	return nil
}

type enrichmentColumns struct {
	Block       *model.BlockInfo       `json:"block,omitempty"`
	Transaction *model.TransactionInfo `json:"transaction,omitempty"`
	Receipt     *model.ReceiptInfo     `json:"receipt,omitempty"`
}

// Records loads every stored record of one contract event, newest first.
func (s *Store) Records(ctx context.Context, chainID uint64, address, event string) ([]model.LogRecord, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT tx_hash, log_index, chain_id, address, event_name, block_number, block_hash,
			tx_index, topics, data, args, enrichment, removed
		FROM event_logs
		WHERE chain_id=$1 AND lower(address)=lower($2) AND event_name=$3
		ORDER BY block_number DESC, tx_index DESC, log_index DESC
	`, int64(chainID), address, event)
	if err != nil {
		return nil, fmt.Errorf("query records: %w", err)
	}
	defer rows.Close()

	var records []model.LogRecord
	for rows.Next() {
		var (
			record                                model.LogRecord
			logIndex, chain, blockNumber, txIndex int64
			args, enrichment                      []byte
		)
		if err := rows.Scan(
			&record.TxHash, &logIndex, &chain, &record.Address, &record.EventName,
			&blockNumber, &record.BlockHash, &txIndex, &record.Topics, &record.Data,
			&args, &enrichment, &record.Removed,
		); err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}
		record.LogIndex = uint64(logIndex)
		record.ChainID = uint64(chain)
		record.BlockNumber = uint64(blockNumber)
		record.TxIndex = uint64(txIndex)
		if len(args) > 0 {
			if err := json.Unmarshal(args, &record.Args); err != nil {
				return nil, fmt.Errorf("parse args %s:%d: %w", record.TxHash, record.LogIndex, err)
			}
		}
		if len(enrichment) > 0 {
			var cols enrichmentColumns
			if err := json.Unmarshal(enrichment, &cols); err != nil {
				return nil, fmt.Errorf("parse enrichment %s:%d: %w", record.TxHash, record.LogIndex, err)
			}
			record.Block, record.Transaction, record.Receipt = cols.Block, cols.Transaction, cols.Receipt
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read records: %w", err)
	}
	return records, nil
}

// LoadState returns last_known_block for a watcher name.
func (s *Store) LoadState(ctx context.Context, name string) (uint64, bool, error) {
	if name == "" {
		return 0, false, fmt.Errorf("state name required")
	}
	var block int64
	row := s.pool.QueryRow(ctx, `SELECT last_known_block FROM watcher_state WHERE name=$1`, name)
	if err := row.Scan(&block); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, false, nil
		}
		return 0, false, err
	}
	return uint64(block), true, nil
}

// SaveState upserts last_known_block for a watcher name.
func (s *Store) SaveState(ctx context.Context, name string, block uint64) error {
	if name == "" {
		return fmt.Errorf("state name required")
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO watcher_state (name, last_known_block, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (name) DO UPDATE
		SET last_known_block = EXCLUDED.last_known_block, updated_at = now()
	`, name, int64(block))
	return err
}
