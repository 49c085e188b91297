package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"tagAirdrop/internal/model"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS airdrop_instances (
	chain_id      BIGINT NOT NULL,
	address       TEXT NOT NULL,
	factory       TEXT NOT NULL,
	tx_hash       TEXT NOT NULL,
	block_number  BIGINT NOT NULL,
	created_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (chain_id, address)
);
CREATE TABLE IF NOT EXISTS airdrop_user_states (
	chain_id    BIGINT NOT NULL,
	contract    TEXT NOT NULL,
	address     TEXT NOT NULL,
	state       TEXT NOT NULL,
	rank        BIGINT NOT NULL,
	updated_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (chain_id, contract, address)
);
CREATE TABLE IF NOT EXISTS airdrop_events (
	chain_id      BIGINT NOT NULL,
	tx_hash       TEXT NOT NULL,
	log_index     BIGINT NOT NULL,
	event_name    TEXT NOT NULL,
	emitter       TEXT NOT NULL,
	block_number  BIGINT NOT NULL,
	fields        JSONB NOT NULL,
	PRIMARY KEY (chain_id, tx_hash, log_index)
);
CREATE TABLE IF NOT EXISTS replay_state (
	name                  TEXT PRIMARY KEY,
	last_processed_block  BIGINT NOT NULL,
	updated_at            TIMESTAMPTZ NOT NULL DEFAULT now()
);
`

// Store exports contract instances, user states and events to Postgres.
// The chain stays authoritative; rows are overwritten on every export.
type Store struct {
	pool    *pgxpool.Pool
	chainID uint64
}

func NewStore(ctx context.Context, dsn string, chainID uint64) (*Store, error) {
	if dsn == "" {
		return nil, fmt.Errorf("pg dsn is required")
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, err
	}
	return &Store{pool: pool, chainID: chainID}, nil
}

func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// Migrate creates the export tables when missing.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

// UpsertInstances inserts or updates factory-issued contracts.
func (s *Store) UpsertInstances(ctx context.Context, instances []model.ContractInstance) error {
	if len(instances) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, instance := range instances {
		batch.Queue(`
			INSERT INTO airdrop_instances (chain_id, address, factory, tx_hash, block_number)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (chain_id, address)
			DO UPDATE SET
				factory = EXCLUDED.factory,
				tx_hash = EXCLUDED.tx_hash,
				block_number = EXCLUDED.block_number
		`,
			int64(s.chainID),
			instance.Address.Hex(),
			instance.Factory.Hex(),
			instance.TxHash.Hex(),
			int64(instance.BlockNumber),
		)
	}
	return s.sendBatch(ctx, batch, len(instances))
}

// UpsertUserStates replaces the exported stage and rank of each pair.
func (s *Store) UpsertUserStates(ctx context.Context, states []model.UserState) error {
	if len(states) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, state := range states {
		batch.Queue(`
			INSERT INTO airdrop_user_states (chain_id, contract, address, state, rank, updated_at)
			VALUES ($1, $2, $3, $4, $5, now())
			ON CONFLICT (chain_id, contract, address)
			DO UPDATE SET
				state = EXCLUDED.state,
				rank = EXCLUDED.rank,
				updated_at = now()
		`,
			int64(s.chainID),
			state.Contract.Hex(),
			state.Address.Hex(),
			state.State.String(),
			int64(state.Rank),
		)
	}
	return s.sendBatch(ctx, batch, len(states))
}

// InsertEvents stores decoded events, skipping ones already present.
func (s *Store) InsertEvents(ctx context.Context, events []model.EventRecord) error {
	if len(events) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, event := range events {
		fields, err := json.Marshal(event.Fields)
		if err != nil {
			return fmt.Errorf("marshal %s fields: %w", event.Name, err)
		}
		batch.Queue(`
			INSERT INTO airdrop_events (chain_id, tx_hash, log_index, event_name, emitter, block_number, fields)
			VALUES ($1, $2, $3, $4, $5, $6, $7::jsonb)
			ON CONFLICT (chain_id, tx_hash, log_index) DO NOTHING
		`,
			int64(s.chainID),
			event.TxHash,
			int64(event.LogIndex),
			event.Name,
			event.Emitter,
			int64(event.BlockNumber),
			string(fields),
		)
	}
	return s.sendBatch(ctx, batch, len(events))
}

// LoadState returns the last replayed block for a name.
func (s *Store) LoadState(ctx context.Context, name string) (uint64, bool, error) {
	if name == "" {
		return 0, false, fmt.Errorf("state name required")
	}
	var block int64
	row := s.pool.QueryRow(ctx, `SELECT last_processed_block FROM replay_state WHERE name=$1`, name)
	if err := row.Scan(&block); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, false, nil
		}
		return 0, false, err
	}
	return uint64(block), true, nil
}

// SaveState upserts the last replayed block for a name.
func (s *Store) SaveState(ctx context.Context, name string, block uint64) error {
	if name == "" {
		return fmt.Errorf("state name required")
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO replay_state (name, last_processed_block, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (name) DO UPDATE
		SET last_processed_block = EXCLUDED.last_processed_block, updated_at = now()
	`, name, int64(block))
	return err
}

func (s *Store) sendBatch(ctx context.Context, batch *pgx.Batch, n int) error {
	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()

	for i := 0; i < n; i++ {
		if _, err := br.Exec(); err != nil {
			return err
		}
	}
	return nil
}
