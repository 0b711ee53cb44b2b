package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"nearEventStreamer/internal/jsoncodec"
	"nearEventStreamer/internal/model"
)

const schema = `
CREATE TABLE IF NOT EXISTS nft_tokens (
	id                   TEXT PRIMARY KEY,
	contract_account_id  TEXT NOT NULL,
	token_id             TEXT NOT NULL,
	owner_id             TEXT NOT NULL,
	metadata             JSONB,
	metadata_extra       JSONB,
	approved_account_ids JSONB,
	created_at           TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at           TIMESTAMPTZ NOT NULL DEFAULT now()
)`

const upsertToken = `
	INSERT INTO nft_tokens (
		id, contract_account_id, token_id, owner_id, metadata, metadata_extra, approved_account_ids, created_at, updated_at
	) VALUES ($1, $2, $3, $4, $5, $6, $7, now(), now())
	ON CONFLICT (id)
	DO UPDATE SET
		owner_id = EXCLUDED.owner_id,
		metadata = EXCLUDED.metadata,
		metadata_extra = EXCLUDED.metadata_extra,
		approved_account_ids = EXCLUDED.approved_account_ids,
		updated_at = now()
`

// pool is the part of *pgxpool.Pool the store uses.
type pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
	Close()
}

// Store persists fetched NFT tokens in Postgres.
type Store struct {
	pool pool
}

func NewStore(ctx context.Context, dsn string) (*Store, error) {
	if dsn == "" {
		return nil, fmt.Errorf("pg dsn is required")
	}
	p, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, err
	}
	return &Store{pool: p}, nil
}

func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// EnsureSchema creates the token table when it is missing.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("create nft_tokens: %w", err)
	}
	return nil
}

// UpsertTokens inserts or updates tokens keyed by "{contract}:{token}".
// Tokens without a known contract are skipped.
func (s *Store) UpsertTokens(ctx context.Context, tokens []model.Token) error {
	batch := &pgx.Batch{}
	for _, tok := range tokens {
		if tok.ContractAccountID == nil {
			continue
		}
		id, _ := tok.GetID()
		args, err := tokenArgs(id, tok)
		if err != nil {
			return err
		}
		batch.Queue(upsertToken, args...)
	}
	if batch.Len() == 0 {
		return nil
	}

	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()

	for i := 0; i < batch.Len(); i++ {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("upsert token: %w", err)
		}
	}
	return nil
}

func tokenArgs(id string, tok model.Token) ([]any, error) {
	metadata, err := jsonbValue(tok.Metadata != nil, tok.Metadata)
	if err != nil {
		return nil, fmt.Errorf("encode metadata of %s: %w", id, err)
	}
	approved, err := jsonbValue(tok.ApprovedAccountIDs != nil, tok.ApprovedAccountIDs)
	if err != nil {
		return nil, fmt.Errorf("encode approvals of %s: %w", id, err)
	}
	var extra []byte
	if len(tok.MetadataExtra) > 0 {
		extra = tok.MetadataExtra
	}
	return []any{id, *tok.ContractAccountID, tok.TokenID, tok.OwnerID, metadata, extra, approved}, nil
}

func jsonbValue(present bool, v any) ([]byte, error) {
	if !present {
		return nil, nil
	}
	return jsoncodec.Marshal(v)
}
