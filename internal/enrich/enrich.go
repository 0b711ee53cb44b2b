// Package enrich attaches NEP-171 token metadata to flattened NFT events.
package enrich

import (
	"context"
	"encoding/json"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"nearEventStreamer/internal/metrics"
	"nearEventStreamer/internal/model"
)

// TopicSuffix is appended to an event topic to name its metadata topic.
const TopicSuffix = "_metadata"

// TokenFetcher looks up a token on its contract. A nil token means the
// contract has no such token.
type TokenFetcher interface {
	NFTToken(ctx context.Context, contract, tokenID string) (*model.Token, error)
}

// TokenStore persists fetched tokens.
type TokenStore interface {
	UpsertTokens(ctx context.Context, tokens []model.Token) error
}

type Config struct {
	Enabled     bool
	Concurrency int
}

type Enricher struct {
	cfg     Config
	fetcher TokenFetcher
	store   TokenStore
	logger  *zap.Logger
	metrics *metrics.Metrics
}

// New builds an Enricher. store and m may be nil.
func New(cfg Config, fetcher TokenFetcher, store TokenStore, logger *zap.Logger, m *metrics.Metrics) *Enricher {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 8
	}
	return &Enricher{cfg: cfg, fetcher: fetcher, store: store, logger: logger, metrics: m}
}

// MetadataTopic names the topic enriched copies of an event go to.
func MetadataTopic(eventTopic string) string {
	return eventTopic + TopicSuffix
}

// Enrich flattens e and returns one copy per item, with token metadata
// attached to mint and transfer items. It returns nothing when enrichment is
// off, the event has no emitting contract, or the payload is not batched.
// A token that cannot be fetched is recorded as missing metadata.
func (en *Enricher) Enrich(ctx context.Context, e model.Event) ([]model.Event, error) {
	if !en.cfg.Enabled || en.fetcher == nil {
		return nil, nil
	}
	contract := e.ContractAccountID()
	if contract == "" {
		return nil, nil
	}

	flats := e.Flatten()
	if len(flats) == 0 {
		return nil, nil
	}

	out := make([]model.Event, 0, len(flats))
	var fetched []model.Token
	for _, fe := range flats {
		ids := fe.Data.TokenIDs()
		if ids == nil {
			out = append(out, fe)
			continue
		}

		tokens := en.fetchTokens(ctx, contract, ids)
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		metadatas := make([]*model.TokenMetadata, len(tokens))
		extras := make([]json.RawMessage, len(tokens))
		for i, tok := range tokens {
			if tok == nil {
				continue
			}
			metadatas[i] = tok.Metadata
			extras[i] = tok.Metadata.ParseExtra()
			fetched = append(fetched, *tok)
		}
		out = append(out, fe.WithData(fe.Data.WithMetadatas(metadatas, extras)))
	}

	en.persist(ctx, fetched)
	return out, nil
}

// fetchTokens looks up every id concurrently. The result is index-aligned
// with ids; failed lookups leave nil.
func (en *Enricher) fetchTokens(ctx context.Context, contract string, ids []string) []*model.Token {
	tokens := make([]*model.Token, len(ids))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(en.cfg.Concurrency)
	for i, id := range ids {
		i, id := i, id
		g.Go(func() error {
			tok, err := en.fetcher.NFTToken(gctx, contract, id)
			if err != nil {
				en.metrics.EnrichmentItemFailed()
				en.logger.Warn("token metadata fetch failed",
					zap.Error(err),
					zap.String("contract", contract),
					zap.String("token_id", id),
				)
				return nil
			}
			tokens[i] = tok
			return nil
		})
	}
	_ = g.Wait()
	return tokens
}

func (en *Enricher) persist(ctx context.Context, tokens []model.Token) {
	if en.store == nil || len(tokens) == 0 {
		return
	}
	if err := en.store.UpsertTokens(ctx, tokens); err != nil {
		en.logger.Warn("store tokens failed", zap.Error(err), zap.Int("tokens", len(tokens)))
	}
}
