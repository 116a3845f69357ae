// Package store persists sync-session audit rows in Postgres and keeps the
// latest session in Redis for the ops API. Postgres is optional; with no
// pool configured the audit writes become no-ops and only the Redis cache
// remains.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/sellerpulse/stocksync/pkg/model"
)

const latestSessionKey = "sync:session:latest"

// Store is the persistence contract of the sync service.
type Store interface {
	RecordSession(ctx context.Context, s model.Session) error
	RecordUnmappedWarehouses(ctx context.Context, sessionID string, counts map[string]int) error
	CacheLatestSession(ctx context.Context, s model.Session, ttl time.Duration) error
	LatestSession(ctx context.Context) (*model.Session, error)
	SetJSON(ctx context.Context, key string, value any, ttl time.Duration) error
	GetJSON(ctx context.Context, key string, dest any) error
	HealthCheck(ctx context.Context) error
	Close() error
}

type HybridStore struct {
	redis  *redis.Client
	PG     *pgxpool.Pool
	logger *zap.Logger
}

type PGPoolConfig struct {
	MaxConns          int32
	MinConns          int32
	MaxConnLifetime   time.Duration
	MaxConnIdleTime   time.Duration
	HealthCheckPeriod time.Duration
}

// NewHybrid creates a Redis-first, Postgres-backed store. An empty pgURL
// skips Postgres entirely.
func NewHybrid(redisAddr string, redisDB int, pgURL string, pgPoolConfig PGPoolConfig, logger *zap.Logger) (Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	rdb := redis.NewClient(&redis.Options{
		Addr: redisAddr,
		DB:   redisDB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	var pgPool *pgxpool.Pool
	if pgURL != "" {
		cfg, err := pgxpool.ParseConfig(pgURL)
		if err != nil {
			return nil, fmt.Errorf("invalid pg config: %w", err)
		}
		if pgPoolConfig.MaxConns > 0 {
			cfg.MaxConns = pgPoolConfig.MaxConns
		}
		if pgPoolConfig.MinConns > 0 {
			cfg.MinConns = pgPoolConfig.MinConns
		}
		if pgPoolConfig.MaxConnLifetime > 0 {
			cfg.MaxConnLifetime = pgPoolConfig.MaxConnLifetime
		}
		if pgPoolConfig.MaxConnIdleTime > 0 {
			cfg.MaxConnIdleTime = pgPoolConfig.MaxConnIdleTime
		}
		if pgPoolConfig.HealthCheckPeriod > 0 {
			cfg.HealthCheckPeriod = pgPoolConfig.HealthCheckPeriod
		}
		pgPool, err = pgxpool.NewWithConfig(ctx, cfg)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to postgres: %w", err)
		}
	}

	return &HybridStore{redis: rdb, PG: pgPool, logger: logger}, nil
}

// RecordSession upserts the session audit row. Sessions are written once at
// start and again on finalization, so the conflict path updates terminal
// fields only.
func (s *HybridStore) RecordSession(ctx context.Context, sess model.Session) error {
	if s.PG == nil {
		return nil
	}
	errsJSON, err := json.Marshal(sess.Errors)
	if err != nil {
		return err
	}
	var finishedAt any
	if !sess.FinishedAt.IsZero() {
		finishedAt = sess.FinishedAt
	}
	_, err = s.PG.Exec(ctx, `
		INSERT INTO sync.sync_session (
			id, started_at, finished_at, status,
			products_processed, products_failed, errors
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id)
		DO UPDATE SET
			finished_at = EXCLUDED.finished_at,
			status = EXCLUDED.status,
			products_processed = EXCLUDED.products_processed,
			products_failed = EXCLUDED.products_failed,
			errors = EXCLUDED.errors;
	`, sess.ID, sess.StartedAt, finishedAt, string(sess.Status),
		sess.ProductsProcessed, sess.ProductsFailed, errsJSON)
	if err != nil {
		s.logger.Error("store.pg.session_upsert_failed",
			zap.String("session_id", sess.ID.String()),
			zap.Error(err))
	}
	return err
}

// RecordUnmappedWarehouses accumulates raw warehouse labels that bypassed the
// variant table, so the table can be extended later.
func (s *HybridStore) RecordUnmappedWarehouses(ctx context.Context, sessionID string, counts map[string]int) error {
	if s.PG == nil || len(counts) == 0 {
		return nil
	}
	for raw, n := range counts {
		_, err := s.PG.Exec(ctx, `
			INSERT INTO sync.unmapped_warehouse (raw_name, occurrences, last_session_id, last_seen_at)
			VALUES ($1, $2, $3, NOW())
			ON CONFLICT (raw_name)
			DO UPDATE SET
				occurrences = sync.unmapped_warehouse.occurrences + EXCLUDED.occurrences,
				last_session_id = EXCLUDED.last_session_id,
				last_seen_at = NOW();
		`, raw, n, sessionID)
		if err != nil {
			s.logger.Error("store.pg.unmapped_upsert_failed",
				zap.String("raw_name", raw),
				zap.Error(err))
			return err
		}
	}
	return nil
}

// CacheLatestSession makes the most recent session visible to the ops API.
func (s *HybridStore) CacheLatestSession(ctx context.Context, sess model.Session, ttl time.Duration) error {
	return s.SetJSON(ctx, latestSessionKey, sess, ttl)
}

// LatestSession returns the cached latest session, or nil when none has run
// since the cache expired.
func (s *HybridStore) LatestSession(ctx context.Context) (*model.Session, error) {
	var sess model.Session
	data, err := s.redis.Get(ctx, latestSessionKey).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	} else if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(data, &sess); err != nil {
		return nil, err
	}
	return &sess, nil
}

func (s *HybridStore) SetJSON(ctx context.Context, key string, value any, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return s.redis.Set(ctx, key, data, ttl).Err()
}

func (s *HybridStore) GetJSON(ctx context.Context, key string, dest any) error {
	data, err := s.redis.Get(ctx, key).Bytes()
	if err != nil {
		return err
	}
	return json.Unmarshal(data, dest)
}

func (s *HybridStore) HealthCheck(ctx context.Context) error {
	if s.redis == nil {
		return fmt.Errorf("redis not initialized")
	}
	if err := s.redis.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping failed: %w", err)
	}
	if s.PG != nil {
		if err := s.PG.Ping(ctx); err != nil {
			return fmt.Errorf("postgres ping failed: %w", err)
		}
	}
	return nil
}

func (s *HybridStore) Close() error {
	if s.PG != nil {
		s.PG.Close()
	}
	if s.redis != nil {
		return s.redis.Close()
	}
	return nil
}
