package store

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"intelligence-control-plane/internal/gateway"
)

// AuditRepo is the durable sink behind the gateway's in-memory audit log.
type AuditRepo struct {
	pool *pgxpool.Pool
}

func NewAuditRepo(pool *pgxpool.Pool) *AuditRepo {
	return &AuditRepo{pool: pool}
}

// Store implements gateway.AuditSink.
func (r *AuditRepo) Store(ctx context.Context, entry gateway.AuditEntry) error {
	return r.StoreBatch(ctx, []gateway.AuditEntry{entry})
}

func (r *AuditRepo) StoreBatch(ctx context.Context, entries []gateway.AuditEntry) error {
	if len(entries) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for i := range entries {
		entry := entries[i]
		if entry.Timestamp.IsZero() {
			entry.Timestamp = time.Now().UTC()
		}
		batch.Queue(`
			INSERT INTO gateway_audit (
				occurred_at, request_id, user_id, method, path,
				status_code, response_time_ms, client_ip, user_agent
			) VALUES (
				$1, $2, $3, $4, $5,
				$6, $7, $8, $9
			)
		`,
			entry.Timestamp,
			nullIfEmpty(entry.RequestID),
			nullIfEmpty(entry.UserID),
			entry.Method,
			entry.Path,
			entry.StatusCode,
			entry.ResponseTimeMS,
			nullIfEmpty(entry.IP),
			nullIfEmpty(entry.UserAgent),
		)
	}

	br := r.pool.SendBatch(ctx, batch)
	defer br.Close()

	for range entries {
		if _, err := br.Exec(); err != nil {
			return err
		}
	}
	return nil
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
