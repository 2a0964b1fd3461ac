package db

import (
	"context"
	_ "embed"
	"fmt"
	"log"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/meshguard/fraudhub/pkg/models"
)

// Optional advisory archive.
//
// The hub is fully in-memory; advisories older than the store bound are
// gone after eviction and everything is gone after a restart. When a
// DATABASE_URL is configured, every issued advisory is also written
// here for durable audit. The hub never reads this table; it is
// write-only from the process's point of view.

// schemaSQL is compiled into the binary at build time so schema init
// works inside runtime images that do not ship the .sql file.
//
//go:embed schema.sql
var schemaSQL string

type ArchiveStore struct {
	pool *pgxpool.Pool
}

// Connect initializes the connection pool to PostgreSQL using pgx.
func Connect(connStr string) (*ArchiveStore, error) {
	pool, err := pgxpool.New(context.Background(), connStr)
	if err != nil {
		return nil, fmt.Errorf("unable to connect to database: %v", err)
	}

	if err := pool.Ping(context.Background()); err != nil {
		return nil, fmt.Errorf("ping failed: %v", err)
	}

	log.Println("Connected to PostgreSQL advisory archive")
	return &ArchiveStore{pool: pool}, nil
}

// Close gracefully closes the connection pool.
func (s *ArchiveStore) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// InitSchema executes the embedded schema.sql DDL statements.
func (s *ArchiveStore) InitSchema() error {
	_, err := s.pool.Exec(context.Background(), schemaSQL)
	if err != nil {
		return fmt.Errorf("failed to execute schema migrations: %v", err)
	}

	log.Println("Advisory archive schema initialized")
	return nil
}

// SaveAdvisory appends one advisory to the archive. Advisory ids are
// only coarse-unique (second plus fingerprint prefix), so rows carry a
// surrogate key and duplicates of the id are allowed.
func (s *ArchiveStore) SaveAdvisory(ctx context.Context, adv models.Advisory) error {
	sql := `
		INSERT INTO advisories
			(id, advisory_id, fingerprint, severity, fraud_score, entity_count,
			 confidence, message, recommended_actions, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10);
	`
	_, err := s.pool.Exec(ctx, sql,
		uuid.New(),
		adv.AdvisoryID,
		adv.Fingerprint,
		string(adv.Severity),
		adv.FraudScore,
		adv.EntityCount,
		string(adv.Confidence),
		adv.Message,
		adv.RecommendedActions,
		adv.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("failed to insert advisory: %v", err)
	}
	return nil
}
