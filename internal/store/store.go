// Package store is the optional PostgreSQL sink for finding records. The
// on-disk artifact directory is the run's source of truth; the database is a
// queryable mirror for fleet-wide reporting and is skipped entirely when no
// connection URL is configured.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/verityscan/verity-cli/api/schemas"
)

var jsonx = jsoniter.ConfigCompatibleWithStandardLibrary

// DBPool abstracts pgxpool.Pool so tests can substitute a mock.
type DBPool interface {
	Ping(ctx context.Context) error
	Begin(ctx context.Context) (pgx.Tx, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	CopyFrom(ctx context.Context, tableName pgx.Identifier, columnNames []string, rowSrc pgx.CopyFromSource) (int64, error)
}

// Store provides the PostgreSQL persistence for findings.
type Store struct {
	pool DBPool
	log  *zap.Logger
}

// New creates a store instance and verifies the connection.
func New(ctx context.Context, pool DBPool, logger *zap.Logger) (*Store, error) {
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return &Store{
		pool: pool,
		log:  logger.Named("store"),
	}, nil
}

// PersistRun records the run row and bulk-inserts its findings in one
// transaction. Either everything lands or nothing does; the database mirror
// follows the same no-partial-commit rule as the artifact directory.
func (s *Store) PersistRun(ctx context.Context, runID, targetURL string, findings []schemas.Finding) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		// Rollback on an already committed tx returns pgx.ErrTxClosed; that
		// is the normal success path, not an error worth logging.
		if rollbackErr := tx.Rollback(ctx); rollbackErr != nil && !errors.Is(rollbackErr, pgx.ErrTxClosed) {
			s.log.Error("Failed to rollback transaction", zap.Error(rollbackErr))
		}
	}()

	if err := s.persistRunRow(ctx, tx, runID, targetURL, len(findings)); err != nil {
		return err
	}
	if len(findings) > 0 {
		if err := s.persistFindings(ctx, tx, runID, findings); err != nil {
			return err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func (s *Store) persistRunRow(ctx context.Context, tx pgx.Tx, runID, targetURL string, count int) error {
	sql := `
        INSERT INTO runs (id, target_url, finding_count, completed_at)
        VALUES ($1, $2, $3, $4)
        ON CONFLICT (id) DO UPDATE SET
            finding_count = EXCLUDED.finding_count,
            completed_at = EXCLUDED.completed_at;
    `
	if _, err := tx.Exec(ctx, sql, runID, targetURL, count, time.Now().UTC()); err != nil {
		return fmt.Errorf("failed to persist run row: %w", err)
	}
	return nil
}

func (s *Store) persistFindings(ctx context.Context, tx pgx.Tx, runID string, findings []schemas.Finding) error {
	rows := make([][]interface{}, len(findings))
	for i, f := range findings {
		evidence, err := marshalOrEmpty(f.EvidencePackage)
		if err != nil {
			return fmt.Errorf("failed to encode evidence package for finding %s: %w", f.ID, err)
		}
		guardrails, err := marshalOrEmpty(f.Guardrails)
		if err != nil {
			return fmt.Errorf("failed to encode guardrail report for finding %s: %w", f.ID, err)
		}
		confidence, err := jsonx.Marshal(f.Confidence)
		if err != nil {
			return fmt.Errorf("failed to encode confidence for finding %s: %w", f.ID, err)
		}

		rows[i] = []interface{}{
			f.ID, runID, f.ExpNum,
			string(f.Type), string(f.Status), string(f.Severity),
			confidence, f.Description,
			evidence, guardrails,
			string(f.DecisionUsefulness),
			f.DetectedAt.UTC(),
		}
	}

	copyCount, err := tx.CopyFrom(
		ctx,
		pgx.Identifier{"findings"},
		[]string{"id", "run_id", "exp_num", "type", "status", "severity", "confidence", "description", "evidence_package", "guardrails", "decision_usefulness", "detected_at"},
		pgx.CopyFromRows(rows),
	)
	if err != nil {
		return fmt.Errorf("failed to copy findings: %w", err)
	}
	if int(copyCount) != len(findings) {
		return fmt.Errorf("mismatch in copied findings count: expected %d, got %d", len(findings), copyCount)
	}
	return nil
}

// GetFindingsByRunID loads a run's findings in detection order.
func (s *Store) GetFindingsByRunID(ctx context.Context, runID string) ([]schemas.Finding, error) {
	query := `
        SELECT id, exp_num, type, status, severity, confidence, description, evidence_package, guardrails, decision_usefulness, detected_at
        FROM findings
        WHERE run_id = $1
        ORDER BY detected_at ASC;
    `
	rows, err := s.pool.Query(ctx, query, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query findings: %w", err)
	}
	defer rows.Close()

	var findings []schemas.Finding
	for rows.Next() {
		var (
			f              schemas.Finding
			ftype          string
			status         string
			severity       string
			confidenceJSON []byte
			evidenceJSON   []byte
			guardrailsJSON []byte
			usefulness     string
		)
		err := rows.Scan(
			&f.ID, &f.ExpNum, &ftype, &status, &severity,
			&confidenceJSON, &f.Description,
			&evidenceJSON, &guardrailsJSON,
			&usefulness, &f.DetectedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan finding row: %w", err)
		}

		f.RunID = runID
		f.Type = schemas.FindingType(ftype)
		f.Status = schemas.TruthStatus(status)
		f.Severity = schemas.Severity(severity)
		f.DecisionUsefulness = schemas.DecisionUsefulness(usefulness)
		if err := jsonx.Unmarshal(confidenceJSON, &f.Confidence); err != nil {
			return nil, fmt.Errorf("failed to decode confidence for finding %s: %w", f.ID, err)
		}
		if len(evidenceJSON) > 0 && string(evidenceJSON) != "{}" {
			f.EvidencePackage = &schemas.EvidencePackage{}
			if err := jsonx.Unmarshal(evidenceJSON, f.EvidencePackage); err != nil {
				return nil, fmt.Errorf("failed to decode evidence package for finding %s: %w", f.ID, err)
			}
		}
		if len(guardrailsJSON) > 0 && string(guardrailsJSON) != "{}" {
			f.Guardrails = &schemas.GuardrailReport{}
			if err := jsonx.Unmarshal(guardrailsJSON, f.Guardrails); err != nil {
				return nil, fmt.Errorf("failed to decode guardrail report for finding %s: %w", f.ID, err)
			}
		}
		findings = append(findings, f)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during row iteration: %w", err)
	}
	return findings, nil
}

// marshalOrEmpty encodes v, substituting an empty JSON object for nil so the
// jsonb columns never hold SQL nulls.
func marshalOrEmpty(v interface{}) ([]byte, error) {
	if v == nil {
		return []byte("{}"), nil
	}
	switch typed := v.(type) {
	case *schemas.EvidencePackage:
		if typed == nil {
			return []byte("{}"), nil
		}
	case *schemas.GuardrailReport:
		if typed == nil {
			return []byte("{}"), nil
		}
	}
	return jsonx.Marshal(v)
}
