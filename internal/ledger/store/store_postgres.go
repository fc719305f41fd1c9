package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"custodia/internal/ledger/models"
	id "custodia/pkg/domain"
	dErrors "custodia/pkg/domain-errors"
)

// PostgresStore persists ledger records in PostgreSQL. Records are inserted
// once and never updated; access entries live in a side table so the
// canonical row stays immutable.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgres constructs a PostgreSQL-backed ledger store.
func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Insert(ctx context.Context, record *models.Record) error {
	if record == nil {
		return dErrors.New(dErrors.CodeInvalidInput, "record is required")
	}
	metadata, err := json.Marshal(record.Metadata)
	if err != nil {
		return fmt.Errorf("encode metadata: %w", err)
	}
	query := `
		INSERT INTO ledger_records
			(id, subject, event_type, payload, sealed, metadata, actor, hash, previous_hash, recorded_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`
	_, err = s.db.ExecContext(ctx, query,
		uuid.UUID(record.ID),
		record.Subject.String(),
		record.Type,
		record.Payload,
		record.Sealed,
		metadata,
		record.Actor.String(),
		record.Hash,
		nullable(record.PreviousHash),
		record.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("insert record: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListBySubject(ctx context.Context, subject id.SubjectKey) ([]*models.Record, error) {
	query := `
		SELECT id, subject, event_type, payload, sealed, metadata, actor, hash, previous_hash, recorded_at
		FROM ledger_records
		WHERE subject = $1
		ORDER BY recorded_at, id
	`
	rows, err := s.db.QueryContext(ctx, query, subject.String())
	if err != nil {
		return nil, fmt.Errorf("list records: %w", err)
	}
	defer rows.Close()

	var records []*models.Record
	for rows.Next() {
		record, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		if err := s.loadAccessLog(ctx, record); err != nil {
			return nil, err
		}
		records = append(records, record)
	}
	return records, rows.Err()
}

func (s *PostgresStore) Head(ctx context.Context, subject id.SubjectKey) (*models.Record, error) {
	query := `
		SELECT id, subject, event_type, payload, sealed, metadata, actor, hash, previous_hash, recorded_at
		FROM ledger_records
		WHERE subject = $1
		ORDER BY recorded_at DESC, id DESC
		LIMIT 1
	`
	record, err := scanRecord(s.db.QueryRowContext(ctx, query, subject.String()))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("load chain head: %w", err)
	}
	return record, nil
}

func (s *PostgresStore) FindByID(ctx context.Context, recordID id.RecordID) (*models.Record, error) {
	query := `
		SELECT id, subject, event_type, payload, sealed, metadata, actor, hash, previous_hash, recorded_at
		FROM ledger_records
		WHERE id = $1
	`
	record, err := scanRecord(s.db.QueryRowContext(ctx, query, uuid.UUID(recordID)))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, dErrors.New(dErrors.CodeNotFound, "record not found")
		}
		return nil, fmt.Errorf("find record: %w", err)
	}
	if err := s.loadAccessLog(ctx, record); err != nil {
		return nil, err
	}
	return record, nil
}

func (s *PostgresStore) AppendAccessEntry(ctx context.Context, recordID id.RecordID, entry models.AccessEntry) error {
	query := `
		INSERT INTO ledger_access_entries (record_id, accessor, role, accessed_at, purpose, grant_ref)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	result, err := s.db.ExecContext(ctx, query,
		uuid.UUID(recordID),
		entry.Accessor.String(),
		entry.Role,
		entry.AccessedAt,
		entry.Purpose,
		entry.GrantRef,
	)
	if err != nil {
		return fmt.Errorf("append access entry: %w", err)
	}
	if n, err := result.RowsAffected(); err == nil && n == 0 {
		return dErrors.New(dErrors.CodeNotFound, "record not found")
	}
	return nil
}

func (s *PostgresStore) loadAccessLog(ctx context.Context, record *models.Record) error {
	query := `
		SELECT accessor, role, accessed_at, purpose, grant_ref
		FROM ledger_access_entries
		WHERE record_id = $1
		ORDER BY accessed_at
	`
	rows, err := s.db.QueryContext(ctx, query, uuid.UUID(record.ID))
	if err != nil {
		return fmt.Errorf("load access log: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var entry models.AccessEntry
		var accessor string
		if err := rows.Scan(&accessor, &entry.Role, &entry.AccessedAt, &entry.Purpose, &entry.GrantRef); err != nil {
			return fmt.Errorf("scan access entry: %w", err)
		}
		entry.Accessor = id.DID(accessor)
		record.AccessLog = append(record.AccessLog, entry)
	}
	return rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (*models.Record, error) {
	var (
		record       models.Record
		recordID     uuid.UUID
		subject      string
		actor        string
		metadata     []byte
		previousHash sql.NullString
	)
	err := row.Scan(&recordID, &subject, &record.Type, &record.Payload, &record.Sealed,
		&metadata, &actor, &record.Hash, &previousHash, &record.Timestamp)
	if err != nil {
		return nil, err
	}
	record.ID = id.RecordID(recordID)
	record.Subject = id.SubjectKey(subject)
	record.Actor = id.DID(actor)
	record.PreviousHash = previousHash.String
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &record.Metadata); err != nil {
			return nil, fmt.Errorf("decode metadata: %w", err)
		}
	}
	return &record, nil
}

func nullable(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
