package record

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

const uniqueViolation = "23505"

// PostgresStore is a [Store] over database/sql using the pgx driver.
//
// Save and RevokeFamily take a transaction-scoped advisory lock on the family id, so a
// save racing a family revocation either lands before it (and is revoked by it) or
// after it (and sees the tombstone).
type PostgresStore struct {
	db *sql.DB
}

// OpenPostgres opens a pgx-backed *sql.DB for dsn and verifies connectivity.
func OpenPostgres(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return db, nil
}

// NewPostgresStore wraps an open database handle.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate applies embedded schema migrations not yet recorded in schema_migrations.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version TEXT PRIMARY KEY,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)
	`); err != nil {
		return fmt.Errorf("create schema_migrations table: %w", err)
	}

	entries, err := migrationFiles.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("read migration files: %w", err)
	}

	versions := make([]string, 0, len(entries))
	for _, entry := range entries {
		if !entry.IsDir() && strings.HasSuffix(entry.Name(), ".sql") {
			versions = append(versions, entry.Name())
		}
	}
	sort.Strings(versions)

	for _, version := range versions {
		var exists bool
		if err := s.db.QueryRowContext(ctx,
			`SELECT EXISTS(SELECT 1 FROM schema_migrations WHERE version = $1)`, version,
		).Scan(&exists); err != nil {
			return fmt.Errorf("check migration %s: %w", version, err)
		}
		if exists {
			continue
		}

		script, err := migrationFiles.ReadFile("migrations/" + version)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", version, err)
		}

		err = s.withTx(ctx, func(tx *sql.Tx) error {
			if _, err := tx.ExecContext(ctx, string(script)); err != nil {
				return fmt.Errorf("execute migration %s: %w", version, err)
			}
			if _, err := tx.ExecContext(ctx, `INSERT INTO schema_migrations (version) VALUES ($1)`, version); err != nil {
				return fmt.Errorf("record migration %s: %w", version, err)
			}
			return nil
		})
		if err != nil {
			return err
		}
	}

	return nil
}

// Save inserts rec under the family lock, revoking it if the family is tombstoned.
func (s *PostgresStore) Save(ctx context.Context, rec Record) error {
	if err := rec.Validate(); err != nil {
		return err
	}

	err := s.withTx(ctx, func(tx *sql.Tx) error {
		if err := lockFamily(ctx, tx, rec.FamilyID); err != nil {
			return err
		}

		var tombstoned bool
		if err := tx.QueryRowContext(ctx,
			`SELECT EXISTS(SELECT 1 FROM refresh_family_revocations WHERE family_id = $1)`, rec.FamilyID,
		).Scan(&tombstoned); err != nil {
			return err
		}

		if _, err := tx.ExecContext(ctx, `
			INSERT INTO refresh_records (id, family_id, previous_id, principal, revoked, issued_at, expires_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
		`, rec.ID, rec.FamilyID, rec.PreviousID, rec.Principal, rec.Revoked || tombstoned,
			rec.IssuedAt.UTC(), rec.ExpiresAt.UTC()); err != nil {
			return err
		}

		if tombstoned {
			if _, err := tx.ExecContext(ctx, `
				UPDATE refresh_family_revocations SET horizon = GREATEST(horizon, $2) WHERE family_id = $1
			`, rec.FamilyID, rec.ExpiresAt.UTC()); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return ErrDuplicateID
		}
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}

// FindByID selects one record.
func (s *PostgresStore) FindByID(ctx context.Context, id string) (Record, error) {
	var rec Record
	err := s.db.QueryRowContext(ctx, `
		SELECT id, family_id, previous_id, principal, revoked, issued_at, expires_at
		FROM refresh_records
		WHERE id = $1
	`, id).Scan(&rec.ID, &rec.FamilyID, &rec.PreviousID, &rec.Principal, &rec.Revoked, &rec.IssuedAt, &rec.ExpiresAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Record{}, ErrNotFound
		}
		return Record{}, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return rec, nil
}

// SetRevoked is a conditional UPDATE; exactly one concurrent caller affects a row.
func (s *PostgresStore) SetRevoked(ctx context.Context, id string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE refresh_records SET revoked = TRUE WHERE id = $1 AND revoked = FALSE`, id)
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if affected == 1 {
		return true, nil
	}

	var exists bool
	if err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM refresh_records WHERE id = $1)`, id,
	).Scan(&exists); err != nil {
		return false, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if !exists {
		return false, ErrNotFound
	}
	return false, nil
}

// RevokeFamily revokes all members and upserts the family tombstone.
func (s *PostgresStore) RevokeFamily(ctx context.Context, familyID string) (int, error) {
	var transitioned int64
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		if err := lockFamily(ctx, tx, familyID); err != nil {
			return err
		}

		res, err := tx.ExecContext(ctx,
			`UPDATE refresh_records SET revoked = TRUE WHERE family_id = $1 AND revoked = FALSE`, familyID)
		if err != nil {
			return err
		}
		if transitioned, err = res.RowsAffected(); err != nil {
			return err
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO refresh_family_revocations (family_id, horizon)
			SELECT $1, COALESCE(MAX(expires_at), NOW()) FROM refresh_records WHERE family_id = $1
			ON CONFLICT (family_id) DO UPDATE SET horizon = GREATEST(refresh_family_revocations.horizon, EXCLUDED.horizon)
		`, familyID)
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return int(transitioned), nil
}

// FamilyMembers selects the family ordered by issuance.
func (s *PostgresStore) FamilyMembers(ctx context.Context, familyID string) ([]Record, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, family_id, previous_id, principal, revoked, issued_at, expires_at
		FROM refresh_records
		WHERE family_id = $1
		ORDER BY issued_at ASC, id ASC
	`, familyID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	defer rows.Close()

	out := make([]Record, 0, 4)
	for rows.Next() {
		var rec Record
		if err := rows.Scan(&rec.ID, &rec.FamilyID, &rec.PreviousID, &rec.Principal, &rec.Revoked, &rec.IssuedAt, &rec.ExpiresAt); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return out, nil
}

// DeleteExpiredBefore deletes expired records and stale tombstones.
func (s *PostgresStore) DeleteExpiredBefore(ctx context.Context, cutoff time.Time) (int, error) {
	var deleted int64
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `DELETE FROM refresh_records WHERE expires_at < $1`, cutoff.UTC())
		if err != nil {
			return err
		}
		if deleted, err = res.RowsAffected(); err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, `
			DELETE FROM refresh_family_revocations t
			WHERE t.horizon < $1
			  AND NOT EXISTS (SELECT 1 FROM refresh_records r WHERE r.family_id = t.family_id)
		`, cutoff.UTC())
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return int(deleted), nil
}

func (s *PostgresStore) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

func lockFamily(ctx context.Context, tx *sql.Tx, familyID string) error {
	_, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, familyID)
	return err
}
