// Package store persists dynamically loaded provider source code and skill
// content in SQLite. The sandbox layer only ever reads parameterized values
// through this package; no connection handle is exposed to guest code.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/cespare/xxhash/v2"
	_ "github.com/mattn/go-sqlite3"
)

// Store handles SQLite operations for provider code and skills.
type Store struct {
	db *sql.DB
}

// ProviderRecord is one dynamically loaded provider's persisted state.
type ProviderRecord struct {
	Name      string
	Enabled   bool
	Code      string
	CodeHash  string
	UpdatedAt time.Time
}

// SkillRecord is one named piece of skill content.
type SkillRecord struct {
	Name        string
	Description string
	Content     string
	UpdatedAt   time.Time
}

// Open creates the database file (and its directory) if needed and migrates
// the schema.
func Open(dbPath string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS providers (
		name TEXT PRIMARY KEY,
		enabled BOOLEAN NOT NULL DEFAULT TRUE,
		code TEXT NOT NULL,
		code_hash TEXT NOT NULL,
		updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS skills (
		name TEXT PRIMARY KEY,
		description TEXT NOT NULL DEFAULT '',
		content TEXT NOT NULL,
		updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

// CodeHash returns the content hash used to detect unchanged provider code.
func CodeHash(code string) string {
	return fmt.Sprintf("%016x", xxhash.Sum64String(code))
}

// SaveProvider upserts provider code. changed is false when the stored code
// already carries the same hash, letting callers skip a pointless reload.
func (s *Store) SaveProvider(ctx context.Context, name, code string) (changed bool, err error) {
	hash := CodeHash(code)

	var existing string
	err = s.db.QueryRowContext(ctx, "SELECT code_hash FROM providers WHERE name = ?", name).Scan(&existing)
	switch {
	case err == sql.ErrNoRows:
		// First save
	case err != nil:
		return false, fmt.Errorf("failed to query provider %s: %w", name, err)
	case existing == hash:
		return false, nil
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO providers (name, enabled, code, code_hash, updated_at)
		VALUES (?, TRUE, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(name) DO UPDATE SET
			code = excluded.code,
			code_hash = excluded.code_hash,
			updated_at = CURRENT_TIMESTAMP`,
		name, code, hash)
	if err != nil {
		return false, fmt.Errorf("failed to save provider %s: %w", name, err)
	}
	return true, nil
}

// SetProviderEnabled toggles a provider without touching its code.
func (s *Store) SetProviderEnabled(ctx context.Context, name string, enabled bool) error {
	res, err := s.db.ExecContext(ctx,
		"UPDATE providers SET enabled = ?, updated_at = CURRENT_TIMESTAMP WHERE name = ?",
		enabled, name)
	if err != nil {
		return fmt.Errorf("failed to update provider %s: %w", name, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("provider not found: %s", name)
	}
	return nil
}

// GetProvider returns the persisted record for one provider.
func (s *Store) GetProvider(ctx context.Context, name string) (*ProviderRecord, error) {
	rec := &ProviderRecord{}
	err := s.db.QueryRowContext(ctx,
		"SELECT name, enabled, code, code_hash, updated_at FROM providers WHERE name = ?", name).
		Scan(&rec.Name, &rec.Enabled, &rec.Code, &rec.CodeHash, &rec.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load provider %s: %w", name, err)
	}
	return rec, nil
}

// ListProviders returns all persisted providers ordered by name.
func (s *Store) ListProviders(ctx context.Context) ([]ProviderRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT name, enabled, code, code_hash, updated_at FROM providers ORDER BY name")
	if err != nil {
		return nil, fmt.Errorf("failed to list providers: %w", err)
	}
	defer rows.Close()

	var records []ProviderRecord
	for rows.Next() {
		var rec ProviderRecord
		if err := rows.Scan(&rec.Name, &rec.Enabled, &rec.Code, &rec.CodeHash, &rec.UpdatedAt); err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// DeleteProvider removes a provider record. Missing records are a no-op.
func (s *Store) DeleteProvider(ctx context.Context, name string) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM providers WHERE name = ?", name); err != nil {
		return fmt.Errorf("failed to delete provider %s: %w", name, err)
	}
	return nil
}

// UpsertSkill stores skill content under a name.
func (s *Store) UpsertSkill(ctx context.Context, name, description, content string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO skills (name, description, content, updated_at)
		VALUES (?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(name) DO UPDATE SET
			description = excluded.description,
			content = excluded.content,
			updated_at = CURRENT_TIMESTAMP`,
		name, description, content)
	if err != nil {
		return fmt.Errorf("failed to save skill %s: %w", name, err)
	}
	return nil
}

// DeleteSkill removes a skill. Missing skills are a no-op.
func (s *Store) DeleteSkill(ctx context.Context, name string) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM skills WHERE name = ?", name); err != nil {
		return fmt.Errorf("failed to delete skill %s: %w", name, err)
	}
	return nil
}

// SkillContent resolves a skill's content. Implements the sandbox bridge's
// skill lookup: a missing skill is (_, false, nil), not an error.
func (s *Store) SkillContent(ctx context.Context, name string) (string, bool, error) {
	var content string
	err := s.db.QueryRowContext(ctx, "SELECT content FROM skills WHERE name = ?", name).Scan(&content)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to load skill %s: %w", name, err)
	}
	return content, true, nil
}

// ListSkills returns name and description of every skill, ordered by name.
// Content is omitted; it can be large.
func (s *Store) ListSkills(ctx context.Context) ([]SkillRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT name, description, updated_at FROM skills ORDER BY name")
	if err != nil {
		return nil, fmt.Errorf("failed to list skills: %w", err)
	}
	defer rows.Close()

	var records []SkillRecord
	for rows.Next() {
		var rec SkillRecord
		if err := rows.Scan(&rec.Name, &rec.Description, &rec.UpdatedAt); err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}
