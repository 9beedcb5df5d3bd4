package keyvault

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/nikhilbhutani/docrag/internal/apperr"
	"github.com/nikhilbhutani/docrag/internal/models"
)

// Store persists encrypted keys. Every method except the rotation helpers
// is scoped to one organization.
type Store interface {
	Create(ctx context.Context, key *models.LLMKey) error
	List(ctx context.Context, orgID uuid.UUID) ([]models.LLMKey, error)
	Get(ctx context.Context, orgID, id uuid.UUID) (*models.LLMKey, error)
	Update(ctx context.Context, key *models.LLMKey) error
	Delete(ctx context.Context, orgID, id uuid.UUID) error
	// Activate marks id active and every other key of the org inactive.
	Activate(ctx context.Context, orgID, id uuid.UUID) (*models.LLMKey, error)
	Active(ctx context.Context, orgID uuid.UUID) (*models.LLMKey, error)
	TouchLastUsed(ctx context.Context, id uuid.UUID, at time.Time) error

	ListAll(ctx context.Context) ([]models.LLMKey, error)
	// SwapCiphertext replaces old with updated, returning false if the row
	// changed since it was read.
	SwapCiphertext(ctx context.Context, id uuid.UUID, old, updated string) (bool, error)
}

const keyColumns = `id, organization_id, provider, key_name, api_key_encrypted, key_hint, is_active, last_used_at, created_at, updated_at`

type PgStore struct {
	db *pgxpool.Pool
}

func NewPgStore(db *pgxpool.Pool) *PgStore {
	return &PgStore{db: db}
}

func scanKey(row pgx.Row) (*models.LLMKey, error) {
	var k models.LLMKey
	err := row.Scan(&k.ID, &k.OrganizationID, &k.Provider, &k.KeyName, &k.Ciphertext, &k.KeyHint,
		&k.IsActive, &k.LastUsedAt, &k.CreatedAt, &k.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.NotFound("llm key not found")
	}
	if err != nil {
		return nil, err
	}
	return &k, nil
}

func (s *PgStore) Create(ctx context.Context, key *models.LLMKey) error {
	err := s.db.QueryRow(ctx,
		`INSERT INTO llm_keys (id, organization_id, provider, key_name, api_key_encrypted, key_hint, is_active)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 RETURNING created_at, updated_at`,
		key.ID, key.OrganizationID, key.Provider, key.KeyName, key.Ciphertext, key.KeyHint, key.IsActive,
	).Scan(&key.CreatedAt, &key.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert llm key: %w", err)
	}
	return nil
}

func (s *PgStore) List(ctx context.Context, orgID uuid.UUID) ([]models.LLMKey, error) {
	rows, err := s.db.Query(ctx,
		`SELECT `+keyColumns+` FROM llm_keys WHERE organization_id = $1 ORDER BY created_at DESC`, orgID)
	if err != nil {
		return nil, fmt.Errorf("query llm keys: %w", err)
	}
	defer rows.Close()

	keys := []models.LLMKey{}
	for rows.Next() {
		k, err := scanKey(rows)
		if err != nil {
			return nil, fmt.Errorf("scan llm key: %w", err)
		}
		keys = append(keys, *k)
	}
	return keys, rows.Err()
}

func (s *PgStore) Get(ctx context.Context, orgID, id uuid.UUID) (*models.LLMKey, error) {
	return scanKey(s.db.QueryRow(ctx,
		`SELECT `+keyColumns+` FROM llm_keys WHERE id = $1 AND organization_id = $2`, id, orgID))
}

func (s *PgStore) Update(ctx context.Context, key *models.LLMKey) error {
	tag, err := s.db.Exec(ctx,
		`UPDATE llm_keys SET key_name = $3, api_key_encrypted = $4, key_hint = $5, updated_at = now()
		 WHERE id = $1 AND organization_id = $2`,
		key.ID, key.OrganizationID, key.KeyName, key.Ciphertext, key.KeyHint,
	)
	if err != nil {
		return fmt.Errorf("update llm key: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("llm key not found")
	}
	return nil
}

func (s *PgStore) Delete(ctx context.Context, orgID, id uuid.UUID) error {
	tag, err := s.db.Exec(ctx, `DELETE FROM llm_keys WHERE id = $1 AND organization_id = $2`, id, orgID)
	if err != nil {
		return fmt.Errorf("delete llm key: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("llm key not found")
	}
	return nil
}

func (s *PgStore) Activate(ctx context.Context, orgID, id uuid.UUID) (*models.LLMKey, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	// Deactivate first so the one-active-key unique index never sees two.
	if _, err := tx.Exec(ctx,
		`UPDATE llm_keys SET is_active = false, updated_at = now()
		 WHERE organization_id = $1 AND id <> $2 AND is_active`, orgID, id); err != nil {
		return nil, fmt.Errorf("deactivate llm keys: %w", err)
	}

	key, err := scanKey(tx.QueryRow(ctx,
		`UPDATE llm_keys SET is_active = true, last_used_at = now(), updated_at = now()
		 WHERE id = $1 AND organization_id = $2
		 RETURNING `+keyColumns, id, orgID))
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return nil, apperr.Conflict("another key was activated concurrently")
		}
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit activate: %w", err)
	}
	return key, nil
}

func (s *PgStore) Active(ctx context.Context, orgID uuid.UUID) (*models.LLMKey, error) {
	return scanKey(s.db.QueryRow(ctx,
		`SELECT `+keyColumns+` FROM llm_keys WHERE organization_id = $1 AND is_active`, orgID))
}

func (s *PgStore) TouchLastUsed(ctx context.Context, id uuid.UUID, at time.Time) error {
	_, err := s.db.Exec(ctx, `UPDATE llm_keys SET last_used_at = $2 WHERE id = $1`, id, at)
	return err
}

func (s *PgStore) ListAll(ctx context.Context) ([]models.LLMKey, error) {
	rows, err := s.db.Query(ctx, `SELECT `+keyColumns+` FROM llm_keys ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("query llm keys: %w", err)
	}
	defer rows.Close()

	var keys []models.LLMKey
	for rows.Next() {
		k, err := scanKey(rows)
		if err != nil {
			return nil, fmt.Errorf("scan llm key: %w", err)
		}
		keys = append(keys, *k)
	}
	return keys, rows.Err()
}

func (s *PgStore) SwapCiphertext(ctx context.Context, id uuid.UUID, old, updated string) (bool, error) {
	tag, err := s.db.Exec(ctx,
		`UPDATE llm_keys SET api_key_encrypted = $3 WHERE id = $1 AND api_key_encrypted = $2`,
		id, old, updated)
	if err != nil {
		return false, fmt.Errorf("swap ciphertext: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}
