package device

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/tagsakay/tagsakay-core/internal/infrastructure/database"
)

// APIKeyRepository persists generic API keys.
type APIKeyRepository interface {
	Create(ctx context.Context, key *APIKey) error
	GetByID(ctx context.Context, id string) (*APIKey, error)
	List(ctx context.Context) ([]APIKey, error)
	ListActive(ctx context.Context) ([]APIKey, error)
	Deactivate(ctx context.Context, id string) error
	TouchLastUsed(ctx context.Context, id string, at time.Time) error
}

// SQLiteAPIKeyRepository implements APIKeyRepository using SQLite.
type SQLiteAPIKeyRepository struct {
	db *sql.DB
}

// NewAPIKeyRepository creates a new SQLite-backed API key repository.
func NewAPIKeyRepository(db *sql.DB) *SQLiteAPIKeyRepository {
	return &SQLiteAPIKeyRepository{db: db}
}

const apiKeyColumns = `id, name, device_id, description, key_hash, prefix, permissions, type,
	is_active, last_used, created_by, created_at, updated_at`

// Create inserts a new API key.
func (r *SQLiteAPIKeyRepository) Create(ctx context.Context, k *APIKey) error {
	now := time.Now().UTC()
	if k.ID == "" {
		k.ID = GenerateID("key")
	}
	if k.Type == "" {
		k.Type = KeyTypeDevice
	}
	if k.Permissions == nil {
		k.Permissions = []string{}
	}
	k.CreatedAt = now
	k.UpdatedAt = now

	perms, err := json.Marshal(k.Permissions)
	if err != nil {
		return fmt.Errorf("marshalling permissions: %w", err)
	}

	_, err = r.db.ExecContext(ctx,
		`INSERT INTO api_keys (`+apiKeyColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		k.ID, k.Name, database.NullString(k.DeviceID), k.Description, k.KeyHash, k.Prefix,
		string(perms), string(k.Type), database.BoolToInt(k.IsActive),
		database.NullTimestamp(k.LastUsed), database.NullString(k.CreatedBy),
		database.Timestamp(now), database.Timestamp(now),
	)
	if err != nil {
		return fmt.Errorf("inserting api key: %w", err)
	}
	return nil
}

// GetByID retrieves an API key by id.
func (r *SQLiteAPIKeyRepository) GetByID(ctx context.Context, id string) (*APIKey, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+apiKeyColumns+` FROM api_keys WHERE id = ?`, id)
	k, err := scanAPIKey(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrAPIKeyNotFound
		}
		return nil, fmt.Errorf("querying api key: %w", err)
	}
	return k, nil
}

// List retrieves all API keys, newest first.
func (r *SQLiteAPIKeyRepository) List(ctx context.Context) ([]APIKey, error) {
	return r.queryKeys(ctx, `SELECT `+apiKeyColumns+` FROM api_keys ORDER BY created_at DESC`)
}

// ListActive retrieves active API keys.
func (r *SQLiteAPIKeyRepository) ListActive(ctx context.Context) ([]APIKey, error) {
	return r.queryKeys(ctx, `SELECT `+apiKeyColumns+` FROM api_keys WHERE is_active = 1 ORDER BY created_at`)
}

// Deactivate clears the active flag. Keys are never deleted so audit
// records that reference them stay resolvable.
func (r *SQLiteAPIKeyRepository) Deactivate(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE api_keys SET is_active = 0, updated_at = ? WHERE id = ?`,
		database.Timestamp(time.Now()), id)
	if err != nil {
		return fmt.Errorf("deactivating api key: %w", err)
	}
	rows, _ := result.RowsAffected() //nolint:errcheck // always succeeds on SQLite
	if rows == 0 {
		return ErrAPIKeyNotFound
	}
	return nil
}

// TouchLastUsed records a successful authentication with the key.
func (r *SQLiteAPIKeyRepository) TouchLastUsed(ctx context.Context, id string, at time.Time) error {
	if _, err := r.db.ExecContext(ctx,
		`UPDATE api_keys SET last_used = ? WHERE id = ?`, database.Timestamp(at), id); err != nil {
		return fmt.Errorf("updating api key last used: %w", err)
	}
	return nil
}

func (r *SQLiteAPIKeyRepository) queryKeys(ctx context.Context, query string, args ...any) ([]APIKey, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying api keys: %w", err)
	}
	defer rows.Close()

	keys := []APIKey{}
	for rows.Next() {
		k, err := scanAPIKey(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning api key: %w", err)
		}
		keys = append(keys, *k)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating api keys: %w", err)
	}
	return keys, nil
}

func scanAPIKey(s rowScanner) (*APIKey, error) {
	var k APIKey
	var deviceID, lastUsed, createdBy sql.NullString
	var perms, keyType, createdAt, updatedAt string
	var isActive int

	if err := s.Scan(&k.ID, &k.Name, &deviceID, &k.Description, &k.KeyHash, &k.Prefix,
		&perms, &keyType, &isActive, &lastUsed, &createdBy, &createdAt, &updatedAt); err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(perms), &k.Permissions); err != nil {
		return nil, fmt.Errorf("unmarshalling permissions: %w", err)
	}
	k.DeviceID = deviceID.String
	k.CreatedBy = createdBy.String
	k.Type = KeyType(keyType)
	k.IsActive = isActive != 0
	k.LastUsed = database.ParseNullTimestamp(lastUsed)
	k.CreatedAt = database.ParseTimestamp(createdAt)
	k.UpdatedAt = database.ParseTimestamp(updatedAt)
	return &k, nil
}
