package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
)

// APIKey authorises callers of the proxy endpoints.
type APIKey struct {
	ID          int64
	Name        string
	Value       string
	Description string
	Disabled    bool
	CreatedAt   time.Time
}

// GenerateAPIKeyValue returns a fresh random key value.
func GenerateAPIKeyValue() string {
	return "sk-" + strings.ReplaceAll(uuid.NewString(), "-", "")
}

// CreateAPIKey stores a key. An empty value is replaced with a generated one.
func (s *Store) CreateAPIKey(ctx context.Context, name, value, description string) (APIKey, error) {
	if strings.TrimSpace(name) == "" {
		return APIKey{}, fmt.Errorf("api key name is required")
	}
	if value == "" {
		value = GenerateAPIKeyValue()
	}
	created := s.now()
	res, err := s.exec(ctx, "create api key", s.sql.Insert("api_keys").
		Columns("key_name", "key_value", "description", "created_at").
		Values(name, value, description, millis(created)))
	if err != nil {
		return APIKey{}, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return APIKey{}, fmt.Errorf("api key id: %w", err)
	}
	return APIKey{ID: id, Name: name, Value: value, Description: description, CreatedAt: fromMillis(millis(created))}, nil
}

// LookupAPIKey returns the enabled key with the given value.
func (s *Store) LookupAPIKey(ctx context.Context, value string) (APIKey, error) {
	q := s.sql.Select("id", "key_name", "key_value", "description", "disabled", "created_at").
		From("api_keys").
		Where(sq.Eq{"key_value": value, "disabled": 0})
	sqlStr, args, err := q.ToSql()
	if err != nil {
		return APIKey{}, fmt.Errorf("build lookup api key query: %w", err)
	}
	k, err := scanAPIKey(s.db.QueryRowContext(ctx, sqlStr, args...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return APIKey{}, ErrNotFound
		}
		return APIKey{}, fmt.Errorf("lookup api key: %w", err)
	}
	return k, nil
}

func (s *Store) ListAPIKeys(ctx context.Context) ([]APIKey, error) {
	q := s.sql.Select("id", "key_name", "key_value", "description", "disabled", "created_at").
		From("api_keys").
		OrderBy("id ASC")
	sqlStr, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build list api keys query: %w", err)
	}
	rows, err := s.db.QueryContext(ctx, sqlStr, args...)
	if err != nil {
		return nil, fmt.Errorf("list api keys: %w", err)
	}
	defer rows.Close()

	var out []APIKey
	for rows.Next() {
		k, err := scanAPIKey(rows)
		if err != nil {
			return nil, fmt.Errorf("scan api key: %w", err)
		}
		out = append(out, k)
	}
	return out, rows.Err()
}

func scanAPIKey(row rowScanner) (APIKey, error) {
	var (
		k         APIKey
		disabled  int
		createdAt int64
	)
	if err := row.Scan(&k.ID, &k.Name, &k.Value, &k.Description, &disabled, &createdAt); err != nil {
		return APIKey{}, err
	}
	k.Disabled = disabled != 0
	k.CreatedAt = fromMillis(createdAt)
	return k, nil
}
