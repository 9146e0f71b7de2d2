package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"

	"kiro-relay/internal/credential"
)

// NewCredential is the input for CreateCredential.
type NewCredential struct {
	AuthKind     credential.AuthKind
	RefreshToken string
	ClientID     string
	ClientSecret string
	Description  string
}

// CredentialStats is a credential together with its usage-log aggregates.
type CredentialStats struct {
	credential.Credential
	TotalRequests  int64
	FailedRequests int64
	TotalTokens    int64
}

var credentialColumns = []string{
	"id", "auth_type", "refresh_token", "client_id", "client_secret", "description",
	"disabled", "usage_count", "last_used", "created_at",
}

func (s *Store) CreateCredential(ctx context.Context, c NewCredential) (int64, error) {
	if _, err := credential.ParseAuthKind(string(c.AuthKind)); err != nil {
		return 0, err
	}
	if c.RefreshToken == "" {
		return 0, fmt.Errorf("refresh token is required")
	}
	if c.AuthKind == credential.AuthIdC && (c.ClientID == "" || c.ClientSecret == "") {
		return 0, fmt.Errorf("IdC credentials require a client id and secret")
	}

	now := millis(s.now())
	res, err := s.exec(ctx, "create credential", s.sql.Insert("credentials").
		Columns("auth_type", "refresh_token", "client_id", "client_secret", "description", "created_at", "updated_at").
		Values(string(c.AuthKind), c.RefreshToken, nullString(c.ClientID), nullString(c.ClientSecret), c.Description, now, now))
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func (s *Store) GetCredential(ctx context.Context, id int64) (credential.Credential, error) {
	q := s.sql.Select(credentialColumns...).From("credentials").Where(sq.Eq{"id": id})
	sqlStr, args, err := q.ToSql()
	if err != nil {
		return credential.Credential{}, fmt.Errorf("build get credential query: %w", err)
	}
	c, err := scanCredential(s.db.QueryRowContext(ctx, sqlStr, args...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return credential.Credential{}, ErrNotFound
		}
		return credential.Credential{}, fmt.Errorf("get credential: %w", err)
	}
	return c, nil
}

// ListEnabledCredentials returns non-disabled credentials ordered by id.
func (s *Store) ListEnabledCredentials(ctx context.Context) ([]credential.Credential, error) {
	return s.queryCredentials(ctx, s.sql.Select(credentialColumns...).
		From("credentials").
		Where(sq.Eq{"disabled": 0}).
		OrderBy("id ASC"))
}

// ListCredentials returns every credential with its usage aggregates.
func (s *Store) ListCredentials(ctx context.Context) ([]CredentialStats, error) {
	creds, err := s.queryCredentials(ctx, s.sql.Select(credentialColumns...).From("credentials").OrderBy("id ASC"))
	if err != nil {
		return nil, err
	}

	q := s.sql.Select(
		"credential_id",
		"COUNT(*)",
		"COALESCE(SUM(CASE WHEN status = 'error' THEN 1 ELSE 0 END), 0)",
		"COALESCE(SUM(total_tokens), 0)",
	).From("usage_logs").Where(sq.NotEq{"credential_id": nil}).GroupBy("credential_id")
	sqlStr, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build credential stats query: %w", err)
	}
	rows, err := s.db.QueryContext(ctx, sqlStr, args...)
	if err != nil {
		return nil, fmt.Errorf("credential stats: %w", err)
	}
	defer rows.Close()

	type agg struct{ total, failed, tokens int64 }
	byID := make(map[int64]agg)
	for rows.Next() {
		var id int64
		var a agg
		if err := rows.Scan(&id, &a.total, &a.failed, &a.tokens); err != nil {
			return nil, fmt.Errorf("scan credential stats: %w", err)
		}
		byID[id] = a
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate credential stats: %w", err)
	}

	out := make([]CredentialStats, 0, len(creds))
	for _, c := range creds {
		a := byID[c.ID]
		out = append(out, CredentialStats{Credential: c, TotalRequests: a.total, FailedRequests: a.failed, TotalTokens: a.tokens})
	}
	return out, nil
}

func (s *Store) SetCredentialDisabled(ctx context.Context, id int64, disabled bool) error {
	res, err := s.exec(ctx, "set credential disabled", s.sql.Update("credentials").
		Set("disabled", boolInt(disabled)).
		Set("updated_at", millis(s.now())).
		Where(sq.Eq{"id": id}))
	if err != nil {
		return err
	}
	return requireRow(res)
}

func (s *Store) IncrementUsage(ctx context.Context, id int64) error {
	res, err := s.exec(ctx, "increment usage", s.sql.Update("credentials").
		Set("usage_count", sq.Expr("usage_count + 1")).
		Where(sq.Eq{"id": id}))
	if err != nil {
		return err
	}
	return requireRow(res)
}

func (s *Store) TouchLastUsed(ctx context.Context, id int64, at time.Time) error {
	res, err := s.exec(ctx, "touch last used", s.sql.Update("credentials").
		Set("last_used", millis(at)).
		Where(sq.Eq{"id": id}))
	if err != nil {
		return err
	}
	return requireRow(res)
}

func (s *Store) queryCredentials(ctx context.Context, q sq.SelectBuilder) ([]credential.Credential, error) {
	sqlStr, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build list credentials query: %w", err)
	}
	rows, err := s.db.QueryContext(ctx, sqlStr, args...)
	if err != nil {
		return nil, fmt.Errorf("list credentials: %w", err)
	}
	defer rows.Close()

	var out []credential.Credential
	for rows.Next() {
		c, err := scanCredential(rows)
		if err != nil {
			return nil, fmt.Errorf("scan credential: %w", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate credentials: %w", err)
	}
	return out, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCredential(row rowScanner) (credential.Credential, error) {
	var (
		c                      credential.Credential
		authType               string
		clientID, clientSecret sql.NullString
		disabled               int
		lastUsed               sql.NullInt64
		createdAt              int64
	)
	if err := row.Scan(&c.ID, &authType, &c.RefreshToken, &clientID, &clientSecret, &c.Description,
		&disabled, &c.UsageCount, &lastUsed, &createdAt); err != nil {
		return credential.Credential{}, err
	}
	c.AuthKind = credential.AuthKind(authType)
	c.ClientID = clientID.String
	c.ClientSecret = clientSecret.String
	c.Disabled = disabled != 0
	c.CreatedAt = fromMillis(createdAt)
	if lastUsed.Valid {
		t := fromMillis(lastUsed.Int64)
		c.LastUsed = &t
	}
	return c, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
