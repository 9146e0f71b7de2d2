package storage

import (
	"context"
	"database/sql"
	"fmt"

	"kiro-relay/internal/models"
)

// DefaultRecentUsageLimit applies when RecentUsage is given a non-positive limit.
const DefaultRecentUsageLimit = 50

func (s *Store) AppendUsage(ctx context.Context, rec models.UsageRecord) (int64, error) {
	requestTime := rec.RequestTime
	if requestTime.IsZero() {
		requestTime = s.now()
	}
	var credID sql.NullInt64
	if rec.CredentialID != 0 {
		credID = sql.NullInt64{Int64: rec.CredentialID, Valid: true}
	}

	res, err := s.exec(ctx, "append usage", s.sql.Insert("usage_logs").
		Columns("credential_id", "model", "input_tokens", "output_tokens", "total_tokens",
			"request_time", "response_time", "status", "error_message").
		Values(credID, rec.Model, rec.Usage.InputTokens, rec.Usage.OutputTokens, rec.Usage.Total(),
			millis(requestTime), rec.ResponseTime, rec.Status, rec.ErrorMessage))
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// RecentUsage returns the newest usage rows first.
func (s *Store) RecentUsage(ctx context.Context, limit int) ([]models.UsageRecord, error) {
	if limit <= 0 {
		limit = DefaultRecentUsageLimit
	}
	q := s.sql.Select("id", "credential_id", "model", "input_tokens", "output_tokens",
		"request_time", "response_time", "status", "error_message").
		From("usage_logs").
		OrderBy("request_time DESC", "id DESC").
		Limit(uint64(limit))
	sqlStr, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build recent usage query: %w", err)
	}
	rows, err := s.db.QueryContext(ctx, sqlStr, args...)
	if err != nil {
		return nil, fmt.Errorf("recent usage: %w", err)
	}
	defer rows.Close()

	var out []models.UsageRecord
	for rows.Next() {
		var (
			rec         models.UsageRecord
			credID      sql.NullInt64
			requestTime int64
		)
		if err := rows.Scan(&rec.ID, &credID, &rec.Model, &rec.Usage.InputTokens, &rec.Usage.OutputTokens,
			&requestTime, &rec.ResponseTime, &rec.Status, &rec.ErrorMessage); err != nil {
			return nil, fmt.Errorf("scan usage: %w", err)
		}
		rec.CredentialID = credID.Int64
		rec.RequestTime = fromMillis(requestTime)
		out = append(out, rec)
	}
	return out, rows.Err()
}
