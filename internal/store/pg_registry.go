package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// ============================================================================
// Providers
// ============================================================================

const providerColumns = "id, owner_id, name, kind, base_url, api_key, config, instance_wide, active, created_at, updated_at"

func scanProvider(row pgx.Row) (*Provider, error) {
	var p Provider
	var configJSON []byte
	err := row.Scan(&p.ID, &p.OwnerID, &p.Name, &p.Kind, &p.BaseURL, &p.APIKey,
		&configJSON, &p.InstanceWide, &p.Active, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, translatePGError(err)
	}
	if err := json.Unmarshal(configJSON, &p.Config); err != nil {
		return nil, fmt.Errorf("unmarshal provider config: %w", err)
	}
	return &p, nil
}

func (s *PGStore) CreateProvider(ctx context.Context, p *Provider) (*Provider, error) {
	if err := validateProvider(p); err != nil {
		return nil, err
	}
	if p.Config == nil {
		p.Config = map[string]any{}
	}
	configJSON, err := json.Marshal(p.Config)
	if err != nil {
		return nil, fmt.Errorf("marshal provider config: %w", err)
	}
	id := ensureID(p.ID)
	row := s.pool.QueryRow(ctx, `
		INSERT INTO atelier_providers (id, owner_id, name, kind, base_url, api_key, config, instance_wide, active)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING `+providerColumns,
		id, p.OwnerID, p.Name, p.Kind, p.BaseURL, p.APIKey, configJSON, p.InstanceWide, p.Active)
	created, err := scanProvider(row)
	if err != nil {
		return nil, fmt.Errorf("create provider: %w", err)
	}
	return created, nil
}

func (s *PGStore) GetProvider(ctx context.Context, id uuid.UUID) (*Provider, error) {
	return scanProvider(s.pool.QueryRow(ctx,
		`SELECT `+providerColumns+` FROM atelier_providers WHERE id = $1`, id))
}

func (s *PGStore) ListProviders(ctx context.Context, userID uuid.UUID) ([]*Provider, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+providerColumns+` FROM atelier_providers
		WHERE instance_wide OR owner_id = $1
		ORDER BY name`, userID)
	if err != nil {
		return nil, fmt.Errorf("list providers: %w", err)
	}
	defer rows.Close()

	var providers []*Provider
	for rows.Next() {
		p, err := scanProvider(rows)
		if err != nil {
			return nil, fmt.Errorf("scan provider: %w", err)
		}
		providers = append(providers, p)
	}
	return providers, rows.Err()
}

func (s *PGStore) UpdateProvider(ctx context.Context, p *Provider) (*Provider, error) {
	if err := validateProvider(p); err != nil {
		return nil, err
	}
	if p.Config == nil {
		p.Config = map[string]any{}
	}
	configJSON, err := json.Marshal(p.Config)
	if err != nil {
		return nil, fmt.Errorf("marshal provider config: %w", err)
	}
	// Empty key leaves the stored key unchanged: write-only field.
	row := s.pool.QueryRow(ctx, `
		UPDATE atelier_providers SET
			name = $2, kind = $3, base_url = $4,
			api_key = CASE WHEN $5 = '' THEN api_key ELSE $5 END,
			config = $6, instance_wide = $7, active = $8, updated_at = NOW()
		WHERE id = $1
		RETURNING `+providerColumns,
		p.ID, p.Name, p.Kind, p.BaseURL, p.APIKey, configJSON, p.InstanceWide, p.Active)
	updated, err := scanProvider(row)
	if err != nil {
		return nil, fmt.Errorf("update provider: %w", err)
	}
	return updated, nil
}

func (s *PGStore) DeleteProvider(ctx context.Context, id uuid.UUID) error {
	var refs int
	if err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM atelier_models WHERE provider_id = $1`, id).Scan(&refs); err != nil {
		return fmt.Errorf("count provider models: %w", err)
	}
	if refs > 0 {
		return ErrConflict
	}
	tag, err := s.pool.Exec(ctx, `DELETE FROM atelier_providers WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete provider: %w", translatePGError(err))
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// ============================================================================
// Models
// ============================================================================

const modelColumns = "id, provider_id, owner_id, name, upstream_id, context_window, input_price, output_price, instance_wide, active, created_at, updated_at"

func scanModel(row pgx.Row) (*Model, error) {
	var m Model
	err := row.Scan(&m.ID, &m.ProviderID, &m.OwnerID, &m.Name, &m.UpstreamID, &m.ContextWindow,
		&m.InputPrice, &m.OutputPrice, &m.InstanceWide, &m.Active, &m.CreatedAt, &m.UpdatedAt)
	if err != nil {
		return nil, translatePGError(err)
	}
	return &m, nil
}

func (s *PGStore) CreateModel(ctx context.Context, m *Model) (*Model, error) {
	if err := validateModel(m); err != nil {
		return nil, err
	}
	id := ensureID(m.ID)
	row := s.pool.QueryRow(ctx, `
		INSERT INTO atelier_models (id, provider_id, owner_id, name, upstream_id, context_window, input_price, output_price, instance_wide, active)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING `+modelColumns,
		id, m.ProviderID, m.OwnerID, m.Name, m.UpstreamID, m.ContextWindow,
		m.InputPrice, m.OutputPrice, m.InstanceWide, m.Active)
	created, err := scanModel(row)
	if err != nil {
		return nil, fmt.Errorf("create model: %w", err)
	}
	return created, nil
}

func (s *PGStore) GetModel(ctx context.Context, id uuid.UUID) (*Model, error) {
	return scanModel(s.pool.QueryRow(ctx,
		`SELECT `+modelColumns+` FROM atelier_models WHERE id = $1`, id))
}

func (s *PGStore) ListModels(ctx context.Context, userID uuid.UUID) ([]*Model, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+modelColumns+` FROM atelier_models
		WHERE instance_wide OR owner_id = $1
		ORDER BY name`, userID)
	if err != nil {
		return nil, fmt.Errorf("list models: %w", err)
	}
	defer rows.Close()

	var models []*Model
	for rows.Next() {
		m, err := scanModel(rows)
		if err != nil {
			return nil, fmt.Errorf("scan model: %w", err)
		}
		models = append(models, m)
	}
	return models, rows.Err()
}

func (s *PGStore) UpdateModel(ctx context.Context, m *Model) (*Model, error) {
	if err := validateModel(m); err != nil {
		return nil, err
	}
	row := s.pool.QueryRow(ctx, `
		UPDATE atelier_models SET
			provider_id = $2, name = $3, upstream_id = $4, context_window = $5,
			input_price = $6, output_price = $7, instance_wide = $8, active = $9, updated_at = NOW()
		WHERE id = $1
		RETURNING `+modelColumns,
		m.ID, m.ProviderID, m.Name, m.UpstreamID, m.ContextWindow,
		m.InputPrice, m.OutputPrice, m.InstanceWide, m.Active)
	updated, err := scanModel(row)
	if err != nil {
		return nil, fmt.Errorf("update model: %w", err)
	}
	return updated, nil
}

func (s *PGStore) DeleteModel(ctx context.Context, id uuid.UUID) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM atelier_models WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete model: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// ============================================================================
// Usage
// ============================================================================

func (s *PGStore) RecordUsage(ctx context.Context, ev *UsageEvent) error {
	id := ensureID(ev.ID)
	day := ev.Day
	if day.IsZero() {
		day = time.Now().Truncate(24 * time.Hour)
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO atelier_usage_events (id, user_id, model_id, group_id, input_tokens, output_tokens, cached_tokens, day)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		id, ev.UserID, ev.ModelID, ev.GroupID, ev.InputTokens, ev.OutputTokens, ev.CachedTokens, day)
	if err != nil {
		return fmt.Errorf("record usage: %w", err)
	}
	return nil
}

// sinceClause returns a WHERE fragment for the optional window filter.
// A zero since means all time.
func sinceArgs(since time.Time) (string, []any) {
	if since.IsZero() {
		return "", nil
	}
	return " WHERE created_at >= $1", []any{since}
}

func (s *PGStore) UsageTotals(ctx context.Context, since time.Time) (*UsageTotals, error) {
	clause, args := sinceArgs(since)
	var t UsageTotals
	err := s.pool.QueryRow(ctx, `
		SELECT COALESCE(SUM(input_tokens), 0), COALESCE(SUM(output_tokens), 0),
		       COALESCE(SUM(cached_tokens), 0), COUNT(*)
		FROM atelier_usage_events`+clause, args...).
		Scan(&t.InputTokens, &t.OutputTokens, &t.CachedTokens, &t.Requests)
	if err != nil {
		return nil, fmt.Errorf("usage totals: %w", err)
	}
	return &t, nil
}

func (s *PGStore) usageRollup(ctx context.Context, keyColumn string, since time.Time) ([]*UsageRollup, error) {
	clause, args := sinceArgs(since)
	query := fmt.Sprintf(`
		SELECT %s, SUM(input_tokens), SUM(output_tokens), SUM(cached_tokens), COUNT(*)
		FROM atelier_usage_events%s
		GROUP BY %s
		ORDER BY SUM(input_tokens) + SUM(output_tokens) DESC`, keyColumn, clause, keyColumn)
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("usage rollup by %s: %w", keyColumn, err)
	}
	defer rows.Close()

	var out []*UsageRollup
	for rows.Next() {
		var r UsageRollup
		if err := rows.Scan(&r.Key, &r.InputTokens, &r.OutputTokens, &r.CachedTokens, &r.Requests); err != nil {
			return nil, fmt.Errorf("scan rollup: %w", err)
		}
		out = append(out, &r)
	}
	return out, rows.Err()
}

func (s *PGStore) UsageByModel(ctx context.Context, since time.Time) ([]*UsageRollup, error) {
	return s.usageRollup(ctx, "model_id", since)
}

func (s *PGStore) UsageByUser(ctx context.Context, since time.Time) ([]*UsageRollup, error) {
	return s.usageRollup(ctx, "user_id", since)
}

func (s *PGStore) UsageByGroup(ctx context.Context, since time.Time) ([]*UsageRollup, error) {
	clause, args := sinceArgs(since)
	rows, err := s.pool.Query(ctx, `
		SELECT group_id, SUM(input_tokens), SUM(output_tokens), SUM(cached_tokens), COUNT(*)
		FROM atelier_usage_events`+clause+`
		GROUP BY group_id
		ORDER BY SUM(input_tokens) + SUM(output_tokens) DESC`, args...)
	if err != nil {
		return nil, fmt.Errorf("usage by group: %w", err)
	}
	defer rows.Close()

	var out []*UsageRollup
	for rows.Next() {
		var groupID *uuid.UUID
		var r UsageRollup
		if err := rows.Scan(&groupID, &r.InputTokens, &r.OutputTokens, &r.CachedTokens, &r.Requests); err != nil {
			return nil, fmt.Errorf("scan group rollup: %w", err)
		}
		if groupID == nil {
			continue
		}
		r.Key = *groupID
		out = append(out, &r)
	}
	return out, rows.Err()
}

func (s *PGStore) UsageByDay(ctx context.Context, since time.Time) ([]*UsageDay, error) {
	clause, args := sinceArgs(since)
	rows, err := s.pool.Query(ctx, `
		SELECT day, SUM(input_tokens), SUM(output_tokens), SUM(cached_tokens)
		FROM atelier_usage_events`+clause+`
		GROUP BY day
		ORDER BY day`, args...)
	if err != nil {
		return nil, fmt.Errorf("usage by day: %w", err)
	}
	defer rows.Close()

	var out []*UsageDay
	for rows.Next() {
		var d UsageDay
		if err := rows.Scan(&d.Day, &d.InputTokens, &d.OutputTokens, &d.CachedTokens); err != nil {
			return nil, fmt.Errorf("scan usage day: %w", err)
		}
		out = append(out, &d)
	}
	return out, rows.Err()
}
