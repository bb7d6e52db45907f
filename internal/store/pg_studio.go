package store

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// ============================================================================
// Tool servers
// ============================================================================

func (s *PGStore) CreateToolServer(ctx context.Context, ts *ToolServer) (*ToolServer, error) {
	fields := make(map[string]string)
	if strings.TrimSpace(ts.Name) == "" {
		fields["name"] = "can't be blank"
	}
	if strings.TrimSpace(ts.URL) == "" {
		fields["url"] = "can't be blank"
	}
	if len(fields) > 0 {
		return nil, NewValidationError(fields)
	}
	if ts.Config == nil {
		ts.Config = map[string]any{}
	}
	configJSON, err := json.Marshal(ts.Config)
	if err != nil {
		return nil, fmt.Errorf("marshal tool server config: %w", err)
	}
	id := ensureID(ts.ID)
	var created ToolServer
	var createdConfig []byte
	err = s.pool.QueryRow(ctx, `
		INSERT INTO atelier_tool_servers (id, name, kind, url, config)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, name, kind, url, config, created_at`,
		id, ts.Name, ts.Kind, ts.URL, configJSON).
		Scan(&created.ID, &created.Name, &created.Kind, &created.URL, &createdConfig, &created.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("create tool server: %w", translatePGError(err))
	}
	if err := json.Unmarshal(createdConfig, &created.Config); err != nil {
		return nil, fmt.Errorf("unmarshal tool server config: %w", err)
	}
	return &created, nil
}

func (s *PGStore) GetToolServer(ctx context.Context, id uuid.UUID) (*ToolServer, error) {
	var ts ToolServer
	var configJSON []byte
	err := s.pool.QueryRow(ctx,
		`SELECT id, name, kind, url, config, created_at FROM atelier_tool_servers WHERE id = $1`, id).
		Scan(&ts.ID, &ts.Name, &ts.Kind, &ts.URL, &configJSON, &ts.CreatedAt)
	if err != nil {
		return nil, translatePGError(err)
	}
	if err := json.Unmarshal(configJSON, &ts.Config); err != nil {
		return nil, fmt.Errorf("unmarshal tool server config: %w", err)
	}
	return &ts, nil
}

func (s *PGStore) ListToolServers(ctx context.Context) ([]*ToolServer, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, name, kind, url, config, created_at FROM atelier_tool_servers ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("list tool servers: %w", err)
	}
	defer rows.Close()

	var servers []*ToolServer
	for rows.Next() {
		var ts ToolServer
		var configJSON []byte
		if err := rows.Scan(&ts.ID, &ts.Name, &ts.Kind, &ts.URL, &configJSON, &ts.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan tool server: %w", err)
		}
		if err := json.Unmarshal(configJSON, &ts.Config); err != nil {
			return nil, fmt.Errorf("unmarshal tool server config: %w", err)
		}
		servers = append(servers, &ts)
	}
	return servers, rows.Err()
}

func (s *PGStore) DeleteToolServer(ctx context.Context, id uuid.UUID) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM atelier_tool_servers WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete tool server: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// ============================================================================
// Agents
// ============================================================================

const agentColumns = "id, owner_id, name, description, system_prompt, model_id, max_tokens, temperature, tool_servers, created_at, updated_at"

func scanAgent(row pgx.Row) (*Agent, error) {
	var a Agent
	var refsJSON []byte
	err := row.Scan(&a.ID, &a.OwnerID, &a.Name, &a.Description, &a.SystemPrompt, &a.ModelID,
		&a.MaxTokens, &a.Temperature, &refsJSON, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return nil, translatePGError(err)
	}
	if err := json.Unmarshal(refsJSON, &a.ToolServers); err != nil {
		return nil, fmt.Errorf("unmarshal agent tool servers: %w", err)
	}
	return &a, nil
}

func (s *PGStore) CreateAgent(ctx context.Context, a *Agent) (*Agent, error) {
	if err := validateAgent(a); err != nil {
		return nil, err
	}
	refsJSON, err := json.Marshal(refsOrEmpty(a.ToolServers))
	if err != nil {
		return nil, fmt.Errorf("marshal agent tool servers: %w", err)
	}
	id := ensureID(a.ID)
	row := s.pool.QueryRow(ctx, `
		INSERT INTO atelier_agents (id, owner_id, name, description, system_prompt, model_id, max_tokens, temperature, tool_servers)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING `+agentColumns,
		id, a.OwnerID, a.Name, a.Description, a.SystemPrompt, a.ModelID, a.MaxTokens, a.Temperature, refsJSON)
	created, err := scanAgent(row)
	if err != nil {
		return nil, fmt.Errorf("create agent: %w", err)
	}
	return created, nil
}

func refsOrEmpty(refs []Ref) []Ref {
	if refs == nil {
		return []Ref{}
	}
	return refs
}

func (s *PGStore) GetAgent(ctx context.Context, id uuid.UUID) (*Agent, error) {
	return scanAgent(s.pool.QueryRow(ctx,
		`SELECT `+agentColumns+` FROM atelier_agents WHERE id = $1`, id))
}

func (s *PGStore) ListAgents(ctx context.Context) ([]*Agent, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+agentColumns+` FROM atelier_agents ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("list agents: %w", err)
	}
	defer rows.Close()

	var agents []*Agent
	for rows.Next() {
		a, err := scanAgent(rows)
		if err != nil {
			return nil, fmt.Errorf("scan agent: %w", err)
		}
		agents = append(agents, a)
	}
	return agents, rows.Err()
}

func (s *PGStore) UpdateAgent(ctx context.Context, a *Agent) (*Agent, error) {
	if err := validateAgent(a); err != nil {
		return nil, err
	}
	refsJSON, err := json.Marshal(refsOrEmpty(a.ToolServers))
	if err != nil {
		return nil, fmt.Errorf("marshal agent tool servers: %w", err)
	}
	row := s.pool.QueryRow(ctx, `
		UPDATE atelier_agents SET
			name = $2, description = $3, system_prompt = $4, model_id = $5,
			max_tokens = $6, temperature = $7, tool_servers = $8, updated_at = NOW()
		WHERE id = $1
		RETURNING `+agentColumns,
		a.ID, a.Name, a.Description, a.SystemPrompt, a.ModelID, a.MaxTokens, a.Temperature, refsJSON)
	updated, err := scanAgent(row)
	if err != nil {
		return nil, fmt.Errorf("update agent: %w", err)
	}
	return updated, nil
}

func (s *PGStore) DeleteAgent(ctx context.Context, id uuid.UUID) error {
	var refs int
	if err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM atelier_teams WHERE agent_ids @> to_jsonb(ARRAY[$1::text])`,
		id.String()).Scan(&refs); err != nil {
		return fmt.Errorf("count agent teams: %w", err)
	}
	if refs > 0 {
		return ErrConflict
	}
	tag, err := s.pool.Exec(ctx, `DELETE FROM atelier_agents WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete agent: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// ============================================================================
// Teams
// ============================================================================

const teamColumns = "id, name, description, agent_ids, created_at, updated_at"

func scanTeam(row pgx.Row) (*Team, error) {
	var t Team
	var idsJSON []byte
	err := row.Scan(&t.ID, &t.Name, &t.Description, &idsJSON, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return nil, translatePGError(err)
	}
	var ids []string
	if err := json.Unmarshal(idsJSON, &ids); err != nil {
		return nil, fmt.Errorf("unmarshal team agent ids: %w", err)
	}
	t.AgentIDs = make([]uuid.UUID, 0, len(ids))
	for _, raw := range ids {
		id, err := uuid.Parse(raw)
		if err != nil {
			return nil, fmt.Errorf("parse team agent id %q: %w", raw, err)
		}
		t.AgentIDs = append(t.AgentIDs, id)
	}
	return &t, nil
}

func marshalAgentIDs(ids []uuid.UUID) ([]byte, error) {
	strs := make([]string, len(ids))
	for i, id := range ids {
		strs[i] = id.String()
	}
	return json.Marshal(strs)
}

func (s *PGStore) CreateTeam(ctx context.Context, t *Team) (*Team, error) {
	if strings.TrimSpace(t.Name) == "" {
		return nil, NewValidationError(map[string]string{"name": "can't be blank"})
	}
	idsJSON, err := marshalAgentIDs(t.AgentIDs)
	if err != nil {
		return nil, fmt.Errorf("marshal team agent ids: %w", err)
	}
	id := ensureID(t.ID)
	row := s.pool.QueryRow(ctx, `
		INSERT INTO atelier_teams (id, name, description, agent_ids)
		VALUES ($1, $2, $3, $4)
		RETURNING `+teamColumns,
		id, t.Name, t.Description, idsJSON)
	created, err := scanTeam(row)
	if err != nil {
		return nil, fmt.Errorf("create team: %w", err)
	}
	return created, nil
}

func (s *PGStore) GetTeam(ctx context.Context, id uuid.UUID) (*Team, error) {
	return scanTeam(s.pool.QueryRow(ctx,
		`SELECT `+teamColumns+` FROM atelier_teams WHERE id = $1`, id))
}

func (s *PGStore) ListTeams(ctx context.Context) ([]*Team, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+teamColumns+` FROM atelier_teams ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("list teams: %w", err)
	}
	defer rows.Close()

	var teams []*Team
	for rows.Next() {
		t, err := scanTeam(rows)
		if err != nil {
			return nil, fmt.Errorf("scan team: %w", err)
		}
		teams = append(teams, t)
	}
	return teams, rows.Err()
}

func (s *PGStore) UpdateTeam(ctx context.Context, t *Team) (*Team, error) {
	if strings.TrimSpace(t.Name) == "" {
		return nil, NewValidationError(map[string]string{"name": "can't be blank"})
	}
	idsJSON, err := marshalAgentIDs(t.AgentIDs)
	if err != nil {
		return nil, fmt.Errorf("marshal team agent ids: %w", err)
	}
	row := s.pool.QueryRow(ctx, `
		UPDATE atelier_teams SET name = $2, description = $3, agent_ids = $4, updated_at = NOW()
		WHERE id = $1
		RETURNING `+teamColumns,
		t.ID, t.Name, t.Description, idsJSON)
	updated, err := scanTeam(row)
	if err != nil {
		return nil, fmt.Errorf("update team: %w", err)
	}
	return updated, nil
}

func (s *PGStore) DeleteTeam(ctx context.Context, id uuid.UUID) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM atelier_teams WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete team: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// ============================================================================
// Runs
// ============================================================================

const runColumns = "id, agent_id, team_id, schedule_id, user_id, session_id, prompt, output, state, error, input_tokens, output_tokens, cached_tokens, claimed_by, created_at, started_at, finished_at"

func scanRun(row pgx.Row) (*Run, error) {
	var r Run
	err := row.Scan(&r.ID, &r.AgentID, &r.TeamID, &r.ScheduleID, &r.UserID, &r.SessionID,
		&r.Prompt, &r.Output, &r.State, &r.Error, &r.InputTokens, &r.OutputTokens, &r.CachedTokens,
		&r.ClaimedBy, &r.CreatedAt, &r.StartedAt, &r.FinishedAt)
	if err != nil {
		return nil, translatePGError(err)
	}
	return &r, nil
}

func (s *PGStore) CreateRun(ctx context.Context, r *Run) (*Run, error) {
	if r.AgentID == nil && r.TeamID == nil {
		return nil, NewValidationError(map[string]string{"target": "must reference an agent or a team"})
	}
	if strings.TrimSpace(r.Prompt) == "" {
		return nil, NewValidationError(map[string]string{"prompt": "can't be blank"})
	}
	state := r.State
	if state == "" {
		state = RunPending
	}
	id := ensureID(r.ID)
	row := s.pool.QueryRow(ctx, `
		INSERT INTO atelier_runs (id, agent_id, team_id, schedule_id, user_id, session_id, prompt, state)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING `+runColumns,
		id, r.AgentID, r.TeamID, r.ScheduleID, r.UserID, r.SessionID, r.Prompt, state)
	created, err := scanRun(row)
	if err != nil {
		return nil, fmt.Errorf("create run: %w", err)
	}
	return created, nil
}

func (s *PGStore) GetRun(ctx context.Context, id uuid.UUID) (*Run, error) {
	return scanRun(s.pool.QueryRow(ctx, `SELECT `+runColumns+` FROM atelier_runs WHERE id = $1`, id))
}

func (s *PGStore) ListRuns(ctx context.Context, params ListRunsParams) ([]*Run, int, error) {
	var where []string
	var args []any
	add := func(clause string, val any) {
		args = append(args, val)
		where = append(where, fmt.Sprintf(clause, len(args)))
	}
	if params.AgentID != nil {
		add("agent_id = $%d", *params.AgentID)
	}
	if params.TeamID != nil {
		add("team_id = $%d", *params.TeamID)
	}
	if params.SessionID != nil {
		add("session_id = $%d", *params.SessionID)
	}
	if params.State != "" {
		add("state = $%d", params.State)
	}
	clause := ""
	if len(where) > 0 {
		clause = " WHERE " + strings.Join(where, " AND ")
	}

	var total int
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM atelier_runs`+clause, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count runs: %w", err)
	}

	query := `SELECT ` + runColumns + ` FROM atelier_runs` + clause + ` ORDER BY created_at DESC`
	if params.Limit > 0 {
		args = append(args, params.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if params.Offset > 0 {
		args = append(args, params.Offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var runs []*Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan run: %w", err)
		}
		runs = append(runs, r)
	}
	return runs, total, rows.Err()
}

func (s *PGStore) ClaimPendingRuns(ctx context.Context, claimant string, limit int) ([]*Run, error) {
	// SKIP LOCKED lets multiple instances claim without blocking each other.
	rows, err := s.pool.Query(ctx, `
		UPDATE atelier_runs SET state = 'running', claimed_by = $1, started_at = NOW()
		WHERE id IN (
			SELECT id FROM atelier_runs
			WHERE state = 'pending'
			ORDER BY created_at
			LIMIT $2
			FOR UPDATE SKIP LOCKED
		)
		RETURNING `+runColumns, claimant, limit)
	if err != nil {
		return nil, fmt.Errorf("claim runs: %w", err)
	}
	defer rows.Close()

	var runs []*Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan claimed run: %w", err)
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

func (s *PGStore) FinishRun(ctx context.Context, id uuid.UUID, state RunState, output, errMsg string, usage UsageTotals) error {
	if !state.Final() {
		return ErrRunFinalized
	}
	tag, err := s.pool.Exec(ctx, `
		UPDATE atelier_runs SET
			state = $2, output = $3, error = $4,
			input_tokens = $5, output_tokens = $6, cached_tokens = $7,
			finished_at = NOW()
		WHERE id = $1 AND state IN ('pending', 'running')`,
		id, state, output, errMsg, usage.InputTokens, usage.OutputTokens, usage.CachedTokens)
	if err != nil {
		return fmt.Errorf("finish run: %w", err)
	}
	if tag.RowsAffected() == 0 {
		if _, err := s.GetRun(ctx, id); err != nil {
			return err
		}
		return ErrRunFinalized
	}
	return nil
}

func (s *PGStore) CancelRun(ctx context.Context, id uuid.UUID) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE atelier_runs SET state = 'cancelled', finished_at = NOW()
		WHERE id = $1 AND state IN ('pending', 'running')`, id)
	if err != nil {
		return fmt.Errorf("cancel run: %w", err)
	}
	if tag.RowsAffected() == 0 {
		if _, err := s.GetRun(ctx, id); err != nil {
			return err
		}
		return ErrRunFinalized
	}
	return nil
}

// ============================================================================
// Schedules
// ============================================================================

const scheduleColumns = "id, name, cron_expr, agent_id, team_id, prompt, enabled, last_fired_at, next_fire_at, created_at, updated_at"

func scanSchedule(row pgx.Row) (*Schedule, error) {
	var sc Schedule
	err := row.Scan(&sc.ID, &sc.Name, &sc.CronExpr, &sc.AgentID, &sc.TeamID, &sc.Prompt,
		&sc.Enabled, &sc.LastFiredAt, &sc.NextFireAt, &sc.CreatedAt, &sc.UpdatedAt)
	if err != nil {
		return nil, translatePGError(err)
	}
	return &sc, nil
}

func (s *PGStore) CreateSchedule(ctx context.Context, sc *Schedule) (*Schedule, error) {
	if err := validateSchedule(sc); err != nil {
		return nil, err
	}
	id := ensureID(sc.ID)
	row := s.pool.QueryRow(ctx, `
		INSERT INTO atelier_schedules (id, name, cron_expr, agent_id, team_id, prompt, enabled, next_fire_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING `+scheduleColumns,
		id, sc.Name, sc.CronExpr, sc.AgentID, sc.TeamID, sc.Prompt, sc.Enabled, sc.NextFireAt)
	created, err := scanSchedule(row)
	if err != nil {
		return nil, fmt.Errorf("create schedule: %w", err)
	}
	return created, nil
}

func (s *PGStore) GetSchedule(ctx context.Context, id uuid.UUID) (*Schedule, error) {
	return scanSchedule(s.pool.QueryRow(ctx,
		`SELECT `+scheduleColumns+` FROM atelier_schedules WHERE id = $1`, id))
}

func (s *PGStore) ListSchedules(ctx context.Context) ([]*Schedule, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+scheduleColumns+` FROM atelier_schedules ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("list schedules: %w", err)
	}
	defer rows.Close()

	var schedules []*Schedule
	for rows.Next() {
		sc, err := scanSchedule(rows)
		if err != nil {
			return nil, fmt.Errorf("scan schedule: %w", err)
		}
		schedules = append(schedules, sc)
	}
	return schedules, rows.Err()
}

func (s *PGStore) UpdateSchedule(ctx context.Context, sc *Schedule) (*Schedule, error) {
	if err := validateSchedule(sc); err != nil {
		return nil, err
	}
	row := s.pool.QueryRow(ctx, `
		UPDATE atelier_schedules SET
			name = $2, cron_expr = $3, agent_id = $4, team_id = $5,
			prompt = $6, enabled = $7, next_fire_at = $8, updated_at = NOW()
		WHERE id = $1
		RETURNING `+scheduleColumns,
		sc.ID, sc.Name, sc.CronExpr, sc.AgentID, sc.TeamID, sc.Prompt, sc.Enabled, sc.NextFireAt)
	updated, err := scanSchedule(row)
	if err != nil {
		return nil, fmt.Errorf("update schedule: %w", err)
	}
	return updated, nil
}

func (s *PGStore) DeleteSchedule(ctx context.Context, id uuid.UUID) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM atelier_schedules WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete schedule: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PGStore) SetScheduleEnabled(ctx context.Context, id uuid.UUID, enabled bool) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE atelier_schedules SET enabled = $2, updated_at = NOW() WHERE id = $1`, id, enabled)
	if err != nil {
		return fmt.Errorf("set schedule enabled: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PGStore) MarkScheduleFired(ctx context.Context, id uuid.UUID, firedAt, nextAt time.Time) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE atelier_schedules SET last_fired_at = $2, next_fire_at = $3, updated_at = NOW()
		WHERE id = $1`, id, firedAt, nextAt)
	if err != nil {
		return fmt.Errorf("mark schedule fired: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
