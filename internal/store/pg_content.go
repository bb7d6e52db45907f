package store

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// ============================================================================
// Chat
// ============================================================================

func (s *PGStore) CreateChatSession(ctx context.Context, cs *ChatSession) (*ChatSession, error) {
	id := ensureID(cs.ID)
	var created ChatSession
	err := s.pool.QueryRow(ctx, `
		INSERT INTO atelier_chat_sessions (id, user_id, agent_id, title)
		VALUES ($1, $2, $3, $4)
		RETURNING id, user_id, agent_id, title, created_at, updated_at`,
		id, cs.UserID, cs.AgentID, cs.Title).
		Scan(&created.ID, &created.UserID, &created.AgentID, &created.Title, &created.CreatedAt, &created.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("create chat session: %w", err)
	}
	return &created, nil
}

func (s *PGStore) GetChatSession(ctx context.Context, id uuid.UUID) (*ChatSession, error) {
	var cs ChatSession
	err := s.pool.QueryRow(ctx, `
		SELECT id, user_id, agent_id, title, created_at, updated_at
		FROM atelier_chat_sessions WHERE id = $1`, id).
		Scan(&cs.ID, &cs.UserID, &cs.AgentID, &cs.Title, &cs.CreatedAt, &cs.UpdatedAt)
	if err != nil {
		return nil, translatePGError(err)
	}
	return &cs, nil
}

func (s *PGStore) ListChatSessions(ctx context.Context, userID uuid.UUID, limit int) ([]*ChatSession, error) {
	query := `
		SELECT id, user_id, agent_id, title, created_at, updated_at
		FROM atelier_chat_sessions WHERE user_id = $1
		ORDER BY updated_at DESC`
	args := []any{userID}
	if limit > 0 {
		args = append(args, limit)
		query += " LIMIT $2"
	}
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list chat sessions: %w", err)
	}
	defer rows.Close()

	var sessions []*ChatSession
	for rows.Next() {
		var cs ChatSession
		if err := rows.Scan(&cs.ID, &cs.UserID, &cs.AgentID, &cs.Title, &cs.CreatedAt, &cs.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan chat session: %w", err)
		}
		sessions = append(sessions, &cs)
	}
	return sessions, rows.Err()
}

func (s *PGStore) CreateChatMessage(ctx context.Context, m *ChatMessage) (*ChatMessage, error) {
	toolCalls := m.ToolCalls
	if toolCalls == nil {
		toolCalls = []ToolCall{}
	}
	toolCallsJSON, err := json.Marshal(toolCalls)
	if err != nil {
		return nil, fmt.Errorf("marshal tool calls: %w", err)
	}
	id := ensureID(m.ID)
	created, err := scanChatMessage(s.pool.QueryRow(ctx, `
		INSERT INTO atelier_chat_messages (id, session_id, run_id, role, body, tool_calls)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, session_id, run_id, role, body, tool_calls, created_at`,
		id, m.SessionID, m.RunID, m.Role, m.Body, toolCallsJSON))
	if err != nil {
		return nil, fmt.Errorf("create chat message: %w", err)
	}
	if _, err := s.pool.Exec(ctx,
		`UPDATE atelier_chat_sessions SET updated_at = NOW() WHERE id = $1`, m.SessionID); err != nil {
		return nil, fmt.Errorf("touch chat session: %w", err)
	}
	return created, nil
}

func scanChatMessage(row pgx.Row) (*ChatMessage, error) {
	var m ChatMessage
	var toolCallsJSON []byte
	err := row.Scan(&m.ID, &m.SessionID, &m.RunID, &m.Role, &m.Body, &toolCallsJSON, &m.CreatedAt)
	if err != nil {
		return nil, translatePGError(err)
	}
	if err := json.Unmarshal(toolCallsJSON, &m.ToolCalls); err != nil {
		return nil, fmt.Errorf("unmarshal tool calls: %w", err)
	}
	return &m, nil
}

func (s *PGStore) ListChatMessages(ctx context.Context, sessionID uuid.UUID, limit int) ([]*ChatMessage, error) {
	// Take the newest N, then return them in chronological order.
	query := `
		SELECT id, session_id, run_id, role, body, tool_calls, created_at
		FROM (
			SELECT id, session_id, run_id, role, body, tool_calls, created_at
			FROM atelier_chat_messages WHERE session_id = $1
			ORDER BY created_at DESC
			LIMIT $2
		) latest
		ORDER BY created_at ASC`
	if limit <= 0 {
		limit = 1000
	}
	rows, err := s.pool.Query(ctx, query, sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("list chat messages: %w", err)
	}
	defer rows.Close()

	var messages []*ChatMessage
	for rows.Next() {
		m, err := scanChatMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("scan chat message: %w", err)
		}
		messages = append(messages, m)
	}
	return messages, rows.Err()
}

// ============================================================================
// Sources
// ============================================================================

func (s *PGStore) CreateSource(ctx context.Context, src *Source) (*Source, error) {
	if strings.TrimSpace(src.Name) == "" {
		return nil, NewValidationError(map[string]string{"name": "can't be blank"})
	}
	id := ensureID(src.ID)
	var created Source
	err := s.pool.QueryRow(ctx, `
		INSERT INTO atelier_sources (id, name, kind)
		VALUES ($1, $2, $3)
		RETURNING id, name, kind, document_count, sync_state, last_synced_at, created_at`,
		id, src.Name, src.Kind).
		Scan(&created.ID, &created.Name, &created.Kind, &created.DocumentCount,
			&created.SyncState, &created.LastSyncedAt, &created.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("create source: %w", err)
	}
	return &created, nil
}

func (s *PGStore) GetSource(ctx context.Context, id uuid.UUID) (*Source, error) {
	var src Source
	err := s.pool.QueryRow(ctx, `
		SELECT id, name, kind, document_count, sync_state, last_synced_at, created_at
		FROM atelier_sources WHERE id = $1`, id).
		Scan(&src.ID, &src.Name, &src.Kind, &src.DocumentCount, &src.SyncState, &src.LastSyncedAt, &src.CreatedAt)
	if err != nil {
		return nil, translatePGError(err)
	}
	return &src, nil
}

func (s *PGStore) ListSources(ctx context.Context) ([]*Source, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, name, kind, document_count, sync_state, last_synced_at, created_at
		FROM atelier_sources ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("list sources: %w", err)
	}
	defer rows.Close()

	var sources []*Source
	for rows.Next() {
		var src Source
		if err := rows.Scan(&src.ID, &src.Name, &src.Kind, &src.DocumentCount,
			&src.SyncState, &src.LastSyncedAt, &src.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan source: %w", err)
		}
		sources = append(sources, &src)
	}
	return sources, rows.Err()
}

func (s *PGStore) DeleteSource(ctx context.Context, id uuid.UUID) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM atelier_sources WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete source: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PGStore) ListDocuments(ctx context.Context, sourceID uuid.UUID) ([]*Document, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, source_id, title, chunk_count, status, updated_at
		FROM atelier_documents WHERE source_id = $1
		ORDER BY title`, sourceID)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	defer rows.Close()

	var docs []*Document
	for rows.Next() {
		var d Document
		if err := rows.Scan(&d.ID, &d.SourceID, &d.Title, &d.ChunkCount, &d.Status, &d.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		docs = append(docs, &d)
	}
	return docs, rows.Err()
}

func (s *PGStore) GetPipelineStatus(ctx context.Context) (*PipelineStatus, error) {
	status := &PipelineStatus{}
	err := s.pool.QueryRow(ctx, `
		SELECT
			COUNT(*) FILTER (WHERE status = 'queued'),
			COUNT(*) FILTER (WHERE status = 'processing'),
			COUNT(*) FILTER (WHERE status = 'failed'),
			COUNT(*) FILTER (WHERE status = 'done' AND updated_at >= date_trunc('day', NOW()))
		FROM atelier_documents`).
		Scan(&status.Queued, &status.Processing, &status.Failed, &status.DoneToday)
	if err != nil {
		return nil, fmt.Errorf("pipeline status: %w", err)
	}

	rows, err := s.pool.Query(ctx, `
		SELECT id, title, updated_at
		FROM atelier_documents WHERE status = 'failed'
		ORDER BY updated_at DESC
		LIMIT 10`)
	if err != nil {
		return nil, fmt.Errorf("pipeline failures: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var f PipelineFailure
		if err := rows.Scan(&f.DocumentID, &f.Title, &f.At); err != nil {
			return nil, fmt.Errorf("scan pipeline failure: %w", err)
		}
		f.Error = "ingest failed"
		status.RecentFailures = append(status.RecentFailures, f)
	}
	return status, rows.Err()
}

// ============================================================================
// Settings
// ============================================================================

func (s *PGStore) GetSettings(ctx context.Context) (*Settings, error) {
	var settings Settings
	err := s.pool.QueryRow(ctx,
		`SELECT open_registration, updated_at FROM atelier_settings WHERE id = 1`).
		Scan(&settings.OpenRegistration, &settings.UpdatedAt)
	if err != nil {
		return nil, translatePGError(err)
	}
	return &settings, nil
}

func (s *PGStore) SetOpenRegistration(ctx context.Context, open bool) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE atelier_settings SET open_registration = $1, updated_at = NOW() WHERE id = 1`, open)
	if err != nil {
		return fmt.Errorf("set open registration: %w", err)
	}
	return nil
}
