package store

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

//go:embed schema.sql
var schemaSQL string

// PGStore implements Store on a pgx/v5 connection pool.
type PGStore struct {
	pool *pgxpool.Pool
}

var _ Store = (*PGStore)(nil)

// NewPGStore creates a PGStore over an existing pool.
func NewPGStore(pool *pgxpool.Pool) *PGStore {
	return &PGStore{pool: pool}
}

// Migrate applies the embedded schema. All statements are idempotent.
func (s *PGStore) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// uniqueViolation is the Postgres error code for duplicate keys.
const uniqueViolation = "23505"

func translatePGError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return ErrConflict
	}
	return err
}

// ============================================================================
// Users
// ============================================================================

const userColumns = "id, email, name, password_hash, is_admin, temp_password, created_at, updated_at"

func scanUser(row pgx.Row) (*User, error) {
	var u User
	err := row.Scan(&u.ID, &u.Email, &u.Name, &u.PasswordHash, &u.IsAdmin, &u.TempPassword, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		return nil, translatePGError(err)
	}
	return &u, nil
}

func (s *PGStore) CreateUser(ctx context.Context, u *User) (*User, error) {
	if err := validateUser(u); err != nil {
		return nil, err
	}
	id := ensureID(u.ID)
	query := `
		INSERT INTO atelier_users (id, email, name, password_hash, is_admin, temp_password)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING ` + userColumns
	row := s.pool.QueryRow(ctx, query, id, strings.ToLower(u.Email), u.Name, u.PasswordHash, u.IsAdmin, u.TempPassword)
	created, err := scanUser(row)
	if err != nil {
		return nil, fmt.Errorf("create user: %w", err)
	}
	return created, nil
}

func (s *PGStore) GetUser(ctx context.Context, id uuid.UUID) (*User, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM atelier_users WHERE id = $1`, id)
	return scanUser(row)
}

func (s *PGStore) GetUserByEmail(ctx context.Context, email string) (*User, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM atelier_users WHERE email = $1`, strings.ToLower(email))
	return scanUser(row)
}

func (s *PGStore) ListUsers(ctx context.Context) ([]*User, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+userColumns+` FROM atelier_users ORDER BY email`)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()

	var users []*User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

func (s *PGStore) SetUserAdmin(ctx context.Context, id uuid.UUID, isAdmin bool) error {
	tag, err := s.pool.Exec(ctx, `UPDATE atelier_users SET is_admin = $2, updated_at = NOW() WHERE id = $1`, id, isAdmin)
	if err != nil {
		return fmt.Errorf("set user admin: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PGStore) SetUserPassword(ctx context.Context, id uuid.UUID, hash string, temp bool) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE atelier_users SET password_hash = $2, temp_password = $3, updated_at = NOW() WHERE id = $1`,
		id, hash, temp)
	if err != nil {
		return fmt.Errorf("set user password: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PGStore) DeleteUser(ctx context.Context, id uuid.UUID) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM atelier_users WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete user: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// ============================================================================
// Invitations
// ============================================================================

const invitationColumns = "id, email, token_hash, created_by, created_at, used_at, revoked_at"

func scanInvitation(row pgx.Row) (*Invitation, error) {
	var inv Invitation
	err := row.Scan(&inv.ID, &inv.Email, &inv.TokenHash, &inv.CreatedBy, &inv.CreatedAt, &inv.UsedAt, &inv.RevokedAt)
	if err != nil {
		return nil, translatePGError(err)
	}
	return &inv, nil
}

func (s *PGStore) CreateInvitation(ctx context.Context, inv *Invitation) (*Invitation, error) {
	if strings.TrimSpace(inv.Email) == "" || !strings.Contains(inv.Email, "@") {
		return nil, NewValidationError(map[string]string{"email": "must be a valid email address"})
	}
	id := ensureID(inv.ID)
	row := s.pool.QueryRow(ctx, `
		INSERT INTO atelier_invitations (id, email, token_hash, created_by)
		VALUES ($1, $2, $3, $4)
		RETURNING `+invitationColumns,
		id, strings.ToLower(inv.Email), inv.TokenHash, inv.CreatedBy)
	created, err := scanInvitation(row)
	if err != nil {
		return nil, fmt.Errorf("create invitation: %w", err)
	}
	return created, nil
}

func (s *PGStore) ListInvitations(ctx context.Context) ([]*Invitation, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+invitationColumns+` FROM atelier_invitations ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list invitations: %w", err)
	}
	defer rows.Close()

	var invs []*Invitation
	for rows.Next() {
		inv, err := scanInvitation(rows)
		if err != nil {
			return nil, fmt.Errorf("scan invitation: %w", err)
		}
		invs = append(invs, inv)
	}
	return invs, rows.Err()
}

func (s *PGStore) RevokeInvitation(ctx context.Context, id uuid.UUID) error {
	inv, err := scanInvitation(s.pool.QueryRow(ctx,
		`SELECT `+invitationColumns+` FROM atelier_invitations WHERE id = $1`, id))
	if err != nil {
		return err
	}
	if inv.UsedAt != nil {
		return ErrInvitationUsed
	}
	_, err = s.pool.Exec(ctx, `UPDATE atelier_invitations SET revoked_at = NOW() WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("revoke invitation: %w", err)
	}
	return nil
}

func (s *PGStore) RedeemInvitation(ctx context.Context, id uuid.UUID, at time.Time) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE atelier_invitations SET used_at = $2
		WHERE id = $1 AND used_at IS NULL AND revoked_at IS NULL`, id, at)
	if err != nil {
		return fmt.Errorf("redeem invitation: %w", err)
	}
	if tag.RowsAffected() == 0 {
		// Distinguish missing from already used/revoked.
		var exists bool
		if err := s.pool.QueryRow(ctx,
			`SELECT EXISTS (SELECT 1 FROM atelier_invitations WHERE id = $1)`, id).Scan(&exists); err != nil {
			return fmt.Errorf("redeem invitation: %w", err)
		}
		if !exists {
			return ErrNotFound
		}
		return ErrConflict
	}
	return nil
}

// ============================================================================
// Groups
// ============================================================================

func (s *PGStore) CreateGroup(ctx context.Context, g *Group) (*Group, error) {
	if strings.TrimSpace(g.Name) == "" {
		return nil, NewValidationError(map[string]string{"name": "can't be blank"})
	}
	id := ensureID(g.ID)
	var created Group
	err := s.pool.QueryRow(ctx, `
		INSERT INTO atelier_groups (id, name, description)
		VALUES ($1, $2, $3)
		RETURNING id, name, description, created_at`,
		id, g.Name, g.Description).Scan(&created.ID, &created.Name, &created.Description, &created.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("create group: %w", translatePGError(err))
	}
	return &created, nil
}

func (s *PGStore) GetGroup(ctx context.Context, id uuid.UUID) (*Group, error) {
	var g Group
	err := s.pool.QueryRow(ctx,
		`SELECT id, name, description, created_at FROM atelier_groups WHERE id = $1`, id).
		Scan(&g.ID, &g.Name, &g.Description, &g.CreatedAt)
	if err != nil {
		return nil, translatePGError(err)
	}
	return &g, nil
}

func (s *PGStore) ListGroups(ctx context.Context) ([]*Group, error) {
	rows, err := s.pool.Query(ctx, `SELECT id, name, description, created_at FROM atelier_groups ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("list groups: %w", err)
	}
	defer rows.Close()

	var groups []*Group
	for rows.Next() {
		var g Group
		if err := rows.Scan(&g.ID, &g.Name, &g.Description, &g.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan group: %w", err)
		}
		groups = append(groups, &g)
	}
	return groups, rows.Err()
}

func (s *PGStore) DeleteGroup(ctx context.Context, id uuid.UUID) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM atelier_groups WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete group: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PGStore) AddGroupMember(ctx context.Context, groupID, userID uuid.UUID) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO atelier_group_members (group_id, user_id)
		VALUES ($1, $2)
		ON CONFLICT DO NOTHING`, groupID, userID)
	if err != nil {
		return fmt.Errorf("add group member: %w", translatePGError(err))
	}
	return nil
}

func (s *PGStore) RemoveGroupMember(ctx context.Context, groupID, userID uuid.UUID) error {
	_, err := s.pool.Exec(ctx,
		`DELETE FROM atelier_group_members WHERE group_id = $1 AND user_id = $2`, groupID, userID)
	if err != nil {
		return fmt.Errorf("remove group member: %w", err)
	}
	return nil
}

func (s *PGStore) ListGroupMembers(ctx context.Context, groupID uuid.UUID) ([]*User, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT u.id, u.email, u.name, u.password_hash, u.is_admin, u.temp_password, u.created_at, u.updated_at
		FROM atelier_users u
		JOIN atelier_group_members gm ON gm.user_id = u.id
		WHERE gm.group_id = $1
		ORDER BY u.email`, groupID)
	if err != nil {
		return nil, fmt.Errorf("list group members: %w", err)
	}
	defer rows.Close()

	var users []*User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("scan member: %w", err)
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

func (s *PGStore) ListUserGroups(ctx context.Context, userID uuid.UUID) ([]*Group, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT g.id, g.name, g.description, g.created_at
		FROM atelier_groups g
		JOIN atelier_group_members gm ON gm.group_id = g.id
		WHERE gm.user_id = $1
		ORDER BY g.name`, userID)
	if err != nil {
		return nil, fmt.Errorf("list user groups: %w", err)
	}
	defer rows.Close()

	var groups []*Group
	for rows.Next() {
		var g Group
		if err := rows.Scan(&g.ID, &g.Name, &g.Description, &g.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan group: %w", err)
		}
		groups = append(groups, &g)
	}
	return groups, rows.Err()
}
