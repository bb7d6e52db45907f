package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/tessellate-ai/atelier/internal/store"
)

// StartRunParams describes a new run. Exactly one of AgentID and
// TeamID must be set.
type StartRunParams struct {
	AgentID   *uuid.UUID
	TeamID    *uuid.UUID
	UserID    uuid.UUID
	SessionID *uuid.UUID
	Prompt    string
}

// StartRun creates a pending run after validating the target exists.
// The runner picks it up on its next poll.
func (s *Service) StartRun(ctx context.Context, p StartRunParams) (*store.Run, error) {
	if (p.AgentID == nil) == (p.TeamID == nil) {
		return nil, store.NewValidationError(map[string]string{"target": "must name exactly one agent or team"})
	}
	if strings.TrimSpace(p.Prompt) == "" {
		return nil, store.NewValidationError(map[string]string{"prompt": "can't be blank"})
	}
	if p.AgentID != nil {
		if _, err := s.store.GetAgent(ctx, *p.AgentID); err != nil {
			return nil, fmt.Errorf("resolve agent: %w", err)
		}
	} else {
		if _, err := s.store.GetTeam(ctx, *p.TeamID); err != nil {
			return nil, fmt.Errorf("resolve team: %w", err)
		}
	}

	run, err := s.store.CreateRun(ctx, &store.Run{
		AgentID:   p.AgentID,
		TeamID:    p.TeamID,
		UserID:    p.UserID,
		SessionID: p.SessionID,
		Prompt:    p.Prompt,
		State:     store.RunPending,
	})
	if err != nil {
		return nil, fmt.Errorf("create run: %w", err)
	}
	s.log.Info("run queued", "run_id", run.ID, "user_id", p.UserID)
	return run, nil
}

// CancelRun marks the run cancelled and interrupts it if it is
// executing. Terminal runs return store.ErrRunFinalized.
func (s *Service) CancelRun(ctx context.Context, id uuid.UUID) error {
	if err := s.store.CancelRun(ctx, id); err != nil {
		return err
	}
	if s.canceller != nil && s.canceller.Cancel(id) {
		s.log.Info("run interrupted", "run_id", id)
	}
	return nil
}

// RerunRun clones a finished run's target and prompt into a fresh
// pending run for the requesting user.
func (s *Service) RerunRun(ctx context.Context, id, userID uuid.UUID) (*store.Run, error) {
	prev, err := s.store.GetRun(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.StartRun(ctx, StartRunParams{
		AgentID: prev.AgentID,
		TeamID:  prev.TeamID,
		UserID:  userID,
		Prompt:  prev.Prompt,
	})
}
