package store

import (
	"context"
	"fmt"

	"github.com/D10S0VSkY-OSS/kiboserve/studio"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// SaveSession inserts or overwrites a session.
func (s *Store) SaveSession(ctx context.Context, sess *studio.Session) error {
	err := s.conn(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "session_id"}},
		UpdateAll: true,
	}).Create(sess).Error
	if err != nil {
		return fmt.Errorf("save session %s: %w", sess.SessionID, err)
	}
	return nil
}

// GetSession returns one session.
func (s *Store) GetSession(ctx context.Context, sessionID string) (*studio.Session, error) {
	return first[studio.Session](ctx, s, "session", "session_id", sessionID)
}

// ListSessions returns sessions most recently updated first.
func (s *Store) ListSessions(ctx context.Context, agentID string, limit int) ([]studio.Session, error) {
	q := s.conn(ctx).Model(&studio.Session{})
	if agentID != "" {
		q = q.Where("agent_id = ?", agentID)
	}
	var out []studio.Session
	if err := q.Order("updated_at DESC").Limit(limitOrDefault(limit)).Find(&out).Error; err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	return out, nil
}

// DeleteSession removes a session with its messages and eval cases.
func (s *Store) DeleteSession(ctx context.Context, sessionID string) error {
	return s.conn(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("session_id = ?", sessionID).Delete(&studio.SessionMessage{}).Error; err != nil {
			return fmt.Errorf("delete messages of %s: %w", sessionID, err)
		}
		if err := tx.Where("session_id = ?", sessionID).Delete(&studio.EvalCase{}).Error; err != nil {
			return fmt.Errorf("delete eval cases of %s: %w", sessionID, err)
		}
		return deleteByID[studio.Session](tx, "session", "session_id", sessionID)
	})
}

// SaveMessage stores a message and bumps the session's updated_at.
func (s *Store) SaveMessage(ctx context.Context, m *studio.SessionMessage) error {
	return s.conn(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "message_id"}},
			UpdateAll: true,
		}).Create(m).Error
		if err != nil {
			return fmt.Errorf("save message %s: %w", m.MessageID, err)
		}
		err = tx.Model(&studio.Session{}).
			Where("session_id = ?", m.SessionID).
			Update("updated_at", m.CreatedAt).Error
		if err != nil {
			return fmt.Errorf("touch session %s: %w", m.SessionID, err)
		}
		return nil
	})
}

// ListMessages returns the messages of a session in chronological order.
func (s *Store) ListMessages(ctx context.Context, sessionID string) ([]studio.SessionMessage, error) {
	var out []studio.SessionMessage
	err := s.conn(ctx).Where("session_id = ?", sessionID).Order("created_at ASC").Find(&out).Error
	if err != nil {
		return nil, fmt.Errorf("list messages of %s: %w", sessionID, err)
	}
	return out, nil
}

// SaveEvalSet inserts or overwrites an eval set.
func (s *Store) SaveEvalSet(ctx context.Context, set *studio.EvalSet) error {
	err := s.conn(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "eval_set_id"}},
		UpdateAll: true,
	}).Create(set).Error
	if err != nil {
		return fmt.Errorf("save eval set %s: %w", set.EvalSetID, err)
	}
	return nil
}

// GetEvalSet returns one eval set.
func (s *Store) GetEvalSet(ctx context.Context, evalSetID string) (*studio.EvalSet, error) {
	return first[studio.EvalSet](ctx, s, "eval set", "eval_set_id", evalSetID)
}

// ListEvalSets returns eval sets newest first.
func (s *Store) ListEvalSets(ctx context.Context, agentID string) ([]studio.EvalSet, error) {
	q := s.conn(ctx).Model(&studio.EvalSet{})
	if agentID != "" {
		q = q.Where("agent_id = ?", agentID)
	}
	var out []studio.EvalSet
	if err := q.Order("created_at DESC").Find(&out).Error; err != nil {
		return nil, fmt.Errorf("list eval sets: %w", err)
	}
	return out, nil
}

// SaveEvalCase inserts or overwrites an eval case.
func (s *Store) SaveEvalCase(ctx context.Context, c *studio.EvalCase) error {
	err := s.conn(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "case_id"}},
		UpdateAll: true,
	}).Create(c).Error
	if err != nil {
		return fmt.Errorf("save eval case %s: %w", c.CaseID, err)
	}
	return nil
}

// ListEvalCases returns the cases of a set in insertion order.
func (s *Store) ListEvalCases(ctx context.Context, evalSetID string) ([]studio.EvalCase, error) {
	var out []studio.EvalCase
	err := s.conn(ctx).Where("eval_set_id = ?", evalSetID).Order("created_at ASC").Find(&out).Error
	if err != nil {
		return nil, fmt.Errorf("list eval cases of %s: %w", evalSetID, err)
	}
	return out, nil
}
