package app

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"ideaforge/api/internal/metrics"
	"ideaforge/api/internal/store"
)

type ToggleResult struct {
	Engaged bool `json:"engaged"`
	Count   int  `json:"count"`
}

type JoinResult struct {
	Joined            bool `json:"joined"`
	CollaboratorCount int  `json:"collaboratorCount"`
}

// ToggleEngagement flips the caller's like or lightbulb on a subject and
// returns the new state with the edge count read in the same transaction.
func (s *Service) ToggleEngagement(ctx context.Context, subjectType store.SubjectType, subjectID string, kind store.EdgeKind, userID string) (ToggleResult, error) {
	if userID == "" {
		return ToggleResult{}, unauthorized()
	}
	if !subjectType.Valid() {
		return ToggleResult{}, invalidSubjectType(subjectType)
	}
	if kind == store.KindCollaborator {
		return ToggleResult{}, invalidArgument("Collaboration is joined, not toggled", nil)
	}
	if !kind.ValidFor(subjectType) {
		return ToggleResult{}, invalidArgument(fmt.Sprintf("A %s cannot be given to a %s", kind, subjectType), map[string]any{
			"kind":        kind,
			"subjectType": subjectType,
		})
	}

	key := store.EdgeKey{SubjectType: subjectType, SubjectID: subjectID, Kind: kind, UserID: userID}
	var result ToggleResult
	err := s.mutate(ctx, func(ctx context.Context, tx store.Tx) error {
		if err := requireSubject(ctx, tx, subjectType, subjectID); err != nil {
			return err
		}
		engaged, err := toggleEdge(ctx, tx, key, s.clock.Now())
		if err != nil {
			return err
		}
		count, err := tx.CountEdges(ctx, subjectType, subjectID, kind)
		if err != nil {
			return fmt.Errorf("count edges: %w", err)
		}
		result = ToggleResult{Engaged: engaged, Count: count}
		return nil
	})
	if err != nil {
		metrics.EngagementToggles.WithLabelValues(string(kind), "error").Inc()
		s.logFailure("toggle engagement failed", err, zap.String("subject_id", subjectID), zap.String("kind", string(kind)))
		return ToggleResult{}, err
	}

	outcome := "removed"
	if result.Engaged {
		outcome = "added"
	}
	metrics.EngagementToggles.WithLabelValues(string(kind), outcome).Inc()
	s.logger.Info("engagement toggled",
		zap.String("subject_type", string(subjectType)),
		zap.String("subject_id", subjectID),
		zap.String("kind", string(kind)),
		zap.String("user_id", userID),
		zap.Bool("engaged", result.Engaged),
		zap.Int("count", result.Count),
	)
	return result, nil
}

// toggleEdge deletes the edge if present and inserts it otherwise. An insert
// that loses to a concurrent insert of the same key is resolved as a delete.
func toggleEdge(ctx context.Context, tx store.Tx, key store.EdgeKey, now time.Time) (bool, error) {
	removed, err := tx.DeleteEdge(ctx, key)
	if err != nil {
		return false, fmt.Errorf("delete edge: %w", err)
	}
	if removed {
		return false, nil
	}

	inserted, err := tx.InsertEdge(ctx, store.Edge{EdgeKey: key, CreatedAt: now})
	if err != nil {
		return false, fmt.Errorf("insert edge: %w", err)
	}
	if inserted {
		return true, nil
	}

	removed, err = tx.DeleteEdge(ctx, key)
	if err != nil {
		return false, fmt.Errorf("delete edge: %w", err)
	}
	if removed {
		return false, nil
	}
	return false, domainError(ErrConflict, "TOGGLE_CONFLICT", "Engagement changed while it was being updated, try again", nil)
}

// JoinCollaboration adds the caller as a collaborator. Joining is one-way:
// a second call is a no-op that reports the current count.
func (s *Service) JoinCollaboration(ctx context.Context, subjectType store.SubjectType, subjectID, userID string) (JoinResult, error) {
	if userID == "" {
		return JoinResult{}, unauthorized()
	}
	if !subjectType.Valid() {
		return JoinResult{}, invalidSubjectType(subjectType)
	}

	key := store.EdgeKey{SubjectType: subjectType, SubjectID: subjectID, Kind: store.KindCollaborator, UserID: userID}
	var (
		result   JoinResult
		inserted bool
	)
	err := s.mutate(ctx, func(ctx context.Context, tx store.Tx) error {
		if err := requireSubject(ctx, tx, subjectType, subjectID); err != nil {
			return err
		}
		var err error
		inserted, err = tx.InsertEdge(ctx, store.Edge{EdgeKey: key, CreatedAt: s.clock.Now()})
		if err != nil {
			return fmt.Errorf("insert collaborator: %w", err)
		}
		count, err := tx.CountEdges(ctx, subjectType, subjectID, store.KindCollaborator)
		if err != nil {
			return fmt.Errorf("count collaborators: %w", err)
		}
		result = JoinResult{Joined: true, CollaboratorCount: count}
		return nil
	})
	if err != nil {
		metrics.EngagementToggles.WithLabelValues(string(store.KindCollaborator), "error").Inc()
		s.logFailure("join collaboration failed", err, zap.String("subject_id", subjectID))
		return JoinResult{}, err
	}

	outcome := "already_member"
	if inserted {
		outcome = "joined"
	}
	metrics.EngagementToggles.WithLabelValues(string(store.KindCollaborator), outcome).Inc()
	s.logger.Info("collaboration joined",
		zap.String("subject_type", string(subjectType)),
		zap.String("subject_id", subjectID),
		zap.String("user_id", userID),
		zap.Bool("new_member", inserted),
		zap.Int("collaborators", result.CollaboratorCount),
	)
	return result, nil
}
