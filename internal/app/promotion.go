package app

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
	"ideaforge/api/internal/metrics"
	"ideaforge/api/internal/store"
	"ideaforge/api/internal/util"
)

type PromoteOptions struct {
	Difficulty int           `json:"difficulty"`
	Privacy    store.Privacy `json:"privacy"`
}

func (o PromoteOptions) normalized() (PromoteOptions, error) {
	if o.Difficulty == 0 {
		o.Difficulty = 1
	}
	if o.Difficulty < 1 || o.Difficulty > 5 {
		return o, invalidArgument("Difficulty must be between 1 and 5", map[string]any{"difficulty": o.Difficulty})
	}
	switch o.Privacy {
	case "":
		o.Privacy = store.PrivacyPublic
	case store.PrivacyPublic, store.PrivacyPrivate:
	default:
		return o, invalidArgument("Privacy must be public or private", map[string]any{"privacy": o.Privacy})
	}
	return o, nil
}

// PromoteIdea turns an idea into a new project owned by the same user. The
// project insert and the idea's promoted marker commit together or not at
// all, and an idea is promoted at most once.
func (s *Service) PromoteIdea(ctx context.Context, ideaID, requesterID string, opts PromoteOptions) (store.Project, error) {
	if requesterID == "" {
		return store.Project{}, unauthorized()
	}
	opts, err := opts.normalized()
	if err != nil {
		return store.Project{}, err
	}

	var (
		project store.Project
		idea    store.Idea
	)
	err = s.mutate(ctx, func(ctx context.Context, tx store.Tx) error {
		var err error
		idea, err = tx.GetIdea(ctx, ideaID)
		if err != nil {
			return storeError(err, "Idea")
		}
		if idea.Promoted() {
			return alreadyPromoted()
		}
		if idea.OwnerID != requesterID {
			return domainError(ErrForbidden, "FORBIDDEN", "Only the idea's owner can promote it", nil)
		}

		source := idea.ID
		project = store.Project{
			ID:           util.NewID("project"),
			Title:        idea.Title,
			Description:  idea.Description,
			Industry:     idea.Industry,
			Field:        idea.Field,
			Difficulty:   opts.Difficulty,
			Privacy:      opts.Privacy,
			OwnerID:      requesterID,
			SourceIdeaID: &source,
			CreatedAt:    s.clock.Now(),
		}
		if err := tx.InsertProject(ctx, project); err != nil {
			if errors.Is(err, store.ErrAlreadyPromoted) {
				return alreadyPromoted()
			}
			return fmt.Errorf("insert project: %w", err)
		}
		if err := tx.MarkIdeaPromoted(ctx, idea.ID, project.ID); err != nil {
			if errors.Is(err, store.ErrAlreadyPromoted) {
				return alreadyPromoted()
			}
			return fmt.Errorf("mark idea promoted: %w", err)
		}
		idea.PromotedProjectID = &project.ID
		return nil
	})
	if err != nil {
		metrics.Promotions.WithLabelValues(promotionOutcome(err)).Inc()
		s.logFailure("promote idea failed", err, zap.String("idea_id", ideaID))
		return store.Project{}, err
	}

	metrics.Promotions.WithLabelValues("promoted").Inc()
	s.logger.Info("idea promoted",
		zap.String("idea_id", ideaID),
		zap.String("project_id", project.ID),
		zap.String("owner_id", requesterID),
	)
	s.search.IndexProject(project)
	s.search.IndexIdea(idea)
	return project, nil
}

func promotionOutcome(err error) string {
	switch {
	case errors.Is(err, ErrConflict):
		return "conflict"
	case errors.Is(err, ErrForbidden):
		return "forbidden"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	default:
		return "error"
	}
}
