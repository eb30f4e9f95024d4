package search

import (
	"context"

	"go.uber.org/zap"
	"ideaforge/api/internal/store"
)

// Service tries Meilisearch first and falls back to scanning the store.
type Service struct {
	meili    *Meili
	fallback *Fallback
	logger   *zap.Logger
}

// NewService creates a search service. meili may be nil if Meilisearch is not configured.
func NewService(meili *Meili, fallback *Fallback, logger *zap.Logger) *Service {
	return &Service{meili: meili, fallback: fallback, logger: logger.Named("search")}
}

func (s *Service) Search(ctx context.Context, q Query) Response {
	q = q.normalized()
	if s.meili != nil && s.meili.Healthy() {
		results, total, err := s.meili.Search(q)
		if err == nil {
			return Response{Results: nonNil(results), Total: total, Query: q.Text}
		}
		s.logger.Warn("meilisearch error, falling back to store scan", zap.Error(err))
	}

	results, total, err := s.fallback.SearchContext(ctx, q)
	if err != nil {
		s.logger.Error("fallback search failed", zap.Error(err))
		return Response{Results: []Result{}, Total: 0, Query: q.Text}
	}
	return Response{Results: nonNil(results), Total: total, Query: q.Text}
}

// IndexProject pushes a project to Meilisearch in the background. Private
// projects are removed from the index instead.
func (s *Service) IndexProject(project store.Project) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	go func() {
		var err error
		if project.Privacy == store.PrivacyPublic {
			err = s.meili.IndexProjects([]ProjectRecord{ProjectToRecord(project)})
		} else {
			err = s.meili.DeleteProject(project.ID)
		}
		if err != nil {
			s.logger.Warn("index project", zap.String("project_id", project.ID), zap.Error(err))
		}
	}()
}

// IndexIdea pushes an idea to Meilisearch in the background.
func (s *Service) IndexIdea(idea store.Idea) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	go func() {
		if err := s.meili.IndexIdeas([]IdeaRecord{IdeaToRecord(idea)}); err != nil {
			s.logger.Warn("index idea", zap.String("idea_id", idea.ID), zap.Error(err))
		}
	}()
}

// ReindexAll reads all content from the store and pushes it to Meilisearch.
// It returns the number of projects and ideas sent.
func (s *Service) ReindexAll(ctx context.Context, content ContentLister) (int, int, error) {
	if s.meili == nil || !s.meili.Healthy() {
		return 0, 0, nil
	}
	projects, err := content.ListProjects(ctx)
	if err != nil {
		return 0, 0, err
	}
	ideas, err := content.ListIdeas(ctx)
	if err != nil {
		return 0, 0, err
	}

	projectRecords := make([]ProjectRecord, 0, len(projects))
	for _, project := range projects {
		if project.Privacy == store.PrivacyPublic {
			projectRecords = append(projectRecords, ProjectToRecord(project))
		}
	}
	ideaRecords := make([]IdeaRecord, 0, len(ideas))
	for _, idea := range ideas {
		ideaRecords = append(ideaRecords, IdeaToRecord(idea))
	}

	if err := s.meili.IndexProjects(projectRecords); err != nil {
		return 0, 0, err
	}
	if err := s.meili.IndexIdeas(ideaRecords); err != nil {
		return len(projectRecords), 0, err
	}
	return len(projectRecords), len(ideaRecords), nil
}

func nonNil(r []Result) []Result {
	if r == nil {
		return []Result{}
	}
	return r
}
