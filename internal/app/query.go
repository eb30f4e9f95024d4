package app

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"
	"ideaforge/api/internal/store"
)

const (
	similarProjectLimit = 3
	defaultFeedLimit    = 6
)

type ProjectView struct {
	ID           string            `json:"id"`
	Title        string            `json:"title"`
	Description  string            `json:"description"`
	Industry     string            `json:"industry"`
	Field        string            `json:"field"`
	Difficulty   int               `json:"difficulty"`
	Privacy      store.Privacy     `json:"privacy"`
	OwnerID      string            `json:"ownerId"`
	ImageURL     string            `json:"image,omitempty"`
	Links        store.SocialLinks `json:"links"`
	SourceIdeaID string            `json:"sourceIdeaId,omitempty"`
	CreatedAt    time.Time         `json:"createdAt"`
}

type IdeaView struct {
	ID                string    `json:"id"`
	Title             string    `json:"title"`
	Description       string    `json:"description"`
	Industry          string    `json:"industry"`
	Field             string    `json:"field"`
	OwnerID           string    `json:"ownerId"`
	PromotedProjectID string    `json:"promotedProjectId,omitempty"`
	CreatedAt         time.Time `json:"createdAt"`
}

type CommentView struct {
	ID           string    `json:"id"`
	AuthorID     string    `json:"authorId"`
	AuthorName   string    `json:"authorName"`
	AuthorAvatar string    `json:"authorAvatar,omitempty"`
	Text         string    `json:"text"`
	CreatedAt    time.Time `json:"createdAt"`
}

type ContentSummary struct {
	ID       string `json:"id"`
	Title    string `json:"title"`
	Industry string `json:"industry"`
	Field    string `json:"field"`
}

// ContentView is a project or idea with its engagement counts and the
// viewer's own flags, all read from one snapshot.
type ContentView struct {
	SubjectType       store.SubjectType `json:"subjectType"`
	Project           *ProjectView      `json:"project,omitempty"`
	Idea              *IdeaView         `json:"idea,omitempty"`
	ReactionCount     int               `json:"reactionCount"`
	CollaboratorCount int               `json:"collaboratorCount"`
	CommentCount      int               `json:"commentCount"`
	IsEngagedByViewer bool              `json:"isEngagedByViewer"`
	IsCollaborator    bool              `json:"isCollaborator"`
	Comments          []CommentView     `json:"comments,omitempty"`
	Similar           []ContentSummary  `json:"similar,omitempty"`
}

// ContentFilter narrows a listing. Empty slices match everything; values
// are compared case-insensitively.
type ContentFilter struct {
	Industries    []string
	Fields        []string
	Privacy       []string
	MaxDifficulty int
	Query         string
	Limit         int
}

type FeedView struct {
	Projects []ContentView `json:"projects"`
	Ideas    []ContentView `json:"ideas"`
}

// GetContentWithEngagement reads one subject with its counts, the viewer's
// flags and its comments. It never writes.
func (s *Service) GetContentWithEngagement(ctx context.Context, subjectType store.SubjectType, subjectID, viewerID string) (ContentView, error) {
	if !subjectType.Valid() {
		return ContentView{}, invalidSubjectType(subjectType)
	}
	var view ContentView
	err := s.read(ctx, func(tx store.Tx) error {
		view = ContentView{SubjectType: subjectType}
		switch subjectType {
		case store.SubjectProject:
			project, err := tx.GetProject(ctx, subjectID)
			if err != nil {
				return storeError(err, "Project")
			}
			projectView := newProjectView(project)
			view.Project = &projectView
			view.Similar, err = similarProjects(ctx, tx, project)
			if err != nil {
				return err
			}
		case store.SubjectIdea:
			idea, err := tx.GetIdea(ctx, subjectID)
			if err != nil {
				return storeError(err, "Idea")
			}
			ideaView := newIdeaView(idea)
			view.Idea = &ideaView
		}

		engagement, err := tx.EngagementFor(ctx, subjectType, []string{subjectID}, viewerID)
		if err != nil {
			return fmt.Errorf("load engagement: %w", err)
		}
		applyEngagement(&view, engagement[subjectID])

		comments, err := tx.ListComments(ctx, subjectType, subjectID, nil, 0)
		if err != nil {
			return fmt.Errorf("list comments: %w", err)
		}
		view.Comments = newCommentViews(comments)
		return nil
	})
	if err != nil {
		return ContentView{}, err
	}
	return view, nil
}

// ListContentWithEngagement filters projects or ideas on their metadata and
// attaches engagement to the survivors. Private projects are visible only
// to their owner.
func (s *Service) ListContentWithEngagement(ctx context.Context, subjectType store.SubjectType, filter ContentFilter, viewerID string) ([]ContentView, error) {
	if !subjectType.Valid() {
		return nil, invalidSubjectType(subjectType)
	}
	var views []ContentView
	err := s.read(ctx, func(tx store.Tx) error {
		views = nil
		switch subjectType {
		case store.SubjectProject:
			projects, err := tx.ListProjects(ctx)
			if err != nil {
				return fmt.Errorf("list projects: %w", err)
			}
			for _, project := range projects {
				if filter.Limit > 0 && len(views) == filter.Limit {
					break
				}
				if !filter.matchesProject(project, viewerID) {
					continue
				}
				projectView := newProjectView(project)
				views = append(views, ContentView{SubjectType: subjectType, Project: &projectView})
			}
		case store.SubjectIdea:
			ideas, err := tx.ListIdeas(ctx)
			if err != nil {
				return fmt.Errorf("list ideas: %w", err)
			}
			for _, idea := range ideas {
				if filter.Limit > 0 && len(views) == filter.Limit {
					break
				}
				if !filter.matchesIdea(idea) {
					continue
				}
				ideaView := newIdeaView(idea)
				views = append(views, ContentView{SubjectType: subjectType, Idea: &ideaView})
			}
		}
		if len(views) == 0 {
			return nil
		}

		ids := make([]string, len(views))
		for i, view := range views {
			ids[i] = view.subjectID()
		}
		engagement, err := tx.EngagementFor(ctx, subjectType, ids, viewerID)
		if err != nil {
			return fmt.Errorf("load engagement: %w", err)
		}
		for i := range views {
			applyEngagement(&views[i], engagement[ids[i]])
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if views == nil {
		views = []ContentView{}
	}
	return views, nil
}

// Feed loads the newest projects and ideas side by side for the home page.
func (s *Service) Feed(ctx context.Context, viewerID string, limit int) (FeedView, error) {
	if limit <= 0 {
		limit = defaultFeedLimit
	}
	var feed FeedView
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		projects, err := s.ListContentWithEngagement(gctx, store.SubjectProject, ContentFilter{Limit: limit}, viewerID)
		feed.Projects = projects
		return err
	})
	g.Go(func() error {
		ideas, err := s.ListContentWithEngagement(gctx, store.SubjectIdea, ContentFilter{Limit: limit}, viewerID)
		feed.Ideas = ideas
		return err
	})
	if err := g.Wait(); err != nil {
		return FeedView{}, err
	}
	return feed, nil
}

func (f ContentFilter) matchesProject(project store.Project, viewerID string) bool {
	if project.Privacy == store.PrivacyPrivate && project.OwnerID != viewerID {
		return false
	}
	if !matchesAny(f.Industries, project.Industry) || !matchesAny(f.Fields, project.Field) {
		return false
	}
	if !matchesAny(f.Privacy, string(project.Privacy)) {
		return false
	}
	if f.MaxDifficulty > 0 && project.Difficulty > f.MaxDifficulty {
		return false
	}
	return matchesText(f.Query, project.Title, project.Description)
}

func (f ContentFilter) matchesIdea(idea store.Idea) bool {
	if !matchesAny(f.Industries, idea.Industry) || !matchesAny(f.Fields, idea.Field) {
		return false
	}
	return matchesText(f.Query, idea.Title, idea.Description)
}

func matchesAny(allowed []string, value string) bool {
	if len(allowed) == 0 {
		return true
	}
	return slices.ContainsFunc(allowed, func(candidate string) bool {
		return strings.EqualFold(strings.TrimSpace(candidate), value)
	})
}

func matchesText(query string, fields ...string) bool {
	needle := strings.ToLower(strings.TrimSpace(query))
	if needle == "" {
		return true
	}
	for _, field := range fields {
		if strings.Contains(strings.ToLower(field), needle) {
			return true
		}
	}
	return false
}

func similarProjects(ctx context.Context, tx store.Tx, project store.Project) ([]ContentSummary, error) {
	projects, err := tx.ListProjects(ctx)
	if err != nil {
		return nil, fmt.Errorf("list projects: %w", err)
	}
	var similar []ContentSummary
	for _, candidate := range projects {
		if len(similar) == similarProjectLimit {
			break
		}
		if candidate.ID == project.ID || candidate.Privacy != store.PrivacyPublic {
			continue
		}
		if !strings.EqualFold(candidate.Industry, project.Industry) && !strings.EqualFold(candidate.Field, project.Field) {
			continue
		}
		similar = append(similar, ContentSummary{
			ID:       candidate.ID,
			Title:    candidate.Title,
			Industry: candidate.Industry,
			Field:    candidate.Field,
		})
	}
	return similar, nil
}

func applyEngagement(view *ContentView, engagement store.Engagement) {
	view.ReactionCount = engagement.Reactions
	view.CollaboratorCount = engagement.Collaborators
	view.CommentCount = engagement.Comments
	view.IsEngagedByViewer = engagement.ViewerReacted
	view.IsCollaborator = engagement.ViewerCollaborator
}

func (v ContentView) subjectID() string {
	if v.Project != nil {
		return v.Project.ID
	}
	if v.Idea != nil {
		return v.Idea.ID
	}
	return ""
}

func newProjectView(project store.Project) ProjectView {
	view := ProjectView{
		ID:          project.ID,
		Title:       project.Title,
		Description: project.Description,
		Industry:    project.Industry,
		Field:       project.Field,
		Difficulty:  project.Difficulty,
		Privacy:     project.Privacy,
		OwnerID:     project.OwnerID,
		ImageURL:    project.ImageURL,
		Links:       project.Links,
		CreatedAt:   project.CreatedAt,
	}
	if project.SourceIdeaID != nil {
		view.SourceIdeaID = *project.SourceIdeaID
	}
	return view
}

func newIdeaView(idea store.Idea) IdeaView {
	view := IdeaView{
		ID:          idea.ID,
		Title:       idea.Title,
		Description: idea.Description,
		Industry:    idea.Industry,
		Field:       idea.Field,
		OwnerID:     idea.OwnerID,
		CreatedAt:   idea.CreatedAt,
	}
	if idea.Promoted() {
		view.PromotedProjectID = *idea.PromotedProjectID
	}
	return view
}

func newCommentViews(comments []store.Comment) []CommentView {
	views := make([]CommentView, len(comments))
	for i, comment := range comments {
		views[i] = CommentView{
			ID:           comment.ID,
			AuthorID:     comment.AuthorID,
			AuthorName:   comment.AuthorName,
			AuthorAvatar: comment.AuthorAvatar,
			Text:         comment.Text,
			CreatedAt:    comment.CreatedAt,
		}
	}
	return views
}
