package search

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"ideaforge/api/internal/store"
)

// ContentLister is the slice of the content store the fallback reads.
type ContentLister interface {
	ListProjects(ctx context.Context) ([]store.Project, error)
	ListIdeas(ctx context.Context) ([]store.Idea, error)
}

// Fallback searches the content store directly with a case-insensitive
// substring match over title and description. Title matches rank first.
type Fallback struct {
	content ContentLister
}

func NewFallback(content ContentLister) *Fallback {
	return &Fallback{content: content}
}

// Healthy always returns true; if the store is down the whole app is down.
func (f *Fallback) Healthy() bool {
	return true
}

func (f *Fallback) Search(q Query) ([]Result, int, error) {
	return f.SearchContext(context.Background(), q)
}

func (f *Fallback) SearchContext(ctx context.Context, q Query) ([]Result, int, error) {
	q = q.normalized()
	if q.Text == "" {
		return nil, 0, nil
	}
	needle := strings.ToLower(q.Text)

	type ranked struct {
		result Result
		rank   int
		seq    int
	}
	var hits []ranked

	if q.FilterType == "" || q.FilterType == ResultProject {
		projects, err := f.content.ListProjects(ctx)
		if err != nil {
			return nil, 0, fmt.Errorf("fallback search projects: %w", err)
		}
		for _, project := range projects {
			if project.Privacy != store.PrivacyPublic {
				continue
			}
			if rank := matchRank(needle, project.Title, project.Description); rank > 0 {
				hits = append(hits, ranked{result: ProjectResult(project), rank: rank, seq: len(hits)})
			}
		}
	}
	if q.FilterType == "" || q.FilterType == ResultIdea {
		ideas, err := f.content.ListIdeas(ctx)
		if err != nil {
			return nil, 0, fmt.Errorf("fallback search ideas: %w", err)
		}
		for _, idea := range ideas {
			if rank := matchRank(needle, idea.Title, idea.Description); rank > 0 {
				hits = append(hits, ranked{result: IdeaResult(idea), rank: rank, seq: len(hits)})
			}
		}
	}

	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].rank != hits[j].rank {
			return hits[i].rank > hits[j].rank
		}
		return hits[i].seq < hits[j].seq
	})

	total := len(hits)
	if q.Offset >= total {
		return []Result{}, total, nil
	}
	end := min(q.Offset+q.Limit, total)
	out := make([]Result, 0, end-q.Offset)
	for _, hit := range hits[q.Offset:end] {
		out = append(out, hit.result)
	}
	return out, total, nil
}

func matchRank(needle, title, description string) int {
	switch {
	case strings.Contains(strings.ToLower(title), needle):
		return 2
	case strings.Contains(strings.ToLower(description), needle):
		return 1
	default:
		return 0
	}
}

func ProjectResult(project store.Project) Result {
	return Result{
		Type:     ResultProject,
		ID:       project.ID,
		Title:    project.Title,
		Snippet:  snippet(project.Description, 160),
		Industry: project.Industry,
		Field:    project.Field,
	}
}

func IdeaResult(idea store.Idea) Result {
	return Result{
		Type:     ResultIdea,
		ID:       idea.ID,
		Title:    idea.Title,
		Snippet:  snippet(idea.Description, 160),
		Industry: idea.Industry,
		Field:    idea.Field,
	}
}

func ProjectToRecord(project store.Project) ProjectRecord {
	return ProjectRecord{
		ID:          project.ID,
		Title:       project.Title,
		Description: project.Description,
		Industry:    project.Industry,
		Field:       project.Field,
		Difficulty:  project.Difficulty,
		CreatedAt:   project.CreatedAt.Unix(),
	}
}

func IdeaToRecord(idea store.Idea) IdeaRecord {
	return IdeaRecord{
		ID:          idea.ID,
		Title:       idea.Title,
		Description: idea.Description,
		Industry:    idea.Industry,
		Field:       idea.Field,
		Promoted:    idea.Promoted(),
		CreatedAt:   idea.CreatedAt.Unix(),
	}
}
