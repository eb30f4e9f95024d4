package search

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap"
	"ideaforge/api/internal/store"
)

func seedContent(t *testing.T) *store.MemoryStore {
	t.Helper()
	ctx := context.Background()
	s := store.NewMemoryStore()
	base := time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC)
	projects := []store.Project{
		{ID: "p1", Title: "Solar Drone", Description: "autonomous panels", Industry: "energy", Field: "robotics", Privacy: store.PrivacyPublic, Difficulty: 3, OwnerID: "u1", CreatedAt: base},
		{ID: "p2", Title: "Secret drone lab", Description: "hidden", Industry: "energy", Field: "robotics", Privacy: store.PrivacyPrivate, Difficulty: 2, OwnerID: "u1", CreatedAt: base.Add(time.Minute)},
		{ID: "p3", Title: "Garden planner", Description: "uses a DRONE for mapping", Industry: "agri", Field: "software", Privacy: store.PrivacyPublic, Difficulty: 1, OwnerID: "u2", CreatedAt: base.Add(2 * time.Minute)},
	}
	for _, project := range projects {
		if err := s.InsertProject(ctx, project); err != nil {
			t.Fatalf("insert project: %v", err)
		}
	}
	if err := s.InsertIdea(ctx, store.Idea{ID: "i1", Title: "Drone delivery", Description: "parcels", OwnerID: "u2", CreatedAt: base}); err != nil {
		t.Fatalf("insert idea: %v", err)
	}
	return s
}

func TestFallbackMatchesCaseInsensitivelyAndSkipsPrivate(t *testing.T) {
	fallback := NewFallback(seedContent(t))

	results, total, err := fallback.Search(Query{Text: "drone"})
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if total != 3 {
		t.Fatalf("total = %d, want 3 (%+v)", total, results)
	}
	for _, result := range results {
		if result.ID == "p2" {
			t.Fatal("private project leaked into search results")
		}
	}
	if results[len(results)-1].ID != "p3" {
		t.Fatalf("description-only match should rank last, got %+v", results)
	}
}

func TestFallbackFilterTypeAndPaging(t *testing.T) {
	fallback := NewFallback(seedContent(t))

	results, total, err := fallback.Search(Query{Text: "drone", FilterType: ResultIdea})
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if total != 1 || results[0].Type != ResultIdea {
		t.Fatalf("unexpected idea results: %+v", results)
	}

	page, total, err := fallback.Search(Query{Text: "drone", Limit: 1, Offset: 5})
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if total != 3 || len(page) != 0 {
		t.Fatalf("offset past end should return empty page, got %d/%d", len(page), total)
	}
}

func TestFallbackEmptyQuery(t *testing.T) {
	results, total, err := NewFallback(seedContent(t)).Search(Query{Text: "   "})
	if err != nil || total != 0 || len(results) != 0 {
		t.Fatalf("expected empty result, got %v %d %v", results, total, err)
	}
}

func TestServiceWithoutMeiliUsesFallback(t *testing.T) {
	content := seedContent(t)
	svc := NewService(nil, NewFallback(content), zap.NewNop())

	resp := svc.Search(context.Background(), Query{Text: "garden"})
	if resp.Total != 1 || resp.Results[0].ID != "p3" {
		t.Fatalf("unexpected response: %+v", resp)
	}

	projects, ideas, err := svc.ReindexAll(context.Background(), content)
	if err != nil || projects != 0 || ideas != 0 {
		t.Fatalf("reindex without meili should be a no-op, got %d %d %v", projects, ideas, err)
	}
	svc.IndexProject(store.Project{ID: "p9"})
}

func TestSnippetTruncatesOnRunes(t *testing.T) {
	if got := snippet("héllo wörld", 5); got != "héllo…" {
		t.Fatalf("snippet() = %q", got)
	}
}
