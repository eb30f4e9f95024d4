package app

import (
	"context"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"ideaforge/api/internal/media"
	"ideaforge/api/internal/search"
	"ideaforge/api/internal/store"
)

func TestCreateProjectDefaultsAndTrims(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	project, err := f.svc.CreateProject(ctx, "u1", CreateProjectInput{
		Title:       "  Tide tables  ",
		Description: "Open data for harbours",
		Industry:    "Maritime",
		Field:       "Data",
		Links:       LinksInput{GitHub: "https://github.com/example/tides"},
	})
	require.NoError(t, err)
	assert.Equal(t, "Tide tables", project.Title)
	assert.Equal(t, 1, project.Difficulty)
	assert.Equal(t, store.PrivacyPublic, project.Privacy)
	assert.Equal(t, "u1", project.OwnerID)
	assert.Nil(t, project.SourceIdeaID)
	assert.Equal(t, "https://github.com/example/tides", project.Links.GitHub)

	stored, err := f.store.GetProject(ctx, project.ID)
	require.NoError(t, err)
	assert.Equal(t, project.Title, stored.Title)
}

func TestCreateProjectValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.CreateProject(ctx, "", CreateProjectInput{})
	assert.ErrorIs(t, err, ErrUnauthorized)

	_, err = f.svc.CreateProject(ctx, "u1", CreateProjectInput{
		Title:       "   ",
		Description: "d",
		Industry:    "i",
		Field:       "f",
		Difficulty:  7,
		Privacy:     "secret",
		Links:       LinksInput{GitHub: "not a url"},
	})
	require.ErrorIs(t, err, ErrInvalidArgument)
	var domainErr *DomainError
	require.ErrorAs(t, err, &domainErr)
	details, ok := domainErr.Details.(map[string]string)
	require.True(t, ok)
	assert.Equal(t, "required", details["title"])
	assert.Equal(t, "max", details["difficulty"])
	assert.Equal(t, "oneof", details["privacy"])
	assert.Equal(t, "url", details["links.github"])
}

func TestCreateIdeaRequiresFields(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.CreateIdea(ctx, "u1", CreateIdeaInput{Title: "Only a title"})
	assert.ErrorIs(t, err, ErrInvalidArgument)

	idea, err := f.svc.CreateIdea(ctx, "u1", CreateIdeaInput{Title: "Seed swap", Description: "Neighbourhood seed library", Industry: "Food", Field: "Community"})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(idea.ID, "idea_"))
	assert.False(t, idea.Promoted())
}

func TestSearchFallsBackToStoreScan(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.svc.CreateProject(ctx, "u1", CreateProjectInput{Title: "Harbour tides", Description: "d", Industry: "Maritime", Field: "Data"})
	require.NoError(t, err)
	_, err = f.svc.CreateProject(ctx, "u1", CreateProjectInput{Title: "Hidden tides", Description: "d", Industry: "Maritime", Field: "Data", Privacy: "private"})
	require.NoError(t, err)

	resp := f.svc.Search(ctx, search.Query{Text: "tides"})
	require.Len(t, resp.Results, 1)
	assert.Equal(t, "Harbour tides", resp.Results[0].Title)
}

type fakeImages struct {
	url   string
	err   error
	calls int
}

func (f *fakeImages) PutProjectImage(_ context.Context, projectID string, upload media.Upload) (string, error) {
	f.calls++
	if f.err != nil {
		return "", f.err
	}
	if _, err := io.ReadAll(upload.Body); err != nil {
		return "", err
	}
	return f.url + "/" + projectID, nil
}

func TestSetProjectImage(t *testing.T) {
	mem := store.NewMemoryStore()
	images := &fakeImages{url: "https://img.example.com"}
	f := newFixtureWithStore(t, mem, mem)
	f.svc = New(Deps{Store: mem, Profiles: f.local, Clock: f.clock, Images: images})
	ctx := context.Background()
	f.seedProject(t, "P1", "u1")
	upload := func() media.Upload {
		return media.Upload{Body: strings.NewReader("png"), Size: 3, ContentType: "image/png"}
	}

	_, err := f.svc.SetProjectImage(ctx, "P1", "u2", upload())
	assert.ErrorIs(t, err, ErrForbidden)
	_, err = f.svc.SetProjectImage(ctx, "P9", "u1", upload())
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Zero(t, images.calls)

	url, err := f.svc.SetProjectImage(ctx, "P1", "u1", upload())
	require.NoError(t, err)
	assert.Equal(t, "https://img.example.com/P1", url)
	stored, err := mem.GetProject(ctx, "P1")
	require.NoError(t, err)
	assert.Equal(t, url, stored.ImageURL)

	images.err = media.ErrUnsupportedType
	_, err = f.svc.SetProjectImage(ctx, "P1", "u1", upload())
	assert.ErrorIs(t, err, ErrInvalidArgument)
}

func TestSetProjectImageWithoutStorage(t *testing.T) {
	f := newFixture(t)
	f.seedProject(t, "P1", "u1")

	_, err := f.svc.SetProjectImage(context.Background(), "P1", "u1", media.Upload{})
	assert.ErrorIs(t, err, ErrUnavailable)
}
