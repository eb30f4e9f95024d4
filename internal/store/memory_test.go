package store

import (
	"context"
	"database/sql/driver"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seedMemory(t *testing.T) (*MemoryStore, *Clock) {
	t.Helper()
	ctx := context.Background()
	s := NewMemoryStore()
	clock := NewClock()
	for _, id := range []string{"u1", "u2", "u3"} {
		require.NoError(t, s.CreateUser(ctx, User{ID: id, Email: id + "@example.com", DisplayName: id, Role: "member"}))
	}
	require.NoError(t, s.InsertIdea(ctx, Idea{ID: "i1", Title: "Idea", OwnerID: "u1", CreatedAt: clock.Now()}))
	require.NoError(t, s.InsertProject(ctx, Project{ID: "p1", Title: "Project", Difficulty: 2, Privacy: PrivacyPublic, OwnerID: "u1", CreatedAt: clock.Now()}))
	return s, clock
}

func TestMemoryStoreEdgeUniqueness(t *testing.T) {
	ctx := context.Background()
	s, clock := seedMemory(t)
	key := EdgeKey{SubjectType: SubjectProject, SubjectID: "p1", Kind: KindLike, UserID: "u2"}

	inserted, err := s.InsertEdge(ctx, Edge{EdgeKey: key, CreatedAt: clock.Now()})
	require.NoError(t, err)
	assert.True(t, inserted)

	inserted, err = s.InsertEdge(ctx, Edge{EdgeKey: key, CreatedAt: clock.Now()})
	require.NoError(t, err)
	assert.False(t, inserted, "second insert of the same key must report a conflict")

	count, err := s.CountEdges(ctx, SubjectProject, "p1", KindLike)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	removed, err := s.DeleteEdge(ctx, key)
	require.NoError(t, err)
	assert.True(t, removed)
	removed, err = s.DeleteEdge(ctx, key)
	require.NoError(t, err)
	assert.False(t, removed)
}

func TestMemoryStoreFailedTxRollsBack(t *testing.T) {
	ctx := context.Background()
	s, clock := seedMemory(t)
	boom := errors.New("boom")

	sourceID := "i1"
	err := s.WithTx(ctx, func(tx Tx) error {
		if err := tx.InsertProject(ctx, Project{ID: "p2", OwnerID: "u1", SourceIdeaID: &sourceID, Privacy: PrivacyPublic, Difficulty: 1, CreatedAt: clock.Now()}); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	_, err = s.GetProject(ctx, "p2")
	assert.ErrorIs(t, err, ErrNotFound)
	idea, err := s.GetIdea(ctx, "i1")
	require.NoError(t, err)
	assert.False(t, idea.Promoted())
}

func TestMemoryStoreReadTxRejectsWrites(t *testing.T) {
	ctx := context.Background()
	s, clock := seedMemory(t)

	err := s.WithReadTx(ctx, func(tx Tx) error {
		_, err := tx.InsertEdge(ctx, Edge{EdgeKey: EdgeKey{SubjectType: SubjectIdea, SubjectID: "i1", Kind: KindLightbulb, UserID: "u2"}, CreatedAt: clock.Now()})
		return err
	})
	assert.ErrorIs(t, err, ErrReadOnly)
}

func TestMemoryStoreMarkIdeaPromotedOnce(t *testing.T) {
	ctx := context.Background()
	s, _ := seedMemory(t)

	require.NoError(t, s.MarkIdeaPromoted(ctx, "i1", "p1"))
	assert.ErrorIs(t, s.MarkIdeaPromoted(ctx, "i1", "p9"), ErrAlreadyPromoted)
	assert.ErrorIs(t, s.MarkIdeaPromoted(ctx, "missing", "p9"), ErrNotFound)

	idea, err := s.GetIdea(ctx, "i1")
	require.NoError(t, err)
	require.NotNil(t, idea.PromotedProjectID)
	assert.Equal(t, "p1", *idea.PromotedProjectID)
}

func TestMemoryStoreSourceIdeaIsUnique(t *testing.T) {
	ctx := context.Background()
	s, clock := seedMemory(t)
	sourceID := "i1"

	require.NoError(t, s.InsertProject(ctx, Project{ID: "p2", OwnerID: "u1", SourceIdeaID: &sourceID, CreatedAt: clock.Now()}))
	err := s.InsertProject(ctx, Project{ID: "p3", OwnerID: "u1", SourceIdeaID: &sourceID, CreatedAt: clock.Now()})
	assert.ErrorIs(t, err, ErrAlreadyPromoted)
}

func TestMemoryStoreEngagementFor(t *testing.T) {
	ctx := context.Background()
	s, clock := seedMemory(t)

	for _, user := range []string{"u1", "u2"} {
		_, err := s.InsertEdge(ctx, Edge{EdgeKey: EdgeKey{SubjectType: SubjectProject, SubjectID: "p1", Kind: KindLike, UserID: user}, CreatedAt: clock.Now()})
		require.NoError(t, err)
	}
	_, err := s.InsertEdge(ctx, Edge{EdgeKey: EdgeKey{SubjectType: SubjectProject, SubjectID: "p1", Kind: KindCollaborator, UserID: "u3"}, CreatedAt: clock.Now()})
	require.NoError(t, err)
	require.NoError(t, s.InsertComment(ctx, Comment{ID: "c1", SubjectType: SubjectProject, SubjectID: "p1", AuthorID: "u2", Text: "hi", CreatedAt: clock.Now()}))

	got, err := s.EngagementFor(ctx, SubjectProject, []string{"p1", "missing"}, "u2")
	require.NoError(t, err)
	assert.Equal(t, Engagement{Reactions: 2, Collaborators: 1, Comments: 1, ViewerReacted: true}, got["p1"])
	assert.Equal(t, Engagement{}, got["missing"])

	anon, err := s.EngagementFor(ctx, SubjectProject, []string{"p1"}, "")
	require.NoError(t, err)
	assert.False(t, anon["p1"].ViewerReacted)
	assert.False(t, anon["p1"].ViewerCollaborator)
}

func TestMemoryStoreListCommentsNewestFirstWithCursor(t *testing.T) {
	ctx := context.Background()
	s, _ := seedMemory(t)
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	ids := []string{"c1", "c2", "c3", "c4"}
	for i, id := range ids {
		require.NoError(t, s.InsertComment(ctx, Comment{ID: id, SubjectType: SubjectIdea, SubjectID: "i1", AuthorID: "u2", Text: id, CreatedAt: base.Add(time.Duration(i) * time.Second)}))
	}
	require.NoError(t, s.InsertComment(ctx, Comment{ID: "other", SubjectType: SubjectProject, SubjectID: "i1", AuthorID: "u2", Text: "x", CreatedAt: base}))

	page, err := s.ListComments(ctx, SubjectIdea, "i1", nil, 2)
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, "c4", page[0].ID)
	assert.Equal(t, "c3", page[1].ID)

	rest, err := s.ListComments(ctx, SubjectIdea, "i1", &CommentCursor{CreatedAt: page[1].CreatedAt, ID: page[1].ID}, 0)
	require.NoError(t, err)
	require.Len(t, rest, 2)
	assert.Equal(t, "c2", rest[0].ID)
	assert.Equal(t, "c1", rest[1].ID)
}

func TestMemoryStoreUsersAndRefreshSessions(t *testing.T) {
	ctx := context.Background()
	s, _ := seedMemory(t)

	assert.ErrorIs(t, s.CreateUser(ctx, User{ID: "u9", Email: "U1@example.com"}), ErrDuplicate)
	user, err := s.GetUserByEmail(ctx, "U2@EXAMPLE.com")
	require.NoError(t, err)
	assert.Equal(t, "u2", user.ID)

	require.NoError(t, s.SaveRefreshSession(ctx, "hash", "u2", time.Now().Add(time.Hour)))
	userID, err := s.LookupRefreshSession(ctx, "hash")
	require.NoError(t, err)
	assert.Equal(t, "u2", userID)

	require.NoError(t, s.RevokeRefreshSession(ctx, "hash"))
	_, err = s.LookupRefreshSession(ctx, "hash")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, s.SaveRefreshSession(ctx, "old", "u2", time.Now().Add(-time.Minute)))
	_, err = s.LookupRefreshSession(ctx, "old")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStoreConcurrentInsertsKeepOneEdge(t *testing.T) {
	ctx := context.Background()
	s, clock := seedMemory(t)
	key := EdgeKey{SubjectType: SubjectIdea, SubjectID: "i1", Kind: KindLightbulb, UserID: "u2"}

	var wg sync.WaitGroup
	var mu sync.Mutex
	wins := 0
	for range 16 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			inserted, err := s.InsertEdge(ctx, Edge{EdgeKey: key, CreatedAt: clock.Now()})
			assert.NoError(t, err)
			if inserted {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, wins)
	count, err := s.CountEdges(ctx, SubjectIdea, "i1", KindLightbulb)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestClockIsStrictlyIncreasing(t *testing.T) {
	fixed := time.Date(2025, 3, 1, 12, 0, 0, 999, time.UTC)
	clock := &Clock{now: func() time.Time { return fixed }}

	first := clock.Now()
	second := clock.Now()
	third := clock.Now()

	assert.Equal(t, fixed.Truncate(time.Microsecond), first)
	assert.True(t, second.After(first))
	assert.True(t, third.After(second))
	assert.Equal(t, time.Microsecond, third.Sub(second))
}

func TestIsTransient(t *testing.T) {
	assert.False(t, IsTransient(nil))
	assert.False(t, IsTransient(ErrNotFound))
	assert.True(t, IsTransient(fmt.Errorf("query: %w", driver.ErrBadConn)))
	assert.True(t, IsTransient(timeoutError{}))
}

type timeoutError struct{}

func (timeoutError) Error() string   { return "i/o timeout" }
func (timeoutError) Timeout() bool   { return true }
func (timeoutError) Temporary() bool { return true }
