package store

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
)

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	dsn := strings.TrimSpace(os.Getenv("IDEAFORGE_TEST_DATABASE_URL"))
	if dsn == "" {
		t.Skip("IDEAFORGE_TEST_DATABASE_URL is not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	db, err := Open(ctx, dsn, DefaultPoolOptions())
	if err != nil {
		t.Fatalf("open database: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	if _, err := db.ExecContext(ctx, `DROP SCHEMA IF EXISTS public CASCADE; CREATE SCHEMA public;`); err != nil {
		t.Fatalf("reset schema: %v", err)
	}
	if _, err := ApplyMigrations(ctx, db, migrationsDir); err != nil {
		t.Fatalf("apply migrations: %v", err)
	}
	return db
}

func seedPostgres(t *testing.T, s *PostgresStore) {
	t.Helper()
	ctx := context.Background()
	clock := NewClock()
	for _, id := range []string{"u1", "u2"} {
		if err := s.CreateUser(ctx, User{ID: id, Email: id + "@example.com", DisplayName: id}); err != nil {
			t.Fatalf("create user %s: %v", id, err)
		}
	}
	if err := s.InsertIdea(ctx, Idea{ID: "i1", Title: "Idea", Description: "d", Industry: "tech", Field: "ai", OwnerID: "u1", CreatedAt: clock.Now()}); err != nil {
		t.Fatalf("insert idea: %v", err)
	}
	if err := s.InsertProject(ctx, Project{ID: "p1", Title: "Project", Description: "d", Industry: "tech", Field: "ai", Difficulty: 3, Privacy: PrivacyPublic, OwnerID: "u1", CreatedAt: clock.Now()}); err != nil {
		t.Fatalf("insert project: %v", err)
	}
}

func TestMigrationsRoundTripPostgres(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	for {
		version, err := RollbackLatest(ctx, db, migrationsDir)
		if err != nil {
			t.Fatalf("rollback: %v", err)
		}
		if version == "" {
			break
		}
	}
	applied, err := ApplyMigrations(ctx, db, migrationsDir)
	if err != nil {
		t.Fatalf("apply up migrations (pass 2): %v", err)
	}
	if len(applied) == 0 {
		t.Fatal("expected migrations to be re-applied after rollback")
	}
}

func TestPostgresEdgeInsertIsUniquePerKey(t *testing.T) {
	s := NewPostgresStore(openTestDB(t))
	seedPostgres(t, s)
	ctx := context.Background()
	key := EdgeKey{SubjectType: SubjectProject, SubjectID: "p1", Kind: KindLike, UserID: "u2"}

	var wg sync.WaitGroup
	results := make(chan bool, 8)
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			inserted, err := s.InsertEdge(ctx, Edge{EdgeKey: key, CreatedAt: time.Now().UTC()})
			if err != nil {
				t.Errorf("insert edge: %v", err)
				return
			}
			results <- inserted
		}()
	}
	wg.Wait()
	close(results)

	wins := 0
	for inserted := range results {
		if inserted {
			wins++
		}
	}
	if wins != 1 {
		t.Fatalf("expected exactly one winning insert, got %d", wins)
	}
	count, err := s.CountEdges(ctx, SubjectProject, "p1", KindLike)
	if err != nil {
		t.Fatalf("count edges: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected count 1, got %d", count)
	}
}

func TestPostgresRejectsMismatchedEdgeKind(t *testing.T) {
	s := NewPostgresStore(openTestDB(t))
	seedPostgres(t, s)

	_, err := s.InsertEdge(context.Background(), Edge{EdgeKey: EdgeKey{SubjectType: SubjectIdea, SubjectID: "i1", Kind: KindLike, UserID: "u2"}, CreatedAt: time.Now().UTC()})
	if err == nil {
		t.Fatal("expected check constraint to reject a like on an idea")
	}
}

func TestPostgresPromotionIsAllOrNothing(t *testing.T) {
	s := NewPostgresStore(openTestDB(t))
	seedPostgres(t, s)
	ctx := context.Background()
	sourceID := "i1"
	boom := errors.New("boom")

	err := s.WithTx(ctx, func(tx Tx) error {
		if err := tx.InsertProject(ctx, Project{ID: "p2", Title: "Idea", Description: "d", Industry: "tech", Field: "ai", Difficulty: 1, Privacy: PrivacyPublic, OwnerID: "u1", SourceIdeaID: &sourceID, CreatedAt: time.Now().UTC()}); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	if _, err := s.GetProject(ctx, "p2"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected rolled back project to be absent, got %v", err)
	}

	if err := s.MarkIdeaPromoted(ctx, "i1", "p1"); err != nil {
		t.Fatalf("mark promoted: %v", err)
	}
	if err := s.MarkIdeaPromoted(ctx, "i1", "p1"); !errors.Is(err, ErrAlreadyPromoted) {
		t.Fatalf("expected ErrAlreadyPromoted, got %v", err)
	}
}

func TestPostgresCommentsAreImmutable(t *testing.T) {
	db := openTestDB(t)
	s := NewPostgresStore(db)
	seedPostgres(t, s)
	ctx := context.Background()

	if err := s.InsertComment(ctx, Comment{ID: "c1", SubjectType: SubjectIdea, SubjectID: "i1", AuthorID: "u2", Text: "hello", CreatedAt: time.Now().UTC()}); err != nil {
		t.Fatalf("insert comment: %v", err)
	}

	_, err := db.ExecContext(ctx, `UPDATE comments SET body='edited' WHERE id='c1'`)
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		t.Fatalf("expected PostgreSQL error, got: %v", err)
	}
	if pgErr.SQLState() != "55000" {
		t.Fatalf("expected SQLSTATE 55000, got: %s", pgErr.SQLState())
	}
}

func TestPostgresEngagementAndCommentPaging(t *testing.T) {
	s := NewPostgresStore(openTestDB(t))
	seedPostgres(t, s)
	ctx := context.Background()
	clock := NewClock()

	for _, user := range []string{"u1", "u2"} {
		if _, err := s.InsertEdge(ctx, Edge{EdgeKey: EdgeKey{SubjectType: SubjectIdea, SubjectID: "i1", Kind: KindLightbulb, UserID: user}, CreatedAt: clock.Now()}); err != nil {
			t.Fatalf("insert edge: %v", err)
		}
	}
	for _, id := range []string{"c1", "c2", "c3"} {
		if err := s.InsertComment(ctx, Comment{ID: id, SubjectType: SubjectIdea, SubjectID: "i1", AuthorID: "u2", Text: id, CreatedAt: clock.Now()}); err != nil {
			t.Fatalf("insert comment: %v", err)
		}
	}

	var got map[string]Engagement
	err := s.WithReadTx(ctx, func(tx Tx) error {
		var err error
		got, err = tx.EngagementFor(ctx, SubjectIdea, []string{"i1"}, "u2")
		return err
	})
	if err != nil {
		t.Fatalf("engagement: %v", err)
	}
	want := Engagement{Reactions: 2, Comments: 3, ViewerReacted: true}
	if got["i1"] != want {
		t.Fatalf("expected %+v, got %+v", want, got["i1"])
	}

	page, err := s.ListComments(ctx, SubjectIdea, "i1", nil, 2)
	if err != nil {
		t.Fatalf("list comments: %v", err)
	}
	if len(page) != 2 || page[0].ID != "c3" || page[1].ID != "c2" {
		t.Fatalf("unexpected first page: %+v", page)
	}
	rest, err := s.ListComments(ctx, SubjectIdea, "i1", &CommentCursor{CreatedAt: page[1].CreatedAt, ID: page[1].ID}, 0)
	if err != nil {
		t.Fatalf("list comments: %v", err)
	}
	if len(rest) != 1 || rest[0].ID != "c1" {
		t.Fatalf("unexpected second page: %+v", rest)
	}
}
