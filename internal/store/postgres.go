package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
)

const uniqueViolation = "23505"

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// PostgresStore runs every Tx operation directly against the pool; WithTx
// and WithReadTx hand the same operations a *sql.Tx instead.
type PostgresStore struct {
	*pgTx
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{pgTx: &pgTx{q: db}, db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

func (s *PostgresStore) WithTx(ctx context.Context, fn func(Tx) error) error {
	return s.runTx(ctx, nil, fn)
}

// WithReadTx runs fn on a repeatable-read snapshot so every count and flag
// it reads belongs to the same point in time.
func (s *PostgresStore) WithReadTx(ctx context.Context, fn func(Tx) error) error {
	return s.runTx(ctx, &sql.TxOptions{Isolation: sql.LevelRepeatableRead, ReadOnly: true}, fn)
}

func (s *PostgresStore) runTx(ctx context.Context, opts *sql.TxOptions, fn func(Tx) error) error {
	tx, err := s.db.BeginTx(ctx, opts)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(&pgTx{q: tx}); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func (s *PostgresStore) CreateUser(ctx context.Context, user User) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, email, display_name, avatar_url, password_hash, role, created_at)
		VALUES ($1, NULLIF(LOWER($2), ''), $3, $4, $5, $6, $7)
	`, user.ID, user.Email, user.DisplayName, user.AvatarURL, user.PasswordHash, roleOrDefault(user.Role), timeOrNow(user.CreatedAt))
	if err != nil {
		if _, ok := uniqueConstraint(err); ok {
			return fmt.Errorf("create user: %w", ErrDuplicate)
		}
		return fmt.Errorf("create user: %w", err)
	}
	return nil
}

func (s *PostgresStore) UpsertUser(ctx context.Context, user User) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, email, display_name, avatar_url, password_hash, role, created_at)
		VALUES ($1, NULLIF(LOWER($2), ''), $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE
		SET email=EXCLUDED.email, display_name=EXCLUDED.display_name, avatar_url=EXCLUDED.avatar_url
	`, user.ID, user.Email, user.DisplayName, user.AvatarURL, user.PasswordHash, roleOrDefault(user.Role), timeOrNow(user.CreatedAt))
	if err != nil {
		return fmt.Errorf("upsert user: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetUserByEmail(ctx context.Context, email string) (User, error) {
	user, err := scanUser(s.db.QueryRowContext(ctx, `
		SELECT id, COALESCE(email, ''), display_name, avatar_url, password_hash, role, created_at
		FROM users
		WHERE email = LOWER($1)
	`, email))
	if err != nil {
		return User{}, fmt.Errorf("get user by email: %w", err)
	}
	return user, nil
}

func (s *PostgresStore) SaveRefreshSession(ctx context.Context, tokenHash, userID string, expiresAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO refresh_sessions (token_hash, user_id, expires_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (token_hash) DO UPDATE SET user_id=EXCLUDED.user_id, expires_at=EXCLUDED.expires_at, revoked_at=NULL
	`, tokenHash, userID, expiresAt)
	if err != nil {
		return fmt.Errorf("save refresh session: %w", err)
	}
	return nil
}

func (s *PostgresStore) LookupRefreshSession(ctx context.Context, tokenHash string) (string, error) {
	var userID string
	err := s.db.QueryRowContext(ctx, `
		SELECT user_id
		FROM refresh_sessions
		WHERE token_hash = $1
			AND revoked_at IS NULL
			AND expires_at > NOW()
	`, tokenHash).Scan(&userID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("lookup refresh session: %w", err)
	}
	return userID, nil
}

func (s *PostgresStore) RevokeRefreshSession(ctx context.Context, tokenHash string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE refresh_sessions SET revoked_at=NOW() WHERE token_hash=$1`, tokenHash)
	if err != nil {
		return fmt.Errorf("revoke refresh session: %w", err)
	}
	return nil
}

// Ping verifies the database connection is alive
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

type pgTx struct {
	q querier
}

const projectColumns = `id, title, description, industry, field, difficulty, privacy, owner_id, image_url,
	github_url, twitter_url, instagram_url, linkedin_url, source_idea_id, created_at`

const ideaColumns = `id, title, description, industry, field, owner_id, promoted_project_id, created_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProject(row rowScanner) (Project, error) {
	var item Project
	var privacy string
	var sourceIdeaID sql.NullString
	err := row.Scan(
		&item.ID,
		&item.Title,
		&item.Description,
		&item.Industry,
		&item.Field,
		&item.Difficulty,
		&privacy,
		&item.OwnerID,
		&item.ImageURL,
		&item.Links.GitHub,
		&item.Links.Twitter,
		&item.Links.Instagram,
		&item.Links.LinkedIn,
		&sourceIdeaID,
		&item.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return Project{}, ErrNotFound
	}
	if err != nil {
		return Project{}, err
	}
	item.Privacy = Privacy(privacy)
	item.SourceIdeaID = stringPtr(sourceIdeaID)
	return item, nil
}

func scanIdea(row rowScanner) (Idea, error) {
	var item Idea
	var promoted sql.NullString
	err := row.Scan(&item.ID, &item.Title, &item.Description, &item.Industry, &item.Field, &item.OwnerID, &promoted, &item.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Idea{}, ErrNotFound
	}
	if err != nil {
		return Idea{}, err
	}
	item.PromotedProjectID = stringPtr(promoted)
	return item, nil
}

func scanUser(row rowScanner) (User, error) {
	var user User
	err := row.Scan(&user.ID, &user.Email, &user.DisplayName, &user.AvatarURL, &user.PasswordHash, &user.Role, &user.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return User{}, ErrNotFound
	}
	if err != nil {
		return User{}, err
	}
	return user, nil
}

func (t *pgTx) GetProject(ctx context.Context, projectID string) (Project, error) {
	item, err := scanProject(t.q.QueryRowContext(ctx, `SELECT `+projectColumns+` FROM projects WHERE id=$1`, projectID))
	if err != nil {
		return Project{}, fmt.Errorf("get project: %w", err)
	}
	return item, nil
}

func (t *pgTx) GetIdea(ctx context.Context, ideaID string) (Idea, error) {
	item, err := scanIdea(t.q.QueryRowContext(ctx, `SELECT `+ideaColumns+` FROM ideas WHERE id=$1`, ideaID))
	if err != nil {
		return Idea{}, fmt.Errorf("get idea: %w", err)
	}
	return item, nil
}

func (t *pgTx) InsertProject(ctx context.Context, project Project) error {
	_, err := t.q.ExecContext(ctx, `
		INSERT INTO projects (`+projectColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
	`,
		project.ID,
		project.Title,
		project.Description,
		project.Industry,
		project.Field,
		project.Difficulty,
		string(project.Privacy),
		project.OwnerID,
		project.ImageURL,
		project.Links.GitHub,
		project.Links.Twitter,
		project.Links.Instagram,
		project.Links.LinkedIn,
		nullString(project.SourceIdeaID),
		project.CreatedAt,
	)
	if err != nil {
		if constraint, ok := uniqueConstraint(err); ok {
			if constraint == "projects_source_idea_id_key" {
				return fmt.Errorf("insert project: %w", ErrAlreadyPromoted)
			}
			return fmt.Errorf("insert project: %w", ErrDuplicate)
		}
		return fmt.Errorf("insert project: %w", err)
	}
	return nil
}

func (t *pgTx) InsertIdea(ctx context.Context, idea Idea) error {
	_, err := t.q.ExecContext(ctx, `
		INSERT INTO ideas (id, title, description, industry, field, owner_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, idea.ID, idea.Title, idea.Description, idea.Industry, idea.Field, idea.OwnerID, idea.CreatedAt)
	if err != nil {
		if _, ok := uniqueConstraint(err); ok {
			return fmt.Errorf("insert idea: %w", ErrDuplicate)
		}
		return fmt.Errorf("insert idea: %w", err)
	}
	return nil
}

func (t *pgTx) SetProjectImage(ctx context.Context, projectID, imageURL string) error {
	result, err := t.q.ExecContext(ctx, `UPDATE projects SET image_url=$2 WHERE id=$1`, projectID, imageURL)
	if err != nil {
		return fmt.Errorf("set project image: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("set project image rows: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

func (t *pgTx) MarkIdeaPromoted(ctx context.Context, ideaID, projectID string) error {
	result, err := t.q.ExecContext(ctx, `
		UPDATE ideas
		SET promoted_project_id=$2
		WHERE id=$1 AND promoted_project_id IS NULL
	`, ideaID, projectID)
	if err != nil {
		if _, ok := uniqueConstraint(err); ok {
			return fmt.Errorf("mark idea promoted: %w", ErrAlreadyPromoted)
		}
		return fmt.Errorf("mark idea promoted: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("mark idea promoted rows: %w", err)
	}
	if affected > 0 {
		return nil
	}
	var exists bool
	if err := t.q.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM ideas WHERE id=$1)`, ideaID).Scan(&exists); err != nil {
		return fmt.Errorf("check idea: %w", err)
	}
	if !exists {
		return ErrNotFound
	}
	return ErrAlreadyPromoted
}

func (t *pgTx) ListProjects(ctx context.Context) ([]Project, error) {
	rows, err := t.q.QueryContext(ctx, `SELECT `+projectColumns+` FROM projects ORDER BY created_at DESC, id DESC`)
	if err != nil {
		return nil, fmt.Errorf("list projects: %w", err)
	}
	defer rows.Close()

	items := make([]Project, 0)
	for rows.Next() {
		item, err := scanProject(rows)
		if err != nil {
			return nil, fmt.Errorf("scan project: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate projects: %w", err)
	}
	return items, nil
}

func (t *pgTx) ListIdeas(ctx context.Context) ([]Idea, error) {
	rows, err := t.q.QueryContext(ctx, `SELECT `+ideaColumns+` FROM ideas ORDER BY created_at DESC, id DESC`)
	if err != nil {
		return nil, fmt.Errorf("list ideas: %w", err)
	}
	defer rows.Close()

	items := make([]Idea, 0)
	for rows.Next() {
		item, err := scanIdea(rows)
		if err != nil {
			return nil, fmt.Errorf("scan idea: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate ideas: %w", err)
	}
	return items, nil
}

func (t *pgTx) InsertEdge(ctx context.Context, edge Edge) (bool, error) {
	result, err := t.q.ExecContext(ctx, `
		INSERT INTO engagement_edges (subject_type, subject_id, kind, user_id, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (subject_type, subject_id, kind, user_id) DO NOTHING
	`, string(edge.SubjectType), edge.SubjectID, string(edge.Kind), edge.UserID, edge.CreatedAt)
	if err != nil {
		return false, fmt.Errorf("insert edge: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("insert edge rows: %w", err)
	}
	return affected > 0, nil
}

func (t *pgTx) DeleteEdge(ctx context.Context, key EdgeKey) (bool, error) {
	result, err := t.q.ExecContext(ctx, `
		DELETE FROM engagement_edges
		WHERE subject_type=$1 AND subject_id=$2 AND kind=$3 AND user_id=$4
	`, string(key.SubjectType), key.SubjectID, string(key.Kind), key.UserID)
	if err != nil {
		return false, fmt.Errorf("delete edge: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete edge rows: %w", err)
	}
	return affected > 0, nil
}

func (t *pgTx) EdgeExists(ctx context.Context, key EdgeKey) (bool, error) {
	var exists bool
	err := t.q.QueryRowContext(ctx, `
		SELECT EXISTS(
			SELECT 1 FROM engagement_edges
			WHERE subject_type=$1 AND subject_id=$2 AND kind=$3 AND user_id=$4
		)
	`, string(key.SubjectType), key.SubjectID, string(key.Kind), key.UserID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check edge: %w", err)
	}
	return exists, nil
}

func (t *pgTx) CountEdges(ctx context.Context, subjectType SubjectType, subjectID string, kind EdgeKind) (int, error) {
	var count int
	err := t.q.QueryRowContext(ctx, `
		SELECT COUNT(*)::int
		FROM engagement_edges
		WHERE subject_type=$1 AND subject_id=$2 AND kind=$3
	`, string(subjectType), subjectID, string(kind)).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count edges: %w", err)
	}
	return count, nil
}

func (t *pgTx) EngagementFor(ctx context.Context, subjectType SubjectType, subjectIDs []string, viewerID string) (map[string]Engagement, error) {
	out := make(map[string]Engagement, len(subjectIDs))
	if len(subjectIDs) == 0 {
		return out, nil
	}
	rows, err := t.q.QueryContext(ctx, `
		SELECT s.id,
			COALESCE(e.reactions, 0),
			COALESCE(e.collaborators, 0),
			COALESCE(c.comments, 0),
			COALESCE(e.viewer_reacted, false),
			COALESCE(e.viewer_collaborator, false)
		FROM unnest($2::text[]) AS s(id)
		LEFT JOIN (
			SELECT subject_id,
				COUNT(*) FILTER (WHERE kind = $3)::int AS reactions,
				COUNT(*) FILTER (WHERE kind = 'collaborator')::int AS collaborators,
				BOOL_OR(kind = $3 AND user_id = $4) AS viewer_reacted,
				BOOL_OR(kind = 'collaborator' AND user_id = $4) AS viewer_collaborator
			FROM engagement_edges
			WHERE subject_type = $1 AND subject_id = ANY($2::text[])
			GROUP BY subject_id
		) e ON e.subject_id = s.id
		LEFT JOIN (
			SELECT subject_id, COUNT(*)::int AS comments
			FROM comments
			WHERE subject_type = $1 AND subject_id = ANY($2::text[])
			GROUP BY subject_id
		) c ON c.subject_id = s.id
	`, string(subjectType), subjectIDs, string(ReactionKind(subjectType)), viewerID)
	if err != nil {
		return nil, fmt.Errorf("load engagement: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var id string
		var item Engagement
		if err := rows.Scan(&id, &item.Reactions, &item.Collaborators, &item.Comments, &item.ViewerReacted, &item.ViewerCollaborator); err != nil {
			return nil, fmt.Errorf("scan engagement: %w", err)
		}
		out[id] = item
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate engagement: %w", err)
	}
	return out, nil
}

func (t *pgTx) InsertComment(ctx context.Context, comment Comment) error {
	_, err := t.q.ExecContext(ctx, `
		INSERT INTO comments (id, subject_type, subject_id, author_id, author_name, author_avatar, body, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, comment.ID, string(comment.SubjectType), comment.SubjectID, comment.AuthorID, comment.AuthorName, comment.AuthorAvatar, comment.Text, comment.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert comment: %w", err)
	}
	return nil
}

func (t *pgTx) CountComments(ctx context.Context, subjectType SubjectType, subjectID string) (int, error) {
	var count int
	err := t.q.QueryRowContext(ctx, `
		SELECT COUNT(*)::int FROM comments WHERE subject_type=$1 AND subject_id=$2
	`, string(subjectType), subjectID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count comments: %w", err)
	}
	return count, nil
}

func (t *pgTx) ListComments(ctx context.Context, subjectType SubjectType, subjectID string, after *CommentCursor, limit int) ([]Comment, error) {
	var afterTime any
	afterID := ""
	if after != nil {
		afterTime = after.CreatedAt
		afterID = after.ID
	}
	var limitArg any
	if limit > 0 {
		limitArg = limit
	}
	rows, err := t.q.QueryContext(ctx, `
		SELECT id, subject_type, subject_id, author_id, author_name, author_avatar, body, created_at
		FROM comments
		WHERE subject_type=$1 AND subject_id=$2
			AND ($3::timestamptz IS NULL OR (created_at, id) < ($3::timestamptz, $4::text))
		ORDER BY created_at DESC, id DESC
		LIMIT $5
	`, string(subjectType), subjectID, afterTime, afterID, limitArg)
	if err != nil {
		return nil, fmt.Errorf("list comments: %w", err)
	}
	defer rows.Close()

	items := make([]Comment, 0)
	for rows.Next() {
		var item Comment
		var kind string
		if err := rows.Scan(&item.ID, &kind, &item.SubjectID, &item.AuthorID, &item.AuthorName, &item.AuthorAvatar, &item.Text, &item.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan comment: %w", err)
		}
		item.SubjectType = SubjectType(kind)
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate comments: %w", err)
	}
	return items, nil
}

func (t *pgTx) GetUserByID(ctx context.Context, userID string) (User, error) {
	user, err := scanUser(t.q.QueryRowContext(ctx, `
		SELECT id, COALESCE(email, ''), display_name, avatar_url, password_hash, role, created_at
		FROM users
		WHERE id=$1
	`, userID))
	if err != nil {
		return User{}, fmt.Errorf("get user: %w", err)
	}
	return user, nil
}

func uniqueConstraint(err error) (string, bool) {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return pgErr.ConstraintName, true
	}
	return "", false
}

func stringPtr(value sql.NullString) *string {
	if !value.Valid {
		return nil
	}
	out := value.String
	return &out
}

func nullString(value *string) any {
	if value == nil || *value == "" {
		return nil
	}
	return *value
}

func roleOrDefault(role string) string {
	if role == "" {
		return "member"
	}
	return role
}

func timeOrNow(value time.Time) time.Time {
	if value.IsZero() {
		return time.Now().UTC()
	}
	return value
}
