package store

import (
	"context"
	"database/sql/driver"
	"errors"
	"net"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
)

var (
	ErrNotFound        = errors.New("not found")
	ErrAlreadyPromoted = errors.New("idea already promoted")
	ErrDuplicate       = errors.New("duplicate record")
	ErrReadOnly        = errors.New("write in read-only transaction")
)

// Tx is the set of content operations available inside a transaction.
// The same operations run outside a transaction on a Store.
type Tx interface {
	GetProject(ctx context.Context, projectID string) (Project, error)
	GetIdea(ctx context.Context, ideaID string) (Idea, error)
	InsertProject(ctx context.Context, project Project) error
	InsertIdea(ctx context.Context, idea Idea) error
	SetProjectImage(ctx context.Context, projectID, imageURL string) error
	// MarkIdeaPromoted sets promoted_project_id only when it is still unset.
	// It returns ErrAlreadyPromoted when another promotion got there first.
	MarkIdeaPromoted(ctx context.Context, ideaID, projectID string) error
	ListProjects(ctx context.Context) ([]Project, error)
	ListIdeas(ctx context.Context) ([]Idea, error)

	// InsertEdge reports false when the key already exists.
	InsertEdge(ctx context.Context, edge Edge) (bool, error)
	// DeleteEdge reports whether an edge was removed.
	DeleteEdge(ctx context.Context, key EdgeKey) (bool, error)
	EdgeExists(ctx context.Context, key EdgeKey) (bool, error)
	CountEdges(ctx context.Context, subjectType SubjectType, subjectID string, kind EdgeKind) (int, error)
	EngagementFor(ctx context.Context, subjectType SubjectType, subjectIDs []string, viewerID string) (map[string]Engagement, error)

	InsertComment(ctx context.Context, comment Comment) error
	CountComments(ctx context.Context, subjectType SubjectType, subjectID string) (int, error)
	// ListComments returns comments newest first, strictly older than after
	// when a cursor is given. limit <= 0 returns everything.
	ListComments(ctx context.Context, subjectType SubjectType, subjectID string, after *CommentCursor, limit int) ([]Comment, error)

	GetUserByID(ctx context.Context, userID string) (User, error)
}

type Store interface {
	Tx
	WithTx(ctx context.Context, fn func(Tx) error) error
	WithReadTx(ctx context.Context, fn func(Tx) error) error

	CreateUser(ctx context.Context, user User) error
	UpsertUser(ctx context.Context, user User) error
	GetUserByEmail(ctx context.Context, email string) (User, error)

	SaveRefreshSession(ctx context.Context, tokenHash, userID string, expiresAt time.Time) error
	LookupRefreshSession(ctx context.Context, tokenHash string) (string, error)
	RevokeRefreshSession(ctx context.Context, tokenHash string) error

	Ping(ctx context.Context) error
}

// IsTransient reports whether err is a connection-level failure that is
// safe to retry for a read.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, driver.ErrBadConn) || pgconn.Timeout(err) || pgconn.SafeToRetry(err) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// Clock hands out strictly increasing timestamps at microsecond precision,
// matching what timestamptz can store.
type Clock struct {
	mu   sync.Mutex
	last time.Time
	now  func() time.Time
}

func NewClock() *Clock {
	return &Clock{now: time.Now}
}

func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	current := c.now().UTC().Truncate(time.Microsecond)
	if !current.After(c.last) {
		current = c.last.Add(time.Microsecond)
	}
	c.last = current
	return current
}
