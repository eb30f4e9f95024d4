package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
	"ideaforge/api/internal/identity"
	"ideaforge/api/internal/media"
	"ideaforge/api/internal/metrics"
	"ideaforge/api/internal/search"
	"ideaforge/api/internal/store"
)

const mutationTimeout = 10 * time.Second

type dataStore interface {
	WithTx(ctx context.Context, fn func(store.Tx) error) error
	WithReadTx(ctx context.Context, fn func(store.Tx) error) error
	ListProjects(ctx context.Context) ([]store.Project, error)
	ListIdeas(ctx context.Context) ([]store.Idea, error)
	Ping(ctx context.Context) error
}

type profileLookup interface {
	Profile(ctx context.Context, userID string) (identity.User, error)
}

type searchIndex interface {
	Search(ctx context.Context, q search.Query) search.Response
	IndexProject(project store.Project)
	IndexIdea(idea store.Idea)
}

type imageStore interface {
	PutProjectImage(ctx context.Context, projectID string, upload media.Upload) (string, error)
}

// Deps are the collaborators a Service is built from. Search and Images
// are optional; without Search the store is scanned directly and without
// Images cover uploads report unavailable.
type Deps struct {
	Store    dataStore
	Profiles profileLookup
	Search   searchIndex
	Images   imageStore
	Logger   *zap.Logger
	Clock    *store.Clock
}

type Service struct {
	store    dataStore
	profiles profileLookup
	search   searchIndex
	images   imageStore
	logger   *zap.Logger
	clock    *store.Clock
	validate *validator.Validate
}

func New(deps Deps) *Service {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	clock := deps.Clock
	if clock == nil {
		clock = store.NewClock()
	}
	index := deps.Search
	if index == nil {
		index = search.NewService(nil, search.NewFallback(deps.Store), logger)
	}
	return &Service{
		store:    deps.Store,
		profiles: deps.Profiles,
		search:   index,
		images:   deps.Images,
		logger:   logger.Named("app"),
		clock:    clock,
		validate: newValidator(),
	}
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// read runs fn on a read-only snapshot. A transient store failure is retried
// once; fn must therefore assign its results rather than accumulate them.
func (s *Service) read(ctx context.Context, fn func(store.Tx) error) error {
	err := s.store.WithReadTx(ctx, fn)
	if err != nil && store.IsTransient(err) && ctx.Err() == nil {
		metrics.ReadRetries.Inc()
		s.logger.Warn("retrying read after transient store failure", zap.Error(err))
		err = s.store.WithReadTx(ctx, fn)
	}
	return err
}

// mutate runs fn in a read-write transaction that outlives the caller's
// context: once accepted, a mutation commits or rolls back in full. It is
// never retried.
func (s *Service) mutate(ctx context.Context, fn func(context.Context, store.Tx) error) error {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), mutationTimeout)
	defer cancel()
	return s.store.WithTx(ctx, func(tx store.Tx) error {
		return fn(ctx, tx)
	})
}

func requireSubject(ctx context.Context, tx store.Tx, subjectType store.SubjectType, subjectID string) error {
	var err error
	switch subjectType {
	case store.SubjectProject:
		_, err = tx.GetProject(ctx, subjectID)
	case store.SubjectIdea:
		_, err = tx.GetIdea(ctx, subjectID)
	default:
		return invalidSubjectType(subjectType)
	}
	if err != nil {
		return storeError(err, subjectLabel(subjectType))
	}
	return nil
}

// storeError translates store sentinels into the service taxonomy and
// leaves everything else for the caller to wrap.
func storeError(err error, what string) error {
	var domainErr *DomainError
	switch {
	case errors.As(err, &domainErr):
		return err
	case errors.Is(err, store.ErrNotFound):
		return notFound(what)
	case errors.Is(err, store.ErrAlreadyPromoted):
		return alreadyPromoted()
	default:
		return fmt.Errorf("load %s: %w", what, err)
	}
}

func subjectLabel(subjectType store.SubjectType) string {
	if subjectType == store.SubjectIdea {
		return "Idea"
	}
	return "Project"
}

func invalidSubjectType(subjectType store.SubjectType) *DomainError {
	return invalidArgument(fmt.Sprintf("Unknown subject type %q", subjectType), nil)
}

func alreadyPromoted() *DomainError {
	return domainError(ErrConflict, "ALREADY_PROMOTED", "Idea has already been promoted to a project", nil)
}

func (s *Service) logFailure(msg string, err error, fields ...zap.Field) {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		s.logger.Debug(msg, append(fields, zap.String("code", domainErr.Code))...)
		return
	}
	s.logger.Error(msg, append(fields, zap.Error(err))...)
}
