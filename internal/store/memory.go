package store

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

// MemoryStore keeps everything in process. A write transaction works on a
// private copy of the state and swaps it in on commit, so a failing
// transaction leaves nothing behind.
type MemoryStore struct {
	mu    sync.RWMutex
	state *memState
}

type memState struct {
	users        map[string]User
	usersByEmail map[string]string
	projects     map[string]Project
	ideas        map[string]Idea
	edges        map[EdgeKey]Edge
	comments     []Comment
	refresh      map[string]memRefresh
}

type memRefresh struct {
	userID    string
	expiresAt time.Time
	revoked   bool
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{state: &memState{
		users:        make(map[string]User),
		usersByEmail: make(map[string]string),
		projects:     make(map[string]Project),
		ideas:        make(map[string]Idea),
		edges:        make(map[EdgeKey]Edge),
		refresh:      make(map[string]memRefresh),
	}}
}

func (s *memState) clone() *memState {
	next := &memState{
		users:        make(map[string]User, len(s.users)),
		usersByEmail: make(map[string]string, len(s.usersByEmail)),
		projects:     make(map[string]Project, len(s.projects)),
		ideas:        make(map[string]Idea, len(s.ideas)),
		edges:        make(map[EdgeKey]Edge, len(s.edges)),
		comments:     make([]Comment, len(s.comments)),
		refresh:      make(map[string]memRefresh, len(s.refresh)),
	}
	for k, v := range s.users {
		next.users[k] = v
	}
	for k, v := range s.usersByEmail {
		next.usersByEmail[k] = v
	}
	for k, v := range s.projects {
		next.projects[k] = v
	}
	for k, v := range s.ideas {
		next.ideas[k] = v
	}
	for k, v := range s.edges {
		next.edges[k] = v
	}
	copy(next.comments, s.comments)
	for k, v := range s.refresh {
		next.refresh[k] = v
	}
	return next
}

func (s *MemoryStore) WithTx(ctx context.Context, fn func(Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	working := s.state.clone()
	if err := fn(&memTx{state: working}); err != nil {
		return err
	}
	s.state = working
	return nil
}

func (s *MemoryStore) WithReadTx(ctx context.Context, fn func(Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return fn(&memTx{state: s.state, readOnly: true})
}

func (s *MemoryStore) read(ctx context.Context, fn func(*memTx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return fn(&memTx{state: s.state, readOnly: true})
}

func (s *MemoryStore) write(ctx context.Context, fn func(Tx) error) error {
	return s.WithTx(ctx, fn)
}

func (s *MemoryStore) GetProject(ctx context.Context, projectID string) (item Project, err error) {
	err = s.read(ctx, func(tx *memTx) error {
		item, err = tx.GetProject(ctx, projectID)
		return err
	})
	return item, err
}

func (s *MemoryStore) GetIdea(ctx context.Context, ideaID string) (item Idea, err error) {
	err = s.read(ctx, func(tx *memTx) error {
		item, err = tx.GetIdea(ctx, ideaID)
		return err
	})
	return item, err
}

func (s *MemoryStore) InsertProject(ctx context.Context, project Project) error {
	return s.write(ctx, func(tx Tx) error { return tx.InsertProject(ctx, project) })
}

func (s *MemoryStore) InsertIdea(ctx context.Context, idea Idea) error {
	return s.write(ctx, func(tx Tx) error { return tx.InsertIdea(ctx, idea) })
}

func (s *MemoryStore) SetProjectImage(ctx context.Context, projectID, imageURL string) error {
	return s.write(ctx, func(tx Tx) error { return tx.SetProjectImage(ctx, projectID, imageURL) })
}

func (s *MemoryStore) MarkIdeaPromoted(ctx context.Context, ideaID, projectID string) error {
	return s.write(ctx, func(tx Tx) error { return tx.MarkIdeaPromoted(ctx, ideaID, projectID) })
}

func (s *MemoryStore) ListProjects(ctx context.Context) (items []Project, err error) {
	err = s.read(ctx, func(tx *memTx) error {
		items, err = tx.ListProjects(ctx)
		return err
	})
	return items, err
}

func (s *MemoryStore) ListIdeas(ctx context.Context) (items []Idea, err error) {
	err = s.read(ctx, func(tx *memTx) error {
		items, err = tx.ListIdeas(ctx)
		return err
	})
	return items, err
}

func (s *MemoryStore) InsertEdge(ctx context.Context, edge Edge) (inserted bool, err error) {
	err = s.write(ctx, func(tx Tx) error {
		inserted, err = tx.InsertEdge(ctx, edge)
		return err
	})
	return inserted, err
}

func (s *MemoryStore) DeleteEdge(ctx context.Context, key EdgeKey) (removed bool, err error) {
	err = s.write(ctx, func(tx Tx) error {
		removed, err = tx.DeleteEdge(ctx, key)
		return err
	})
	return removed, err
}

func (s *MemoryStore) EdgeExists(ctx context.Context, key EdgeKey) (exists bool, err error) {
	err = s.read(ctx, func(tx *memTx) error {
		exists, err = tx.EdgeExists(ctx, key)
		return err
	})
	return exists, err
}

func (s *MemoryStore) CountEdges(ctx context.Context, subjectType SubjectType, subjectID string, kind EdgeKind) (count int, err error) {
	err = s.read(ctx, func(tx *memTx) error {
		count, err = tx.CountEdges(ctx, subjectType, subjectID, kind)
		return err
	})
	return count, err
}

func (s *MemoryStore) EngagementFor(ctx context.Context, subjectType SubjectType, subjectIDs []string, viewerID string) (out map[string]Engagement, err error) {
	err = s.read(ctx, func(tx *memTx) error {
		out, err = tx.EngagementFor(ctx, subjectType, subjectIDs, viewerID)
		return err
	})
	return out, err
}

func (s *MemoryStore) InsertComment(ctx context.Context, comment Comment) error {
	return s.write(ctx, func(tx Tx) error { return tx.InsertComment(ctx, comment) })
}

func (s *MemoryStore) CountComments(ctx context.Context, subjectType SubjectType, subjectID string) (count int, err error) {
	err = s.read(ctx, func(tx *memTx) error {
		count, err = tx.CountComments(ctx, subjectType, subjectID)
		return err
	})
	return count, err
}

func (s *MemoryStore) ListComments(ctx context.Context, subjectType SubjectType, subjectID string, after *CommentCursor, limit int) (items []Comment, err error) {
	err = s.read(ctx, func(tx *memTx) error {
		items, err = tx.ListComments(ctx, subjectType, subjectID, after, limit)
		return err
	})
	return items, err
}

func (s *MemoryStore) GetUserByID(ctx context.Context, userID string) (user User, err error) {
	err = s.read(ctx, func(tx *memTx) error {
		user, err = tx.GetUserByID(ctx, userID)
		return err
	})
	return user, err
}

func (s *MemoryStore) CreateUser(ctx context.Context, user User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	email := strings.ToLower(strings.TrimSpace(user.Email))
	if _, ok := s.state.users[user.ID]; ok {
		return fmt.Errorf("create user: %w", ErrDuplicate)
	}
	if email != "" {
		if _, ok := s.state.usersByEmail[email]; ok {
			return fmt.Errorf("create user: %w", ErrDuplicate)
		}
		s.state.usersByEmail[email] = user.ID
	}
	s.state.users[user.ID] = user
	return nil
}

func (s *MemoryStore) UpsertUser(ctx context.Context, user User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.state.users[user.ID]; ok {
		if user.PasswordHash == "" {
			user.PasswordHash = existing.PasswordHash
		}
		if user.Role == "" {
			user.Role = existing.Role
		}
		user.CreatedAt = existing.CreatedAt
	}
	if email := strings.ToLower(strings.TrimSpace(user.Email)); email != "" {
		s.state.usersByEmail[email] = user.ID
	}
	s.state.users[user.ID] = user
	return nil
}

func (s *MemoryStore) GetUserByEmail(ctx context.Context, email string) (User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.state.usersByEmail[strings.ToLower(strings.TrimSpace(email))]
	if !ok {
		return User{}, ErrNotFound
	}
	return s.state.users[id], nil
}

func (s *MemoryStore) SaveRefreshSession(ctx context.Context, tokenHash, userID string, expiresAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.refresh[tokenHash] = memRefresh{userID: userID, expiresAt: expiresAt}
	return nil
}

func (s *MemoryStore) LookupRefreshSession(ctx context.Context, tokenHash string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	record, ok := s.state.refresh[tokenHash]
	if !ok || record.revoked || !time.Now().Before(record.expiresAt) {
		return "", ErrNotFound
	}
	return record.userID, nil
}

func (s *MemoryStore) RevokeRefreshSession(ctx context.Context, tokenHash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if record, ok := s.state.refresh[tokenHash]; ok {
		record.revoked = true
		s.state.refresh[tokenHash] = record
	}
	return nil
}

func (s *MemoryStore) Ping(ctx context.Context) error {
	return ctx.Err()
}

type memTx struct {
	state    *memState
	readOnly bool
}

func (t *memTx) writable() error {
	if t.readOnly {
		return ErrReadOnly
	}
	return nil
}

func (t *memTx) GetProject(_ context.Context, projectID string) (Project, error) {
	item, ok := t.state.projects[projectID]
	if !ok {
		return Project{}, ErrNotFound
	}
	return item, nil
}

func (t *memTx) GetIdea(_ context.Context, ideaID string) (Idea, error) {
	item, ok := t.state.ideas[ideaID]
	if !ok {
		return Idea{}, ErrNotFound
	}
	return item, nil
}

func (t *memTx) InsertProject(_ context.Context, project Project) error {
	if err := t.writable(); err != nil {
		return err
	}
	if _, ok := t.state.projects[project.ID]; ok {
		return fmt.Errorf("insert project: %w", ErrDuplicate)
	}
	if project.SourceIdeaID != nil {
		for _, existing := range t.state.projects {
			if existing.SourceIdeaID != nil && *existing.SourceIdeaID == *project.SourceIdeaID {
				return fmt.Errorf("insert project: %w", ErrAlreadyPromoted)
			}
		}
	}
	t.state.projects[project.ID] = project
	return nil
}

func (t *memTx) InsertIdea(_ context.Context, idea Idea) error {
	if err := t.writable(); err != nil {
		return err
	}
	if _, ok := t.state.ideas[idea.ID]; ok {
		return fmt.Errorf("insert idea: %w", ErrDuplicate)
	}
	t.state.ideas[idea.ID] = idea
	return nil
}

func (t *memTx) SetProjectImage(_ context.Context, projectID, imageURL string) error {
	if err := t.writable(); err != nil {
		return err
	}
	item, ok := t.state.projects[projectID]
	if !ok {
		return ErrNotFound
	}
	item.ImageURL = imageURL
	t.state.projects[projectID] = item
	return nil
}

func (t *memTx) MarkIdeaPromoted(_ context.Context, ideaID, projectID string) error {
	if err := t.writable(); err != nil {
		return err
	}
	item, ok := t.state.ideas[ideaID]
	if !ok {
		return ErrNotFound
	}
	if item.Promoted() {
		return ErrAlreadyPromoted
	}
	promoted := projectID
	item.PromotedProjectID = &promoted
	t.state.ideas[ideaID] = item
	return nil
}

func (t *memTx) ListProjects(context.Context) ([]Project, error) {
	items := make([]Project, 0, len(t.state.projects))
	for _, item := range t.state.projects {
		items = append(items, item)
	}
	sort.Slice(items, func(i, j int) bool {
		return newerFirst(items[i].CreatedAt, items[i].ID, items[j].CreatedAt, items[j].ID)
	})
	return items, nil
}

func (t *memTx) ListIdeas(context.Context) ([]Idea, error) {
	items := make([]Idea, 0, len(t.state.ideas))
	for _, item := range t.state.ideas {
		items = append(items, item)
	}
	sort.Slice(items, func(i, j int) bool {
		return newerFirst(items[i].CreatedAt, items[i].ID, items[j].CreatedAt, items[j].ID)
	})
	return items, nil
}

func (t *memTx) InsertEdge(_ context.Context, edge Edge) (bool, error) {
	if err := t.writable(); err != nil {
		return false, err
	}
	if _, ok := t.state.edges[edge.EdgeKey]; ok {
		return false, nil
	}
	t.state.edges[edge.EdgeKey] = edge
	return true, nil
}

func (t *memTx) DeleteEdge(_ context.Context, key EdgeKey) (bool, error) {
	if err := t.writable(); err != nil {
		return false, err
	}
	if _, ok := t.state.edges[key]; !ok {
		return false, nil
	}
	delete(t.state.edges, key)
	return true, nil
}

func (t *memTx) EdgeExists(_ context.Context, key EdgeKey) (bool, error) {
	_, ok := t.state.edges[key]
	return ok, nil
}

func (t *memTx) CountEdges(_ context.Context, subjectType SubjectType, subjectID string, kind EdgeKind) (int, error) {
	count := 0
	for key := range t.state.edges {
		if key.SubjectType == subjectType && key.SubjectID == subjectID && key.Kind == kind {
			count++
		}
	}
	return count, nil
}

func (t *memTx) EngagementFor(_ context.Context, subjectType SubjectType, subjectIDs []string, viewerID string) (map[string]Engagement, error) {
	out := make(map[string]Engagement, len(subjectIDs))
	wanted := make(map[string]struct{}, len(subjectIDs))
	for _, id := range subjectIDs {
		wanted[id] = struct{}{}
		out[id] = Engagement{}
	}
	reaction := ReactionKind(subjectType)
	for key := range t.state.edges {
		if key.SubjectType != subjectType {
			continue
		}
		if _, ok := wanted[key.SubjectID]; !ok {
			continue
		}
		item := out[key.SubjectID]
		switch key.Kind {
		case reaction:
			item.Reactions++
			if viewerID != "" && key.UserID == viewerID {
				item.ViewerReacted = true
			}
		case KindCollaborator:
			item.Collaborators++
			if viewerID != "" && key.UserID == viewerID {
				item.ViewerCollaborator = true
			}
		}
		out[key.SubjectID] = item
	}
	for _, comment := range t.state.comments {
		if comment.SubjectType != subjectType {
			continue
		}
		if _, ok := wanted[comment.SubjectID]; !ok {
			continue
		}
		item := out[comment.SubjectID]
		item.Comments++
		out[comment.SubjectID] = item
	}
	return out, nil
}

func (t *memTx) InsertComment(_ context.Context, comment Comment) error {
	if err := t.writable(); err != nil {
		return err
	}
	t.state.comments = append(t.state.comments, comment)
	return nil
}

func (t *memTx) CountComments(_ context.Context, subjectType SubjectType, subjectID string) (int, error) {
	count := 0
	for _, comment := range t.state.comments {
		if comment.SubjectType == subjectType && comment.SubjectID == subjectID {
			count++
		}
	}
	return count, nil
}

func (t *memTx) ListComments(_ context.Context, subjectType SubjectType, subjectID string, after *CommentCursor, limit int) ([]Comment, error) {
	items := make([]Comment, 0)
	for _, comment := range t.state.comments {
		if comment.SubjectType != subjectType || comment.SubjectID != subjectID {
			continue
		}
		if after != nil && !newerFirst(after.CreatedAt, after.ID, comment.CreatedAt, comment.ID) {
			continue
		}
		items = append(items, comment)
	}
	sort.Slice(items, func(i, j int) bool {
		return newerFirst(items[i].CreatedAt, items[i].ID, items[j].CreatedAt, items[j].ID)
	})
	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}
	return items, nil
}

func (t *memTx) GetUserByID(_ context.Context, userID string) (User, error) {
	user, ok := t.state.users[userID]
	if !ok {
		return User{}, ErrNotFound
	}
	return user, nil
}

// newerFirst orders by created_at then id, both descending.
func newerFirst(aTime time.Time, aID string, bTime time.Time, bID string) bool {
	if !aTime.Equal(bTime) {
		return aTime.After(bTime)
	}
	return aID > bID
}
