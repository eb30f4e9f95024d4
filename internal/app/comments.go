package app

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"
	"ideaforge/api/internal/identity"
	"ideaforge/api/internal/metrics"
	"ideaforge/api/internal/store"
	"ideaforge/api/internal/util"
)

const (
	maxCommentRunes = 5000
	commentPageSize = 50
)

// PostComment appends an immutable comment. The author's display name and
// avatar are copied onto the row at write time.
func (s *Service) PostComment(ctx context.Context, subjectType store.SubjectType, subjectID, authorID, text string) (store.Comment, error) {
	if authorID == "" {
		return store.Comment{}, unauthorized()
	}
	if !subjectType.Valid() {
		return store.Comment{}, invalidSubjectType(subjectType)
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return store.Comment{}, invalidArgument("Comment text is required", nil)
	}
	if utf8.RuneCountInString(text) > maxCommentRunes {
		return store.Comment{}, invalidArgument(fmt.Sprintf("Comment text is limited to %d characters", maxCommentRunes), nil)
	}

	author, err := s.profiles.Profile(ctx, authorID)
	if errors.Is(err, identity.ErrUnknownUser) {
		return store.Comment{}, unauthorized()
	}
	if err != nil {
		return store.Comment{}, fmt.Errorf("load author profile: %w", err)
	}

	comment := store.Comment{
		ID:           util.NewID("comment"),
		SubjectType:  subjectType,
		SubjectID:    subjectID,
		AuthorID:     authorID,
		AuthorName:   author.DisplayName,
		AuthorAvatar: author.AvatarURL,
		Text:         text,
	}
	err = s.mutate(ctx, func(ctx context.Context, tx store.Tx) error {
		if err := requireSubject(ctx, tx, subjectType, subjectID); err != nil {
			return err
		}
		comment.CreatedAt = s.clock.Now()
		if err := tx.InsertComment(ctx, comment); err != nil {
			return fmt.Errorf("insert comment: %w", err)
		}
		return nil
	})
	if err != nil {
		s.logFailure("post comment failed", err, zap.String("subject_id", subjectID))
		return store.Comment{}, err
	}

	metrics.CommentsPosted.WithLabelValues(string(subjectType)).Inc()
	s.logger.Info("comment posted",
		zap.String("comment_id", comment.ID),
		zap.String("subject_type", string(subjectType)),
		zap.String("subject_id", subjectID),
		zap.String("author_id", authorID),
	)
	return comment, nil
}

// ListComments returns the newest limit comments, or all of them when
// limit <= 0.
func (s *Service) ListComments(ctx context.Context, subjectType store.SubjectType, subjectID string, limit int) ([]store.Comment, error) {
	if !subjectType.Valid() {
		return nil, invalidSubjectType(subjectType)
	}
	var comments []store.Comment
	err := s.read(ctx, func(tx store.Tx) error {
		if err := requireSubject(ctx, tx, subjectType, subjectID); err != nil {
			return err
		}
		var err error
		comments, err = tx.ListComments(ctx, subjectType, subjectID, nil, limit)
		if err != nil {
			return fmt.Errorf("list comments: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return comments, nil
}

// Comments yields a thread newest first, fetching it a page at a time.
// Every range starts again from the newest comment; stopping early fetches
// no further pages.
func (s *Service) Comments(ctx context.Context, subjectType store.SubjectType, subjectID string) iter.Seq2[store.Comment, error] {
	return func(yield func(store.Comment, error) bool) {
		if !subjectType.Valid() {
			yield(store.Comment{}, invalidSubjectType(subjectType))
			return
		}
		var cursor *store.CommentCursor
		for {
			var page []store.Comment
			err := s.read(ctx, func(tx store.Tx) error {
				if cursor == nil {
					if err := requireSubject(ctx, tx, subjectType, subjectID); err != nil {
						return err
					}
				}
				var err error
				page, err = tx.ListComments(ctx, subjectType, subjectID, cursor, commentPageSize)
				if err != nil {
					return fmt.Errorf("list comments: %w", err)
				}
				return nil
			})
			if err != nil {
				yield(store.Comment{}, err)
				return
			}
			for _, comment := range page {
				if !yield(comment, nil) {
					return
				}
			}
			if len(page) < commentPageSize {
				return
			}
			last := page[len(page)-1]
			cursor = &store.CommentCursor{CreatedAt: last.CreatedAt, ID: last.ID}
		}
	}
}
