package app

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
	"ideaforge/api/internal/media"
	"ideaforge/api/internal/search"
	"ideaforge/api/internal/store"
	"ideaforge/api/internal/util"
)

type LinksInput struct {
	GitHub    string `json:"github" validate:"omitempty,url"`
	Twitter   string `json:"twitter" validate:"omitempty,url"`
	Instagram string `json:"instagram" validate:"omitempty,url"`
	LinkedIn  string `json:"linkedin" validate:"omitempty,url"`
}

type CreateProjectInput struct {
	Title       string     `json:"title" validate:"required,max=200"`
	Description string     `json:"description" validate:"required,max=10000"`
	Industry    string     `json:"industry" validate:"required,max=100"`
	Field       string     `json:"field" validate:"required,max=100"`
	Difficulty  int        `json:"difficulty" validate:"min=1,max=5"`
	Privacy     string     `json:"privacy" validate:"oneof=public private"`
	Links       LinksInput `json:"links"`
}

type CreateIdeaInput struct {
	Title       string `json:"title" validate:"required,max=200"`
	Description string `json:"description" validate:"required,max=10000"`
	Industry    string `json:"industry" validate:"required,max=100"`
	Field       string `json:"field" validate:"required,max=100"`
}

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// validationError turns validator output into a VALIDATION_ERROR whose
// details map each offending json field to the rule it broke.
func (s *Service) validationError(err error) error {
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return fmt.Errorf("validate input: %w", err)
	}
	details := make(map[string]string, len(fieldErrs))
	names := make([]string, 0, len(fieldErrs))
	for _, fieldErr := range fieldErrs {
		name := fieldErr.Namespace()
		if _, rest, ok := strings.Cut(name, "."); ok {
			name = rest
		}
		details[name] = fieldErr.Tag()
		names = append(names, name)
	}
	return invalidArgument("Invalid "+strings.Join(names, ", "), details)
}

func (s *Service) CreateProject(ctx context.Context, ownerID string, input CreateProjectInput) (store.Project, error) {
	if ownerID == "" {
		return store.Project{}, unauthorized()
	}
	input.Title = strings.TrimSpace(input.Title)
	input.Description = strings.TrimSpace(input.Description)
	input.Industry = strings.TrimSpace(input.Industry)
	input.Field = strings.TrimSpace(input.Field)
	if input.Difficulty == 0 {
		input.Difficulty = 1
	}
	if input.Privacy == "" {
		input.Privacy = string(store.PrivacyPublic)
	}
	if err := s.validate.Struct(input); err != nil {
		return store.Project{}, s.validationError(err)
	}

	project := store.Project{
		ID:          util.NewID("project"),
		Title:       input.Title,
		Description: input.Description,
		Industry:    input.Industry,
		Field:       input.Field,
		Difficulty:  input.Difficulty,
		Privacy:     store.Privacy(input.Privacy),
		OwnerID:     ownerID,
		Links: store.SocialLinks{
			GitHub:    input.Links.GitHub,
			Twitter:   input.Links.Twitter,
			Instagram: input.Links.Instagram,
			LinkedIn:  input.Links.LinkedIn,
		},
	}
	err := s.mutate(ctx, func(ctx context.Context, tx store.Tx) error {
		project.CreatedAt = s.clock.Now()
		if err := tx.InsertProject(ctx, project); err != nil {
			return fmt.Errorf("insert project: %w", err)
		}
		return nil
	})
	if err != nil {
		s.logFailure("create project failed", err, zap.String("owner_id", ownerID))
		return store.Project{}, err
	}
	s.logger.Info("project created", zap.String("project_id", project.ID), zap.String("owner_id", ownerID))
	s.search.IndexProject(project)
	return project, nil
}

func (s *Service) CreateIdea(ctx context.Context, ownerID string, input CreateIdeaInput) (store.Idea, error) {
	if ownerID == "" {
		return store.Idea{}, unauthorized()
	}
	input.Title = strings.TrimSpace(input.Title)
	input.Description = strings.TrimSpace(input.Description)
	input.Industry = strings.TrimSpace(input.Industry)
	input.Field = strings.TrimSpace(input.Field)
	if err := s.validate.Struct(input); err != nil {
		return store.Idea{}, s.validationError(err)
	}

	idea := store.Idea{
		ID:          util.NewID("idea"),
		Title:       input.Title,
		Description: input.Description,
		Industry:    input.Industry,
		Field:       input.Field,
		OwnerID:     ownerID,
	}
	err := s.mutate(ctx, func(ctx context.Context, tx store.Tx) error {
		idea.CreatedAt = s.clock.Now()
		if err := tx.InsertIdea(ctx, idea); err != nil {
			return fmt.Errorf("insert idea: %w", err)
		}
		return nil
	})
	if err != nil {
		s.logFailure("create idea failed", err, zap.String("owner_id", ownerID))
		return store.Idea{}, err
	}
	s.logger.Info("idea created", zap.String("idea_id", idea.ID), zap.String("owner_id", ownerID))
	s.search.IndexIdea(idea)
	return idea, nil
}

// SetProjectImage uploads a cover image for a project the requester owns
// and records its public URL.
func (s *Service) SetProjectImage(ctx context.Context, projectID, requesterID string, upload media.Upload) (string, error) {
	if requesterID == "" {
		return "", unauthorized()
	}
	if s.images == nil {
		return "", domainError(ErrUnavailable, "IMAGES_UNAVAILABLE", "Image uploads are not configured", nil)
	}

	var project store.Project
	err := s.read(ctx, func(tx store.Tx) error {
		var err error
		project, err = tx.GetProject(ctx, projectID)
		if err != nil {
			return storeError(err, "Project")
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	if project.OwnerID != requesterID {
		return "", domainError(ErrForbidden, "FORBIDDEN", "Only the project's owner can change its image", nil)
	}

	url, err := s.images.PutProjectImage(ctx, projectID, upload)
	switch {
	case errors.Is(err, media.ErrUnsupportedType), errors.Is(err, media.ErrTooLarge), errors.Is(err, media.ErrEmpty):
		return "", invalidArgument(err.Error(), nil)
	case err != nil:
		return "", fmt.Errorf("store project image: %w", err)
	}

	err = s.mutate(ctx, func(ctx context.Context, tx store.Tx) error {
		if err := tx.SetProjectImage(ctx, projectID, url); err != nil {
			return storeError(err, "Project")
		}
		return nil
	})
	if err != nil {
		s.logFailure("set project image failed", err, zap.String("project_id", projectID))
		return "", err
	}
	s.logger.Info("project image updated", zap.String("project_id", projectID))
	return url, nil
}

// Search runs a text query; private projects never appear in results.
func (s *Service) Search(ctx context.Context, q search.Query) search.Response {
	return s.search.Search(ctx, q)
}
