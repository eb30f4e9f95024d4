package app

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"ideaforge/api/internal/auth"
	"ideaforge/api/internal/authpw"
	"ideaforge/api/internal/identity"
	"ideaforge/api/internal/media"
	"ideaforge/api/internal/metrics"
	"ideaforge/api/internal/rbac"
	"ideaforge/api/internal/search"
	"ideaforge/api/internal/store"
)

type viewerKey struct{}

type HTTPServer struct {
	service     *Service
	identity    identity.Gateway
	local       *identity.Local
	corsOrigins []string
	logger      *zap.Logger
}

// NewHTTPServer wires the service behind a chi router. The auth routes are
// served only when gateway is the local identity provider.
func NewHTTPServer(service *Service, gateway identity.Gateway, corsOrigins []string, logger *zap.Logger) *HTTPServer {
	if logger == nil {
		logger = zap.NewNop()
	}
	local, _ := gateway.(*identity.Local)
	return &HTTPServer{
		service:     service,
		identity:    gateway,
		local:       local,
		corsOrigins: corsOrigins,
		logger:      logger.Named("http"),
	}
}

func (s *HTTPServer) Handler() http.Handler {
	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(middleware.Recoverer)
	router.Use(requestLogger(s.logger))
	router.Use(observeDuration)
	router.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.corsOrigins,
		AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		ExposedHeaders: []string{"X-Request-ID"},
		MaxAge:         300,
	}))

	router.Handle("/metrics", promhttp.Handler())

	router.Route("/api", func(r chi.Router) {
		r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		})
		r.Get("/ready", s.handleReady)
		r.Post("/auth/signup", s.handleSignUp)
		r.Post("/auth/signin", s.handleSignIn)
		r.Post("/session/refresh", s.handleRefresh)
		r.Post("/session/logout", s.handleLogout)

		r.Group(func(r chi.Router) {
			r.Use(s.authenticate)
			r.Get("/session", s.handleSession)
			r.Get("/feed", s.handleFeed)
			r.Get("/search", s.handleSearch)

			r.Route("/projects", func(r chi.Router) {
				r.Get("/", s.handleListContent(store.SubjectProject))
				r.Post("/", s.handleCreateProject)
				r.Get("/{id}", s.handleGetContent(store.SubjectProject))
				r.Post("/{id}/like", s.handleToggle(store.SubjectProject, store.KindLike))
				r.Post("/{id}/collaborators", s.handleJoin(store.SubjectProject))
				r.Get("/{id}/comments", s.handleListComments(store.SubjectProject))
				r.Post("/{id}/comments", s.handlePostComment(store.SubjectProject))
				r.Put("/{id}/image", s.handleProjectImage)
			})

			r.Route("/ideas", func(r chi.Router) {
				r.Get("/", s.handleListContent(store.SubjectIdea))
				r.Post("/", s.handleCreateIdea)
				r.Get("/{id}", s.handleGetContent(store.SubjectIdea))
				r.Post("/{id}/lightbulb", s.handleToggle(store.SubjectIdea, store.KindLightbulb))
				r.Post("/{id}/collaborators", s.handleJoin(store.SubjectIdea))
				r.Get("/{id}/comments", s.handleListComments(store.SubjectIdea))
				r.Post("/{id}/comments", s.handlePostComment(store.SubjectIdea))
				r.Post("/{id}/promote", s.handlePromote)
			})
		})
	})
	return router
}

// requestLogger logs one line per request with the chi request id.
func requestLogger(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			logger.Info("http request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Int("bytes", ww.BytesWritten()),
				zap.Duration("duration", time.Since(start)),
				zap.String("requestID", middleware.GetReqID(r.Context())),
			)
		})
	}
}

func observeDuration(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		metrics.HTTPDuration.WithLabelValues(r.Method, route, fmt.Sprintf("%dxx", status/100)).Observe(time.Since(start).Seconds())
	})
}

// authenticate resolves the bearer token once per request. A missing token
// is an anonymous viewer; a bad one is rejected.
func (s *HTTPServer) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, err := s.identity.CurrentUser(r.Context(), bearerToken(r))
		if err != nil {
			s.fail(w, r, err)
			return
		}
		ctx := r.Context()
		if user != nil {
			ctx = context.WithValue(ctx, viewerKey{}, user)
		}
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func viewerFrom(ctx context.Context) *identity.User {
	user, _ := ctx.Value(viewerKey{}).(*identity.User)
	return user
}

func viewerID(r *http.Request) string {
	if user := viewerFrom(r.Context()); user != nil {
		return user.ID
	}
	return ""
}

// actor returns the id to act as. Anonymous callers get an empty id so the
// service reports Unauthorized; signed-in callers whose role lacks the
// action are refused here.
func (s *HTTPServer) actor(w http.ResponseWriter, r *http.Request, action rbac.Action) (string, bool) {
	user := viewerFrom(r.Context())
	if user == nil {
		return "", true
	}
	if !rbac.Can(rbac.Normalize(user.Role), action) {
		s.logger.Info("action denied",
			zap.String("user_id", user.ID),
			zap.String("role", user.Role),
			zap.String("action", string(action)),
		)
		writeError(w, http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
		return "", false
	}
	return user.ID, true
}

func (s *HTTPServer) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := "ready"
	statusCode := http.StatusOK
	checks := map[string]any{
		"database": map[string]any{"status": "ok"},
	}
	if err := s.service.Ping(ctx); err != nil {
		status = "not_ready"
		statusCode = http.StatusServiceUnavailable
		checks["database"] = map[string]any{
			"status": "error",
			"error":  err.Error(),
		}
	}
	writeJSON(w, statusCode, map[string]any{
		"ok":     status == "ready",
		"status": status,
		"checks": checks,
	})
}

func (s *HTTPServer) handleSession(w http.ResponseWriter, r *http.Request) {
	user := viewerFrom(r.Context())
	if user == nil {
		writeJSON(w, http.StatusOK, map[string]any{"authenticated": false, "user": nil})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"authenticated": true, "user": user})
}

func (s *HTTPServer) handleSignUp(w http.ResponseWriter, r *http.Request) {
	if s.local == nil {
		authUnavailable(w)
		return
	}
	var body struct {
		Email       string `json:"email"`
		Password    string `json:"password"`
		DisplayName string `json:"displayName"`
		AvatarURL   string `json:"avatarUrl"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	session, err := s.local.SignUp(r.Context(), authpw.SignUpRequest{
		Email:       body.Email,
		Password:    body.Password,
		DisplayName: body.DisplayName,
		AvatarURL:   body.AvatarURL,
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, session)
}

func (s *HTTPServer) handleSignIn(w http.ResponseWriter, r *http.Request) {
	if s.local == nil {
		authUnavailable(w)
		return
	}
	var body struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	session, err := s.local.SignIn(r.Context(), body.Email, body.Password)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, session)
}

func (s *HTTPServer) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if s.local == nil {
		authUnavailable(w)
		return
	}
	var body struct {
		RefreshToken string `json:"refreshToken"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	session, err := s.local.Refresh(r.Context(), body.RefreshToken)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, session)
}

func (s *HTTPServer) handleLogout(w http.ResponseWriter, r *http.Request) {
	if s.local == nil {
		authUnavailable(w)
		return
	}
	var body struct {
		RefreshToken string `json:"refreshToken"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	if err := s.local.Logout(r.Context(), body.RefreshToken); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *HTTPServer) handleFeed(w http.ResponseWriter, r *http.Request) {
	feed, err := s.service.Feed(r.Context(), viewerID(r), intQuery(r, "limit", defaultFeedLimit))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, feed)
}

func (s *HTTPServer) handleSearch(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	resp := s.service.Search(r.Context(), search.Query{
		Text:       query.Get("q"),
		FilterType: search.ResultType(query.Get("type")),
		Limit:      intQuery(r, "limit", 0),
		Offset:     intQuery(r, "offset", 0),
	})
	writeJSON(w, http.StatusOK, resp)
}

func (s *HTTPServer) handleListContent(subjectType store.SubjectType) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		query := r.URL.Query()
		filter := ContentFilter{
			Industries:    listQuery(query["industry"]),
			Fields:        listQuery(query["field"]),
			Privacy:       listQuery(query["privacy"]),
			MaxDifficulty: intQuery(r, "maxDifficulty", 0),
			Query:         query.Get("q"),
			Limit:         intQuery(r, "limit", 0),
		}
		items, err := s.service.ListContentWithEngagement(r.Context(), subjectType, filter, viewerID(r))
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": items})
	}
}

func (s *HTTPServer) handleGetContent(subjectType store.SubjectType) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		view, err := s.service.GetContentWithEngagement(r.Context(), subjectType, chi.URLParam(r, "id"), viewerID(r))
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, view)
	}
}

func (s *HTTPServer) handleCreateProject(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.actor(w, r, rbac.ActionPublish)
	if !ok {
		return
	}
	var input CreateProjectInput
	if err := decodeBody(r, &input); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	project, err := s.service.CreateProject(r.Context(), userID, input)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, newProjectView(project))
}

func (s *HTTPServer) handleCreateIdea(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.actor(w, r, rbac.ActionPublish)
	if !ok {
		return
	}
	var input CreateIdeaInput
	if err := decodeBody(r, &input); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	idea, err := s.service.CreateIdea(r.Context(), userID, input)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, newIdeaView(idea))
}

func (s *HTTPServer) handleToggle(subjectType store.SubjectType, kind store.EdgeKind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := s.actor(w, r, rbac.ActionReact)
		if !ok {
			return
		}
		result, err := s.service.ToggleEngagement(r.Context(), subjectType, chi.URLParam(r, "id"), kind, userID)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, result)
	}
}

func (s *HTTPServer) handleJoin(subjectType store.SubjectType) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := s.actor(w, r, rbac.ActionReact)
		if !ok {
			return
		}
		result, err := s.service.JoinCollaboration(r.Context(), subjectType, chi.URLParam(r, "id"), userID)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, result)
	}
}

func (s *HTTPServer) handleListComments(subjectType store.SubjectType) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		comments, err := s.service.ListComments(r.Context(), subjectType, chi.URLParam(r, "id"), intQuery(r, "limit", 0))
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"comments": newCommentViews(comments)})
	}
}

func (s *HTTPServer) handlePostComment(subjectType store.SubjectType) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := s.actor(w, r, rbac.ActionComment)
		if !ok {
			return
		}
		var body struct {
			Text string `json:"text"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		comment, err := s.service.PostComment(r.Context(), subjectType, chi.URLParam(r, "id"), userID, body.Text)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, newCommentViews([]store.Comment{comment})[0])
	}
}

func (s *HTTPServer) handlePromote(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.actor(w, r, rbac.ActionPromote)
	if !ok {
		return
	}
	var opts PromoteOptions
	if err := decodeBody(r, &opts); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	project, err := s.service.PromoteIdea(r.Context(), chi.URLParam(r, "id"), userID, opts)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, newProjectView(project))
}

func (s *HTTPServer) handleProjectImage(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.actor(w, r, rbac.ActionPublish)
	if !ok {
		return
	}
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, media.MaxImageBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "IMAGE_TOO_LARGE", media.ErrTooLarge.Error(), nil)
			return
		}
		writeError(w, http.StatusBadRequest, "INVALID_BODY", "Could not read image", nil)
		return
	}
	url, err := s.service.SetProjectImage(r.Context(), chi.URLParam(r, "id"), userID, media.Upload{
		Body:        bytes.NewReader(data),
		Size:        int64(len(data)),
		ContentType: r.Header.Get("Content-Type"),
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"image": url})
}

func (s *HTTPServer) fail(w http.ResponseWriter, r *http.Request, err error) {
	status, code, message, details := mapError(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.String("requestID", middleware.GetReqID(r.Context())),
			zap.Error(err),
		)
	}
	writeError(w, status, code, message, details)
}

func authUnavailable(w http.ResponseWriter) {
	writeError(w, http.StatusServiceUnavailable, "AUTH_UNAVAILABLE", "Sign-in is handled by the external identity provider", nil)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string, details any) {
	response := map[string]any{
		"code":  code,
		"error": message,
	}
	if details != nil {
		response["details"] = details
	}
	writeJSON(w, status, response)
}

// decodeBody treats an empty body as an empty object.
func decodeBody(r *http.Request, target any) error {
	if r.Body == nil {
		return nil
	}
	defer r.Body.Close()
	decoder := json.NewDecoder(r.Body)
	if err := decoder.Decode(target); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, http.ErrBodyReadAfterClose) {
			return nil
		}
		return fmt.Errorf("invalid JSON body")
	}
	return nil
}

func bearerToken(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if !strings.HasPrefix(header, "Bearer ") {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
}

func intQuery(r *http.Request, key string, fallback int) int {
	value := r.URL.Query().Get(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

// listQuery accepts both repeated parameters and comma separated values.
func listQuery(values []string) []string {
	var out []string
	for _, value := range values {
		for _, part := range strings.Split(value, ",") {
			if trimmed := strings.TrimSpace(part); trimmed != "" {
				out = append(out, trimmed)
			}
		}
	}
	return out
}

func mapError(err error) (status int, code, message string, details any) {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Status, domainErr.Code, domainErr.Message, domainErr.Details
	}
	switch {
	case errors.Is(err, identity.ErrInvalidToken), errors.Is(err, auth.ErrInvalidToken), errors.Is(err, auth.ErrExpiredToken):
		return http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil
	case errors.Is(err, authpw.ErrInvalidCredentials):
		return http.StatusUnauthorized, "INVALID_CREDENTIALS", err.Error(), nil
	case errors.Is(err, authpw.ErrEmailTaken):
		return http.StatusConflict, "EMAIL_EXISTS", "Email already registered", nil
	case errors.Is(err, authpw.ErrMissingFields), errors.Is(err, authpw.ErrInvalidEmail), errors.Is(err, authpw.ErrWeakPassword):
		return http.StatusUnprocessableEntity, "VALIDATION_ERROR", err.Error(), nil
	case errors.Is(err, identity.ErrUnknownUser):
		return http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil
	}
	return http.StatusInternalServerError, "SERVER_ERROR", "Server error", nil
}
