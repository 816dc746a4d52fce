package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/johnpaulpatigas/benthel-attendance/internal/auth"
	"github.com/johnpaulpatigas/benthel-attendance/internal/checkin"
	"github.com/johnpaulpatigas/benthel-attendance/internal/config"
	"github.com/johnpaulpatigas/benthel-attendance/internal/directory"
	"github.com/johnpaulpatigas/benthel-attendance/internal/feed"
	"github.com/johnpaulpatigas/benthel-attendance/internal/identity"
	"github.com/johnpaulpatigas/benthel-attendance/internal/model"
	"github.com/johnpaulpatigas/benthel-attendance/internal/projection"
)

type Server struct {
	cfg      config.Config
	provider *identity.Provider
	dir      *directory.Directory
	feed     *feed.Feed
	ingest   *checkin.Ingest
	validate *validator.Validate
}

func NewServer(cfg config.Config, provider *identity.Provider, dir *directory.Directory, f *feed.Feed, ingest *checkin.Ingest) *Server {
	return &Server{
		cfg:      cfg,
		provider: provider,
		dir:      dir,
		feed:     f,
		ingest:   ingest,
		validate: validator.New(),
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Post("/auth/login", s.handleLogin)
	r.Post("/auth/signup", s.handleSignUp)
	r.Post("/auth/refresh", s.handleRefresh)
	r.Post("/auth/logout", s.handleLogout)
	r.With(s.authMiddleware).Get("/auth/me", s.handleGetMe)

	r.With(s.authMiddleware, s.requireAdmin).Get("/admin/students", s.handleListStudents)
	r.With(s.authMiddleware, s.requireAdmin).Post("/admin/students", s.handleCreateStudent)
	r.With(s.authMiddleware, s.requireAdmin).Patch("/admin/students/{studentId}", s.handleUpdateStudent)
	r.With(s.authMiddleware, s.requireAdmin).Put("/admin/profiles/{userId}", s.handleProvisionProfile)

	r.With(s.authMiddleware).Get("/feed", s.handleFeedSnapshot)
	r.With(s.authMiddleware).Get("/stream", s.handleStream)

	r.Post("/checkin", s.handleCheckin)

	return r
}

// Auth

type claimsKey struct{}

func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r.Header.Get("Authorization"))
		if token == "" {
			writeError(w, http.StatusUnauthorized, "missing_token")
			return
		}
		claims, err := auth.ParseToken(s.cfg.JWTSecret, s.cfg.JWTIssuer, token)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "invalid_token")
			return
		}
		ctx := context.WithValue(r.Context(), claimsKey{}, claims)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func claimsFromContext(ctx context.Context) *auth.Claims {
	value := ctx.Value(claimsKey{})
	claims, _ := value.(*auth.Claims)
	return claims
}

// resolveSession derives the role-resolved session for the request, writing
// the error response itself when that fails. An unresolved role is an
// explicit 409, never a fallback role.
func (s *Server) resolveSession(w http.ResponseWriter, r *http.Request) *model.Session {
	claims := claimsFromContext(r.Context())
	if claims == nil {
		writeError(w, http.StatusUnauthorized, "missing_token")
		return nil
	}
	session, err := s.provider.Resolver().ResolveSession(r.Context(), claims)
	if err != nil {
		if errors.Is(err, identity.ErrUnresolvedRole) {
			writeError(w, http.StatusConflict, "role_unresolved")
			return nil
		}
		writeError(w, http.StatusInternalServerError, "server_error")
		return nil
	}
	return session
}

func (s *Server) requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		session := s.resolveSession(w, r)
		if session == nil {
			return
		}
		if session.Role != model.RoleAdmin {
			writeError(w, http.StatusForbidden, "forbidden")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Models

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type signUpRequest struct {
	Email    string                   `json:"email" validate:"required,email"`
	Password string                   `json:"password" validate:"required,min=8"`
	Metadata identity.ProfileMetadata `json:"metadata"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type sessionResponse struct {
	UserID    string  `json:"user_id"`
	Role      string  `json:"role"`
	StudentID *string `json:"student_id,omitempty"`
	FirstName string  `json:"first_name,omitempty"`
	LastName  string  `json:"last_name,omitempty"`
}

type authResponse struct {
	AccessToken  string           `json:"access_token"`
	RefreshToken string           `json:"refresh_token"`
	Session      *sessionResponse `json:"session"`
}

type checkinRequest struct {
	RFIDTag string `json:"rfid_tag"`
}

type provisionRequest struct {
	Role      string `json:"role" validate:"required,oneof=admin teacher student parent"`
	StudentID string `json:"student_id" validate:"omitempty,uuid"`
}

func sessionPayload(session *model.Session) *sessionResponse {
	if session == nil {
		return nil
	}
	payload := &sessionResponse{
		UserID:    session.UserID.String(),
		Role:      string(session.Role),
		FirstName: session.FirstName,
		LastName:  session.LastName,
	}
	if session.LinkedStudentID != nil {
		linked := session.LinkedStudentID.String()
		payload.StudentID = &linked
	}
	return payload
}

// Handlers

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request")
		return
	}
	if req.Email == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "missing_fields")
		return
	}
	tokens, session, err := s.provider.SignIn(r.Context(), req.Email, req.Password)
	if err != nil {
		if errors.Is(err, identity.ErrAuthFailed) {
			writeError(w, http.StatusUnauthorized, "invalid_credentials")
			return
		}
		writeError(w, http.StatusInternalServerError, "server_error")
		return
	}
	writeJSON(w, http.StatusOK, authResponse{
		AccessToken:  tokens.AccessToken,
		RefreshToken: tokens.RefreshToken,
		Session:      sessionPayload(session),
	})
}

func (s *Server) handleSignUp(w http.ResponseWriter, r *http.Request) {
	var req signUpRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request")
		return
	}
	if err := s.validate.Struct(req); err != nil {
		// Validation detail goes back verbatim so the form can show it.
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	user, err := s.provider.SignUp(r.Context(), req.Email, req.Password, req.Metadata)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"user_id": user.ID.String()})
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if err := decodeJSON(r, &req); err != nil || req.RefreshToken == "" {
		writeError(w, http.StatusBadRequest, "invalid_request")
		return
	}
	tokens, err := s.provider.Refresh(r.Context(), req.RefreshToken)
	if err != nil {
		if errors.Is(err, identity.ErrAuthFailed) {
			writeError(w, http.StatusUnauthorized, "invalid_refresh_token")
			return
		}
		writeError(w, http.StatusInternalServerError, "server_error")
		return
	}
	writeJSON(w, http.StatusOK, authResponse{AccessToken: tokens.AccessToken, RefreshToken: tokens.RefreshToken})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if err := decodeJSON(r, &req); err != nil || req.RefreshToken == "" {
		writeError(w, http.StatusBadRequest, "invalid_request")
		return
	}
	if err := s.provider.SignOut(r.Context(), req.RefreshToken); err != nil {
		writeError(w, http.StatusInternalServerError, "server_error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "signed_out"})
}

func (s *Server) handleGetMe(w http.ResponseWriter, r *http.Request) {
	session := s.resolveSession(w, r)
	if session == nil {
		return
	}
	writeJSON(w, http.StatusOK, sessionPayload(session))
}

func (s *Server) handleListStudents(w http.ResponseWriter, r *http.Request) {
	students, err := s.dir.ListAll(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "server_error")
		return
	}
	writeJSON(w, http.StatusOK, studentsPayload(students))
}

func (s *Server) handleCreateStudent(w http.ResponseWriter, r *http.Request) {
	var fields directory.Fields
	if err := decodeJSON(r, &fields); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request")
		return
	}
	student, err := s.dir.Create(r.Context(), fields)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusCreated, studentPayload(*student))
}

func (s *Server) handleUpdateStudent(w http.ResponseWriter, r *http.Request) {
	studentID, err := uuid.Parse(chi.URLParam(r, "studentId"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_student_id")
		return
	}
	var fields directory.Fields
	if err := decodeJSON(r, &fields); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request")
		return
	}
	if err := s.dir.Update(r.Context(), studentID, fields); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "updated"})
}

func (s *Server) handleProvisionProfile(w http.ResponseWriter, r *http.Request) {
	userID, err := uuid.Parse(chi.URLParam(r, "userId"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_user_id")
		return
	}
	var req provisionRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request")
		return
	}
	if err := s.validate.Struct(req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	var studentID *uuid.UUID
	if req.StudentID != "" {
		parsed, err := uuid.Parse(req.StudentID)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_student_id")
			return
		}
		studentID = &parsed
	}
	if err := s.provider.Provision(r.Context(), userID, model.ParseRole(req.Role), studentID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			writeError(w, http.StatusNotFound, "user_not_found")
			return
		}
		writeError(w, http.StatusInternalServerError, "server_error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "provisioned"})
}

// handleFeedSnapshot is the one-shot read of the caller's scoped slice.
// The switch covers every role; there is no default view.
func (s *Server) handleFeedSnapshot(w http.ResponseWriter, r *http.Request) {
	session := s.resolveSession(w, r)
	if session == nil {
		return
	}
	switch session.Role {
	case model.RoleAdmin:
		students, err := s.dir.ListAll(r.Context())
		if err != nil {
			writeError(w, http.StatusInternalServerError, "server_error")
			return
		}
		writeJSON(w, http.StatusOK, studentsPayload(students))
	case model.RoleTeacher:
		entries, err := s.feed.QueryJoined(r.Context())
		if err != nil {
			writeError(w, http.StatusInternalServerError, "server_error")
			return
		}
		writeJSON(w, http.StatusOK, entriesPayload(entries))
	case model.RoleStudent, model.RoleParent:
		studentID, err := session.RequireLink()
		if err != nil {
			writeError(w, http.StatusConflict, "student_not_linked")
			return
		}
		records, err := s.feed.Query(r.Context(), feed.ForStudent(studentID))
		if err != nil {
			writeError(w, http.StatusInternalServerError, "server_error")
			return
		}
		writeJSON(w, http.StatusOK, recordsPayload(records))
	case model.RoleUnresolved:
		writeError(w, http.StatusConflict, "role_unresolved")
	}
}

// handleStream mounts the caller's projection and pushes a full snapshot
// over SSE after every refetch. Disconnect unmounts and closes the one
// subscription the projection holds.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	session := s.resolveSession(w, r)
	if session == nil {
		return
	}
	view, err := projection.Select(session, s.dir, s.feed)
	if err != nil {
		writeError(w, http.StatusConflict, "role_unresolved")
		return
	}
	if err := view.Mount(r.Context()); err != nil {
		if errors.Is(err, model.ErrUnlinkedStudent) {
			writeError(w, http.StatusConflict, "student_not_linked")
			return
		}
		writeError(w, http.StatusInternalServerError, "server_error")
		return
	}
	defer view.Unmount()

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming_unsupported")
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	// The mount's initial fetch left a pending update signal, so the
	// first snapshot goes out immediately.
	for {
		select {
		case <-r.Context().Done():
			return
		case _, open := <-view.Updates():
			if !open {
				return
			}
			payload, err := json.Marshal(view.Snapshot())
			if err != nil {
				return
			}
			fmt.Fprintf(w, "data: %s\n\n", payload)
			flusher.Flush()
		}
	}
}

func (s *Server) handleCheckin(w http.ResponseWriter, r *http.Request) {
	if s.cfg.CheckinSecret == "" || r.Header.Get("X-Checkin-Secret") != s.cfg.CheckinSecret {
		writeError(w, http.StatusForbidden, "forbidden")
		return
	}
	var req checkinRequest
	if err := decodeJSON(r, &req); err != nil || strings.TrimSpace(req.RFIDTag) == "" {
		writeError(w, http.StatusBadRequest, "invalid_request")
		return
	}
	record, err := s.ingest.Record(r.Context(), strings.TrimSpace(req.RFIDTag))
	if err != nil {
		if errors.Is(err, checkin.ErrUnknownTag) {
			writeError(w, http.StatusNotFound, "unknown_tag")
			return
		}
		writeError(w, http.StatusInternalServerError, "server_error")
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"id":         record.ID.String(),
		"student_id": record.StudentID.String(),
		"created_at": record.CreatedAt,
	})
}

// Payload mapping

type studentResponse struct {
	ID        string `json:"id"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	RFIDTag   string `json:"rfid_tag"`
	ClassName string `json:"class_name"`
}

func studentPayload(student model.Student) studentResponse {
	return studentResponse{
		ID:        student.ID.String(),
		FirstName: student.FirstName,
		LastName:  student.LastName,
		RFIDTag:   student.RFIDTag,
		ClassName: student.ClassName,
	}
}

func studentsPayload(students []model.Student) []studentResponse {
	out := make([]studentResponse, 0, len(students))
	for _, student := range students {
		out = append(out, studentPayload(student))
	}
	return out
}

type entryResponse struct {
	ID        string `json:"id"`
	StudentID string `json:"student_id"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	ClassName string `json:"class_name"`
	CreatedAt string `json:"created_at"`
}

func entriesPayload(entries []model.AttendanceEntry) []entryResponse {
	out := make([]entryResponse, 0, len(entries))
	for _, entry := range entries {
		out = append(out, entryResponse{
			ID:        entry.Record.ID.String(),
			StudentID: entry.Record.StudentID.String(),
			FirstName: entry.Student.FirstName,
			LastName:  entry.Student.LastName,
			ClassName: entry.Student.ClassName,
			CreatedAt: entry.Record.CreatedAt.UTC().Format("2006-01-02T15:04:05.000Z07:00"),
		})
	}
	return out
}

type recordResponse struct {
	ID        string `json:"id"`
	StudentID string `json:"student_id"`
	CreatedAt string `json:"created_at"`
}

func recordsPayload(records []model.AttendanceRecord) []recordResponse {
	out := make([]recordResponse, 0, len(records))
	for _, record := range records {
		out = append(out, recordResponse{
			ID:        record.ID.String(),
			StudentID: record.StudentID.String(),
			CreatedAt: record.CreatedAt.UTC().Format("2006-01-02T15:04:05.000Z07:00"),
		})
	}
	return out
}

// Helpers

func bearerToken(header string) string {
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

func decodeJSON(r *http.Request, out interface{}) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	return decoder.Decode(out)
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code string) {
	writeJSON(w, status, map[string]string{"error": code})
}
