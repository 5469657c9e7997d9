package http

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"progress/internal/authz"
	"progress/internal/school/config"
	"progress/internal/school/model"
	"progress/internal/school/repository"
	"progress/internal/web"
)

const (
	roleAdmin   = "ADMIN"
	roleTeacher = "TEACHER"
)

// Store is the slice of the school repository the server needs.
type Store interface {
	CreateSchool(ctx context.Context, school model.School) (model.School, error)
	GetSchool(ctx context.Context, id int64) (model.School, error)
	ListSchools(ctx context.Context) ([]model.School, error)
	UpdateSchool(ctx context.Context, id int64, update repository.SchoolUpdate) (model.School, error)
	DeleteSchool(ctx context.Context, id int64) error
	SchoolExists(ctx context.Context, id int64) (bool, error)
	AddTeacher(ctx context.Context, schoolID, teacherID int64) error
	RemoveTeacher(ctx context.Context, schoolID, teacherID int64) error
	ListTeachers(ctx context.Context, schoolID int64) ([]int64, error)
	TeacherInSchool(ctx context.Context, schoolID, teacherID int64) (bool, error)
	AddStudent(ctx context.Context, schoolID, studentID int64) error
	ListStudents(ctx context.Context, schoolID int64) ([]int64, error)
}

type Server struct {
	cfg      config.Config
	store    Store
	verifier authz.TokenVerifier
	policy   *authz.Policy
}

// NewServer wires the school registry. The service never sees the
// signing key; every token is verified through the identity authority.
func NewServer(cfg config.Config, store Store, verifier authz.TokenVerifier) *Server {
	if verifier == nil {
		verifier = authz.NewRemoteVerifier(cfg.AccountURL, cfg.VerifyTimeout)
	}
	return &Server{cfg: cfg, store: store, verifier: verifier, policy: policy()}
}

func policy() *authz.Policy {
	return authz.NewPolicy(
		authz.Allow(http.MethodGet, "/health"),
		authz.Allow(http.MethodGet, "/metrics"),
		// The validate endpoints are consumed by peer services which
		// carry no end-user credential of their own.
		authz.Allow(http.MethodGet, "/schools/validate"),
		authz.Allow(http.MethodGet, "/schools/{id}/validate-teacher/{teacherId}"),
		authz.Allow(http.MethodGet, "/schools"),
		authz.Allow(http.MethodGet, "/schools/{id}"),
		authz.RoleIn(http.MethodPost, "/schools", roleAdmin),
		authz.RoleIn(http.MethodPut, "/schools/{id}", roleAdmin),
		authz.RoleIn(http.MethodDelete, "/schools/{id}", roleAdmin),
		authz.Authed(http.MethodGet, "/schools/{id}/teachers"),
		authz.RoleIn(http.MethodPost, "/schools/{id}/teachers", roleAdmin),
		authz.RoleIn(http.MethodDelete, "/schools/{id}/teachers/{teacherId}", roleAdmin),
		authz.RoleIn(http.MethodGet, "/schools/{id}/students", roleAdmin, roleTeacher),
		authz.RoleIn(http.MethodPost, "/schools/{id}/students", roleAdmin),
	)
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(web.RequestLogger)
	r.Use(authz.Middleware(s.policy, s.verifier))

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		web.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Post("/schools", s.handleCreateSchool)
	r.Get("/schools", s.handleListSchools)
	r.Get("/schools/validate", s.handleValidateSchool)
	r.Get("/schools/{id}", s.handleGetSchool)
	r.Put("/schools/{id}", s.handleUpdateSchool)
	r.Delete("/schools/{id}", s.handleDeleteSchool)

	r.Get("/schools/{id}/teachers", s.handleListTeachers)
	r.Post("/schools/{id}/teachers", s.handleAddTeacher)
	r.Delete("/schools/{id}/teachers/{teacherId}", s.handleRemoveTeacher)
	r.Get("/schools/{id}/validate-teacher/{teacherId}", s.handleValidateTeacher)

	r.Get("/schools/{id}/students", s.handleListStudents)
	r.Post("/schools/{id}/students", s.handleAddStudent)

	return r
}

type schoolInfo struct {
	ID      int64  `json:"id"`
	Name    string `json:"name"`
	Address string `json:"address"`
}

func mapSchoolInfo(school model.School) schoolInfo {
	return schoolInfo{ID: school.ID, Name: school.Name, Address: school.Address}
}

type createSchoolRequest struct {
	Name    string `json:"name"`
	Address string `json:"address"`
}

func (s *Server) handleCreateSchool(w http.ResponseWriter, r *http.Request) {
	var req createSchoolRequest
	if err := web.DecodeJSON(r, &req); err != nil {
		web.WriteError(w, http.StatusBadRequest, "invalid_request")
		return
	}
	if strings.TrimSpace(req.Name) == "" {
		web.WriteError(w, http.StatusBadRequest, "missing_name")
		return
	}

	school, err := s.store.CreateSchool(r.Context(), model.School{Name: req.Name, Address: req.Address})
	if err != nil {
		web.WriteError(w, http.StatusInternalServerError, "server_error")
		return
	}
	web.WriteJSON(w, http.StatusOK, mapSchoolInfo(school))
}

func (s *Server) handleListSchools(w http.ResponseWriter, r *http.Request) {
	schools, err := s.store.ListSchools(r.Context())
	if err != nil {
		web.WriteError(w, http.StatusInternalServerError, "server_error")
		return
	}
	infos := make([]schoolInfo, 0, len(schools))
	for _, school := range schools {
		infos = append(infos, mapSchoolInfo(school))
	}
	web.WriteJSON(w, http.StatusOK, infos)
}

func (s *Server) handleGetSchool(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	school, err := s.store.GetSchool(r.Context(), id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			web.WriteError(w, http.StatusNotFound, "school_not_found")
			return
		}
		web.WriteError(w, http.StatusInternalServerError, "server_error")
		return
	}
	web.WriteJSON(w, http.StatusOK, mapSchoolInfo(school))
}

type updateSchoolRequest struct {
	Name    *string `json:"name,omitempty"`
	Address *string `json:"address,omitempty"`
}

func (s *Server) handleUpdateSchool(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var req updateSchoolRequest
	if err := web.DecodeJSON(r, &req); err != nil {
		web.WriteError(w, http.StatusBadRequest, "invalid_request")
		return
	}

	school, err := s.store.UpdateSchool(r.Context(), id, repository.SchoolUpdate{Name: req.Name, Address: req.Address})
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			web.WriteError(w, http.StatusNotFound, "school_not_found")
			return
		}
		web.WriteError(w, http.StatusInternalServerError, "server_error")
		return
	}
	web.WriteJSON(w, http.StatusOK, mapSchoolInfo(school))
}

func (s *Server) handleDeleteSchool(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	if err := s.store.DeleteSchool(r.Context(), id); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			web.WriteError(w, http.StatusNotFound, "school_not_found")
			return
		}
		web.WriteError(w, http.StatusInternalServerError, "server_error")
		return
	}
	web.WriteJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

// handleValidateSchool answers the bare existence predicate consumed by
// peer services. The body is a single JSON boolean.
func (s *Server) handleValidateSchool(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.URL.Query().Get("id"), 10, 64)
	if err != nil {
		web.WriteError(w, http.StatusBadRequest, "invalid_school_id")
		return
	}
	exists, err := s.store.SchoolExists(r.Context(), id)
	if err != nil {
		web.WriteError(w, http.StatusInternalServerError, "server_error")
		return
	}
	web.WriteJSON(w, http.StatusOK, exists)
}

func (s *Server) handleValidateTeacher(w http.ResponseWriter, r *http.Request) {
	schoolID, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	teacherID, ok := pathID(w, r, "teacherId")
	if !ok {
		return
	}
	inSchool, err := s.store.TeacherInSchool(r.Context(), schoolID, teacherID)
	if err != nil {
		web.WriteError(w, http.StatusInternalServerError, "server_error")
		return
	}
	web.WriteJSON(w, http.StatusOK, inSchool)
}

type memberRequest struct {
	TeacherID int64 `json:"teacherId,omitempty"`
	StudentID int64 `json:"studentId,omitempty"`
}

func (s *Server) handleAddTeacher(w http.ResponseWriter, r *http.Request) {
	schoolID, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var req memberRequest
	if err := web.DecodeJSON(r, &req); err != nil || req.TeacherID == 0 {
		web.WriteError(w, http.StatusBadRequest, "invalid_request")
		return
	}
	if !s.requireSchool(w, r, schoolID) {
		return
	}
	if err := s.store.AddTeacher(r.Context(), schoolID, req.TeacherID); err != nil {
		web.WriteError(w, http.StatusInternalServerError, "server_error")
		return
	}
	web.WriteJSON(w, http.StatusOK, map[string]string{"status": "attached"})
}

func (s *Server) handleRemoveTeacher(w http.ResponseWriter, r *http.Request) {
	schoolID, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	teacherID, ok := pathID(w, r, "teacherId")
	if !ok {
		return
	}
	if err := s.store.RemoveTeacher(r.Context(), schoolID, teacherID); err != nil {
		web.WriteError(w, http.StatusInternalServerError, "server_error")
		return
	}
	web.WriteJSON(w, http.StatusOK, map[string]string{"status": "detached"})
}

func (s *Server) handleListTeachers(w http.ResponseWriter, r *http.Request) {
	schoolID, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	if !s.requireSchool(w, r, schoolID) {
		return
	}
	teachers, err := s.store.ListTeachers(r.Context(), schoolID)
	if err != nil {
		web.WriteError(w, http.StatusInternalServerError, "server_error")
		return
	}
	web.WriteJSON(w, http.StatusOK, map[string][]int64{"teacherIds": teachers})
}

func (s *Server) handleAddStudent(w http.ResponseWriter, r *http.Request) {
	schoolID, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var req memberRequest
	if err := web.DecodeJSON(r, &req); err != nil || req.StudentID == 0 {
		web.WriteError(w, http.StatusBadRequest, "invalid_request")
		return
	}
	if !s.requireSchool(w, r, schoolID) {
		return
	}
	if err := s.store.AddStudent(r.Context(), schoolID, req.StudentID); err != nil {
		web.WriteError(w, http.StatusInternalServerError, "server_error")
		return
	}
	web.WriteJSON(w, http.StatusOK, map[string]string{"status": "attached"})
}

func (s *Server) handleListStudents(w http.ResponseWriter, r *http.Request) {
	schoolID, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	if !s.requireSchool(w, r, schoolID) {
		return
	}
	students, err := s.store.ListStudents(r.Context(), schoolID)
	if err != nil {
		web.WriteError(w, http.StatusInternalServerError, "server_error")
		return
	}
	web.WriteJSON(w, http.StatusOK, map[string][]int64{"studentIds": students})
}

func (s *Server) requireSchool(w http.ResponseWriter, r *http.Request, schoolID int64) bool {
	exists, err := s.store.SchoolExists(r.Context(), schoolID)
	if err != nil {
		web.WriteError(w, http.StatusInternalServerError, "server_error")
		return false
	}
	if !exists {
		web.WriteError(w, http.StatusNotFound, "school_not_found")
		return false
	}
	return true
}

func pathID(w http.ResponseWriter, r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil {
		web.WriteError(w, http.StatusBadRequest, "invalid_"+name)
		return 0, false
	}
	return id, true
}
