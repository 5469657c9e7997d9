package http

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"progress/internal/authz"
	"progress/internal/document/config"
	"progress/internal/document/model"
	"progress/internal/document/repository"
	"progress/internal/facts"
	"progress/internal/web"
)

const (
	roleAdmin   = "ADMIN"
	roleTeacher = "TEACHER"
	roleStudent = "STUDENT"
)

// Store is the slice of the document repository the server needs.
type Store interface {
	CreateDocument(ctx context.Context, doc model.Document) (model.Document, error)
	GetDocument(ctx context.Context, id int64) (model.Document, error)
	ListDocuments(ctx context.Context) ([]model.Document, error)
	ListDocumentsByUser(ctx context.Context, userID int64) ([]model.Document, error)
	ListDocumentsBySchool(ctx context.Context, schoolID int64) ([]model.Document, error)
	FindByUserAndDate(ctx context.Context, userID int64, date time.Time) (model.Document, error)
	UpdateDocument(ctx context.Context, id int64, update repository.DocumentUpdate) (model.Document, error)
	DeleteDocument(ctx context.Context, id int64) error
}

// Facts is the predicate surface this service depends on.
type Facts interface {
	TimetableExists(ctx context.Context, timetableID int64) bool
}

type Server struct {
	cfg      config.Config
	store    Store
	facts    Facts
	verifier authz.TokenVerifier
	policy   *authz.Policy
}

func NewServer(cfg config.Config, store Store, factChecker Facts, verifier authz.TokenVerifier) *Server {
	if verifier == nil {
		verifier = authz.NewRemoteVerifier(cfg.AccountURL, cfg.VerifyTimeout)
	}
	if factChecker == nil {
		factChecker = facts.NewClient(cfg.TimetableURL, cfg.FactTimeout)
	}
	return &Server{cfg: cfg, store: store, facts: factChecker, verifier: verifier, policy: policy()}
}

func policy() *authz.Policy {
	return authz.NewPolicy(
		authz.Allow(http.MethodGet, "/health"),
		authz.Allow(http.MethodGet, "/metrics"),
		authz.RoleIn(http.MethodPost, "/documents", roleAdmin, roleTeacher),
		authz.RoleIn(http.MethodGet, "/documents", roleAdmin),
		// Attendance lookups belong to teachers and students; admins
		// use the school- and id-scoped listings instead.
		authz.RoleIn(http.MethodGet, "/documents/check-attendance", roleStudent, roleTeacher),
		authz.Authed(http.MethodGet, "/documents/{id}"),
		authz.RoleIn(http.MethodPut, "/documents/{id}", roleAdmin, roleTeacher),
		authz.RoleIn(http.MethodDelete, "/documents/{id}", roleAdmin),
		authz.RoleIn(http.MethodGet, "/documents/user/{userId}", roleStudent, roleTeacher),
		authz.RoleIn(http.MethodGet, "/documents/school/{schoolId}", roleAdmin),
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

	r.Post("/documents", s.handleCreateDocument)
	r.Get("/documents", s.handleListDocuments)
	r.Get("/documents/check-attendance", s.handleCheckAttendance)
	r.Get("/documents/{id}", s.handleGetDocument)
	r.Put("/documents/{id}", s.handleUpdateDocument)
	r.Delete("/documents/{id}", s.handleDeleteDocument)
	r.Get("/documents/user/{userId}", s.handleListByUser)
	r.Get("/documents/school/{schoolId}", s.handleListBySchool)

	return r
}

type documentInfo struct {
	ID          int64  `json:"id"`
	UserID      int64  `json:"userId"`
	SchoolID    int64  `json:"schoolId"`
	TimetableID int64  `json:"timetableId"`
	Date        string `json:"date"`
	Status      string `json:"status"`
	Notes       string `json:"notes,omitempty"`
}

func mapDocumentInfo(doc model.Document) documentInfo {
	return documentInfo{
		ID:          doc.ID,
		UserID:      doc.UserID,
		SchoolID:    doc.SchoolID,
		TimetableID: doc.TimetableID,
		Date:        doc.Date.Format(time.DateOnly),
		Status:      doc.Status,
		Notes:       doc.Notes,
	}
}

type createDocumentRequest struct {
	UserID      int64  `json:"userId"`
	SchoolID    int64  `json:"schoolId"`
	TimetableID int64  `json:"timetableId"`
	Date        string `json:"date"`
	Status      string `json:"status"`
	Notes       string `json:"notes,omitempty"`
}

func (s *Server) handleCreateDocument(w http.ResponseWriter, r *http.Request) {
	var req createDocumentRequest
	if err := web.DecodeJSON(r, &req); err != nil {
		web.WriteError(w, http.StatusBadRequest, "invalid_request")
		return
	}
	if req.UserID == 0 || req.SchoolID == 0 || req.TimetableID == 0 {
		web.WriteError(w, http.StatusBadRequest, "missing_fields")
		return
	}
	if !model.ValidStatus(req.Status) {
		web.WriteError(w, http.StatusBadRequest, "invalid_status")
		return
	}
	date, err := time.Parse(time.DateOnly, req.Date)
	if err != nil {
		web.WriteError(w, http.StatusBadRequest, "invalid_date")
		return
	}

	// The timetable is owned by another service; an unreachable owner
	// counts as "does not exist".
	if !s.facts.TimetableExists(r.Context(), req.TimetableID) {
		web.WriteError(w, http.StatusNotFound, "timetable_not_found")
		return
	}

	doc, err := s.store.CreateDocument(r.Context(), model.Document{
		UserID:      req.UserID,
		SchoolID:    req.SchoolID,
		TimetableID: req.TimetableID,
		Date:        date,
		Status:      req.Status,
		Notes:       req.Notes,
	})
	if err != nil {
		web.WriteError(w, http.StatusInternalServerError, "server_error")
		return
	}
	web.WriteJSON(w, http.StatusOK, mapDocumentInfo(doc))
}

func (s *Server) handleListDocuments(w http.ResponseWriter, r *http.Request) {
	docs, err := s.store.ListDocuments(r.Context())
	if err != nil {
		web.WriteError(w, http.StatusInternalServerError, "server_error")
		return
	}
	web.WriteJSON(w, http.StatusOK, mapDocumentInfos(docs))
}

func (s *Server) handleGetDocument(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	doc, err := s.store.GetDocument(r.Context(), id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			web.WriteError(w, http.StatusNotFound, "document_not_found")
			return
		}
		web.WriteError(w, http.StatusInternalServerError, "server_error")
		return
	}
	web.WriteJSON(w, http.StatusOK, mapDocumentInfo(doc))
}

type updateDocumentRequest struct {
	Date   *string `json:"date,omitempty"`
	Status *string `json:"status,omitempty"`
	Notes  *string `json:"notes,omitempty"`
}

func (s *Server) handleUpdateDocument(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var req updateDocumentRequest
	if err := web.DecodeJSON(r, &req); err != nil {
		web.WriteError(w, http.StatusBadRequest, "invalid_request")
		return
	}

	update := repository.DocumentUpdate{Notes: req.Notes}
	if req.Status != nil {
		if !model.ValidStatus(*req.Status) {
			web.WriteError(w, http.StatusBadRequest, "invalid_status")
			return
		}
		update.Status = req.Status
	}
	if req.Date != nil {
		date, err := time.Parse(time.DateOnly, *req.Date)
		if err != nil {
			web.WriteError(w, http.StatusBadRequest, "invalid_date")
			return
		}
		update.Date = &date
	}

	doc, err := s.store.UpdateDocument(r.Context(), id, update)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			web.WriteError(w, http.StatusNotFound, "document_not_found")
			return
		}
		web.WriteError(w, http.StatusInternalServerError, "server_error")
		return
	}
	web.WriteJSON(w, http.StatusOK, mapDocumentInfo(doc))
}

func (s *Server) handleDeleteDocument(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	if err := s.store.DeleteDocument(r.Context(), id); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			web.WriteError(w, http.StatusNotFound, "document_not_found")
			return
		}
		web.WriteError(w, http.StatusInternalServerError, "server_error")
		return
	}
	web.WriteJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func (s *Server) handleListByUser(w http.ResponseWriter, r *http.Request) {
	userID, ok := pathID(w, r, "userId")
	if !ok {
		return
	}
	docs, err := s.store.ListDocumentsByUser(r.Context(), userID)
	if err != nil {
		web.WriteError(w, http.StatusInternalServerError, "server_error")
		return
	}
	web.WriteJSON(w, http.StatusOK, mapDocumentInfos(docs))
}

func (s *Server) handleListBySchool(w http.ResponseWriter, r *http.Request) {
	schoolID, ok := pathID(w, r, "schoolId")
	if !ok {
		return
	}
	docs, err := s.store.ListDocumentsBySchool(r.Context(), schoolID)
	if err != nil {
		web.WriteError(w, http.StatusInternalServerError, "server_error")
		return
	}
	web.WriteJSON(w, http.StatusOK, mapDocumentInfos(docs))
}

func (s *Server) handleCheckAttendance(w http.ResponseWriter, r *http.Request) {
	studentID, err := strconv.ParseInt(r.URL.Query().Get("studentId"), 10, 64)
	if err != nil {
		web.WriteError(w, http.StatusBadRequest, "invalid_student_id")
		return
	}
	date, err := time.Parse(time.DateOnly, r.URL.Query().Get("date"))
	if err != nil {
		web.WriteError(w, http.StatusBadRequest, "invalid_date")
		return
	}

	doc, err := s.store.FindByUserAndDate(r.Context(), studentID, date)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			web.WriteJSON(w, http.StatusOK, map[string]string{"status": "NONE"})
			return
		}
		web.WriteError(w, http.StatusInternalServerError, "server_error")
		return
	}
	web.WriteJSON(w, http.StatusOK, map[string]string{"status": doc.Status, "notes": doc.Notes})
}

func mapDocumentInfos(docs []model.Document) []documentInfo {
	infos := make([]documentInfo, 0, len(docs))
	for _, doc := range docs {
		infos = append(infos, mapDocumentInfo(doc))
	}
	return infos
}

func pathID(w http.ResponseWriter, r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil {
		web.WriteError(w, http.StatusBadRequest, "invalid_"+name)
		return 0, false
	}
	return id, true
}
