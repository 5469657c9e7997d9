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
	"progress/internal/facts"
	"progress/internal/timetable/config"
	"progress/internal/timetable/model"
	"progress/internal/timetable/repository"
	"progress/internal/web"
)

const (
	roleAdmin   = "ADMIN"
	roleTeacher = "TEACHER"
	roleStudent = "STUDENT"
)

// Store is the slice of the timetable repository the server needs.
type Store interface {
	CreateTimetable(ctx context.Context, tt model.Timetable) (model.Timetable, error)
	GetTimetable(ctx context.Context, id int64) (model.Timetable, error)
	ListTimetables(ctx context.Context) ([]model.Timetable, error)
	ListTimetablesBySchool(ctx context.Context, schoolID int64) ([]model.Timetable, error)
	ListTimetablesByTeacher(ctx context.Context, teacherID int64) ([]model.Timetable, error)
	UpdateTimetable(ctx context.Context, id int64, update repository.TimetableUpdate) (model.Timetable, error)
	DeleteTimetable(ctx context.Context, id int64) error
	TimetableExists(ctx context.Context, id int64) (bool, error)
	CreateBooking(ctx context.Context, timetableID, studentID int64) (model.Booking, error)
	CountBookings(ctx context.Context, timetableID int64) (int, error)
}

// Facts is the predicate surface this service depends on.
type Facts interface {
	TeacherInSchool(ctx context.Context, schoolID, teacherID int64) bool
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
		factChecker = facts.NewClient(cfg.SchoolURL, cfg.FactTimeout)
	}
	return &Server{cfg: cfg, store: store, facts: factChecker, verifier: verifier, policy: policy()}
}

func policy() *authz.Policy {
	return authz.NewPolicy(
		authz.Allow(http.MethodGet, "/health"),
		authz.Allow(http.MethodGet, "/metrics"),
		authz.Allow(http.MethodGet, "/timetables/validate"),
		authz.Allow(http.MethodGet, "/timetables"),
		authz.Allow(http.MethodGet, "/timetables/{id}"),
		authz.RoleIn(http.MethodPost, "/timetables", roleAdmin, roleTeacher),
		authz.RoleIn(http.MethodPut, "/timetables/{id}", roleAdmin, roleTeacher),
		authz.RoleIn(http.MethodDelete, "/timetables/{id}", roleAdmin, roleTeacher),
		authz.RoleIn(http.MethodPost, "/timetables/{id}/book", roleStudent),
		authz.Authed(http.MethodGet, "/timetables/school/{schoolId}"),
		authz.RoleIn(http.MethodGet, "/timetables/teacher/{teacherId}", roleAdmin, roleTeacher),
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

	r.Post("/timetables", s.handleCreateTimetable)
	r.Get("/timetables", s.handleListTimetables)
	r.Get("/timetables/validate", s.handleValidateTimetable)
	r.Get("/timetables/{id}", s.handleGetTimetable)
	r.Put("/timetables/{id}", s.handleUpdateTimetable)
	r.Delete("/timetables/{id}", s.handleDeleteTimetable)
	r.Post("/timetables/{id}/book", s.handleBookTimetable)
	r.Get("/timetables/school/{schoolId}", s.handleListBySchool)
	r.Get("/timetables/teacher/{teacherId}", s.handleListByTeacher)

	return r
}

type timetableInfo struct {
	ID          int64  `json:"id"`
	SchoolID    int64  `json:"schoolId"`
	TeacherID   int64  `json:"teacherId"`
	Subject     string `json:"subject"`
	StartTime   string `json:"startTime"`
	EndTime     string `json:"endTime"`
	DayOfWeek   string `json:"dayOfWeek"`
	MaxStudents int    `json:"maxStudents"`
}

func mapTimetableInfo(tt model.Timetable) timetableInfo {
	return timetableInfo{
		ID:          tt.ID,
		SchoolID:    tt.SchoolID,
		TeacherID:   tt.TeacherID,
		Subject:     tt.Subject,
		StartTime:   tt.StartTime,
		EndTime:     tt.EndTime,
		DayOfWeek:   tt.DayOfWeek,
		MaxStudents: tt.MaxStudents,
	}
}

func mapTimetableInfos(tts []model.Timetable) []timetableInfo {
	infos := make([]timetableInfo, 0, len(tts))
	for _, tt := range tts {
		infos = append(infos, mapTimetableInfo(tt))
	}
	return infos
}

func validClock(v string) bool {
	_, err := time.Parse("15:04", v)
	return err == nil
}

type createTimetableRequest struct {
	SchoolID    int64  `json:"schoolId"`
	TeacherID   int64  `json:"teacherId"`
	Subject     string `json:"subject"`
	StartTime   string `json:"startTime"`
	EndTime     string `json:"endTime"`
	DayOfWeek   string `json:"dayOfWeek"`
	MaxStudents int    `json:"maxStudents"`
}

func (s *Server) handleCreateTimetable(w http.ResponseWriter, r *http.Request) {
	var req createTimetableRequest
	if err := web.DecodeJSON(r, &req); err != nil {
		web.WriteError(w, http.StatusBadRequest, "invalid_request")
		return
	}
	if req.SchoolID == 0 || req.TeacherID == 0 || req.Subject == "" {
		web.WriteError(w, http.StatusBadRequest, "missing_fields")
		return
	}
	if !validClock(req.StartTime) || !validClock(req.EndTime) || req.StartTime >= req.EndTime {
		web.WriteError(w, http.StatusBadRequest, "invalid_time_range")
		return
	}
	if !model.ValidDay(req.DayOfWeek) {
		web.WriteError(w, http.StatusBadRequest, "invalid_day")
		return
	}
	if req.MaxStudents <= 0 {
		web.WriteError(w, http.StatusBadRequest, "invalid_max_students")
		return
	}

	// The roster lives in the school service; an unreachable registry
	// counts as "not in school".
	if !s.facts.TeacherInSchool(r.Context(), req.SchoolID, req.TeacherID) {
		web.WriteError(w, http.StatusNotFound, "school_or_teacher_not_found")
		return
	}

	tt, err := s.store.CreateTimetable(r.Context(), model.Timetable{
		SchoolID:    req.SchoolID,
		TeacherID:   req.TeacherID,
		Subject:     req.Subject,
		StartTime:   req.StartTime,
		EndTime:     req.EndTime,
		DayOfWeek:   req.DayOfWeek,
		MaxStudents: req.MaxStudents,
	})
	if err != nil {
		web.WriteError(w, http.StatusInternalServerError, "server_error")
		return
	}
	web.WriteJSON(w, http.StatusOK, mapTimetableInfo(tt))
}

func (s *Server) handleListTimetables(w http.ResponseWriter, r *http.Request) {
	tts, err := s.store.ListTimetables(r.Context())
	if err != nil {
		web.WriteError(w, http.StatusInternalServerError, "server_error")
		return
	}
	web.WriteJSON(w, http.StatusOK, mapTimetableInfos(tts))
}

func (s *Server) handleGetTimetable(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	tt, err := s.store.GetTimetable(r.Context(), id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			web.WriteError(w, http.StatusNotFound, "timetable_not_found")
			return
		}
		web.WriteError(w, http.StatusInternalServerError, "server_error")
		return
	}
	web.WriteJSON(w, http.StatusOK, mapTimetableInfo(tt))
}

// handleValidateTimetable answers the bare boolean used by peer
// services. Lookup failures read as false so callers stay closed.
func (s *Server) handleValidateTimetable(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.URL.Query().Get("id"), 10, 64)
	if err != nil {
		web.WriteJSON(w, http.StatusOK, false)
		return
	}
	exists, err := s.store.TimetableExists(r.Context(), id)
	if err != nil {
		web.WriteJSON(w, http.StatusOK, false)
		return
	}
	web.WriteJSON(w, http.StatusOK, exists)
}

type updateTimetableRequest struct {
	Subject     *string `json:"subject,omitempty"`
	StartTime   *string `json:"startTime,omitempty"`
	EndTime     *string `json:"endTime,omitempty"`
	DayOfWeek   *string `json:"dayOfWeek,omitempty"`
	MaxStudents *int    `json:"maxStudents,omitempty"`
}

func (s *Server) handleUpdateTimetable(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var req updateTimetableRequest
	if err := web.DecodeJSON(r, &req); err != nil {
		web.WriteError(w, http.StatusBadRequest, "invalid_request")
		return
	}
	if req.StartTime != nil && !validClock(*req.StartTime) {
		web.WriteError(w, http.StatusBadRequest, "invalid_time_range")
		return
	}
	if req.EndTime != nil && !validClock(*req.EndTime) {
		web.WriteError(w, http.StatusBadRequest, "invalid_time_range")
		return
	}
	if req.DayOfWeek != nil && !model.ValidDay(*req.DayOfWeek) {
		web.WriteError(w, http.StatusBadRequest, "invalid_day")
		return
	}
	if req.MaxStudents != nil && *req.MaxStudents <= 0 {
		web.WriteError(w, http.StatusBadRequest, "invalid_max_students")
		return
	}

	// The merged range must stay ordered before anything is written.
	current, err := s.store.GetTimetable(r.Context(), id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			web.WriteError(w, http.StatusNotFound, "timetable_not_found")
			return
		}
		web.WriteError(w, http.StatusInternalServerError, "server_error")
		return
	}
	start, end := current.StartTime, current.EndTime
	if req.StartTime != nil {
		start = *req.StartTime
	}
	if req.EndTime != nil {
		end = *req.EndTime
	}
	if start >= end {
		web.WriteError(w, http.StatusBadRequest, "invalid_time_range")
		return
	}

	tt, err := s.store.UpdateTimetable(r.Context(), id, repository.TimetableUpdate{
		Subject:     req.Subject,
		StartTime:   req.StartTime,
		EndTime:     req.EndTime,
		DayOfWeek:   req.DayOfWeek,
		MaxStudents: req.MaxStudents,
	})
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			web.WriteError(w, http.StatusNotFound, "timetable_not_found")
			return
		}
		web.WriteError(w, http.StatusInternalServerError, "server_error")
		return
	}
	web.WriteJSON(w, http.StatusOK, mapTimetableInfo(tt))
}

func (s *Server) handleDeleteTimetable(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	if err := s.store.DeleteTimetable(r.Context(), id); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			web.WriteError(w, http.StatusNotFound, "timetable_not_found")
			return
		}
		web.WriteError(w, http.StatusInternalServerError, "server_error")
		return
	}
	web.WriteJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

type bookingInfo struct {
	ID          int64  `json:"id"`
	TimetableID int64  `json:"timetableId"`
	StudentID   int64  `json:"studentId"`
	BookedAt    string `json:"bookedAt"`
}

func (s *Server) handleBookTimetable(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	identity := authz.IdentityFromContext(r.Context())
	if identity == nil {
		web.WriteError(w, http.StatusUnauthorized, "missing_or_invalid_token")
		return
	}

	tt, err := s.store.GetTimetable(r.Context(), id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			web.WriteError(w, http.StatusNotFound, "timetable_not_found")
			return
		}
		web.WriteError(w, http.StatusInternalServerError, "server_error")
		return
	}

	count, err := s.store.CountBookings(r.Context(), id)
	if err != nil {
		web.WriteError(w, http.StatusInternalServerError, "server_error")
		return
	}
	if count >= tt.MaxStudents {
		web.WriteError(w, http.StatusBadRequest, "timetable_full")
		return
	}

	booking, err := s.store.CreateBooking(r.Context(), id, identity.UserID)
	if err != nil {
		if errors.Is(err, repository.ErrDuplicateBooking) {
			web.WriteError(w, http.StatusBadRequest, "already_booked")
			return
		}
		web.WriteError(w, http.StatusInternalServerError, "server_error")
		return
	}
	web.WriteJSON(w, http.StatusOK, bookingInfo{
		ID:          booking.ID,
		TimetableID: booking.TimetableID,
		StudentID:   booking.StudentID,
		BookedAt:    booking.CreatedAt.UTC().Format(time.RFC3339),
	})
}

func (s *Server) handleListBySchool(w http.ResponseWriter, r *http.Request) {
	schoolID, ok := pathID(w, r, "schoolId")
	if !ok {
		return
	}
	tts, err := s.store.ListTimetablesBySchool(r.Context(), schoolID)
	if err != nil {
		web.WriteError(w, http.StatusInternalServerError, "server_error")
		return
	}
	web.WriteJSON(w, http.StatusOK, mapTimetableInfos(tts))
}

func (s *Server) handleListByTeacher(w http.ResponseWriter, r *http.Request) {
	teacherID, ok := pathID(w, r, "teacherId")
	if !ok {
		return
	}
	tts, err := s.store.ListTimetablesByTeacher(r.Context(), teacherID)
	if err != nil {
		web.WriteError(w, http.StatusInternalServerError, "server_error")
		return
	}
	web.WriteJSON(w, http.StatusOK, mapTimetableInfos(tts))
}

func pathID(w http.ResponseWriter, r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil {
		web.WriteError(w, http.StatusBadRequest, "invalid_"+name)
		return 0, false
	}
	return id, true
}
