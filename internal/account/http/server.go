package http

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"progress/internal/account/config"
	"progress/internal/account/crypto"
	"progress/internal/account/model"
	"progress/internal/account/repository"
	"progress/internal/authtoken"
	"progress/internal/authz"
	"progress/internal/web"
)

// Store is the slice of the user repository the server needs.
type Store interface {
	CreateUser(ctx context.Context, user model.User) (model.User, error)
	GetUserByEmail(ctx context.Context, email string) (model.User, error)
	GetUserByID(ctx context.Context, id int64) (model.User, error)
	ListUsers(ctx context.Context) ([]model.User, error)
	UpdateUser(ctx context.Context, id int64, update repository.UserUpdate) (model.User, error)
	DeleteUser(ctx context.Context, id int64) error
}

type Server struct {
	cfg      config.Config
	store    Store
	codec    *authtoken.Codec
	verifier authz.TokenVerifier
	policy   *authz.Policy
}

func NewServer(cfg config.Config, store Store) (*Server, error) {
	codec, err := authtoken.New(cfg.JWTSecret, cfg.JWTIssuer, cfg.TokenTTL)
	if err != nil {
		return nil, err
	}
	return &Server{
		cfg:      cfg,
		store:    store,
		codec:    codec,
		verifier: &authz.LocalVerifier{Codec: codec, Skew: cfg.ClockSkew},
		policy:   policy(),
	}, nil
}

// policy is the single declarative route table for the identity
// authority. The middleware consults it before any handler runs.
func policy() *authz.Policy {
	return authz.NewPolicy(
		authz.Allow(http.MethodGet, "/health"),
		authz.Allow(http.MethodGet, "/metrics"),
		authz.Allow(http.MethodPost, "/auth/register"),
		authz.Allow(http.MethodPost, "/auth/login"),
		authz.Allow(http.MethodGet, "/auth/validate"),
		authz.Authed(http.MethodGet, "/auth/user"),
		authz.Authed(http.MethodPut, "/auth/user"),
		authz.RoleIn(http.MethodDelete, "/auth/user", model.RoleAdmin),
		authz.RoleIn(http.MethodGet, "/auth/users", model.RoleAdmin),
		authz.RoleIn(http.MethodGet, "/auth/user/{id}", model.RoleAdmin),
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

	r.Post("/auth/register", s.handleRegister)
	r.Post("/auth/login", s.handleLogin)
	r.Get("/auth/validate", s.handleValidate)

	r.Get("/auth/user", s.handleGetSelf)
	r.Put("/auth/user", s.handleUpdateSelf)
	r.Delete("/auth/user", s.handleDeleteSelf)
	r.Get("/auth/users", s.handleListUsers)
	r.Get("/auth/user/{id}", s.handleGetUserByID)

	return r
}

type userInfo struct {
	ID        int64  `json:"id"`
	Email     string `json:"email"`
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	Role      string `json:"role"`
}

func mapUserInfo(user model.User) userInfo {
	return userInfo{
		ID:        user.ID,
		Email:     user.Email,
		FirstName: user.FirstName,
		LastName:  user.LastName,
		Role:      user.Role,
	}
}

type registerRequest struct {
	Email     string `json:"email"`
	Password  string `json:"password"`
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	Role      string `json:"role"`
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := web.DecodeJSON(r, &req); err != nil {
		web.WriteError(w, http.StatusBadRequest, "invalid_request")
		return
	}

	req.Email = strings.TrimSpace(req.Email)
	req.Role = strings.TrimSpace(strings.ToUpper(req.Role))
	if req.Email == "" || req.Password == "" || req.Role == "" {
		web.WriteError(w, http.StatusBadRequest, "missing_fields")
		return
	}
	if !model.ValidRole(req.Role) {
		web.WriteError(w, http.StatusBadRequest, "invalid_role")
		return
	}

	hash, err := crypto.HashPassword(req.Password, s.cfg.BcryptCost)
	if err != nil {
		web.WriteError(w, http.StatusInternalServerError, "password_hash_failed")
		return
	}

	user, err := s.store.CreateUser(r.Context(), model.User{
		Email:        req.Email,
		PasswordHash: hash,
		FirstName:    req.FirstName,
		LastName:     req.LastName,
		Role:         req.Role,
	})
	if err != nil {
		if errors.Is(err, repository.ErrDuplicateEmail) {
			web.WriteError(w, http.StatusBadRequest, "email_taken")
			return
		}
		web.WriteError(w, http.StatusInternalServerError, "server_error")
		return
	}

	web.WriteJSON(w, http.StatusOK, mapUserInfo(user))
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := web.DecodeJSON(r, &req); err != nil {
		web.WriteError(w, http.StatusBadRequest, "invalid_request")
		return
	}
	if req.Email == "" || req.Password == "" {
		web.WriteError(w, http.StatusBadRequest, "missing_credentials")
		return
	}

	user, err := s.store.GetUserByEmail(r.Context(), req.Email)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			// Same work and same answer as a bad password: the response
			// must not reveal whether the email is registered.
			crypto.BurnCompare(req.Password)
			web.WriteError(w, http.StatusUnauthorized, "invalid_credentials")
			return
		}
		web.WriteError(w, http.StatusInternalServerError, "server_error")
		return
	}

	if err := crypto.CheckPassword(user.PasswordHash, req.Password); err != nil {
		web.WriteError(w, http.StatusUnauthorized, "invalid_credentials")
		return
	}

	token, err := s.codec.Issue(user.ID, user.Email, user.Role, time.Now().UTC())
	if err != nil {
		web.WriteError(w, http.StatusInternalServerError, "token_error")
		return
	}

	web.WriteJSON(w, http.StatusOK, map[string]string{"token": token})
}

// handleValidate is the service-to-service verification endpoint: the
// only place besides login where the signing key is consulted.
func (s *Server) handleValidate(w http.ResponseWriter, r *http.Request) {
	token := web.BearerToken(r.Header.Get("Authorization"))
	if token == "" {
		web.WriteError(w, http.StatusUnauthorized, "missing_token")
		return
	}

	claims, err := s.verifier.Verify(r.Context(), token)
	if err != nil {
		web.WriteError(w, http.StatusUnauthorized, "invalid_token")
		return
	}

	web.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"valid": true,
		"id":    claims.UserID,
		"email": claims.Email(),
		"role":  claims.Role,
	})
}

func (s *Server) handleGetSelf(w http.ResponseWriter, r *http.Request) {
	identity := authz.IdentityFromContext(r.Context())
	user, err := s.store.GetUserByID(r.Context(), identity.UserID)
	if err != nil {
		web.WriteError(w, http.StatusNotFound, "user_not_found")
		return
	}
	web.WriteJSON(w, http.StatusOK, mapUserInfo(user))
}

type updateRequest struct {
	Email     *string `json:"email,omitempty"`
	Password  *string `json:"password,omitempty"`
	FirstName *string `json:"firstName,omitempty"`
	LastName  *string `json:"lastName,omitempty"`
}

func (s *Server) handleUpdateSelf(w http.ResponseWriter, r *http.Request) {
	identity := authz.IdentityFromContext(r.Context())

	var req updateRequest
	if err := web.DecodeJSON(r, &req); err != nil {
		web.WriteError(w, http.StatusBadRequest, "invalid_request")
		return
	}

	update := repository.UserUpdate{
		Email:     req.Email,
		FirstName: req.FirstName,
		LastName:  req.LastName,
	}
	if req.Password != nil && strings.TrimSpace(*req.Password) != "" {
		hash, err := crypto.HashPassword(*req.Password, s.cfg.BcryptCost)
		if err != nil {
			web.WriteError(w, http.StatusInternalServerError, "password_hash_failed")
			return
		}
		update.PasswordHash = &hash
	}

	user, err := s.store.UpdateUser(r.Context(), identity.UserID, update)
	if err != nil {
		switch {
		case errors.Is(err, repository.ErrDuplicateEmail):
			web.WriteError(w, http.StatusBadRequest, "email_taken")
		case errors.Is(err, repository.ErrNotFound):
			web.WriteError(w, http.StatusNotFound, "user_not_found")
		default:
			web.WriteError(w, http.StatusInternalServerError, "server_error")
		}
		return
	}

	web.WriteJSON(w, http.StatusOK, mapUserInfo(user))
}

func (s *Server) handleDeleteSelf(w http.ResponseWriter, r *http.Request) {
	identity := authz.IdentityFromContext(r.Context())
	if err := s.store.DeleteUser(r.Context(), identity.UserID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			web.WriteError(w, http.StatusNotFound, "user_not_found")
			return
		}
		web.WriteError(w, http.StatusInternalServerError, "server_error")
		return
	}
	web.WriteJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func (s *Server) handleListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := s.store.ListUsers(r.Context())
	if err != nil {
		web.WriteError(w, http.StatusInternalServerError, "server_error")
		return
	}

	infos := make([]userInfo, 0, len(users))
	for _, user := range users {
		infos = append(infos, mapUserInfo(user))
	}
	web.WriteJSON(w, http.StatusOK, infos)
}

func (s *Server) handleGetUserByID(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		web.WriteError(w, http.StatusBadRequest, "invalid_user_id")
		return
	}

	user, err := s.store.GetUserByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			web.WriteError(w, http.StatusNotFound, "user_not_found")
			return
		}
		web.WriteError(w, http.StatusInternalServerError, "server_error")
		return
	}
	web.WriteJSON(w, http.StatusOK, mapUserInfo(user))
}
