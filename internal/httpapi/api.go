// Package httpapi serves the REST endpoints the conflict checker reads from
// and saves through.
package httpapi

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/haasonsaas/tandem/internal/auth"
	"github.com/haasonsaas/tandem/internal/observability"
	"github.com/haasonsaas/tandem/internal/store"
	"github.com/haasonsaas/tandem/pkg/models"
)

const maxBodyBytes = 1 << 20

// Config wires the API to its collaborators.
type Config struct {
	Store   store.Store
	Auth    *auth.Service
	Logger  *slog.Logger
	Metrics *observability.Metrics
}

// API serves /api/*.
type API struct {
	store   store.Store
	auth    *auth.Service
	logger  *slog.Logger
	metrics *observability.Metrics
}

func New(cfg Config) (*API, error) {
	if cfg.Store == nil {
		return nil, errors.New("httpapi: store is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &API{
		store:   cfg.Store,
		auth:    cfg.Auth,
		logger:  cfg.Logger.With("component", "httpapi"),
		metrics: cfg.Metrics,
	}, nil
}

// Handler returns the authenticated, instrumented route table.
func (a *API) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/resources/{type}/{id}", a.handleGetResource)
	mux.HandleFunc("GET /api/resources/{type}/{id}/last-modified-by", a.handleLastModifiedBy)
	mux.HandleFunc("PUT /api/resources/{type}/{id}", a.handleSaveResource)
	mux.HandleFunc("POST /api/tokens", a.handleIssueToken)
	return a.instrument(auth.HTTPMiddleware(a.auth, a.logger)(mux), mux)
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// instrument records request latency labelled by the matched route pattern.
func (a *API) instrument(next http.Handler, mux *http.ServeMux) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		_, route := mux.Handler(r)
		if route == "" {
			route = "unmatched"
		}
		a.metrics.RecordHTTPRequest(r.Method, route, strconv.Itoa(rec.status), time.Since(start).Seconds())
	})
}

func (a *API) handleGetResource(w http.ResponseWriter, r *http.Request) {
	res, err := a.store.Get(r.Context(), r.PathValue("type"), r.PathValue("id"))
	if err != nil {
		a.writeStoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (a *API) handleLastModifiedBy(w http.ResponseWriter, r *http.Request) {
	user, err := a.store.LastModifiedBy(r.Context(), r.PathValue("type"), r.PathValue("id"))
	if err != nil {
		a.writeStoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, user.Ref())
}

type saveRequest struct {
	Name string         `json:"name"`
	Data map[string]any `json:"data"`
}

func (a *API) handleSaveResource(w http.ResponseWriter, r *http.Request) {
	var req saveRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Data == nil {
		writeError(w, http.StatusBadRequest, "data is required")
		return
	}
	resource := &models.Resource{
		Type: r.PathValue("type"),
		ID:   r.PathValue("id"),
		Name: strings.TrimSpace(req.Name),
		Data: req.Data,
	}
	if user, ok := auth.UserFromContext(r.Context()); ok {
		resource.UpdatedBy = user.ID
	}
	if resource.Name == "" {
		if prev, err := a.store.Get(r.Context(), resource.Type, resource.ID); err == nil {
			resource.Name = prev.Name
		}
	}
	saved, err := a.store.Save(r.Context(), resource)
	if err != nil {
		a.writeStoreError(w, r, err)
		return
	}
	a.logger.Info("resource saved", "resource", models.ResourceKey(saved.Type, saved.ID), "revision", saved.Revision, "user_id", saved.UpdatedBy)
	writeJSON(w, http.StatusOK, saved)
}

type tokenRequest struct {
	UserID string `json:"user_id"`
	Email  string `json:"email"`
	Name   string `json:"name"`
}

type tokenResponse struct {
	Token string      `json:"token"`
	User  models.User `json:"user"`
}

// handleIssueToken mints a session token for a user, registering the user
// first. Only API-key callers may mint tokens.
func (a *API) handleIssueToken(w http.ResponseWriter, r *http.Request) {
	caller, ok := auth.UserFromContext(r.Context())
	if !ok || !a.isAPIKeyCaller(r) {
		writeError(w, http.StatusForbidden, "api key required")
		return
	}
	var req tokenRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	user := &models.User{
		ID:    strings.TrimSpace(req.UserID),
		Email: strings.TrimSpace(req.Email),
		Name:  strings.TrimSpace(req.Name),
	}
	if user.ID == "" {
		writeError(w, http.StatusBadRequest, "user_id is required")
		return
	}
	if err := a.store.UpsertUser(r.Context(), user); err != nil {
		a.writeStoreError(w, r, err)
		return
	}
	token, err := a.auth.GenerateJWT(user)
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	a.logger.Info("token issued", "user_id", user.ID, "issued_by", caller.ID)
	writeJSON(w, http.StatusCreated, tokenResponse{Token: token, User: user.Ref()})
}

func (a *API) isAPIKeyCaller(r *http.Request) bool {
	_, err := a.auth.ValidateAPIKey(auth.TokenFromRequest(r))
	return err == nil
}

func (a *API) writeStoreError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, "not found")
	case errors.Is(err, store.ErrInvalidResource):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		a.logger.Error("store request failed", "path", r.URL.Path, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func decodeJSON(w http.ResponseWriter, r *http.Request, out any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	return dec.Decode(out)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v) //nolint:errcheck
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
