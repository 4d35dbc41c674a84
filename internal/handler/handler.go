// Package handler contains chi HTTP handlers that translate HTTP
// requests/responses to and from the service layer.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Shivanand-hulikatti/layergate/internal/apperr"
	"github.com/Shivanand-hulikatti/layergate/internal/service"
)

// Identity and device headers set by the upstream auth layer.
const (
	HeaderUserID = "X-User-ID"
	HeaderDevice = "X-Device-Fingerprint"
	HeaderActor  = "X-Actor-ID"
)

// Pinger reports whether the backing store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handler holds every HTTP handler of the API.
type Handler struct {
	events    *service.EventService
	admission *service.AdmissionService
	cipher    *service.CipherService
	members   *service.MemberService
	store     Pinger
	log       *zap.Logger
}

// Services bundles the dependencies of a Handler.
type Services struct {
	Events    *service.EventService
	Admission *service.AdmissionService
	Cipher    *service.CipherService
	Members   *service.MemberService
	Store     Pinger
}

// New constructs a Handler.
func New(s Services, log *zap.Logger) *Handler {
	return &Handler{
		events:    s.Events,
		admission: s.Admission,
		cipher:    s.Cipher,
		members:   s.Members,
		store:     s.Store,
		log:       log.Named("http"),
	}
}

type errorBody struct {
	Error *apperr.Error `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError renders err in the error envelope. Anything that is not an
// *apperr.Error is reported as a transient failure.
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	e, _ := apperr.As(apperr.Normalize(err))
	status := statusFor(e)
	if status >= http.StatusInternalServerError {
		h.log.Error("request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Error(err),
		)
	}
	writeJSON(w, status, errorBody{Error: e})
}

func statusFor(e *apperr.Error) int {
	switch e.Code {
	case apperr.CodeAccountLocked, apperr.CodeRateLimited:
		return http.StatusTooManyRequests
	}
	switch e.Kind {
	case apperr.KindValidation:
		return http.StatusBadRequest
	case apperr.KindAuth:
		return http.StatusUnauthorized
	case apperr.KindForbidden:
		return http.StatusForbidden
	case apperr.KindNotFound:
		return http.StatusNotFound
	case apperr.KindConflict:
		return http.StatusConflict
	}
	return http.StatusServiceUnavailable
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20) // 1 MB limit
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return apperr.New(apperr.CodeInvalidInput, "invalid request body: "+err.Error())
	}
	return nil
}

// userID reads the caller's identity. It is required for member routes.
func userID(r *http.Request) (uuid.UUID, error) {
	raw := strings.TrimSpace(r.Header.Get(HeaderUserID))
	if raw == "" {
		return uuid.Nil, apperr.New(apperr.CodeUnauthenticated, "missing "+HeaderUserID+" header")
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, apperr.New(apperr.CodeUnauthenticated, HeaderUserID+" must be a UUID")
	}
	return id, nil
}

// optionalUserID is uuid.Nil for anonymous callers.
func optionalUserID(r *http.Request) (uuid.UUID, error) {
	if r.Header.Get(HeaderUserID) == "" {
		return uuid.Nil, nil
	}
	return userID(r)
}

func device(r *http.Request) string {
	return strings.TrimSpace(r.Header.Get(HeaderDevice))
}

// actor identifies the operator on admin routes.
func actor(r *http.Request) (string, error) {
	a := strings.TrimSpace(r.Header.Get(HeaderActor))
	if a == "" {
		return "", apperr.New(apperr.CodeUnauthenticated, "missing "+HeaderActor+" header")
	}
	return a, nil
}

func pathID(r *http.Request, name string) (uuid.UUID, error) {
	id, err := uuid.Parse(chi.URLParam(r, name))
	if err != nil {
		return uuid.Nil, apperr.New(apperr.CodeInvalidInput, name+" must be a UUID")
	}
	return id, nil
}

// HealthCheck handles GET /health
func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	if h.store != nil {
		if err := h.store.Ping(r.Context()); err != nil {
			h.writeError(w, r, apperr.Transient(errors.Join(errors.New("store unreachable"), err)))
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
