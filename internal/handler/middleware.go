package handler

import (
	"net/http"
	"time"

	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/Shivanand-hulikatti/layergate/internal/apperr"
	"github.com/Shivanand-hulikatti/layergate/internal/ratelimit"
)

// Logger is the structured access log.
func Logger(log *zap.Logger) func(http.Handler) http.Handler {
	log = log.Named("access")
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			defer func() {
				log.Info("request",
					zap.String("request_id", chimiddleware.GetReqID(r.Context())),
					zap.String("method", r.Method),
					zap.String("path", r.URL.Path),
					zap.Int("status", ww.Status()),
					zap.Int("bytes", ww.BytesWritten()),
					zap.Duration("duration", time.Since(start)),
				)
			}()
			next.ServeHTTP(ww, r)
		})
	}
}

// CORS allows browser clients on any origin to call the API.
func CORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers",
			"Content-Type, "+HeaderUserID+", "+HeaderDevice+", "+HeaderActor)
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// RateLimit throttles a route per caller. Callers without an identity are
// keyed by remote address. A limiter failure refuses the request.
func (h *Handler) RateLimit(l ratelimit.Limiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get(HeaderUserID)
			if key == "" {
				key = "addr:" + r.RemoteAddr
			}
			ok, err := l.Allow(r.Context(), key)
			if err != nil {
				h.writeError(w, r, apperr.Transient(err))
				return
			}
			if !ok {
				h.log.Warn("rate limited", zap.String("key", key), zap.String("path", r.URL.Path))
				h.writeError(w, r, apperr.New(apperr.CodeRateLimited, "too many attempts, slow down"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
