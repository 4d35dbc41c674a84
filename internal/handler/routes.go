package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/Shivanand-hulikatti/layergate/internal/ratelimit"
)

// requireActor rejects admin calls that carry no operator identity.
func (h *Handler) requireActor(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, err := actor(r); err != nil {
			h.writeError(w, r, err)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Router builds the full API. recovery throttles the recovery-code route.
func (h *Handler) Router(recovery ratelimit.Limiter) http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(Logger(h.log))
	r.Use(CORS)

	r.Get("/health", h.HealthCheck)
	r.Get("/invites/{code}", h.ValidateInvite)

	r.Route("/cipher", func(r chi.Router) {
		r.Post("/enrollment", h.StartEnrollment)
		r.Post("/enrollment/verify", h.VerifyEnrollment)
		r.Post("/verify", h.Verify)
		r.With(h.RateLimit(recovery)).Post("/recover", h.Recover)
		r.Post("/recovery-codes", h.RegenerateRecoveryCodes)
		r.Get("/status", h.CipherStatus)
	})

	r.Get("/members/me/progress", h.MemberProgress)

	r.Route("/events", func(r chi.Router) {
		r.Post("/", h.CreateEvent)
		r.Get("/", h.ListEvents)
		r.Get("/{id}", h.GetEvent)
		r.Post("/{id}/admission", h.RequestAdmission)
		r.Delete("/{id}/admission", h.CancelAdmission)
		r.Post("/{id}/requests", h.SubmitAccessRequest)
		r.Get("/{id}/capacity", h.Capacity)
		r.Post("/{id}/checkin", h.CheckIn)
	})

	r.Route("/admin", func(r chi.Router) {
		r.Use(h.requireActor)
		r.Get("/invites", h.ListInvites)
		r.Post("/invites", h.CreateInvite)
		r.Delete("/invites/{code}", h.RevokeInvite)
		r.Get("/cipher/audit", h.CipherAudit)
		r.Post("/cipher/{userID}/unlock", h.UnlockCipher)
		r.Post("/cipher/{userID}/tier", h.SetMemberTier)
		r.Post("/passes/{id}/revoke", h.RevokePass)
		r.Post("/requests/approve", h.ApproveRequests)
		r.Post("/requests/deny", h.DenyRequests)
		r.Get("/events/{id}/stats", h.EventStats)
		r.Get("/events/{id}/waitlist", h.Waitlist)
	})

	return r
}
