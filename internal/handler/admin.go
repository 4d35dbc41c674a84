package handler

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/Shivanand-hulikatti/layergate/internal/apperr"
	"github.com/Shivanand-hulikatti/layergate/internal/model"
	"github.com/Shivanand-hulikatti/layergate/internal/service"
	"github.com/Shivanand-hulikatti/layergate/internal/tier"
)

type createInviteBody struct {
	DefaultTier tier.Tier `json:"default_tier"`
	MaxUses     int       `json:"max_uses"`
	// ExpiresIn is a Go duration such as "72h"; empty never expires.
	ExpiresIn string `json:"expires_in"`
}

// CreateInvite handles POST /admin/invites
func (h *Handler) CreateInvite(w http.ResponseWriter, r *http.Request) {
	who, err := actor(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	var body createInviteBody
	if err := decodeJSON(w, r, &body); err != nil {
		h.writeError(w, r, err)
		return
	}
	var expiresIn time.Duration
	if body.ExpiresIn != "" {
		if expiresIn, err = time.ParseDuration(body.ExpiresIn); err != nil {
			h.writeError(w, r, apperr.New(apperr.CodeInvalidInput, "expires_in must be a duration like 72h"))
			return
		}
	}
	inv, err := h.cipher.CreateInvite(r.Context(), service.CreateInviteInput{
		DefaultTier: body.DefaultTier,
		MaxUses:     body.MaxUses,
		ExpiresIn:   expiresIn,
		Actor:       who,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, inv)
}

// ListInvites handles GET /admin/invites
func (h *Handler) ListInvites(w http.ResponseWriter, r *http.Request) {
	invites, err := h.cipher.ListInvites(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, invites)
}

// RevokeInvite handles DELETE /admin/invites/{code}
func (h *Handler) RevokeInvite(w http.ResponseWriter, r *http.Request) {
	who, err := actor(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if err := h.cipher.RevokeInvite(r.Context(), chi.URLParam(r, "code"), who); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// UnlockCipher handles POST /admin/cipher/{userID}/unlock
func (h *Handler) UnlockCipher(w http.ResponseWriter, r *http.Request) {
	who, err := actor(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	uid, err := pathID(r, "userID")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if err := h.cipher.Unlock(r.Context(), uid, who); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type tierBody struct {
	Tier tier.Tier `json:"tier"`
}

// SetMemberTier handles POST /admin/cipher/{userID}/tier
func (h *Handler) SetMemberTier(w http.ResponseWriter, r *http.Request) {
	who, err := actor(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	uid, err := pathID(r, "userID")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	var body tierBody
	if err := decodeJSON(w, r, &body); err != nil {
		h.writeError(w, r, err)
		return
	}
	cred, err := h.cipher.SetBaseTier(r.Context(), uid, body.Tier, who)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, cred)
}

// CipherAudit handles GET /admin/cipher/audit?user_id=&limit=
func (h *Handler) CipherAudit(w http.ResponseWriter, r *http.Request) {
	var q model.AuditQuery
	if raw := r.URL.Query().Get("user_id"); raw != "" {
		uid, err := uuid.Parse(raw)
		if err != nil {
			h.writeError(w, r, apperr.New(apperr.CodeInvalidInput, "user_id must be a UUID"))
			return
		}
		q.UserID = &uid
	}
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			h.writeError(w, r, apperr.New(apperr.CodeInvalidInput, "limit must be a number"))
			return
		}
		q.Limit = n
	}
	entries, err := h.cipher.AuditLog(r.Context(), q)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

type revokeBody struct {
	Reason string `json:"reason"`
}

// RevokePass handles POST /admin/passes/{id}/revoke
func (h *Handler) RevokePass(w http.ResponseWriter, r *http.Request) {
	who, err := actor(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	passID, err := pathID(r, "id")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	var body revokeBody
	if err := decodeJSON(w, r, &body); err != nil {
		h.writeError(w, r, err)
		return
	}
	rel, err := h.admission.RevokePass(r.Context(), passID, body.Reason, who)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rel)
}

type bulkBody struct {
	IDs     []uuid.UUID `json:"ids"`
	ActorID string      `json:"actor_id"`
	Reason  string      `json:"reason"`
}

// ApproveRequests handles POST /admin/requests/approve
func (h *Handler) ApproveRequests(w http.ResponseWriter, r *http.Request) {
	h.bulkDecide(w, r, true)
}

// DenyRequests handles POST /admin/requests/deny
func (h *Handler) DenyRequests(w http.ResponseWriter, r *http.Request) {
	h.bulkDecide(w, r, false)
}

// bulkDecide takes the actor from the body, falling back to the header.
func (h *Handler) bulkDecide(w http.ResponseWriter, r *http.Request, approve bool) {
	var body bulkBody
	if err := decodeJSON(w, r, &body); err != nil {
		h.writeError(w, r, err)
		return
	}
	who := strings.TrimSpace(body.ActorID)
	if who == "" {
		var err error
		if who, err = actor(r); err != nil {
			h.writeError(w, r, err)
			return
		}
	}
	res, err := h.admission.BulkDecide(r.Context(), service.BulkDecision{
		IDs:     body.IDs,
		Approve: approve,
		Actor:   who,
		Reason:  body.Reason,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// EventStats handles GET /admin/events/{id}/stats
func (h *Handler) EventStats(w http.ResponseWriter, r *http.Request) {
	eventID, err := pathID(r, "id")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	stats, err := h.admission.EventStats(r.Context(), eventID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// Waitlist handles GET /admin/events/{id}/waitlist
func (h *Handler) Waitlist(w http.ResponseWriter, r *http.Request) {
	eventID, err := pathID(r, "id")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	queue, err := h.admission.Waitlist(r.Context(), eventID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, queue)
}
