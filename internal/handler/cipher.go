package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/Shivanand-hulikatti/layergate/internal/service"
)

// ValidateInvite handles GET /invites/{code}
func (h *Handler) ValidateInvite(w http.ResponseWriter, r *http.Request) {
	check, err := h.cipher.ValidateInvite(r.Context(), chi.URLParam(r, "code"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, check)
}

type startEnrollmentBody struct {
	InviteCode string `json:"invite_code"`
	CallSign   string `json:"call_sign"`
}

// StartEnrollment handles POST /cipher/enrollment
// The secret and recovery codes in the response are shown exactly once.
func (h *Handler) StartEnrollment(w http.ResponseWriter, r *http.Request) {
	uid, err := userID(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	var body startEnrollmentBody
	if err := decodeJSON(w, r, &body); err != nil {
		h.writeError(w, r, err)
		return
	}
	enr, err := h.cipher.StartEnrollment(r.Context(), service.StartEnrollmentInput{
		UserID:     uid,
		InviteCode: body.InviteCode,
		CallSign:   body.CallSign,
		Device:     device(r),
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	w.Header().Set("Cache-Control", "no-store")
	writeJSON(w, http.StatusCreated, enr)
}

type codeBody struct {
	Code string `json:"code"`
}

// VerifyEnrollment handles POST /cipher/enrollment/verify
func (h *Handler) VerifyEnrollment(w http.ResponseWriter, r *http.Request) {
	uid, err := userID(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	var body codeBody
	if err := decodeJSON(w, r, &body); err != nil {
		h.writeError(w, r, err)
		return
	}
	res, err := h.cipher.VerifyEnrollment(r.Context(), uid, body.Code)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// Verify handles POST /cipher/verify
func (h *Handler) Verify(w http.ResponseWriter, r *http.Request) {
	uid, err := userID(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	var body codeBody
	if err := decodeJSON(w, r, &body); err != nil {
		h.writeError(w, r, err)
		return
	}
	res, err := h.cipher.Verify(r.Context(), uid, body.Code, device(r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

type recoverBody struct {
	RecoveryCode string `json:"recovery_code"`
}

// Recover handles POST /cipher/recover
func (h *Handler) Recover(w http.ResponseWriter, r *http.Request) {
	uid, err := userID(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	var body recoverBody
	if err := decodeJSON(w, r, &body); err != nil {
		h.writeError(w, r, err)
		return
	}
	res, err := h.cipher.RedeemRecoveryCode(r.Context(), uid, body.RecoveryCode, device(r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// RegenerateRecoveryCodes handles POST /cipher/recovery-codes
func (h *Handler) RegenerateRecoveryCodes(w http.ResponseWriter, r *http.Request) {
	uid, err := userID(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	var body codeBody
	if err := decodeJSON(w, r, &body); err != nil {
		h.writeError(w, r, err)
		return
	}
	codes, err := h.cipher.RegenerateRecoveryCodes(r.Context(), uid, body.Code, device(r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	w.Header().Set("Cache-Control", "no-store")
	writeJSON(w, http.StatusOK, map[string][]string{"recovery_codes": codes})
}

// CipherStatus handles GET /cipher/status
func (h *Handler) CipherStatus(w http.ResponseWriter, r *http.Request) {
	uid, err := userID(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	st, err := h.cipher.Status(r.Context(), uid, device(r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}
