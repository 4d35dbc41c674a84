package handler

import (
	"net/http"
	"strings"

	"github.com/Shivanand-hulikatti/layergate/internal/apperr"
	"github.com/Shivanand-hulikatti/layergate/internal/model"
)

// CreateEvent handles POST /events
func (h *Handler) CreateEvent(w http.ResponseWriter, r *http.Request) {
	if _, err := actor(r); err != nil {
		h.writeError(w, r, err)
		return
	}
	var req model.CreateEventRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}

	event, err := h.events.Create(r.Context(), req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, event)
}

// ListEvents handles GET /events
func (h *Handler) ListEvents(w http.ResponseWriter, r *http.Request) {
	uid, err := optionalUserID(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	views, err := h.events.List(r.Context(), uid)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, views)
}

// GetEvent handles GET /events/{id}
// The response only carries the fields the caller may currently see.
func (h *Handler) GetEvent(w http.ResponseWriter, r *http.Request) {
	eventID, err := pathID(r, "id")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	uid, err := optionalUserID(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	view, err := h.events.Detail(r.Context(), eventID, uid)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// RequestAdmission handles POST /events/{id}/admission
func (h *Handler) RequestAdmission(w http.ResponseWriter, r *http.Request) {
	eventID, err := pathID(r, "id")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	uid, err := userID(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	pass, err := h.admission.RequestAdmission(r.Context(), uid, eventID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, pass)
}

// CancelAdmission handles DELETE /events/{id}/admission
func (h *Handler) CancelAdmission(w http.ResponseWriter, r *http.Request) {
	eventID, err := pathID(r, "id")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	uid, err := userID(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	rel, err := h.admission.CancelAdmission(r.Context(), uid, eventID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rel.Pass)
}

type accessRequestBody struct {
	Note string `json:"note"`
}

// SubmitAccessRequest handles POST /events/{id}/requests
func (h *Handler) SubmitAccessRequest(w http.ResponseWriter, r *http.Request) {
	eventID, err := pathID(r, "id")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	uid, err := userID(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	var body accessRequestBody
	if r.ContentLength != 0 {
		if err := decodeJSON(w, r, &body); err != nil {
			h.writeError(w, r, err)
			return
		}
	}
	req, err := h.admission.SubmitAccessRequest(r.Context(), uid, eventID, body.Note)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, req)
}

// Capacity handles GET /events/{id}/capacity
func (h *Handler) Capacity(w http.ResponseWriter, r *http.Request) {
	eventID, err := pathID(r, "id")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	info, err := h.admission.CapacityInfo(r.Context(), eventID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

type checkInBody struct {
	Code             string `json:"code"`
	Payload          string `json:"payload"`
	ReputationPoints int    `json:"reputation_points"`
}

// CheckIn handles POST /events/{id}/checkin
// Exactly one of code or payload identifies the pass.
func (h *Handler) CheckIn(w http.ResponseWriter, r *http.Request) {
	eventID, err := pathID(r, "id")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if _, err := actor(r); err != nil {
		h.writeError(w, r, err)
		return
	}
	var body checkInBody
	if err := decodeJSON(w, r, &body); err != nil {
		h.writeError(w, r, err)
		return
	}

	hasCode, hasPayload := strings.TrimSpace(body.Code) != "", strings.TrimSpace(body.Payload) != ""
	var res model.CheckInResult
	switch {
	case hasCode == hasPayload:
		err = apperr.New(apperr.CodeInvalidInput, "provide exactly one of code or payload")
	case hasCode:
		res, err = h.admission.CheckIn(r.Context(), body.Code, eventID, body.ReputationPoints)
	default:
		res, err = h.admission.CheckInPayload(r.Context(), body.Payload, eventID, body.ReputationPoints)
	}
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// MemberProgress handles GET /members/me/progress
func (h *Handler) MemberProgress(w http.ResponseWriter, r *http.Request) {
	uid, err := userID(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	p, err := h.members.Progress(r.Context(), uid)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}
