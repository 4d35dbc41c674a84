package model

import (
	"time"

	"github.com/google/uuid"

	"github.com/Shivanand-hulikatti/layergate/internal/apperr"
)

// PassStatus is the lifecycle state of an EventPass.
type PassStatus string

const (
	PassClaimed    PassStatus = "claimed"
	PassWaitlisted PassStatus = "waitlisted"
	PassUsed       PassStatus = "used"
	PassRevoked    PassStatus = "revoked"
	PassCancelled  PassStatus = "cancelled"
)

// PassStatuses lists every status.
var PassStatuses = []PassStatus{PassClaimed, PassWaitlisted, PassUsed, PassRevoked, PassCancelled}

// Valid reports whether s is a known status.
func (s PassStatus) Valid() bool {
	switch s {
	case PassClaimed, PassWaitlisted, PassUsed, PassRevoked, PassCancelled:
		return true
	}
	return false
}

// Active reports whether a pass in s still counts toward the one-pass rule.
func (s PassStatus) Active() bool {
	return s != PassCancelled && s != PassRevoked
}

// HoldsSlot reports whether a pass in s consumes a confirmed slot.
func (s PassStatus) HoldsSlot() bool {
	return s == PassClaimed || s == PassUsed
}

// EventPass is a user's admission record for one event.
type EventPass struct {
	ID          uuid.UUID  `json:"id"`
	UserID      uuid.UUID  `json:"user_id"`
	EventID     uuid.UUID  `json:"event_id"`
	Status      PassStatus `json:"status"`
	ScanCode    string     `json:"scan_code"`
	ScanPayload string     `json:"scan_payload"`
	// WaitlistPosition is set iff Status is PassWaitlisted.
	WaitlistPosition *int       `json:"waitlist_position,omitempty"`
	CheckedInAt      *time.Time `json:"checked_in_at,omitempty"`
	RevokedReason    *string    `json:"revoked_reason,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

// Cancel moves a claimed or waitlisted pass to cancelled.
func (p EventPass) Cancel(now time.Time) (EventPass, error) {
	switch p.Status {
	case PassClaimed, PassWaitlisted:
	default:
		return p, apperr.New(apperr.CodeCancelNotAllowed, "only claimed or waitlisted passes can be cancelled",
			apperr.WithDetail("status", string(p.Status)))
	}
	p.Status = PassCancelled
	p.WaitlistPosition = nil
	p.UpdatedAt = now
	return p, nil
}

// CheckIn marks a claimed pass as used.
func (p EventPass) CheckIn(now time.Time) (EventPass, error) {
	switch p.Status {
	case PassClaimed:
	case PassUsed:
		opts := []apperr.Option{}
		if p.CheckedInAt != nil {
			opts = append(opts, apperr.WithDetail("checked_in_at", p.CheckedInAt.UTC().Format(time.RFC3339)))
		}
		return p, apperr.New(apperr.CodeAlreadyCheckedIn, "pass already checked in", opts...)
	case PassRevoked:
		reason := ""
		if p.RevokedReason != nil {
			reason = *p.RevokedReason
		}
		return p, apperr.New(apperr.CodePassRevoked, "pass has been revoked", apperr.WithDetail("reason", reason))
	default:
		return p, apperr.New(apperr.CodePassNotClaimed, "pass is not claimed",
			apperr.WithDetail("status", string(p.Status)))
	}
	t := now
	p.Status = PassUsed
	p.CheckedInAt = &t
	p.UpdatedAt = now
	return p, nil
}

// Revoke withdraws a claimed or waitlisted pass.
func (p EventPass) Revoke(reason string, now time.Time) (EventPass, error) {
	switch p.Status {
	case PassClaimed, PassWaitlisted:
	case PassRevoked:
		return p, apperr.New(apperr.CodePassRevoked, "pass already revoked")
	default:
		return p, apperr.New(apperr.CodePassNotClaimed, "pass is no longer active",
			apperr.WithDetail("status", string(p.Status)))
	}
	p.Status = PassRevoked
	p.RevokedReason = &reason
	p.WaitlistPosition = nil
	p.UpdatedAt = now
	return p, nil
}

// Promote moves a waitlisted pass into a confirmed slot.
func (p EventPass) Promote(now time.Time) (EventPass, error) {
	if p.Status != PassWaitlisted {
		return p, apperr.New(apperr.CodeNotPending, "only waitlisted passes can be promoted",
			apperr.WithDetail("status", string(p.Status)))
	}
	p.Status = PassClaimed
	p.WaitlistPosition = nil
	p.UpdatedAt = now
	return p, nil
}

// CheckInResult is what an operator sees after a successful scan.
type CheckInResult struct {
	Pass             EventPass `json:"pass"`
	ReputationPoints int       `json:"reputation_points"`
}

// RequestStatus is the state of a discretionary access request.
type RequestStatus string

const (
	RequestPending  RequestStatus = "pending"
	RequestApproved RequestStatus = "approved"
	RequestDenied   RequestStatus = "denied"
)

// AccessRequest is a softer precursor to admission, used when an event
// requires review.
type AccessRequest struct {
	ID        uuid.UUID     `json:"id"`
	UserID    uuid.UUID     `json:"user_id"`
	EventID   uuid.UUID     `json:"event_id"`
	Status    RequestStatus `json:"status"`
	Note      string        `json:"note,omitempty"`
	DecidedBy *string       `json:"decided_by,omitempty"`
	DecidedAt *time.Time    `json:"decided_at,omitempty"`
	Reason    *string       `json:"reason,omitempty"`
	CreatedAt time.Time     `json:"created_at"`
}

// Decide moves a pending request to approved or denied.
func (r AccessRequest) Decide(approve bool, actor, reason string, now time.Time) (AccessRequest, error) {
	if r.Status != RequestPending {
		return r, apperr.New(apperr.CodeNotPending, "request is not pending",
			apperr.WithDetail("status", string(r.Status)))
	}
	r.Status = RequestDenied
	if approve {
		r.Status = RequestApproved
	}
	t := now
	r.DecidedBy = &actor
	r.DecidedAt = &t
	if reason != "" {
		r.Reason = &reason
	}
	return r, nil
}
