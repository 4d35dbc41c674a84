package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Shivanand-hulikatti/layergate/internal/apperr"
	"github.com/Shivanand-hulikatti/layergate/internal/logger"
	"github.com/Shivanand-hulikatti/layergate/internal/model"
	"github.com/Shivanand-hulikatti/layergate/internal/notify"
	"github.com/Shivanand-hulikatti/layergate/internal/passcode"
	"github.com/Shivanand-hulikatti/layergate/internal/repository"
	"github.com/Shivanand-hulikatti/layergate/internal/tier"
)

// AdmissionService issues passes under capacity and runs the waitlist.
type AdmissionService struct {
	events   EventStore
	passes   PassStore
	requests RequestStore
	tiers    TierSource
	signer   *passcode.Signer
	notifier notify.Dispatcher
	log      *zap.Logger
	now      func() time.Time
}

func NewAdmissionService(
	events EventStore,
	passes PassStore,
	requests RequestStore,
	tiers TierSource,
	signer *passcode.Signer,
	notifier notify.Dispatcher,
	log *zap.Logger,
	opts ...Option,
) *AdmissionService {
	o := buildOptions(opts)
	return &AdmissionService{
		events:   events,
		passes:   passes,
		requests: requests,
		tiers:    tiers,
		signer:   signer,
		notifier: notifier,
		log:      log.Named("admission"),
		now:      o.now,
	}
}

// mint produces a fresh scan code and the signed payload for one pass.
func (s *AdmissionService) mint(passID, userID, eventID uuid.UUID, issuedAt time.Time) (string, string, error) {
	code, err := passcode.NewCode()
	if err != nil {
		return "", "", err
	}
	payload, err := s.signer.Sign(passcode.Binding{PassID: passID, UserID: userID, EventID: eventID, IssuedAt: issuedAt})
	if err != nil {
		return "", "", err
	}
	return code, payload, nil
}

func (s *AdmissionService) event(ctx context.Context, id uuid.UUID) (model.Event, error) {
	return readOnce(ctx, func(ctx context.Context) (model.Event, error) {
		return s.events.GetEvent(ctx, id)
	})
}

func (s *AdmissionService) checkTier(ctx context.Context, userID uuid.UUID, e model.Event) error {
	t, err := s.tiers.EffectiveTier(ctx, userID)
	if err != nil {
		return err
	}
	if !t.AtLeast(e.RequiredTier) {
		return apperr.New(apperr.CodeInsufficientTier, "your tier does not unlock this event",
			apperr.WithDetail("required_tier", e.RequiredTier.String()),
			apperr.WithDetail("current_tier", t.String()),
		)
	}
	return nil
}

// RequestAdmission issues a claimed pass while capacity remains and a
// waitlisted pass after that. Events that require review reject direct
// admission.
func (s *AdmissionService) RequestAdmission(ctx context.Context, userID, eventID uuid.UUID) (model.EventPass, error) {
	e, err := s.event(ctx, eventID)
	if err != nil {
		return model.EventPass{}, err
	}
	if err := s.checkTier(ctx, userID, e); err != nil {
		return model.EventPass{}, err
	}
	if e.RequiresReview {
		return model.EventPass{}, apperr.New(apperr.CodeReviewRequired, "this event requires an access request")
	}

	pass, err := s.passes.Admit(ctx, repository.AdmitParams{UserID: userID, EventID: eventID, Now: s.now(), Mint: s.mint})
	if err != nil {
		return model.EventPass{}, apperr.Normalize(err)
	}

	s.log.Info("admission issued",
		zap.String("user_id", userID.String()),
		zap.String("event_id", eventID.String()),
		zap.String("status", string(pass.Status)),
	)
	s.notifyAdmission(ctx, e, pass)
	return pass, nil
}

func (s *AdmissionService) notifyAdmission(ctx context.Context, e model.Event, pass model.EventPass) {
	n := notify.Notification{UserID: pass.UserID}
	switch pass.Status {
	case model.PassWaitlisted:
		n.Kind = notify.KindWaitlisted
		n.Title = "You're on the waitlist"
		n.Body = fmt.Sprintf("%s is full. You are number %d on the waitlist.", e.Name, *pass.WaitlistPosition)
	default:
		n.Kind = notify.KindAdmitted
		n.Title = "You're in"
		n.Body = fmt.Sprintf("Your pass for %s is ready.", e.Name)
	}
	s.dispatch(ctx, n)
}

func (s *AdmissionService) notifyPromotion(ctx context.Context, eventID uuid.UUID, promoted *model.EventPass) {
	if promoted == nil {
		return
	}
	name := "the event"
	if e, err := s.event(ctx, eventID); err == nil {
		name = e.Name
	}
	s.dispatch(ctx, notify.Notification{
		UserID: promoted.UserID,
		Kind:   notify.KindPromoted,
		Title:  "A spot opened up",
		Body:   fmt.Sprintf("You moved off the waitlist for %s. Your pass is ready.", name),
	})
}

// dispatch never fails the caller; the state change is already committed.
func (s *AdmissionService) dispatch(ctx context.Context, n notify.Notification) {
	if err := s.notifier.Dispatch(ctx, n); err != nil {
		s.log.Warn("notification failed",
			zap.String("user_id", n.UserID.String()),
			zap.String("kind", string(n.Kind)),
			zap.Error(err),
		)
	}
}

// CancelAdmission cancels the caller's pass before the event starts. A
// freed confirmed slot goes to the head of the waitlist in the same unit.
func (s *AdmissionService) CancelAdmission(ctx context.Context, userID, eventID uuid.UUID) (repository.Release, error) {
	rel, err := s.passes.Cancel(ctx, userID, eventID, s.now())
	if err != nil {
		return repository.Release{}, apperr.Normalize(err)
	}
	s.log.Info("admission cancelled",
		zap.String("user_id", userID.String()),
		zap.String("event_id", eventID.String()),
		zap.Bool("promoted", rel.Promoted != nil),
	)
	s.notifyPromotion(ctx, eventID, rel.Promoted)
	return rel, nil
}

// RevokePass withdraws a pass for operator reasons.
func (s *AdmissionService) RevokePass(ctx context.Context, passID uuid.UUID, reason, actor string) (repository.Release, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return repository.Release{}, apperr.New(apperr.CodeInvalidInput, "reason is required")
	}
	if strings.TrimSpace(actor) == "" {
		return repository.Release{}, apperr.New(apperr.CodeInvalidInput, "actor is required")
	}
	rel, err := s.passes.Revoke(ctx, passID, reason, s.now())
	if err != nil {
		return repository.Release{}, apperr.Normalize(err)
	}
	logger.Audit(s.log, "pass_revoked").Info("pass revoked",
		zap.String("pass_id", passID.String()),
		zap.String("actor", actor),
		zap.String("reason", reason),
	)
	s.notifyPromotion(ctx, rel.Pass.EventID, rel.Promoted)
	return rel, nil
}

// CheckIn redeems a pass by its short scan code.
func (s *AdmissionService) CheckIn(ctx context.Context, code string, eventID uuid.UUID, points int) (model.CheckInResult, error) {
	code = passcode.Normalize(code)
	if code == "" {
		return model.CheckInResult{}, apperr.New(apperr.CodeInvalidInput, "code is required")
	}
	return s.checkIn(ctx, repository.PassKey{Code: code}, eventID, points)
}

// CheckInPayload redeems a pass by its signed optical payload.
func (s *AdmissionService) CheckInPayload(ctx context.Context, payload string, eventID uuid.UUID, points int) (model.CheckInResult, error) {
	b, err := s.signer.Verify(strings.TrimSpace(payload), s.now())
	if err != nil {
		return model.CheckInResult{}, apperr.New(apperr.CodeInvalidPassPayload, "pass payload could not be verified", apperr.WithErr(err))
	}
	if b.EventID != eventID {
		return model.CheckInResult{}, apperr.New(apperr.CodeWrongEvent, "pass belongs to a different event")
	}
	return s.checkIn(ctx, repository.PassKey{ID: b.PassID}, eventID, points)
}

// checkIn awards points, or the event's default when points is zero.
func (s *AdmissionService) checkIn(ctx context.Context, key repository.PassKey, eventID uuid.UUID, points int) (model.CheckInResult, error) {
	if points < 0 {
		return model.CheckInResult{}, apperr.New(apperr.CodeInvalidInput, "reputation points cannot be negative")
	}
	if points == 0 {
		e, err := s.event(ctx, eventID)
		if err != nil {
			return model.CheckInResult{}, err
		}
		points = e.ReputationPoints
	}

	pass, err := s.passes.CheckIn(ctx, key, eventID, s.now())
	if err != nil {
		return model.CheckInResult{}, apperr.Normalize(err)
	}
	s.log.Info("checked in",
		zap.String("pass_id", pass.ID.String()),
		zap.String("event_id", eventID.String()),
		zap.Int("reputation_points", points),
	)
	return model.CheckInResult{Pass: pass, ReputationPoints: points}, nil
}

// SubmitAccessRequest files a pending request for a review-only event.
func (s *AdmissionService) SubmitAccessRequest(ctx context.Context, userID, eventID uuid.UUID, note string) (model.AccessRequest, error) {
	e, err := s.event(ctx, eventID)
	if err != nil {
		return model.AccessRequest{}, err
	}
	if err := s.checkTier(ctx, userID, e); err != nil {
		return model.AccessRequest{}, err
	}
	if !e.RequiresReview {
		return model.AccessRequest{}, apperr.New(apperr.CodeInvalidInput, "this event admits directly, no request needed")
	}

	existing, err := readOnce(ctx, func(ctx context.Context) (*model.EventPass, error) {
		return s.passes.ActivePass(ctx, userID, eventID)
	})
	if err != nil {
		return model.AccessRequest{}, err
	}
	if existing != nil {
		return model.AccessRequest{}, apperr.New(apperr.CodeAlreadyAdmitted, "already holding a pass for this event")
	}

	req := model.AccessRequest{
		ID:        uuid.New(),
		UserID:    userID,
		EventID:   eventID,
		Status:    model.RequestPending,
		Note:      strings.TrimSpace(note),
		CreatedAt: s.now(),
	}
	if err := s.requests.CreateRequest(ctx, req); err != nil {
		return model.AccessRequest{}, apperr.Normalize(err)
	}
	return req, nil
}

// BulkDecision is an operator's batch approve or deny.
type BulkDecision struct {
	IDs     []uuid.UUID
	Approve bool
	Actor   string
	Reason  string
}

// BulkDecide processes each request independently; one failure never
// aborts the rest of the batch.
func (s *AdmissionService) BulkDecide(ctx context.Context, d BulkDecision) (model.BulkResult, error) {
	if len(d.IDs) == 0 {
		return model.BulkResult{}, apperr.New(apperr.CodeInvalidInput, "ids are required")
	}
	if strings.TrimSpace(d.Actor) == "" {
		return model.BulkResult{}, apperr.New(apperr.CodeInvalidInput, "actor is required")
	}

	res := model.BulkResult{Errors: []model.BulkError{}}
	for _, id := range d.IDs {
		req, pass, err := s.requests.Decide(ctx, repository.Decision{
			RequestID: id,
			Approve:   d.Approve,
			Actor:     d.Actor,
			Reason:    strings.TrimSpace(d.Reason),
			Now:       s.now(),
			Mint:      s.mint,
		})
		if err != nil {
			res.Fail(id, failureReason(err))
			continue
		}
		res.Succeeded++
		s.notifyDecision(ctx, req, pass)
	}

	action := "requests_denied"
	if d.Approve {
		action = "requests_approved"
	}
	logger.Audit(s.log, action).Info("bulk decision",
		zap.String("actor", d.Actor),
		zap.Int("succeeded", res.Succeeded),
		zap.Int("failed", res.Failed),
	)
	return res, nil
}

func failureReason(err error) string {
	e, _ := apperr.As(apperr.Normalize(err))
	return e.Message
}

func (s *AdmissionService) notifyDecision(ctx context.Context, req model.AccessRequest, pass *model.EventPass) {
	name := "the event"
	if e, err := s.event(ctx, req.EventID); err == nil {
		name = e.Name
	}
	n := notify.Notification{UserID: req.UserID}
	if req.Status == model.RequestDenied {
		n.Kind = notify.KindDenied
		n.Title = "Request declined"
		n.Body = fmt.Sprintf("Your request for %s was not approved.", name)
		if req.Reason != nil {
			n.Body += " " + *req.Reason
		}
		s.dispatch(ctx, n)
		return
	}
	n.Kind = notify.KindApproved
	n.Title = "Request approved"
	n.Body = fmt.Sprintf("Your request for %s was approved.", name)
	if pass != nil && pass.Status == model.PassWaitlisted {
		n.Body += fmt.Sprintf(" The event is full; you are number %d on the waitlist.", *pass.WaitlistPosition)
	}
	s.dispatch(ctx, n)
}

// CapacityInfo derives the event's current capacity state.
func (s *AdmissionService) CapacityInfo(ctx context.Context, eventID uuid.UUID) (model.CapacityInfo, error) {
	e, err := s.event(ctx, eventID)
	if err != nil {
		return model.CapacityInfo{}, err
	}
	counts, err := readOnce(ctx, func(ctx context.Context) (map[model.PassStatus]int, error) {
		return s.passes.PassCounts(ctx, eventID)
	})
	if err != nil {
		return model.CapacityInfo{}, err
	}
	return capacityFrom(e, counts), nil
}

func capacityFrom(e model.Event, counts map[model.PassStatus]int) model.CapacityInfo {
	return model.NewCapacityInfo(e.Capacity, counts[model.PassClaimed]+counts[model.PassUsed], counts[model.PassWaitlisted])
}

// EventStats reports pass counts per status and pending requests.
func (s *AdmissionService) EventStats(ctx context.Context, eventID uuid.UUID) (model.EventStats, error) {
	e, err := s.event(ctx, eventID)
	if err != nil {
		return model.EventStats{}, err
	}
	counts, err := readOnce(ctx, func(ctx context.Context) (map[model.PassStatus]int, error) {
		return s.passes.PassCounts(ctx, eventID)
	})
	if err != nil {
		return model.EventStats{}, err
	}
	pending, err := readOnce(ctx, func(ctx context.Context) (int, error) {
		return s.requests.PendingRequests(ctx, eventID)
	})
	if err != nil {
		return model.EventStats{}, err
	}
	return model.EventStats{
		EventID:         eventID,
		ByStatus:        counts,
		PendingRequests: pending,
		Capacity:        capacityFrom(e, counts),
	}, nil
}

// Waitlist returns the event's waitlisted passes in position order.
func (s *AdmissionService) Waitlist(ctx context.Context, eventID uuid.UUID) ([]model.EventPass, error) {
	all, err := readOnce(ctx, func(ctx context.Context) ([]model.EventPass, error) {
		return s.passes.ListPasses(ctx, eventID)
	})
	if err != nil {
		return nil, err
	}
	queue := []model.EventPass{}
	for _, p := range all {
		if p.Status == model.PassWaitlisted {
			queue = append(queue, p)
		}
	}
	return queue, nil
}

var _ TierSource = (*MemberService)(nil)

// tierOrOutside is used where a tier lookup failure should not block a
// read-only view.
func tierOrOutside(ctx context.Context, src TierSource, userID uuid.UUID) tier.Tier {
	if userID == uuid.Nil {
		return tier.Outside
	}
	t, err := src.EffectiveTier(ctx, userID)
	if err != nil {
		return tier.Outside
	}
	return t
}
