package repository

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Shivanand-hulikatti/layergate/internal/apperr"
	"github.com/Shivanand-hulikatti/layergate/internal/model"
)

// MemoryStore is an in-process Store. One mutex serialises every call, so
// each method is as atomic as its transactional counterpart.
type MemoryStore struct {
	mu sync.Mutex

	events      map[uuid.UUID]model.Event
	passes      map[uuid.UUID]model.EventPass
	requests    map[uuid.UUID]model.AccessRequest
	invites     map[string]model.InviteCode
	pending     map[uuid.UUID]model.PendingEnrollment
	credentials map[uuid.UUID]model.CipherCredential
	stats       map[uuid.UUID]model.MemberStats
	audit       []model.AuditEntry
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		events:      make(map[uuid.UUID]model.Event),
		passes:      make(map[uuid.UUID]model.EventPass),
		requests:    make(map[uuid.UUID]model.AccessRequest),
		invites:     make(map[string]model.InviteCode),
		pending:     make(map[uuid.UUID]model.PendingEnrollment),
		credentials: make(map[uuid.UUID]model.CipherCredential),
		stats:       make(map[uuid.UUID]model.MemberStats),
	}
}

func (m *MemoryStore) Ping(context.Context) error { return nil }

// PutStats sets a member's stats.
func (m *MemoryStore) PutStats(userID uuid.UUID, st model.MemberStats) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stats[userID] = st
}

func (m *MemoryStore) CreateEvent(_ context.Context, e model.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.events[e.ID]; ok {
		return fmt.Errorf("insert event: duplicate id %s", e.ID)
	}
	m.events[e.ID] = e
	return nil
}

func (m *MemoryStore) ListEvents(context.Context) ([]model.Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]model.Event, 0, len(m.events))
	for _, e := range m.events {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartsAt.Before(out[j].StartsAt) })
	return out, nil
}

func (m *MemoryStore) GetEvent(_ context.Context, id uuid.UUID) (model.Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.events[id]
	if !ok {
		return model.Event{}, apperr.New(apperr.CodeEventNotFound, "event not found")
	}
	return e, nil
}

func (m *MemoryStore) Admit(_ context.Context, p AdmitParams) (model.EventPass, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.admit(p)
}

func (m *MemoryStore) admit(p AdmitParams) (model.EventPass, error) {
	e, ok := m.events[p.EventID]
	if !ok {
		return model.EventPass{}, apperr.New(apperr.CodeEventNotFound, "event not found")
	}
	if m.activePass(p.UserID, p.EventID) != nil {
		return model.EventPass{}, apperr.New(apperr.CodeAlreadyAdmitted, "already holding a pass for this event")
	}

	confirmed, waitlisted := m.counts(p.EventID)
	pass := model.EventPass{
		ID:        uuid.New(),
		UserID:    p.UserID,
		EventID:   p.EventID,
		Status:    model.PassClaimed,
		CreatedAt: p.Now,
		UpdatedAt: p.Now,
	}
	if !e.Unlimited() && confirmed >= *e.Capacity {
		pos := waitlisted + 1
		pass.Status = model.PassWaitlisted
		pass.WaitlistPosition = &pos
	}

	for i := 0; ; i++ {
		if i == maxMintAttempts {
			return model.EventPass{}, errors.New("mint pass code: too many collisions")
		}
		code, payload, err := p.Mint(pass.ID, p.UserID, p.EventID, p.Now)
		if err != nil {
			return model.EventPass{}, fmt.Errorf("mint pass code: %w", err)
		}
		if !m.codeTaken(code) {
			pass.ScanCode, pass.ScanPayload = code, payload
			break
		}
	}

	m.passes[pass.ID] = pass
	return pass, nil
}

func (m *MemoryStore) codeTaken(code string) bool {
	for _, p := range m.passes {
		if p.ScanCode == code {
			return true
		}
	}
	return false
}

func (m *MemoryStore) activePass(userID, eventID uuid.UUID) *model.EventPass {
	for _, p := range m.passes {
		if p.UserID == userID && p.EventID == eventID && p.Status.Active() {
			return &p
		}
	}
	return nil
}

func (m *MemoryStore) counts(eventID uuid.UUID) (confirmed, waitlisted int) {
	for _, p := range m.passes {
		if p.EventID != eventID {
			continue
		}
		switch {
		case p.Status.HoldsSlot():
			confirmed++
		case p.Status == model.PassWaitlisted:
			waitlisted++
		}
	}
	return confirmed, waitlisted
}

func (m *MemoryStore) Cancel(_ context.Context, userID, eventID uuid.UUID, now time.Time) (Release, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.events[eventID]
	if !ok {
		return Release{}, apperr.New(apperr.CodeEventNotFound, "event not found")
	}
	if e.Started(now) {
		return Release{}, apperr.New(apperr.CodeEventStarted, "event has already started")
	}
	pass := m.activePass(userID, eventID)
	if pass == nil {
		return Release{}, apperr.New(apperr.CodePassNotFound, "no active pass for this event")
	}
	return m.release(*pass, now, func(p model.EventPass) (model.EventPass, error) { return p.Cancel(now) })
}

func (m *MemoryStore) Revoke(_ context.Context, passID uuid.UUID, reason string, now time.Time) (Release, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	pass, ok := m.passes[passID]
	if !ok {
		return Release{}, apperr.New(apperr.CodePassNotFound, "pass not found")
	}
	return m.release(pass, now, func(p model.EventPass) (model.EventPass, error) { return p.Revoke(reason, now) })
}

func (m *MemoryStore) release(pass model.EventPass, now time.Time,
	transition func(model.EventPass) (model.EventPass, error)) (Release, error) {
	freedSlot := pass.Status.HoldsSlot()
	next, err := transition(pass)
	if err != nil {
		return Release{}, err
	}
	m.passes[next.ID] = next
	rel := Release{Pass: next}

	queue := m.waitlist(pass.EventID)
	if freedSlot && len(queue) > 0 {
		promoted, err := queue[0].Promote(now)
		if err != nil {
			return Release{}, err
		}
		m.passes[promoted.ID] = promoted
		rel.Promoted = &promoted
		queue = queue[1:]
	}
	for i, p := range queue {
		if *p.WaitlistPosition != i+1 {
			pos := i + 1
			p.WaitlistPosition = &pos
			p.UpdatedAt = now
			m.passes[p.ID] = p
		}
	}
	return rel, nil
}

func (m *MemoryStore) waitlist(eventID uuid.UUID) []model.EventPass {
	var queue []model.EventPass
	for _, p := range m.passes {
		if p.EventID == eventID && p.Status == model.PassWaitlisted {
			queue = append(queue, p)
		}
	}
	sort.Slice(queue, func(i, j int) bool {
		if *queue[i].WaitlistPosition != *queue[j].WaitlistPosition {
			return *queue[i].WaitlistPosition < *queue[j].WaitlistPosition
		}
		return queue[i].CreatedAt.Before(queue[j].CreatedAt)
	})
	return queue
}

func (m *MemoryStore) CheckIn(_ context.Context, key PassKey, eventID uuid.UUID, now time.Time) (model.EventPass, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var (
		pass  model.EventPass
		found bool
	)
	for _, p := range m.passes {
		if (key.Code != "" && p.ScanCode == key.Code) || (key.Code == "" && p.ID == key.ID) {
			pass, found = p, true
			break
		}
	}
	if !found {
		return model.EventPass{}, apperr.New(apperr.CodePassNotFound, "pass not found")
	}
	if pass.EventID != eventID {
		return model.EventPass{}, apperr.New(apperr.CodeWrongEvent, "pass belongs to a different event")
	}
	next, err := pass.CheckIn(now)
	if err != nil {
		return model.EventPass{}, err
	}
	m.passes[next.ID] = next
	return next, nil
}

func (m *MemoryStore) ActivePass(_ context.Context, userID, eventID uuid.UUID) (*model.EventPass, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.activePass(userID, eventID), nil
}

func (m *MemoryStore) ListPasses(_ context.Context, eventID uuid.UUID) ([]model.EventPass, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.EventPass
	for _, p := range m.passes {
		if p.EventID == eventID {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		pi, pj := out[i].WaitlistPosition, out[j].WaitlistPosition
		switch {
		case pi == nil && pj != nil:
			return true
		case pi != nil && pj == nil:
			return false
		case pi != nil && *pi != *pj:
			return *pi < *pj
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (m *MemoryStore) PassCounts(_ context.Context, eventID uuid.UUID) (map[model.PassStatus]int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	counts := make(map[model.PassStatus]int, len(model.PassStatuses))
	for _, st := range model.PassStatuses {
		counts[st] = 0
	}
	for _, p := range m.passes {
		if p.EventID == eventID {
			counts[p.Status]++
		}
	}
	return counts, nil
}

func (m *MemoryStore) CreateRequest(_ context.Context, r model.AccessRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.requests {
		if existing.UserID == r.UserID && existing.EventID == r.EventID &&
			(existing.Status == model.RequestPending || existing.Status == model.RequestApproved) {
			return apperr.New(apperr.CodeRequestExists, "an access request for this event already exists")
		}
	}
	m.requests[r.ID] = r
	return nil
}

func (m *MemoryStore) Decide(_ context.Context, d Decision) (model.AccessRequest, *model.EventPass, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	req, ok := m.requests[d.RequestID]
	if !ok {
		return model.AccessRequest{}, nil, apperr.New(apperr.CodeRequestNotFound, "request not found")
	}
	next, err := req.Decide(d.Approve, d.Actor, d.Reason, d.Now)
	if err != nil {
		return model.AccessRequest{}, nil, err
	}
	var pass *model.EventPass
	if d.Approve {
		p, err := m.admit(AdmitParams{UserID: req.UserID, EventID: req.EventID, Now: d.Now, Mint: d.Mint})
		if err != nil {
			return model.AccessRequest{}, nil, err
		}
		pass = &p
	}
	m.requests[next.ID] = next
	return next, pass, nil
}

func (m *MemoryStore) PendingRequests(_ context.Context, eventID uuid.UUID) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, r := range m.requests {
		if r.EventID == eventID && r.Status == model.RequestPending {
			n++
		}
	}
	return n, nil
}

func (m *MemoryStore) GetInvite(_ context.Context, code string) (model.InviteCode, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	i, ok := m.invites[code]
	if !ok {
		return model.InviteCode{}, apperr.New(apperr.CodeInviteNotFound, "invite not found")
	}
	return i, nil
}

func (m *MemoryStore) CreateInvite(_ context.Context, i model.InviteCode) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.invites[i.Code]; ok {
		return fmt.Errorf("insert invite: duplicate code %s", i.Code)
	}
	m.invites[i.Code] = i
	return nil
}

func (m *MemoryStore) ListInvites(context.Context) ([]model.InviteCode, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]model.InviteCode, 0, len(m.invites))
	for _, i := range m.invites {
		out = append(out, i)
	}
	sort.Slice(out, func(a, b int) bool {
		if !out[a].CreatedAt.Equal(out[b].CreatedAt) {
			return out[a].CreatedAt.After(out[b].CreatedAt)
		}
		return out[a].Code < out[b].Code
	})
	return out, nil
}

func (m *MemoryStore) RevokeInvite(_ context.Context, code string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	i, ok := m.invites[code]
	if !ok {
		return apperr.New(apperr.CodeInviteNotFound, "invite not found")
	}
	i.Revoked = true
	m.invites[code] = i
	return nil
}

func (m *MemoryStore) CallSignTaken(_ context.Context, callSign string, userID uuid.UUID, now time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range m.credentials {
		if strings.EqualFold(c.CallSign, callSign) {
			return true, nil
		}
	}
	for _, p := range m.pending {
		if p.UserID != userID && strings.EqualFold(p.CallSign, callSign) && !p.Expired(now) {
			return true, nil
		}
	}
	return false, nil
}

func (m *MemoryStore) SavePending(_ context.Context, p model.PendingEnrollment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p.RecoveryHashes = slices.Clone(p.RecoveryHashes)
	m.pending[p.UserID] = p
	return nil
}

func (m *MemoryStore) GetPending(_ context.Context, userID uuid.UUID) (model.PendingEnrollment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.pending[userID]
	if !ok {
		return model.PendingEnrollment{}, apperr.New(apperr.CodeEnrollmentNotStarted, "no enrollment in progress")
	}
	p.RecoveryHashes = slices.Clone(p.RecoveryHashes)
	return p, nil
}

func (m *MemoryStore) CommitEnrollment(_ context.Context, p model.PendingEnrollment, c model.CipherCredential, now time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	inv, ok := m.invites[p.InviteCode]
	if !ok || !inv.Check(now).Valid {
		return apperr.New(apperr.CodeInvalidInvite, "invite is no longer valid")
	}
	if _, ok := m.credentials[c.UserID]; ok {
		return apperr.New(apperr.CodeAlreadyEnrolled, "already enrolled")
	}
	for _, other := range m.credentials {
		if strings.EqualFold(other.CallSign, c.CallSign) {
			return apperr.New(apperr.CodeCallSignTaken, "call sign is taken")
		}
	}
	inv.Uses++
	m.invites[inv.Code] = inv
	c.RecoveryHashes = slices.Clone(c.RecoveryHashes)
	m.credentials[c.UserID] = c
	delete(m.pending, p.UserID)
	return nil
}

func (m *MemoryStore) GetCredential(_ context.Context, userID uuid.UUID) (model.CipherCredential, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.credentials[userID]
	if !ok {
		return model.CipherCredential{}, apperr.New(apperr.CodeNotEnrolled, "not enrolled")
	}
	c.RecoveryHashes = slices.Clone(c.RecoveryHashes)
	return c, nil
}

func (m *MemoryStore) UpdateCredential(_ context.Context, userID uuid.UUID, fn CredentialMutation) (model.CipherCredential, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.credentials[userID]
	if !ok {
		return model.CipherCredential{}, apperr.New(apperr.CodeNotEnrolled, "not enrolled")
	}
	cur.RecoveryHashes = slices.Clone(cur.RecoveryHashes)
	next, err := fn(cur)
	if err != nil && !recordsFailure(err) {
		return model.CipherCredential{}, err
	}
	m.credentials[userID] = next
	return next, err
}

func (m *MemoryStore) AppendAudit(_ context.Context, e model.AuditEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e.Details = maps.Clone(e.Details)
	m.audit = append(m.audit, e)
	return nil
}

// ListAudit walks the log backwards, so entries come out newest first.
func (m *MemoryStore) ListAudit(_ context.Context, q model.AuditQuery) ([]model.AuditEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.AuditEntry
	for i := len(m.audit) - 1; i >= 0 && len(out) < q.Limit; i-- {
		e := m.audit[i]
		if q.UserID != nil && e.UserID != *q.UserID {
			continue
		}
		e.Details = maps.Clone(e.Details)
		out = append(out, e)
	}
	return out, nil
}

func (m *MemoryStore) Stats(_ context.Context, userID uuid.UUID) (model.MemberStats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stats[userID], nil
}
