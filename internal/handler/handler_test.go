package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Shivanand-hulikatti/layergate/internal/apperr"
	"github.com/Shivanand-hulikatti/layergate/internal/cipher"
	"github.com/Shivanand-hulikatti/layergate/internal/notify"
	"github.com/Shivanand-hulikatti/layergate/internal/passcode"
	"github.com/Shivanand-hulikatti/layergate/internal/ratelimit"
	"github.com/Shivanand-hulikatti/layergate/internal/repository"
	"github.com/Shivanand-hulikatti/layergate/internal/service"
)

var fixedNow = time.Date(2026, 10, 16, 9, 30, 0, 0, time.UTC)

type testAPI struct {
	srv    http.Handler
	store  *repository.MemoryStore
	policy cipher.Policy
}

func newTestAPI(t *testing.T, recoveryLimit int) *testAPI {
	t.Helper()
	log := zap.NewNop()
	now := func() time.Time { return fixedNow }
	store := repository.NewMemoryStore()
	policy := cipher.DefaultPolicy()
	sealer, err := cipher.NewSealer("handler-test-key")
	require.NoError(t, err)

	members := service.NewMemberService(store, store)
	h := New(Services{
		Events:    service.NewEventService(store, store, members, 24*time.Hour, log, service.WithClock(now)),
		Admission: service.NewAdmissionService(store, store, store, members, passcode.NewSigner("k"), notify.NewLog(log), log, service.WithClock(now)),
		Cipher:    service.NewCipherService(store, policy, sealer, log, service.WithClock(now)),
		Members:   members,
		Store:     store,
	}, log)

	return &testAPI{
		srv:    h.Router(ratelimit.NewMemory(recoveryLimit, time.Hour)),
		store:  store,
		policy: policy,
	}
}

type call struct {
	method  string
	path    string
	body    any
	user    uuid.UUID
	device  string
	actorID string
}

func (a *testAPI) do(t *testing.T, c call) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if c.body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(c.body))
	}
	req := httptest.NewRequest(c.method, c.path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if c.user != uuid.Nil {
		req.Header.Set(HeaderUserID, c.user.String())
	}
	if c.device != "" {
		req.Header.Set(HeaderDevice, c.device)
	}
	if c.actorID != "" {
		req.Header.Set(HeaderActor, c.actorID)
	}
	rec := httptest.NewRecorder()
	a.srv.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

type envelope struct {
	Error struct {
		Code    apperr.Code       `json:"code"`
		Message string            `json:"message"`
		Details map[string]string `json:"details"`
	} `json:"error"`
}

func requireError(t *testing.T, rec *httptest.ResponseRecorder, status int, code apperr.Code) envelope {
	t.Helper()
	require.Equal(t, status, rec.Code, rec.Body.String())
	env := decode[envelope](t, rec)
	require.Equal(t, code, env.Error.Code)
	return env
}

// enroll drives a user through invite, start and verify over HTTP and
// returns the one-time secret and recovery codes.
func (a *testAPI) enroll(t *testing.T, userID uuid.UUID, callSign, dev string) service.Enrollment {
	t.Helper()
	rec := a.do(t, call{method: http.MethodPost, path: "/admin/invites", actorID: "ops",
		body: map[string]any{"default_tier": "INITIATE", "max_uses": 1, "expires_in": "72h"}})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	invite := decode[struct {
		Code string `json:"code"`
	}](t, rec).Code

	rec = a.do(t, call{method: http.MethodGet, path: "/invites/" + invite})
	require.Equal(t, http.StatusOK, rec.Code)
	require.True(t, decode[struct {
		Valid bool `json:"valid"`
	}](t, rec).Valid)

	rec = a.do(t, call{method: http.MethodPost, path: "/cipher/enrollment", user: userID, device: dev,
		body: map[string]string{"invite_code": invite, "call_sign": callSign}})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	require.Equal(t, "no-store", rec.Header().Get("Cache-Control"))
	enr := decode[service.Enrollment](t, rec)

	rec = a.do(t, call{method: http.MethodPost, path: "/cipher/enrollment/verify", user: userID,
		body: map[string]string{"code": a.code(t, enr.Secret)}})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	return enr
}

func (a *testAPI) code(t *testing.T, secret string) string {
	t.Helper()
	c, err := a.policy.Code(secret, fixedNow)
	require.NoError(t, err)
	return c
}

func TestHealthCheck(t *testing.T) {
	api := newTestAPI(t, 5)
	rec := api.do(t, call{method: http.MethodGet, path: "/health"})
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestHealthCheckReportsStoreFailure(t *testing.T) {
	h := New(Services{Store: failingPinger{}}, zap.NewNop())
	rec := httptest.NewRecorder()
	h.HealthCheck(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

type failingPinger struct{}

func (failingPinger) Ping(context.Context) error { return errors.New("dial tcp: connection refused") }

func TestCipherFlowOverHTTP(t *testing.T) {
	api := newTestAPI(t, 5)
	userID := uuid.New()
	enr := api.enroll(t, userID, "wire_walker", "laptop")

	rec := api.do(t, call{method: http.MethodPost, path: "/cipher/verify", user: userID, device: "laptop",
		body: map[string]string{"code": api.code(t, enr.Secret)}})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = api.do(t, call{method: http.MethodPost, path: "/cipher/verify", user: userID, device: "tablet",
		body: map[string]string{"code": api.code(t, enr.Secret)}})
	requireError(t, rec, http.StatusUnauthorized, apperr.CodeNewDeviceDetected)

	rec = api.do(t, call{method: http.MethodPost, path: "/cipher/verify", user: userID, device: "laptop",
		body: map[string]string{"code": "12345"}})
	requireError(t, rec, http.StatusBadRequest, apperr.CodeInvalidCodeFormat)

	rec = api.do(t, call{method: http.MethodPost, path: "/cipher/recover", user: userID, device: "tablet",
		body: map[string]string{"recovery_code": enr.RecoveryCodes[3]}})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = api.do(t, call{method: http.MethodGet, path: "/cipher/status", user: userID, device: "tablet"})
	require.Equal(t, http.StatusOK, rec.Code)
	st := decode[map[string]any](t, rec)
	require.Equal(t, "ACTIVE", st["state"])
	require.Equal(t, "TRUSTED_DEVICE", st["condition"])
	require.NotContains(t, rec.Body.String(), enr.Secret)

	rec = api.do(t, call{method: http.MethodPost, path: "/cipher/recovery-codes", user: userID, device: "tablet",
		body: map[string]string{"code": api.code(t, enr.Secret)}})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	codes := decode[map[string][]string](t, rec)["recovery_codes"]
	require.Len(t, codes, api.policy.RecoveryCodes)
}

func TestLockoutMapsTo429(t *testing.T) {
	api := newTestAPI(t, 5)
	userID := uuid.New()
	enr := api.enroll(t, userID, "hammer", "laptop")
	good := api.code(t, enr.Secret)
	wrong := "000000"
	if good == wrong {
		wrong = "111111"
	}

	var rec *httptest.ResponseRecorder
	for range api.policy.MaxFailedAttempts {
		rec = api.do(t, call{method: http.MethodPost, path: "/cipher/verify", user: userID, device: "laptop",
			body: map[string]string{"code": wrong}})
	}
	env := requireError(t, rec, http.StatusTooManyRequests, apperr.CodeAccountLocked)
	require.NotEmpty(t, env.Error.Details["locked_until"])

	rec = api.do(t, call{method: http.MethodPost, path: "/admin/cipher/" + userID.String() + "/unlock", actorID: "ops"})
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = api.do(t, call{method: http.MethodPost, path: "/cipher/verify", user: userID, device: "laptop",
		body: map[string]string{"code": good}})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
}

func TestAdminCipherRoutes(t *testing.T) {
	api := newTestAPI(t, 5)
	userID := uuid.New()
	api.enroll(t, userID, "promoted", "laptop")

	rec := api.do(t, call{method: http.MethodGet, path: "/admin/invites"})
	requireError(t, rec, http.StatusUnauthorized, apperr.CodeUnauthenticated)

	rec = api.do(t, call{method: http.MethodGet, path: "/admin/invites", actorID: "ops"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	invites := decode[[]struct {
		Code string `json:"code"`
		Uses int    `json:"uses"`
	}](t, rec)
	require.Len(t, invites, 1)
	require.Equal(t, 1, invites[0].Uses)

	tierPath := "/admin/cipher/" + userID.String() + "/tier"
	rec = api.do(t, call{method: http.MethodPost, path: tierPath, actorID: "ops", body: map[string]string{"tier": "ROYALTY"}})
	requireError(t, rec, http.StatusBadRequest, apperr.CodeInvalidInput)

	rec = api.do(t, call{method: http.MethodPost, path: tierPath, actorID: "ops", body: map[string]string{"tier": "MEMBER"}})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.Equal(t, "MEMBER", decode[struct {
		BaseTier string `json:"base_tier"`
	}](t, rec).BaseTier)

	rec = api.do(t, call{method: http.MethodGet, path: "/admin/cipher/audit?user_id=" + userID.String(), actorID: "ops"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	entries := decode[[]struct {
		Action  string            `json:"action"`
		Actor   string            `json:"actor"`
		Details map[string]string `json:"details"`
	}](t, rec)
	require.Len(t, entries, 2)
	require.Equal(t, "tier_changed", entries[0].Action)
	require.Equal(t, "ops", entries[0].Actor)
	require.Equal(t, "MEMBER", entries[0].Details["to"])
	require.Equal(t, "enrollment_completed", entries[1].Action)

	rec = api.do(t, call{method: http.MethodGet, path: "/admin/cipher/audit?limit=lots", actorID: "ops"})
	requireError(t, rec, http.StatusBadRequest, apperr.CodeInvalidInput)
}

func TestRecoveryIsRateLimited(t *testing.T) {
	api := newTestAPI(t, 2)
	userID := uuid.New()
	body := map[string]string{"recovery_code": "ABCD-EF01"}

	for range 2 {
		rec := api.do(t, call{method: http.MethodPost, path: "/cipher/recover", user: userID, device: "x", body: body})
		requireError(t, rec, http.StatusUnauthorized, apperr.CodeInvalidRecoveryCode)
	}
	rec := api.do(t, call{method: http.MethodPost, path: "/cipher/recover", user: userID, device: "x", body: body})
	requireError(t, rec, http.StatusTooManyRequests, apperr.CodeRateLimited)

	// Other users have their own budget.
	rec = api.do(t, call{method: http.MethodPost, path: "/cipher/recover", user: uuid.New(), device: "x", body: body})
	requireError(t, rec, http.StatusUnauthorized, apperr.CodeInvalidRecoveryCode)
}

func TestIdentityRequired(t *testing.T) {
	api := newTestAPI(t, 5)

	rec := api.do(t, call{method: http.MethodGet, path: "/cipher/status"})
	requireError(t, rec, http.StatusUnauthorized, apperr.CodeUnauthenticated)

	rec = api.do(t, call{method: http.MethodGet, path: "/admin/events/" + uuid.NewString() + "/stats"})
	requireError(t, rec, http.StatusUnauthorized, apperr.CodeUnauthenticated)
}

func TestEventAdmissionOverHTTP(t *testing.T) {
	api := newTestAPI(t, 5)

	rec := api.do(t, call{method: http.MethodPost, path: "/events", actorID: "ops", body: map[string]any{
		"name":          "Basement Show",
		"city":          "Mumbai",
		"area":          "Bandra",
		"venue_name":    "Unit 4",
		"venue_address": "4 Lower Road",
		"starts_at":     fixedNow.Add(30 * 24 * time.Hour).Format(time.RFC3339),
		"capacity":      1,
		"required_tier": "OUTSIDE",
	}})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	eventID := decode[struct {
		ID uuid.UUID `json:"id"`
	}](t, rec).ID

	rec = api.do(t, call{method: http.MethodPost, path: "/events", actorID: "ops", body: map[string]any{"name": ""}})
	requireError(t, rec, http.StatusBadRequest, apperr.CodeInvalidInput)

	first, second := uuid.New(), uuid.New()
	rec = api.do(t, call{method: http.MethodPost, path: "/events/" + eventID.String() + "/admission", user: first})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	require.Equal(t, "claimed", decode[map[string]any](t, rec)["status"])

	rec = api.do(t, call{method: http.MethodPost, path: "/events/" + eventID.String() + "/admission", user: first})
	requireError(t, rec, http.StatusConflict, apperr.CodeAlreadyAdmitted)

	rec = api.do(t, call{method: http.MethodPost, path: "/events/" + eventID.String() + "/admission", user: second})
	require.Equal(t, http.StatusCreated, rec.Code)
	require.EqualValues(t, 1, decode[map[string]any](t, rec)["waitlist_position"])

	rec = api.do(t, call{method: http.MethodGet, path: "/events/" + eventID.String(), user: first})
	require.Equal(t, http.StatusOK, rec.Code)
	view := decode[map[string]any](t, rec)
	require.Equal(t, "TEASE", view["reveal"].(map[string]any)["state"])
	require.NotContains(t, view, "venue_address")
	require.NotContains(t, view, "starts_at")
	require.NotNil(t, view["pass"])

	rec = api.do(t, call{method: http.MethodDelete, path: "/events/" + eventID.String() + "/admission", user: first})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = api.do(t, call{method: http.MethodGet, path: "/admin/events/" + eventID.String() + "/stats", actorID: "ops"})
	require.Equal(t, http.StatusOK, rec.Code)
	stats := decode[map[string]any](t, rec)
	byStatus := stats["by_status"].(map[string]any)
	require.EqualValues(t, 1, byStatus["claimed"])
	require.EqualValues(t, 1, byStatus["cancelled"])
	require.EqualValues(t, 0, byStatus["waitlisted"])

	rec = api.do(t, call{method: http.MethodGet, path: "/events/not-a-uuid/capacity"})
	requireError(t, rec, http.StatusBadRequest, apperr.CodeInvalidInput)

	rec = api.do(t, call{method: http.MethodGet, path: "/events/" + uuid.NewString()})
	requireError(t, rec, http.StatusNotFound, apperr.CodeEventNotFound)
}

func TestCheckInOverHTTP(t *testing.T) {
	api := newTestAPI(t, 5)
	rec := api.do(t, call{method: http.MethodPost, path: "/events", actorID: "ops", body: map[string]any{
		"name": "Gallery", "city": "Delhi", "starts_at": fixedNow.Add(time.Hour).Format(time.RFC3339),
		"required_tier": "OUTSIDE", "reputation_points": 15,
	}})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	eventID := decode[struct {
		ID uuid.UUID `json:"id"`
	}](t, rec).ID
	path := "/events/" + eventID.String()

	rec = api.do(t, call{method: http.MethodPost, path: path + "/admission", user: uuid.New()})
	require.Equal(t, http.StatusCreated, rec.Code)
	pass := decode[struct {
		ScanCode    string `json:"scan_code"`
		ScanPayload string `json:"scan_payload"`
	}](t, rec)

	rec = api.do(t, call{method: http.MethodPost, path: path + "/checkin", actorID: "door",
		body: map[string]any{"code": pass.ScanCode, "payload": pass.ScanPayload}})
	requireError(t, rec, http.StatusBadRequest, apperr.CodeInvalidInput)

	rec = api.do(t, call{method: http.MethodPost, path: path + "/checkin", actorID: "door",
		body: map[string]any{"payload": pass.ScanPayload}})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.EqualValues(t, 15, decode[map[string]any](t, rec)["reputation_points"])

	rec = api.do(t, call{method: http.MethodPost, path: path + "/checkin", actorID: "door",
		body: map[string]any{"code": pass.ScanCode}})
	requireError(t, rec, http.StatusConflict, apperr.CodeAlreadyCheckedIn)
}

func TestBulkDecisionOverHTTP(t *testing.T) {
	api := newTestAPI(t, 5)
	rec := api.do(t, call{method: http.MethodPost, path: "/events", actorID: "ops", body: map[string]any{
		"name": "Salon", "city": "Goa", "starts_at": fixedNow.Add(72 * time.Hour).Format(time.RFC3339),
		"required_tier": "OUTSIDE", "requires_review": true,
	}})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	eventID := decode[struct {
		ID uuid.UUID `json:"id"`
	}](t, rec).ID

	rec = api.do(t, call{method: http.MethodPost, path: "/events/" + eventID.String() + "/admission", user: uuid.New()})
	requireError(t, rec, http.StatusConflict, apperr.CodeReviewRequired)

	rec = api.do(t, call{method: http.MethodPost, path: "/events/" + eventID.String() + "/requests", user: uuid.New(),
		body: map[string]string{"note": "friend of the host"}})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	reqID := decode[struct {
		ID uuid.UUID `json:"id"`
	}](t, rec).ID

	rec = api.do(t, call{method: http.MethodPost, path: "/admin/requests/approve", actorID: "ops",
		body: map[string]any{"ids": []uuid.UUID{reqID, uuid.New()}, "actor_id": "curator"}})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	res := decode[struct {
		Succeeded int `json:"succeeded"`
		Failed    int `json:"failed"`
	}](t, rec)
	require.Equal(t, 1, res.Succeeded)
	require.Equal(t, 1, res.Failed)
}

func TestStatusFor(t *testing.T) {
	cases := map[apperr.Code]int{
		apperr.CodeInvalidInput:     http.StatusBadRequest,
		apperr.CodeInvalidCode:      http.StatusUnauthorized,
		apperr.CodeAccountLocked:    http.StatusTooManyRequests,
		apperr.CodeRateLimited:      http.StatusTooManyRequests,
		apperr.CodeInsufficientTier: http.StatusForbidden,
		apperr.CodePassNotFound:     http.StatusNotFound,
		apperr.CodeEventStarted:     http.StatusConflict,
		apperr.CodeTransientFailure: http.StatusServiceUnavailable,
	}
	for code, status := range cases {
		require.Equal(t, status, statusFor(apperr.New(code, "x")), code)
	}
}
