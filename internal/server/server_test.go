package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"

	"finsys/internal/config"
	"finsys/internal/database"
	"finsys/internal/models"
	"finsys/internal/payout"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const (
	testAPIKey      = "test-api-key"
	payoutGroupID   = 10
	approverGroupID = 20
	memberUserID    = 101
	approverUserID  = 202
	outsiderUserID  = 303
	blacklistedUser = 404
)

type executorStub struct {
	mu    sync.Mutex
	calls []int64
	err   error
}

func (e *executorStub) Execute(_ context.Context, userID, amount int64) (*payout.Receipt, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls = append(e.calls, userID)
	if e.err != nil {
		return nil, e.err
	}
	return &payout.Receipt{UserID: userID, Amount: amount}, nil
}

type directoryStub map[int64]map[int64]int

func (d directoryStub) RankOf(_ context.Context, groupID, userID int64) (int, error) {
	return d[userID][groupID], nil
}

type quietNotifier struct{}

func (quietNotifier) Name() string { return "quiet" }

func (quietNotifier) Notify(context.Context, models.StatusChange) error { return nil }

type testServer struct {
	app      *fiber.App
	server   *Server
	executor *executorStub
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	require.NoError(t, database.AutoMigrate(db))

	cfg := &config.Config{
		AuthenticationKey:   testAPIKey,
		MaxTransactionLimit: 100,
		PayoutGroupID:       payoutGroupID,
		FeatureFlags:        "payout_execution=on",
	}
	policy := config.NewPolicyStore(&config.Policy{
		RequesterGroups: []models.AuthorizationGroup{{GroupID: payoutGroupID, MinRank: 1}},
		ApproverGroups:  []models.AuthorizationGroup{{GroupID: approverGroupID, MinRank: 200}},
		BlacklistedIDs:  []int64{blacklistedUser},
	}, "")

	exec := &executorStub{}
	srv, err := NewServerWithDeps(cfg, db, nil, Deps{
		Policy:   policy,
		Executor: exec,
		Directory: directoryStub{
			memberUserID:   {payoutGroupID: 5},
			approverUserID: {payoutGroupID: 50, approverGroupID: 250},
		},
		Notifier: quietNotifier{},
	})
	require.NoError(t, err)

	app := fiber.New()
	srv.SetupMiddleware(app)
	srv.SetupRoutes(app)
	return &testServer{app: app, server: srv, executor: exec}
}

func (ts *testServer) do(t *testing.T, method, target string, body interface{}) (int, map[string]interface{}) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, target, reader)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-API-Key", testAPIKey)

	resp, err := ts.app.Test(req, -1)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()

	out := map[string]interface{}{}
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	if len(raw) > 0 {
		require.NoError(t, json.Unmarshal(raw, &out), string(raw))
	}
	return resp.StatusCode, out
}

func (ts *testServer) createPayout(t *testing.T, userID, amount int64) uint {
	t.Helper()
	status, body := ts.do(t, http.MethodPost, "/create-payout", fiber.Map{
		"userId": userID, "amount": amount, "reason": "event prize",
	})
	require.Equal(t, http.StatusCreated, status, body)
	return uint(body["id"].(float64))
}

func TestAPIKeyRequired(t *testing.T) {
	ts := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/pending-requests", nil)
	resp, err := ts.app.Test(req, -1)
	require.NoError(t, err)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	req = httptest.NewRequest(http.MethodGet, "/pending-requests", nil)
	req.Header.Set("X-API-Key", "wrong")
	resp, err = ts.app.Test(req, -1)
	require.NoError(t, err)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	// Health stays open for probes.
	resp, err = ts.app.Test(httptest.NewRequest(http.MethodGet, "/health/live", nil), -1)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestCreatePayout(t *testing.T) {
	ts := newTestServer(t)

	status, body := ts.do(t, http.MethodPost, "/create-payout", fiber.Map{"userId": memberUserID, "amount": 100, "reason": "prize"})
	require.Equal(t, http.StatusCreated, status)
	assert.Equal(t, true, body["success"])
	assert.NotZero(t, body["id"])

	tests := []struct {
		name     string
		body     fiber.Map
		wantCode string
	}{
		{"duplicate pending", fiber.Map{"userId": memberUserID, "amount": 5, "reason": "again"}, models.CodeDuplicatePending},
		{"above cap", fiber.Map{"userId": 555, "amount": 101, "reason": "big"}, models.CodeAmountExceedsCap},
		{"blacklisted", fiber.Map{"userId": blacklistedUser, "amount": 1, "reason": "no"}, models.CodeBlacklisted},
		{"missing reason", fiber.Map{"userId": 556, "amount": 1}, models.CodeValidation},
		{"negative amount", fiber.Map{"userId": 557, "amount": -4, "reason": "x"}, models.CodeValidation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, body := ts.do(t, http.MethodPost, "/create-payout", tt.body)
			assert.Equal(t, http.StatusBadRequest, status)
			assert.Equal(t, tt.wantCode, body["code"])
		})
	}
}

func TestUpdatePayoutStatus_Approve(t *testing.T) {
	ts := newTestServer(t)
	id := ts.createPayout(t, memberUserID, 40)

	status, body := ts.do(t, http.MethodPost, "/update-payout-status", fiber.Map{
		"requestId": id, "status": "approved", "approverId": approverUserID,
	})
	require.Equal(t, http.StatusOK, status, body)
	assert.Equal(t, "Payout request status updated to approved.", body["message"])
	assert.Equal(t, []int64{memberUserID}, ts.executor.calls)

	status, body = ts.do(t, http.MethodPost, "/update-payout-status", fiber.Map{"requestId": id, "status": "approved"})
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, models.CodeAlreadyApproved, body["code"])
	assert.Len(t, ts.executor.calls, 1)
}

func TestUpdatePayoutStatus_Errors(t *testing.T) {
	ts := newTestServer(t)
	id := ts.createPayout(t, memberUserID, 40)

	t.Run("pending is not a target", func(t *testing.T) {
		status, body := ts.do(t, http.MethodPost, "/update-payout-status", fiber.Map{"requestId": id, "status": "pending"})
		assert.Equal(t, http.StatusBadRequest, status)
		assert.Equal(t, models.CodeValidation, body["code"])
	})

	t.Run("unknown request", func(t *testing.T) {
		status, _ := ts.do(t, http.MethodPost, "/update-payout-status", fiber.Map{"requestId": 9999, "status": "rejected"})
		assert.Equal(t, http.StatusNotFound, status)
	})

	t.Run("transfer rejected keeps it pending", func(t *testing.T) {
		ts.executor.err = models.NewTransferRejectedError(400, "Insufficient Robux funds")
		defer func() { ts.executor.err = nil }()

		status, body := ts.do(t, http.MethodPost, "/update-payout-status", fiber.Map{"requestId": id, "status": "approved"})
		assert.Equal(t, http.StatusBadGateway, status)
		assert.Equal(t, models.CodeTransferRejected, body["code"])
		assert.Contains(t, body["error"], "Insufficient Robux funds")

		_, list := ts.do(t, http.MethodGet, "/pending-requests", nil)
		reqs := list["requests"].([]interface{})
		require.Len(t, reqs, 1)
		assert.Equal(t, "pending", reqs[0].(map[string]interface{})["status"])
	})

	t.Run("kill switch", func(t *testing.T) {
		status, _ := ts.do(t, http.MethodPut, "/admin/feature-flags", fiber.Map{"name": "payout_execution", "value": "off"})
		require.Equal(t, http.StatusOK, status)

		status, body := ts.do(t, http.MethodPost, "/update-payout-status", fiber.Map{"requestId": id, "status": "approved"})
		assert.Equal(t, http.StatusServiceUnavailable, status)
		assert.Equal(t, models.CodePayoutsPaused, body["code"])

		status, _ = ts.do(t, http.MethodPut, "/admin/feature-flags", fiber.Map{"name": "payout_execution", "value": "on"})
		require.Equal(t, http.StatusOK, status)
	})

	t.Run("reject", func(t *testing.T) {
		status, body := ts.do(t, http.MethodPost, "/update-payout-status", fiber.Map{
			"requestId": id, "status": "rejected", "rejectionReason": "not eligible",
		})
		require.Equal(t, http.StatusOK, status, body)

		status, body = ts.do(t, http.MethodPost, "/update-payout-status", fiber.Map{"requestId": id, "status": "approved"})
		assert.Equal(t, http.StatusConflict, status)
		assert.Equal(t, models.CodeRequestNotPending, body["code"])
	})
}

func TestGetPendingRequests(t *testing.T) {
	ts := newTestServer(t)
	ts.createPayout(t, memberUserID, 10)
	ts.createPayout(t, approverUserID, 20)

	status, body := ts.do(t, http.MethodGet, "/pending-requests", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Len(t, body["requests"], 2)

	status, body = ts.do(t, http.MethodGet, "/pending-requests?userId=101", nil)
	require.Equal(t, http.StatusOK, status)
	reqs := body["requests"].([]interface{})
	require.Len(t, reqs, 1)
	assert.Equal(t, float64(memberUserID), reqs[0].(map[string]interface{})["user_id"])

	status, body = ts.do(t, http.MethodGet, "/pending-requests?userId=303", nil)
	assert.Equal(t, http.StatusForbidden, status)
	assert.Equal(t, models.CodeForbidden, body["code"])

	status, _ = ts.do(t, http.MethodGet, "/pending-requests?userId=abc", nil)
	assert.Equal(t, http.StatusBadRequest, status)

	status, body = ts.do(t, http.MethodGet, "/pending-requests?limit=1&offset=1", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Len(t, body["requests"], 1)
}

func TestGetPermissions(t *testing.T) {
	ts := newTestServer(t)

	tests := []struct {
		userID int64
		want   models.Permissions
	}{
		{approverUserID, models.ApproverPermissions},
		{memberUserID, models.RequesterPermissions},
		{outsiderUserID, models.NoPermissions},
	}
	for _, tt := range tests {
		status, body := ts.do(t, http.MethodGet, "/permissions?userId="+strconv.FormatInt(tt.userID, 10), nil)
		require.Equal(t, http.StatusOK, status)
		assert.Equal(t, tt.want.CanView, body["canView"])
		assert.Equal(t, tt.want.CanCreate, body["canCreate"])
		assert.Equal(t, tt.want.CanEdit, body["canEdit"])
	}

	status, _ := ts.do(t, http.MethodGet, "/permissions", nil)
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestReadinessCheck(t *testing.T) {
	ts := newTestServer(t)
	resp, err := ts.app.Test(httptest.NewRequest(http.MethodGet, "/health/ready", nil), -1)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestNewServerWithDeps_RequiresPolicyAndExecutor(t *testing.T) {
	_, err := NewServerWithDeps(&config.Config{}, nil, nil, Deps{Executor: &executorStub{}})
	assert.Error(t, err)
	_, err = NewServerWithDeps(&config.Config{}, nil, nil, Deps{Policy: config.NewPolicyStore(nil, "")})
	assert.Error(t, err)
}

func TestStatusFor(t *testing.T) {
	assert.Equal(t, http.StatusBadGateway, statusFor(models.NewTransportError(assert.AnError)))
	assert.Equal(t, http.StatusRequestTimeout, statusFor(models.NewCancelledError(context.Canceled)))
	assert.Equal(t, http.StatusInternalServerError, statusFor(models.NewUnreconciledError(1, assert.AnError)))
	assert.Equal(t, http.StatusInternalServerError, statusFor(assert.AnError))
}
