package router

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignatzorin/msme-escrow/internal/config"
	"github.com/ignatzorin/msme-escrow/internal/gateway"
	"github.com/ignatzorin/msme-escrow/internal/http/handlers"
	"github.com/ignatzorin/msme-escrow/internal/service"
)

type countingReconciler struct {
	reconciled int
	discarded  int
}

func (r *countingReconciler) Reconcile(context.Context, service.CallbackInput) service.CallbackOutcome {
	r.reconciled++
	return service.CallbackDiscarded
}

func (r *countingReconciler) Discard(context.Context, []byte, error) { r.discarded++ }

func (r *countingReconciler) RecordPayoutResult(context.Context, *gateway.B2CResult) {}

func setup(t *testing.T) (*gin.Engine, *service.TokenManager, *countingReconciler) {
	return setupWithCallbackLimit(t, 100)
}

func setupWithCallbackLimit(t *testing.T, callbackLimit int64) (*gin.Engine, *service.TokenManager, *countingReconciler) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	validator, err := gateway.NewValidator()
	require.NoError(t, err)
	rec := &countingReconciler{}
	tokens := service.NewTokenManager("router-test-secret-router-test-secret", time.Hour)

	cfg := &config.Config{
		Env:               "test",
		RateLimitLimit:    100,
		RateLimitPeriod:   time.Minute,
		CallbackRateLimit: callbackLimit,
	}
	r := SetupRouter(cfg, Handlers{
		Jobs:          handlers.NewJobHandler(nil),
		Applications:  handlers.NewApplicationHandler(nil),
		Disputes:      handlers.NewDisputeHandler(nil),
		Callbacks:     handlers.NewCallbackHandler(validator, rec),
		Notifications: handlers.NewNotificationHandler(nil),
		Health:        handlers.NewHealthHandler(nil, ""),
	}, tokens)
	return r, tokens, rec
}

func request(r http.Handler, method, path, token, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestRouter_ProtectedRoutesRequireToken(t *testing.T) {
	r, _, _ := setup(t)

	paths := []struct{ method, path string }{
		{http.MethodGet, "/api/jobs"},
		{http.MethodPost, "/api/jobs"},
		{http.MethodPost, "/api/applications/" + uuid.NewString() + "/decision"},
		{http.MethodGet, "/api/admin/disputes"},
		{http.MethodGet, "/api/notifications"},
	}
	for _, p := range paths {
		t.Run(p.method+" "+p.path, func(t *testing.T) {
			assert.Equal(t, http.StatusUnauthorized, request(r, p.method, p.path, "", "").Code)
		})
	}
}

func TestRouter_RoleGuards(t *testing.T) {
	r, tokens, _ := setup(t)

	clientToken, _, err := tokens.Issue(uuid.New(), service.RoleClient)
	require.NoError(t, err)
	proToken, _, err := tokens.Issue(uuid.New(), service.RoleProfessional)
	require.NoError(t, err)

	id := uuid.NewString()
	assert.Equal(t, http.StatusForbidden, request(r, http.MethodPost, "/api/admin/disputes/"+id+"/resolve", clientToken, `{"outcome":"refund"}`).Code)
	assert.Equal(t, http.StatusForbidden, request(r, http.MethodPost, "/api/admin/jobs/"+id+"/approve", proToken, "").Code)
	assert.Equal(t, http.StatusForbidden, request(r, http.MethodPost, "/api/jobs", proToken, "{}").Code)
	assert.Equal(t, http.StatusForbidden, request(r, http.MethodPost, "/api/jobs/"+id+"/applications", clientToken, "{}").Code)
	assert.Equal(t, http.StatusBadRequest, request(r, http.MethodGet, "/api/jobs/not-a-uuid", clientToken, "").Code)
}

func TestRouter_CallbackIsPublicAndAcknowledged(t *testing.T) {
	r, _, rec := setup(t)

	w := request(r, http.MethodPost, "/api/payments/callback", "", `{"Body":{}}`)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"ResultCode":0,"ResultDesc":"Accepted"}`, w.Body.String())
	assert.Equal(t, 1, rec.discarded)
	assert.Equal(t, 0, rec.reconciled)
}

func TestRouter_CallbacksOverRateAreStillAcknowledged(t *testing.T) {
	const limit = 100
	r, _, rec := setupWithCallbackLimit(t, limit)

	statuses := map[int]int{}
	for i := 0; i < limit+1; i++ {
		w := request(r, http.MethodPost, "/api/payments/callback", "", `{"Body":{}}`)
		statuses[w.Code]++
		if i == limit {
			assert.JSONEq(t, `{"ResultCode":0,"ResultDesc":"Accepted"}`, w.Body.String())
		}
	}

	assert.Equal(t, map[int]int{http.StatusOK: limit + 1}, statuses)
	assert.Equal(t, limit+1, rec.discarded)

	w := request(r, http.MethodPost, "/api/payments/b2c/result", "", `{}`)
	assert.Equal(t, http.StatusOK, w.Code)
}
