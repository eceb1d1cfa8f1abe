package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/ignatzorin/msme-escrow/internal/domain/valueobject"
	"github.com/ignatzorin/msme-escrow/internal/gateway"
	"github.com/ignatzorin/msme-escrow/internal/http/middleware"
	"github.com/ignatzorin/msme-escrow/internal/models"
	"github.com/ignatzorin/msme-escrow/internal/service"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// withActor подставляет пользователя так же, как AuthMiddleware.
func withActor(actor service.Actor) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Set(middleware.ContextUserIDKey, actor.ID)
		c.Set(middleware.ContextRoleKey, actor.Role)
		c.Set(middleware.ContextActorKey, actor)
		c.Next()
	}
}

func doJSON(t *testing.T, r http.Handler, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		switch b := body.(type) {
		case string:
			buf.WriteString(b)
		default:
			require.NoError(t, json.NewEncoder(&buf).Encode(b))
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder, out interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), out))
}

type mockJobs struct{ mock.Mock }

func (m *mockJobs) CreateJob(ctx context.Context, in service.CreateJobInput) (*models.Job, error) {
	args := m.Called(ctx, in)
	job, _ := args.Get(0).(*models.Job)
	return job, args.Error(1)
}

func (m *mockJobs) Get(ctx context.Context, jobID uuid.UUID, actor service.Actor) (*models.Job, error) {
	args := m.Called(ctx, jobID, actor)
	job, _ := args.Get(0).(*models.Job)
	return job, args.Error(1)
}

func (m *mockJobs) ListMine(ctx context.Context, actor service.Actor, limit, offset int) ([]models.Job, error) {
	args := m.Called(ctx, actor, limit, offset)
	jobs, _ := args.Get(0).([]models.Job)
	return jobs, args.Error(1)
}

func (m *mockJobs) ListOpen(ctx context.Context, limit, offset int) ([]models.Job, error) {
	args := m.Called(ctx, limit, offset)
	jobs, _ := args.Get(0).([]models.Job)
	return jobs, args.Error(1)
}

func (m *mockJobs) SubmitWork(ctx context.Context, jobID, professionalID uuid.UUID, deliverableRef string) (*models.Job, error) {
	args := m.Called(ctx, jobID, professionalID, deliverableRef)
	job, _ := args.Get(0).(*models.Job)
	return job, args.Error(1)
}

func (m *mockJobs) ApproveAndRelease(ctx context.Context, jobID, clientID uuid.UUID) (*service.ReleaseResult, error) {
	args := m.Called(ctx, jobID, clientID)
	res, _ := args.Get(0).(*service.ReleaseResult)
	return res, args.Error(1)
}

func (m *mockJobs) AdminApprove(ctx context.Context, jobID uuid.UUID, actor service.Actor) (*models.Job, error) {
	args := m.Called(ctx, jobID, actor)
	job, _ := args.Get(0).(*models.Job)
	return job, args.Error(1)
}

func (m *mockJobs) RaiseDispute(ctx context.Context, jobID, requesterID uuid.UUID, reason string) (*models.Dispute, error) {
	args := m.Called(ctx, jobID, requesterID, reason)
	d, _ := args.Get(0).(*models.Dispute)
	return d, args.Error(1)
}

func (m *mockJobs) RetryPayment(ctx context.Context, jobID, clientID uuid.UUID) (*models.Job, error) {
	args := m.Called(ctx, jobID, clientID)
	job, _ := args.Get(0).(*models.Job)
	return job, args.Error(1)
}

func (m *mockJobs) CancelJob(ctx context.Context, jobID, clientID uuid.UUID) (*models.Job, error) {
	args := m.Called(ctx, jobID, clientID)
	job, _ := args.Get(0).(*models.Job)
	return job, args.Error(1)
}

func (m *mockJobs) PaymentHistory(ctx context.Context, jobID uuid.UUID, actor service.Actor) ([]models.EscrowTransaction, error) {
	args := m.Called(ctx, jobID, actor)
	txs, _ := args.Get(0).([]models.EscrowTransaction)
	return txs, args.Error(1)
}

type mockApplications struct{ mock.Mock }

func (m *mockApplications) Submit(ctx context.Context, in service.SubmitApplicationInput) (*models.Application, error) {
	args := m.Called(ctx, in)
	app, _ := args.Get(0).(*models.Application)
	return app, args.Error(1)
}

func (m *mockApplications) Withdraw(ctx context.Context, applicationID, requesterID uuid.UUID) (*models.Application, error) {
	args := m.Called(ctx, applicationID, requesterID)
	app, _ := args.Get(0).(*models.Application)
	return app, args.Error(1)
}

func (m *mockApplications) Decide(ctx context.Context, applicationID uuid.UUID, decision valueobject.ApplicationStatus, requesterID uuid.UUID) (*service.DecisionResult, error) {
	args := m.Called(ctx, applicationID, decision, requesterID)
	res, _ := args.Get(0).(*service.DecisionResult)
	return res, args.Error(1)
}

func (m *mockApplications) Get(ctx context.Context, applicationID uuid.UUID, actor service.Actor) (*models.Application, error) {
	args := m.Called(ctx, applicationID, actor)
	app, _ := args.Get(0).(*models.Application)
	return app, args.Error(1)
}

func (m *mockApplications) ListForJob(ctx context.Context, jobID uuid.UUID, actor service.Actor) ([]models.Application, error) {
	args := m.Called(ctx, jobID, actor)
	apps, _ := args.Get(0).([]models.Application)
	return apps, args.Error(1)
}

type mockDisputes struct{ mock.Mock }

func (m *mockDisputes) Resolve(ctx context.Context, disputeID uuid.UUID, actor service.Actor, outcome valueobject.DisputeOutcome, notes string) (*service.ResolveDisputeResult, error) {
	args := m.Called(ctx, disputeID, actor, outcome, notes)
	res, _ := args.Get(0).(*service.ResolveDisputeResult)
	return res, args.Error(1)
}

func (m *mockDisputes) MarkInvestigating(ctx context.Context, disputeID uuid.UUID, actor service.Actor, notes string) (*models.Dispute, error) {
	args := m.Called(ctx, disputeID, actor, notes)
	d, _ := args.Get(0).(*models.Dispute)
	return d, args.Error(1)
}

func (m *mockDisputes) AddEvidence(ctx context.Context, disputeID uuid.UUID, actor service.Actor, ref string) (*models.Dispute, error) {
	args := m.Called(ctx, disputeID, actor, ref)
	d, _ := args.Get(0).(*models.Dispute)
	return d, args.Error(1)
}

func (m *mockDisputes) Get(ctx context.Context, disputeID uuid.UUID, actor service.Actor) (*models.Dispute, error) {
	args := m.Called(ctx, disputeID, actor)
	d, _ := args.Get(0).(*models.Dispute)
	return d, args.Error(1)
}

func (m *mockDisputes) ActiveForJob(ctx context.Context, jobID uuid.UUID, actor service.Actor) (*models.Dispute, error) {
	args := m.Called(ctx, jobID, actor)
	d, _ := args.Get(0).(*models.Dispute)
	return d, args.Error(1)
}

func (m *mockDisputes) ListOpen(ctx context.Context, actor service.Actor, limit, offset int) ([]models.Dispute, error) {
	args := m.Called(ctx, actor, limit, offset)
	ds, _ := args.Get(0).([]models.Dispute)
	return ds, args.Error(1)
}

type mockReconciler struct{ mock.Mock }

func (m *mockReconciler) Reconcile(ctx context.Context, in service.CallbackInput) service.CallbackOutcome {
	args := m.Called(ctx, in)
	return args.Get(0).(service.CallbackOutcome)
}

func (m *mockReconciler) Discard(ctx context.Context, raw []byte, reason error) {
	m.Called(ctx, raw, reason)
}

func (m *mockReconciler) RecordPayoutResult(ctx context.Context, res *gateway.B2CResult) {
	m.Called(ctx, res)
}

type mockNotifications struct{ mock.Mock }

func (m *mockNotifications) ListNotifications(ctx context.Context, userID uuid.UUID, limit, offset int, unreadOnly bool) ([]models.Notification, error) {
	args := m.Called(ctx, userID, limit, offset, unreadOnly)
	ns, _ := args.Get(0).([]models.Notification)
	return ns, args.Error(1)
}

func (m *mockNotifications) MarkAsRead(ctx context.Context, id, userID uuid.UUID) error {
	return m.Called(ctx, id, userID).Error(0)
}

func (m *mockNotifications) CountUnread(ctx context.Context, userID uuid.UUID) (int, error) {
	args := m.Called(ctx, userID)
	return args.Int(0), args.Error(1)
}
