package service

import (
	"context"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/ignatzorin/msme-escrow/internal/domain/valueobject"
	"github.com/ignatzorin/msme-escrow/internal/gateway"
	"github.com/ignatzorin/msme-escrow/internal/models"
	"github.com/ignatzorin/msme-escrow/internal/pkg/apperror"
)

// disputedJob доводит заказ до спора на этапе проверки работы.
func (e *testEnv) disputedJob(checkoutID string) (*models.Job, *models.Dispute) {
	ctx := context.Background()
	job := e.held(4000, checkoutID)
	if _, err := e.jobs.SubmitWork(ctx, job.ID, e.professionalID, "ref"); err != nil {
		panic(err)
	}
	dispute, err := e.jobs.RaiseDispute(ctx, job.ID, e.clientID, "работа не соответствует описанию")
	if err != nil {
		panic(err)
	}
	return e.job(job.ID), dispute
}

func TestDisputeService_ResolveRefund(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()
	job, dispute := env.disputedJob("ws_CO_E")

	res, err := env.disputes.Resolve(ctx, dispute.ID, env.admin(), valueobject.DisputeOutcomeRefund, "исполнитель не выполнил работу")
	require.NoError(t, err)
	assert.Equal(t, valueobject.JobStatusCancelled, res.Job.Status)
	assert.Equal(t, valueobject.PaymentStatusRefunded, res.Job.PaymentStatus)
	assert.Equal(t, 0.0, res.Job.EscrowAmount)
	assert.Nil(t, res.Job.ProfessionalID, "cancelled job keeps no professional")
	assert.Equal(t, valueobject.DisputeStatusResolved, res.Dispute.Status)
	require.NotNil(t, res.Dispute.Resolution)
	assert.Equal(t, valueobject.DisputeOutcomeRefund, *res.Dispute.Resolution)
	assert.Empty(t, res.SideEffects)

	_, err = env.disputes.Resolve(ctx, dispute.ID, env.admin(), valueobject.DisputeOutcomeRefund, "")
	assert.True(t, apperror.IsNotFound(err))

	entries, err := memAudit{env.store}.ListByTarget(ctx, models.AuditTargetDispute, dispute.ID.String())
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, models.AuditActionDisputeResolved, entries[0].Action)

	assert.NotEmpty(t, env.store.notificationsFor(env.professionalID))
	current := env.job(job.ID)
	assert.Equal(t, valueobject.PaymentStatusRefunded, current.PaymentStatus)
	assert.Equal(t, current.Status.RequiresProfessional(), current.ProfessionalID != nil)
	env.gw.AssertNotCalled(t, "Disburse", mock.Anything, mock.Anything)
}

func TestDisputeService_ResolveRelease(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()
	_, dispute := env.disputedJob("ws_CO_rel_dsp")
	env.gw.On("Disburse", mock.Anything, mock.Anything).Return(&gateway.DisburseResponse{ConversationID: "AG_dsp"}, nil).Once()

	res, err := env.disputes.Resolve(ctx, dispute.ID, env.admin(), valueobject.DisputeOutcomeRelease, "")
	require.NoError(t, err)
	assert.Equal(t, valueobject.JobStatusCompleted, res.Job.Status)
	assert.Equal(t, valueobject.PaymentStatusReleased, res.Job.PaymentStatus)
	assert.NotNil(t, res.Job.CompletedAt)
	require.Len(t, res.SideEffects, 1)
	assert.True(t, res.SideEffects[0].OK)
	env.gw.AssertExpectations(t)
}

func TestDisputeService_Resolve_AdminOnly(t *testing.T) {
	env := newTestEnv()
	job, dispute := env.disputedJob("ws_CO_auth")

	_, err := env.disputes.Resolve(context.Background(), dispute.ID, env.client(), valueobject.DisputeOutcomeRefund, "")
	assert.True(t, apperror.IsForbidden(err))

	current := env.job(job.ID)
	assert.Equal(t, valueobject.JobStatusDisputed, current.Status)
	assert.Equal(t, valueobject.PaymentStatusEscrowHeld, current.PaymentStatus)
}

func TestDisputeService_Resolve_WithoutHeldEscrow(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()
	job := env.hired(1000, "ws_CO_nohold")
	dispute, err := env.jobs.RaiseDispute(ctx, job.ID, env.professionalID, "оплата не пришла")
	require.NoError(t, err)

	_, err = env.disputes.Resolve(ctx, dispute.ID, env.admin(), valueobject.DisputeOutcomeRelease, "")
	assert.Equal(t, apperror.ErrCodeEscrowNotHeld, apperror.CodeOf(err))

	current, err := env.disputes.Get(ctx, dispute.ID, env.admin())
	require.NoError(t, err)
	assert.True(t, current.Status.IsActive())
}

func TestDisputeService_Resolve_ConcurrentSettlesOnce(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()
	job, dispute := env.disputedJob("ws_CO_dsp_race")

	var (
		wg sync.WaitGroup
		mu sync.Mutex
		ok int
	)
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := env.disputes.Resolve(ctx, dispute.ID, env.admin(), valueobject.DisputeOutcomeRefund, "")
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				ok++
				return
			}
			code := apperror.CodeOf(err)
			assert.Contains(t, []apperror.ErrorCode{apperror.ErrCodeNotFound, apperror.ErrCodeInvalidTransition}, code, err.Error())
		}()
	}
	wg.Wait()

	assert.GreaterOrEqual(t, ok, 1)
	current := env.job(job.ID)
	assert.Equal(t, valueobject.JobStatusCancelled, current.Status)
	assert.Equal(t, valueobject.PaymentStatusRefunded, current.PaymentStatus)

	history, err := env.escrow.History(ctx, job.ID)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, valueobject.TransactionStateRefunded, history[0].State)
}

func TestDisputeService_MarkInvestigatingAndEvidence(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()
	_, dispute := env.disputedJob("ws_CO_inv")

	_, err := env.disputes.MarkInvestigating(ctx, dispute.ID, env.client(), "")
	assert.True(t, apperror.IsForbidden(err))

	investigating, err := env.disputes.MarkInvestigating(ctx, dispute.ID, env.admin(), "запрошены фото")
	require.NoError(t, err)
	assert.Equal(t, valueobject.DisputeStatusInvestigating, investigating.Status)

	_, err = env.disputes.MarkInvestigating(ctx, dispute.ID, env.admin(), "")
	assert.True(t, apperror.IsInvalidTransition(err))

	_, err = env.disputes.AddEvidence(ctx, dispute.ID, Actor{ID: uuid.New()}, "https://files.example/1.jpg")
	assert.True(t, apperror.IsForbidden(err))

	_, err = env.disputes.AddEvidence(ctx, dispute.ID, env.professional(), "ftp://files.example/1.jpg")
	assert.True(t, apperror.IsValidation(err))

	withEvidence, err := env.disputes.AddEvidence(ctx, dispute.ID, env.professional(), "https://files.example/1.jpg")
	require.NoError(t, err)
	assert.Equal(t, []string{"https://files.example/1.jpg"}, []string(withEvidence.Evidence))

	open, err := env.disputes.ListOpen(ctx, env.admin(), 0, 0)
	require.NoError(t, err)
	assert.Len(t, open, 1)

	_, err = env.disputes.ListOpen(ctx, env.client(), 0, 0)
	assert.True(t, apperror.IsForbidden(err))

	_, err = env.disputes.Resolve(ctx, dispute.ID, env.admin(), valueobject.DisputeOutcomeRefund, "")
	require.NoError(t, err)

	_, err = env.disputes.AddEvidence(ctx, dispute.ID, env.professional(), "late.jpg")
	assert.True(t, apperror.IsNotFound(err))
}

func TestDisputeService_ActiveForJob(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()
	job, dispute := env.disputedJob("ws_CO_active")

	found, err := env.disputes.ActiveForJob(ctx, job.ID, env.professional())
	require.NoError(t, err)
	assert.Equal(t, dispute.ID, found.ID)

	_, err = env.disputes.ActiveForJob(ctx, job.ID, Actor{ID: uuid.New(), Role: RoleClient})
	assert.True(t, apperror.IsForbidden(err))

	_, err = env.disputes.Resolve(ctx, dispute.ID, env.admin(), valueobject.DisputeOutcomeRefund, "")
	require.NoError(t, err)

	// После возврата исполнитель снят с заказа, но клиент и администратор видят, что спора больше нет.
	_, err = env.disputes.ActiveForJob(ctx, job.ID, env.client())
	assert.True(t, apperror.IsNotFound(err))
	_, err = env.disputes.ActiveForJob(ctx, job.ID, env.admin())
	assert.True(t, apperror.IsNotFound(err))
}
