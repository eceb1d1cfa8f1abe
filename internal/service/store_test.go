package service

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"

	"github.com/ignatzorin/msme-escrow/internal/domain/valueobject"
	"github.com/ignatzorin/msme-escrow/internal/gateway"
	"github.com/ignatzorin/msme-escrow/internal/models"
	"github.com/ignatzorin/msme-escrow/internal/pkg/apperror"
	"github.com/ignatzorin/msme-escrow/internal/repository"
	"github.com/ignatzorin/msme-escrow/internal/repository/common"
)

// memStore: хранилище в памяти с теми же условными обновлениями, что и postgres-репозитории.
// Один мьютекс заменяет транзакцию БД.
type memStore struct {
	mu            sync.Mutex
	jobs          map[uuid.UUID]*models.Job
	apps          map[uuid.UUID]*models.Application
	txs           map[string]*models.EscrowTransaction
	disputes      map[uuid.UUID]*models.Dispute
	audit         []models.AuditEntry
	notifications []models.Notification
}

func newMemStore() *memStore {
	return &memStore{
		jobs:     make(map[uuid.UUID]*models.Job),
		apps:     make(map[uuid.UUID]*models.Application),
		txs:      make(map[string]*models.EscrowTransaction),
		disputes: make(map[uuid.UUID]*models.Dispute),
	}
}

func copyJob(j *models.Job) *models.Job {
	c := *j
	return &c
}

// --- заказы ---

type memJobs struct{ s *memStore }

func (r memJobs) Create(_ context.Context, job *models.Job) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if job.Status.RequiresProfessional() != (job.ProfessionalID != nil) {
		return errProfessionalCheck
	}
	job.ID = uuid.New()
	job.CreatedAt = time.Now().UTC()
	job.UpdatedAt = job.CreatedAt
	r.s.jobs[job.ID] = copyJob(job)
	return nil
}

func (r memJobs) GetByID(_ context.Context, id uuid.UUID) (*models.Job, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	job, ok := r.s.jobs[id]
	if !ok {
		return nil, apperror.ErrJobNotFound
	}
	return copyJob(job), nil
}

func (r memJobs) GetByCorrelationID(_ context.Context, correlationID string) (*models.Job, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	// Как и в postgres, поиск идёт только по текущей транзакции заказа.
	for _, job := range r.s.jobs {
		if job.HasCorrelation(correlationID) {
			return copyJob(job), nil
		}
	}
	return nil, apperror.ErrJobNotFound
}

func (r memJobs) Transition(_ context.Context, id uuid.UUID, update repository.JobUpdate) (*models.Job, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return r.s.transitionJob(id, update)
}

func (r memJobs) ListByClient(_ context.Context, clientID uuid.UUID, limit, offset int) ([]models.Job, error) {
	return r.s.listJobs(func(j *models.Job) bool { return j.ClientID == clientID }, limit, offset), nil
}

func (r memJobs) ListByProfessional(_ context.Context, professionalID uuid.UUID, limit, offset int) ([]models.Job, error) {
	return r.s.listJobs(func(j *models.Job) bool { return j.IsAssignedTo(professionalID) }, limit, offset), nil
}

func (r memJobs) ListOpen(_ context.Context, limit, offset int) ([]models.Job, error) {
	return r.s.listJobs(func(j *models.Job) bool { return j.Status == valueobject.JobStatusOpen }, limit, offset), nil
}

func (s *memStore) listJobs(match func(*models.Job) bool, limit, offset int) []models.Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []models.Job{}
	for _, j := range s.jobs {
		if match(j) {
			out = append(out, *j)
		}
	}
	sort.Slice(out, func(a, b int) bool { return out[a].CreatedAt.After(out[b].CreatedAt) })
	if offset >= len(out) {
		return []models.Job{}
	}
	out = out[offset:]
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}

// errProfessionalCheck повторяет отказ ограничения jobs_professional_matches_status.
var errProfessionalCheck = errors.New(`pq: new row for relation "jobs" violates check constraint "jobs_professional_matches_status"`)

// transitionJob применяет обновление к копии и сохраняет её, только если
// исполнитель назначен ровно в тех статусах, которые этого требуют.
func (s *memStore) transitionJob(id uuid.UUID, update repository.JobUpdate) (*models.Job, error) {
	job, ok := s.jobs[id]
	if !ok || !update.Matches(job) {
		return nil, common.ErrJobConflict
	}
	next := copyJob(job)
	update.Apply(next, time.Now().UTC())
	if next.Status.RequiresProfessional() != (next.ProfessionalID != nil) {
		return nil, errProfessionalCheck
	}
	s.jobs[id] = next
	return copyJob(next), nil
}

// --- отклики ---

type memApps struct{ s *memStore }

func (r memApps) Create(_ context.Context, app *models.Application) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, a := range r.s.apps {
		if a.JobID == app.JobID && a.ProfessionalID == app.ProfessionalID {
			return apperror.ErrDuplicateApplication
		}
	}
	app.ID = uuid.New()
	app.CreatedAt = time.Now().UTC()
	app.UpdatedAt = app.CreatedAt
	c := *app
	r.s.apps[app.ID] = &c
	return nil
}

func (r memApps) GetByID(_ context.Context, id uuid.UUID) (*models.Application, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	app, ok := r.s.apps[id]
	if !ok {
		return nil, apperror.ErrApplicationNotFound
	}
	c := *app
	return &c, nil
}

func (r memApps) GetByJobAndProfessional(_ context.Context, jobID, professionalID uuid.UUID) (*models.Application, error) {
	return r.find(func(a *models.Application) bool { return a.JobID == jobID && a.ProfessionalID == professionalID })
}

func (r memApps) GetAcceptedByJob(_ context.Context, jobID uuid.UUID) (*models.Application, error) {
	return r.find(func(a *models.Application) bool {
		return a.JobID == jobID && a.Status == valueobject.ApplicationStatusAccepted
	})
}

func (r memApps) find(match func(*models.Application) bool) (*models.Application, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, a := range r.s.apps {
		if match(a) {
			c := *a
			return &c, nil
		}
	}
	return nil, apperror.ErrApplicationNotFound
}

func (r memApps) ListByJob(_ context.Context, jobID uuid.UUID) ([]models.Application, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	out := []models.Application{}
	for _, a := range r.s.apps {
		if a.JobID == jobID {
			out = append(out, *a)
		}
	}
	return out, nil
}

func (r memApps) Transition(_ context.Context, id uuid.UUID, from, to valueobject.ApplicationStatus) (*models.Application, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return r.s.transitionApp(id, from, to)
}

func (s *memStore) transitionApp(id uuid.UUID, from, to valueobject.ApplicationStatus) (*models.Application, error) {
	app, ok := s.apps[id]
	if !ok || app.Status != from {
		return nil, common.ErrApplicationConflict
	}
	app.Status = to
	app.UpdatedAt = time.Now().UTC()
	c := *app
	return &c, nil
}

func (r memApps) AcceptAndHire(_ context.Context, applicationID uuid.UUID, hire repository.JobUpdate, jobID uuid.UUID) (*models.Job, *models.Application, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	job, ok := r.s.jobs[jobID]
	if !ok || !hire.Matches(job) {
		return nil, nil, common.ErrJobConflict
	}
	app, ok := r.s.apps[applicationID]
	if !ok || app.Status != valueobject.ApplicationStatusPending {
		return nil, nil, common.ErrApplicationConflict
	}
	for _, a := range r.s.apps {
		if a.JobID == jobID && a.Status == valueobject.ApplicationStatusAccepted {
			return nil, nil, common.ErrJobConflict
		}
	}

	hired, err := r.s.transitionJob(jobID, hire)
	if err != nil {
		return nil, nil, err
	}
	accepted, _ := r.s.transitionApp(applicationID, valueobject.ApplicationStatusPending, valueobject.ApplicationStatusAccepted)
	return hired, accepted, nil
}

// --- транзакции шлюза ---

type memEscrow struct{ s *memStore }

func (r memEscrow) Open(_ context.Context, record *models.EscrowTransaction, update repository.JobUpdate) (*models.Job, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if _, exists := r.s.txs[record.CorrelationID]; exists {
		return nil, common.ErrAlreadyExists
	}
	job, err := r.s.transitionJob(record.JobID, update)
	if err != nil {
		return nil, err
	}
	record.ID = uuid.New()
	record.CreatedAt = time.Now().UTC()
	c := *record
	r.s.txs[record.CorrelationID] = &c
	return job, nil
}

func (r memEscrow) Settle(_ context.Context, jobID uuid.UUID, txUpdate repository.TransactionUpdate, jobUpdate repository.JobUpdate) (*models.Job, *models.EscrowTransaction, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	tx, ok := r.s.txs[txUpdate.CorrelationID]
	if !ok || !txUpdate.Matches(tx) {
		return nil, nil, common.ErrTransactionConflict
	}
	job, err := r.s.transitionJob(jobID, jobUpdate)
	if err != nil {
		return nil, nil, err
	}

	txUpdate.Apply(tx, job.UpdatedAt)
	settled := *tx
	return job, &settled, nil
}

func (r memEscrow) GetByCorrelationID(_ context.Context, correlationID string) (*models.EscrowTransaction, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	tx, ok := r.s.txs[correlationID]
	if !ok {
		return nil, apperror.ErrTransactionNotFound
	}
	c := *tx
	return &c, nil
}

func (r memEscrow) ListByJob(_ context.Context, jobID uuid.UUID) ([]models.EscrowTransaction, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	out := []models.EscrowTransaction{}
	for _, tx := range r.s.txs {
		if tx.JobID == jobID {
			out = append(out, *tx)
		}
	}
	sort.Slice(out, func(a, b int) bool { return out[a].CreatedAt.Before(out[b].CreatedAt) })
	return out, nil
}

// --- споры ---

type memDisputes struct{ s *memStore }

func (r memDisputes) OpenWithJob(_ context.Context, d *models.Dispute, update repository.JobUpdate) (*models.Job, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	for _, existing := range r.s.disputes {
		if existing.JobID == d.JobID && existing.Status.IsActive() {
			return nil, common.ErrDisputeConflict
		}
	}
	job, err := r.s.transitionJob(d.JobID, update)
	if err != nil {
		return nil, err
	}
	d.ID = uuid.New()
	d.CreatedAt = time.Now().UTC()
	c := *d
	r.s.disputes[d.ID] = &c
	return job, nil
}

func (r memDisputes) GetByID(_ context.Context, id uuid.UUID) (*models.Dispute, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	d, ok := r.s.disputes[id]
	if !ok {
		return nil, apperror.ErrDisputeNotFound
	}
	c := *d
	return &c, nil
}

func (r memDisputes) GetActiveByJob(_ context.Context, jobID uuid.UUID) (*models.Dispute, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, d := range r.s.disputes {
		if d.JobID == jobID && d.Status.IsActive() {
			c := *d
			return &c, nil
		}
	}
	return nil, apperror.ErrDisputeNotFound
}

func (r memDisputes) ListActive(_ context.Context, limit, offset int) ([]models.Dispute, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	out := []models.Dispute{}
	for _, d := range r.s.disputes {
		if d.Status.IsActive() {
			out = append(out, *d)
		}
	}
	if offset >= len(out) {
		return []models.Dispute{}, nil
	}
	out = out[offset:]
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r memDisputes) update(id uuid.UUID, fn func(d *models.Dispute)) (*models.Dispute, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	d, ok := r.s.disputes[id]
	if !ok || !d.Status.IsActive() {
		return nil, common.ErrDisputeConflict
	}
	fn(d)
	c := *d
	return &c, nil
}

func (r memDisputes) Close(_ context.Context, id uuid.UUID, outcome valueobject.DisputeOutcome, adminID uuid.UUID, notes *string) (*models.Dispute, error) {
	return r.update(id, func(d *models.Dispute) {
		now := time.Now().UTC()
		d.Status = valueobject.DisputeStatusResolved
		d.Resolution = &outcome
		d.ResolvedBy = &adminID
		d.ResolvedAt = &now
		if notes != nil {
			d.AdminNotes = notes
		}
	})
}

func (r memDisputes) SetInvestigating(_ context.Context, id uuid.UUID, notes *string) (*models.Dispute, error) {
	r.s.mu.Lock()
	d, ok := r.s.disputes[id]
	isOpen := ok && d.Status == valueobject.DisputeStatusOpen
	r.s.mu.Unlock()
	if !isOpen {
		return nil, common.ErrDisputeConflict
	}
	return r.update(id, func(d *models.Dispute) {
		d.Status = valueobject.DisputeStatusInvestigating
		if notes != nil {
			d.AdminNotes = notes
		}
	})
}

func (r memDisputes) AddEvidence(_ context.Context, id uuid.UUID, ref string) (*models.Dispute, error) {
	return r.update(id, func(d *models.Dispute) {
		d.Evidence = append(d.Evidence, ref)
	})
}

// --- аудит и уведомления ---

type memAudit struct{ s *memStore }

func (r memAudit) Add(_ context.Context, entry *models.AuditEntry) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	entry.ID = uuid.New()
	entry.CreatedAt = time.Now().UTC()
	r.s.audit = append(r.s.audit, *entry)
	return nil
}

func (r memAudit) ListByTarget(_ context.Context, targetType, targetID string) ([]models.AuditEntry, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	out := []models.AuditEntry{}
	for _, e := range r.s.audit {
		if e.TargetType == targetType && e.TargetID == targetID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (s *memStore) auditActions() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.audit))
	for _, e := range s.audit {
		out = append(out, e.Action)
	}
	return out
}

type memNotifications struct{ s *memStore }

func (r memNotifications) Create(_ context.Context, n *models.Notification) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	n.ID = uuid.New()
	n.CreatedAt = time.Now().UTC()
	r.s.notifications = append(r.s.notifications, *n)
	return nil
}

func (r memNotifications) List(_ context.Context, userID uuid.UUID, limit, offset int, unreadOnly bool) ([]models.Notification, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	out := []models.Notification{}
	for _, n := range r.s.notifications {
		if n.UserID == userID && (!unreadOnly || !n.IsRead) {
			out = append(out, n)
		}
	}
	return out, nil
}

func (r memNotifications) MarkAsRead(_ context.Context, id, userID uuid.UUID) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for i := range r.s.notifications {
		if r.s.notifications[i].ID == id && r.s.notifications[i].UserID == userID {
			r.s.notifications[i].IsRead = true
			return nil
		}
	}
	return repository.ErrNotificationNotFound
}

func (r memNotifications) CountUnread(_ context.Context, userID uuid.UUID) (int, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	count := 0
	for _, n := range r.s.notifications {
		if n.UserID == userID && !n.IsRead {
			count++
		}
	}
	return count, nil
}

func (s *memStore) notificationsFor(userID uuid.UUID) []models.Notification {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []models.Notification{}
	for _, n := range s.notifications {
		if n.UserID == userID {
			out = append(out, n)
		}
	}
	return out
}

// --- шлюз ---

type mockGateway struct {
	mock.Mock
}

func (m *mockGateway) STKPush(ctx context.Context, req gateway.STKPushRequest) (*gateway.STKPushResponse, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*gateway.STKPushResponse), args.Error(1)
}

func (m *mockGateway) Disburse(ctx context.Context, req gateway.DisburseRequest) (*gateway.DisburseResponse, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*gateway.DisburseResponse), args.Error(1)
}

// failingNotifier не доставляет ни одного уведомления.
type failingNotifier struct{}

func (failingNotifier) Notify(context.Context, uuid.UUID, models.NotificationMessage) error {
	return errors.New("smtp down")
}

// --- сборка сервисов ---

type testEnv struct {
	store      *memStore
	gw         *mockGateway
	escrow     *EscrowService
	jobs       *JobService
	apps       *ApplicationService
	disputes   *DisputeService
	reconciler *CallbackReconciler
	notify     *Dispatcher
	audit      *AuditService

	clientID       uuid.UUID
	professionalID uuid.UUID
	adminID        uuid.UUID
}

type envOption func(*envConfig)

type envConfig struct {
	moderation bool
	notifier   Notifier
}

func withModeration() envOption {
	return func(c *envConfig) { c.moderation = true }
}

func withNotifier(n Notifier) envOption {
	return func(c *envConfig) { c.notifier = n }
}

func newTestEnv(opts ...envOption) *testEnv {
	store := newMemStore()
	cfg := envConfig{}
	cfg.notifier = NewNotificationService(memNotifications{store}, nil)
	for _, opt := range opts {
		opt(&cfg)
	}

	gw := new(mockGateway)
	audit := NewAuditService(memAudit{store})
	notify := NewDispatcher(cfg.notifier)
	notify.spawn = func(fn func()) { fn() }

	jobs := memJobs{store}
	apps := memApps{store}
	escrow := NewEscrowService(memEscrow{store}, jobs, gw, audit)

	return &testEnv{
		store:          store,
		gw:             gw,
		escrow:         escrow,
		jobs:           NewJobService(jobs, apps, memDisputes{store}, escrow, audit, notify, cfg.moderation),
		apps:           NewApplicationService(apps, jobs, escrow, notify),
		disputes:       NewDisputeService(memDisputes{store}, jobs, apps, escrow, audit, notify),
		reconciler:     NewCallbackReconciler(jobs, escrow, audit, notify),
		notify:         notify,
		audit:          audit,
		clientID:       uuid.New(),
		professionalID: uuid.New(),
		adminID:        uuid.New(),
	}
}

func (e *testEnv) client() Actor       { return Actor{ID: e.clientID, Role: RoleClient} }
func (e *testEnv) professional() Actor { return Actor{ID: e.professionalID, Role: RoleProfessional} }
func (e *testEnv) admin() Actor        { return Actor{ID: e.adminID, Role: RoleAdmin} }

func (e *testEnv) job(id uuid.UUID) *models.Job {
	job, err := memJobs{e.store}.GetByID(context.Background(), id)
	if err != nil {
		panic(err)
	}
	return job
}

// expectSTK настраивает ответ шлюза с заданным идентификатором транзакции.
func (e *testEnv) expectSTK(checkoutID string) *mock.Call {
	return e.gw.On("STKPush", mock.Anything, mock.AnythingOfType("gateway.STKPushRequest")).
		Return(&gateway.STKPushResponse{CheckoutRequestID: checkoutID, ResponseCode: "0"}, nil).Once()
}

func (e *testEnv) createOpenJob(budget float64) *models.Job {
	job, err := e.jobs.CreateJob(context.Background(), CreateJobInput{
		ClientID:    e.clientID,
		Title:       "Ремонт кровли",
		Description: "Заменить листы и герметик",
		Budget:      budget,
		Region:      "KE",
		PayerPhone:  "0712345678",
	})
	if err != nil {
		panic(err)
	}
	return job
}

func (e *testEnv) submit(jobID, professionalID uuid.UUID, bid float64) *models.Application {
	app, err := e.apps.Submit(context.Background(), SubmitApplicationInput{
		JobID:          jobID,
		ProfessionalID: professionalID,
		Proposal:       "Сделаю за три дня",
		BidAmount:      bid,
		PayoutPhone:    "0722000111",
	})
	if err != nil {
		panic(err)
	}
	return app
}

// hired создаёт заказ, принимает отклик и возвращает заказ в PENDING_STK.
func (e *testEnv) hired(budget float64, checkoutID string) *models.Job {
	job := e.createOpenJob(budget)
	app := e.submit(job.ID, e.professionalID, budget)
	e.expectSTK(checkoutID)
	res, err := e.apps.Decide(context.Background(), app.ID, valueobject.ApplicationStatusAccepted, e.clientID)
	if err != nil {
		panic(err)
	}
	return res.Job
}

// held доводит заказ до удержания средств на эскроу.
func (e *testEnv) held(budget float64, checkoutID string) *models.Job {
	job := e.hired(budget, checkoutID)
	out := e.reconciler.Reconcile(context.Background(), CallbackInput{CorrelationID: checkoutID, Receipt: "RCP" + checkoutID})
	if out != CallbackApplied {
		panic("callback not applied: " + string(out))
	}
	return e.job(job.ID)
}
