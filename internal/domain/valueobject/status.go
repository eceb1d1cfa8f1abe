package valueobject

import "github.com/ignatzorin/msme-escrow/internal/pkg/apperror"

type JobStatus string

const (
	JobStatusPendingApproval JobStatus = "pending_approval"
	JobStatusOpen            JobStatus = "open"
	JobStatusInProgress      JobStatus = "in_progress"
	JobStatusUnderReview     JobStatus = "under_review"
	JobStatusCompleted       JobStatus = "completed"
	JobStatusDisputed        JobStatus = "disputed"
	JobStatusCancelled       JobStatus = "cancelled"
)

var jobTransitions = map[JobStatus][]JobStatus{
	JobStatusPendingApproval: {JobStatusOpen, JobStatusCancelled},
	JobStatusOpen:            {JobStatusInProgress, JobStatusCancelled},
	JobStatusInProgress:      {JobStatusUnderReview, JobStatusDisputed},
	JobStatusUnderReview:     {JobStatusCompleted, JobStatusDisputed},
	JobStatusDisputed:        {JobStatusCompleted, JobStatusCancelled},
	JobStatusCompleted:       {},
	JobStatusCancelled:       {},
}

func (s JobStatus) CanTransitionTo(next JobStatus) bool {
	return Contains(jobTransitions[s], next)
}

// RequiresProfessional сообщает, должен ли в этом статусе быть назначен исполнитель.
func (s JobStatus) RequiresProfessional() bool {
	switch s {
	case JobStatusInProgress, JobStatusUnderReview, JobStatusCompleted, JobStatusDisputed:
		return true
	}
	return false
}

func (s JobStatus) IsTerminal() bool {
	return s == JobStatusCompleted || s == JobStatusCancelled
}

// PaymentStatus: состояние эскроу-платежа заказа.
type PaymentStatus string

const (
	PaymentStatusUnpaid     PaymentStatus = "unpaid"
	PaymentStatusPendingSTK PaymentStatus = "pending_stk"
	PaymentStatusEscrowHeld PaymentStatus = "escrow_held"
	PaymentStatusFailed     PaymentStatus = "failed"
	PaymentStatusReleased   PaymentStatus = "released"
	PaymentStatusRefunded   PaymentStatus = "refunded"

	// PaymentStatusPaid выставляется только ручным одобрением администратора, без транзакции шлюза.
	PaymentStatusPaid PaymentStatus = "paid"
)

var paymentTransitions = map[PaymentStatus][]PaymentStatus{
	PaymentStatusUnpaid:     {PaymentStatusPendingSTK},
	PaymentStatusPendingSTK: {PaymentStatusEscrowHeld, PaymentStatusFailed},
	PaymentStatusFailed:     {PaymentStatusPendingSTK},
	PaymentStatusEscrowHeld: {PaymentStatusReleased, PaymentStatusRefunded},
	PaymentStatusReleased:   {},
	PaymentStatusRefunded:   {},
	PaymentStatusPaid:       {},
}

func (s PaymentStatus) CanTransitionTo(next PaymentStatus) bool {
	return Contains(paymentTransitions[s], next)
}

// IsSettled сообщает, что средства уже выплачены или возвращены.
func (s PaymentStatus) IsSettled() bool {
	return s == PaymentStatusReleased || s == PaymentStatusRefunded
}

type ApplicationStatus string

const (
	ApplicationStatusPending   ApplicationStatus = "pending"
	ApplicationStatusAccepted  ApplicationStatus = "accepted"
	ApplicationStatusRejected  ApplicationStatus = "rejected"
	ApplicationStatusWithdrawn ApplicationStatus = "withdrawn"
)

var applicationTransitions = map[ApplicationStatus][]ApplicationStatus{
	ApplicationStatusPending:   {ApplicationStatusAccepted, ApplicationStatusRejected, ApplicationStatusWithdrawn},
	ApplicationStatusAccepted:  {},
	ApplicationStatusRejected:  {},
	ApplicationStatusWithdrawn: {},
}

func (s ApplicationStatus) CanTransitionTo(next ApplicationStatus) bool {
	return Contains(applicationTransitions[s], next)
}

func NewDecision(status string) (ApplicationStatus, error) {
	s := ApplicationStatus(status)
	if s != ApplicationStatusAccepted && s != ApplicationStatusRejected {
		return "", apperror.New(apperror.ErrCodeValidation, "решение должно быть accepted или rejected")
	}
	return s, nil
}

type DisputeStatus string

const (
	DisputeStatusOpen          DisputeStatus = "open"
	DisputeStatusInvestigating DisputeStatus = "investigating"
	DisputeStatusResolved      DisputeStatus = "resolved"
)

// IsActive сообщает, ожидает ли спор решения администратора.
func (s DisputeStatus) IsActive() bool {
	return s == DisputeStatusOpen || s == DisputeStatusInvestigating
}

// DisputeOutcome: решение администратора по спору.
type DisputeOutcome string

const (
	DisputeOutcomeRelease DisputeOutcome = "release"
	DisputeOutcomeRefund  DisputeOutcome = "refund"
)

func NewDisputeOutcome(v string) (DisputeOutcome, error) {
	o := DisputeOutcome(v)
	if o != DisputeOutcomeRelease && o != DisputeOutcomeRefund {
		return "", apperror.New(apperror.ErrCodeValidation, "решение по спору должно быть release или refund")
	}
	return o, nil
}

// TransactionState: состояние отдельной транзакции шлюза.
type TransactionState string

const (
	TransactionStatePending  TransactionState = "pending"
	TransactionStateHeld     TransactionState = "held"
	TransactionStateFailed   TransactionState = "failed"
	TransactionStateReleased TransactionState = "released"
	TransactionStateRefunded TransactionState = "refunded"
)

// IsResolved сообщает, что транзакция уже вышла из ожидания.
func (s TransactionState) IsResolved() bool {
	return s != TransactionStatePending
}

// Contains сообщает, входит ли значение в список.
func Contains[T comparable](list []T, v T) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}
