package dto

import (
	"github.com/google/uuid"

	"github.com/ignatzorin/msme-escrow/internal/service"
)

// CreateJobRequest represents the request to post a job
type CreateJobRequest struct {
	Title       string  `json:"title" binding:"required"`
	Description string  `json:"description" binding:"required"`
	Budget      float64 `json:"budget" binding:"required,gt=0"`
	Region      string  `json:"region" binding:"required"`
	Phone       string  `json:"phone" binding:"required"`
}

// ToInput переводит внешние поля запроса во входные данные сервиса (phone → PayerPhone).
func (r CreateJobRequest) ToInput(clientID uuid.UUID) service.CreateJobInput {
	return service.CreateJobInput{
		ClientID:    clientID,
		Title:       r.Title,
		Description: r.Description,
		Budget:      r.Budget,
		Region:      r.Region,
		PayerPhone:  r.Phone,
	}
}

// SubmitApplicationRequest represents a professional's bid on a job
type SubmitApplicationRequest struct {
	Proposal          string  `json:"proposal" binding:"required"`
	Bid               float64 `json:"bid" binding:"required,gt=0"`
	EstimatedDuration *string `json:"estimated_duration"`
	PayoutPhone       string  `json:"payout_phone" binding:"required"`
}

// ToInput: bid → BidAmount, payout_phone → PayoutPhone.
func (r SubmitApplicationRequest) ToInput(jobID, professionalID uuid.UUID) service.SubmitApplicationInput {
	return service.SubmitApplicationInput{
		JobID:             jobID,
		ProfessionalID:    professionalID,
		Proposal:          r.Proposal,
		BidAmount:         r.Bid,
		EstimatedDuration: r.EstimatedDuration,
		PayoutPhone:       r.PayoutPhone,
	}
}

// DecideApplicationRequest represents the client's decision on an application
type DecideApplicationRequest struct {
	Status string `json:"status" binding:"required,oneof=accepted rejected"`
}

// SubmitWorkRequest represents delivered work
type SubmitWorkRequest struct {
	DeliverableRef string `json:"deliverable_ref" binding:"required"`
}

// RaiseDisputeRequest represents the request to open a dispute
type RaiseDisputeRequest struct {
	Reason string `json:"reason" binding:"required"`
}

// ResolveDisputeRequest represents the admin decision on a dispute
type ResolveDisputeRequest struct {
	Outcome string `json:"outcome" binding:"required,oneof=release refund"`
	Notes   string `json:"notes"`
}

// InvestigateDisputeRequest represents admin notes when taking a dispute
type InvestigateDisputeRequest struct {
	Notes string `json:"notes"`
}

// AddEvidenceRequest represents a reference to evidence attached to a dispute
type AddEvidenceRequest struct {
	Ref string `json:"ref" binding:"required"`
}
