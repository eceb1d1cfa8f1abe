package dto

import (
	"github.com/ignatzorin/msme-escrow/internal/models"
	"github.com/ignatzorin/msme-escrow/internal/service"
)

// ListResponse represents a page of items
type ListResponse struct {
	Data       interface{} `json:"data"`
	Pagination Pagination  `json:"pagination"`
}

// Pagination represents pagination metadata
type Pagination struct {
	Limit   int  `json:"limit"`
	Offset  int  `json:"offset"`
	HasMore bool `json:"has_more"`
}

// NewListResponse строит страницу; HasMore выставляется, если страница заполнена целиком.
func NewListResponse(data interface{}, count, limit, offset int) ListResponse {
	return ListResponse{
		Data:       data,
		Pagination: Pagination{Limit: limit, Offset: offset, HasMore: count == limit},
	}
}

// JobActionResponse represents a job transition together with its side effects
type JobActionResponse struct {
	Job         *models.Job          `json:"job"`
	SideEffects []service.SideEffect `json:"side_effects,omitempty"`
}

// PaymentHistoryResponse represents the escrow transactions of a job
type PaymentHistoryResponse struct {
	JobID        string                     `json:"job_id"`
	Transactions []models.EscrowTransaction `json:"transactions"`
}

// CallbackAck is the acknowledgment expected by the mobile-money gateway
type CallbackAck struct {
	ResultCode int    `json:"ResultCode"`
	ResultDesc string `json:"ResultDesc"`
}

// Accepted подтверждает получение уведомления независимо от результата сверки.
func Accepted() CallbackAck {
	return CallbackAck{ResultCode: 0, ResultDesc: "Accepted"}
}

// ErrorResponse represents a standard error response
type ErrorResponse struct {
	Error   string            `json:"error"`
	Code    string            `json:"code,omitempty"`
	Details map[string]string `json:"details,omitempty"`
}

// SuccessResponse represents a standard success response
type SuccessResponse struct {
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}
