package apperror

import (
	"errors"
	"fmt"
	"net/http"
)

type ErrorCode string

const (
	ErrCodeNotFound             ErrorCode = "NOT_FOUND"
	ErrCodeUnauthorized         ErrorCode = "UNAUTHORIZED"
	ErrCodeForbidden            ErrorCode = "FORBIDDEN"
	ErrCodeBadRequest           ErrorCode = "BAD_REQUEST"
	ErrCodeConflict             ErrorCode = "CONFLICT"
	ErrCodeInternal             ErrorCode = "INTERNAL_ERROR"
	ErrCodeValidation           ErrorCode = "VALIDATION_ERROR"
	ErrCodeDatabaseError        ErrorCode = "DATABASE_ERROR"
	ErrCodeInvalidTransition    ErrorCode = "INVALID_TRANSITION"
	ErrCodeDuplicateApplication ErrorCode = "DUPLICATE_APPLICATION"
	ErrCodeJobNotOpen           ErrorCode = "JOB_NOT_OPEN"
	ErrCodeEscrowNotHeld        ErrorCode = "ESCROW_NOT_HELD"
	ErrCodeGatewayUnavailable   ErrorCode = "GATEWAY_UNAVAILABLE"
)

type AppError struct {
	Code       ErrorCode
	Message    string
	HTTPStatus int
	Cause      error

	// Details дополняет ошибку машиночитаемым контекстом (например, текущий и запрошенный статус).
	Details map[string]string
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

// Is сравнивает ошибки по коду, чтобы errors.Is работал с экземплярами-шаблонами.
func (e *AppError) Is(target error) bool {
	var t *AppError
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code
}

func New(code ErrorCode, message string) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		HTTPStatus: codeToHTTPStatus(code),
	}
}

func Wrap(err error, code ErrorCode, message string) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		HTTPStatus: codeToHTTPStatus(code),
		Cause:      err,
	}
}

// InvalidTransition возвращает ошибку недопустимого перехода с текущим и запрошенным состоянием.
func InvalidTransition(entity, current, attempted string) *AppError {
	return &AppError{
		Code:       ErrCodeInvalidTransition,
		Message:    fmt.Sprintf("%s: недопустимый переход %s → %s", entity, current, attempted),
		HTTPStatus: codeToHTTPStatus(ErrCodeInvalidTransition),
		Details: map[string]string{
			"entity":    entity,
			"current":   current,
			"attempted": attempted,
		},
	}
}

// JobNotOpen возвращает ошибку для действий, требующих открытого заказа.
func JobNotOpen(current string) *AppError {
	return &AppError{
		Code:       ErrCodeJobNotOpen,
		Message:    "заказ не принимает отклики",
		HTTPStatus: codeToHTTPStatus(ErrCodeJobNotOpen),
		Details:    map[string]string{"current": current},
	}
}

// EscrowNotHeld возвращает ошибку для release/refund, когда средства не удерживаются.
func EscrowNotHeld(current string) *AppError {
	return &AppError{
		Code:       ErrCodeEscrowNotHeld,
		Message:    "средства не удерживаются на эскроу",
		HTTPStatus: codeToHTTPStatus(ErrCodeEscrowNotHeld),
		Details:    map[string]string{"current": current},
	}
}

// GatewayUnavailable оборачивает сбой исходящего вызова платёжного шлюза.
func GatewayUnavailable(err error) *AppError {
	return Wrap(err, ErrCodeGatewayUnavailable, "платёжный шлюз недоступен, повторите попытку позже")
}

func codeToHTTPStatus(code ErrorCode) int {
	switch code {
	case ErrCodeNotFound:
		return http.StatusNotFound
	case ErrCodeUnauthorized:
		return http.StatusUnauthorized
	case ErrCodeForbidden:
		return http.StatusForbidden
	case ErrCodeBadRequest, ErrCodeValidation:
		return http.StatusBadRequest
	case ErrCodeConflict, ErrCodeInvalidTransition, ErrCodeDuplicateApplication, ErrCodeJobNotOpen, ErrCodeEscrowNotHeld:
		return http.StatusConflict
	case ErrCodeGatewayUnavailable:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// CodeOf возвращает код ошибки или пустую строку для не-AppError.
func CodeOf(err error) ErrorCode {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return ""
}

func IsNotFound(err error) bool {
	return CodeOf(err) == ErrCodeNotFound
}

func IsForbidden(err error) bool {
	return CodeOf(err) == ErrCodeForbidden
}

func IsValidation(err error) bool {
	return CodeOf(err) == ErrCodeValidation
}

func IsInvalidTransition(err error) bool {
	return CodeOf(err) == ErrCodeInvalidTransition
}

// IsRetryable сообщает, можно ли повторить операцию (только временные сбои шлюза).
func IsRetryable(err error) bool {
	return CodeOf(err) == ErrCodeGatewayUnavailable
}

var (
	ErrJobNotFound          = New(ErrCodeNotFound, "заказ не найден")
	ErrApplicationNotFound  = New(ErrCodeNotFound, "отклик не найден")
	ErrDisputeNotFound      = New(ErrCodeNotFound, "открытый спор не найден")
	ErrTransactionNotFound  = New(ErrCodeNotFound, "платёжная транзакция не найдена")
	ErrDuplicateApplication = New(ErrCodeDuplicateApplication, "вы уже откликнулись на этот заказ")
	ErrUnauthorized         = New(ErrCodeUnauthorized, "требуется авторизация")
	ErrForbidden            = New(ErrCodeForbidden, "недостаточно прав")
)
