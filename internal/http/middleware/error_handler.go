package middleware

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/ignatzorin/msme-escrow/internal/dto"
	"github.com/ignatzorin/msme-escrow/internal/logger"
	"github.com/ignatzorin/msme-escrow/internal/pkg/apperror"
)

// ErrorHandler отвечает на ошибки, добавленные через c.Error, если обработчик
// сам ничего не записал.
func ErrorHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if c.Writer.Written() || len(c.Errors) == 0 {
			return
		}
		WriteError(c, c.Errors.Last().Err)
	}
}

// WriteError переводит ошибку в JSON ответ {"error","code","details"}.
// Текст внутренних ошибок клиенту не отдаётся.
func WriteError(c *gin.Context, err error) {
	var appErr *apperror.AppError
	if !errors.As(err, &appErr) {
		logRequestError(c, err, http.StatusInternalServerError)
		c.AbortWithStatusJSON(http.StatusInternalServerError, dto.ErrorResponse{
			Error: "внутренняя ошибка сервера",
			Code:  string(apperror.ErrCodeInternal),
		})
		return
	}

	status := appErr.HTTPStatus
	if status == 0 {
		status = http.StatusInternalServerError
	}
	logRequestError(c, err, status)

	message := appErr.Message
	if status >= http.StatusInternalServerError && appErr.Code != apperror.ErrCodeGatewayUnavailable {
		message = "внутренняя ошибка сервера"
	}
	c.AbortWithStatusJSON(status, dto.ErrorResponse{
		Error:   message,
		Code:    string(appErr.Code),
		Details: appErr.Details,
	})
}

func logRequestError(c *gin.Context, err error, status int) {
	entry := logger.Log.WithFields(logrus.Fields{
		"error":  err.Error(),
		"status": status,
		"path":   c.Request.URL.Path,
		"method": c.Request.Method,
	})
	if status >= http.StatusInternalServerError {
		entry.Error("Request error")
		return
	}
	entry.Debug("Request rejected")
}
