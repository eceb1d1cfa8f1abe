package handlers

import (
	"context"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/ignatzorin/msme-escrow/internal/dto"
	"github.com/ignatzorin/msme-escrow/internal/gateway"
	"github.com/ignatzorin/msme-escrow/internal/service"
)

const maxCallbackBody = 64 << 10

// CallbackValidator проверяет структуру уведомлений шлюза.
type CallbackValidator interface {
	ValidateSTK(ctx context.Context, body []byte) error
	ValidateB2C(ctx context.Context, body []byte) error
}

// Reconciler применяет уведомления шлюза к состоянию эскроу.
type Reconciler interface {
	Reconcile(ctx context.Context, in service.CallbackInput) service.CallbackOutcome
	Discard(ctx context.Context, raw []byte, reason error)
	RecordPayoutResult(ctx context.Context, res *gateway.B2CResult)
}

// CallbackHandler принимает уведомления платёжного шлюза. Шлюз всегда
// получает подтверждение: ошибки разбора и сверки остаются в логе и аудите.
type CallbackHandler struct {
	validator  CallbackValidator
	reconciler Reconciler
}

func NewCallbackHandler(validator CallbackValidator, reconciler Reconciler) *CallbackHandler {
	return &CallbackHandler{validator: validator, reconciler: reconciler}
}

// STKCallback POST /api/payments/callback
func (h *CallbackHandler) STKCallback(c *gin.Context) {
	ctx := c.Request.Context()

	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxCallbackBody))
	if err != nil {
		h.reconciler.Discard(ctx, nil, err)
		c.JSON(http.StatusOK, dto.Accepted())
		return
	}

	if err := h.validator.ValidateSTK(ctx, body); err != nil {
		h.reconciler.Discard(ctx, body, err)
		c.JSON(http.StatusOK, dto.Accepted())
		return
	}

	cb, err := gateway.ParseSTKCallback(body)
	if err != nil {
		h.reconciler.Discard(ctx, body, err)
		c.JSON(http.StatusOK, dto.Accepted())
		return
	}

	h.reconciler.Reconcile(ctx, service.CallbackInputFromSTK(cb))
	c.JSON(http.StatusOK, dto.Accepted())
}

// PayoutResult POST /api/payments/b2c/result
func (h *CallbackHandler) PayoutResult(c *gin.Context) {
	ctx := c.Request.Context()

	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxCallbackBody))
	if err == nil {
		err = h.validator.ValidateB2C(ctx, body)
	}
	if err != nil {
		h.reconciler.Discard(ctx, body, err)
		c.JSON(http.StatusOK, dto.Accepted())
		return
	}

	res, err := gateway.ParseB2CResult(body)
	if err != nil {
		h.reconciler.Discard(ctx, body, err)
		c.JSON(http.StatusOK, dto.Accepted())
		return
	}

	h.reconciler.RecordPayoutResult(ctx, res)
	c.JSON(http.StatusOK, dto.Accepted())
}
