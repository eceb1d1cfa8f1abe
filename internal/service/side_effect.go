package service

import (
	"github.com/sirupsen/logrus"

	"github.com/ignatzorin/msme-escrow/internal/logger"
)

// Виды побочных действий, которые не откатывают основной переход.
const (
	SideEffectEscrowInitiate = "escrow_initiate"
	SideEffectPayout         = "payout"
)

// SideEffect: результат вторичного действия после зафиксированного перехода.
// Ошибка здесь не означает, что основная операция не удалась.
type SideEffect struct {
	Kind      string `json:"kind"`
	OK        bool   `json:"ok"`
	Skipped   bool   `json:"skipped,omitempty"`
	Detail    string `json:"detail,omitempty"`
	Retryable bool   `json:"retryable,omitempty"`
	Err       error  `json:"-"`
}

func succeeded(kind, detail string) SideEffect {
	return SideEffect{Kind: kind, OK: true, Detail: detail}
}

func skipped(kind, detail string) SideEffect {
	return SideEffect{Kind: kind, OK: true, Skipped: true, Detail: detail}
}

// failed фиксирует неудачу побочного действия и пишет её в лог.
func failed(kind string, err error, retryable bool, fields logrus.Fields) SideEffect {
	logger.Log.WithFields(fields).WithField("side_effect", kind).WithError(err).Warn("side effect failed")
	return SideEffect{Kind: kind, Detail: err.Error(), Retryable: retryable, Err: err}
}
