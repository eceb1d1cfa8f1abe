package common

import (
	"errors"
	"fmt"
)

// Общие ошибки для всех репозиториев
var (
	// ErrStateConflict: условное обновление не применилось: состояние записи уже изменилось.
	ErrStateConflict = errors.New("state changed concurrently")
	// ErrAlreadyExists: запись с таким уникальным ключом уже есть.
	ErrAlreadyExists = errors.New("entity already exists")

	ErrJobConflict         = fmt.Errorf("job: %w", ErrStateConflict)
	ErrApplicationConflict = fmt.Errorf("application: %w", ErrStateConflict)
	ErrTransactionConflict = fmt.Errorf("escrow transaction: %w", ErrStateConflict)
	ErrDisputeConflict     = fmt.Errorf("dispute: %w", ErrStateConflict)
)
