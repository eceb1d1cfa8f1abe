package service

import "github.com/ignatzorin/msme-escrow/internal/pkg/apperror"

// invalidInput превращает ошибку проверки полей в VALIDATION_ERROR.
func invalidInput(err error) error {
	return apperror.Wrap(err, apperror.ErrCodeValidation, err.Error())
}

// optionalString возвращает nil для пустой строки.
func optionalString(notes string) *string {
	if notes == "" {
		return nil
	}
	return &notes
}
