package validation

import (
	"fmt"
	"net/url"
	"strings"
	"unicode"
	"unicode/utf8"
)

// Константы валидации
const (
	MaxJobTitleLength       = 200
	MaxJobDescriptionLength = 5000
	MaxProposalLength       = 2000
	MaxDurationLength       = 100
	MaxDisputeReasonLength  = 2000
	MaxNotesLength          = 2000
	MaxReferenceLength      = 500
)

// ValidateLength проверяет длину строки.
func ValidateLength(fieldName, value string, min, max int) error {
	length := utf8.RuneCountInString(value)
	if min > 0 && length < min {
		return fmt.Errorf("%s должен быть не менее %d символов", fieldName, min)
	}
	if max > 0 && length > max {
		return fmt.Errorf("%s должен быть не более %d символов", fieldName, max)
	}
	return nil
}

// Required обрезает пробелы и проверяет, что строка не пустая и не длиннее max.
func Required(fieldName, value string, max int) (string, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return "", fmt.Errorf("%s обязательно", fieldName)
	}
	if err := ValidateLength(fieldName, value, 0, max); err != nil {
		return "", err
	}
	return value, nil
}

// Optional обрезает пробелы и ограничивает длину необязательного поля.
func Optional(fieldName, value string, max int) (string, error) {
	value = strings.TrimSpace(value)
	if err := ValidateLength(fieldName, value, 0, max); err != nil {
		return "", err
	}
	return value, nil
}

// ValidateJobText проверяет название и описание заказа.
func ValidateJobText(title, description string) (string, string, error) {
	title, err := Required("название заказа", title, MaxJobTitleLength)
	if err != nil {
		return "", "", err
	}
	description, err = Required("описание заказа", description, MaxJobDescriptionLength)
	if err != nil {
		return "", "", err
	}
	return title, description, nil
}

// ValidateReference проверяет ссылку на результат работы или материал спора.
// Допускается как URL с http(s), так и идентификатор файла без пробелов.
func ValidateReference(fieldName, ref string) (string, error) {
	ref, err := Required(fieldName, ref, MaxReferenceLength)
	if err != nil {
		return "", err
	}

	if strings.IndexFunc(ref, unicode.IsSpace) >= 0 || strings.IndexFunc(ref, unicode.IsControl) >= 0 {
		return "", fmt.Errorf("%s не должна содержать пробелов", fieldName)
	}

	if !strings.Contains(ref, "://") {
		return ref, nil
	}

	parsedURL, err := url.Parse(ref)
	if err != nil {
		return "", fmt.Errorf("некорректный формат URL")
	}
	if parsedURL.Scheme != "http" && parsedURL.Scheme != "https" {
		return "", fmt.Errorf("ссылка должна начинаться с http:// или https://")
	}
	if parsedURL.Host == "" {
		return "", fmt.Errorf("ссылка должна содержать доменное имя")
	}
	return ref, nil
}
