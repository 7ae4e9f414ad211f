package utils

import (
	"fmt"
	"regexp"
	"strings"
)

// validator.go - валидация данных
//
// Назначение:
// Проверка параметров наборов правил и входных данных API.
//
// Функции:
// - ValidatePercentage: процент в диапазоне [0, 100]
// - ValidateRatio: доля в диапазоне [0, 1]
// - ValidateNonNegative: неотрицательное число
// - ValidateGroup: имя группы счетов
// - ValidateClock: время суток HH:MM
// - ValidateOperator: идентификатор оператора
//
// Ошибки нескольких полей собираются в ValidationErrors.

// FieldError - ошибка валидации одного поля
type FieldError struct {
	Field   string
	Message string
}

func (e FieldError) Error() string {
	return e.Field + ": " + e.Message
}

// ValidationErrors - набор ошибок валидации
type ValidationErrors []FieldError

func (v ValidationErrors) Error() string {
	parts := make([]string, len(v))
	for i, e := range v {
		parts[i] = e.Error()
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// Add добавляет ошибку поля если err != nil
func (v *ValidationErrors) Add(field string, err error) {
	if err != nil {
		*v = append(*v, FieldError{Field: field, Message: err.Error()})
	}
}

// Err возвращает nil если ошибок нет
func (v ValidationErrors) Err() error {
	if len(v) == 0 {
		return nil
	}
	return v
}

var groupPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9_\-]{0,63}$`)

// ValidatePercentage проверяет процент (0 - 100)
func ValidatePercentage(pct float64) error {
	if pct < 0 || pct > 100 {
		return fmt.Errorf("must be between 0 and 100, got %v", pct)
	}
	return nil
}

// ValidateRatio проверяет долю (0 - 1)
func ValidateRatio(r float64) error {
	if r < 0 || r > 1 {
		return fmt.Errorf("must be between 0 and 1, got %v", r)
	}
	return nil
}

// ValidateNonNegative проверяет что число не отрицательное
func ValidateNonNegative(v float64) error {
	if v < 0 {
		return fmt.Errorf("must not be negative, got %v", v)
	}
	return nil
}

// ValidateGroup проверяет имя группы счетов (lite, prime, prime_phase2)
func ValidateGroup(group string) error {
	if group == "" {
		return fmt.Errorf("group is required")
	}
	if !groupPattern.MatchString(group) {
		return fmt.Errorf("invalid group %q: lowercase letters, digits, '_' and '-' only", group)
	}
	return nil
}

// ValidateClock проверяет время суток HH:MM
func ValidateClock(s string) error {
	_, err := ParseClock(s)
	return err
}

// ValidateOperator проверяет идентификатор оператора для аудита
func ValidateOperator(op string) error {
	op = strings.TrimSpace(op)
	if op == "" {
		return fmt.Errorf("operator is required")
	}
	if len(op) > 128 {
		return fmt.Errorf("operator is too long")
	}
	return nil
}
