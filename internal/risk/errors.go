package risk

import (
	"context"
	"errors"
	"fmt"
)

// ============================================================
// Классы ошибок обработки счёта
// ============================================================
//
// DataIntegrityError  - данные счёта противоречивы, счёт исключается без retry
// TransientIOError    - сбой хранилища или сети, повторяется с backoff
// ConfigurationError  - нет набора правил для группы, счёт исключается

// ErrorClass - класс ошибки для отчёта
type ErrorClass string

const (
	ClassNone          ErrorClass = ""
	ClassDataIntegrity ErrorClass = "data_integrity"
	ClassTransientIO   ErrorClass = "transient_io"
	ClassConfiguration ErrorClass = "configuration"
	ClassCanceled      ErrorClass = "canceled"
	ClassUnknown       ErrorClass = "unknown"
)

// Причины нарушения целостности
const (
	ReasonIncompleteHistory = "incomplete_history"
	ReasonCloseBeforeOpen   = "close_before_open"
	ReasonDuplicateTicket   = "duplicate_ticket"
	ReasonForeignTrade      = "foreign_trade"
	ReasonMissingAccount    = "missing_account"
)

// DataIntegrityError - противоречивые данные счёта
type DataIntegrityError struct {
	AccountID int64
	Ticket    int64
	Reason    string
	Detail    string
}

func (e *DataIntegrityError) Error() string {
	msg := fmt.Sprintf("account %d: %s", e.AccountID, e.Reason)
	if e.Ticket != 0 {
		msg += fmt.Sprintf(" (ticket %d)", e.Ticket)
	}
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	return msg
}

// Retryable - ошибки данных не повторяются
func (e *DataIntegrityError) Retryable() bool { return false }

// TransientIOError - временный сбой чтения или записи
type TransientIOError struct {
	Op  string
	Err error
}

func (e *TransientIOError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *TransientIOError) Unwrap() error { return e.Err }

// Retryable - временные ошибки повторяются
func (e *TransientIOError) Retryable() bool { return true }

// Transient оборачивает ошибку хранилища в TransientIOError
//
// Ошибки, уже имеющие класс, и ошибки контекста возвращаются как есть.
func Transient(op string, err error) error {
	if err == nil {
		return nil
	}
	if Classify(err) != ClassUnknown {
		return err
	}
	return &TransientIOError{Op: op, Err: err}
}

// ConfigurationError - для группы нет действующего набора правил
type ConfigurationError struct {
	Group string
	Err   error
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("rule set for group %q: %v", e.Group, e.Err)
}

func (e *ConfigurationError) Unwrap() error { return e.Err }

// Retryable - ошибки конфигурации не повторяются
func (e *ConfigurationError) Retryable() bool { return false }

// Classify возвращает класс ошибки
func Classify(err error) ErrorClass {
	if err == nil {
		return ClassNone
	}

	var (
		di *DataIntegrityError
		tr *TransientIOError
		ce *ConfigurationError
	)
	switch {
	case errors.As(err, &di):
		return ClassDataIntegrity
	case errors.As(err, &ce):
		return ClassConfiguration
	case errors.As(err, &tr):
		return ClassTransientIO
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return ClassCanceled
	}
	return ClassUnknown
}

// IsTransient проверяет что ошибку имеет смысл повторить
func IsTransient(err error) bool {
	return Classify(err) == ClassTransientIO
}

// IsExcluding проверяет что счёт исключается из прогона без повторов
func IsExcluding(err error) bool {
	switch Classify(err) {
	case ClassDataIntegrity, ClassConfiguration:
		return true
	}
	return false
}
