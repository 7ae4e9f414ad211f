package repository

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"

	jsoniter "github.com/json-iterator/go"
	"github.com/lib/pq"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Коды SQLSTATE PostgreSQL
const (
	pqUniqueViolation = "23505"
)

// Классы SQLSTATE, при которых запрос имеет смысл повторить:
// 08 - потеря соединения, 40 - откат транзакции (serialization, deadlock),
// 53 - нехватка ресурсов, 57 - вмешательство оператора (рестарт, отмена)
var transientClasses = map[pq.ErrorClass]struct{}{
	"08": {},
	"40": {},
	"53": {},
	"57": {},
}

// isUniqueViolation проверяет, является ли ошибка нарушением UNIQUE constraint
func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == pqUniqueViolation
	}
	return err != nil && strings.Contains(err.Error(), "duplicate key")
}

// IsTransient проверяет что ошибка хранилища временная
//
// Ошибки PostgreSQL классифицируются по SQLSTATE, сетевые ошибки
// и разрыв соединения считаются временными. Ошибки запроса
// (синтаксис, ограничения) повторять бессмысленно.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		_, ok := transientClasses[pqErr.Code.Class()]
		return ok
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}

	return errors.Is(err, driver.ErrBadConn) ||
		errors.Is(err, sql.ErrConnDone) ||
		errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrUnexpectedEOF)
}

// withTx выполняет fn в транзакции, откатывая её при ошибке
func withTx(ctx context.Context, db *sql.DB, fn func(tx *sql.Tx) error) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}
