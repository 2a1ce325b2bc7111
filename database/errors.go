/*
 * Copyright 2025 tomoncle.
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package database

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
)

var (
	// ErrNotFound is matched by every *NotFoundError.
	ErrNotFound = errors.New("datalayer: entity not found")
	// ErrValidation is matched by errors returned from validation hooks.
	ErrValidation = errors.New("datalayer: validation failed")
	// ErrConstraintViolation is matched by *ConstraintError.
	ErrConstraintViolation = errors.New("datalayer: constraint violation")
	// ErrConfiguration marks setup defects: unknown contexts, unmapped
	// entity types, missing procedure names, bad tags.
	ErrConfiguration = errors.New("datalayer: configuration error")
)

// NotFoundError is returned when an entity is absent for a key.
type NotFoundError struct {
	Entity string
	ID     any
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s with ID %v was not found", e.Entity, e.ID)
}

func (e *NotFoundError) Is(target error) bool { return target == ErrNotFound }

// IsNotFound reports whether err is, or wraps, a not found error.
func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }

type validationError struct{ msg string }

func (e *validationError) Error() string { return e.msg }
func (e *validationError) Is(target error) bool { return target == ErrValidation }

// NewValidationError returns an error matching ErrValidation whose message is
// msg verbatim, so it can be surfaced to callers as is.
func NewValidationError(msg string) error { return &validationError{msg: msg} }

type configurationError struct{ msg string }

func (e *configurationError) Error() string { return e.msg }
func (e *configurationError) Is(target error) bool { return target == ErrConfiguration }

func NewConfigurationError(format string, args ...any) error {
	return &configurationError{msg: fmt.Sprintf(format, args...)}
}

// IsConfigurationError reports whether err is, or wraps, a configuration error.
func IsConfigurationError(err error) bool { return errors.Is(err, ErrConfiguration) }

// ConstraintError is a commit failure caused by a unique or foreign key
// constraint. Err is the driver error.
type ConstraintError struct {
	Kind SQLError
	Err  error
}

func (e *ConstraintError) Error() string {
	switch e.Kind {
	case DuplicateKeyErr:
		return "A duplicate key value was detected, please verify your data."
	case ForeignKeyViolationErr:
		return "Relationship errors exist in the form, please verify your data."
	default:
		return e.Err.Error()
	}
}

func (e *ConstraintError) Unwrap() error { return e.Err }
func (e *ConstraintError) Is(target error) bool { return target == ErrConstraintViolation }

// ClassifyCommitError returns a *ConstraintError when err is a duplicate key or
// foreign key violation, and nil otherwise.
func ClassifyCommitError(err error) *ConstraintError {
	if err == nil {
		return nil
	}
	var ce *ConstraintError
	if errors.As(err, &ce) {
		return ce
	}
	if ok, kind := IsSqlError(err); ok && (kind == DuplicateKeyErr || kind == ForeignKeyViolationErr) {
		return &ConstraintError{Kind: kind, Err: err}
	}
	return nil
}

type SQLError int

const (
	UnknownErr SQLError = iota
	NoRowsErr
	NoIndexErr
	NoColumnErr
	ExistIndexErr
	ExistColumnErr
	NoTableErr
	ExistTableErr
	DuplicateKeyErr
	NotNullViolationErr
	ForeignKeyViolationErr
	CheckConstraintViolationErr
	DataTruncatedErr
	InvalidTypeCastErr
)

func (e SQLError) String() string {
	switch e {
	case NoRowsErr:
		return "no_rows"
	case NoIndexErr:
		return "no_index"
	case NoColumnErr:
		return "no_column"
	case ExistIndexErr:
		return "exist_index"
	case ExistColumnErr:
		return "exist_column"
	case NoTableErr:
		return "no_table"
	case ExistTableErr:
		return "exist_table"
	case DuplicateKeyErr:
		return "duplicate_key"
	case NotNullViolationErr:
		return "not_null_violation"
	case ForeignKeyViolationErr:
		return "foreign_key_violation"
	case CheckConstraintViolationErr:
		return "check_violation"
	case DataTruncatedErr:
		return "data_truncated"
	case InvalidTypeCastErr:
		return "invalid_type_cast"
	default:
		return "unknown"
	}
}

// IsSqlError classifies a driver error. MySQL errors are classified by
// number, PostgreSQL errors (lib/pq and pgx) by SQLSTATE, anything else,
// SQLite included, by message text.
func IsSqlError(err error) (is bool, sqlErr SQLError) {
	if err == nil {
		return false, UnknownErr
	}
	var mysqlErr *mysql.MySQLError
	if errors.As(err, &mysqlErr) {
		switch mysqlErr.Number {
		case 1091:
			return true, NoIndexErr
		case 1054:
			return true, NoColumnErr
		case 1061:
			return true, ExistIndexErr
		case 1060:
			return true, ExistColumnErr
		case 1062:
			return true, DuplicateKeyErr
		case 1048:
			return true, NotNullViolationErr
		case 1216, 1217, 1451, 1452:
			return true, ForeignKeyViolationErr
		case 3819:
			return true, CheckConstraintViolationErr
		case 1265:
			return true, DataTruncatedErr
		default:
			return true, UnknownErr
		}
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return true, classifySQLState(string(pqErr.Code))
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return true, classifySQLState(pgErr.Code)
	}

	s := strings.ToLower(err.Error())
	if strings.Contains(s, "sqlstate 42703") ||
		strings.Contains(s, "undefined column") ||
		strings.Contains(s, "no such column") {
		return true, NoColumnErr
	}
	if strings.Contains(s, "sqlstate 42p01") ||
		strings.Contains(s, "undefined table") ||
		strings.Contains(s, "no such table") {
		return true, NoTableErr
	}
	if strings.Contains(s, "duplicate key value") ||
		strings.Contains(s, "unique constraint failed") ||
		strings.Contains(s, "sqlstate 23505") {
		return true, DuplicateKeyErr
	}
	if strings.Contains(s, "not-null constraint") ||
		strings.Contains(s, "sqlstate 23502") ||
		strings.Contains(s, "not null constraint failed") {
		return true, NotNullViolationErr
	}
	if strings.Contains(s, "foreign key violation") ||
		strings.Contains(s, "foreign key constraint failed") ||
		strings.Contains(s, "sqlstate 23503") {
		return true, ForeignKeyViolationErr
	}
	if strings.Contains(s, "check constraint") ||
		strings.Contains(s, "sqlstate 23514") {
		return true, CheckConstraintViolationErr
	}
	if strings.Contains(s, "string data right truncation") ||
		strings.Contains(s, "sqlstate 22001") ||
		strings.Contains(s, "data truncated") {
		return true, DataTruncatedErr
	}
	return false, UnknownErr
}

func classifySQLState(code string) SQLError {
	switch strings.ToUpper(code) {
	case "23505":
		return DuplicateKeyErr
	case "23503":
		return ForeignKeyViolationErr
	case "23502":
		return NotNullViolationErr
	case "23514":
		return CheckConstraintViolationErr
	case "22001":
		return DataTruncatedErr
	case "42703":
		return NoColumnErr
	case "42P01":
		return NoTableErr
	case "42P07":
		return ExistTableErr
	case "42804":
		return InvalidTypeCastErr
	default:
		return UnknownErr
	}
}
