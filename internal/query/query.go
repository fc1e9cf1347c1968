// Package query provides conditional aggregation reads over tables: the
// MINIFS / MAXIFS / LOOKUP / SUMIFS / COUNTIFS primitives the scheduler is
// built on. All functions are read-only.
package query

import (
	"database/sql"
	"errors"
	"fmt"
	"reflect"
	"regexp"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Op is a comparison operator for a Predicate.
type Op string

const (
	OpEq  Op = "="
	OpGt  Op = ">"
	OpGte Op = ">="
	OpLt  Op = "<"
	OpLte Op = "<="
	OpIn  Op = "IN"
)

// Predicate is one filter condition. A predicate with a nil Value (untyped
// nil, nil pointer or nil slice) is omitted rather than matching nothing.
type Predicate struct {
	Column string
	Op     Op
	Value  interface{}
}

// Eq matches rows where column equals v.
func Eq(column string, v interface{}) Predicate { return Predicate{column, OpEq, v} }

// Gt matches rows where column > v.
func Gt(column string, v interface{}) Predicate { return Predicate{column, OpGt, v} }

// Gte matches rows where column >= v.
func Gte(column string, v interface{}) Predicate { return Predicate{column, OpGte, v} }

// Lt matches rows where column < v.
func Lt(column string, v interface{}) Predicate { return Predicate{column, OpLt, v} }

// Lte matches rows where column <= v.
func Lte(column string, v interface{}) Predicate { return Predicate{column, OpLte, v} }

// In matches rows where column is one of values. values must be a slice; a
// nil slice omits the predicate, an empty one matches nothing.
func In(column string, values interface{}) Predicate { return Predicate{column, OpIn, values} }

// TieBreakColumn orders candidate rows for LookupWhere.
const TieBreakColumn = "id"

var identRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// MinWhere returns the smallest value of column among matching rows, or nil
// if no row matches.
func MinWhere[T any](db *gorm.DB, table, column string, preds ...Predicate) (*T, error) {
	return aggregate[T](db, "MIN", table, column, preds)
}

// MaxWhere returns the largest value of column among matching rows, or nil
// if no row matches.
func MaxWhere[T any](db *gorm.DB, table, column string, preds ...Predicate) (*T, error) {
	return aggregate[T](db, "MAX", table, column, preds)
}

// LookupWhere returns column of the first matching row by ascending id, or
// nil if no row matches.
func LookupWhere[T any](db *gorm.DB, table, column string, preds ...Predicate) (*T, error) {
	q, err := scoped(db, table, column, preds)
	if err != nil {
		return nil, err
	}
	var v sql.Null[T]
	err = q.Select("?", clause.Column{Name: column}).
		Order(clause.OrderByColumn{Column: clause.Column{Name: TieBreakColumn}}).
		Limit(1).
		Row().
		Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query: lookup %s.%s: %w", table, column, err)
	}
	if !v.Valid {
		return nil, nil
	}
	return &v.V, nil
}

// SumWhere returns the sum of column over matching rows, zero if none.
func SumWhere(db *gorm.DB, table, column string, preds ...Predicate) (decimal.Decimal, error) {
	q, err := scoped(db, table, column, preds)
	if err != nil {
		return decimal.Zero, err
	}
	var v decimal.NullDecimal
	if err := q.Select("SUM(?)", clause.Column{Name: column}).Row().Scan(&v); err != nil {
		return decimal.Zero, fmt.Errorf("query: sum %s.%s: %w", table, column, err)
	}
	if !v.Valid {
		return decimal.Zero, nil
	}
	return v.Decimal, nil
}

// CountWhere returns the number of matching rows.
func CountWhere(db *gorm.DB, table string, preds ...Predicate) (int64, error) {
	q, err := scoped(db, table, "", preds)
	if err != nil {
		return 0, err
	}
	var n int64
	if err := q.Count(&n).Error; err != nil {
		return 0, fmt.Errorf("query: count %s: %w", table, err)
	}
	return n, nil
}

func aggregate[T any](db *gorm.DB, fn, table, column string, preds []Predicate) (*T, error) {
	q, err := scoped(db, table, column, preds)
	if err != nil {
		return nil, err
	}
	var v sql.Null[T]
	if err := q.Select(fn+"(?)", clause.Column{Name: column}).Row().Scan(&v); err != nil {
		return nil, fmt.Errorf("query: %s %s.%s: %w", fn, table, column, err)
	}
	if !v.Valid {
		return nil, nil
	}
	return &v.V, nil
}

// scoped validates identifiers and applies the non-omitted predicates.
func scoped(db *gorm.DB, table, column string, preds []Predicate) (*gorm.DB, error) {
	if !identRe.MatchString(table) {
		return nil, fmt.Errorf("query: invalid table name %q", table)
	}
	if column != "" && !identRe.MatchString(column) {
		return nil, fmt.Errorf("query: invalid column name %q", column)
	}

	q := db.Table(table)
	for _, p := range preds {
		expr, ok, err := p.expression()
		if err != nil {
			return nil, fmt.Errorf("query: %s: %w", table, err)
		}
		if ok {
			q = q.Where(expr)
		}
	}
	return q, nil
}

// expression converts a predicate into a gorm clause. ok is false when the
// predicate is omitted.
func (p Predicate) expression() (clause.Expression, bool, error) {
	if !identRe.MatchString(p.Column) {
		return nil, false, fmt.Errorf("invalid column name %q", p.Column)
	}
	if isNil(p.Value) {
		return nil, false, nil
	}

	col := clause.Column{Name: p.Column}
	v := deref(p.Value)
	switch p.Op {
	case OpEq:
		return clause.Eq{Column: col, Value: v}, true, nil
	case OpGt:
		return clause.Gt{Column: col, Value: v}, true, nil
	case OpGte:
		return clause.Gte{Column: col, Value: v}, true, nil
	case OpLt:
		return clause.Lt{Column: col, Value: v}, true, nil
	case OpLte:
		return clause.Lte{Column: col, Value: v}, true, nil
	case OpIn:
		rv := reflect.ValueOf(v)
		if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
			return nil, false, fmt.Errorf("IN on %s needs a slice, got %T", p.Column, v)
		}
		if rv.Len() == 0 {
			return clause.Expr{SQL: "1 = 0"}, true, nil
		}
		values := make([]interface{}, rv.Len())
		for i := range values {
			values[i] = rv.Index(i).Interface()
		}
		return clause.IN{Column: col, Values: values}, true, nil
	}
	return nil, false, fmt.Errorf("unknown operator %q", p.Op)
}

func isNil(v interface{}) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Slice, reflect.Map, reflect.Interface:
		return rv.IsNil()
	}
	return false
}

// deref unwraps a non-nil pointer so drivers see the plain value.
func deref(v interface{}) interface{} {
	rv := reflect.ValueOf(v)
	if rv.Kind() == reflect.Pointer {
		return rv.Elem().Interface()
	}
	return v
}
