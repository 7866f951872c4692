package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"unicode"

	"github.com/MatejaMaric/esdb-denormalizer/projections"
)

var (
	ErrUnknownField = errors.New("unknown projection field")
	ErrNoKeys       = errors.New("table has no key fields")
)

// Queryer is satisfied by *sql.DB, *sql.Conn and *sql.Tx.
type Queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

type column struct {
	field string
	name  string
	index []int
	auto  bool
}

// Table maps projections of type P onto a SQL table. Columns come from the
// `db` struct tag, or the snake_cased field name. `db:"-"` skips a field and
// `db:"id,auto"` marks a column the database fills in (left out of INSERT and
// UPDATE).
type Table[P any] struct {
	name    string
	keys    []column
	columns []column
	byField map[string]column
	elem    reflect.Type
	pointer bool
}

func NewTable[P any](name string, keyFields ...string) (*Table[P], error) {
	t := reflect.TypeOf((*P)(nil)).Elem()
	pointer := t.Kind() == reflect.Pointer
	if pointer {
		t = t.Elem()
	}
	if t.Kind() != reflect.Struct {
		return nil, fmt.Errorf("projection type %s is not a struct", t)
	}

	table := &Table[P]{
		name:    name,
		byField: make(map[string]column),
		elem:    t,
		pointer: pointer,
	}

	for i := 0; i < t.NumField(); i++ {
		sf := t.Field(i)
		if !sf.IsExported() {
			continue
		}

		tag := sf.Tag.Get("db")
		if tag == "-" {
			continue
		}

		name, opts, _ := strings.Cut(tag, ",")
		if name == "" {
			name = snakeCase(sf.Name)
		}

		col := column{field: sf.Name, name: name, index: sf.Index, auto: opts == "auto"}
		table.columns = append(table.columns, col)
		table.byField[sf.Name] = col
	}

	for _, field := range keyFields {
		col, ok := table.byField[field]
		if !ok {
			return nil, fmt.Errorf("%w: %s.%s", ErrUnknownField, t, field)
		}
		table.keys = append(table.keys, col)
	}

	return table, nil
}

func (t *Table[P]) Store(q Queryer) *TableStore[P] {
	return &TableStore[P]{table: t, q: q}
}

// TableStore is a projections.Store over one table.
type TableStore[P any] struct {
	table *Table[P]
	q     Queryer
}

var _ projections.Store[any] = (*TableStore[any])(nil)

func (s *TableStore[P]) Read(ctx context.Context, filters projections.Filters) ([]P, error) {
	where, args, err := s.table.where(filters)
	if err != nil {
		return nil, err
	}

	names := make([]string, 0, len(s.table.columns))
	for _, col := range s.table.columns {
		names = append(names, quote(col.name))
	}

	query := fmt.Sprintf("SELECT %s FROM %s%s", strings.Join(names, ", "), quote(s.table.name), where)

	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to select from %s: %w", s.table.name, err)
	}
	defer rows.Close()

	var res []P
	for rows.Next() {
		ptr := reflect.New(s.table.elem)
		dest := make([]any, 0, len(s.table.columns))
		for _, col := range s.table.columns {
			dest = append(dest, ptr.Elem().FieldByIndex(col.index).Addr().Interface())
		}

		if err := rows.Scan(dest...); err != nil {
			return nil, fmt.Errorf("failed to scan the row: %w", err)
		}

		res = append(res, s.table.fromValue(ptr))
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows.Err(): %w", err)
	}

	return res, nil
}

func (s *TableStore[P]) Insert(ctx context.Context, projection P) error {
	v, err := s.table.structValue(projection)
	if err != nil {
		return err
	}

	var names, marks []string
	var args []any
	for _, col := range s.table.columns {
		if col.auto {
			continue
		}
		names = append(names, quote(col.name))
		marks = append(marks, "?")
		args = append(args, v.FieldByIndex(col.index).Interface())
	}

	query := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", quote(s.table.name), strings.Join(names, ", "), strings.Join(marks, ", "))

	if _, err := s.q.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to exec insert command: %w", err)
	}

	return nil
}

func (s *TableStore[P]) Update(ctx context.Context, projection P) error {
	if len(s.table.keys) == 0 {
		return ErrNoKeys
	}

	v, err := s.table.structValue(projection)
	if err != nil {
		return err
	}

	isKey := make(map[string]bool, len(s.table.keys))
	for _, col := range s.table.keys {
		isKey[col.field] = true
	}

	var sets, conds []string
	var args, keyArgs []any
	for _, col := range s.table.columns {
		switch {
		case isKey[col.field]:
			conds = append(conds, quote(col.name)+" = ?")
			keyArgs = append(keyArgs, v.FieldByIndex(col.index).Interface())
		case !col.auto:
			sets = append(sets, quote(col.name)+" = ?")
			args = append(args, v.FieldByIndex(col.index).Interface())
		}
	}

	if len(sets) == 0 {
		return nil
	}

	query := fmt.Sprintf("UPDATE %s SET %s WHERE %s", quote(s.table.name), strings.Join(sets, ", "), strings.Join(conds, " AND "))

	if _, err := s.q.ExecContext(ctx, query, append(args, keyArgs...)...); err != nil {
		return fmt.Errorf("failed to exec update command: %w", err)
	}

	return nil
}

func (s *TableStore[P]) Remove(ctx context.Context, filters projections.Filters) error {
	if len(filters) == 0 {
		return fmt.Errorf("%w: delete from %s", projections.ErrMissingFilter, s.table.name)
	}

	where, args, err := s.table.where(filters)
	if err != nil {
		return err
	}

	query := fmt.Sprintf("DELETE FROM %s%s", quote(s.table.name), where)

	if _, err := s.q.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to exec delete command: %w", err)
	}

	return nil
}

func (t *Table[P]) where(filters projections.Filters) (string, []any, error) {
	if len(filters) == 0 {
		return "", nil, nil
	}

	conds := make([]string, 0, len(filters))
	args := make([]any, 0, len(filters))
	for _, f := range filters {
		col, ok := t.byField[f.Field()]
		if !ok {
			return "", nil, fmt.Errorf("%w: %s.%s", ErrUnknownField, t.elem, f.Field())
		}
		conds = append(conds, quote(col.name)+" = ?")
		args = append(args, f.Value())
	}

	return " WHERE " + strings.Join(conds, " AND "), args, nil
}

func (t *Table[P]) structValue(projection P) (reflect.Value, error) {
	v := reflect.ValueOf(projection)
	if t.pointer {
		if v.IsNil() {
			return reflect.Value{}, fmt.Errorf("cannot store a nil %s", v.Type())
		}
		v = v.Elem()
	}
	return v, nil
}

func (t *Table[P]) fromValue(ptr reflect.Value) P {
	if t.pointer {
		return ptr.Interface().(P)
	}
	return ptr.Elem().Interface().(P)
}

func quote(identifier string) string {
	return "`" + strings.ReplaceAll(identifier, "`", "``") + "`"
}

// snakeCase turns LoginCount into login_count and UserID into user_id.
func snakeCase(name string) string {
	runes := []rune(name)
	var b strings.Builder
	for i, r := range runes {
		if unicode.IsUpper(r) {
			if i > 0 && (unicode.IsLower(runes[i-1]) || unicode.IsDigit(runes[i-1]) ||
				(i+1 < len(runes) && unicode.IsLower(runes[i+1]) && unicode.IsUpper(runes[i-1]))) {
				b.WriteByte('_')
			}
			r = unicode.ToLower(r)
		}
		b.WriteRune(r)
	}
	return b.String()
}
