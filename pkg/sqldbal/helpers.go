package sqldbal

import (
	"context"
	"database/sql/driver"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"
)

// errCallbackAbort is returned internally when a RowCallback asks Exec to
// stop; it surfaces to the caller as an exec-failed status, matching
// sqlite3_exec's SQLITE_ABORT behavior when its callback does the same.
var errCallbackAbort = errors.New("sqldbal: row callback requested abort")

// optionError marks an unrecognized option key. An unknown key sets status
// invalid-parameter but must not abort processing of the other, recognized
// keys already applied.
type optionError struct{ key string }

func (e *optionError) Error() string { return fmt.Sprintf("unrecognized option key %q", e.key) }

// collectOptions copies each Option whose key is present in known into the
// pointed-to string, continuing past unrecognized keys and returning the
// first one encountered (nil if every key was recognized).
func collectOptions(opts []Option, known map[string]*string) error {
	var firstErr error
	for _, o := range opts {
		dst, ok := known[o.Key]
		if !ok {
			if firstErr == nil {
				firstErr = &optionError{key: o.Key}
			}
			continue
		}
		*dst = o.Value
	}
	return firstErr
}

// isQueryish guesses, from SQL text alone, whether a statement produces a
// result set. The core never parses or rewrites SQL; this is a shallow
// keyword sniff used only to decide whether to drive a statement through
// Query or Exec at the driver.Stmt/driver.Conn level.
func isQueryish(sqlText string) bool {
	trimmed := strings.TrimSpace(sqlText)
	trimmed = strings.TrimLeft(trimmed, "(")
	upper := strings.ToUpper(trimmed)
	for _, prefix := range []string{"SELECT", "PRAGMA", "WITH", "EXPLAIN", "SHOW", "VALUES"} {
		if strings.HasPrefix(upper, prefix) {
			return true
		}
	}
	return false
}

// directExec runs a self-contained, argument-less SQL string against a
// driver.Conn, used for the literal BEGIN/COMMIT/ROLLBACK/DEALLOCATE/SET
// statements the adapters issue outside the prepared-statement path.
func directExec(conn driver.Conn, sqlText string) error {
	if execer, ok := conn.(driver.ExecerContext); ok {
		_, err := execer.ExecContext(context.Background(), sqlText, nil)
		return err
	}
	if execer, ok := conn.(driver.Execer); ok { //nolint:staticcheck // legacy driver.Execer still required for direct exec
		_, err := execer.Exec(sqlText, nil)
		return err
	}
	stmt, err := conn.Prepare(sqlText)
	if err != nil {
		return err
	}
	defer stmt.Close()
	_, err = stmt.Exec(nil)
	return err
}

// execWithCallback runs a self-contained SQL string, invoking cb once per
// result row when the statement produces one.
func execWithCallback(conn driver.Conn, sqlText string, cb RowCallback, userCtx any) error {
	stmt, err := conn.Prepare(sqlText)
	if err != nil {
		return err
	}
	defer stmt.Close()

	if !isQueryish(sqlText) {
		_, err := stmt.Exec(nil)
		return err
	}

	rows, err := stmt.Query(nil)
	if err != nil {
		return err
	}
	defer rows.Close()

	cols := rows.Columns()
	vals := make([]driver.Value, len(cols))
	for {
		nerr := rows.Next(vals)
		if nerr == io.EOF {
			return nil
		}
		if nerr != nil {
			return nerr
		}
		if cb != nil {
			nstrs := make([]NullString, len(cols))
			lens := make([]int, len(cols))
			for i, v := range vals {
				str, isNull := coerceText(v)
				nstrs[i] = NullString{Valid: !isNull, Value: str}
				lens[i] = len(str)
			}
			if rc := cb(userCtx, nstrs, lens); rc != 0 {
				return errCallbackAbort
			}
		}
	}
}

// coerceBlob renders a driver.Value as raw bytes for the blob column
// accessor. Backend-specific decoding (e.g. PostgreSQL's bytea hex escape)
// happens above this, in the adapter's own stmtColumnBlob.
func coerceBlob(v driver.Value) []byte {
	switch t := v.(type) {
	case nil:
		return nil
	case []byte:
		return t
	case string:
		return []byte(t)
	default:
		return []byte(fmt.Sprintf("%v", t))
	}
}

// coerceInt64 parses a driver.Value as a 64-bit integer, strict about
// overflow and malformed text, per coerce-failed contract.
func coerceInt64(v driver.Value) (int64, error) {
	switch t := v.(type) {
	case nil:
		return 0, nil
	case int64:
		return t, nil
	case float64:
		return int64(t), nil
	case bool:
		if t {
			return 1, nil
		}
		return 0, nil
	case []byte:
		return strconv.ParseInt(strings.TrimSpace(string(t)), 10, 64)
	case string:
		return strconv.ParseInt(strings.TrimSpace(t), 10, 64)
	default:
		return 0, fmt.Errorf("value of type %T is not coercible to int64", t)
	}
}

// coerceText renders a driver.Value as text, reporting whether the column
// was NULL (a NULL is reported as ("", true), matching the "pointer = none,
// length = 0" contract for text/blob on NULL).
func coerceText(v driver.Value) (string, bool) {
	switch t := v.(type) {
	case nil:
		return "", true
	case string:
		return t, false
	case []byte:
		return string(t), false
	case int64:
		return strconv.FormatInt(t, 10), false
	case float64:
		return strconv.FormatFloat(t, 'g', -1, 64), false
	case bool:
		if t {
			return "1", false
		}
		return "0", false
	case time.Time:
		return t.Format(time.RFC3339Nano), false
	default:
		return fmt.Sprintf("%v", t), false
	}
}

// bindGeneric installs a positional parameter into a statement's bound
// parameter slot, shared by every adapter's stmtBind* method. The index has
// already been range-checked by the Stmt façade.
func bindGeneric(s *Stmt, idx int, p boundParam) error {
	s.params[idx] = p
	return nil
}
