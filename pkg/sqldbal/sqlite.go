package sqldbal

import (
	"database/sql/driver"
	"errors"
	"fmt"
	"io"
	"net/url"
	"time"

	"github.com/hashicorp/go-multierror"
	"modernc.org/sqlite"
)

// sqliteBusyCode is SQLITE_BUSY's value in SQLite's stable public C ABI
// (see sqlite3.h), not an implementation detail of modernc.org/sqlite; it is
// hardcoded here rather than imported because the driver package exposes it
// only as an untyped numeric error code.
const sqliteBusyCode = 5

const sqliteBusyRetries = 10

// sqliteAdapter is the embedded, file-based engine backend. It drives
// modernc.org/sqlite's database/sql/driver implementation directly, so that
// per-statement parameter and result-column counts (driver.Stmt.NumInput,
// driver.Rows.Columns) are visible to the core.
type sqliteAdapter struct{}

type sqliteBackend struct {
	drvConn driver.Conn
}

type sqliteStmtCtx struct {
	drvStmt    driver.Stmt
	sqlText    string
	isQuery    bool
	rows       driver.Rows
	exhausted  bool
	probedRows driver.Rows
	curRow     []driver.Value
	result     driver.Result
}

// buildSQLiteDSN translates location/flags/opts into the file: URI form
// modernc.org/sqlite accepts, so the open mode and an optional VFS name
// are expressed without string-concatenating raw SQL.
func buildSQLiteDSN(location string, flags OpenFlag, opts []Option) (string, error) {
	if location == "" {
		return "", newStatusError(StatusInvalidParameter, "sqlite: location must not be empty")
	}

	var vfs string
	if err := collectOptions(opts, map[string]*string{"VFS": &vfs}); err != nil {
		return "", newStatusError(StatusInvalidParameter, "%s", err.Error())
	}

	if location == ":memory:" {
		return location, nil
	}

	q := url.Values{}
	switch {
	case flags&FlagSQLiteReadOnly != 0:
		q.Set("mode", "ro")
	case flags&FlagSQLiteCreate != 0:
		q.Set("mode", "rwc")
	case flags&FlagSQLiteReadWrite != 0:
		q.Set("mode", "rw")
	}
	if vfs != "" {
		q.Set("vfs", vfs)
	}
	if len(q) == 0 {
		return location, nil
	}
	return "file:" + location + "?" + q.Encode(), nil
}

func isSQLiteBusy(err error) bool {
	var se *sqlite.Error
	if errors.As(err, &se) {
		return se.Code() == sqliteBusyCode
	}
	return false
}

// busyRetry wraps a single backend round trip with bounded
// retry on SQLITE_BUSY: one attempt plus up to sqliteBusyRetries retries,
// 10ms apart, before giving up and surfacing the last error.
func busyRetry(fn func() error) error {
	err := fn()
	for retry := 0; retry < sqliteBusyRetries && err != nil && isSQLiteBusy(err); retry++ {
		time.Sleep(10 * time.Millisecond)
		err = fn()
	}
	return err
}

func (a *sqliteAdapter) open(c *Conn, location, _, _, _, _ string, flags OpenFlag, opts []Option) error {
	dsn, err := buildSQLiteDSN(location, flags, opts)
	if err != nil {
		return err
	}
	drvConn, err := (&sqlite.Driver{}).Open(dsn)
	if err != nil {
		return err
	}
	c.backend = &sqliteBackend{drvConn: drvConn}
	if c.Tracef != nil {
		c.Tracef("sqlite: opened %s", dsn)
	}
	return nil
}

func (a *sqliteAdapter) close(c *Conn) error {
	b := c.backend.(*sqliteBackend)
	return b.drvConn.Close()
}

func (a *sqliteAdapter) dbHandle(c *Conn) any {
	return c.backend.(*sqliteBackend).drvConn
}

func (a *sqliteAdapter) begin(c *Conn) error {
	return directExec(c.backend.(*sqliteBackend).drvConn, "BEGIN")
}

func (a *sqliteAdapter) commit(c *Conn) error {
	return directExec(c.backend.(*sqliteBackend).drvConn, "COMMIT")
}

func (a *sqliteAdapter) rollback(c *Conn) error {
	return directExec(c.backend.(*sqliteBackend).drvConn, "ROLLBACK")
}

func (a *sqliteAdapter) exec(c *Conn, sqlText string, cb RowCallback, userCtx any) error {
	b := c.backend.(*sqliteBackend)
	if c.Tracef != nil {
		c.Tracef("sqlite: exec %s", sqlText)
	}
	return busyRetry(func() error { return execWithCallback(b.drvConn, sqlText, cb, userCtx) })
}

func (a *sqliteAdapter) lastInsertID(c *Conn, _ string) (uint64, error) {
	b := c.backend.(*sqliteBackend)
	var id int64
	err := busyRetry(func() error {
		row, qerr := execWithRows(b.drvConn, "SELECT last_insert_rowid()")
		if qerr != nil {
			return qerr
		}
		defer row.Close()
		v, ferr := row.Next()
		if ferr != nil {
			return ferr
		}
		parsed, cerr := coerceInt64(v[0])
		if cerr != nil {
			return cerr
		}
		id = parsed
		return nil
	})
	if err != nil {
		return 0, err
	}
	if id < 0 {
		return 0, fmt.Errorf("sqlite: negative rowid %d", id)
	}
	return uint64(id), nil
}

func (a *sqliteAdapter) stmtPrepare(c *Conn, s *Stmt, sqlText string) error {
	b := c.backend.(*sqliteBackend)
	var drvStmt driver.Stmt
	err := busyRetry(func() error {
		var perr error
		drvStmt, perr = b.drvConn.Prepare(sqlText)
		return perr
	})
	if err != nil {
		return err
	}
	ctx := &sqliteStmtCtx{drvStmt: drvStmt, sqlText: sqlText, isQuery: isQueryish(sqlText)}
	s.ctx = ctx
	s.paramCount = drvStmt.NumInput()
	if s.paramCount < 0 {
		s.paramCount = 0
	}

	// The embedded engine can report result columns before the first
	// execute for a zero-parameter row-returning statement; doing so here
	// lets ResultColumnCount be meaningful immediately after Prepare. The
	// probe's driver.Rows is kept and consumed by the first Execute instead
	// of run twice.
	if ctx.isQuery && s.paramCount == 0 {
		rows, qerr := drvStmt.Query(nil)
		if qerr == nil {
			ctx.probedRows = rows
			s.colCount = len(rows.Columns())
		}
	}
	return nil
}

func convertParamsSQLite(params []boundParam) []driver.Value {
	vals := make([]driver.Value, len(params))
	for i, p := range params {
		switch p.kind {
		case paramInt64:
			vals[i] = p.i64
		case paramText:
			vals[i] = p.text
		case paramBlob:
			vals[i] = p.blob
		default:
			vals[i] = nil
		}
	}
	return vals
}

func (a *sqliteAdapter) stmtBindBlob(s *Stmt, idx int, data []byte) error {
	return bindGeneric(s, idx, boundParam{kind: paramBlob, blob: data})
}

func (a *sqliteAdapter) stmtBindInt64(s *Stmt, idx int, v int64) error {
	return bindGeneric(s, idx, boundParam{kind: paramInt64, i64: v})
}

func (a *sqliteAdapter) stmtBindText(s *Stmt, idx int, value string) error {
	return bindGeneric(s, idx, boundParam{kind: paramText, text: value})
}

func (a *sqliteAdapter) stmtBindNull(s *Stmt, idx int) error {
	return bindGeneric(s, idx, boundParam{kind: paramNull})
}

func (a *sqliteAdapter) stmtExecute(s *Stmt) error {
	ctx := s.ctx.(*sqliteStmtCtx)
	if ctx.rows != nil {
		ctx.rows.Close()
		ctx.rows = nil
	}
	ctx.exhausted = false
	ctx.result = nil

	if ctx.probedRows != nil {
		ctx.rows = ctx.probedRows
		ctx.probedRows = nil
		s.colCount = len(ctx.rows.Columns())
		return nil
	}

	vals := convertParamsSQLite(s.params)
	if ctx.isQuery {
		return busyRetry(func() error {
			rows, err := ctx.drvStmt.Query(vals)
			if err != nil {
				return err
			}
			ctx.rows = rows
			s.colCount = len(rows.Columns())
			return nil
		})
	}
	return busyRetry(func() error {
		result, err := ctx.drvStmt.Exec(vals)
		if err != nil {
			return err
		}
		ctx.result = result
		return nil
	})
}

func (a *sqliteAdapter) stmtFetch(s *Stmt) (FetchResult, error) {
	ctx := s.ctx.(*sqliteStmtCtx)
	if ctx.rows == nil || ctx.exhausted {
		return FetchDone, nil
	}
	cols := ctx.rows.Columns()
	vals := make([]driver.Value, len(cols))
	err := busyRetry(func() error { return ctx.rows.Next(vals) })
	if err == io.EOF {
		ctx.exhausted = true
		return FetchDone, nil
	}
	if err != nil {
		return FetchError, err
	}
	ctx.curRow = vals
	return FetchRow, nil
}

func (a *sqliteAdapter) stmtColumnBlob(s *Stmt, idx int) ([]byte, error) {
	ctx := s.ctx.(*sqliteStmtCtx)
	return coerceBlob(ctx.curRow[idx]), nil
}

func (a *sqliteAdapter) stmtColumnInt64(s *Stmt, idx int) (int64, error) {
	ctx := s.ctx.(*sqliteStmtCtx)
	return coerceInt64(ctx.curRow[idx])
}

func (a *sqliteAdapter) stmtColumnText(s *Stmt, idx int) (string, bool, error) {
	ctx := s.ctx.(*sqliteStmtCtx)
	text, isNull := coerceText(ctx.curRow[idx])
	return text, isNull, nil
}

func (a *sqliteAdapter) stmtColumnType(s *Stmt, idx int) ColumnType {
	ctx := s.ctx.(*sqliteStmtCtx)
	switch ctx.curRow[idx].(type) {
	case nil:
		return ColumnTypeNull
	case int64, bool:
		return ColumnTypeInt
	case string:
		return ColumnTypeText
	case []byte:
		return ColumnTypeBlob
	default:
		return ColumnTypeOther
	}
}

func (a *sqliteAdapter) stmtClose(s *Stmt) error {
	ctx, ok := s.ctx.(*sqliteStmtCtx)
	if !ok || ctx == nil {
		return nil
	}
	var errs *multierror.Error
	if ctx.probedRows != nil {
		if err := ctx.probedRows.Close(); err != nil {
			errs = multierror.Append(errs, err)
		}
	}
	if ctx.rows != nil {
		if err := ctx.rows.Close(); err != nil {
			errs = multierror.Append(errs, err)
		}
	}
	if ctx.drvStmt != nil {
		if err := ctx.drvStmt.Close(); err != nil {
			errs = multierror.Append(errs, err)
		}
	}
	return errs.ErrorOrNil()
}

func (a *sqliteAdapter) stmtHandle(s *Stmt) any {
	ctx, ok := s.ctx.(*sqliteStmtCtx)
	if !ok {
		return nil
	}
	return ctx.drvStmt
}

// execWithRows runs a self-contained, argument-less SQL query and returns a
// small one-shot cursor over it, used by lastInsertID and the PostgreSQL OID
// cache loader. rowsCloser.Next mirrors driver.Rows.Next's io.EOF contract.
type rowsCloser struct {
	stmt driver.Stmt
	rows driver.Rows
	cols []string
}

func (r *rowsCloser) Next() ([]driver.Value, error) {
	vals := make([]driver.Value, len(r.cols))
	if err := r.rows.Next(vals); err != nil {
		return nil, err
	}
	return vals, nil
}

func (r *rowsCloser) Close() error {
	var firstErr error
	if err := r.rows.Close(); err != nil {
		firstErr = err
	}
	if err := r.stmt.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

func execWithRows(conn driver.Conn, sqlText string) (*rowsCloser, error) {
	stmt, err := conn.Prepare(sqlText)
	if err != nil {
		return nil, err
	}
	rows, err := stmt.Query(nil)
	if err != nil {
		stmt.Close()
		return nil, err
	}
	return &rowsCloser{stmt: stmt, rows: rows, cols: rows.Columns()}, nil
}
