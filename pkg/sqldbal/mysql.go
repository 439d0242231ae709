package sqldbal

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"database/sql/driver"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/hashicorp/go-multierror"

	"github.com/umputun/sqldbal/pkg/sqldbal/intsafe"
)

// mysqlAdapter is the MySQL-family network backend. It drives
// github.com/go-sql-driver/mysql's own driver.Connector directly rather than through database/sql, so
// that per-statement NumInput and the server's reported per-column max
// length/nullability are reachable.
type mysqlAdapter struct{}

type mysqlBackend struct {
	drvConn    driver.Conn
	autocommit bool
}

type mysqlStmtCtx struct {
	drvStmt     driver.Stmt
	sqlText     string
	isQuery     bool
	rows        driver.Rows
	curRow      []driver.Value
	exhausted   bool
	colMaxLen   []int64
	colNullable []bool
	result      driver.Result
}

// mysqlTLSSeq names each connection's registered TLS config uniquely, since
// mysql.RegisterTLSConfig keys a process-wide registry by name.
var mysqlTLSSeq int64

func buildMySQLTLS(keyFile, certFile, caFile, caPath string) (*tls.Config, error) {
	cfg := &tls.Config{}
	if caFile != "" || caPath != "" {
		pool := x509.NewCertPool()
		if caFile != "" {
			pem, err := os.ReadFile(caFile)
			if err != nil {
				return nil, fmt.Errorf("mysql: reading TLS_CA: %w", err)
			}
			if !pool.AppendCertsFromPEM(pem) {
				return nil, fmt.Errorf("mysql: TLS_CA %q contains no usable certificates", caFile)
			}
		}
		if caPath != "" {
			entries, err := os.ReadDir(caPath)
			if err != nil {
				return nil, fmt.Errorf("mysql: reading TLS_CAPATH: %w", err)
			}
			for _, entry := range entries {
				if entry.IsDir() {
					continue
				}
				pem, err := os.ReadFile(filepath.Join(caPath, entry.Name()))
				if err != nil {
					return nil, fmt.Errorf("mysql: reading TLS_CAPATH entry %q: %w", entry.Name(), err)
				}
				pool.AppendCertsFromPEM(pem)
			}
		}
		cfg.RootCAs = pool
	}
	if certFile != "" || keyFile != "" {
		if certFile == "" || keyFile == "" {
			return nil, newStatusError(StatusInvalidParameter, "mysql: TLS_CERT and TLS_KEY must be supplied together")
		}
		cert, err := tls.LoadX509KeyPair(certFile, keyFile)
		if err != nil {
			return nil, fmt.Errorf("mysql: loading TLS_CERT/TLS_KEY: %w", err)
		}
		cfg.Certificates = []tls.Certificate{cert}
	}
	return cfg, nil
}

func (a *mysqlAdapter) open(c *Conn, location, port, user, pwd, db string, _ OpenFlag, opts []Option) error {
	var connectTimeout, tlsKey, tlsCert, tlsCA, tlsCAPath, tlsCiphers string
	if err := collectOptions(opts, map[string]*string{
		"CONNECT_TIMEOUT": &connectTimeout,
		"TLS_KEY":         &tlsKey,
		"TLS_CERT":        &tlsCert,
		"TLS_CA":          &tlsCA,
		"TLS_CAPATH":      &tlsCAPath,
		"TLS_CIPHER":      &tlsCiphers,
	}); err != nil {
		return newStatusError(StatusInvalidParameter, "%s", err.Error())
	}

	cfg := mysql.NewConfig()
	cfg.User = user
	cfg.Passwd = pwd
	cfg.DBName = db
	cfg.Net = "tcp"
	cfg.ParseTime = false

	addr := location
	if port != "" {
		if _, err := intsafe.Uint16FromString(port); err != nil {
			return newStatusError(StatusInvalidParameter, "%s", err.Error())
		}
		addr = net.JoinHostPort(location, port)
	}
	cfg.Addr = addr

	if connectTimeout != "" {
		seconds, err := strconv.Atoi(connectTimeout)
		if err != nil {
			return newStatusError(StatusInvalidParameter, "mysql: CONNECT_TIMEOUT %q: %s", connectTimeout, err)
		}
		if seconds < 0 || seconds > 1000 {
			return newStatusError(StatusInvalidParameter, "mysql: CONNECT_TIMEOUT %d out of range [0, 1000]", seconds)
		}
		cfg.Timeout = time.Duration(seconds) * time.Second
	}

	if tlsKey != "" || tlsCert != "" || tlsCA != "" || tlsCAPath != "" {
		tlsCfg, err := buildMySQLTLS(tlsKey, tlsCert, tlsCA, tlsCAPath)
		if err != nil {
			return err
		}
		if tlsCiphers != "" {
			// TLS_CIPHER is accepted as a key but has no effect: the cipher
			// list is not applied to tlsCfg, which keeps the stdlib's
			// default cipher suites.
			_ = tlsCiphers
		}
		name := fmt.Sprintf("sqldbal-%d", atomic.AddInt64(&mysqlTLSSeq, 1))
		if err := mysql.RegisterTLSConfig(name, tlsCfg); err != nil {
			return fmt.Errorf("mysql: registering TLS config: %w", err)
		}
		cfg.TLSConfig = name
	}

	connector, err := mysql.NewConnector(cfg)
	if err != nil {
		return err
	}
	drvConn, err := connector.Connect(context.Background())
	if err != nil {
		return err
	}
	c.backend = &mysqlBackend{drvConn: drvConn, autocommit: true}
	if c.Tracef != nil {
		c.Tracef("mysql: opened %s", addr)
	}
	return nil
}

func (a *mysqlAdapter) close(c *Conn) error {
	b := c.backend.(*mysqlBackend)
	return b.drvConn.Close()
}

func (a *mysqlAdapter) dbHandle(c *Conn) any {
	return c.backend.(*mysqlBackend).drvConn
}

func (a *mysqlAdapter) begin(c *Conn) error {
	b := c.backend.(*mysqlBackend)
	if err := directExec(b.drvConn, "SET autocommit=0"); err != nil {
		return err
	}
	b.autocommit = false
	return nil
}

func (a *mysqlAdapter) commit(c *Conn) error {
	b := c.backend.(*mysqlBackend)
	if err := directExec(b.drvConn, "COMMIT"); err != nil {
		return err
	}
	err := directExec(b.drvConn, "SET autocommit=1")
	b.autocommit = true
	return err
}

func (a *mysqlAdapter) rollback(c *Conn) error {
	b := c.backend.(*mysqlBackend)
	if err := directExec(b.drvConn, "ROLLBACK"); err != nil {
		return err
	}
	err := directExec(b.drvConn, "SET autocommit=1")
	b.autocommit = true
	return err
}

func (a *mysqlAdapter) exec(c *Conn, sqlText string, cb RowCallback, userCtx any) error {
	b := c.backend.(*mysqlBackend)
	if c.Tracef != nil {
		c.Tracef("mysql: exec %s", sqlText)
	}
	return execWithCallback(b.drvConn, sqlText, cb, userCtx)
}

func (a *mysqlAdapter) lastInsertID(c *Conn, _ string) (uint64, error) {
	b := c.backend.(*mysqlBackend)
	row, err := execWithRows(b.drvConn, "SELECT LAST_INSERT_ID()")
	if err != nil {
		return 0, err
	}
	defer row.Close()
	v, err := row.Next()
	if err != nil {
		return 0, err
	}
	id, err := coerceInt64(v[0])
	if err != nil {
		return 0, err
	}
	return intsafe.Uint64FromInt64(id)
}

func (a *mysqlAdapter) stmtPrepare(c *Conn, s *Stmt, sqlText string) error {
	b := c.backend.(*mysqlBackend)
	drvStmt, err := b.drvConn.Prepare(sqlText)
	if err != nil {
		return err
	}
	ctx := &mysqlStmtCtx{drvStmt: drvStmt, sqlText: sqlText, isQuery: isQueryish(sqlText)}
	s.ctx = ctx
	s.paramCount = drvStmt.NumInput()
	if s.paramCount < 0 {
		s.paramCount = 0
	}
	return nil
}

func convertParamsMySQL(params []boundParam) []driver.Value {
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

func (a *mysqlAdapter) stmtBindBlob(s *Stmt, idx int, data []byte) error {
	return bindGeneric(s, idx, boundParam{kind: paramBlob, blob: data})
}

func (a *mysqlAdapter) stmtBindInt64(s *Stmt, idx int, v int64) error {
	return bindGeneric(s, idx, boundParam{kind: paramInt64, i64: v})
}

func (a *mysqlAdapter) stmtBindText(s *Stmt, idx int, value string) error {
	return bindGeneric(s, idx, boundParam{kind: paramText, text: value})
}

func (a *mysqlAdapter) stmtBindNull(s *Stmt, idx int) error {
	return bindGeneric(s, idx, boundParam{kind: paramNull})
}

func (a *mysqlAdapter) stmtExecute(s *Stmt) error {
	ctx := s.ctx.(*mysqlStmtCtx)
	if ctx.rows != nil {
		ctx.rows.Close()
		ctx.rows = nil
	}
	ctx.exhausted = false
	ctx.result = nil

	vals := convertParamsMySQL(s.params)
	if !ctx.isQuery {
		result, err := ctx.drvStmt.Exec(vals)
		if err != nil {
			return err
		}
		ctx.result = result
		return nil
	}

	rows, err := ctx.drvStmt.Query(vals)
	if err != nil {
		return err
	}
	ctx.rows = rows
	cols := rows.Columns()
	s.colCount = len(cols)

	// When the driver exposes column metadata, the per-column max length and
	// nullability are recorded for MySQLColumnMaxLength/MySQLColumnNullable;
	// nothing in the adapter checks fetched values against them.
	ctx.colMaxLen = make([]int64, len(cols))
	ctx.colNullable = make([]bool, len(cols))
	if lt, ok := rows.(driver.RowsColumnTypeLength); ok {
		for i := range cols {
			length, lok := lt.ColumnTypeLength(i)
			if lok {
				if _, cerr := intsafe.IntFromInt64(length); cerr == nil {
					ctx.colMaxLen[i] = length
				}
			}
		}
	}
	if nt, ok := rows.(driver.RowsColumnTypeNullable); ok {
		for i := range cols {
			nullable, nok := nt.ColumnTypeNullable(i)
			ctx.colNullable[i] = nok && nullable
		}
	}
	return nil
}

// MySQLColumnMaxLength is an escape hatch: the server-reported maximum byte
// length for result column idx, populated after Execute when the driver
// exposes driver.RowsColumnTypeLength. ok is false on a non-MySQL statement,
// before Execute, or when idx is out of range; a column whose length the
// server did not report reads as length 0 with ok true.
func (s *Stmt) MySQLColumnMaxLength(idx int) (length int64, ok bool) {
	if s.conn.tag != DriverMySQL || s.conn.isSentinel() {
		return 0, false
	}
	ctx, ok := s.ctx.(*mysqlStmtCtx)
	if !ok || idx < 0 || idx >= len(ctx.colMaxLen) {
		return 0, false
	}
	return ctx.colMaxLen[idx], true
}

// MySQLColumnNullable is an escape hatch: whether the server reported result
// column idx as nullable, populated after Execute when the driver exposes
// driver.RowsColumnTypeNullable. ok is false on a non-MySQL statement, before
// Execute, or when idx is out of range; a column whose nullability the server
// did not report reads as not nullable with ok true.
func (s *Stmt) MySQLColumnNullable(idx int) (nullable, ok bool) {
	if s.conn.tag != DriverMySQL || s.conn.isSentinel() {
		return false, false
	}
	ctx, ok := s.ctx.(*mysqlStmtCtx)
	if !ok || idx < 0 || idx >= len(ctx.colNullable) {
		return false, false
	}
	return ctx.colNullable[idx], true
}

func (a *mysqlAdapter) stmtFetch(s *Stmt) (FetchResult, error) {
	ctx := s.ctx.(*mysqlStmtCtx)
	if ctx.rows == nil || ctx.exhausted {
		return FetchDone, nil
	}
	cols := ctx.rows.Columns()
	vals := make([]driver.Value, len(cols))
	err := ctx.rows.Next(vals)
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

func (a *mysqlAdapter) stmtColumnBlob(s *Stmt, idx int) ([]byte, error) {
	ctx := s.ctx.(*mysqlStmtCtx)
	return coerceBlob(ctx.curRow[idx]), nil
}

func (a *mysqlAdapter) stmtColumnInt64(s *Stmt, idx int) (int64, error) {
	ctx := s.ctx.(*mysqlStmtCtx)
	return coerceInt64(ctx.curRow[idx])
}

func (a *mysqlAdapter) stmtColumnText(s *Stmt, idx int) (string, bool, error) {
	ctx := s.ctx.(*mysqlStmtCtx)
	text, isNull := coerceText(ctx.curRow[idx])
	return text, isNull, nil
}

// stmtColumnType collapses to the network backend's reduced reporting: NULL
// is reported precisely, everything else is ColumnTypeBlob since the wire
// protocol does not hand the core a self-describing tagged value the way
// the embedded engine does.
func (a *mysqlAdapter) stmtColumnType(s *Stmt, idx int) ColumnType {
	ctx := s.ctx.(*mysqlStmtCtx)
	if ctx.curRow[idx] == nil {
		return ColumnTypeNull
	}
	return ColumnTypeBlob
}

func (a *mysqlAdapter) stmtClose(s *Stmt) error {
	ctx, ok := s.ctx.(*mysqlStmtCtx)
	if !ok || ctx == nil {
		return nil
	}
	var errs *multierror.Error
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

func (a *mysqlAdapter) stmtHandle(s *Stmt) any {
	ctx, ok := s.ctx.(*mysqlStmtCtx)
	if !ok {
		return nil
	}
	return ctx.drvStmt
}
