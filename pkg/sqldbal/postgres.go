package sqldbal

import (
	"database/sql/driver"
	"encoding/hex"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"github.com/go-pkgz/stringutils"
	"github.com/hashicorp/go-multierror"
	"github.com/lib/pq"

	"github.com/umputun/sqldbal/pkg/sqldbal/intsafe"
)

// postgresAdapter is the PostgreSQL network backend. Unlike the other two,
// it does not hand prepared statements to lib/pq's own driver.Conn.Prepare:
// that method manages its own internal, anonymous statement names, which
// cannot be addressed by a caller-chosen statement name.
// Instead this adapter issues literal PREPARE/EXECUTE/DEALLOCATE statements
// it names itself, with every bound parameter rendered as a SQL literal
// (matching the wire protocol's own text-by-default parameter binding).
type postgresAdapter struct{}

type oidEntry struct {
	oid     int64
	typname string
}

type postgresBackend struct {
	drvConn  driver.Conn
	oidCache []oidEntry
	stmtSeq  int
}

type postgresStmtCtx struct {
	name      string
	sqlText   string
	isQuery   bool
	rows      driver.Rows
	curRow    []driver.Value
	colNames  []string
	exhausted bool
}

var pgSSLModes = map[string]bool{
	"disable": true, "allow": true, "prefer": true,
	"require": true, "verify-ca": true, "verify-full": true,
}

func quotePGValue(v string) string {
	if !strings.ContainsAny(v, " '\\") {
		return v
	}
	var b strings.Builder
	b.WriteByte('\'')
	for _, r := range v {
		if r == '\'' || r == '\\' {
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	b.WriteByte('\'')
	return b.String()
}

// buildPostgresConnString assembles a libpq key/value connection string
// from only the non-empty fields supplied.
func buildPostgresConnString(host, port, db, user, pwd, connectTimeout, tlsKey, tlsCert, tlsCA, sslMode string) (string, error) {
	type kv struct{ key, value string }
	fields := []kv{
		{"host", host},
		{"port", port},
		{"dbname", db},
		{"user", user},
		{"password", pwd},
		{"connect_timeout", connectTimeout},
		{"sslkey", tlsKey},
		{"sslcert", tlsCert},
		{"sslrootcert", tlsCA},
		{"sslmode", sslMode},
	}

	var b strings.Builder
	total := 0
	first := true
	for _, f := range fields {
		if f.value == "" {
			continue
		}
		piece := fmt.Sprintf("%s=%s", f.key, quotePGValue(f.value))
		grown, err := intsafe.AddSize(total, len(piece)+1)
		if err != nil {
			return "", err
		}
		total = grown
		if !first {
			b.WriteByte(' ')
		}
		first = false
		b.WriteString(piece)
	}
	return b.String(), nil
}

func (a *postgresAdapter) open(c *Conn, location, port, user, pwd, db string, _ OpenFlag, opts []Option) error {
	var connectTimeout, tlsKey, tlsCert, tlsCA, sslMode string
	if err := collectOptions(opts, map[string]*string{
		"CONNECT_TIMEOUT": &connectTimeout,
		"TLS_KEY":         &tlsKey,
		"TLS_CERT":        &tlsCert,
		"TLS_CA":          &tlsCA,
		"TLS_MODE":        &sslMode,
	}); err != nil {
		return newStatusError(StatusInvalidParameter, "%s", err.Error())
	}
	if sslMode != "" && !pgSSLModes[sslMode] {
		return newStatusError(StatusInvalidParameter, "postgres: unrecognized TLS_MODE %q", sslMode)
	}
	if port != "" {
		if _, err := intsafe.Uint16FromString(port); err != nil {
			return newStatusError(StatusInvalidParameter, "%s", err.Error())
		}
	}

	conninfo, err := buildPostgresConnString(location, port, db, user, pwd, connectTimeout, tlsKey, tlsCert, tlsCA, sslMode)
	if err != nil {
		return err
	}
	drvConn, err := (&pq.Driver{}).Open(conninfo)
	if err != nil {
		return err
	}
	b := &postgresBackend{drvConn: drvConn}
	if err := loadOIDCache(b); err != nil {
		drvConn.Close()
		return err
	}
	c.backend = b
	if c.Tracef != nil {
		c.Tracef("postgres: opened host=%s dbname=%s", location, db)
	}
	return nil
}

// loadOIDCache populates the oid -> type-name table used by TypeNameForOID.
// The cache is stored oid-ascending and looked up by linear scan, matching
// the original's choice not to binary-search it despite the sort (see
// DESIGN.md).
func loadOIDCache(b *postgresBackend) error {
	rc, err := execWithRows(b.drvConn, "SELECT oid, typname FROM pg_type ORDER BY oid ASC")
	if err != nil {
		return err
	}
	defer rc.Close()
	for {
		vals, err := rc.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return err
		}
		oid, err := coerceInt64(vals[0])
		if err != nil {
			return err
		}
		name, _ := coerceText(vals[1])
		b.oidCache = append(b.oidCache, oidEntry{oid: oid, typname: stringutils.Truncate(name, 48)})
	}
	sort.Slice(b.oidCache, func(i, j int) bool { return b.oidCache[i].oid < b.oidCache[j].oid })
	return nil
}

// TypeNameForOID is an escape hatch: a linear scan over the connection's
// oid cache, exposed for callers that read a raw OID off a result column
// (via Handle) and need its Postgres type name.
func (c *Conn) TypeNameForOID(oid int64) (string, bool) {
	if c.tag != DriverPostgres || c.isSentinel() {
		return "", false
	}
	b := c.backend.(*postgresBackend)
	for _, e := range b.oidCache {
		if e.oid == oid {
			return e.typname, true
		}
	}
	return "", false
}

func (a *postgresAdapter) close(c *Conn) error {
	b := c.backend.(*postgresBackend)
	return b.drvConn.Close()
}

func (a *postgresAdapter) dbHandle(c *Conn) any {
	return c.backend.(*postgresBackend).drvConn
}

func (a *postgresAdapter) begin(c *Conn) error {
	return directExec(c.backend.(*postgresBackend).drvConn, "BEGIN")
}

func (a *postgresAdapter) commit(c *Conn) error {
	return directExec(c.backend.(*postgresBackend).drvConn, "COMMIT")
}

func (a *postgresAdapter) rollback(c *Conn) error {
	return directExec(c.backend.(*postgresBackend).drvConn, "ROLLBACK")
}

func (a *postgresAdapter) exec(c *Conn, sqlText string, cb RowCallback, userCtx any) error {
	b := c.backend.(*postgresBackend)
	if c.Tracef != nil {
		c.Tracef("postgres: exec %s", sqlText)
	}
	return execWithCallback(b.drvConn, sqlText, cb, userCtx)
}

// lastInsertID requires sequence on PostgreSQL: there is no
// backend-wide "last row id" concept, only per-sequence currval().
func (a *postgresAdapter) lastInsertID(c *Conn, sequence string) (uint64, error) {
	if sequence == "" {
		return 0, newStatusError(StatusInvalidParameter, "postgres: last_insert_id requires a sequence name")
	}
	b := c.backend.(*postgresBackend)
	rc, err := execWithRows(b.drvConn, fmt.Sprintf("SELECT currval(%s)", quotePGLiteralText(sequence)))
	if err != nil {
		return 0, err
	}
	defer rc.Close()
	vals, err := rc.Next()
	if err != nil {
		return 0, err
	}
	id, err := coerceInt64(vals[0])
	if err != nil {
		return 0, err
	}
	return intsafe.Uint64FromInt64(id)
}

// countDollarPlaceholders finds the highest $N referenced in sqlText,
// sufficient to size the statement's parameter slots without parsing SQL.
func countDollarPlaceholders(sqlText string) int {
	max := 0
	for i := 0; i < len(sqlText); i++ {
		if sqlText[i] != '$' {
			continue
		}
		j := i + 1
		for j < len(sqlText) && sqlText[j] >= '0' && sqlText[j] <= '9' {
			j++
		}
		if j == i+1 {
			continue
		}
		n, err := strconv.Atoi(sqlText[i+1 : j])
		if err == nil && n > max {
			max = n
		}
		i = j - 1
	}
	return max
}

func (a *postgresAdapter) stmtPrepare(c *Conn, s *Stmt, sqlText string) error {
	b := c.backend.(*postgresBackend)
	b.stmtSeq++
	name := fmt.Sprintf("pqs%d", b.stmtSeq)
	if err := directExec(b.drvConn, fmt.Sprintf("PREPARE %s AS %s", name, sqlText)); err != nil {
		return err
	}
	s.ctx = &postgresStmtCtx{name: name, sqlText: sqlText, isQuery: isQueryish(sqlText)}
	s.paramCount = countDollarPlaceholders(sqlText)
	return nil
}

func quotePGLiteralText(v string) string {
	return "'" + strings.ReplaceAll(v, "'", "''") + "'"
}

// pgLiteral renders a bound parameter as PostgreSQL SQL-literal text, since
// this adapter drives EXECUTE by literal SQL rather than the wire protocol's
// binary parameter path.
func pgLiteral(p boundParam) string {
	switch p.kind {
	case paramInt64:
		return strconv.FormatInt(p.i64, 10)
	case paramText:
		return quotePGLiteralText(p.text)
	case paramBlob:
		return "E'\\\\x" + hex.EncodeToString(p.blob) + "'"
	default:
		return "NULL"
	}
}

func (a *postgresAdapter) stmtBindBlob(s *Stmt, idx int, data []byte) error {
	return bindGeneric(s, idx, boundParam{kind: paramBlob, blob: data})
}

func (a *postgresAdapter) stmtBindInt64(s *Stmt, idx int, v int64) error {
	return bindGeneric(s, idx, boundParam{kind: paramInt64, i64: v})
}

func (a *postgresAdapter) stmtBindText(s *Stmt, idx int, value string) error {
	return bindGeneric(s, idx, boundParam{kind: paramText, text: value})
}

func (a *postgresAdapter) stmtBindNull(s *Stmt, idx int) error {
	return bindGeneric(s, idx, boundParam{kind: paramNull})
}

func (a *postgresAdapter) stmtExecute(s *Stmt) error {
	ctx := s.ctx.(*postgresStmtCtx)
	b := s.conn.backend.(*postgresBackend)
	if ctx.rows != nil {
		ctx.rows.Close()
		ctx.rows = nil
	}
	ctx.exhausted = false

	literals := make([]string, len(s.params))
	for i, p := range s.params {
		literals[i] = pgLiteral(p)
	}
	execSQL := fmt.Sprintf("EXECUTE %s", ctx.name)
	if len(literals) > 0 {
		execSQL = fmt.Sprintf("EXECUTE %s(%s)", ctx.name, strings.Join(literals, ", "))
	}

	if !ctx.isQuery {
		return directExec(b.drvConn, execSQL)
	}

	rc, err := execWithRows(b.drvConn, execSQL)
	if err != nil {
		return err
	}
	ctx.rows = rc.rows
	ctx.colNames = rc.cols
	s.colCount = len(rc.cols)
	return nil
}

func (a *postgresAdapter) stmtFetch(s *Stmt) (FetchResult, error) {
	ctx := s.ctx.(*postgresStmtCtx)
	if ctx.rows == nil || ctx.exhausted {
		return FetchDone, nil
	}
	vals := make([]driver.Value, len(ctx.colNames))
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

// decodeHexBytea decodes PostgreSQL's \x-prefixed bytea hex escape format.
// stmtColumnBlob applies it to any string column value that starts with \x.
// lib/pq itself already decodes bytea columns to []byte, so those never take
// this path; a string value reaches it only from a non-bytea column.
func decodeHexBytea(s string) ([]byte, error) {
	if !strings.HasPrefix(s, "\\x") {
		return nil, fmt.Errorf("postgres: %q is not a \\x-prefixed bytea literal", s)
	}
	return hex.DecodeString(s[2:])
}

func (a *postgresAdapter) stmtColumnBlob(s *Stmt, idx int) ([]byte, error) {
	ctx := s.ctx.(*postgresStmtCtx)
	v := ctx.curRow[idx]
	if str, ok := v.(string); ok && strings.HasPrefix(str, "\\x") {
		return decodeHexBytea(str)
	}
	return coerceBlob(v), nil
}

func (a *postgresAdapter) stmtColumnInt64(s *Stmt, idx int) (int64, error) {
	ctx := s.ctx.(*postgresStmtCtx)
	return coerceInt64(ctx.curRow[idx])
}

func (a *postgresAdapter) stmtColumnText(s *Stmt, idx int) (string, bool, error) {
	ctx := s.ctx.(*postgresStmtCtx)
	text, isNull := coerceText(ctx.curRow[idx])
	return text, isNull, nil
}

// stmtColumnType collapses like the MySQL adapter: the wire protocol hands
// the core pre-decoded Go values with no self-describing tag beyond NULL.
func (a *postgresAdapter) stmtColumnType(s *Stmt, idx int) ColumnType {
	ctx := s.ctx.(*postgresStmtCtx)
	if ctx.curRow[idx] == nil {
		return ColumnTypeNull
	}
	return ColumnTypeBlob
}

func (a *postgresAdapter) stmtClose(s *Stmt) error {
	ctx, ok := s.ctx.(*postgresStmtCtx)
	if !ok || ctx == nil {
		return nil
	}
	b := s.conn.backend.(*postgresBackend)
	var errs *multierror.Error
	if ctx.rows != nil {
		if err := ctx.rows.Close(); err != nil {
			errs = multierror.Append(errs, err)
		}
	}
	if err := directExec(b.drvConn, fmt.Sprintf("DEALLOCATE %s", ctx.name)); err != nil {
		errs = multierror.Append(errs, err)
	}
	return errs.ErrorOrNil()
}

func (a *postgresAdapter) stmtHandle(s *Stmt) any {
	ctx, ok := s.ctx.(*postgresStmtCtx)
	if !ok {
		return nil
	}
	return ctx.name
}
