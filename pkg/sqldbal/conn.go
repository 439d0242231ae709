package sqldbal

import (
	"errors"
	"fmt"
)

// Conn is a handle-oriented connection to exactly one backend session. Its
// driver tag is fixed at construction; its status and error string always
// describe the last operation that failed on it. Close frees the backend
// handle; after Close, a Conn must not be used again except for further
// Close calls, which are idempotent.
type Conn struct {
	tag     DriverTag
	flags   OpenFlag
	status  Status
	errStr  string
	adapter driverAdapter
	backend any

	// Tracef, when non-nil, receives one line of debug trace per Exec call.
	// It can only be set after Open has returned, so Open itself is not
	// traced; the library never imports a logging package itself.
	Tracef func(format string, args ...any)
}

// sentinelConn is the process-wide, statically-initialized connection
// returned by Open when allocation fails. Its status is permanently
// out-of-memory and its flags carry flagInvalidMemory, so every later call
// is a safe no-op: no adapter is ever consulted and Close frees nothing.
var sentinelConn = &Conn{status: StatusOutOfMemory, flags: flagInvalidMemory, errStr: defaultErrString(StatusOutOfMemory)}

// newConn is a seam for fault-injection tests: overriding it to return nil
// simulates allocation failure without needing to exhaust real memory.
var newConn = func() *Conn { return &Conn{} }

// Open establishes a backend session and always returns a non-nil handle: on
// allocation failure it returns the sentinel connection (status
// out-of-memory); on an unsupported driver tag it returns a connection whose
// status is driver-not-supported; on an invalid argument (an out-of-range
// port, an empty sqlite location, an unrecognized option key, an incomplete
// TLS key/cert pair) the status is invalid-parameter; on any other open
// failure the status is open-failed and ErrString carries the backend's
// message. Close on the returned handle is always safe; the other operations
// need an established backend session, except on the sentinel, where they
// are no-ops.
//
// location, port, user, pwd and db map onto the backend's own addressing
// scheme (port and user/pwd are unused by the embedded engine). opts is the
// driver-specific option set:
//
//   - sqlite: VFS
//   - mysql: CONNECT_TIMEOUT, TLS_KEY, TLS_CERT, TLS_CA, TLS_CAPATH, TLS_CIPHER
//   - postgres: CONNECT_TIMEOUT, TLS_KEY, TLS_CERT, TLS_CA, TLS_MODE
//
// An unrecognized key makes Open fail with status invalid-parameter before
// any backend session is established, so the recognized keys are not
// applied either.
func Open(tag DriverTag, location, port, user, pwd, db string, flags OpenFlag, opts []Option) *Conn {
	c := newConn()
	if c == nil {
		return sentinelConn
	}
	c.tag = tag
	c.flags = flags

	switch tag {
	case DriverSQLite:
		c.adapter = &sqliteAdapter{}
	case DriverMySQL:
		c.adapter = &mysqlAdapter{}
	case DriverPostgres:
		c.adapter = &postgresAdapter{}
	default:
		c.setStatus(StatusDriverNotSupported, fmt.Sprintf("driver tag %d is not supported", tag))
		return c
	}

	err := c.adapter.open(c, location, port, user, pwd, db, flags, opts)
	c.applyResult(StatusOpenFailed, err)
	return c
}

func (c *Conn) isSentinel() bool { return c.flags&flagInvalidMemory != 0 }

// setStatus normalizes and records status, replacing the error string with
// msg, or a kind-appropriate default when msg is empty.
func (c *Conn) setStatus(status Status, msg string) {
	c.status = normalizeStatus(status)
	if msg == "" {
		msg = defaultErrString(c.status)
	}
	c.errStr = msg
}

// resolveStatus extracts the status an adapter asked for via statusError,
// falling back to defaultStatus for a plain error.
func resolveStatus(defaultStatus Status, err error) Status {
	var se *statusError
	if errors.As(err, &se) {
		return se.status
	}
	return defaultStatus
}

// applyResult is the single place every public operation commits its
// outcome, so that within one operation a later success can never overwrite
// an earlier failure: each façade method calls this exactly once, with the
// final error, if any.
func (c *Conn) applyResult(defaultStatus Status, err error) {
	if err == nil {
		c.setStatus(StatusOK, "")
		return
	}
	c.setStatus(resolveStatus(defaultStatus, err), err.Error())
}

// Status returns the connection's current status without clearing it.
func (c *Conn) Status() Status { return c.status }

// ClearStatus resets status to OK and returns the prior value.
func (c *Conn) ClearStatus() Status {
	prev := c.status
	c.status = StatusOK
	c.errStr = ""
	return prev
}

// DriverTag reports the driver this connection was opened with.
func (c *Conn) DriverTag() DriverTag { return c.tag }

// ErrString returns the current status together with its borrowed error
// string; the string remains valid until the next operation on c.
func (c *Conn) ErrString() (Status, string) { return c.status, c.errStr }

// Handle returns the adapter's opaque backend connection object for
// escape-hatch use. Callers must not use it across a driver mismatch.
func (c *Conn) Handle() any {
	if c.isSentinel() {
		return nil
	}
	return c.adapter.dbHandle(c)
}

// Close releases the backend session. It is a no-op, returning the
// connection's current status unchanged, when called on the sentinel or on a
// connection whose Open established no backend session.
func (c *Conn) Close() Status {
	if c.isSentinel() || c.adapter == nil || c.backend == nil {
		return c.status
	}
	err := c.adapter.close(c)
	c.applyResult(StatusCloseFailed, err)
	return c.status
}

// Begin demarcates a transaction; the per-driver mechanism varies (literal
// BEGIN vs. an autocommit toggle).
func (c *Conn) Begin() Status {
	if c.isSentinel() {
		return c.status
	}
	c.applyResult(StatusExecFailed, c.adapter.begin(c))
	return c.status
}

// Commit demarcates the end of a successful transaction.
func (c *Conn) Commit() Status {
	if c.isSentinel() {
		return c.status
	}
	c.applyResult(StatusExecFailed, c.adapter.commit(c))
	return c.status
}

// Rollback demarcates the end of an aborted transaction.
func (c *Conn) Rollback() Status {
	if c.isSentinel() {
		return c.status
	}
	c.applyResult(StatusExecFailed, c.adapter.rollback(c))
	return c.status
}

// Exec runs a self-contained SQL string. When cb is non-nil it is invoked
// once per result row; a non-zero return from cb aborts the enumeration and
// the operation reports exec-failed.
func (c *Conn) Exec(sqlText string, cb RowCallback, userCtx any) Status {
	if c.isSentinel() {
		return c.status
	}
	c.applyResult(StatusExecFailed, c.adapter.exec(c, sqlText, cb, userCtx))
	return c.status
}

// LastInsertID yields the most recently generated row id. sequence is
// required for the PostgreSQL backend (it names the sequence to consult) and
// ignored by the others.
func (c *Conn) LastInsertID(sequence string) (uint64, Status) {
	if c.isSentinel() {
		return 0, c.status
	}
	id, err := c.adapter.lastInsertID(c, sequence)
	c.applyResult(StatusExecFailed, err)
	if c.status != StatusOK {
		return 0, c.status
	}
	return id, StatusOK
}

// sentinelStmt is returned by Prepare when the sentinel connection (or the
// statement itself) cannot be allocated, so that stmt_close on it is always
// safe.
var sentinelStmt = &Stmt{conn: sentinelConn}

// newStmt is a seam for fault-injection tests, analogous to newConn.
var newStmt = func(c *Conn) *Stmt { return &Stmt{conn: c} }

// Prepare compiles sqlText and returns a statement whose ParamCount and
// result-column count are populated as each backend's driver makes them
// available. On a sentinel connection, or if the statement itself cannot be
// allocated, the returned handle is the statement sentinel; Close on it is
// always a safe no-op. A prepare failure on a real connection still returns
// a usable *Stmt (its backend context stays nil) so that closing it remains
// safe.
func (c *Conn) Prepare(sqlText string) (*Stmt, Status) {
	if c.isSentinel() {
		return sentinelStmt, c.status
	}
	s := newStmt(c)
	if s == nil {
		c.setStatus(StatusOutOfMemory, "")
		return sentinelStmt, c.status
	}
	err := c.adapter.stmtPrepare(c, s, sqlText)
	c.applyResult(StatusPrepareFailed, err)
	if c.status == StatusOK {
		s.params = make([]boundParam, s.paramCount)
	}
	return s, c.status
}
