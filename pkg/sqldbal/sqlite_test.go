package sqldbal

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openMemSQLite(t *testing.T) *Conn {
	t.Helper()
	c := Open(DriverSQLite, ":memory:", "", "", "", "", 0, nil)
	require.Equal(t, StatusOK, c.Status(), "open: %v", c.errStr)
	t.Cleanup(func() { c.Close() })
	return c
}

func TestOpenUnsupportedDriver(t *testing.T) {
	c := Open(driverInvalid, "x", "", "", "", "", 0, nil)
	assert.Equal(t, StatusDriverNotSupported, c.Status())
}

func TestSQLiteOpenBadLocationOption(t *testing.T) {
	c := Open(DriverSQLite, "", "", "", "", "", 0, nil)
	assert.Equal(t, StatusInvalidParameter, c.Status())
}

func TestSQLiteExecAndPreparedRoundTrip(t *testing.T) {
	c := openMemSQLite(t)

	status := c.Exec("CREATE TABLE widgets (id INTEGER PRIMARY KEY, name TEXT, payload BLOB)", nil, nil)
	require.Equal(t, StatusOK, status)

	ins, status := c.Prepare("INSERT INTO widgets (name, payload) VALUES (?, ?)")
	require.Equal(t, StatusOK, status)
	require.Equal(t, 2, ins.ParamCount())

	require.Equal(t, StatusOK, ins.BindText(0, "gadget"))
	require.Equal(t, StatusOK, ins.BindBlob(1, []byte{0xde, 0xad, 0xbe, 0xef}))
	require.Equal(t, StatusOK, ins.Execute())
	require.Equal(t, StatusOK, ins.Close())

	id, status := c.LastInsertID("")
	require.Equal(t, StatusOK, status)
	assert.Equal(t, uint64(1), id)

	sel, status := c.Prepare("SELECT id, name, payload FROM widgets WHERE id = ?")
	require.Equal(t, StatusOK, status)
	require.Equal(t, 1, sel.ParamCount())
	require.Equal(t, StatusOK, sel.BindInt64(0, 1))
	require.Equal(t, StatusOK, sel.Execute())
	require.Equal(t, 3, sel.ResultColumnCount())

	fr, status := sel.Fetch()
	require.Equal(t, StatusOK, status)
	require.Equal(t, FetchRow, fr)

	name, status := sel.ColumnText(1)
	require.Equal(t, StatusOK, status)
	assert.Equal(t, "gadget", name)

	payload, status := sel.ColumnBlob(2)
	require.Equal(t, StatusOK, status)
	assert.Equal(t, []byte{0xde, 0xad, 0xbe, 0xef}, payload)

	fr, status = sel.Fetch()
	require.Equal(t, StatusOK, status)
	assert.Equal(t, FetchDone, fr)

	assert.Equal(t, StatusOK, sel.Close())
}

func TestSQLiteBindOutOfRangeIndex(t *testing.T) {
	c := openMemSQLite(t)
	require.Equal(t, StatusOK, c.Exec("CREATE TABLE t (a INTEGER)", nil, nil))

	s, status := c.Prepare("INSERT INTO t (a) VALUES (?)")
	require.Equal(t, StatusOK, status)

	status = s.BindInt64(5, 1)
	assert.Equal(t, StatusInvalidParameter, status)
	require.Equal(t, StatusOK, s.Close())
}

func TestSQLiteNullRoundTrip(t *testing.T) {
	c := openMemSQLite(t)
	require.Equal(t, StatusOK, c.Exec("CREATE TABLE t (a TEXT)", nil, nil))

	ins, status := c.Prepare("INSERT INTO t (a) VALUES (?)")
	require.Equal(t, StatusOK, status)
	require.Equal(t, StatusOK, ins.BindNull(0))
	require.Equal(t, StatusOK, ins.Execute())
	require.Equal(t, StatusOK, ins.Close())

	sel, status := c.Prepare("SELECT a FROM t")
	require.Equal(t, StatusOK, status)
	require.Equal(t, StatusOK, sel.Execute())
	fr, status := sel.Fetch()
	require.Equal(t, StatusOK, status)
	require.Equal(t, FetchRow, fr)

	assert.Equal(t, ColumnTypeNull, sel.ColumnType(0))
	text, status := sel.ColumnText(0)
	require.Equal(t, StatusOK, status)
	assert.Empty(t, text)
	require.Equal(t, StatusOK, sel.Close())
}

func TestSQLiteExecCallbackAbort(t *testing.T) {
	c := openMemSQLite(t)
	require.Equal(t, StatusOK, c.Exec("CREATE TABLE t (a INTEGER)", nil, nil))
	require.Equal(t, StatusOK, c.Exec("INSERT INTO t (a) VALUES (1), (2), (3)", nil, nil))

	calls := 0
	status := c.Exec("SELECT a FROM t", func(_ any, _ []NullString, _ []int) int {
		calls++
		return 1
	}, nil)
	assert.Equal(t, StatusExecFailed, status)
	assert.Equal(t, 1, calls)
}

func TestSQLiteTransactionRollback(t *testing.T) {
	c := openMemSQLite(t)
	require.Equal(t, StatusOK, c.Exec("CREATE TABLE t (a INTEGER)", nil, nil))

	require.Equal(t, StatusOK, c.Begin())
	require.Equal(t, StatusOK, c.Exec("INSERT INTO t (a) VALUES (1)", nil, nil))
	require.Equal(t, StatusOK, c.Rollback())

	var got []int64
	status := c.Exec("SELECT a FROM t", func(_ any, values []NullString, _ []int) int {
		got = append(got, 1)
		_ = values
		return 0
	}, nil)
	require.Equal(t, StatusOK, status)
	assert.Empty(t, got)
}

func TestStmtCloseOnSentinelIsSafe(t *testing.T) {
	assert.Equal(t, sentinelConn.status, sentinelStmt.Close())
}

func TestSentinelConnOperationsAreNoops(t *testing.T) {
	assert.Equal(t, StatusOutOfMemory, sentinelConn.Status())
	assert.Equal(t, StatusOutOfMemory, sentinelConn.Close())
	s, status := sentinelConn.Prepare("SELECT 1")
	assert.Same(t, sentinelStmt, s)
	assert.Equal(t, StatusOutOfMemory, status)
}

func TestOpenAllocationFailureReturnsSentinel(t *testing.T) {
	orig := newConn
	newConn = func() *Conn { return nil }
	defer func() { newConn = orig }()

	c := Open(DriverSQLite, ":memory:", "", "", "", "", 0, nil)
	assert.Same(t, sentinelConn, c)
}

func TestClearStatus(t *testing.T) {
	c := openMemSQLite(t)
	c.setStatus(StatusOverflow, "boom")
	prev := c.ClearStatus()
	assert.Equal(t, StatusOverflow, prev)
	assert.Equal(t, StatusOK, c.Status())
}
