package sqldbal

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStmtColumnOutOfRangeIndex(t *testing.T) {
	c := openMemSQLite(t)
	require.Equal(t, StatusOK, c.Exec("CREATE TABLE t (a INTEGER)", nil, nil))
	require.Equal(t, StatusOK, c.Exec("INSERT INTO t (a) VALUES (1)", nil, nil))

	s, status := c.Prepare("SELECT a FROM t")
	require.Equal(t, StatusOK, status)
	require.Equal(t, StatusOK, s.Execute())
	fr, status := s.Fetch()
	require.Equal(t, StatusOK, status)
	require.Equal(t, FetchRow, fr)

	_, status = s.ColumnInt64(7)
	assert.Equal(t, StatusInvalidParameter, status)
	require.Equal(t, StatusOK, s.Close())
}

func TestStmtRebindAndReexecute(t *testing.T) {
	c := openMemSQLite(t)
	require.Equal(t, StatusOK, c.Exec("CREATE TABLE t (a INTEGER)", nil, nil))

	ins, status := c.Prepare("INSERT INTO t (a) VALUES (?)")
	require.Equal(t, StatusOK, status)

	for _, v := range []int64{1, 2, 3} {
		require.Equal(t, StatusOK, ins.BindInt64(0, v))
		require.Equal(t, StatusOK, ins.Execute())
	}
	require.Equal(t, StatusOK, ins.Close())

	var rows []string
	status = c.Exec("SELECT a FROM t ORDER BY a", func(_ any, values []NullString, _ []int) int {
		rows = append(rows, values[0].Value)
		return 0
	}, nil)
	require.Equal(t, StatusOK, status)
	assert.Equal(t, []string{"1", "2", "3"}, rows)
}

func TestStmtHandleOnSentinelIsNil(t *testing.T) {
	assert.Nil(t, sentinelStmt.Handle())
}
