//go:build integration

package sqldbal

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go/modules/mysql"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
)

// exerciseBackend runs the same create/insert/select/transaction sequence
// against whichever backend c is already open on, so the network adapters
// are checked against the identical script the embedded-engine unit tests
// already cover.
func exerciseBackend(t *testing.T, c *Conn) {
	t.Helper()

	require.Equal(t, StatusOK, c.Exec("CREATE TABLE widgets (id INTEGER PRIMARY KEY, name VARCHAR(64))", nil, nil))

	// the core never rewrites placeholders, so postgres needs its own $N form
	ph1, ph2 := "?", "?"
	if c.DriverTag() == DriverPostgres {
		ph1, ph2 = "$1", "$2"
	}

	ins, status := c.Prepare("INSERT INTO widgets (id, name) VALUES (" + ph1 + ", " + ph2 + ")")
	require.Equal(t, StatusOK, status)
	require.Equal(t, 2, ins.ParamCount())
	require.Equal(t, StatusOK, ins.BindInt64(0, 1))
	require.Equal(t, StatusOK, ins.BindText(1, "gadget"))
	require.Equal(t, StatusOK, ins.Execute())
	require.Equal(t, StatusOK, ins.Close())

	sel, status := c.Prepare("SELECT name FROM widgets WHERE id = " + ph1)
	require.Equal(t, StatusOK, status)
	require.Equal(t, StatusOK, sel.BindInt64(0, 1))
	require.Equal(t, StatusOK, sel.Execute())

	fr, status := sel.Fetch()
	require.Equal(t, StatusOK, status)
	require.Equal(t, FetchRow, fr)
	name, status := sel.ColumnText(0)
	require.Equal(t, StatusOK, status)
	assert.Equal(t, "gadget", name)
	require.Equal(t, StatusOK, sel.Close())

	require.Equal(t, StatusOK, c.Begin())
	require.Equal(t, StatusOK, c.Exec("INSERT INTO widgets (id, name) VALUES (2, 'doomed')", nil, nil))
	require.Equal(t, StatusOK, c.Rollback())

	var names []string
	status = c.Exec("SELECT name FROM widgets", func(_ any, values []NullString, _ []int) int {
		names = append(names, values[0].Value)
		return 0
	}, nil)
	require.Equal(t, StatusOK, status)
	assert.Equal(t, []string{"gadget"}, names)
}

func TestMySQLAdapterAgainstContainer(t *testing.T) {
	ctx := context.Background()

	container, err := mysql.Run(ctx, "mysql:8", mysql.WithDatabase("widgets"), mysql.WithPassword("password"))
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, container.Terminate(ctx)) })

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "3306/tcp")
	require.NoError(t, err)

	c := Open(DriverMySQL, host, port.Port(), "root", "password", "widgets", 0, nil)
	require.Equal(t, StatusOK, c.Status(), "open: %v", c.errStr)
	t.Cleanup(func() { c.Close() })

	exerciseBackend(t, c)
}

func TestPostgresAdapterAgainstContainer(t *testing.T) {
	ctx := context.Background()

	container, err := postgres.Run(ctx, "postgres:15",
		postgres.WithDatabase("widgets"),
		postgres.WithPassword("password"))
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, container.Terminate(ctx)) })

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "5432/tcp")
	require.NoError(t, err)

	c := Open(DriverPostgres, host, port.Port(), "postgres", "password", "widgets", 0,
		[]Option{{Key: "TLS_MODE", Value: "disable"}})
	require.Equal(t, StatusOK, c.Status(), "open: %v", c.errStr)
	t.Cleanup(func() { c.Close() })

	exerciseBackend(t, c)

	// widgets.id is a plain INTEGER, so a SERIAL table supplies the sequence
	require.Equal(t, StatusOK, c.Exec("CREATE TABLE counters (id SERIAL PRIMARY KEY, n INTEGER)", nil, nil))
	require.Equal(t, StatusOK, c.Exec("INSERT INTO counters (n) VALUES (1)", nil, nil))
	oid, status := c.LastInsertID("counters_id_seq")
	require.Equal(t, StatusOK, status)
	assert.Equal(t, uint64(1), oid)

	typname, ok := c.TypeNameForOID(23)
	require.True(t, ok)
	assert.Equal(t, "int4", typname)
}
