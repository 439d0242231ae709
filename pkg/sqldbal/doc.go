// Package sqldbal is a uniform, thin-but-correct abstraction over three
// heterogeneous SQL client libraries: an embedded file-based engine
// (modernc.org/sqlite), a MySQL-family network client
// (github.com/go-sql-driver/mysql), and a PostgreSQL network client
// (github.com/lib/pq). It presents one handle-oriented API for connection
// management, direct execution, prepared statements with positional
// placeholders, row iteration, typed column extraction, and transactions,
// backed by a single status-code discipline across all three backends.
//
// The package never rewrites SQL: callers supply backend-appropriate
// placeholder syntax (? for sqlite/mysql, $N for postgres). Connection
// pooling, async I/O and automatic reconnection are explicitly out of scope;
// one Conn owns exactly one backend session for its lifetime.
package sqldbal
