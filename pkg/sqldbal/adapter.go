package sqldbal

// DriverTag selects the backend adapter a Conn dispatches onto.
type DriverTag int

// Supported driver tags. driverInvalid is the zero value so a Conn created
// without going through Open never accidentally resolves to a real backend.
const (
	driverInvalid DriverTag = iota
	DriverSQLite
	DriverMySQL
	DriverPostgres
)

func (t DriverTag) String() string {
	switch t {
	case DriverSQLite:
		return "sqlite"
	case DriverMySQL:
		return "mysql"
	case DriverPostgres:
		return "postgres"
	default:
		return "invalid"
	}
}

// OpenFlag is a bitmask of open-time behavior flags.
type OpenFlag uint32

const (
	// FlagDebug is recorded on the Conn but read by no adapter: trace lines
	// go to Conn.Tracef whenever it is non-nil, whether or not FlagDebug is
	// set, and nothing is written to standard error.
	FlagDebug OpenFlag = 1 << iota
	// FlagSQLiteReadOnly, FlagSQLiteReadWrite and FlagSQLiteCreate select the
	// embedded engine's open mode; they have no effect on the network
	// backends.
	FlagSQLiteReadOnly
	FlagSQLiteReadWrite
	FlagSQLiteCreate
	// flagInvalidMemory is reserved for the sentinel connection and must
	// never be set by callers.
	flagInvalidMemory
)

// Option is a driver-specific open-time key/value pair. The recognized key
// set per driver is documented on Open.
type Option struct {
	Key   string
	Value string
}

// FetchResult is the outcome of a single Stmt.Fetch call.
type FetchResult int

const (
	FetchRow FetchResult = iota
	FetchDone
	FetchError
)

// ColumnType is the logical kind of a result column. Network-backend
// adapters (mysql, postgres) collapse every non-null column to
// ColumnTypeBlob; the embedded engine reports its richer native set.
type ColumnType int

const (
	ColumnTypeInt ColumnType = iota
	ColumnTypeText
	ColumnTypeBlob
	ColumnTypeNull
	ColumnTypeOther
	ColumnTypeError
)

// NullString is a nullable column value as delivered to an Exec row
// callback: Valid is false for SQL NULL, in which case Value is empty.
type NullString struct {
	Valid bool
	Value string
}

// RowCallback is invoked once per result row by Exec. Returning a non-zero
// value aborts the enumeration, surfacing as an exec-failed status exactly
// as sqlite3_exec reports SQLITE_ABORT when its callback does the same.
type RowCallback func(userCtx any, values []NullString, lengths []int) int

// paramKind discriminates the tagged union backing a bound statement
// parameter. paramUnset is the zero value: binding on an unbound index is
// undefined at the public surface, so adapters are free to treat it as NULL.
type paramKind int

const (
	paramUnset paramKind = iota
	paramNull
	paramInt64
	paramText
	paramBlob
)

// boundParam is a single positional parameter slot. A second bind at the
// same index overwrites the slot outright; the previous blob/text buffer
// becomes unreachable and is reclaimed by the garbage collector, which is
// this rewrite's equivalent of the adapter-owned "free then install" rule.
type boundParam struct {
	kind paramKind
	i64  int64
	text string
	blob []byte
}

// driverAdapter is the capability set every backend implements. Every
// generic Conn/Stmt operation validates arguments, then forwards to exactly
// one of these methods; adapters never reach back into Conn/Stmt state
// except through the arguments handed to them.
type driverAdapter interface {
	open(c *Conn, location, port, user, pwd, db string, flags OpenFlag, opts []Option) error
	close(c *Conn) error
	dbHandle(c *Conn) any

	begin(c *Conn) error
	commit(c *Conn) error
	rollback(c *Conn) error

	exec(c *Conn, sqlText string, cb RowCallback, userCtx any) error
	lastInsertID(c *Conn, sequence string) (uint64, error)

	stmtPrepare(c *Conn, s *Stmt, sqlText string) error
	stmtBindBlob(s *Stmt, idx int, data []byte) error
	stmtBindInt64(s *Stmt, idx int, v int64) error
	stmtBindText(s *Stmt, idx int, value string) error
	stmtBindNull(s *Stmt, idx int) error
	stmtExecute(s *Stmt) error
	stmtFetch(s *Stmt) (FetchResult, error)
	stmtColumnBlob(s *Stmt, idx int) ([]byte, error)
	stmtColumnInt64(s *Stmt, idx int) (int64, error)
	stmtColumnText(s *Stmt, idx int) (string, bool, error)
	stmtColumnType(s *Stmt, idx int) ColumnType
	stmtClose(s *Stmt) error
	stmtHandle(s *Stmt) any
}
