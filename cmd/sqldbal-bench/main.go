package main

import (
	"fmt"
	"log"
	"os"

	"github.com/fatih/color"
	"github.com/go-pkgz/lgr"
	"github.com/go-pkgz/syncs"
	"github.com/hashicorp/go-multierror"
	flags "github.com/jessevdk/go-flags"

	"github.com/umputun/sqldbal/pkg/sqldbal"
)

type options struct {
	Driver string `short:"d" long:"driver" env:"SQLDBAL_DRIVER" required:"true" choice:"sqlite" choice:"mysql" choice:"postgres" description:"backend driver"`
	Conn   string `short:"c" long:"conn" env:"SQLDBAL_CONN" required:"true" description:"location (file path or host) for the connection"`
	Port   string `long:"port" env:"SQLDBAL_PORT" description:"port, for the network backends"`
	User   string `long:"user" env:"SQLDBAL_USER" description:"user, for the network backends"`
	Pass   string `long:"pass" env:"SQLDBAL_PASS" description:"password, for the network backends"`
	DB     string `long:"db" env:"SQLDBAL_DB" description:"database name, for the network backends"`
	Conns  int    `short:"n" long:"conns" default:"1" description:"number of concurrent connections to open"`
	Rows   int    `short:"r" long:"rows" default:"1000" description:"rows to insert per connection"`
	Dbg    bool   `long:"dbg" description:"debug mode, traces each connection's Exec calls"`
}

var revision = "latest"

var exitFunc = os.Exit

func main() {
	fmt.Printf("sqldbal-bench %s\n", revision)

	var opts options
	p := flags.NewParser(&opts, flags.PrintErrors|flags.PassDoubleDash|flags.HelpFlag)
	if _, err := p.Parse(); err != nil {
		exitFunc(1) // can be redefined in tests
	}
	setupLog(opts.Dbg)

	if err := run(opts); err != nil {
		log.Printf("[WARN] %v", err)
		exitFunc(1)
	}
}

func driverTag(name string) sqldbal.DriverTag {
	switch name {
	case "sqlite":
		return sqldbal.DriverSQLite
	case "mysql":
		return sqldbal.DriverMySQL
	case "postgres":
		return sqldbal.DriverPostgres
	default:
		return 0
	}
}

// run opens opts.Conns independent connections concurrently and drives an
// insert/select workload through each. Every connection is otherwise
// single-threaded and synchronous; only the fan-out across connections runs
// in parallel, matching the core's concurrency model.
func run(opts options) error {
	tag := driverTag(opts.Driver)

	swg := syncs.NewErrSizedGroup(opts.Conns, syncs.Preemptive)
	for i := 0; i < opts.Conns; i++ {
		idx := i
		swg.Go(func() error {
			return benchOne(tag, opts, idx)
		})
	}

	if err := swg.Wait(); err != nil {
		return fmt.Errorf("bench run failed: %w", err)
	}
	return nil
}

func benchOne(tag sqldbal.DriverTag, opts options, idx int) error {
	var flagSet sqldbal.OpenFlag
	if opts.Dbg {
		flagSet |= sqldbal.FlagDebug
	}

	conn := sqldbal.Open(tag, opts.Conn, opts.Port, opts.User, opts.Pass, opts.DB, flagSet, nil)
	if opts.Dbg {
		conn.Tracef = func(format string, args ...any) {
			log.Printf("[DEBUG] conn %d: "+format, append([]any{idx}, args...)...)
		}
	}
	defer conn.Close()

	if status := conn.Status(); status != sqldbal.StatusOK {
		_, msg := conn.ErrString()
		return fmt.Errorf("conn %d: open: %s: %s", idx, status, msg)
	}

	table := fmt.Sprintf("bench_%d", idx)
	if status := conn.Exec(fmt.Sprintf("CREATE TABLE %s (id INTEGER PRIMARY KEY, payload TEXT)", table), nil, nil); status != sqldbal.StatusOK {
		_, msg := conn.ErrString()
		return fmt.Errorf("conn %d: create table: %s: %s", idx, status, msg)
	}

	placeholders := "?, ?"
	if tag == sqldbal.DriverPostgres {
		placeholders = "$1, $2"
	}
	ins, status := conn.Prepare(fmt.Sprintf("INSERT INTO %s (id, payload) VALUES (%s)", table, placeholders))
	if status != sqldbal.StatusOK {
		_, msg := conn.ErrString()
		return fmt.Errorf("conn %d: prepare insert: %s: %s", idx, status, msg)
	}
	defer ins.Close()

	var errs *multierror.Error
	for row := 0; row < opts.Rows; row++ {
		if s := ins.BindInt64(0, int64(row)); s != sqldbal.StatusOK {
			errs = multierror.Append(errs, fmt.Errorf("conn %d: bind id %d: %s", idx, row, s))
			continue
		}
		if s := ins.BindText(1, fmt.Sprintf("payload-%d-%d", idx, row)); s != sqldbal.StatusOK {
			errs = multierror.Append(errs, fmt.Errorf("conn %d: bind payload %d: %s", idx, row, s))
			continue
		}
		if s := ins.Execute(); s != sqldbal.StatusOK {
			errs = multierror.Append(errs, fmt.Errorf("conn %d: execute %d: %s", idx, row, s))
		}
	}

	sel, status := conn.Prepare(fmt.Sprintf("SELECT COUNT(*) FROM %s", table))
	if status != sqldbal.StatusOK {
		_, msg := conn.ErrString()
		return fmt.Errorf("conn %d: prepare select: %s: %s", idx, status, msg)
	}
	defer sel.Close()
	if status := sel.Execute(); status != sqldbal.StatusOK {
		_, msg := conn.ErrString()
		return fmt.Errorf("conn %d: select: %s: %s", idx, status, msg)
	}
	if fr, status := sel.Fetch(); status == sqldbal.StatusOK && fr == sqldbal.FetchRow {
		count, _ := sel.ColumnInt64(0)
		log.Printf("[INFO] conn %d: inserted %d rows into %s", idx, count, table)
	}

	return errs.ErrorOrNil()
}

func setupLog(dbg bool) {
	logOpts := []lgr.Option{lgr.Msec, lgr.LevelBraces, lgr.StackTraceOnError}
	if dbg {
		logOpts = []lgr.Option{lgr.Debug, lgr.CallerFile, lgr.CallerFunc, lgr.Msec, lgr.LevelBraces, lgr.StackTraceOnError}
	}

	colorizer := lgr.Mapper{
		ErrorFunc:  func(s string) string { return color.New(color.FgHiRed).Sprint(s) },
		WarnFunc:   func(s string) string { return color.New(color.FgRed).Sprint(s) },
		InfoFunc:   func(s string) string { return color.New(color.FgYellow).Sprint(s) },
		DebugFunc:  func(s string) string { return color.New(color.FgWhite).Sprint(s) },
		CallerFunc: func(s string) string { return color.New(color.FgBlue).Sprint(s) },
		TimeFunc:   func(s string) string { return color.New(color.FgCyan).Sprint(s) },
	}
	logOpts = append(logOpts, lgr.Map(colorizer))

	lgr.SetupStdLogger(logOpts...)
	lgr.Setup(logOpts...)
}
