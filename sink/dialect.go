package sink

import (
	"fmt"
	"regexp"

	"github.com/go-sql-driver/mysql"
	"github.com/juju/errors"

	// database/sql drivers
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/mattn/go-sqlite3"
)

const DefaultTable = "readings"

var identRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// dialect knows idempotent insert syntax of one database/sql driver.
// Every insert ignores conflict on (seq, node) primary key and reports 0 rows affected.
type dialect struct {
	driver      string
	insert      string
	createTable string
	// checkDSN rejects connection options that break rows affected semantics
	checkDSN    func(dsn string) error
}

func dialectFor(driver, table string) (dialect, error) {
	if !identRe.MatchString(table) {
		return dialect{}, errors.NotValidf("sink table=%q", table)
	}
	const cols = "seq, node, date, time, moisture"
	create := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
  seq BIGINT NOT NULL,
  node VARCHAR(16) NOT NULL,
  date CHAR(10) NOT NULL,
  time CHAR(8) NOT NULL,
  moisture INTEGER NOT NULL,
  PRIMARY KEY (seq, node)
)`, table)
	switch driver {
	case "sqlite3":
		return dialect{
			driver:      driver,
			insert:      fmt.Sprintf("INSERT INTO %s (%s) VALUES (?, ?, ?, ?, ?) ON CONFLICT (seq, node) DO NOTHING", table, cols),
			createTable: create,
		}, nil
	case "mysql":
		return dialect{
			driver:      driver,
			// not INSERT IGNORE, it also turns bad value and truncation errors into warnings
			insert:      fmt.Sprintf("INSERT INTO %s (%s) VALUES (?, ?, ?, ?, ?) ON DUPLICATE KEY UPDATE seq = seq", table, cols),
			createTable: create,
			checkDSN:    checkMySQLDSN,
		}, nil
	case "pgx":
		return dialect{
			driver:      driver,
			insert:      fmt.Sprintf("INSERT INTO %s (%s) VALUES ($1, $2, $3, $4, $5) ON CONFLICT (seq, node) DO NOTHING", table, cols),
			createTable: create,
		}, nil
	}
	return dialect{}, errors.NotSupportedf("sink driver=%s", driver)
}

// checkMySQLDSN: with clientFoundRows duplicate key update reports 1 row, same as insert.
func checkMySQLDSN(dsn string) error {
	c, err := mysql.ParseDSN(dsn)
	if err != nil {
		return errors.NotValidf("sink dsn err=%v", err)
	}
	if c.ClientFoundRows {
		return errors.NotValidf("sink dsn clientFoundRows=true")
	}
	return nil
}
