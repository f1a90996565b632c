package database

import (
	"database/sql"
	"fmt"

	_ "github.com/go-sql-driver/mysql"
	"github.com/rs/zerolog/log"
	_ "modernc.org/sqlite"

	"tsubuyaki/internal/config"
)

const mysqlSchema = `
CREATE TABLE IF NOT EXISTS messages (
	id BIGINT AUTO_INCREMENT PRIMARY KEY,
	body TEXT NOT NULL,
	username VARCHAR(255) NOT NULL,
	created_at DATETIME(6) NOT NULL,
	deleted_at DATETIME(6) NULL
) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci;
`

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS messages (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	body TEXT NOT NULL,
	username TEXT NOT NULL,
	created_at DATETIME NOT NULL,
	deleted_at DATETIME NULL
);
`

// MySQLDSN builds the DSN for cfg.
// clientFoundRows makes UPDATE report matched rows, not changed rows.
func MySQLDSN(cfg config.Config) string {
	return fmt.Sprintf("%s:%s@tcp(%s:%s)/%s?parseTime=true&clientFoundRows=true",
		cfg.DBUser,
		cfg.DBPassword,
		cfg.DBHost,
		cfg.DBPort,
		cfg.DBName,
	)
}

// Init opens the SQL database selected by cfg.DBDriver and creates the
// messages table when it is missing.
func Init(cfg config.Config) (*sql.DB, error) {
	var (
		db  *sql.DB
		err error
	)

	switch cfg.DBDriver {
	case "mysql":
		db, err = sql.Open("mysql", MySQLDSN(cfg))
	case "sqlite":
		db, err = OpenSQLite(cfg.DBPath)
	default:
		return nil, fmt.Errorf("unsupported sql driver %q", cfg.DBDriver)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// 接続テスト
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if err := Migrate(db, cfg.DBDriver); err != nil {
		db.Close()
		return nil, err
	}

	log.Info().Str("driver", cfg.DBDriver).Msg("✅ Database connection established")
	return db, nil
}

// OpenSQLite opens path with modernc's pure Go driver.
// ":memory:" databases live per connection, so the pool is pinned to one.
func OpenSQLite(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	return db, nil
}

// Migrate creates the messages table for driver
func Migrate(db *sql.DB, driver string) error {
	schema := sqliteSchema
	if driver == "mysql" {
		schema = mysqlSchema
	}
	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create messages table: %w", err)
	}
	return nil
}
