package database

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"strings"

	"cryptocompare-telegram-bot/internal/types"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	_ "modernc.org/sqlite"
)

// Store is what the bot persists: alerts per chat and its own counters
type Store interface {
	SaveChat(ctx context.Context, chatID int64, conditions []types.Condition) error
	DeleteChat(ctx context.Context, chatID int64) error
	LoadAll(ctx context.Context) ([]types.Condition, error)

	SaveMetric(metricName, labelKey, labelValue string, value float64) error
	GetMetric(metricName string) (float64, error)
	GetMetricsWithLabels(metricName string) (map[string]map[string]float64, error)

	Close() error
}

var (
	_ Store = (*SQLite)(nil)
	_ Store = (*Bunt)(nil)
)

// Open opens the store selected by driver ("sqlite" or "buntdb")
func Open(driver, path string) (Store, error) {
	if path != ":memory:" {
		if dir := filepath.Dir(path); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, errors.Wrapf(err, "create data directory %s", dir)
			}
		}
	}

	switch strings.ToLower(driver) {
	case "", "sqlite":
		return OpenSQLite(path)
	case "buntdb":
		return OpenBunt(path)
	}
	return nil, errors.Errorf("unknown store driver %q", driver)
}

// SQLite stores alerts and metrics in a sqlite file
type SQLite struct {
	db *sql.DB
}

func OpenSQLite(dbPath string) (*SQLite, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, errors.Wrap(err, "failed to connect to database")
	}
	// sqlite serializes writers; one connection avoids SQLITE_BUSY
	db.SetMaxOpenConns(1)

	createAlertsTable := `
	CREATE TABLE IF NOT EXISTS alert_chats (
		chat_id INTEGER PRIMARY KEY,
		payload TEXT NOT NULL,
		updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);`
	if _, err = db.Exec(createAlertsTable); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "failed to create alert_chats table")
	}

	createMetricsTable := `
	CREATE TABLE IF NOT EXISTS metrics (
		metric_name TEXT NOT NULL,
		label_key TEXT NOT NULL DEFAULT '',
		label_value TEXT NOT NULL DEFAULT '',
		metric_value REAL NOT NULL,
		PRIMARY KEY (metric_name, label_key, label_value)
	);`
	if _, err = db.Exec(createMetricsTable); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "failed to create metrics table")
	}

	log.Infof("sqlite database initialized at %s", dbPath)
	return &SQLite{db: db}, nil
}

func (s *SQLite) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}
