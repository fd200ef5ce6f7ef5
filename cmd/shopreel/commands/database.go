package commands

import (
	"database/sql"

	"github.com/teranos/shopreel/am"
	"github.com/teranos/shopreel/db"
	"github.com/teranos/shopreel/errors"
	"github.com/teranos/shopreel/logger"
)

// openDatabase opens and migrates a database using the specified path.
// If dbPath is empty, it loads from am config. Uses logger.Logger for db operations.
func openDatabase(dbPath string) (*sql.DB, error) {
	if dbPath == "" {
		path, err := am.GetDatabasePath()
		if err != nil {
			return nil, errors.Wrap(err, "failed to get database path")
		}
		if path == "" {
			dbPath = "shopreel.db"
		} else {
			dbPath = path
		}
	}

	database, err := db.Open(dbPath, logger.Logger)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open database at %s", dbPath)
	}

	if err := db.Migrate(database, logger.Logger); err != nil {
		database.Close()
		return nil, errors.Wrapf(err, "failed to run migrations on %s", dbPath)
	}

	return database, nil
}

// resolveDatabasePath reports the path openDatabase would use, for
// banner and stats output.
func resolveDatabasePath(dbPath string) string {
	if dbPath != "" {
		return dbPath
	}
	path, err := am.GetDatabasePath()
	if err != nil || path == "" {
		return "shopreel.db"
	}
	return path
}
