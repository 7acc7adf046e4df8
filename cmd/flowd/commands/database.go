package commands

import (
	"database/sql"

	"github.com/flowd-sh/flowd/db"
	"github.com/flowd-sh/flowd/errors"
	"github.com/flowd-sh/flowd/logger"
)

// ConfigPath is the --config flag value shared by all commands.
var ConfigPath string

// openDatabase opens and migrates the database at the given path.
func openDatabase(path string) (*sql.DB, error) {
	database, err := db.Open(path, logger.Logger)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open database at %s", path)
	}

	if err := db.Migrate(database, logger.Logger); err != nil {
		database.Close()
		return nil, errors.Wrapf(err, "failed to run migrations on %s", path)
	}

	return database, nil
}
