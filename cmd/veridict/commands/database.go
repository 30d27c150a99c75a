package commands

import (
	"database/sql"

	"github.com/veridict/veridict/am"
	"github.com/veridict/veridict/db"
	"github.com/veridict/veridict/errors"
	"github.com/veridict/veridict/logger"
)

// openDatabase opens and migrates a database using the specified path.
// If dbPath is empty, the path comes from configuration.
func openDatabase(dbPath string) (*sql.DB, error) {
	if dbPath == "" {
		cfg, err := am.Load()
		if err != nil {
			return nil, errors.Wrap(err, "failed to load configuration")
		}
		dbPath = cfg.Database.Path
		if dbPath == "" {
			dbPath = "veridict.db"
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
