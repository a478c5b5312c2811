package labeldb

import (
	"github.com/BurntSushi/migration"
	"github.com/cyclopcam/dbh"
	"github.com/cyclopcam/logs"
)

func Migrations(log logs.Log) []migration.Migrator {
	migs := []migration.Migrator{}
	idx := 0

	migs = append(migs, dbh.MakeMigrationFromSQL(log, &idx,
		`
		CREATE TABLE image_status(
			id INTEGER PRIMARY KEY,
			path TEXT NOT NULL,
			split TEXT,
			labels INT NOT NULL,
			saved_at INT
		);
		CREATE UNIQUE INDEX idx_image_status_path ON image_status (path);
	`))

	migs = append(migs, dbh.MakeMigrationFromSQL(log, &idx,
		`
		ALTER TABLE image_status ADD COLUMN predicted INT NOT NULL DEFAULT 0;
	`))

	return migs
}
