package eventdb

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
		CREATE TABLE incident(
			id INTEGER PRIMARY KEY,
			anomaly_id TEXT NOT NULL,
			anomaly_type TEXT NOT NULL,
			details TEXT NOT NULL,
			camera_id TEXT NOT NULL,
			location TEXT,
			source_video TEXT NOT NULL,
			status TEXT NOT NULL,
			time INT NOT NULL,
			resolved_at INT
		);
		CREATE INDEX idx_incident_type_camera_time ON incident (anomaly_type, camera_id, time);
	`))

	migs = append(migs, dbh.MakeMigrationFromSQL(log, &idx,
		`
		CREATE INDEX idx_incident_time ON incident (time);
	`))

	return migs
}
