// Package eventdb is a local sqlite journal of every incident that we have escalated.
// In standalone mode, it also takes the place of the backend as the authority on
// whether an incident is still active.
package eventdb

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/cyclopcam/dbh"
	"github.com/cyclopcam/logs"
	"github.com/drishti-agent/edge/server/anomaly"
	"github.com/drishti-agent/edge/server/config"
	"github.com/drishti-agent/edge/server/dedup"
	"gorm.io/gorm"
)

// Incidents older than this are purged
const MaxIncidentAge = 30 * 24 * time.Hour

// Journal is the incident database of a single camera
type Journal struct {
	Log      logs.Log
	DB       *gorm.DB
	cameraID string
	location config.Location

	lastPurge time.Time
}

// Open or create an incident journal
func Open(log logs.Log, dbFilename, cameraID string, location config.Location) (*Journal, error) {
	os.MkdirAll(filepath.Dir(dbFilename), 0770)
	log.Infof("Opening incident journal at '%v'", dbFilename)
	db, err := dbh.OpenDB(log, dbh.MakeSqliteConfig(dbFilename), Migrations(log), 0)
	if err != nil {
		return nil, fmt.Errorf("Failed to open incident journal %v: %w", dbFilename, err)
	}
	return &Journal{
		Log:      log,
		DB:       db,
		cameraID: cameraID,
		location: location,
	}, nil
}

func (j *Journal) Close() {
	if sqlDB, err := j.DB.DB(); err == nil {
		sqlDB.Close()
	}
}

// Escalate records the event as an active incident
func (j *Journal) Escalate(ctx context.Context, ev anomaly.Event, sourceVideo string) error {
	_, err := j.Record(ctx, ev, sourceVideo)
	return err
}

// Record adds the event to the journal, with status "active"
func (j *Journal) Record(ctx context.Context, ev anomaly.Event, sourceVideo string) (*Incident, error) {
	j.purgeOldRecords(ev.Time)
	loc := dbh.MakeJSONField(j.location)
	inc := &Incident{
		AnomalyID:   ev.ID,
		AnomalyType: ev.Type.DisplayName(),
		Details:     ev.Details,
		CameraID:    j.cameraID,
		Location:    &loc,
		SourceVideo: sourceVideo,
		Status:      StatusActive,
		Time:        dbh.MakeIntTime(ev.Time),
	}
	if err := j.DB.WithContext(ctx).Create(inc).Error; err != nil {
		return nil, fmt.Errorf("Failed to record incident %v: %w", ev.ID, err)
	}
	return inc, nil
}

// RecentIncidents returns the most recent incidents of the given type, newest first.
// anomalyType is the display name of the anomaly.
func (j *Journal) RecentIncidents(ctx context.Context, anomalyType, cameraID string, limit int) ([]dedup.IncidentRecord, error) {
	var incidents []*Incident
	q := j.DB.WithContext(ctx).Where("anomaly_type = ? AND camera_id = ?", anomalyType, cameraID).Order("time DESC, id DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&incidents).Error; err != nil {
		return nil, err
	}
	records := make([]dedup.IncidentRecord, 0, len(incidents))
	for _, inc := range incidents {
		records = append(records, inc.Record())
	}
	return records, nil
}

// Resolve marks all active incidents of the given type on this camera as resolved,
// and returns the number of incidents that changed.
func (j *Journal) Resolve(ctx context.Context, t anomaly.Type, now time.Time) (int64, error) {
	res := j.DB.WithContext(ctx).Model(&Incident{}).
		Where("anomaly_type = ? AND camera_id = ? AND status = ?", t.DisplayName(), j.cameraID, StatusActive).
		Updates(map[string]any{"status": StatusResolved, "resolved_at": dbh.MakeIntTime(now)})
	if res.Error != nil {
		return 0, res.Error
	}
	if res.RowsAffected != 0 {
		j.Log.Infof("Journal: resolved %v '%v' incidents", res.RowsAffected, t.DisplayName())
	}
	return res.RowsAffected, nil
}

// List returns the most recent incidents, newest first
func (j *Journal) List(ctx context.Context, limit int) ([]*Incident, error) {
	var incidents []*Incident
	if err := j.DB.WithContext(ctx).Order("time DESC, id DESC").Limit(limit).Find(&incidents).Error; err != nil {
		return nil, err
	}
	return incidents, nil
}

func (j *Journal) purgeOldRecords(now time.Time) {
	if now.Sub(j.lastPurge) < time.Hour {
		return
	}
	j.lastPurge = now
	oldest := dbh.MakeIntTime(now.Add(-MaxIncidentAge))
	if err := j.DB.Where("time < ?", oldest).Delete(&Incident{}).Error; err != nil {
		j.Log.Warnf("Journal: failed to purge old incidents: %v", err)
	}
}
