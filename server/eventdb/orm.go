package eventdb

import (
	"github.com/cyclopcam/dbh"
	"github.com/drishti-agent/edge/server/config"
	"github.com/drishti-agent/edge/server/dedup"
)

// BaseModel is our base class for a GORM model.
// The default GORM Model uses int, but we prefer int64
type BaseModel struct {
	ID int64 `gorm:"primaryKey" json:"id"`
}

const (
	StatusActive   = dedup.StatusActive
	StatusResolved = "resolved"
)

// Incident is one escalated anomaly
type Incident struct {
	BaseModel
	AnomalyID   string                          `json:"anomalyId"`
	AnomalyType string                          `json:"anomalyType"` // Display name, eg "Fall Detection"
	Details     string                          `json:"details"`
	CameraID    string                          `json:"cameraId"`
	Location    *dbh.JSONField[config.Location] `json:"location"`
	SourceVideo string                          `json:"sourceVideo"`
	Status      string                          `json:"status"`
	Time        dbh.IntTime                     `json:"time"`
	ResolvedAt  dbh.IntTime                     `json:"resolvedAt"` // Zero until resolved
}

// Record converts the incident into the form that the deduplicator consumes
func (i *Incident) Record() dedup.IncidentRecord {
	return dedup.IncidentRecord{
		ID:        i.AnomalyID,
		Type:      i.AnomalyType,
		CameraID:  i.CameraID,
		Status:    i.Status,
		Timestamp: float64(i.Time.Get().UnixMilli()) / 1000,
	}
}
