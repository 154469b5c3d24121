// Package dedup decides whether an anomaly may be escalated, so that one real-world
// incident produces one escalation. Each anomaly type has a local ACTIVE flag, a cooldown,
// and is periodically reconciled against the incident records of the remote backend.
package dedup

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cyclopcam/logs"
	"github.com/drishti-agent/edge/server/anomaly"
)

// IncidentRecord is an incident as the remote backend (or local journal) knows it
type IncidentRecord struct {
	ID        string  `json:"id"`
	Type      string  `json:"type"` // Display name, eg "Fall Detection"
	CameraID  string  `json:"cameraId"`
	Status    string  `json:"status"`    // "active", "processing", "resolved", ...
	Timestamp float64 `json:"timestamp"` // Unix seconds
}

const StatusActive = "active"

// IncidentStore answers "which incidents of this type exist for this camera"
type IncidentStore interface {
	RecentIncidents(ctx context.Context, anomalyType, cameraID string, limit int) ([]IncidentRecord, error)
}

type State int

const (
	Inactive State = iota
	Active
)

func (s State) String() string {
	if s == Active {
		return "ACTIVE"
	}
	return "INACTIVE"
}

// Reasons that Allow returns for a suppressed escalation
const (
	ReasonActive       = "active"
	ReasonRemoteActive = "remote_active"
	ReasonCooldown     = "cooldown"
)

type Settings struct {
	CameraID        string
	Cooldown        time.Duration // Minimum time between escalations of one type
	RecheckInterval time.Duration // Minimum time between remote polls of one type
	RecencyWindow   time.Duration // Remote records older than this are ignored
	QueryTimeout    time.Duration
	AllowLimit      int // Records requested when checking before an escalation
	ReconcileLimit  int // Records requested when checking whether an ACTIVE type has resolved
}

func DefaultSettings(cameraID string) Settings {
	return Settings{
		CameraID:        cameraID,
		Cooldown:        30 * time.Second,
		RecheckInterval: 60 * time.Second,
		RecencyWindow:   600 * time.Second,
		QueryTimeout:    10 * time.Second,
		AllowLimit:      10,
		ReconcileLimit:  5,
	}
}

type typeState struct {
	state          State
	lastEscalation time.Time
	lastPoll       time.Time
}

// TypeStatus is a snapshot of one anomaly type
type TypeStatus struct {
	Type           anomaly.Type `json:"type"`
	State          string       `json:"state"`
	LastEscalation time.Time    `json:"lastEscalation,omitempty"`
	LastPoll       time.Time    `json:"lastPoll,omitempty"`
}

// Deduplicator holds the per-type escalation state.
// A nil store means there is no remote authority, so ACTIVE only clears through Clear().
type Deduplicator struct {
	Log      logs.Log
	store    IncidentStore
	settings Settings

	lock       sync.Mutex
	states     map[anomaly.Type]*typeState
	pollErrors atomic.Int64
}

func NewDeduplicator(log logs.Log, store IncidentStore, settings Settings) *Deduplicator {
	d := &Deduplicator{
		Log:      log,
		store:    store,
		settings: settings,
		states:   map[anomaly.Type]*typeState{},
	}
	for _, t := range anomaly.AllTypes {
		d.states[t] = &typeState{}
	}
	return d
}

func (d *Deduplicator) get(t anomaly.Type) *typeState {
	s := d.states[t]
	if s == nil {
		s = &typeState{}
		d.states[t] = s
	}
	return s
}

func (d *Deduplicator) pollDue(s *typeState, now time.Time) bool {
	return d.store != nil && (s.lastPoll.IsZero() || now.Sub(s.lastPoll) >= d.settings.RecheckInterval)
}

// remoteActive asks the store whether there is a recent active incident of this type for our camera.
func (d *Deduplicator) remoteActive(ctx context.Context, t anomaly.Type, limit int, now time.Time) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, d.settings.QueryTimeout)
	defer cancel()
	records, err := d.store.RecentIncidents(ctx, t.DisplayName(), d.settings.CameraID, limit)
	if err != nil {
		return false, err
	}
	for _, r := range records {
		if d.isLiveRecord(r, t, now) {
			return true, nil
		}
	}
	return false, nil
}

// A record only counts if it is active, for our camera and type, and recent
func (d *Deduplicator) isLiveRecord(r IncidentRecord, t anomaly.Type, now time.Time) bool {
	if r.Status != StatusActive || r.CameraID != d.settings.CameraID || r.Type != t.DisplayName() {
		return false
	}
	age := now.Sub(time.Unix(0, int64(r.Timestamp*1e9)))
	return age < d.settings.RecencyWindow
}

// Allow returns true if an anomaly of type t may be escalated now.
// If not, reason is one of the Reason constants.
// The remote store is consulted at most once per RecheckInterval per type. If it cannot be
// reached, we carry on with local state alone.
func (d *Deduplicator) Allow(ctx context.Context, t anomaly.Type, now time.Time) (allowed bool, reason string) {
	d.lock.Lock()
	defer d.lock.Unlock()

	s := d.get(t)
	if s.state == Active {
		return false, ReasonActive
	}

	if d.pollDue(s, now) {
		active, err := d.remoteActive(ctx, t, d.settings.AllowLimit, now)
		if err != nil {
			d.pollErrors.Add(1)
			d.Log.Warnf("Dedup: Failed to query remote state of '%v': %v", t.DisplayName(), err)
		} else if active {
			d.Log.Infof("Dedup: '%v' is already active remotely, suppressing", t.DisplayName())
			s.state = Active
			s.lastPoll = now
			return false, ReasonRemoteActive
		}
		// Failed polls count too, so an unreachable backend is tried once per interval
		s.lastPoll = now
	}

	if !s.lastEscalation.IsZero() && now.Sub(s.lastEscalation) < d.settings.Cooldown {
		return false, ReasonCooldown
	}
	return true, ""
}

// MarkEscalated must be called after a successful escalation
func (d *Deduplicator) MarkEscalated(t anomaly.Type, now time.Time) {
	d.lock.Lock()
	defer d.lock.Unlock()
	s := d.get(t)
	s.state = Active
	s.lastEscalation = now
}

// Clear returns a type to INACTIVE because a local heuristic has decided the incident is over.
// The cooldown still applies.
func (d *Deduplicator) Clear(t anomaly.Type) {
	d.lock.Lock()
	defer d.lock.Unlock()
	s := d.get(t)
	if s.state == Active {
		d.Log.Infof("Dedup: '%v' cleared locally", t.DisplayName())
	}
	s.state = Inactive
}

// Reconcile polls the remote store for every ACTIVE type whose poll is due, and returns
// types to INACTIVE when the remote has no live incident for them.
// Returns the types that were resolved.
func (d *Deduplicator) Reconcile(ctx context.Context, now time.Time) []anomaly.Type {
	if d.store == nil {
		return nil
	}
	d.lock.Lock()
	defer d.lock.Unlock()

	var resolved []anomaly.Type
	for _, t := range anomaly.AllTypes {
		s := d.get(t)
		if s.state != Active || !d.pollDue(s, now) {
			continue
		}
		active, err := d.remoteActive(ctx, t, d.settings.ReconcileLimit, now)
		s.lastPoll = now
		if err != nil {
			d.pollErrors.Add(1)
			d.Log.Warnf("Dedup: Failed to reconcile '%v': %v", t.DisplayName(), err)
			continue
		}
		if !active {
			d.Log.Infof("Dedup: '%v' has been resolved, resuming alerts", t.DisplayName())
			s.state = Inactive
			resolved = append(resolved, t)
		}
	}
	return resolved
}

func (d *Deduplicator) IsActive(t anomaly.Type) bool {
	d.lock.Lock()
	defer d.lock.Unlock()
	return d.get(t).state == Active
}

// PollErrors is the number of failed remote queries since startup
func (d *Deduplicator) PollErrors() int64 {
	return d.pollErrors.Load()
}

func (d *Deduplicator) Status() []TypeStatus {
	d.lock.Lock()
	defer d.lock.Unlock()
	out := make([]TypeStatus, 0, len(anomaly.AllTypes))
	for _, t := range anomaly.AllTypes {
		s := d.get(t)
		out = append(out, TypeStatus{
			Type:           t,
			State:          s.state.String(),
			LastEscalation: s.lastEscalation,
			LastPoll:       s.lastPoll,
		})
	}
	return out
}
