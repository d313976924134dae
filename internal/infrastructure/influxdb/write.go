package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/nerrad567/habridge-core/internal/hass"
)

// Measurements written by the bridge.
const (
	MeasurementStateChange  = "state_change"
	MeasurementRegistrySync = "registry_sync"
	MeasurementTaskRun      = "task_run"
)

// WriteStateChange records an entity transition that fired a notification.
func (c *Client) WriteStateChange(entityID, oldState, newState string, at time.Time) {
	c.WritePointWithTime(MeasurementStateChange,
		map[string]string{
			"entity_id": entityID,
			"domain":    hass.Domain(entityID),
		},
		map[string]any{
			"old_state": oldState,
			"new_state": newState,
		},
		at,
	)
}

// SyncStats is one registry sync outcome.
type SyncStats struct {
	OK       bool
	Floors   int
	Areas    int
	Devices  int
	Entities int
	Added    int
	Removed  int
}

// WriteRegistrySync records a registry sync.
func (c *Client) WriteRegistrySync(s SyncStats, at time.Time) {
	c.WritePointWithTime(MeasurementRegistrySync,
		nil,
		map[string]any{
			"ok":       s.OK,
			"floors":   s.Floors,
			"areas":    s.Areas,
			"devices":  s.Devices,
			"entities": s.Entities,
			"added":    s.Added,
			"removed":  s.Removed,
		},
		at,
	)
}

// WriteTaskRun records a scheduled task execution.
func (c *Client) WriteTaskRun(taskID int64, actionType string, ok bool, at time.Time) {
	c.WritePointWithTime(MeasurementTaskRun,
		map[string]string{"action_type": actionType},
		map[string]any{
			"task_id": taskID,
			"ok":      ok,
		},
		at,
	)
}

// WritePoint writes a point timestamped now.
func (c *Client) WritePoint(measurement string, tags map[string]string, fields map[string]any) {
	c.WritePointWithTime(measurement, tags, fields, time.Now())
}

// WritePointWithTime writes a point with an explicit timestamp. Writes on a
// closed client are dropped.
func (c *Client) WritePointWithTime(measurement string, tags map[string]string, fields map[string]any, timestamp time.Time) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(write.NewPoint(measurement, tags, fields, timestamp))
}
