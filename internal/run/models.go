// Package run tracks a single workout from live sensor events and reports
// periodic snapshots and a final summary.
package run

import (
	"encoding/json"
	"time"
)

type State int

const (
	Idle State = iota
	Running
	Paused
	Stopped
)

var stateNames = map[State]string{
	Idle:    "idle",
	Running: "running",
	Paused:  "paused",
	Stopped: "stopped",
}

func (s State) String() string {
	if n, ok := stateNames[s]; ok {
		return n
	}
	return "unknown"
}

func (s State) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

type Coordinate struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// UnknownCoordinate is reported as the fastest-pace location when a run
// produced no location data at all.
var UnknownCoordinate = Coordinate{}

type LocationSample struct {
	Coordinate
	AltitudeM float64   `json:"altitude_m"`
	SpeedMps  float64   `json:"speed_mps"` // <= 0 when the sensor has no speed fix
	Timestamp time.Time `json:"timestamp"`
}

type PedometerSample struct {
	CumulativeSteps    int       `json:"cumulative_steps"`
	CadenceStepsPerSec *float64  `json:"cadence_sps,omitempty"`
	PaceSecPerMeter    *float64  `json:"pace_spm,omitempty"`
	Timestamp          time.Time `json:"timestamp"`
}

// SensorEvent carries exactly one of Location or Pedometer, or a terminal Err.
type SensorEvent struct {
	Location  *LocationSample
	Pedometer *PedometerSample
	Err       error
}

type Metrics struct {
	TotalDistanceMeters float64 `json:"total_distance_m"`
	ElapsedSeconds      float64 `json:"elapsed_sec"`
	CurrentPaceSecPerKm float64 `json:"current_pace_sec_per_km"`
	CurrentCadenceSpm   float64 `json:"current_cadence_spm"`
	TotalSteps          int     `json:"total_steps"`
}

type Snapshot struct {
	Timestamp time.Time   `json:"timestamp"`
	LastPoint *Coordinate `json:"last_point,omitempty"`
	Metrics   Metrics     `json:"metrics"`
}

type Summary struct {
	StartedAt               time.Time  `json:"started_at"`
	TotalDistanceMeters     float64    `json:"total_distance_m"`
	ElapsedSeconds          float64    `json:"elapsed_sec"`
	AvgPaceSecPerKm         float64    `json:"avg_pace_sec_per_km"`
	AvgCadenceSpm           float64    `json:"avg_cadence_spm"`
	MaxCadenceSpm           float64    `json:"max_cadence_spm"`
	FastestPaceSecPerKm     float64    `json:"fastest_pace_sec_per_km"`
	CoordinateAtFastestPace Coordinate `json:"coordinate_at_fastest_pace"`
	TotalSteps              int        `json:"total_steps"`
}

type PathPoint struct {
	Coordinate
	Timestamp    time.Time `json:"timestamp"`
	PaceSecPerKm float64   `json:"pace_sec_per_km"`
	Zone         PaceZone  `json:"zone,omitempty"`
}

// Detail is the Summary plus the recorded path.
type Detail struct {
	Summary
	Path []PathPoint `json:"path"`
}
