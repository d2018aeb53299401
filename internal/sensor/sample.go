// Package sensor provides run.SensorSource implementations fed by HTTP
// ingestion, Redis, MQTT or a scripted route.
package sensor

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"backend-runhub/internal/run"
)

const (
	TypeLocation  = "location"
	TypePedometer = "pedometer"
)

var ErrUnknownSampleType = errors.New("unknown sample type")

// Sample is the wire format devices publish. Pointer fields are optional;
// a missing value is passed on as "unavailable".
type Sample struct {
	Type       string    `json:"type"`
	Lat        float64   `json:"lat,omitempty"`
	Lng        float64   `json:"lng,omitempty"`
	AltitudeM  float64   `json:"altitude_m,omitempty"`
	SpeedMps   float64   `json:"speed_mps,omitempty"`
	Steps      int       `json:"steps,omitempty"`
	CadenceSps *float64  `json:"cadence_sps,omitempty"`
	PaceSpm    *float64  `json:"pace_spm,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

func (s Sample) Event() (run.SensorEvent, error) {
	switch s.Type {
	case TypeLocation:
		return run.SensorEvent{Location: &run.LocationSample{
			Coordinate: run.Coordinate{Lat: s.Lat, Lng: s.Lng},
			AltitudeM:  s.AltitudeM,
			SpeedMps:   s.SpeedMps,
			Timestamp:  s.Timestamp,
		}}, nil
	case TypePedometer:
		return run.SensorEvent{Pedometer: &run.PedometerSample{
			CumulativeSteps:    s.Steps,
			CadenceStepsPerSec: s.CadenceSps,
			PaceSecPerMeter:    s.PaceSpm,
			Timestamp:          s.Timestamp,
		}}, nil
	default:
		return run.SensorEvent{}, fmt.Errorf("%w: %q", ErrUnknownSampleType, s.Type)
	}
}

func DecodeSample(payload []byte) (run.SensorEvent, error) {
	var s Sample
	if err := json.Unmarshal(payload, &s); err != nil {
		return run.SensorEvent{}, fmt.Errorf("decode sample: %w", err)
	}
	return s.Event()
}
