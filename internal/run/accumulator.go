package run

import (
	"math"
	"time"

	"backend-runhub/internal/shared/geo"
)

// accumulator holds the running totals of one logical run. It is owned by
// Session and only touched with Session.mu held.
type accumulator struct {
	startedAt   time.Time
	pausedAt    time.Time
	endedAt     time.Time
	totalPaused time.Duration

	distance   float64
	totalSteps int

	// Cleared on pause and resume so no delta is taken across a gap.
	lastLocation  *LocationSample
	lastPedometer *PedometerSample
	// Survives pauses; used for snapshots and the fastest-pace fallback.
	lastKnown *Coordinate

	// Instantaneous values. A tick that saw no fresh sample of the matching
	// kind reports zero instead of the last value.
	cadence        float64
	pace           float64
	freshLocation  bool
	freshPedometer bool

	maxCadence  float64
	fastestPace float64
	fastestAt   *Coordinate

	path []PathPoint
}

func newAccumulator() accumulator {
	return accumulator{fastestPace: math.Inf(1)}
}

func (a *accumulator) reset() {
	*a = newAccumulator()
}

func (a *accumulator) clearContinuity() {
	a.lastLocation = nil
	a.lastPedometer = nil
	a.pace, a.cadence = 0, 0
	a.freshLocation, a.freshPedometer = false, false
}

func (a *accumulator) addLocation(loc LocationSample, zones *PaceZones) {
	if prev := a.lastLocation; prev != nil {
		a.distance += geo.DistanceMeters(prev.Lat, prev.Lng, loc.Lat, loc.Lng)
	}

	a.pace = 0
	if loc.SpeedMps > 0 {
		a.pace = 1000 / loc.SpeedMps
	}
	if a.pace > 0 && a.pace < a.fastestPace {
		a.fastestPace = a.pace
		c := loc.Coordinate
		a.fastestAt = &c
	}

	a.freshLocation = true
	sample := loc
	a.lastLocation = &sample
	c := loc.Coordinate
	a.lastKnown = &c

	point := PathPoint{Coordinate: loc.Coordinate, Timestamp: loc.Timestamp, PaceSecPerKm: a.pace}
	if zones != nil {
		point.Zone = zones.Classify(a.pace)
	}
	a.path = append(a.path, point)
}

func (a *accumulator) addPedometer(p PedometerSample) {
	a.cadence = 0
	if p.CadenceStepsPerSec != nil && *p.CadenceStepsPerSec > 0 {
		a.cadence = *p.CadenceStepsPerSec * 60
	}

	if prev := a.lastPedometer; prev != nil {
		if delta := p.CumulativeSteps - prev.CumulativeSteps; delta > 0 {
			a.totalSteps += delta
		}
	}

	if a.cadence > a.maxCadence {
		a.maxCadence = a.cadence
	}
	if p.PaceSecPerMeter != nil && *p.PaceSecPerMeter > 0 {
		pace := *p.PaceSecPerMeter * 1000
		if pace < a.fastestPace {
			a.fastestPace = pace
			a.fastestAt = nil
			if a.lastKnown != nil {
				c := *a.lastKnown
				a.fastestAt = &c
			}
		}
	}

	a.freshPedometer = true
	sample := p
	a.lastPedometer = &sample
}

func (a *accumulator) elapsed(at time.Time) time.Duration {
	if a.startedAt.IsZero() {
		return 0
	}
	d := at.Sub(a.startedAt) - a.totalPaused
	if d < 0 {
		return 0
	}
	return d
}

// tickSnapshot zeroes the instantaneous metrics that had no sample since the
// previous tick, then starts a new tick window.
func (a *accumulator) tickSnapshot(at time.Time) Snapshot {
	if !a.freshLocation {
		a.pace = 0
	}
	if !a.freshPedometer {
		a.cadence = 0
	}
	a.freshLocation, a.freshPedometer = false, false
	return a.snapshot(at)
}

func (a *accumulator) snapshot(at time.Time) Snapshot {
	snap := Snapshot{
		Timestamp: at,
		Metrics: Metrics{
			TotalDistanceMeters: a.distance,
			ElapsedSeconds:      a.elapsed(at).Seconds(),
			CurrentPaceSecPerKm: a.pace,
			CurrentCadenceSpm:   a.cadence,
			TotalSteps:          a.totalSteps,
		},
	}
	if a.lastKnown != nil {
		c := *a.lastKnown
		snap.LastPoint = &c
	}
	return snap
}

// endTime is the moment elapsed time stops counting: the stop or failure
// time, else the start of the current pause, else now.
func (a *accumulator) endTime(now time.Time) time.Time {
	switch {
	case !a.endedAt.IsZero():
		return a.endedAt
	case !a.pausedAt.IsZero():
		return a.pausedAt
	default:
		return now
	}
}

func (a *accumulator) detail(now time.Time, minDistance float64) Detail {
	elapsed := a.elapsed(a.endTime(now)).Seconds()

	s := Summary{
		StartedAt:           a.startedAt,
		TotalDistanceMeters: a.distance,
		ElapsedSeconds:      elapsed,
		MaxCadenceSpm:       a.maxCadence,
		TotalSteps:          a.totalSteps,
	}
	if a.distance >= minDistance && a.distance > 0 {
		s.AvgPaceSecPerKm = elapsed / (a.distance / 1000)
	}
	if elapsed > 0 {
		s.AvgCadenceSpm = float64(a.totalSteps) / (elapsed / 60)
	}
	if !math.IsInf(a.fastestPace, 1) {
		s.FastestPaceSecPerKm = a.fastestPace
	}
	switch {
	case a.fastestAt != nil:
		s.CoordinateAtFastestPace = *a.fastestAt
	case a.lastKnown != nil:
		s.CoordinateAtFastestPace = *a.lastKnown
	default:
		s.CoordinateAtFastestPace = UnknownCoordinate
	}

	path := make([]PathPoint, len(a.path))
	copy(path, a.path)
	return Detail{Summary: s, Path: path}
}
