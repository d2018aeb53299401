package run

type PaceZone string

const (
	ZoneNone   PaceZone = ""
	ZoneFast   PaceZone = "fast"
	ZoneSteady PaceZone = "steady"
	ZoneSlow   PaceZone = "slow"
)

// PaceZones classifies per-point pace for path coloring. Paces are in
// seconds per kilometre, so a smaller number is faster.
type PaceZones struct {
	FastBelow float64
	SlowAbove float64
}

// DefaultPaceZones puts sub-5:00/km in the fast band and anything slower
// than 7:00/km in the slow band.
var DefaultPaceZones = PaceZones{FastBelow: 300, SlowAbove: 420}

func (z PaceZones) Classify(paceSecPerKm float64) PaceZone {
	switch {
	case paceSecPerKm <= 0:
		return ZoneNone
	case paceSecPerKm < z.FastBelow:
		return ZoneFast
	case paceSecPerKm > z.SlowAbove:
		return ZoneSlow
	default:
		return ZoneSteady
	}
}
