package canteen

// Crowd thresholds in percent. Analytics and alerting both classify through
// LevelFor so the dashboard and the alerts never disagree.
const (
	HighThreshold     = 70.0
	MediumThreshold   = 40.0
	CriticalThreshold = 90.0
)

type CrowdLevel string

const (
	CrowdLow    CrowdLevel = "low"
	CrowdMedium CrowdLevel = "medium"
	CrowdHigh   CrowdLevel = "high"
)

func LevelFor(occupancy float64) CrowdLevel {
	switch {
	case occupancy >= HighThreshold:
		return CrowdHigh
	case occupancy >= MediumThreshold:
		return CrowdMedium
	default:
		return CrowdLow
	}
}

// Occupancy is active/capacity as a percentage clamped to [0,100].
func Occupancy(active, capacity int) float64 {
	if capacity <= 0 {
		return 0
	}
	return Clamp(float64(active) / float64(capacity) * 100)
}

func Clamp(pct float64) float64 {
	if pct < 0 {
		return 0
	}
	if pct > 100 {
		return 100
	}
	return pct
}
