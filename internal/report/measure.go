package report

// ChangePercentage is the relative change from before to after, in percent.
// A zero before area yields 0.
func ChangePercentage(before, after float64) float64 {
	if before <= 0 {
		return 0
	}
	return (after - before) / before * 100
}

// SpeedRate spreads ChangePercentage over the interval in weeks.
func SpeedRate(before, after, weeks float64) float64 {
	if before <= 0 || weeks <= 0 {
		return 0
	}
	return ChangePercentage(before, after) / weeks
}

// Recommendation picks a coarse treatment suggestion from the weekly rate.
func Recommendation(speedRate float64) string {
	switch {
	case speedRate <= -2:
		return "Continue current treatment; depigmented area is shrinking steadily."
	case speedRate < 0:
		return "Continue current treatment and review again at the next interval."
	case speedRate == 0:
		return "No measurable change; consider adjusting treatment."
	default:
		return "Depigmented area is growing; consult a dermatologist about phototherapy."
	}
}
