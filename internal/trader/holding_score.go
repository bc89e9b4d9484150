package trader

// HoldingScore converts a holding's technical sell-pressure score (0-100,
// higher = more pressure to exit) into a worth-keeping score comparable with
// fresh signal scores: higher sell pressure yields a lower holding score.
//
// The piecewise segments step down by more than one point at their
// boundaries. The jump discourages moderate-weakness holdings relative to
// fresh signals of similar score and is intentional, not a rounding artifact.
func HoldingScore(sellScore int) int {
	s := sellScore
	if s < 0 {
		s = 0
	}
	if s > 100 {
		s = 100
	}

	switch {
	case s >= 60:
		h := 20 - (s-60)/2
		if h < 0 {
			h = 0
		}
		return h
	case s >= 40:
		return 40 - (s - 40)
	case s >= 20:
		return 60 - (s - 20)
	default:
		return 80 - s
	}
}
