package peers

// FairShareMode selects how the global budget is divided among live peers.
type FairShareMode int

const (
	// FairShareEqual splits the budget evenly regardless of load.
	FairShareEqual FairShareMode = iota

	// FairShareWeighted gives lighter-loaded instances a larger share,
	// weighting each peer by 1/(pending+1).
	FairShareWeighted
)

// ParseFairShareMode converts a config string to a FairShareMode.
// Unrecognized values map to FairShareWeighted.
func ParseFairShareMode(name string) FairShareMode {
	if name == "equal" {
		return FairShareEqual
	}
	return FairShareWeighted
}

// String returns the config name for a mode.
func (m FairShareMode) String() string {
	if m == FairShareEqual {
		return "equal"
	}
	return "weighted"
}

// EqualShare divides base evenly among n peers, floored at one unit so every
// instance keeps minimum progress.
func EqualShare(base, n int) int {
	if n < 1 {
		n = 1
	}
	share := base / n
	if share < 1 {
		return 1
	}
	return share
}

// WeightedShare returns this instance's share of base when each peer is
// weighted by 1/(pending+1): an idle instance weighs 1, a backlogged one
// asymptotically less, so spare capacity flows to whoever can use it next.
// Floored at one unit.
func WeightedShare(base, selfPending int, peerPendings []int) int {
	selfWeight := 1.0 / float64(selfPending+1)
	total := selfWeight
	for _, pending := range peerPendings {
		total += 1.0 / float64(pending+1)
	}

	share := int(float64(base) * selfWeight / total)
	if share < 1 {
		return 1
	}
	return share
}
