package stylize

// Capacity returns the largest submittable asset count for a job type given
// the configured per-request limit. Pair-based job types are forced down to
// an even limit.
func Capacity(t JobType, limit int) int {
	if limit <= 0 {
		limit = MaxAssetsPerRequest
	}
	if t.PairBased() {
		limit -= limit % 2
	}
	return limit
}

// TrimPlan describes how an over- or odd-sized buffer is cut down to a
// submittable size. The oldest assets are retained; Discarded counts the
// trailing assets dropped.
type TrimPlan struct {
	Keep      int
	Discarded int
}

// PlanSubmit evaluates the capacity rule for a buffer of n assets. ok is
// false when nothing usable remains and the submission must be rejected.
func PlanSubmit(t JobType, n, limit int) (TrimPlan, bool) {
	cap := Capacity(t, limit)
	keep := n
	if t.PairBased() {
		keep -= keep % 2
	}
	if keep > cap {
		keep = cap
	}
	if keep <= 0 {
		return TrimPlan{}, false
	}
	return TrimPlan{Keep: keep, Discarded: n - keep}, true
}
