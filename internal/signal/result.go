package signal

// Result is the outcome of one fused detection: the winning context, the
// signals that voted, and diagnostic breakdown for the status surface.
type Result struct {
	DetectedContext     string             `json:"detected_context"`
	OverallConfidence   float64            `json:"overall_confidence"`
	Signals             []Signal           `json:"signals"`
	SignalBreakdown     map[Source]float64 `json:"signal_breakdown"` // voting power per source
	WinningScore        float64            `json:"winning_score"`
	DetectionDurationMs float64            `json:"detection_duration_ms"`
	BoostApplied        bool               `json:"boost_applied"`
	BoostReason         string             `json:"boost_reason,omitempty"`
}

// HasConsensus reports whether more than one signal agreed on the winner.
func (r *Result) HasConsensus() bool {
	if r == nil {
		return false
	}
	n := 0
	for i := range r.Signals {
		if r.Signals[i].DetectedContext == r.DetectedContext {
			n++
		}
	}
	return n > 1
}

// UnsortedResult is the sentinel result used when no valid signals remain.
func UnsortedResult(durationMs float64) *Result {
	return &Result{
		DetectedContext:     Unsorted,
		OverallConfidence:   0,
		Signals:             nil,
		SignalBreakdown:     map[Source]float64{},
		DetectionDurationMs: durationMs,
	}
}
