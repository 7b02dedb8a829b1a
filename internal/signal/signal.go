package signal

import "time"

// Unsorted is the explicit "no classification" sentinel, distinct from an
// absent signal.
const Unsorted = "Unsorted"

// Source identifies which provider produced a signal
type Source string

const (
	SourceForeground Source = "foreground" // Currently focused window
	SourceBackground Source = "background" // Recently seen background window
	SourceSession    Source = "session"    // Active grouping session
	SourcePattern    Source = "pattern"    // Historical extension pattern
)

// Signal is a single source's proposed classification plus its confidence
// and weight. Signals live for one detection call; the boost policy is the
// only mutator (weight and WasBoosted, once).
type Signal struct {
	Source          Source    `json:"source"`
	DetectedContext string    `json:"detected_context"`
	Weight          float64   `json:"weight"`
	OriginalWeight  float64   `json:"original_weight"`
	Confidence      float64   `json:"confidence"` // [0,1]
	Timestamp       time.Time `json:"timestamp"`
	WasBoosted      bool      `json:"was_boosted"`
}

// Valid reports whether the signal may participate in voting: a real
// context, positive weight, positive confidence.
func (s *Signal) Valid() bool {
	if s == nil {
		return false
	}
	return s.DetectedContext != "" &&
		s.DetectedContext != Unsorted &&
		s.Weight > 0 &&
		s.Confidence > 0
}

// VotingPower is the unit combined across signals to pick a winner.
func (s *Signal) VotingPower() float64 {
	return s.Weight * s.Confidence
}
