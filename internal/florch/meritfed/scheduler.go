package meritfed

// RoundScheduler decides which training steps revise the peer weights.
type RoundScheduler struct {
	enabled bool
	every   int
}

func NewRoundScheduler(enabled bool, every int) (*RoundScheduler, error) {
	if every < 1 {
		return nil, configErrorf("federated round interval must be at least 1, got %d", every)
	}
	return &RoundScheduler{enabled: enabled, every: every}, nil
}

// IsFederatedRound reports whether step is a weight-revising round.
func (s *RoundScheduler) IsFederatedRound(step int) bool {
	return s.enabled && step >= 0 && step%s.every == 0
}
