package meritfed

import (
	"errors"
	"fmt"
)

var (
	// ErrConfiguration is returned at construction for settings that cannot produce a valid run.
	ErrConfiguration = errors.New("configuration error")
	// ErrInvariantViolation means the weight vector left the simplex.
	ErrInvariantViolation = errors.New("invariant violation")
	// ErrNumericInstability means a NaN or overflow reached the hypergradient or the weight update.
	ErrNumericInstability = errors.New("numeric instability")
	// ErrPeerCollection means a peer could not produce its update for the round.
	ErrPeerCollection = errors.New("peer collection failure")
)

// PeerCollectionError reports which peer failed a round.
type PeerCollectionError struct {
	PeerId int
	Err    error
}

func (e *PeerCollectionError) Error() string {
	return fmt.Sprintf("peer %d: %s: %v", e.PeerId, ErrPeerCollection, e.Err)
}

func (e *PeerCollectionError) Unwrap() []error {
	return []error{ErrPeerCollection, e.Err}
}

func configErrorf(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrConfiguration, fmt.Sprintf(format, args...))
}
