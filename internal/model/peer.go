package model

// PeerSpec describes one peer's private shard, as read from the peer table.
type PeerSpec struct {
	Id         int
	Name       string
	NumSamples int
	Noise      float64
	Shift      float64 // bias of the peer's target distribution relative to the shared task
	LinkCost   float64 // cost of uploading one parameter to the server
	EnergyCost float64 // cost of computing one sample's gradient
}

// PeerUpdate is the local pseudo-gradient one peer produced for one round.
type PeerUpdate struct {
	PeerId    int
	Gradient  []float64
	Direction []float64 // descent direction, -Gradient
	Loss      float64
	NumSample int
}
