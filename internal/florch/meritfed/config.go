package meritfed

import (
	"math"

	"github.com/AIoTwin-Adaptive-FL-Orch/meritfed/internal/common"
)

// Config holds the settings of one MeritFed optimizer.
type Config struct {
	NumPeers      int
	Variant       string
	MDLR          float64 // inner mirror-descent learning rate
	MDNIters      int     // inner mirror-descent iterations per federated round
	Beta1         float64 // first-moment decay of the Adam variant
	Beta2         float64 // second-moment decay of the Adam base step
	Eps           float64
	DropThreshold float64
	FLEnabled     bool
	EnableFLEvery int
	BaseLR        float64
	Momentum      float64
	ClampNumerics bool
	HypergradClip float64
	MaxExponent   float64
}

// DefaultConfig returns a plain mirror-descent configuration for numPeers peers.
func DefaultConfig(numPeers int) Config {
	return Config{
		NumPeers:      numPeers,
		Variant:       common.MD_VARIANT,
		MDLR:          0.1,
		MDNIters:      1,
		Beta1:         0.9,
		Beta2:         common.DEFAULT_BETA_2,
		Eps:           common.DEFAULT_ADAM_EPS,
		DropThreshold: 0,
		FLEnabled:     true,
		EnableFLEvery: 1,
		BaseLR:        common.DEFAULT_BASE_LR,
		Momentum:      0,
		HypergradClip: common.DEFAULT_HYPERGRAD_CLIP,
		MaxExponent:   common.DEFAULT_MAX_EXPONENT,
	}
}

// Validate checks the configuration against the number of configured peer loaders.
func (c Config) Validate(numLoaders int) error {
	if c.NumPeers < 1 {
		return configErrorf("number of peers must be at least 1, got %d", c.NumPeers)
	}
	if c.NumPeers != numLoaders {
		return configErrorf("number of peers %d does not match number of peer loaders %d", c.NumPeers, numLoaders)
	}
	switch c.Variant {
	case common.MD_VARIANT, common.PARALLEL_MD_VARIANT, common.ADAM_MD_VARIANT:
	default:
		return configErrorf("invalid optimizer variant: %q", c.Variant)
	}
	if !(c.MDLR > 0) || math.IsInf(c.MDLR, 1) {
		return configErrorf("mirror-descent learning rate must be positive, got %v", c.MDLR)
	}
	if c.MDNIters < 1 {
		return configErrorf("mirror-descent iterations must be at least 1, got %d", c.MDNIters)
	}
	if c.Variant == common.ADAM_MD_VARIANT {
		if c.Beta1 < 0 || c.Beta1 >= 1 {
			return configErrorf("beta1 must be in [0, 1), got %v", c.Beta1)
		}
		if c.Beta2 < 0 || c.Beta2 >= 1 {
			return configErrorf("beta2 must be in [0, 1), got %v", c.Beta2)
		}
		if !(c.Eps > 0) {
			return configErrorf("adam epsilon must be positive, got %v", c.Eps)
		}
	}
	if !(c.DropThreshold >= 0) {
		return configErrorf("drop threshold must be a non-negative number, got %v", c.DropThreshold)
	}
	if c.DropThreshold > 0 && c.DropThreshold >= 1/float64(c.NumPeers) {
		return configErrorf("drop threshold %v must be less than uniform weight %v", c.DropThreshold, 1/float64(c.NumPeers))
	}
	if c.EnableFLEvery < 1 {
		return configErrorf("federated round interval must be at least 1, got %d", c.EnableFLEvery)
	}
	if !(c.BaseLR > 0) || math.IsInf(c.BaseLR, 1) {
		return configErrorf("base learning rate must be positive, got %v", c.BaseLR)
	}
	if c.Momentum < 0 || c.Momentum >= 1 {
		return configErrorf("momentum must be in [0, 1), got %v", c.Momentum)
	}
	if c.ClampNumerics && !(c.HypergradClip > 0) {
		return configErrorf("hypergradient clip must be positive when clamping is enabled, got %v", c.HypergradClip)
	}
	if !(c.MaxExponent > 0) || math.IsInf(c.MaxExponent, 1) {
		return configErrorf("max exponent must be positive, got %v", c.MaxExponent)
	}
	return nil
}
