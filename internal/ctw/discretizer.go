package ctw

import "github.com/octoreflex/triaged/internal/mathx"

// DiscretizationMode selects how many cut points a Discretizer applies.
// This is a closed sum type — binary/ternary/quaternary are the only modes,
// matching the original Rust source's DiscretizerConfig.
type DiscretizationMode int

const (
	Binary DiscretizationMode = iota
	Ternary
	Quaternary
)

func (m DiscretizationMode) requiredThresholds() int {
	switch m {
	case Binary:
		return 1
	case Ternary:
		return 2
	case Quaternary:
		return 3
	default:
		return -1
	}
}

// alphabetSize returns the number of symbols the mode produces.
func (m DiscretizationMode) alphabetSize() int {
	switch m {
	case Binary:
		return 2
	case Ternary:
		return 3
	case Quaternary:
		return 4
	default:
		return 0
	}
}

// DiscretizerConfig holds a mode and its strictly increasing cut thresholds.
type DiscretizerConfig struct {
	Mode       DiscretizationMode
	Thresholds []float64
}

// NewBinaryConfig builds a single-threshold (idle/busy) config.
func NewBinaryConfig(threshold float64) DiscretizerConfig {
	return DiscretizerConfig{Mode: Binary, Thresholds: []float64{threshold}}
}

// NewTernaryConfig builds a two-threshold (low/medium/high) config.
func NewTernaryConfig(lowHigh, highLow float64) DiscretizerConfig {
	return DiscretizerConfig{Mode: Ternary, Thresholds: []float64{lowHigh, highLow}}
}

// NewQuaternaryConfig builds a three-threshold (idle/light/moderate/heavy)
// config.
func NewQuaternaryConfig(t1, t2, t3 float64) DiscretizerConfig {
	return DiscretizerConfig{Mode: Quaternary, Thresholds: []float64{t1, t2, t3}}
}

// CPUBinary is the default idle-vs-active split for CPU occupancy: 10%.
func CPUBinary() DiscretizerConfig { return NewBinaryConfig(0.10) }

// CPUTernary is the default idle/active/busy split for CPU occupancy:
// idle < 10% < active < 50% < busy.
func CPUTernary() DiscretizerConfig { return NewTernaryConfig(0.10, 0.50) }

// CPUQuaternary is the default idle/light/moderate/heavy split for CPU
// occupancy: idle < 5% < light < 20% < moderate < 60% < heavy.
func CPUQuaternary() DiscretizerConfig { return NewQuaternaryConfig(0.05, 0.20, 0.60) }

// Validate checks the threshold count matches the mode and that thresholds
// are finite and strictly increasing.
func (c DiscretizerConfig) Validate() error {
	if len(c.Thresholds) != c.Mode.requiredThresholds() {
		return ErrInvalidConfig
	}
	for i, t := range c.Thresholds {
		if !mathx.IsFinite(t) {
			return ErrInvalidConfig
		}
		if i > 0 && t <= c.Thresholds[i-1] {
			return ErrInvalidConfig
		}
	}
	return nil
}

// AlphabetSize returns the number of symbols this config's mode produces.
func (c DiscretizerConfig) AlphabetSize() int { return c.Mode.alphabetSize() }

// Discretizer maps a continuous signal (e.g. CPU occupancy) to a discrete
// symbol suitable for feeding into a Predictor.
type Discretizer struct {
	cfg DiscretizerConfig
}

// NewDiscretizer validates cfg and returns a ready Discretizer.
func NewDiscretizer(cfg DiscretizerConfig) (*Discretizer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Discretizer{cfg: cfg}, nil
}

// AlphabetSize returns the discretizer's output alphabet size.
func (d *Discretizer) AlphabetSize() int { return d.cfg.AlphabetSize() }

// Discretize converts value to a symbol by finding the first threshold it
// falls below; values at or above every threshold map to the top symbol.
func (d *Discretizer) Discretize(value float64) int {
	for i, t := range d.cfg.Thresholds {
		if value < t {
			return i
		}
	}
	return len(d.cfg.Thresholds)
}

// SymbolLabel returns a human-readable name for symbol under this
// discretizer's mode, for logging and diagnostics.
func (d *Discretizer) SymbolLabel(symbol int) string {
	switch d.cfg.Mode {
	case Binary:
		if symbol == 0 {
			return "idle"
		}
		return "busy"
	case Ternary:
		switch symbol {
		case 0:
			return "low"
		case 1:
			return "medium"
		default:
			return "high"
		}
	case Quaternary:
		switch symbol {
		case 0:
			return "idle"
		case 1:
			return "light"
		case 2:
			return "moderate"
		default:
			return "heavy"
		}
	default:
		return "unknown"
	}
}
