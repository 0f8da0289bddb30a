package eval

// Type tells which function produced a value.
type Type int

const (
	Blackbox Type = iota
	Surrogate
)

func (t Type) String() string {
	if t == Surrogate {
		return "surrogate"
	}
	return "blackbox"
}

// ComputeType selects how a point's values are ranked.
type ComputeType int

const (
	// Standard ranks on (h, f).
	Standard ComputeType = iota
	// PhaseOne ranks on h only and is used while no feasible point is known.
	PhaseOne
)

func (c ComputeType) String() string {
	if c == PhaseOne {
		return "phase_one"
	}
	return "standard"
}
