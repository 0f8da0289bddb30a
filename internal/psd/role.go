package psd

// Role is assigned to a worker when it is spawned.
type Role int

const (
	// RolePollster runs MADS on the full problem, owns the mesh updates and
	// advances the iteration counter. There is exactly one.
	RolePollster Role = iota
	// RoleSubproblem runs MADS on a random subset of the variables.
	RoleSubproblem
)

func (r Role) String() string {
	switch r {
	case RolePollster:
		return "pollster"
	case RoleSubproblem:
		return "subproblem"
	default:
		return "unknown"
	}
}

type worker struct {
	id   int
	role Role
}

func roleOf(id int) Role {
	if id == 0 {
		return RolePollster
	}
	return RoleSubproblem
}
