package world

import "fmt"

// State is the phase of the step pipeline the environment is in.
type State int32

const (
	StateIdle State = iota
	StatePerceiving
	StateAwaiting
	StateResolving
	StatePhysics
	StateEndogenous
	StateNotify
	StateStopped
)

var stateNames = [...]string{
	StateIdle:       "IDLE",
	StatePerceiving: "PERCEIVING",
	StateAwaiting:   "AWAITING_INFLUENCES",
	StateResolving:  "RESOLVING",
	StatePhysics:    "PHYSICS_STEP",
	StateEndogenous: "ENDOGENOUS",
	StateNotify:     "NOTIFY",
	StateStopped:    "STOPPED",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return fmt.Sprintf("State(%d)", int32(s))
	}
	return stateNames[s]
}

func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }
