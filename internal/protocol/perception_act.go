package protocol

// PERCEPTION (server -> client), one per step.
type PerceptionMsg struct {
	Type            string  `json:"type"`
	ProtocolVersion string  `json:"protocol_version"`
	Step            uint64  `json:"step"`
	Time            float64 `json:"time"`
	StepDuration    float64 `json:"step_duration"`
	AgentID         string  `json:"agent_id"`

	Self    SelfObs     `json:"self"`
	Motion  MotionObs   `json:"motion"`
	Turtles []TurtleObs `json:"turtles"`
	Objects []ObjectObs `json:"objects"`
	Picked  []ObjectObs `json:"picked,omitempty"`
}

type SelfObs struct {
	Pos      [2]float64 `json:"pos"`
	Heading  float64    `json:"heading"`
	Speed    float64    `json:"speed"`
	Semantic any        `json:"semantic,omitempty"`
}

type MotionObs struct {
	Status   string `json:"status"`
	Boundary string `json:"boundary"`
}

type TurtleObs struct {
	ID       string     `json:"id"`
	Pos      [2]float64 `json:"pos"`
	Rel      [2]float64 `json:"rel"`
	Heading  float64    `json:"heading"`
	Speed    float64    `json:"speed"`
	Semantic any        `json:"semantic,omitempty"`
}

type ObjectObs struct {
	ID       string     `json:"id"`
	Kind     string     `json:"kind"`
	Pos      [2]float64 `json:"pos"`
	Semantic any        `json:"semantic,omitempty"`
}

// ACT (client -> server)
type ActMsg struct {
	Type            string  `json:"type"`
	ProtocolVersion string  `json:"protocol_version"`
	Step            uint64  `json:"step"`
	Ops             []ActOp `json:"ops"`

	// Sync reports the body as done for the step. Absent means true.
	Sync *bool `json:"sync,omitempty"`
}

func (a ActMsg) Synchronize() bool { return a.Sync == nil || *a.Sync }

// ActOp is one body operation. Which fields apply depends on Op.
type ActOp struct {
	Op string `json:"op"`

	N             int         `json:"n,omitempty"`
	Dir           *[2]float64 `json:"dir,omitempty"`
	ChangeHeading bool        `json:"change_heading,omitempty"`
	Radians       float64     `json:"radians,omitempty"`
	Kind          string      `json:"kind,omitempty"`
	Semantic      any         `json:"semantic,omitempty"`
}

// ACT ops.
const (
	OpMove           = "MOVE"
	OpMoveForward    = "MOVE_FORWARD"
	OpMoveBackward   = "MOVE_BACKWARD"
	OpTurnLeft       = "TURN_LEFT"
	OpTurnRight      = "TURN_RIGHT"
	OpSetHeading     = "SET_HEADING"
	OpPickUp         = "PICK_UP"
	OpPickUpSemantic = "PICK_UP_SEMANTIC"
	OpDropOff        = "DROP_OFF"
	OpSetSemantic    = "SET_SEMANTIC"
)
