package observerproto

// Version is the observer protocol version (separate from the agent WS protocol).
const Version = "0.1"

const (
	TypeSubscribe = "SUBSCRIBE"
	TypeStep      = "STEP"
)

// Client -> Server. First message on the observer WS connection, and can be
// re-sent to update settings.
type SubscribeMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`

	// Every sends one frame per Every steps. Zero means every step.
	Every int `json:"every,omitempty"`
	// Objects adds object positions to each frame.
	Objects bool `json:"objects,omitempty"`
}

// HTTP response for GET /admin/v1/observer/bootstrap.
type BootstrapResponse struct {
	ProtocolVersion string      `json:"protocol_version"`
	WorldID         string      `json:"world_id"`
	Step            uint64      `json:"step"`
	WorldParams     WorldParams `json:"world_params"`
	ObjectKinds     []string    `json:"object_kinds"`
}

type WorldParams struct {
	Width        int     `json:"width"`
	Height       int     `json:"height"`
	Wrap         bool    `json:"wrap"`
	SharedCells  bool    `json:"shared_cells"`
	StepDuration float64 `json:"step_duration"`
}

// Server -> Client. Sent after each completed step.
type StepMsg struct {
	Type            string  `json:"type"`
	ProtocolVersion string  `json:"protocol_version"`
	Step            uint64  `json:"step"`
	Time            float64 `json:"time"`

	Expected int  `json:"expected"`
	Reported int  `json:"reported"`
	TimedOut bool `json:"timed_out,omitempty"`

	Turtles []TurtleState `json:"turtles"`
	Objects []ObjectState `json:"objects,omitempty"`
	Joins   []string      `json:"joins,omitempty"`
	Leaves  []string      `json:"leaves,omitempty"`

	Influences map[string]int `json:"influences,omitempty"`
}

type TurtleState struct {
	ID       string     `json:"id"`
	Pos      [2]float64 `json:"pos"`
	Heading  float64    `json:"heading"`
	Speed    float64    `json:"speed"`
	Motion   string     `json:"motion,omitempty"`
	Semantic any        `json:"semantic,omitempty"`
}

type ObjectState struct {
	ID   string     `json:"id"`
	Kind string     `json:"kind"`
	Pos  [2]float64 `json:"pos"`
}
