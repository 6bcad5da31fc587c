package protocol

// HELLO (client -> server)
type HelloMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	AgentName       string `json:"agent_name"`

	Semantic     any               `json:"semantic,omitempty"`
	Perception   *FrustumReq       `json:"perception,omitempty"`
	Position     *[2]float64       `json:"position,omitempty"`
	Heading      *float64          `json:"heading,omitempty"`
	Capabilities HelloCapabilities `json:"capabilities,omitempty"`
}

type FrustumReq struct {
	Kind   string  `json:"kind"` // "square", "circle", "cross" or "none"
	Radius float64 `json:"radius,omitempty"`
}

type HelloCapabilities struct {
	// MaxQueue bounds the outbound queue. PERCEPTION frames are latest-wins
	// regardless.
	MaxQueue int `json:"max_queue,omitempty"`
}

// WELCOME (server -> client)
type WelcomeMsg struct {
	Type            string      `json:"type"`
	ProtocolVersion string      `json:"protocol_version"`
	SessionID       string      `json:"session_id"`
	AgentID         string      `json:"agent_id"`
	WorldParams     WorldParams `json:"world_params"`
	TuningDigest    string      `json:"tuning_digest,omitempty"`
}

type WorldParams struct {
	Width             int     `json:"width"`
	Height            int     `json:"height"`
	Wrap              bool    `json:"wrap"`
	DiscardOutOfRange bool    `json:"discard_out_of_range"`
	SharedCells       bool    `json:"shared_cells"`
	StepDuration      float64 `json:"step_duration"`
	StepTimeoutMs     int64   `json:"step_timeout_ms"`
	Step              uint64  `json:"step"`
}

// ERROR (server -> client)
type ErrorMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	Code            string `json:"code"`
	Message         string `json:"message,omitempty"`
	Step            uint64 `json:"step,omitempty"`
}

func NewError(code, msg string, step uint64) ErrorMsg {
	return ErrorMsg{Type: TypeError, ProtocolVersion: Version, Code: code, Message: msg, Step: step}
}
