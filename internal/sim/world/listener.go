package world

import (
	"time"

	"github.com/google/uuid"

	"turtleworld.ai/internal/sim/geom"
)

// Snapshot is the view of the environment handed to listeners.
type Snapshot struct {
	Step             uint64  `json:"step"`
	Time             float64 `json:"time"`
	LastStepDuration float64 `json:"last_step_duration"`
	Width            int     `json:"width"`
	Height           int     `json:"height"`
	ActiveBodies     int     `json:"active_bodies"`
	State            State   `json:"state"`
}

// Listener observes the simulation lifecycle. Callbacks run on the
// coordinator goroutine and must not block.
type Listener interface {
	SimulationStarted(s Snapshot)
	PreStep(s Snapshot)
	PostStep(s Snapshot)
	SimulationStopped(s Snapshot)
}

// ListenerFuncs adapts plain functions to Listener; nil fields are skipped.
type ListenerFuncs struct {
	OnStarted  func(Snapshot)
	OnPreStep  func(Snapshot)
	OnPostStep func(Snapshot)
	OnStopped  func(Snapshot)
}

func (l ListenerFuncs) SimulationStarted(s Snapshot) { call(l.OnStarted, s) }
func (l ListenerFuncs) PreStep(s Snapshot)           { call(l.OnPreStep, s) }
func (l ListenerFuncs) PostStep(s Snapshot)          { call(l.OnPostStep, s) }
func (l ListenerFuncs) SimulationStopped(s Snapshot) { call(l.OnStopped, s) }

func call(f func(Snapshot), s Snapshot) {
	if f != nil {
		f(s)
	}
}

// PerceptionEvent is published once per body per step, after perceptions
// are computed and before the environment waits for influences.
type PerceptionEvent struct {
	Step         uint64            `json:"step"`
	Timestamp    float64           `json:"timestamp"`
	StepDuration float64           `json:"step_duration"`
	ObserverID   uuid.UUID         `json:"observer_id"`
	Position     geom.Point        `json:"position"`
	Heading      float64           `json:"heading"`
	Speed        float64           `json:"speed"`
	Semantic     any               `json:"semantic,omitempty"`
	Motion       MotionResult      `json:"motion"`
	Turtles      []PerceivedTurtle `json:"turtles"`
	Objects      []Object          `json:"objects"`
	Picked       []PickedObject    `json:"picked,omitempty"`
}

// Publisher delivers perception events to agents. Publish runs on the
// coordinator goroutine; implementations must not block.
type Publisher interface {
	Publish(ev PerceptionEvent)
}

type PublisherFunc func(PerceptionEvent)

func (f PublisherFunc) Publish(ev PerceptionEvent) { f(ev) }

// StepLogEntry is written once per completed step.
type StepLogEntry struct {
	Step       uint64            `json:"step"`
	Time       float64           `json:"time"`
	Expected   int               `json:"expected"`
	Reported   int               `json:"reported"`
	TimedOut   bool              `json:"timed_out,omitempty"`
	Joins      []string          `json:"joins,omitempty"`
	Leaves     []string          `json:"leaves,omitempty"`
	Influences []InfluenceRecord `json:"influences,omitempty"`
	Digest     string            `json:"digest"`
}

type StepLogger interface {
	WriteStep(entry StepLogEntry) error
}

// StepReport summarizes a step for metrics.
type StepReport struct {
	Step       uint64
	Wall       time.Duration
	TimedOut   bool
	Expected   int
	Reported   int
	Bodies     int
	Objects    int
	Influences map[InfluenceKind]int
	Motions    map[MotionResult]int
}

type StepObserver interface {
	ObserveStep(r StepReport)
}
