package world

import (
	"log"
	"time"

	"turtleworld.ai/internal/sim/clock"
	"turtleworld.ai/internal/sim/frustum"
	"turtleworld.ai/internal/sim/physics"
	"turtleworld.ai/internal/sim/spatial"
)

type Config struct {
	Width  int
	Height int

	Wrap              bool
	DiscardOutOfRange bool
	SharedCells       bool

	// StepTimeout forces the step forward when not every body reported.
	// Zero waits for quorum forever.
	StepTimeout time.Duration
	// StepInterval paces Run; zero runs steps back to back.
	StepInterval time.Duration

	SplitThreshold int
	SpawnRetries   int
	Seed           int64

	// DefaultFrustum is given to bodies created without one.
	DefaultFrustum frustum.Frustum

	Clock   *clock.Manager
	Physics physics.Backend
	Logger  *log.Logger

	Endogenous []EndogenousProcess
}

func (c *Config) applyDefaults() {
	if c.Width <= 0 {
		c.Width = 100
	}
	if c.Height <= 0 {
		c.Height = 100
	}
	if c.StepTimeout < 0 {
		c.StepTimeout = 0
	}
	if c.SplitThreshold <= 0 {
		c.SplitThreshold = spatial.DefaultSplitThreshold
	}
	if c.SpawnRetries <= 0 {
		c.SpawnRetries = DefaultSpawnRetries
	}
	if c.DefaultFrustum == nil {
		c.DefaultFrustum = frustum.Default()
	}
	if c.Clock == nil {
		c.Clock = clock.NewManager(clock.DefaultStepDuration)
	}
	if c.Physics == nil {
		c.Physics = physics.NewKinematic(0)
	}
}

func (c Config) bounds() Bounds {
	return Bounds{Width: c.Width, Height: c.Height, Wrap: c.Wrap, Discard: c.DiscardOutOfRange}
}
