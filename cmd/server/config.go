package main

import (
	"fmt"
	"log"

	"turtleworld.ai/internal/persistence/snapshot"
	"turtleworld.ai/internal/sim/clock"
	"turtleworld.ai/internal/sim/frustum"
	"turtleworld.ai/internal/sim/physics"
	"turtleworld.ai/internal/sim/tuning"
	"turtleworld.ai/internal/sim/world"
)

// worldConfig maps tuning onto the environment config. A non-zero seed
// overrides the tuned one.
func worldConfig(tune tuning.Tuning, seed int64, logger *log.Logger) (world.Config, error) {
	fr, err := frustum.New(tune.Perception.Frustum, tune.Perception.Radius)
	if err != nil {
		return world.Config{}, fmt.Errorf("perception: %w", err)
	}
	if seed == 0 {
		seed = tune.World.Seed
	}
	cfg := world.Config{
		Width:             tune.World.Width,
		Height:            tune.World.Height,
		Wrap:              tune.World.Wrap,
		DiscardOutOfRange: tune.World.DiscardOutOfRange,
		SharedCells:       tune.World.SharedCells,
		StepTimeout:       tune.Step.Timeout(),
		StepInterval:      tune.Step.Interval(),
		SplitThreshold:    tune.Spatial.SplitThreshold,
		SpawnRetries:      tune.Spawn.Retries,
		Seed:              seed,
		DefaultFrustum:    fr,
		Clock:             clock.NewManager(tune.Step.DurationSeconds),
		Physics:           physics.NewKinematic(tune.Physics.LinearDamping),
		Logger:            logger,
	}
	for _, k := range tune.Decay {
		kind := world.ObjectKind(k)
		if !kind.Valid() || kind == world.KindTurtle {
			return world.Config{}, fmt.Errorf("decay: bad object kind %q", k)
		}
		cfg.Endogenous = append(cfg.Endogenous, world.Decay{Kind: kind})
	}
	return cfg, nil
}

// resumeConfig lets the snapshot decide the world geometry; the rest still
// comes from tuning.
func resumeConfig(cfg world.Config, snap snapshot.SnapshotV1) world.Config {
	cfg.Width = snap.Width
	cfg.Height = snap.Height
	cfg.Wrap = snap.Wrap
	cfg.DiscardOutOfRange = snap.DiscardOutOfRange
	cfg.SharedCells = snap.SharedCells
	cfg.Seed = snap.Seed
	if snap.StepDuration > 0 {
		cfg.Clock = clock.NewManager(snap.StepDuration)
	}
	return cfg
}
