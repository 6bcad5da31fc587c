package world

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"turtleworld.ai/internal/sim/frustum"
	"turtleworld.ai/internal/sim/geom"
)

func TestPerceptionExcludesSelf(t *testing.T) {
	e := newTestEnv(t, Config{Width: 20, Height: 20})
	d := drive(e)
	a := placeBody(t, e, testID(1), 5, 5)
	b := placeBody(t, e, testID(2), 7, 5)
	far := placeBody(t, e, testID(3), 19, 19)
	food := placeObject(t, e, KindSubstance, 6, 6)
	mustStep(t, e)

	p, err := a.Perception()
	require.NoError(t, err)
	require.Len(t, p.Turtles, 1)
	require.Equal(t, b.ID(), p.Turtles[0].ID)
	require.Equal(t, geom.V(2, 0), p.Turtles[0].RelativePosition())
	require.Len(t, p.Objects, 1)
	require.Equal(t, food.ID, p.Objects[0].ID)

	turtles, err := PerceptionOf[PerceivedTurtle](far)
	require.NoError(t, err)
	require.Empty(t, turtles)
	require.Len(t, d.eventsFor(a.ID()), 1)
}

func TestPerceivedTurtleRelativeFrame(t *testing.T) {
	e := newTestEnv(t, Config{Width: 20, Height: 20})
	drive(e)
	ha, hb := 0.5, 1.5
	pa, pb := geom.Pt(5, 5), geom.Pt(6, 5)
	a, err := e.CreateBody(BodySpec{ID: testID(1), Position: &pa, Heading: &ha})
	require.NoError(t, err)
	_, err = e.CreateBody(BodySpec{ID: testID(2), Position: &pb, Heading: &hb})
	require.NoError(t, err)
	mustStep(t, e)

	seen, ok, err := FirstPerception[PerceivedTurtle](a)
	require.NoError(t, err)
	require.True(t, ok)
	require.InDelta(t, 0.5, seen.ObserverHeading, 1e-9)
	require.InDelta(t, 1.0, seen.RelativeHeading(), 1e-9)

	moving := PerceivedTurtle{Heading: -3, ObserverHeading: 3, Velocity: geom.V(2, 1), ObserverVelocity: geom.V(1, 1)}
	require.InDelta(t, 2*math.Pi-6, moving.RelativeHeading(), 1e-9)
	require.Equal(t, geom.V(1, 0), moving.RelativeVelocity())
}

func TestPerceptionDisabledSeesNothing(t *testing.T) {
	e := newTestEnv(t, Config{Width: 20, Height: 20})
	drive(e)
	pos := geom.Pt(5, 5)
	blind, err := e.CreateBody(BodySpec{ID: testID(1), Position: &pos, DisablePerception: true})
	require.NoError(t, err)
	placeBody(t, e, testID(2), 6, 5)
	mustStep(t, e)

	p, err := blind.Perception()
	require.NoError(t, err)
	require.Empty(t, p.Turtles)
	require.Equal(t, uint64(0), p.Step)
}

func TestPerceptionNotReadyBeforeFirstStep(t *testing.T) {
	e := newTestEnv(t, Config{Width: 20, Height: 20})
	b := placeBody(t, e, testID(1), 5, 5)
	_, err := b.Perception()
	require.ErrorIs(t, err, ErrPerceptionNotReady)
	require.False(t, b.Synchronize())
}

func TestQuorumReleasesBeforeTimeout(t *testing.T) {
	e := newTestEnv(t, Config{Width: 20, Height: 20, StepTimeout: time.Hour})
	drive(e)
	placeBody(t, e, testID(1), 5, 5)
	placeBody(t, e, testID(2), 6, 5)

	entry := mustStep(t, e)
	require.False(t, entry.TimedOut)
	require.Equal(t, 2, entry.Reported)
	require.Equal(t, 2, entry.Expected)
}

func TestTimeoutForcesStep(t *testing.T) {
	e := newTestEnv(t, Config{Width: 20, Height: 20, StepTimeout: 30 * time.Millisecond})
	d := drive(e)
	a := placeBody(t, e, testID(1), 5, 5)
	lazy := placeBody(t, e, testID(2), 9, 9)
	d.mute(lazy)
	d.next(a, func(b *TurtleBody) { b.Move(geom.V(1, 0), false) })

	entry := mustStep(t, e)
	require.True(t, entry.TimedOut)
	require.Equal(t, 1, entry.Reported)
	require.Equal(t, 2, entry.Expected)
	assertAt(t, a, 6, 5)
	assertMotion(t, lazy, MotionNone, BoundaryNoChange)
	require.Equal(t, uint64(1), e.Clock().Step())
}

func TestLateInfluencesAreDropped(t *testing.T) {
	e := newTestEnv(t, Config{Width: 20, Height: 20, StepTimeout: 20 * time.Millisecond})
	d := drive(e)
	b := placeBody(t, e, testID(1), 5, 5)
	d.mute(b)

	// Queued before any perception exists.
	b.Move(geom.V(1, 0), false)
	mustStep(t, e)
	assertAt(t, b, 5, 5)
	require.False(t, b.HasInfluences())
}

func TestSynchronizeCountsOnce(t *testing.T) {
	e := newTestEnv(t, Config{Width: 20, Height: 20})
	var first, second bool
	var b *TurtleBody
	e.AddPublisher(PublisherFunc(func(ev PerceptionEvent) {
		first = b.Synchronize()
		second = b.Synchronize()
	}))
	b = placeBody(t, e, testID(1), 5, 5)
	mustStep(t, e)
	require.True(t, first)
	require.False(t, second)
}

func TestSynchronizeStepRejectsOldPerception(t *testing.T) {
	e := newTestEnv(t, Config{Width: 20, Height: 20, StepTimeout: 20 * time.Millisecond})
	var b *TurtleBody
	var late, current bool
	e.AddPublisher(PublisherFunc(func(ev PerceptionEvent) {
		if ev.Step == 1 {
			late = b.SynchronizeStep(0)
			current = b.SynchronizeStep(1)
		}
	}))
	b = placeBody(t, e, testID(1), 5, 5)
	entry := mustStep(t, e)
	require.True(t, entry.TimedOut)
	entry = mustStep(t, e)
	require.False(t, late)
	require.True(t, current)
	require.False(t, entry.TimedOut)
	require.Equal(t, 1, entry.Reported)
}

func TestDuplicateBodyID(t *testing.T) {
	e := newTestEnv(t, Config{Width: 20, Height: 20})
	placeBody(t, e, testID(1), 5, 5)
	pos := geom.Pt(8, 8)
	_, err := e.CreateBody(BodySpec{ID: testID(1), Position: &pos})
	require.ErrorIs(t, err, ErrDuplicateBodyID)
}

func TestSpawnFailureWhenWorldFull(t *testing.T) {
	e := newTestEnv(t, Config{Width: 1, Height: 1})
	placeBody(t, e, testID(1), 0, 0)
	_, err := e.CreateBody(BodySpec{})
	require.ErrorIs(t, err, ErrSpawnFailure)

	e2 := newTestEnv(t, Config{Width: 1, Height: 1, SharedCells: true})
	placeObject(t, e2, KindObstacle, 0, 0)
	_, err = e2.CreateBody(BodySpec{})
	require.ErrorIs(t, err, ErrSpawnFailure)
}

func TestOccupiedDesiredPositionIsResampled(t *testing.T) {
	e := newTestEnv(t, Config{Width: 20, Height: 20, Seed: 5})
	placeBody(t, e, testID(1), 5, 5)

	pos := geom.Pt(5, 5)
	b, err := e.CreateBody(BodySpec{Position: &pos})
	require.NoError(t, err)
	require.NotEqual(t, pos, b.Position())
	require.True(t, e.Bounds().Contains(b.Position()))

	_, err = e.CreateBody(BodySpec{Spawner: PointSpawner{Point: pos}})
	require.ErrorIs(t, err, ErrSpawnFailure)
}

func TestSpawnersRespectArea(t *testing.T) {
	e := newTestEnv(t, Config{Width: 50, Height: 50, Seed: 3})
	area := geom.Rect{MinX: 10, MinY: 10, MaxX: 12, MaxY: 12}
	for i := 0; i < 3; i++ {
		b, err := e.CreateBody(BodySpec{Spawner: AreaSpawner{Area: area}})
		require.NoError(t, err)
		require.True(t, area.Contains(b.Position()), "body at %v", b.Position())
	}
	heading := 1.0
	b, err := e.CreateBody(BodySpec{Spawner: PointSpawner{Point: geom.Pt(40, 40), Heading: &heading}})
	require.NoError(t, err)
	require.Equal(t, geom.Pt(40, 40), b.Position())
	require.InDelta(t, 1.0, b.Heading(), 1e-9)
}

func TestRemovalDuringStepIsBuffered(t *testing.T) {
	e := newTestEnv(t, Config{Width: 20, Height: 20})
	d := drive(e)
	a := placeBody(t, e, testID(1), 5, 5)
	gone := placeBody(t, e, testID(2), 6, 5)
	d.mute(gone)
	d.next(a, func(b *TurtleBody) {
		require.NoError(t, e.RemoveBody(gone.ID()))
	})

	entry := mustStep(t, e)
	require.False(t, entry.TimedOut)
	require.Equal(t, 1, entry.Expected)
	_, still := e.Body(gone.ID())
	require.True(t, still, "removal applied before the step ended")

	entry = mustStep(t, e)
	require.Equal(t, []string{gone.ID().String()}, entry.Leaves)
	_, still = e.Body(gone.ID())
	require.False(t, still)
	require.False(t, gone.Attached())
	require.ErrorIs(t, e.RemoveBody(gone.ID()), ErrBodyNotFound)
}

func TestCreateDuringStepJoinsNextStep(t *testing.T) {
	e := newTestEnv(t, Config{Width: 20, Height: 20})
	d := drive(e)
	a := placeBody(t, e, testID(1), 5, 5)
	var late *TurtleBody
	d.next(a, func(b *TurtleBody) {
		pos := geom.Pt(10, 10)
		var err error
		late, err = e.CreateBody(BodySpec{ID: testID(9), Position: &pos})
		require.NoError(t, err)
	})

	entry := mustStep(t, e)
	require.Equal(t, 1, entry.Expected)
	require.Equal(t, []string{a.ID().String()}, entry.Joins)
	require.False(t, late.Attached())
	require.Equal(t, 2, e.BodyCount())

	entry = mustStep(t, e)
	require.Equal(t, []string{late.ID().String()}, entry.Joins)
	require.Equal(t, 2, entry.Expected)
	require.True(t, late.Attached())
	assertAt(t, late, 10, 10)
}

func TestJoinsAndLeavesBetweenStepsAreLogged(t *testing.T) {
	e := newTestEnv(t, Config{Width: 20, Height: 20})
	drive(e)
	a := placeBody(t, e, testID(1), 5, 5)
	b := placeBody(t, e, testID(2), 6, 5)

	entry := mustStep(t, e)
	require.Equal(t, []string{a.ID().String(), b.ID().String()}, entry.Joins)
	require.Empty(t, entry.Leaves)

	require.NoError(t, e.RemoveBody(b.ID()))
	entry = mustStep(t, e)
	require.Empty(t, entry.Joins)
	require.Equal(t, []string{b.ID().String()}, entry.Leaves)

	entry = mustStep(t, e)
	require.Empty(t, entry.Joins)
	require.Empty(t, entry.Leaves)
}

func TestAbortedWaitDoesNotKeepReports(t *testing.T) {
	e := newTestEnv(t, Config{Width: 20, Height: 20, StepTimeout: time.Hour})
	d := drive(e)
	placeBody(t, e, testID(1), 5, 5)
	slow := placeBody(t, e, testID(2), 6, 5)
	d.mute(slow)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	_, err := e.Step(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.Equal(t, uint64(0), e.Clock().Step())

	d.unmute(slow)
	entry := mustStep(t, e)
	require.Equal(t, uint64(0), entry.Step)
	require.Len(t, entry.Joins, 2)
	require.False(t, entry.TimedOut)
	require.Equal(t, 2, entry.Reported)
	require.Equal(t, 2, entry.Expected)
}

func TestZeroBodyStepAdvancesClock(t *testing.T) {
	e := newTestEnv(t, Config{Width: 5, Height: 5})
	entry := mustStep(t, e)
	require.Equal(t, 0, entry.Expected)
	require.Equal(t, uint64(1), e.Clock().Step())
	require.Equal(t, 1.0, e.Clock().Now())
}

func TestDecayRemovesExpiredObjects(t *testing.T) {
	e := newTestEnv(t, Config{Width: 5, Height: 5, Endogenous: []EndogenousProcess{Decay{Kind: KindSubstance}}})
	_, err := e.AddObject(Object{Kind: KindSubstance, Position: geom.Pt(1, 1), ExpiresAt: 1.5})
	require.NoError(t, err)
	placeObject(t, e, KindObstacle, 2, 2)

	mustStep(t, e) // now=0
	mustStep(t, e) // now=1
	require.Len(t, e.Objects(), 2)
	entry := mustStep(t, e) // now=2
	require.Len(t, e.Objects(), 1)
	require.Len(t, entry.Influences, 1)
	require.Equal(t, InfluenceRemoval, entry.Influences[0].Kind)
}

func TestAddObjectValidates(t *testing.T) {
	e := newTestEnv(t, Config{Width: 5, Height: 5})
	_, err := e.AddObject(Object{Kind: "rock", Position: geom.Pt(1, 1)})
	require.Error(t, err)
	_, err = e.AddObject(Object{Kind: KindBurrow, Position: geom.Pt(7, 1)})
	require.Error(t, err)
	o, err := e.AddObject(Object{Kind: KindBurrow, Position: geom.Pt(1.4, 2.6)})
	require.NoError(t, err)
	require.Equal(t, geom.Pt(1, 3), o.Position)
	require.True(t, e.RemoveObject(o.ID))
	require.False(t, e.RemoveObject(o.ID))
}

func TestListenersSeeStepOrder(t *testing.T) {
	e := newTestEnv(t, Config{Width: 5, Height: 5})
	var mu sync.Mutex
	var seen []string
	record := func(tag string) func(Snapshot) {
		return func(s Snapshot) {
			mu.Lock()
			seen = append(seen, tag+":"+s.State.String())
			mu.Unlock()
		}
	}
	remove := e.AddListener(ListenerFuncs{OnPreStep: record("pre"), OnPostStep: record("post")})
	mustStep(t, e)
	remove()
	mustStep(t, e)
	require.Equal(t, []string{"pre:PERCEIVING", "post:NOTIFY"}, seen)
}

func TestRunIdlesUntilBodiesAndStops(t *testing.T) {
	e := newTestEnv(t, Config{Width: 5, Height: 5})
	var started, stopped bool
	e.AddListener(ListenerFuncs{
		OnStarted: func(Snapshot) { started = true },
		OnStopped: func(Snapshot) { stopped = true },
	})
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err := e.Run(ctx)
	require.True(t, errors.Is(err, context.DeadlineExceeded), "err = %v", err)
	require.True(t, started)
	require.True(t, stopped)
	require.Equal(t, uint64(0), e.Clock().Step())
	require.Equal(t, StateStopped, e.State())
	_, err = e.CreateBody(BodySpec{})
	require.ErrorIs(t, err, ErrStopped)
}

func TestRunStepsWithBodies(t *testing.T) {
	e := newTestEnv(t, Config{Width: 5, Height: 5, StepInterval: time.Millisecond})
	drive(e)
	placeBody(t, e, testID(1), 1, 1)
	done := make(chan error, 1)
	e.AddListener(ListenerFuncs{OnPostStep: func(s Snapshot) {
		if s.Step == 3 {
			e.Stop()
		}
	}})
	go func() { done <- e.Run(context.Background()) }()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatalf("run did not stop")
	}
	require.GreaterOrEqual(t, e.Clock().Step(), uint64(3))
}

func TestStopReleasesWaitingStep(t *testing.T) {
	e := newTestEnv(t, Config{Width: 5, Height: 5})
	d := drive(e)
	b := placeBody(t, e, testID(1), 1, 1)
	d.mute(b)
	time.AfterFunc(20*time.Millisecond, e.Stop)
	_, err := e.Step(context.Background())
	require.ErrorIs(t, err, ErrStopped)
}

func TestDeterministicDigest(t *testing.T) {
	run := func() []string {
		e := newTestEnv(t, Config{Width: 30, Height: 30, Seed: 42, Wrap: true})
		d := drive(e)
		var bodies []*TurtleBody
		for i := 0; i < 4; i++ {
			b, err := e.CreateBody(BodySpec{Semantic: map[string]any{"n": i}})
			require.NoError(t, err)
			bodies = append(bodies, b)
		}
		_, err := e.AddObject(Object{Kind: KindSubstance, Position: geom.Pt(3, 3)})
		require.NoError(t, err)

		var digests []string
		for step := 0; step < 8; step++ {
			for i, b := range bodies {
				turn := 0.3 * float64(i+1)
				d.next(b, func(b *TurtleBody) {
					b.TurnRight(turn)
					b.MoveForward(2)
				})
			}
			digests = append(digests, mustStep(t, e).Digest)
		}
		return digests
	}
	require.Equal(t, run(), run())
}

func TestSnapshotRoundTripKeepsDigest(t *testing.T) {
	src := newTestEnv(t, Config{Width: 12, Height: 12, Seed: 5})
	d := drive(src)
	b := placeBody(t, src, testID(1), 3, 3)
	cross := frustum.Cross{Length: 2}
	pos := geom.Pt(8, 8)
	_, err := src.CreateBody(BodySpec{ID: testID(2), Position: &pos, Frustum: cross, Semantic: map[string]any{"role": "scout"}})
	require.NoError(t, err)
	placeObject(t, src, KindBurrow, 4, 4)
	d.next(b, func(b *TurtleBody) { b.Move(geom.V(1, 1), true) })
	mustStep(t, src)

	snap := src.ExportSnapshot("pond")
	require.Equal(t, uint64(1), snap.Header.Step)

	dst := newTestEnv(t, Config{Width: 12, Height: 12, Seed: 5})
	bodies, err := dst.ImportSnapshot(snap, true)
	require.NoError(t, err)
	require.Len(t, bodies, 2)
	require.Equal(t, src.Digest(), dst.Digest())
	require.Equal(t, frustum.KindCross, bodies[1].Frustum().Kind())

	_, err = newTestEnv(t, Config{Width: 13, Height: 12}).ImportSnapshot(snap, false)
	require.Error(t, err)
}
