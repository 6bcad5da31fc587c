package tuning

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Tuning struct {
	ProtocolVersion string `yaml:"protocol_version" json:"protocol_version"`

	World      World      `yaml:"world" json:"world"`
	Step       Step       `yaml:"step" json:"step"`
	Spatial    Spatial    `yaml:"spatial" json:"spatial"`
	Perception Perception `yaml:"perception" json:"perception"`
	Spawn      Spawn      `yaml:"spawn" json:"spawn"`
	Physics    Physics    `yaml:"physics" json:"physics"`

	SnapshotEverySteps int `yaml:"snapshot_every_steps" json:"snapshot_every_steps"`
	// ArchiveEverySteps copies snapshots landing on an epoch boundary into
	// archives/. Zero disables archiving.
	ArchiveEverySteps int `yaml:"archive_every_steps" json:"archive_every_steps"`

	// Decay lists object kinds removed once their expiry time passes.
	Decay []string `yaml:"decay" json:"decay,omitempty"`
}

type World struct {
	Width             int   `yaml:"width" json:"width"`
	Height            int   `yaml:"height" json:"height"`
	Wrap              bool  `yaml:"wrap" json:"wrap"`
	DiscardOutOfRange bool  `yaml:"discard_out_of_range" json:"discard_out_of_range"`
	SharedCells       bool  `yaml:"shared_cells" json:"shared_cells"`
	Seed              int64 `yaml:"seed" json:"seed"`
}

type Step struct {
	TimeoutMs       int     `yaml:"timeout_ms" json:"timeout_ms"`
	IntervalMs      int     `yaml:"interval_ms" json:"interval_ms"`
	DurationSeconds float64 `yaml:"duration_seconds" json:"duration_seconds"`
}

func (s Step) Timeout() time.Duration  { return time.Duration(s.TimeoutMs) * time.Millisecond }
func (s Step) Interval() time.Duration { return time.Duration(s.IntervalMs) * time.Millisecond }

type Spatial struct {
	SplitThreshold int `yaml:"split_threshold" json:"split_threshold"`
}

type Perception struct {
	Frustum string  `yaml:"frustum" json:"frustum"`
	Radius  float64 `yaml:"radius" json:"radius"`
}

type Spawn struct {
	Retries int `yaml:"retries" json:"retries"`
}

type Physics struct {
	LinearDamping float64 `yaml:"linear_damping" json:"linear_damping"`
}

func Defaults() Tuning {
	return Tuning{
		ProtocolVersion: "1.0",
		World:           World{Width: 100, Height: 100, Seed: 1337},
		Step:            Step{TimeoutMs: 2000, IntervalMs: 100, DurationSeconds: 1},
		Spatial:         Spatial{SplitThreshold: 100},
		Perception:      Perception{Frustum: "square", Radius: 7},
		Spawn:           Spawn{Retries: 10},

		SnapshotEverySteps: 3000,
		ArchiveEverySteps:  30000,
	}
}

// Load reads a tuning file. Keys missing from the file keep their default.
func Load(path string) (Tuning, error) {
	t := Defaults()
	raw, err := os.ReadFile(path)
	if err != nil {
		return t, err
	}
	if err := yaml.Unmarshal(raw, &t); err != nil {
		return t, fmt.Errorf("tuning.yaml: %w", err)
	}
	if err := t.Validate(); err != nil {
		return t, fmt.Errorf("tuning.yaml: %w", err)
	}
	return t, nil
}

func (t Tuning) Validate() error {
	var errs []error
	if t.World.Width <= 0 || t.World.Height <= 0 {
		errs = append(errs, fmt.Errorf("world size must be positive: %dx%d", t.World.Width, t.World.Height))
	}
	if t.World.Wrap && t.World.DiscardOutOfRange {
		errs = append(errs, errors.New("world: wrap and discard_out_of_range are exclusive"))
	}
	if t.Step.TimeoutMs < 0 || t.Step.IntervalMs < 0 {
		errs = append(errs, errors.New("step: timeout_ms and interval_ms must not be negative"))
	}
	if t.Step.DurationSeconds < 0 {
		errs = append(errs, errors.New("step: duration_seconds must not be negative"))
	}
	switch t.Perception.Frustum {
	case "", "square", "circle", "cross":
	default:
		errs = append(errs, fmt.Errorf("perception: unknown frustum %q", t.Perception.Frustum))
	}
	if t.SnapshotEverySteps < 0 || t.ArchiveEverySteps < 0 {
		errs = append(errs, errors.New("snapshot_every_steps and archive_every_steps must not be negative"))
	}
	if t.Physics.LinearDamping < 0 {
		errs = append(errs, errors.New("physics: linear_damping must not be negative"))
	}
	return errors.Join(errs...)
}

// Digest is the sha256 of the JSON encoding; agents compare it to detect a
// world running different rules.
func (t Tuning) Digest() (string, error) {
	b, err := json.Marshal(t)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:]), nil
}
