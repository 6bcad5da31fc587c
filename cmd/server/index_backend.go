package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"turtleworld.ai/internal/persistence/indexdb"
	"turtleworld.ai/internal/persistence/snapshot"
	"turtleworld.ai/internal/sim/tuning"
	"turtleworld.ai/internal/sim/world"
)

type runtimeIndex interface {
	world.StepLogger
	Close() error
	Stats() indexdb.Stats
	UpsertTuning(tune tuning.Tuning) error
	RecordSnapshot(path string, snap snapshot.SnapshotV1)
	RecentSteps(ctx context.Context, limit int) ([]indexdb.StepRow, error)
	BodyInfluences(ctx context.Context, bodyID string, from, to uint64) ([]indexdb.InfluenceRow, error)
	LatestSnapshot(ctx context.Context) (indexdb.SnapshotRow, bool, error)
}

func openRuntimeIndex(worldDir string, disableDB bool) (runtimeIndex, error) {
	if disableDB {
		return nil, nil
	}

	backend := strings.ToLower(strings.TrimSpace(os.Getenv("TW_INDEX_BACKEND")))
	if backend == "" {
		backend = "sqlite"
	}

	switch backend {
	case "none", "off", "disabled":
		return nil, nil
	case "sqlite":
		dbPath := filepath.Join(worldDir, "index", "world.sqlite")
		return indexdb.OpenSQLite(dbPath)
	default:
		return nil, fmt.Errorf("unsupported TW_INDEX_BACKEND: %s", backend)
	}
}

// multiStepLogger fans a step out to every non-nil logger. Failures are
// reported but never stop the fan-out.
type multiStepLogger []world.StepLogger

func (m multiStepLogger) WriteStep(entry world.StepLogEntry) error {
	var first error
	for _, l := range m {
		if l == nil {
			continue
		}
		if err := l.WriteStep(entry); err != nil && first == nil {
			first = err
		}
	}
	return first
}
