package archive

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"turtleworld.ai/internal/persistence/snapshot"
)

type EpochArchiveMeta struct {
	Epoch      int    `json:"epoch"`
	Step       uint64 `json:"step"`
	Seed       int64  `json:"seed"`
	Snapshot   string `json:"snapshot"`
	CreatedAt  string `json:"created_at"`
	EpochSteps int    `json:"epoch_steps"`
	Bodies     int    `json:"bodies"`
	Objects    int    `json:"objects"`
}

// ArchiveEpochSnapshot copies a snapshot taken on an epoch boundary into
// `worldDir/archives/epoch_<NNN>/`. Snapshot headers carry the next step to
// run, so epoch k ends with the snapshot at step epochSteps*k.
func ArchiveEpochSnapshot(worldDir, snapshotPath string, snap snapshot.SnapshotV1, epochSteps int) (epoch int, archivedPath string, archived bool, err error) {
	if epochSteps <= 0 || snap.Header.Step == 0 {
		return 0, "", false, nil
	}
	if snap.Header.Step%uint64(epochSteps) != 0 {
		return 0, "", false, nil
	}
	epoch = int(snap.Header.Step / uint64(epochSteps))

	archiveDir := filepath.Join(worldDir, "archives", fmt.Sprintf("epoch_%03d", epoch))
	if err := os.MkdirAll(archiveDir, 0o755); err != nil {
		return 0, "", false, err
	}

	dst := filepath.Join(archiveDir, filepath.Base(snapshotPath))
	if err := copyFile(snapshotPath, dst); err != nil {
		return 0, "", false, err
	}

	meta := EpochArchiveMeta{
		Epoch:      epoch,
		Step:       snap.Header.Step,
		Seed:       snap.Seed,
		Snapshot:   filepath.Base(dst),
		CreatedAt:  time.Now().UTC().Format(time.RFC3339Nano),
		EpochSteps: epochSteps,
		Bodies:     len(snap.Bodies),
		Objects:    len(snap.Objects),
	}
	if b, err := json.MarshalIndent(meta, "", "  "); err == nil {
		_ = os.WriteFile(filepath.Join(archiveDir, "meta.json"), b, 0o644)
	}

	return epoch, dst, true, nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer func() { _ = out.Close() }()

	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Close()
}
