package archive

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"turtleworld.ai/internal/persistence/snapshot"
)

func TestArchiveEpochSnapshot_CopiesBoundarySnapshot(t *testing.T) {
	worldDir := filepath.Join(t.TempDir(), "worlds", "w1")
	src := filepath.Join(worldDir, "snapshots", "6.snap.zst")
	if err := os.MkdirAll(filepath.Dir(src), 0o755); err != nil {
		t.Fatalf("mkdir snapshots: %v", err)
	}
	want := []byte("dummy")
	if err := os.WriteFile(src, want, 0o644); err != nil {
		t.Fatalf("write src: %v", err)
	}

	snap := snapshot.SnapshotV1{
		Header:  snapshot.Header{Version: snapshot.Version, WorldID: "w1", Step: 6},
		Seed:    42,
		Objects: []snapshot.ObjectV1{{ID: "o"}},
	}

	epoch, archivedPath, ok, err := ArchiveEpochSnapshot(worldDir, src, snap, 3)
	if err != nil {
		t.Fatalf("archive: %v", err)
	}
	if !ok || epoch != 2 {
		t.Fatalf("epoch=%d archived=%v", epoch, ok)
	}

	got, err := os.ReadFile(archivedPath)
	if err != nil {
		t.Fatalf("read archived: %v", err)
	}
	if string(got) != string(want) {
		t.Fatalf("archived content mismatch: got=%q want=%q", string(got), string(want))
	}

	raw, err := os.ReadFile(filepath.Join(filepath.Dir(archivedPath), "meta.json"))
	if err != nil {
		t.Fatalf("expected meta.json to exist: %v", err)
	}
	var meta EpochArchiveMeta
	if err := json.Unmarshal(raw, &meta); err != nil || meta.Step != 6 || meta.Objects != 1 {
		t.Fatalf("meta = %+v err=%v", meta, err)
	}
}

func TestArchiveEpochSnapshot_SkipsOffBoundary(t *testing.T) {
	snap := snapshot.SnapshotV1{Header: snapshot.Header{Step: 5}}
	for _, every := range []int{0, 3} {
		if _, _, ok, err := ArchiveEpochSnapshot(t.TempDir(), "unused", snap, every); ok || err != nil {
			t.Fatalf("every=%d archived=%v err=%v", every, ok, err)
		}
	}
}
