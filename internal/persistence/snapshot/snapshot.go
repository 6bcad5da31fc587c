package snapshot

import (
	"bufio"
	"encoding/gob"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/zstd"
)

const Version = 1

type Header struct {
	Version int    `json:"version"`
	WorldID string `json:"world_id"`
	Step    uint64 `json:"step"`
}

// SnapshotV1 is the persisted state of an environment between two steps.
// Step in the header is the next step to run.
type SnapshotV1 struct {
	Header Header `json:"header"`

	Seed              int64   `json:"seed"`
	Width             int     `json:"width"`
	Height            int     `json:"height"`
	Wrap              bool    `json:"wrap"`
	DiscardOutOfRange bool    `json:"discard_out_of_range"`
	SharedCells       bool    `json:"shared_cells"`
	Time              float64 `json:"time"`
	StepDuration      float64 `json:"step_duration"`

	Bodies  []BodyV1   `json:"bodies"`
	Objects []ObjectV1 `json:"objects"`
}

type BodyV1 struct {
	ID       string     `json:"id"`
	Pos      [2]float64 `json:"pos"`
	Heading  float64    `json:"heading"`
	Speed    float64    `json:"speed"`
	Velocity [2]float64 `json:"velocity"`
	// Semantic is the body's semantic value encoded as JSON.
	Semantic   []byte `json:"semantic,omitempty"`
	Perception bool   `json:"perception"`

	Frustum       string  `json:"frustum,omitempty"`
	FrustumExtent float64 `json:"frustum_extent,omitempty"`
}

type ObjectV1 struct {
	ID        string     `json:"id"`
	Kind      string     `json:"kind"`
	Pos       [2]float64 `json:"pos"`
	Semantic  []byte     `json:"semantic,omitempty"`
	ExpiresAt float64    `json:"expires_at,omitempty"`
}

// WriteSnapshot writes a zstd stream holding a JSON header line followed by
// the gob encoded snapshot.
func WriteSnapshot(path string, snap SnapshotV1) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	enc, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return err
	}
	defer enc.Close()

	bw := bufio.NewWriterSize(enc, 256*1024)
	defer bw.Flush()

	hb, _ := json.Marshal(snap.Header)
	if _, err := bw.Write(hb); err != nil {
		return err
	}
	if err := bw.WriteByte('\n'); err != nil {
		return err
	}

	if err := gob.NewEncoder(bw).Encode(&snap); err != nil {
		return fmt.Errorf("gob encode: %w", err)
	}
	return nil
}

func ReadSnapshot(path string) (SnapshotV1, error) {
	var snap SnapshotV1
	f, err := os.Open(path)
	if err != nil {
		return snap, err
	}
	defer f.Close()

	dec, err := zstd.NewReader(f)
	if err != nil {
		return snap, err
	}
	defer dec.Close()

	br := bufio.NewReaderSize(dec, 256*1024)

	// The gob body repeats the header.
	if _, err := br.ReadBytes('\n'); err != nil {
		return snap, fmt.Errorf("read header: %w", err)
	}

	if err := gob.NewDecoder(br).Decode(&snap); err != nil {
		return snap, fmt.Errorf("gob decode: %w", err)
	}
	if snap.Header.Version != Version {
		return snap, fmt.Errorf("unsupported snapshot version: %d", snap.Header.Version)
	}
	return snap, nil
}

// ReadHeader decodes only the header line.
func ReadHeader(path string) (Header, error) {
	var h Header
	f, err := os.Open(path)
	if err != nil {
		return h, err
	}
	defer f.Close()

	dec, err := zstd.NewReader(f)
	if err != nil {
		return h, err
	}
	defer dec.Close()

	line, err := bufio.NewReader(dec).ReadBytes('\n')
	if err != nil {
		return h, fmt.Errorf("read header: %w", err)
	}
	if err := json.Unmarshal(line, &h); err != nil {
		return h, fmt.Errorf("decode header: %w", err)
	}
	return h, nil
}
