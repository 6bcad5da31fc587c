package world

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"math"

	"github.com/google/uuid"

	"turtleworld.ai/internal/sim/geom"
	"turtleworld.ai/internal/sim/spatial"
)

// digestLocked hashes everything that affects future steps: bodies and
// objects in id order, their poses and semantics.
func (e *Environment) digestLocked(step uint64) string {
	h := sha256.New()
	var tmp [8]byte

	digestWriteU64(h, &tmp, step)
	digestWriteU64(h, &tmp, uint64(e.bounds.Width))
	digestWriteU64(h, &tmp, uint64(e.bounds.Height))

	ids := make([]uuid.UUID, 0, len(e.bodies))
	for id := range e.bodies {
		ids = append(ids, id)
	}
	spatial.SortIDs(ids)
	digestWriteU64(h, &tmp, uint64(len(ids)))
	for _, id := range ids {
		b := e.bodies[id]
		pose := b.Pose()
		h.Write(id[:])
		digestWritePoint(h, &tmp, pose.Position)
		digestWriteF64(h, &tmp, pose.Heading)
		digestWriteF64(h, &tmp, pose.Speed)
		digestWriteSemantic(h, b.Semantic())
	}

	ids = ids[:0]
	for id := range e.objects {
		ids = append(ids, id)
	}
	spatial.SortIDs(ids)
	digestWriteU64(h, &tmp, uint64(len(ids)))
	for _, id := range ids {
		o := e.objects[id]
		h.Write(id[:])
		h.Write([]byte(o.Kind))
		digestWritePoint(h, &tmp, o.Position)
		digestWriteF64(h, &tmp, o.ExpiresAt)
		digestWriteSemantic(h, o.Semantic)
	}

	return hex.EncodeToString(h.Sum(nil))
}

func digestWriteU64(h hashWriter, tmp *[8]byte, v uint64) {
	binary.LittleEndian.PutUint64(tmp[:], v)
	h.Write(tmp[:])
}

func digestWriteF64(h hashWriter, tmp *[8]byte, v float64) {
	digestWriteU64(h, tmp, math.Float64bits(v))
}

func digestWritePoint(h hashWriter, tmp *[8]byte, p geom.Point) {
	digestWriteF64(h, tmp, p.X)
	digestWriteF64(h, tmp, p.Y)
}

// Semantics are hashed through their JSON form, which sorts map keys.
func digestWriteSemantic(h hashWriter, v any) {
	if v == nil {
		h.Write([]byte{0})
		return
	}
	b, err := json.Marshal(v)
	if err != nil {
		h.Write([]byte{1})
		return
	}
	h.Write(b)
}

type hashWriter interface {
	Write(p []byte) (n int, err error)
}
