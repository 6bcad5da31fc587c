package indexdb

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"turtleworld.ai/internal/persistence/snapshot"
	"turtleworld.ai/internal/sim/tuning"
	"turtleworld.ai/internal/sim/world"
)

// SQLiteIndex is a queryable secondary index of the step log. Writes are
// queued and applied by a single writer goroutine; the JSONL step log stays
// the source of truth.
type SQLiteIndex struct {
	db *sqlx.DB

	ch   chan req
	wg   sync.WaitGroup
	once sync.Once

	closed atomic.Bool

	dropSteps     atomic.Uint64
	dropSnapshots atomic.Uint64
}

type reqKind int

const (
	reqStep reqKind = iota + 1
	reqSnapshot
)

type req struct {
	kind reqKind

	step     world.StepLogEntry
	snapshot snapshotRow
}

type snapshotRow struct {
	Step    uint64
	Path    string
	Seed    int64
	Width   int
	Height  int
	Bodies  int
	Objects int
}

// Stats reports queue pressure.
type Stats struct {
	QueueDepth        int
	QueueCapacity     int
	DropStepTotal     uint64
	DropSnapshotTotal uint64
}

func OpenSQLite(path string) (*SQLiteIndex, error) {
	return openSQLite(path, 65536)
}

func openSQLite(path string, queue int) (*SQLiteIndex, error) {
	if path == "" {
		return nil, fmt.Errorf("empty db path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sqlx.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := initPragmas(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	s := &SQLiteIndex{
		db: db,
		ch: make(chan req, queue),
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.loop()
	}()
	return s, nil
}

func initPragmas(db *sqlx.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA foreign_keys=ON;",
		"PRAGMA busy_timeout=5000;",
		"PRAGMA temp_store=MEMORY;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return err
		}
	}
	return nil
}

func initSchema(db *sqlx.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS meta (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS steps (
		step INTEGER PRIMARY KEY,
		time REAL NOT NULL,
		digest TEXT NOT NULL,
		expected INTEGER NOT NULL,
		reported INTEGER NOT NULL,
		timed_out INTEGER NOT NULL,
		joins INTEGER NOT NULL,
		leaves INTEGER NOT NULL,
		influences INTEGER NOT NULL,
		raw_json TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS joins (
		step INTEGER NOT NULL,
		body_id TEXT NOT NULL,
		PRIMARY KEY (step, body_id)
	);

	CREATE TABLE IF NOT EXISTS leaves (
		step INTEGER NOT NULL,
		body_id TEXT NOT NULL,
		PRIMARY KEY (step, body_id)
	);

	CREATE TABLE IF NOT EXISTS influences (
		step INTEGER NOT NULL,
		seq INTEGER NOT NULL,
		body_id TEXT NOT NULL,
		kind TEXT NOT NULL,
		influence_json TEXT NOT NULL,
		PRIMARY KEY (step, seq)
	);

	CREATE INDEX IF NOT EXISTS idx_influences_body_step ON influences(body_id, step);

	CREATE TABLE IF NOT EXISTS snapshots (
		step INTEGER PRIMARY KEY,
		path TEXT NOT NULL,
		seed INTEGER NOT NULL,
		width INTEGER NOT NULL,
		height INTEGER NOT NULL,
		bodies INTEGER NOT NULL,
		objects INTEGER NOT NULL
	);
	`
	_, err := db.Exec(schema)
	return err
}

func (s *SQLiteIndex) Close() error {
	var err error
	s.once.Do(func() {
		s.closed.Store(true)
		close(s.ch)
		s.wg.Wait()
		err = s.db.Close()
	})
	return err
}

func (s *SQLiteIndex) Stats() Stats {
	if s == nil {
		return Stats{}
	}
	return Stats{
		QueueDepth:        len(s.ch),
		QueueCapacity:     cap(s.ch),
		DropStepTotal:     s.dropSteps.Load(),
		DropSnapshotTotal: s.dropSnapshots.Load(),
	}
}

// WriteStep queues entry. It never blocks the step pipeline: when the
// writer falls behind the entry is dropped and counted.
func (s *SQLiteIndex) WriteStep(entry world.StepLogEntry) error {
	if s == nil || s.closed.Load() {
		return nil
	}
	select {
	case s.ch <- req{kind: reqStep, step: entry}:
	default:
		s.dropSteps.Add(1)
	}
	return nil
}

func (s *SQLiteIndex) RecordSnapshot(path string, snap snapshot.SnapshotV1) {
	if s == nil || s.closed.Load() {
		return
	}
	r := snapshotRow{
		Step:    snap.Header.Step,
		Path:    path,
		Seed:    snap.Seed,
		Width:   snap.Width,
		Height:  snap.Height,
		Bodies:  len(snap.Bodies),
		Objects: len(snap.Objects),
	}
	select {
	case s.ch <- req{kind: reqSnapshot, snapshot: r}:
	default:
		s.dropSnapshots.Add(1)
	}
}

// UpsertTuning stores the tuning actually applied, with its digest.
func (s *SQLiteIndex) UpsertTuning(tune tuning.Tuning) error {
	if s == nil {
		return nil
	}
	b, err := json.Marshal(tune)
	if err != nil {
		return err
	}
	digest, err := tune.Digest()
	if err != nil {
		return err
	}

	tx, err := s.db.Beginx()
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.Preparex(`INSERT OR REPLACE INTO meta(key,value) VALUES(?,?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()
	for k, v := range map[string]string{
		"schema_version": "1",
		"tuning":         string(b),
		"tuning_digest":  digest,
	} {
		if _, err := stmt.Exec(k, v); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *SQLiteIndex) Meta(ctx context.Context, key string) (string, bool, error) {
	var v string
	err := s.db.GetContext(ctx, &v, `SELECT value FROM meta WHERE key=?`, key)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return v, true, nil
}

// StepRow is one indexed step.
type StepRow struct {
	Step       uint64  `db:"step"`
	Time       float64 `db:"time"`
	Digest     string  `db:"digest"`
	Expected   int     `db:"expected"`
	Reported   int     `db:"reported"`
	TimedOut   bool    `db:"timed_out"`
	Joins      int     `db:"joins"`
	Leaves     int     `db:"leaves"`
	Influences int     `db:"influences"`
}

// RecentSteps returns up to limit steps, newest first.
func (s *SQLiteIndex) RecentSteps(ctx context.Context, limit int) ([]StepRow, error) {
	if limit <= 0 {
		limit = 100
	}
	var rows []StepRow
	err := s.db.SelectContext(ctx, &rows, `SELECT step,time,digest,expected,reported,timed_out,joins,leaves,influences
		FROM steps ORDER BY step DESC LIMIT ?`, limit)
	return rows, err
}

// InfluenceRow is one indexed influence.
type InfluenceRow struct {
	Step      uint64 `db:"step"`
	Seq       int    `db:"seq"`
	BodyID    string `db:"body_id"`
	Kind      string `db:"kind"`
	Influence string `db:"influence_json"`
}

// BodyInfluences returns the influences a body submitted in [from,to].
func (s *SQLiteIndex) BodyInfluences(ctx context.Context, bodyID string, from, to uint64) ([]InfluenceRow, error) {
	var rows []InfluenceRow
	err := s.db.SelectContext(ctx, &rows, `SELECT step,seq,body_id,kind,influence_json
		FROM influences WHERE body_id=? AND step BETWEEN ? AND ? ORDER BY step,seq`, bodyID, int64(from), int64(to))
	return rows, err
}

// SnapshotRow is one recorded snapshot.
type SnapshotRow struct {
	Step    uint64 `db:"step"`
	Path    string `db:"path"`
	Seed    int64  `db:"seed"`
	Width   int    `db:"width"`
	Height  int    `db:"height"`
	Bodies  int    `db:"bodies"`
	Objects int    `db:"objects"`
}

// LatestSnapshot returns the most recent snapshot row, if any.
func (s *SQLiteIndex) LatestSnapshot(ctx context.Context) (SnapshotRow, bool, error) {
	var r SnapshotRow
	err := s.db.GetContext(ctx, &r, `SELECT step,path,seed,width,height,bodies,objects FROM snapshots ORDER BY step DESC LIMIT 1`)
	if errors.Is(err, sql.ErrNoRows) {
		return r, false, nil
	}
	if err != nil {
		return r, false, err
	}
	return r, true, nil
}

func (s *SQLiteIndex) loop() {
	ctx := context.Background()

	insertStep, _ := s.db.Preparex(`INSERT OR REPLACE INTO steps(step,time,digest,expected,reported,timed_out,joins,leaves,influences,raw_json) VALUES(?,?,?,?,?,?,?,?,?,?)`)
	insertJoin, _ := s.db.Preparex(`INSERT OR REPLACE INTO joins(step,body_id) VALUES(?,?)`)
	insertLeave, _ := s.db.Preparex(`INSERT OR REPLACE INTO leaves(step,body_id) VALUES(?,?)`)
	insertInfluence, _ := s.db.Preparex(`INSERT OR REPLACE INTO influences(step,seq,body_id,kind,influence_json) VALUES(?,?,?,?,?)`)
	insertSnapshot, _ := s.db.Preparex(`INSERT OR REPLACE INTO snapshots(step,path,seed,width,height,bodies,objects) VALUES(?,?,?,?,?,?,?)`)
	defer func() {
		for _, st := range []*sqlx.Stmt{insertStep, insertJoin, insertLeave, insertInfluence, insertSnapshot} {
			if st != nil {
				_ = st.Close()
			}
		}
	}()

	var (
		tx            *sqlx.Tx
		opCount       int
		lastCommit    = time.Now()
		commitEvery   = 2000
		commitMaxWait = 2 * time.Second
	)

	begin := func() {
		if tx != nil {
			return
		}
		txx, err := s.db.BeginTxx(ctx, nil)
		if err != nil {
			time.Sleep(50 * time.Millisecond)
			return
		}
		tx = txx
		opCount = 0
		lastCommit = time.Now()
	}
	commit := func() {
		if tx == nil {
			return
		}
		_ = tx.Commit()
		tx = nil
		opCount = 0
		lastCommit = time.Now()
	}
	rollback := func() {
		if tx == nil {
			return
		}
		_ = tx.Rollback()
		tx = nil
		opCount = 0
		lastCommit = time.Now()
	}
	exec := func(st *sqlx.Stmt, args ...any) bool {
		if st == nil || tx == nil {
			return false
		}
		if _, err := tx.Stmtx(st).Exec(args...); err != nil {
			rollback()
			return false
		}
		opCount++
		return true
	}

	for r := range s.ch {
		begin()
		if tx == nil {
			continue
		}
		switch r.kind {
		case reqStep:
			e := r.step
			step := int64(e.Step)
			raw, _ := json.Marshal(e)
			if !exec(insertStep, step, e.Time, e.Digest, e.Expected, e.Reported, e.TimedOut,
				len(e.Joins), len(e.Leaves), len(e.Influences), string(raw)) {
				continue
			}
			ok := true
			for _, id := range e.Joins {
				if ok = exec(insertJoin, step, id); !ok {
					break
				}
			}
			for i := 0; ok && i < len(e.Leaves); i++ {
				ok = exec(insertLeave, step, e.Leaves[i])
			}
			for i := 0; ok && i < len(e.Influences); i++ {
				in := e.Influences[i]
				b, _ := json.Marshal(in.Influence)
				ok = exec(insertInfluence, step, i, in.BodyID, string(in.Kind), string(b))
			}

		case reqSnapshot:
			sn := r.snapshot
			exec(insertSnapshot, int64(sn.Step), sn.Path, sn.Seed, sn.Width, sn.Height, sn.Bodies, sn.Objects)
		}
		if tx != nil && (opCount >= commitEvery || time.Since(lastCommit) >= commitMaxWait) {
			commit()
		}
	}

	commit()
}
