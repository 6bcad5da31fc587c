package main

import (
	"context"
	"encoding/json"
	"flag"
	"log"
	"net"
	"net/http"
	"net/http/pprof"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"turtleworld.ai/internal/metrics"
	"turtleworld.ai/internal/observability"
	"turtleworld.ai/internal/persistence/archive"
	persistlog "turtleworld.ai/internal/persistence/log"
	"turtleworld.ai/internal/persistence/snapshot"
	"turtleworld.ai/internal/sim/tuning"
	"turtleworld.ai/internal/sim/world"
	"turtleworld.ai/internal/transport/observer"
	"turtleworld.ai/internal/transport/ws"
)

func main() {
	var (
		addr       = flag.String("addr", ":8080", "http listen address")
		worldID    = flag.String("world", "world_1", "world id")
		seed       = flag.Int64("seed", 0, "world seed override (fresh worlds only; 0 uses tuning)")
		configDir  = flag.String("configs", "./configs", "config directory")
		dataDir    = flag.String("data", "./data", "runtime data directory")
		tuningPath = flag.String("tuning", "", "path to tuning.yaml (default: <configs>/tuning.yaml)")
		disableDB  = flag.Bool("disable_db", false, "disable the sqlite step index")

		snapPath   = flag.String("snapshot", "", "path to snapshot to load (optional)")
		loadLatest = flag.Bool("load_latest_snapshot", true, "load latest snapshot from data dir if present (when -snapshot is empty)")

		traceOn    = flag.Bool("trace", false, "export per-step spans to stdout")
		traceRatio = flag.Float64("trace_ratio", 1, "trace sample ratio (0..1]")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[server] ", log.LstdFlags|log.Lmicroseconds)
	envLogger := log.New(os.Stdout, "[env] ", log.LstdFlags|log.Lmicroseconds)
	wsLogger := log.New(os.Stdout, "[ws] ", log.LstdFlags|log.Lmicroseconds)
	obsLogger := log.New(os.Stdout, "[observer] ", log.LstdFlags|log.Lmicroseconds)

	worldDir := filepath.Join(*dataDir, "worlds", *worldID)
	_ = os.MkdirAll(worldDir, 0o755)

	tp := strings.TrimSpace(*tuningPath)
	if tp == "" {
		tp = filepath.Join(*configDir, "tuning.yaml")
	}

	// Optional: read-model index backend (does not affect sim determinism).
	idx, err := openRuntimeIndex(worldDir, *disableDB)
	if err != nil {
		logger.Fatalf("open index backend: %v", err)
	}
	if idx != nil {
		defer idx.Close()
	}

	snapshotToLoad := strings.TrimSpace(*snapPath)
	if snapshotToLoad == "" && *loadLatest {
		snapshotToLoad = indexedSnapshot(context.Background(), idx, worldDir)
	}

	// Load tuning (required for fresh world; optional for snapshot resumes).
	tune, tuneErr := tuning.Load(tp)
	if tuneErr != nil {
		if snapshotToLoad == "" {
			logger.Fatalf("load tuning: %v", tuneErr)
		}
		if os.IsNotExist(tuneErr) {
			logger.Printf("tuning not found (%s); using defaults", tp)
			tune = tuning.Defaults()
		} else {
			logger.Fatalf("load tuning: %v", tuneErr)
		}
	}
	if idx != nil {
		if err := idx.UpsertTuning(tune); err != nil {
			logger.Printf("index backend: upsert tuning: %v", err)
		}
	}

	cfg, err := worldConfig(tune, *seed, envLogger)
	if err != nil {
		logger.Fatalf("world config: %v", err)
	}

	// Create environment (fresh or resumed from snapshot).
	var env *world.Environment
	if snapshotToLoad != "" {
		snap, err := snapshot.ReadSnapshot(snapshotToLoad)
		if err != nil {
			logger.Fatalf("read snapshot: %v", err)
		}
		if snap.Header.WorldID != "" && snap.Header.WorldID != *worldID {
			logger.Fatalf("snapshot world id mismatch: flag=%s snap=%s", *worldID, snap.Header.WorldID)
		}
		env, err = world.New(resumeConfig(cfg, snap))
		if err != nil {
			logger.Fatalf("world: %v", err)
		}
		// Agents reconnect over ws, so only objects and the clock resume.
		if _, err := env.ImportSnapshot(snap, false); err != nil {
			logger.Fatalf("import snapshot: %v", err)
		}
		logger.Printf("resumed from snapshot=%s step=%d objects=%d", filepath.Base(snapshotToLoad), snap.Header.Step, len(snap.Objects))
	} else {
		env, err = world.New(cfg)
		if err != nil {
			logger.Fatalf("world: %v", err)
		}
	}

	ctx, cancel := signalContext()
	defer cancel()

	shutdownTracing, err := observability.InitTracing(ctx, observability.TracingConfig{
		Enabled:     *traceOn,
		ServiceName: "turtleworld-" + *worldID,
		SampleRatio: *traceRatio,
	}, logger)
	if err != nil {
		logger.Fatalf("tracing: %v", err)
	}
	defer observability.ShutdownWithTimeout(shutdownTracing, logger)

	reg := prometheus.NewRegistry()
	collector, err := metrics.NewStepCollector(reg)
	if err != nil {
		logger.Fatalf("metrics: %v", err)
	}
	env.SetObserver(collector)

	stepLog := persistlog.NewStepLogger(worldDir)
	defer stepLog.Close()
	snaps := newSnapshotter(env, *worldID, tune.SnapshotEverySteps, logger)
	obsSrv := observer.NewServer(env, *worldID, obsLogger)
	var sinks multiStepLogger
	sinks = append(sinks, stepLog, snaps, obsSrv)
	if idx != nil {
		sinks = append(sinks, idx)
	}
	env.SetStepLogger(sinks)

	// Snapshot writer.
	var writerWG sync.WaitGroup
	writerWG.Add(1)
	go func() {
		defer writerWG.Done()
		for snap := range snaps.out {
			writeSnapshot(worldDir, snap, idx, tune.ArchiveEverySteps, logger)
		}
	}()

	wsSrv := ws.NewServer(env, wsLogger)
	if digest, err := tune.Digest(); err == nil {
		wsSrv.TuningDigest = digest
	}
	defer wsSrv.Close()

	_ = collector.AddGaugeFunc("turtleworld_ws_sessions", "Connected websocket agents.", func() float64 {
		return float64(wsSrv.Sessions())
	})
	_ = collector.AddGaugeFunc("turtleworld_observers", "Connected spectators.", func() float64 {
		return float64(obsSrv.Subscribers())
	})
	_ = collector.AddGaugeFunc("turtleworld_step", "Current environment step.", func() float64 {
		return float64(env.Clock().Step())
	})
	if idx != nil {
		_ = collector.AddGaugeFunc("turtleworld_index_queue_depth", "Pending index writes.", func() float64 {
			return float64(idx.Stats().QueueDepth)
		})
		_ = collector.AddGaugeFunc("turtleworld_index_dropped_steps", "Steps dropped by a saturated index queue.", func() float64 {
			return float64(idx.Stats().DropStepTotal)
		})
	}

	runDone := make(chan struct{})
	go func() {
		defer close(runDone)
		if err := env.Run(ctx); err != nil && err != context.Canceled {
			logger.Printf("environment stopped: %v", err)
		}
	}()

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(rw http.ResponseWriter, r *http.Request) {
		if env.State() == world.StateStopped {
			http.Error(rw, "stopped", http.StatusServiceUnavailable)
			return
		}
		rw.WriteHeader(200)
		_, _ = rw.Write([]byte("ok"))
	})
	mux.Handle("/metrics", collector.Handler())
	mux.HandleFunc("/v1/ws", wsSrv.Handler())
	mux.HandleFunc("/v1/observe", obsSrv.WSHandler())

	if envBool("TW_ENABLE_ADMIN_HTTP", defaultEnableAdminHTTP()) {
		registerAdmin(mux, adminDeps{worldID: *worldID, env: env, idx: idx, snaps: snaps, ws: wsSrv})
		mux.HandleFunc("/admin/v1/observer/bootstrap", obsSrv.BootstrapHandler())
	} else {
		logger.Printf("admin endpoints disabled (TW_ENABLE_ADMIN_HTTP=false)")
	}
	if envBool("TW_ENABLE_PPROF_HTTP", false) {
		mux.HandleFunc("/debug/pprof/", pprof.Index)
		mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
		mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
		mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
		mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	} else {
		logger.Printf("pprof endpoints disabled (TW_ENABLE_PPROF_HTTP=false)")
	}

	srv := &http.Server{
		Addr:              *addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		select {
		case <-ctx.Done():
		case <-runDone:
		}
		ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel2()
		_ = srv.Shutdown(ctx2)
	}()

	logger.Printf("listening on %s", *addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatalf("ListenAndServe: %v", err)
	}

	env.Stop()
	<-runDone
	writeSnapshot(worldDir, env.ExportSnapshot(*worldID), idx, tune.ArchiveEverySteps, logger)
	close(snaps.out)
	writerWG.Wait()
	logger.Printf("shutdown complete at step %d", env.Clock().Step())
}

func writeSnapshot(worldDir string, snap snapshot.SnapshotV1, idx runtimeIndex, archiveEvery int, logger *log.Logger) {
	path := snapshotPath(worldDir, snap.Header.Step)
	if err := snapshot.WriteSnapshot(path, snap); err != nil {
		logger.Printf("snapshot write: %v", err)
		return
	}
	if idx != nil {
		idx.RecordSnapshot(path, snap)
	}
	epoch, archived, ok, err := archive.ArchiveEpochSnapshot(worldDir, path, snap, archiveEvery)
	if err != nil {
		logger.Printf("snapshot archive: %v", err)
	} else if ok {
		logger.Printf("archived epoch=%d snapshot=%s", epoch, archived)
	}
}

type adminDeps struct {
	worldID string
	env     *world.Environment
	idx     runtimeIndex
	snaps   *snapshotter
	ws      *ws.Server
}

// registerAdmin adds local-only endpoints. They read state but never drive
// the simulation, apart from asking for a snapshot at a step boundary.
func registerAdmin(mux *http.ServeMux, d adminDeps) {
	mux.HandleFunc("GET /admin/v1/state", loopbackOnly(func(rw http.ResponseWriter, r *http.Request) {
		resp := struct {
			WorldID  string         `json:"world_id"`
			Snapshot world.Snapshot `json:"snapshot"`
			Digest   string         `json:"digest"`
			Sessions int            `json:"sessions"`
			Error    string         `json:"error,omitempty"`
		}{
			WorldID:  d.worldID,
			Snapshot: d.env.Snapshot(),
			Digest:   d.env.Digest(),
			Sessions: d.ws.Sessions(),
		}
		if err := d.env.Err(); err != nil {
			resp.Error = err.Error()
		}
		writeJSONResponse(rw, http.StatusOK, resp)
	}))
	mux.HandleFunc("POST /admin/v1/snapshot", loopbackOnly(func(rw http.ResponseWriter, r *http.Request) {
		ctx2, cancel2 := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel2()
		step, err := d.snaps.Request(ctx2)
		if err != nil {
			writeJSONResponse(rw, http.StatusServiceUnavailable, map[string]any{"ok": false, "step": step, "error": err.Error()})
			return
		}
		writeJSONResponse(rw, http.StatusOK, map[string]any{"ok": true, "step": step})
	}))
	if d.idx == nil {
		return
	}
	mux.HandleFunc("GET /admin/v1/steps", loopbackOnly(func(rw http.ResponseWriter, r *http.Request) {
		limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
		rows, err := d.idx.RecentSteps(r.Context(), limit)
		if err != nil {
			http.Error(rw, err.Error(), http.StatusInternalServerError)
			return
		}
		writeJSONResponse(rw, http.StatusOK, rows)
	}))
	mux.HandleFunc("GET /admin/v1/bodies/{id}/influences", loopbackOnly(func(rw http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		from, _ := strconv.ParseUint(q.Get("from"), 10, 64)
		to, err := strconv.ParseUint(q.Get("to"), 10, 64)
		if err != nil {
			to = d.env.Clock().Step()
		}
		rows, err := d.idx.BodyInfluences(r.Context(), r.PathValue("id"), from, to)
		if err != nil {
			http.Error(rw, err.Error(), http.StatusInternalServerError)
			return
		}
		writeJSONResponse(rw, http.StatusOK, rows)
	}))
}

func loopbackOnly(h http.HandlerFunc) http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if !isLoopbackRemote(r.RemoteAddr) {
			http.Error(rw, "forbidden", http.StatusForbidden)
			return
		}
		h(rw, r)
	}
}

func writeJSONResponse(rw http.ResponseWriter, status int, v any) {
	rw.Header().Set("Content-Type", "application/json")
	rw.WriteHeader(status)
	_ = json.NewEncoder(rw).Encode(v)
}

func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	ch := make(chan os.Signal, 2)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-ch
		cancel()
	}()
	return ctx, cancel
}

func isLoopbackRemote(remoteAddr string) bool {
	host := remoteAddr
	if h, _, err := net.SplitHostPort(remoteAddr); err == nil {
		host = h
	}
	host = strings.TrimPrefix(host, "[")
	host = strings.TrimSuffix(host, "]")
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

func defaultEnableAdminHTTP() bool {
	switch strings.ToLower(strings.TrimSpace(os.Getenv("DEPLOY_ENV"))) {
	case "staging", "production":
		return false
	default:
		return true
	}
}

func envBool(key string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}
