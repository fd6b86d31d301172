package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"net/http/pprof"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"civitas.ai/internal/config"
	"civitas.ai/internal/decide"
	"civitas.ai/internal/persistence/archmirror"
	"civitas.ai/internal/persistence/declog"
	"civitas.ai/internal/protocol"
	"civitas.ai/internal/sim/engine"
	"civitas.ai/internal/store"
	"civitas.ai/internal/transport/ws"
)

func main() {
	var (
		addr        = flag.String("addr", ":8080", "http listen address")
		configDir   = flag.String("configs", "./configs", "config directory")
		dataDir     = flag.String("data", "./data", "runtime data directory")
		runtimePath = flag.String("runtime", "", "path to runtime.yaml (default: <configs>/runtime.yaml)")
		decideURL   = flag.String("decide_url", "http://127.0.0.1:8091/v1/decide", "decision provider gateway url")
		seed        = flag.Int64("seed", 1337, "rng seed for probability rolls")
		startPaused = flag.Bool("start_paused", false, "start with the tick scheduler paused")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[server] ", log.LstdFlags|log.Lmicroseconds)

	rp := strings.TrimSpace(*runtimePath)
	if rp == "" {
		rp = filepath.Join(*configDir, "runtime.yaml")
	}
	rt, eco, err := config.Load(rp)
	if err != nil {
		logger.Fatalf("load runtime config: %v", err)
	}
	cfgStore, err := config.NewStore(rt, eco, filepath.Join(*configDir, "schemas", "config_patch.schema.json"))
	if err != nil {
		logger.Fatalf("config store: %v", err)
	}

	_ = os.MkdirAll(*dataDir, 0o755)
	st, err := store.Open(filepath.Join(*dataDir, "civitas.db"))
	if err != nil {
		logger.Fatalf("open store: %v", err)
	}
	defer st.Close()

	decisions := declog.NewDecisionLogger(*dataDir)
	defer decisions.Close()
	events := declog.NewEventLogger(*dataDir)
	defer events.Close()

	// Optional off-box archive mirror (CV_S3_ENDPOINT et al).
	var mirror *archmirror.Mirror
	if ep := strings.TrimSpace(os.Getenv("CV_S3_ENDPOINT")); ep != "" {
		mirror, err = archmirror.New(ep,
			os.Getenv("CV_S3_BUCKET"),
			os.Getenv("CV_S3_ACCESS_KEY_ID"),
			os.Getenv("CV_S3_SECRET_ACCESS_KEY"),
			*dataDir,
			os.Getenv("CV_S3_PREFIX"),
			logger)
		if err != nil {
			logger.Fatalf("archive mirror: %v", err)
		}
		defer mirror.Close()
		decisions.SetOnClose(mirror.Enqueue)
		events.SetOnClose(mirror.Enqueue)
		logger.Printf("archive mirror enabled endpoint=%s", ep)
	}

	hub := ws.NewHub(logger)

	eng := engine.New(st, cfgStore, decide.NewHTTPClient(*decideURL), engine.Options{
		Logger:       log.New(os.Stdout, "[engine] ", log.LstdFlags|log.Lmicroseconds),
		Broadcaster:  &archivingBroadcaster{hub: hub, events: events, log: logger},
		DecisionSink: decisions,
		Seed:         *seed,
		StartPaused:  *startPaused,
	})

	ctx, cancel := signalContext()
	defer cancel()

	go func() {
		if err := eng.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Printf("engine stopped: %v", err)
		}
	}()

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(rw http.ResponseWriter, r *http.Request) {
		rw.WriteHeader(200)
		_, _ = rw.Write([]byte("ok"))
	})
	mux.HandleFunc("/metrics", func(rw http.ResponseWriter, r *http.Request) {
		rw.Header().Set("Content-Type", "text/plain; version=0.0.4")

		st2, err := eng.Status(r.Context())
		if err != nil {
			http.Error(rw, err.Error(), http.StatusInternalServerError)
			return
		}

		// Minimal Prometheus exposition format.
		fmt.Fprintf(rw, "# HELP civitas_tick Current simulation tick.\n")
		fmt.Fprintf(rw, "# TYPE civitas_tick gauge\n")
		fmt.Fprintf(rw, "civitas_tick %d\n", eng.CurrentTick())

		fmt.Fprintf(rw, "# HELP civitas_paused Whether the scheduler is paused.\n")
		fmt.Fprintf(rw, "# TYPE civitas_paused gauge\n")
		fmt.Fprintf(rw, "civitas_paused %d\n", boolGauge(st2.Simulation.IsPaused))

		fmt.Fprintf(rw, "# HELP civitas_decision_units Decision units by state for the current tick.\n")
		fmt.Fprintf(rw, "# TYPE civitas_decision_units gauge\n")
		fmt.Fprintf(rw, "civitas_decision_units{state=%q} %d\n", "waiting", st2.Simulation.Waiting)
		fmt.Fprintf(rw, "civitas_decision_units{state=%q} %d\n", "active", st2.Simulation.Active)
		fmt.Fprintf(rw, "civitas_decision_units{state=%q} %d\n", "completed", st2.Simulation.Completed)
		fmt.Fprintf(rw, "civitas_decision_units{state=%q} %d\n", "failed", st2.Simulation.Failed)

		fmt.Fprintf(rw, "# HELP civitas_decisions_total Total recorded decisions.\n")
		fmt.Fprintf(rw, "# TYPE civitas_decisions_total counter\n")
		fmt.Fprintf(rw, "civitas_decisions_total %d\n", st2.Decisions.Total)

		fmt.Fprintf(rw, "# HELP civitas_decision_errors_total Total failed decisions.\n")
		fmt.Fprintf(rw, "# TYPE civitas_decision_errors_total counter\n")
		fmt.Fprintf(rw, "civitas_decision_errors_total %d\n", st2.Decisions.Errors)

		fmt.Fprintf(rw, "# HELP civitas_decisions_by_provider Total decisions by provider.\n")
		fmt.Fprintf(rw, "# TYPE civitas_decisions_by_provider counter\n")
		fmt.Fprintf(rw, "civitas_decisions_by_provider{provider=%q} %d\n", "haiku", st2.Decisions.HaikuCount)
		fmt.Fprintf(rw, "civitas_decisions_by_provider{provider=%q} %d\n", "ollama", st2.Decisions.OllamaCount)

		fmt.Fprintf(rw, "# HELP civitas_treasury_balance Current treasury balance.\n")
		fmt.Fprintf(rw, "# TYPE civitas_treasury_balance gauge\n")
		fmt.Fprintf(rw, "civitas_treasury_balance %d\n", cfgStore.Economy().TreasuryBalance)

		fmt.Fprintf(rw, "# HELP civitas_step_ms Last tick step duration in milliseconds.\n")
		fmt.Fprintf(rw, "# TYPE civitas_step_ms gauge\n")
		fmt.Fprintf(rw, "civitas_step_ms %d\n", eng.LastStepMs())

		fmt.Fprintf(rw, "# HELP civitas_ws_subscribers Connected event feed subscribers.\n")
		fmt.Fprintf(rw, "# TYPE civitas_ws_subscribers gauge\n")
		fmt.Fprintf(rw, "civitas_ws_subscribers %d\n", hub.Subscribers())

		if mirror != nil {
			ms := mirror.Stats()
			fmt.Fprintf(rw, "# HELP civitas_mirror_queue_depth Archive mirror queue depth.\n")
			fmt.Fprintf(rw, "# TYPE civitas_mirror_queue_depth gauge\n")
			fmt.Fprintf(rw, "civitas_mirror_queue_depth %d\n", ms.QueueDepth)
			fmt.Fprintf(rw, "# HELP civitas_mirror_uploads_total Archive mirror uploads by result.\n")
			fmt.Fprintf(rw, "# TYPE civitas_mirror_uploads_total counter\n")
			fmt.Fprintf(rw, "civitas_mirror_uploads_total{result=%q} %d\n", "ok", ms.UploadSuccessTotal)
			fmt.Fprintf(rw, "civitas_mirror_uploads_total{result=%q} %d\n", "fail", ms.UploadFailTotal)
			fmt.Fprintf(rw, "civitas_mirror_uploads_total{result=%q} %d\n", "dropped", ms.DroppedTotal)
		}
	})

	enableAdminHTTP := envBool("CV_ENABLE_ADMIN_HTTP", defaultEnableAdminHTTP())
	enablePprofHTTP := envBool("CV_ENABLE_PPROF_HTTP", false)
	if enableAdminHTTP {
		registerAdmin(mux, eng, cfgStore, st, logger)
	} else {
		logger.Printf("admin endpoints disabled (CV_ENABLE_ADMIN_HTTP=false)")
	}
	if enablePprofHTTP {
		mux.HandleFunc("/debug/pprof/", pprof.Index)
		mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
		mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
		mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
		mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	} else {
		logger.Printf("pprof endpoints disabled (CV_ENABLE_PPROF_HTTP=false)")
	}
	mux.HandleFunc("/v1/events/ws", hub.Handler())

	srv := &http.Server{
		Addr:              *addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel2()
		_ = srv.Shutdown(ctx2)
	}()

	logger.Printf("listening on %s", *addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatalf("ListenAndServe: %v", err)
	}
}

func registerAdmin(mux *http.ServeMux, eng *engine.Engine, cfgStore *config.Store, st *store.Store, logger *log.Logger) {
	guard := func(next http.HandlerFunc) http.HandlerFunc {
		return func(rw http.ResponseWriter, r *http.Request) {
			if !isLoopbackRemote(r.RemoteAddr) {
				http.Error(rw, "forbidden", http.StatusForbidden)
				return
			}
			next(rw, r)
		}
	}
	writeJSON := func(rw http.ResponseWriter, code int, v any) {
		rw.Header().Set("Content-Type", "application/json")
		rw.WriteHeader(code)
		_ = json.NewEncoder(rw).Encode(v)
	}

	mux.HandleFunc("/admin/v1/status", guard(func(rw http.ResponseWriter, r *http.Request) {
		resp, err := eng.Status(r.Context())
		if err != nil {
			writeJSON(rw, http.StatusInternalServerError, map[string]string{"error": err.Error()})
			return
		}
		writeJSON(rw, http.StatusOK, resp)
	}))

	mux.HandleFunc("/admin/v1/pause", guard(func(rw http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			rw.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		eng.Pause()
		writeJSON(rw, http.StatusOK, map[string]bool{"paused": true})
	}))

	mux.HandleFunc("/admin/v1/resume", guard(func(rw http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			rw.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		eng.Resume()
		writeJSON(rw, http.StatusOK, map[string]bool{"paused": false})
	}))

	mux.HandleFunc("/admin/v1/tick", guard(func(rw http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			rw.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		ctx2, cancel2 := context.WithTimeout(r.Context(), 60*time.Second)
		defer cancel2()
		seq, err := eng.TickNow(ctx2)
		if err != nil {
			writeJSON(rw, http.StatusServiceUnavailable, protocol.TickResponse{Tick: seq, Err: err.Error()})
			return
		}
		writeJSON(rw, http.StatusOK, protocol.TickResponse{OK: true, Tick: seq})
	}))

	mux.HandleFunc("/admin/v1/reseed", guard(func(rw http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			rw.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		if err := eng.Reseed(r.Context()); err != nil {
			code := http.StatusInternalServerError
			if errors.Is(err, engine.ErrNotPaused) {
				code = http.StatusConflict
			}
			writeJSON(rw, code, map[string]string{"error": err.Error()})
			return
		}
		logger.Printf("reseed requested via admin")
		writeJSON(rw, http.StatusOK, map[string]bool{"ok": true})
	}))

	mux.HandleFunc("/admin/v1/config", guard(func(rw http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			writeJSON(rw, http.StatusOK, cfgStore.Runtime())
		case http.MethodPatch:
			body, err := io.ReadAll(http.MaxBytesReader(rw, r.Body, 1<<20))
			if err != nil {
				writeJSON(rw, http.StatusBadRequest, map[string]string{"error": err.Error()})
				return
			}
			rt, err := cfgStore.PatchRuntime(body)
			if err != nil {
				writeJSON(rw, http.StatusUnprocessableEntity, map[string]string{"error": err.Error()})
				return
			}
			writeJSON(rw, http.StatusOK, rt)
		default:
			rw.WriteHeader(http.StatusMethodNotAllowed)
		}
	}))

	mux.HandleFunc("/admin/v1/economy", guard(func(rw http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			writeJSON(rw, http.StatusOK, cfgStore.Economy())
		case http.MethodPatch:
			body, err := io.ReadAll(http.MaxBytesReader(rw, r.Body, 1<<20))
			if err != nil {
				writeJSON(rw, http.StatusBadRequest, map[string]string{"error": err.Error()})
				return
			}
			eco, err := cfgStore.PatchEconomy(body)
			if err != nil {
				writeJSON(rw, http.StatusUnprocessableEntity, map[string]string{"error": err.Error()})
				return
			}
			writeJSON(rw, http.StatusOK, eco)
		default:
			rw.WriteHeader(http.StatusMethodNotAllowed)
		}
	}))

	mux.HandleFunc("/admin/v1/decisions", guard(func(rw http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		tick, err := strconv.ParseUint(q.Get("tick"), 10, 64)
		if err != nil {
			tick = eng.CurrentTick()
		}
		page, _ := strconv.Atoi(q.Get("page"))
		if page < 1 {
			page = 1
		}
		perPage, _ := strconv.Atoi(q.Get("per_page"))
		if perPage < 1 || perPage > 500 {
			perPage = 50
		}
		items, err := st.DecisionsByTick(r.Context(), tick, (page-1)*perPage, perPage)
		if err != nil {
			writeJSON(rw, http.StatusInternalServerError, map[string]string{"error": err.Error()})
			return
		}
		out := protocol.DecisionPage{Tick: tick, Page: page, PerPage: perPage, Items: make([]protocol.DecisionRecord, 0, len(items))}
		for _, d := range items {
			out.Items = append(out.Items, protocol.DecisionRecord{
				ID:        d.ID,
				Tick:      d.Tick,
				AgentID:   d.AgentID,
				Provider:  d.Provider,
				Phase:     d.Phase,
				Action:    d.Action,
				Reasoning: d.Reasoning,
				OK:        d.OK,
				Error:     d.Error,
				LatencyMs: d.LatencyMs,
				At:        d.At.UTC().Format(time.RFC3339Nano),
			})
		}
		writeJSON(rw, http.StatusOK, out)
	}))
}

// archivingBroadcaster tees every event frame: live delivery through
// the hub, durable copy into the zstd event archive.
type archivingBroadcaster struct {
	hub    *ws.Hub
	events *declog.EventLogger
	log    *log.Logger
}

func (b *archivingBroadcaster) Broadcast(frame []byte) {
	b.hub.Broadcast(frame)
	if err := b.events.WriteFrame(frame); err != nil {
		b.log.Printf("event archive: %v", err)
	}
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

func envBool(key string, def bool) bool {
	v := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	switch v {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return def
	}
}

func defaultEnableAdminHTTP() bool {
	switch strings.ToLower(strings.TrimSpace(os.Getenv("DEPLOY_ENV"))) {
	case "staging", "production":
		return false
	default:
		return true
	}
}

func boolGauge(b bool) int {
	if b {
		return 1
	}
	return 0
}
