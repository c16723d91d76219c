package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"net/http/pprof"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"civsense.world/internal/persistence/coldstore"
	persistlog "civsense.world/internal/persistence/log"
	"civsense.world/internal/protocol"
	"civsense.world/internal/sim/catalogs"
	"civsense.world/internal/sim/chunk"
	"civsense.world/internal/sim/engine"
	"civsense.world/internal/sim/tuning"
	"civsense.world/internal/sim/world"
	"civsense.world/internal/transport/ws"
)

func main() {
	var (
		addr       = flag.String("addr", ":8080", "http listen address")
		configDir  = flag.String("configs", "./configs", "config directory")
		schemaDir  = flag.String("schemas", "./schemas", "catalog schema directory")
		dataDir    = flag.String("data", "./data", "runtime data directory")
		tuningPath = flag.String("tuning", "", "path to tuning.yaml (default: <configs>/tuning.yaml)")
		subdivide  = flag.Bool("subdivide", true, "use the priority-subdivision scoring strategy")
		worldMinY  = flag.Int("world_min_y", 0, "lowest block Y of served worlds")
		worldMaxY  = flag.Int("world_max_y", 255, "highest block Y of served worlds")
		disableDB  = flag.Bool("disable_db", false, "disable the cold score store")
		noAudit    = flag.Bool("disable_audit", false, "disable the decision audit log")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[server] ", log.LstdFlags|log.Lmicroseconds)

	_ = os.MkdirAll(*dataDir, 0o755)

	cats, err := catalogs.NewRegistry(*configDir, *schemaDir, logger)
	if err != nil {
		logger.Fatalf("load catalogs: %v", err)
	}

	tp := strings.TrimSpace(*tuningPath)
	if tp == "" {
		tp = filepath.Join(*configDir, "tuning.yaml")
	}
	tune, err := tuning.Load(tp)
	if err != nil {
		if os.IsNotExist(err) {
			logger.Printf("tuning not found (%s); using defaults", tp)
			tune = tuning.Defaults()
		} else {
			logger.Fatalf("load tuning: %v", err)
		}
	}

	var cold engine.ColdStore
	if !*disableDB {
		store, err := coldstore.Open(filepath.Join(*dataDir, "scores.db"), logger)
		if err != nil {
			logger.Fatalf("open cold store: %v", err)
		}
		defer store.Close()
		cold = store
	}

	var audit engine.DecisionAuditor
	if !*noAudit {
		dl := persistlog.NewDecisionLogger(*dataDir)
		defer dl.Close()
		audit = decisionAudit{l: dl}
	}

	mirror := world.NewMirror(*worldMinY, *worldMaxY)

	eng, err := engine.New(engine.Config{
		Tuning:    tune,
		Tables:    cats,
		Reader:    mirror,
		Subdivide: *subdivide,
		Cold:      cold,
		Audit:     audit,
		Log:       logger,
	})
	if err != nil {
		logger.Fatalf("engine: %v", err)
	}
	eng.Start()
	defer eng.Close()

	ctx, cancel := signalContext()
	defer cancel()

	params := protocol.EngineParams{
		Normalization: tune.Normalization,
		SpawnLow:      tune.SpawnLow,
		SpawnMid:      tune.SpawnMid,
		SectionSize:   chunk.SectionSize,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(rw http.ResponseWriter, r *http.Request) {
		rw.WriteHeader(200)
		_, _ = rw.Write([]byte("ok"))
	})
	mux.HandleFunc("/metrics", func(rw http.ResponseWriter, r *http.Request) {
		rw.Header().Set("Content-Type", "text/plain; version=0.0.4")
		m := eng.Metrics()

		fmt.Fprintf(rw, "# HELP civsense_queries_total Score queries served.\n")
		fmt.Fprintf(rw, "# TYPE civsense_queries_total counter\n")
		fmt.Fprintf(rw, "civsense_queries_total %d\n", m.Queries)

		fmt.Fprintf(rw, "# HELP civsense_decisions_total Spawn decisions served.\n")
		fmt.Fprintf(rw, "# TYPE civsense_decisions_total counter\n")
		fmt.Fprintf(rw, "civsense_decisions_total %d\n", m.Decisions)

		fmt.Fprintf(rw, "# HELP civsense_blocked_total Spawn attempts blocked.\n")
		fmt.Fprintf(rw, "# TYPE civsense_blocked_total counter\n")
		fmt.Fprintf(rw, "civsense_blocked_total %d\n", m.Blocked)

		fmt.Fprintf(rw, "# HELP civsense_totems Registered totems.\n")
		fmt.Fprintf(rw, "# TYPE civsense_totems gauge\n")
		fmt.Fprintf(rw, "civsense_totems %d\n", m.Totems)
	})
	mux.HandleFunc("/admin/v1/reload", func(rw http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			rw.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		if err := cats.Reload(); err != nil {
			http.Error(rw, err.Error(), http.StatusInternalServerError)
			return
		}
		rw.WriteHeader(200)
		_, _ = rw.Write([]byte("ok"))
	})
	if envBool("CS_ENABLE_PPROF_HTTP", false) {
		mux.HandleFunc("/debug/pprof/", pprof.Index)
		mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
		mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
		mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
		mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	} else {
		logger.Printf("pprof endpoints disabled (CS_ENABLE_PPROF_HTTP=false)")
	}
	mux.HandleFunc("/v1/ws", ws.NewServer(eng, mirror, cats, params, logger).Handler())

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

type decisionAudit struct{ l *persistlog.DecisionLogger }

func (a decisionAudit) WriteDecision(r engine.DecisionRecord) error {
	return a.l.WriteDecision(persistlog.DecisionEntry{
		TS:             time.Now().UTC().Format(time.RFC3339Nano),
		World:          r.World,
		Pos:            r.Pos,
		Kind:           r.Kind,
		Natural:        r.Natural,
		Outcome:        r.Outcome,
		Branch:         r.Branch,
		Score:          r.Score,
		ConversionKind: r.ConversionKind,
		Pool:           r.Pool,
	})
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

func envBool(name string, def bool) bool {
	switch strings.ToLower(strings.TrimSpace(os.Getenv(name))) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return def
	}
}
