package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"net/http/pprof"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"factoryline.ai/internal/metrics"
	"factoryline.ai/internal/observerproto"
	"factoryline.ai/internal/persistence/indexdb"
	persistlog "factoryline.ai/internal/persistence/log"
	"factoryline.ai/internal/persistence/snapshot"
	"factoryline.ai/internal/sim/catalogs"
	"factoryline.ai/internal/sim/engine"
	"factoryline.ai/internal/sim/layout"
	"factoryline.ai/internal/sim/tuning"
	"factoryline.ai/internal/transport/observer"
)

func main() {
	var (
		addr        = flag.String("addr", ":8080", "http listen address")
		configDir   = flag.String("configs", "./configs", "config directory")
		layoutPath  = flag.String("layout", "", "layout file, .yaml or .hcl (default: built-in default line)")
		dataDir     = flag.String("data", "./data", "runtime data directory")
		tuningPath  = flag.String("tuning", "", "path to tuning.yaml (default: <configs>/tuning.yaml)")
		runID       = flag.String("run_id", "", "run id (default: random uuid)")
		disableDB   = flag.Bool("disable_db", false, "disable the sqlite run index")
		allowRemote = flag.Bool("allow_remote", false, "serve the observer API to non-loopback clients")
		cpEvery     = flag.Int("checkpoint_every", 3600, "write a state checkpoint every N ticks for replay diagnostics (0 disables)")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[factoryd] ", log.LstdFlags|log.Lmicroseconds)

	tp := strings.TrimSpace(*tuningPath)
	if tp == "" {
		tp = filepath.Join(*configDir, "tuning.yaml")
	}
	tune, err := tuning.Load(tp)
	if err != nil {
		if !os.IsNotExist(err) {
			logger.Fatalf("load tuning: %v", err)
		}
		logger.Printf("tuning not found (%s); using defaults", tp)
		tune = tuning.Defaults()
	}

	cats, err := catalogs.Load(*configDir)
	if err != nil {
		logger.Fatalf("load catalogs: %v", err)
	}

	spec := layout.Default()
	if p := strings.TrimSpace(*layoutPath); p != "" {
		if spec, err = layout.Load(p); err != nil {
			logger.Fatalf("load layout: %v", err)
		}
	}
	f, err := layout.Build(spec, cats, tune)
	if err != nil {
		logger.Fatalf("build layout: %v", err)
	}

	e := engine.New(f, engine.Config{
		TickRateHz:         tune.TickRateHz,
		SnapshotEveryTicks: tune.SnapshotEveryTicks,
		RunID:              *runID,
	}, logger)

	startedAt := time.Now().UTC()
	runDir := persistlog.RunDir(*dataDir, e.RunID())
	if err := persistlog.WriteRunHeader(runDir, persistlog.RunHeader{
		RunID:          e.RunID(),
		StartedAt:      startedAt,
		Layout:         spec,
		LayoutDigest:   spec.Digest(),
		Tuning:         tune,
		CatalogsDigest: cats.Digest(),
	}); err != nil {
		logger.Fatalf("write run header: %v", err)
	}

	tickLog := persistlog.NewTickLogger(runDir)
	auditLog := persistlog.NewAuditLogger(runDir)
	defer tickLog.Close()
	defer auditLog.Close()
	e.AddSink(tickLog)
	e.AddSink(auditLog)

	if *cpEvery > 0 {
		e.AddSink(snapshot.NewCheckpointer(runDir, *cpEvery))
	}

	col := metrics.NewCollector()
	e.AddSink(col)

	ctx, cancel := signalContext()
	defer cancel()

	// Optional: read-model index (does not affect sim determinism).
	if !*disableDB {
		idx, err := indexdb.OpenSQLite(filepath.Join(*dataDir, "index", "factoryline.sqlite"))
		if err != nil {
			logger.Fatalf("open index: %v", err)
		}
		defer idx.Close()
		if err := idx.RecordRun(ctx, e.RunID(), startedAt, spec, *configDir, cats, tune); err != nil {
			logger.Printf("index: record run: %v", err)
		}
		e.AddSink(idx)
		col.WatchIndex(
			func() int { return idx.Stats().QueueDepth },
			func() uint64 { return idx.Stats().DropTickTotal },
		)
	}

	engineDone := make(chan struct{})
	go func() {
		defer close(engineDone)
		if err := e.Run(ctx); err != nil && err != context.Canceled {
			logger.Printf("engine stopped: %v", err)
		}
	}()

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(rw http.ResponseWriter, r *http.Request) {
		rw.WriteHeader(200)
		_, _ = rw.Write([]byte("ok"))
	})
	mux.Handle("/metrics", promhttp.HandlerFor(col.Registry(), promhttp.HandlerOpts{}))

	obsSrv := observer.NewServer(e, observer.Config{
		Layout:          observerproto.LayoutInfo{Name: spec.Name, Digest: spec.Digest()},
		CatalogsDigest:  cats.Digest(),
		MaterialPalette: cats.Materials.Palette,
		AllowRemote:     *allowRemote,
	}, logger)
	obsSrv.Routes(mux)

	if envBool("FACTORYLINE_ENABLE_PPROF_HTTP", false) {
		mux.HandleFunc("/debug/pprof/", pprof.Index)
		mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
		mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
		mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
		mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	} else {
		logger.Printf("pprof endpoints disabled (FACTORYLINE_ENABLE_PPROF_HTTP=false)")
	}

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

	logger.Printf("run %s: layout=%s stations=%d tick_rate=%dHz dir=%s", e.RunID(), spec.Name, len(f.Stations()), tune.TickRateHz, runDir)
	logger.Printf("listening on %s", *addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Printf("ListenAndServe: %v", err)
		cancel()
	}
	<-engineDone
	logger.Printf("stopped at tick %d", e.CurrentTick())
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
