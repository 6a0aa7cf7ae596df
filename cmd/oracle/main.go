// Package main provides the entry point for the commit-reveal oracle simulator.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"commit-reveal-oracle/internal/collector"
	"commit-reveal-oracle/internal/config"
	"commit-reveal-oracle/internal/events"
	"commit-reveal-oracle/internal/logger"
	"commit-reveal-oracle/internal/moniker"
	"commit-reveal-oracle/internal/oracle"
	"commit-reveal-oracle/internal/sim"
	"commit-reveal-oracle/internal/store"
	"commit-reveal-oracle/internal/tui"

	dbpkg "commit-reveal-oracle/internal/db"

	"github.com/joho/godotenv"
)

// headlessSettleTimeout bounds the wait for the collector to record the
// resolution before a headless run exits.
const headlessSettleTimeout = 5 * time.Second

func main() {
	// Try to load .env from CWD if present; otherwise use environment as-is
	if _, statErr := os.Stat(".env"); statErr == nil {
		_ = godotenv.Load(".env")
	}

	cfg := config.Load()

	// With the TUI up, debug logs go to a file so they don't tear the screen
	var logWriter io.Writer = os.Stderr
	if cfg.Debug && !cfg.Headless {
		logFile, err := os.OpenFile("oracle.log", os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err == nil {
			defer logFile.Close()
			logWriter = logFile
			fmt.Fprintf(os.Stderr, "Debug logs written to oracle.log\n")
		} else {
			fmt.Fprintf(os.Stderr, "Warning: failed to open log file, logs will go to stderr (may interfere with TUI): %v\n", err)
		}
	}

	log := logger.NewWithWriter(cfg.Debug, logWriter)

	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid configuration: %v", err)
	}

	fmt.Printf("Commit-reveal oracle starting...\n")
	fmt.Printf("Config loaded: %s\n", cfg.DebugString())

	gormDB, err := dbpkg.Open(cfg, log)
	if err != nil {
		log.Fatalf("failed to connect database: %v", err)
	}

	var st oracle.Store
	if gormDB != nil {
		log.Printf("DB connected")

		if err := dbpkg.AutoMigrate(gormDB); err != nil {
			log.Fatalf("failed to run migrations: %v", err)
		}
		log.Printf("Migrations applied")
		st = store.NewSQL(gormDB, log)
	} else {
		log.Printf("DATABASE_URL not provided, using %s store in %s", cfg.StoreBackend, cfg.DataDir)
		kv, err := store.OpenKV(cfg.StoreBackend, cfg.DataDir, log)
		if err != nil {
			log.Fatalf("failed to open store: %v", err)
		}
		defer kv.Close()
		st = kv
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	bus := events.NewBus(log)
	if err := bus.Start(); err != nil {
		log.Fatalf("failed to start event bus: %v", err)
	}
	defer func() { _ = bus.Stop() }()

	clock := oracle.NewManualClock(time.Now().Unix())
	engine := oracle.NewEngine(st, clock, oracle.WithPublisher(bus), oracle.WithLogger(log))
	monres := moniker.NewResolver(cfg.Monikers)

	var tuiUpdateCh chan interface{}
	if !cfg.Headless {
		tuiUpdateCh = make(chan interface{}, collector.TUIChannelBufferSize)
		go func() {
			if err := tui.Run(tuiUpdateCh); err != nil {
				log.Printf("TUI error: %v", err)
			}
			// TUI exited, cancel context to trigger shutdown
			cancel()
		}()
	}

	coll := collector.NewCollector(cfg, gormDB, bus, engine, monres, tuiUpdateCh, log)
	collDone := make(chan struct{})
	go func() {
		defer close(collDone)
		if err := coll.Run(ctx); err != nil {
			log.Printf("collector stopped: %v", err)
			cancel()
		}
	}()

	select {
	case <-coll.Ready():
	case <-ctx.Done():
	}

	go func() {
		report, err := sim.New(cfg, engine, clock, monres, log).Run(ctx)
		if err != nil && ctx.Err() == nil {
			log.Error("simulation failed", "err", err)
			if cfg.Headless {
				fmt.Fprintf(os.Stderr, "simulation failed: %v\n", err)
			}
		}
		if !cfg.Headless {
			// Leave the final state on screen until the user quits.
			return
		}
		if report != nil && report.Settlement != nil {
			select {
			case <-coll.Resolved():
			case <-time.After(headlessSettleTimeout):
				log.Printf("collector did not record the resolution in time")
			}
			printReport(os.Stdout, report)
		}
		cancel()
	}()

	<-ctx.Done()
	log.Println("shutting down...")

	<-collDone
	if err := coll.Close(); err != nil {
		log.Printf("close error: %v", err)
	}

	if tuiUpdateCh != nil {
		// Close TUI update channel to stop sending updates
		close(tuiUpdateCh)
		// Give TUI a moment to process the close and quit
		time.Sleep(collector.TUICloseDelay)
	}

	// Ensure logs flushed in some environments
	_ = os.Stderr.Sync()
	_ = os.Stdout.Sync()
}

func printReport(w io.Writer, r *sim.Report) {
	s := r.Settlement
	fmt.Fprintf(w, "round %s resolved to %t (%d true, %d false)\n", r.Round, s.ResolutionBit, s.TrueVotes, s.FalseVotes)
	fmt.Fprintf(w, "pool %d, forfeited %d, reward per node %d, dust %d\n", s.Pool, s.Forfeited, s.RewardPerNode, s.Dust)
	for _, p := range r.Participants {
		fmt.Fprintf(w, "  %-12s %-7s vote=%-5t wallet=%d\n", p.Name, p.Role, p.Vote, r.Wallets[p.Name])
	}
	for _, what := range r.Rejected {
		fmt.Fprintf(w, "  rejected: %s\n", what)
	}
	fmt.Fprintf(w, "custody %d = deposited %d - withdrawn %d\n", r.Custody, r.Deposited, r.Withdrawn)
}
