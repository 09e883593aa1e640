package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/uva-nepa/nepa/internal/api"
	"github.com/uva-nepa/nepa/internal/collector"
	"github.com/uva-nepa/nepa/internal/config"
	"github.com/uva-nepa/nepa/internal/db"
	"github.com/uva-nepa/nepa/internal/serialmux"
	"github.com/uva-nepa/nepa/internal/session"
	"github.com/uva-nepa/nepa/internal/version"
)

const (
	ModeLive   = "live"
	ModeTrain  = "train"
	ModeSample = "sample"
	ModeTrack  = "track"
	ModeServe  = "serve"
)

var (
	configFile   = flag.String("config", "", "Path to a .json or .yaml config file")
	mode         = flag.String("mode", ModeServe, "What to run: live, train, sample, track or serve")
	location     = flag.String("location", "", "Location label for train and sample sessions")
	section      = flag.String("section", "", "Section label for train, sample and track")
	collectorURL = flag.String("collector", "", "Collector base URL (overrides config)")
	scanner      = flag.String("scanner", "", "Scanner: ble, serial or replay (overrides config)")
	port         = flag.String("port", "", "Serial port for the serial scanner (overrides config)")
	listen       = flag.String("listen", "", "HTTP listen address (overrides config)")
	dbPath       = flag.String("db", "", "Path to the sqlite journal (overrides config)")
	replayFile   = flag.String("replay", "", "Packet file for the replay scanner (overrides config)")
	devMode      = flag.Bool("dev", false, "Replay canned packets instead of using a radio")
	skipPoll     = flag.Bool("skip-poll", false, "Do not wait for the collector before starting")
	listPorts    = flag.Bool("list-ports", false, "Print the serial ports present and exit")
	showVersion  = flag.Bool("version", false, "Print version information and exit")
)

func validMode(m string) bool {
	switch m {
	case ModeLive, ModeTrain, ModeSample, ModeTrack, ModeServe:
		return true
	}
	return false
}

// loadConfig reads the config file, if any, and applies flag overrides.
func loadConfig() (*config.Config, error) {
	cfg := config.Empty()
	if *configFile != "" {
		var err error
		if cfg, err = config.LoadConfig(*configFile); err != nil {
			return nil, err
		}
	}
	err := cfg.Apply(config.Overrides{
		CollectorURL: *collectorURL,
		Scanner:      *scanner,
		SerialPort:   *port,
		Listen:       *listen,
		DBPath:       *dbPath,
		ReplayFile:   *replayFile,
	})
	return cfg, err
}

func main() {
	// "nepa migrate <action>" manages the journal schema and exits.
	if len(os.Args) > 1 && os.Args[1] == "migrate" {
		fs := flag.NewFlagSet("migrate", flag.ExitOnError)
		path := fs.String("db", "nepa.db", "Path to the sqlite journal")
		fs.Parse(os.Args[2:])
		if err := db.RunMigrateCommand(fs.Args(), *path, os.Stdout); err != nil {
			log.Fatalf("migrate: %v", err)
		}
		return
	}
	// "nepa export" renders journal fingerprints to chart files and exits.
	if len(os.Args) > 1 && os.Args[1] == "export" {
		if err := runExportCommand(os.Args[2:], os.Stdout); err != nil {
			log.Fatalf("export: %v", err)
		}
		return
	}

	flag.Parse()

	if *showVersion {
		fmt.Println(version.String())
		return
	}
	if *listPorts {
		ports, err := serialmux.ListPorts()
		if err != nil {
			log.Fatalf("%v", err)
		}
		for _, p := range ports {
			fmt.Println(p)
		}
		return
	}
	if !validMode(*mode) {
		log.Fatalf("unknown mode %q", *mode)
	}
	if (*mode == ModeTrain || *mode == ModeSample) && (*location == "" || *section == "") {
		log.Fatalf("-location and -section are required in %s mode", *mode)
	}

	cfg, err := loadConfig()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	log.Printf("starting %s in %s mode", version.String(), *mode)

	journal, err := db.NewDB(cfg.GetDBPath())
	if err != nil {
		log.Fatalf("failed to open journal: %v", err)
	}
	defer journal.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	deviceID, err := journal.DeviceID(ctx)
	if err != nil {
		log.Fatalf("failed to read device id: %v", err)
	}
	log.Printf("device id %s", deviceID)

	client := collector.NewClient(cfg.GetCollectorURL(), collector.NewHTTPClient(cfg.GetHTTPTimeout()))

	src, err := openScanner(ctx, cfg, *devMode)
	if err != nil {
		log.Fatalf("failed to open scanner: %v", err)
	}
	defer src.Close()

	if !*skipPoll {
		if err := waitForCollector(ctx, client, cfg.GetPollInterval()); err != nil {
			log.Printf("stopped before the collector came up: %v", err)
			return
		}
	}

	var wg sync.WaitGroup

	ctrl := session.NewController(session.Config{
		Source:     src,
		Uploader:   client,
		Journal:    journal,
		QueueSize:  cfg.GetBufferCapacity(),
		Continuous: *mode == ModeSample,
	})
	defer ctrl.Close()

	if addr := cfg.GetListen(); addr != "" {
		srv := api.NewServer(ctrl, journal, client, cfg.SessionDefaults())
		mux := srv.ServeMux()
		srv.AttachAdminRoutes(mux)
		journal.AttachAdminRoutes(mux)
		src.AttachAdminRoutes(mux)

		wg.Add(1)
		go func() {
			defer wg.Done()
			serveHTTP(ctx, addr, api.LoggingMiddleware(mux))
		}()
	}

	switch *mode {
	case ModeLive:
		err = runLive(ctx, cfg, src, client, journal, deviceID)
	case ModeTrack:
		err = runTrack(ctx, cfg, src, client, deviceID, *section)
	case ModeTrain:
		err = runSession(ctx, ctrl, session.Request{
			Location: *location,
			Section:  *section,
			Mode:     session.ModeWindowed,
			Width:    cfg.GetWindowWidth(),
			Count:    cfg.GetWindowCount(),
		}, true)
	case ModeSample:
		err = runSession(ctx, ctrl, session.Request{
			Location: *location,
			Section:  *section,
			Mode:     session.ModeSingle,
			Duration: cfg.GetSampleDuration(),
		}, false)
	case ModeServe:
		watchSessions(ctx, ctrl)
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		log.Printf("%s mode failed: %v", *mode, err)
	}

	stop()
	ctrl.Close()
	wg.Wait()
	log.Printf("Graceful shutdown complete")
}

// waitForCollector blocks until the collector answers, logging the
// countdown between probes.
func waitForCollector(ctx context.Context, checker collector.StatusChecker, interval time.Duration) error {
	p := &collector.Poller{
		Checker:  checker,
		Interval: interval,
		OnEvent: func(ev collector.PollEvent) {
			switch ev.Kind {
			case collector.PollChecking:
				log.Printf("checking collector status...")
			case collector.PollUnreachable:
				log.Printf("collector unreachable (%v), retrying in %.0fs", ev.Err, ev.Remaining.Seconds())
			case collector.PollAvailable:
				log.Printf("collector available")
			}
		},
	}
	return p.WaitUntilAvailable(ctx)
}

func serveHTTP(ctx context.Context, addr string, h http.Handler) {
	server := &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("failed to start server: %v", err)
		}
	}()
	log.Printf("HTTP server listening on %s", addr)

	<-ctx.Done()
	log.Println("shutting down HTTP server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 1*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("HTTP server shutdown error: %v", err)
		if err := server.Close(); err != nil {
			log.Printf("HTTP server force close error: %v", err)
		}
	}
	log.Printf("HTTP server routine stopped")
}
