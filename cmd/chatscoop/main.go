package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/you/chatscoop/internal/config"
	"github.com/you/chatscoop/internal/core"
	"github.com/you/chatscoop/internal/engine"
	"github.com/you/chatscoop/internal/httpapi"
	"github.com/you/chatscoop/internal/store"
	"github.com/you/chatscoop/internal/version"
	"github.com/you/chatscoop/internal/ytchat"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)
	_ = godotenv.Load()

	var (
		versionFlag     bool
		storeDir        string
		printConsole    bool
		allChat         bool
		requestTimeout  int
		pollFloorMS     int
		pollCeilingMS   int
		fetchRetries    int
		httpAddr        string
		httpCorsOrigins string
		httpRateRPS     int
		httpRateBurst   int
		httpMetrics     bool
		httpAccessLog   bool
	)

	flag.BoolVar(&versionFlag, "version", false, "Print build version and exit")
	flag.StringVar(&storeDir, "store-dir", "", "Directory holding comments.db")
	flag.BoolVar(&printConsole, "print", false, "Echo each new record to stdout")
	flag.BoolVar(&allChat, "all-chat", false, "Capture the unfiltered (all chat) feed instead of top chat")
	flag.IntVar(&requestTimeout, "request-timeout", 0, "Per-request timeout in seconds")
	flag.IntVar(&pollFloorMS, "poll-floor-ms", 0, "Minimum wait between polls in milliseconds")
	flag.IntVar(&pollCeilingMS, "poll-ceiling-ms", 0, "Maximum wait between polls in milliseconds")
	flag.IntVar(&fetchRetries, "fetch-retries", 0, "Consecutive fetch failures tolerated before giving up")
	flag.StringVar(&httpAddr, "http-addr", "", "HTTP status/stream address (e.g., :8765)")
	flag.StringVar(&httpCorsOrigins, "http-cors-origins", "", "Comma-separated list of allowed CORS origins")
	flag.IntVar(&httpRateRPS, "http-rate-rps", 0, "Maximum HTTP requests per second per client")
	flag.IntVar(&httpRateBurst, "http-rate-burst", 0, "Burst size for HTTP rate limiter")
	flag.BoolVar(&httpMetrics, "http-metrics", false, "Expose Prometheus metrics endpoint")
	flag.BoolVar(&httpAccessLog, "http-access-log", false, "Log HTTP access records")
	flag.Parse()

	if versionFlag {
		fmt.Printf(
			"chatscoop version: %s (commit %s, built %s)\n",
			version.Version,
			version.Commit,
			version.BuildTime,
		)
		os.Exit(0)
	}

	if flag.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "usage: chatscoop [flags] <video-id | @handle | channel-id>")
		flag.PrintDefaults()
		os.Exit(2)
	}
	input := strings.TrimSpace(flag.Arg(0))

	overrides := make(map[string]bool)
	flag.Visit(func(f *flag.Flag) {
		overrides[f.Name] = true
	})

	cfg := config.Load()
	if overrides["store-dir"] {
		cfg.StoreDir = strings.TrimSpace(storeDir)
	}
	if overrides["print"] {
		cfg.PrintToConsole = printConsole
	}
	if overrides["all-chat"] {
		cfg.AllChat = allChat
	}
	if overrides["request-timeout"] {
		cfg.RequestTimeoutSecs = requestTimeout
	}
	if overrides["poll-floor-ms"] {
		cfg.PollFloorMS = pollFloorMS
	}
	if overrides["poll-ceiling-ms"] {
		cfg.PollCeilingMS = pollCeilingMS
	}
	if overrides["fetch-retries"] {
		cfg.FetchRetryLimit = fetchRetries
	}
	if overrides["http-addr"] {
		cfg.HTTP.Addr = strings.TrimSpace(httpAddr)
	}
	if overrides["http-cors-origins"] {
		cfg.HTTP.CORSOrigins = nil
		for _, origin := range strings.Split(httpCorsOrigins, ",") {
			if origin = strings.TrimSpace(origin); origin != "" {
				cfg.HTTP.CORSOrigins = append(cfg.HTTP.CORSOrigins, origin)
			}
		}
	}
	if overrides["http-rate-rps"] {
		cfg.HTTP.RateRPS = httpRateRPS
	}
	if overrides["http-rate-burst"] {
		cfg.HTTP.RateBurst = httpRateBurst
	}
	if overrides["http-metrics"] {
		cfg.HTTP.Metrics = httpMetrics
	}
	if overrides["http-access-log"] {
		cfg.HTTP.AccessLog = httpAccessLog
	}

	log.Printf("chatscoop: config %s", cfg.Summary())

	db, err := store.Open(cfg.StoreDir)
	if err != nil {
		log.Fatalf("chatscoop: open store: %v", err)
	}
	defer func() {
		if err := db.Close(); err != nil {
			log.Printf("chatscoop: closing store: %v", err)
		}
	}()

	client := ytchat.NewClient(ytchat.Options{
		RequestTimeout: time.Duration(cfg.RequestTimeoutSecs) * time.Second,
		AllChat:        cfg.AllChat,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var (
		records  engine.RecordStore = db
		api      *httpapi.Server
		registry *prometheus.Registry
		eng      *engine.Engine
	)

	if cfg.HTTP.Addr != "" {
		api = httpapi.New(db, httpapi.Options{
			Addr:            cfg.HTTP.Addr,
			CORSOrigins:     cfg.HTTP.CORSOrigins,
			RateLimitRPS:    cfg.HTTP.RateRPS,
			RateLimitBurst:  cfg.HTTP.RateBurst,
			EnableMetrics:   cfg.HTTP.Metrics,
			EnableAccessLog: cfg.HTTP.AccessLog,
			Status: func() string {
				if eng == nil {
					return engine.StatusIdle.String()
				}
				return eng.Status().String()
			},
		})
		registry = api.Registry()
		records = store.WithAPI(db, api)
		go func() {
			if err := api.Start(); err != nil {
				log.Fatalf("chatscoop: http api: %v", err)
			}
		}()
		log.Printf("chatscoop: http api ready on %s", cfg.HTTP.Addr)
	}

	var handler engine.Handler
	if cfg.PrintToConsole {
		handler = printRecord
	}

	var metrics *engine.Metrics
	if registry != nil {
		metrics = engine.NewMetrics(registry)
	}

	eng = engine.New(client, client, records, engine.Options{
		MinPollInterval:   time.Duration(cfg.PollFloorMS) * time.Millisecond,
		MaxPollInterval:   time.Duration(cfg.PollCeilingMS) * time.Millisecond,
		FetchRetryLimit:   cfg.FetchRetryLimit,
		RebootstrapLimit:  cfg.RebootstrapLimit,
		StorageErrorLimit: cfg.StorageErrorLimit,
		Handler:           handler,
		Metrics:           metrics,
	})

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Printf("chatscoop: received %s, shutting down", sig)
		eng.RequestStop()
	}()

	runErr := eng.Start(ctx, input)

	if api != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := api.Shutdown(shutdownCtx); err != nil {
			log.Printf("chatscoop: http shutdown: %v", err)
		}
		shutdownCancel()
	}

	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		log.Fatalf("chatscoop: %v", runErr)
	}
	log.Printf("chatscoop: done")
}

func printRecord(rec core.ChatRecord) {
	line := fmt.Sprintf("%s %s: %s (%s)", rec.Timestamp, rec.Author, rec.Text, rec.Kind)
	if rec.AmountText != "" {
		line += " " + rec.AmountText
	}
	fmt.Println(line)
}
