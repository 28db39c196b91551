package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"zerotrust/config"
	"zerotrust/internal/feature"
	"zerotrust/internal/feedback"
	inputredis "zerotrust/internal/input/redis"
	"zerotrust/internal/logger"
	"zerotrust/internal/monitor"
	"zerotrust/internal/notify"
	"zerotrust/internal/pipeline"
	"zerotrust/internal/rules"
	"zerotrust/internal/scorer"
	"zerotrust/internal/session"
	"zerotrust/internal/store"
	"zerotrust/internal/trust"
	"zerotrust/pkg/models"
)

func findConfigFile(configArg string) string {
	if configArg != "" {
		path := configArg
		if _, err := os.Stat(path); err == nil {
			return path
		}
		log.Printf("Warning: config file not found at %s, trying default locations", path)
	}

	if _, err := os.Stat("zerotrust.yml"); err == nil {
		return "zerotrust.yml"
	}

	exePath, err := os.Executable()
	if err == nil {
		exeDir := filepath.Dir(exePath)
		path := filepath.Join(exeDir, "zerotrust.yml")
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}

	return "zerotrust.yml"
}

func applyDefaults(cfg *config.Config) {
	if cfg.ZeroTrust.Input.Redis.Addr == "" {
		cfg.ZeroTrust.Input.Redis.Addr = "127.0.0.1:6379"
	}
	if cfg.ZeroTrust.Input.Redis.Key == "" {
		cfg.ZeroTrust.Input.Redis.Key = "zerotrust_events"
	}
	if cfg.ZeroTrust.Input.Redis.ControlKey == "" {
		cfg.ZeroTrust.Input.Redis.ControlKey = "zerotrust_control"
	}
	if cfg.ZeroTrust.Input.Redis.BlockTimeout == 0 {
		cfg.ZeroTrust.Input.Redis.BlockTimeout = 5 * time.Second
	}

	if cfg.ZeroTrust.Storage.Mode == "" {
		cfg.ZeroTrust.Storage.Mode = "memory"
	}
	if cfg.ZeroTrust.Storage.Addr == "" {
		cfg.ZeroTrust.Storage.Addr = "127.0.0.1:6379"
	}
	if cfg.ZeroTrust.Storage.KeyPrefix == "" {
		cfg.ZeroTrust.Storage.KeyPrefix = "zerotrust"
	}

	if cfg.ZeroTrust.Pipeline.Workers <= 0 {
		cfg.ZeroTrust.Pipeline.Workers = 4
	}
	if cfg.ZeroTrust.Pipeline.QueueSize <= 0 {
		cfg.ZeroTrust.Pipeline.QueueSize = 1024
	}

	if cfg.ZeroTrust.Model.Trees <= 0 {
		cfg.ZeroTrust.Model.Trees = 100
	}
	if cfg.ZeroTrust.Model.Subsample <= 0 {
		cfg.ZeroTrust.Model.Subsample = 256
	}
	if cfg.ZeroTrust.Model.Contamination <= 0 {
		cfg.ZeroTrust.Model.Contamination = 0.1
	}
	if cfg.ZeroTrust.Model.MinCorpusSize <= 0 {
		cfg.ZeroTrust.Model.MinCorpusSize = 30
	}
	if cfg.ZeroTrust.Model.Seed == 0 {
		cfg.ZeroTrust.Model.Seed = 42
	}

	if cfg.ZeroTrust.Trust.InitialScore <= 0 {
		cfg.ZeroTrust.Trust.InitialScore = 100
	}
	if cfg.ZeroTrust.Trust.CriticalThreshold <= 0 {
		cfg.ZeroTrust.Trust.CriticalThreshold = 20
	}

	if cfg.ZeroTrust.Feedback.RetrainBatch <= 0 {
		cfg.ZeroTrust.Feedback.RetrainBatch = 1
	}

	if cfg.ZeroTrust.Notify.Mode == "" {
		cfg.ZeroTrust.Notify.Mode = "none"
	}
	if cfg.ZeroTrust.Metrics.Addr == "" {
		cfg.ZeroTrust.Metrics.Addr = ":9108"
	}
	if cfg.ZeroTrust.Logging.Level == "" {
		cfg.ZeroTrust.Logging.Level = "info"
	}
}

func severityWeights(raw map[string]float64) map[models.EventType]float64 {
	if len(raw) == 0 {
		return trust.DefaultSeverityWeights()
	}
	out := make(map[models.EventType]float64, len(raw))
	for name, weight := range raw {
		if t, ok := models.ParseEventType(name); ok {
			out[t] = weight
		} else {
			logger.Warnf("Ignoring severity weight for unknown event type %q", name)
		}
	}
	return out
}

func main() {
	configArg := ""
	if len(os.Args) > 1 {
		configArg = os.Args[1]
	}
	configPath := findConfigFile(configArg)

	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	applyDefaults(cfg)

	if err := logger.Init(cfg.ZeroTrust.Logging.Enabled, cfg.ZeroTrust.Logging.Level, cfg.ZeroTrust.Logging.File, cfg.ZeroTrust.Logging.Console); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}

	logger.Infof("ZeroTrust monitor starting")
	logger.Infof("Config loaded from: %s", configPath)

	var st store.Store
	switch cfg.ZeroTrust.Storage.Mode {
	case "memory":
		st = store.NewMemoryStore()
		logger.Infof("Storage mode: memory")
	case "redis":
		rs, err := store.NewRedisStore(store.RedisConfig{
			Addr:      cfg.ZeroTrust.Storage.Addr,
			Password:  cfg.ZeroTrust.Storage.Password,
			DB:        cfg.ZeroTrust.Storage.DB,
			KeyPrefix: cfg.ZeroTrust.Storage.KeyPrefix,
		})
		if err != nil {
			logger.Errorf("Failed to connect storage: %v", err)
			log.Fatalf("Failed to connect storage: %v", err)
		}
		st = rs
		logger.Infof("Storage mode: redis (%s)", cfg.ZeroTrust.Storage.Addr)
	default:
		log.Fatalf("Unknown storage mode: %s", cfg.ZeroTrust.Storage.Mode)
	}
	defer st.Close()

	var notifier notify.Broadcaster = notify.NoopBroadcaster{}
	if cfg.ZeroTrust.Notify.Mode == "redis" {
		notifier = notify.NewRedisBroadcaster(notify.Config{
			Addr:      cfg.ZeroTrust.Notify.Addr,
			Password:  cfg.ZeroTrust.Notify.Password,
			DB:        cfg.ZeroTrust.Notify.DB,
			ChannelNS: cfg.ZeroTrust.Notify.ChannelNS,
			QueueSize: cfg.ZeroTrust.Notify.QueueSize,
		})
		logger.Infof("Broadcast mode: redis (%s)", cfg.ZeroTrust.Notify.Addr)
	}
	defer notifier.Close()

	var ruleEngine rules.Engine
	if cfg.ZeroTrust.Rules.Enabled {
		if strings.TrimSpace(cfg.ZeroTrust.Rules.Path) == "" {
			logger.Warnf("Rules enabled but rules.path is empty; rule tagging disabled")
		} else {
			sigmaEngine, stats, err := rules.NewSigmaEngine(cfg.ZeroTrust.Rules.Path)
			if err != nil {
				logger.Errorf("Failed to load Sigma rules from %s: %v", cfg.ZeroTrust.Rules.Path, err)
				log.Fatalf("Failed to load Sigma rules: %v", err)
			}
			ruleEngine = sigmaEngine
			logger.Infof("Sigma rules loaded: loaded=%d skipped_complex=%d skipped_datasource=%d skipped_invalid=%d files=%d",
				stats.Loaded,
				stats.SkippedComplex,
				stats.SkippedDatasource,
				stats.SkippedInvalid,
				stats.TotalFiles,
			)
			if stats.Loaded == 0 {
				logger.Warnf("No compatible Sigma rules loaded; rule tagging is effectively disabled")
			}
		}
	}

	sc := scorer.New(scorer.Config{
		Trees:         cfg.ZeroTrust.Model.Trees,
		Subsample:     cfg.ZeroTrust.Model.Subsample,
		Contamination: cfg.ZeroTrust.Model.Contamination,
		MinCorpusSize: cfg.ZeroTrust.Model.MinCorpusSize,
		Seed:          cfg.ZeroTrust.Model.Seed,
		ArtifactPath:  cfg.ZeroTrust.Model.ArtifactPath,
	})
	if cfg.ZeroTrust.Model.ArtifactPath != "" {
		if err := sc.Load(); err != nil {
			if errors.Is(err, scorer.ErrNotTrained) {
				logger.Infof("No model artifact at %s, starting untrained", cfg.ZeroTrust.Model.ArtifactPath)
			} else if errors.Is(err, scorer.ErrSchemaMismatch) {
				logger.Warnf("Model artifact has an incompatible feature schema, starting untrained")
			} else {
				logger.Warnf("Failed to load model artifact: %v", err)
			}
		}
	}

	tr := trust.NewEngine(trust.Config{
		InitialScore:      cfg.ZeroTrust.Trust.InitialScore,
		CriticalThreshold: cfg.ZeroTrust.Trust.CriticalThreshold,
		SeverityWeights:   severityWeights(cfg.ZeroTrust.Trust.SeverityWeights),
	}, st, notifier)

	sessions := session.NewManager(st, sc, tr, notifier)
	extractor := feature.NewExtractor()
	fb := feedback.NewLoop(st, sc, tr, cfg.ZeroTrust.Feedback.RetrainBatch)

	consumer, err := inputredis.NewConsumer(inputredis.Config{
		Addr:         cfg.ZeroTrust.Input.Redis.Addr,
		Password:     cfg.ZeroTrust.Input.Redis.Password,
		DB:           cfg.ZeroTrust.Input.Redis.DB,
		Key:          cfg.ZeroTrust.Input.Redis.Key,
		BlockTimeout: cfg.ZeroTrust.Input.Redis.BlockTimeout,
	})
	if err != nil {
		logger.Errorf("Failed to create Redis consumer: %v", err)
		log.Fatalf("Failed to create Redis consumer: %v", err)
	}
	defer consumer.Close()

	pipe := pipeline.New(pipeline.Options{
		Sessions:  sessions,
		Store:     st,
		Scorer:    sc,
		Trust:     tr,
		Extractor: extractor,
		Rules:     ruleEngine,
		Notifier:  notifier,
		Consumer:  consumer,
		Workers:   cfg.ZeroTrust.Pipeline.Workers,
		QueueSize: cfg.ZeroTrust.Pipeline.QueueSize,
	})

	control, err := inputredis.NewConsumer(inputredis.Config{
		Addr:         cfg.ZeroTrust.Input.Redis.Addr,
		Password:     cfg.ZeroTrust.Input.Redis.Password,
		DB:           cfg.ZeroTrust.Input.Redis.DB,
		Key:          cfg.ZeroTrust.Input.Redis.ControlKey,
		BlockTimeout: cfg.ZeroTrust.Input.Redis.BlockTimeout,
	})
	if err != nil {
		logger.Errorf("Failed to create control consumer: %v", err)
		log.Fatalf("Failed to create control consumer: %v", err)
	}
	defer control.Close()

	mon := monitor.New(sessions, pipe, sc, tr, fb, extractor, st)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go fb.Run(ctx)
	go pipe.Run(ctx)
	go mon.RunControl(ctx, control)

	if cfg.ZeroTrust.Metrics.Enabled {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		srv := &http.Server{Addr: cfg.ZeroTrust.Metrics.Addr, Handler: mux}
		go func() {
			logger.Infof("Metrics endpoint listening on %s", cfg.ZeroTrust.Metrics.Addr)
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Errorf("Metrics server error: %v", err)
			}
		}()
		defer func() {
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 3*time.Second)
			defer shutdownCancel()
			srv.Shutdown(shutdownCtx)
		}()
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	logger.Infof("Shutting down")
	cancel()
	time.Sleep(1 * time.Second)

	logger.Infof("ZeroTrust monitor stopped")
}
