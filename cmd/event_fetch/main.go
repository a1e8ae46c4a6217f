package main

import (
	"context"
	"flag"
	"net/http"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"event-fetch/internal/event_fetch/api"
	"event-fetch/internal/event_fetch/enrich"
	"event-fetch/internal/event_fetch/fetcher"
	"event-fetch/internal/event_fetch/registry"
	"event-fetch/internal/event_fetch/scheduler"
	"event-fetch/internal/event_fetch/storage"
	"event-fetch/internal/middleware/logger"
	"event-fetch/pkg/config"
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "配置文件路径")
	once := flag.Bool("once", false, "跑一个完整周期后退出")
	force := flag.Bool("force", false, "强制刷新：抓到的记录整条覆盖已有行")
	clear := flag.Bool("clear", false, "启动前清空全部事件")
	flag.Parse()

	// .env 不存在不算错，密钥也可以直接从环境来
	_ = godotenv.Load()

	log, err := logger.NewLogger()
	if err != nil {
		panic(err)
	}
	defer func(log *zap.Logger) {
		err := log.Sync()
		if err != nil {

		}
	}(log)

	ctx := context.Background()

	log.Info("Starting Event Fetch Service...")

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		panic(err)
	}

	store := storage.MustMongo(
		ctx,
		cfg.Mongo.Host,
		cfg.Mongo.DBName,
		cfg.Mongo.Username,
		cfg.Mongo.Password,
		cfg.Mongo.AuthSource,
	)

	if *clear {
		if err := store.Clear(ctx); err != nil {
			log.Fatal("clear events failed", zap.Error(err))
		}
		log.Info("all events cleared")
	}

	engine := fetcher.NewEngine(log, &http.Client{
		Timeout: time.Duration(cfg.Fetch.TimeoutSec) * time.Second,
	}, cfg.Fetch.Concurrency)
	engine.MaxRetries = cfg.Fetch.MaxRetries

	enricher := buildEnricher(log, store, cfg)

	worker := &scheduler.Worker{
		Log:      log,
		Engine:   engine,
		Store:    store,
		Enricher: enricher,
		Sources:  registry.Sources(),
		Force:    *force,
	}

	var nowFn func() time.Time
	if t, ok, err := cfg.NowOverride(); err != nil {
		panic(err)
	} else if ok {
		log.Warn("using fixed reference time", zap.Time("now", t))
		nowFn = func() time.Time { return t }
		worker.Now = nowFn
	}

	if *once {
		worker.RunOnce(ctx)
		return
	}

	go worker.Run(context.Background())

	srv := &api.Server{
		Store:    store,
		Sources:  worker.Sources,
		Enriched: enricher != nil,
		Now:      nowFn,
	}
	r := srv.Router()
	_ = r.SetTrustedProxies(nil)
	log.Info("Event Fetch Service is running", zap.String("address", cfg.Address))
	_ = r.Run(cfg.Address)
}

// buildEnricher 按配置搭 provider 链；一个可用的都没有时返回 nil，补全被跳过
func buildEnricher(log *zap.Logger, store storage.Store, cfg *config.Config) *enrich.Enricher {
	var chains []enrich.Chain
	for _, p := range cfg.Enrich.Providers {
		key := p.Key()
		if key == "" {
			log.Warn("provider has no API key, skipping",
				zap.String("provider", p.Name),
				zap.String("env", p.APIKeyEnv))
			continue
		}
		client := enrich.NewClient(p.Name, key)
		if client == nil {
			log.Warn("unknown provider, skipping", zap.String("provider", p.Name))
			continue
		}
		chains = append(chains, enrich.Chain{Provider: client, Models: p.Models})
	}
	if len(chains) == 0 {
		log.Warn("no enrichment providers configured")
		return nil
	}

	e := enrich.NewEnricher(log, store, chains)
	e.Language = cfg.Enrich.Language
	e.MaxFieldLen = cfg.Enrich.MaxFieldLen
	e.Concurrency = cfg.Enrich.Concurrency
	e.BatchSize = cfg.Enrich.BatchSize
	return e
}
